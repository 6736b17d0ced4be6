// Package fleet wraps the robot RPC library (assumed external: connection,
// command submission with command_id, query endpoints, retry primitive) in
// a typed Gateway that never lets protocol-level failures escape as
// exceptions — only as data.
package fleet

import (
	"context"
	"time"
)

// Result is the structured response every Fleet operation returns.
// error_code is 0 on success, negative for internal/library exceptions,
// and positive for domain codes reported by the robot itself.
type Result struct {
	OK        bool           `json:"ok"`
	ErrorCode int            `json:"error_code"`
	ErrorText string         `json:"error_text,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Reserved error codes (spec §6).
const (
	ErrCodeSuccess          = 0
	ErrCodeInternal         = -1
	ErrCodeRobotInterrupted = 10001
	ErrCodeMoveInterruptedA = 14606
	ErrCodeMoveInterruptedB = 11005
)

// Pose is a plain {x, y, theta} shape; the Gateway normalizes any
// underlying protobuf types to this before they reach engine code.
type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// Shelf describes one shelf as reported by list_shelves.
type Shelf struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Pose Pose   `json:"pose"`
}

// Location describes one navigation target as reported by list_locations.
type Location struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// RobotClient is the raw per-robot RPC surface this module treats as an
// external collaborator (§1: "the robot RPC library itself"). A transport
// failure (dial refused, deadline exceeded, stream reset) is returned as a
// Go error; a completed call always returns a non-nil Result even when
// Result.OK is false. Never conflate the two: only the Go error plane is
// eligible for Retry Policy retries.
type RobotClient interface {
	MoveToLocation(ctx context.Context, locationID string, timeout time.Duration) (Result, error)
	MoveShelf(ctx context.Context, shelfID, locationID string, timeout time.Duration) (Result, error)
	ReturnShelf(ctx context.Context, shelfID string, timeout time.Duration) (Result, error)
	ReturnHome(ctx context.Context, timeout time.Duration) (Result, error)
	DockShelf(ctx context.Context) (Result, error)
	UndockShelf(ctx context.Context) (Result, error)
	MoveToPose(ctx context.Context, x, y, yaw float64) (Result, error)
	Speak(ctx context.Context, text string) (Result, error)
	CancelCommand(ctx context.Context) (Result, error)

	GetMovingShelf(ctx context.Context) (Result, error)
	ListShelves(ctx context.Context) (Result, error)
	ListLocations(ctx context.Context) (Result, error)
	GetPose(ctx context.Context) (Result, error)
	GetBattery(ctx context.Context) (Result, error)
}
