// Package task defines the in-memory Task/Step/StepResult model that the
// dispatcher, engine, and HTTP surface all share.
package task

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a Task's lifecycle state.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusInProgress   Status = "in_progress"
	StatusDone         Status = "done"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
	StatusShelfDropped Status = "shelf_dropped"
)

// IsTerminal reports whether s is one of the four terminal statuses.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusCancelled, StatusShelfDropped:
		return true
	default:
		return false
	}
}

// Action names the per-step operation dispatched against the Fleet Gateway
// or the bio-sensor client.
type Action string

const (
	ActionSpeak          Action = "speak"
	ActionMoveToPose     Action = "move_to_pose"
	ActionMoveToLocation Action = "move_to_location"
	ActionDockShelf      Action = "dock_shelf"
	ActionUndockShelf    Action = "undock_shelf"
	ActionMoveShelf      Action = "move_shelf"
	ActionReturnShelf    Action = "return_shelf"
	ActionReturnHome     Action = "return_home"
	ActionBioScan        Action = "bio_scan"
	ActionWait           Action = "wait"
)

// nonCriticalActions is the Path B action list from the failure classifier:
// these fail the step but never abort the task.
var nonCriticalActions = map[Action]bool{
	ActionBioScan:     true,
	ActionWait:        true,
	ActionSpeak:       true,
	ActionReturnShelf: true,
}

// IsNonCritical reports whether a failure of this action should only fail
// the step (Path B) rather than abort the task (Path C).
func (a Action) IsNonCritical() bool {
	return nonCriticalActions[a]
}

// StepStatus is a Step's lifecycle state. Progression is monotone:
// PENDING -> EXECUTING -> {SUCCESS, FAIL, SKIPPED}; SKIPPED may also be
// entered directly from PENDING.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepExecuting StepStatus = "executing"
	StepSuccess   StepStatus = "success"
	StepFail      StepStatus = "fail"
	StepSkipped   StepStatus = "skipped"
)

// IsTerminal reports whether s is SUCCESS, FAIL, or SKIPPED.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepSuccess, StepFail, StepSkipped:
		return true
	default:
		return false
	}
}

// StepResult is the outcome of one action dispatch, whether it came back
// from the Fleet Gateway, the bio-sensor client, or was synthesized by the
// engine after recovering a panic or a conditional skip.
type StepResult struct {
	Success      bool           `json:"success"`
	ErrorCode    int            `json:"error_code"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// NewSuccessResult builds a successful StepResult carrying data.
func NewSuccessResult(data map[string]any) *StepResult {
	return &StepResult{Success: true, Data: data, Timestamp: time.Now().UTC()}
}

// NewFailureResult builds a failing StepResult.
func NewFailureResult(errorCode int, errorMessage string, data map[string]any) *StepResult {
	return &StepResult{
		Success:      false,
		ErrorCode:    errorCode,
		ErrorMessage: errorMessage,
		Data:         data,
		Timestamp:    time.Now().UTC(),
	}
}

// Step is a single parameterized action within a Task.
type Step struct {
	StepID        string          `json:"step_id"`
	Action        Action          `json:"action"`
	Params        json.RawMessage `json:"params,omitempty"`
	Status        StepStatus      `json:"status"`
	SkipOnFailure []string        `json:"skip_on_failure,omitempty"`
	Result        *StepResult     `json:"result,omitempty"`
}

// Task is an ordered, robot-targeted plan composed of Steps.
//
// Status is guarded by mu because it is written both by the engine's main
// loop (single writer per task) and, concurrently, by an external Cancel
// call arriving on the HTTP/API goroutine — exactly the "per-task mutex"
// carve-out in the concurrency model.
type Task struct {
	mu sync.Mutex

	TaskID     string         `json:"task_id"`
	RobotID    string         `json:"robot_id,omitempty"`
	status     Status         `json:"-"`
	Steps      []*Step        `json:"steps"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// New builds a Task from a robot id (optional) and step list, assigning a
// fresh task id when one is not supplied by the caller. Steps without a
// status start as PENDING.
func New(taskID, robotID string, steps []*Step) *Task {
	if taskID == "" {
		taskID = uuid.NewString()
	}
	for _, s := range steps {
		if s != nil && s.Status == "" {
			s.Status = StepPending
		}
	}
	return &Task{
		TaskID:    taskID,
		RobotID:   robotID,
		status:    StatusQueued,
		Steps:     steps,
		Metadata:  make(map[string]any),
		CreatedAt: time.Now().UTC(),
	}
}

// Status returns the task's current status.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// SetStatus sets the task's status.
func (t *Task) SetStatus(s Status) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.status = s
}

// Cancel requests cancellation. It is idempotent (L1): calling it any
// number of times after the task has already left a cancellable state is
// equivalent to calling it once, since a terminal status is never
// overwritten.
func (t *Task) Cancel() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status.IsTerminal() {
		return false
	}
	t.status = StatusCancelled
	return true
}

// IsCancelled reports whether the task's status is currently CANCELLED.
func (t *Task) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status == StatusCancelled
}

// MarkStarted stamps StartedAt once and returns the current timestamp.
func (t *Task) MarkStarted() time.Time {
	now := time.Now().UTC()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.StartedAt == nil {
		t.StartedAt = &now
	}
	return now
}

// MarkFinished stamps FinishedAt once.
func (t *Task) MarkFinished() {
	now := time.Now().UTC()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.FinishedAt == nil {
		t.FinishedAt = &now
	}
}

// SetMetadata sets a single metadata key. Only the engine calls this.
func (t *Task) SetMetadata(key string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Metadata == nil {
		t.Metadata = make(map[string]any)
	}
	t.Metadata[key] = value
}

// StepByID returns the step with the given id, or nil.
func (t *Task) StepByID(stepID string) *Step {
	for _, s := range t.Steps {
		if s.StepID == stepID {
			return s
		}
	}
	return nil
}

// Snapshot is the read-only view returned by the submission surface's
// get(task_id) operation: a consistent copy of status, steps, and metadata.
type Snapshot struct {
	TaskID     string         `json:"task_id"`
	RobotID    string         `json:"robot_id,omitempty"`
	Status     Status         `json:"status"`
	Steps      []*Step        `json:"steps"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Snapshot returns a consistent point-in-time copy of the task for the
// query surface. The metadata map is copied; steps are shared (not
// deep-copied): callers must treat them as read-only, matching the
// engine's own single-writer discipline.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	var metadata map[string]any
	if t.Metadata != nil {
		metadata = make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			metadata[k] = v
		}
	}
	return Snapshot{
		TaskID:     t.TaskID,
		RobotID:    t.RobotID,
		Status:     t.status,
		Steps:      t.Steps,
		Metadata:   metadata,
		CreatedAt:  t.CreatedAt,
		StartedAt:  t.StartedAt,
		FinishedAt: t.FinishedAt,
	}
}
