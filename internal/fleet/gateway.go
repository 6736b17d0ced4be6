package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"biopatrol/internal/logging"
	"biopatrol/internal/observability"
)

// robotSlot pools one robot's client connection and per-run poll counters,
// mirroring the original's _RobotSlot pooling (Part D §4).
type robotSlot struct {
	client   RobotClient
	resolver *resolver

	metricsMu        sync.Mutex
	pollCount        int
	pollSuccessCount int
	pollRTT          []time.Duration
}

// Gateway is the typed wrapper over the robot RPC described in §4.1: every
// operation returns a structured Result, never an exception, for
// protocol-level conditions. Only a transport failure (dial/timeout/stream
// reset) surfaces as a Go error, and only that plane is retryable.
type Gateway struct {
	mu    sync.RWMutex
	slots map[string]*robotSlot

	logger  logging.Logger
	tracer  *observability.TracerProvider
	metrics *observability.MetricsCollector
}

// NewGateway builds an empty Gateway. Robots are added via Register.
func NewGateway(logger logging.Logger, tracer *observability.TracerProvider, metrics *observability.MetricsCollector) *Gateway {
	return &Gateway{
		slots:   make(map[string]*robotSlot),
		logger:  logging.OrNop(logger),
		tracer:  tracer,
		metrics: metrics,
	}
}

// Register connects a robot to the fleet, mirroring fleet_api.register_robot.
func (g *Gateway) Register(robotID string, client RobotClient) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.slots[robotID] = &robotSlot{client: client, resolver: newResolver(256)}
	g.logger.Info("registered robot %s", robotID)
}

// Unregister disconnects a robot, mirroring fleet_api.unregister_robot.
func (g *Gateway) Unregister(robotID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.slots, robotID)
	g.logger.Info("unregistered robot %s", robotID)
}

// RegisteredRobots returns the currently registered robot ids.
func (g *Gateway) RegisteredRobots() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	ids := make([]string, 0, len(g.slots))
	for id := range g.slots {
		ids = append(ids, id)
	}
	return ids
}

func (g *Gateway) slot(robotID string) (*robotSlot, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	s, ok := g.slots[robotID]
	if !ok {
		return nil, fmt.Errorf("fleet: robot %q is not registered", robotID)
	}
	return s, nil
}

func (g *Gateway) startSpan(ctx context.Context, robotID, action string) (context.Context, func(err error)) {
	if g.tracer == nil {
		return ctx, func(error) {}
	}
	ctx = observability.ContextWithRobotID(ctx, robotID)
	ctx, span := g.tracer.StartSpan(ctx, observability.SpanFleetRPC, attribute.String(observability.AttrAction, action))
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}

// RefreshNameCaches pulls list_shelves/list_locations for a robot and adds
// their entries to its name resolver; entries from earlier refreshes are
// kept. Failure here is WARN-only, per the engine's pre-loop contract.
func (g *Gateway) RefreshNameCaches(ctx context.Context, robotID string) error {
	slot, err := g.slot(robotID)
	if err != nil {
		return err
	}

	shelves, err := g.ListShelves(ctx, robotID)
	if err != nil {
		return fmt.Errorf("refresh shelf names: %w", err)
	}
	if shelves.OK {
		slot.resolver.refreshShelves(decodeShelves(shelves.Data))
	}

	locations, err := g.ListLocations(ctx, robotID)
	if err != nil {
		return fmt.Errorf("refresh location names: %w", err)
	}
	if locations.OK {
		slot.resolver.refreshLocations(decodeLocations(locations.Data))
	}
	return nil
}

func decodeShelves(data map[string]any) []Shelf {
	raw, _ := data["shelves"].([]Shelf)
	return raw
}

func decodeLocations(data map[string]any) []Location {
	raw, _ := data["locations"].([]Location)
	return raw
}

// ShelfName resolves a shelf id to its human name for diagnostic logging;
// returns the id itself when the robot or shelf is unknown.
func (g *Gateway) ShelfName(robotID, shelfID string) string {
	slot, err := g.slot(robotID)
	if err != nil {
		return shelfID
	}
	return slot.resolver.shelfName(shelfID)
}

// LocationName resolves a location id to its human name for diagnostic logging.
func (g *Gateway) LocationName(robotID, locationID string) string {
	slot, err := g.slot(robotID)
	if err != nil {
		return locationID
	}
	return slot.resolver.locationName(locationID)
}

// MoveToLocation resolves locationID (name or id) and issues the move.
func (g *Gateway) MoveToLocation(ctx context.Context, robotID, locationID string, timeout time.Duration) (Result, error) {
	slot, err := g.slot(robotID)
	if err != nil {
		return Result{}, err
	}
	ctx, end := g.startSpan(ctx, robotID, "move_to_location")
	defer func() { end(err) }()
	resolved := slot.resolver.resolveLocation(locationID)
	res, err := slot.client.MoveToLocation(ctx, resolved, timeout)
	return res, err
}

// MoveShelf resolves shelfID/locationID and issues the move.
func (g *Gateway) MoveShelf(ctx context.Context, robotID, shelfID, locationID string, timeout time.Duration) (Result, error) {
	slot, err := g.slot(robotID)
	if err != nil {
		return Result{}, err
	}
	ctx, end := g.startSpan(ctx, robotID, "move_shelf")
	defer func() { end(err) }()
	resolvedShelf := slot.resolver.resolveShelf(shelfID)
	resolvedLocation := slot.resolver.resolveLocation(locationID)
	res, err := slot.client.MoveShelf(ctx, resolvedShelf, resolvedLocation, timeout)
	return res, err
}

// ReturnShelf resolves shelfID and issues the return-shelf command.
func (g *Gateway) ReturnShelf(ctx context.Context, robotID, shelfID string, timeout time.Duration) (Result, error) {
	slot, err := g.slot(robotID)
	if err != nil {
		return Result{}, err
	}
	ctx, end := g.startSpan(ctx, robotID, "return_shelf")
	defer func() { end(err) }()
	resolved := slot.resolver.resolveShelf(shelfID)
	res, err := slot.client.ReturnShelf(ctx, resolved, timeout)
	return res, err
}

// ReturnHome issues the return-home command.
func (g *Gateway) ReturnHome(ctx context.Context, robotID string, timeout time.Duration) (Result, error) {
	slot, err := g.slot(robotID)
	if err != nil {
		return Result{}, err
	}
	ctx, end := g.startSpan(ctx, robotID, "return_home")
	defer func() { end(err) }()
	return slot.client.ReturnHome(ctx, timeout)
}

// DockShelf issues the dock-shelf command.
func (g *Gateway) DockShelf(ctx context.Context, robotID string) (Result, error) {
	slot, err := g.slot(robotID)
	if err != nil {
		return Result{}, err
	}
	ctx, end := g.startSpan(ctx, robotID, "dock_shelf")
	defer func() { end(err) }()
	return slot.client.DockShelf(ctx)
}

// UndockShelf issues the undock-shelf command.
func (g *Gateway) UndockShelf(ctx context.Context, robotID string) (Result, error) {
	slot, err := g.slot(robotID)
	if err != nil {
		return Result{}, err
	}
	ctx, end := g.startSpan(ctx, robotID, "undock_shelf")
	defer func() { end(err) }()
	return slot.client.UndockShelf(ctx)
}

// MoveToPose issues a raw pose move.
func (g *Gateway) MoveToPose(ctx context.Context, robotID string, x, y, yaw float64) (Result, error) {
	slot, err := g.slot(robotID)
	if err != nil {
		return Result{}, err
	}
	ctx, end := g.startSpan(ctx, robotID, "move_to_pose")
	defer func() { end(err) }()
	return slot.client.MoveToPose(ctx, x, y, yaw)
}

// Speak issues a text-to-speech command.
func (g *Gateway) Speak(ctx context.Context, robotID, text string) (Result, error) {
	slot, err := g.slot(robotID)
	if err != nil {
		return Result{}, err
	}
	ctx, end := g.startSpan(ctx, robotID, "speak")
	defer func() { end(err) }()
	return slot.client.Speak(ctx, text)
}

// CancelCommand issues a best-effort, idempotent command cancellation.
func (g *Gateway) CancelCommand(ctx context.Context, robotID string) (Result, error) {
	slot, err := g.slot(robotID)
	if err != nil {
		return Result{}, err
	}
	ctx, end := g.startSpan(ctx, robotID, "cancel_command")
	defer func() { end(err) }()
	return slot.client.CancelCommand(ctx)
}

// GetMovingShelf polls whether the robot currently reports carrying a
// shelf. This is the operation the Shelf Monitor calls every tick, so it
// alone drives the poll_count/avg_rtt_ms/poll_success_rate run metrics.
func (g *Gateway) GetMovingShelf(ctx context.Context, robotID string) (Result, error) {
	slot, err := g.slot(robotID)
	if err != nil {
		return Result{}, err
	}
	ctx, end := g.startSpan(ctx, robotID, "get_moving_shelf")
	start := time.Now()
	res, err := slot.client.GetMovingShelf(ctx)
	rtt := time.Since(start)
	end(err)

	slot.metricsMu.Lock()
	slot.pollCount++
	if err == nil {
		slot.pollSuccessCount++
	}
	slot.pollRTT = append(slot.pollRTT, rtt)
	slot.metricsMu.Unlock()

	if g.metrics != nil {
		g.metrics.RecordFleetPoll(ctx, robotID, err == nil, rtt)
	}
	return res, err
}

// ListShelves lists all known shelves.
func (g *Gateway) ListShelves(ctx context.Context, robotID string) (Result, error) {
	slot, err := g.slot(robotID)
	if err != nil {
		return Result{}, err
	}
	ctx, end := g.startSpan(ctx, robotID, "list_shelves")
	defer func() { end(err) }()
	return slot.client.ListShelves(ctx)
}

// ListLocations lists all known locations.
func (g *Gateway) ListLocations(ctx context.Context, robotID string) (Result, error) {
	slot, err := g.slot(robotID)
	if err != nil {
		return Result{}, err
	}
	ctx, end := g.startSpan(ctx, robotID, "list_locations")
	defer func() { end(err) }()
	return slot.client.ListLocations(ctx)
}

// GetPose returns the robot's current pose.
func (g *Gateway) GetPose(ctx context.Context, robotID string) (Result, error) {
	slot, err := g.slot(robotID)
	if err != nil {
		return Result{}, err
	}
	ctx, end := g.startSpan(ctx, robotID, "get_pose")
	defer func() { end(err) }()
	return slot.client.GetPose(ctx)
}

// GetBattery returns the robot's current battery percentage.
func (g *Gateway) GetBattery(ctx context.Context, robotID string) (Result, error) {
	slot, err := g.slot(robotID)
	if err != nil {
		return Result{}, err
	}
	ctx, end := g.startSpan(ctx, robotID, "get_battery")
	defer func() { end(err) }()
	return slot.client.GetBattery(ctx)
}

// State is a controller snapshot assembled by GetState. Neither the engine
// nor the HTTP surface consumes it; no HTTP route serves it.
type State struct {
	RobotID     string `json:"robot_id"`
	Pose        Pose   `json:"pose"`
	BatteryPct  int    `json:"battery_pct"`
	MovingShelf string `json:"moving_shelf,omitempty"`
}

// GetState assembles a controller-state snapshot for a robot.
func (g *Gateway) GetState(ctx context.Context, robotID string) (State, error) {
	pose, err := g.GetPose(ctx, robotID)
	if err != nil {
		return State{}, err
	}
	battery, err := g.GetBattery(ctx, robotID)
	if err != nil {
		return State{}, err
	}
	moving, err := g.GetMovingShelf(ctx, robotID)
	if err != nil {
		return State{}, err
	}

	state := State{RobotID: robotID}
	if p, ok := pose.Data["pose"].(Pose); ok {
		state.Pose = p
	}
	if pct, ok := battery.Data["percent"].(int); ok {
		state.BatteryPct = pct
	}
	if shelfID, ok := moving.Data["shelf_id"].(string); ok {
		state.MovingShelf = shelfID
	}
	return state, nil
}

// GetMetrics returns a robot's accumulated poll metrics since the last reset.
func (g *Gateway) GetMetrics(robotID string) (observability.RunMetrics, error) {
	slot, err := g.slot(robotID)
	if err != nil {
		return observability.RunMetrics{}, err
	}
	slot.metricsMu.Lock()
	defer slot.metricsMu.Unlock()
	return observability.NewRunMetrics(slot.pollCount, slot.pollSuccessCount, slot.pollRTT), nil
}

// ResetMetrics clears a robot's poll metrics, called by the engine after
// folding them into task.metadata.
func (g *Gateway) ResetMetrics(robotID string) {
	slot, err := g.slot(robotID)
	if err != nil {
		return
	}
	slot.metricsMu.Lock()
	slot.pollCount = 0
	slot.pollSuccessCount = 0
	slot.pollRTT = nil
	slot.metricsMu.Unlock()
}
