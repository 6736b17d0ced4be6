package fleet

import (
	"context"
	"sync"
	"time"
)

// Response is one canned (Result, error) pair FakeClient returns for a call.
type Response struct {
	Result Result
	Err    error
}

// Success builds a canned successful Response.
func Success(data map[string]any) Response {
	return Response{Result: Result{OK: true, Data: data}}
}

// DomainFailure builds a canned Response carrying a positive/negative
// domain error_code with Result.OK false but no transport error.
func DomainFailure(code int, text string) Response {
	return Response{Result: Result{OK: false, ErrorCode: code, ErrorText: text}}
}

// Transport builds a canned Response that fails at the transport plane —
// the only plane the Retry Policy ever retries.
func Transport(err error) Response {
	return Response{Err: err}
}

// FakeClient is a deterministic RobotClient test double: each operation
// pulls its next Response off a configured queue (looping the last entry
// once exhausted), so tests can script "fail twice then succeed" without a
// real robot connection. Grounded on the teacher's use of scripted mock
// channels in internal/notification's tests.
type FakeClient struct {
	mu    sync.Mutex
	calls map[string]int
	queue map[string][]Response

	MovingShelfID string // sticky "currently carrying" state for GetMovingShelf
}

// NewFakeClient builds an empty FakeClient; call Script to program responses.
func NewFakeClient() *FakeClient {
	return &FakeClient{
		calls: make(map[string]int),
		queue: make(map[string][]Response),
	}
}

// Script queues responses for the named operation, consumed in order.
func (f *FakeClient) Script(op string, responses ...Response) *FakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue[op] = append(f.queue[op], responses...)
	return f
}

// CallCount returns how many times op has been invoked.
func (f *FakeClient) CallCount(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FakeClient) next(op string) Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	q := f.queue[op]
	if len(q) == 0 {
		return Success(nil)
	}
	idx := f.calls[op] - 1
	if idx >= len(q) {
		idx = len(q) - 1
	}
	return q[idx]
}

func (f *FakeClient) MoveToLocation(ctx context.Context, locationID string, timeout time.Duration) (Result, error) {
	r := f.next("move_to_location")
	return r.Result, r.Err
}

func (f *FakeClient) MoveShelf(ctx context.Context, shelfID, locationID string, timeout time.Duration) (Result, error) {
	r := f.next("move_shelf")
	if r.Err == nil && r.Result.OK {
		f.mu.Lock()
		f.MovingShelfID = shelfID
		f.mu.Unlock()
	}
	return r.Result, r.Err
}

func (f *FakeClient) ReturnShelf(ctx context.Context, shelfID string, timeout time.Duration) (Result, error) {
	r := f.next("return_shelf")
	if r.Err == nil && r.Result.OK {
		f.mu.Lock()
		f.MovingShelfID = ""
		f.mu.Unlock()
	}
	return r.Result, r.Err
}

func (f *FakeClient) ReturnHome(ctx context.Context, timeout time.Duration) (Result, error) {
	r := f.next("return_home")
	return r.Result, r.Err
}

func (f *FakeClient) DockShelf(ctx context.Context) (Result, error) {
	r := f.next("dock_shelf")
	return r.Result, r.Err
}

func (f *FakeClient) UndockShelf(ctx context.Context) (Result, error) {
	r := f.next("undock_shelf")
	return r.Result, r.Err
}

func (f *FakeClient) MoveToPose(ctx context.Context, x, y, yaw float64) (Result, error) {
	r := f.next("move_to_pose")
	return r.Result, r.Err
}

func (f *FakeClient) Speak(ctx context.Context, text string) (Result, error) {
	r := f.next("speak")
	return r.Result, r.Err
}

func (f *FakeClient) CancelCommand(ctx context.Context) (Result, error) {
	r := f.next("cancel_command")
	return r.Result, r.Err
}

// GetMovingShelf reflects MovingShelfID unless a scripted response exists
// for "get_moving_shelf", letting tests either drive it via MoveShelf/
// ReturnShelf side effects or script an explicit drop.
func (f *FakeClient) GetMovingShelf(ctx context.Context) (Result, error) {
	f.mu.Lock()
	hasScript := len(f.queue["get_moving_shelf"]) > 0
	f.mu.Unlock()
	if hasScript {
		r := f.next("get_moving_shelf")
		return r.Result, r.Err
	}
	f.mu.Lock()
	shelfID := f.MovingShelfID
	f.mu.Unlock()
	if shelfID == "" {
		return Result{OK: true, Data: map[string]any{}}, nil
	}
	return Result{OK: true, Data: map[string]any{"shelf_id": shelfID}}, nil
}

func (f *FakeClient) ListShelves(ctx context.Context) (Result, error) {
	r := f.next("list_shelves")
	if r.Result.Data == nil && r.Err == nil {
		return Result{OK: true, Data: map[string]any{"shelves": []Shelf{}}}, nil
	}
	return r.Result, r.Err
}

func (f *FakeClient) ListLocations(ctx context.Context) (Result, error) {
	r := f.next("list_locations")
	if r.Result.Data == nil && r.Err == nil {
		return Result{OK: true, Data: map[string]any{"locations": []Location{}}}, nil
	}
	return r.Result, r.Err
}

func (f *FakeClient) GetPose(ctx context.Context) (Result, error) {
	r := f.next("get_pose")
	return r.Result, r.Err
}

func (f *FakeClient) GetBattery(ctx context.Context) (Result, error) {
	r := f.next("get_battery")
	return r.Result, r.Err
}

var _ RobotClient = (*FakeClient)(nil)
