package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"biopatrol/internal/async"
	"biopatrol/internal/logging"
	"biopatrol/internal/task"
)

// Engine is the Task Engine contract the dispatcher hands each robot's
// tasks to. internal/engine.Engine satisfies this directly.
type Engine interface {
	RunTask(ctx context.Context, t *task.Task) *task.Task
}

// robotState is the dispatcher's bookkeeping for one registered robot.
type robotState struct {
	queue   *taskQueue
	engine  Engine
	current *task.Task
}

// Dispatcher implements §4.3: a global intake queue, per-robot queues, an
// availability signal, and one Task Worker goroutine per robot. Only the
// dispatch loop itself is single-threaded/cooperative; each worker runs
// concurrently and blocks only on its own queue get.
type Dispatcher struct {
	logger        logging.Logger
	queueCapacity int

	global *taskQueue
	avail  *availabilitySignal

	mu     sync.Mutex
	robots map[string]*robotState

	wg     sync.WaitGroup
	cancel context.CancelFunc
	ctx    context.Context

	started bool
}

// Option configures a Dispatcher at construction time.
type Option func(*Dispatcher)

// WithQueueCapacity bounds the global queue and each robot queue.
func WithQueueCapacity(n int) Option {
	return func(d *Dispatcher) { d.queueCapacity = n }
}

// New builds an idle Dispatcher. Call Start to begin routing, RegisterRobot
// before or after Start to add capacity.
func New(logger logging.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		logger:        logging.OrNop(logger),
		queueCapacity: 256,
		robots:        make(map[string]*robotState),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.global = newTaskQueue(d.queueCapacity)
	d.avail = newAvailabilitySignal(d.queueCapacity)
	return d
}

// RegisterRobot adds a robot to the fleet the dispatcher can route to and
// starts its Task Worker. The robot is immediately marked available.
func (d *Dispatcher) RegisterRobot(robotID string, engineFactory func() Engine) {
	d.mu.Lock()
	if _, exists := d.robots[robotID]; exists {
		d.mu.Unlock()
		return
	}
	state := &robotState{queue: newTaskQueue(d.queueCapacity), engine: engineFactory()}
	d.robots[robotID] = state
	running := d.started
	ctx := d.ctx
	d.mu.Unlock()

	d.avail.signal(robotID)
	d.logger.Info("dispatcher: registered robot %s", robotID)

	if running {
		d.startWorker(ctx, robotID, state)
	}
}

// UnregisterRobot stops routing new work to robotID and closes its queue.
// In-flight tasks already handed to its worker still run to completion.
func (d *Dispatcher) UnregisterRobot(robotID string) {
	d.mu.Lock()
	state, ok := d.robots[robotID]
	if !ok {
		d.mu.Unlock()
		return
	}
	delete(d.robots, robotID)
	d.mu.Unlock()

	state.queue.close()
	d.logger.Info("dispatcher: unregistered robot %s", robotID)
}

// Submit enqueues a task per §4.3 step 2/3: pinned tasks go straight to
// their robot's queue (or FAIL immediately if that robot is unknown);
// unpinned tasks join the global queue for the dispatch loop to route.
func (d *Dispatcher) Submit(t *task.Task) error {
	if t.RobotID != "" {
		d.mu.Lock()
		state, ok := d.robots[t.RobotID]
		d.mu.Unlock()
		if !ok {
			t.SetStatus(task.StatusFailed)
			t.SetMetadata("error", "unknown robot")
			return fmt.Errorf("dispatcher: unknown robot %q", t.RobotID)
		}
		if !t.Status().IsTerminal() {
			t.SetStatus(task.StatusQueued)
		}
		return state.queue.enqueue(t)
	}
	if !t.Status().IsTerminal() {
		t.SetStatus(task.StatusQueued)
	}
	return d.global.enqueue(t)
}

// Start launches the dispatch loop and one Task Worker per already
// registered robot. Calling Start while already started is a no-op.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.ctx, d.cancel = context.WithCancel(ctx)
	loopCtx := d.ctx
	robots := make(map[string]*robotState, len(d.robots))
	for id, st := range d.robots {
		robots[id] = st
	}
	d.mu.Unlock()

	for id, st := range robots {
		d.startWorker(loopCtx, id, st)
	}

	d.wg.Add(1)
	async.Go(d.logger, "dispatcher.loop", func() {
		defer d.wg.Done()
		d.runDispatchLoop(loopCtx)
	})
}

// Stop cancels the dispatch loop and every worker, then waits for them to
// drain their current task.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.started = false
	cancel := d.cancel
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
}

// runDispatchLoop implements §4.3's dispatcher loop.
func (d *Dispatcher) runDispatchLoop(ctx context.Context) {
	for {
		t, err := d.global.dequeue(ctx)
		if err != nil {
			return
		}

		for {
			robotID, err := d.avail.wait(ctx)
			if err != nil {
				return
			}

			d.mu.Lock()
			state, known := d.robots[robotID]
			busy := known && state.current != nil
			d.mu.Unlock()

			if !known {
				continue // robot was unregistered between signal and pop
			}
			if busy {
				d.avail.signal(robotID) // requeue at tail, re-enter step 3
				continue
			}

			t.RobotID = robotID
			t.SetStatus(task.StatusQueued)
			if err := state.queue.enqueue(t); err != nil {
				d.logger.Error("dispatcher: failed to route task %s to robot %s: %v", t.TaskID, robotID, err)
			}
			break
		}
	}
}

// startWorker launches the per-robot Task Worker (§4.3).
func (d *Dispatcher) startWorker(ctx context.Context, robotID string, state *robotState) {
	d.wg.Add(1)
	async.Go(d.logger, "dispatcher.worker:"+robotID, func() {
		defer d.wg.Done()
		d.runWorkerLoop(ctx, robotID, state)
	})
}

func (d *Dispatcher) runWorkerLoop(ctx context.Context, robotID string, state *robotState) {
	for {
		t, err := state.queue.dequeue(ctx)
		if err != nil {
			return
		}

		if t.Status() == task.StatusCancelled {
			d.logger.Info("dispatcher: task %s already cancelled, skipping robot %s", t.TaskID, robotID)
			continue
		}

		d.mu.Lock()
		state.current = t
		d.mu.Unlock()

		state.engine.RunTask(ctx, t)

		d.mu.Lock()
		state.current = nil
		d.mu.Unlock()

		d.avail.signal(robotID)
	}
}

// CurrentTask returns the task currently assigned to robotID, if any.
func (d *Dispatcher) CurrentTask(robotID string) (*task.Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	state, ok := d.robots[robotID]
	if !ok || state.current == nil {
		return nil, false
	}
	return state.current, true
}

// RegisteredRobots returns the currently registered robot ids.
func (d *Dispatcher) RegisteredRobots() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	ids := make([]string, 0, len(d.robots))
	for id := range d.robots {
		ids = append(ids, id)
	}
	return ids
}
