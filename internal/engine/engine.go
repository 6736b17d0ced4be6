// Package engine implements the Task Engine (§4.4): the per-robot state
// machine that executes a Task's steps against the Fleet Gateway, runs the
// background Shelf Monitor (§4.6), and applies the failure classifier
// (§4.7).
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"biopatrol/internal/biosensor"
	"biopatrol/internal/fleet"
	"biopatrol/internal/logging"
	"biopatrol/internal/notifier"
	"biopatrol/internal/observability"
	"biopatrol/internal/retry"
	"biopatrol/internal/scanstore"
	"biopatrol/internal/task"
)

// BioScanner is the Bio-sensor Client contract the engine consumes.
type BioScanner interface {
	GetValidScanData(ctx context.Context, targetBed, taskID, bedName string) (*biosensor.ScanPayload, error)
}

// Timeouts carries the per-action RPC timeout defaults the engine applies.
type Timeouts struct {
	MoveToLocation time.Duration
	MoveShelf      time.Duration
	ReturnShelf    time.Duration
	ReturnHome     time.Duration
}

// DefaultTimeouts mirrors §5's stated defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		MoveToLocation: 120 * time.Second,
		MoveShelf:      120 * time.Second,
		ReturnShelf:    60 * time.Second,
		ReturnHome:     60 * time.Second,
	}
}

// Engine runs tasks for one robot. A Task Worker (internal/dispatcher)
// invokes RunTask at most once at a time per robot, so run state lives on
// a per-call *run value rather than on the Engine itself.
type Engine struct {
	robotID string

	fleet    *fleet.Gateway
	bio      BioScanner
	scans    scanstore.Store
	notify   notifier.Notifier
	logger   logging.Logger
	tracer   *observability.TracerProvider

	shelfMovePolicy  retry.Policy
	navigationPolicy retry.Policy
	timeouts         Timeouts
	pollInterval     time.Duration
}

// Option configures an Engine at construction time.
type Option func(*Engine)

func WithRetryPolicies(shelfMove, navigation retry.Policy) Option {
	return func(e *Engine) { e.shelfMovePolicy, e.navigationPolicy = shelfMove, navigation }
}

func WithTimeouts(t Timeouts) Option {
	return func(e *Engine) { e.timeouts = t }
}

func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) { e.pollInterval = d }
}

func WithTracer(tp *observability.TracerProvider) Option {
	return func(e *Engine) { e.tracer = tp }
}

// New builds an Engine bound to one robot.
func New(robotID string, gw *fleet.Gateway, bio BioScanner, scans scanstore.Store, notify notifier.Notifier, logger logging.Logger, opts ...Option) *Engine {
	e := &Engine{
		robotID:          robotID,
		fleet:            gw,
		bio:              bio,
		scans:            scans,
		notify:           notify,
		logger:           logging.OrNop(logger),
		shelfMovePolicy:  retry.ShelfMovePolicy,
		navigationPolicy: retry.NavigationPolicy,
		timeouts:         DefaultTimeouts(),
		pollInterval:     3 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// skipReason records why a conditionally-skipped step was skipped.
type skipReason struct {
	failedStepID string
	errorCode    int
	errorMessage string
	data         map[string]any
}

// run holds the mutable state of a single RunTask execution — the
// per-execution fields the original tracks on the engine instance
// (skipped_steps, shelf_dropped, target_bed, current_shelf_id, …).
type run struct {
	task *task.Task

	// logger is e.logger scoped to this run's task/robot/trace ids via
	// logging.WithContext, so every log line emitted while executing this
	// task carries the correlation ids a WithTracer span recorded.
	logger logging.Logger

	skippedSteps map[string]bool
	skipReasons  map[string]skipReason

	currentShelfID string
	targetBed      string

	// inFlightBedKey names the bio_scan bed whose blocking RPC call is
	// currently in progress, if any. The shelf monitor runs concurrently
	// and can flip shelfDropped while that call is still outstanding, so
	// by the time the main loop notices, the triggering step has already
	// finished (or is nil, for a drop caught between steps). Recording
	// the bed here lets handleShelfDrop recover it regardless of which
	// case applied. Only the RunTask goroutine reads or writes it.
	inFlightBedKey string

	shelfDropped boolFlag
	monitorStop  chan struct{}
	monitorDone  chan struct{}
	monitorOnce  sync.Once
}

type boolFlag struct {
	mu sync.Mutex
	v  bool
}

func (f *boolFlag) set(v bool) {
	f.mu.Lock()
	f.v = v
	f.mu.Unlock()
}

func (f *boolFlag) get() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.v
}

// startSpan starts a task-execution span when a tracer is configured,
// mirroring the Fleet Gateway's own tracer-optional helper.
func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(err error)) {
	if e.tracer == nil {
		return ctx, func(error) {}
	}
	spanCtx, span := e.tracer.StartSpan(ctx, name, attrs...)
	return spanCtx, func(err error) {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
}

// RunTask executes a task's steps in order and returns it once it reaches
// a terminal status.
func (e *Engine) RunTask(ctx context.Context, t *task.Task) *task.Task {
	ctx = observability.ContextWithTaskID(ctx, t.TaskID)
	ctx = observability.ContextWithRobotID(ctx, e.robotID)
	ctx, endSpan := e.startSpan(ctx, observability.SpanTaskExecute, observability.TaskAttrs(t.TaskID, e.robotID)...)

	log := logging.WithContext(e.logger, ctx)
	log.Info("===> starting task %s on robot %s", t.TaskID, e.robotID)

	if err := e.fleet.RefreshNameCaches(ctx, e.robotID); err != nil {
		log.Warn("failed to refresh name cache: %v", err)
	}

	t.MarkStarted()
	t.SetStatus(task.StatusInProgress)

	r := &run{
		task:         t,
		logger:       log,
		skippedSteps: make(map[string]bool),
		skipReasons:  make(map[string]skipReason),
	}

	defer func() {
		var spanErr error
		if t.Status() == task.StatusFailed {
			spanErr = fmt.Errorf("task %s failed on robot %s", t.TaskID, e.robotID)
		}
		endSpan(spanErr)
	}()
	defer e.finish(ctx, r)

	stepIndex := 0
	for stepIndex < len(t.Steps) {
		step := t.Steps[stepIndex]

		if t.Status() == task.StatusCancelled {
			r.logger.Info("task %s cancelled mid-execution on robot %s", t.TaskID, e.robotID)
			break
		}

		if r.shelfDropped.get() {
			e.handleShelfDrop(ctx, r, stepIndex, nil)
			break
		}

		if r.skippedSteps[step.StepID] {
			e.skipStep(ctx, r, step)
			stepIndex++
			continue
		}

		r.logger.Info("---> robot %s, step %s: %s", e.robotID, step.StepID, step.Action)
		step.Status = task.StepExecuting

		result := e.executeStepSafely(ctx, r, step)
		step.Result = result
		if result.Success {
			step.Status = task.StepSuccess
		} else {
			step.Status = task.StepFail
		}

		if r.shelfDropped.get() {
			e.handleShelfDrop(ctx, r, stepIndex, step)
			r.inFlightBedKey = ""
			break
		}
		r.inFlightBedKey = ""

		if result.Success {
			r.logger.Info("[ok] robot %s, step %s completed", e.robotID, step.StepID)
		} else {
			abort := e.classify(r, step, result)
			if abort {
				if t.Status() != task.StatusCancelled {
					t.SetStatus(task.StatusFailed)
				}
				break
			}
		}

		stepIndex++
	}

	if t.Status() == task.StatusInProgress {
		t.SetStatus(task.StatusDone)
		r.logger.Info("===> task %s completed on robot %s", t.TaskID, e.robotID)
	}

	if status := t.Status(); status == task.StatusDone || status == task.StatusFailed {
		metrics, err := e.fleet.GetMetrics(e.robotID)
		if err == nil {
			t.SetMetadata("metrics", metrics)
			e.fleet.ResetMetrics(e.robotID)
		}
	}

	return t
}

// executeStepSafely wraps executeStep with panic recovery, matching the
// "unexpected exception" branch of §4.4 step 5.
func (e *Engine) executeStepSafely(ctx context.Context, r *run, step *task.Step) (result *task.StepResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("[x] robot %s, panic in step %s: %v", e.robotID, step.StepID, rec)
			result = task.NewFailureResult(-1, fmt.Sprintf("engine panic: %v", rec), map[string]any{"step_id": step.StepID, "action": string(step.Action)})
		}
	}()
	return e.executeStep(ctx, r, step)
}

// skipStep applies §4.4 step 3: mark step SKIPPED and, for bio_scan,
// persist an N/A scan row.
func (e *Engine) skipStep(ctx context.Context, r *run, step *task.Step) {
	r.logger.Info("[skip] robot %s, step %s skipped due to conditional logic", e.robotID, step.StepID)
	reason, hasReason := r.skipReasons[step.StepID]
	message := "Step skipped due to previous step failure"
	if hasReason && reason.errorMessage != "" {
		message = reason.errorMessage
	}

	if step.Action == task.ActionBioScan {
		bedKey := bioScanBedKey(step)
		if err := scanstore.AppendNA(ctx, e.scans, scanstore.NAOptions{
			LocationID: r.targetBed,
			BedName:    bedKey,
			Details:    "robot could not move to bedside",
		}); err != nil {
			r.logger.Warn("failed to record skipped bio_scan %s: %v", step.StepID, err)
		}
	}

	step.Status = task.StepSkipped
	step.Result = task.NewFailureResult(reason.errorCode, message, map[string]any{
		"reason":         "conditional_skip",
		"caused_by_step": reason.failedStepID,
	})
}

func bioScanBedKey(step *task.Step) string {
	params, err := task.ParseParams(task.ActionBioScan, step.Params)
	if err != nil {
		return ""
	}
	p, _ := params.(task.BioScanParams)
	return p.BedKey
}

// classify applies §4.7 in priority order and reports whether the task
// should abort (Path C).
func (e *Engine) classify(r *run, step *task.Step, result *task.StepResult) (abort bool) {
	if len(step.SkipOnFailure) > 0 {
		for _, skipID := range step.SkipOnFailure {
			r.skippedSteps[skipID] = true
			r.skipReasons[skipID] = skipReason{
				failedStepID: step.StepID,
				errorCode:    result.ErrorCode,
				errorMessage: result.ErrorMessage,
				data:         result.Data,
			}
		}
		e.logger.Info("[conditional] step %s failed, will skip: %v", step.StepID, step.SkipOnFailure)
		return false
	}

	if step.Action.IsNonCritical() {
		e.logger.Warn("[non-critical] step %s (%s) failed: %s", step.StepID, step.Action, result.ErrorMessage)
		return false
	}

	e.logger.Warn("[critical] step %s (%s) failed: %s — aborting task", step.StepID, step.Action, result.ErrorMessage)
	return true
}

// finish runs the deterministic cleanup block (§4.4 finally): stop the
// monitor, perform cancelled cleanup, send the completion summary, and
// release the robot back to the dispatcher (handled by the caller once
// RunTask returns).
func (e *Engine) finish(ctx context.Context, r *run) {
	e.stopShelfMonitor(r)

	t := r.task
	status := t.Status()

	if status == task.StatusCancelled && r.currentShelfID != "" {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), e.timeouts.ReturnShelf+e.timeouts.ReturnHome)
		defer cancel()
		if _, err := e.fleet.ReturnShelf(cleanupCtx, e.robotID, r.currentShelfID, e.timeouts.ReturnShelf); err != nil {
			r.logger.Error("cancelled cleanup: return_shelf failed: %v", err)
		}
		if _, err := e.fleet.ReturnHome(cleanupCtx, e.robotID, e.timeouts.ReturnHome); err != nil {
			r.logger.Error("cancelled cleanup: return_home failed: %v", err)
		}
	}

	t.MarkFinished()

	totalBeds, successBeds := 0, 0
	for _, s := range t.Steps {
		if s.Action == task.ActionBioScan {
			totalBeds++
			if s.Status == task.StepSuccess {
				successBeds++
			}
		}
	}
	e.notify.Notify(ctx, notifier.TaskSummary(t.TaskID, successBeds, totalBeds, string(status)))

	r.logger.Info("robot %s is now free", e.robotID)
}
