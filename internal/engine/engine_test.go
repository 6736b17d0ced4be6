package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biopatrol/internal/biosensor"
	"biopatrol/internal/fleet"
	"biopatrol/internal/notifier"
	"biopatrol/internal/scanstore"
	"biopatrol/internal/task"
)

const testRobotID = "r1"

func mustParams(t *testing.T, v any) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func newTestGateway(fc *fleet.FakeClient) *fleet.Gateway {
	gw := fleet.NewGateway(nil, nil, nil)
	gw.Register(testRobotID, fc)
	return gw
}

// stubBio is a fixed-response BioScanner double for tests that don't need
// the retry/validity semantics exercised by internal/biosensor's own tests.
type stubBio struct {
	payload *biosensor.ScanPayload
	err     error
}

func (s stubBio) GetValidScanData(ctx context.Context, targetBed, taskID, bedName string) (*biosensor.ScanPayload, error) {
	return s.payload, s.err
}

func TestRunTaskHappyPatrolCompletesAllStepsAndFoldsMetrics(t *testing.T) {
	fc := fleet.NewFakeClient()
	fc.Script("move_to_location", fleet.Success(nil))
	fc.Script("move_shelf", fleet.Success(nil))
	fc.Script("return_shelf", fleet.Success(nil))
	fc.Script("return_home", fleet.Success(nil))

	gw := newTestGateway(fc)
	store := scanstore.NewMemoryStore()
	bio := stubBio{payload: &biosensor.ScanPayload{BPM: 72, RPM: 16}}

	steps := []*task.Step{
		{StepID: "s1", Action: task.ActionMoveToLocation, Params: mustParams(t, task.MoveToLocationParams{LocationID: "bed-1"})},
		{StepID: "s2", Action: task.ActionMoveShelf, Params: mustParams(t, task.MoveShelfParams{ShelfID: "shelf-1", LocationID: "bed-1"})},
		{StepID: "s3", Action: task.ActionBioScan, Params: mustParams(t, task.BioScanParams{BedKey: "bed-1"})},
		{StepID: "s4", Action: task.ActionReturnShelf, Params: mustParams(t, task.ReturnShelfParams{ShelfID: "shelf-1"})},
		{StepID: "s5", Action: task.ActionReturnHome},
	}
	tk := task.New("", testRobotID, steps)

	eng := New(testRobotID, gw, bio, store, notifier.Nop(), nil, WithPollInterval(10*time.Millisecond))
	result := eng.RunTask(context.Background(), tk)

	require.Equal(t, task.StatusDone, result.Status())
	for _, s := range result.Steps {
		assert.True(t, s.Status.IsTerminal(), "step %s should be terminal", s.StepID)
		assert.Equal(t, task.StepSuccess, s.Status, "step %s", s.StepID)
	}
	assert.Contains(t, result.Metadata, "metrics")
	assert.NotNil(t, result.StartedAt)
	assert.NotNil(t, result.FinishedAt)
}

func TestRunTaskSkipsDependentStepsAfterConditionalFailure(t *testing.T) {
	fc := fleet.NewFakeClient()
	fc.Script("move_shelf", fleet.DomainFailure(41, "shelf not found"))
	fc.Script("return_home", fleet.Success(nil))

	gw := newTestGateway(fc)
	store := scanstore.NewMemoryStore()
	bio := stubBio{payload: &biosensor.ScanPayload{BPM: 72, RPM: 16}}

	steps := []*task.Step{
		{
			StepID:        "s1",
			Action:        task.ActionMoveShelf,
			Params:        mustParams(t, task.MoveShelfParams{ShelfID: "shelf-1", LocationID: "bed-1"}),
			SkipOnFailure: []string{"s2"},
		},
		{StepID: "s2", Action: task.ActionBioScan, Params: mustParams(t, task.BioScanParams{BedKey: "bed-1"})},
		{StepID: "s3", Action: task.ActionReturnHome},
	}
	tk := task.New("", testRobotID, steps)

	eng := New(testRobotID, gw, bio, store, notifier.Nop(), nil)
	result := eng.RunTask(context.Background(), tk)

	require.Equal(t, task.StatusDone, result.Status())
	assert.Equal(t, task.StepFail, result.Steps[0].Status)
	assert.Equal(t, task.StepSkipped, result.Steps[1].Status)
	assert.Equal(t, task.StepSuccess, result.Steps[2].Status)

	rows, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, scanstore.StatusNA, rows[0].Status)
	assert.Equal(t, "bed-1", rows[0].BedName)
	assert.Equal(t, "robot could not move to bedside", rows[0].Details)
}

func TestRunTaskCriticalFailureAbortsTask(t *testing.T) {
	fc := fleet.NewFakeClient()
	fc.Script("move_to_location", fleet.DomainFailure(50, "stuck"))

	gw := newTestGateway(fc)
	store := scanstore.NewMemoryStore()
	bio := stubBio{payload: &biosensor.ScanPayload{BPM: 72, RPM: 16}}

	steps := []*task.Step{
		{StepID: "s1", Action: task.ActionMoveToLocation, Params: mustParams(t, task.MoveToLocationParams{LocationID: "bed-1"})},
		{StepID: "s2", Action: task.ActionBioScan, Params: mustParams(t, task.BioScanParams{BedKey: "bed-1"})},
	}
	tk := task.New("", testRobotID, steps)

	eng := New(testRobotID, gw, bio, store, notifier.Nop(), nil)
	result := eng.RunTask(context.Background(), tk)

	require.Equal(t, task.StatusFailed, result.Status())
	assert.Equal(t, task.StepFail, result.Steps[0].Status)
	assert.Equal(t, task.StepPending, result.Steps[1].Status)
}

func TestRunTaskShelfDropAbortsAndRecordsRemainingBeds(t *testing.T) {
	fc := fleet.NewFakeClient()
	fc.Script("move_shelf", fleet.Success(nil))
	fc.Script("get_moving_shelf", fleet.Success(map[string]any{}))
	fc.Script("return_home", fleet.Success(nil))

	gw := newTestGateway(fc)
	store := scanstore.NewMemoryStore()
	bio := stubBio{payload: &biosensor.ScanPayload{BPM: 72, RPM: 16}}

	steps := []*task.Step{
		{StepID: "s1", Action: task.ActionMoveShelf, Params: mustParams(t, task.MoveShelfParams{ShelfID: "shelf-1", LocationID: "bed-1"})},
		{StepID: "s2", Action: task.ActionWait, Params: mustParams(t, task.WaitParams{Seconds: 0.05})},
		{StepID: "s3", Action: task.ActionBioScan, Params: mustParams(t, task.BioScanParams{BedKey: "bed-1"})},
	}
	tk := task.New("", testRobotID, steps)

	eng := New(testRobotID, gw, bio, store, notifier.Nop(), nil, WithPollInterval(10*time.Millisecond))
	result := eng.RunTask(context.Background(), tk)

	require.Equal(t, task.StatusShelfDropped, result.Status())
	assert.Equal(t, task.StepSuccess, result.Steps[0].Status)
	assert.Equal(t, task.StepSuccess, result.Steps[1].Status)
	assert.Equal(t, task.StepPending, result.Steps[2].Status)

	assert.Equal(t, true, result.Metadata["shelf_drop"])
	assert.NotContains(t, result.Metadata, "metrics")

	remaining, ok := result.Metadata["remaining_beds"].([]remainingBed)
	require.True(t, ok)
	require.Len(t, remaining, 1)
	assert.Equal(t, "bed-1", remaining[0].BedKey)

	rows, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, scanstore.StatusNA, rows[0].Status)
	assert.Equal(t, "shelf dropped, patrol interrupted", rows[0].Details)

	assert.Equal(t, 1, fc.CallCount("return_home"))
}

// blockingBio holds GetValidScanData open until release is closed, so a
// test can force a shelf drop to land while the call is still outstanding.
type blockingBio struct {
	payload *biosensor.ScanPayload
	release chan struct{}
}

func (b blockingBio) GetValidScanData(ctx context.Context, targetBed, taskID, bedName string) (*biosensor.ScanPayload, error) {
	<-b.release
	return b.payload, nil
}

func TestRunTaskShelfDropDuringBioScanIncludesInFlightBed(t *testing.T) {
	fc := fleet.NewFakeClient()
	fc.Script("move_shelf", fleet.Success(nil))
	fc.Script("get_moving_shelf", fleet.Success(map[string]any{}))
	fc.Script("return_home", fleet.Success(nil))

	gw := newTestGateway(fc)
	store := scanstore.NewMemoryStore()
	release := make(chan struct{})
	bio := blockingBio{payload: &biosensor.ScanPayload{BPM: 72, RPM: 16}, release: release}

	steps := []*task.Step{
		{StepID: "s1", Action: task.ActionMoveShelf, Params: mustParams(t, task.MoveShelfParams{ShelfID: "shelf-1", LocationID: "101-1"})},
		{StepID: "s2", Action: task.ActionBioScan, Params: mustParams(t, task.BioScanParams{BedKey: "101-1"})},
		{StepID: "s3", Action: task.ActionBioScan, Params: mustParams(t, task.BioScanParams{BedKey: "102-1"})},
	}
	tk := task.New("", testRobotID, steps)

	eng := New(testRobotID, gw, bio, store, notifier.Nop(), nil, WithPollInterval(10*time.Millisecond))

	done := make(chan *task.Task, 1)
	go func() { done <- eng.RunTask(context.Background(), tk) }()

	// give the monitor time to poll, observe the drop, and flip
	// shelfDropped while GetValidScanData for s2 is still blocked.
	time.Sleep(40 * time.Millisecond)
	close(release)

	result := <-done

	require.Equal(t, task.StatusShelfDropped, result.Status())
	assert.Equal(t, task.StepSuccess, result.Steps[0].Status)
	assert.Equal(t, task.StepSuccess, result.Steps[1].Status)
	assert.Equal(t, task.StepPending, result.Steps[2].Status)

	remaining, ok := result.Metadata["remaining_beds"].([]remainingBed)
	require.True(t, ok)
	require.Len(t, remaining, 2)
	assert.Equal(t, "101-1", remaining[0].BedKey)
	assert.Equal(t, "102-1", remaining[1].BedKey)
}

func TestRunTaskRecoversFromBioScanTimeout(t *testing.T) {
	fc := fleet.NewFakeClient()
	fc.Script("return_home", fleet.Success(nil))

	gw := newTestGateway(fc)
	store := scanstore.NewMemoryStore()
	bio := stubBio{payload: nil} // no error, no payload => timeout without data

	steps := []*task.Step{
		{StepID: "s1", Action: task.ActionBioScan, Params: mustParams(t, task.BioScanParams{BedKey: "bed-1"})},
		{StepID: "s2", Action: task.ActionReturnHome},
	}
	tk := task.New("", testRobotID, steps)

	eng := New(testRobotID, gw, bio, store, notifier.Nop(), nil)
	result := eng.RunTask(context.Background(), tk)

	require.Equal(t, task.StatusDone, result.Status())
	assert.Equal(t, task.StepFail, result.Steps[0].Status)
	assert.Equal(t, task.StepSuccess, result.Steps[1].Status)
}

func TestClassifySkipTakesPriorityOverCriticalAction(t *testing.T) {
	eng := New(testRobotID, newTestGateway(fleet.NewFakeClient()), stubBio{}, scanstore.NewMemoryStore(), notifier.Nop(), nil)
	r := &run{skippedSteps: make(map[string]bool), skipReasons: make(map[string]skipReason)}
	step := &task.Step{StepID: "s1", Action: task.ActionMoveToLocation, SkipOnFailure: []string{"s2"}}
	result := task.NewFailureResult(9, "blocked", nil)

	abort := eng.classify(r, step, result)

	assert.False(t, abort)
	assert.True(t, r.skippedSteps["s2"])
	assert.Equal(t, "s1", r.skipReasons["s2"].failedStepID)
}

func TestClassifyNonCriticalActionFailsStepOnly(t *testing.T) {
	eng := New(testRobotID, newTestGateway(fleet.NewFakeClient()), stubBio{}, scanstore.NewMemoryStore(), notifier.Nop(), nil)
	r := &run{skippedSteps: make(map[string]bool), skipReasons: make(map[string]skipReason)}
	step := &task.Step{StepID: "s1", Action: task.ActionSpeak}
	result := task.NewFailureResult(-1, "tts unavailable", nil)

	abort := eng.classify(r, step, result)

	assert.False(t, abort)
}

func TestClassifyCriticalActionAbortsTask(t *testing.T) {
	eng := New(testRobotID, newTestGateway(fleet.NewFakeClient()), stubBio{}, scanstore.NewMemoryStore(), notifier.Nop(), nil)
	r := &run{skippedSteps: make(map[string]bool), skipReasons: make(map[string]skipReason)}
	step := &task.Step{StepID: "s1", Action: task.ActionMoveToLocation}
	result := task.NewFailureResult(-1, "stuck", nil)

	abort := eng.classify(r, step, result)

	assert.True(t, abort)
}
