package task

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAssignsTaskID(t *testing.T) {
	tk := New("", "robot-1", nil)
	assert.NotEmpty(t, tk.TaskID)
	assert.Equal(t, StatusQueued, tk.Status())
}

func TestCancelIsIdempotent(t *testing.T) {
	tk := New("t1", "robot-1", nil)
	tk.SetStatus(StatusInProgress)

	first := tk.Cancel()
	second := tk.Cancel()

	assert.True(t, first)
	assert.False(t, second, "second cancel is a no-op, not an error")
	assert.Equal(t, StatusCancelled, tk.Status())
}

func TestCancelAfterTerminalIsNoop(t *testing.T) {
	tk := New("t1", "robot-1", nil)
	tk.SetStatus(StatusDone)

	changed := tk.Cancel()

	assert.False(t, changed)
	assert.Equal(t, StatusDone, tk.Status(), "a terminal status is never overwritten by cancel")
}

func TestRoundTripWireShape(t *testing.T) {
	wire := []byte(`{
		"task_id": "t1",
		"robot_id": "robot-1",
		"steps": [
			{"step_id": "s1", "action": "move_shelf",
			 "params": {"shelf_id":"S_04","location_id":"B_101-1"},
			 "skip_on_failure": ["s2"]},
			{"step_id": "s2", "action": "bio_scan", "params": {"bed_key":"101-1"}},
			{"step_id": "s3", "action": "return_shelf", "params": {"shelf_id":"S_04"}}
		]
	}`)

	tk, err := ParseFromWire(wire)
	require.NoError(t, err)
	require.Len(t, tk.Steps, 3)
	assert.Equal(t, StatusQueued, tk.Status())
	assert.Equal(t, []string{"s2"}, tk.Steps[0].SkipOnFailure)

	encoded, err := json.Marshal(tk)
	require.NoError(t, err)

	roundTripped, err := ParseFromWire(encoded)
	require.NoError(t, err)
	assert.Equal(t, tk.TaskID, roundTripped.TaskID)
	assert.Equal(t, tk.RobotID, roundTripped.RobotID)
	require.Len(t, roundTripped.Steps, 3)
	for i := range tk.Steps {
		assert.Equal(t, tk.Steps[i].StepID, roundTripped.Steps[i].StepID)
		assert.Equal(t, tk.Steps[i].Action, roundTripped.Steps[i].Action)
	}
}

func TestParseParamsUnknownAction(t *testing.T) {
	_, err := ParseParams(Action("levitate"), nil)
	assert.Error(t, err)
}

func TestParseParamsMoveShelf(t *testing.T) {
	raw := json.RawMessage(`{"shelf_id":"S_04","location_id":"B_101-1"}`)
	parsed, err := ParseParams(ActionMoveShelf, raw)
	require.NoError(t, err)

	p, ok := parsed.(MoveShelfParams)
	require.True(t, ok)
	assert.Equal(t, "S_04", p.ShelfID)
	assert.Equal(t, "B_101-1", p.LocationID)
}

func TestActionIsNonCritical(t *testing.T) {
	assert.True(t, ActionBioScan.IsNonCritical())
	assert.True(t, ActionWait.IsNonCritical())
	assert.True(t, ActionSpeak.IsNonCritical())
	assert.True(t, ActionReturnShelf.IsNonCritical())
	assert.False(t, ActionMoveShelf.IsNonCritical())
	assert.False(t, ActionMoveToLocation.IsNonCritical())
}
