package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biopatrol/internal/task"
)

// fakeEngine is a scriptable Engine double: RunTask blocks on hold (if
// non-nil) before marking the task DONE, letting tests observe the
// dispatcher's busy/available transitions deterministically.
type fakeEngine struct {
	mu    sync.Mutex
	calls int
	hold  chan struct{}
}

func (f *fakeEngine) RunTask(ctx context.Context, t *task.Task) *task.Task {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.hold != nil {
		<-f.hold
	}
	t.SetStatus(task.StatusDone)
	return t
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestDispatcher() *Dispatcher {
	return New(nil, WithQueueCapacity(16))
}

func TestSubmitPinnedTaskToUnknownRobotFailsImmediately(t *testing.T) {
	d := newTestDispatcher()
	tk := task.New("", "ghost", nil)

	err := d.Submit(tk)

	require.Error(t, err)
	assert.Equal(t, task.StatusFailed, tk.Status())
	assert.Equal(t, "unknown robot", tk.Metadata["error"])
}

func TestSubmitPinnedTaskRunsOnItsRobot(t *testing.T) {
	d := newTestDispatcher()
	eng := &fakeEngine{}
	d.RegisterRobot("r1", func() Engine { return eng })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	tk := task.New("", "r1", nil)
	require.NoError(t, d.Submit(tk))

	require.Eventually(t, func() bool { return tk.Status() == task.StatusDone }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, eng.callCount())
}

func TestSubmitUnpinnedTaskIsRoutedToARegisteredRobot(t *testing.T) {
	d := newTestDispatcher()
	eng := &fakeEngine{}
	d.RegisterRobot("r1", func() Engine { return eng })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	tk := task.New("", "", nil)
	require.NoError(t, d.Submit(tk))

	require.Eventually(t, func() bool { return tk.Status() == task.StatusDone }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "r1", tk.RobotID)
}

func TestBusyRobotDelaysSecondTaskUntilFirstCompletes(t *testing.T) {
	d := newTestDispatcher()
	hold := make(chan struct{})
	eng := &fakeEngine{hold: hold}
	d.RegisterRobot("r1", func() Engine { return eng })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	t1 := task.New("t1", "", nil)
	t2 := task.New("t2", "", nil)
	require.NoError(t, d.Submit(t1))

	require.Eventually(t, func() bool {
		current, ok := d.CurrentTask("r1")
		return ok && current.TaskID == "t1"
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, d.Submit(t2))

	// t2 cannot have been routed yet: the robot has not re-signaled
	// availability, and its queue still only contains its own current work.
	current, ok := d.CurrentTask("r1")
	require.True(t, ok)
	assert.Equal(t, "t1", current.TaskID)

	hold <- struct{}{}
	require.Eventually(t, func() bool { return t1.Status() == task.StatusDone }, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		current, ok := d.CurrentTask("r1")
		return ok && current.TaskID == "t2"
	}, time.Second, 5*time.Millisecond)

	hold <- struct{}{}
	require.Eventually(t, func() bool { return t2.Status() == task.StatusDone }, time.Second, 5*time.Millisecond)
}

func TestWorkerSkipsAlreadyCancelledTask(t *testing.T) {
	d := newTestDispatcher()
	eng := &fakeEngine{}
	d.RegisterRobot("r1", func() Engine { return eng })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	tk := task.New("", "r1", nil)
	tk.Cancel()
	require.NoError(t, d.Submit(tk))

	tk2 := task.New("", "r1", nil)
	require.NoError(t, d.Submit(tk2))

	require.Eventually(t, func() bool { return tk2.Status() == task.StatusDone }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, eng.callCount())
	assert.Equal(t, task.StatusCancelled, tk.Status())
}

func TestRegisterRobotAfterStartAlsoStartsItsWorker(t *testing.T) {
	d := newTestDispatcher()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)
	defer d.Stop()

	eng := &fakeEngine{}
	d.RegisterRobot("late", func() Engine { return eng })

	tk := task.New("", "late", nil)
	require.NoError(t, d.Submit(tk))

	require.Eventually(t, func() bool { return tk.Status() == task.StatusDone }, time.Second, 5*time.Millisecond)
}
