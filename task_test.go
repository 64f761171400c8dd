package gst

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskLifecycle(t *testing.T) {
	var iterations, enters, leaves atomic.Int32
	task := NewTaskBuilder(func() {
		iterations.Add(1)
		time.Sleep(time.Millisecond)
	}).
		Name("looper").
		EnterFunc(func(*Task) { enters.Add(1) }).
		LeaveFunc(func(*Task) { leaves.Add(1) }).
		Build()
	assert.Equal(t, "looper", task.Name())
	assert.Equal(t, TaskStopped, task.State())
	require.NoError(t, task.Join(), "joining a task that never ran")

	require.NoError(t, task.Start())
	require.Eventually(t, func() bool { return iterations.Load() > 3 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, task.Join(), ErrTaskNotStopped)

	require.NoError(t, task.Pause())
	time.Sleep(5 * time.Millisecond)
	paused := iterations.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, paused, iterations.Load())

	require.NoError(t, task.Start())
	require.Eventually(t, func() bool { return iterations.Load() > paused }, time.Second, time.Millisecond)
	require.NoError(t, task.Stop())
	require.NoError(t, task.Join())
	assert.Equal(t, int32(1), enters.Load())
	assert.Equal(t, int32(1), leaves.Load())
}

func TestTaskHoldsStreamLock(t *testing.T) {
	lock := &RecMutex{}
	entered := make(chan struct{}, 1)
	task := NewTaskBuilder(func() {
		select {
		case entered <- struct{}{}:
		default:
		}
	}).Lock(lock).Build()
	assert.Same(t, lock, task.StreamLock())

	lock.Lock()
	require.NoError(t, task.Start())
	select {
	case <-entered:
		t.Fatal("iteration ran without the stream lock")
	case <-time.After(10 * time.Millisecond):
	}
	lock.Unlock()
	<-entered

	require.NoError(t, task.Stop())
	require.NoError(t, task.Join())
}

func TestTaskPanicPauses(t *testing.T) {
	var calls atomic.Int32
	task := NewTask(func() {
		calls.Add(1)
		panic("iteration failed")
	})
	require.NoError(t, task.Start())
	require.Eventually(t, func() bool { return task.State() == TaskPaused }, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	require.NoError(t, task.Stop())
	require.NoError(t, task.Join())
}

func TestTaskJoinSelf(t *testing.T) {
	errs := make(chan error, 1)
	var task *Task
	task = NewTask(func() {
		_ = task.Stop()
		errs <- task.Join()
	})
	require.NoError(t, task.Start())
	assert.ErrorIs(t, <-errs, ErrTaskJoinSelf)
	require.NoError(t, task.Join())
}

func TestRecMutex(t *testing.T) {
	var m RecMutex
	m.Lock()
	m.Lock()
	assert.True(t, m.HeldByCurrent())

	other := make(chan bool)
	go func() { other <- m.TryLock() }()
	assert.False(t, <-other)

	m.Unlock()
	assert.True(t, m.HeldByCurrent())
	m.Unlock()
	assert.False(t, m.HeldByCurrent())
	assert.Panics(t, m.Unlock)

	go func() {
		ok := m.TryLock()
		if ok {
			m.Unlock()
		}
		other <- ok
	}()
	assert.True(t, <-other)
}

func TestPadTaskStopOrdering(t *testing.T) {
	pad := NewPad("src", PadDirectionSrc)
	var calls atomic.Int32
	require.NoError(t, pad.StartTask(func() { calls.Add(1) }))
	require.Eventually(t, func() bool { return calls.Load() > 10 }, time.Second, time.Millisecond)

	require.NoError(t, pad.StopTask())
	n := calls.Load()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, n, calls.Load(), "no iteration starts once StopTask returned")
	assert.Equal(t, TaskStopped, pad.TaskState())
}

func TestPauseFromTaskDuringStop(t *testing.T) {
	pad := NewPad("src", PadDirectionSrc)
	running := make(chan struct{})
	stopping := make(chan struct{})
	var once atomic.Bool
	require.NoError(t, pad.StartTask(func() {
		if once.CompareAndSwap(false, true) {
			close(running)
			<-stopping
			// what a source does on EOS
			assert.NoError(t, pad.PauseTask())
		}
	}))
	<-running

	done := make(chan error)
	go func() { done <- pad.StopTask() }()
	require.Eventually(t, func() bool { return pad.TaskState() == TaskStopped }, time.Second, time.Millisecond)
	close(stopping)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("StopTask did not return")
	}
}

func TestTaskPauseAfterStopIsIgnored(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	task := NewTask(func() {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	})
	require.NoError(t, task.Start())
	<-entered
	require.NoError(t, task.Stop())
	require.NoError(t, task.Pause())
	assert.Equal(t, TaskStopped, task.State())
	close(release)
	require.NoError(t, task.Join())
}
