package gst

import (
	"errors"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskPoolJoin(t *testing.T) {
	pool := NewTaskPool()
	require.NoError(t, pool.Prepare())
	defer pool.Cleanup()

	var n atomic.Int32
	var handles []TaskHandle
	for range 10 {
		h, err := pool.Push(func() { n.Add(1) })
		require.NoError(t, err)
		require.NotNil(t, h)
		handles = append(handles, h)
	}
	for _, h := range handles {
		pool.Join(h)
	}
	assert.Equal(t, int32(10), n.Load())
}

func TestSharedTaskPoolLimit(t *testing.T) {
	shared := &SharedTaskPool{MaxThreads: 1}
	pool := NewTaskPoolWithImpl(shared)
	require.NoError(t, pool.Prepare())

	release := make(chan struct{})
	started := make(chan struct{})
	h, err := pool.Push(func() {
		close(started)
		<-release
	})
	require.NoError(t, err)
	assert.Nil(t, h)
	<-started

	_, err = pool.Push(func() { t.Error("must not run") })
	assert.ErrorIs(t, err, ErrTaskPoolFull)

	close(release)
	pool.Cleanup()

	ran := make(chan struct{})
	_, err = pool.Push(func() { close(ran) })
	require.NoError(t, err)
	<-ran
	pool.Cleanup()

	// joining a non-joinable push only warns
	pool.Join(nil)
}

type failingPool struct{ pushed *TaskPoolFunction }

func (*failingPool) Prepare(*TaskPool) error { return nil }
func (*failingPool) Cleanup(*TaskPool)       {}

func (p *failingPool) Push(_ *TaskPool, f *TaskPoolFunction) (TaskHandle, error) {
	p.pushed = f
	return nil, errors.New("no threads")
}

func TestTaskPoolFunctionContract(t *testing.T) {
	impl := &failingPool{}
	pool := NewTaskPoolWithImpl(impl)
	_, err := pool.Push(func() {})
	require.Error(t, err)
	assert.Panics(t, impl.pushed.Call)

	var once sync.Once
	f := newTaskPoolFunction(func() { once.Do(func() {}) })
	f.Call()
	assert.True(t, f.Called())
	assert.Panics(t, f.Call)
}

// queuePool hands pushed functions to a single worker goroutine.
type queuePool struct {
	queue chan *TaskPoolFunction
	fail  atomic.Bool
}

type queueHandle struct{ done chan struct{} }

func (h *queueHandle) Join() { <-h.done }

func (q *queuePool) Prepare(*TaskPool) error {
	q.queue = make(chan *TaskPoolFunction)
	go func() {
		for f := range q.queue {
			f.Call()
		}
	}()
	return nil
}

func (q *queuePool) Cleanup(*TaskPool) { close(q.queue) }

func (q *queuePool) Push(_ *TaskPool, f *TaskPoolFunction) (TaskHandle, error) {
	if q.fail.Load() {
		return nil, errors.New("queue closed")
	}
	h := &queueHandle{done: make(chan struct{})}
	wrapped := newTaskPoolFunction(func() {
		defer close(h.done)
		f.Call()
	})
	q.queue <- wrapped
	return h, nil
}

// discardPool accepts pushes and never runs them.
type discardPool struct{}

func (discardPool) Prepare(*TaskPool) error { return nil }
func (discardPool) Cleanup(*TaskPool)       {}

func (discardPool) Push(*TaskPool, *TaskPoolFunction) (TaskHandle, error) { return nil, nil }

func leakWarnings(hook *test.Hook) int {
	n := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && strings.Contains(e.Message, "leaked") {
			n++
		}
	}
	return n
}

func captureLog(t *testing.T) *test.Hook {
	t.Helper()
	logger, hook := test.NewNullLogger()
	SetLogger(logger)
	t.Cleanup(func() { SetLogger(nil) })
	return hook
}

func collectGarbage() {
	for range 3 {
		runtime.GC()
		time.Sleep(5 * time.Millisecond)
	}
}

func TestTaskPoolSingleCall(t *testing.T) {
	hook := captureLog(t)
	impl := &queuePool{}
	pool := NewTaskPoolWithImpl(impl)
	require.NoError(t, pool.Prepare())

	var counter atomic.Int32
	h, err := pool.Push(func() { counter.Add(1) })
	require.NoError(t, err)
	require.NotNil(t, h)
	pool.Join(h)
	assert.Equal(t, int32(1), counter.Load())

	impl.fail.Store(true)
	_, err = pool.Push(func() { counter.Add(1) })
	require.Error(t, err)
	pool.Cleanup()

	collectGarbage()
	assert.Equal(t, int32(1), counter.Load())
	assert.Zero(t, leakWarnings(hook))
}

func TestTaskPoolLeakWarning(t *testing.T) {
	hook := captureLog(t)
	pool := NewTaskPoolWithImpl(discardPool{})

	ran := false
	func() {
		_, err := pool.Push(func() { ran = true })
		require.NoError(t, err)
	}()

	require.Eventually(t, func() bool {
		runtime.GC()
		return leakWarnings(hook) > 0
	}, 5*time.Second, 10*time.Millisecond)
	collectGarbage()
	assert.Equal(t, 1, leakWarnings(hook))
	assert.False(t, ran)
}
