package gst

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
)

// TaskHandle is returned by a pool for joinable pushes.
type TaskHandle interface {
	// Join blocks until the pushed function returned.
	Join()
}

// TaskPoolImpl is implemented by custom pools.
//
// Push must eventually call f exactly once when it returns a nil error, and must
// never call it otherwise. A nil handle marks a push that cannot be joined.
type TaskPoolImpl interface {
	Prepare(p *TaskPool) error
	Cleanup(p *TaskPool)
	Push(p *TaskPool, f *TaskPoolFunction) (TaskHandle, error)
}

// TaskPool runs task functions on goroutines chosen by its implementation.
type TaskPool struct {
	impl TaskPoolImpl
}

// NewTaskPool returns a pool starting one goroutine per push.
func NewTaskPool() *TaskPool { return &TaskPool{impl: goroutinePool{}} }

// NewTaskPoolWithImpl returns a pool backed by impl.
func NewTaskPoolWithImpl(impl TaskPoolImpl) *TaskPool { return &TaskPool{impl: impl} }

// Prepare readies the pool for pushes.
func (p *TaskPool) Prepare() (err error) {
	defer catchPanic(catTask, nil, "task pool prepare", &err)
	return p.impl.Prepare(p)
}

// Cleanup releases the pool's resources.
func (p *TaskPool) Cleanup() {
	defer catchPanic(catTask, nil, "task pool cleanup", nil)
	p.impl.Cleanup(p)
}

// Push schedules fn. The returned handle is nil for non-joinable pushes.
func (p *TaskPool) Push(fn func()) (TaskHandle, error) {
	f := newTaskPoolFunction(fn)
	h, err := p.impl.Push(p, f)
	if err != nil {
		f.state.dropped.Store(true)
		return nil, err
	}
	f.state.pushed.Store(true)
	return h, nil
}

// Join waits for the function behind h.
func (p *TaskPool) Join(h TaskHandle) {
	if h == nil {
		catTask.Warning(nil, "joining a non-joinable task pool push")
		return
	}
	h.Join()
}

type taskFuncState struct {
	pushed  atomic.Bool
	dropped atomic.Bool
	called  atomic.Bool
}

// TaskPoolFunction is the callable a pool receives. It must be called exactly once
// when the push succeeded and never when it failed.
type TaskPoolFunction struct {
	fn    func()
	state *taskFuncState
}

func newTaskPoolFunction(fn func()) *TaskPoolFunction {
	f := &TaskPoolFunction{fn: fn, state: &taskFuncState{}}
	runtime.AddCleanup(f, func(s *taskFuncState) {
		if s.pushed.Load() && !s.called.Load() {
			catTask.Warning(nil, "task pool function leaked without being called")
		}
	}, f.state)
	return f
}

// Call runs the function. A second call, or a call after a failed push, panics.
func (f *TaskPoolFunction) Call() {
	if f.state.dropped.Load() {
		panic("gst: task pool function called after its push failed")
	}
	if !f.state.called.CompareAndSwap(false, true) {
		panic("gst: task pool function called twice")
	}
	f.fn()
}

// Called reports whether Call ran.
func (f *TaskPoolFunction) Called() bool { return f.state.called.Load() }

type goroutineHandle struct{ done chan struct{} }

func (h *goroutineHandle) Join() { <-h.done }

type goroutinePool struct{}

func (goroutinePool) Prepare(*TaskPool) error { return nil }
func (goroutinePool) Cleanup(*TaskPool)       {}

func (goroutinePool) Push(_ *TaskPool, f *TaskPoolFunction) (TaskHandle, error) {
	h := &goroutineHandle{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		f.Call()
	}()
	return h, nil
}

// ErrTaskPoolFull is returned by a SharedTaskPool that reached its limit.
var ErrTaskPoolFull = errors.New("gst: task pool is full")

// SharedTaskPool runs at most MaxThreads functions at once. Pushes beyond the
// limit fail with ErrTaskPoolFull.
type SharedTaskPool struct {
	MaxThreads int

	mu      sync.Mutex
	running int
	wg      sync.WaitGroup
}

func (s *SharedTaskPool) Prepare(*TaskPool) error { return nil }

// Cleanup waits for running functions.
func (s *SharedTaskPool) Cleanup(*TaskPool) { s.wg.Wait() }

func (s *SharedTaskPool) Push(_ *TaskPool, f *TaskPoolFunction) (TaskHandle, error) {
	s.mu.Lock()
	if s.MaxThreads > 0 && s.running >= s.MaxThreads {
		s.mu.Unlock()
		return nil, ErrTaskPoolFull
	}
	s.running++
	s.mu.Unlock()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			s.running--
			s.mu.Unlock()
		}()
		f.Call()
	}()
	return nil, nil
}

var defaultTaskPool = NewTaskPool()
