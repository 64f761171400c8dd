package gst

import (
	"errors"
	"fmt"
	"sync"

	"github.com/petermattis/goid"
)

// TaskState is the state of a Task.
type TaskState int

const (
	TaskStarted TaskState = iota
	TaskStopped
	TaskPaused
)

func (s TaskState) String() string {
	switch s {
	case TaskStarted:
		return "started"
	case TaskStopped:
		return "stopped"
	case TaskPaused:
		return "paused"
	}
	return fmt.Sprintf("task-state(%d)", int(s))
}

var (
	// ErrTaskJoinSelf is returned when a task tries to join itself.
	ErrTaskJoinSelf = errors.New("gst: task cannot join itself")
	// ErrTaskNotStopped is returned when joining a task that was not stopped.
	ErrTaskNotStopped = errors.New("gst: task must be stopped before joining")
)

// Task calls a function repeatedly on its own goroutine while started, holding its
// lock around every call.
type Task struct {
	Object

	fn    func()
	lock  *RecMutex
	enter func(*Task)
	leave func(*Task)
	pool  *TaskPool

	cond    *sync.Cond
	state   TaskState
	running bool
	handle  TaskHandle
	done    chan struct{}
	goid    int64
}

// TaskBuilder configures a Task.
type TaskBuilder struct {
	fn    func()
	name  string
	lock  *RecMutex
	enter func(*Task)
	leave func(*Task)
	pool  *TaskPool
}

// NewTaskBuilder starts building a task running fn.
func NewTaskBuilder(fn func()) *TaskBuilder {
	return &TaskBuilder{fn: fn}
}

// Lock sets the lock held around fn. Without one the task uses a private lock.
func (b *TaskBuilder) Lock(l *RecMutex) *TaskBuilder { b.lock = l; return b }

func (b *TaskBuilder) Name(name string) *TaskBuilder { b.name = name; return b }

// EnterFunc runs on the task goroutine before the first iteration.
func (b *TaskBuilder) EnterFunc(fn func(*Task)) *TaskBuilder { b.enter = fn; return b }

// LeaveFunc runs on the task goroutine after the last iteration.
func (b *TaskBuilder) LeaveFunc(fn func(*Task)) *TaskBuilder { b.leave = fn; return b }

// Pool selects the pool providing the goroutine.
func (b *TaskBuilder) Pool(p *TaskPool) *TaskBuilder { b.pool = p; return b }

// Build returns the stopped task.
func (b *TaskBuilder) Build() *Task {
	t := &Task{fn: b.fn, lock: b.lock, enter: b.enter, leave: b.leave, pool: b.pool}
	t.initObject(t, b.name, "task", nil)
	t.state = TaskStopped
	t.cond = sync.NewCond(&t.mu)
	if t.lock == nil {
		t.lock = &RecMutex{}
	}
	if t.pool == nil {
		t.pool = defaultTaskPool
	}
	return t
}

// NewTask returns a stopped task running fn with a private lock.
func NewTask(fn func()) *Task { return NewTaskBuilder(fn).Build() }

// State returns the task state.
func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// StreamLock returns the lock held around every iteration.
func (t *Task) StreamLock() *RecMutex { return t.lock }

// Start starts or resumes calling the function.
func (t *Task) Start() error { return t.setState(TaskStarted) }

// Pause stops calling the function without ending the goroutine. The call in
// progress completes first.
func (t *Task) Pause() error { return t.setState(TaskPaused) }

// Stop ends the task after the iteration in progress. Use Join to wait for it.
func (t *Task) Stop() error { return t.setState(TaskStopped) }

// SetState moves the task to state.
func (t *Task) SetState(state TaskState) error { return t.setState(state) }

func (t *Task) setState(state TaskState) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.state
	if old == state {
		return nil
	}
	if old == TaskStopped && state == TaskPaused && t.running {
		// a stop is pending; the worker is on its way out
		catTask.Debug(t, "ignoring pause of a stopping task")
		return nil
	}
	t.state = state
	catTask.Debug(t, "%s -> %s", old, state)
	if state != TaskStopped && !t.running {
		if err := t.spawnLocked(); err != nil {
			t.state = old
			return err
		}
	}
	t.cond.Broadcast()
	return nil
}

func (t *Task) spawnLocked() error {
	done := make(chan struct{})
	h, err := t.pool.Push(func() { t.loop(done) })
	if err != nil {
		return fmt.Errorf("gst: task %s: %w", t.Name(), err)
	}
	t.running = true
	t.handle = h
	t.done = done
	return nil
}

func (t *Task) loop(done chan struct{}) {
	defer close(done)
	t.mu.Lock()
	t.goid = goid.Get()
	t.mu.Unlock()

	if t.enter != nil {
		t.enter(t)
	}
	for {
		t.mu.Lock()
		for t.state == TaskPaused {
			t.cond.Wait()
		}
		if t.state == TaskStopped {
			t.mu.Unlock()
			break
		}
		t.mu.Unlock()

		if !t.iterate() {
			t.mu.Lock()
			if t.state == TaskStarted {
				t.state = TaskPaused
			}
			t.mu.Unlock()
		}
	}
	if t.leave != nil {
		t.leave(t)
	}

	t.mu.Lock()
	t.running = false
	t.goid = 0
	if t.state != TaskStopped {
		// restarted while leaving
		if err := t.spawnLocked(); err != nil {
			catTask.Error(t, "cannot restart task: %v", err)
			t.state = TaskStopped
		}
	}
	t.cond.Broadcast()
	t.mu.Unlock()
	catTask.Debug(t, "left task loop")
}

// iterate runs one call; a panic pauses the task. The state is checked again
// under the stream lock so no call starts once a stop or pause went through.
func (t *Task) iterate() (ok bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.mu.Lock()
	started := t.state == TaskStarted
	t.mu.Unlock()
	if !started {
		return true
	}
	defer func() {
		if r := recover(); r != nil {
			catTask.Error(t, "panic in task function, pausing: %v", r)
			ok = false
		}
	}()
	t.fn()
	return true
}

// Join waits for the goroutine of a stopped task to end.
func (t *Task) Join() error {
	t.mu.Lock()
	if t.goid != 0 && t.goid == goid.Get() {
		t.mu.Unlock()
		return ErrTaskJoinSelf
	}
	if t.state != TaskStopped {
		t.mu.Unlock()
		return ErrTaskNotStopped
	}
	done, h := t.done, t.handle
	t.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	if h != nil {
		t.pool.Join(h)
	}
	t.mu.Lock()
	if t.done == done {
		t.done, t.handle = nil, nil
	}
	t.mu.Unlock()
	return nil
}
