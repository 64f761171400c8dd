package gst

import (
	"sync"

	"github.com/petermattis/goid"
)

// RecMutex is a mutex the holding goroutine may lock again. Every Lock must be
// paired with an Unlock from the same goroutine.
type RecMutex struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner int64
	depth int
}

func (m *RecMutex) lazyInit() {
	if m.cond == nil {
		m.cond = sync.NewCond(&m.mu)
	}
}

// Lock acquires the mutex, returning immediately when the caller already holds it.
func (m *RecMutex) Lock() {
	id := goid.Get()
	m.mu.Lock()
	m.lazyInit()
	for m.depth > 0 && m.owner != id {
		m.cond.Wait()
	}
	m.owner = id
	m.depth++
	m.mu.Unlock()
}

// TryLock acquires the mutex without blocking.
func (m *RecMutex) TryLock() bool {
	id := goid.Get()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lazyInit()
	if m.depth > 0 && m.owner != id {
		return false
	}
	m.owner = id
	m.depth++
	return true
}

// Unlock releases one level of locking.
func (m *RecMutex) Unlock() {
	id := goid.Get()
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.depth == 0 || m.owner != id {
		panic("gst: unlock of RecMutex not held by this goroutine")
	}
	m.depth--
	if m.depth == 0 {
		m.owner = 0
		m.cond.Signal()
	}
}

// HeldByCurrent reports whether the calling goroutine holds the mutex.
func (m *RecMutex) HeldByCurrent() bool {
	id := goid.Get()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depth > 0 && m.owner == id
}

// RecMutexGuard releases a RecMutex when Release is called. Use with defer so the
// lock is dropped on every exit path, panics included.
type RecMutexGuard struct {
	m    *RecMutex
	once sync.Once
}

// Guard locks m and returns its guard.
func (m *RecMutex) Guard() *RecMutexGuard {
	m.Lock()
	return &RecMutexGuard{m: m}
}

// Release unlocks once; further calls are no-ops.
func (g *RecMutexGuard) Release() { g.once.Do(g.m.Unlock) }
