package gst

import (
	"context"
	"fmt"
	"sync"
)

// PromiseResult is the state of a Promise.
type PromiseResult int

const (
	PromisePending PromiseResult = iota
	PromiseInterrupted
	PromiseReplied
	PromiseExpired
)

func (r PromiseResult) String() string {
	switch r {
	case PromisePending:
		return "pending"
	case PromiseInterrupted:
		return "interrupted"
	case PromiseReplied:
		return "replied"
	case PromiseExpired:
		return "expired"
	}
	return fmt.Sprintf("promise-result(%d)", int(r))
}

// PromiseError is returned when a promise did not end in a reply.
type PromiseError struct {
	Result PromiseResult
}

func (e *PromiseError) Error() string { return "gst: promise " + e.Result.String() }

// Is matches any *PromiseError with the same result.
func (e *PromiseError) Is(target error) bool {
	t, ok := target.(*PromiseError)
	return ok && t.Result == e.Result
}

var (
	ErrPromiseInterrupted = &PromiseError{Result: PromiseInterrupted}
	ErrPromiseExpired     = &PromiseError{Result: PromiseExpired}
)

// Promise is a one-shot reply carrier. Exactly one of Reply, Interrupt or Expire
// takes effect; later calls are ignored.
type Promise struct {
	MiniObject

	mu       sync.Mutex
	cond     *sync.Cond
	result   PromiseResult
	reply    *Structure
	onChange func(*Promise)
}

// NewPromise returns a pending promise.
func NewPromise() *Promise {
	return NewPromiseWithChangeFunc(nil)
}

// NewPromiseWithChangeFunc returns a pending promise that calls fn exactly once, on
// the thread performing the transition.
func NewPromiseWithChangeFunc(fn func(*Promise)) *Promise {
	p := &Promise{onChange: fn}
	p.cond = sync.NewCond(&p.mu)
	p.init(TypePromise, 0, nil, p.freePromise)
	return p
}

func (p *Promise) freePromise() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reply != nil {
		p.reply.parent = nil
		p.reply.release()
		p.reply = nil
	}
	p.onChange = nil
}

// Ref takes another reference.
func (p *Promise) Ref() *Promise { p.ref(); return p }

func (p *Promise) transition(to PromiseResult, reply *Structure) bool {
	p.mu.Lock()
	if p.result != PromisePending {
		p.mu.Unlock()
		catPromise.Debug(p, "ignoring %s on %s promise", to, p.result)
		if reply != nil {
			reply.Free()
		}
		return false
	}
	p.result = to
	if reply != nil {
		reply.setParent(&p.MiniObject)
		p.reply = reply
	}
	fn := p.onChange
	p.onChange = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	catPromise.Log(p, "promise %s", to)
	if fn != nil {
		var err error
		func() {
			defer catchPanic(catPromise, p, "promise change function", &err)
			fn(p)
		}()
	}
	return true
}

// Reply completes the promise with s, taking ownership. s may be nil.
func (p *Promise) Reply(s *Structure) { p.transition(PromiseReplied, s) }

// Interrupt tells the replier that the reply is no longer needed.
func (p *Promise) Interrupt() { p.transition(PromiseInterrupted, nil) }

// Expire marks the promise as no longer answerable.
func (p *Promise) Expire() { p.transition(PromiseExpired, nil) }

// Result returns the current state.
func (p *Promise) Result() PromiseResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.result
}

// GetReply returns the reply structure, or nil before a reply or for an empty reply.
func (p *Promise) GetReply() *Structure {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.result != PromiseReplied {
		return nil
	}
	return p.reply
}

// Wait blocks until the promise leaves the pending state.
func (p *Promise) Wait() PromiseResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.result == PromisePending {
		p.cond.Wait()
	}
	return p.result
}

// Outcome returns the reply or an error describing how the promise ended.
func (p *Promise) Outcome() (*Structure, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch p.result {
	case PromiseReplied:
		return p.reply, nil
	case PromiseInterrupted:
		return nil, ErrPromiseInterrupted
	case PromiseExpired:
		return nil, ErrPromiseExpired
	}
	return nil, &PromiseError{Result: p.result}
}

func (p *Promise) String() string { return fmt.Sprintf("promise %p (%s)", p, p.Result()) }

// PromiseFuture waits for a promise created by NewPromiseFuture.
type PromiseFuture struct {
	promise *Promise
	done    chan struct{}
}

// NewPromiseFuture returns a promise and a future resolving when it is answered.
func NewPromiseFuture() (*Promise, *PromiseFuture) {
	done := make(chan struct{})
	p := NewPromiseWithChangeFunc(func(*Promise) { close(done) })
	return p, &PromiseFuture{promise: p.Ref(), done: done}
}

// Done is closed once the promise has left the pending state.
func (f *PromiseFuture) Done() <-chan struct{} { return f.done }

// Await blocks until the promise resolves or ctx ends. The reply stays valid until
// Release.
func (f *PromiseFuture) Await(ctx context.Context) (*Structure, error) {
	select {
	case <-f.done:
		return f.promise.Outcome()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release drops the future's reference to the promise. Dropping a pending future
// interrupts the promise.
func (f *PromiseFuture) Release() {
	if f.promise == nil {
		return
	}
	select {
	case <-f.done:
	default:
		f.promise.Interrupt()
	}
	f.promise.Unref()
	f.promise = nil
}
