package gst

import (
	"errors"
	"runtime"
	"sync"
	"time"
	"weak"
)

// BusSyncReply tells the bus what to do with a message after the sync handler ran.
type BusSyncReply int

const (
	// BusDrop drops the message.
	BusDrop BusSyncReply = iota
	// BusPass queues the message for asynchronous delivery.
	BusPass
	// BusAsync queues the message and blocks the poster until it was popped.
	BusAsync
)

// BusSyncHandler runs on the posting goroutine for every message.
type BusSyncHandler func(bus *Bus, msg *Message) BusSyncReply

// BusWatchFunc receives queued messages on the watch goroutine. Returning false
// removes the watch.
type BusWatchFunc func(bus *Bus, msg *Message) bool

// ErrBusHasWatch is returned when adding a second watch to a bus.
var ErrBusHasWatch = errors.New("gst: bus already has a watch")

type queuedMessage struct {
	msg  *Message
	done chan struct{}
}

// busQueue is the part of a bus a watch goroutine holds on to. It does not keep
// the Bus itself alive.
type busQueue struct {
	mu       sync.Mutex
	items    []queuedMessage
	signal   chan struct{}
	flushing bool
	closed   bool
}

func newBusQueue() *busQueue { return &busQueue{signal: make(chan struct{})} }

// wakeLocked releases everyone waiting for a change.
func (q *busQueue) wakeLocked() {
	close(q.signal)
	q.signal = make(chan struct{})
}

func (q *busQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.wakeLocked()
	q.mu.Unlock()
}

// pop removes the first message matching types, waiting at most timeout.
// ClockTimeNone waits forever, zero does not wait.
func (q *busQueue) pop(timeout ClockTime, types MessageType, stop <-chan struct{}) *Message {
	var deadline <-chan time.Time
	if timeout != ClockTimeNone && timeout != 0 {
		t := time.NewTimer(timeout.Duration())
		defer t.Stop()
		deadline = t.C
	}
	q.mu.Lock()
	for {
		for len(q.items) > 0 {
			item := q.items[0]
			q.items[0] = queuedMessage{}
			q.items = q.items[1:]
			if item.done != nil {
				close(item.done)
			}
			if item.msg.MessageType().Matches(types) {
				q.mu.Unlock()
				return item.msg
			}
			item.msg.Unref()
		}
		if timeout == 0 || q.closed {
			q.mu.Unlock()
			return nil
		}
		signal := q.signal
		q.mu.Unlock()
		select {
		case <-signal:
		case <-deadline:
			return nil
		case <-stop:
			return nil
		}
		q.mu.Lock()
	}
}

// Bus carries messages from elements to the application in post order.
type Bus struct {
	Object

	q           *busQueue
	syncHandler BusSyncHandler
	watchStop   chan struct{}
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	b := &Bus{q: newBusQueue()}
	b.initObject(b, "", "bus", nil)
	runtime.AddCleanup(b, func(q *busQueue) { q.close() }, b.q)
	return b
}

// SetSyncHandler installs fn to run on the posting goroutine, replacing any
// previous handler. A nil fn removes it.
func (b *Bus) SetSyncHandler(fn BusSyncHandler) {
	b.mu.Lock()
	b.syncHandler = fn
	b.mu.Unlock()
}

// Post queues msg, taking ownership. It returns false when the bus is flushing.
func (b *Bus) Post(msg *Message) bool {
	b.q.mu.Lock()
	flushing := b.q.flushing
	b.q.mu.Unlock()
	if flushing {
		catBus.Debug(b, "dropping %s while flushing", msg.MessageType())
		msg.Unref()
		return false
	}

	b.mu.Lock()
	handler := b.syncHandler
	b.mu.Unlock()
	reply := BusPass
	if handler != nil {
		func() {
			defer func() {
				if r := recover(); r != nil {
					catBus.Error(b, "panic in sync handler: %v", r)
					reply = BusDrop
				}
			}()
			reply = handler(b, msg)
		}()
	}

	switch reply {
	case BusDrop:
		msg.Unref()
		return true
	case BusAsync:
		done := make(chan struct{})
		b.enqueue(queuedMessage{msg: msg, done: done})
		<-done
		return true
	}
	b.enqueue(queuedMessage{msg: msg})
	return true
}

func (b *Bus) enqueue(item queuedMessage) {
	b.q.mu.Lock()
	defer b.q.mu.Unlock()
	if b.q.flushing {
		if item.done != nil {
			close(item.done)
		}
		item.msg.Unref()
		return
	}
	catBus.Log(b, "queued %s", item.msg)
	b.q.items = append(b.q.items, item)
	b.q.wakeLocked()
}

// HavePending reports whether messages are queued.
func (b *Bus) HavePending() bool {
	b.q.mu.Lock()
	defer b.q.mu.Unlock()
	return len(b.q.items) > 0
}

// Peek returns a new reference to the first queued message without removing it.
func (b *Bus) Peek() *Message {
	b.q.mu.Lock()
	defer b.q.mu.Unlock()
	if len(b.q.items) == 0 {
		return nil
	}
	return b.q.items[0].msg.Ref()
}

// Pop removes the first message without waiting.
func (b *Bus) Pop() *Message { return b.q.pop(0, MessageAny, nil) }

// PopFiltered removes the first message of one of types without waiting. Messages
// before it are dropped.
func (b *Bus) PopFiltered(types MessageType) *Message { return b.q.pop(0, types, nil) }

// TimedPop waits up to timeout for a message. ClockTimeNone waits forever.
func (b *Bus) TimedPop(timeout ClockTime) *Message { return b.q.pop(timeout, MessageAny, nil) }

// TimedPopFiltered waits up to timeout for a message of one of types, dropping others.
func (b *Bus) TimedPopFiltered(timeout ClockTime, types MessageType) *Message {
	return b.q.pop(timeout, types, nil)
}

// SetFlushing drops queued messages and refuses new ones while flushing.
func (b *Bus) SetFlushing(flushing bool) {
	b.q.mu.Lock()
	b.q.flushing = flushing
	var dropped []queuedMessage
	if flushing {
		dropped = b.q.items
		b.q.items = nil
	}
	b.q.mu.Unlock()
	for _, item := range dropped {
		if item.done != nil {
			close(item.done)
		}
		item.msg.Unref()
	}
}

// AddWatch delivers queued messages to fn on a dedicated goroutine. The watch only
// holds a weak reference to the bus and ends once the bus is collected, fn returns
// false or RemoveWatch is called.
func (b *Bus) AddWatch(fn BusWatchFunc) error {
	b.mu.Lock()
	if b.watchStop != nil {
		b.mu.Unlock()
		return ErrBusHasWatch
	}
	stop := make(chan struct{})
	b.watchStop = stop
	b.mu.Unlock()

	wp := weak.Make(b)
	q := b.q
	go func() {
		for {
			msg := q.pop(ClockTimeNone, MessageAny, stop)
			if msg == nil {
				return
			}
			bus := wp.Value()
			if bus == nil {
				msg.Unref()
				return
			}
			keep := bus.dispatchWatch(fn, msg)
			if !keep {
				bus.mu.Lock()
				if bus.watchStop == stop {
					bus.watchStop = nil
				}
				bus.mu.Unlock()
				return
			}
		}
	}()
	return nil
}

func (b *Bus) dispatchWatch(fn BusWatchFunc, msg *Message) (keep bool) {
	defer msg.Unref()
	defer func() {
		if r := recover(); r != nil {
			catBus.Error(b, "panic in bus watch: %v", r)
			keep = true
		}
	}()
	return fn(b, msg)
}

// RemoveWatch stops the watch goroutine.
func (b *Bus) RemoveWatch() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.watchStop == nil {
		return false
	}
	close(b.watchStop)
	b.watchStop = nil
	return true
}
