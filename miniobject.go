package gst

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
)

// MiniObjectFlags are the flag bits shared by every MiniObject. Types define their
// own flags starting at MiniObjectFlagLast.
type MiniObjectFlags uint32

const (
	MiniObjectFlagLockable     MiniObjectFlags = 1 << 0
	MiniObjectFlagLockReadonly MiniObjectFlags = 1 << 1
	MiniObjectFlagMayBeLeaked  MiniObjectFlags = 1 << 2
	MiniObjectFlagLast         MiniObjectFlags = 1 << 4
)

// LockFlags select the access requested from Lock.
type LockFlags uint32

const (
	LockFlagRead      LockFlags = 1 << 0
	LockFlagWrite     LockFlags = 1 << 1
	LockFlagExclusive LockFlags = 1 << 2

	LockFlagReadWrite = LockFlagRead | LockFlagWrite
)

// MiniObjectHandle is implemented by every refcounted type through the embedded MiniObject.
type MiniObjectHandle interface {
	AsMiniObject() *MiniObject
}

type qdataItem struct {
	quark   Quark
	value   any
	destroy func(any)
}

// MiniObject is the refcounted core embedded in Buffer, Caps, Event and friends.
//
// A holder owning the only reference may mutate the object. Any other holder sees a
// shared, read-only object and must go through copy-on-write to change it.
type MiniObject struct {
	typ      Type
	refcount atomic.Int32
	flags    atomic.Uint32

	// lockable objects: shares counts exclusive holders, readers/writers count maps.
	shares  atomic.Int32
	readers atomic.Int32
	writers atomic.Int32

	mu       sync.Mutex
	qdata    []qdataItem
	notifies []func()

	dispose func() bool
	free    func()
}

func (o *MiniObject) init(t Type, flags MiniObjectFlags, dispose func() bool, free func()) {
	o.typ = t
	o.refcount.Store(1)
	o.flags.Store(uint32(flags))
	o.dispose = dispose
	o.free = free
	t.info().live.Add(1)
	tracersMiniObjectCreated(o)
}

// AsMiniObject returns the embedded MiniObject.
func (o *MiniObject) AsMiniObject() *MiniObject { return o }

// Type returns the runtime type tag.
func (o *MiniObject) Type() Type { return o.typ }

// RefCount returns the current reference count. It reads 0 once the object is freed.
func (o *MiniObject) RefCount() int32 { return o.refcount.Load() }

func (o *MiniObject) ref() {
	for {
		n := o.refcount.Load()
		if n <= 0 {
			panic(fmt.Sprintf("gst: ref of freed %s", o.typ))
		}
		if n == math.MaxInt32 {
			panic(fmt.Sprintf("gst: refcount overflow on %s", o.typ))
		}
		if o.refcount.CompareAndSwap(n, n+1) {
			return
		}
	}
}

// Unref drops one reference. The last reference disposes the object.
func (o *MiniObject) Unref() {
	n := o.refcount.Add(-1)
	if n > 0 {
		return
	}
	if n < 0 {
		panic(fmt.Sprintf("gst: unref of freed %s", o.typ))
	}
	if o.dispose != nil && !o.dispose() {
		// resurrected, the dispose hook took a new reference
		return
	}
	o.mu.Lock()
	notifies := o.notifies
	qdata := o.qdata
	o.notifies = nil
	o.qdata = nil
	o.mu.Unlock()
	for _, fn := range notifies {
		fn()
	}
	for _, item := range qdata {
		if item.destroy != nil {
			item.destroy(item.value)
		}
	}
	if o.free != nil {
		o.free()
	}
	o.typ.info().live.Add(-1)
	tracersMiniObjectDestroyed(o)
}

// Flags returns the current flag bits.
func (o *MiniObject) Flags() MiniObjectFlags { return MiniObjectFlags(o.flags.Load()) }

// HasFlags reports whether all bits in f are set.
func (o *MiniObject) HasFlags(f MiniObjectFlags) bool { return o.Flags()&f == f }

func (o *MiniObject) setFlags(f MiniObjectFlags) {
	for {
		old := o.flags.Load()
		if o.flags.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

func (o *MiniObject) unsetFlags(f MiniObjectFlags) {
	for {
		old := o.flags.Load()
		if o.flags.CompareAndSwap(old, old&^uint32(f)) {
			return
		}
	}
}

// SetReadonly sets or clears LOCK_READONLY. A readonly object never becomes writable.
func (o *MiniObject) SetReadonly(readonly bool) {
	if readonly {
		o.setFlags(MiniObjectFlagLockReadonly)
	} else {
		o.unsetFlags(MiniObjectFlagLockReadonly)
	}
}

// SetMayBeLeaked marks objects that are expected to outlive Deinit, silencing the leaks tracer.
func (o *MiniObject) SetMayBeLeaked() { o.setFlags(MiniObjectFlagMayBeLeaked) }

// IsWritable reports whether the caller may mutate the object in place.
func (o *MiniObject) IsWritable() bool {
	flags := o.Flags()
	if flags&MiniObjectFlagLockReadonly != 0 {
		return false
	}
	if flags&MiniObjectFlagLockable != 0 {
		return o.shares.Load() <= 1 && o.readers.Load() == 0 && o.writers.Load() <= 1
	}
	return o.refcount.Load() == 1
}

// Lock takes a map lock on a lockable object. Exclusive locks mark the caller as a
// sharing parent. It returns false when the requested access is not allowed.
func (o *MiniObject) Lock(flags LockFlags) bool {
	if flags&LockFlagExclusive != 0 {
		o.shares.Add(1)
	}
	switch {
	case flags&LockFlagWrite != 0:
		if o.HasFlags(MiniObjectFlagLockReadonly) || o.readers.Load() > 0 {
			o.undoExclusive(flags)
			return false
		}
		if o.HasFlags(MiniObjectFlagLockable) && o.shares.Load() > 1 {
			o.undoExclusive(flags)
			return false
		}
		if !o.writers.CompareAndSwap(0, 1) {
			o.undoExclusive(flags)
			return false
		}
	case flags&LockFlagRead != 0:
		if o.writers.Load() > 0 {
			o.undoExclusive(flags)
			return false
		}
		o.readers.Add(1)
	}
	return true
}

func (o *MiniObject) undoExclusive(flags LockFlags) {
	if flags&LockFlagExclusive != 0 {
		o.shares.Add(-1)
	}
}

// Unlock releases a lock taken with the same flags.
func (o *MiniObject) Unlock(flags LockFlags) {
	switch {
	case flags&LockFlagWrite != 0:
		o.writers.Store(0)
	case flags&LockFlagRead != 0:
		o.readers.Add(-1)
	}
	o.undoExclusive(flags)
}

// SetQData attaches value under quark, replacing (and destroying) an older value.
func (o *MiniObject) SetQData(quark Quark, value any, destroy func(any)) {
	o.mu.Lock()
	var old *qdataItem
	for i := range o.qdata {
		if o.qdata[i].quark == quark {
			item := o.qdata[i]
			old = &item
			if value == nil {
				o.qdata = append(o.qdata[:i], o.qdata[i+1:]...)
			} else {
				o.qdata[i] = qdataItem{quark: quark, value: value, destroy: destroy}
			}
			break
		}
	}
	if old == nil && value != nil {
		o.qdata = append(o.qdata, qdataItem{quark: quark, value: value, destroy: destroy})
	}
	o.mu.Unlock()
	if old != nil && old.destroy != nil {
		old.destroy(old.value)
	}
}

// QData returns the value stored under quark.
func (o *MiniObject) QData(quark Quark) (any, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, item := range o.qdata {
		if item.quark == quark {
			return item.value, true
		}
	}
	return nil, false
}

// StealQData removes and returns the value stored under quark without destroying it.
func (o *MiniObject) StealQData(quark Quark) (any, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, item := range o.qdata {
		if item.quark == quark {
			o.qdata = append(o.qdata[:i], o.qdata[i+1:]...)
			return item.value, true
		}
	}
	return nil, false
}

// AddFinalizeNotify registers fn to run once the object is freed.
func (o *MiniObject) AddFinalizeNotify(fn func()) {
	o.mu.Lock()
	o.notifies = append(o.notifies, fn)
	o.mu.Unlock()
}

func (o *MiniObject) mustBeWritable() {
	if !o.IsWritable() {
		panic(fmt.Errorf("%w: %s (refcount %d)", ErrNotWritable, o.typ, o.RefCount()))
	}
}

// Downcast returns h as T when its runtime type matches.
func Downcast[T MiniObjectHandle](h MiniObjectHandle) (T, bool) {
	var zero T
	if h == nil {
		return zero, false
	}
	t, ok := h.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// IsA reports whether h carries the runtime type tag t.
func IsA(h MiniObjectHandle, t Type) bool {
	return h != nil && h.AsMiniObject().Type() == t
}

// Replace swaps the handle in *slot for n, taking a reference on n and dropping the old one.
// It reports whether the slot changed.
func Replace[T interface {
	comparable
	MiniObjectHandle
}](slot *T, n T) bool {
	var zero T
	old := *slot
	if old == n {
		return false
	}
	if n != zero {
		n.AsMiniObject().ref()
	}
	*slot = n
	if old != zero {
		old.AsMiniObject().Unref()
	}
	return true
}

// Take stores n in *slot without taking a new reference and drops the old one.
func Take[T interface {
	comparable
	MiniObjectHandle
}](slot *T, n T) bool {
	var zero T
	old := *slot
	if old == n {
		if n != zero {
			n.AsMiniObject().Unref()
		}
		return false
	}
	*slot = n
	if old != zero {
		old.AsMiniObject().Unref()
	}
	return true
}
