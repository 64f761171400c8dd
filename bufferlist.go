package gst

import (
	"fmt"
	"iter"
)

// BufferList is an ordered group of buffers pushed in one call.
type BufferList struct {
	MiniObject

	buffers []*Buffer
}

// BufferListMut is a proven-writable view on a BufferList.
type BufferListMut struct {
	*BufferList
}

// NewBufferList returns an empty list with room for capacity buffers.
func NewBufferList(capacity int) *BufferListMut {
	l := &BufferList{buffers: make([]*Buffer, 0, capacity)}
	l.init(TypeBufferList, 0, nil, l.freeList)
	return &BufferListMut{l}
}

func (l *BufferList) freeList() {
	for _, b := range l.buffers {
		b.Unref()
	}
	l.buffers = nil
}

// Ref takes another reference.
func (l *BufferList) Ref() *BufferList { l.ref(); return l }

// GetMut returns a mutable view if l is writable.
func (l *BufferList) GetMut() (*BufferListMut, bool) {
	if !l.IsWritable() {
		return nil, false
	}
	return &BufferListMut{l}, true
}

// MakeWritable consumes the handle and returns a writable list, copying when shared.
func (l *BufferList) MakeWritable() *BufferListMut {
	if m, ok := l.GetMut(); ok {
		return m
	}
	c := l.Copy()
	l.Unref()
	return c
}

// Copy returns a new list referencing the same buffers.
func (l *BufferList) Copy() *BufferListMut {
	c := NewBufferList(len(l.buffers))
	for _, b := range l.buffers {
		c.buffers = append(c.buffers, b.Ref())
	}
	return c
}

// CopyDeep returns a new list with deep copies of every buffer.
func (l *BufferList) CopyDeep() *BufferListMut {
	c := NewBufferList(len(l.buffers))
	for _, b := range l.buffers {
		c.buffers = append(c.buffers, b.CopyDeep().Buffer)
	}
	return c
}

// Len returns the number of buffers.
func (l *BufferList) Len() int { return len(l.buffers) }

// Get returns buffer i without taking a reference.
func (l *BufferList) Get(i int) *Buffer { return l.buffers[i] }

// All iterates the buffers in order.
func (l *BufferList) All() iter.Seq2[int, *Buffer] {
	return func(yield func(int, *Buffer) bool) {
		for i, b := range l.buffers {
			if !yield(i, b) {
				return
			}
		}
	}
}

// CalculateSize returns the sum of buffer sizes.
func (l *BufferList) CalculateSize() int {
	n := 0
	for _, b := range l.buffers {
		n += b.Size()
	}
	return n
}

// Insert takes ownership of b and inserts it at idx (-1 appends).
func (l *BufferListMut) Insert(idx int, b *Buffer) {
	l.mustBeWritable()
	if idx < 0 || idx >= len(l.buffers) {
		l.buffers = append(l.buffers, b)
		return
	}
	l.buffers = append(l.buffers, nil)
	copy(l.buffers[idx+1:], l.buffers[idx:])
	l.buffers[idx] = b
}

// Add takes ownership of b and appends it.
func (l *BufferListMut) Add(b *Buffer) { l.Insert(-1, b) }

// Remove drops length buffers starting at idx.
func (l *BufferListMut) Remove(idx, length int) {
	l.mustBeWritable()
	if idx < 0 || idx+length > len(l.buffers) {
		panic(fmt.Sprintf("gst: remove [%d,%d) outside list of %d", idx, idx+length, len(l.buffers)))
	}
	for _, b := range l.buffers[idx : idx+length] {
		b.Unref()
	}
	l.buffers = append(l.buffers[:idx], l.buffers[idx+length:]...)
}

// GetWritable makes buffer i writable in place and returns it.
func (l *BufferListMut) GetWritable(i int) *BufferMut {
	l.mustBeWritable()
	m := l.buffers[i].MakeWritable()
	l.buffers[i] = m.Buffer
	return m
}

// ForeachMut calls fn with each buffer made writable. fn returns the buffer to keep
// (nil removes it) and whether to continue.
func (l *BufferListMut) ForeachMut(fn func(i int, b *BufferMut) (*Buffer, bool)) {
	l.mustBeWritable()
	kept := l.buffers[:0]
	stop := false
	for i, b := range l.buffers {
		if stop {
			kept = append(kept, b)
			continue
		}
		nb, cont := fn(i, b.MakeWritable())
		if nb != nil {
			kept = append(kept, nb)
		}
		stop = !cont
	}
	clear(l.buffers[len(kept):])
	l.buffers = kept
}

func (l *BufferList) String() string {
	return fmt.Sprintf("bufferlist: %p, %d buffers, %d bytes", l, len(l.buffers), l.CalculateSize())
}
