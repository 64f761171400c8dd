package gst

import (
	"fmt"
	"sync"
)

// MemoryFlags describe properties of a Memory region.
type MemoryFlags uint32

const (
	MemoryFlagReadonly             = MemoryFlags(MiniObjectFlagLockReadonly)
	MemoryFlagNoShare              = MemoryFlags(MiniObjectFlagLast << 0)
	MemoryFlagZeroPrefixed         = MemoryFlags(MiniObjectFlagLast << 1)
	MemoryFlagZeroPadded           = MemoryFlags(MiniObjectFlagLast << 2)
	MemoryFlagPhysicallyContiguous = MemoryFlags(MiniObjectFlagLast << 3)
	MemoryFlagNotMappable          = MemoryFlags(MiniObjectFlagLast << 4)
)

// MapFlags select the access of a mapping.
type MapFlags uint32

const (
	MapRead  = MapFlags(LockFlagRead)
	MapWrite = MapFlags(LockFlagWrite)

	MapReadWrite = MapRead | MapWrite
)

// memStorage is the byte region shared between a memory and its sub-memories.
type memStorage struct {
	data    []byte
	destroy func()
	once    sync.Once
}

// Memory is a refcounted byte region owned by an Allocator. Sub-memories created with
// Share reference the same storage through an offset/size window.
type Memory struct {
	MiniObject

	allocator *Allocator
	parent    *Memory
	storage   *memStorage
	maxsize   int
	align     int
	offset    int
	size      int
}

func newMemory(alloc *Allocator, flags MemoryFlags, parent *Memory, storage *memStorage, maxsize, align, offset, size int) *Memory {
	m := &Memory{
		allocator: alloc,
		parent:    parent,
		storage:   storage,
		maxsize:   maxsize,
		align:     align,
		offset:    offset,
		size:      size,
	}
	if parent != nil {
		parent.ref()
		parent.Lock(LockFlagExclusive)
	}
	m.init(TypeMemory, MiniObjectFlags(flags)|MiniObjectFlagLockable, nil, m.release)
	return m
}

func (m *Memory) release() {
	if m.parent != nil {
		m.parent.Unlock(LockFlagExclusive)
		m.parent.Unref()
		return
	}
	if m.storage != nil && m.storage.destroy != nil {
		m.storage.once.Do(m.storage.destroy)
	}
}

// NewMemoryWrapped wraps data without copying. destroy, when set, runs once the
// memory and every sub-memory derived from it are freed.
func NewMemoryWrapped(flags MemoryFlags, data []byte, offset, size int, destroy func()) *Memory {
	if size < 0 {
		size = len(data) - offset
	}
	if offset < 0 || offset+size > len(data) {
		panic(fmt.Sprintf("gst: wrapped memory window [%d,%d) outside %d bytes", offset, offset+size, len(data)))
	}
	storage := &memStorage{data: data, destroy: destroy}
	return newMemory(wrappedAllocator, flags, nil, storage, len(data), 0, offset, size)
}

// NewMemoryFromSlice wraps data as a writable memory covering the whole slice.
func NewMemoryFromSlice(data []byte) *Memory {
	return NewMemoryWrapped(0, data, 0, len(data), nil)
}

// NewMemoryFromReadonlySlice wraps data as a memory that can never be mapped for writing.
func NewMemoryFromReadonlySlice(data []byte) *Memory {
	return NewMemoryWrapped(MemoryFlagReadonly, data, 0, len(data), nil)
}

// Ref takes another reference.
func (m *Memory) Ref() *Memory { m.ref(); return m }

// Allocator returns the allocator that produced the memory.
func (m *Memory) Allocator() *Allocator { return m.allocator }

// Parent returns the memory m was shared from, if any.
func (m *Memory) Parent() *Memory { return m.parent }

// Size returns the number of valid bytes.
func (m *Memory) Size() int { return m.size }

// Offset returns the offset of the valid bytes inside the storage.
func (m *Memory) Offset() int { return m.offset }

// MaxSize returns the size of the underlying storage.
func (m *Memory) MaxSize() int { return m.maxsize }

// Align returns the alignment mask requested at allocation.
func (m *Memory) Align() int { return m.align }

// MemoryFlags returns the memory specific flags.
func (m *Memory) MemoryFlags() MemoryFlags { return MemoryFlags(m.Flags()) }

// Resize moves the window start by offset bytes and sets the new size.
func (m *Memory) Resize(offset, size int) {
	m.mustBeWritable()
	if m.offset+offset < 0 || m.offset+offset+size > m.maxsize {
		panic(fmt.Sprintf("gst: resize [%d,%d) outside maxsize %d", m.offset+offset, m.offset+offset+size, m.maxsize))
	}
	m.offset += offset
	m.size = size
}

// MapInfo is an active mapping of a Memory. Release it with Unmap.
type MapInfo struct {
	Memory *Memory
	Flags  MapFlags
	Data   []byte
	done   bool
}

// Map maps the memory for the requested access.
func (m *Memory) Map(flags MapFlags) (*MapInfo, error) {
	if m.HasFlags(MiniObjectFlags(MemoryFlagNotMappable)) {
		return nil, fmt.Errorf("%w: memory is not mappable", ErrMapFailed)
	}
	if !m.Lock(LockFlags(flags)) {
		return nil, fmt.Errorf("%w: lock for %v refused", ErrMapFailed, flags)
	}
	data, err := m.allocator.mapMemory(m, flags)
	if err != nil {
		m.Unlock(LockFlags(flags))
		return nil, err
	}
	return &MapInfo{Memory: m, Flags: flags, Data: data}, nil
}

// Unmap releases the mapping.
func (mi *MapInfo) Unmap() {
	if mi == nil || mi.done {
		return
	}
	mi.done = true
	mi.Memory.allocator.unmapMemory(mi.Memory)
	mi.Memory.Unlock(LockFlags(mi.Flags))
}

// Share returns a sub-memory referencing the same storage from offset for size bytes.
// A negative size extends to the end of m.
func (m *Memory) Share(offset, size int) (*Memory, error) {
	if m.HasFlags(MiniObjectFlags(MemoryFlagNoShare)) {
		return nil, fmt.Errorf("gst: memory cannot be shared")
	}
	if size < 0 {
		size = m.size - offset
	}
	if offset < 0 || offset+size > m.size {
		return nil, fmt.Errorf("gst: share window [%d,%d) outside %d bytes", offset, offset+size, m.size)
	}
	return m.allocator.shareMemory(m, offset, size), nil
}

// Copy returns a new memory holding a copy of size bytes from offset. A negative size
// copies to the end.
func (m *Memory) Copy(offset, size int) (*Memory, error) {
	if size < 0 {
		size = m.size - offset
	}
	if offset < 0 || offset+size > m.size {
		return nil, fmt.Errorf("gst: copy window [%d,%d) outside %d bytes", offset, offset+size, m.size)
	}
	return m.allocator.copyMemory(m, offset, size)
}

// IsSpan reports whether m and next are contiguous views of the same parent. On
// success it returns the offset of m inside the parent.
func (m *Memory) IsSpan(next *Memory) (int, bool) {
	if m.allocator != next.allocator {
		return 0, false
	}
	return m.allocator.isSpan(m, next)
}

// root returns the memory owning the storage.
func (m *Memory) root() *Memory {
	r := m
	for r.parent != nil {
		r = r.parent
	}
	return r
}

// bytes returns the valid window without locking; used for merges and copies.
func (m *Memory) bytes() []byte {
	return m.storage.data[m.offset : m.offset+m.size]
}

func (m *Memory) String() string {
	return fmt.Sprintf("memory(%s, offset=%d, size=%d, maxsize=%d)", m.allocator.Name(), m.offset, m.size, m.maxsize)
}
