package gst

import (
	"fmt"
	"sync"
)

// AllocatorSysmem is the name of the default allocator.
const AllocatorSysmem = "SystemMemory"

// AllocationParams tune an allocation.
type AllocationParams struct {
	Flags   MemoryFlags
	Align   int // alignment mask, e.g. 15 for 16 byte alignment
	Prefix  int
	Padding int
}

// AllocatorImpl produces memories. The optional MemoryMapper, MemorySharer,
// MemorySpanChecker and MemoryCopier interfaces override the default storage
// handling for memories the allocator created.
type AllocatorImpl interface {
	Alloc(a *Allocator, size int, params AllocationParams) (*Memory, error)
}

type MemoryMapper interface {
	Map(m *Memory, flags MapFlags) ([]byte, error)
	Unmap(m *Memory)
}

type MemorySharer interface {
	Share(m *Memory, offset, size int) *Memory
}

type MemorySpanChecker interface {
	IsSpan(m1, m2 *Memory) (int, bool)
}

type MemoryCopier interface {
	Copy(m *Memory, offset, size int) (*Memory, error)
}

// Allocator creates Memory through its AllocatorImpl.
type Allocator struct {
	name    string
	memType string
	impl    AllocatorImpl
}

// NewAllocator wraps impl. memType names the kind of memory produced, e.g.
// "SystemMemory" for memories mappable as plain bytes.
func NewAllocator(name, memType string, impl AllocatorImpl) *Allocator {
	return &Allocator{name: name, memType: memType, impl: impl}
}

// Name returns the allocator name.
func (a *Allocator) Name() string { return a.name }

// MemoryType returns the type of memory the allocator produces.
func (a *Allocator) MemoryType() string { return a.memType }

// Impl returns the allocator implementation.
func (a *Allocator) Impl() AllocatorImpl { return a.impl }

// Alloc allocates a memory of at least size bytes.
func (a *Allocator) Alloc(size int, params *AllocationParams) (*Memory, error) {
	var p AllocationParams
	if params != nil {
		p = *params
	}
	if a.impl == nil {
		return nil, fmt.Errorf("gst: allocator %s cannot allocate", a.name)
	}
	return a.impl.Alloc(a, size, p)
}

// WrapStorage builds a memory of this allocator over data. Implementations use it
// from Alloc and Share to attach their own storage.
func (a *Allocator) WrapStorage(flags MemoryFlags, data []byte, align, offset, size int, destroy func()) *Memory {
	storage := &memStorage{data: data, destroy: destroy}
	return newMemory(a, flags, nil, storage, len(data), align, offset, size)
}

func (a *Allocator) mapMemory(m *Memory, flags MapFlags) ([]byte, error) {
	if mapper, ok := a.impl.(MemoryMapper); ok {
		return mapper.Map(m, flags)
	}
	return m.bytes(), nil
}

func (a *Allocator) unmapMemory(m *Memory) {
	if mapper, ok := a.impl.(MemoryMapper); ok {
		mapper.Unmap(m)
	}
}

func (a *Allocator) shareMemory(m *Memory, offset, size int) *Memory {
	if sharer, ok := a.impl.(MemorySharer); ok {
		return sharer.Share(m, offset, size)
	}
	parent := m.root()
	flags := m.MemoryFlags() | MemoryFlagReadonly
	if m.IsWritable() && !m.HasFlags(MiniObjectFlagLockReadonly) {
		flags = m.MemoryFlags()
	}
	return newMemory(a, flags&^MemoryFlagNoShare, parent, m.storage, m.maxsize, m.align, m.offset+offset, size)
}

func (a *Allocator) isSpan(m1, m2 *Memory) (int, bool) {
	if checker, ok := a.impl.(MemorySpanChecker); ok {
		return checker.IsSpan(m1, m2)
	}
	if m1.storage != m2.storage {
		return 0, false
	}
	if m1.offset+m1.size != m2.offset {
		return 0, false
	}
	return m1.offset - m1.root().offset, true
}

func (a *Allocator) copyMemory(m *Memory, offset, size int) (*Memory, error) {
	if copier, ok := a.impl.(MemoryCopier); ok {
		return copier.Copy(m, offset, size)
	}
	info, err := m.Map(MapRead)
	if err != nil {
		return nil, err
	}
	defer info.Unmap()
	out, err := DefaultAllocator().Alloc(size, &AllocationParams{Align: m.align})
	if err != nil {
		return nil, err
	}
	copy(out.bytes(), info.Data[offset:offset+size])
	return out, nil
}

// sysmemAllocator backs memories with Go-managed byte slices.
type sysmemAllocator struct{}

func (sysmemAllocator) Alloc(a *Allocator, size int, params AllocationParams) (*Memory, error) {
	if size < 0 {
		return nil, fmt.Errorf("gst: negative allocation size %d", size)
	}
	maxsize := params.Prefix + size + params.Padding
	data := make([]byte, maxsize)
	return a.WrapStorage(params.Flags|MemoryFlagZeroPrefixed|MemoryFlagZeroPadded, data, params.Align, params.Prefix, size, nil), nil
}

var (
	sysmem           = NewAllocator(AllocatorSysmem, AllocatorSysmem, sysmemAllocator{})
	wrappedAllocator = NewAllocator("WrappedMemory", AllocatorSysmem, nil)

	allocators = struct {
		sync.RWMutex
		byName map[string]*Allocator
		def    *Allocator
	}{byName: map[string]*Allocator{AllocatorSysmem: sysmem}, def: sysmem}
)

// DefaultAllocator returns the allocator used when none is requested.
func DefaultAllocator() *Allocator {
	allocators.RLock()
	defer allocators.RUnlock()
	return allocators.def
}

// SetDefaultAllocator replaces the default allocator.
func SetDefaultAllocator(a *Allocator) {
	allocators.Lock()
	allocators.def = a
	allocators.Unlock()
}

// RegisterAllocator makes a findable by name.
func RegisterAllocator(name string, a *Allocator) {
	allocators.Lock()
	allocators.byName[name] = a
	allocators.Unlock()
}

// FindAllocator looks up an allocator. The empty name returns the default allocator.
func FindAllocator(name string) (*Allocator, bool) {
	if name == "" {
		return DefaultAllocator(), true
	}
	allocators.RLock()
	defer allocators.RUnlock()
	a, ok := allocators.byName[name]
	return a, ok
}

// AllocMemory allocates from the default allocator.
func AllocMemory(size int) *Memory {
	m, err := DefaultAllocator().Alloc(size, nil)
	if err != nil {
		panic(err)
	}
	return m
}
