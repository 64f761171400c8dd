package gst

import (
	"bytes"
	"fmt"
	"strings"
)

// BufferFlags describe the content of a Buffer.
type BufferFlags uint32

const (
	BufferFlagLive         = BufferFlags(MiniObjectFlagLast << 0)
	BufferFlagDecodeOnly   = BufferFlags(MiniObjectFlagLast << 1)
	BufferFlagDiscont      = BufferFlags(MiniObjectFlagLast << 2)
	BufferFlagResync       = BufferFlags(MiniObjectFlagLast << 3)
	BufferFlagCorrupted    = BufferFlags(MiniObjectFlagLast << 4)
	BufferFlagMarker       = BufferFlags(MiniObjectFlagLast << 5)
	BufferFlagHeader       = BufferFlags(MiniObjectFlagLast << 6)
	BufferFlagGap          = BufferFlags(MiniObjectFlagLast << 7)
	BufferFlagDroppable    = BufferFlags(MiniObjectFlagLast << 8)
	BufferFlagDeltaUnit    = BufferFlags(MiniObjectFlagLast << 9)
	BufferFlagTagMemory    = BufferFlags(MiniObjectFlagLast << 10)
	BufferFlagSyncAfter    = BufferFlags(MiniObjectFlagLast << 11)
	BufferFlagNonDroppable = BufferFlags(MiniObjectFlagLast << 12)
	BufferFlagLast         = BufferFlags(MiniObjectFlagLast << 16)

	bufferFlagsMask = BufferFlagLive | BufferFlagDecodeOnly | BufferFlagDiscont | BufferFlagResync |
		BufferFlagCorrupted | BufferFlagMarker | BufferFlagHeader | BufferFlagGap | BufferFlagDroppable |
		BufferFlagDeltaUnit | BufferFlagTagMemory | BufferFlagSyncAfter | BufferFlagNonDroppable
)

var bufferFlagNames = []struct {
	flag BufferFlags
	name string
}{
	{BufferFlagLive, "live"},
	{BufferFlagDecodeOnly, "decode-only"},
	{BufferFlagDiscont, "discont"},
	{BufferFlagResync, "resync"},
	{BufferFlagCorrupted, "corrupted"},
	{BufferFlagMarker, "marker"},
	{BufferFlagHeader, "header"},
	{BufferFlagGap, "gap"},
	{BufferFlagDroppable, "droppable"},
	{BufferFlagDeltaUnit, "delta-unit"},
	{BufferFlagTagMemory, "tag-memory"},
	{BufferFlagSyncAfter, "sync-after"},
	{BufferFlagNonDroppable, "non-droppable"},
}

func (f BufferFlags) String() string {
	var parts []string
	for _, n := range bufferFlagNames {
		if f&n.flag != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// BufferCopyFlags select what CopyInto transfers.
type BufferCopyFlags uint32

const (
	BufferCopyFlags_     BufferCopyFlags = 1 << 0
	BufferCopyTimestamps BufferCopyFlags = 1 << 1
	BufferCopyMeta       BufferCopyFlags = 1 << 2
	BufferCopyMemory     BufferCopyFlags = 1 << 3
	BufferCopyMerge      BufferCopyFlags = 1 << 4
	BufferCopyDeep       BufferCopyFlags = 1 << 5

	BufferCopyMetadata = BufferCopyFlags_ | BufferCopyTimestamps | BufferCopyMeta
	BufferCopyAll      = BufferCopyMetadata | BufferCopyMemory
)

// BufferOffsetNone marks an unset offset.
const BufferOffsetNone = ^uint64(0)

// Buffer is an ordered list of Memory segments with timing and metadata.
//
// A *Buffer handle only inspects. Mutation goes through a *BufferMut obtained from
// MakeWritable or GetMut.
type Buffer struct {
	MiniObject

	pool      *BufferPool
	pts       ClockTime
	dts       ClockTime
	duration  ClockTime
	offset    uint64
	offsetEnd uint64
	memories  []*Memory
	metas     []*Meta
}

// BufferMut is a proven-writable view on a Buffer.
type BufferMut struct {
	*Buffer
}

func newBuffer() *Buffer {
	b := &Buffer{
		pts:       ClockTimeNone,
		dts:       ClockTimeNone,
		duration:  ClockTimeNone,
		offset:    BufferOffsetNone,
		offsetEnd: BufferOffsetNone,
	}
	b.init(TypeBuffer, 0, b.disposeBuffer, b.freeBuffer)
	return b
}

// NewBuffer returns an empty buffer.
func NewBuffer() *BufferMut { return &BufferMut{newBuffer()} }

// NewBufferWithSize allocates a zeroed buffer of size bytes from the default allocator.
func NewBufferWithSize(size int) *BufferMut {
	b := NewBuffer()
	if size > 0 {
		b.AppendMemory(AllocMemory(size))
	}
	return b
}

// NewBufferAllocate allocates size bytes from alloc (the default allocator when nil).
func NewBufferAllocate(alloc *Allocator, size int, params *AllocationParams) (*BufferMut, error) {
	if alloc == nil {
		alloc = DefaultAllocator()
	}
	b := NewBuffer()
	if size > 0 {
		m, err := alloc.Alloc(size, params)
		if err != nil {
			b.Unref()
			return nil, fmt.Errorf("allocate buffer: %w", err)
		}
		b.AppendMemory(m)
	}
	return b, nil
}

// NewBufferFromSlice wraps data without copying.
func NewBufferFromSlice(data []byte) *BufferMut {
	b := NewBuffer()
	b.AppendMemory(NewMemoryFromSlice(data))
	return b
}

// NewBufferFromReadonlySlice wraps data; the memory can never be mapped writable.
func NewBufferFromReadonlySlice(data []byte) *BufferMut {
	b := NewBuffer()
	b.AppendMemory(NewMemoryFromReadonlySlice(data))
	return b
}

func (b *Buffer) disposeBuffer() bool {
	pool := b.pool
	if pool == nil {
		return true
	}
	b.pool = nil
	b.refcount.Store(1)
	pool.ReleaseBuffer(b)
	return false
}

func (b *Buffer) freeBuffer() {
	for _, m := range b.metas {
		m.info.free(m, b)
	}
	b.metas = nil
	for _, mem := range b.memories {
		mem.Unlock(LockFlagExclusive)
		mem.Unref()
	}
	b.memories = nil
}

// Ref takes another reference, making the buffer shared.
func (b *Buffer) Ref() *Buffer { b.ref(); return b }

// GetMut returns a mutable view if b is writable.
func (b *Buffer) GetMut() (*BufferMut, bool) {
	if !b.IsWritable() {
		return nil, false
	}
	return &BufferMut{b}, true
}

// MakeWritable consumes the handle and returns a writable buffer, copying the
// contents when b is shared. b must not be used afterwards.
func (b *Buffer) MakeWritable() *BufferMut {
	if m, ok := b.GetMut(); ok {
		return m
	}
	c := b.Copy()
	b.Unref()
	return c
}

// Copy returns a new buffer sharing b's memories, with flags, timestamps and metas copied.
func (b *Buffer) Copy() *BufferMut {
	dst := NewBuffer()
	if err := dst.CopyInto(b, BufferCopyAll, 0, -1); err != nil {
		panic(err)
	}
	return dst
}

// CopyDeep returns a new buffer with its own copy of the data.
func (b *Buffer) CopyDeep() *BufferMut {
	dst := NewBuffer()
	if err := dst.CopyInto(b, BufferCopyAll|BufferCopyDeep, 0, -1); err != nil {
		panic(err)
	}
	return dst
}

// CopyRegion copies the selected parts of b restricted to [offset, offset+size).
func (b *Buffer) CopyRegion(flags BufferCopyFlags, offset, size int) (*BufferMut, error) {
	dst := NewBuffer()
	if err := dst.CopyInto(b, flags, offset, size); err != nil {
		dst.Unref()
		return nil, err
	}
	return dst, nil
}

// Pool returns the pool the buffer returns to on release.
func (b *Buffer) Pool() *BufferPool { return b.pool }

func (b *Buffer) PTS() ClockTime      { return b.pts }
func (b *Buffer) DTS() ClockTime      { return b.dts }
func (b *Buffer) Duration() ClockTime { return b.duration }
func (b *Buffer) Offset() uint64      { return b.offset }
func (b *Buffer) OffsetEnd() uint64   { return b.offsetEnd }

// DTSOrPTS returns the DTS when set, the PTS otherwise.
func (b *Buffer) DTSOrPTS() ClockTime {
	if b.dts.IsValid() {
		return b.dts
	}
	return b.pts
}

// BufferFlags returns the buffer specific flags.
func (b *Buffer) BufferFlags() BufferFlags { return BufferFlags(b.Flags()) & bufferFlagsMask }

// HasBufferFlags reports whether every bit of f is set.
func (b *Buffer) HasBufferFlags(f BufferFlags) bool { return b.BufferFlags()&f == f }

// Size returns the total number of bytes.
func (b *Buffer) Size() int {
	n := 0
	for _, m := range b.memories {
		n += m.size
	}
	return n
}

// NMemory returns the number of memory segments.
func (b *Buffer) NMemory() int { return len(b.memories) }

// PeekMemory returns memory idx without taking a reference.
func (b *Buffer) PeekMemory(idx int) *Memory { return b.memories[idx] }

// Memory returns memory idx with a new reference.
func (b *Buffer) Memory(idx int) *Memory { return b.memories[idx].Ref() }

// AllMemory returns all memories merged into one, with a new reference.
func (b *Buffer) AllMemory() *Memory {
	switch len(b.memories) {
	case 0:
		return nil
	case 1:
		return b.memories[0].Ref()
	}
	return mergeMemories(b.memories)
}

// IsAllMemoryWritable reports whether every memory can be mapped for writing.
func (b *Buffer) IsAllMemoryWritable() bool {
	for _, m := range b.memories {
		if !m.IsWritable() {
			return false
		}
	}
	return true
}

func mergeMemories(mems []*Memory) *Memory {
	if len(mems) > 1 {
		first := mems[0]
		contiguous := true
		for i := 1; i < len(mems) && contiguous; i++ {
			_, contiguous = mems[i-1].IsSpan(mems[i])
		}
		if contiguous {
			size := 0
			for _, m := range mems {
				size += m.size
			}
			if shared, err := first.root().Share(first.offset-first.root().offset, size); err == nil {
				return shared
			}
		}
	}
	size := 0
	for _, m := range mems {
		size += m.size
	}
	out := AllocMemory(size)
	dst := out.bytes()
	for _, m := range mems {
		n := copy(dst, m.bytes())
		dst = dst[n:]
	}
	return out
}

// Extract copies bytes starting at offset into dst and returns the number copied.
func (b *Buffer) Extract(offset int, dst []byte) int {
	copied := 0
	for _, m := range b.memories {
		if len(dst) == 0 {
			break
		}
		data := m.bytes()
		if offset >= len(data) {
			offset -= len(data)
			continue
		}
		n := copy(dst, data[offset:])
		dst = dst[n:]
		copied += n
		offset = 0
	}
	return copied
}

// Bytes returns a copy of the whole content.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, b.Size())
	b.Extract(0, out)
	return out
}

// Memcmp compares the content at offset with data.
func (b *Buffer) Memcmp(offset int, data []byte) int {
	chunk := make([]byte, len(data))
	n := b.Extract(offset, chunk)
	if n < len(data) {
		return -1
	}
	return bytes.Compare(chunk, data)
}

// BufferMap is a mapped view of a buffer's content. Unmap releases it.
type BufferMap struct {
	buffer *Buffer
	mem    *Memory
	info   *MapInfo
	Data   []byte
}

// Buffer returns the mapped buffer.
func (m *BufferMap) Buffer() *Buffer { return m.buffer }

// Unmap releases the mapping.
func (m *BufferMap) Unmap() {
	if m == nil || m.info == nil {
		return
	}
	m.info.Unmap()
	m.info = nil
	m.mem.Unref()
	m.Data = nil
}

// MapReadable maps the whole buffer for reading.
func (b *Buffer) MapReadable() (*BufferMap, error) {
	mem := b.AllMemory()
	if mem == nil {
		return &BufferMap{buffer: b, Data: []byte{}}, nil
	}
	info, err := mem.Map(MapRead)
	if err != nil {
		mem.Unref()
		return nil, err
	}
	return &BufferMap{buffer: b, mem: mem, info: info, Data: info.Data}, nil
}

// MapWritable maps the whole buffer for writing. Memories are merged and copies are
// made of memories that are shared with other buffers.
func (b *BufferMut) MapWritable() (*BufferMap, error) {
	b.mustBeWritable()
	if len(b.memories) == 0 {
		return &BufferMap{buffer: b.Buffer, Data: []byte{}}, nil
	}
	if len(b.memories) > 1 || !b.memories[0].IsWritable() {
		merged := mergeMemories(b.memories)
		if !merged.IsWritable() || merged.HasFlags(MiniObjectFlagLockReadonly) || merged.parent != nil {
			cp, err := merged.Copy(0, -1)
			merged.Unref()
			if err != nil {
				return nil, err
			}
			merged = cp
		}
		b.RemoveAllMemory()
		b.AppendMemory(merged)
	}
	mem := b.memories[0]
	info, err := mem.Map(MapReadWrite)
	if err != nil {
		cp, cerr := mem.Copy(0, -1)
		if cerr != nil {
			return nil, err
		}
		b.ReplaceMemory(0, cp)
		mem = cp
		if info, err = mem.Map(MapReadWrite); err != nil {
			return nil, err
		}
	}
	mem.ref()
	return &BufferMap{buffer: b.Buffer, mem: mem, info: info, Data: info.Data}, nil
}

func (b *BufferMut) SetPTS(t ClockTime)      { b.mustBeWritable(); b.pts = t }
func (b *BufferMut) SetDTS(t ClockTime)      { b.mustBeWritable(); b.dts = t }
func (b *BufferMut) SetDuration(t ClockTime) { b.mustBeWritable(); b.duration = t }
func (b *BufferMut) SetOffset(o uint64)      { b.mustBeWritable(); b.offset = o }
func (b *BufferMut) SetOffsetEnd(o uint64)   { b.mustBeWritable(); b.offsetEnd = o }

// SetBufferFlags sets the given flag bits.
func (b *BufferMut) SetBufferFlags(f BufferFlags) {
	b.mustBeWritable()
	b.setFlags(MiniObjectFlags(f & bufferFlagsMask))
}

// UnsetBufferFlags clears the given flag bits.
func (b *BufferMut) UnsetBufferFlags(f BufferFlags) {
	b.mustBeWritable()
	b.unsetFlags(MiniObjectFlags(f & bufferFlagsMask))
}

// ResetBufferFlags replaces all buffer flags with f.
func (b *BufferMut) ResetBufferFlags(f BufferFlags) {
	b.mustBeWritable()
	b.unsetFlags(MiniObjectFlags(bufferFlagsMask))
	b.setFlags(MiniObjectFlags(f & bufferFlagsMask))
}

// InsertMemory takes ownership of mem and inserts it at idx (-1 appends).
func (b *BufferMut) InsertMemory(idx int, mem *Memory) {
	b.mustBeWritable()
	mem.Lock(LockFlagExclusive)
	if idx < 0 || idx >= len(b.memories) {
		b.memories = append(b.memories, mem)
	} else {
		b.memories = append(b.memories, nil)
		copy(b.memories[idx+1:], b.memories[idx:])
		b.memories[idx] = mem
	}
	if b.pool != nil {
		b.setFlags(MiniObjectFlags(BufferFlagTagMemory))
	}
}

// AppendMemory takes ownership of mem and appends it.
func (b *BufferMut) AppendMemory(mem *Memory) { b.InsertMemory(-1, mem) }

// PrependMemory takes ownership of mem and prepends it.
func (b *BufferMut) PrependMemory(mem *Memory) { b.InsertMemory(0, mem) }

// ReplaceMemory takes ownership of mem and replaces memory idx.
func (b *BufferMut) ReplaceMemory(idx int, mem *Memory) {
	b.mustBeWritable()
	old := b.memories[idx]
	mem.Lock(LockFlagExclusive)
	b.memories[idx] = mem
	old.Unlock(LockFlagExclusive)
	old.Unref()
	b.setFlags(MiniObjectFlags(BufferFlagTagMemory))
}

// RemoveMemory removes memory idx.
func (b *BufferMut) RemoveMemory(idx int) {
	b.mustBeWritable()
	old := b.memories[idx]
	b.memories = append(b.memories[:idx], b.memories[idx+1:]...)
	old.Unlock(LockFlagExclusive)
	old.Unref()
	b.setFlags(MiniObjectFlags(BufferFlagTagMemory))
}

// RemoveAllMemory drops every memory.
func (b *BufferMut) RemoveAllMemory() {
	b.mustBeWritable()
	for _, m := range b.memories {
		m.Unlock(LockFlagExclusive)
		m.Unref()
	}
	b.memories = nil
	b.setFlags(MiniObjectFlags(BufferFlagTagMemory))
}

// Fill writes src at offset and returns the number of bytes written.
func (b *BufferMut) Fill(offset int, src []byte) (int, error) {
	m, err := b.MapWritable()
	if err != nil {
		return 0, err
	}
	defer m.Unmap()
	if offset > len(m.Data) {
		return 0, nil
	}
	return copy(m.Data[offset:], src), nil
}

// Resize trims the content to the window [offset, offset+size) of the current data.
func (b *BufferMut) Resize(offset, size int) error {
	b.mustBeWritable()
	total := b.Size()
	if size < 0 {
		size = total - offset
	}
	if offset < 0 || offset+size > total {
		return fmt.Errorf("gst: resize window [%d,%d) outside %d bytes", offset, offset+size, total)
	}
	var keep []*Memory
	skip, remaining := offset, size
	for _, m := range b.memories {
		if remaining == 0 || skip >= m.size {
			skip -= min(skip, m.size)
			m.Unlock(LockFlagExclusive)
			m.Unref()
			continue
		}
		n := min(m.size-skip, remaining)
		if skip != 0 || n != m.size {
			if m.IsWritable() {
				m.Resize(skip, n)
			} else {
				shared, err := m.Share(skip, n)
				if err != nil {
					return err
				}
				m.Unlock(LockFlagExclusive)
				m.Unref()
				shared.Lock(LockFlagExclusive)
				m = shared
			}
		}
		keep = append(keep, m)
		remaining -= n
		skip = 0
	}
	b.memories = keep
	return nil
}

// CopyInto copies the parts of src selected by flags into b, restricted to the byte
// window [offset, offset+size). A negative size copies to the end.
func (b *BufferMut) CopyInto(src *Buffer, flags BufferCopyFlags, offset, size int) error {
	b.mustBeWritable()
	total := src.Size()
	if size < 0 {
		size = total - offset
	}
	if offset < 0 || offset+size > total {
		return fmt.Errorf("gst: copy window [%d,%d) outside %d bytes", offset, offset+size, total)
	}
	region := offset != 0 || size != total

	if flags&BufferCopyFlags_ != 0 {
		f := src.BufferFlags()
		if region {
			// discont and delta-unit only describe the first byte
			if offset != 0 {
				f &^= BufferFlagDiscont
			}
		}
		b.ResetBufferFlags(f &^ BufferFlagTagMemory)
	}
	if flags&BufferCopyTimestamps != 0 {
		if offset == 0 {
			b.pts = src.pts
			b.dts = src.dts
			b.offset = src.offset
			if size == total {
				b.duration = src.duration
				b.offsetEnd = src.offsetEnd
			}
		}
	}
	if flags&BufferCopyMemory != 0 {
		skip, remaining := offset, size
		for _, m := range src.memories {
			if remaining == 0 {
				break
			}
			if skip >= m.size {
				skip -= m.size
				continue
			}
			n := min(m.size-skip, remaining)
			var mem *Memory
			var err error
			switch {
			case flags&BufferCopyDeep != 0 || m.HasFlags(MiniObjectFlags(MemoryFlagNoShare)):
				mem, err = m.Copy(skip, n)
			case skip == 0 && n == m.size:
				mem = m.Ref()
			default:
				mem, err = m.Share(skip, n)
			}
			if err != nil {
				return err
			}
			b.AppendMemory(mem)
			remaining -= n
			skip = 0
		}
		if flags&BufferCopyMerge != 0 && len(b.memories) > 1 {
			merged := mergeMemories(b.memories)
			b.RemoveAllMemory()
			b.AppendMemory(merged)
		}
	}
	if flags&BufferCopyMeta != 0 {
		transform := MetaTransformCopy{Region: region, Offset: offset, Size: size}
		for _, m := range src.metas {
			if m.info.transform == nil {
				catMeta.Debug(nil, "meta %s has no transform, dropped", m.info.implName)
				continue
			}
			if !m.info.transform(b, m, src, transform) {
				catMeta.Debug(nil, "transform of meta %s declined", m.info.implName)
			}
		}
	}
	return nil
}

func (b *Buffer) String() string {
	return fmt.Sprintf("buffer: %p, pts %s, dts %s, dur %s, size %d, offset %s, offset_end %s, flags %s, memories %d, metas %d",
		b, b.pts, b.dts, b.duration, b.Size(), offsetString(b.offset), offsetString(b.offsetEnd),
		b.BufferFlags(), len(b.memories), len(b.metas))
}

func offsetString(o uint64) string {
	if o == BufferOffsetNone {
		return "none"
	}
	return fmt.Sprintf("%d", o)
}
