package gst

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

// Well-known buffer pool options.
const (
	BufferPoolOptionVideoMeta      = "GstBufferPoolOptionVideoMeta"
	BufferPoolOptionVideoAlignment = "GstBufferPoolOptionVideoAlignment"
)

// ErrPoolActive is returned when configuring a pool that is active or still has
// buffers outstanding.
var ErrPoolActive = errors.New("gst: buffer pool is active")

// BufferPoolConfig describes how a pool allocates its buffers.
type BufferPoolConfig struct {
	Caps       *Caps
	Size       uint
	MinBuffers uint
	MaxBuffers uint // 0 means unlimited
	Allocator  *Allocator
	Params     AllocationParams
	Options    []string
}

// NewBufferPoolConfig returns an empty configuration.
func NewBufferPoolConfig() *BufferPoolConfig { return &BufferPoolConfig{} }

// SetParams sets caps, buffer size and the buffer count bounds.
func (c *BufferPoolConfig) SetParams(caps *Caps, size, minBuffers, maxBuffers uint) *BufferPoolConfig {
	c.Caps, c.Size, c.MinBuffers, c.MaxBuffers = caps, size, minBuffers, maxBuffers
	return c
}

// SetAllocator sets the allocator used for new memory.
func (c *BufferPoolConfig) SetAllocator(a *Allocator, params *AllocationParams) *BufferPoolConfig {
	c.Allocator = a
	if params != nil {
		c.Params = *params
	} else {
		c.Params = AllocationParams{}
	}
	return c
}

// AddOption enables option. Adding an option twice is a no-op.
func (c *BufferPoolConfig) AddOption(option string) *BufferPoolConfig {
	if !slices.Contains(c.Options, option) {
		c.Options = append(c.Options, option)
	}
	return c
}

// HasOption reports whether option is enabled.
func (c *BufferPoolConfig) HasOption(option string) bool { return slices.Contains(c.Options, option) }

// Validate reports whether c matches the given parameters, with at most
// maxBuffers and at least minBuffers.
func (c *BufferPoolConfig) Validate(caps *Caps, size, minBuffers, maxBuffers uint) bool {
	if c.Caps != nil && caps != nil && !c.Caps.IsEqual(caps) {
		return false
	}
	if c.Size < size || c.MinBuffers < minBuffers {
		return false
	}
	return maxBuffers == 0 || (c.MaxBuffers != 0 && c.MaxBuffers <= maxBuffers)
}

func (c *BufferPoolConfig) clone() *BufferPoolConfig {
	cp := *c
	cp.Options = slices.Clone(c.Options)
	if c.Caps != nil {
		cp.Caps = c.Caps.Ref()
	}
	return &cp
}

// BufferPoolAcquireFlags modify AcquireBuffer.
type BufferPoolAcquireFlags uint32

const (
	BufferPoolAcquireFlagKeyUnit  BufferPoolAcquireFlags = 1 << 0
	BufferPoolAcquireFlagDontWait BufferPoolAcquireFlags = 1 << 1
	BufferPoolAcquireFlagDiscont  BufferPoolAcquireFlags = 1 << 2
)

// BufferPoolAcquireParams are passed to AcquireBuffer and the allocation hooks.
type BufferPoolAcquireParams struct {
	Format Format
	Start  int64
	Stop   int64
	Flags  BufferPoolAcquireFlags
}

// Capability interfaces a BufferPool implementation may provide. Each one
// replaces the default behavior; implementations chain up through the
// ParentXxx helpers on BufferPool.
type (
	BufferPoolOptionsImpl interface {
		Options(p *BufferPool) []string
	}
	BufferPoolSetConfigImpl interface {
		SetConfig(p *BufferPool, cfg *BufferPoolConfig) bool
	}
	BufferPoolStartImpl interface {
		Start(p *BufferPool) bool
	}
	BufferPoolStopImpl interface {
		Stop(p *BufferPool) bool
	}
	BufferPoolAllocImpl interface {
		AllocBuffer(p *BufferPool, params *BufferPoolAcquireParams) (*Buffer, FlowReturn)
	}
	BufferPoolAcquireImpl interface {
		AcquireBuffer(p *BufferPool, params *BufferPoolAcquireParams) (*Buffer, FlowReturn)
	}
	BufferPoolResetImpl interface {
		ResetBuffer(p *BufferPool, buf *BufferMut)
	}
	BufferPoolReleaseImpl interface {
		ReleaseBuffer(p *BufferPool, buf *Buffer)
	}
	BufferPoolFreeImpl interface {
		FreeBuffer(p *BufferPool, buf *Buffer)
	}
	BufferPoolFlushImpl interface {
		FlushStart(p *BufferPool)
		FlushStop(p *BufferPool)
	}
)

// BufferPool recycles buffers of a fixed configuration. Buffers acquired from
// the pool return to it when their last reference is dropped.
type BufferPool struct {
	Object

	impl any
	refs atomic.Int32

	// protected by the object lock
	cond        *sync.Cond
	config      *BufferPoolConfig
	configured  bool
	active      bool
	flushing    bool
	free        []*Buffer
	allocated   uint
	outstanding uint
}

// NewBufferPool returns an inactive pool using the default behavior.
func NewBufferPool() *BufferPool { return NewBufferPoolWithImpl("", nil) }

// NewBufferPoolWithImpl returns an inactive pool driven by impl, which may
// implement any of the BufferPool capability interfaces.
func NewBufferPoolWithImpl(name string, impl any) *BufferPool {
	p := &BufferPool{impl: impl, config: NewBufferPoolConfig()}
	p.cond = sync.NewCond(&p.mu)
	p.refs.Store(1)
	p.initObject(p, name, "bufferpool", nil)
	return p
}

// Impl returns the implementation passed at construction.
func (p *BufferPool) Impl() any { return p.impl }

// Ref takes another reference.
func (p *BufferPool) Ref() *BufferPool {
	p.refs.Add(1)
	return p
}

// Unref drops a reference. The last one deactivates the pool.
func (p *BufferPool) Unref() {
	if p.refs.Add(-1) == 0 {
		if p.IsActive() {
			p.SetActive(false)
		}
	}
}

// Options returns the options the pool supports.
func (p *BufferPool) Options() []string {
	if i, ok := p.impl.(BufferPoolOptionsImpl); ok {
		return i.Options(p)
	}
	return nil
}

// HasOption reports whether the pool supports option.
func (p *BufferPool) HasOption(option string) bool { return slices.Contains(p.Options(), option) }

// Config returns a copy of the current configuration.
func (p *BufferPool) Config() *BufferPoolConfig {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.config.clone()
}

// SetConfig applies cfg. It fails while the pool is active or buffers are
// outstanding.
func (p *BufferPool) SetConfig(cfg *BufferPoolConfig) error {
	p.mu.Lock()
	if p.active || p.outstanding > 0 {
		p.mu.Unlock()
		catPool.Warning(p, "can't change config of an active pool")
		return ErrPoolActive
	}
	p.mu.Unlock()

	var ok bool
	if i, has := p.impl.(BufferPoolSetConfigImpl); has {
		ok = i.SetConfig(p, cfg)
	} else {
		ok = p.ParentSetConfig(cfg)
	}
	if !ok {
		return fmt.Errorf("gst: buffer pool %s rejected config", p.Name())
	}
	return nil
}

// ParentSetConfig stores cfg after a basic sanity check.
func (p *BufferPool) ParentSetConfig(cfg *BufferPoolConfig) bool {
	if cfg.MaxBuffers != 0 && cfg.MinBuffers > cfg.MaxBuffers {
		catPool.Warning(p, "min buffers %d above max %d", cfg.MinBuffers, cfg.MaxBuffers)
		return false
	}
	p.mu.Lock()
	p.config = cfg.clone()
	p.configured = true
	p.mu.Unlock()
	catPool.Debug(p, "configured size %d, min %d, max %d", cfg.Size, cfg.MinBuffers, cfg.MaxBuffers)
	return true
}

// IsActive reports whether the pool hands out buffers.
func (p *BufferPool) IsActive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// SetActive starts or stops the pool. Starting preallocates MinBuffers;
// stopping frees the idle buffers, outstanding ones are freed on release.
func (p *BufferPool) SetActive(active bool) bool {
	p.mu.Lock()
	if p.active == active {
		p.mu.Unlock()
		return true
	}
	if active && !p.configured {
		p.mu.Unlock()
		catPool.Warning(p, "activating unconfigured pool")
		return false
	}
	p.mu.Unlock()

	if active {
		if !p.start() {
			return false
		}
		p.mu.Lock()
		p.active = true
		p.flushing = false
		p.mu.Unlock()
		return true
	}

	p.mu.Lock()
	p.active = false
	p.flushing = true
	p.cond.Broadcast()
	p.mu.Unlock()
	return p.stop()
}

func (p *BufferPool) start() bool {
	if i, ok := p.impl.(BufferPoolStartImpl); ok {
		return i.Start(p)
	}
	return p.ParentStart()
}

// ParentStart preallocates MinBuffers buffers.
func (p *BufferPool) ParentStart() bool {
	p.mu.Lock()
	n := p.config.MinBuffers
	p.mu.Unlock()
	for range n {
		buf, ret := p.alloc(nil)
		if ret != FlowOK {
			catPool.Warning(p, "failed to preallocate: %s", ret)
			p.ParentStop()
			return false
		}
		p.mu.Lock()
		p.allocated++
		p.free = append(p.free, buf)
		p.mu.Unlock()
	}
	return true
}

func (p *BufferPool) stop() bool {
	if i, ok := p.impl.(BufferPoolStopImpl); ok {
		return i.Stop(p)
	}
	return p.ParentStop()
}

// ParentStop frees the idle buffers.
func (p *BufferPool) ParentStop() bool {
	p.mu.Lock()
	idle := p.free
	p.free = nil
	p.allocated -= uint(len(idle))
	p.mu.Unlock()
	for _, b := range idle {
		p.freeBuffer(b)
	}
	return true
}

// SetFlushing makes blocked and future AcquireBuffer calls return FlowFlushing.
func (p *BufferPool) SetFlushing(flushing bool) {
	p.mu.Lock()
	if !p.active || p.flushing == flushing {
		p.mu.Unlock()
		return
	}
	p.flushing = flushing
	p.cond.Broadcast()
	p.mu.Unlock()
	if fi, ok := p.impl.(BufferPoolFlushImpl); ok {
		if flushing {
			fi.FlushStart(p)
		} else {
			fi.FlushStop(p)
		}
	}
}

func (p *BufferPool) alloc(params *BufferPoolAcquireParams) (*Buffer, FlowReturn) {
	if i, ok := p.impl.(BufferPoolAllocImpl); ok {
		return i.AllocBuffer(p, params)
	}
	return p.ParentAllocBuffer(params)
}

// ParentAllocBuffer allocates one buffer of the configured size.
func (p *BufferPool) ParentAllocBuffer(*BufferPoolAcquireParams) (*Buffer, FlowReturn) {
	p.mu.Lock()
	alloc, size, params := p.config.Allocator, p.config.Size, p.config.Params
	p.mu.Unlock()
	b, err := NewBufferAllocate(alloc, int(size), &params)
	if err != nil {
		catPool.Warning(p, "allocation failed: %v", err)
		return nil, FlowError
	}
	return b.Buffer, FlowOK
}

// AcquireBuffer returns a buffer from the pool, allocating a new one while the
// MaxBuffers bound allows it. Otherwise it blocks until a buffer is released,
// or returns FlowEOS right away with BufferPoolAcquireFlagDontWait.
func (p *BufferPool) AcquireBuffer(params *BufferPoolAcquireParams) (*Buffer, FlowReturn) {
	var (
		buf *Buffer
		ret FlowReturn
	)
	if i, ok := p.impl.(BufferPoolAcquireImpl); ok {
		buf, ret = i.AcquireBuffer(p, params)
	} else {
		buf, ret = p.ParentAcquireBuffer(params)
	}
	if ret != FlowOK {
		return nil, ret
	}
	p.mu.Lock()
	p.outstanding++
	p.mu.Unlock()
	buf.pool = p
	if params != nil && params.Flags&BufferPoolAcquireFlagDiscont != 0 {
		buf.setFlags(MiniObjectFlags(BufferFlagDiscont))
	}
	return buf, FlowOK
}

// ParentAcquireBuffer implements the default free-list policy.
func (p *BufferPool) ParentAcquireBuffer(params *BufferPoolAcquireParams) (*Buffer, FlowReturn) {
	p.mu.Lock()
	for {
		if !p.active || p.flushing {
			p.mu.Unlock()
			return nil, FlowFlushing
		}
		if n := len(p.free); n > 0 {
			b := p.free[n-1]
			p.free = p.free[:n-1]
			p.mu.Unlock()
			return b, FlowOK
		}
		if p.config.MaxBuffers == 0 || p.allocated < p.config.MaxBuffers {
			p.allocated++
			p.mu.Unlock()
			b, ret := p.alloc(params)
			if ret != FlowOK {
				p.mu.Lock()
				p.allocated--
				p.mu.Unlock()
			}
			return b, ret
		}
		if params != nil && params.Flags&BufferPoolAcquireFlagDontWait != 0 {
			p.mu.Unlock()
			return nil, FlowEOS
		}
		catPool.Log(p, "waiting for a free buffer")
		p.cond.Wait()
	}
}

// ReleaseBuffer is called when the last reference to a pooled buffer is dropped.
// The buffer is reset and returned to the free list, or freed when the pool is
// inactive or the buffer memory was replaced.
func (p *BufferPool) ReleaseBuffer(b *Buffer) {
	p.mu.Lock()
	p.outstanding--
	p.mu.Unlock()
	if i, ok := p.impl.(BufferPoolReleaseImpl); ok {
		i.ReleaseBuffer(p, b)
		return
	}
	p.ParentReleaseBuffer(b)
}

// ParentReleaseBuffer resets b and queues it for reuse.
func (p *BufferPool) ParentReleaseBuffer(b *Buffer) {
	if b.HasFlags(MiniObjectFlags(BufferFlagTagMemory)) || !p.sizeMatches(b) {
		catPool.Debug(p, "discarding buffer with changed memory")
		p.mu.Lock()
		p.allocated--
		p.cond.Signal()
		p.mu.Unlock()
		p.freeBuffer(b)
		return
	}
	mut := &BufferMut{b}
	if i, ok := p.impl.(BufferPoolResetImpl); ok {
		i.ResetBuffer(p, mut)
	} else {
		p.ParentResetBuffer(mut)
	}

	p.mu.Lock()
	if !p.active {
		p.allocated--
		p.mu.Unlock()
		p.freeBuffer(b)
		return
	}
	p.free = append(p.free, b)
	p.cond.Signal()
	p.mu.Unlock()
}

func (p *BufferPool) sizeMatches(b *Buffer) bool {
	p.mu.Lock()
	size := p.config.Size
	p.mu.Unlock()
	return b.Size() == int(size)
}

// ParentResetBuffer clears timestamps, offsets and flags and removes every meta
// not marked pooled.
func (p *BufferPool) ParentResetBuffer(b *BufferMut) {
	b.pts, b.dts, b.duration = ClockTimeNone, ClockTimeNone, ClockTimeNone
	b.offset, b.offsetEnd = BufferOffsetNone, BufferOffsetNone
	b.unsetFlags(MiniObjectFlags(bufferFlagsMask))
	for _, m := range slices.Clone(b.metas) {
		if m.flags&MetaFlagPooled == 0 {
			m.flags &^= MetaFlagLocked
			b.RemoveMeta(m)
		}
	}
}

func (p *BufferPool) freeBuffer(b *Buffer) {
	b.pool = nil
	if i, ok := p.impl.(BufferPoolFreeImpl); ok {
		i.FreeBuffer(p, b)
		return
	}
	b.Unref()
}

// Stats returns the number of buffers allocated, idle and handed out.
func (p *BufferPool) Stats() (allocated, idle, outstanding uint) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated, uint(len(p.free)), p.outstanding
}
