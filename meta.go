package gst

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

// MetaFlags describe the state of an attached Meta.
type MetaFlags uint32

const (
	MetaFlagReadonly MetaFlags = 1 << 0
	MetaFlagPooled   MetaFlags = 1 << 1
	MetaFlagLocked   MetaFlags = 1 << 2
)

// Well-known meta tags.
const (
	MetaTagMemory      = "memory"
	MetaTagVideo       = "video"
	MetaTagAudio       = "audio"
	MetaTagOrientation = "orientation"
	MetaTagSize        = "size"
)

// MetaTransformCopy describes a copy of (a region of) the source buffer.
type MetaTransformCopy struct {
	Region bool
	Offset int
	Size   int
}

// MetaInfo is a registered meta implementation.
type MetaInfo struct {
	api       Type
	implName  string
	newData   func() any
	init      func(m *Meta, params any, buf *BufferMut) bool
	free      func(m *Meta, buf *Buffer)
	transform func(dst *BufferMut, m *Meta, src *Buffer, t MetaTransformCopy) bool
}

// API returns the API type the implementation provides.
func (i *MetaInfo) API() Type { return i.api }

// Name returns the implementation name.
func (i *MetaInfo) Name() string { return i.implName }

// Meta is one record attached to a buffer. It never outlives its buffer.
type Meta struct {
	flags  MetaFlags
	info   *MetaInfo
	seqnum uint64
	data   any
}

// Info returns the implementation of m.
func (m *Meta) Info() *MetaInfo { return m.info }

// Flags returns the meta flags.
func (m *Meta) Flags() MetaFlags { return m.flags }

// SetFlags adds f to the meta flags.
func (m *Meta) SetFlags(f MetaFlags) { m.flags |= f }

// Seqnum returns the attach order of the meta, unique and increasing over the process.
func (m *Meta) Seqnum() uint64 { return m.seqnum }

// Data returns the payload. The payload must be treated as read-only unless it was
// obtained through a writable buffer.
func (m *Meta) Data() any { return m.data }

// CompareSeqnum orders two metas by attach order.
func (m *Meta) CompareSeqnum(o *Meta) int {
	switch {
	case m.seqnum < o.seqnum:
		return -1
	case m.seqnum > o.seqnum:
		return 1
	}
	return 0
}

var (
	metaSeqnum atomic.Uint64

	metaRegistry = struct {
		sync.RWMutex
		apiTags map[Type][]string
		impls   map[string]*MetaInfo
	}{apiTags: make(map[Type][]string), impls: make(map[string]*MetaInfo)}
)

// RegisterMetaAPI registers an API name with its tags and returns its Type.
func RegisterMetaAPI(api string, tags ...string) Type {
	t := RegisterType(api)
	metaRegistry.Lock()
	if _, ok := metaRegistry.apiTags[t]; !ok {
		metaRegistry.apiTags[t] = slices.Clone(tags)
	}
	metaRegistry.Unlock()
	return t
}

// MetaAPITags returns the tags registered with api.
func MetaAPITags(api Type) []string {
	metaRegistry.RLock()
	defer metaRegistry.RUnlock()
	return slices.Clone(metaRegistry.apiTags[api])
}

// MetaAPIHasTag reports whether api was registered with tag.
func MetaAPIHasTag(api Type, tag string) bool {
	return slices.Contains(MetaAPITags(api), tag)
}

// MetaFuncs are the callbacks of a meta implementation with payload type T.
// Init runs once per attachment, Free once on removal or buffer disposal. Transform
// decides what happens on copy; a nil Transform drops the meta.
type MetaFuncs[T any] struct {
	Init      func(data *T, params any, buf *BufferMut) bool
	Free      func(data *T, buf *Buffer)
	Transform func(dst *BufferMut, data *T, src *Buffer, t MetaTransformCopy) bool
}

// MetaKind is a typed handle on a registered meta implementation.
type MetaKind[T any] struct {
	info *MetaInfo
}

// DefineMeta registers impl for api with payload type T. Registering the same
// implementation name twice returns the first registration.
func DefineMeta[T any](api Type, impl string, funcs MetaFuncs[T]) *MetaKind[T] {
	metaRegistry.Lock()
	defer metaRegistry.Unlock()
	if info, ok := metaRegistry.impls[impl]; ok {
		return &MetaKind[T]{info: info}
	}
	info := &MetaInfo{
		api:      api,
		implName: impl,
		newData:  func() any { return new(T) },
		init: func(m *Meta, params any, buf *BufferMut) bool {
			if funcs.Init == nil {
				return true
			}
			return funcs.Init(m.data.(*T), params, buf)
		},
		free: func(m *Meta, buf *Buffer) {
			if funcs.Free != nil {
				funcs.Free(m.data.(*T), buf)
			}
		},
	}
	if funcs.Transform != nil {
		info.transform = func(dst *BufferMut, m *Meta, src *Buffer, t MetaTransformCopy) bool {
			return funcs.Transform(dst, m.data.(*T), src, t)
		}
	}
	metaRegistry.impls[impl] = info
	return &MetaKind[T]{info: info}
}

// FindMetaInfo looks up an implementation by name.
func FindMetaInfo(impl string) (*MetaInfo, bool) {
	metaRegistry.RLock()
	defer metaRegistry.RUnlock()
	info, ok := metaRegistry.impls[impl]
	return info, ok
}

// Info returns the registered implementation.
func (k *MetaKind[T]) Info() *MetaInfo { return k.info }

// Add attaches a new meta to buf. It returns nil when init rejects params.
func (k *MetaKind[T]) Add(buf *BufferMut, params any) *T {
	m := buf.AddMeta(k.info, params)
	if m == nil {
		return nil
	}
	return m.data.(*T)
}

// Get returns the first meta of this kind. The payload is read-only when buf is shared.
func (k *MetaKind[T]) Get(buf *Buffer) (*T, bool) {
	for _, m := range buf.metas {
		if m.info == k.info {
			return m.data.(*T), true
		}
	}
	return nil, false
}

// All returns every meta of this kind in attach order.
func (k *MetaKind[T]) All(buf *Buffer) []*T {
	var out []*T
	for _, m := range buf.metas {
		if m.info == k.info {
			out = append(out, m.data.(*T))
		}
	}
	return out
}

// Remove detaches the first meta of this kind.
func (k *MetaKind[T]) Remove(buf *BufferMut) bool {
	for _, m := range buf.metas {
		if m.info == k.info {
			return buf.RemoveMeta(m)
		}
	}
	return false
}

// AddMeta attaches a meta of implementation info. It returns nil when init fails.
func (b *BufferMut) AddMeta(info *MetaInfo, params any) *Meta {
	b.mustBeWritable()
	m := &Meta{info: info, data: info.newData()}
	if !info.init(m, params, b) {
		catMeta.Debug(nil, "init of meta %s failed", info.implName)
		return nil
	}
	m.seqnum = metaSeqnum.Add(1)
	b.metas = append(b.metas, m)
	tracersMetaAdded(b.Buffer, m)
	return m
}

// RemoveMeta detaches m. Locked metas are kept.
func (b *BufferMut) RemoveMeta(m *Meta) bool {
	b.mustBeWritable()
	if m.flags&MetaFlagLocked != 0 {
		return false
	}
	i := slices.Index(b.metas, m)
	if i < 0 {
		return false
	}
	b.metas = slices.Delete(b.metas, i, i+1)
	m.info.free(m, b.Buffer)
	return true
}

// Metas returns the attached metas in attach order.
func (b *Buffer) Metas() []*Meta { return slices.Clone(b.metas) }

// NMeta returns the number of metas of api attached.
func (b *Buffer) NMeta(api Type) int {
	n := 0
	for _, m := range b.metas {
		if m.info.api == api {
			n++
		}
	}
	return n
}

// MetaByAPI returns the first meta implementing api.
func (b *Buffer) MetaByAPI(api Type) (*Meta, bool) {
	for _, m := range b.metas {
		if m.info.api == api {
			return m, true
		}
	}
	return nil, false
}

// ForeachMeta calls fn for every meta. Returning false stops; remove=true detaches the
// meta and requires a writable buffer.
func (b *BufferMut) ForeachMeta(fn func(m *Meta) (cont, remove bool)) {
	b.mustBeWritable()
	kept := b.metas[:0]
	var removed []*Meta
	stop := false
	for _, m := range b.metas {
		if stop {
			kept = append(kept, m)
			continue
		}
		cont, remove := fn(m)
		if remove && m.flags&MetaFlagLocked == 0 {
			removed = append(removed, m)
		} else {
			kept = append(kept, m)
		}
		stop = !cont
	}
	b.metas = kept
	for _, m := range removed {
		m.info.free(m, b.Buffer)
	}
}

// ReferenceTimestampMeta relates a buffer to a timestamp in another clock domain,
// described by Reference (e.g. "timestamp/x-ntp").
type ReferenceTimestampMeta struct {
	Reference *Caps
	Timestamp ClockTime
	Duration  ClockTime
}

// ReferenceTimestampParams are the Add parameters of ReferenceTimestampMetaKind.
type ReferenceTimestampParams struct {
	Reference *Caps
	Timestamp ClockTime
	Duration  ClockTime
}

// ReferenceTimestampMetaAPI is the API type of ReferenceTimestampMeta.
var ReferenceTimestampMetaAPI = RegisterMetaAPI("GstReferenceTimestampMetaAPI")

// ReferenceTimestampMetaKind attaches reference timestamps. It copies the meta on
// full copies and on region copies starting at offset 0.
var ReferenceTimestampMetaKind *MetaKind[ReferenceTimestampMeta]

// defined in init: the transform refers back to the kind
func init() {
	ReferenceTimestampMetaKind = DefineMeta(ReferenceTimestampMetaAPI, "GstReferenceTimestampMeta", referenceTimestampFuncs)
}

var referenceTimestampFuncs = MetaFuncs[ReferenceTimestampMeta]{
	Init: func(d *ReferenceTimestampMeta, params any, _ *BufferMut) bool {
		p, ok := params.(ReferenceTimestampParams)
		if !ok || p.Reference == nil {
			return false
		}
		d.Reference = p.Reference.Ref()
		d.Timestamp = p.Timestamp
		d.Duration = p.Duration
		return true
	},
	Free: func(d *ReferenceTimestampMeta, _ *Buffer) {
		if d.Reference != nil {
			d.Reference.Unref()
			d.Reference = nil
		}
	},
	Transform: func(dst *BufferMut, d *ReferenceTimestampMeta, _ *Buffer, t MetaTransformCopy) bool {
		if t.Region && t.Offset != 0 {
			return false
		}
		return AddReferenceTimestampMeta(dst, d.Reference, d.Timestamp, d.Duration) != nil
	},
}

// AddReferenceTimestampMeta attaches a ReferenceTimestampMeta.
func AddReferenceTimestampMeta(buf *BufferMut, reference *Caps, ts, duration ClockTime) *ReferenceTimestampMeta {
	return ReferenceTimestampMetaKind.Add(buf, ReferenceTimestampParams{Reference: reference, Timestamp: ts, Duration: duration})
}

// ReferenceTimestampMetaFor returns the first reference timestamp matching reference,
// or the first one at all when reference is nil.
func ReferenceTimestampMetaFor(buf *Buffer, reference *Caps) (*ReferenceTimestampMeta, bool) {
	for _, m := range ReferenceTimestampMetaKind.All(buf) {
		if reference == nil || reference.IsSubset(m.Reference) {
			return m, true
		}
	}
	return nil, false
}

// CustomMeta carries a free-form Structure, registered by name with RegisterCustomMeta.
type CustomMeta struct {
	name      string
	structure *Structure
}

// Name returns the registered custom meta name.
func (c *CustomMeta) Name() string { return c.name }

// Structure returns the payload structure.
func (c *CustomMeta) Structure() *Structure { return c.structure }

var customMetas = struct {
	sync.RWMutex
	kinds map[string]*MetaKind[CustomMeta]
}{kinds: make(map[string]*MetaKind[CustomMeta])}

// RegisterCustomMeta registers a meta whose payload is a Structure named name.
// transform may be nil to copy the structure on every copy.
func RegisterCustomMeta(name string, tags []string, transform func(dst *BufferMut, c *CustomMeta, src *Buffer, t MetaTransformCopy) bool) *MetaKind[CustomMeta] {
	customMetas.Lock()
	defer customMetas.Unlock()
	if k, ok := customMetas.kinds[name]; ok {
		return k
	}
	api := RegisterMetaAPI(name+"API", tags...)
	var kind *MetaKind[CustomMeta]
	if transform == nil {
		transform = func(dst *BufferMut, c *CustomMeta, _ *Buffer, _ MetaTransformCopy) bool {
			added := kind.Add(dst, nil)
			if added == nil {
				return false
			}
			added.structure = c.structure.Copy()
			return true
		}
	}
	kind = DefineMeta(api, name, MetaFuncs[CustomMeta]{
		Init: func(c *CustomMeta, _ any, _ *BufferMut) bool {
			c.name = name
			c.structure = NewStructure(name)
			return true
		},
		Transform: transform,
	})
	customMetas.kinds[name] = kind
	return kind
}

// FindCustomMeta returns a registered custom meta kind.
func FindCustomMeta(name string) (*MetaKind[CustomMeta], error) {
	customMetas.RLock()
	defer customMetas.RUnlock()
	k, ok := customMetas.kinds[name]
	if !ok {
		return nil, fmt.Errorf("gst: custom meta %q not registered", name)
	}
	return k, nil
}
