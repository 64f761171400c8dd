package gst

import (
	"fmt"
	"slices"
)

// QueryTypeFlags describe where a query may travel.
type QueryTypeFlags uint32

const (
	QueryTypeUpstream   QueryTypeFlags = 1 << 0
	QueryTypeDownstream QueryTypeFlags = 1 << 1
	QueryTypeSerialized QueryTypeFlags = 1 << 2

	queryTypeBoth = QueryTypeUpstream | QueryTypeDownstream
)

// QueryType identifies a query.
type QueryType uint32

func makeQueryType(num uint32, flags QueryTypeFlags) QueryType {
	return QueryType(num<<eventFlagBits | uint32(flags))
}

var (
	QueryUnknown    = makeQueryType(0, 0)
	QueryPosition   = makeQueryType(10, queryTypeBoth)
	QueryDuration   = makeQueryType(20, queryTypeBoth)
	QueryLatency    = makeQueryType(30, queryTypeBoth)
	QueryJitter     = makeQueryType(40, queryTypeBoth)
	QueryRate       = makeQueryType(50, queryTypeBoth)
	QuerySeeking    = makeQueryType(60, queryTypeBoth)
	QuerySegment    = makeQueryType(70, queryTypeBoth)
	QueryConvert    = makeQueryType(80, queryTypeBoth)
	QueryFormats    = makeQueryType(90, queryTypeBoth)
	QueryBuffering  = makeQueryType(110, queryTypeBoth)
	QueryCustom     = makeQueryType(120, queryTypeBoth)
	QueryURI        = makeQueryType(130, queryTypeBoth)
	QueryAllocation = makeQueryType(140, QueryTypeDownstream|QueryTypeSerialized)
	QueryScheduling = makeQueryType(150, QueryTypeUpstream)
	QueryAcceptCaps = makeQueryType(160, queryTypeBoth)
	QueryCaps       = makeQueryType(170, queryTypeBoth)
	QueryDrain      = makeQueryType(180, QueryTypeDownstream|QueryTypeSerialized)
	QueryContext    = makeQueryType(190, queryTypeBoth)
	QueryBitrate    = makeQueryType(200, QueryTypeDownstream)
	QuerySelectable = makeQueryType(210, queryTypeBoth)
)

var queryTypeNames = map[QueryType]string{
	QueryUnknown:    "unknown",
	QueryPosition:   "position",
	QueryDuration:   "duration",
	QueryLatency:    "latency",
	QueryJitter:     "jitter",
	QueryRate:       "rate",
	QuerySeeking:    "seeking",
	QuerySegment:    "segment",
	QueryConvert:    "convert",
	QueryFormats:    "formats",
	QueryBuffering:  "buffering",
	QueryCustom:     "custom",
	QueryURI:        "uri",
	QueryAllocation: "allocation",
	QueryScheduling: "scheduling",
	QueryAcceptCaps: "accept-caps",
	QueryCaps:       "caps",
	QueryDrain:      "drain",
	QueryContext:    "context",
	QueryBitrate:    "bitrate",
	QuerySelectable: "selectable",
}

func (t QueryType) String() string {
	if n, ok := queryTypeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("query-type(%d)", uint32(t))
}

func (t QueryType) Flags() QueryTypeFlags { return QueryTypeFlags(t) & (1<<eventFlagBits - 1) }
func (t QueryType) IsUpstream() bool      { return t.Flags()&QueryTypeUpstream != 0 }
func (t QueryType) IsDownstream() bool    { return t.Flags()&QueryTypeDownstream != 0 }
func (t QueryType) IsSerialized() bool    { return t.Flags()&QueryTypeSerialized != 0 }

// SchedulingFlags describe how a pad can be scheduled.
type SchedulingFlags uint32

const (
	SchedulingFlagSeekable         SchedulingFlags = 1 << 0
	SchedulingFlagSequential       SchedulingFlags = 1 << 1
	SchedulingFlagBandwidthLimited SchedulingFlags = 1 << 2
)

// BufferingMode is the kind of buffering an element performs.
type BufferingMode int

const (
	BufferingStream BufferingMode = iota
	BufferingDownload
	BufferingTimeshift
	BufferingLive
)

// AllocationPool is one pool proposal in an allocation query.
type AllocationPool struct {
	Pool    *BufferPool
	Size    uint
	MinBufs uint
	MaxBufs uint
}

// AllocationParam is one allocator proposal in an allocation query.
type AllocationParam struct {
	Allocator *Allocator
	Params    AllocationParams
}

// AllocationMeta is one supported meta API in an allocation query.
type AllocationMeta struct {
	API    Type
	Params *Structure
}

// Query is a synchronous question travelling along pads. Answers are written into the
// query by the handler that answers it.
type Query struct {
	MiniObject

	typ       QueryType
	structure *Structure

	// allocation query results
	pools  []AllocationPool
	params []AllocationParam
	metas  []AllocationMeta
	// scheduling query results
	modes []PadMode
}

// QueryMut is a proven-writable view on a Query.
type QueryMut struct {
	*Query
}

// NewQuery creates a query of type t carrying s, taking ownership of s.
func NewQuery(t QueryType, s *Structure) *QueryMut {
	q := &Query{typ: t}
	q.init(TypeQuery, 0, nil, q.freeQuery)
	if s == nil {
		s = NewStructure(t.String())
	}
	s.setParent(&q.MiniObject)
	q.structure = s
	return &QueryMut{q}
}

func (q *Query) freeQuery() {
	if q.structure != nil {
		q.structure.parent = nil
		q.structure.release()
		q.structure = nil
	}
	for _, p := range q.pools {
		if p.Pool != nil {
			p.Pool.Unref()
		}
	}
	for _, m := range q.metas {
		if m.Params != nil {
			m.Params.release()
		}
	}
	q.pools, q.params, q.metas, q.modes = nil, nil, nil, nil
}

// Ref takes another reference.
func (q *Query) Ref() *Query { q.ref(); return q }

// Copy returns an independent copy.
func (q *Query) Copy() *QueryMut {
	c := NewQuery(q.typ, q.structure.Copy())
	for _, p := range q.pools {
		if p.Pool != nil {
			p.Pool.Ref()
		}
		c.pools = append(c.pools, p)
	}
	c.params = slices.Clone(q.params)
	for _, m := range q.metas {
		c.metas = append(c.metas, AllocationMeta{API: m.API, Params: m.Params.Copy()})
	}
	c.modes = slices.Clone(q.modes)
	return c
}

// GetMut returns a mutable view if q is writable.
func (q *Query) GetMut() (*QueryMut, bool) {
	if !q.IsWritable() {
		return nil, false
	}
	return &QueryMut{q}, true
}

// MakeWritable consumes the handle and returns a writable query, copying when shared.
func (q *Query) MakeWritable() *QueryMut {
	if m, ok := q.GetMut(); ok {
		return m
	}
	c := q.Copy()
	q.Unref()
	return c
}

func (q *Query) QueryType() QueryType    { return q.typ }
func (q *Query) Structure() *Structure   { return q.structure }
func (q *Query) IsUpstream() bool        { return q.typ.IsUpstream() }
func (q *Query) IsDownstream() bool      { return q.typ.IsDownstream() }
func (q *Query) IsSerialized() bool      { return q.typ.IsSerialized() }
func (q *QueryMut) Writable() *Structure { q.mustBeWritable(); return q.structure }

func (q *Query) String() string {
	return fmt.Sprintf("query %s, %s", q.typ, q.structure)
}

func (q *Query) mustBe(t QueryType) {
	if q.typ != t {
		panic(fmt.Sprintf("gst: using %s query as %s", q.typ, t))
	}
}

func queryField[T any](q *Query, field string) T {
	v, _ := Get[T](q.structure, field)
	return v
}

func (q *QueryMut) set(kv ...any) {
	q.mustBeWritable()
	q.structure.SetValues(kv...)
}

// NewPositionQuery asks for the current position in format.
func NewPositionQuery(format Format) *QueryMut {
	return NewQuery(QueryPosition, NewStructureFromFields("GstQueryPosition",
		"format", int32(format), "current", int64(-1)))
}

// ParsePosition returns format and position, -1 when unknown.
func (q *Query) ParsePosition() (Format, int64) {
	q.mustBe(QueryPosition)
	return Format(queryField[int32](q, "format")), queryField[int64](q, "current")
}

// SetPosition answers a position query.
func (q *QueryMut) SetPosition(format Format, cur int64) {
	q.mustBe(QueryPosition)
	q.set("format", int32(format), "current", cur)
}

// NewDurationQuery asks for the total duration in format.
func NewDurationQuery(format Format) *QueryMut {
	return NewQuery(QueryDuration, NewStructureFromFields("GstQueryDuration",
		"format", int32(format), "duration", int64(-1)))
}

// ParseDuration returns format and duration, -1 when unknown.
func (q *Query) ParseDuration() (Format, int64) {
	q.mustBe(QueryDuration)
	return Format(queryField[int32](q, "format")), queryField[int64](q, "duration")
}

// SetDuration answers a duration query.
func (q *QueryMut) SetDuration(format Format, dur int64) {
	q.mustBe(QueryDuration)
	q.set("format", int32(format), "duration", dur)
}

// NewLatencyQuery asks for the latency of the pipeline.
func NewLatencyQuery() *QueryMut {
	return NewQuery(QueryLatency, NewStructureFromFields("GstQueryLatency",
		"live", false, "min-latency", uint64(0), "max-latency", uint64(ClockTimeNone)))
}

// ParseLatency returns live, min and max latency.
func (q *Query) ParseLatency() (bool, ClockTime, ClockTime) {
	q.mustBe(QueryLatency)
	return queryField[bool](q, "live"), ClockTime(queryField[uint64](q, "min-latency")),
		ClockTime(queryField[uint64](q, "max-latency"))
}

// SetLatency answers a latency query.
func (q *QueryMut) SetLatency(live bool, min, max ClockTime) {
	q.mustBe(QueryLatency)
	q.set("live", live, "min-latency", uint64(min), "max-latency", uint64(max))
}

// NewSeekingQuery asks whether seeking in format is possible.
func NewSeekingQuery(format Format) *QueryMut {
	return NewQuery(QuerySeeking, NewStructureFromFields("GstQuerySeeking",
		"format", int32(format), "seekable", false, "segment-start", int64(-1), "segment-end", int64(-1)))
}

// ParseSeeking returns format, seekability and the seekable range.
func (q *Query) ParseSeeking() (Format, bool, int64, int64) {
	q.mustBe(QuerySeeking)
	return Format(queryField[int32](q, "format")), queryField[bool](q, "seekable"),
		queryField[int64](q, "segment-start"), queryField[int64](q, "segment-end")
}

// SetSeeking answers a seeking query.
func (q *QueryMut) SetSeeking(format Format, seekable bool, start, end int64) {
	q.mustBe(QuerySeeking)
	q.set("format", int32(format), "seekable", seekable, "segment-start", start, "segment-end", end)
}

// NewSegmentQuery asks for the configured segment.
func NewSegmentQuery(format Format) *QueryMut {
	return NewQuery(QuerySegment, NewStructureFromFields("GstQuerySegment",
		"rate", 1.0, "format", int32(format), "start_value", int64(-1), "stop_value", int64(-1)))
}

// ParseSegment returns rate, format, start and stop.
func (q *Query) ParseSegment() (float64, Format, int64, int64) {
	q.mustBe(QuerySegment)
	return queryField[float64](q, "rate"), Format(queryField[int32](q, "format")),
		queryField[int64](q, "start_value"), queryField[int64](q, "stop_value")
}

// SetSegment answers a segment query.
func (q *QueryMut) SetSegment(rate float64, format Format, start, stop int64) {
	q.mustBe(QuerySegment)
	q.set("rate", rate, "format", int32(format), "start_value", start, "stop_value", stop)
}

// NewConvertQuery asks to convert value from srcFormat to destFormat.
func NewConvertQuery(srcFormat Format, value int64, destFormat Format) *QueryMut {
	return NewQuery(QueryConvert, NewStructureFromFields("GstQueryConvert",
		"src_format", int32(srcFormat), "src_value", value,
		"dest_format", int32(destFormat), "dest_value", int64(-1)))
}

// ParseConvert returns the conversion request and result.
func (q *Query) ParseConvert() (Format, int64, Format, int64) {
	q.mustBe(QueryConvert)
	return Format(queryField[int32](q, "src_format")), queryField[int64](q, "src_value"),
		Format(queryField[int32](q, "dest_format")), queryField[int64](q, "dest_value")
}

// SetConvert answers a convert query.
func (q *QueryMut) SetConvert(srcFormat Format, srcValue int64, destFormat Format, destValue int64) {
	q.mustBe(QueryConvert)
	q.set("src_format", int32(srcFormat), "src_value", srcValue,
		"dest_format", int32(destFormat), "dest_value", destValue)
}

// NewFormatsQuery asks which formats are supported.
func NewFormatsQuery() *QueryMut {
	return NewQuery(QueryFormats, NewStructureFromFields("GstQueryFormats", "formats", ValueList{}))
}

// ParseFormats returns the answered formats.
func (q *Query) ParseFormats() []Format {
	q.mustBe(QueryFormats)
	l := queryField[ValueList](q, "formats")
	out := make([]Format, 0, len(l))
	for _, v := range l {
		out = append(out, Format(v.(int32)))
	}
	return out
}

// SetFormats answers a formats query.
func (q *QueryMut) SetFormats(formats ...Format) {
	q.mustBe(QueryFormats)
	l := make(ValueList, len(formats))
	for i, f := range formats {
		l[i] = int32(f)
	}
	q.set("formats", l)
}

// NewBufferingQuery asks for the buffering state.
func NewBufferingQuery(format Format) *QueryMut {
	return NewQuery(QueryBuffering, NewStructureFromFields("GstQueryBuffering",
		"busy", false, "buffer-percent", int32(100), "buffering-mode", int32(BufferingStream),
		"avg-in-rate", int32(-1), "avg-out-rate", int32(-1), "buffering-left", int64(0),
		"estimated-total", int64(-1), "format", int32(format), "start_value", int64(-1), "stop_value", int64(-1)))
}

// ParseBufferingPercent returns busy and the fill percentage.
func (q *Query) ParseBufferingPercent() (bool, int) {
	q.mustBe(QueryBuffering)
	return queryField[bool](q, "busy"), int(queryField[int32](q, "buffer-percent"))
}

// SetBufferingPercent answers the fill level of a buffering query.
func (q *QueryMut) SetBufferingPercent(busy bool, percent int) {
	q.mustBe(QueryBuffering)
	q.set("busy", busy, "buffer-percent", int32(percent))
}

// ParseBufferingStats returns mode, rates and time left.
func (q *Query) ParseBufferingStats() (BufferingMode, int, int, int64) {
	q.mustBe(QueryBuffering)
	return BufferingMode(queryField[int32](q, "buffering-mode")), int(queryField[int32](q, "avg-in-rate")),
		int(queryField[int32](q, "avg-out-rate")), queryField[int64](q, "buffering-left")
}

// SetBufferingStats answers buffering statistics.
func (q *QueryMut) SetBufferingStats(mode BufferingMode, avgIn, avgOut int, left int64) {
	q.mustBe(QueryBuffering)
	q.set("buffering-mode", int32(mode), "avg-in-rate", int32(avgIn), "avg-out-rate", int32(avgOut), "buffering-left", left)
}

// NewCustomQuery creates an application specific query, taking ownership of s.
func NewCustomQuery(s *Structure) *QueryMut { return NewQuery(QueryCustom, s) }

// NewURIQuery asks for the URI of the element.
func NewURIQuery() *QueryMut {
	return NewQuery(QueryURI, NewStructureFromFields("GstQueryURI", "uri", ""))
}

// ParseURI returns the URI and the redirection target when set.
func (q *Query) ParseURI() (uri, redirection string) {
	q.mustBe(QueryURI)
	return queryField[string](q, "uri"), queryField[string](q, "uri-redirection")
}

// SetURI answers a URI query.
func (q *QueryMut) SetURI(uri string) {
	q.mustBe(QueryURI)
	q.set("uri", uri)
}

// SetURIRedirection records a redirection target.
func (q *QueryMut) SetURIRedirection(uri string, permanent bool) {
	q.mustBe(QueryURI)
	q.set("uri-redirection", uri, "uri-redirection-permanent", permanent)
}

// NewAllocationQuery asks downstream for buffer pools, allocators and metas.
func NewAllocationQuery(caps *Caps, needPool bool) *QueryMut {
	s := NewStructure("GstQueryAllocation")
	if caps != nil {
		s.Set("caps", caps)
	}
	s.Set("need-pool", needPool)
	return NewQuery(QueryAllocation, s)
}

// ParseAllocation returns the caps (without a reference) and the need-pool flag.
func (q *Query) ParseAllocation() (*Caps, bool) {
	q.mustBe(QueryAllocation)
	return queryField[*Caps](q, "caps"), queryField[bool](q, "need-pool")
}

// AllocationPools returns the proposed pools.
func (q *Query) AllocationPools() []AllocationPool { return slices.Clone(q.pools) }

// AddAllocationPool proposes a pool. pool may be nil to only propose sizes.
func (q *QueryMut) AddAllocationPool(pool *BufferPool, size, minBufs, maxBufs uint) {
	q.mustBe(QueryAllocation)
	q.mustBeWritable()
	if pool != nil {
		pool.Ref()
	}
	q.pools = append(q.pools, AllocationPool{Pool: pool, Size: size, MinBufs: minBufs, MaxBufs: maxBufs})
}

// SetNthAllocationPool replaces proposal i.
func (q *QueryMut) SetNthAllocationPool(i int, pool *BufferPool, size, minBufs, maxBufs uint) {
	q.mustBeWritable()
	if pool != nil {
		pool.Ref()
	}
	if old := q.pools[i].Pool; old != nil {
		old.Unref()
	}
	q.pools[i] = AllocationPool{Pool: pool, Size: size, MinBufs: minBufs, MaxBufs: maxBufs}
}

// RemoveNthAllocationPool drops proposal i.
func (q *QueryMut) RemoveNthAllocationPool(i int) {
	q.mustBeWritable()
	if p := q.pools[i].Pool; p != nil {
		p.Unref()
	}
	q.pools = slices.Delete(q.pools, i, i+1)
}

// AllocationParams returns the proposed allocators.
func (q *Query) AllocationParams() []AllocationParam { return slices.Clone(q.params) }

// AddAllocationParam proposes an allocator.
func (q *QueryMut) AddAllocationParam(a *Allocator, params AllocationParams) {
	q.mustBe(QueryAllocation)
	q.mustBeWritable()
	q.params = append(q.params, AllocationParam{Allocator: a, Params: params})
}

// AllocationMetas returns the supported meta APIs.
func (q *Query) AllocationMetas() []AllocationMeta { return slices.Clone(q.metas) }

// AddAllocationMeta declares support for api, taking ownership of params.
func (q *QueryMut) AddAllocationMeta(api Type, params *Structure) {
	q.mustBe(QueryAllocation)
	q.mustBeWritable()
	q.metas = append(q.metas, AllocationMeta{API: api, Params: params})
}

// FindAllocationMeta returns the index of api, or -1.
func (q *Query) FindAllocationMeta(api Type) int {
	return slices.IndexFunc(q.metas, func(m AllocationMeta) bool { return m.API == api })
}

// RemoveNthAllocationMeta drops meta i.
func (q *QueryMut) RemoveNthAllocationMeta(i int) {
	q.mustBeWritable()
	if p := q.metas[i].Params; p != nil {
		p.release()
	}
	q.metas = slices.Delete(q.metas, i, i+1)
}

// NewSchedulingQuery asks how a pad can be scheduled.
func NewSchedulingQuery() *QueryMut {
	return NewQuery(QueryScheduling, NewStructureFromFields("GstQueryScheduling",
		"flags", uint32(0), "minsize", int32(1), "maxsize", int32(-1), "align", int32(0)))
}

// ParseScheduling returns flags, minsize, maxsize and alignment.
func (q *Query) ParseScheduling() (SchedulingFlags, int, int, int) {
	q.mustBe(QueryScheduling)
	return SchedulingFlags(queryField[uint32](q, "flags")), int(queryField[int32](q, "minsize")),
		int(queryField[int32](q, "maxsize")), int(queryField[int32](q, "align"))
}

// SetScheduling answers a scheduling query.
func (q *QueryMut) SetScheduling(flags SchedulingFlags, minsize, maxsize, align int) {
	q.mustBe(QueryScheduling)
	q.set("flags", uint32(flags), "minsize", int32(minsize), "maxsize", int32(maxsize), "align", int32(align))
}

// AddSchedulingMode declares support for mode.
func (q *QueryMut) AddSchedulingMode(mode PadMode) {
	q.mustBe(QueryScheduling)
	q.mustBeWritable()
	q.modes = append(q.modes, mode)
}

// SchedulingModes returns the supported modes.
func (q *Query) SchedulingModes() []PadMode { return slices.Clone(q.modes) }

// HasSchedulingMode reports whether mode is supported.
func (q *Query) HasSchedulingMode(mode PadMode) bool { return slices.Contains(q.modes, mode) }

// NewAcceptCapsQuery asks whether caps would be accepted.
func NewAcceptCapsQuery(caps *Caps) *QueryMut {
	return NewQuery(QueryAcceptCaps, NewStructureFromFields("GstQueryAcceptCaps",
		"caps", caps, "result", false))
}

// ParseAcceptCaps returns the caps without a reference.
func (q *Query) ParseAcceptCaps() *Caps {
	q.mustBe(QueryAcceptCaps)
	return queryField[*Caps](q, "caps")
}

// AcceptCapsResult returns the answer.
func (q *Query) AcceptCapsResult() bool {
	q.mustBe(QueryAcceptCaps)
	return queryField[bool](q, "result")
}

// SetAcceptCapsResult answers an accept-caps query.
func (q *QueryMut) SetAcceptCapsResult(ok bool) {
	q.mustBe(QueryAcceptCaps)
	q.set("result", ok)
}

// NewCapsQuery asks which caps a pad can handle, restricted to filter when non-nil.
func NewCapsQuery(filter *Caps) *QueryMut {
	s := NewStructure("GstQueryCaps")
	if filter != nil {
		s.Set("filter", filter)
	}
	return NewQuery(QueryCaps, s)
}

// ParseCaps returns the filter without a reference, or nil.
func (q *Query) ParseCaps() *Caps {
	q.mustBe(QueryCaps)
	return queryField[*Caps](q, "filter")
}

// CapsResult returns the answered caps without a reference, or nil.
func (q *Query) CapsResult() *Caps {
	q.mustBe(QueryCaps)
	return queryField[*Caps](q, "caps")
}

// SetCapsResult answers a caps query.
func (q *QueryMut) SetCapsResult(caps *Caps) {
	q.mustBe(QueryCaps)
	q.set("caps", caps)
}

// NewDrainQuery asks downstream to release all buffers it holds.
func NewDrainQuery() *QueryMut { return NewQuery(QueryDrain, nil) }

// NewContextQuery asks for a context of contextType.
func NewContextQuery(contextType string) *QueryMut {
	return NewQuery(QueryContext, NewStructureFromFields("GstQueryContext", "context-type", contextType))
}

// ParseContextType returns the requested context type.
func (q *Query) ParseContextType() string {
	q.mustBe(QueryContext)
	return queryField[string](q, "context-type")
}

// Context returns the answered context without a reference, or nil.
func (q *Query) Context() *Context {
	q.mustBe(QueryContext)
	v, _ := q.structure.Value("context")
	c, _ := v.(*Context)
	return c
}

// SetContext answers a context query.
func (q *QueryMut) SetContext(c *Context) {
	q.mustBe(QueryContext)
	q.mustBeWritable()
	q.structure.setField("context", c.Ref())
}

// NewBitrateQuery asks for the nominal bitrate.
func NewBitrateQuery() *QueryMut {
	return NewQuery(QueryBitrate, NewStructureFromFields("GstQueryBitrate", "nominal-bitrate", uint32(0)))
}

// ParseBitrate returns the nominal bitrate in bits per second.
func (q *Query) ParseBitrate() uint32 {
	q.mustBe(QueryBitrate)
	return queryField[uint32](q, "nominal-bitrate")
}

// SetBitrate answers a bitrate query.
func (q *QueryMut) SetBitrate(bitrate uint32) {
	q.mustBe(QueryBitrate)
	q.set("nominal-bitrate", bitrate)
}

// NewSelectableQuery asks whether the element handles stream selection.
func NewSelectableQuery() *QueryMut {
	return NewQuery(QuerySelectable, NewStructureFromFields("GstQuerySelectable", "selectable", false))
}

// ParseSelectable returns the answer.
func (q *Query) ParseSelectable() bool {
	q.mustBe(QuerySelectable)
	return queryField[bool](q, "selectable")
}

// SetSelectable answers a selectable query.
func (q *QueryMut) SetSelectable(selectable bool) {
	q.mustBe(QuerySelectable)
	q.set("selectable", selectable)
}
