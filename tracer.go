package gst

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Tracer observes the pipeline through hooks. A tracer implements any subset
// of the hook interfaces below; each hook receives the time since Init.
type Tracer interface {
	TracerName() string
}

type (
	PadPushTracer interface {
		PadPushPre(ts ClockTime, pad *Pad, buf *Buffer)
		PadPushPost(ts ClockTime, pad *Pad, ret FlowReturn)
	}
	PadPushListTracer interface {
		PadPushListPre(ts ClockTime, pad *Pad, list *BufferList)
		PadPushListPost(ts ClockTime, pad *Pad, ret FlowReturn)
	}
	PadPushEventTracer interface {
		PadPushEventPre(ts ClockTime, pad *Pad, ev *Event)
		PadPushEventPost(ts ClockTime, pad *Pad, res bool)
	}
	PadQueryTracer interface {
		PadQueryPre(ts ClockTime, pad *Pad, q *Query)
		PadQueryPost(ts ClockTime, pad *Pad, q *Query, res bool)
	}
	PadLinkTracer interface {
		PadLinkPre(ts ClockTime, src, sink *Pad)
		PadLinkPost(ts ClockTime, src, sink *Pad, ret PadLinkReturn)
	}
	ElementNewTracer interface {
		ElementNew(ts ClockTime, e *Element)
	}
	ElementChangeStateTracer interface {
		ElementChangeStatePre(ts ClockTime, e *Element, t StateChange)
		ElementChangeStatePost(ts ClockTime, e *Element, t StateChange, ret StateChangeReturn)
	}
	MiniObjectTracer interface {
		MiniObjectCreated(ts ClockTime, o *MiniObject)
		MiniObjectDestroyed(ts ClockTime, o *MiniObject)
	}
	MetaTracer interface {
		MetaAdded(ts ClockTime, buf *Buffer, m *Meta)
	}
)

// tracerSet is an immutable snapshot of the active tracers split by hook.
type tracerSet struct {
	all         []Tracer
	padPush     []PadPushTracer
	padPushList []PadPushListTracer
	padEvent    []PadPushEventTracer
	padQuery    []PadQueryTracer
	padLink     []PadLinkTracer
	elementNew  []ElementNewTracer
	changeState []ElementChangeStateTracer
	miniObject  []MiniObjectTracer
	meta        []MetaTracer
}

func newTracerSet(all []Tracer) *tracerSet {
	s := &tracerSet{all: all}
	for _, t := range all {
		if h, ok := t.(PadPushTracer); ok {
			s.padPush = append(s.padPush, h)
		}
		if h, ok := t.(PadPushListTracer); ok {
			s.padPushList = append(s.padPushList, h)
		}
		if h, ok := t.(PadPushEventTracer); ok {
			s.padEvent = append(s.padEvent, h)
		}
		if h, ok := t.(PadQueryTracer); ok {
			s.padQuery = append(s.padQuery, h)
		}
		if h, ok := t.(PadLinkTracer); ok {
			s.padLink = append(s.padLink, h)
		}
		if h, ok := t.(ElementNewTracer); ok {
			s.elementNew = append(s.elementNew, h)
		}
		if h, ok := t.(ElementChangeStateTracer); ok {
			s.changeState = append(s.changeState, h)
		}
		if h, ok := t.(MiniObjectTracer); ok {
			s.miniObject = append(s.miniObject, h)
		}
		if h, ok := t.(MetaTracer); ok {
			s.meta = append(s.meta, h)
		}
	}
	return s
}

var (
	tracers      atomic.Pointer[tracerSet]
	tracersMu    sync.Mutex
	tracingEpoch = time.Now()
)

func activeTracers() *tracerSet { return tracers.Load() }

func tracerTS() ClockTime { return ClockTime(time.Since(tracingEpoch)) }

// AddTracer activates t.
func AddTracer(t Tracer) {
	tracersMu.Lock()
	defer tracersMu.Unlock()
	var all []Tracer
	if s := tracers.Load(); s != nil {
		all = slices.Clone(s.all)
	}
	tracers.Store(newTracerSet(append(all, t)))
	catTracer.Info(nil, "activated tracer %s", t.TracerName())
}

// RemoveTracer deactivates t.
func RemoveTracer(t Tracer) {
	tracersMu.Lock()
	defer tracersMu.Unlock()
	s := tracers.Load()
	if s == nil {
		return
	}
	all := slices.DeleteFunc(slices.Clone(s.all), func(x Tracer) bool { return x == t })
	if len(all) == 0 {
		tracers.Store(nil)
		return
	}
	tracers.Store(newTracerSet(all))
}

// ActiveTracers returns the active tracers.
func ActiveTracers() []Tracer {
	if s := tracers.Load(); s != nil {
		return slices.Clone(s.all)
	}
	return nil
}

// TracerFactory creates tracers by name from GST_TRACERS.
type TracerFactory struct {
	pluginFeature
	create func(params string) (Tracer, error)
}

// Create returns a new tracer configured with params.
func (f *TracerFactory) Create(params string) (Tracer, error) { return f.create(params) }

// RegisterTracer registers a tracer factory. A nil plugin registers a static one.
func RegisterTracer(plugin *Plugin, name string, create func(params string) (Tracer, error)) error {
	f := &TracerFactory{pluginFeature: pluginFeature{name: name}, create: create}
	return DefaultRegistry().addFeatureFor(plugin, f)
}

// ActivateTracers activates the tracers in spec, a ';' separated list of names
// with optional parameters, e.g. "leaks;log(filter=pad)".
func ActivateTracers(spec string) error {
	var errs []string
	for _, item := range strings.Split(spec, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, params := item, ""
		if i := strings.IndexByte(item, '('); i >= 0 && strings.HasSuffix(item, ")") {
			name, params = item[:i], item[i+1:len(item)-1]
		}
		f, ok := FindFeature[*TracerFactory](DefaultRegistry(), name)
		if !ok {
			errs = append(errs, fmt.Sprintf("no tracer %q", name))
			continue
		}
		t, err := f.Create(params)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", name, err))
			continue
		}
		AddTracer(t)
	}
	if len(errs) > 0 {
		return fmt.Errorf("gst: tracers: %s", strings.Join(errs, "; "))
	}
	return nil
}

// --- hook dispatch

func tracersPadPushPre(p *Pad, buf *Buffer) {
	if s := activeTracers(); s != nil {
		ts := tracerTS()
		for _, t := range s.padPush {
			t.PadPushPre(ts, p, buf)
		}
	}
}

func tracersPadPushPost(p *Pad, ret FlowReturn) {
	if s := activeTracers(); s != nil {
		ts := tracerTS()
		for _, t := range s.padPush {
			t.PadPushPost(ts, p, ret)
		}
	}
}

func tracersPadPushListPre(p *Pad, list *BufferList) {
	if s := activeTracers(); s != nil {
		ts := tracerTS()
		for _, t := range s.padPushList {
			t.PadPushListPre(ts, p, list)
		}
	}
}

func tracersPadPushListPost(p *Pad, ret FlowReturn) {
	if s := activeTracers(); s != nil {
		ts := tracerTS()
		for _, t := range s.padPushList {
			t.PadPushListPost(ts, p, ret)
		}
	}
}

func tracersPadPushEventPre(p *Pad, ev *Event) {
	if s := activeTracers(); s != nil {
		ts := tracerTS()
		for _, t := range s.padEvent {
			t.PadPushEventPre(ts, p, ev)
		}
	}
}

func tracersPadPushEventPost(p *Pad, res bool) {
	if s := activeTracers(); s != nil {
		ts := tracerTS()
		for _, t := range s.padEvent {
			t.PadPushEventPost(ts, p, res)
		}
	}
}

func tracersPadQueryPre(p *Pad, q *QueryMut) {
	if s := activeTracers(); s != nil {
		ts := tracerTS()
		for _, t := range s.padQuery {
			t.PadQueryPre(ts, p, q.Query)
		}
	}
}

func tracersPadQueryPost(p *Pad, q *QueryMut, res bool) {
	if s := activeTracers(); s != nil {
		ts := tracerTS()
		for _, t := range s.padQuery {
			t.PadQueryPost(ts, p, q.Query, res)
		}
	}
}

func tracersPadLinkPre(src, sink *Pad) {
	if s := activeTracers(); s != nil {
		ts := tracerTS()
		for _, t := range s.padLink {
			t.PadLinkPre(ts, src, sink)
		}
	}
}

func tracersPadLinkPost(src, sink *Pad, ret PadLinkReturn) {
	if s := activeTracers(); s != nil {
		ts := tracerTS()
		for _, t := range s.padLink {
			t.PadLinkPost(ts, src, sink, ret)
		}
	}
}

func tracersElementNew(e *Element) {
	if s := activeTracers(); s != nil {
		ts := tracerTS()
		for _, t := range s.elementNew {
			t.ElementNew(ts, e)
		}
	}
}

func tracersElementChangeStatePre(e *Element, tr StateChange) {
	if s := activeTracers(); s != nil {
		ts := tracerTS()
		for _, t := range s.changeState {
			t.ElementChangeStatePre(ts, e, tr)
		}
	}
}

func tracersElementChangeStatePost(e *Element, tr StateChange, ret StateChangeReturn) {
	if s := activeTracers(); s != nil {
		ts := tracerTS()
		for _, t := range s.changeState {
			t.ElementChangeStatePost(ts, e, tr, ret)
		}
	}
}

func tracersMiniObjectCreated(o *MiniObject) {
	if s := activeTracers(); s != nil {
		ts := tracerTS()
		for _, t := range s.miniObject {
			t.MiniObjectCreated(ts, o)
		}
	}
}

func tracersMiniObjectDestroyed(o *MiniObject) {
	if s := activeTracers(); s != nil {
		ts := tracerTS()
		for _, t := range s.miniObject {
			t.MiniObjectDestroyed(ts, o)
		}
	}
}

func tracersMetaAdded(buf *Buffer, m *Meta) {
	if s := activeTracers(); s != nil {
		ts := tracerTS()
		for _, t := range s.meta {
			t.MetaAdded(ts, buf, m)
		}
	}
}

// --- builtin tracers

// LeaksTracer tracks MiniObjects created while it is active and reports those
// still alive. Objects flagged may-be-leaked are ignored.
type LeaksTracer struct {
	filter []Type

	mu   sync.Mutex
	live map[*MiniObject]ClockTime
}

// NewLeaksTracer returns a leaks tracer. params may be "filter=GstBuffer,GstCaps"
// to restrict tracking to those types.
func NewLeaksTracer(params string) (*LeaksTracer, error) {
	t := &LeaksTracer{live: make(map[*MiniObject]ClockTime)}
	params = strings.TrimSpace(params)
	if params == "" {
		return t, nil
	}
	names, ok := strings.CutPrefix(params, "filter=")
	if !ok {
		return nil, fmt.Errorf("unknown parameter %q", params)
	}
	for _, n := range strings.Split(names, ",") {
		typ, ok := TypeFromName(strings.TrimSpace(n))
		if !ok {
			return nil, fmt.Errorf("unknown type %q", n)
		}
		t.filter = append(t.filter, typ)
	}
	return t, nil
}

func (t *LeaksTracer) TracerName() string { return "leaks" }

func (t *LeaksTracer) tracks(o *MiniObject) bool {
	return len(t.filter) == 0 || slices.Contains(t.filter, o.Type())
}

func (t *LeaksTracer) MiniObjectCreated(ts ClockTime, o *MiniObject) {
	if !t.tracks(o) {
		return
	}
	t.mu.Lock()
	t.live[o] = ts
	t.mu.Unlock()
}

func (t *LeaksTracer) MiniObjectDestroyed(_ ClockTime, o *MiniObject) {
	t.mu.Lock()
	delete(t.live, o)
	t.mu.Unlock()
}

// Leak describes a tracked object still alive.
type Leak struct {
	Type     Type
	Refcount int32
	Created  ClockTime
}

// Leaks returns the tracked objects still alive, oldest first.
func (t *LeaksTracer) Leaks() []Leak {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Leak
	for o, ts := range t.live {
		if o.HasFlags(MiniObjectFlagMayBeLeaked) {
			continue
		}
		out = append(out, Leak{Type: o.Type(), Refcount: o.RefCount(), Created: ts})
	}
	slices.SortFunc(out, func(a, b Leak) int { return cmp.Compare(a.Created, b.Created) })
	return out
}

// LogLeaks logs every leak as a warning and returns how many there were.
func (t *LeaksTracer) LogLeaks() int {
	leaks := t.Leaks()
	for _, l := range leaks {
		catTracer.Warning(nil, "leaked %s (refcount %d, created at %s)", l.Type, l.Refcount, l.Created)
	}
	return len(leaks)
}

// LogTracer logs every hook at trace level.
type LogTracer struct{}

func (LogTracer) TracerName() string { return "log" }

func (LogTracer) PadPushPre(ts ClockTime, pad *Pad, buf *Buffer) {
	catTracer.Trace(pad, "%s push %s", ts, buf)
}

func (LogTracer) PadPushPost(ts ClockTime, pad *Pad, ret FlowReturn) {
	catTracer.Trace(pad, "%s pushed: %s", ts, ret)
}

func (LogTracer) PadPushListPre(ts ClockTime, pad *Pad, list *BufferList) {
	catTracer.Trace(pad, "%s push list of %d", ts, list.Len())
}

func (LogTracer) PadPushListPost(ts ClockTime, pad *Pad, ret FlowReturn) {
	catTracer.Trace(pad, "%s pushed list: %s", ts, ret)
}

func (LogTracer) PadPushEventPre(ts ClockTime, pad *Pad, ev *Event) {
	catTracer.Trace(pad, "%s push event %s", ts, ev.EventType())
}

func (LogTracer) PadPushEventPost(ts ClockTime, pad *Pad, res bool) {
	catTracer.Trace(pad, "%s pushed event: %t", ts, res)
}

func (LogTracer) PadQueryPre(ts ClockTime, pad *Pad, q *Query) {
	catTracer.Trace(pad, "%s query %s", ts, q.QueryType())
}

func (LogTracer) PadQueryPost(ts ClockTime, pad *Pad, q *Query, res bool) {
	catTracer.Trace(pad, "%s queried %s: %t", ts, q.QueryType(), res)
}

func (LogTracer) PadLinkPre(ts ClockTime, src, sink *Pad) {
	catTracer.Trace(src, "%s link to %s", ts, sink)
}

func (LogTracer) PadLinkPost(ts ClockTime, src, sink *Pad, ret PadLinkReturn) {
	catTracer.Trace(src, "%s linked to %s: %d", ts, sink, int(ret))
}

func (LogTracer) ElementNew(ts ClockTime, e *Element) {
	catTracer.Trace(e, "%s new element", ts)
}

func (LogTracer) ElementChangeStatePre(ts ClockTime, e *Element, t StateChange) {
	catTracer.Trace(e, "%s change state %s", ts, t)
}

func (LogTracer) ElementChangeStatePost(ts ClockTime, e *Element, t StateChange, ret StateChangeReturn) {
	catTracer.Trace(e, "%s changed state %s: %s", ts, t, ret)
}

func registerBuiltinTracers() {
	_ = RegisterTracer(nil, "leaks", func(params string) (Tracer, error) {
		return NewLeaksTracer(params)
	})
	_ = RegisterTracer(nil, "log", func(string) (Tracer, error) { return LogTracer{}, nil })
}
