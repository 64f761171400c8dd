package gst

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stateRecorder records transitions. It fails on fail and answers async on
// async; the zero StateChange never matches a real transition.
type stateRecorder struct {
	mu    sync.Mutex
	seen  []StateChange
	fail  StateChange
	async StateChange
	boom  StateChange
}

func (r *stateRecorder) ChangeState(e *Element, t StateChange) StateChangeReturn {
	r.mu.Lock()
	r.seen = append(r.seen, t)
	r.mu.Unlock()
	switch t {
	case r.fail:
		return StateChangeFailure
	case r.boom:
		panic("state change exploded")
	}
	ret := e.ParentChangeState(t)
	if t == r.async && ret == StateChangeSuccess {
		return StateChangeAsync
	}
	return ret
}

func (r *stateRecorder) transitions() []StateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StateChange(nil), r.seen...)
}

func stateChanges(t *testing.T, bus *Bus, src string) [][3]State {
	t.Helper()
	var out [][3]State
	for {
		msg := bus.PopFiltered(MessageStateChanged)
		if msg == nil {
			return out
		}
		if msg.SrcName() == src {
			old, cur, pending := msg.ParseStateChanged()
			out = append(out, [3]State{old, cur, pending})
		}
		msg.Unref()
	}
}

func TestElementStateWalk(t *testing.T) {
	rec := &stateRecorder{}
	e := NewElement("walker", rec)
	bus := NewBus()
	e.SetBus(bus)

	require.Equal(t, StateChangeSuccess, e.SetState(StatePlaying))
	assert.Equal(t, StatePlaying, e.CurrentState())
	assert.Equal(t, StateVoidPending, e.PendingState())
	assert.Equal(t, []StateChange{StateChangeNullToReady, StateChangeReadyToPaused, StateChangePausedToPlaying}, rec.transitions())
	assert.Equal(t, [][3]State{
		{StateNull, StateReady, StatePlaying},
		{StateReady, StatePaused, StatePlaying},
		{StatePaused, StatePlaying, StateVoidPending},
	}, stateChanges(t, bus, "walker"))

	require.Equal(t, StateChangeSuccess, e.SetState(StateNull))
	assert.Equal(t, StateNull, e.CurrentState())
	assert.Len(t, rec.transitions(), 6)
}

func TestElementAsyncState(t *testing.T) {
	rec := &stateRecorder{async: StateChangeReadyToPaused}
	e := NewElement("async", rec)
	bus := NewBus()
	e.SetBus(bus)

	require.Equal(t, StateChangeAsync, e.SetState(StatePaused))
	ret, cur, pending := e.GetState(0)
	assert.Equal(t, StateChangeAsync, ret)
	assert.Equal(t, StateReady, cur)
	assert.Equal(t, StatePaused, pending)

	go e.ContinueState(StateChangeSuccess)
	ret, cur, pending = e.GetState(5 * Second)
	assert.Equal(t, StateChangeSuccess, ret)
	assert.Equal(t, StatePaused, cur)
	assert.Equal(t, StateVoidPending, pending)
	assert.Contains(t, stateChanges(t, bus, "async"), [3]State{StateReady, StatePaused, StateVoidPending})

	// downward changes complete even when the implementation answers async
	rec.async = StateChangePausedToReady
	assert.Equal(t, StateChangeSuccess, e.SetState(StateNull))
	assert.Equal(t, StateNull, e.CurrentState())
}

func TestElementStateFailure(t *testing.T) {
	rec := &stateRecorder{fail: StateChangeReadyToPaused}
	e := NewElement("failing", rec)

	assert.Equal(t, StateChangeFailure, e.SetState(StatePlaying))
	assert.Equal(t, StateReady, e.CurrentState())
	ret, cur, pending := e.GetState(0)
	assert.Equal(t, StateChangeFailure, ret)
	assert.Equal(t, StateReady, cur)
	assert.Equal(t, StateVoidPending, pending)

	// a failure does not stick once a new state is requested
	assert.Equal(t, StateChangeSuccess, e.SetState(StateNull))

	panicking := NewElement("panicking", &stateRecorder{boom: StateChangeNullToReady})
	assert.Equal(t, StateChangeFailure, panicking.SetState(StateReady))
	assert.Equal(t, StateNull, panicking.CurrentState())
}

func TestElementAbortState(t *testing.T) {
	e := NewElement("abort", &stateRecorder{async: StateChangeReadyToPaused})
	require.Equal(t, StateChangeAsync, e.SetState(StatePaused))
	e.AbortState()
	ret, cur, _ := e.GetState(Second)
	assert.Equal(t, StateChangeFailure, ret)
	assert.Equal(t, StateReady, cur)
}

func TestElementPads(t *testing.T) {
	e := NewElement("padded", nil)
	var added, removed []string
	e.ConnectPadAdded(func(_ *Element, p *Pad) { added = append(added, p.Name()) })
	e.ConnectPadRemoved(func(_ *Element, p *Pad) { removed = append(removed, p.Name()) })

	src := NewPad("src", PadDirectionSrc)
	require.NoError(t, e.AddPad(src))
	assert.Error(t, e.AddPad(NewPad("src", PadDirectionSrc)))
	assert.Error(t, NewElement("other", nil).AddPad(src))
	assert.Same(t, src, e.StaticPad("src"))
	assert.Same(t, e, src.ParentElement())
	assert.False(t, src.IsActive())

	require.Equal(t, StateChangeSuccess, e.SetState(StatePaused))
	assert.True(t, src.IsActive())
	late := NewPad("sink", PadDirectionSink)
	require.NoError(t, e.AddPad(late))
	assert.True(t, late.IsActive())
	assert.Len(t, e.SinkPads(), 1)

	require.Equal(t, StateChangeSuccess, e.SetState(StateReady))
	assert.False(t, src.IsActive())

	require.NoError(t, e.RemovePad(late))
	assert.Nil(t, e.StaticPad("sink"))
	assert.Error(t, e.RemovePad(late))
	assert.Equal(t, []string{"src", "sink"}, added)
	assert.Equal(t, []string{"sink"}, removed)
	e.SetState(StateNull)
}

type requestImpl struct{}

func (requestImpl) RequestNewPad(e *Element, tmpl *PadTemplate, name string, _ *Caps) *Pad {
	if name == "" {
		name = e.NextRequestPadName(tmpl)
	}
	p := NewPadFromTemplate(tmpl, name)
	if err := e.AddPad(p); err != nil {
		return nil
	}
	return p
}

func TestElementRequestPads(t *testing.T) {
	class := &ElementClass{
		TypeName: "GstTestTee",
		PadTemplates: []*PadTemplate{
			MustPadTemplate("sink", PadDirectionSink, PadAlways, NewCapsAny()),
			MustPadTemplate("src_%u", PadDirectionSrc, PadRequest, NewCapsAny()),
		},
	}
	e := NewElementWithClass(class, "", requestImpl{})
	assert.Equal(t, "testtee0", e.Name())

	p0 := e.RequestPadSimple("src_%u")
	require.NotNil(t, p0)
	assert.Equal(t, "src_0", p0.Name())
	p1 := e.RequestPadSimple("src_%u")
	require.NotNil(t, p1)
	assert.Equal(t, "src_1", p1.Name())

	assert.Nil(t, e.RequestPadSimple("src_1"), "name already taken")
	assert.Nil(t, e.RequestPad(class.PadTemplate("sink"), "", nil), "not a request template")
	named := e.RequestPadSimple("src_7")
	require.NotNil(t, named)
	assert.Equal(t, "src_7", named.Name())

	e.ReleaseRequestPad(p0)
	assert.Nil(t, e.StaticPad("src_0"))
	assert.Equal(t, "src_0", e.NextRequestPadName(class.PadTemplate("src_%u")))
}

func TestElementLink(t *testing.T) {
	src := NewElement("src", nil)
	require.NoError(t, src.AddPad(NewPad("src", PadDirectionSrc)))
	filter := NewElement("filter", nil)
	require.NoError(t, filter.AddPad(NewPad("sink", PadDirectionSink)))
	require.NoError(t, filter.AddPad(NewPad("src", PadDirectionSrc)))
	sink := NewElement("sink", nil)
	require.NoError(t, sink.AddPad(NewPad("sink", PadDirectionSink)))

	require.NoError(t, LinkMany(src, filter, sink))
	assert.Same(t, filter.StaticPad("sink"), src.StaticPad("src").Peer())
	assert.Same(t, sink.StaticPad("sink"), filter.StaticPad("src").Peer())
	assert.Error(t, src.Link(sink), "no free source pad")
	assert.Error(t, src.LinkPads("nope", sink, ""))

	UnlinkMany(src, filter, sink)
	assert.False(t, src.StaticPad("src").IsLinked())
	assert.False(t, filter.StaticPad("src").IsLinked())
}
