package gst

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func plainElement(t *testing.T, name string, dirs ...PadDirection) *Element {
	t.Helper()
	e := NewElement(name, nil)
	for _, d := range dirs {
		pn := "src"
		if d == PadDirectionSink {
			pn = "sink"
		}
		require.NoError(t, e.AddPad(NewPad(pn, d)))
	}
	return e
}

func TestBinMembership(t *testing.T) {
	bin := NewBin("outer")
	inner := NewBin("inner")
	a := plainElement(t, "a", PadDirectionSrc)
	b := plainElement(t, "b", PadDirectionSink)
	c := plainElement(t, "c", PadDirectionSink)

	var added []string
	bin.ConnectElementAdded(func(_ *Bin, c *Element) { added = append(added, c.Name()) })

	require.NoError(t, bin.Add(a, inner, c))
	require.NoError(t, inner.Add(b))
	assert.Error(t, bin.Add(plainElement(t, "a")), "duplicate name")
	assert.Error(t, inner.Add(bin), "adding an ancestor")
	assert.Error(t, NewBin("other").Add(a), "already parented")

	assert.Equal(t, []string{"a", "inner", "c"}, added)
	assert.Same(t, b, bin.ByName("b"))
	assert.Same(t, a, inner.ByNameRecurseUp("a"))
	assert.Len(t, bin.Recurse(), 4)
	assert.Same(t, bin, a.ParentBin())
	assert.True(t, bin.HasObjectFlags(ElementFlagSource))
	assert.True(t, inner.HasObjectFlags(ElementFlagSink))

	cookie := bin.ChildrenCookie()
	assert.Error(t, a.Link(b), "pads must share a parent bin")
	require.NoError(t, a.Link(c))
	require.NoError(t, bin.Remove(a))
	assert.NotEqual(t, cookie, bin.ChildrenCookie())
	assert.False(t, a.StaticPad("src").IsLinked())
	assert.Nil(t, a.Parent())
	assert.Nil(t, a.Bus())
	assert.False(t, bin.HasObjectFlags(ElementFlagSource))
	assert.Error(t, bin.Remove(a))

	assert.Equal(t, 2, bin.ChildrenCount())
	assert.Equal(t, "inner", bin.ChildByIndex(0).AsObject().Name())
	assert.Equal(t, "c", bin.ChildByIndex(1).AsObject().Name())
	assert.Nil(t, bin.ChildByIndex(2))
}

func TestBinSorted(t *testing.T) {
	bin := NewBin("sorted")
	src := plainElement(t, "src", PadDirectionSrc)
	mid := plainElement(t, "mid", PadDirectionSink, PadDirectionSrc)
	sink := plainElement(t, "sink", PadDirectionSink)
	lone := plainElement(t, "lone")
	require.NoError(t, bin.Add(src, mid, sink, lone))
	require.NoError(t, LinkMany(src, mid, sink))

	order := map[string]int{}
	for i, e := range bin.Sorted() {
		order[e.Name()] = i
	}
	assert.Len(t, order, 4)
	assert.Less(t, order["sink"], order["mid"])
	assert.Less(t, order["mid"], order["src"])
	assert.Equal(t, []*Element{sink}, bin.Sinks())
	assert.Equal(t, []*Element{src}, bin.Sources())
}

func TestBinStatePropagation(t *testing.T) {
	p := NewPipeline("pipe")
	src := plainElement(t, "src", PadDirectionSrc)
	sink := plainElement(t, "sink", PadDirectionSink)
	locked := plainElement(t, "locked")
	locked.SetLockedState(true)
	require.NoError(t, p.Add(src, sink, locked))
	require.NoError(t, src.Link(sink))

	require.Equal(t, StateChangeSuccess, p.SetState(StatePlaying))
	assert.Equal(t, StatePlaying, src.CurrentState())
	assert.Equal(t, StatePlaying, sink.CurrentState())
	assert.Equal(t, StateNull, locked.CurrentState())
	assert.True(t, src.StaticPad("src").IsActive())

	// children report through the bin onto the pipeline bus
	changes := stateChanges(t, p.Bus(), "sink")
	require.NotEmpty(t, changes)
	assert.Equal(t, StatePlaying, changes[len(changes)-1][1])

	require.Equal(t, StateChangeSuccess, p.SetState(StateNull))
	assert.Equal(t, StateNull, sink.CurrentState())
	assert.False(t, src.StaticPad("src").IsActive())
}

func TestBinChildFailure(t *testing.T) {
	p := NewPipeline("failpipe")
	bad := NewElement("bad", &stateRecorder{fail: StateChangeReadyToPaused})
	good := plainElement(t, "good", PadDirectionSink)
	require.NoError(t, p.Add(bad, good))

	assert.Equal(t, StateChangeFailure, p.SetState(StatePaused))
	assert.Equal(t, StateReady, p.CurrentState())
	require.Equal(t, StateChangeSuccess, p.SetState(StateNull))
}

func TestBinAsyncChild(t *testing.T) {
	p := NewPipeline("asyncpipe")
	child := NewElement("prerolling", &stateRecorder{async: StateChangeReadyToPaused})
	require.NoError(t, p.Add(child))

	require.Equal(t, StateChangeAsync, p.SetState(StatePaused))
	ret, _, pending := p.GetState(0)
	assert.Equal(t, StateChangeAsync, ret)
	assert.Equal(t, StatePaused, pending)

	// the child prerolls: it commits and tells its parent
	child.ContinueState(StateChangeSuccess)
	child.PostMessage(NewAsyncDoneMessage(child, ClockTimeNone))

	ret, cur, pending := p.GetState(5 * Second)
	assert.Equal(t, StateChangeSuccess, ret)
	assert.Equal(t, StatePaused, cur)
	assert.Equal(t, StateVoidPending, pending)
	msg := p.Bus().TimedPopFiltered(5*Second, MessageAsyncDone)
	require.NotNil(t, msg)
	assert.Equal(t, "asyncpipe", msg.SrcName())
	msg.Unref()

	require.Equal(t, StateChangeSuccess, p.SetState(StateNull))
}

func TestPipelineEOS(t *testing.T) {
	p := NewPipeline("eospipe")
	s1 := plainElement(t, "s1", PadDirectionSink)
	s2 := plainElement(t, "s2", PadDirectionSink)
	require.NoError(t, p.Add(s1, s2))
	require.Equal(t, StateChangeSuccess, p.SetState(StatePlaying))

	require.True(t, s1.PostMessage(NewEOSMessage(s1)))
	assert.Nil(t, p.Bus().PopFiltered(MessageEOS), "one sink is still running")
	require.True(t, s2.PostMessage(NewEOSMessage(s2)))
	msg := p.Bus().TimedPopFiltered(Second, MessageEOS)
	require.NotNil(t, msg)
	assert.Equal(t, "eospipe", msg.SrcName())
	msg.Unref()

	// errors are forwarded untouched
	s1.PostError(errors.New("broken"), "details")
	msg = p.Bus().TimedPopFiltered(Second, MessageError)
	require.NotNil(t, msg)
	err, debug := msg.ParseError()
	assert.EqualError(t, err, "broken")
	assert.Equal(t, "details", debug)
	assert.Equal(t, "s1", msg.SrcName())
	msg.Unref()

	require.Equal(t, StateChangeSuccess, p.SetState(StateNull))
	assert.False(t, p.Bus().Post(NewEOSMessage(p)), "the bus flushes in NULL")
}

func TestPipelineClock(t *testing.T) {
	p := NewPipeline("clocked")
	child := plainElement(t, "child", PadDirectionSink)
	require.NoError(t, p.Add(child))

	require.Equal(t, StateChangeSuccess, p.SetState(StatePlaying))
	assert.Same(t, SystemClock(), p.Clock())
	assert.Same(t, SystemClock(), child.Clock())
	assert.Equal(t, p.BaseTime(), child.BaseTime())
	assert.True(t, child.CurrentRunningTime().IsValid())

	msg := p.Bus().PopFiltered(MessageNewClock)
	require.NotNil(t, msg)
	assert.Same(t, SystemClock(), msg.ParseNewClock())
	msg.Unref()

	require.Equal(t, StateChangeSuccess, p.SetState(StatePaused))
	assert.True(t, p.StartTime().IsValid())
	require.Equal(t, StateChangeSuccess, p.SetState(StateNull))
	assert.Nil(t, p.Clock())

	fixed := NewClock("fixed", &manualClock{})
	p.UseClock(fixed)
	assert.Same(t, fixed, p.PipelineClock())
	p.AutoClock()
	assert.Same(t, SystemClock(), p.PipelineClock())
}

func TestSetParentErrorWhileParentRenames(t *testing.T) {
	parent := NewElement("p0", nil)
	child := NewElement("child", nil)
	require.NoError(t, child.SetParent(parent))

	other := NewElement("other", nil)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range 200 {
			// parent is unparented itself, so renaming is allowed
			_ = parent.SetName("p" + string(rune('a'+i%26)))
		}
	}()
	for range 200 {
		err := child.SetParent(other)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already has parent p")
		assert.Contains(t, child.PathString(), "/child")
	}
	wg.Wait()
	assert.Same(t, parent.AsObject(), child.Parent())
}
