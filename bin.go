package gst

import (
	"fmt"
	"slices"
	"sync"

	"github.com/hashicorp/go-multierror"
)

// Bin capability hooks. Bins chain up with ParentAddElement, ParentRemoveElement
// and ParentHandleMessage.
type (
	AddElementImpl interface {
		AddElement(b *Bin, e *Element) error
	}
	RemoveElementImpl interface {
		RemoveElement(b *Bin, e *Element) error
	}
	HandleMessageImpl interface {
		HandleMessage(b *Bin, msg *Message)
	}
)

// BinFlagNoResync keeps the bin from resorting children on membership changes.
const (
	BinFlagNoResync     ObjectFlags = ElementFlagLast << 0
	BinFlagStreamsAware ObjectFlags = ElementFlagLast << 1
	BinFlagLast         ObjectFlags = ElementFlagLast << 5
)

// Bin is an element containing other elements. It drives their states,
// collects their messages on an internal bus and forwards what its parent
// needs to see.
type Bin struct {
	Element

	childBus *Bus

	// protected by the object lock
	children       []*Element
	childrenCookie uint32
	clockDirty     bool
	provider       *Element
	providedClock  *Clock

	asyncMu      sync.Mutex
	asyncPending map[*Element]struct{}
	asyncDone    map[*Element]struct{}
	inChange     bool
	eosSenders   map[*Element]struct{}
	eosSeqnum    uint32
	eosPosted    bool
	streamStarts map[*Element]struct{}

	cbMu         sync.Mutex
	childAdded   []func(b *Bin, child *Element)
	childRemoved []func(b *Bin, child *Element)
}

var binVTable elementVTable

func init() {
	binVTable = elementBaseVTable
	binVTable.changeState = func(e *Element, t StateChange) StateChangeReturn {
		return e.self.(interface{ AsBin() *Bin }).AsBin().changeStateDefault(t)
	}
	binVTable.sendEvent = func(e *Element, ev *Event) bool {
		return e.self.(interface{ AsBin() *Bin }).AsBin().sendEventDefault(ev)
	}
	binVTable.query = func(e *Element, q *QueryMut) bool {
		return e.self.(interface{ AsBin() *Bin }).AsBin().queryDefault(q)
	}
	binVTable.setClock = func(e *Element, c *Clock) bool {
		return e.self.(interface{ AsBin() *Bin }).AsBin().setClockDefault(c)
	}
	binVTable.provideClock = func(e *Element) *Clock {
		return e.self.(interface{ AsBin() *Bin }).AsBin().provideClockDefault()
	}
	binVTable.setContext = func(e *Element, c *Context) {
		e.self.(interface{ AsBin() *Bin }).AsBin().setContextDefault(c)
	}
}

// NewBin returns an empty bin.
func NewBin(name string) *Bin { return NewBinWithImpl(name, nil) }

// NewBinWithImpl returns an empty bin driven by impl.
func NewBinWithImpl(name string, impl ElementImpl) *Bin {
	return newBin(&ElementClass{Kind: ElementKindBin}, name, impl, nil)
}

func newBin(class *ElementClass, name string, impl ElementImpl, f *ElementFactory) *Bin {
	b := &Bin{}
	b.factory = f
	b.initBin(b, class, name, impl, &binVTable)
	b.construct()
	return b
}

func (b *Bin) initBin(self any, class *ElementClass, name string, impl ElementImpl, vt *elementVTable) {
	b.initElement(self, class, name, impl, vt)
	b.asyncPending = make(map[*Element]struct{})
	b.asyncDone = make(map[*Element]struct{})
	b.eosSenders = make(map[*Element]struct{})
	b.streamStarts = make(map[*Element]struct{})
	b.childBus = NewBus()
	b.childBus.SetSyncHandler(func(_ *Bus, msg *Message) BusSyncReply {
		b.handleMessage(msg)
		return BusDrop
	})
	b.clockDirty = true
}

// AsBin returns b.
func (b *Bin) AsBin() *Bin { return b }

// AsBin returns the bin behind v.
func AsBin(v any) (*Bin, bool) {
	h, ok := v.(interface{ AsBin() *Bin })
	if !ok || h == nil {
		return nil, false
	}
	return h.AsBin(), true
}

// --- membership

// Add adds elements to the bin. It stops at the first failure.
func (b *Bin) Add(elements ...ElementHandle) error {
	for _, h := range elements {
		e := h.AsElement()
		var err error
		if impl, ok := b.impl.(AddElementImpl); ok {
			func() {
				defer catchPanic(catElement, b, "add_element", &err)
				err = impl.AddElement(b, e)
			}()
		} else {
			err = b.addElement(e)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ParentAddElement runs the builtin AddElement.
func (b *Bin) ParentAddElement(e *Element) error { return b.addElement(e) }

func (b *Bin) addElement(e *Element) error {
	if e == &b.Element || b.HasAsAncestor(e) {
		return fmt.Errorf("gst: cannot add %s to itself or its descendant", e.Name())
	}
	name := e.Name()
	b.mu.Lock()
	for _, c := range b.children {
		if c.Name() == name {
			b.mu.Unlock()
			return fmt.Errorf("gst: %s already has a child named %q", b.Name(), name)
		}
	}
	if err := e.SetParent(b); err != nil {
		b.mu.Unlock()
		return err
	}
	b.children = slices.Insert(b.children, 0, e)
	b.childrenCookie++
	if e.isSink() {
		b.SetObjectFlags(ElementFlagSink)
	}
	if e.isSource() {
		b.SetObjectFlags(ElementFlagSource)
	}
	if e.HasObjectFlags(ElementFlagProvideClock) {
		b.clockDirty = true
		b.SetObjectFlags(ElementFlagProvideClock)
	}
	clock, base, start := b.clock, b.baseTime, b.startTime
	b.mu.Unlock()

	e.SetBus(b.childBus)
	e.SetBaseTime(base)
	e.SetStartTime(start)
	if clock != nil {
		e.SetClock(clock)
	}
	for _, c := range b.Contexts() {
		e.SetContext(c)
		c.Unref()
	}
	catElement.Debug(b, "added element %s", name)

	b.cbMu.Lock()
	fns := slices.Clone(b.childAdded)
	b.cbMu.Unlock()
	for _, fn := range fns {
		fn(b, e)
	}
	return nil
}

// Remove removes elements from the bin. Their pads are unlinked.
func (b *Bin) Remove(elements ...ElementHandle) error {
	for _, h := range elements {
		e := h.AsElement()
		var err error
		if impl, ok := b.impl.(RemoveElementImpl); ok {
			func() {
				defer catchPanic(catElement, b, "remove_element", &err)
				err = impl.RemoveElement(b, e)
			}()
		} else {
			err = b.removeElement(e)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ParentRemoveElement runs the builtin RemoveElement.
func (b *Bin) ParentRemoveElement(e *Element) error { return b.removeElement(e) }

func (b *Bin) removeElement(e *Element) error {
	b.mu.Lock()
	i := slices.Index(b.children, e)
	if i < 0 {
		b.mu.Unlock()
		return fmt.Errorf("gst: %s is not a child of %s", e.Name(), b.Name())
	}
	b.children = slices.Delete(b.children, i, i+1)
	b.childrenCookie++
	if b.provider == e {
		b.provider = nil
		b.providedClock = nil
		b.clockDirty = true
	}
	b.mu.Unlock()

	for _, p := range e.Pads() {
		if peer := p.Peer(); peer != nil {
			if p.IsSrc() {
				_ = p.Unlink(peer)
			} else {
				_ = peer.Unlink(p)
			}
		}
	}
	e.SetBus(nil)
	e.Unparent()
	b.updateFlags()

	b.asyncMu.Lock()
	_, wasPending := b.asyncPending[e]
	delete(b.asyncPending, e)
	delete(b.asyncDone, e)
	delete(b.eosSenders, e)
	delete(b.streamStarts, e)
	empty := len(b.asyncPending) == 0
	inChange := b.inChange
	b.asyncMu.Unlock()
	if wasPending && empty && !inChange {
		b.commitAsync()
	}
	catElement.Debug(b, "removed element %s", e.Name())

	b.cbMu.Lock()
	fns := slices.Clone(b.childRemoved)
	b.cbMu.Unlock()
	for _, fn := range fns {
		fn(b, e)
	}
	return nil
}

func (b *Bin) updateFlags() {
	var sink, src, clock bool
	for _, c := range b.Children() {
		sink = sink || c.isSink()
		src = src || c.isSource()
		clock = clock || c.HasObjectFlags(ElementFlagProvideClock)
	}
	for _, f := range []struct {
		on   bool
		flag ObjectFlags
	}{{sink, ElementFlagSink}, {src, ElementFlagSource}, {clock, ElementFlagProvideClock}} {
		if f.on {
			b.SetObjectFlags(f.flag)
		} else {
			b.UnsetObjectFlags(f.flag)
		}
	}
}

// ConnectElementAdded registers fn to run after a child was added, outside the
// bin lock.
func (b *Bin) ConnectElementAdded(fn func(b *Bin, child *Element)) {
	b.cbMu.Lock()
	b.childAdded = append(b.childAdded, fn)
	b.cbMu.Unlock()
}

// ConnectElementRemoved registers fn to run after a child was removed.
func (b *Bin) ConnectElementRemoved(fn func(b *Bin, child *Element)) {
	b.cbMu.Lock()
	b.childRemoved = append(b.childRemoved, fn)
	b.cbMu.Unlock()
}

// Children returns the children, most recently added first.
func (b *Bin) Children() []*Element {
	b.mu.Lock()
	defer b.mu.Unlock()
	return slices.Clone(b.children)
}

// NumChildren returns the number of children.
func (b *Bin) NumChildren() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.children)
}

// ChildrenCookie changes whenever the children change.
func (b *Bin) ChildrenCookie() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.childrenCookie
}

// ByName returns the child called name, searching nested bins too.
func (b *Bin) ByName(name string) *Element {
	for _, c := range b.Children() {
		if c.Name() == name {
			return c
		}
		if cb, ok := AsBin(c.Self()); ok {
			if e := cb.ByName(name); e != nil {
				return e
			}
		}
	}
	return nil
}

// ByNameRecurseUp searches b and then its parents for name.
func (b *Bin) ByNameRecurseUp(name string) *Element {
	if e := b.ByName(name); e != nil {
		return e
	}
	if parent := b.ParentBin(); parent != nil {
		return parent.ByNameRecurseUp(name)
	}
	return nil
}

// Recurse returns every descendant, depth first.
func (b *Bin) Recurse() []*Element {
	var out []*Element
	for _, c := range b.Children() {
		out = append(out, c)
		if cb, ok := AsBin(c.Self()); ok {
			out = append(out, cb.Recurse()...)
		}
	}
	return out
}

// Sinks returns the children that are sinks.
func (b *Bin) Sinks() []*Element {
	return slices.DeleteFunc(b.Children(), func(e *Element) bool { return !e.isSink() })
}

// Sources returns the children that are sources.
func (b *Bin) Sources() []*Element {
	return slices.DeleteFunc(b.Children(), func(e *Element) bool { return !e.isSource() })
}

// Sorted returns the children with sinks first and every element after the
// elements it feeds. Elements in loops keep their insertion order at the end.
func (b *Bin) Sorted() []*Element {
	children := b.Children()
	inBin := make(map[*Element]bool, len(children))
	for _, c := range children {
		inBin[c] = true
	}
	// number of distinct downstream siblings per child
	degree := make(map[*Element]int, len(children))
	upstream := make(map[*Element][]*Element, len(children))
	for _, c := range children {
		seen := map[*Element]bool{}
		for _, p := range c.SrcPads() {
			peer := p.Peer()
			if peer == nil {
				continue
			}
			pe := peer.ParentElement()
			if pe == nil || !inBin[pe] || seen[pe] || pe == c {
				continue
			}
			seen[pe] = true
			degree[c]++
			upstream[pe] = append(upstream[pe], c)
		}
	}
	out := make([]*Element, 0, len(children))
	done := make(map[*Element]bool, len(children))
	for len(out) < len(children) {
		progressed := false
		for _, c := range children {
			if done[c] || degree[c] > 0 {
				continue
			}
			done[c] = true
			out = append(out, c)
			progressed = true
			for _, up := range upstream[c] {
				degree[up]--
			}
		}
		if !progressed {
			// loop: release the first remaining element
			for _, c := range children {
				if !done[c] {
					catElement.Warning(b, "loop detected at %s", c.Name())
					degree[c] = 0
					break
				}
			}
		}
	}
	return out
}

// --- ChildProxy

// ChildByName returns the direct child called name.
func (b *Bin) ChildByName(name string) ObjectHandle {
	for _, c := range b.Children() {
		if c.Name() == name {
			return childHandle(c)
		}
	}
	return nil
}

// ChildByIndex returns the child at index i in insertion order.
func (b *Bin) ChildByIndex(i int) ObjectHandle {
	children := b.Children()
	if i < 0 || i >= len(children) {
		return nil
	}
	return childHandle(children[len(children)-1-i])
}

// ChildrenCount returns the number of children.
func (b *Bin) ChildrenCount() int { return b.NumChildren() }

func childHandle(e *Element) ObjectHandle {
	if h, ok := e.Self().(ObjectHandle); ok {
		return h
	}
	return e
}

// --- state

func (b *Bin) changeStateDefault(t StateChange) StateChangeReturn {
	next := t.Next()
	switch t {
	case StateChangeReadyToPaused:
		b.asyncMu.Lock()
		clear(b.eosSenders)
		clear(b.streamStarts)
		b.eosPosted = false
		b.asyncMu.Unlock()
	case StateChangePausedToReady, StateChangeReadyToNull:
		b.asyncMu.Lock()
		clear(b.asyncPending)
		b.asyncMu.Unlock()
	}

	b.asyncMu.Lock()
	b.inChange = true
	clear(b.asyncDone)
	b.asyncMu.Unlock()

	var (
		async, noPreroll bool
		errs             *multierror.Error
	)
	for _, c := range b.Sorted() {
		if c.IsLockedState() {
			continue
		}
		ret := c.SetState(next)
		switch ret {
		case StateChangeFailure:
			errs = multierror.Append(errs, fmt.Errorf("%s: %s failed", c.Name(), t))
		case StateChangeAsync:
			b.asyncMu.Lock()
			if _, done := b.asyncDone[c]; !done {
				b.asyncPending[c] = struct{}{}
				async = true
			}
			b.asyncMu.Unlock()
		case StateChangeNoPreroll:
			noPreroll = true
		}
	}

	ret := b.Element.defaultChangeState(t)
	if ret == StateChangeFailure {
		errs = multierror.Append(errs, fmt.Errorf("%s: pads failed in %s", b.Name(), t))
	}

	b.asyncMu.Lock()
	b.inChange = false
	if async && len(b.asyncPending) == 0 {
		async = false
	}
	b.asyncMu.Unlock()

	if err := errs.ErrorOrNil(); err != nil {
		catElement.Warning(b, "%s failed: %v", t, err)
		return StateChangeFailure
	}
	switch {
	case noPreroll:
		return StateChangeNoPreroll
	case async && next >= StatePaused:
		return StateChangeAsync
	}
	return StateChangeSuccess
}

// commitAsync completes the bin's async state change once no child is pending.
func (b *Bin) commitAsync() {
	b.mu.Lock()
	if b.lastReturn != StateChangeAsync || b.pending == StateVoidPending {
		b.mu.Unlock()
		return
	}
	cookie := b.stateCookie
	b.mu.Unlock()

	_, err := defaultTaskPool.Push(func() {
		b.stateLock.Lock()
		defer b.stateLock.Unlock()
		b.mu.Lock()
		stale := cookie != b.stateCookie || b.lastReturn != StateChangeAsync
		b.mu.Unlock()
		if stale {
			catElement.Debug(b, "state changed while committing async")
			return
		}
		b.asyncMu.Lock()
		busy := len(b.asyncPending) > 0
		b.asyncMu.Unlock()
		if busy {
			return
		}
		b.ContinueState(StateChangeSuccess)
		b.PostMessage(NewAsyncDoneMessage(b, ClockTimeNone))

		if b.Parent() == nil {
			b.mu.Lock()
			target, current, pending := b.target, b.current, b.pending
			b.mu.Unlock()
			if pending == StateVoidPending && target != current {
				b.SetState(target)
			}
		}
	})
	if err != nil {
		catElement.Error(b, "cannot commit async state: %v", err)
	}
}

// --- messages

func (b *Bin) handleMessage(msg *Message) {
	if impl, ok := b.impl.(HandleMessageImpl); ok {
		func() {
			defer catchPanic(catElement, b, "handle_message", nil)
			impl.HandleMessage(b, msg)
		}()
		return
	}
	b.handleMessageDefault(msg)
}

// ParentHandleMessage runs the builtin message handling: async and EOS
// aggregation, clock bookkeeping and forwarding to the parent.
func (b *Bin) ParentHandleMessage(msg *Message) { b.handleMessageDefault(msg) }

func (b *Bin) handleMessageDefault(msg *Message) {
	src, _ := msg.SrcElement()
	switch msg.MessageType() {
	case MessageAsyncStart:
		b.handleAsyncStart(src)
	case MessageAsyncDone:
		b.handleAsyncDone(src)
	case MessageEOS:
		b.handleEOS(src, msg)
	case MessageStreamStart:
		b.handleStreamStart(src, msg)
	case MessageClockProvide, MessageClockLost:
		b.mu.Lock()
		b.clockDirty = true
		lost := msg.MessageType() == MessageClockLost && b.providedClock == msg.ParseClockLost()
		if lost {
			b.providedClock = nil
			b.provider = nil
		}
		b.mu.Unlock()
		if lost {
			b.PostMessage(NewClockLostMessage(b, msg.ParseClockLost()))
		} else if msg.MessageType() == MessageClockProvide {
			clock, ready := msg.ParseClockProvide()
			b.PostMessage(NewClockProvideMessage(b, clock, ready))
		}
	default:
		b.PostMessage(msg.Ref())
	}
}

func (b *Bin) handleAsyncStart(src *Element) {
	if src == nil {
		return
	}
	b.asyncMu.Lock()
	b.asyncPending[src] = struct{}{}
	delete(b.asyncDone, src)
	inChange := b.inChange
	b.asyncMu.Unlock()
	if inChange {
		return
	}
	b.mu.Lock()
	busy := b.pending != StateVoidPending && b.lastReturn == StateChangeAsync
	b.mu.Unlock()
	if busy {
		return
	}
	if b.CurrentState() >= StatePaused {
		b.LostState()
	}
}

func (b *Bin) handleAsyncDone(src *Element) {
	if src == nil {
		return
	}
	b.asyncMu.Lock()
	delete(b.asyncPending, src)
	if b.inChange {
		b.asyncDone[src] = struct{}{}
	}
	empty := len(b.asyncPending) == 0
	inChange := b.inChange
	b.asyncMu.Unlock()
	if empty && !inChange {
		b.commitAsync()
	}
}

func (b *Bin) handleEOS(src *Element, msg *Message) {
	if src == nil {
		return
	}
	b.asyncMu.Lock()
	b.eosSenders[src] = struct{}{}
	b.eosSeqnum = msg.Seqnum()
	b.asyncMu.Unlock()
	b.doEOS()
}

// doEOS posts EOS once every sink did while the bin is going to PLAYING.
func (b *Bin) doEOS() {
	b.mu.Lock()
	playing := b.target == StatePlaying && b.lastReturn != StateChangeAsync
	b.mu.Unlock()

	b.asyncMu.Lock()
	all := len(b.eosSenders) > 0 && !b.eosPosted
	for _, s := range b.Sinks() {
		if _, ok := b.eosSenders[s]; !ok {
			all = false
			break
		}
	}
	if all && playing {
		b.eosPosted = true
	}
	seqnum := b.eosSeqnum
	b.asyncMu.Unlock()
	if !all || !playing {
		catElement.Debug(b, "waiting for eos of other sinks")
		return
	}
	eos := NewEOSMessage(b).MakeWritable()
	eos.SetSeqnum(seqnum)
	b.PostMessage(eos.Message)
}

func (b *Bin) handleStreamStart(src *Element, msg *Message) {
	if src == nil {
		return
	}
	b.asyncMu.Lock()
	b.streamStarts[src] = struct{}{}
	all := true
	for _, s := range b.Sinks() {
		if _, ok := b.streamStarts[s]; !ok {
			all = false
			break
		}
	}
	if all {
		clear(b.streamStarts)
	}
	b.asyncMu.Unlock()
	if all {
		ss := NewStreamStartMessage(b).MakeWritable()
		ss.SetSeqnum(msg.Seqnum())
		b.PostMessage(ss.Message)
	}
}

// --- events, queries, clock

func (b *Bin) sendEventDefault(ev *Event) bool {
	var targets []*Element
	if ev.IsUpstream() {
		targets = b.Sinks()
	} else {
		targets = b.Sources()
	}
	if len(targets) == 0 {
		ev.Unref()
		return false
	}
	res := true
	for _, c := range targets {
		res = c.SendEvent(ev.Ref()) && res
	}
	ev.Unref()
	return res
}

func (b *Bin) queryDefault(q *QueryMut) bool {
	switch q.QueryType() {
	case QueryPosition, QueryDuration:
		isPos := q.QueryType() == QueryPosition
		var format Format
		if isPos {
			format, _ = q.ParsePosition()
		} else {
			format, _ = q.ParseDuration()
		}
		var best int64 = -1
		found := false
		for _, s := range b.Sinks() {
			var v int64
			var ok bool
			if isPos {
				v, ok = s.QueryPosition(format)
			} else {
				v, ok = s.QueryDuration(format)
			}
			if ok {
				found = true
				best = max(best, v)
			}
		}
		if found {
			if isPos {
				q.SetPosition(format, best)
			} else {
				q.SetDuration(format, best)
			}
		}
		return found
	}
	for _, s := range b.Sinks() {
		if s.Query(q) {
			return true
		}
	}
	return false
}

func (b *Bin) setClockDefault(c *Clock) bool {
	res := b.Element.defaultSetClock(c)
	for _, child := range b.Children() {
		res = child.SetClock(c) && res
	}
	return res
}

// provideClockDefault returns the clock of the most upstream child providing one.
func (b *Bin) provideClockDefault() *Clock {
	b.mu.Lock()
	if !b.clockDirty {
		c := b.providedClock
		b.mu.Unlock()
		return c
	}
	b.mu.Unlock()

	var provider *Element
	var clock *Clock
	for _, c := range b.Sorted() {
		if !c.HasObjectFlags(ElementFlagProvideClock) {
			continue
		}
		if ck := c.ProvideClock(); ck != nil {
			provider, clock = c, ck
		}
	}
	b.mu.Lock()
	b.provider, b.providedClock, b.clockDirty = provider, clock, false
	b.mu.Unlock()
	return clock
}

func (b *Bin) setContextDefault(c *Context) {
	b.Element.defaultSetContext(c)
	for _, child := range b.Children() {
		child.SetContext(c)
	}
}

// RecalculateLatency asks the sinks for their latency and distributes the
// maximum minimum latency as a latency event.
func (b *Bin) RecalculateLatency() bool {
	var live bool
	var minLat, maxLat ClockTime = 0, ClockTimeNone
	found := false
	for _, s := range b.Sinks() {
		sq := NewLatencyQuery()
		if s.Query(sq) {
			l, mn, mx := sq.ParseLatency()
			if l {
				live = true
				minLat = max(minLat, mn)
				if mx.IsValid() && (!maxLat.IsValid() || mx < maxLat) {
					maxLat = mx
				}
			}
			found = true
		}
		sq.Unref()
	}
	if !found {
		return false
	}
	if live && maxLat.IsValid() && maxLat < minLat {
		catElement.Warning(b, "impossible latency: min %s > max %s", minLat, maxLat)
		return false
	}
	if !live {
		minLat = 0
	}
	return b.SendEvent(NewLatencyEvent(minLat))
}
