package gst

import (
	"fmt"
	"slices"
	"time"
)

// Element flags, stored in the object flags.
const (
	ElementFlagLockedState  ObjectFlags = ObjectFlagLast << 0
	ElementFlagSink         ObjectFlags = ObjectFlagLast << 1
	ElementFlagSource       ObjectFlags = ObjectFlagLast << 2
	ElementFlagProvideClock ObjectFlags = ObjectFlagLast << 3
	ElementFlagRequireClock ObjectFlags = ObjectFlagLast << 4
	ElementFlagIndexable    ObjectFlags = ObjectFlagLast << 5
	ElementFlagLast         ObjectFlags = ObjectFlagLast << 10
)

// ElementImpl is the implementation behind an Element. It can be any value; the
// element calls the optional hooks below when the implementation has them. Hooks
// receive the element and can chain up with the matching Parent method.
type ElementImpl any

type (
	// ElementConstructed runs once after the element was created, typically to
	// add the always pads.
	ElementConstructed interface {
		Constructed(e *Element)
	}
	ChangeStateImpl interface {
		ChangeState(e *Element, t StateChange) StateChangeReturn
	}
	StateChangedImpl interface {
		StateChanged(e *Element, old, current, pending State)
	}
	SendEventImpl interface {
		SendEvent(e *Element, ev *Event) bool
	}
	QueryImpl interface {
		Query(e *Element, q *QueryMut) bool
	}
	SetContextImpl interface {
		SetContext(e *Element, c *Context)
	}
	ProvideClockImpl interface {
		ProvideClock(e *Element) *Clock
	}
	SetClockImpl interface {
		SetClock(e *Element, c *Clock) bool
	}
	RequestNewPadImpl interface {
		RequestNewPad(e *Element, tmpl *PadTemplate, name string, caps *Caps) *Pad
	}
	ReleasePadImpl interface {
		ReleasePad(e *Element, pad *Pad)
	}
	SetBusImpl interface {
		SetBus(e *Element, bus *Bus)
	}
	PostMessageImpl interface {
		PostMessage(e *Element, msg *Message) bool
	}
)

// elementVTable holds the builtin behaviour an implementation chains up to.
type elementVTable struct {
	changeState  func(e *Element, t StateChange) StateChangeReturn
	sendEvent    func(e *Element, ev *Event) bool
	query        func(e *Element, q *QueryMut) bool
	setContext   func(e *Element, c *Context)
	provideClock func(e *Element) *Clock
	setClock     func(e *Element, c *Clock) bool
	setBus       func(e *Element, b *Bus)
	postMessage  func(e *Element, m *Message) bool
}

var elementBaseVTable = elementVTable{
	changeState:  (*Element).defaultChangeState,
	sendEvent:    (*Element).defaultSendEvent,
	query:        (*Element).defaultQuery,
	setContext:   (*Element).defaultSetContext,
	provideClock: func(*Element) *Clock { return nil },
	setClock:     (*Element).defaultSetClock,
	setBus:       (*Element).defaultSetBus,
	postMessage:  (*Element).defaultPostMessage,
}

// ElementHandle is implemented by *Element and the types embedding it.
type ElementHandle interface {
	ObjectHandle
	AsElement() *Element
}

// AsElement returns the element behind v, which may be an *Element, *Bin,
// *Pipeline or any ElementHandle.
func AsElement(v any) (*Element, bool) {
	h, ok := v.(ElementHandle)
	if !ok || h == nil {
		return nil, false
	}
	e := h.AsElement()
	return e, e != nil
}

// Element is the base of every processing node: it owns pads, runs the state
// machine and posts messages on its bus.
type Element struct {
	Object

	impl    ElementImpl
	class   *ElementClass
	factory *ElementFactory
	vt      *elementVTable

	stateLock RecMutex

	// protected by the object lock
	current     State
	next        State
	pending     State
	target      State
	lastReturn  StateChangeReturn
	stateSignal chan struct{}
	stateCookie uint64
	commitSeq   uint64

	pads       []*Pad
	padsCookie uint64
	numRequest int
	padAdded   []func(e *Element, p *Pad)
	padRemoved []func(e *Element, p *Pad)
	noMorePads []func(e *Element)
	bus        *Bus
	clock      *Clock
	baseTime   ClockTime
	startTime  ClockTime
	contexts   []*Context
}

// NewElement returns an element with an empty class driven by impl.
func NewElement(name string, impl ElementImpl) *Element {
	return NewElementWithClass(&ElementClass{}, name, impl)
}

// NewElementWithClass returns an element of class driven by impl. The class
// provides properties and pad templates.
func NewElementWithClass(class *ElementClass, name string, impl ElementImpl) *Element {
	return newElement(class, name, impl, nil)
}

func newElement(class *ElementClass, name string, impl ElementImpl, f *ElementFactory) *Element {
	e := &Element{factory: f}
	e.initElement(e, class, name, impl, &elementBaseVTable)
	e.construct()
	return e
}

func (e *Element) initElement(self any, class *ElementClass, name string, impl ElementImpl, vt *elementVTable) {
	if class == nil {
		class = &ElementClass{}
	}
	prefix := class.namePrefix()
	e.initObject(self, name, prefix, slices.Clone(class.Properties))
	if h, ok := impl.(PropertyHandler); ok {
		e.handler = h
	}
	e.impl = impl
	e.class = class
	e.vt = vt
	e.current, e.next, e.pending, e.target = StateNull, StateVoidPending, StateVoidPending, StateNull
	e.lastReturn = StateChangeSuccess
	e.stateSignal = make(chan struct{})
	e.baseTime = 0
	e.startTime = 0
	if class.Flags != 0 {
		e.SetObjectFlags(class.Flags)
	}
}

// construct runs the Constructed hook and announces the element to tracers.
func (e *Element) construct() {
	if c, ok := e.impl.(ElementConstructed); ok {
		c.Constructed(e)
	}
	tracersElementNew(e)
}

// AsElement returns e.
func (e *Element) AsElement() *Element { return e }

// Impl returns the implementation.
func (e *Element) Impl() ElementImpl { return e.impl }

// Class returns the element class.
func (e *Element) Class() *ElementClass { return e.class }

// Factory returns the factory that made e, or nil.
func (e *Element) Factory() *ElementFactory { return e.factory }

// ParentBin returns the bin containing e, or nil.
func (e *Element) ParentBin() *Bin {
	p := e.Parent()
	if p == nil {
		return nil
	}
	if b, ok := p.Self().(interface{ AsBin() *Bin }); ok {
		return b.AsBin()
	}
	return nil
}

// IsLockedState reports whether e ignores state changes of its parent.
func (e *Element) IsLockedState() bool { return e.HasObjectFlags(ElementFlagLockedState) }

// SetLockedState makes e ignore state changes of its parent. It returns whether the
// flag changed.
func (e *Element) SetLockedState(locked bool) bool {
	if e.IsLockedState() == locked {
		return false
	}
	if locked {
		e.SetObjectFlags(ElementFlagLockedState)
	} else {
		e.UnsetObjectFlags(ElementFlagLockedState)
	}
	return true
}

// --- state machine

// CurrentState returns the state e is in.
func (e *Element) CurrentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// PendingState returns the state e is going to, StateVoidPending when idle.
func (e *Element) PendingState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending
}

// TargetState returns the last state requested with SetState.
func (e *Element) TargetState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.target
}

// StateLock returns the lock serializing state changes.
func (e *Element) StateLock() *RecMutex { return &e.stateLock }

func nextState(current, pending State) State {
	switch {
	case pending > current:
		return current + 1
	case pending < current:
		return current - 1
	}
	return current
}

// SetState moves e towards state one transition at a time. It returns
// StateChangeAsync when the change completes later; GetState waits for it.
func (e *Element) SetState(state State) StateChangeReturn {
	e.stateLock.Lock()
	defer e.stateLock.Unlock()

	e.mu.Lock()
	if e.lastReturn == StateChangeFailure {
		e.next = StateVoidPending
		e.pending = StateVoidPending
		e.lastReturn = StateChangeSuccess
	}
	current, next, oldPending := e.current, e.next, e.pending
	e.target = state
	e.stateCookie++
	e.pending = state
	catElement.Debug(e, "set state %s (current %s, next %s, pending %s)", state, current, next, oldPending)

	if oldPending != StateVoidPending {
		switch {
		case oldPending <= state, next == state:
			// the running async change gets there
			e.lastReturn = StateChangeAsync
			e.mu.Unlock()
			return StateChangeAsync
		case next > state && e.lastReturn == StateChangeAsync:
			// going down during an upward async change: start from next
			current = next
		}
	}
	next = nextState(current, state)
	e.next = next
	if current != next {
		e.lastReturn = StateChangeAsync
	}
	e.mu.Unlock()

	return e.changeState(makeStateChange(current, next))
}

// changeState performs one transition and continues towards the pending state.
func (e *Element) changeState(t StateChange) StateChangeReturn {
	e.mu.Lock()
	seq := e.commitSeq
	e.mu.Unlock()

	tracersElementChangeStatePre(e, t)
	ret := e.callChangeState(t)
	tracersElementChangeStatePost(e, t, ret)
	catElement.Debug(e, "%s returned %s", t, ret)

	switch ret {
	case StateChangeFailure:
		e.abortState()
	case StateChangeAsync:
		e.mu.Lock()
		if e.target > StateReady || e.commitSeq != seq {
			e.mu.Unlock()
			return ret
		}
		// downward changes never wait
		e.lastReturn = StateChangeSuccess
		e.mu.Unlock()
		ret = e.ContinueState(StateChangeSuccess)
	case StateChangeSuccess, StateChangeNoPreroll:
		ret = e.ContinueState(ret)
	default:
		catElement.Error(e, "unknown state change return %d", int(ret))
		e.abortState()
		ret = StateChangeFailure
	}
	return ret
}

func (e *Element) callChangeState(t StateChange) (ret StateChangeReturn) {
	defer func() {
		if r := recover(); r != nil {
			catElement.Error(e, "panic in change_state %s: %v", t, r)
			ret = StateChangeFailure
		}
	}()
	if impl, ok := e.impl.(ChangeStateImpl); ok {
		return impl.ChangeState(e, t)
	}
	return e.vt.changeState(e, t)
}

// ParentChangeState runs the builtin transition: pad (de)activation for plain
// elements, children for bins.
func (e *Element) ParentChangeState(t StateChange) StateChangeReturn {
	return e.vt.changeState(e, t)
}

func (e *Element) defaultChangeState(t StateChange) StateChangeReturn {
	switch t {
	case StateChangeReadyToPaused:
		if err := e.activatePads(true); err != nil {
			catElement.Warning(e, "failed to activate pads: %v", err)
			return StateChangeFailure
		}
	case StateChangePausedToReady:
		if err := e.activatePads(false); err != nil {
			catElement.Warning(e, "failed to deactivate pads: %v", err)
			return StateChangeFailure
		}
	case StateChangeReadyToNull:
		e.mu.Lock()
		if e.clock != nil {
			e.clock = nil
		}
		e.mu.Unlock()
	}
	return StateChangeSuccess
}

// activatePads (de)activates the source pads, then the sink pads.
func (e *Element) activatePads(active bool) error {
	for _, p := range e.SrcPads() {
		if err := p.SetActive(active); err != nil {
			return err
		}
	}
	for _, p := range e.SinkPads() {
		if err := p.SetActive(active); err != nil {
			return err
		}
	}
	return nil
}

func (e *Element) abortState() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == StateVoidPending {
		return
	}
	catElement.Info(e, "aborting state change to %s", e.pending)
	e.next = StateVoidPending
	e.pending = StateVoidPending
	e.lastReturn = StateChangeFailure
	e.signalStateLocked()
}

// AbortState aborts the running async state change with a failure.
func (e *Element) AbortState() { e.abortState() }

func (e *Element) signalStateLocked() {
	close(e.stateSignal)
	e.stateSignal = make(chan struct{})
}

// ContinueState commits the transition in progress with ret and starts the next
// one towards the pending state. Elements completing an async change call it
// from their streaming goroutine.
func (e *Element) ContinueState(ret StateChangeReturn) StateChangeReturn {
	e.mu.Lock()
	e.commitSeq++
	oldRet := e.lastReturn
	e.lastReturn = ret
	pending := e.pending
	if pending == StateVoidPending {
		e.mu.Unlock()
		return ret
	}
	oldState, oldNext := e.current, e.next
	e.current = oldNext
	current := oldNext

	if pending == current {
		e.pending = StateVoidPending
		e.next = StateVoidPending
		e.mu.Unlock()
		catElement.Info(e, "completed state change to %s", current)
		if oldState != oldNext || oldRet == StateChangeAsync {
			e.stateChanged(oldState, oldNext, StateVoidPending)
		}
		e.mu.Lock()
		e.signalStateLocked()
		e.mu.Unlock()
		return ret
	}

	next := nextState(current, pending)
	e.next = next
	e.lastReturn = StateChangeAsync
	e.mu.Unlock()
	e.stateChanged(oldState, oldNext, pending)
	return e.changeState(makeStateChange(current, next))
}

func (e *Element) stateChanged(old, current, pending State) {
	if impl, ok := e.impl.(StateChangedImpl); ok {
		impl.StateChanged(e, old, current, pending)
	}
	e.PostMessage(NewStateChangedMessage(e, old, current, pending))
	if current == StatePlaying {
		// sinks may have reached EOS before the bin got to PLAYING
		if b, ok := AsBin(e.Self()); ok {
			b.doEOS()
		}
	}
}

// GetState returns the result of the last state change with the current and
// pending state, waiting up to timeout for an async change. ClockTimeNone waits
// forever.
func (e *Element) GetState(timeout ClockTime) (StateChangeReturn, State, State) {
	e.mu.Lock()
	ret := e.lastReturn
	if ret == StateChangeAsync && e.pending != StateVoidPending && timeout != 0 {
		oldPending := e.pending
		cookie := e.stateCookie
		var deadline <-chan time.Time
		if timeout != ClockTimeNone {
			t := time.NewTimer(timeout.Duration())
			defer t.Stop()
			deadline = t.C
		}
	wait:
		for e.pending != StateVoidPending {
			signal := e.stateSignal
			e.mu.Unlock()
			select {
			case <-signal:
				e.mu.Lock()
				if cookie != e.stateCookie {
					e.mu.Unlock()
					return StateChangeFailure, StateVoidPending, StateVoidPending
				}
			case <-deadline:
				e.mu.Lock()
				break wait
			}
		}
		switch {
		case e.pending != StateVoidPending:
			ret = StateChangeAsync
		case e.lastReturn == StateChangeNoPreroll:
			ret = StateChangeNoPreroll
		case e.current == oldPending:
			ret = StateChangeSuccess
		default:
			ret = StateChangeFailure
		}
	}
	current, pending := e.current, e.pending
	e.mu.Unlock()
	return ret, current, pending
}

// LostState marks e as having lost its preroll: it goes back to PAUSED pending and
// posts async-start so the parent waits for it again.
func (e *Element) LostState() {
	e.mu.Lock()
	if e.lastReturn == StateChangeFailure {
		e.mu.Unlock()
		return
	}
	if e.pending != StateVoidPending {
		e.mu.Unlock()
		e.PostMessage(NewAsyncStartMessage(e))
		return
	}
	state := e.current
	if state == StatePlaying {
		state = StatePaused
	}
	e.current, e.next, e.pending = state, state, state
	e.lastReturn = StateChangeAsync
	e.mu.Unlock()
	catElement.Debug(e, "lost state, now %s", state)
	e.PostMessage(NewStateChangedMessage(e, state, state, state))
	e.PostMessage(NewAsyncStartMessage(e))
}

// SyncStateWithParent moves e to the state of its parent bin.
func (e *Element) SyncStateWithParent() bool {
	parent := e.ParentBin()
	if parent == nil {
		return false
	}
	target := parent.TargetState()
	return e.SetState(target) != StateChangeFailure
}

// --- pads

// AddPad adds pad to e. Pads of a running element are activated.
func (e *Element) AddPad(pad *Pad) error {
	name := pad.Name()
	e.mu.Lock()
	for _, p := range e.pads {
		if p.Name() == name {
			e.mu.Unlock()
			return fmt.Errorf("gst: %s already has a pad named %q", e.Name(), name)
		}
	}
	if err := pad.SetParent(e); err != nil {
		e.mu.Unlock()
		return err
	}
	active := e.current > StateReady || e.next == StatePaused
	e.pads = append(e.pads, pad)
	e.padsCookie++
	added := slices.Clone(e.padAdded)
	e.mu.Unlock()

	if active {
		if err := pad.SetActive(true); err != nil {
			catElement.Warning(e, "could not activate pad %s: %v", name, err)
		}
	}
	catElement.Debug(e, "added pad %s", name)
	for _, fn := range added {
		fn(e, pad)
	}
	return nil
}

// RemovePad unlinks, deactivates and removes pad.
func (e *Element) RemovePad(pad *Pad) error {
	if !pad.HasAsParent(e) {
		return fmt.Errorf("gst: pad %s is not a pad of %s", pad.Name(), e.Name())
	}
	if peer := pad.Peer(); peer != nil {
		if pad.IsSrc() {
			_ = pad.Unlink(peer)
		} else {
			_ = peer.Unlink(pad)
		}
	}
	_ = pad.SetActive(false)

	e.mu.Lock()
	i := slices.Index(e.pads, pad)
	if i < 0 {
		e.mu.Unlock()
		return fmt.Errorf("gst: pad %s is not a pad of %s", pad.Name(), e.Name())
	}
	e.pads = slices.Delete(e.pads, i, i+1)
	e.padsCookie++
	removed := slices.Clone(e.padRemoved)
	e.mu.Unlock()
	pad.Unparent()

	for _, fn := range removed {
		fn(e, pad)
	}
	return nil
}

// Pads returns the pads in the order they were added.
func (e *Element) Pads() []*Pad {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.pads)
}

func (e *Element) padsWithDirection(dir PadDirection) []*Pad {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*Pad
	for _, p := range e.pads {
		if p.direction == dir {
			out = append(out, p)
		}
	}
	return out
}

// SrcPads returns the source pads.
func (e *Element) SrcPads() []*Pad { return e.padsWithDirection(PadDirectionSrc) }

// SinkPads returns the sink pads.
func (e *Element) SinkPads() []*Pad { return e.padsWithDirection(PadDirectionSink) }

// StaticPad returns the pad called name, or nil.
func (e *Element) StaticPad(name string) *Pad {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, p := range e.pads {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// ConnectPadAdded registers fn to run after a pad was added.
func (e *Element) ConnectPadAdded(fn func(e *Element, p *Pad)) {
	e.mu.Lock()
	e.padAdded = append(e.padAdded, fn)
	e.mu.Unlock()
}

// ConnectPadRemoved registers fn to run after a pad was removed.
func (e *Element) ConnectPadRemoved(fn func(e *Element, p *Pad)) {
	e.mu.Lock()
	e.padRemoved = append(e.padRemoved, fn)
	e.mu.Unlock()
}

// ConnectNoMorePads registers fn to run when e announced its last dynamic pad.
func (e *Element) ConnectNoMorePads(fn func(e *Element)) {
	e.mu.Lock()
	e.noMorePads = append(e.noMorePads, fn)
	e.mu.Unlock()
}

// NoMorePads announces that e adds no further dynamic pads.
func (e *Element) NoMorePads() {
	e.mu.Lock()
	fns := slices.Clone(e.noMorePads)
	e.mu.Unlock()
	for _, fn := range fns {
		fn(e)
	}
}

// PadTemplate returns the class template called name.
func (e *Element) PadTemplate(name string) *PadTemplate {
	return e.class.PadTemplate(name)
}

// PadTemplates returns the class templates.
func (e *Element) PadTemplates() []*PadTemplate { return slices.Clone(e.class.PadTemplates) }

// RequestPad asks the implementation for a new pad from the request template
// tmpl. An empty name lets the element pick one.
func (e *Element) RequestPad(tmpl *PadTemplate, name string, caps *Caps) *Pad {
	if tmpl == nil || tmpl.Presence() != PadRequest {
		catElement.Warning(e, "not a request template")
		return nil
	}
	if name != "" && !tmpl.MatchesName(name) {
		catElement.Warning(e, "pad name %q does not match template %s", name, tmpl.NameTemplate())
		return nil
	}
	if name != "" && e.StaticPad(name) != nil {
		catElement.Warning(e, "pad %q already exists", name)
		return nil
	}
	impl, ok := e.impl.(RequestNewPadImpl)
	if !ok {
		return nil
	}
	var pad *Pad
	func() {
		defer catchPanic(catElement, e, "request_new_pad", nil)
		pad = impl.RequestNewPad(e, tmpl, name, caps)
	}()
	if pad != nil {
		e.mu.Lock()
		e.numRequest++
		e.mu.Unlock()
	}
	return pad
}

// RequestPadSimple requests a pad by template name, or by a concrete name
// matching a template.
func (e *Element) RequestPadSimple(name string) *Pad {
	if t := e.class.PadTemplate(name); t != nil && t.Presence() == PadRequest {
		return e.RequestPad(t, "", nil)
	}
	for _, t := range e.class.PadTemplates {
		if t.Presence() == PadRequest && t.MatchesName(name) {
			return e.RequestPad(t, name, nil)
		}
	}
	return nil
}

// NextRequestPadName returns the first unused name for tmpl.
func (e *Element) NextRequestPadName(tmpl *PadTemplate) string {
	for i := 0; ; i++ {
		n := tmpl.expandName(i)
		if e.StaticPad(n) == nil {
			return n
		}
	}
}

// ReleaseRequestPad gives back a pad obtained with RequestPad.
func (e *Element) ReleaseRequestPad(pad *Pad) {
	if impl, ok := e.impl.(ReleasePadImpl); ok {
		func() {
			defer catchPanic(catElement, e, "release_pad", nil)
			impl.ReleasePad(e, pad)
		}()
	} else {
		_ = e.RemovePad(pad)
	}
	e.mu.Lock()
	if e.numRequest > 0 {
		e.numRequest--
	}
	e.mu.Unlock()
}

// --- bus and messages

// Bus returns the bus e posts on.
func (e *Element) Bus() *Bus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bus
}

// SetBus sets the bus e posts on. Bins set it on their children.
func (e *Element) SetBus(b *Bus) {
	if impl, ok := e.impl.(SetBusImpl); ok {
		impl.SetBus(e, b)
		return
	}
	e.vt.setBus(e, b)
}

// ParentSetBus runs the builtin SetBus.
func (e *Element) ParentSetBus(b *Bus) { e.vt.setBus(e, b) }

func (e *Element) defaultSetBus(b *Bus) {
	e.mu.Lock()
	e.bus = b
	e.mu.Unlock()
}

// PostMessage posts msg on the element's bus, taking ownership. It returns false
// when there is no bus or the bus is flushing.
func (e *Element) PostMessage(msg *Message) bool {
	if impl, ok := e.impl.(PostMessageImpl); ok {
		var res bool
		func() {
			defer catchPanic(catElement, e, "post_message", nil)
			res = impl.PostMessage(e, msg)
		}()
		return res
	}
	return e.vt.postMessage(e, msg)
}

// ParentPostMessage runs the builtin PostMessage.
func (e *Element) ParentPostMessage(msg *Message) bool { return e.vt.postMessage(e, msg) }

func (e *Element) defaultPostMessage(msg *Message) bool {
	bus := e.Bus()
	if bus == nil {
		catElement.Log(e, "no bus, dropping %s", msg.MessageType())
		msg.Unref()
		return false
	}
	return bus.Post(msg)
}

// PostError posts an error message built from err.
func (e *Element) PostError(err error, debug string) bool {
	return e.PostMessage(NewErrorMessage(e, err, debug, nil))
}

// PostWarning posts a warning message built from err.
func (e *Element) PostWarning(err error, debug string) bool {
	return e.PostMessage(NewWarningMessage(e, err, debug, nil))
}

// --- events and queries

// SendEvent hands ev to the element, taking ownership. The builtin behaviour pushes
// upstream events out of a sink pad and downstream events out of a source pad.
func (e *Element) SendEvent(ev *Event) bool {
	if impl, ok := e.impl.(SendEventImpl); ok {
		var res bool
		func() {
			defer catchPanic(catElement, e, "send_event", nil)
			res = impl.SendEvent(e, ev)
		}()
		return res
	}
	return e.vt.sendEvent(e, ev)
}

// ParentSendEvent runs the builtin SendEvent.
func (e *Element) ParentSendEvent(ev *Event) bool { return e.vt.sendEvent(e, ev) }

func (e *Element) defaultSendEvent(ev *Event) bool {
	var pads []*Pad
	if ev.EventType().IsUpstream() {
		pads = e.SinkPads()
	} else {
		pads = e.SrcPads()
	}
	if len(pads) == 0 {
		catElement.Debug(e, "no pad to send %s on", ev.EventType())
		ev.Unref()
		return false
	}
	return pads[0].PushEvent(ev)
}

// Query runs q on the element. The builtin behaviour asks a source pad, or the
// peer of a sink pad.
func (e *Element) Query(q *QueryMut) bool {
	if impl, ok := e.impl.(QueryImpl); ok {
		var res bool
		func() {
			defer catchPanic(catElement, e, "query", nil)
			res = impl.Query(e, q)
		}()
		return res
	}
	return e.vt.query(e, q)
}

// ParentQuery runs the builtin Query.
func (e *Element) ParentQuery(q *QueryMut) bool { return e.vt.query(e, q) }

func (e *Element) defaultQuery(q *QueryMut) bool {
	if src := e.SrcPads(); len(src) > 0 {
		return src[0].Query(q)
	}
	if sink := e.SinkPads(); len(sink) > 0 {
		return sink[0].PeerQuery(q)
	}
	return false
}

// QueryPosition asks e for the current position.
func (e *Element) QueryPosition(format Format) (int64, bool) {
	q := NewPositionQuery(format)
	defer q.Unref()
	if !e.Query(q) {
		return -1, false
	}
	_, cur := q.ParsePosition()
	return cur, true
}

// QueryDuration asks e for the stream duration.
func (e *Element) QueryDuration(format Format) (int64, bool) {
	q := NewDurationQuery(format)
	defer q.Unref()
	if !e.Query(q) {
		return -1, false
	}
	_, dur := q.ParseDuration()
	return dur, true
}

// Seek sends a seek event.
func (e *Element) Seek(rate float64, format Format, flags SeekFlags, startType SeekType, start int64, stopType SeekType, stop int64) bool {
	return e.SendEvent(NewSeekEvent(rate, format, flags, startType, start, stopType, stop))
}

// SeekSimple seeks to pos at normal rate.
func (e *Element) SeekSimple(format Format, flags SeekFlags, pos int64) bool {
	return e.Seek(1.0, format, flags, SeekTypeSet, pos, SeekTypeNone, -1)
}

// --- context

// SetContext hands c to the element. Elements keep the latest context of each type.
func (e *Element) SetContext(c *Context) {
	if impl, ok := e.impl.(SetContextImpl); ok {
		impl.SetContext(e, c)
		return
	}
	e.vt.setContext(e, c)
}

// ParentSetContext runs the builtin SetContext.
func (e *Element) ParentSetContext(c *Context) { e.vt.setContext(e, c) }

func (e *Element) defaultSetContext(c *Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, old := range e.contexts {
		if old.ContextType() == c.ContextType() {
			old.Unref()
			e.contexts[i] = c.Ref()
			return
		}
	}
	e.contexts = append(e.contexts, c.Ref())
}

// Context returns a new reference to the context of type t, or nil.
func (e *Element) Context(t string) *Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.contexts {
		if c.ContextType() == t {
			return c.Ref()
		}
	}
	return nil
}

// Contexts returns new references to all contexts.
func (e *Element) Contexts() []*Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Context, len(e.contexts))
	for i, c := range e.contexts {
		out[i] = c.Ref()
	}
	return out
}

// --- clocking

// ProvideClock returns the clock e can provide, or nil.
func (e *Element) ProvideClock() *Clock {
	if impl, ok := e.impl.(ProvideClockImpl); ok {
		return impl.ProvideClock(e)
	}
	return e.vt.provideClock(e)
}

// ParentProvideClock runs the builtin ProvideClock.
func (e *Element) ParentProvideClock() *Clock { return e.vt.provideClock(e) }

// SetClock sets the clock used for synchronization.
func (e *Element) SetClock(c *Clock) bool {
	if impl, ok := e.impl.(SetClockImpl); ok {
		return impl.SetClock(e, c)
	}
	return e.vt.setClock(e, c)
}

// ParentSetClock runs the builtin SetClock.
func (e *Element) ParentSetClock(c *Clock) bool { return e.vt.setClock(e, c) }

func (e *Element) defaultSetClock(c *Clock) bool {
	e.mu.Lock()
	e.clock = c
	e.mu.Unlock()
	return true
}

// Clock returns the clock in use, or nil.
func (e *Element) Clock() *Clock {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock
}

// BaseTime returns the clock time corresponding to running time zero.
func (e *Element) BaseTime() ClockTime {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.baseTime
}

// SetBaseTime sets the clock time corresponding to running time zero, on the
// children too for bins.
func (e *Element) SetBaseTime(t ClockTime) {
	e.mu.Lock()
	e.baseTime = t
	e.mu.Unlock()
	if b, ok := AsBin(e.self); ok {
		for _, c := range b.Children() {
			c.SetBaseTime(t)
		}
	}
}

// StartTime returns the running time at the last PAUSED transition.
func (e *Element) StartTime() ClockTime {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startTime
}

// SetStartTime sets the running time reached when pausing. ClockTimeNone disables
// the automatic update of the base time by the pipeline.
func (e *Element) SetStartTime(t ClockTime) {
	e.mu.Lock()
	e.startTime = t
	e.mu.Unlock()
	if b, ok := AsBin(e.self); ok {
		for _, c := range b.Children() {
			c.SetStartTime(t)
		}
	}
}

// CurrentClockTime returns the time of the element clock, ClockTimeNone without one.
func (e *Element) CurrentClockTime() ClockTime {
	c := e.Clock()
	if c == nil {
		return ClockTimeNone
	}
	return c.Time()
}

// CurrentRunningTime returns the clock time minus the base time.
func (e *Element) CurrentRunningTime() ClockTime {
	now := e.CurrentClockTime()
	base := e.BaseTime()
	if !now.IsValid() || now < base {
		return ClockTimeNone
	}
	return now - base
}

// --- linking

// Link links a free source pad of e to a compatible sink pad of dest, requesting
// pads when needed.
func (e *Element) Link(dest *Element) error { return e.LinkPads("", dest, "") }

// LinkPads links the named pads. Empty names pick compatible pads.
func (e *Element) LinkPads(srcName string, dest *Element, sinkName string) error {
	var srcs []*Pad
	if srcName != "" {
		p := e.StaticPad(srcName)
		if p == nil {
			p = e.RequestPadSimple(srcName)
		}
		if p == nil {
			return fmt.Errorf("gst: %s has no pad %q", e.Name(), srcName)
		}
		srcs = []*Pad{p}
	} else {
		for _, p := range e.SrcPads() {
			if !p.IsLinked() {
				srcs = append(srcs, p)
			}
		}
	}

	for _, src := range srcs {
		sink, err := dest.compatibleSinkPad(src, sinkName)
		if err != nil {
			if srcName != "" {
				return err
			}
			continue
		}
		if err := src.Link(sink); err != nil {
			if srcName != "" {
				return err
			}
			continue
		}
		return nil
	}

	if srcName == "" {
		for _, t := range e.class.PadTemplates {
			if t.Direction() != PadDirectionSrc || t.Presence() != PadRequest {
				continue
			}
			for _, dt := range dest.class.PadTemplates {
				if dt.Direction() != PadDirectionSink || !t.Caps().CanIntersect(dt.Caps()) {
					continue
				}
				src := e.RequestPad(t, "", nil)
				if src == nil {
					continue
				}
				sink, err := dest.compatibleSinkPad(src, sinkName)
				if err == nil && src.Link(sink) == nil {
					return nil
				}
				e.ReleaseRequestPad(src)
			}
		}
	}
	return fmt.Errorf("gst: cannot link %s to %s", e.Name(), dest.Name())
}

// compatibleSinkPad finds an unlinked sink pad of e that src can link to.
func (e *Element) compatibleSinkPad(src *Pad, name string) (*Pad, error) {
	if name != "" {
		p := e.StaticPad(name)
		if p == nil {
			p = e.RequestPadSimple(name)
		}
		if p == nil {
			return nil, fmt.Errorf("gst: %s has no pad %q", e.Name(), name)
		}
		return p, nil
	}
	for _, p := range e.SinkPads() {
		if !p.IsLinked() && src.CanLink(p) {
			return p, nil
		}
	}
	caps := src.QueryCaps(nil)
	defer caps.Unref()
	for _, t := range e.class.PadTemplates {
		if t.Direction() == PadDirectionSink && t.Presence() == PadRequest && caps.CanIntersect(t.Caps()) {
			if p := e.RequestPad(t, "", nil); p != nil {
				return p, nil
			}
		}
	}
	return nil, fmt.Errorf("gst: %s has no pad compatible with %s", e.Name(), src.Name())
}

// Unlink unlinks every pad of e linked to dest.
func (e *Element) Unlink(dest *Element) {
	for _, p := range e.SrcPads() {
		if peer := p.Peer(); peer != nil && peer.HasAsParent(dest) {
			_ = p.Unlink(peer)
			if peer.Template() != nil && peer.Template().Presence() == PadRequest {
				dest.ReleaseRequestPad(peer)
			}
		}
	}
}

// LinkMany links each element to the next.
func LinkMany(elements ...*Element) error {
	for i := 0; i+1 < len(elements); i++ {
		if err := elements[i].Link(elements[i+1]); err != nil {
			return err
		}
	}
	return nil
}

// UnlinkMany unlinks each element from the next.
func UnlinkMany(elements ...*Element) {
	for i := 0; i+1 < len(elements); i++ {
		elements[i].Unlink(elements[i+1])
	}
}

// isSink reports whether e consumes data: flagged as sink, or a plain element
// without source pads. Bins carry the flag when they contain a sink.
func (e *Element) isSink() bool {
	if e.HasObjectFlags(ElementFlagSink) {
		return true
	}
	if _, ok := e.self.(interface{ AsBin() *Bin }); ok {
		return false
	}
	return len(e.SrcPads()) == 0 && len(e.SinkPads()) > 0
}

// isSource reports whether e produces data: flagged as source, or a plain element
// without sink pads.
func (e *Element) isSource() bool {
	if e.HasObjectFlags(ElementFlagSource) {
		return true
	}
	if _, ok := e.self.(interface{ AsBin() *Bin }); ok {
		return false
	}
	return len(e.SinkPads()) == 0 && len(e.SrcPads()) > 0
}
