package gst

import (
	"strings"
	"sync/atomic"
)

// PadProbeType selects the dataflow a probe intercepts.
type PadProbeType uint32

const (
	PadProbeTypeInvalid         PadProbeType = 0
	PadProbeTypeIdle            PadProbeType = 1 << 0
	PadProbeTypeBlock           PadProbeType = 1 << 1
	PadProbeTypeBuffer          PadProbeType = 1 << 4
	PadProbeTypeBufferList      PadProbeType = 1 << 5
	PadProbeTypeEventDownstream PadProbeType = 1 << 6
	PadProbeTypeEventUpstream   PadProbeType = 1 << 7
	PadProbeTypeEventFlush      PadProbeType = 1 << 8
	PadProbeTypeQueryDownstream PadProbeType = 1 << 9
	PadProbeTypeQueryUpstream   PadProbeType = 1 << 10
	PadProbeTypePush            PadProbeType = 1 << 12
	PadProbeTypePull            PadProbeType = 1 << 13

	PadProbeTypeBlocking        = PadProbeTypeIdle | PadProbeTypeBlock
	PadProbeTypeDataDownstream  = PadProbeTypeBuffer | PadProbeTypeBufferList | PadProbeTypeEventDownstream
	PadProbeTypeDataUpstream    = PadProbeTypeEventUpstream
	PadProbeTypeDataBoth        = PadProbeTypeDataDownstream | PadProbeTypeDataUpstream
	PadProbeTypeBlockDownstream = PadProbeTypeBlock | PadProbeTypeDataDownstream
	PadProbeTypeBlockUpstream   = PadProbeTypeBlock | PadProbeTypeDataUpstream
	PadProbeTypeEventBoth       = PadProbeTypeEventDownstream | PadProbeTypeEventUpstream
	PadProbeTypeQueryBoth       = PadProbeTypeQueryDownstream | PadProbeTypeQueryUpstream
	PadProbeTypeAllBoth         = PadProbeTypeDataBoth | PadProbeTypeQueryBoth
	PadProbeTypeScheduling      = PadProbeTypePush | PadProbeTypePull

	padProbeDataMask = PadProbeTypeAllBoth | PadProbeTypeEventFlush
)

func (t PadProbeType) String() string {
	names := []struct {
		t PadProbeType
		n string
	}{
		{PadProbeTypeIdle, "idle"},
		{PadProbeTypeBlock, "block"},
		{PadProbeTypeBuffer, "buffer"},
		{PadProbeTypeBufferList, "buffer-list"},
		{PadProbeTypeEventDownstream, "event-downstream"},
		{PadProbeTypeEventUpstream, "event-upstream"},
		{PadProbeTypeEventFlush, "event-flush"},
		{PadProbeTypeQueryDownstream, "query-downstream"},
		{PadProbeTypeQueryUpstream, "query-upstream"},
		{PadProbeTypePush, "push"},
		{PadProbeTypePull, "pull"},
	}
	var parts []string
	for _, n := range names {
		if t&n.t != 0 {
			parts = append(parts, n.n)
		}
	}
	if len(parts) == 0 {
		return "invalid"
	}
	return strings.Join(parts, "|")
}

// PadProbeReturn tells the pad what to do with the probed item.
type PadProbeReturn int

const (
	// PadProbeDrop drops the item and reports success to the caller.
	PadProbeDrop PadProbeReturn = iota
	// PadProbeOK passes the item on, blocking first for blocking probes.
	PadProbeOK
	// PadProbeRemove removes the probe and passes the item on.
	PadProbeRemove
	// PadProbePass passes the item on without blocking.
	PadProbePass
	// PadProbeHandled marks an event or query as handled. The probe owns the item.
	PadProbeHandled
)

func (r PadProbeReturn) String() string {
	switch r {
	case PadProbeDrop:
		return "drop"
	case PadProbeOK:
		return "ok"
	case PadProbeRemove:
		return "remove"
	case PadProbePass:
		return "pass"
	case PadProbeHandled:
		return "handled"
	}
	return "unknown"
}

// PadProbeID identifies an installed probe. Zero is never a valid id.
type PadProbeID uint64

// PadProbeInfo describes the item a probe sees. Probes may replace Data with a
// different object of the same kind; the pad continues with the replacement.
type PadProbeInfo struct {
	Type PadProbeType
	ID   PadProbeID
	// Data is a *Buffer, *BufferList, *Event or *QueryMut, nil for idle probes.
	Data    any
	Offset  uint64
	Size    uint
	FlowRet FlowReturn
}

// Buffer returns the probed buffer, or nil.
func (i *PadProbeInfo) Buffer() *Buffer {
	b, _ := i.Data.(*Buffer)
	return b
}

// BufferList returns the probed buffer list, or nil.
func (i *PadProbeInfo) BufferList() *BufferList {
	l, _ := i.Data.(*BufferList)
	return l
}

// Event returns the probed event, or nil.
func (i *PadProbeInfo) Event() *Event {
	e, _ := i.Data.(*Event)
	return e
}

// Query returns the probed query, or nil.
func (i *PadProbeInfo) Query() *QueryMut {
	q, _ := i.Data.(*QueryMut)
	return q
}

// PadProbeCallback is invoked for every matching item.
type PadProbeCallback func(pad *Pad, info *PadProbeInfo) PadProbeReturn

type padProbe struct {
	id       PadProbeID
	mask     PadProbeType
	callback PadProbeCallback
	destroy  func()
	removed  atomic.Bool
	// idle probes block further dataflow once they fired
	fired atomic.Bool
}

// matches reports whether the probe wants an item of type t.
func (p *padProbe) matches(t PadProbeType) bool {
	if p.removed.Load() {
		return false
	}
	data := p.mask & padProbeDataMask
	if data != 0 && data&t == 0 {
		return false
	}
	sched := p.mask & PadProbeTypeScheduling
	if sched != 0 && sched&t == 0 {
		return false
	}
	return true
}

func (p *padProbe) isBlocking() bool { return p.mask&PadProbeTypeBlocking != 0 }

var probeIDs atomic.Uint64

// AddProbe installs callback for the items selected by mask. Idle probes run right
// away when the pad is not streaming, otherwise on the streaming goroutine once the
// current item is done. destroy runs once when the probe is removed.
func (p *Pad) AddProbe(mask PadProbeType, callback PadProbeCallback, destroy func()) PadProbeID {
	if mask&(padProbeDataMask|PadProbeTypeBlocking) == 0 {
		catProbes.Warning(p, "probe with mask %s matches nothing", mask)
		return 0
	}
	probe := &padProbe{id: PadProbeID(probeIDs.Add(1)), mask: mask, callback: callback, destroy: destroy}

	p.mu.Lock()
	p.probes = append(p.probes, probe)
	if probe.isBlocking() {
		p.numBlocking++
		p.SetObjectFlags(PadFlagBlocking)
	}
	runIdle := mask&PadProbeTypeIdle != 0 && p.streaming == 0
	p.mu.Unlock()
	catProbes.Debug(p, "added probe %d with mask %s", probe.id, mask)

	if runIdle {
		p.runIdleProbe(probe)
	}
	return probe.id
}

// RemoveProbe removes the probe with id, releasing threads blocked on it.
func (p *Pad) RemoveProbe(id PadProbeID) {
	p.mu.Lock()
	var probe *padProbe
	for _, pr := range p.probes {
		if pr.id == id {
			probe = pr
			break
		}
	}
	p.mu.Unlock()
	if probe == nil {
		catProbes.Warning(p, "no probe with id %d", id)
		return
	}
	p.removeProbe(probe)
}

// removeProbe unlinks probe once; concurrent invocations already running finish normally.
func (p *Pad) removeProbe(probe *padProbe) {
	if !probe.removed.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	for i, pr := range p.probes {
		if pr == probe {
			p.probes = append(p.probes[:i:i], p.probes[i+1:]...)
			break
		}
	}
	if probe.isBlocking() {
		p.numBlocking--
		if p.numBlocking == 0 {
			p.UnsetObjectFlags(PadFlagBlocking)
		}
	}
	p.blockCond.Broadcast()
	p.mu.Unlock()
	catProbes.Debug(p, "removed probe %d", probe.id)
	if probe.destroy != nil {
		probe.destroy()
	}
}

// IsBlocked reports whether a thread is waiting in a blocking probe.
func (p *Pad) IsBlocked() bool { return p.HasObjectFlags(PadFlagBlocked) }

// IsBlocking reports whether blocking probes are installed.
func (p *Pad) IsBlocking() bool { return p.HasObjectFlags(PadFlagBlocking) }

func (p *Pad) callProbe(probe *padProbe, info *PadProbeInfo) (ret PadProbeReturn) {
	info.ID = probe.id
	defer func() {
		if r := recover(); r != nil {
			catProbes.Error(p, "panic in probe %d: %v", probe.id, r)
			ret = PadProbeDrop
			info.FlowRet = FlowError
		}
	}()
	return probe.callback(p, info)
}

func (p *Pad) runIdleProbe(probe *padProbe) {
	if probe.removed.Load() {
		return
	}
	info := &PadProbeInfo{Type: PadProbeTypeIdle}
	switch p.callProbe(probe, info) {
	case PadProbeRemove:
		p.removeProbe(probe)
	case PadProbePass:
	default:
		probe.fired.Store(true)
	}
}

// runPendingIdle fires idle probes that were added while the pad was streaming.
// Called with p.mu held and p.streaming just dropped to 0; returns with p.mu held.
func (p *Pad) runPendingIdleLocked() {
	var pending []*padProbe
	for _, pr := range p.probes {
		if pr.mask&PadProbeTypeIdle != 0 && !pr.fired.Load() {
			pending = append(pending, pr)
		}
	}
	if len(pending) == 0 {
		return
	}
	p.mu.Unlock()
	for _, pr := range pending {
		p.runIdleProbe(pr)
	}
	p.mu.Lock()
}

// runProbes runs the matching probes for info in insertion order. It returns the
// action the caller takes. Blocking probes that return OK suspend the caller until
// they are removed or the pad flushes. Called with p.mu held; returns with it held.
func (p *Pad) runProbesLocked(info *PadProbeInfo) (PadProbeReturn, FlowReturn) {
	if len(p.probes) == 0 {
		return PadProbeOK, FlowOK
	}
	probes := append([]*padProbe(nil), p.probes...)
	for _, probe := range probes {
		if !probe.matches(info.Type) {
			continue
		}
		if probe.mask&PadProbeTypeIdle != 0 {
			// idle probes block once fired, they do not see data
			if probe.fired.Load() && info.Type&PadProbeTypeEventFlush == 0 {
				if ret := p.blockOnLocked(probe); ret != FlowOK {
					return PadProbeDrop, ret
				}
			}
			continue
		}
		p.mu.Unlock()
		ret := p.callProbe(probe, info)
		p.mu.Lock()
		if p.HasObjectFlags(PadFlagFlushing) && info.Type&PadProbeTypeEventFlush == 0 {
			return PadProbeDrop, FlowFlushing
		}
		switch ret {
		case PadProbeDrop, PadProbeHandled:
			return ret, info.FlowRet
		case PadProbeRemove:
			p.mu.Unlock()
			p.removeProbe(probe)
			p.mu.Lock()
		case PadProbePass:
		case PadProbeOK:
			if probe.mask&PadProbeTypeBlock != 0 && info.Type&PadProbeTypeEventFlush == 0 {
				if ret := p.blockOnLocked(probe); ret != FlowOK {
					return PadProbeDrop, ret
				}
			}
		}
	}
	return PadProbeOK, FlowOK
}

// blockOnLocked waits until probe is removed or the pad starts flushing.
func (p *Pad) blockOnLocked(probe *padProbe) FlowReturn {
	catProbes.Debug(p, "blocking on probe %d", probe.id)
	p.SetObjectFlags(PadFlagBlocked)
	for !probe.removed.Load() && !p.HasObjectFlags(PadFlagFlushing) {
		p.blockCond.Wait()
	}
	p.UnsetObjectFlags(PadFlagBlocked)
	if p.HasObjectFlags(PadFlagFlushing) {
		return FlowFlushing
	}
	return FlowOK
}
