package elements

import (
	"fmt"
	"sync"

	"github.com/thesyncim/gst"
)

var catCapsFilter = gst.NewDebugCategory("capsfilter", "caps filter")

// Values of the capsfilter "caps-change-mode" property.
const (
	// CapsChangeImmediate applies new filter caps to the next caps event.
	CapsChangeImmediate = "immediate"
	// CapsChangeDelayed keeps accepting the previous filter caps until data
	// matching the new ones arrives.
	CapsChangeDelayed = "delayed"
)

var capsFilterClass = &gst.ElementClass{
	TypeName: "GstCapsFilter",
	Metadata: gst.ElementMetadata{
		LongName:       "CapsFilter",
		Classification: "Generic",
		Description:    "Pass data without modification, limiting formats",
		Author:         "gst-go",
	},
	PadTemplates: []*gst.PadTemplate{
		gst.MustPadTemplate("sink", gst.PadDirectionSink, gst.PadAlways, gst.NewCapsAny()),
		gst.MustPadTemplate("src", gst.PadDirectionSrc, gst.PadAlways, gst.NewCapsAny()),
	},
	Properties: []*gst.ParamSpec{
		gst.NewParamCaps("caps", "Filter caps", "Restrict the possible allowed capabilities (NULL means ANY)",
			gst.ParamReadWrite),
		gst.NewParamString("caps-change-mode", "Caps Change Mode", "Filter caps change behaviour (immediate, delayed)",
			CapsChangeImmediate, gst.ParamReadWrite),
	},
}

func init() {
	capsFilterClass.New = func() gst.ElementImpl { return &CapsFilter{} }
}

// CapsFilter restricts the formats negotiated through it to its "caps"
// property.
type CapsFilter struct {
	elem    *gst.Element
	sinkpad *gst.Pad
	srcpad  *gst.Pad

	mu       sync.Mutex
	filter   *gst.Caps
	previous []*gst.Caps // older filters still accepted in delayed mode
}

func (f *CapsFilter) Constructed(e *gst.Element) {
	f.elem = e
	f.filter = gst.NewCapsAny()

	f.sinkpad = gst.NewPadFromTemplate(e.PadTemplate("sink"), "sink")
	f.sinkpad.SetChainFunction(f.chain)
	f.sinkpad.SetEventFunction(f.sinkEvent)
	f.sinkpad.SetQueryFunction(f.query)
	f.sinkpad.SetObjectFlags(gst.PadFlagProxyAllocation | gst.PadFlagProxyScheduling)

	f.srcpad = gst.NewPadFromTemplate(e.PadTemplate("src"), "src")
	f.srcpad.SetQueryFunction(f.query)
	f.srcpad.SetObjectFlags(gst.PadFlagProxyAllocation | gst.PadFlagProxyScheduling)

	for _, p := range []*gst.Pad{f.sinkpad, f.srcpad} {
		if err := e.AddPad(p); err != nil {
			panic(err)
		}
	}
}

// SetProperty keeps its own reference to the filter caps and asks upstream to
// renegotiate when they change.
func (f *CapsFilter) SetProperty(o *gst.Object, name string, value any) error {
	if name != "caps" {
		o.StoreProperty(name, value)
		return nil
	}
	caps, _ := value.(*gst.Caps)
	if caps == nil {
		caps = gst.NewCapsAny()
	} else {
		caps = caps.Ref()
	}

	mode, _ := o.StoredProperty("caps-change-mode").(string)
	f.mu.Lock()
	old := f.filter
	f.filter = caps
	if mode == CapsChangeDelayed {
		f.previous = append(f.previous, old)
	} else {
		old.Unref()
		f.releasePreviousLocked()
	}
	f.mu.Unlock()

	catCapsFilter.Debug(f.elem, "set new caps %s", caps)
	f.srcpad.MarkReconfigure()
	f.sinkpad.PushEvent(gst.NewReconfigureEvent())
	return nil
}

func (f *CapsFilter) Property(o *gst.Object, name string) (any, error) {
	if name != "caps" {
		return o.StoredProperty(name), nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filter, nil
}

func (f *CapsFilter) releasePreviousLocked() {
	for _, c := range f.previous {
		c.Unref()
	}
	f.previous = nil
}

func (f *CapsFilter) currentFilter() *gst.Caps {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.filter.Ref()
}

func (f *CapsFilter) otherPad(p *gst.Pad) *gst.Pad {
	if p == f.srcpad {
		return f.sinkpad
	}
	return f.srcpad
}

func (f *CapsFilter) query(pad *gst.Pad, parent *gst.Element, q *gst.QueryMut) bool {
	switch q.QueryType() {
	case gst.QueryCaps:
		filter := f.currentFilter()
		defer filter.Unref()

		peerFilter := filter.Ref()
		if qf := q.ParseCaps(); qf != nil {
			peerFilter.Unref()
			peerFilter = qf.IntersectWithMode(filter, gst.CapsIntersectFirst)
		}
		peerCaps := f.otherPad(pad).PeerQueryCaps(peerFilter)
		peerFilter.Unref()

		result := peerCaps.IntersectWithMode(filter, gst.CapsIntersectFirst)
		peerCaps.Unref()
		catCapsFilter.Log(f.elem, "%s caps query result %s", pad.Name(), result)
		q.SetCapsResult(result)
		result.Unref()
		return true
	case gst.QueryAcceptCaps:
		caps := q.ParseAcceptCaps()
		ok := f.accepts(caps) && f.otherPad(pad).PeerQueryAcceptCaps(caps)
		q.SetAcceptCapsResult(ok)
		return true
	}
	return pad.QueryDefault(parent, q)
}

func (f *CapsFilter) accepts(caps *gst.Caps) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if caps.CanIntersect(f.filter) {
		return true
	}
	for _, c := range f.previous {
		if caps.CanIntersect(c) {
			return true
		}
	}
	return false
}

func (f *CapsFilter) sinkEvent(pad *gst.Pad, parent *gst.Element, ev *gst.Event) bool {
	if ev.EventType() != gst.EventCaps {
		return pad.EventDefault(parent, ev)
	}

	caps := ev.ParseCaps()
	f.mu.Lock()
	matches := caps.CanIntersect(f.filter)
	if matches {
		// data follows the newest filter, older ones are no longer needed
		f.releasePreviousLocked()
	}
	f.mu.Unlock()
	if !matches && !f.accepts(caps) {
		filter := f.currentFilter()
		catCapsFilter.Warning(f.elem, "caps %s not compatible with filter %s", caps, filter)
		f.elem.PostError(gst.NewError(gst.CoreErrorNegotiation,
			"%s", fmt.Sprintf("caps %s do not match filter %s", caps, filter)), "")
		filter.Unref()
		ev.Unref()
		return false
	}
	catCapsFilter.Debug(f.elem, "forwarding caps %s", caps)
	return f.srcpad.PushEvent(ev)
}

func (f *CapsFilter) chain(_ *gst.Pad, _ *gst.Element, buf *gst.Buffer) gst.FlowReturn {
	if !f.sinkpad.HasCurrentCaps() && !f.srcpad.HasCurrentCaps() {
		// upstream never negotiated; fixed filter caps describe the data
		filter := f.currentFilter()
		fixed := filter.IsFixed()
		if fixed {
			catCapsFilter.Debug(f.elem, "pushing filter caps %s on unnegotiated stream", filter)
			if !f.srcpad.PushEvent(gst.NewCapsEvent(filter)) {
				filter.Unref()
				buf.Unref()
				return gst.FlowNotNegotiated
			}
		}
		filter.Unref()
		if !fixed {
			buf.Unref()
			f.elem.PostError(gst.NewError(gst.CoreErrorNegotiation, "Filter caps do not completely specify the output format"), "")
			return gst.FlowNotNegotiated
		}
	}
	return f.srcpad.Push(buf)
}
