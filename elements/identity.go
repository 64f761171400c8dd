package elements

import (
	"encoding/hex"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/thesyncim/gst"
)

var catIdentity = gst.NewDebugCategory("identity", "identity element")

var identityClass = &gst.ElementClass{
	TypeName: "GstIdentity",
	Metadata: gst.ElementMetadata{
		LongName:       "Identity",
		Classification: "Generic",
		Description:    "Pass data without modification",
		Author:         "gst-go",
	},
	PadTemplates: []*gst.PadTemplate{
		gst.MustPadTemplate("sink", gst.PadDirectionSink, gst.PadAlways, gst.NewCapsAny()),
		gst.MustPadTemplate("src", gst.PadDirectionSrc, gst.PadAlways, gst.NewCapsAny()),
	},
	Properties: []*gst.ParamSpec{
		gst.NewParamUint("sleep-time", "Sleep time", "Microseconds to sleep between processing",
			0, 1<<32-1, 0, gst.ParamReadWrite),
		gst.NewParamDouble("drop-probability", "Drop Probability", "The Probability a buffer is dropped",
			0, 1, 0, gst.ParamReadWrite),
		gst.NewParamInt("error-after", "Error After", "Error after N buffers (-1 = never)",
			-1, 1<<31-1, -1, gst.ParamReadWrite),
		gst.NewParamBool("single-segment", "Single Segment",
			"Timestamp buffers and eat segments so as to appear as one segment", false, gst.ParamReadWrite),
		gst.NewParamBool("silent", "silent", "silent", true, gst.ParamReadWrite),
		gst.NewParamBool("dump", "Dump", "Dump buffer contents to the log", false, gst.ParamReadWrite),
		gst.NewParamBool("signal-handoffs", "Signal handoffs", "Send a signal before pushing the buffer",
			true, gst.ParamReadWrite),
	},
}

func init() {
	identityClass.New = func() gst.ElementImpl { return &Identity{} }
}

// Identity forwards buffers and events untouched, optionally dropping, delaying
// or failing on buffers for testing.
type Identity struct {
	elem    *gst.Element
	sinkpad *gst.Pad
	srcpad  *gst.Pad

	mu          sync.Mutex
	handoffs    []func(buf *gst.Buffer)
	segment     gst.Segment
	segmentSent bool
	count       int
	rng         *rand.Rand
}

// ConnectHandoff calls fn with every buffer before it is pushed when
// "signal-handoffs" is set.
func (i *Identity) ConnectHandoff(fn func(buf *gst.Buffer)) {
	i.mu.Lock()
	i.handoffs = append(i.handoffs, fn)
	i.mu.Unlock()
}

func (i *Identity) Constructed(e *gst.Element) {
	i.elem = e
	i.segment.Init(gst.FormatUndefined)
	i.rng = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))

	i.sinkpad = gst.NewPadFromTemplate(e.PadTemplate("sink"), "sink")
	i.sinkpad.SetChainFunction(i.chain)
	i.sinkpad.SetEventFunction(i.sinkEvent)
	i.sinkpad.SetObjectFlags(gst.PadFlagProxyCaps | gst.PadFlagProxyAllocation | gst.PadFlagProxyScheduling)

	i.srcpad = gst.NewPadFromTemplate(e.PadTemplate("src"), "src")
	i.srcpad.SetObjectFlags(gst.PadFlagProxyCaps | gst.PadFlagProxyAllocation | gst.PadFlagProxyScheduling)

	for _, p := range []*gst.Pad{i.sinkpad, i.srcpad} {
		if err := e.AddPad(p); err != nil {
			panic(err)
		}
	}
}

func (i *Identity) ChangeState(e *gst.Element, t gst.StateChange) gst.StateChangeReturn {
	if t == gst.StateChangeReadyToPaused {
		i.mu.Lock()
		i.segment.Init(gst.FormatUndefined)
		i.segmentSent = false
		i.count = 0
		i.mu.Unlock()
	}
	return e.ParentChangeState(t)
}

func (i *Identity) sinkEvent(pad *gst.Pad, parent *gst.Element, ev *gst.Event) bool {
	single, _ := gst.PropertyAs[bool](i.elem, "single-segment")
	switch ev.EventType() {
	case gst.EventSegment:
		seg := ev.ParseSegment()
		i.mu.Lock()
		i.segment = *seg
		sent := i.segmentSent
		i.segmentSent = true
		i.mu.Unlock()
		if single {
			ev.Unref()
			if sent {
				return true
			}
			// downstream sees one open time segment; buffers carry running time
			return i.srcpad.PushEvent(gst.NewSegmentEvent(gst.NewSegment(gst.FormatTime)))
		}
	case gst.EventFlushStop:
		if single {
			i.mu.Lock()
			i.segmentSent = false
			i.mu.Unlock()
		}
	}
	if silent, _ := gst.PropertyAs[bool](i.elem, "silent"); !silent {
		catIdentity.Info(i.elem, "event: %s", ev)
	}
	return pad.EventDefault(parent, ev)
}

func (i *Identity) chain(_ *gst.Pad, _ *gst.Element, buf *gst.Buffer) gst.FlowReturn {
	e := i.elem

	i.mu.Lock()
	i.count++
	count := i.count
	errorAfter, _ := gst.PropertyAs[int32](e, "error-after")
	dropProb, _ := gst.PropertyAs[float64](e, "drop-probability")
	drop := dropProb > 0 && i.rng.Float64() < dropProb
	seg := i.segment
	handoffs := i.handoffs
	i.mu.Unlock()

	if errorAfter >= 0 && count > int(errorAfter) {
		buf.Unref()
		e.PostError(gst.NewError(gst.CoreErrorFailed, "Failed after iterations as requested."), "")
		return gst.FlowError
	}
	if drop {
		catIdentity.Debug(e, "dropping buffer %s", buf)
		buf.Unref()
		return gst.FlowOK
	}

	if single, _ := gst.PropertyAs[bool](e, "single-segment"); single && seg.Format == gst.FormatTime {
		w := buf.MakeWritable()
		if pts := w.PTS(); pts.IsValid() {
			rt, ok := seg.ToRunningTime(gst.FormatTime, uint64(pts))
			if !ok {
				w.Unref()
				return gst.FlowOK
			}
			w.SetPTS(gst.ClockTime(rt))
		}
		if dts := w.DTS(); dts.IsValid() {
			if rt, ok := seg.ToRunningTime(gst.FormatTime, uint64(dts)); ok {
				w.SetDTS(gst.ClockTime(rt))
			} else {
				w.SetDTS(gst.ClockTimeNone)
			}
		}
		buf = w.Buffer
	}

	if silent, _ := gst.PropertyAs[bool](e, "silent"); !silent {
		catIdentity.Info(e, "chain: %s", buf)
	}
	if dump, _ := gst.PropertyAs[bool](e, "dump"); dump {
		if m, err := buf.MapReadable(); err == nil {
			catIdentity.Info(e, "\n%s", hex.Dump(m.Data))
			m.Unmap()
		}
	}
	if on, _ := gst.PropertyAs[bool](e, "signal-handoffs"); on {
		for _, fn := range handoffs {
			fn(buf)
		}
	}
	if us, _ := gst.PropertyAs[uint32](e, "sleep-time"); us > 0 {
		time.Sleep(time.Duration(us) * time.Microsecond)
	}
	return i.srcpad.Push(buf)
}
