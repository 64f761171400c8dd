package elements

import (
	"encoding/hex"
	"sync"

	"github.com/thesyncim/gst"
	"github.com/thesyncim/gst/base"
)

var catFakeSink = gst.NewDebugCategory("fakesink", "fake sink")

var fakeSinkClass = base.NewSinkClass("GstFakeSink",
	gst.ElementMetadata{
		LongName:       "Fake Sink",
		Classification: "Sink",
		Description:    "Black hole for data",
		Author:         "gst-go",
	},
	gst.NewCapsAny(),
	gst.NewParamBool("signal-handoffs", "Signal handoffs", "Send a signal before unreffing the buffer",
		false, gst.ParamReadWrite),
	gst.NewParamBool("silent", "Silent", "Don't log render events", true, gst.ParamReadWrite),
	gst.NewParamBool("dump", "Dump", "Dump buffer contents to the log", false, gst.ParamReadWrite),
	gst.NewParamInt("num-buffers", "num-buffers", "Number of buffers to accept going EOS",
		-1, 1<<31-1, -1, gst.ParamReadWrite),
)

func init() {
	fakeSinkClass.New = func() gst.ElementImpl { return &FakeSink{} }
}

// FakeSink swallows everything it receives.
type FakeSink struct {
	base.Sink

	mu              sync.Mutex
	handoffs        []func(buf *gst.Buffer)
	prerollHandoffs []func(buf *gst.Buffer)
	count           int
}

// ConnectHandoff calls fn with every rendered buffer when "signal-handoffs" is
// set.
func (f *FakeSink) ConnectHandoff(fn func(buf *gst.Buffer)) {
	f.mu.Lock()
	f.handoffs = append(f.handoffs, fn)
	f.mu.Unlock()
}

// ConnectPrerollHandoff calls fn with every prerolled buffer when
// "signal-handoffs" is set.
func (f *FakeSink) ConnectPrerollHandoff(fn func(buf *gst.Buffer)) {
	f.mu.Lock()
	f.prerollHandoffs = append(f.prerollHandoffs, fn)
	f.mu.Unlock()
}

func (f *FakeSink) Start(*base.Sink) error {
	f.mu.Lock()
	f.count = 0
	f.mu.Unlock()
	return nil
}

func (f *FakeSink) Preroll(s *base.Sink, buf *gst.Buffer) gst.FlowReturn {
	f.mu.Lock()
	fns := f.prerollHandoffs
	f.mu.Unlock()
	f.handoff(s, buf, fns)
	return gst.FlowOK
}

func (f *FakeSink) Render(s *base.Sink, buf *gst.Buffer) gst.FlowReturn {
	e := s.Element()
	if silent, _ := gst.PropertyAs[bool](e, "silent"); !silent {
		catFakeSink.Info(e, "chain: %s", buf)
	}
	if dump, _ := gst.PropertyAs[bool](e, "dump"); dump {
		if m, err := buf.MapReadable(); err == nil {
			catFakeSink.Info(e, "\n%s", hex.Dump(m.Data))
			m.Unmap()
		}
	}

	f.mu.Lock()
	fns := f.handoffs
	f.count++
	count := f.count
	f.mu.Unlock()
	f.handoff(s, buf, fns)

	if limit, _ := gst.PropertyAs[int32](e, "num-buffers"); limit >= 0 && count >= int(limit) {
		catFakeSink.Debug(e, "reached num-buffers")
		return gst.FlowEOS
	}
	return gst.FlowOK
}

func (f *FakeSink) handoff(s *base.Sink, buf *gst.Buffer, fns []func(*gst.Buffer)) {
	if on, _ := gst.PropertyAs[bool](s.Element(), "signal-handoffs"); !on {
		return
	}
	for _, fn := range fns {
		fn(buf)
	}
}
