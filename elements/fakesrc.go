package elements

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/thesyncim/gst"
	"github.com/thesyncim/gst/base"
)

var catFakeSrc = gst.NewDebugCategory("fakesrc", "fake source")

// Size and fill modes of fakesrc, set through the "sizetype" and "filltype"
// properties.
const (
	SizeEmpty  = "empty"
	SizeFixed  = "fixed"
	SizeRandom = "random"

	FillNothing     = "nothing"
	FillZero        = "zero"
	FillRandom      = "random"
	FillPattern     = "pattern"
	FillPatternCont = "pattern-span"
)

var fakeSrcClass = base.NewSrcClass("GstFakeSrc",
	gst.ElementMetadata{
		LongName:       "Fake Source",
		Classification: "Source",
		Description:    "Push empty (no data) buffers around",
		Author:         "gst-go",
	},
	gst.NewCapsAny(),
	gst.NewParamString("sizetype", "Size Type", "How to determine buffer sizes (empty, fixed, random)",
		SizeEmpty, gst.ParamReadWrite),
	gst.NewParamInt("sizemin", "sizemin", "Minimum buffer size", 0, math.MaxInt32, 0, gst.ParamReadWrite),
	gst.NewParamInt("sizemax", "sizemax", "Maximum buffer size", 0, math.MaxInt32, 4096, gst.ParamReadWrite),
	gst.NewParamString("filltype", "Fill Type", "How to fill the buffer, if at all", FillZero, gst.ParamReadWrite),
	gst.NewParamInt("datarate", "Datarate", "Timestamps buffers with number of bytes per second (0 = none)",
		0, math.MaxInt32, 0, gst.ParamReadWrite),
	gst.NewParamBool("is-live", "Is this a live source", "True if the element cannot produce data in PAUSED",
		false, gst.ParamReadWrite),
	gst.NewParamBool("signal-handoffs", "Signal handoffs", "Send a signal before pushing the buffer",
		false, gst.ParamReadWrite),
)

func init() {
	fakeSrcClass.New = func() gst.ElementImpl { return &FakeSrc{} }
}

// FakeSrc produces buffers of configurable size and content.
type FakeSrc struct {
	base.Src

	mu       sync.Mutex
	handoffs []func(buf *gst.Buffer)

	sizeType string
	fillType string
	sizeMin  int
	sizeMax  int
	datarate int
	sent     uint64
	pattern  byte
	rng      *rand.Rand
}

// ConnectHandoff calls fn with every buffer before it is pushed when
// "signal-handoffs" is set.
func (f *FakeSrc) ConnectHandoff(fn func(buf *gst.Buffer)) {
	f.mu.Lock()
	f.handoffs = append(f.handoffs, fn)
	f.mu.Unlock()
}

func (f *FakeSrc) Start(s *base.Src) error {
	e := s.Element()
	sizeType, _ := gst.PropertyAs[string](e, "sizetype")
	fillType, _ := gst.PropertyAs[string](e, "filltype")
	sizeMin, _ := gst.PropertyAs[int32](e, "sizemin")
	sizeMax, _ := gst.PropertyAs[int32](e, "sizemax")
	datarate, _ := gst.PropertyAs[int32](e, "datarate")
	live, _ := gst.PropertyAs[bool](e, "is-live")

	switch sizeType {
	case SizeEmpty, SizeFixed, SizeRandom:
	default:
		return fmt.Errorf("fakesrc: unknown sizetype %q", sizeType)
	}
	switch fillType {
	case FillNothing, FillZero, FillRandom, FillPattern, FillPatternCont:
	default:
		return fmt.Errorf("fakesrc: unknown filltype %q", fillType)
	}
	if sizeMin > sizeMax {
		return fmt.Errorf("fakesrc: sizemin %d above sizemax %d", sizeMin, sizeMax)
	}

	f.mu.Lock()
	f.sizeType, f.fillType = sizeType, fillType
	f.sizeMin, f.sizeMax = int(sizeMin), int(sizeMax)
	f.datarate = int(datarate)
	f.sent = 0
	f.pattern = 0
	f.rng = rand.New(rand.NewPCG(uint64(sizeMin), uint64(sizeMax)))
	f.mu.Unlock()
	s.SetLive(live)
	if datarate > 0 {
		s.SetFormat(gst.FormatTime)
	} else {
		s.SetFormat(gst.FormatBytes)
	}
	return nil
}

func (f *FakeSrc) Create(s *base.Src, _ uint64, _ uint) (*gst.Buffer, gst.FlowReturn) {
	f.mu.Lock()
	size := 0
	switch f.sizeType {
	case SizeFixed:
		size = f.sizeMax
	case SizeRandom:
		size = f.sizeMin + f.rng.IntN(f.sizeMax-f.sizeMin+1)
	}
	buf := gst.NewBufferWithSize(size)
	if size > 0 && f.fillType != FillNothing && f.fillType != FillZero {
		m, err := buf.MapWritable()
		if err != nil {
			f.mu.Unlock()
			buf.Unref()
			return nil, gst.FlowError
		}
		switch f.fillType {
		case FillRandom:
			for i := range m.Data {
				m.Data[i] = byte(f.rng.Uint32())
			}
		case FillPattern:
			for i := range m.Data {
				m.Data[i] = byte(i)
			}
		case FillPatternCont:
			for i := range m.Data {
				m.Data[i] = f.pattern
				f.pattern++
			}
		}
		m.Unmap()
	}
	buf.SetOffset(f.sent)
	buf.SetOffsetEnd(f.sent + uint64(size))
	if f.datarate > 0 {
		buf.SetPTS(gst.ClockTime(f.sent * uint64(gst.Second) / uint64(f.datarate)))
		buf.SetDuration(gst.ClockTime(uint64(size) * uint64(gst.Second) / uint64(f.datarate)))
	}
	f.sent += uint64(size)
	handoffs := f.handoffs
	f.mu.Unlock()

	if on, _ := gst.PropertyAs[bool](s.Element(), "signal-handoffs"); on {
		for _, fn := range handoffs {
			fn(buf.Buffer)
		}
	}
	catFakeSrc.Log(s.Element(), "created buffer of %d bytes", size)
	return buf.Buffer, gst.FlowOK
}
