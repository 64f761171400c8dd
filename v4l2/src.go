package v4l2

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/thesyncim/gst"
	"github.com/thesyncim/gst/base"
)

var srcClass = base.NewSrcClass("GstV4l2Src",
	gst.ElementMetadata{
		LongName:       "Video (video4linux2) Source",
		Classification: "Source/Video",
		Description:    "Reads frames from a Video4Linux2 device",
		Author:         "gst-go",
	},
	gst.MustCapsFromString(deviceCaps),
	gst.NewParamString("device", "Device", "Device location", "/dev/video0", gst.ParamReadWrite),
)

func init() {
	srcClass.New = func() gst.ElementImpl { return &Src{} }
}

// Src reads whole frames from a capture node with the read() I/O method. The
// node must already be configured for the negotiated format; raw video caps
// with format, width and height set the frame size, other caps read
// "blocksize" bytes per buffer.
type Src struct {
	base.Src

	mu        sync.Mutex
	file      *os.File
	frameSize int
	duration  gst.ClockTime
	unlocked  bool
}

func (v *Src) Start(s *base.Src) error {
	path, _ := gst.PropertyAs[string](s.Element(), "device")
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("v4l2src: %w", err)
	}
	catV4L2.Info(s.Element(), "opened %s", path)

	v.mu.Lock()
	v.file = f
	v.frameSize = 0
	v.duration = gst.ClockTimeNone
	v.unlocked = false
	v.mu.Unlock()

	s.SetLive(true)
	s.SetFormat(gst.FormatTime)
	return nil
}

func (v *Src) Stop(*base.Src) error {
	v.mu.Lock()
	f := v.file
	v.file = nil
	v.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}

func (v *Src) SetCaps(_ *base.Src, caps *gst.Caps) error {
	size, duration := frameLayout(caps.Structure(0))
	v.mu.Lock()
	v.frameSize, v.duration = size, duration
	v.mu.Unlock()
	return nil
}

// frameLayout returns the byte size of one frame of raw video and its
// duration, or zero and ClockTimeNone when s does not describe them.
func frameLayout(s *gst.Structure) (int, gst.ClockTime) {
	duration := gst.ClockTimeNone
	if fr, err := gst.Get[gst.Fraction](s, "framerate"); err == nil && fr.Num > 0 {
		duration = gst.ClockTime(gst.Uint64Scale(uint64(gst.Second), uint64(fr.Den), uint64(fr.Num)))
	}
	if s.Name() != "video/x-raw" {
		return 0, duration
	}
	format, err := s.GetString("format")
	if err != nil {
		return 0, duration
	}
	w, err := s.GetInt("width")
	if err != nil {
		return 0, duration
	}
	h, err := s.GetInt("height")
	if err != nil {
		return 0, duration
	}
	cw, ch := (w+1)/2, (h+1)/2
	switch format {
	case "I420", "YV12", "NV12", "NV21":
		return w*h + 2*cw*ch, duration
	case "YUY2", "UYVY", "YVYU", "RGB16":
		return w * h * 2, duration
	case "RGB", "BGR":
		return w * h * 3, duration
	case "RGBA", "BGRA", "RGBx", "BGRx", "xRGB", "xBGR":
		return w * h * 4, duration
	case "GRAY8":
		return w * h, duration
	}
	return 0, duration
}

func (v *Src) Create(s *base.Src, _ uint64, size uint) (*gst.Buffer, gst.FlowReturn) {
	v.mu.Lock()
	f, frameSize, duration := v.file, v.frameSize, v.duration
	v.mu.Unlock()
	if f == nil {
		return nil, gst.FlowFlushing
	}
	if frameSize > 0 {
		size = uint(frameSize)
	}

	data := make([]byte, size)
	n, err := io.ReadFull(f, data)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		if n > 0 {
			catV4L2.Debug(s.Element(), "dropping %d bytes of a short frame", n)
		}
		return nil, gst.FlowEOS
	case err != nil:
		v.mu.Lock()
		unlocked := v.unlocked
		v.mu.Unlock()
		if unlocked || s.IsFlushing() {
			return nil, gst.FlowFlushing
		}
		s.Element().PostError(gst.NewError(gst.ResourceErrorRead, "could not read from device: %v", err), "")
		return nil, gst.FlowError
	}

	buf := gst.NewBufferFromSlice(data)
	buf.SetPTS(s.Element().CurrentRunningTime())
	buf.SetDuration(duration)
	return buf.Buffer, gst.FlowOK
}

// Unlock interrupts a blocking read through the poller.
func (v *Src) Unlock(*base.Src) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.unlocked = true
	if v.file != nil {
		_ = v.file.SetReadDeadline(time.Now())
	}
}

func (v *Src) UnlockStop(*base.Src) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.unlocked = false
	if v.file != nil {
		_ = v.file.SetReadDeadline(time.Time{})
	}
}
