// Package app provides the appsrc and appsink elements, the boundary where an
// application hands buffers to a pipeline and takes samples out of it.
package app

import (
	"fmt"
	"math"
	"sync"

	"github.com/thesyncim/gst"
	"github.com/thesyncim/gst/base"
)

var catAppSrc = gst.NewDebugCategory("appsrc", "application source")

// Values of the appsrc "leaky-type" property, applied when the queue holds more
// than "max-bytes".
const (
	LeakyNone       = "none"
	LeakyUpstream   = "upstream"
	LeakyDownstream = "downstream"
)

var appSrcClass = func() *gst.ElementClass {
	c := base.NewSrcClass("GstAppSrc",
		gst.ElementMetadata{
			LongName:       "AppSrc",
			Classification: "Generic/Source",
			Description:    "Allow the application to feed buffers to a pipeline",
			Author:         "gst-go",
		},
		gst.NewCapsAny(),
		gst.NewParamCaps("caps", "Caps", "The allowed caps for the src pad", gst.ParamReadWrite|gst.ParamMutablePlaying),
		gst.NewParamString("format", "Format", "The format of the segment events and seek (bytes, time)",
			"bytes", gst.ParamReadWrite),
		gst.NewParamBool("is-live", "Is Live", "Whether to act as a live source", false, gst.ParamReadWrite),
		gst.NewParamUint64("max-bytes", "Max bytes", "The maximum number of bytes to queue internally (0 = unlimited)",
			0, math.MaxUint64, 200000, gst.ParamReadWrite),
		gst.NewParamBool("block", "Block", "Block push-buffer when max-bytes are queued", false, gst.ParamReadWrite),
		gst.NewParamString("leaky-type", "Leaky Type", "Whether to drop buffers once the internal queue is full",
			LeakyNone, gst.ParamReadWrite),
		gst.NewParamInt64("min-latency", "Min Latency", "The minimum latency (-1 = default)",
			-1, math.MaxInt64, -1, gst.ParamReadWrite),
		gst.NewParamInt64("max-latency", "Max Latency", "The maximum latency (-1 = unlimited)",
			-1, math.MaxInt64, -1, gst.ParamReadWrite),
	)
	c.URIType = gst.URISrc
	c.URIProtocols = []string{"appsrc"}
	c.Interfaces = []string{"GstURIHandler"}
	return c
}()

func init() {
	appSrcClass.New = func() gst.ElementImpl { return &AppSrc{} }
}

// AppSrcCallbacks are invoked from the streaming thread. Any of them may be nil.
type AppSrcCallbacks struct {
	// NeedData runs when the queue ran empty and the element wants more data.
	NeedData func(src *AppSrc, length uint)
	// EnoughData runs when the queue reached "max-bytes".
	EnoughData func(src *AppSrc)
	// SeekData moves the application to offset, in the "format" of the
	// element. Without it the stream is not seekable.
	SeekData func(src *AppSrc, offset uint64) bool
}

type queueItem struct {
	buf  *gst.Buffer
	caps *gst.Caps
}

// AppSrc pushes buffers handed to it by the application.
type AppSrc struct {
	base.Src

	mu        sync.Mutex
	changed   chan struct{}
	queue     []queueItem
	bytes     uint64
	started   bool
	unlocked  bool
	eos       bool
	callbacks AppSrcCallbacks
	uri       string
}

func (a *AppSrc) Constructed(e *gst.Element) {
	a.Src.Constructed(e)
	a.changed = make(chan struct{})
	a.uri = "appsrc://"
}

// SetCallbacks replaces the callbacks.
func (a *AppSrc) SetCallbacks(cb AppSrcCallbacks) {
	a.mu.Lock()
	a.callbacks = cb
	a.mu.Unlock()
}

func (a *AppSrc) broadcastLocked() {
	close(a.changed)
	a.changed = make(chan struct{})
}

// waitLocked releases a.mu until the queue state changes.
func (a *AppSrc) waitLocked() {
	ch := a.changed
	a.mu.Unlock()
	<-ch
	a.mu.Lock()
}

// SetCaps sets the caps of the following buffers. Buffers already queued keep
// the previous caps.
func (a *AppSrc) SetCaps(caps *gst.Caps) error {
	if err := a.Element().SetProperty("caps", caps); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started && caps != nil {
		a.queue = append(a.queue, queueItem{caps: caps.Ref()})
		a.broadcastLocked()
	}
	return nil
}

// CurrentCaps returns a new reference to the configured caps, or nil.
func (a *AppSrc) CurrentCaps() *gst.Caps {
	caps, _ := gst.PropertyAs[*gst.Caps](a.Element(), "caps")
	if caps == nil {
		return nil
	}
	return caps.Ref()
}

// CurrentLevelBytes returns the number of queued bytes.
func (a *AppSrc) CurrentLevelBytes() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.bytes
}

// PushBuffer queues buf for pushing and takes ownership of it. It returns
// FlowFlushing when the element is not running and FlowEOS after
// EndOfStream.
func (a *AppSrc) PushBuffer(buf *gst.Buffer) gst.FlowReturn {
	return a.push(buf)
}

// PushBufferList queues every buffer of list and takes ownership of it.
func (a *AppSrc) PushBufferList(list *gst.BufferList) gst.FlowReturn {
	defer list.Unref()
	for i := 0; i < list.Len(); i++ {
		if ret := a.push(list.Get(i).Ref()); ret != gst.FlowOK {
			return ret
		}
	}
	return gst.FlowOK
}

// PushSample queues the buffer or buffer list of sample, switching to the
// sample caps first when they differ. The sample is borrowed.
func (a *AppSrc) PushSample(sample *gst.Sample) gst.FlowReturn {
	if caps := sample.Caps(); caps != nil {
		cur := a.CurrentCaps()
		same := cur != nil && cur.IsEqual(caps)
		if cur != nil {
			cur.Unref()
		}
		if !same {
			if err := a.SetCaps(caps); err != nil {
				catAppSrc.Warning(a.Element(), "sample caps: %v", err)
				return gst.FlowError
			}
		}
	}
	if buf := sample.Buffer(); buf != nil {
		return a.PushBuffer(buf.Ref())
	}
	if list := sample.BufferList(); list != nil {
		return a.PushBufferList(list.Ref())
	}
	catAppSrc.Warning(a.Element(), "sample without buffer")
	return gst.FlowError
}

func (a *AppSrc) push(buf *gst.Buffer) gst.FlowReturn {
	e := a.Element()
	maxBytes, _ := gst.PropertyAs[uint64](e, "max-bytes")
	block, _ := gst.PropertyAs[bool](e, "block")
	leaky, _ := gst.PropertyAs[string](e, "leaky-type")

	a.mu.Lock()
	for {
		if !a.started || a.Src.IsFlushing() {
			a.mu.Unlock()
			buf.Unref()
			return gst.FlowFlushing
		}
		if a.eos {
			a.mu.Unlock()
			buf.Unref()
			return gst.FlowEOS
		}
		if maxBytes == 0 || a.bytes < maxBytes {
			break
		}
		enough := a.callbacks.EnoughData
		if enough != nil {
			a.mu.Unlock()
			enough(a)
			a.mu.Lock()
		}
		if leaky == LeakyUpstream {
			a.mu.Unlock()
			catAppSrc.Debug(e, "queue full, dropping new buffer %s", buf)
			buf.Unref()
			return gst.FlowOK
		}
		if leaky == LeakyDownstream {
			a.dropOldestLocked()
			continue
		}
		if !block {
			break
		}
		catAppSrc.Log(e, "queue full, blocking")
		a.waitLocked()
	}
	a.queue = append(a.queue, queueItem{buf: buf})
	a.bytes += uint64(buf.Size())
	a.broadcastLocked()
	a.mu.Unlock()
	return gst.FlowOK
}

func (a *AppSrc) dropOldestLocked() {
	for i, it := range a.queue {
		if it.buf == nil {
			continue
		}
		catAppSrc.Debug(a.Element(), "queue full, dropping old buffer %s", it.buf)
		a.bytes -= uint64(it.buf.Size())
		it.buf.Unref()
		a.queue = append(a.queue[:i], a.queue[i+1:]...)
		return
	}
}

// EndOfStream makes the element push EOS once the queued buffers are out.
func (a *AppSrc) EndOfStream() gst.FlowReturn {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.started || a.Src.IsFlushing() {
		return gst.FlowFlushing
	}
	a.eos = true
	a.broadcastLocked()
	return gst.FlowOK
}

func (a *AppSrc) clearLocked() {
	for _, it := range a.queue {
		if it.buf != nil {
			it.buf.Unref()
		}
		if it.caps != nil {
			it.caps.Unref()
		}
	}
	a.queue = nil
	a.bytes = 0
}

func (a *AppSrc) Start(s *base.Src) error {
	e := s.Element()
	format, _ := gst.PropertyAs[string](e, "format")
	live, _ := gst.PropertyAs[bool](e, "is-live")
	minLat, _ := gst.PropertyAs[int64](e, "min-latency")
	maxLat, _ := gst.PropertyAs[int64](e, "max-latency")

	switch format {
	case "bytes":
		s.SetFormat(gst.FormatBytes)
	case "time":
		s.SetFormat(gst.FormatTime)
	default:
		return fmt.Errorf("appsrc: unsupported format %q", format)
	}
	s.SetLive(live)
	latMin, latMax := gst.ClockTime(0), gst.ClockTimeNone
	if minLat >= 0 {
		latMin = gst.ClockTime(minLat)
	}
	if maxLat >= 0 {
		latMax = gst.ClockTime(maxLat)
	}
	s.SetLatency(latMin, latMax)

	a.mu.Lock()
	a.started = true
	a.eos = false
	a.unlocked = false
	a.clearLocked()
	a.broadcastLocked()
	a.mu.Unlock()
	return nil
}

func (a *AppSrc) Stop(*base.Src) error {
	a.mu.Lock()
	a.started = false
	a.clearLocked()
	a.broadcastLocked()
	a.mu.Unlock()
	return nil
}

func (a *AppSrc) Unlock(*base.Src) {
	a.mu.Lock()
	a.unlocked = true
	a.broadcastLocked()
	a.mu.Unlock()
}

func (a *AppSrc) UnlockStop(*base.Src) {
	a.mu.Lock()
	a.unlocked = false
	a.broadcastLocked()
	a.mu.Unlock()
}

func (a *AppSrc) Caps(_ *base.Src, filter *gst.Caps) *gst.Caps {
	caps := a.CurrentCaps()
	if caps == nil {
		caps = gst.NewCapsAny()
	}
	if filter != nil {
		inter := filter.IntersectWithMode(caps, gst.CapsIntersectFirst)
		caps.Unref()
		caps = inter
	}
	return caps
}

func (a *AppSrc) Create(s *base.Src, _ uint64, size uint) (*gst.Buffer, gst.FlowReturn) {
	a.mu.Lock()
	for {
		if a.unlocked {
			a.mu.Unlock()
			return nil, gst.FlowFlushing
		}
		if len(a.queue) > 0 {
			it := a.queue[0]
			a.queue = a.queue[1:]
			if it.caps != nil {
				a.mu.Unlock()
				catAppSrc.Debug(s.Element(), "caps changed to %s", it.caps)
				ok := s.PushCaps(it.caps)
				it.caps.Unref()
				if !ok {
					return nil, gst.FlowNotNegotiated
				}
				a.mu.Lock()
				continue
			}
			a.bytes -= uint64(it.buf.Size())
			a.broadcastLocked()
			a.mu.Unlock()
			return it.buf, gst.FlowOK
		}
		if a.eos {
			a.mu.Unlock()
			return nil, gst.FlowEOS
		}
		if need := a.callbacks.NeedData; need != nil {
			a.mu.Unlock()
			need(a, size)
			a.mu.Lock()
			if len(a.queue) > 0 || a.eos || a.unlocked {
				continue
			}
		}
		a.waitLocked()
	}
}

func (a *AppSrc) IsSeekable(*base.Src) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.callbacks.SeekData != nil
}

func (a *AppSrc) DoSeek(s *base.Src, seg *gst.Segment) bool {
	a.mu.Lock()
	seek := a.callbacks.SeekData
	a.clearLocked()
	a.eos = false
	a.broadcastLocked()
	a.mu.Unlock()
	if seek == nil {
		return false
	}
	catAppSrc.Debug(s.Element(), "seeking to %d", seg.Start)
	return seek(a, seg.Start)
}

// URI returns the URI last set, "appsrc://" by default.
func (a *AppSrc) URI(*gst.Element) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.uri == "" {
		return "appsrc://"
	}
	return a.uri
}

func (a *AppSrc) SetURI(_ *gst.Element, uri string) error {
	if !gst.URIHasProtocol(uri, "appsrc") {
		return fmt.Errorf("%w: %q", gst.ErrURIUnsupportedProtocol, uri)
	}
	a.mu.Lock()
	a.uri = uri
	a.mu.Unlock()
	return nil
}
