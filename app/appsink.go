package app

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/thesyncim/gst"
	"github.com/thesyncim/gst/base"
)

var catAppSink = gst.NewDebugCategory("appsink", "application sink")

// Errors returned when pulling samples.
var (
	ErrEOS      = errors.New("app: end of stream")
	ErrFlushing = errors.New("app: sink is flushing or not running")
)

var appSinkClass = base.NewSinkClass("GstAppSink",
	gst.ElementMetadata{
		LongName:       "AppSink",
		Classification: "Generic/Sink",
		Description:    "Allow the application to get access to raw buffer",
		Author:         "gst-go",
	},
	gst.NewCapsAny(),
	gst.NewParamCaps("caps", "Caps", "The allowed caps for the sink pad", gst.ParamReadWrite),
	gst.NewParamUint("max-buffers", "Max Buffers", "The maximum number of buffers to queue internally (0 = unlimited)",
		0, math.MaxUint32, 0, gst.ParamReadWrite),
	gst.NewParamBool("drop", "Drop", "Drop old buffers when the buffer queue is filled", false, gst.ParamReadWrite),
	gst.NewParamBool("wait-on-eos", "Wait on EOS", "Wait for all buffers to be processed after receiving an EOS",
		true, gst.ParamReadWrite),
)

func init() {
	appSinkClass.New = func() gst.ElementImpl { return &AppSink{} }
}

// AppSinkCallbacks are invoked from the streaming thread. Any of them may be
// nil. NewPreroll and NewSample usually pull the sample they announce.
type AppSinkCallbacks struct {
	EOS        func(sink *AppSink)
	NewPreroll func(sink *AppSink) gst.FlowReturn
	NewSample  func(sink *AppSink) gst.FlowReturn
}

// AppSink hands the samples reaching it to the application.
type AppSink struct {
	base.Sink

	mu        sync.Mutex
	changed   chan struct{}
	queue     []*gst.Sample
	preroll   *gst.Sample
	started   bool
	unlocked  bool
	eos       bool
	callbacks AppSinkCallbacks
}

func (a *AppSink) Constructed(e *gst.Element) {
	a.Sink.Constructed(e)
	a.changed = make(chan struct{})
}

// SetCallbacks replaces the callbacks.
func (a *AppSink) SetCallbacks(cb AppSinkCallbacks) {
	a.mu.Lock()
	a.callbacks = cb
	a.mu.Unlock()
}

func (a *AppSink) broadcastLocked() {
	close(a.changed)
	a.changed = make(chan struct{})
}

// SetCaps restricts the caps the sink accepts. nil accepts anything.
func (a *AppSink) SetCaps(caps *gst.Caps) error {
	return a.Element().SetProperty("caps", caps)
}

// IsEOS reports whether EOS was received and every queued sample pulled.
func (a *AppSink) IsEOS() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.eos && len(a.queue) == 0
}

// QueuedSamples returns the number of samples waiting to be pulled.
func (a *AppSink) QueuedSamples() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.queue)
}

// PullSample blocks until a sample is available and returns it. It fails with
// ErrEOS once the stream ended and the queue is empty, ErrFlushing when the
// sink stops and ctx.Err() when ctx is done.
func (a *AppSink) PullSample(ctx context.Context) (*gst.Sample, error) {
	return a.pull(ctx, false)
}

// PullPreroll returns the sample that prerolled the sink, waiting for it like
// PullSample.
func (a *AppSink) PullPreroll(ctx context.Context) (*gst.Sample, error) {
	return a.pull(ctx, true)
}

// TryPullSample is PullSample with a timeout. It returns nil on timeout, EOS
// or flushing.
func (a *AppSink) TryPullSample(timeout gst.ClockTime) *gst.Sample {
	return a.tryPull(timeout, false)
}

// TryPullPreroll is PullPreroll with a timeout.
func (a *AppSink) TryPullPreroll(timeout gst.ClockTime) *gst.Sample {
	return a.tryPull(timeout, true)
}

func (a *AppSink) tryPull(timeout gst.ClockTime, preroll bool) *gst.Sample {
	ctx := context.Background()
	if timeout.IsValid() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(timeout))
		defer cancel()
	}
	sample, _ := a.pull(ctx, preroll)
	return sample
}

func (a *AppSink) pull(ctx context.Context, preroll bool) (*gst.Sample, error) {
	a.mu.Lock()
	for {
		if !a.started || a.unlocked {
			a.mu.Unlock()
			return nil, ErrFlushing
		}
		if preroll && a.preroll != nil {
			s := a.preroll
			a.preroll = nil
			a.mu.Unlock()
			return s, nil
		}
		if !preroll && len(a.queue) > 0 {
			s := a.queue[0]
			a.queue = a.queue[1:]
			a.broadcastLocked()
			a.mu.Unlock()
			return s, nil
		}
		if a.eos {
			a.mu.Unlock()
			return nil, ErrEOS
		}
		ch := a.changed
		a.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		a.mu.Lock()
	}
}

func (a *AppSink) newSample(s *base.Sink, buf *gst.Buffer) *gst.Sample {
	seg := s.Segment()
	return gst.NewSample(buf, s.CurrentCaps(), &seg, nil)
}

func (a *AppSink) clearLocked() {
	for _, s := range a.queue {
		s.Unref()
	}
	a.queue = nil
	if a.preroll != nil {
		a.preroll.Unref()
		a.preroll = nil
	}
}

func (a *AppSink) Start(*base.Sink) error {
	a.mu.Lock()
	a.started = true
	a.unlocked = false
	a.eos = false
	a.clearLocked()
	a.broadcastLocked()
	a.mu.Unlock()
	return nil
}

func (a *AppSink) Stop(*base.Sink) error {
	a.mu.Lock()
	a.started = false
	a.clearLocked()
	a.broadcastLocked()
	a.mu.Unlock()
	return nil
}

func (a *AppSink) Unlock(*base.Sink) {
	a.mu.Lock()
	a.unlocked = true
	a.broadcastLocked()
	a.mu.Unlock()
}

func (a *AppSink) UnlockStop(*base.Sink) {
	a.mu.Lock()
	a.unlocked = false
	a.broadcastLocked()
	a.mu.Unlock()
}

func (a *AppSink) Caps(_ *base.Sink, filter *gst.Caps) *gst.Caps {
	caps, _ := gst.PropertyAs[*gst.Caps](a.Element(), "caps")
	if caps == nil {
		caps = gst.NewCapsAny()
	} else {
		caps = caps.Ref()
	}
	if filter != nil {
		inter := filter.IntersectWithMode(caps, gst.CapsIntersectFirst)
		caps.Unref()
		caps = inter
	}
	return caps
}

func (a *AppSink) Preroll(s *base.Sink, buf *gst.Buffer) gst.FlowReturn {
	sample := a.newSample(s, buf)
	a.mu.Lock()
	if a.preroll != nil {
		a.preroll.Unref()
	}
	a.preroll = sample
	cb := a.callbacks.NewPreroll
	a.broadcastLocked()
	a.mu.Unlock()
	if cb != nil {
		return cb(a)
	}
	return gst.FlowOK
}

func (a *AppSink) Render(s *base.Sink, buf *gst.Buffer) gst.FlowReturn {
	e := s.Element()
	maxBuffers, _ := gst.PropertyAs[uint32](e, "max-buffers")
	drop, _ := gst.PropertyAs[bool](e, "drop")

	a.mu.Lock()
	for maxBuffers > 0 && len(a.queue) >= int(maxBuffers) {
		if a.unlocked {
			a.mu.Unlock()
			return gst.FlowFlushing
		}
		if drop {
			catAppSink.Debug(e, "queue full, dropping oldest sample")
			a.queue[0].Unref()
			a.queue = a.queue[1:]
			continue
		}
		catAppSink.Log(e, "queue full, waiting")
		ch := a.changed
		a.mu.Unlock()
		<-ch
		a.mu.Lock()
	}
	a.queue = append(a.queue, a.newSample(s, buf))
	cb := a.callbacks.NewSample
	a.broadcastLocked()
	a.mu.Unlock()
	if cb != nil {
		return cb(a)
	}
	return gst.FlowOK
}

// Event tracks EOS and flushes before the base class handles them.
func (a *AppSink) Event(s *base.Sink, ev *gst.Event) bool {
	switch ev.EventType() {
	case gst.EventEOS:
		a.mu.Lock()
		a.eos = true
		a.broadcastLocked()
		cb := a.callbacks.EOS
		a.mu.Unlock()
		if wait, _ := gst.PropertyAs[bool](s.Element(), "wait-on-eos"); wait {
			a.waitDrained()
		}
		ok := s.ParentEvent(ev)
		if cb != nil {
			cb(a)
		}
		return ok
	case gst.EventFlushStart:
		ok := s.ParentEvent(ev)
		a.mu.Lock()
		a.clearLocked()
		a.broadcastLocked()
		a.mu.Unlock()
		return ok
	case gst.EventFlushStop:
		a.mu.Lock()
		a.eos = false
		a.mu.Unlock()
	}
	return s.ParentEvent(ev)
}

// waitDrained blocks until the application pulled every queued sample or the
// sink flushes.
func (a *AppSink) waitDrained() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for len(a.queue) > 0 && !a.unlocked && a.started {
		ch := a.changed
		a.mu.Unlock()
		<-ch
		a.mu.Lock()
	}
}
