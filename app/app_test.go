package app_test

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesyncim/gst"
	"github.com/thesyncim/gst/app"
)

func TestMain(m *testing.M) {
	if err := gst.InitWithConfig(gst.Config{}); err != nil {
		panic(err)
	}
	if err := app.Register(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

func newAppPipeline(t *testing.T, srcProps, sinkProps map[string]any) (*gst.Pipeline, *app.AppSrc, *app.AppSink) {
	t.Helper()
	src, err := gst.ElementFactoryMake("appsrc", "")
	require.NoError(t, err)
	sink, err := gst.ElementFactoryMake("appsink", "")
	require.NoError(t, err)
	require.NoError(t, sink.SetProperty("sync", false))
	for k, v := range srcProps {
		require.NoError(t, src.SetProperty(k, v), k)
	}
	for k, v := range sinkProps {
		require.NoError(t, sink.SetProperty(k, v), k)
	}

	p := gst.NewPipeline("")
	require.NoError(t, p.Add(src))
	require.NoError(t, p.Add(sink))
	require.NoError(t, gst.LinkMany(src, sink))
	t.Cleanup(func() { p.SetState(gst.StateNull) })
	return p, src.Impl().(*app.AppSrc), sink.Impl().(*app.AppSink)
}

func bufferWith(data []byte, pts gst.ClockTime) *gst.Buffer {
	b := gst.NewBufferFromSlice(data)
	b.SetPTS(pts)
	return b.Buffer
}

func TestRoundTrip(t *testing.T) {
	caps := gst.MustCapsFromString("application/x-test, rate=(int)8000")
	defer caps.Unref()

	p, src, sink := newAppPipeline(t, map[string]any{"format": "time"}, nil)
	require.NoError(t, src.SetCaps(caps))

	p.SetState(gst.StatePlaying)
	for i := range 3 {
		ret := src.PushBuffer(bufferWith([]byte{byte(i), byte(i + 1)}, gst.ClockTime(i)*gst.Second))
		require.Equal(t, gst.FlowOK, ret)
	}
	require.Equal(t, gst.FlowOK, src.EndOfStream())
	assert.Equal(t, gst.FlowEOS, src.PushBuffer(bufferWith([]byte{9}, 0)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := range 3 {
		sample, err := sink.PullSample(ctx)
		require.NoError(t, err)
		buf := sample.Buffer()
		require.NotNil(t, buf)
		assert.Equal(t, gst.ClockTime(i)*gst.Second, buf.PTS())
		m, err := buf.MapReadable()
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i), byte(i + 1)}, m.Data)
		m.Unmap()
		require.NotNil(t, sample.Caps())
		assert.True(t, sample.Caps().IsEqual(caps), sample.Caps().String())
		sample.Unref()
	}
	_, err := sink.PullSample(ctx)
	assert.ErrorIs(t, err, app.ErrEOS)
	assert.True(t, sink.IsEOS())

	msg := p.Bus().TimedPopFiltered(5*gst.Second, gst.MessageEOS|gst.MessageError)
	require.NotNil(t, msg)
	assert.Equal(t, gst.MessageEOS, msg.MessageType(), msg.String())
}

func TestPushSampleChangesCaps(t *testing.T) {
	first := gst.MustCapsFromString("application/x-test, n=(int)1")
	second := gst.MustCapsFromString("application/x-test, n=(int)2")
	defer first.Unref()
	defer second.Unref()

	p, src, sink := newAppPipeline(t, nil, nil)
	p.SetState(gst.StatePlaying)

	for _, c := range []*gst.Caps{first, second} {
		b := bufferWith([]byte{1, 2, 3}, gst.ClockTimeNone)
		s := gst.NewSample(b, c, nil, nil)
		b.Unref()
		require.Equal(t, gst.FlowOK, src.PushSample(s))
		s.Unref()
	}
	src.EndOfStream()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, want := range []*gst.Caps{first, second} {
		sample, err := sink.PullSample(ctx)
		require.NoError(t, err)
		assert.True(t, sample.Caps().IsEqual(want), sample.Caps().String())
		sample.Unref()
	}
}

func TestTryPullSampleTimeout(t *testing.T) {
	p, _, sink := newAppPipeline(t, nil, nil)
	p.SetState(gst.StatePlaying)

	start := time.Now()
	assert.Nil(t, sink.TryPullSample(50*gst.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestPullOnStoppedSink(t *testing.T) {
	_, _, sink := newAppPipeline(t, nil, nil)
	_, err := sink.PullSample(context.Background())
	assert.ErrorIs(t, err, app.ErrFlushing)
}

func TestLiveSourceDoesNotPreroll(t *testing.T) {
	p, src, _ := newAppPipeline(t, map[string]any{"is-live": true}, nil)
	assert.Equal(t, gst.StateChangeNoPreroll, p.SetState(gst.StatePaused))

	// Nothing is consumed while paused, so pushes stay queued.
	require.Equal(t, gst.FlowOK, src.PushBuffer(bufferWith(make([]byte, 4), 0)))
	assert.Equal(t, uint64(4), src.CurrentLevelBytes())
}

func TestMaxBytesLeaky(t *testing.T) {
	for _, tc := range []struct {
		leaky string
		want  uint64
	}{
		{app.LeakyNone, 16},
		{app.LeakyUpstream, 12},
		{app.LeakyDownstream, 12},
	} {
		t.Run(tc.leaky, func(t *testing.T) {
			var enough atomic.Int32
			p, src, _ := newAppPipeline(t, map[string]any{
				"is-live":    true,
				"max-bytes":  uint64(10),
				"leaky-type": tc.leaky,
			}, nil)
			src.SetCallbacks(app.AppSrcCallbacks{
				EnoughData: func(*app.AppSrc) { enough.Add(1) },
			})
			p.SetState(gst.StatePaused)

			for i := range 4 {
				require.Equal(t, gst.FlowOK, src.PushBuffer(bufferWith([]byte{byte(i), 0, 0, 0}, 0)))
			}
			assert.Equal(t, tc.want, src.CurrentLevelBytes())
			assert.Equal(t, int32(1), enough.Load())
		})
	}
}

func TestMaxBuffersDrop(t *testing.T) {
	p, src, sink := newAppPipeline(t, nil, map[string]any{
		"max-buffers": uint32(2),
		"drop":        true,
		"wait-on-eos": false,
	})
	p.SetState(gst.StatePlaying)

	for i := range 5 {
		require.Equal(t, gst.FlowOK, src.PushBuffer(bufferWith([]byte{byte(i)}, gst.ClockTime(i))))
	}
	require.Equal(t, gst.FlowOK, src.EndOfStream())

	msg := p.Bus().TimedPopFiltered(5*gst.Second, gst.MessageEOS|gst.MessageError)
	require.NotNil(t, msg)
	require.Equal(t, gst.MessageEOS, msg.MessageType(), msg.String())
	assert.Equal(t, 2, sink.QueuedSamples())

	var got []gst.ClockTime
	for {
		s := sink.TryPullSample(gst.Second)
		if s == nil {
			break
		}
		got = append(got, s.Buffer().PTS())
		s.Unref()
	}
	assert.Equal(t, []gst.ClockTime{3, 4}, got)
}

func TestCallbacks(t *testing.T) {
	var (
		samples atomic.Int32
		eos     = make(chan struct{})
	)
	p, src, sink := newAppPipeline(t, nil, map[string]any{"wait-on-eos": false})
	sink.SetCallbacks(app.AppSinkCallbacks{
		NewSample: func(s *app.AppSink) gst.FlowReturn {
			sample, err := s.PullSample(context.Background())
			if err != nil {
				return gst.FlowError
			}
			sample.Unref()
			samples.Add(1)
			return gst.FlowOK
		},
		EOS: func(*app.AppSink) { close(eos) },
	})
	p.SetState(gst.StatePlaying)

	for i := range 3 {
		require.Equal(t, gst.FlowOK, src.PushBuffer(bufferWith([]byte{byte(i)}, gst.ClockTime(i))))
	}
	src.EndOfStream()

	select {
	case <-eos:
	case <-time.After(5 * time.Second):
		t.Fatal("no EOS callback")
	}
	assert.Equal(t, int32(3), samples.Load())
}

func TestNeedData(t *testing.T) {
	var n atomic.Int32
	p, src, sink := newAppPipeline(t, nil, nil)
	src.SetCallbacks(app.AppSrcCallbacks{
		NeedData: func(s *app.AppSrc, _ uint) {
			i := n.Add(1)
			if i > 3 {
				s.EndOfStream()
				return
			}
			s.PushBuffer(bufferWith([]byte{byte(i)}, gst.ClockTimeNone))
		},
	})
	p.SetState(gst.StatePlaying)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	count := 0
	for {
		s, err := sink.PullSample(ctx)
		if err != nil {
			require.ErrorIs(t, err, app.ErrEOS)
			break
		}
		s.Unref()
		count++
	}
	assert.Equal(t, 3, count)
}

func TestMakeFromURI(t *testing.T) {
	e, err := gst.ElementMakeFromURI(gst.URISrc, "appsrc://", "")
	require.NoError(t, err)
	src, ok := e.Impl().(*app.AppSrc)
	require.True(t, ok)
	assert.Equal(t, "appsrc://", src.URI(e))

	_, err = gst.ElementMakeFromURI(gst.URISink, "appsrc://", "")
	assert.ErrorIs(t, err, gst.ErrURIUnsupportedProtocol)
}
