package gst

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeFlags(t *testing.T) {
	assert.True(t, EventFlushStart.IsUpstream())
	assert.True(t, EventFlushStart.IsDownstream())
	assert.False(t, EventFlushStart.IsSerialized())
	assert.True(t, EventCaps.IsSticky())
	assert.False(t, EventCaps.IsStickyMulti())
	assert.True(t, EventTag.IsStickyMulti())
	assert.True(t, EventSeek.IsUpstream())
	assert.False(t, EventSeek.IsDownstream())
	assert.Equal(t, "caps", EventCaps.String())
}

func TestEventRoundTrips(t *testing.T) {
	ev := NewFlushStopEvent(true)
	assert.True(t, ev.ParseFlushStop())
	ev.Unref()

	ss := NewStreamStartEvent("cam/0").MakeWritable()
	ss.SetGroupID(7)
	ss.SetStreamFlags(StreamFlagSparse)
	assert.Equal(t, "cam/0", ss.ParseStreamStart())
	gid, ok := ss.GroupID()
	require.True(t, ok)
	assert.Equal(t, uint32(7), gid)
	assert.Equal(t, StreamFlagSparse, ss.StreamFlags())
	ss.Unref()

	seg := NewSegment(FormatTime)
	seg.Start, seg.Rate = uint64(2*Second), 1.5
	ev = NewSegmentEvent(seg)
	assert.True(t, seg.IsEqual(ev.ParseSegment()))
	ev.Unref()

	ev = NewSeekEvent(2, FormatTime, SeekFlagFlush|SeekFlagKeyUnit, SeekTypeSet, int64(Second), SeekTypeNone, -1)
	assert.Equal(t, SeekParams{
		Rate: 2, Format: FormatTime, Flags: SeekFlagFlush | SeekFlagKeyUnit,
		StartType: SeekTypeSet, Start: int64(Second), StopType: SeekTypeNone, Stop: -1,
	}, ev.ParseSeek())
	assert.Panics(t, func() { ev.ParseFlushStop() }, "parsing as the wrong type")
	ev.Unref()

	ev = NewGapEvent(Second, 20*Millisecond)
	ts, dur := ev.ParseGap()
	assert.Equal(t, Second, ts)
	assert.Equal(t, 20*Millisecond, dur)
	ev.Unref()

	ev = NewQOSEvent(QOSTypeUnderflow, 0.8, -5000, 3*Second)
	typ, prop, diff, qts := ev.ParseQOS()
	assert.Equal(t, QOSTypeUnderflow, typ)
	assert.InDelta(t, 0.8, prop, 1e-9)
	assert.Equal(t, ClockTimeDiff(-5000), diff)
	assert.Equal(t, 3*Second, qts)
	ev.Unref()

	ev = NewLatencyEvent(40 * Millisecond)
	assert.Equal(t, 40*Millisecond, ev.ParseLatency())
	ev.Unref()
}

func TestEventSeqnumAndCopy(t *testing.T) {
	a, b := NewEOSEvent(), NewEOSEvent()
	assert.NotEqual(t, a.Seqnum(), b.Seqnum())

	c := a.Copy()
	assert.Equal(t, a.Seqnum(), c.Seqnum())
	c.SetSeqnum(b.Seqnum())
	assert.Equal(t, b.Seqnum(), c.Seqnum())

	shared := a.Ref()
	_, ok := shared.GetMut()
	assert.False(t, ok)
	shared.Unref()

	a.Unref()
	b.Unref()
	c.Unref()
}

func TestPositionAndLatencyQueries(t *testing.T) {
	q := NewPositionQuery(FormatTime)
	f, cur := q.ParsePosition()
	assert.Equal(t, FormatTime, f)
	assert.Equal(t, int64(-1), cur)
	q.SetPosition(FormatTime, int64(3*Second))
	_, cur = q.ParsePosition()
	assert.Equal(t, int64(3*Second), cur)
	q.Unref()

	lq := NewLatencyQuery()
	live, lmin, lmax := lq.ParseLatency()
	assert.False(t, live)
	assert.Zero(t, lmin)
	assert.Equal(t, ClockTimeNone, lmax)
	lq.SetLatency(true, 20*Millisecond, Second)
	live, lmin, lmax = lq.ParseLatency()
	assert.True(t, live)
	assert.Equal(t, 20*Millisecond, lmin)
	assert.Equal(t, Second, lmax)
	lq.Unref()

	cq := NewConvertQuery(FormatBytes, 1024, FormatTime)
	cq.SetConvert(FormatBytes, 1024, FormatTime, int64(Second))
	_, _, dest, val := cq.ParseConvert()
	assert.Equal(t, FormatTime, dest)
	assert.Equal(t, int64(Second), val)
	cq.Unref()

	fq := NewFormatsQuery()
	fq.SetFormats(FormatTime, FormatBytes)
	assert.Equal(t, []Format{FormatTime, FormatBytes}, fq.ParseFormats())
	fq.Unref()
}

func TestCapsQueries(t *testing.T) {
	filter := MustCapsFromString("video/x-raw")
	defer filter.Unref()

	q := NewCapsQuery(filter)
	assert.True(t, q.ParseCaps().IsEqual(filter))
	assert.Nil(t, q.CapsResult())
	answer := MustCapsFromString("video/x-raw, width=(int)640")
	q.SetCapsResult(answer)
	answer.Unref()
	assert.Equal(t, "video/x-raw, width=(int)640", q.CapsResult().String())
	q.Unref()

	ac := NewAcceptCapsQuery(filter)
	assert.False(t, ac.AcceptCapsResult())
	ac.SetAcceptCapsResult(true)
	assert.True(t, ac.AcceptCapsResult())
	ac.Unref()
}

func TestAllocationQuery(t *testing.T) {
	caps := MustCapsFromString("video/x-raw, format=(string)NV12")
	defer caps.Unref()
	q := NewAllocationQuery(caps, true)
	got, needPool := q.ParseAllocation()
	assert.True(t, got.IsEqual(caps))
	assert.True(t, needPool)

	pool := NewBufferPool()
	q.AddAllocationPool(pool, 4096, 2, 0)
	q.AddAllocationPool(nil, 8192, 0, 0)
	pools := q.AllocationPools()
	require.Len(t, pools, 2)
	assert.Same(t, pool, pools[0].Pool)
	assert.Equal(t, uint(8192), pools[1].Size)
	q.RemoveNthAllocationPool(1)
	assert.Len(t, q.AllocationPools(), 1)

	q.AddAllocationMeta(ReferenceTimestampMetaAPI, nil)
	assert.Equal(t, 0, q.FindAllocationMeta(ReferenceTimestampMetaAPI))
	q.RemoveNthAllocationMeta(0)
	assert.Equal(t, -1, q.FindAllocationMeta(ReferenceTimestampMetaAPI))

	q.Unref()
	pool.Unref()
}

func TestSchedulingQuery(t *testing.T) {
	q := NewSchedulingQuery()
	q.SetScheduling(SchedulingFlagSeekable, 1, -1, 0)
	q.AddSchedulingMode(PadModePush)
	flags, minsize, maxsize, _ := q.ParseScheduling()
	assert.Equal(t, SchedulingFlagSeekable, flags)
	assert.Equal(t, 1, minsize)
	assert.Equal(t, -1, maxsize)
	assert.True(t, q.HasSchedulingMode(PadModePush))
	assert.False(t, q.HasSchedulingMode(PadModePull))
	q.Unref()
}
