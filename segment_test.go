package gst

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sec = uint64(Second)

func timeSegment(start, stop, base uint64) *Segment {
	s := NewSegment(FormatTime)
	s.Start, s.Stop, s.Base = start, stop, base
	s.Time = 10 * sec
	return s
}

func TestSegmentRunningTime(t *testing.T) {
	s := timeSegment(sec, 5*sec, 3*sec)

	rt, ok := s.ToRunningTime(FormatTime, 2*sec)
	require.True(t, ok)
	assert.Equal(t, 4*sec, rt)
	pos, ok := s.PositionFromRunningTime(FormatTime, rt)
	require.True(t, ok)
	assert.Equal(t, 2*sec, pos)

	for _, outside := range []uint64{sec / 2, 6 * sec, SegmentNone} {
		_, ok = s.ToRunningTime(FormatTime, outside)
		assert.False(t, ok, "position %d", outside)
	}
	_, ok = s.ToRunningTime(FormatBytes, 2*sec)
	assert.False(t, ok)
	_, ok = s.PositionFromRunningTime(FormatTime, sec)
	assert.False(t, ok, "before base")

	s.Rate = 2
	rt, ok = s.ToRunningTime(FormatTime, 3*sec)
	require.True(t, ok)
	assert.Equal(t, 4*sec, rt)

	s.Rate = -1
	rt, ok = s.ToRunningTime(FormatTime, 4*sec)
	require.True(t, ok)
	assert.Equal(t, 4*sec, rt, "reverse playback counts back from stop")
	pos, ok = s.PositionFromRunningTime(FormatTime, rt)
	require.True(t, ok)
	assert.Equal(t, 4*sec, pos)
}

func TestSegmentStreamTime(t *testing.T) {
	s := timeSegment(sec, 5*sec, 0)
	st, ok := s.ToStreamTime(FormatTime, 3*sec)
	require.True(t, ok)
	assert.Equal(t, 12*sec, st)
	st, ok = s.ToStreamTime(FormatTime, sec/2)
	require.True(t, ok)
	assert.Equal(t, 10*sec-sec/2, st)

	s.AppliedRate = 2
	st, ok = s.ToStreamTime(FormatTime, 3*sec)
	require.True(t, ok)
	assert.Equal(t, 14*sec, st)
}

func TestSegmentClip(t *testing.T) {
	s := timeSegment(sec, 5*sec, 0)
	cases := []struct {
		start, stop   uint64
		ok            bool
		cstart, cstop uint64
	}{
		{0, 2 * sec, true, sec, 2 * sec},
		{2 * sec, SegmentNone, true, 2 * sec, 5 * sec},
		{4 * sec, 9 * sec, true, 4 * sec, 5 * sec},
		{5 * sec, 6 * sec, false, 0, 0},
		{0, sec, false, 0, 0},
		{SegmentNone, 3 * sec, true, SegmentNone, 3 * sec},
	}
	for _, c := range cases {
		cs, ce, ok := s.Clip(FormatTime, c.start, c.stop)
		if !assert.Equal(t, c.ok, ok, "clip [%d,%d]", c.start, c.stop) || !ok {
			continue
		}
		assert.Equal(t, c.cstart, cs)
		assert.Equal(t, c.cstop, ce)
	}
	_, _, ok := s.Clip(FormatBytes, 0, 1)
	assert.False(t, ok)
}

func TestSegmentDoSeek(t *testing.T) {
	s := NewSegment(FormatTime)
	s.Duration = 10 * sec

	update, err := s.DoSeek(1, FormatTime, SeekFlagFlush|SeekFlagAccurate, SeekTypeSet, int64(2*sec), SeekTypeEnd, -int64(sec))
	require.NoError(t, err)
	assert.True(t, update)
	assert.Equal(t, 2*sec, s.Start)
	assert.Equal(t, 9*sec, s.Stop)
	assert.Equal(t, 2*sec, s.Time)
	assert.Zero(t, s.Base)
	assert.Equal(t, SegmentFlagReset, s.Flags, "accurate is not retained")

	// without flush the new segment continues from the current running time
	s.Position = 4 * sec
	update, err = s.DoSeek(1, FormatTime, SeekFlagNone, SeekTypeSet, int64(6*sec), SeekTypeNone, 0)
	require.NoError(t, err)
	assert.True(t, update)
	assert.Equal(t, 2*sec, s.Base)
	assert.Equal(t, 9*sec, s.Stop)

	update, err = s.DoSeek(1, FormatTime, SeekFlagFlush, SeekTypeNone, 0, SeekTypeNone, 0)
	require.NoError(t, err)
	assert.False(t, update)

	seg := s.Copy()
	_, err = s.DoSeek(0, FormatTime, SeekFlagNone, SeekTypeNone, 0, SeekTypeNone, 0)
	assert.Error(t, err)
	_, err = s.DoSeek(1, FormatBytes, SeekFlagNone, SeekTypeNone, 0, SeekTypeNone, 0)
	assert.Error(t, err)
	_, err = s.DoSeek(1, FormatTime, SeekFlagFlush, SeekTypeSet, int64(8*sec), SeekTypeSet, int64(3*sec))
	assert.Error(t, err)
	assert.True(t, seg.IsEqual(s), "failed seeks leave the segment alone")

	open := NewSegment(FormatTime)
	_, err = open.DoSeek(1, FormatTime, SeekFlagFlush, SeekTypeEnd, 0, SeekTypeNone, 0)
	assert.Error(t, err)
}
