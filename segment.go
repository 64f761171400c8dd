package gst

import (
	"fmt"
	"math"
	"strings"
)

// SeekFlags modify a seek.
type SeekFlags uint32

const (
	SeekFlagNone                      SeekFlags = 0
	SeekFlagFlush                     SeekFlags = 1 << 0
	SeekFlagAccurate                  SeekFlags = 1 << 1
	SeekFlagKeyUnit                   SeekFlags = 1 << 2
	SeekFlagSegment                   SeekFlags = 1 << 3
	SeekFlagTrickmode                 SeekFlags = 1 << 4
	SeekFlagSkip                      SeekFlags = SeekFlagTrickmode
	SeekFlagSnapBefore                SeekFlags = 1 << 5
	SeekFlagSnapAfter                 SeekFlags = 1 << 6
	SeekFlagSnapNearest               SeekFlags = SeekFlagSnapBefore | SeekFlagSnapAfter
	SeekFlagTrickmodeKeyUnits         SeekFlags = 1 << 7
	SeekFlagTrickmodeNoAudio          SeekFlags = 1 << 8
	SeekFlagTrickmodeForwardPredicted SeekFlags = 1 << 9
	SeekFlagInstantRateChange         SeekFlags = 1 << 10
)

var seekFlagNames = []struct {
	f    SeekFlags
	name string
}{
	{SeekFlagFlush, "flush"},
	{SeekFlagAccurate, "accurate"},
	{SeekFlagKeyUnit, "key-unit"},
	{SeekFlagSegment, "segment"},
	{SeekFlagTrickmode, "trickmode"},
	{SeekFlagSnapBefore, "snap-before"},
	{SeekFlagSnapAfter, "snap-after"},
	{SeekFlagTrickmodeKeyUnits, "trickmode-key-units"},
	{SeekFlagTrickmodeNoAudio, "trickmode-no-audio"},
	{SeekFlagTrickmodeForwardPredicted, "trickmode-forward-predicted"},
	{SeekFlagInstantRateChange, "instant-rate-change"},
}

func (f SeekFlags) String() string {
	var parts []string
	for _, n := range seekFlagNames {
		if f&n.f != 0 {
			parts = append(parts, n.name)
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "+")
}

// SeekType tells how a seek position is interpreted.
type SeekType int

const (
	SeekTypeNone SeekType = iota
	SeekTypeSet
	SeekTypeEnd
)

// SegmentFlags are the seek flags retained by a segment.
type SegmentFlags uint32

const (
	SegmentFlagNone                      = SegmentFlags(SeekFlagNone)
	SegmentFlagReset                     = SegmentFlags(SeekFlagFlush)
	SegmentFlagTrickmode                 = SegmentFlags(SeekFlagTrickmode)
	SegmentFlagSkip                      = SegmentFlags(SeekFlagTrickmode)
	SegmentFlagSegment                   = SegmentFlags(SeekFlagSegment)
	SegmentFlagTrickmodeKeyUnits         = SegmentFlags(SeekFlagTrickmodeKeyUnits)
	SegmentFlagTrickmodeForwardPredicted = SegmentFlags(SeekFlagTrickmodeForwardPredicted)
	SegmentFlagTrickmodeNoAudio          = SegmentFlags(SeekFlagTrickmodeNoAudio)

	segmentFlagMask = SegmentFlagReset | SegmentFlagTrickmode | SegmentFlagSegment |
		SegmentFlagTrickmodeKeyUnits | SegmentFlagTrickmodeForwardPredicted | SegmentFlagTrickmodeNoAudio
)

// SegmentNone marks an unset segment position.
const SegmentNone = ^uint64(0)

// Segment describes the playback region of a stream and maps buffer timestamps to
// running time and stream time.
type Segment struct {
	Flags       SegmentFlags
	Rate        float64
	AppliedRate float64
	Format      Format
	Base        uint64
	Offset      uint64
	Start       uint64
	Stop        uint64
	Time        uint64
	Position    uint64
	Duration    uint64
}

// NewSegment returns a segment initialized for format.
func NewSegment(format Format) *Segment {
	s := &Segment{}
	s.Init(format)
	return s
}

// Init resets s to an open segment in format.
func (s *Segment) Init(format Format) {
	*s = Segment{
		Rate:        1,
		AppliedRate: 1,
		Format:      format,
		Stop:        SegmentNone,
		Duration:    SegmentNone,
	}
}

// IsEqual compares every field.
func (s *Segment) IsEqual(o *Segment) bool { return *s == *o }

// Copy returns a copy of s.
func (s *Segment) Copy() *Segment {
	c := *s
	return &c
}

// ToRunningTime converts position to running time. It returns false when position
// lies outside the segment.
func (s *Segment) ToRunningTime(format Format, position uint64) (uint64, bool) {
	if position == SegmentNone || format != s.Format {
		return SegmentNone, false
	}
	if s.Start != SegmentNone && position < s.Start {
		return SegmentNone, false
	}
	if s.Stop != SegmentNone && position > s.Stop {
		return SegmentNone, false
	}
	var result uint64
	if s.Rate > 0 {
		start := s.Start + s.Offset
		if position < start {
			return SegmentNone, false
		}
		result = position - start
	} else {
		stop := s.Stop
		if stop == SegmentNone && s.Duration != SegmentNone {
			stop = s.Start + s.Duration
		}
		if stop == SegmentNone || s.Offset > stop {
			return SegmentNone, false
		}
		stop -= s.Offset
		if position > stop {
			return SegmentNone, false
		}
		result = stop - position
	}
	if abs := math.Abs(s.Rate); abs != 1 {
		result = uint64(float64(result) / abs)
	}
	return result + s.Base, true
}

// PositionFromRunningTime is the inverse of ToRunningTime.
func (s *Segment) PositionFromRunningTime(format Format, runningTime uint64) (uint64, bool) {
	if runningTime == SegmentNone || format != s.Format || runningTime < s.Base {
		return SegmentNone, false
	}
	rt := runningTime - s.Base
	if abs := math.Abs(s.Rate); abs != 1 {
		rt = uint64(float64(rt) * abs)
	}
	var pos uint64
	if s.Rate > 0 {
		pos = rt + s.Start + s.Offset
		if s.Stop != SegmentNone && pos > s.Stop {
			return SegmentNone, false
		}
	} else {
		stop := s.Stop
		if stop == SegmentNone {
			return SegmentNone, false
		}
		if rt+s.Offset > stop {
			return SegmentNone, false
		}
		pos = stop - s.Offset - rt
		if pos < s.Start {
			return SegmentNone, false
		}
	}
	return pos, true
}

// ToStreamTime converts position to stream time.
func (s *Segment) ToStreamTime(format Format, position uint64) (uint64, bool) {
	if position == SegmentNone || format != s.Format || s.Time == SegmentNone {
		return SegmentNone, false
	}
	abs := math.Abs(s.AppliedRate)
	scale := func(v uint64) uint64 {
		if abs != 1 {
			return uint64(float64(v) * abs)
		}
		return v
	}
	if s.AppliedRate > 0 {
		if position >= s.Start {
			return scale(position-s.Start) + s.Time, true
		}
		d := scale(s.Start - position)
		if d > s.Time {
			return SegmentNone, false
		}
		return s.Time - d, true
	}
	if position > s.Start {
		d := scale(position - s.Start)
		if d > s.Time {
			return SegmentNone, false
		}
		return s.Time - d, true
	}
	return s.Time + scale(s.Start-position), true
}

// Clip restricts [start, stop] to the segment. It returns false when the range lies
// completely outside.
func (s *Segment) Clip(format Format, start, stop uint64) (cstart, cstop uint64, ok bool) {
	if format != s.Format {
		return SegmentNone, SegmentNone, false
	}
	if s.Stop != SegmentNone && start != SegmentNone &&
		(start > s.Stop || (s.Start != s.Stop && start == s.Stop)) {
		return SegmentNone, SegmentNone, false
	}
	if stop != SegmentNone && (stop < s.Start || (start != stop && stop == s.Start)) {
		return SegmentNone, SegmentNone, false
	}
	cstart = SegmentNone
	if start != SegmentNone {
		cstart = max(start, s.Start)
	}
	switch {
	case stop == SegmentNone:
		cstop = s.Stop
	case s.Stop == SegmentNone:
		cstop = stop
	default:
		cstop = min(stop, s.Stop)
	}
	return cstart, cstop, true
}

// DoSeek applies a seek to the segment. It reports whether the playback position
// changed.
func (s *Segment) DoSeek(rate float64, format Format, flags SeekFlags, startType SeekType, start int64, stopType SeekType, stop int64) (bool, error) {
	if rate == 0 {
		return false, fmt.Errorf("gst: seek rate must not be 0")
	}
	if format != s.Format {
		return false, fmt.Errorf("gst: seek in %s on %s segment", format, s.Format)
	}
	resolve := func(t SeekType, v int64, cur uint64) (uint64, error) {
		switch t {
		case SeekTypeNone:
			return cur, nil
		case SeekTypeSet:
			if v < 0 {
				return SegmentNone, nil
			}
			return uint64(v), nil
		case SeekTypeEnd:
			if s.Duration == SegmentNone {
				return 0, fmt.Errorf("gst: seek relative to unknown end")
			}
			r := int64(s.Duration) + v
			if r < 0 {
				r = 0
			}
			return uint64(r), nil
		}
		return 0, fmt.Errorf("gst: invalid seek type %d", t)
	}
	newStart, err := resolve(startType, start, s.Start)
	if err != nil {
		return false, err
	}
	if newStart == SegmentNone {
		newStart = 0
	}
	newStop, err := resolve(stopType, stop, s.Stop)
	if err != nil {
		return false, err
	}
	if s.Duration != SegmentNone {
		newStart = min(newStart, s.Duration)
		if newStop != SegmentNone {
			newStop = min(newStop, s.Duration)
		}
	}
	if newStop != SegmentNone && newStart > newStop {
		return false, fmt.Errorf("gst: seek start %d after stop %d", newStart, newStop)
	}

	base := s.Base
	if flags&SeekFlagFlush != 0 {
		base = 0
	} else if rt, ok := s.ToRunningTime(s.Format, s.Position); ok {
		base = rt
	} else if s.Stop != SegmentNone {
		if rt, ok := s.ToRunningTime(s.Format, s.Stop); ok {
			base = rt
		}
	}

	var update bool
	if rate > 0 {
		update = s.Position != newStart
	} else {
		update = s.Position != newStop
	}
	s.Rate = rate
	s.AppliedRate = 1
	s.Base = base
	s.Offset = 0
	s.Flags = SegmentFlags(flags) & segmentFlagMask
	s.Start = newStart
	s.Stop = newStop
	s.Time = newStart
	if rate > 0 {
		s.Position = newStart
	} else {
		s.Position = newStop
	}
	return update, nil
}

func (s *Segment) String() string {
	f := func(v uint64) string {
		if v == SegmentNone {
			return "none"
		}
		if s.Format == FormatTime {
			return ClockTime(v).String()
		}
		return fmt.Sprint(v)
	}
	return fmt.Sprintf("segment: format %s, rate %g, applied %g, base %s, offset %s, start %s, stop %s, time %s, position %s, duration %s",
		s.Format, s.Rate, s.AppliedRate, f(s.Base), f(s.Offset), f(s.Start), f(s.Stop), f(s.Time), f(s.Position), f(s.Duration))
}
