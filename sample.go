package gst

import "fmt"

// Sample bundles a buffer (or buffer list) with the caps, segment and extra info
// needed to interpret it outside a pipeline.
type Sample struct {
	MiniObject

	buffer  *Buffer
	list    *BufferList
	caps    *Caps
	segment *Segment
	info    *Structure
}

// SampleMut is a proven-writable view on a Sample.
type SampleMut struct {
	*Sample
}

func newSample() *Sample {
	s := &Sample{}
	s.init(TypeSample, 0, nil, s.freeSample)
	return s
}

func (s *Sample) freeSample() {
	if s.buffer != nil {
		s.buffer.Unref()
		s.buffer = nil
	}
	if s.list != nil {
		s.list.Unref()
		s.list = nil
	}
	if s.caps != nil {
		s.caps.Unref()
		s.caps = nil
	}
	if s.info != nil {
		s.info.parent = nil
		s.info.release()
		s.info = nil
	}
}

// NewSample bundles the given parts, taking new references. Any part may be nil.
func NewSample(buffer *Buffer, caps *Caps, segment *Segment, info *Structure) *Sample {
	return NewSampleBuilder().Buffer(buffer).Caps(caps).Segment(segment).Info(info).Build()
}

// SampleBuilder assembles a Sample.
type SampleBuilder struct {
	s *Sample
}

// NewSampleBuilder starts an empty sample.
func NewSampleBuilder() *SampleBuilder { return &SampleBuilder{s: newSample()} }

// Buffer sets the buffer, taking a new reference.
func (b *SampleBuilder) Buffer(buf *Buffer) *SampleBuilder {
	if buf != nil {
		Replace(&b.s.buffer, buf)
	}
	return b
}

// BufferList sets the buffer list, taking a new reference.
func (b *SampleBuilder) BufferList(l *BufferList) *SampleBuilder {
	if l != nil {
		Replace(&b.s.list, l)
	}
	return b
}

// Caps sets the caps, taking a new reference.
func (b *SampleBuilder) Caps(c *Caps) *SampleBuilder {
	if c != nil {
		Replace(&b.s.caps, c)
	}
	return b
}

// Segment copies seg into the sample.
func (b *SampleBuilder) Segment(seg *Segment) *SampleBuilder {
	if seg != nil {
		b.s.segment = seg.Copy()
	}
	return b
}

// Info takes ownership of info.
func (b *SampleBuilder) Info(info *Structure) *SampleBuilder {
	if info != nil {
		info.setParent(&b.s.MiniObject)
		b.s.info = info
	}
	return b
}

// Build returns the sample.
func (b *SampleBuilder) Build() *Sample { return b.s }

// Ref takes another reference.
func (s *Sample) Ref() *Sample { s.ref(); return s }

// Buffer returns the buffer without taking a reference.
func (s *Sample) Buffer() *Buffer { return s.buffer }

// BufferList returns the buffer list without taking a reference.
func (s *Sample) BufferList() *BufferList { return s.list }

// Caps returns the caps without taking a reference.
func (s *Sample) Caps() *Caps { return s.caps }

// Segment returns a copy of the segment, or a new time segment when unset.
func (s *Sample) Segment() *Segment {
	if s.segment == nil {
		return NewSegment(FormatTime)
	}
	return s.segment.Copy()
}

// Info returns the info structure.
func (s *Sample) Info() *Structure { return s.info }

// GetMut returns a mutable view if s is writable.
func (s *Sample) GetMut() (*SampleMut, bool) {
	if !s.IsWritable() {
		return nil, false
	}
	return &SampleMut{s}, true
}

// MakeWritable consumes the handle and returns a writable sample, copying when shared.
func (s *Sample) MakeWritable() *SampleMut {
	if m, ok := s.GetMut(); ok {
		return m
	}
	c := s.Copy()
	s.Unref()
	return c
}

// Copy returns a new sample sharing the same buffer and caps.
func (s *Sample) Copy() *SampleMut {
	b := NewSampleBuilder().Buffer(s.buffer).BufferList(s.list).Caps(s.caps).Segment(s.segment)
	if s.info != nil {
		b.Info(s.info.Copy())
	}
	return &SampleMut{b.Build()}
}

// SetBuffer replaces the buffer.
func (s *SampleMut) SetBuffer(buf *Buffer) {
	s.mustBeWritable()
	Replace(&s.buffer, buf)
}

// SetBufferList replaces the buffer list.
func (s *SampleMut) SetBufferList(l *BufferList) {
	s.mustBeWritable()
	Replace(&s.list, l)
}

// SetCaps replaces the caps.
func (s *SampleMut) SetCaps(c *Caps) {
	s.mustBeWritable()
	Replace(&s.caps, c)
}

// SetSegment replaces the segment.
func (s *SampleMut) SetSegment(seg *Segment) {
	s.mustBeWritable()
	s.segment = seg.Copy()
}

// SetInfo replaces the info structure, taking ownership.
func (s *SampleMut) SetInfo(info *Structure) {
	s.mustBeWritable()
	if s.info != nil {
		s.info.parent = nil
		s.info.release()
	}
	s.info = nil
	if info != nil {
		info.setParent(&s.MiniObject)
		s.info = info
	}
}

func (s *Sample) String() string {
	return fmt.Sprintf("sample: %p, buffer %v, caps %v", s, s.buffer, s.caps)
}
