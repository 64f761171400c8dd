package gst

import "sync"

// TagSetter holds the tags an application wants an element (usually a muxer or
// encoder) to write. Element implementations embed it and expose it through
// TagSetterImpl.
type TagSetter struct {
	mu   sync.Mutex
	list *TagList
	mode TagMergeMode
}

// TagSetterImpl is implemented by element implementations accepting tags.
type TagSetterImpl interface {
	TagSetter() *TagSetter
}

// TagSetterOf returns the tag setter of e.
func TagSetterOf(e *Element) (*TagSetter, bool) {
	impl, ok := e.Impl().(TagSetterImpl)
	if !ok {
		return nil, false
	}
	return impl.TagSetter(), true
}

// MergeTags merges list into the stored tags under mode.
func (s *TagSetter) MergeTags(list *TagList, mode TagMergeMode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.list == nil {
		s.list = NewTagList().TagList
	}
	w := s.list.MakeWritable()
	w.Insert(list, mode)
	s.list = w.TagList
}

// AddTag adds one value under mode.
func (s *TagSetter) AddTag(name string, value any, mode TagMergeMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.list == nil {
		s.list = NewTagList().TagList
	}
	w := s.list.MakeWritable()
	s.list = w.TagList
	return w.AddValue(name, value, mode)
}

// TagList returns a reference to the stored tags, or nil.
func (s *TagSetter) TagList() *TagList {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.list == nil {
		return nil
	}
	return s.list.Ref()
}

// ResetTags drops the stored tags.
func (s *TagSetter) ResetTags() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.list != nil {
		s.list.Unref()
		s.list = nil
	}
}

// SetTagMergeMode sets how stored tags combine with tags arriving in the stream.
func (s *TagSetter) SetTagMergeMode(mode TagMergeMode) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
}

// TagMergeMode defaults to TagMergeKeep.
func (s *TagSetter) TagMergeMode() TagMergeMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == TagMergeUndefined {
		return TagMergeKeep
	}
	return s.mode
}

// Merged combines upstream tags from the stream with the stored tags using the
// merge mode. The result is a new list, or nil when both are empty.
func (s *TagSetter) Merged(upstream *TagList) *TagList {
	mode := s.TagMergeMode()
	own := s.TagList()
	if own != nil {
		defer own.Unref()
	}
	return MergeTagLists(upstream, own, mode)
}
