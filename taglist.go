package gst

import (
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
)

// TagMergeMode decides how tags from two sources combine.
type TagMergeMode int

const (
	TagMergeUndefined TagMergeMode = iota
	TagMergeReplaceAll
	TagMergeReplace
	TagMergeAppend
	TagMergePrepend
	TagMergeKeep
	TagMergeKeepAll
)

func (m TagMergeMode) String() string {
	switch m {
	case TagMergeReplaceAll:
		return "replace-all"
	case TagMergeReplace:
		return "replace"
	case TagMergeAppend:
		return "append"
	case TagMergePrepend:
		return "prepend"
	case TagMergeKeep:
		return "keep"
	case TagMergeKeepAll:
		return "keep-all"
	}
	return "undefined"
}

// TagScope tells whether tags describe the current stream or the whole medium.
type TagScope int

const (
	TagScopeStream TagScope = iota
	TagScopeGlobal
)

// TagFlag classifies a registered tag.
type TagFlag int

const (
	TagFlagUndefined TagFlag = iota
	TagFlagMeta
	TagFlagEncoded
	TagFlagDecoded
)

// TagMergeFunc folds several values of one tag into a single value.
type TagMergeFunc func(values []any) any

// TagMergeUseFirst keeps the first value.
func TagMergeUseFirst(values []any) any { return values[0] }

// TagMergeStringsWithComma joins string values with ", ".
func TagMergeStringsWithComma(values []any) any {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, fmt.Sprint(v))
	}
	return strings.Join(parts, ", ")
}

// TagInfo describes a registered tag.
type TagInfo struct {
	Name     string
	Flag     TagFlag
	TypeName string
	Nick     string
	Blurb    string
	Merge    TagMergeFunc
}

// IsFixed reports whether the tag holds at most one value.
func (i *TagInfo) IsFixed() bool { return i.Merge == nil }

var tagRegistry = struct {
	sync.RWMutex
	tags map[string]*TagInfo
}{tags: make(map[string]*TagInfo)}

// Tag is a typed handle on a registered tag name.
type Tag[T any] struct {
	name string
}

// RegisterTag registers name holding values of type T and returns its handle.
// Registering an existing name returns the existing handle unchanged.
func RegisterTag[T any](name string, flag TagFlag, nick, blurb string, merge TagMergeFunc) Tag[T] {
	var zero T
	tagRegistry.Lock()
	defer tagRegistry.Unlock()
	if _, ok := tagRegistry.tags[name]; !ok {
		tagRegistry.tags[name] = &TagInfo{
			Name:     name,
			Flag:     flag,
			TypeName: ValueTypeName(zero),
			Nick:     nick,
			Blurb:    blurb,
			Merge:    merge,
		}
	}
	return Tag[T]{name: name}
}

// LookupTag returns the registration of name.
func LookupTag(name string) (*TagInfo, bool) {
	tagRegistry.RLock()
	defer tagRegistry.RUnlock()
	i, ok := tagRegistry.tags[name]
	return i, ok
}

// Name returns the tag name.
func (t Tag[T]) Name() string { return t.name }

// Add adds v to the list under mode.
func (t Tag[T]) Add(l *TagListMut, v T, mode TagMergeMode) {
	if err := l.AddValue(t.name, v, mode); err != nil {
		panic(err)
	}
}

// Get returns the tag value, merging multiple values with the registered merge function.
func (t Tag[T]) Get(l *TagList) (T, bool) {
	var zero T
	v, ok := l.Get(t.name)
	if !ok {
		return zero, false
	}
	tv, ok := v.(T)
	return tv, ok
}

// Index returns value i of the tag.
func (t Tag[T]) Index(l *TagList, i int) (T, bool) {
	var zero T
	v, ok := l.Index(t.name, i)
	if !ok {
		return zero, false
	}
	tv, ok := v.(T)
	return tv, ok
}

// Values iterates every value of the tag.
func (t Tag[T]) Values(l *TagList) iter.Seq[T] {
	return func(yield func(T) bool) {
		for _, v := range l.values(t.name) {
			if tv, ok := v.(T); ok && !yield(tv) {
				return
			}
		}
	}
}

// Standard tags.
var (
	TagTitle        = RegisterTag[string]("title", TagFlagMeta, "title", "commonly used title", TagMergeStringsWithComma)
	TagArtist       = RegisterTag[string]("artist", TagFlagMeta, "artist", "person(s) responsible for the recording", TagMergeStringsWithComma)
	TagAlbum        = RegisterTag[string]("album", TagFlagMeta, "album", "album containing this data", TagMergeStringsWithComma)
	TagAlbumArtist  = RegisterTag[string]("album-artist", TagFlagMeta, "album artist", "the artist of the entire album", TagMergeStringsWithComma)
	TagDate         = RegisterTag[Date]("date", TagFlagMeta, "date", "date the data was created", nil)
	TagGenre        = RegisterTag[string]("genre", TagFlagMeta, "genre", "genre this data belongs to", TagMergeStringsWithComma)
	TagComment      = RegisterTag[string]("comment", TagFlagMeta, "comment", "free text commenting the data", TagMergeUseFirst)
	TagTrackNumber  = RegisterTag[uint32]("track-number", TagFlagMeta, "track number", "track number inside a collection", TagMergeUseFirst)
	TagTrackCount   = RegisterTag[uint32]("track-count", TagFlagMeta, "track count", "count of tracks inside collection", TagMergeUseFirst)
	TagLocation     = RegisterTag[string]("location", TagFlagMeta, "location", "original location of file", TagMergeStringsWithComma)
	TagHomepage     = RegisterTag[string]("homepage", TagFlagMeta, "homepage", "homepage for this media", TagMergeStringsWithComma)
	TagDescription  = RegisterTag[string]("description", TagFlagMeta, "description", "short text describing the content", TagMergeStringsWithComma)
	TagCopyright    = RegisterTag[string]("copyright", TagFlagMeta, "copyright", "copyright notice of the data", nil)
	TagEncodedBy    = RegisterTag[string]("encoded-by", TagFlagMeta, "encoded by", "name of the encoding person or organization", TagMergeStringsWithComma)
	TagLicense      = RegisterTag[string]("license", TagFlagMeta, "license", "license of data", nil)
	TagDuration     = RegisterTag[uint64]("duration", TagFlagDecoded, "duration", "length in nanoseconds", nil)
	TagCodec        = RegisterTag[string]("codec", TagFlagEncoded, "codec", "codec the data is stored in", TagMergeStringsWithComma)
	TagVideoCodec   = RegisterTag[string]("video-codec", TagFlagEncoded, "video codec", "codec the video data is stored in", nil)
	TagAudioCodec   = RegisterTag[string]("audio-codec", TagFlagEncoded, "audio codec", "codec the audio data is stored in", nil)
	TagBitrate      = RegisterTag[uint32]("bitrate", TagFlagEncoded, "bitrate", "exact or average bitrate in bits/s", nil)
	TagNominalRate  = RegisterTag[uint32]("nominal-bitrate", TagFlagEncoded, "nominal bitrate", "nominal bitrate in bits/s", nil)
	TagMaxBitrate   = RegisterTag[uint32]("maximum-bitrate", TagFlagEncoded, "maximum bitrate", "maximum bitrate in bits/s", nil)
	TagEncoder      = RegisterTag[string]("encoder", TagFlagEncoded, "encoder", "encoder used to encode this stream", TagMergeStringsWithComma)
	TagLanguageCode = RegisterTag[string]("language-code", TagFlagMeta, "language code", "ISO-639-2 or ISO-639-1 language code", nil)
	TagTrackGain    = RegisterTag[float64]("replaygain-track-gain", TagFlagMeta, "replaygain track gain", "track gain in db", nil)
	TagTrackPeak    = RegisterTag[float64]("replaygain-track-peak", TagFlagMeta, "replaygain track peak", "peak of the track", nil)
	TagImage        = RegisterTag[*Sample]("image", TagFlagMeta, "image", "image related to this stream", TagMergeUseFirst)
	TagKeywords     = RegisterTag[string]("keywords", TagFlagMeta, "keywords", "comma separated keywords", TagMergeStringsWithComma)
	TagPublisher    = RegisterTag[string]("publisher", TagFlagMeta, "publisher", "name of the label or publisher", TagMergeStringsWithComma)
	TagContainer    = RegisterTag[string]("container-format", TagFlagMeta, "container format", "container format the data is stored in", TagMergeStringsWithComma)
)

type tagEntry struct {
	name   string
	values []any
}

// TagList is an ordered collection of tags, each holding one or more values.
type TagList struct {
	MiniObject

	scope   TagScope
	entries []tagEntry
}

// TagListMut is a proven-writable view on a TagList.
type TagListMut struct {
	*TagList
}

// NewTagList returns an empty stream-scoped tag list.
func NewTagList() *TagListMut {
	l := &TagList{}
	l.init(TypeTagList, 0, nil, l.freeTagList)
	return &TagListMut{l}
}

func (l *TagList) freeTagList() {
	for _, e := range l.entries {
		for _, v := range e.values {
			releaseValue(v)
		}
	}
	l.entries = nil
}

// Ref takes another reference.
func (l *TagList) Ref() *TagList { l.ref(); return l }

// Copy returns an independent copy.
func (l *TagList) Copy() *TagListMut {
	c := NewTagList()
	c.scope = l.scope
	c.entries = make([]tagEntry, len(l.entries))
	for i, e := range l.entries {
		vals := make([]any, len(e.values))
		for j, v := range e.values {
			vals[j] = copyValue(v)
		}
		c.entries[i] = tagEntry{name: e.name, values: vals}
	}
	return c
}

// GetMut returns a mutable view if l is writable.
func (l *TagList) GetMut() (*TagListMut, bool) {
	if !l.IsWritable() {
		return nil, false
	}
	return &TagListMut{l}, true
}

// MakeWritable consumes the handle and returns a writable list, copying when shared.
func (l *TagList) MakeWritable() *TagListMut {
	if m, ok := l.GetMut(); ok {
		return m
	}
	c := l.Copy()
	l.Unref()
	return c
}

// Scope returns the scope.
func (l *TagList) Scope() TagScope { return l.scope }

// SetScope sets the scope.
func (l *TagListMut) SetScope(s TagScope) { l.mustBeWritable(); l.scope = s }

// IsEmpty reports whether the list holds no tags.
func (l *TagList) IsEmpty() bool { return len(l.entries) == 0 }

// NTags returns the number of distinct tags.
func (l *TagList) NTags() int { return len(l.entries) }

// NthTagName returns the name of tag i.
func (l *TagList) NthTagName(i int) string { return l.entries[i].name }

func (l *TagList) find(name string) int {
	return slices.IndexFunc(l.entries, func(e tagEntry) bool { return e.name == name })
}

func (l *TagList) values(name string) []any {
	if i := l.find(name); i >= 0 {
		return l.entries[i].values
	}
	return nil
}

// Size returns the number of values of tag name.
func (l *TagList) Size(name string) int { return len(l.values(name)) }

// Index returns value i of tag name.
func (l *TagList) Index(name string, i int) (any, bool) {
	vals := l.values(name)
	if i < 0 || i >= len(vals) {
		return nil, false
	}
	return vals[i], true
}

// Get returns the value of tag name, merged when it holds several values.
func (l *TagList) Get(name string) (any, bool) {
	vals := l.values(name)
	switch len(vals) {
	case 0:
		return nil, false
	case 1:
		return vals[0], true
	}
	if info, ok := LookupTag(name); ok && info.Merge != nil {
		return info.Merge(vals), true
	}
	return vals[0], true
}

// All iterates tags and their values in order.
func (l *TagList) All() iter.Seq2[string, []any] {
	return func(yield func(string, []any) bool) {
		for _, e := range l.entries {
			if !yield(e.name, e.values) {
				return
			}
		}
	}
}

// AddValue adds v to tag name under mode. Registered tags check the value type.
func (l *TagListMut) AddValue(name string, v any, mode TagMergeMode) error {
	l.mustBeWritable()
	v = normalizeValue(v)
	if info, ok := LookupTag(name); ok && info.TypeName != ValueTypeName(v) {
		return &FieldTypeError{Field: name, Requested: info.TypeName, Actual: ValueTypeName(v)}
	}
	l.addValue(name, copyValue(v), mode)
	return nil
}

func (l *TagList) addValue(name string, v any, mode TagMergeMode) {
	i := l.find(name)
	if i < 0 {
		if mode == TagMergeKeepAll {
			releaseValue(v)
			return
		}
		l.entries = append(l.entries, tagEntry{name: name, values: []any{v}})
		return
	}
	e := &l.entries[i]
	fixed := false
	if info, ok := LookupTag(name); ok {
		fixed = info.IsFixed()
	}
	switch mode {
	case TagMergeReplaceAll, TagMergeReplace:
		for _, old := range e.values {
			releaseValue(old)
		}
		e.values = []any{v}
	case TagMergePrepend:
		if fixed {
			releaseValue(e.values[0])
			e.values = []any{v}
		} else {
			e.values = append([]any{v}, e.values...)
		}
	case TagMergeAppend:
		if fixed {
			releaseValue(v)
		} else {
			e.values = append(e.values, v)
		}
	default:
		releaseValue(v)
	}
}

// RemoveTag removes tag name.
func (l *TagListMut) RemoveTag(name string) {
	l.mustBeWritable()
	if i := l.find(name); i >= 0 {
		for _, v := range l.entries[i].values {
			releaseValue(v)
		}
		l.entries = slices.Delete(l.entries, i, i+1)
	}
}

// Insert merges from into l under mode.
func (l *TagListMut) Insert(from *TagList, mode TagMergeMode) {
	l.mustBeWritable()
	if mode == TagMergeReplaceAll {
		l.freeTagList()
	}
	for _, e := range from.entries {
		m := mode
		if mode == TagMergeReplace {
			l.RemoveTag(e.name)
			m = TagMergeAppend
		}
		for _, v := range e.values {
			l.addValue(e.name, copyValue(v), m)
		}
	}
}

// MergeTagLists combines a and b under mode into a new list. Either may be nil.
func MergeTagLists(a, b *TagList, mode TagMergeMode) *TagList {
	if a == nil && b == nil {
		return nil
	}
	var out *TagListMut
	if a != nil {
		out = a.Copy()
	} else {
		out = NewTagList()
	}
	if b != nil {
		out.Insert(b, mode)
	}
	return out.TagList
}

// IsEqual compares tags and values.
func (l *TagList) IsEqual(o *TagList) bool {
	if len(l.entries) != len(o.entries) {
		return false
	}
	for _, e := range l.entries {
		ov := o.values(e.name)
		if len(ov) != len(e.values) {
			return false
		}
		for i := range ov {
			if CompareValues(e.values[i], ov[i]) != ValueEqual {
				return false
			}
		}
	}
	return true
}

// String renders the list in structure syntax.
func (l *TagList) String() string {
	s := NewStructure("taglist")
	for _, e := range l.entries {
		if len(e.values) == 1 {
			s.setField(e.name, copyValue(e.values[0]))
			continue
		}
		arr := make(ValueArray, len(e.values))
		for i, v := range e.values {
			arr[i] = copyValue(v)
		}
		s.setField(e.name, arr)
	}
	defer s.release()
	return s.String()
}
