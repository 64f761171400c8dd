package gst

import (
	"fmt"
	"iter"
	"strings"

	"github.com/google/uuid"
)

// TocScope tells whether a table of contents covers the whole medium or the current
// stream only.
type TocScope int

const (
	TocScopeGlobal TocScope = iota + 1
	TocScopeCurrent
)

// TocEntryType is the kind of a toc entry. Negative values are alternatives,
// positive values sequences.
type TocEntryType int

const (
	TocEntryAngle   TocEntryType = -3
	TocEntryVersion TocEntryType = -2
	TocEntryEdition TocEntryType = -1
	TocEntryInvalid TocEntryType = 0
	TocEntryTitle   TocEntryType = 1
	TocEntryTrack   TocEntryType = 2
	TocEntryChapter TocEntryType = 3
)

func (t TocEntryType) String() string {
	switch t {
	case TocEntryAngle:
		return "angle"
	case TocEntryVersion:
		return "version"
	case TocEntryEdition:
		return "edition"
	case TocEntryTitle:
		return "title"
	case TocEntryTrack:
		return "track"
	case TocEntryChapter:
		return "chapter"
	}
	return "invalid"
}

// IsAlternative reports whether subentries are alternatives to each other.
func (t TocEntryType) IsAlternative() bool { return t < 0 }

// IsSequence reports whether subentries follow each other.
func (t TocEntryType) IsSequence() bool { return t > 0 }

// TocLoopType describes how an entry loops.
type TocLoopType int

const (
	TocLoopNone TocLoopType = iota
	TocLoopForward
	TocLoopReverse
	TocLoopPingPong
)

// TocEntry is one node of a Toc. It is mutable only while its Toc is writable.
type TocEntry struct {
	typ        TocEntryType
	uid        string
	start      int64
	stop       int64
	loopType   TocLoopType
	repeat     int
	tags       *TagList
	subentries []*TocEntry
	parent     *TocEntry
	owner      *MiniObject
}

// NewTocEntry creates a detached entry. An empty uid is replaced by a random one.
func NewTocEntry(typ TocEntryType, uid string) *TocEntry {
	if uid == "" {
		uid = uuid.NewString()
	}
	return &TocEntry{typ: typ, uid: uid, start: -1, stop: -1}
}

func (e *TocEntry) checkWritable() {
	if e.owner != nil && !e.owner.IsWritable() {
		panic(fmt.Errorf("%w: toc entry %s", ErrNotWritable, e.uid))
	}
}

func (e *TocEntry) setOwner(o *MiniObject) {
	e.owner = o
	for _, s := range e.subentries {
		s.setOwner(o)
	}
}

func (e *TocEntry) EntryType() TocEntryType { return e.typ }
func (e *TocEntry) UID() string             { return e.uid }
func (e *TocEntry) Parent() *TocEntry       { return e.parent }
func (e *TocEntry) Tags() *TagList          { return e.tags }
func (e *TocEntry) IsAlternative() bool     { return e.typ.IsAlternative() }
func (e *TocEntry) IsSequence() bool        { return e.typ.IsSequence() }

// StartStop returns the entry range, -1 when unset.
func (e *TocEntry) StartStop() (int64, int64) { return e.start, e.stop }

// SetStartStop sets the entry range.
func (e *TocEntry) SetStartStop(start, stop int64) {
	e.checkWritable()
	e.start, e.stop = start, stop
}

// Loop returns the loop type and repeat count.
func (e *TocEntry) Loop() (TocLoopType, int) { return e.loopType, e.repeat }

// SetLoop sets the loop type and repeat count (-1 for infinite).
func (e *TocEntry) SetLoop(t TocLoopType, repeat int) {
	e.checkWritable()
	e.loopType, e.repeat = t, repeat
}

// SetTags replaces the tags, taking ownership of tags.
func (e *TocEntry) SetTags(tags *TagList) {
	e.checkWritable()
	if e.tags != nil {
		e.tags.Unref()
	}
	e.tags = tags
}

// MergeTags merges tags into the entry tags.
func (e *TocEntry) MergeTags(tags *TagList, mode TagMergeMode) {
	e.checkWritable()
	if e.tags == nil {
		e.tags = tags.Ref()
		return
	}
	merged := MergeTagLists(e.tags, tags, mode)
	e.tags.Unref()
	e.tags = merged
}

// AppendSubEntry adds sub as last child.
func (e *TocEntry) AppendSubEntry(sub *TocEntry) {
	e.checkWritable()
	sub.parent = e
	sub.setOwner(e.owner)
	e.subentries = append(e.subentries, sub)
}

// SubEntries iterates the children.
func (e *TocEntry) SubEntries() iter.Seq[*TocEntry] {
	return func(yield func(*TocEntry) bool) {
		for _, s := range e.subentries {
			if !yield(s) {
				return
			}
		}
	}
}

// NSubEntries returns the number of children.
func (e *TocEntry) NSubEntries() int { return len(e.subentries) }

func (e *TocEntry) copy() *TocEntry {
	c := &TocEntry{typ: e.typ, uid: e.uid, start: e.start, stop: e.stop, loopType: e.loopType, repeat: e.repeat}
	if e.tags != nil {
		c.tags = e.tags.Copy().TagList
	}
	for _, s := range e.subentries {
		cs := s.copy()
		cs.parent = c
		c.subentries = append(c.subentries, cs)
	}
	return c
}

func (e *TocEntry) free() {
	if e.tags != nil {
		e.tags.Unref()
		e.tags = nil
	}
	for _, s := range e.subentries {
		s.free()
	}
	e.subentries = nil
}

func (e *TocEntry) find(uid string) *TocEntry {
	if e.uid == uid {
		return e
	}
	for _, s := range e.subentries {
		if f := s.find(uid); f != nil {
			return f
		}
	}
	return nil
}

func (e *TocEntry) dump(b *strings.Builder, depth int) {
	fmt.Fprintf(b, "%s%s %s [%d, %d]\n", strings.Repeat("  ", depth), e.typ, e.uid, e.start, e.stop)
	for _, s := range e.subentries {
		s.dump(b, depth+1)
	}
}

// Toc is a table of contents: editions, chapters and tracks of a medium.
type Toc struct {
	MiniObject

	scope   TocScope
	entries []*TocEntry
	tags    *TagList
}

// TocMut is a proven-writable view on a Toc.
type TocMut struct {
	*Toc
}

// NewToc returns an empty toc.
func NewToc(scope TocScope) *TocMut {
	t := &Toc{scope: scope}
	t.init(TypeToc, 0, nil, t.freeToc)
	return &TocMut{t}
}

func (t *Toc) freeToc() {
	for _, e := range t.entries {
		e.free()
	}
	t.entries = nil
	if t.tags != nil {
		t.tags.Unref()
		t.tags = nil
	}
}

// Ref takes another reference.
func (t *Toc) Ref() *Toc { t.ref(); return t }

// Copy returns a deep copy.
func (t *Toc) Copy() *TocMut {
	c := NewToc(t.scope)
	for _, e := range t.entries {
		ce := e.copy()
		ce.setOwner(&c.MiniObject)
		c.entries = append(c.entries, ce)
	}
	if t.tags != nil {
		c.tags = t.tags.Copy().TagList
	}
	return c
}

// GetMut returns a mutable view if t is writable.
func (t *Toc) GetMut() (*TocMut, bool) {
	if !t.IsWritable() {
		return nil, false
	}
	return &TocMut{t}, true
}

// MakeWritable consumes the handle and returns a writable toc, copying when shared.
func (t *Toc) MakeWritable() *TocMut {
	if m, ok := t.GetMut(); ok {
		return m
	}
	c := t.Copy()
	t.Unref()
	return c
}

func (t *Toc) Scope() TocScope { return t.scope }
func (t *Toc) Tags() *TagList  { return t.tags }

// Entries iterates the top level entries.
func (t *Toc) Entries() iter.Seq[*TocEntry] {
	return func(yield func(*TocEntry) bool) {
		for _, e := range t.entries {
			if !yield(e) {
				return
			}
		}
	}
}

// FindEntry searches the whole tree for uid.
func (t *Toc) FindEntry(uid string) (*TocEntry, bool) {
	for _, e := range t.entries {
		if f := e.find(uid); f != nil {
			return f, true
		}
	}
	return nil, false
}

// AppendEntry adds e as top level entry.
func (t *TocMut) AppendEntry(e *TocEntry) {
	t.mustBeWritable()
	e.parent = nil
	e.setOwner(&t.MiniObject)
	t.entries = append(t.entries, e)
}

// SetTags replaces the toc tags, taking ownership of tags.
func (t *TocMut) SetTags(tags *TagList) {
	t.mustBeWritable()
	if t.tags != nil {
		t.tags.Unref()
	}
	t.tags = tags
}

// MergeTags merges tags into the toc tags.
func (t *TocMut) MergeTags(tags *TagList, mode TagMergeMode) {
	t.mustBeWritable()
	if t.tags == nil {
		t.tags = tags.Ref()
		return
	}
	merged := MergeTagLists(t.tags, tags, mode)
	t.tags.Unref()
	t.tags = merged
}

func (t *Toc) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "toc scope %d\n", t.scope)
	for _, e := range t.entries {
		e.dump(&b, 1)
	}
	return b.String()
}
