package gst

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagListMergeModes(t *testing.T) {
	l := NewTagList()
	defer l.Unref()

	TagArtist.Add(l, "Alice", TagMergeAppend)
	TagArtist.Add(l, "Bob", TagMergeAppend)
	TagArtist.Add(l, "Zed", TagMergePrepend)
	assert.Equal(t, 3, l.Size("artist"))
	assert.Equal(t, []string{"Zed", "Alice", "Bob"}, slices.Collect(TagArtist.Values(l.TagList)))
	joined, ok := TagArtist.Get(l.TagList)
	require.True(t, ok)
	assert.Equal(t, "Zed, Alice, Bob", joined)

	// fixed tags hold a single value
	TagBitrate.Add(l, 128000, TagMergeAppend)
	TagBitrate.Add(l, 256000, TagMergeAppend)
	br, _ := TagBitrate.Get(l.TagList)
	assert.Equal(t, uint32(128000), br)
	TagBitrate.Add(l, 256000, TagMergePrepend)
	br, _ = TagBitrate.Get(l.TagList)
	assert.Equal(t, uint32(256000), br)

	TagTitle.Add(l, "first", TagMergeKeep)
	TagTitle.Add(l, "second", TagMergeKeep)
	title, _ := TagTitle.Get(l.TagList)
	assert.Equal(t, "first", title)
	TagTitle.Add(l, "third", TagMergeReplace)
	title, _ = TagTitle.Get(l.TagList)
	assert.Equal(t, "third", title)
	TagAlbum.Add(l, "ignored", TagMergeKeepAll)
	_, ok = TagAlbum.Get(l.TagList)
	assert.False(t, ok)

	var typeErr *FieldTypeError
	assert.ErrorAs(t, l.AddValue("title", 5, TagMergeAppend), &typeErr)
	require.NoError(t, l.AddValue("x-custom", 5, TagMergeAppend), "unregistered tags take any type")

	l.RemoveTag("x-custom")
	assert.Equal(t, []string{"artist", "bitrate", "title"}, []string{l.NthTagName(0), l.NthTagName(1), l.NthTagName(2)})
	assert.Equal(t, 3, l.NTags())
}

func TestMergeTagLists(t *testing.T) {
	a := NewTagList()
	TagTitle.Add(a, "from a", TagMergeAppend)
	TagGenre.Add(a, "rock", TagMergeAppend)
	b := NewTagList()
	TagTitle.Add(b, "from b", TagMergeAppend)
	TagEncoder.Add(b, "x264", TagMergeAppend)
	defer a.Unref()
	defer b.Unref()

	replaced := MergeTagLists(a.TagList, b.TagList, TagMergeReplace)
	title, _ := TagTitle.Get(replaced)
	assert.Equal(t, "from b", title)
	assert.Equal(t, 3, replaced.NTags())
	replaced.Unref()

	kept := MergeTagLists(a.TagList, b.TagList, TagMergeKeep)
	title, _ = TagTitle.Get(kept)
	assert.Equal(t, "from a", title)
	enc, _ := TagEncoder.Get(kept)
	assert.Equal(t, "x264", enc)
	kept.Unref()

	all := MergeTagLists(a.TagList, b.TagList, TagMergeReplaceAll)
	assert.True(t, all.IsEqual(b.TagList))
	all.Unref()

	assert.Nil(t, MergeTagLists(nil, nil, TagMergeAppend))
	only := MergeTagLists(nil, b.TagList, TagMergeAppend)
	assert.True(t, only.IsEqual(b.TagList))
	only.Unref()
}

type taggedImpl struct{ tags TagSetter }

func (i *taggedImpl) TagSetter() *TagSetter { return &i.tags }

func TestTagSetter(t *testing.T) {
	e := NewElement("muxer", &taggedImpl{})
	setter, ok := TagSetterOf(e)
	require.True(t, ok)
	_, ok = TagSetterOf(NewElement("plain", nil))
	assert.False(t, ok)

	assert.Equal(t, TagMergeKeep, setter.TagMergeMode())
	require.NoError(t, setter.AddTag("title", "app title", TagMergeReplace))

	upstream := NewTagList()
	TagTitle.Add(upstream, "stream title", TagMergeAppend)
	TagCodec.Add(upstream, "H.264", TagMergeAppend)
	defer upstream.Unref()

	merged := setter.Merged(upstream.TagList)
	title, _ := TagTitle.Get(merged)
	assert.Equal(t, "stream title", title, "keep prefers the stream")
	merged.Unref()

	setter.SetTagMergeMode(TagMergeReplace)
	merged = setter.Merged(upstream.TagList)
	title, _ = TagTitle.Get(merged)
	assert.Equal(t, "app title", title)
	codec, _ := TagCodec.Get(merged)
	assert.Equal(t, "H.264", codec)
	merged.Unref()

	setter.ResetTags()
	assert.Nil(t, setter.TagList())
}

func TestToc(t *testing.T) {
	toc := NewToc(TocScopeGlobal)
	edition := NewTocEntry(TocEntryEdition, "edition")
	ch1 := NewTocEntry(TocEntryChapter, "ch1")
	ch1.SetStartStop(0, int64(10*Second))
	ch2 := NewTocEntry(TocEntryChapter, "")
	edition.AppendSubEntry(ch1)
	edition.AppendSubEntry(ch2)
	toc.AppendEntry(edition)

	assert.True(t, edition.IsAlternative())
	assert.True(t, ch1.IsSequence())
	assert.NotEmpty(t, ch2.UID(), "empty uids are generated")
	assert.Same(t, edition, ch1.Parent())
	found, ok := toc.FindEntry("ch1")
	require.True(t, ok)
	start, stop := found.StartStop()
	assert.Zero(t, start)
	assert.Equal(t, int64(10*Second), stop)
	_, ok = toc.FindEntry("nope")
	assert.False(t, ok)

	tags := NewTagList()
	TagTitle.Add(tags, "Intro", TagMergeAppend)
	ch1.SetTags(tags.TagList)

	// a shared toc is frozen; copies are deep
	shared := toc.Ref()
	assert.Panics(t, func() { ch1.SetStartStop(1, 2) })
	c := shared.Copy()
	cch1, ok := c.FindEntry("ch1")
	require.True(t, ok)
	assert.NotSame(t, ch1, cch1)
	cch1.SetLoop(TocLoopForward, -1)
	lt, _ := ch1.Loop()
	assert.Equal(t, TocLoopNone, lt)
	title, _ := TagTitle.Get(cch1.Tags())
	assert.Equal(t, "Intro", title)

	ev := NewTocEvent(c.Toc, true)
	got, updated := ev.ParseToc()
	assert.True(t, updated)
	assert.Len(t, slices.Collect(got.Entries()), 1)
	ev.Unref()

	c.Unref()
	shared.Unref()
	toc.Unref()
}
