package gst

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func presetElement(t *testing.T) *Element {
	t.Helper()
	f := NewElementFactory("presetsrc", RankNone, &ElementClass{
		Properties: []*ParamSpec{
			NewParamInt("bitrate", "Bitrate", "kbit/s", 0, 100000, 500, ParamReadWrite),
			NewParamString("label", "Label", "free text", "default", ParamReadWrite),
			NewParamBool("live", "Live", "construct only", false, ParamReadWrite|ParamConstructOnly),
		},
	})
	e, err := f.Make("")
	require.NoError(t, err)
	return e
}

func TestPresetSaveLoad(t *testing.T) {
	e := presetElement(t)
	p, err := PresetInDir(e, t.TempDir())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bitrate", "label"}, p.PropertyNames())

	names, err := p.Names()
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, e.SetProperty("bitrate", 9000))
	require.NoError(t, e.SetProperty("label", "studio mix"))
	require.NoError(t, p.Save("hq"))
	require.NoError(t, p.SetMeta("hq", PresetMetaComment, "for uploads"))

	data, err := os.ReadFile(p.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "presetsrc")
	assert.Contains(t, string(data), "studio mix")

	require.NoError(t, e.SetProperty("bitrate", 100))
	require.NoError(t, e.SetProperty("label", "draft"))
	require.NoError(t, p.Save("low"))

	require.NoError(t, p.Load("hq"))
	br, err := PropertyAs[int32](e, "bitrate")
	require.NoError(t, err)
	assert.Equal(t, int32(9000), br)
	label, err := PropertyAs[string](e, "label")
	require.NoError(t, err)
	assert.Equal(t, "studio mix", label)

	comment, ok, err := p.Meta("hq", PresetMetaComment)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "for uploads", comment)

	// saving again keeps the meta data
	require.NoError(t, p.Save("hq"))
	_, ok, err = p.Meta("hq", PresetMetaComment)
	require.NoError(t, err)
	assert.True(t, ok)

	names, err = p.Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"hq", "low"}, names)
}

func TestPresetManagement(t *testing.T) {
	e := presetElement(t)
	p, err := PresetInDir(e, t.TempDir())
	require.NoError(t, err)
	require.NoError(t, p.Save("a"))

	require.NoError(t, p.Rename("a", "b"))
	assert.ErrorIs(t, p.Load("a"), ErrNoSuchPreset)
	require.NoError(t, p.Load("b"))
	assert.ErrorIs(t, p.Rename("a", "c"), ErrNoSuchPreset)
	assert.ErrorIs(t, p.SetMeta("a", PresetMetaVersion, "1"), ErrNoSuchPreset)
	_, _, err = p.Meta("a", PresetMetaVersion)
	assert.ErrorIs(t, err, ErrNoSuchPreset)

	require.NoError(t, p.SetMeta("b", PresetMetaVersion, "1"))
	require.NoError(t, p.SetMeta("b", PresetMetaVersion, ""))
	_, ok, err := p.Meta("b", PresetMetaVersion)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, p.Delete("b"))
	assert.ErrorIs(t, p.Delete("b"), ErrNoSuchPreset)
}

func TestPresetNeedsFactoryAndPath(t *testing.T) {
	_, err := PresetInDir(NewElement("bare", nil), t.TempDir())
	assert.ErrorIs(t, err, ErrPresetNoFactory)

	_, err = PresetFor(presetElement(t))
	assert.ErrorIs(t, err, ErrNoPresetPath)
}
