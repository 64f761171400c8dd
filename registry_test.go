package gst

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPluginDesc(name string, init PluginInitFunc) *PluginDesc {
	return &PluginDesc{
		MajorVersion: VersionMajor,
		MinorVersion: VersionMinor,
		Name:         name,
		Description:  "test plugin " + name,
		Init:         init,
		Version:      "1.2.3",
		License:      "LGPL",
		Source:       "gst-go",
		Package:      "tests",
		Origin:       "https://example.org",
	}
}

func TestPluginRegistration(t *testing.T) {
	r := NewRegistry()
	var announced []string
	r.ConnectFeatureAdded(func(f PluginFeature) { announced = append(announced, f.Name()) })

	desc := testPluginDesc("widgets", func(p *Plugin) error {
		if err := RegisterElement(p, "widgetsrc", RankPrimary, &ElementClass{}); err != nil {
			return err
		}
		return RegisterElement(p, "widgetsink", RankMarginal, &ElementClass{})
	})
	cookie := r.Cookie()
	require.NoError(t, r.registerStatic(desc))
	assert.NotEqual(t, cookie, r.Cookie())

	p := r.FindPlugin("widgets")
	require.NotNil(t, p)
	assert.True(t, p.IsLoaded())
	assert.False(t, p.IsCached())
	assert.ElementsMatch(t, []string{"widgetsrc", "widgetsink"}, p.FeatureNames())
	assert.Equal(t, []string{"widgetsrc", "widgetsink"}, announced)

	f, ok := FindFeature[*ElementFactory](r, "widgetsrc")
	require.True(t, ok)
	assert.Equal(t, RankPrimary, f.Rank())
	assert.Equal(t, "widgets", f.PluginName())
	_, ok = FindFeature[*TracerFactory](r, "widgetsrc")
	assert.False(t, ok)

	byRank := FeaturesOfType[*ElementFactory](r, nil)
	require.Len(t, byRank, 2)
	assert.Equal(t, "widgetsrc", byRank[0].Name())

	assert.True(t, r.CheckFeatureVersion("widgetsrc", 1, 2, 0))
	assert.True(t, r.CheckFeatureVersion("widgetsrc", 1, 2, 3))
	assert.False(t, r.CheckFeatureVersion("widgetsrc", 1, 3, 0))
	assert.False(t, r.CheckFeatureVersion("missing", 0, 0, 0))

	assert.Error(t, r.registerStatic(desc), "duplicate plugin")

	r.RemovePlugin(p)
	assert.Nil(t, r.LookupFeature("widgetsrc"))
	assert.Empty(t, r.Plugins())
}

func TestPluginRejected(t *testing.T) {
	r := NewRegistry()

	old := testPluginDesc("old", nil)
	old.MajorVersion = 0
	assert.ErrorIs(t, r.registerStatic(old), ErrPluginVersion)

	newer := testPluginDesc("newer", nil)
	newer.MinorVersion = VersionMinor + 1
	assert.ErrorIs(t, r.registerStatic(newer), ErrPluginVersion)

	lic := testPluginDesc("lic", nil)
	lic.License = "WTFPL"
	assert.ErrorIs(t, r.registerStatic(lic), ErrPluginLicense)

	failing := testPluginDesc("failing", func(p *Plugin) error {
		require.NoError(t, RegisterElement(p, "halfdone", RankNone, &ElementClass{}))
		return errors.New("missing device")
	})
	assert.ErrorIs(t, r.registerStatic(failing), ErrPluginInit)
	assert.Nil(t, r.FindPlugin("failing"))
	assert.Nil(t, r.LookupFeature("halfdone"), "features of a failed plugin are dropped")

	panicking := testPluginDesc("panicking", func(*Plugin) error { panic("boom") })
	assert.ErrorIs(t, r.registerStatic(panicking), ErrPluginInit)
	assert.Empty(t, r.Plugins())
}

func TestFeatureConflicts(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.registerStatic(testPluginDesc("first", func(p *Plugin) error {
		return RegisterElement(p, "shared", RankNone, &ElementClass{})
	})))
	err := r.registerStatic(testPluginDesc("second", func(p *Plugin) error {
		return RegisterElement(p, "shared", RankNone, &ElementClass{})
	}))
	assert.ErrorIs(t, err, ErrFeatureExists)
	assert.Equal(t, "first", r.LookupFeature("shared").PluginName())

	static := NewElementFactory("standalone", RankSecondary, &ElementClass{})
	require.NoError(t, r.AddFeature(static))
	assert.Nil(t, static.Plugin())
	assert.True(t, r.CheckFeatureVersion("standalone", 9, 9, 9))
	r.RemoveFeature(static)
	assert.Nil(t, r.LookupFeature("standalone"))
}

func TestPluginDefine(t *testing.T) {
	def := PluginDefine(*testPluginDesc("defined", nil))
	assert.Equal(t, "defined", def.Desc().Name)
	assert.Equal(t, "1.2.3", def.Desc().Version)
}

func TestRegistryCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "registry.cbor")

	src := NewRegistry()
	require.NoError(t, src.registerStatic(testPluginDesc("cached", func(p *Plugin) error {
		return RegisterElement(p, "cachedsrc", RankSecondary, &ElementClass{
			Metadata: ElementMetadata{LongName: "Cached source", Classification: "Source/Video"},
		})
	})))
	require.NoError(t, src.SaveCache(path))
	_, err := os.Stat(path)
	require.NoError(t, err)

	dst := NewRegistry()
	require.NoError(t, dst.LoadCache(path))
	p := dst.FindPlugin("cached")
	require.NotNil(t, p)
	assert.True(t, p.IsCached())
	assert.False(t, p.IsLoaded())
	assert.Equal(t, "1.2.3", p.Version())
	assert.Equal(t, []string{"cachedsrc"}, p.FeatureNames())

	// registering the real plugin replaces the cached entry
	require.NoError(t, dst.registerStatic(testPluginDesc("cached", nil)))
	fresh := dst.FindPlugin("cached")
	assert.NotSame(t, p, fresh)
	assert.True(t, fresh.IsLoaded())
	assert.Len(t, dst.Plugins(), 1)

	assert.Error(t, dst.LoadCache(filepath.Join(t.TempDir(), "missing.cbor")))
}
