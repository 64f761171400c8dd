package gst

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebugThresholds(t *testing.T) {
	t.Cleanup(func() { _ = SetDebugThresholdFromString("", true) })

	audio := NewDebugCategory("test-audio", "audio things")
	video := NewDebugCategory("test-video", "video things")
	assert.Same(t, audio, NewDebugCategory("test-audio", "ignored"))
	assert.Equal(t, LevelWarning, audio.Threshold())

	require.NoError(t, SetDebugThresholdFromString("3,test-a*:debug", true))
	assert.Equal(t, LevelDebug, audio.Threshold())
	assert.Equal(t, LevelFixme, video.Threshold())
	assert.True(t, audio.Enabled(LevelDebug))
	assert.False(t, audio.Enabled(LevelLog))
	assert.False(t, audio.Enabled(LevelNone))

	// later patterns win
	require.NoError(t, SetDebugThresholdFromString("test-*:1", false))
	assert.Equal(t, LevelError, audio.Threshold())

	late := NewDebugCategory("test-late", "")
	assert.Equal(t, LevelError, late.Threshold())

	assert.Error(t, SetDebugThresholdFromString("pad:9", false))
	assert.Error(t, SetDebugThresholdFromString("pad:loud", false))
}

func TestDebugCategoryOutput(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.TraceLevel)
	SetLogger(logger)
	t.Cleanup(func() { SetLogger(nil) })

	cat := NewDebugCategory("test-output", "")
	cat.SetThreshold(LevelInfo)
	e := NewElement("speaker", nil)
	cat.Info(e, "hello %d", 1)
	cat.Debug(e, "dropped")

	require.Len(t, hook.AllEntries(), 1)
	entry := hook.LastEntry()
	assert.Equal(t, "hello 1", entry.Message)
	assert.Equal(t, logrus.InfoLevel, entry.Level)
	assert.Equal(t, "test-output", entry.Data["category"])
	assert.Equal(t, "/speaker", entry.Data["object"])

	cat.WithFields(nil, logrus.Fields{"pts": 5}).Warn("structured")
	assert.Equal(t, 5, hook.LastEntry().Data["pts"])
}

func TestGError(t *testing.T) {
	err := NewError(ResourceErrorNotFound, "no file %s", "a.mp4")
	assert.True(t, err.Matches(ResourceErrorNotFound))
	assert.False(t, err.Matches(StreamErrorDecode))
	assert.Contains(t, err.Error(), "no file a.mp4")

	wrapped := fmt.Errorf("opening: %w", err)
	assert.ErrorIs(t, wrapped, NewError(ResourceErrorNotFound, "other text"))
	var ge *GError
	require.ErrorAs(t, wrapped, &ge)
	assert.Equal(t, DomainResource, ge.Domain)
}

func TestCatchPanic(t *testing.T) {
	run := func() (err error) {
		defer catchPanic(catDefault, nil, "callback", &err)
		panic("bad input")
	}
	err := run()
	var pe *PanicError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "callback", pe.Where)
	assert.Equal(t, "bad input", pe.Value)
}

func TestConfigFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("GST_PLUGIN_PATH", filepath.Join(dir, "a")+string(filepath.ListSeparator)+filepath.Join(dir, "b"))
	t.Setenv("GST_REGISTRY", filepath.Join(dir, "reg.cbor"))
	t.Setenv("GST_REGISTRY_UPDATE", "no")
	t.Setenv("GST_DEBUG", "*:3")
	t.Setenv("GST_PRESET_PATH", "")

	cfg := ConfigFromEnv()
	assert.Equal(t, []string{filepath.Join(dir, "a"), filepath.Join(dir, "b")}, cfg.PluginPaths)
	assert.Equal(t, filepath.Join(dir, "reg.cbor"), cfg.RegistryPath)
	assert.False(t, cfg.RegistryUpdate)
	assert.Equal(t, "*:3", cfg.Debug)

	// Init only runs once per process
	require.NoError(t, InitWithConfig(cfg))
	assert.True(t, IsInitialized())
	assert.Empty(t, CurrentConfig().PluginPaths)
}
