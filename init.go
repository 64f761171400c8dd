package gst

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Version of the plugin ABI this package implements. Plugins built for a newer
// minor version are refused.
const (
	VersionMajor = 1
	VersionMinor = 24
	VersionMicro = 0
)

// Version returns "major.minor.micro".
func Version() string { return fmt.Sprintf("%d.%d.%d", VersionMajor, VersionMinor, VersionMicro) }

// Config holds the process-wide settings read at Init.
type Config struct {
	Debug          string   // GST_DEBUG
	DebugNoColor   bool     // GST_DEBUG_NO_COLOR
	PluginPaths    []string // GST_PLUGIN_PATH
	RegistryPath   string   // GST_REGISTRY
	RegistryUpdate bool     // GST_REGISTRY_UPDATE
	Tracers        string   // GST_TRACERS
	PresetPath     string   // GST_PRESET_PATH
}

// ConfigFromEnv reads the configuration from the environment.
func ConfigFromEnv() Config {
	cfg := Config{
		Debug:          os.Getenv("GST_DEBUG"),
		DebugNoColor:   os.Getenv("GST_DEBUG_NO_COLOR") != "",
		RegistryPath:   os.Getenv("GST_REGISTRY"),
		RegistryUpdate: !strings.EqualFold(os.Getenv("GST_REGISTRY_UPDATE"), "no"),
		Tracers:        os.Getenv("GST_TRACERS"),
		PresetPath:     os.Getenv("GST_PRESET_PATH"),
	}
	if p := os.Getenv("GST_PLUGIN_PATH"); p != "" {
		for _, dir := range filepath.SplitList(p) {
			if dir != "" {
				cfg.PluginPaths = append(cfg.PluginPaths, dir)
			}
		}
	}
	if cfg.RegistryPath == "" {
		cfg.RegistryPath = DefaultRegistryCachePath()
	}
	if cfg.PresetPath == "" {
		if dir, err := os.UserConfigDir(); err == nil {
			cfg.PresetPath = filepath.Join(dir, "gst-go", "presets")
		}
	}
	return cfg
}

var (
	initMu      sync.Mutex
	initialized bool
	config      Config
)

// Init initializes the library from the environment. Calling it again is a no-op.
func Init() error { return InitWithConfig(ConfigFromEnv()) }

// InitWithConfig initializes the library with cfg. Failures to load the
// registry cache or scan plugin directories are logged and do not fail Init.
func InitWithConfig(cfg Config) error {
	initMu.Lock()
	defer initMu.Unlock()
	if initialized {
		return nil
	}

	if cfg.DebugNoColor {
		Logger().SetFormatter(&logrus.TextFormatter{DisableColors: true})
	}
	if cfg.Debug != "" {
		if err := SetDebugThresholdFromString(cfg.Debug, true); err != nil {
			return fmt.Errorf("gst: init: %w", err)
		}
	}
	config = cfg

	registerBuiltinTracers()

	reg := DefaultRegistry()
	if cfg.RegistryPath != "" {
		if err := reg.LoadCache(cfg.RegistryPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			catRegistry.Warning(nil, "registry cache %s: %v", cfg.RegistryPath, err)
		}
	}
	if cfg.RegistryUpdate && len(cfg.PluginPaths) > 0 {
		var result *multierror.Error
		for _, dir := range cfg.PluginPaths {
			if err := reg.ScanPath(dir); err != nil {
				result = multierror.Append(result, fmt.Errorf("scan %s: %w", dir, err))
			}
		}
		if err := result.ErrorOrNil(); err != nil {
			catRegistry.Warning(nil, "plugin scan: %v", err)
		}
		if cfg.RegistryPath != "" {
			if err := reg.SaveCache(cfg.RegistryPath); err != nil {
				catRegistry.Warning(nil, "saving registry cache: %v", err)
			}
		}
	}

	if cfg.Tracers != "" {
		if err := ActivateTracers(cfg.Tracers); err != nil {
			catTracer.Warning(nil, "%v", err)
		}
	}

	initialized = true
	catDefault.Info(nil, "initialized version %s", Version())
	return nil
}

// IsInitialized reports whether Init succeeded.
func IsInitialized() bool {
	initMu.Lock()
	defer initMu.Unlock()
	return initialized
}

// CurrentConfig returns the configuration Init ran with.
func CurrentConfig() Config {
	initMu.Lock()
	defer initMu.Unlock()
	return config
}

func checkInitialized() error {
	if !IsInitialized() {
		return ErrNotInitialized
	}
	return nil
}

// Deinit tears down the active tracers. An active leaks tracer logs the objects
// still alive. It returns the number of leaks reported.
func Deinit() int {
	initMu.Lock()
	defer initMu.Unlock()
	leaks := 0
	for _, t := range ActiveTracers() {
		if lt, ok := t.(*LeaksTracer); ok {
			leaks += lt.LogLeaks()
		}
		RemoveTracer(t)
	}
	defaultTaskPool.Cleanup()
	initialized = false
	return leaks
}
