package gst

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// PluginInitFunc registers the features of a plugin.
type PluginInitFunc func(p *Plugin) error

// PluginDesc describes a plugin. Static plugins define one in Go; native plugins
// export a C descriptor that is read while scanning.
type PluginDesc struct {
	MajorVersion int
	MinorVersion int
	Name         string
	Description  string
	Init         PluginInitFunc
	Version      string
	License      string
	Source       string
	Package      string
	Origin       string
	// ReleaseDatetime is "YYYY-MM-DD" or "YYYY-MM-DDTHH:MMZ", optional.
	ReleaseDatetime string
}

var validLicenses = []string{
	"LGPL", "GPL", "QPL", "GPL/QPL", "MPL", "BSD", "MIT/X11", "0BSD", "Apache 2.0",
	"Proprietary", "unknown",
}

// Errors returned while registering plugins.
var (
	ErrPluginVersion = errors.New("gst: plugin built for an incompatible version")
	ErrPluginLicense = errors.New("gst: invalid plugin license")
	ErrPluginInit    = errors.New("gst: plugin init failed")
)

func (d *PluginDesc) validate() error {
	if d.Name == "" {
		return errors.New("gst: plugin descriptor without name")
	}
	if d.MajorVersion != VersionMajor || d.MinorVersion > VersionMinor {
		return fmt.Errorf("%w: %s wants %d.%d, have %d.%d", ErrPluginVersion, d.Name,
			d.MajorVersion, d.MinorVersion, VersionMajor, VersionMinor)
	}
	if !slices.Contains(validLicenses, d.License) {
		return fmt.Errorf("%w: %s has %q", ErrPluginLicense, d.Name, d.License)
	}
	return nil
}

// PluginFlags are state bits of a plugin.
type PluginFlags uint32

const (
	// PluginFlagCached marks a plugin known only from the registry cache.
	PluginFlagCached PluginFlags = 1 << iota
	// PluginFlagBlacklisted marks a native plugin that failed to load.
	PluginFlagBlacklisted
	// PluginFlagNative marks a plugin read from a shared library.
	PluginFlagNative
)

// Plugin is a loaded or scanned plugin and the features it registered.
type Plugin struct {
	desc     PluginDesc
	filename string
	registry *Registry

	mu       sync.Mutex
	flags    PluginFlags
	loaded   bool
	features []string
	// names of features known from the cache before loading
	cachedFeatures []cachedFeature
}

// Name returns the plugin name.
func (p *Plugin) Name() string            { return p.desc.Name }
func (p *Plugin) Description() string     { return p.desc.Description }
func (p *Plugin) Version() string         { return p.desc.Version }
func (p *Plugin) License() string         { return p.desc.License }
func (p *Plugin) Source() string          { return p.desc.Source }
func (p *Plugin) Package() string         { return p.desc.Package }
func (p *Plugin) Origin() string          { return p.desc.Origin }
func (p *Plugin) ReleaseDatetime() string { return p.desc.ReleaseDatetime }

// Filename returns the shared library path of a native plugin.
func (p *Plugin) Filename() string { return p.filename }

// Flags returns the plugin flags.
func (p *Plugin) Flags() PluginFlags {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.flags
}

// IsLoaded reports whether the init function ran successfully.
func (p *Plugin) IsLoaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded
}

// IsCached reports whether the plugin is only known from the registry cache.
func (p *Plugin) IsCached() bool { return p.Flags()&PluginFlagCached != 0 }

// FeatureNames returns the names of the features registered by p.
func (p *Plugin) FeatureNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.features) == 0 {
		names := make([]string, len(p.cachedFeatures))
		for i, f := range p.cachedFeatures {
			names[i] = f.Name
		}
		return names
	}
	return slices.Clone(p.features)
}

func (p *Plugin) addFeature(f PluginFeature) {
	p.mu.Lock()
	if !slices.Contains(p.features, f.Name()) {
		p.features = append(p.features, f.Name())
	}
	p.mu.Unlock()
}

// callInit runs the init function, turning a panic into an error.
func (p *Plugin) callInit() (err error) {
	defer catchPanic(catRegistry, nil, "plugin_init "+p.desc.Name, &err)
	if p.desc.Init == nil {
		return nil
	}
	return p.desc.Init(p)
}

// RegisterStaticPlugin registers a plugin linked into the program and runs its
// init function. Failures in init, including panics, remove the plugin again and
// are reported as errors wrapping ErrPluginInit.
func RegisterStaticPlugin(desc *PluginDesc) error {
	return DefaultRegistry().registerStatic(desc)
}

func (r *Registry) registerStatic(desc *PluginDesc) error {
	if err := desc.validate(); err != nil {
		catRegistry.Warning(nil, "%v", err)
		return err
	}
	p := &Plugin{desc: *desc}
	if err := r.AddPlugin(p); err != nil {
		return err
	}
	if err := p.callInit(); err != nil {
		catRegistry.Error(nil, "plugin %s failed to initialise: %v", desc.Name, err)
		r.RemovePlugin(p)
		return fmt.Errorf("%w: %s: %w", ErrPluginInit, desc.Name, err)
	}
	p.mu.Lock()
	p.loaded = true
	p.mu.Unlock()
	catRegistry.Info(nil, "registered static plugin %s %s", desc.Name, desc.Version)
	return nil
}

// PluginDefinition is the pair of entry points a plugin package exports.
type PluginDefinition struct {
	desc *PluginDesc
}

// PluginDefine returns the entry points for desc. Packages typically keep the
// result in a package variable and call Register from an init function or from
// the application.
func PluginDefine(desc PluginDesc) PluginDefinition {
	return PluginDefinition{desc: &desc}
}

// Register registers the plugin with the default registry.
func (d PluginDefinition) Register() error { return RegisterStaticPlugin(d.desc) }

// Desc returns the descriptor.
func (d PluginDefinition) Desc() *PluginDesc { return d.desc }
