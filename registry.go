package gst

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"
)

// Rank orders features providing the same functionality; autoplugging prefers
// higher ranks.
type Rank int

const (
	RankNone      Rank = 0
	RankMarginal  Rank = 64
	RankSecondary Rank = 128
	RankPrimary   Rank = 256
)

func (r Rank) String() string {
	switch r {
	case RankNone:
		return "none"
	case RankMarginal:
		return "marginal"
	case RankSecondary:
		return "secondary"
	case RankPrimary:
		return "primary"
	}
	return fmt.Sprintf("%d", int(r))
}

// PluginFeature is an entry in the registry: an element factory, tracer factory or
// device provider factory.
type PluginFeature interface {
	Name() string
	Rank() Rank
	SetRank(Rank)
	Plugin() *Plugin
	PluginName() string

	feature() *pluginFeature
}

type pluginFeature struct {
	mu     sync.Mutex
	name   string
	rank   Rank
	plugin *Plugin
}

func (f *pluginFeature) feature() *pluginFeature { return f }

// Name returns the feature name.
func (f *pluginFeature) Name() string { return f.name }

// Rank returns the feature rank.
func (f *pluginFeature) Rank() Rank {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rank
}

// SetRank changes the rank.
func (f *pluginFeature) SetRank(r Rank) {
	f.mu.Lock()
	f.rank = r
	f.mu.Unlock()
}

// Plugin returns the plugin providing the feature, nil for static features.
func (f *pluginFeature) Plugin() *Plugin {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plugin
}

// PluginName returns the name of the providing plugin, or "".
func (f *pluginFeature) PluginName() string {
	if p := f.Plugin(); p != nil {
		return p.Name()
	}
	return ""
}

// ErrFeatureExists is returned when registering a feature name owned by another
// plugin.
var ErrFeatureExists = errors.New("gst: feature already registered")

// Registry holds the known plugins and their features. Lookups may run
// concurrently with registration.
type Registry struct {
	mu       sync.RWMutex
	plugins  []*Plugin
	features map[string]PluginFeature
	cookie   uint32

	listeners []func(f PluginFeature)
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{features: make(map[string]PluginFeature)}
}

var defaultRegistry = NewRegistry()

// DefaultRegistry returns the process wide registry.
func DefaultRegistry() *Registry { return defaultRegistry }

// Cookie changes whenever features are added or removed.
func (r *Registry) Cookie() uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cookie
}

// AddPlugin adds p. A plugin with the same name is replaced when it was only
// known from the cache.
func (r *Registry) AddPlugin(p *Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.registry = r
	for i, old := range r.plugins {
		if old.Name() != p.Name() {
			continue
		}
		if !old.IsCached() {
			return fmt.Errorf("gst: plugin %q already registered", p.Name())
		}
		r.removeFeaturesLocked(old)
		r.plugins[i] = p
		r.cookie++
		return nil
	}
	r.plugins = append(r.plugins, p)
	r.cookie++
	catRegistry.Debug(nil, "added plugin %s", p.Name())
	return nil
}

// RemovePlugin removes p and its features.
func (r *Registry) RemovePlugin(p *Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := slices.Index(r.plugins, p)
	if i < 0 {
		return
	}
	r.plugins = slices.Delete(r.plugins, i, i+1)
	r.removeFeaturesLocked(p)
	r.cookie++
}

func (r *Registry) removeFeaturesLocked(p *Plugin) {
	for name, f := range r.features {
		if f.Plugin() == p {
			delete(r.features, name)
		}
	}
}

// AddFeature registers f without a plugin.
func (r *Registry) AddFeature(f PluginFeature) error { return r.addFeatureFor(nil, f) }

func (r *Registry) addFeatureFor(p *Plugin, f PluginFeature) error {
	base := f.feature()
	base.mu.Lock()
	base.plugin = p
	base.mu.Unlock()

	r.mu.Lock()
	if old, ok := r.features[f.Name()]; ok && old.Plugin() != p {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s (from plugin %q)", ErrFeatureExists, f.Name(), old.PluginName())
	}
	r.features[f.Name()] = f
	r.cookie++
	listeners := slices.Clone(r.listeners)
	r.mu.Unlock()

	if p != nil {
		p.addFeature(f)
	}
	catRegistry.Debug(nil, "added feature %s (rank %s)", f.Name(), f.Rank())
	for _, fn := range listeners {
		fn(f)
	}
	return nil
}

// RemoveFeature removes f.
func (r *Registry) RemoveFeature(f PluginFeature) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.features[f.Name()] == f {
		delete(r.features, f.Name())
		r.cookie++
	}
}

// ConnectFeatureAdded registers fn to run after a feature was added.
func (r *Registry) ConnectFeatureAdded(fn func(f PluginFeature)) {
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// LookupFeature returns the feature called name, or nil.
func (r *Registry) LookupFeature(name string) PluginFeature {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.features[name]
}

// FindPlugin returns the plugin called name, or nil.
func (r *Registry) FindPlugin(name string) *Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// Plugins returns the plugins in registration order.
func (r *Registry) Plugins() []*Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.plugins)
}

// Features returns every feature sorted by name.
func (r *Registry) Features() []PluginFeature {
	r.mu.RLock()
	out := make([]PluginFeature, 0, len(r.features))
	for _, f := range r.features {
		out = append(out, f)
	}
	r.mu.RUnlock()
	slices.SortFunc(out, func(a, b PluginFeature) int { return cmp.Compare(a.Name(), b.Name()) })
	return out
}

// CheckFeatureVersion reports whether the feature exists and its plugin is at least
// the given version. Static features always pass.
func (r *Registry) CheckFeatureVersion(name string, major, minor, micro int) bool {
	f := r.LookupFeature(name)
	if f == nil {
		return false
	}
	p := f.Plugin()
	if p == nil {
		return true
	}
	var ma, mi, mc int
	if _, err := fmt.Sscanf(p.Version(), "%d.%d.%d", &ma, &mi, &mc); err != nil {
		return false
	}
	return cmp.Or(cmp.Compare(ma, major), cmp.Compare(mi, minor), cmp.Compare(mc, micro)) >= 0
}

// FindFeature returns the feature called name when it has type T.
func FindFeature[T PluginFeature](r *Registry, name string) (T, bool) {
	f, ok := r.LookupFeature(name).(T)
	return f, ok
}

// FeaturesOfType returns the features of type T accepted by filter, highest rank
// first and then by name. A nil filter accepts everything.
func FeaturesOfType[T PluginFeature](r *Registry, filter func(T) bool) []T {
	var out []T
	for _, f := range r.Features() {
		t, ok := f.(T)
		if !ok || (filter != nil && !filter(t)) {
			continue
		}
		out = append(out, t)
	}
	slices.SortStableFunc(out, func(a, b T) int { return cmp.Compare(b.Rank(), a.Rank()) })
	return out
}
