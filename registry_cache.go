package gst

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gofrs/flock"
)

const registryCacheVersion = "1.0"

type cachedFeature struct {
	Name     string `cbor:"1,keyasint"`
	Kind     string `cbor:"2,keyasint"`
	Rank     int    `cbor:"3,keyasint"`
	LongName string `cbor:"4,keyasint,omitempty"`
	Klass    string `cbor:"5,keyasint,omitempty"`
}

type cachedPlugin struct {
	Name            string          `cbor:"1,keyasint"`
	Description     string          `cbor:"2,keyasint"`
	Version         string          `cbor:"3,keyasint"`
	License         string          `cbor:"4,keyasint"`
	Source          string          `cbor:"5,keyasint"`
	Package         string          `cbor:"6,keyasint"`
	Origin          string          `cbor:"7,keyasint"`
	ReleaseDatetime string          `cbor:"8,keyasint,omitempty"`
	Filename        string          `cbor:"9,keyasint,omitempty"`
	Size            int64           `cbor:"10,keyasint,omitempty"`
	ModTime         int64           `cbor:"11,keyasint,omitempty"`
	Blacklisted     bool            `cbor:"12,keyasint,omitempty"`
	Features        []cachedFeature `cbor:"13,keyasint"`
}

type registryCacheFile struct {
	Version string         `cbor:"1,keyasint"`
	Plugins []cachedPlugin `cbor:"2,keyasint"`
}

// DefaultRegistryCachePath returns the cache file used when GST_REGISTRY is not set.
func DefaultRegistryCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "gst-go", "registry.cbor")
}

func featureKind(f PluginFeature) string {
	switch f.(type) {
	case *ElementFactory:
		return "element"
	case *TracerFactory:
		return "tracer"
	case *DeviceProviderFactory:
		return "device-provider"
	}
	return "feature"
}

func (r *Registry) snapshot() registryCacheFile {
	out := registryCacheFile{Version: registryCacheVersion}
	for _, p := range r.Plugins() {
		cp := cachedPlugin{
			Name:            p.desc.Name,
			Description:     p.desc.Description,
			Version:         p.desc.Version,
			License:         p.desc.License,
			Source:          p.desc.Source,
			Package:         p.desc.Package,
			Origin:          p.desc.Origin,
			ReleaseDatetime: p.desc.ReleaseDatetime,
			Filename:        p.filename,
			Blacklisted:     p.Flags()&PluginFlagBlacklisted != 0,
		}
		if p.filename != "" {
			if st, err := os.Stat(p.filename); err == nil {
				cp.Size, cp.ModTime = st.Size(), st.ModTime().UnixNano()
			}
		}
		if p.IsCached() {
			p.mu.Lock()
			cp.Features = append(cp.Features, p.cachedFeatures...)
			p.mu.Unlock()
		}
		for _, name := range p.FeatureNames() {
			f := r.LookupFeature(name)
			if f == nil {
				continue
			}
			cf := cachedFeature{Name: name, Kind: featureKind(f), Rank: int(f.Rank())}
			if ef, ok := f.(*ElementFactory); ok {
				cf.LongName, cf.Klass = ef.LongName(), ef.Klass()
			}
			cp.Features = append(cp.Features, cf)
		}
		out.Plugins = append(out.Plugins, cp)
	}
	return out
}

// SaveCache writes the plugin list to path, holding an exclusive file lock
// while writing.
func (r *Registry) SaveCache(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("gst: registry cache dir: %w", err)
	}
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("gst: lock registry cache: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return err
	}
	data, err := em.Marshal(r.snapshot())
	if err != nil {
		return fmt.Errorf("gst: encode registry cache: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("gst: write registry cache: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("gst: write registry cache: %w", err)
	}
	catRegistry.Info(nil, "wrote registry cache %s (%d bytes)", path, len(data))
	return nil
}

// ErrStaleCache is returned when the cache was written by another format version.
var ErrStaleCache = errors.New("gst: registry cache has an unknown version")

// LoadCache adds the plugins recorded in path that are not yet registered. They
// are marked cached until loaded again. Native plugins whose file changed since
// the cache was written are skipped.
func (r *Registry) LoadCache(path string) error {
	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return fmt.Errorf("gst: lock registry cache: %w", err)
	}
	data, err := os.ReadFile(path)
	_ = lock.Unlock()
	if err != nil {
		return err
	}
	var file registryCacheFile
	if err := cbor.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("gst: decode registry cache: %w", err)
	}
	if file.Version != registryCacheVersion {
		return fmt.Errorf("%w: %q", ErrStaleCache, file.Version)
	}
	for _, cp := range file.Plugins {
		if r.FindPlugin(cp.Name) != nil {
			continue
		}
		if cp.Filename != "" && !cacheEntryFresh(cp) {
			catRegistry.Debug(nil, "cache entry for %s is stale", cp.Filename)
			continue
		}
		p := &Plugin{
			desc: PluginDesc{
				Name: cp.Name, Description: cp.Description, Version: cp.Version,
				License: cp.License, Source: cp.Source, Package: cp.Package,
				Origin: cp.Origin, ReleaseDatetime: cp.ReleaseDatetime,
			},
			filename:       cp.Filename,
			flags:          PluginFlagCached,
			cachedFeatures: cp.Features,
		}
		if cp.Filename != "" {
			p.flags |= PluginFlagNative
		}
		if cp.Blacklisted {
			p.flags |= PluginFlagBlacklisted
		}
		if err := r.AddPlugin(p); err != nil {
			catRegistry.Warning(nil, "cached plugin %s: %v", cp.Name, err)
		}
	}
	return nil
}

func cacheEntryFresh(cp cachedPlugin) bool {
	st, err := os.Stat(cp.Filename)
	if err != nil {
		return false
	}
	return st.Size() == cp.Size && st.ModTime().Equal(time.Unix(0, cp.ModTime))
}
