package gst

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/gofrs/flock"
	"github.com/pelletier/go-toml/v2"
)

// Well-known preset meta tags.
const (
	PresetMetaComment = "comment"
	PresetMetaVersion = "version"
)

var (
	ErrNoSuchPreset    = errors.New("gst: no such preset")
	ErrNoPresetPath    = errors.New("gst: no preset directory configured")
	ErrPresetNoFactory = errors.New("gst: element has no factory")
)

// PresetPropertiesImpl lets an element implementation choose which properties
// a preset records. By default every readable, writable property that is not
// construct-only is recorded.
type PresetPropertiesImpl interface {
	PresetPropertyNames(e *Element) []string
}

type presetFile struct {
	Element string                 `toml:"element"`
	Version string                 `toml:"version"`
	Presets map[string]presetEntry `toml:"presets"`
}

type presetEntry struct {
	Meta       map[string]string `toml:"meta,omitempty"`
	Properties map[string]string `toml:"properties"`
}

// Preset stores named property sets of an element in a TOML file per element
// factory under the configured preset directory.
type Preset struct {
	e    *Element
	path string
}

// PresetFor returns the preset store of e. The directory is taken from
// Config.PresetPath.
func PresetFor(e *Element) (*Preset, error) {
	dir := CurrentConfig().PresetPath
	if dir == "" {
		return nil, ErrNoPresetPath
	}
	return PresetInDir(e, dir)
}

// PresetInDir is PresetFor with an explicit directory.
func PresetInDir(e *Element, dir string) (*Preset, error) {
	f := e.Factory()
	if f == nil {
		return nil, fmt.Errorf("%w: %s", ErrPresetNoFactory, e.Name())
	}
	return &Preset{e: e, path: filepath.Join(dir, f.Name()+".prs.toml")}, nil
}

// Path returns the file presets are kept in.
func (p *Preset) Path() string { return p.path }

func (p *Preset) load() (*presetFile, error) {
	data, err := os.ReadFile(p.path)
	if errors.Is(err, os.ErrNotExist) {
		return &presetFile{Element: p.e.Factory().Name(), Version: Version(), Presets: map[string]presetEntry{}}, nil
	}
	if err != nil {
		return nil, err
	}
	var f presetFile
	if err := toml.NewDecoder(bytes.NewReader(data)).Decode(&f); err != nil {
		return nil, fmt.Errorf("gst: parse presets %s: %w", p.path, err)
	}
	if f.Presets == nil {
		f.Presets = map[string]presetEntry{}
	}
	return &f, nil
}

// update runs fn on the preset file under an exclusive lock and writes the
// result back.
func (p *Preset) update(fn func(f *presetFile) error) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return fmt.Errorf("gst: preset dir: %w", err)
	}
	lock := flock.New(p.path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("gst: lock presets: %w", err)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := p.load()
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		return err
	}
	f.Version = Version()
	data, err := toml.Marshal(f)
	if err != nil {
		return fmt.Errorf("gst: encode presets: %w", err)
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, p.path)
}

func (p *Preset) read() (*presetFile, error) {
	if _, err := os.Stat(p.path); errors.Is(err, os.ErrNotExist) {
		return p.load()
	}
	lock := flock.New(p.path + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("gst: lock presets: %w", err)
	}
	defer func() { _ = lock.Unlock() }()
	return p.load()
}

// Names returns the stored preset names, sorted.
func (p *Preset) Names() ([]string, error) {
	f, err := p.read()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(f.Presets))
	for n := range f.Presets {
		names = append(names, n)
	}
	slices.Sort(names)
	return names, nil
}

// PropertyNames returns the properties a preset records.
func (p *Preset) PropertyNames() []string {
	if impl, ok := p.e.Impl().(PresetPropertiesImpl); ok {
		return impl.PresetPropertyNames(p.e)
	}
	var names []string
	for _, spec := range p.e.ListProperties() {
		if spec.Flags&ParamReadWrite != ParamReadWrite || spec.Flags&ParamConstructOnly != 0 {
			continue
		}
		if spec.Name == "name" || spec.Name == "parent" {
			continue
		}
		names = append(names, spec.Name)
	}
	return names
}

// Save records the current property values under name, replacing a preset of
// the same name but keeping its meta data.
func (p *Preset) Save(name string) error {
	props := make(map[string]string)
	for _, prop := range p.PropertyNames() {
		v, err := p.e.Property(prop)
		if err != nil {
			return err
		}
		props[prop] = SerializeValue(v)
	}
	err := p.update(func(f *presetFile) error {
		entry := f.Presets[name]
		entry.Properties = props
		f.Presets[name] = entry
		return nil
	})
	if err == nil {
		catElement.Debug(p.e, "saved preset %s (%d properties)", name, len(props))
	}
	return err
}

// Load applies the preset name. Properties the element no longer has are
// skipped; a value that fails to apply aborts the load.
func (p *Preset) Load(name string) error {
	f, err := p.read()
	if err != nil {
		return err
	}
	entry, ok := f.Presets[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoSuchPreset, name)
	}
	keys := make([]string, 0, len(entry.Properties))
	for k := range entry.Properties {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, prop := range keys {
		spec, ok := p.e.FindProperty(prop)
		if !ok {
			catElement.Warning(p.e, "preset %s: unknown property %s", name, prop)
			continue
		}
		v, err := DeserializeValue(entry.Properties[prop], spec.ValueTypeName())
		if err != nil {
			return fmt.Errorf("gst: preset %s: property %s: %w", name, prop, err)
		}
		err = p.e.SetProperty(prop, v)
		releaseValue(v)
		if err != nil {
			return fmt.Errorf("gst: preset %s: %w", name, err)
		}
	}
	catElement.Debug(p.e, "loaded preset %s", name)
	return nil
}

// Delete removes the preset name.
func (p *Preset) Delete(name string) error {
	return p.update(func(f *presetFile) error {
		if _, ok := f.Presets[name]; !ok {
			return fmt.Errorf("%w: %q", ErrNoSuchPreset, name)
		}
		delete(f.Presets, name)
		return nil
	})
}

// Rename renames a preset, overwriting newName if it exists.
func (p *Preset) Rename(oldName, newName string) error {
	return p.update(func(f *presetFile) error {
		entry, ok := f.Presets[oldName]
		if !ok {
			return fmt.Errorf("%w: %q", ErrNoSuchPreset, oldName)
		}
		delete(f.Presets, oldName)
		f.Presets[newName] = entry
		return nil
	})
}

// SetMeta sets tag of the preset name. An empty value removes the tag.
func (p *Preset) SetMeta(name, tag, value string) error {
	return p.update(func(f *presetFile) error {
		entry, ok := f.Presets[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrNoSuchPreset, name)
		}
		if value == "" {
			delete(entry.Meta, tag)
		} else {
			if entry.Meta == nil {
				entry.Meta = map[string]string{}
			}
			entry.Meta[tag] = value
		}
		f.Presets[name] = entry
		return nil
	})
}

// Meta returns tag of the preset name.
func (p *Preset) Meta(name, tag string) (string, bool, error) {
	f, err := p.read()
	if err != nil {
		return "", false, err
	}
	entry, ok := f.Presets[name]
	if !ok {
		return "", false, fmt.Errorf("%w: %q", ErrNoSuchPreset, name)
	}
	v, ok := entry.Meta[tag]
	return v, ok, nil
}
