//go:build darwin || linux

package gst

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/hashicorp/go-multierror"
)

// nativePluginDesc mirrors the C plugin descriptor exported by native plugins.
type nativePluginDesc struct {
	majorVersion int32
	minorVersion int32
	name         uintptr
	description  uintptr
	pluginInit   uintptr
	version      uintptr
	license      uintptr
	source       uintptr
	pkg          uintptr
	origin       uintptr
	release      uintptr
	_            [4]uintptr
}

// goStringFromPtr copies a NUL terminated C string.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	p := unsafe.Pointer(ptr)
	var n int
	for *(*byte)(unsafe.Add(p, n)) != 0 {
		n++
		if n > 4096 {
			break
		}
	}
	return string(unsafe.Slice((*byte)(p), n))
}

func isPluginLibrary(name string) bool {
	return strings.HasPrefix(name, "libgst") &&
		(strings.HasSuffix(name, ".so") || strings.HasSuffix(name, ".dylib"))
}

// pluginSymbolName returns "gst_plugin_<name>_get_desc" for libgst<name>.so.
func pluginSymbolName(file string) string {
	base := strings.TrimPrefix(filepath.Base(file), "libgst")
	base = strings.TrimSuffix(strings.TrimSuffix(base, ".so"), ".dylib")
	base = strings.ReplaceAll(base, "-", "_")
	return "gst_plugin_" + base + "_get_desc"
}

// readNativeDesc opens file and copies its plugin descriptor.
func readNativeDesc(file string) (desc PluginDesc, err error) {
	handle, err := purego.Dlopen(file, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return desc, fmt.Errorf("dlopen %s: %w", file, err)
	}
	defer func() { _ = purego.Dlclose(handle) }()

	var raw *nativePluginDesc
	if sym, err := purego.Dlsym(handle, pluginSymbolName(file)); err == nil {
		ret, _, _ := purego.SyscallN(sym)
		raw = (*nativePluginDesc)(unsafe.Pointer(ret))
	} else if sym, err := purego.Dlsym(handle, "gst_plugin_desc"); err == nil {
		raw = (*nativePluginDesc)(unsafe.Pointer(sym))
	} else {
		return desc, fmt.Errorf("%s: no plugin descriptor symbol", file)
	}
	if raw == nil {
		return desc, fmt.Errorf("%s: descriptor is NULL", file)
	}
	return PluginDesc{
		MajorVersion:    int(raw.majorVersion),
		MinorVersion:    int(raw.minorVersion),
		Name:            goStringFromPtr(raw.name),
		Description:     goStringFromPtr(raw.description),
		Version:         goStringFromPtr(raw.version),
		License:         goStringFromPtr(raw.license),
		Source:          goStringFromPtr(raw.source),
		Package:         goStringFromPtr(raw.pkg),
		Origin:          goStringFromPtr(raw.origin),
		ReleaseDatetime: goStringFromPtr(raw.release),
	}, nil
}

// ScanPath reads the descriptors of native plugin libraries in dir and adds them
// as descriptor-only plugins. Libraries that fail to load are recorded as
// blacklisted. Errors of individual files are aggregated.
func (r *Registry) ScanPath(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var result *multierror.Error
	for _, e := range entries {
		if e.IsDir() || !isPluginLibrary(e.Name()) {
			continue
		}
		file := filepath.Join(dir, e.Name())
		if p := r.pluginByFilename(file); p != nil && !p.IsCached() {
			continue
		}
		desc, err := readNativeDesc(file)
		p := &Plugin{desc: desc, filename: file, flags: PluginFlagNative}
		if err == nil {
			err = desc.validate()
		}
		if err != nil {
			result = multierror.Append(result, err)
			p.flags |= PluginFlagBlacklisted
			if p.desc.Name == "" {
				p.desc.Name = strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
			}
		}
		if old := r.FindPlugin(p.desc.Name); old != nil && old.IsCached() {
			r.RemovePlugin(old)
		}
		if addErr := r.AddPlugin(p); addErr != nil {
			result = multierror.Append(result, addErr)
			continue
		}
		catRegistry.Info(nil, "scanned native plugin %s from %s", p.Name(), file)
	}
	return result.ErrorOrNil()
}

func (r *Registry) pluginByFilename(file string) *Plugin {
	for _, p := range r.Plugins() {
		if p.filename == file {
			return p
		}
	}
	return nil
}
