package gst

import (
	"slices"
	"strings"
)

// Well-known caps features.
const (
	CapsFeatureMemorySystemMemory = "memory:SystemMemory"
	CapsFeatureMetaInterlaced     = "format:Interlaced"
)

// CapsFeatures qualify a caps structure, typically naming a memory type. The zero
// value means system memory.
type CapsFeatures struct {
	any      bool
	features []string
}

// NewCapsFeatures returns the features set.
func NewCapsFeatures(features ...string) CapsFeatures {
	f := CapsFeatures{}
	for _, name := range features {
		f.Add(name)
	}
	return f
}

// NewCapsFeaturesAny returns the features set matching any features.
func NewCapsFeaturesAny() CapsFeatures { return CapsFeatures{any: true} }

// NewCapsFeaturesSystemMemory returns the default features.
func NewCapsFeaturesSystemMemory() CapsFeatures {
	return CapsFeatures{features: []string{CapsFeatureMemorySystemMemory}}
}

// ParseCapsFeatures parses "memory:GLMemory, meta:Foo" or "ANY".
func ParseCapsFeatures(s string) (CapsFeatures, error) {
	s = strings.TrimSpace(s)
	if s == "ANY" {
		return NewCapsFeaturesAny(), nil
	}
	f := CapsFeatures{}
	if s == "" {
		return f, nil
	}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" || !strings.Contains(part, ":") {
			return CapsFeatures{}, (&parser{s: s}).errorf("invalid caps feature %q", part)
		}
		f.Add(part)
	}
	return f, nil
}

// IsAny reports whether f matches any features.
func (f CapsFeatures) IsAny() bool { return f.any }

// Size returns the number of features.
func (f CapsFeatures) Size() int { return len(f.features) }

// Nth returns feature i.
func (f CapsFeatures) Nth(i int) string { return f.features[i] }

// Contains reports whether feature is set.
func (f CapsFeatures) Contains(feature string) bool {
	if f.any {
		return true
	}
	if len(f.features) == 0 {
		return feature == CapsFeatureMemorySystemMemory
	}
	return slices.Contains(f.features, feature)
}

// Add appends feature when missing.
func (f *CapsFeatures) Add(feature string) {
	if f.any || slices.Contains(f.features, feature) {
		return
	}
	f.features = append(f.features, feature)
}

// Remove deletes feature.
func (f *CapsFeatures) Remove(feature string) {
	f.features = slices.DeleteFunc(f.features, func(s string) bool { return s == feature })
}

// Copy returns an independent copy.
func (f CapsFeatures) Copy() CapsFeatures {
	return CapsFeatures{any: f.any, features: slices.Clone(f.features)}
}

func (f CapsFeatures) isSystemMemory() bool {
	return !f.any && (len(f.features) == 0 ||
		(len(f.features) == 1 && f.features[0] == CapsFeatureMemorySystemMemory))
}

// IsEqual compares two feature sets, ignoring order.
func (f CapsFeatures) IsEqual(o CapsFeatures) bool {
	if f.any || o.any {
		return f.any == o.any
	}
	if f.isSystemMemory() || o.isSystemMemory() {
		return f.isSystemMemory() && o.isSystemMemory()
	}
	if len(f.features) != len(o.features) {
		return false
	}
	for _, name := range f.features {
		if !slices.Contains(o.features, name) {
			return false
		}
	}
	return true
}

// matches is the caps algebra notion of compatibility: ANY matches everything.
func (f CapsFeatures) matches(o CapsFeatures) bool {
	if f.any || o.any {
		return true
	}
	return f.IsEqual(o)
}

func (f CapsFeatures) String() string {
	if f.any {
		return "ANY"
	}
	if len(f.features) == 0 {
		return CapsFeatureMemorySystemMemory
	}
	return strings.Join(f.features, ", ")
}
