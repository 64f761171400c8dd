package gst

import (
	"fmt"
	"strings"
)

// ParamFlags describe a property.
type ParamFlags uint32

const (
	ParamReadable      ParamFlags = 1 << 0
	ParamWritable      ParamFlags = 1 << 1
	ParamConstructOnly ParamFlags = 1 << 3

	ParamReadWrite = ParamReadable | ParamWritable

	ParamControllable           ParamFlags = 1 << 9
	ParamMutableReady           ParamFlags = 1 << 10
	ParamMutablePaused          ParamFlags = 1 << 11
	ParamMutablePlaying         ParamFlags = 1 << 12
	ParamDocShowDefault         ParamFlags = 1 << 13
	ParamConditionallyAvailable ParamFlags = 1 << 14
)

func (f ParamFlags) String() string {
	names := []struct {
		f ParamFlags
		n string
	}{
		{ParamReadable, "readable"},
		{ParamWritable, "writable"},
		{ParamConstructOnly, "construct-only"},
		{ParamControllable, "controllable"},
		{ParamMutableReady, "changeable only in NULL or READY state"},
		{ParamMutablePaused, "changeable only in NULL, READY or PAUSED state"},
		{ParamMutablePlaying, "changeable in NULL, READY, PAUSED or PLAYING state"},
		{ParamDocShowDefault, "doc-show-default"},
		{ParamConditionallyAvailable, "conditionally available"},
	}
	var parts []string
	for _, n := range names {
		if f&n.f != 0 {
			parts = append(parts, n.n)
		}
	}
	return strings.Join(parts, ", ")
}

// mutableIn reports whether a property with flags may be set while in state.
func (f ParamFlags) mutableIn(state State) bool {
	switch {
	case f&ParamMutablePlaying != 0:
		return true
	case f&ParamMutablePaused != 0:
		return state <= StatePaused
	default:
		return state <= StateReady
	}
}

// ParamSpec describes one property. Min and Max bound numeric properties and are
// nil otherwise.
type ParamSpec struct {
	Name    string
	Nick    string
	Blurb   string
	Flags   ParamFlags
	Default any
	Min     any
	Max     any
}

// ValueTypeName returns the type of the property value.
func (p *ParamSpec) ValueTypeName() string {
	switch p.Default.(type) {
	case int:
		return "int"
	case uint:
		return "uint"
	}
	return ValueTypeName(p.Default)
}

// Validate checks that v has the property type and lies within [Min, Max].
func (p *ParamSpec) Validate(v any) error {
	v = normalizeValue(v)
	want := p.ValueTypeName()
	if v == nil && (want == "caps" || want == "structure" || want == "buffer") {
		return nil
	}
	if got := ValueTypeName(v); got != want {
		return &FieldTypeError{Field: p.Name, Requested: want, Actual: got}
	}
	if p.Min != nil && CompareValues(v, normalizeValue(p.Min)) == ValueLessThan {
		return fmt.Errorf("gst: property %s: value %v below minimum %v", p.Name, v, p.Min)
	}
	if p.Max != nil && CompareValues(v, normalizeValue(p.Max)) == ValueGreaterThan {
		return fmt.Errorf("gst: property %s: value %v above maximum %v", p.Name, v, p.Max)
	}
	return nil
}

// NewParamInt describes an int32 property.
func NewParamInt(name, nick, blurb string, min, max, def int32, flags ParamFlags) *ParamSpec {
	return &ParamSpec{Name: name, Nick: nick, Blurb: blurb, Flags: flags, Default: def, Min: min, Max: max}
}

// NewParamUint describes a uint32 property.
func NewParamUint(name, nick, blurb string, min, max, def uint32, flags ParamFlags) *ParamSpec {
	return &ParamSpec{Name: name, Nick: nick, Blurb: blurb, Flags: flags, Default: def, Min: min, Max: max}
}

// NewParamInt64 describes an int64 property.
func NewParamInt64(name, nick, blurb string, min, max, def int64, flags ParamFlags) *ParamSpec {
	return &ParamSpec{Name: name, Nick: nick, Blurb: blurb, Flags: flags, Default: def, Min: min, Max: max}
}

// NewParamUint64 describes a uint64 property.
func NewParamUint64(name, nick, blurb string, min, max, def uint64, flags ParamFlags) *ParamSpec {
	return &ParamSpec{Name: name, Nick: nick, Blurb: blurb, Flags: flags, Default: def, Min: min, Max: max}
}

// NewParamDouble describes a float64 property.
func NewParamDouble(name, nick, blurb string, min, max, def float64, flags ParamFlags) *ParamSpec {
	return &ParamSpec{Name: name, Nick: nick, Blurb: blurb, Flags: flags, Default: def, Min: min, Max: max}
}

// NewParamBool describes a boolean property.
func NewParamBool(name, nick, blurb string, def bool, flags ParamFlags) *ParamSpec {
	return &ParamSpec{Name: name, Nick: nick, Blurb: blurb, Flags: flags, Default: def}
}

// NewParamString describes a string property.
func NewParamString(name, nick, blurb string, def string, flags ParamFlags) *ParamSpec {
	return &ParamSpec{Name: name, Nick: nick, Blurb: blurb, Flags: flags, Default: def}
}

// NewParamCaps describes a caps property. The default is nil.
func NewParamCaps(name, nick, blurb string, flags ParamFlags) *ParamSpec {
	return &ParamSpec{Name: name, Nick: nick, Blurb: blurb, Flags: flags, Default: (*Caps)(nil)}
}
