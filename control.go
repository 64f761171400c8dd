package gst

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
)

// ControlSource yields a value in [0, 1] for any timestamp.
type ControlSource interface {
	ValueAt(ts ClockTime) (float64, bool)
	ValueArray(ts, interval ClockTime, values []float64) bool
}

// ControlPoint is a (timestamp, value) pair of a TimedValueControlSource.
type ControlPoint struct {
	Timestamp ClockTime
	Value     float64
}

// TimedValueControlSource stores control points sorted by time.
type TimedValueControlSource struct {
	mu     sync.RWMutex
	points []ControlPoint
}

// Set adds or replaces the control point at ts.
func (s *TimedValueControlSource) Set(ts ClockTime, v float64) bool {
	if !ts.IsValid() || math.IsNaN(v) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.points), func(i int) bool { return s.points[i].Timestamp >= ts })
	if i < len(s.points) && s.points[i].Timestamp == ts {
		s.points[i].Value = v
		return true
	}
	s.points = slices.Insert(s.points, i, ControlPoint{Timestamp: ts, Value: v})
	return true
}

// Unset removes the control point at ts.
func (s *TimedValueControlSource) Unset(ts ClockTime) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := sort.Search(len(s.points), func(i int) bool { return s.points[i].Timestamp >= ts })
	if i < len(s.points) && s.points[i].Timestamp == ts {
		s.points = slices.Delete(s.points, i, i+1)
		return true
	}
	return false
}

// UnsetAll removes every control point.
func (s *TimedValueControlSource) UnsetAll() {
	s.mu.Lock()
	s.points = nil
	s.mu.Unlock()
}

// Points returns a copy of the control points.
func (s *TimedValueControlSource) Points() []ControlPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.points)
}

// Count returns the number of control points.
func (s *TimedValueControlSource) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

// around returns the index of the last point at or before ts, or -1.
func (s *TimedValueControlSource) around(ts ClockTime) int {
	return sort.Search(len(s.points), func(i int) bool { return s.points[i].Timestamp > ts }) - 1
}

// InterpolationMode selects how values between control points are computed.
type InterpolationMode int

const (
	InterpolationNone InterpolationMode = iota
	InterpolationLinear
)

// InterpolationControlSource interpolates between its control points.
type InterpolationControlSource struct {
	TimedValueControlSource
	Mode InterpolationMode
}

// NewInterpolationControlSource returns an empty source using mode.
func NewInterpolationControlSource(mode InterpolationMode) *InterpolationControlSource {
	return &InterpolationControlSource{Mode: mode}
}

func (s *InterpolationControlSource) valueAtLocked(ts ClockTime) (float64, bool) {
	i := s.around(ts)
	if i < 0 {
		return 0, false
	}
	p := s.points[i]
	if s.Mode == InterpolationNone || i+1 >= len(s.points) || p.Timestamp == ts {
		return p.Value, true
	}
	n := s.points[i+1]
	frac := float64(ts-p.Timestamp) / float64(n.Timestamp-p.Timestamp)
	return p.Value + (n.Value-p.Value)*frac, true
}

// ValueAt returns the interpolated value at ts.
func (s *InterpolationControlSource) ValueAt(ts ClockTime) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valueAtLocked(ts)
}

// ValueArray fills values with samples starting at ts spaced by interval.
func (s *InterpolationControlSource) ValueArray(ts, interval ClockTime, values []float64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	any := false
	for i := range values {
		v, ok := s.valueAtLocked(ts + ClockTime(i)*interval)
		if !ok {
			v = math.NaN()
		} else {
			any = true
		}
		values[i] = v
	}
	return any
}

// TriggerControlSource yields values only at its control points, within Tolerance.
type TriggerControlSource struct {
	TimedValueControlSource
	Tolerance ClockTime
}

// NewTriggerControlSource returns an empty trigger source.
func NewTriggerControlSource(tolerance ClockTime) *TriggerControlSource {
	return &TriggerControlSource{Tolerance: tolerance}
}

func (s *TriggerControlSource) valueAtLocked(ts ClockTime) (float64, bool) {
	i := s.around(ts)
	if i >= 0 && ts-s.points[i].Timestamp <= s.Tolerance {
		return s.points[i].Value, true
	}
	if i+1 < len(s.points) && s.points[i+1].Timestamp-ts <= s.Tolerance {
		return s.points[i+1].Value, true
	}
	return 0, false
}

// ValueAt returns the trigger value near ts.
func (s *TriggerControlSource) ValueAt(ts ClockTime) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.valueAtLocked(ts)
}

// ValueArray fills values with samples, NaN where no trigger fires.
func (s *TriggerControlSource) ValueArray(ts, interval ClockTime, values []float64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range values {
		v, ok := s.valueAtLocked(ts + ClockTime(i)*interval)
		if !ok {
			v = math.NaN()
		}
		values[i] = v
	}
	return true
}

// ControlBinding drives one property of an object from a control source.
type ControlBinding interface {
	PropertyName() string
	SyncValues(o *Object, ts, lastSync ClockTime) error
	Value(ts ClockTime) (any, bool)
	IsDisabled() bool
	SetDisabled(bool)
}

// DirectControlBinding maps control values in [0, 1] linearly onto the property range,
// or passes them through unchanged in absolute mode.
type DirectControlBinding struct {
	name     string
	spec     *ParamSpec
	source   ControlSource
	absolute bool

	mu       sync.Mutex
	disabled bool
	last     float64
}

// NewDirectControlBinding binds property of o to source.
func NewDirectControlBinding(o ObjectHandle, property string, source ControlSource) (*DirectControlBinding, error) {
	return newDirectBinding(o, property, source, false)
}

// NewDirectControlBindingAbsolute binds property of o to source without scaling.
func NewDirectControlBindingAbsolute(o ObjectHandle, property string, source ControlSource) (*DirectControlBinding, error) {
	return newDirectBinding(o, property, source, true)
}

func newDirectBinding(o ObjectHandle, property string, source ControlSource, absolute bool) (*DirectControlBinding, error) {
	spec, ok := o.AsObject().FindProperty(property)
	if !ok {
		return nil, fmt.Errorf("gst: %s has no property %q", o.AsObject().Name(), property)
	}
	if spec.Flags&ParamControllable == 0 {
		return nil, fmt.Errorf("gst: property %q is not controllable", property)
	}
	switch spec.ValueTypeName() {
	case "int", "uint", "int64", "uint64", "double", "float", "boolean":
	default:
		return nil, fmt.Errorf("gst: cannot bind property %q of type %s", property, spec.ValueTypeName())
	}
	return &DirectControlBinding{name: property, spec: spec, source: source, absolute: absolute, last: math.NaN()}, nil
}

func (b *DirectControlBinding) PropertyName() string { return b.name }

func (b *DirectControlBinding) IsDisabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disabled
}

func (b *DirectControlBinding) SetDisabled(d bool) {
	b.mu.Lock()
	b.disabled = d
	b.mu.Unlock()
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case int32:
		return float64(x)
	case uint32:
		return float64(x)
	case int64:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case float64:
		return x
	}
	return 0
}

func (b *DirectControlBinding) convert(cv float64) any {
	v := cv
	if !b.absolute && b.spec.Min != nil && b.spec.Max != nil {
		lo, hi := toFloat(normalizeValue(b.spec.Min)), toFloat(normalizeValue(b.spec.Max))
		v = lo + (hi-lo)*cv
	}
	switch b.spec.ValueTypeName() {
	case "int":
		return int32(math.Round(v))
	case "uint":
		return uint32(math.Round(v))
	case "int64":
		return int64(math.Round(v))
	case "uint64":
		return uint64(math.Round(v))
	case "float":
		return float32(v)
	case "boolean":
		return cv >= 0.5
	}
	return v
}

// Value returns the property value the binding yields at ts.
func (b *DirectControlBinding) Value(ts ClockTime) (any, bool) {
	cv, ok := b.source.ValueAt(ts)
	if !ok {
		return nil, false
	}
	return b.convert(cv), true
}

// SyncValues sets the property when the control value changed since the last sync.
func (b *DirectControlBinding) SyncValues(o *Object, ts, lastSync ClockTime) error {
	cv, ok := b.source.ValueAt(ts)
	if !ok {
		return nil
	}
	b.mu.Lock()
	changed := b.last != cv || !lastSync.IsValid()
	b.last = cv
	b.mu.Unlock()
	if !changed {
		return nil
	}
	return o.SetProperty(b.name, b.convert(cv))
}

// AddControlBinding attaches b, replacing a binding for the same property.
func (o *Object) AddControlBinding(b ControlBinding) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.bindings = slices.DeleteFunc(o.bindings, func(x ControlBinding) bool {
		return x.PropertyName() == b.PropertyName()
	})
	o.bindings = append(o.bindings, b)
}

// RemoveControlBinding detaches the binding of property.
func (o *Object) RemoveControlBinding(property string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := len(o.bindings)
	o.bindings = slices.DeleteFunc(o.bindings, func(x ControlBinding) bool { return x.PropertyName() == property })
	return len(o.bindings) != n
}

// ControlBinding returns the binding of property.
func (o *Object) ControlBinding(property string) (ControlBinding, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, b := range o.bindings {
		if b.PropertyName() == property {
			return b, true
		}
	}
	return nil, false
}

// HasActiveControlBindings reports whether any enabled binding exists.
func (o *Object) HasActiveControlBindings() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.controlDisabled {
		return false
	}
	for _, b := range o.bindings {
		if !b.IsDisabled() {
			return true
		}
	}
	return false
}

// SetControlBindingsDisabled disables or enables every binding at once.
func (o *Object) SetControlBindingsDisabled(disabled bool) {
	o.mu.Lock()
	o.controlDisabled = disabled
	o.mu.Unlock()
}

// SyncValues applies every enabled binding for timestamp ts.
func (o *Object) SyncValues(ts ClockTime) error {
	o.mu.Lock()
	if o.controlDisabled || len(o.bindings) == 0 {
		o.mu.Unlock()
		return nil
	}
	bindings := slices.Clone(o.bindings)
	last := o.lastSync
	o.lastSync = ts
	o.mu.Unlock()

	var firstErr error
	for _, b := range bindings {
		if b.IsDisabled() {
			continue
		}
		if err := b.SyncValues(o, ts, last); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
