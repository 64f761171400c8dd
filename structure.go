package gst

import (
	"fmt"
	"iter"
	"math"
	"strings"
	"time"
)

type structField struct {
	name  Quark
	value any
}

// Structure is a named, ordered map of typed fields.
//
// A Structure owned by a Caps, Event, Query, Message or Context is only mutable while
// its owner is writable; mutators panic with ErrNotWritable otherwise.
type Structure struct {
	name   Quark
	fields []structField
	parent *MiniObject
}

// NewStructure returns an empty structure called name.
func NewStructure(name string) *Structure {
	return &Structure{name: QuarkFromString(name)}
}

// NewStructureFromFields returns a structure with the alternating key/value pairs in kv.
func NewStructureFromFields(name string, kv ...any) *Structure {
	s := NewStructure(name)
	if len(kv)%2 != 0 {
		panic("gst: odd number of structure key/value arguments")
	}
	for i := 0; i < len(kv); i += 2 {
		s.Set(kv[i].(string), kv[i+1])
	}
	return s
}

// StructureBuilder assembles a Structure fluently.
type StructureBuilder struct {
	s *Structure
}

// NewStructureBuilder starts a structure called name.
func NewStructureBuilder(name string) *StructureBuilder {
	return &StructureBuilder{s: NewStructure(name)}
}

// Field sets a field.
func (b *StructureBuilder) Field(name string, value any) *StructureBuilder {
	b.s.Set(name, value)
	return b
}

// FieldIfSome sets a field only when set is true.
func (b *StructureBuilder) FieldIfSome(name string, value any, set bool) *StructureBuilder {
	if set {
		b.s.Set(name, value)
	}
	return b
}

// Build returns the structure.
func (b *StructureBuilder) Build() *Structure { return b.s }

func (s *Structure) setParent(p *MiniObject) {
	if s.parent != nil && p != nil {
		panic("gst: structure already has a parent")
	}
	s.parent = p
}

func (s *Structure) checkWritable() {
	if s.parent != nil && !s.parent.IsWritable() {
		panic(fmt.Errorf("%w: structure %s owned by shared %s", ErrNotWritable, s.Name(), s.parent.Type()))
	}
}

// IsWritable reports whether s may be mutated.
func (s *Structure) IsWritable() bool { return s.parent == nil || s.parent.IsWritable() }

// Name returns the structure name.
func (s *Structure) Name() string { return s.name.String() }

// NameQuark returns the interned name.
func (s *Structure) NameQuark() Quark { return s.name }

// HasName reports whether the structure is called name.
func (s *Structure) HasName(name string) bool { return s.Name() == name }

// SetName renames the structure.
func (s *Structure) SetName(name string) {
	s.checkWritable()
	s.name = QuarkFromString(name)
}

// NFields returns the number of fields.
func (s *Structure) NFields() int { return len(s.fields) }

// NthFieldName returns the name of field i.
func (s *Structure) NthFieldName(i int) string { return s.fields[i].name.String() }

// Fields iterates the fields in order.
func (s *Structure) Fields() iter.Seq2[string, any] {
	return func(yield func(string, any) bool) {
		for _, f := range s.fields {
			if !yield(f.name.String(), f.value) {
				return
			}
		}
	}
}

func (s *Structure) index(name string) int {
	q, ok := QuarkTryString(name)
	if !ok {
		return -1
	}
	for i, f := range s.fields {
		if f.name == q {
			return i
		}
	}
	return -1
}

// Has reports whether field exists.
func (s *Structure) Has(field string) bool { return s.index(field) >= 0 }

// HasFieldWithType reports whether field exists and holds a value of typeName (see ValueTypeName).
func (s *Structure) HasFieldWithType(field, typeName string) bool {
	v, ok := s.Value(field)
	return ok && ValueTypeName(v) == typeName
}

// Value returns the raw value of field.
func (s *Structure) Value(field string) (any, bool) {
	i := s.index(field)
	if i < 0 {
		return nil, false
	}
	return s.fields[i].value, true
}

// Set stores value under field, replacing an existing value in place. Refcounted
// values get a new reference and nested structures are copied.
func (s *Structure) Set(field string, value any) {
	s.checkWritable()
	s.setField(field, copyValue(normalizeValue(value)))
}

// SetValues sets alternating key/value pairs.
func (s *Structure) SetValues(kv ...any) {
	for i := 0; i+1 < len(kv); i += 2 {
		s.Set(kv[i].(string), kv[i+1])
	}
}

func (s *Structure) setField(field string, value any) {
	if i := s.index(field); i >= 0 {
		old := s.fields[i].value
		s.fields[i].value = value
		releaseValue(old)
		return
	}
	s.fields = append(s.fields, structField{name: QuarkFromString(field), value: value})
}

// Remove deletes field.
func (s *Structure) Remove(field string) {
	s.checkWritable()
	if i := s.index(field); i >= 0 {
		releaseValue(s.fields[i].value)
		s.fields = append(s.fields[:i], s.fields[i+1:]...)
	}
}

// RemoveAll deletes every field.
func (s *Structure) RemoveAll() {
	s.checkWritable()
	s.release()
}

// Filter keeps the fields for which keep returns true.
func (s *Structure) Filter(keep func(field string, value any) bool) {
	s.checkWritable()
	kept := s.fields[:0]
	for _, f := range s.fields {
		if keep(f.name.String(), f.value) {
			kept = append(kept, f)
		} else {
			releaseValue(f.value)
		}
	}
	s.fields = kept
}

// MapInPlace replaces each value with fn's result. Returning false stops.
func (s *Structure) MapInPlace(fn func(field string, value any) (any, bool)) {
	s.checkWritable()
	for i := range s.fields {
		nv, cont := fn(s.fields[i].name.String(), s.fields[i].value)
		s.fields[i].value = normalizeValue(nv)
		if !cont {
			return
		}
	}
}

// Free drops references held by field values. Structures owned by a MiniObject are
// freed with their owner.
func (s *Structure) Free() {
	if s.parent != nil {
		panic("gst: freeing a structure that has a parent")
	}
	s.release()
}

func (s *Structure) release() {
	for _, f := range s.fields {
		releaseValue(f.value)
	}
	s.fields = nil
}

// Copy returns a deep, parentless copy.
func (s *Structure) Copy() *Structure {
	if s == nil {
		return nil
	}
	c := &Structure{name: s.name, fields: make([]structField, len(s.fields))}
	for i, f := range s.fields {
		c.fields[i] = structField{name: f.name, value: copyValue(f.value)}
	}
	return c
}

// Get returns field converted to T. A missing field yields an error wrapping
// ErrFieldNotFound, a value of another type a *FieldTypeError.
func Get[T any](s *Structure, field string) (T, error) {
	var zero T
	v, ok := s.Value(field)
	if !ok {
		return zero, fmt.Errorf("%w: %q in %s", ErrFieldNotFound, field, s.Name())
	}
	t, ok := v.(T)
	if !ok {
		return zero, &FieldTypeError{Field: field, Requested: ValueTypeName(zero), Actual: ValueTypeName(v)}
	}
	return t, nil
}

// GetOptional returns field as T, or ok=false when it is missing. A type mismatch
// is still an error.
func GetOptional[T any](s *Structure, field string) (T, bool, error) {
	var zero T
	if !s.Has(field) {
		return zero, false, nil
	}
	v, err := Get[T](s, field)
	return v, err == nil, err
}

// GetInt returns an int field.
func (s *Structure) GetInt(field string) (int, error) {
	v, err := Get[int32](s, field)
	return int(v), err
}

// GetUint returns a uint field.
func (s *Structure) GetUint(field string) (uint, error) {
	v, err := Get[uint32](s, field)
	return uint(v), err
}

func (s *Structure) GetInt64(field string) (int64, error)    { return Get[int64](s, field) }
func (s *Structure) GetUint64(field string) (uint64, error)  { return Get[uint64](s, field) }
func (s *Structure) GetDouble(field string) (float64, error) { return Get[float64](s, field) }
func (s *Structure) GetBool(field string) (bool, error)      { return Get[bool](s, field) }
func (s *Structure) GetString(field string) (string, error)  { return Get[string](s, field) }

func (s *Structure) GetFraction(field string) (Fraction, error) { return Get[Fraction](s, field) }
func (s *Structure) GetDate(field string) (Date, error)         { return Get[Date](s, field) }
func (s *Structure) GetDateTime(field string) (time.Time, error) {
	return Get[time.Time](s, field)
}
func (s *Structure) GetStructure(field string) (*Structure, error) { return Get[*Structure](s, field) }
func (s *Structure) GetCaps(field string) (*Caps, error)           { return Get[*Caps](s, field) }
func (s *Structure) GetBuffer(field string) (*Buffer, error)       { return Get[*Buffer](s, field) }

// GetClockTime returns a uint64 field holding a ClockTime.
func (s *Structure) GetClockTime(field string) (ClockTime, error) {
	v, err := Get[uint64](s, field)
	return ClockTime(v), err
}

// IsEqual reports whether both structures have the same name and equal fields,
// regardless of field order.
func (s *Structure) IsEqual(o *Structure) bool {
	if s == o {
		return true
	}
	if s == nil || o == nil || s.name != o.name || len(s.fields) != len(o.fields) {
		return false
	}
	for _, f := range s.fields {
		v, ok := o.Value(f.name.String())
		if !ok || CompareValues(f.value, v) != ValueEqual {
			return false
		}
	}
	return true
}

// IsSubset reports whether every value s describes is also described by super.
func (s *Structure) IsSubset(super *Structure) bool {
	if s.name != super.name {
		return false
	}
	for _, f := range super.fields {
		v, ok := s.Value(f.name.String())
		if !ok || !IsSubsetValue(v, f.value) {
			return false
		}
	}
	return true
}

// Intersect returns the structure describing values allowed by both.
func (s *Structure) Intersect(o *Structure) (*Structure, bool) {
	if s.name != o.name {
		return nil, false
	}
	out := &Structure{name: s.name}
	for _, f := range s.fields {
		ov, ok := o.Value(f.name.String())
		if !ok {
			out.fields = append(out.fields, structField{f.name, copyValue(f.value)})
			continue
		}
		v, ok := IntersectValues(f.value, ov)
		if !ok {
			out.release()
			return nil, false
		}
		out.fields = append(out.fields, structField{f.name, copyValue(v)})
	}
	for _, f := range o.fields {
		if !s.Has(f.name.String()) {
			out.fields = append(out.fields, structField{f.name, copyValue(f.value)})
		}
	}
	return out, true
}

// CanIntersect reports whether Intersect would succeed.
func (s *Structure) CanIntersect(o *Structure) bool {
	if s.name != o.name {
		return false
	}
	for _, f := range s.fields {
		if ov, ok := o.Value(f.name.String()); ok {
			if _, ok := IntersectValues(f.value, ov); !ok {
				return false
			}
		}
	}
	return true
}

// IsFixed reports whether every field is fixed.
func (s *Structure) IsFixed() bool {
	for _, f := range s.fields {
		if !IsFixedValue(f.value) {
			return false
		}
	}
	return true
}

// Fixate fixes every field.
func (s *Structure) Fixate() {
	s.checkWritable()
	for i := range s.fields {
		s.fields[i].value = FixateValue(s.fields[i].value)
	}
}

// FixateField fixes one field. It reports whether the field exists.
func (s *Structure) FixateField(field string) bool {
	s.checkWritable()
	i := s.index(field)
	if i < 0 {
		return false
	}
	s.fields[i].value = FixateValue(s.fields[i].value)
	return true
}

// FixateFieldNearestInt fixes an int field to the allowed value closest to target.
func (s *Structure) FixateFieldNearestInt(field string, target int) bool {
	s.checkWritable()
	v, ok := s.Value(field)
	if !ok {
		return false
	}
	t := int32(target)
	best, found := int32(0), false
	consider := func(c int32) {
		if !found || abs64(int64(c)-int64(t)) < abs64(int64(best)-int64(t)) {
			best, found = c, true
		}
	}
	var walk func(v any)
	walk = func(v any) {
		switch x := v.(type) {
		case int32:
			consider(x)
		case IntRange:
			consider(min(max(t, x.Min), x.Max))
		case ValueList:
			for _, e := range x {
				walk(e)
			}
		}
	}
	walk(v)
	if !found {
		return false
	}
	s.setField(field, best)
	return true
}

// FixateFieldNearestDouble fixes a double field to the allowed value closest to target.
func (s *Structure) FixateFieldNearestDouble(field string, target float64) bool {
	s.checkWritable()
	v, ok := s.Value(field)
	if !ok {
		return false
	}
	best, found := 0.0, false
	consider := func(c float64) {
		if !found || math.Abs(c-target) < math.Abs(best-target) {
			best, found = c, true
		}
	}
	var walk func(v any)
	walk = func(v any) {
		switch x := v.(type) {
		case float64:
			consider(x)
		case DoubleRange:
			consider(min(max(target, x.Min), x.Max))
		case ValueList:
			for _, e := range x {
				walk(e)
			}
		}
	}
	walk(v)
	if !found {
		return false
	}
	s.setField(field, best)
	return true
}

// FixateFieldNearestFraction fixes a fraction field to the allowed value closest to target.
func (s *Structure) FixateFieldNearestFraction(field string, target Fraction) bool {
	s.checkWritable()
	v, ok := s.Value(field)
	if !ok {
		return false
	}
	tf := target.Float64()
	var best Fraction
	found := false
	consider := func(c Fraction) {
		if !found || math.Abs(c.Float64()-tf) < math.Abs(best.Float64()-tf) {
			best, found = c, true
		}
	}
	var walk func(v any)
	walk = func(v any) {
		switch x := v.(type) {
		case Fraction:
			consider(x)
		case FractionRange:
			switch {
			case target.Compare(x.Min) < 0:
				consider(x.Min)
			case target.Compare(x.Max) > 0:
				consider(x.Max)
			default:
				consider(target)
			}
		case ValueList:
			for _, e := range x {
				walk(e)
			}
		}
	}
	walk(v)
	if !found {
		return false
	}
	s.setField(field, best)
	return true
}

// FixateFieldBoolean fixes a boolean field, preferring target.
func (s *Structure) FixateFieldBoolean(field string, target bool) bool {
	return s.fixateFieldPreferring(field, target)
}

// FixateFieldString fixes a string field, preferring target.
func (s *Structure) FixateFieldString(field, target string) bool {
	return s.fixateFieldPreferring(field, target)
}

func (s *Structure) fixateFieldPreferring(field string, target any) bool {
	s.checkWritable()
	v, ok := s.Value(field)
	if !ok {
		return false
	}
	if l, ok := v.(ValueList); ok {
		for _, e := range l {
			if CompareValues(e, target) == ValueEqual {
				s.setField(field, e)
				return true
			}
		}
		if len(l) == 0 || ValueTypeName(l[0]) != ValueTypeName(target) {
			return false
		}
		s.setField(field, l[0])
		return true
	}
	return ValueTypeName(v) == ValueTypeName(target)
}

func (s *Structure) String() string {
	var b strings.Builder
	writeStructure(&b, s, nil, false)
	b.WriteByte(';')
	return b.String()
}

// ParseStructure parses the textual form produced by String.
func ParseStructure(text string) (*Structure, error) {
	p := &parser{s: text}
	s, _, err := p.parseStructure(false)
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.eof() {
		return nil, p.errorf("trailing data")
	}
	return s, nil
}
