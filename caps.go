package gst

import (
	"iter"
	"strings"
)

type capsEntry struct {
	structure *Structure
	features  CapsFeatures
}

// Caps describe the formats a pad can handle: ANY, EMPTY or an ordered list of
// structures with their features, in order of preference.
type Caps struct {
	MiniObject

	any     bool
	entries []capsEntry
}

// CapsMut is a proven-writable view on Caps.
type CapsMut struct {
	*Caps
}

// CapsIntersectMode selects how Intersect orders its result.
type CapsIntersectMode int

const (
	// CapsIntersectZigZag walks both lists diagonally so the result respects the
	// preferences of both sides.
	CapsIntersectZigZag CapsIntersectMode = iota
	// CapsIntersectFirst keeps the order of the first caps.
	CapsIntersectFirst
)

func newCaps() *Caps {
	c := &Caps{}
	c.init(TypeCaps, 0, nil, c.freeCaps)
	return c
}

func (c *Caps) freeCaps() {
	for _, e := range c.entries {
		e.structure.parent = nil
		e.structure.release()
	}
	c.entries = nil
}

// NewCapsAny returns caps matching every format.
func NewCapsAny() *Caps {
	c := newCaps()
	c.any = true
	return c
}

// NewCapsEmpty returns caps matching no format.
func NewCapsEmpty() *Caps { return newCaps() }

// NewCapsEmptySimple returns caps with one empty structure called name.
func NewCapsEmptySimple(name string) *Caps {
	return NewCaps(NewStructure(name))
}

// NewCapsSimple returns caps with one structure built from alternating key/value pairs.
func NewCapsSimple(name string, kv ...any) *Caps {
	return NewCaps(NewStructureFromFields(name, kv...))
}

// NewCaps returns caps holding structures, taking ownership of them.
func NewCaps(structures ...*Structure) *Caps {
	c := newCaps()
	m := &CapsMut{c}
	for _, s := range structures {
		m.AppendStructure(s)
	}
	return c
}

// CapsBuilder assembles single-structure caps.
type CapsBuilder struct {
	s        *Structure
	features *CapsFeatures
}

// NewCapsBuilder starts caps with a structure called name.
func NewCapsBuilder(name string) *CapsBuilder {
	return &CapsBuilder{s: NewStructure(name)}
}

// Field sets a field on the structure.
func (b *CapsBuilder) Field(name string, value any) *CapsBuilder {
	b.s.Set(name, value)
	return b
}

// Features sets the caps features.
func (b *CapsBuilder) Features(features ...string) *CapsBuilder {
	f := NewCapsFeatures(features...)
	b.features = &f
	return b
}

// AnyFeatures sets the ANY caps features.
func (b *CapsBuilder) AnyFeatures() *CapsBuilder {
	f := NewCapsFeaturesAny()
	b.features = &f
	return b
}

// Build returns the caps.
func (b *CapsBuilder) Build() *Caps {
	c := newCaps()
	m := &CapsMut{c}
	if b.features != nil {
		m.AppendStructureFull(b.s, *b.features)
	} else {
		m.AppendStructure(b.s)
	}
	return c
}

// CapsFromString parses "ANY", "EMPTY" or "name(features), field=value; ...".
func CapsFromString(text string) (*Caps, error) {
	trimmed := strings.TrimSpace(text)
	switch trimmed {
	case "ANY":
		return NewCapsAny(), nil
	case "EMPTY", "NONE", "":
		return NewCapsEmpty(), nil
	}
	c := newCaps()
	m := &CapsMut{c}
	p := &parser{s: trimmed}
	for {
		p.skipSpace()
		if p.eof() {
			return c, nil
		}
		s, f, err := p.parseStructure(true)
		if err != nil {
			c.Unref()
			return nil, err
		}
		if f != nil {
			m.AppendStructureFull(s, *f)
		} else {
			m.AppendStructure(s)
		}
	}
}

// MustCapsFromString is CapsFromString that panics on error.
func MustCapsFromString(text string) *Caps {
	c, err := CapsFromString(text)
	if err != nil {
		panic(err)
	}
	return c
}

// Ref takes another reference.
func (c *Caps) Ref() *Caps { c.ref(); return c }

// Copy returns an independent writable copy.
func (c *Caps) Copy() *CapsMut {
	out := newCaps()
	out.any = c.any
	m := &CapsMut{out}
	for _, e := range c.entries {
		m.AppendStructureFull(e.structure.Copy(), e.features.Copy())
	}
	return m
}

// GetMut returns a mutable view if c is writable.
func (c *Caps) GetMut() (*CapsMut, bool) {
	if !c.IsWritable() {
		return nil, false
	}
	return &CapsMut{c}, true
}

// MakeWritable consumes the handle and returns writable caps, copying when shared.
func (c *Caps) MakeWritable() *CapsMut {
	if m, ok := c.GetMut(); ok {
		return m
	}
	m := c.Copy()
	c.Unref()
	return m
}

// IsAny reports whether c matches everything.
func (c *Caps) IsAny() bool { return c.any }

// IsEmpty reports whether c matches nothing.
func (c *Caps) IsEmpty() bool { return !c.any && len(c.entries) == 0 }

// Size returns the number of structures.
func (c *Caps) Size() int { return len(c.entries) }

// Structure returns structure i. It is mutable only while c is writable.
func (c *Caps) Structure(i int) *Structure { return c.entries[i].structure }

// Features returns the features of structure i.
func (c *Caps) Features(i int) CapsFeatures { return c.entries[i].features }

// All iterates structures with their features.
func (c *Caps) All() iter.Seq2[*Structure, CapsFeatures] {
	return func(yield func(*Structure, CapsFeatures) bool) {
		for _, e := range c.entries {
			if !yield(e.structure, e.features) {
				return
			}
		}
	}
}

// IsFixed reports whether c holds exactly one structure whose fields are all fixed
// and whose features are not ANY.
func (c *Caps) IsFixed() bool {
	return len(c.entries) == 1 && !c.entries[0].features.IsAny() && c.entries[0].structure.IsFixed()
}

// IsStrictlyEqual compares structures pairwise in order.
func (c *Caps) IsStrictlyEqual(o *Caps) bool {
	if c == o {
		return true
	}
	if c.any != o.any || len(c.entries) != len(o.entries) {
		return false
	}
	for i := range c.entries {
		if !c.entries[i].features.IsEqual(o.entries[i].features) ||
			!c.entries[i].structure.IsEqual(o.entries[i].structure) {
			return false
		}
	}
	return true
}

// IsEqual reports whether c and o describe the same set of formats.
func (c *Caps) IsEqual(o *Caps) bool {
	if c == o {
		return true
	}
	if c == nil || o == nil {
		return false
	}
	if c.IsFixed() && o.IsFixed() {
		return c.entries[0].features.IsEqual(o.entries[0].features) &&
			c.entries[0].structure.IsEqual(o.entries[0].structure)
	}
	return c.IsSubset(o) && o.IsSubset(c)
}

// IsSubset reports whether every format in c is also in super.
func (c *Caps) IsSubset(super *Caps) bool {
	switch {
	case super.any:
		return true
	case c.any:
		return false
	case c.IsEmpty():
		return true
	case super.IsEmpty():
		return false
	}
	for _, e := range c.entries {
		found := false
		for _, se := range super.entries {
			if e.features.IsEqual(se.features) && e.structure.IsSubset(se.structure) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// IsSubsetStructure reports whether s (with system memory features) is in c.
func (c *Caps) IsSubsetStructure(s *Structure) bool {
	if c.any {
		return true
	}
	for _, e := range c.entries {
		if e.features.isSystemMemory() && s.IsSubset(e.structure) {
			return true
		}
	}
	return false
}

// CanIntersect reports whether the intersection of c and o is not empty.
func (c *Caps) CanIntersect(o *Caps) bool {
	if c.any || o.any {
		return !c.IsEmpty() && !o.IsEmpty()
	}
	for _, a := range c.entries {
		for _, b := range o.entries {
			if a.features.matches(b.features) && a.structure.CanIntersect(b.structure) {
				return true
			}
		}
	}
	return false
}

// Intersect returns the formats present in both caps, in zig-zag preference order.
func (c *Caps) Intersect(o *Caps) *Caps {
	return c.IntersectWithMode(o, CapsIntersectZigZag)
}

// IntersectWithMode returns the formats present in both caps.
func (c *Caps) IntersectWithMode(o *Caps, mode CapsIntersectMode) *Caps {
	switch {
	case c == o:
		return c.Ref()
	case c.IsEmpty() || o.IsEmpty():
		return NewCapsEmpty()
	case c.any:
		return o.Ref()
	case o.any:
		return c.Ref()
	}
	dest := &CapsMut{newCaps()}
	try := func(a, b capsEntry) {
		if !a.features.matches(b.features) {
			return
		}
		s, ok := a.structure.Intersect(b.structure)
		if !ok {
			return
		}
		f := a.features
		if f.IsAny() {
			f = b.features
		}
		dest.mergeStructure(s, f.Copy())
	}
	l1, l2 := len(c.entries), len(o.entries)
	if mode == CapsIntersectFirst {
		for _, a := range c.entries {
			for _, b := range o.entries {
				try(a, b)
			}
		}
		return dest.Caps
	}
	for i := 0; i < l1+l2-1; i++ {
		j := min(i, l1-1)
		k := 0
		if i > j {
			k = i - j
		}
		for k < l2 {
			try(c.entries[j], o.entries[k])
			k++
			if j == 0 {
				break
			}
			j--
		}
	}
	return dest.Caps
}

// Union returns caps matching the formats of either side.
func (c *Caps) Union(o *Caps) *Caps {
	switch {
	case c.any || o.any:
		return NewCapsAny()
	case c.IsEmpty():
		return o.Ref()
	case o.IsEmpty():
		return c.Ref()
	}
	out := c.Copy()
	for _, e := range o.entries {
		out.mergeStructure(e.structure.Copy(), e.features.Copy())
	}
	return out.Caps
}

// Subtract returns the formats of c that are not in sub. Subtracting from ANY is only
// possible when sub is ANY; otherwise ANY is returned unchanged.
func (c *Caps) Subtract(sub *Caps) *Caps {
	switch {
	case sub.IsEmpty():
		return c.Copy().Caps
	case sub.any:
		return NewCapsEmpty()
	case c.IsEmpty():
		return NewCapsEmpty()
	case c.any:
		return c.Ref()
	}
	dest := c.Copy()
	for _, se := range sub.entries {
		src := dest
		dest = &CapsMut{newCaps()}
		for _, me := range src.entries {
			if me.structure.name == se.structure.name && me.features.IsEqual(se.features) {
				pieces, ok := subtractStructure(me.structure, se.structure)
				if ok {
					for _, p := range pieces {
						dest.AppendStructureFull(p, me.features.Copy())
					}
					continue
				}
			}
			dest.AppendStructureFull(me.structure.Copy(), me.features.Copy())
		}
		src.Unref()
		if dest.IsEmpty() {
			return dest.Caps
		}
	}
	return dest.Caps
}

// subtractStructure removes the formats of sub from min. ok=false means the
// subtraction cannot be expressed and min is kept whole.
func subtractStructure(min, sub *Structure) ([]*Structure, bool) {
	var pieces []*Structure
	for _, f := range sub.fields {
		other, found := min.Value(f.name.String())
		if !found {
			releaseStructures(pieces)
			return nil, false
		}
		rest, remains := SubtractValues(other, f.value)
		if !remains {
			continue
		}
		if CompareValues(rest, other) == ValueEqual {
			releaseStructures(pieces)
			return nil, false
		}
		s := min.Copy()
		s.setField(f.name.String(), copyValue(rest))
		pieces = append([]*Structure{s}, pieces...)
	}
	return pieces, true
}

func releaseStructures(ss []*Structure) {
	for _, s := range ss {
		s.release()
	}
}

// Fixated returns new fixed caps: the first structure with every field fixed.
func (c *Caps) Fixated() *Caps {
	m := c.Copy()
	m.Fixate()
	return m.Caps
}

// Normalize returns caps with every list field expanded into separate structures.
func (c *Caps) Normalize() *Caps {
	if c.any {
		return c.Ref()
	}
	out := &CapsMut{newCaps()}
	for _, e := range c.entries {
		for _, s := range expandLists(e.structure) {
			out.AppendStructureFull(s, e.features.Copy())
		}
	}
	return out.Caps
}

func expandLists(s *Structure) []*Structure {
	for i, f := range s.fields {
		l, ok := f.value.(ValueList)
		if !ok {
			continue
		}
		var out []*Structure
		for _, v := range l {
			c := s.Copy()
			c.fields[i].value = copyValue(v)
			out = append(out, expandLists(c)...)
		}
		return out
	}
	return []*Structure{s.Copy()}
}

func (c *Caps) String() string {
	if c == nil {
		return "NULL"
	}
	if c.any {
		return "ANY"
	}
	if len(c.entries) == 0 {
		return "EMPTY"
	}
	var b strings.Builder
	for i, e := range c.entries {
		if i > 0 {
			b.WriteString("; ")
		}
		f := e.features
		writeStructure(&b, e.structure, &f, true)
	}
	return b.String()
}

// AppendStructure takes ownership of s and appends it with system memory features.
func (c *CapsMut) AppendStructure(s *Structure) {
	c.AppendStructureFull(s, CapsFeatures{})
}

// AppendStructureFull takes ownership of s and appends it with features.
func (c *CapsMut) AppendStructureFull(s *Structure, features CapsFeatures) {
	c.mustBeWritable()
	if c.any {
		s.release()
		return
	}
	s.setParent(&c.MiniObject)
	c.entries = append(c.entries, capsEntry{structure: s, features: features})
}

// mergeStructure appends s unless an existing structure already covers it.
func (c *CapsMut) mergeStructure(s *Structure, features CapsFeatures) {
	for _, e := range c.entries {
		if e.features.IsEqual(features) && s.IsSubset(e.structure) {
			s.release()
			return
		}
	}
	c.AppendStructureFull(s, features)
}

// Append moves every structure of other into c, consuming other.
func (c *CapsMut) Append(other *Caps) {
	c.mustBeWritable()
	if other.any {
		c.freeCaps()
		c.any = true
	} else if !c.any {
		for _, e := range other.entries {
			c.AppendStructureFull(e.structure.Copy(), e.features.Copy())
		}
	}
	other.Unref()
}

// Merge adds the structures of other that c does not already cover, consuming other.
func (c *CapsMut) Merge(other *Caps) {
	c.mustBeWritable()
	switch {
	case other.any:
		c.freeCaps()
		c.any = true
	case !c.any:
		for _, e := range other.entries {
			c.mergeStructure(e.structure.Copy(), e.features.Copy())
		}
	}
	other.Unref()
}

// StructureMut returns structure i for mutation.
func (c *CapsMut) StructureMut(i int) *Structure {
	c.mustBeWritable()
	return c.entries[i].structure
}

// SetFeatures replaces the features of structure i.
func (c *CapsMut) SetFeatures(i int, f CapsFeatures) {
	c.mustBeWritable()
	c.entries[i].features = f
}

// SetFeaturesSimple replaces the features of every structure.
func (c *CapsMut) SetFeaturesSimple(f CapsFeatures) {
	c.mustBeWritable()
	for i := range c.entries {
		c.entries[i].features = f.Copy()
	}
}

// RemoveStructure drops structure i.
func (c *CapsMut) RemoveStructure(i int) {
	c.mustBeWritable()
	e := c.entries[i]
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
	e.structure.parent = nil
	e.structure.release()
}

// SetField sets field on every structure.
func (c *CapsMut) SetField(name string, value any) {
	c.mustBeWritable()
	for _, e := range c.entries {
		e.structure.Set(name, value)
	}
}

// Truncate keeps only the first structure.
func (c *CapsMut) Truncate() {
	c.mustBeWritable()
	for len(c.entries) > 1 {
		c.RemoveStructure(len(c.entries) - 1)
	}
}

// Fixate truncates to the first structure and fixes every field.
func (c *CapsMut) Fixate() {
	if c.any {
		panic("gst: cannot fixate ANY caps")
	}
	c.Truncate()
	if len(c.entries) == 1 {
		c.entries[0].structure.Fixate()
		if c.entries[0].features.IsAny() {
			c.entries[0].features = CapsFeatures{}
		}
	}
}
