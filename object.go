package gst

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// ObjectHandle is implemented by every type embedding Object.
type ObjectHandle interface {
	AsObject() *Object
}

// ObjectFlags are flag bits on an Object. Subtypes use bits from ObjectFlagLast.
type ObjectFlags uint32

const (
	ObjectFlagMayBeLeaked ObjectFlags = 1 << 0
	ObjectFlagConstructed ObjectFlags = 1 << 1
	ObjectFlagLast        ObjectFlags = 1 << 4
)

// PropertyHandler lets an implementation own the storage of its properties. Objects
// without one keep property values in an internal table.
type PropertyHandler interface {
	SetProperty(o *Object, name string, value any) error
	Property(o *Object, name string) (any, error)
}

// Object is the named, parented base of elements, pads, clocks, buses and device
// providers. It carries the object lock, properties and control bindings.
type Object struct {
	mu sync.Mutex

	// ident guards name and parent. It is never held while calling out, so both
	// can be read with the object lock held.
	ident  sync.RWMutex
	name   string
	parent *Object

	flags atomic.Uint32
	self  any

	specs    []*ParamSpec
	values   map[string]any
	handler  PropertyHandler
	notifies []func(o *Object, spec *ParamSpec)

	bindings        []ControlBinding
	controlDisabled bool
	lastSync        ClockTime
}

var nameCounters = struct {
	sync.Mutex
	n map[string]int
}{n: make(map[string]int)}

// uniqueName returns prefix followed by a per-prefix counter, like "queue0".
func uniqueName(prefix string) string {
	nameCounters.Lock()
	defer nameCounters.Unlock()
	n := nameCounters.n[prefix]
	nameCounters.n[prefix] = n + 1
	if prefix != "" && prefix[len(prefix)-1] >= '0' && prefix[len(prefix)-1] <= '9' {
		return fmt.Sprintf("%s-%d", prefix, n)
	}
	return fmt.Sprintf("%s%d", prefix, n)
}

func (o *Object) initObject(self any, name, prefix string, specs []*ParamSpec) {
	if name == "" {
		name = uniqueName(prefix)
	}
	o.self = self
	o.name = name
	o.specs = specs
	o.lastSync = ClockTimeNone
	o.values = make(map[string]any, len(specs))
	for _, s := range specs {
		if s.Default != nil {
			o.values[s.Name] = copyValue(normalizeValue(s.Default))
		}
	}
	if h, ok := self.(PropertyHandler); ok {
		o.handler = h
	}
	o.flags.Store(uint32(ObjectFlagConstructed))
}

// AsObject returns o.
func (o *Object) AsObject() *Object { return o }

// Self returns the outermost value o is embedded in, e.g. the *Element.
func (o *Object) Self() any { return o.self }

// Lock takes the object lock.
func (o *Object) Lock() { o.mu.Lock() }

// Unlock releases the object lock.
func (o *Object) Unlock() { o.mu.Unlock() }

// Name returns the object name.
func (o *Object) Name() string {
	o.ident.RLock()
	defer o.ident.RUnlock()
	return o.name
}

// SetName renames o. Parented objects cannot be renamed.
func (o *Object) SetName(name string) error {
	o.ident.Lock()
	defer o.ident.Unlock()
	if o.parent != nil {
		return fmt.Errorf("gst: cannot rename %s: it has a parent", o.name)
	}
	o.name = name
	return nil
}

// Parent returns the parent object, or nil.
func (o *Object) Parent() *Object {
	o.ident.RLock()
	defer o.ident.RUnlock()
	return o.parent
}

// HasAsParent reports whether parent is the direct parent of o.
func (o *Object) HasAsParent(parent ObjectHandle) bool {
	return parent != nil && o.Parent() == parent.AsObject()
}

// HasAsAncestor reports whether ancestor is o or a (grand)parent of o.
func (o *Object) HasAsAncestor(ancestor ObjectHandle) bool {
	a := ancestor.AsObject()
	for p := o; p != nil; p = p.Parent() {
		if p == a {
			return true
		}
	}
	return false
}

// SetParent sets the parent. It fails when o already has one.
func (o *Object) SetParent(parent ObjectHandle) error {
	if parent == nil {
		return fmt.Errorf("gst: nil parent for %s", o.Name())
	}
	p := parent.AsObject()
	if p == o {
		return fmt.Errorf("gst: %s cannot be its own parent", o.Name())
	}
	o.ident.Lock()
	old := o.parent
	if old == nil {
		o.parent = p
	}
	o.ident.Unlock()
	if old != nil {
		return fmt.Errorf("gst: %s already has parent %s", o.Name(), old.Name())
	}
	return nil
}

// Unparent clears the parent.
func (o *Object) Unparent() {
	o.ident.Lock()
	o.parent = nil
	o.ident.Unlock()
}

// PathString returns the slash separated path from the top level parent, with
// pads joined to their element by a colon.
func (o *Object) PathString() string {
	var parts []string
	for p := o; p != nil; p = p.Parent() {
		parts = append(parts, p.Name())
	}
	slices.Reverse(parts)
	var b strings.Builder
	for i, n := range parts {
		if i > 0 {
			if i == len(parts)-1 {
				if _, isPad := o.self.(*Pad); isPad {
					b.WriteByte(':')
					b.WriteString(n)
					continue
				}
			}
			b.WriteByte('/')
		} else {
			b.WriteByte('/')
		}
		b.WriteString(n)
	}
	return b.String()
}

func (o *Object) String() string { return o.PathString() }

// ObjectFlags returns the flag bits.
func (o *Object) ObjectFlags() ObjectFlags { return ObjectFlags(o.flags.Load()) }

// HasObjectFlags reports whether every bit of f is set.
func (o *Object) HasObjectFlags(f ObjectFlags) bool { return o.ObjectFlags()&f == f }

// SetObjectFlags sets the bits of f.
func (o *Object) SetObjectFlags(f ObjectFlags) {
	for {
		old := o.flags.Load()
		if o.flags.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

// UnsetObjectFlags clears the bits of f.
func (o *Object) UnsetObjectFlags(f ObjectFlags) {
	for {
		old := o.flags.Load()
		if o.flags.CompareAndSwap(old, old&^uint32(f)) {
			return
		}
	}
}

// ListProperties returns the property descriptions.
func (o *Object) ListProperties() []*ParamSpec { return slices.Clone(o.specs) }

// FindProperty returns the description of name.
func (o *Object) FindProperty(name string) (*ParamSpec, bool) {
	i := slices.IndexFunc(o.specs, func(s *ParamSpec) bool { return s.Name == name })
	if i < 0 {
		return nil, false
	}
	return o.specs[i], true
}

// InstallProperties adds property descriptions during construction.
func (o *Object) InstallProperties(specs ...*ParamSpec) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, s := range specs {
		o.specs = append(o.specs, s)
		if s.Default != nil {
			o.values[s.Name] = copyValue(normalizeValue(s.Default))
		}
	}
}

type stateHolder interface {
	CurrentState() State
}

// SetProperty validates and stores value, then runs notify callbacks. It fails for
// unknown, read-only or currently immutable properties.
func (o *Object) SetProperty(name string, value any) error {
	spec, ok := o.FindProperty(name)
	if !ok {
		return fmt.Errorf("gst: %s has no property %q", o.Name(), name)
	}
	if spec.Flags&ParamWritable == 0 {
		return fmt.Errorf("gst: property %q of %s is not writable", name, o.Name())
	}
	if sh, ok := o.self.(stateHolder); ok {
		if st := sh.CurrentState(); !spec.Flags.mutableIn(st) {
			return fmt.Errorf("gst: property %q of %s cannot be changed in state %s", name, o.Name(), st)
		}
	}
	if err := spec.Validate(value); err != nil {
		return err
	}
	value = normalizeValue(value)
	if o.handler != nil {
		var err error
		func() {
			defer catchPanic(catDefault, o, "set_property", &err)
			err = o.handler.SetProperty(o, name, value)
		}()
		if err != nil {
			return err
		}
	} else {
		o.mu.Lock()
		old := o.values[name]
		o.values[name] = copyValue(value)
		o.mu.Unlock()
		releaseValue(old)
	}
	o.notify(spec)
	return nil
}

// Property returns the current value of name.
func (o *Object) Property(name string) (any, error) {
	spec, ok := o.FindProperty(name)
	if !ok {
		return nil, fmt.Errorf("gst: %s has no property %q", o.Name(), name)
	}
	if spec.Flags&ParamReadable == 0 {
		return nil, fmt.Errorf("gst: property %q of %s is not readable", name, o.Name())
	}
	if o.handler != nil {
		var (
			v   any
			err error
		)
		func() {
			defer catchPanic(catDefault, o, "get_property", &err)
			v, err = o.handler.Property(o, name)
		}()
		return v, err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.values[name], nil
}

// PropertyAs returns property name of o converted to T.
func PropertyAs[T any](o ObjectHandle, name string) (T, error) {
	var zero T
	v, err := o.AsObject().Property(name)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, &FieldTypeError{Field: name, Requested: ValueTypeName(zero), Actual: ValueTypeName(v)}
	}
	return t, nil
}

// StoredProperty returns the value kept in the internal table, for handlers that only
// intercept some properties.
func (o *Object) StoredProperty(name string) any {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.values[name]
}

// StoreProperty writes the internal table without validation or notification.
func (o *Object) StoreProperty(name string, value any) {
	o.mu.Lock()
	old := o.values[name]
	o.values[name] = copyValue(normalizeValue(value))
	o.mu.Unlock()
	releaseValue(old)
}

// ConnectNotify registers fn to run after a property changes.
func (o *Object) ConnectNotify(fn func(o *Object, spec *ParamSpec)) {
	o.mu.Lock()
	o.notifies = append(o.notifies, fn)
	o.mu.Unlock()
}

func (o *Object) notify(spec *ParamSpec) {
	o.mu.Lock()
	fns := slices.Clone(o.notifies)
	o.mu.Unlock()
	for _, fn := range fns {
		fn(o, spec)
	}
	// deep notify
	for p := o.Parent(); p != nil; p = p.Parent() {
		p.mu.Lock()
		pf := slices.Clone(p.notifies)
		p.mu.Unlock()
		for _, fn := range pf {
			fn(o, spec)
		}
	}
}
