package gst

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Metadata keys of an element class.
const (
	ElementMetadataLongName    = "long-name"
	ElementMetadataKlass       = "klass"
	ElementMetadataDescription = "description"
	ElementMetadataAuthor      = "author"
	ElementMetadataDocURI      = "doc-uri"
	ElementMetadataIconName    = "icon-name"
)

// ElementMetadata describes an element class for humans and autoplugging.
type ElementMetadata struct {
	LongName       string
	Classification string
	Description    string
	Author         string
	Extra          map[string]string
}

// Get returns the value stored under key.
func (m *ElementMetadata) Get(key string) string {
	switch key {
	case ElementMetadataLongName:
		return m.LongName
	case ElementMetadataKlass:
		return m.Classification
	case ElementMetadataDescription:
		return m.Description
	case ElementMetadataAuthor:
		return m.Author
	}
	return m.Extra[key]
}

// Keys returns every key with a value.
func (m *ElementMetadata) Keys() []string {
	keys := []string{ElementMetadataLongName, ElementMetadataKlass, ElementMetadataDescription, ElementMetadataAuthor}
	return append(keys, slices.Sorted(maps.Keys(m.Extra))...)
}

// ElementKind selects the base an element class builds on.
type ElementKind int

const (
	ElementKindElement ElementKind = iota
	ElementKindBin
	ElementKindPipeline
)

// ElementClass is the static description shared by all instances of an element
// type: metadata, pad templates, properties and the constructor of the
// implementation.
type ElementClass struct {
	// TypeName names the type, e.g. "GstVideoTestSrc". Instance names default to
	// its lowercase form without the namespace prefix followed by a counter.
	TypeName     string
	Metadata     ElementMetadata
	PadTemplates []*PadTemplate
	Properties   []*ParamSpec
	Flags        ObjectFlags
	Kind         ElementKind

	// New returns the implementation of a new instance.
	New func() ElementImpl

	// URIType and URIProtocols describe URIHandler elements.
	URIType      URIType
	URIProtocols []string

	Interfaces []string
}

func (c *ElementClass) namePrefix() string {
	n := c.TypeName
	if n == "" {
		switch c.Kind {
		case ElementKindBin:
			return "bin"
		case ElementKindPipeline:
			return "pipeline"
		}
		return "element"
	}
	for _, pre := range []string{"Gst", "Go"} {
		if rest, ok := strings.CutPrefix(n, pre); ok && rest != "" {
			n = rest
			break
		}
	}
	return strings.ToLower(n)
}

// PadTemplate returns the template called name, or nil.
func (c *ElementClass) PadTemplate(name string) *PadTemplate {
	for _, t := range c.PadTemplates {
		if t.NameTemplate() == name {
			return t
		}
	}
	return nil
}

// AddPadTemplate adds t, replacing a template with the same name.
func (c *ElementClass) AddPadTemplate(t *PadTemplate) {
	for i, old := range c.PadTemplates {
		if old.NameTemplate() == t.NameTemplate() {
			c.PadTemplates[i] = t
			return
		}
	}
	c.PadTemplates = append(c.PadTemplates, t)
}

func (c *ElementClass) newImpl() ElementImpl {
	if c.New == nil {
		return nil
	}
	return c.New()
}

// ElementFactory creates elements of one registered class.
type ElementFactory struct {
	pluginFeature
	class *ElementClass
}

// NewElementFactory returns an unregistered factory for class.
func NewElementFactory(name string, rank Rank, class *ElementClass) *ElementFactory {
	if class.TypeName == "" {
		class.TypeName = name
	}
	return &ElementFactory{pluginFeature: pluginFeature{name: name, rank: rank}, class: class}
}

// Class returns the element class.
func (f *ElementFactory) Class() *ElementClass { return f.class }

// Metadata returns the metadata value for key.
func (f *ElementFactory) Metadata(key string) string { return f.class.Metadata.Get(key) }

// LongName returns the long-name metadata.
func (f *ElementFactory) LongName() string { return f.class.Metadata.LongName }

// Klass returns the classification metadata.
func (f *ElementFactory) Klass() string { return f.class.Metadata.Classification }

// StaticPadTemplates returns the class pad templates.
func (f *ElementFactory) StaticPadTemplates() []*PadTemplate {
	return slices.Clone(f.class.PadTemplates)
}

// NumPadTemplates returns the number of pad templates.
func (f *ElementFactory) NumPadTemplates() int { return len(f.class.PadTemplates) }

// URIType returns the URI direction of URIHandler elements.
func (f *ElementFactory) URIType() URIType { return f.class.URIType }

// URIProtocols returns the protocols handled by URIHandler elements.
func (f *ElementFactory) URIProtocols() []string { return slices.Clone(f.class.URIProtocols) }

// HasInterface reports whether the class declares the interface name.
func (f *ElementFactory) HasInterface(name string) bool {
	return slices.Contains(f.class.Interfaces, name)
}

// ListIsType reports whether the classification contains every
// slash-separated part of klass, e.g. "Sink/Video".
func (f *ElementFactory) ListIsType(klass string) bool {
	have := strings.Split(f.class.Metadata.Classification, "/")
	for _, want := range strings.Split(klass, "/") {
		if !slices.Contains(have, want) {
			return false
		}
	}
	return true
}

// CanSinkAnyCaps reports whether a sink template can accept caps.
func (f *ElementFactory) CanSinkAnyCaps(caps *Caps) bool {
	return f.canAnyCaps(PadDirectionSink, caps)
}

// CanSrcAnyCaps reports whether a source template can produce caps.
func (f *ElementFactory) CanSrcAnyCaps(caps *Caps) bool {
	return f.canAnyCaps(PadDirectionSrc, caps)
}

func (f *ElementFactory) canAnyCaps(dir PadDirection, caps *Caps) bool {
	for _, t := range f.class.PadTemplates {
		if t.Direction() == dir && t.Caps().CanIntersect(caps) {
			return true
		}
	}
	return false
}

// Make creates an element. An empty name picks a unique one.
func (f *ElementFactory) Make(name string) (e *Element, err error) {
	defer catchPanic(catElement, nil, "element factory "+f.name, &err)
	if f.class == nil {
		return nil, fmt.Errorf("gst: factory %s has no class loaded", f.name)
	}
	impl := f.class.newImpl()
	switch f.class.Kind {
	case ElementKindBin:
		e = newBin(f.class, name, impl, f).AsElement()
	case ElementKindPipeline:
		e = newPipeline(f.class, name, impl, f).AsElement()
	default:
		e = newElement(f.class, name, impl, f)
	}
	catElement.Info(e, "created from factory %s", f.name)
	return e, nil
}

// Create makes an element and sets the given properties on it.
func (f *ElementFactory) Create(name string, props map[string]any) (*Element, error) {
	e, err := f.Make(name)
	if err != nil {
		return nil, err
	}
	for _, k := range slices.Sorted(maps.Keys(props)) {
		if err := e.SetProperty(k, props[k]); err != nil {
			return nil, fmt.Errorf("gst: %s: %w", f.name, err)
		}
	}
	return e, nil
}

// ElementFactoryFind returns the registered factory called name, or nil.
func ElementFactoryFind(name string) *ElementFactory {
	f, _ := FindFeature[*ElementFactory](DefaultRegistry(), name)
	return f
}

// ElementFactoryMake creates an element from the registered factory called
// factory.
func ElementFactoryMake(factory, name string) (*Element, error) {
	if err := checkInitialized(); err != nil {
		return nil, err
	}
	f := ElementFactoryFind(factory)
	if f == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchFactory, factory)
	}
	return f.Make(name)
}

// ElementFactoryMakeWithProperties is ElementFactoryMake followed by setting
// props.
func ElementFactoryMakeWithProperties(factory string, props map[string]any) (*Element, error) {
	if err := checkInitialized(); err != nil {
		return nil, err
	}
	f := ElementFactoryFind(factory)
	if f == nil {
		return nil, fmt.Errorf("%w: %q", ErrNoSuchFactory, factory)
	}
	return f.Create("", props)
}

// RegisterElement registers an element factory for class in plugin. A nil plugin
// registers a static feature.
func RegisterElement(plugin *Plugin, name string, rank Rank, class *ElementClass) error {
	f := NewElementFactory(name, rank, class)
	r := DefaultRegistry()
	if plugin != nil && plugin.registry != nil {
		r = plugin.registry
	}
	return r.addFeatureFor(plugin, f)
}

// ElementFactoryListFilter returns the factories matching filter, highest rank
// first.
func ElementFactoryListFilter(filter func(*ElementFactory) bool) []*ElementFactory {
	return FeaturesOfType(DefaultRegistry(), filter)
}
