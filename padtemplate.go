package gst

import (
	"fmt"
	"strconv"
	"strings"
)

// PadTemplate describes the pads an element can have: their name pattern,
// direction, presence and the caps they may carry.
type PadTemplate struct {
	nameTemplate string
	direction    PadDirection
	presence     PadPresence
	caps         *Caps
	docCaps      *Caps
}

// NewPadTemplate creates a template. Names of always pads must not contain a
// conversion specifier; request and sometimes names may use one of %u, %d or %s.
// The template takes ownership of caps.
func NewPadTemplate(nameTemplate string, dir PadDirection, presence PadPresence, caps *Caps) (*PadTemplate, error) {
	if dir != PadDirectionSrc && dir != PadDirectionSink {
		caps.Unref()
		return nil, fmt.Errorf("gst: pad template %q: invalid direction", nameTemplate)
	}
	if err := checkNameTemplate(nameTemplate, presence); err != nil {
		caps.Unref()
		return nil, err
	}
	return &PadTemplate{nameTemplate: nameTemplate, direction: dir, presence: presence, caps: caps}, nil
}

// MustPadTemplate is NewPadTemplate that panics on error, for static registration.
func MustPadTemplate(nameTemplate string, dir PadDirection, presence PadPresence, caps *Caps) *PadTemplate {
	t, err := NewPadTemplate(nameTemplate, dir, presence, caps)
	if err != nil {
		panic(err)
	}
	return t
}

func checkNameTemplate(name string, presence PadPresence) error {
	i := strings.IndexByte(name, '%')
	if i < 0 {
		return nil
	}
	if presence == PadAlways {
		return fmt.Errorf("gst: always pad template %q contains a conversion specifier", name)
	}
	rest := name[i+1:]
	if rest == "" || !strings.ContainsRune("uds", rune(rest[0])) {
		return fmt.Errorf("gst: pad template %q: conversion must be %%u, %%d or %%s", name)
	}
	if strings.IndexByte(rest, '%') >= 0 {
		return fmt.Errorf("gst: pad template %q: only one conversion specifier allowed", name)
	}
	return nil
}

func (t *PadTemplate) NameTemplate() string    { return t.nameTemplate }
func (t *PadTemplate) Direction() PadDirection { return t.direction }
func (t *PadTemplate) Presence() PadPresence   { return t.presence }

// Caps returns the template caps. The template keeps its reference.
func (t *PadTemplate) Caps() *Caps { return t.caps }

// SetDocumentationCaps overrides the caps shown by inspection tools.
func (t *PadTemplate) SetDocumentationCaps(caps *Caps) {
	if t.docCaps != nil {
		t.docCaps.Unref()
	}
	t.docCaps = caps
}

// DocumentationCaps returns the caps shown by inspection tools.
func (t *PadTemplate) DocumentationCaps() *Caps {
	if t.docCaps != nil {
		return t.docCaps
	}
	return t.caps
}

// MatchesName reports whether name could have been produced by the template.
func (t *PadTemplate) MatchesName(name string) bool {
	i := strings.IndexByte(t.nameTemplate, '%')
	if i < 0 {
		return name == t.nameTemplate
	}
	prefix, suffix := t.nameTemplate[:i], t.nameTemplate[i+2:]
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) || len(name) < len(prefix)+len(suffix) {
		return false
	}
	mid := name[len(prefix) : len(name)-len(suffix)]
	switch t.nameTemplate[i+1] {
	case 'u':
		_, err := strconv.ParseUint(mid, 10, 32)
		return err == nil
	case 'd':
		_, err := strconv.ParseInt(mid, 10, 32)
		return err == nil
	}
	return mid != ""
}

// expandName returns the name for the n-th pad of a request template.
func (t *PadTemplate) expandName(n int) string {
	i := strings.IndexByte(t.nameTemplate, '%')
	if i < 0 {
		return t.nameTemplate
	}
	return t.nameTemplate[:i] + strconv.Itoa(n) + t.nameTemplate[i+2:]
}

func (t *PadTemplate) String() string {
	return fmt.Sprintf("%s (%s, %s): %s", t.nameTemplate, t.direction, t.presence, t.caps)
}
