package gst

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// URIType tells whether a URI handler consumes or produces data.
type URIType int

const (
	URIUnknown URIType = iota
	URISink
	URISrc
)

func (t URIType) String() string {
	switch t {
	case URISink:
		return "sink"
	case URISrc:
		return "src"
	}
	return "unknown"
}

// URIHandler is implemented by element implementations that can be configured
// from a URI.
type URIHandler interface {
	URI(e *Element) string
	SetURI(e *Element, uri string) error
}

// URIError codes.
var (
	ErrURIUnsupportedProtocol = errors.New("gst: unsupported URI protocol")
	ErrURIBadURI              = errors.New("gst: bad URI")
	ErrURIBadState            = errors.New("gst: URI can't be set in this state")
	ErrURIBadReference        = errors.New("gst: bad URI reference")
)

// URIProtocol returns the lower-cased scheme of uri.
func URIProtocol(uri string) (string, error) {
	scheme, _, ok := strings.Cut(uri, "://")
	if !ok || !URIProtocolIsValid(scheme) {
		return "", fmt.Errorf("%w: %q", ErrURIBadURI, uri)
	}
	return strings.ToLower(scheme), nil
}

// URIProtocolIsValid reports whether protocol is a valid URI scheme.
func URIProtocolIsValid(protocol string) bool {
	if len(protocol) == 0 || !isAlpha(protocol[0]) {
		return false
	}
	for i := 1; i < len(protocol); i++ {
		c := protocol[i]
		if !isAlpha(c) && !(c >= '0' && c <= '9') && c != '+' && c != '-' && c != '.' {
			return false
		}
	}
	return true
}

func isAlpha(c byte) bool { return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' }

// URIHasProtocol reports whether uri uses protocol.
func URIHasProtocol(uri, protocol string) bool {
	p, err := URIProtocol(uri)
	return err == nil && strings.EqualFold(p, protocol)
}

// URILocation returns the part of uri after "scheme://", unescaped.
func URILocation(uri string) (string, error) {
	_, loc, ok := strings.Cut(uri, "://")
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrURIBadURI, uri)
	}
	return url.PathUnescape(loc)
}

// FilenameToURI returns a file:// URI for an absolute path.
func FilenameToURI(path string) string {
	return (&url.URL{Scheme: "file", Path: path}).String()
}

// URIProtocolIsSupported reports whether any registered element handles protocol
// in direction t.
func URIProtocolIsSupported(t URIType, protocol string) bool {
	return len(uriFactories(t, protocol)) > 0
}

func uriFactories(t URIType, protocol string) []*ElementFactory {
	return ElementFactoryListFilter(func(f *ElementFactory) bool {
		if f.URIType() != t {
			return false
		}
		return slices.ContainsFunc(f.URIProtocols(), func(p string) bool { return strings.EqualFold(p, protocol) })
	})
}

// ElementMakeFromURI creates an element of direction t for uri, trying the
// matching factories by rank until one accepts the URI.
func ElementMakeFromURI(t URIType, uri, name string) (*Element, error) {
	if err := checkInitialized(); err != nil {
		return nil, err
	}
	protocol, err := URIProtocol(uri)
	if err != nil {
		return nil, err
	}
	factories := uriFactories(t, protocol)
	if len(factories) == 0 {
		return nil, fmt.Errorf("%w: no %s element for %q", ErrURIUnsupportedProtocol, t, protocol)
	}
	var lastErr error
	for _, f := range factories {
		e, err := f.Make(name)
		if err != nil {
			lastErr = err
			continue
		}
		h, ok := e.Impl().(URIHandler)
		if !ok {
			lastErr = fmt.Errorf("gst: %s does not implement URIHandler", f.Name())
			continue
		}
		if err := h.SetURI(e, uri); err != nil {
			catElement.Debug(e, "rejected uri %s: %v", uri, err)
			lastErr = err
			continue
		}
		return e, nil
	}
	return nil, fmt.Errorf("gst: no element accepted %q: %w", uri, lastErr)
}

// ElementURI returns the URI of e when its implementation is a URIHandler.
func ElementURI(e *Element) (string, bool) {
	h, ok := e.Impl().(URIHandler)
	if !ok {
		return "", false
	}
	return h.URI(e), true
}

// ElementSetURI configures e from uri. It fails when e is not a URIHandler or
// does not support the protocol.
func ElementSetURI(e *Element, uri string) error {
	h, ok := e.Impl().(URIHandler)
	if !ok {
		return fmt.Errorf("gst: %s does not implement URIHandler", e.Name())
	}
	protocol, err := URIProtocol(uri)
	if err != nil {
		return err
	}
	if f := e.Factory(); f != nil && !slices.ContainsFunc(f.URIProtocols(), func(p string) bool { return strings.EqualFold(p, protocol) }) {
		return fmt.Errorf("%w: %s", ErrURIUnsupportedProtocol, protocol)
	}
	return h.SetURI(e, uri)
}
