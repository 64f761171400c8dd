package gst

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type uriSrc struct{ uri string }

func (s *uriSrc) URI(*Element) string { return s.uri }

func (s *uriSrc) SetURI(_ *Element, uri string) error {
	if strings.Contains(uri, "reject") {
		return fmt.Errorf("%w: %s", ErrURIBadURI, uri)
	}
	s.uri = uri
	return nil
}

func registerURIElement(t *testing.T) {
	t.Helper()
	err := RegisterElement(nil, "testurisrc", RankPrimary, &ElementClass{
		URIType:      URISrc,
		URIProtocols: []string{"testproto", "alt"},
		New:          func() ElementImpl { return &uriSrc{} },
	})
	require.NoError(t, err)
}

func TestURIParsing(t *testing.T) {
	p, err := URIProtocol("RTMP://host/app")
	require.NoError(t, err)
	assert.Equal(t, "rtmp", p)
	_, err = URIProtocol("no-scheme")
	assert.ErrorIs(t, err, ErrURIBadURI)
	_, err = URIProtocol("1x://host")
	assert.ErrorIs(t, err, ErrURIBadURI)

	assert.True(t, URIProtocolIsValid("svn+ssh"))
	assert.False(t, URIProtocolIsValid("a b"))
	assert.True(t, URIHasProtocol("File:///tmp/a", "file"))

	loc, err := URILocation("file:///tmp/a%20b.mp4")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/a b.mp4", loc)
	assert.Equal(t, "file:///tmp/a%20b.mp4", FilenameToURI("/tmp/a b.mp4"))
}

func TestElementMakeFromURI(t *testing.T) {
	registerURIElement(t)
	assert.True(t, URIProtocolIsSupported(URISrc, "TestProto"))
	assert.False(t, URIProtocolIsSupported(URISink, "testproto"))

	e, err := ElementMakeFromURI(URISrc, "testproto://stream/1", "in")
	require.NoError(t, err)
	uri, ok := ElementURI(e)
	require.True(t, ok)
	assert.Equal(t, "testproto://stream/1", uri)

	require.NoError(t, ElementSetURI(e, "alt://other"))
	assert.ErrorIs(t, ElementSetURI(e, "http://x"), ErrURIUnsupportedProtocol)
	_, ok = ElementURI(NewElement("plain", nil))
	assert.False(t, ok)

	_, err = ElementMakeFromURI(URISrc, "testproto://reject", "")
	assert.ErrorIs(t, err, ErrURIBadURI)
	_, err = ElementMakeFromURI(URISrc, "nothing://here", "")
	assert.ErrorIs(t, err, ErrURIUnsupportedProtocol)
}
