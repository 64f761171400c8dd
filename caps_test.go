package gst

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapsFromString(t *testing.T) {
	c, err := CapsFromString("video/x-raw, format={ I420, NV12 }, width=[ 16, 4096 ], framerate=30/1; audio/x-raw(memory:GLMemory), rate=(int)48000")
	require.NoError(t, err)
	defer c.Unref()

	require.Equal(t, 2, c.Size())
	v := c.Structure(0)
	assert.Equal(t, "video/x-raw", v.Name())
	formats, err := Get[ValueList](v, "format")
	require.NoError(t, err)
	assert.Equal(t, ValueList{"I420", "NV12"}, formats)
	width, err := Get[IntRange](v, "width")
	require.NoError(t, err)
	assert.Equal(t, IntRange{16, 4096}, width)
	fr, err := v.GetFraction("framerate")
	require.NoError(t, err)
	assert.Equal(t, NewFraction(30, 1), fr)
	assert.True(t, c.Features(1).Contains("memory:GLMemory"))

	assert.Equal(t,
		"video/x-raw, format=(string){ I420, NV12 }, width=(int)[ 16, 4096 ], framerate=(fraction)30/1; audio/x-raw(memory:GLMemory), rate=(int)48000",
		c.String())

	again, err := CapsFromString(c.String())
	require.NoError(t, err)
	defer again.Unref()
	assert.True(t, c.IsStrictlyEqual(again))

	for _, bad := range []string{"video/x-raw, width=", "video/x-raw, width=(nope)1", "video/x-raw, x=\"open"} {
		_, err := CapsFromString(bad)
		assert.ErrorIs(t, err, ErrParse, bad)
	}
}

func TestCapsSpecialValues(t *testing.T) {
	for text, check := range map[string]func(*Caps) bool{
		"ANY":   (*Caps).IsAny,
		"EMPTY": (*Caps).IsEmpty,
		"":      (*Caps).IsEmpty,
	} {
		c := MustCapsFromString(text)
		assert.True(t, check(c), text)
		c.Unref()
	}
	assert.Equal(t, "ANY", NewCapsAny().String())
	assert.Equal(t, "EMPTY", NewCapsEmpty().String())
	assert.Panics(t, func() { MustCapsFromString("video/x-raw, width=[") })
}

func TestCapsIntersect(t *testing.T) {
	src := MustCapsFromString("video/x-raw, format={ I420, NV12 }, width=[ 16, 4096 ]")
	sink := MustCapsFromString("video/x-raw, format=NV12, width=640, framerate=30/1")
	defer src.Unref()
	defer sink.Unref()

	assert.True(t, src.CanIntersect(sink))
	res := src.Intersect(sink)
	defer res.Unref()
	assert.Equal(t, "video/x-raw, format=(string)NV12, width=(int)640, framerate=(fraction)30/1", res.String())
	assert.True(t, res.IsFixed())
	assert.True(t, res.IsSubset(src))
	assert.False(t, src.IsSubset(res))

	audio := MustCapsFromString("audio/x-raw")
	defer audio.Unref()
	assert.False(t, src.CanIntersect(audio))
	empty := src.Intersect(audio)
	assert.True(t, empty.IsEmpty())
	empty.Unref()

	gl := MustCapsFromString("video/x-raw(memory:GLMemory), format=NV12")
	defer gl.Unref()
	assert.False(t, src.CanIntersect(gl), "features must match")

	anyCaps := NewCapsAny()
	defer anyCaps.Unref()
	same := anyCaps.Intersect(src)
	assert.Same(t, src, same)
	same.Unref()
}

func TestCapsIntersectOrder(t *testing.T) {
	a := MustCapsFromString("video/x-raw, format=I420; video/x-raw, format=NV12; video/x-raw, format=RGB")
	b := MustCapsFromString("video/x-raw, format=RGB; video/x-raw, format=NV12")
	defer a.Unref()
	defer b.Unref()

	first := a.IntersectWithMode(b, CapsIntersectFirst)
	defer first.Unref()
	require.Equal(t, 2, first.Size())
	f, _ := first.Structure(0).GetString("format")
	assert.Equal(t, "NV12", f)

	zz := a.Intersect(b)
	defer zz.Unref()
	assert.Equal(t, 2, zz.Size())
}

func TestCapsBuildIntersectFixate(t *testing.T) {
	offered := NewCapsBuilder("video/x-raw").
		Field("width", IntRange{Min: 1, Max: 1920}).
		Field("height", IntRange{Min: 1, Max: 1080}).
		Field("framerate", ValueList{NewFraction(25, 1), NewFraction(30, 1)}).
		Field("format", "NV12").
		Build()
	defer offered.Unref()
	wanted := MustCapsFromString("video/x-raw, width=1280, height=720, framerate=30/1")
	defer wanted.Unref()

	common := offered.Intersect(wanted)
	defer common.Unref()
	fixed := common.Fixated()
	defer fixed.Unref()

	require.Equal(t, 1, fixed.Size())
	require.True(t, fixed.IsFixed())
	s := fixed.Structure(0)
	w, err := s.GetInt("width")
	require.NoError(t, err)
	assert.Equal(t, 1280, w)
	h, err := s.GetInt("height")
	require.NoError(t, err)
	assert.Equal(t, 720, h)
	fr, err := s.GetFraction("framerate")
	require.NoError(t, err)
	assert.Equal(t, NewFraction(30, 1), fr)
	format, err := s.GetString("format")
	require.NoError(t, err)
	assert.Equal(t, "NV12", format)
}

// randomCaps builds caps from a small vocabulary so intersections are often non-empty.
func randomCaps(r *rand.Rand) *Caps {
	names := []string{"video/x-raw", "video/x-raw", "audio/x-raw"}
	formats := []string{"", "format=NV12", "format=I420", "format={ I420, NV12 }", "format={ NV12, RGB }"}
	widths := []string{"", "width=640", "width=1280", "width=[ 1, 1920 ]", "width=[ 800, 4096 ]"}
	var parts []string
	for range r.IntN(2) + 1 {
		fields := []string{names[r.IntN(len(names))]}
		for _, f := range []string{formats[r.IntN(len(formats))], widths[r.IntN(len(widths))]} {
			if f != "" {
				fields = append(fields, f)
			}
		}
		parts = append(parts, strings.Join(fields, ", "))
	}
	return MustCapsFromString(strings.Join(parts, "; "))
}

func TestCapsIntersectProperties(t *testing.T) {
	anyCaps, emptyCaps := NewCapsAny(), NewCapsEmpty()
	defer anyCaps.Unref()
	defer emptyCaps.Unref()

	r := rand.New(rand.NewPCG(1, 2))
	for range 300 {
		a, b, c := randomCaps(r), randomCaps(r), randomCaps(r)

		ab, ba := a.Intersect(b), b.Intersect(a)
		assert.True(t, ab.IsEqual(ba), "%s ∩ %s: %s vs %s", a, b, ab, ba)

		abc := ab.Intersect(c)
		bc := b.Intersect(c)
		abc2 := a.Intersect(bc)
		assert.True(t, abc.IsEqual(abc2), "(%s ∩ %s) ∩ %s", a, b, c)

		withAny := a.Intersect(anyCaps)
		assert.True(t, withAny.IsEqual(a))
		withEmpty := a.Intersect(emptyCaps)
		assert.True(t, withEmpty.IsEmpty())

		for _, x := range []*Caps{a, b, c, ab, ba, abc, bc, abc2, withAny, withEmpty} {
			x.Unref()
		}
	}
}

func TestCapsFixate(t *testing.T) {
	c := MustCapsFromString("video/x-raw, format={ NV12, I420 }, width=[ 16, 4096 ], framerate=[ 1/1, 60/1 ]; video/x-raw, format=RGB")
	defer c.Unref()
	assert.False(t, c.IsFixed())

	fixed := c.Fixated()
	defer fixed.Unref()
	require.True(t, fixed.IsFixed())
	assert.Equal(t, "video/x-raw, format=(string)NV12, width=(int)16, framerate=(fraction)1/1", fixed.String())

	s := c.Structure(0).Copy()
	defer s.Free()
	assert.True(t, s.FixateFieldNearestInt("width", 1280))
	assert.True(t, s.FixateFieldNearestFraction("framerate", NewFraction(30, 1)))
	assert.True(t, s.FixateFieldString("format", "I420"))
	assert.True(t, s.IsFixed())
	w, err := s.GetInt("width")
	require.NoError(t, err)
	assert.Equal(t, 1280, w)
	fr, _ := s.GetFraction("framerate")
	assert.Equal(t, NewFraction(30, 1), fr)
	assert.False(t, s.FixateFieldNearestInt("missing", 1))
}

func TestCapsSubtractAndNormalize(t *testing.T) {
	c := MustCapsFromString("video/x-raw, width=[ 1, 100 ]")
	sub := MustCapsFromString("video/x-raw, width=[ 20, 30 ]")
	defer c.Unref()
	defer sub.Unref()

	rest := c.Subtract(sub)
	defer rest.Unref()
	for width, in := range map[int]bool{10: true, 25: false, 50: true} {
		probe := NewCapsSimple("video/x-raw", "width", width)
		assert.Equal(t, in, probe.IsSubset(rest), "width %d", width)
		probe.Unref()
	}

	list := MustCapsFromString("video/x-raw, format={ I420, NV12 }, depth={ 8, 10 }")
	defer list.Unref()
	norm := list.Normalize()
	defer norm.Unref()
	assert.Equal(t, 4, norm.Size())
	assert.True(t, norm.IsSubset(list))
	assert.True(t, norm.Structure(0).IsFixed())

	u := c.Union(MustCapsFromString("audio/x-raw"))
	defer u.Unref()
	assert.Equal(t, 2, u.Size())
}

func TestCapsWritable(t *testing.T) {
	c := NewCapsBuilder("video/x-raw").Field("width", 320).Features("memory:DMABuf").Build()
	shared := c.Ref()

	m := c.MakeWritable()
	assert.NotSame(t, shared, m.Caps)
	m.SetField("height", 240)
	h, err := m.Structure(0).GetInt("height")
	require.NoError(t, err)
	assert.Equal(t, 240, h)
	assert.False(t, shared.Structure(0).Has("height"))
	shared.Ref()
	assert.Panics(t, func() { shared.Structure(0).Set("height", 1) }, "structures of shared caps are read-only")
	shared.Unref()

	assert.True(t, m.Features(0).Contains("memory:DMABuf"))
	m.Unref()
	shared.Unref()
}
