package gst

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructureFields(t *testing.T) {
	s := NewStructureFromFields("test",
		"int", 5,
		"uint", uint(7),
		"i64", int64(-3),
		"str", "hello world",
		"flag", true,
		"time", uint64(3*Second),
	)
	defer s.Free()

	i, err := s.GetInt("int")
	require.NoError(t, err)
	assert.Equal(t, 5, i)
	v, ok := s.Value("int")
	require.True(t, ok)
	assert.IsType(t, int32(0), v, "untyped ints are stored as int32")
	u, err := s.GetUint("uint")
	require.NoError(t, err)
	assert.Equal(t, uint(7), u)
	i64, _ := s.GetInt64("i64")
	assert.Equal(t, int64(-3), i64)
	str, _ := s.GetString("str")
	assert.Equal(t, "hello world", str)
	flag, _ := s.GetBool("flag")
	assert.True(t, flag)
	ct, err := s.GetClockTime("time")
	require.NoError(t, err)
	assert.Equal(t, 3*Second, ct)

	_, err = s.GetString("int")
	var typeErr *FieldTypeError
	require.ErrorAs(t, err, &typeErr)
	assert.Equal(t, "int", typeErr.Actual)
	assert.Equal(t, "string", typeErr.Requested)
	_, err = s.GetInt("nope")
	assert.ErrorIs(t, err, ErrFieldNotFound)

	_, found, err := GetOptional[string](s, "nope")
	assert.False(t, found)
	assert.NoError(t, err)
	_, found, err = GetOptional[string](s, "int")
	assert.False(t, found)
	assert.Error(t, err)

	assert.True(t, s.HasFieldWithType("str", "string"))
	assert.Equal(t, 6, s.NFields())
	assert.Equal(t, "uint", s.NthFieldName(1))
}

func TestStructureEditing(t *testing.T) {
	s := NewStructureBuilder("edit").
		Field("a", 1).
		Field("b", 2).
		FieldIfSome("c", 3, false).
		Field("d", "x").
		Build()
	defer s.Free()
	assert.False(t, s.Has("c"))

	s.Set("a", 10)
	s.Remove("b")
	s.SetName("edited")
	assert.Equal(t, "edited, a=(int)10, d=(string)x;", s.String())

	s.MapInPlace(func(field string, v any) (any, bool) {
		if n, ok := v.(int32); ok {
			return n * 2, true
		}
		return v, true
	})
	a, _ := s.GetInt("a")
	assert.Equal(t, 20, a)

	s.Filter(func(field string, _ any) bool { return field != "d" })
	assert.Equal(t, 1, s.NFields())

	var names []string
	for name := range s.Fields() {
		names = append(names, name)
	}
	assert.Equal(t, []string{"a"}, names)
}

func TestStructureParse(t *testing.T) {
	text := `meta, name="quoted \"value\"", rate=(double)29.97, list=(int){ 1, 2, 3 }, arr=< a, b >, when=(datetime)2024-05-01T10:00:00Z, day=(date)2024-05-01, mask=(bitmask)0xff, nested="inner, x=(int)1;"`
	s, err := ParseStructure(text)
	require.NoError(t, err)
	defer s.Free()

	name, _ := s.GetString("name")
	assert.Equal(t, `quoted "value"`, name)
	rate, _ := s.GetDouble("rate")
	assert.InDelta(t, 29.97, rate, 1e-9)
	list, err := Get[ValueList](s, "list")
	require.NoError(t, err)
	assert.Equal(t, ValueList{int32(1), int32(2), int32(3)}, list)
	arr, err := Get[ValueArray](s, "arr")
	require.NoError(t, err)
	assert.Equal(t, ValueArray{"a", "b"}, arr)
	when, err := s.GetDateTime("when")
	require.NoError(t, err)
	assert.True(t, when.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)))
	day, _ := s.GetDate("day")
	assert.Equal(t, Date{2024, time.May, 1}, day)
	mask, _ := Get[Bitmask](s, "mask")
	assert.Equal(t, Bitmask(0xff), mask)

	back, err := ParseStructure(s.String())
	require.NoError(t, err)
	defer back.Free()
	assert.True(t, s.IsEqual(back), "%s != %s", s, back)

	_, err = ParseStructure("meta, a=1 trailing")
	assert.ErrorIs(t, err, ErrParse)
	_, err = ParseStructure(", a=1")
	assert.ErrorIs(t, err, ErrParse)
}

func TestStructureSubsetAndIntersect(t *testing.T) {
	wide := parseStructureT(t, "video, width=[ 1, 100 ], format={ a, b }")
	narrow := parseStructureT(t, "video, width=50, format=a")
	other := parseStructureT(t, "audio, rate=44100")

	assert.True(t, narrow.IsSubset(wide))
	assert.False(t, wide.IsSubset(narrow))
	assert.False(t, other.IsSubset(wide))

	res, ok := wide.Intersect(narrow)
	require.True(t, ok)
	defer res.Free()
	assert.True(t, res.IsEqual(narrow))
	_, ok = wide.Intersect(other)
	assert.False(t, ok)
}

func parseStructureT(t *testing.T, text string) *Structure {
	t.Helper()
	s, err := ParseStructure(text)
	require.NoError(t, err)
	t.Cleanup(s.Free)
	return s
}

func TestValues(t *testing.T) {
	assert.Equal(t, Fraction{2, 3}, NewFraction(4, 6))
	assert.Equal(t, Fraction{-1, 2}, NewFraction(1, -2))
	assert.Panics(t, func() { NewFraction(1, 0) })
	assert.Equal(t, -1, NewFraction(1, 3).Compare(NewFraction(1, 2)))
	prod, ok := NewFraction(2, 3).Mul(NewFraction(3, 4))
	require.True(t, ok)
	assert.Equal(t, NewFraction(1, 2), prod)

	for _, tc := range []struct {
		a, b any
		want ValueOrder
	}{
		{int32(1), int32(2), ValueLessThan},
		{"a", "a", ValueEqual},
		{true, false, ValueUnordered},
		{int32(1), "1", ValueUnordered},
		{NewFraction(30, 1), NewFraction(25, 1), ValueGreaterThan},
	} {
		assert.Equal(t, tc.want, CompareValues(tc.a, tc.b), "%v vs %v", tc.a, tc.b)
	}

	v, ok := IntersectValues(IntRange{1, 10}, IntRange{5, 20})
	require.True(t, ok)
	assert.Equal(t, IntRange{5, 10}, v)
	v, ok = IntersectValues(ValueList{"a", "b"}, "b")
	require.True(t, ok)
	assert.Equal(t, "b", v)
	_, ok = IntersectValues(IntRange{1, 2}, int32(5))
	assert.False(t, ok)

	assert.Equal(t, IntRange{1, 5}, UnionValues(IntRange{1, 3}, IntRange{4, 5}))
	assert.True(t, IsSubsetValue(int32(3), IntRange{1, 5}))
	assert.False(t, IsFixedValue(IntRange{1, 5}))
	assert.Equal(t, int32(1), FixateValue(ValueList{int32(1), int32(2)}))

	assert.Equal(t, "[ 1, 5 ]", SerializeValue(IntRange{1, 5}))
	assert.Equal(t, `"a b"`, SerializeValue("a b"))
	assert.Equal(t, "{ 1, 2 }", SerializeValue(ValueList{int32(1), int32(2)}))
	assert.Equal(t, "0x00000000000000ff", SerializeValue(Bitmask(0xff)))
}
