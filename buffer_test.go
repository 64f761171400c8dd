package gst

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferContent(t *testing.T) {
	b := NewBufferFromSlice([]byte("hello "))
	b.AppendMemory(NewMemoryFromSlice([]byte("world")))
	defer b.Unref()

	assert.Equal(t, 11, b.Size())
	assert.Equal(t, 2, b.NMemory())
	assert.Equal(t, []byte("hello world"), b.Bytes())
	assert.Zero(t, b.Memcmp(4, []byte("o w")))
	assert.NotZero(t, b.Memcmp(9, []byte("ldx")))

	dst := make([]byte, 4)
	assert.Equal(t, 4, b.Extract(5, dst))
	assert.Equal(t, []byte(" wor"), dst)

	n, err := b.Fill(6, []byte("WORLD"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello WORLD", string(b.Bytes()))

	require.NoError(t, b.Resize(2, 7))
	assert.Equal(t, "llo WOR", string(b.Bytes()))
	assert.Error(t, b.Resize(3, 10))
}

func TestBufferCopies(t *testing.T) {
	src := NewBufferFromSlice([]byte("0123456789"))
	src.SetPTS(Second)
	src.SetDuration(40 * Millisecond)
	src.SetOffset(7)
	src.SetBufferFlags(BufferFlagDiscont | BufferFlagDeltaUnit)
	defer src.Unref()

	shallow := src.Copy()
	defer shallow.Unref()
	assert.Same(t, src.PeekMemory(0), shallow.PeekMemory(0))
	assert.Equal(t, Second, shallow.PTS())
	assert.Equal(t, 40*Millisecond, shallow.Duration())
	assert.True(t, shallow.HasBufferFlags(BufferFlagDiscont|BufferFlagDeltaUnit))

	deep := src.CopyDeep()
	defer deep.Unref()
	assert.NotSame(t, src.PeekMemory(0), deep.PeekMemory(0))
	assert.Equal(t, src.Bytes(), deep.Bytes())

	// a region in the middle keeps no timing and no discont
	mid, err := src.CopyRegion(BufferCopyAll, 3, 4)
	require.NoError(t, err)
	defer mid.Unref()
	assert.Equal(t, "3456", string(mid.Bytes()))
	assert.False(t, mid.PTS().IsValid())
	assert.False(t, mid.HasBufferFlags(BufferFlagDiscont))
	assert.True(t, mid.HasBufferFlags(BufferFlagDeltaUnit))

	head, err := src.CopyRegion(BufferCopyAll, 0, 4)
	require.NoError(t, err)
	defer head.Unref()
	assert.Equal(t, Second, head.PTS())
	assert.False(t, head.Duration().IsValid(), "duration only survives full copies")

	_, err = src.CopyRegion(BufferCopyAll, 8, 4)
	assert.Error(t, err)
}

func TestBufferWritability(t *testing.T) {
	b := NewBufferWithSize(4)
	shared := b.Ref()
	_, ok := shared.GetMut()
	assert.False(t, ok)

	w := shared.MakeWritable()
	assert.NotSame(t, b.Buffer, w.Buffer)
	assert.Equal(t, int32(1), b.RefCount())
	w.SetPTS(3 * Second)
	assert.False(t, b.PTS().IsValid())

	w.Unref()
	b.Unref()
}

func TestReferenceTimestampMeta(t *testing.T) {
	ntp := MustCapsFromString("timestamp/x-ntp")
	defer ntp.Unref()
	ptp := MustCapsFromString("timestamp/x-ptp")
	defer ptp.Unref()

	b := NewBufferWithSize(8)
	defer b.Unref()
	require.NotNil(t, AddReferenceTimestampMeta(b, ntp, 10*Second, Second))
	require.NotNil(t, AddReferenceTimestampMeta(b, ptp, 20*Second, ClockTimeNone))
	assert.Equal(t, 2, b.NMeta(ReferenceTimestampMetaAPI))

	m, ok := ReferenceTimestampMetaFor(b.Buffer, ptp)
	require.True(t, ok)
	assert.Equal(t, 20*Second, m.Timestamp)
	m, ok = ReferenceTimestampMetaFor(b.Buffer, nil)
	require.True(t, ok)
	assert.Equal(t, 10*Second, m.Timestamp)

	head, err := b.CopyRegion(BufferCopyAll, 0, 4)
	require.NoError(t, err)
	defer head.Unref()
	assert.Equal(t, 2, head.NMeta(ReferenceTimestampMetaAPI))

	tail, err := b.CopyRegion(BufferCopyAll, 4, 4)
	require.NoError(t, err)
	defer tail.Unref()
	assert.Zero(t, tail.NMeta(ReferenceTimestampMetaAPI))

	assert.Nil(t, ReferenceTimestampMetaKind.Add(b, "not params"))
}

type counterMeta struct{ value int }

func TestDefinedMeta(t *testing.T) {
	api := RegisterMetaAPI("TestCounterMetaAPI", MetaTagVideo)
	assert.True(t, MetaAPIHasTag(api, MetaTagVideo))
	assert.False(t, MetaAPIHasTag(api, MetaTagAudio))

	var inits, frees int
	kind := DefineMeta(api, "TestCounterMeta", MetaFuncs[counterMeta]{
		Init: func(d *counterMeta, params any, _ *BufferMut) bool {
			inits++
			v, ok := params.(int)
			d.value = v
			return ok
		},
		Free: func(*counterMeta, *Buffer) { frees++ },
	})
	assert.Same(t, kind.Info(), DefineMeta(api, "TestCounterMeta", MetaFuncs[counterMeta]{}).Info())
	info, ok := FindMetaInfo("TestCounterMeta")
	require.True(t, ok)
	assert.Equal(t, api, info.API())

	b := NewBuffer()
	assert.Nil(t, kind.Add(b, "bad"))
	require.NotNil(t, kind.Add(b, 1))
	require.NotNil(t, kind.Add(b, 2))
	first, ok := kind.Get(b.Buffer)
	require.True(t, ok)
	assert.Equal(t, 1, first.value)
	assert.Len(t, kind.All(b.Buffer), 2)

	metas := b.Metas()
	require.Len(t, metas, 2)
	assert.Negative(t, metas[0].CompareSeqnum(metas[1]))

	// counter metas have no transform and are not copied
	c := b.Copy()
	assert.Zero(t, c.NMeta(api))
	c.Unref()

	metas[0].SetFlags(MetaFlagLocked)
	assert.False(t, b.RemoveMeta(metas[0]))
	b.ForeachMeta(func(*Meta) (bool, bool) { return true, true })
	assert.Equal(t, 1, b.NMeta(api))
	assert.Equal(t, 1, frees)

	b.Unref()
	assert.Equal(t, 3, inits)
	assert.Equal(t, 2, frees)
}

func TestCustomMeta(t *testing.T) {
	_, err := FindCustomMeta("test-custom-unknown")
	assert.Error(t, err)

	kind := RegisterCustomMeta("test-custom", []string{"tag"}, nil)
	found, err := FindCustomMeta("test-custom")
	require.NoError(t, err)
	assert.Same(t, kind, found)

	b := NewBuffer()
	defer b.Unref()
	cm := kind.Add(b, nil)
	require.NotNil(t, cm)
	assert.Equal(t, "test-custom", cm.Name())
	cm.Structure().Set("score", 42)

	c := b.Copy()
	defer c.Unref()
	copied, ok := kind.Get(c.Buffer)
	require.True(t, ok)
	v, err := copied.Structure().GetInt("score")
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.NotSame(t, cm.Structure(), copied.Structure())
}
