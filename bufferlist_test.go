package gst

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferListOf(sizes ...int) *BufferListMut {
	l := NewBufferList(len(sizes))
	for i, n := range sizes {
		b := NewBufferWithSize(n)
		b.SetOffset(uint64(i))
		l.Add(b.Buffer)
	}
	return l
}

func TestBufferListInsertRemove(t *testing.T) {
	l := bufferListOf(1, 2, 3)
	defer l.Unref()
	assert.Equal(t, 6, l.CalculateSize())

	first := NewBufferWithSize(10)
	l.Insert(0, first.Buffer)
	assert.Same(t, first.Buffer, l.Get(0))
	assert.Equal(t, 4, l.Len())

	l.Remove(1, 2)
	require.Equal(t, 2, l.Len())
	assert.Equal(t, uint64(2), l.Get(1).Offset())
	assert.Equal(t, 13, l.CalculateSize())

	var offsets []uint64
	for _, b := range l.All() {
		offsets = append(offsets, b.Offset())
		break
	}
	assert.Len(t, offsets, 1)
}

func TestBufferListCopies(t *testing.T) {
	l := bufferListOf(4, 4)
	defer l.Unref()

	shallow := l.Copy()
	assert.Same(t, l.Get(0), shallow.Get(0))
	assert.Equal(t, int32(2), l.Get(0).RefCount())
	shallow.Unref()
	assert.Equal(t, int32(1), l.Get(0).RefCount())

	deep := l.CopyDeep()
	assert.NotSame(t, l.Get(0), deep.Get(0))
	deep.GetWritable(0).Fill(0, []byte{9})
	assert.Equal(t, byte(0), l.Get(0).Bytes()[0])
	deep.Unref()

	shared := l.Ref()
	_, ok := shared.GetMut()
	assert.False(t, ok)
	w := shared.MakeWritable()
	assert.NotSame(t, l.BufferList, w.BufferList)
	w.Unref()
}

func TestBufferListForeachMut(t *testing.T) {
	l := bufferListOf(1, 2, 3, 4)
	defer l.Unref()

	l.ForeachMut(func(i int, b *BufferMut) (*Buffer, bool) {
		if i == 1 {
			b.Unref()
			return nil, true
		}
		b.SetPTS(ClockTime(i) * Second)
		return b.Buffer, i < 2
	})
	require.Equal(t, 3, l.Len())
	assert.Equal(t, Second*2, l.Get(1).PTS())
	assert.Equal(t, ClockTimeNone, l.Get(2).PTS(), "iteration stopped before the last buffer")
}
