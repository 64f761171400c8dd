package gst

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInterpolationControlSource(t *testing.T) {
	cs := NewInterpolationControlSource(InterpolationLinear)
	assert.True(t, cs.Set(Second, 0))
	assert.True(t, cs.Set(3*Second, 1))
	assert.False(t, cs.Set(ClockTimeNone, 1))
	assert.False(t, cs.Set(0, math.NaN()))

	_, ok := cs.ValueAt(0)
	assert.False(t, ok, "nothing before the first point")
	v, ok := cs.ValueAt(2 * Second)
	require.True(t, ok)
	assert.InDelta(t, 0.5, v, 1e-9)
	v, _ = cs.ValueAt(10 * Second)
	assert.Equal(t, 1.0, v, "holds the last value")

	vals := make([]float64, 4)
	assert.True(t, cs.ValueArray(0, Second, vals))
	assert.True(t, math.IsNaN(vals[0]))
	assert.InDeltaSlice(t, []float64{0, 0.5, 1}, vals[1:], 1e-9)

	cs.Mode = InterpolationNone
	v, _ = cs.ValueAt(2 * Second)
	assert.Equal(t, 0.0, v)

	cs.Set(Second, 0.25)
	assert.Equal(t, []ControlPoint{{Second, 0.25}, {3 * Second, 1}}, cs.Points())
	assert.True(t, cs.Unset(Second))
	assert.False(t, cs.Unset(Second))
	cs.UnsetAll()
	assert.Zero(t, cs.Count())
}

func TestTriggerControlSource(t *testing.T) {
	cs := NewTriggerControlSource(10 * Millisecond)
	cs.Set(Second, 0.7)

	v, ok := cs.ValueAt(Second + 5*Millisecond)
	require.True(t, ok)
	assert.Equal(t, 0.7, v)
	_, ok = cs.ValueAt(Second - 5*Millisecond)
	assert.True(t, ok, "tolerance applies on both sides")
	_, ok = cs.ValueAt(2 * Second)
	assert.False(t, ok)
}

func controlledElement(t *testing.T) *Element {
	t.Helper()
	f := NewElementFactory("volumectl", RankNone, &ElementClass{
		Properties: []*ParamSpec{
			NewParamDouble("volume", "Volume", "gain", 0, 10, 1, ParamReadWrite|ParamControllable),
			NewParamInt("level", "Level", "steps", 0, 100, 0, ParamReadWrite|ParamControllable),
			NewParamBool("mute", "Mute", "", false, ParamReadWrite|ParamControllable),
			NewParamString("label", "Label", "", "", ParamReadWrite|ParamControllable),
			NewParamInt("fixed", "Fixed", "", 0, 1, 0, ParamReadWrite),
		},
	})
	e, err := f.Make("")
	require.NoError(t, err)
	return e
}

func TestDirectControlBinding(t *testing.T) {
	e := controlledElement(t)

	_, err := NewDirectControlBinding(e, "missing", NewInterpolationControlSource(InterpolationLinear))
	assert.Error(t, err)
	_, err = NewDirectControlBinding(e, "fixed", NewInterpolationControlSource(InterpolationLinear))
	assert.Error(t, err, "not controllable")
	_, err = NewDirectControlBinding(e, "label", NewInterpolationControlSource(InterpolationLinear))
	assert.Error(t, err, "strings cannot be driven")

	volSrc := NewInterpolationControlSource(InterpolationLinear)
	volSrc.Set(0, 0)
	volSrc.Set(2*Second, 1)
	vol, err := NewDirectControlBinding(e, "volume", volSrc)
	require.NoError(t, err)

	lvlSrc := NewInterpolationControlSource(InterpolationNone)
	lvlSrc.Set(0, 42)
	lvl, err := NewDirectControlBindingAbsolute(e, "level", lvlSrc)
	require.NoError(t, err)

	muteSrc := NewTriggerControlSource(0)
	muteSrc.Set(Second, 0.9)
	mute, err := NewDirectControlBinding(e, "mute", muteSrc)
	require.NoError(t, err)

	o := e.AsObject()
	assert.False(t, o.HasActiveControlBindings())
	o.AddControlBinding(vol)
	o.AddControlBinding(lvl)
	o.AddControlBinding(mute)
	assert.True(t, o.HasActiveControlBindings())

	require.NoError(t, o.SyncValues(Second))
	volume, _ := PropertyAs[float64](e, "volume")
	assert.InDelta(t, 5.0, volume, 1e-9)
	level, _ := PropertyAs[int32](e, "level")
	assert.Equal(t, int32(42), level)
	muted, _ := PropertyAs[bool](e, "mute")
	assert.True(t, muted)

	got, ok := vol.Value(2 * Second)
	require.True(t, ok)
	assert.Equal(t, 10.0, got)

	vol.SetDisabled(true)
	require.NoError(t, o.SyncValues(2*Second))
	volume, _ = PropertyAs[float64](e, "volume")
	assert.InDelta(t, 5.0, volume, 1e-9, "disabled bindings are skipped")

	o.SetControlBindingsDisabled(true)
	assert.False(t, o.HasActiveControlBindings())
	o.SetControlBindingsDisabled(false)

	b, ok := o.ControlBinding("level")
	require.True(t, ok)
	assert.Same(t, lvl, b)
	assert.True(t, o.RemoveControlBinding("level"))
	assert.False(t, o.RemoveControlBinding("level"))
}
