package gst

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct{ element string }

func (f fakeDevice) CreateElement(d *Device, name string) (*Element, error) {
	if f.element == "" {
		panic("no element for " + d.DisplayName())
	}
	return NewElement(name, nil), nil
}

type probeProvider struct{ devices []*Device }

func (p *probeProvider) Probe(*DeviceProvider) ([]*Device, error) { return p.devices, nil }

type hotplugProvider struct {
	mu       sync.Mutex
	provider *DeviceProvider
}

func (h *hotplugProvider) Probe(*DeviceProvider) ([]*Device, error) { return nil, nil }

func (h *hotplugProvider) Start(p *DeviceProvider) error {
	h.mu.Lock()
	h.provider = p
	h.mu.Unlock()
	return nil
}

func (h *hotplugProvider) Stop(*DeviceProvider) {
	h.mu.Lock()
	h.provider = nil
	h.mu.Unlock()
}

func (h *hotplugProvider) plug(d *Device) {
	h.mu.Lock()
	p := h.provider
	h.mu.Unlock()
	p.DeviceAdd(d)
}

func TestDevice(t *testing.T) {
	caps := MustCapsFromString("video/x-raw")
	defer caps.Unref()
	d := NewDevice(fakeDevice{element: "camsrc"}, "Webcam", "Video/Source", caps, nil)
	assert.NotEmpty(t, d.ID())
	assert.True(t, d.HasClasses("Video/Source"))
	assert.True(t, d.HasClasses("Source"))
	assert.False(t, d.HasClasses("Audio/Source"))
	assert.Equal(t, "Webcam (Video/Source)", d.String())

	e, err := d.CreateElement("cam")
	require.NoError(t, err)
	assert.Equal(t, "cam", e.Name())
	assert.Error(t, d.ReconfigureElement(e))

	broken := NewDevice(fakeDevice{}, "Broken", "Video/Source", nil, nil)
	_, err = broken.CreateElement("")
	var pe *PanicError
	assert.ErrorAs(t, err, &pe)
}

func TestDeviceProviderProbeOnly(t *testing.T) {
	impl := &probeProvider{devices: []*Device{
		NewDevice(fakeDevice{}, "Mic", DeviceClassAudioSource, nil, nil),
		NewDevice(fakeDevice{}, "Speaker", DeviceClassAudioSink, nil, nil),
	}}
	p := NewDeviceProvider("probe", impl)
	assert.False(t, p.CanMonitor())

	devs, err := p.Devices()
	require.NoError(t, err)
	assert.Len(t, devs, 2)

	require.NoError(t, p.Start())
	assert.True(t, p.IsStarted())
	for range 2 {
		msg := p.Bus().TimedPop(Second)
		require.NotNil(t, msg)
		assert.Equal(t, MessageDeviceAdded, msg.MessageType())
		d, _ := msg.ParseDevice()
		assert.True(t, d.HasAsParent(p))
		msg.Unref()
	}

	require.NoError(t, p.Start())
	p.Stop()
	assert.True(t, p.IsStarted(), "starts nest")
	p.Stop()
	assert.False(t, p.IsStarted())
	assert.Nil(t, impl.devices[0].Parent())
}

func TestDeviceProviderChanges(t *testing.T) {
	p := NewDeviceProvider("changes", &hotplugProvider{})
	require.True(t, p.CanMonitor())
	require.NoError(t, p.Start())
	defer p.Stop()

	old := NewDevice(fakeDevice{}, "Cam", DeviceClassVideoSource, nil, nil)
	p.DeviceAdd(old)
	changed := NewDevice(fakeDevice{}, "Cam (HD)", DeviceClassVideoSource, nil, nil)
	p.DeviceChanged(changed, old)
	devs, err := p.Devices()
	require.NoError(t, err)
	assert.Equal(t, []*Device{changed}, devs)
	assert.Nil(t, old.Parent())

	p.DeviceRemove(changed)
	p.DeviceRemove(changed)
	devs, _ = p.Devices()
	assert.Empty(t, devs)

	var types []MessageType
	for msg := p.Bus().Pop(); msg != nil; msg = p.Bus().Pop() {
		types = append(types, msg.MessageType())
		msg.Unref()
	}
	assert.Equal(t, []MessageType{MessageDeviceAdded, MessageDeviceChanged, MessageDeviceRemoved}, types)

	p.HideProvider("other")
	p.HideProvider("other")
	assert.Equal(t, []string{"other"}, p.HiddenProviders())
}

var testHotplug = &hotplugProvider{}

func registerTestProviders(t *testing.T) {
	t.Helper()
	for _, reg := range []struct {
		name  string
		class string
		impl  DeviceProviderImpl
	}{
		{"test-hotplug-provider", "Video/Source", testHotplug},
		{"test-audio-provider", "Audio/Source", &probeProvider{devices: []*Device{
			NewDevice(fakeDevice{}, "Line in", DeviceClassAudioSource, nil, nil),
		}}},
	} {
		err := RegisterDeviceProvider(nil, reg.name, RankPrimary, ElementMetadata{Classification: reg.class},
			func() DeviceProviderImpl { return reg.impl })
		if err != nil {
			require.ErrorIs(t, err, ErrFeatureExists)
		}
	}
}

func TestDeviceMonitor(t *testing.T) {
	registerTestProviders(t)

	m := NewDeviceMonitor()
	id := m.AddFilter("Video/Source", nil)
	require.NoError(t, m.Start())
	require.NoError(t, m.Start())
	assert.Contains(t, m.Providers(), "test-hotplug-provider")
	assert.NotContains(t, m.Providers(), "test-audio-provider")

	testHotplug.plug(NewDevice(fakeDevice{}, "USB cam", DeviceClassVideoSource, nil, nil))
	testHotplug.plug(NewDevice(fakeDevice{}, "Stray mic", DeviceClassAudioSource, nil, nil))

	msg := m.Bus().TimedPopFiltered(5*Second, MessageDeviceAdded)
	require.NotNil(t, msg)
	d, _ := msg.ParseDevice()
	assert.Equal(t, "USB cam", d.DisplayName())
	msg.Unref()
	assert.Nil(t, m.Bus().TimedPop(50*Millisecond), "filtered devices are not forwarded")

	m.Stop()
	m.Stop()
	assert.Empty(t, m.Providers())

	assert.True(t, m.RemoveFilter(id))
	assert.False(t, m.RemoveFilter(id))
	m.AddFilter("Audio/Source", nil)
	devs, err := m.Devices()
	require.NoError(t, err)
	var names []string
	for _, d := range devs {
		names = append(names, d.DisplayName())
	}
	assert.Contains(t, names, "Line in")
}
