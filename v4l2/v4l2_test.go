package v4l2

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesyncim/gst"
	"github.com/thesyncim/gst/check"
)

func TestMain(m *testing.M) {
	if err := gst.InitWithConfig(gst.Config{}); err != nil {
		panic(err)
	}
	if err := Register(); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// fakeSysfs points the provider at a temporary /sys/class/video4linux.
func fakeSysfs(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	oldSys, oldDev := sysClassRoot, devRoot
	sysClassRoot, devRoot = filepath.Join(root, "sys"), filepath.Join(root, "dev")
	require.NoError(t, os.MkdirAll(sysClassRoot, 0o755))
	t.Cleanup(func() { sysClassRoot, devRoot = oldSys, oldDev })
	return root
}

func addNode(t *testing.T, name, card, index, driver string) {
	t.Helper()
	dir := filepath.Join(sysClassRoot, name)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "device"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "name"), []byte(card+"\n"), 0o644))
	if index != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "index"), []byte(index+"\n"), 0o644))
	}
	if driver != "" {
		require.NoError(t, os.Symlink("../../../bus/usb/drivers/"+driver, filepath.Join(dir, "device", "driver")))
	}
}

func TestProbe(t *testing.T) {
	fakeSysfs(t)
	addNode(t, "video10", "Capture Card", "", "")
	addNode(t, "video0", "Integrated Camera", "0", "uvcvideo")
	addNode(t, "video1", "Integrated Camera", "1", "uvcvideo")
	addNode(t, "v4l-subdev0", "sensor", "0", "")

	devs, err := NewProvider().Probe(nil)
	require.NoError(t, err)
	require.Len(t, devs, 2)

	cam := devs[0]
	assert.Equal(t, "Integrated Camera", cam.DisplayName())
	assert.Equal(t, gst.DeviceClassVideoSource, cam.DeviceClass())
	assert.True(t, cam.HasClasses("Video/Source"))
	assert.True(t, cam.Caps().CanIntersect(gst.MustCapsFromString("image/jpeg")))
	path, _ := cam.Properties().GetString("device.path")
	assert.Equal(t, filepath.Join(devRoot, "video0"), path)
	driver, _ := cam.Properties().GetString("v4l2.device.driver")
	assert.Equal(t, "uvcvideo", driver)

	path, ok := DevicePath(devs[1])
	require.True(t, ok)
	assert.Equal(t, filepath.Join(devRoot, "video10"), path)
	assert.False(t, devs[1].Properties().Has("v4l2.device.driver"))
}

func TestProbeWithoutVideo4Linux(t *testing.T) {
	fakeSysfs(t)
	sysClassRoot = filepath.Join(sysClassRoot, "missing")
	devs, err := NewProvider().Probe(nil)
	require.NoError(t, err)
	assert.Empty(t, devs)
}

func popDevice(t *testing.T, bus *gst.Bus, want gst.MessageType) *gst.Device {
	t.Helper()
	msg := bus.TimedPop(gst.Second)
	require.NotNil(t, msg)
	defer msg.Unref()
	require.Equal(t, want, msg.MessageType())
	d, _ := msg.ParseDevice()
	require.NotNil(t, d)
	return d
}

func TestHotplug(t *testing.T) {
	fakeSysfs(t)
	p := NewProvider()
	dp := gst.NewDeviceProvider("v4l2deviceprovider", p)
	bus := dp.Bus()

	addNode(t, "video2", "USB Camera", "0", "uvcvideo")
	p.handle(dp, actionAdd, "/dev/video2")
	added := popDevice(t, bus, gst.MessageDeviceAdded)
	assert.Equal(t, "USB Camera", added.DisplayName())

	require.NoError(t, os.WriteFile(filepath.Join(sysClassRoot, "video2", "name"), []byte("USB Camera HD\n"), 0o644))
	p.handle(dp, actionChange, "video2")
	changed := popDevice(t, bus, gst.MessageDeviceChanged)
	assert.Equal(t, "USB Camera HD", changed.DisplayName())

	addNode(t, "video3", "USB Camera HD", "1", "uvcvideo")
	p.handle(dp, actionAdd, "/dev/video3")
	p.handle(dp, actionRemove, "/dev/video9")
	p.handle(dp, actionAdd, "")
	assert.False(t, bus.HavePending(), "metadata nodes and unknown devices are ignored")

	p.handle(dp, actionRemove, "/dev/video2")
	removed := popDevice(t, bus, gst.MessageDeviceRemoved)
	assert.Same(t, changed, removed)
}

func TestCreateElement(t *testing.T) {
	fakeSysfs(t)
	addNode(t, "video0", "Front", "0", "")
	addNode(t, "video4", "Back", "0", "")
	devs, err := NewProvider().Probe(nil)
	require.NoError(t, err)
	require.Len(t, devs, 2)

	e, err := devs[0].CreateElement("camera")
	require.NoError(t, err)
	assert.Equal(t, "camera", e.Name())
	assert.IsType(t, &Src{}, e.Impl())
	device, _ := gst.PropertyAs[string](e, "device")
	assert.Equal(t, filepath.Join(devRoot, "video0"), device)

	require.NoError(t, devs[1].ReconfigureElement(e))
	device, _ = gst.PropertyAs[string](e, "device")
	assert.Equal(t, filepath.Join(devRoot, "video4"), device)

	assert.Error(t, devs[1].ReconfigureElement(gst.NewPipeline("").AsElement()))
}

func TestRegistered(t *testing.T) {
	var factory *gst.DeviceProviderFactory
	for _, f := range gst.DeviceProviderFactories(gst.RankPrimary) {
		if f.Name() == "v4l2deviceprovider" {
			factory = f
		}
	}
	require.NotNil(t, factory)
	assert.True(t, factory.HasClasses("Source/Video"))
	dp, err := factory.Get()
	require.NoError(t, err)
	assert.IsType(t, &Provider{}, dp.Impl())
	assert.True(t, dp.CanMonitor())

	src := gst.ElementFactoryFind("v4l2src")
	require.NotNil(t, src)
	assert.Equal(t, "Source/Video", src.Klass())
}

func TestFrameLayout(t *testing.T) {
	for caps, want := range map[string]struct {
		size     int
		duration gst.ClockTime
	}{
		"video/x-raw, format=(string)I420, width=(int)320, height=(int)240, framerate=(fraction)30/1": {115200, 33333333},
		"video/x-raw, format=(string)I420, width=(int)3, height=(int)3":                               {17, gst.ClockTimeNone},
		"video/x-raw, format=(string)YUY2, width=(int)640, height=(int)480":                           {614400, gst.ClockTimeNone},
		"video/x-raw, format=(string)BGRx, width=(int)2, height=(int)2, framerate=(fraction)25/1":     {16, 40 * gst.Millisecond},
		"video/x-raw, format=(string)v210, width=(int)2, height=(int)2":                               {0, gst.ClockTimeNone},
		"image/jpeg, framerate=(fraction)15/1":                                                        {0, 66666666},
	} {
		c := gst.MustCapsFromString(caps)
		size, duration := frameLayout(c.Structure(0))
		assert.Equal(t, want.size, size, caps)
		assert.Equal(t, want.duration, duration, caps)
		c.Unref()
	}
}

func TestSrcReadsFrames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "video0")
	data := []byte("aaaaaaaabbbbbbbbccccccccdd")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	e, err := gst.ElementFactoryMake("v4l2src", "")
	require.NoError(t, err)
	require.NoError(t, e.SetProperty("device", path))
	h, err := check.NewWithElement(e)
	require.NoError(t, err)
	defer h.Teardown()
	require.NoError(t, h.SetSinkCapsString("video/x-raw, format=(string)GRAY8, width=(int)4, height=(int)2, framerate=(fraction)10/1"))
	require.NoError(t, h.Play())

	for _, want := range []string{"aaaaaaaa", "bbbbbbbb", "cccccccc"} {
		buf, err := h.Pull()
		require.NoError(t, err)
		m, err := buf.MapReadable()
		require.NoError(t, err)
		assert.Equal(t, want, string(m.Data))
		m.Unmap()
		assert.Equal(t, 100*gst.Millisecond, buf.Duration())
		buf.Unref()
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ev, err := h.PullEvent()
		require.NoError(t, err)
		typ := ev.EventType()
		ev.Unref()
		if typ == gst.EventEOS {
			break
		}
	}
	assert.Zero(t, h.BuffersInQueue(), "the short trailing frame is dropped")
}

func TestSrcMissingDevice(t *testing.T) {
	e, err := gst.ElementFactoryMake("v4l2src", "")
	require.NoError(t, err)
	require.NoError(t, e.SetProperty("device", filepath.Join(t.TempDir(), "video0")))
	h, err := check.NewWithElement(e)
	require.NoError(t, err)
	defer h.Teardown()
	assert.Error(t, h.Play())
}
