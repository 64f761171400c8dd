package v4l2

import (
	"path/filepath"
	"sync"

	"github.com/thesyncim/gst"
)

// Provider lists capture nodes and, while started, follows udev add, change
// and remove events for the video4linux subsystem.
type Provider struct {
	mu      sync.Mutex
	devices map[string]*gst.Device // by device path
	stop    func()
}

// NewProvider returns a provider for the v4l2deviceprovider factory.
func NewProvider() *Provider {
	return &Provider{devices: make(map[string]*gst.Device)}
}

func (p *Provider) Probe(*gst.DeviceProvider) ([]*gst.Device, error) {
	nodes, err := listNodes()
	if err != nil {
		return nil, err
	}
	devs := make([]*gst.Device, 0, len(nodes))
	for _, n := range nodes {
		devs = append(devs, newDevice(n))
	}
	return devs, nil
}

// Start announces the present devices and starts following udev.
func (p *Provider) Start(dp *gst.DeviceProvider) error {
	stop, err := watch(func(action, devname string) { p.handle(dp, action, devname) })
	if err != nil {
		return err
	}
	nodes, err := listNodes()
	if err != nil {
		stop()
		return err
	}
	p.mu.Lock()
	p.stop = stop
	p.mu.Unlock()
	for _, n := range nodes {
		p.handle(dp, actionAdd, n.path)
	}
	return nil
}

func (p *Provider) Stop(*gst.DeviceProvider) {
	p.mu.Lock()
	stop := p.stop
	p.stop = nil
	clear(p.devices)
	p.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// udev actions handled by the provider
const (
	actionAdd    = "add"
	actionChange = "change"
	actionRemove = "remove"
)

// handle applies one udev event for devname, "/dev/videoN" or "videoN".
func (p *Provider) handle(dp *gst.DeviceProvider, action, devname string) {
	if devname == "" {
		return
	}
	name := filepath.Base(devname)
	path := filepath.Join(devRoot, name)

	switch action {
	case actionAdd, actionChange:
		n, err := readNode(name)
		if err != nil {
			catProvider.Warning(dp, "%s %s: %v", action, devname, err)
			return
		}
		if n.index != 0 {
			return
		}
		d := newDevice(n)
		p.mu.Lock()
		old, known := p.devices[path]
		p.devices[path] = d
		p.mu.Unlock()
		if known {
			catProvider.Debug(dp, "changed %s", path)
			dp.DeviceChanged(d, old)
			return
		}
		catProvider.Debug(dp, "added %s (%s)", path, n.card)
		dp.DeviceAdd(d)
	case actionRemove:
		p.mu.Lock()
		d, ok := p.devices[path]
		delete(p.devices, path)
		p.mu.Unlock()
		if ok {
			catProvider.Debug(dp, "removed %s", path)
			dp.DeviceRemove(d)
		}
	}
}

var (
	_ gst.DeviceProviderImpl        = (*Provider)(nil)
	_ gst.DeviceProviderMonitorImpl = (*Provider)(nil)
)
