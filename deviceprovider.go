package gst

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Common device classes.
const (
	DeviceClassVideoSource = "Video/Source"
	DeviceClassAudioSource = "Audio/Source"
	DeviceClassAudioSink   = "Audio/Sink"
)

// DeviceImpl creates elements for a device and may reconfigure existing ones.
type DeviceImpl interface {
	CreateElement(d *Device, name string) (*Element, error)
}

// DeviceReconfigureImpl is implemented by devices that can retarget an element
// made for another device of the same provider.
type DeviceReconfigureImpl interface {
	ReconfigureElement(d *Device, e *Element) error
}

// Device is a piece of hardware or a virtual endpoint a provider found.
type Device struct {
	Object

	impl        DeviceImpl
	id          string
	displayName string
	class       string
	caps        *Caps
	props       *Structure
}

// NewDevice returns a device. props may be nil.
func NewDevice(impl DeviceImpl, displayName, class string, caps *Caps, props *Structure) *Device {
	d := &Device{impl: impl, id: uuid.NewString(), displayName: displayName, class: class, caps: caps, props: props}
	d.initObject(d, "", "device", nil)
	return d
}

func (d *Device) ID() string             { return d.id }
func (d *Device) DisplayName() string    { return d.displayName }
func (d *Device) DeviceClass() string    { return d.class }
func (d *Device) Caps() *Caps            { return d.caps }
func (d *Device) Properties() *Structure { return d.props }
func (d *Device) Impl() DeviceImpl       { return d.impl }

// HasClasses reports whether the device class contains every "/" separated
// component of classes.
func (d *Device) HasClasses(classes string) bool {
	have := strings.Split(d.class, "/")
	for _, c := range strings.Split(classes, "/") {
		if c != "" && !slices.Contains(have, c) {
			return false
		}
	}
	return true
}

// CreateElement returns an element capturing from or rendering to d.
func (d *Device) CreateElement(name string) (e *Element, err error) {
	defer catchPanic(catDefault, d, "create element", &err)
	if d.impl == nil {
		return nil, fmt.Errorf("gst: device %s can't create elements", d.displayName)
	}
	return d.impl.CreateElement(d, name)
}

// ReconfigureElement points e at d when supported.
func (d *Device) ReconfigureElement(e *Element) error {
	r, ok := d.impl.(DeviceReconfigureImpl)
	if !ok {
		return fmt.Errorf("gst: device %s can't reconfigure elements", d.displayName)
	}
	return r.ReconfigureElement(d, e)
}

func (d *Device) String() string { return fmt.Sprintf("%s (%s)", d.displayName, d.class) }

// DeviceProviderImpl lists devices. Providers that can monitor hot-plug events
// also implement DeviceProviderMonitorImpl.
type DeviceProviderImpl interface {
	Probe(p *DeviceProvider) ([]*Device, error)
}

// DeviceProviderMonitorImpl starts and stops hot-plug monitoring. While
// started, the provider reports changes with DeviceAdd, DeviceRemove and
// DeviceChanged.
type DeviceProviderMonitorImpl interface {
	Start(p *DeviceProvider) error
	Stop(p *DeviceProvider)
}

// DeviceProvider finds devices of some kind and posts device messages on its bus.
type DeviceProvider struct {
	Object

	impl    DeviceProviderImpl
	factory *DeviceProviderFactory
	bus     *Bus

	// protected by the object lock
	devices []*Device
	started int
	hidden  []string
}

// NewDeviceProvider returns a provider driven by impl.
func NewDeviceProvider(name string, impl DeviceProviderImpl) *DeviceProvider {
	p := &DeviceProvider{impl: impl, bus: NewBus()}
	p.initObject(p, name, "deviceprovider", nil)
	return p
}

// Impl returns the implementation.
func (p *DeviceProvider) Impl() DeviceProviderImpl { return p.impl }

// Bus returns the bus device messages are posted on.
func (p *DeviceProvider) Bus() *Bus { return p.bus }

// Factory returns the factory that made p, or nil.
func (p *DeviceProvider) Factory() *DeviceProviderFactory { return p.factory }

// CanMonitor reports whether the provider reports hot-plug events.
func (p *DeviceProvider) CanMonitor() bool {
	_, ok := p.impl.(DeviceProviderMonitorImpl)
	return ok
}

// Devices returns the known devices. Without a running monitor the provider is
// probed.
func (p *DeviceProvider) Devices() ([]*Device, error) {
	p.mu.Lock()
	if p.started > 0 {
		out := slices.Clone(p.devices)
		p.mu.Unlock()
		return out, nil
	}
	p.mu.Unlock()
	return p.probe()
}

func (p *DeviceProvider) probe() (devs []*Device, err error) {
	defer catchPanic(catDefault, p, "probe", &err)
	devs, err = p.impl.Probe(p)
	if err != nil {
		return nil, fmt.Errorf("gst: probe %s: %w", p.Name(), err)
	}
	return devs, nil
}

// Start begins monitoring. Calls nest; each Start needs a Stop. Providers
// without monitoring support are probed once and their devices announced.
func (p *DeviceProvider) Start() error {
	p.mu.Lock()
	p.started++
	first := p.started == 1
	p.mu.Unlock()
	if !first {
		return nil
	}
	err := p.start()
	if err != nil {
		p.mu.Lock()
		p.started--
		p.mu.Unlock()
	}
	return err
}

func (p *DeviceProvider) start() (err error) {
	m, ok := p.impl.(DeviceProviderMonitorImpl)
	if !ok {
		devs, err := p.probe()
		if err != nil {
			return err
		}
		for _, d := range devs {
			p.DeviceAdd(d)
		}
		return nil
	}
	defer catchPanic(catDefault, p, "start", &err)
	if err := m.Start(p); err != nil {
		return fmt.Errorf("gst: start %s: %w", p.Name(), err)
	}
	return nil
}

// Stop ends one Start.
func (p *DeviceProvider) Stop() {
	p.mu.Lock()
	if p.started == 0 {
		p.mu.Unlock()
		catDefault.Warning(p, "stop without start")
		return
	}
	p.started--
	last := p.started == 0
	var devs []*Device
	if last {
		devs, p.devices = p.devices, nil
	}
	p.mu.Unlock()
	if !last {
		return
	}
	if m, ok := p.impl.(DeviceProviderMonitorImpl); ok {
		func() {
			defer catchPanic(catDefault, p, "stop", nil)
			m.Stop(p)
		}()
	}
	for _, d := range devs {
		d.Unparent()
	}
}

// IsStarted reports whether monitoring is running.
func (p *DeviceProvider) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started > 0
}

// DeviceAdd records d and posts device-added.
func (p *DeviceProvider) DeviceAdd(d *Device) {
	if err := d.SetParent(p); err != nil && !d.HasAsParent(p) {
		catDefault.Warning(p, "device %s already has a provider", d)
		return
	}
	p.mu.Lock()
	p.devices = append(p.devices, d)
	p.mu.Unlock()
	p.bus.Post(NewDeviceAddedMessage(p, d))
}

// DeviceRemove forgets d and posts device-removed.
func (p *DeviceProvider) DeviceRemove(d *Device) {
	p.mu.Lock()
	i := slices.Index(p.devices, d)
	if i >= 0 {
		p.devices = slices.Delete(p.devices, i, i+1)
	}
	p.mu.Unlock()
	if i < 0 {
		return
	}
	p.bus.Post(NewDeviceRemovedMessage(p, d))
	d.Unparent()
}

// DeviceChanged replaces old with changed and posts device-changed.
func (p *DeviceProvider) DeviceChanged(changed, old *Device) {
	p.mu.Lock()
	i := slices.Index(p.devices, old)
	if i < 0 {
		p.mu.Unlock()
		catDefault.Warning(p, "changed device %s is unknown", old)
		return
	}
	p.devices[i] = changed
	p.mu.Unlock()
	old.Unparent()
	_ = changed.SetParent(p)
	p.bus.Post(NewDeviceChangedMessage(p, changed, old))
}

// HideProvider hides the devices of the named provider, for providers that
// wrap others.
func (p *DeviceProvider) HideProvider(name string) {
	p.mu.Lock()
	if !slices.Contains(p.hidden, name) {
		p.hidden = append(p.hidden, name)
	}
	p.mu.Unlock()
}

// HiddenProviders returns the names passed to HideProvider.
func (p *DeviceProvider) HiddenProviders() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.hidden)
}

// DeviceProviderFactory is the registry feature creating device providers.
type DeviceProviderFactory struct {
	pluginFeature
	metadata ElementMetadata
	create   func() DeviceProviderImpl

	mu       sync.Mutex
	provider *DeviceProvider
}

// RegisterDeviceProvider registers a device provider factory.
func RegisterDeviceProvider(plugin *Plugin, name string, rank Rank, metadata ElementMetadata, create func() DeviceProviderImpl) error {
	f := &DeviceProviderFactory{pluginFeature: pluginFeature{name: name, rank: rank}, metadata: metadata, create: create}
	return DefaultRegistry().addFeatureFor(plugin, f)
}

// Metadata returns the factory metadata.
func (f *DeviceProviderFactory) Metadata() ElementMetadata { return f.metadata }

// Get returns the provider of this factory, creating it on first use.
func (f *DeviceProviderFactory) Get() (*DeviceProvider, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.provider != nil {
		return f.provider, nil
	}
	if f.create == nil {
		return nil, fmt.Errorf("gst: device provider factory %s is not loaded", f.Name())
	}
	p := NewDeviceProvider(f.Name(), f.create())
	p.factory = f
	f.provider = p
	return p, nil
}

// HasClasses reports whether the factory's klass contains every component of classes.
func (f *DeviceProviderFactory) HasClasses(classes string) bool {
	have := strings.Split(f.metadata.Classification, "/")
	for _, c := range strings.Split(classes, "/") {
		if c != "" && !slices.Contains(have, c) {
			return false
		}
	}
	return true
}

// DeviceProviderFactories returns the registered factories with at least rank,
// highest first.
func DeviceProviderFactories(minRank Rank) []*DeviceProviderFactory {
	return FeaturesOfType(DefaultRegistry(), func(f *DeviceProviderFactory) bool { return f.Rank() >= minRank })
}

// DeviceMonitor aggregates the devices of every provider matching its filters
// and forwards their messages to one bus.
type DeviceMonitor struct {
	mu        sync.Mutex
	bus       *Bus
	filters   map[int]deviceFilter
	nextID    int
	providers []*DeviceProvider
	started   bool
	stops     []chan struct{}
	wg        sync.WaitGroup
}

type deviceFilter struct {
	classes string
	caps    *Caps
}

// NewDeviceMonitor returns a monitor without filters.
func NewDeviceMonitor() *DeviceMonitor {
	return &DeviceMonitor{bus: NewBus(), filters: make(map[int]deviceFilter)}
}

// Bus returns the bus receiving device messages.
func (m *DeviceMonitor) Bus() *Bus { return m.bus }

// AddFilter restricts the monitor to devices of classes whose caps intersect
// caps. Either may be empty. It returns an id for RemoveFilter.
func (m *DeviceMonitor) AddFilter(classes string, caps *Caps) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.filters[m.nextID] = deviceFilter{classes: classes, caps: caps}
	return m.nextID
}

// RemoveFilter drops a filter added with AddFilter.
func (m *DeviceMonitor) RemoveFilter(id int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.filters[id]
	delete(m.filters, id)
	return ok
}

func (m *DeviceMonitor) matches(d *Device) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.filters) == 0 {
		return true
	}
	for _, f := range m.filters {
		if f.classes != "" && !d.HasClasses(f.classes) {
			continue
		}
		if f.caps != nil && d.Caps() != nil && !f.caps.CanIntersect(d.Caps()) {
			continue
		}
		return true
	}
	return false
}

func (m *DeviceMonitor) factoryMatches(f *DeviceProviderFactory) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.filters) == 0 {
		return true
	}
	for _, flt := range m.filters {
		if flt.classes == "" || f.HasClasses(flt.classes) {
			return true
		}
	}
	return false
}

func (m *DeviceMonitor) selectProviders() ([]*DeviceProvider, error) {
	var out []*DeviceProvider
	for _, f := range DeviceProviderFactories(RankMarginal) {
		if !m.factoryMatches(f) {
			continue
		}
		p, err := f.Get()
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	var hidden []string
	for _, p := range out {
		hidden = append(hidden, p.HiddenProviders()...)
	}
	return slices.DeleteFunc(out, func(p *DeviceProvider) bool { return slices.Contains(hidden, p.Name()) }), nil
}

// Devices probes the matching providers and returns the matching devices.
func (m *DeviceMonitor) Devices() ([]*Device, error) {
	providers, err := m.selectProviders()
	if err != nil {
		return nil, err
	}
	var out []*Device
	for _, p := range providers {
		devs, err := p.Devices()
		if err != nil {
			catDefault.Warning(p, "%v", err)
			continue
		}
		for _, d := range devs {
			if m.matches(d) {
				out = append(out, d)
			}
		}
	}
	return out, nil
}

// Start starts every matching provider and forwards their device messages.
func (m *DeviceMonitor) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	providers, err := m.selectProviders()
	if err != nil {
		return err
	}
	var (
		started []*DeviceProvider
		stops   []chan struct{}
	)
	for _, p := range providers {
		stop := make(chan struct{})
		m.forward(p, stop)
		if err := p.Start(); err != nil {
			close(stop)
			catDefault.Warning(p, "%v", err)
			continue
		}
		stops = append(stops, stop)
		started = append(started, p)
	}
	m.mu.Lock()
	m.providers, m.stops = started, stops
	m.started = true
	m.mu.Unlock()
	return nil
}

func (m *DeviceMonitor) forward(p *DeviceProvider, stop chan struct{}) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			msg := p.Bus().q.pop(ClockTimeNone, MessageAny, stop)
			if msg == nil {
				return
			}
			if isDeviceMessage(msg) {
				if d, _ := msg.ParseDevice(); d != nil && m.matches(d) {
					m.bus.Post(msg)
					continue
				}
			}
			msg.Unref()
		}
	}()
}

func isDeviceMessage(msg *Message) bool {
	switch msg.MessageType() {
	case MessageDeviceAdded, MessageDeviceRemoved, MessageDeviceChanged:
		return true
	}
	return false
}

// Stop stops the providers started by Start.
func (m *DeviceMonitor) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	providers, stops := m.providers, m.stops
	m.providers, m.stops, m.started = nil, nil, false
	m.mu.Unlock()
	for _, p := range providers {
		p.Stop()
	}
	for _, s := range stops {
		close(s)
	}
	m.wg.Wait()
}

// Providers returns the names of the providers in use.
func (m *DeviceMonitor) Providers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.providers))
	for _, p := range m.providers {
		names = append(names, p.Name())
	}
	return names
}
