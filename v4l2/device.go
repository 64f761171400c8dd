package v4l2

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/thesyncim/gst"
)

// node describes one /sys/class/video4linux entry.
type node struct {
	name   string // "video0"
	path   string // "/dev/video0"
	card   string
	driver string
	index  int
}

func readNode(name string) (node, error) {
	dir := filepath.Join(sysClassRoot, name)
	card, err := os.ReadFile(filepath.Join(dir, "name"))
	if err != nil {
		return node{}, fmt.Errorf("v4l2: %s: %w", name, err)
	}
	n := node{
		name: name,
		path: filepath.Join(devRoot, name),
		card: strings.TrimSpace(string(card)),
	}
	// Nodes past index 0 of the same hardware carry metadata, not frames.
	if raw, err := os.ReadFile(filepath.Join(dir, "index")); err == nil {
		n.index, _ = strconv.Atoi(strings.TrimSpace(string(raw)))
	}
	if target, err := os.Readlink(filepath.Join(dir, "device", "driver")); err == nil {
		n.driver = filepath.Base(target)
	}
	return n, nil
}

// listNodes returns the capture nodes in numeric order.
func listNodes() ([]node, error) {
	entries, err := os.ReadDir(sysClassRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("v4l2: %w", err)
	}
	var nodes []node
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "video") {
			continue
		}
		n, err := readNode(e.Name())
		if err != nil {
			catProvider.Warning(nil, "skipping %s: %v", e.Name(), err)
			continue
		}
		if n.index != 0 {
			continue
		}
		nodes = append(nodes, n)
	}
	slices.SortFunc(nodes, func(a, b node) int { return nodeNumber(a.name) - nodeNumber(b.name) })
	return nodes, nil
}

func nodeNumber(name string) int {
	n, _ := strconv.Atoi(strings.TrimPrefix(name, "video"))
	return n
}

// deviceCaps is what any capture node may produce until it is opened.
const deviceCaps = "video/x-raw; image/jpeg"

func newDevice(n node) *gst.Device {
	props := gst.NewStructureFromFields("v4l2deviceprovider",
		"device.path", n.path,
		"device.api", "v4l2",
		"v4l2.device.card", n.card,
	)
	if n.driver != "" {
		props.Set("v4l2.device.driver", n.driver)
	}
	return gst.NewDevice(&device{path: n.path}, n.card, gst.DeviceClassVideoSource,
		gst.MustCapsFromString(deviceCaps), props)
}

type device struct {
	path string
}

// DevicePath returns the device node of a device found by the provider.
func DevicePath(d *gst.Device) (string, bool) {
	v, ok := d.Impl().(*device)
	if !ok {
		return "", false
	}
	return v.path, true
}

func (d *device) CreateElement(_ *gst.Device, name string) (*gst.Element, error) {
	e, err := gst.ElementFactoryMake("v4l2src", name)
	if err != nil {
		return nil, err
	}
	if err := e.SetProperty("device", d.path); err != nil {
		return nil, err
	}
	return e, nil
}

func (d *device) ReconfigureElement(_ *gst.Device, e *gst.Element) error {
	if _, ok := e.Impl().(*Src); !ok {
		return fmt.Errorf("v4l2: %s is not a v4l2src", e.Name())
	}
	return e.SetProperty("device", d.path)
}
