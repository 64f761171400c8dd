// Package v4l2 provides the video4linux2 plugin: a device provider listing the
// capture nodes of /sys/class/video4linux, watching udev for hot-plugged
// cameras, and v4l2src reading frames from a node.
package v4l2

import (
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/thesyncim/gst"
)

var (
	catV4L2     = gst.NewDebugCategory("v4l2", "V4L2 API calls")
	catProvider = gst.NewDebugCategory("v4l2deviceprovider", "V4L2 device provider")
)

// Locations the provider reads. Tests point them at fixtures.
var (
	sysClassRoot = "/sys/class/video4linux"
	devRoot      = "/dev"
)

var plugin = gst.PluginDefine(gst.PluginDesc{
	MajorVersion: gst.VersionMajor,
	MinorVersion: gst.VersionMinor,
	Name:         "video4linux2",
	Description:  "elements for Video 4 Linux",
	Init:         pluginInit,
	Version:      gst.Version(),
	License:      "LGPL",
	Source:       "gst",
	Package:      "gst-go",
	Origin:       "https://github.com/thesyncim/gst",
})

func pluginInit(p *gst.Plugin) error {
	var errs *multierror.Error
	errs = multierror.Append(errs, gst.RegisterElement(p, "v4l2src", gst.RankPrimary, srcClass))
	errs = multierror.Append(errs, gst.RegisterDeviceProvider(p, "v4l2deviceprovider", gst.RankPrimary,
		gst.ElementMetadata{
			LongName:       "Video (video4linux2) Device Provider",
			Classification: "Source/Video",
			Description:    "List and monitor video4linux2 source devices",
			Author:         "gst-go",
		},
		func() gst.DeviceProviderImpl { return NewProvider() },
	))
	return errs.ErrorOrNil()
}

var (
	registerOnce sync.Once
	registerErr  error
)

// Register adds the video4linux2 plugin to the default registry. Later calls
// return the result of the first.
func Register() error {
	registerOnce.Do(func() { registerErr = plugin.Register() })
	return registerErr
}
