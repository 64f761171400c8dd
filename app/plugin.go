package app

import (
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/thesyncim/gst"
)

var plugin = gst.PluginDefine(gst.PluginDesc{
	MajorVersion: gst.VersionMajor,
	MinorVersion: gst.VersionMinor,
	Name:         "app",
	Description:  "Elements used to communicate with applications",
	Init:         pluginInit,
	Version:      gst.Version(),
	License:      "LGPL",
	Source:       "gst",
	Package:      "gst-go",
	Origin:       "https://github.com/thesyncim/gst",
})

func pluginInit(p *gst.Plugin) error {
	var errs *multierror.Error
	errs = multierror.Append(errs, gst.RegisterElement(p, "appsrc", gst.RankNone, appSrcClass))
	errs = multierror.Append(errs, gst.RegisterElement(p, "appsink", gst.RankNone, appSinkClass))
	return errs.ErrorOrNil()
}

var (
	registerOnce sync.Once
	registerErr  error
)

// Register adds the app plugin to the default registry.
func Register() error {
	registerOnce.Do(func() { registerErr = plugin.Register() })
	return registerErr
}
