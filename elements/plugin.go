// Package elements provides the coreelements plugin: generic sources, sinks
// and filters used to build and debug pipelines.
package elements

import (
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/thesyncim/gst"
)

var plugin = gst.PluginDefine(gst.PluginDesc{
	MajorVersion: gst.VersionMajor,
	MinorVersion: gst.VersionMinor,
	Name:         "coreelements",
	Description:  "standard elements",
	Init:         pluginInit,
	Version:      gst.Version(),
	License:      "LGPL",
	Source:       "gst",
	Package:      "gst-go",
	Origin:       "https://github.com/thesyncim/gst",
})

func pluginInit(p *gst.Plugin) error {
	var errs *multierror.Error
	for _, f := range []struct {
		name  string
		rank  gst.Rank
		class *gst.ElementClass
	}{
		{"fakesrc", gst.RankNone, fakeSrcClass},
		{"fakesink", gst.RankNone, fakeSinkClass},
		{"identity", gst.RankNone, identityClass},
		{"capsfilter", gst.RankNone, capsFilterClass},
		{"videotestsrc", gst.RankNone, videoTestSrcClass},
	} {
		errs = multierror.Append(errs, gst.RegisterElement(p, f.name, f.rank, f.class))
	}
	return errs.ErrorOrNil()
}

var (
	registerOnce sync.Once
	registerErr  error
)

// Register adds the coreelements plugin to the default registry. Later calls
// return the result of the first.
func Register() error {
	registerOnce.Do(func() { registerErr = plugin.Register() })
	return registerErr
}
