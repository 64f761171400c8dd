package rtp

import (
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/thesyncim/gst"
)

var plugin = gst.PluginDefine(gst.PluginDesc{
	MajorVersion: gst.VersionMajor,
	MinorVersion: gst.VersionMinor,
	Name:         "rtp",
	Description:  "Real-time protocol plugins",
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
		{"rtpvp8pay", gst.RankMarginal, vp8PayClass},
		{"rtpvp8depay", gst.RankMarginal, vp8DepayClass},
		{"rtpvp9pay", gst.RankMarginal, vp9PayClass},
		{"rtpvp9depay", gst.RankMarginal, vp9DepayClass},
		{"rtpopuspay", gst.RankPrimary, opusPayClass},
		{"rtpopusdepay", gst.RankPrimary, opusDepayClass},
		{"rtph264pay", gst.RankSecondary, h264PayClass},
		{"rtph264depay", gst.RankSecondary, h264DepayClass},
	} {
		errs = multierror.Append(errs, gst.RegisterElement(p, f.name, f.rank, f.class))
	}
	return errs.ErrorOrNil()
}

var (
	registerOnce sync.Once
	registerErr  error
)

// Register adds the rtp plugin to the default registry.
func Register() error {
	registerOnce.Do(func() { registerErr = plugin.Register() })
	return registerErr
}
