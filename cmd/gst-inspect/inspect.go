package main

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/thesyncim/gst"
)

func featureKind(f gst.PluginFeature) (kind, description string) {
	switch f := f.(type) {
	case *gst.ElementFactory:
		return "element", f.Class().Metadata.LongName
	case *gst.DeviceProviderFactory:
		return "device provider", f.Metadata().LongName
	case *gst.TracerFactory:
		return "tracer", ""
	}
	return "feature", ""
}

func hasKlass(f gst.PluginFeature, klass string) bool {
	if klass == "" {
		return true
	}
	ef, ok := f.(*gst.ElementFactory)
	if !ok {
		return false
	}
	have := strings.Split(ef.Klass(), "/")
	for _, c := range strings.Split(klass, "/") {
		if c != "" && !slices.Contains(have, c) {
			return false
		}
	}
	return true
}

// printAll lists every feature, or with details prints each element in full.
func printAll(w io.Writer, klass string, details bool) {
	var rows [][]string
	plugins := map[string]bool{}
	for _, f := range gst.DefaultRegistry().Features() {
		if !hasKlass(f, klass) {
			continue
		}
		if details {
			if ef, ok := f.(*gst.ElementFactory); ok {
				if err := printElement(w, ef); err != nil {
					fmt.Fprintf(w, "%s: %v\n", ef.Name(), err)
				}
				fmt.Fprintln(w)
			}
			continue
		}
		kind, desc := featureKind(f)
		plugin := f.PluginName()
		plugins[plugin] = true
		rows = append(rows, []string{plugin, f.Name(), kind, desc})
	}
	if details {
		return
	}
	slices.SortStableFunc(rows, func(a, b []string) int { return strings.Compare(a[0], b[0]) })
	fmt.Fprintln(w, renderTable([]string{"Plugin", "Feature", "Type", "Description"}, rows))
	fmt.Fprintf(w, "\nTotal count: %d plugins, %d features\n", len(plugins), len(rows))
}

func printURIHandlers(w io.Writer) {
	var rows [][]string
	for _, f := range gst.ElementFactoryListFilter(func(f *gst.ElementFactory) bool { return f.URIType() != gst.URIUnknown }) {
		rows = append(rows, []string{f.Name(), f.URIType().String(), strings.Join(f.URIProtocols(), ", ")})
	}
	fmt.Fprintln(w, renderTable([]string{"Element", "Type", "Protocols"}, rows))
}

func pluginDetails(p *gst.Plugin) [][2]string {
	return [][2]string{
		{"Name", p.Name()},
		{"Description", p.Description()},
		{"Filename", cmp.Or(p.Filename(), "(static)")},
		{"Version", p.Version()},
		{"License", p.License()},
		{"Source module", p.Source()},
		{"Binary package", p.Package()},
		{"Origin URL", p.Origin()},
		{"Release date", p.ReleaseDatetime()},
	}
}

func printPlugin(w io.Writer, p *gst.Plugin) {
	fmt.Fprintln(w, "Plugin Details:")
	fmt.Fprintln(w, renderDetails(pluginDetails(p)))
	if p.Flags()&gst.PluginFlagBlacklisted != 0 {
		fmt.Fprintln(w, "\nThis plugin failed to load and is blacklisted.")
		return
	}

	var rows [][]string
	for _, name := range p.FeatureNames() {
		f := gst.DefaultRegistry().LookupFeature(name)
		if f == nil {
			rows = append(rows, []string{name, "cached", ""})
			continue
		}
		kind, desc := featureKind(f)
		rows = append(rows, []string{name, kind, desc})
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, renderTable([]string{"Feature", "Type", "Description"}, rows))
	fmt.Fprintf(w, "\n%d features\n", len(rows))
}

func metadataDetails(rank gst.Rank, md gst.ElementMetadata) [][2]string {
	pairs := [][2]string{{"Rank", fmt.Sprintf("%s (%d)", rank, int(rank))}}
	for _, key := range md.Keys() {
		pairs = append(pairs, [2]string{key, md.Get(key)})
	}
	return pairs
}

func printElement(w io.Writer, f *gst.ElementFactory) error {
	class := f.Class()
	fmt.Fprintln(w, "Factory Details:")
	fmt.Fprintln(w, renderDetails(metadataDetails(f.Rank(), class.Metadata)))

	if p := f.Plugin(); p != nil {
		fmt.Fprintln(w, "\nPlugin Details:")
		fmt.Fprintln(w, renderDetails(pluginDetails(p)))
	}

	if len(class.Interfaces) > 0 {
		fmt.Fprintln(w, "\nImplemented Interfaces:")
		for _, iface := range class.Interfaces {
			fmt.Fprintf(w, "  %s\n", iface)
		}
	}

	var templates [][]string
	for _, t := range f.StaticPadTemplates() {
		templates = append(templates, []string{
			t.NameTemplate(), t.Direction().String(), t.Presence().String(), capsLines(t.Caps()),
		})
	}
	fmt.Fprintln(w, "\nPad Templates:")
	if len(templates) == 0 {
		fmt.Fprintln(w, "  none")
	} else {
		fmt.Fprintln(w, renderTable([]string{"Name", "Direction", "Presence", "Caps"}, templates))
	}

	if t := f.URIType(); t != gst.URIUnknown {
		fmt.Fprintln(w, "\nURI handling capabilities:")
		fmt.Fprintf(w, "  Element can act as %s.\n  Supported URI protocols: %s\n", t, strings.Join(f.URIProtocols(), ", "))
	}

	e, err := f.Make("")
	if err != nil {
		return fmt.Errorf("could not create %s: %w", f.Name(), err)
	}
	var pads [][]string
	for _, pad := range e.Pads() {
		tmpl := ""
		if t := pad.Template(); t != nil {
			tmpl = t.NameTemplate()
		}
		pads = append(pads, []string{pad.Name(), pad.Direction().String(), tmpl})
	}
	fmt.Fprintln(w, "\nPads:")
	if len(pads) == 0 {
		fmt.Fprintln(w, "  none")
	} else {
		fmt.Fprintln(w, renderTable([]string{"Name", "Direction", "Template"}, pads))
	}

	var props [][]string
	for _, spec := range class.Properties {
		props = append(props, []string{
			spec.Name, spec.ValueTypeName(), spec.Flags.String(), propertyRange(spec), spec.Blurb,
		})
	}
	fmt.Fprintln(w, "\nElement Properties:")
	if len(props) == 0 {
		fmt.Fprintln(w, "  none")
		return nil
	}
	fmt.Fprintln(w, renderTable([]string{"Name", "Type", "Flags", "Default / Range", "Description"}, props))
	return nil
}

func propertyRange(spec *gst.ParamSpec) string {
	def := "null"
	if spec.Default != nil {
		def = gst.SerializeValue(spec.Default)
	}
	if spec.Min == nil || spec.Max == nil {
		return def
	}
	return fmt.Sprintf("%s [%s, %s]", def, gst.SerializeValue(spec.Min), gst.SerializeValue(spec.Max))
}

// capsLines puts each structure of caps on its own line.
func capsLines(caps *gst.Caps) string {
	if caps == nil {
		return "none"
	}
	if caps.IsAny() || caps.Size() <= 1 {
		return caps.String()
	}
	lines := make([]string, 0, caps.Size())
	for i := range caps.Size() {
		lines = append(lines, caps.Structure(i).String())
	}
	return strings.Join(lines, "\n")
}

func printDeviceProvider(w io.Writer, f *gst.DeviceProviderFactory) {
	fmt.Fprintln(w, "Device Provider Details:")
	fmt.Fprintln(w, renderDetails(metadataDetails(f.Rank(), f.Metadata())))
	if p := f.Plugin(); p != nil {
		fmt.Fprintln(w, "\nPlugin Details:")
		fmt.Fprintln(w, renderDetails(pluginDetails(p)))
	}
}
