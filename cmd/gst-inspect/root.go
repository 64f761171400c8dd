package main

import (
	"fmt"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/thesyncim/gst"
	"github.com/thesyncim/gst/app"
	"github.com/thesyncim/gst/elements"
	"github.com/thesyncim/gst/rtp"
	"github.com/thesyncim/gst/v4l2"
)

type notFoundError struct {
	name  string
	quiet bool
}

func (e *notFoundError) Error() string {
	return fmt.Sprintf("no such element or plugin %q", e.name)
}

type options struct {
	printAll       bool
	plugin         bool
	klass          string
	uriHandlers    bool
	exists         bool
	atLeastVersion string
	debug          string
}

// registerStatic adds the plugins linked into the binary.
func registerStatic() error {
	var errs *multierror.Error
	for _, register := range []func() error{elements.Register, app.Register, rtp.Register, v4l2.Register} {
		errs = multierror.Append(errs, register())
	}
	return errs.ErrorOrNil()
}

func newRootCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "gst-inspect [element or plugin]",
		Short:         "Print information about plugins and elements",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg := gst.ConfigFromEnv()
			if opts.debug != "" {
				cfg.Debug = opts.debug
			}
			if err := gst.InitWithConfig(cfg); err != nil {
				return err
			}
			return registerStatic()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if opts.exists {
				if len(args) == 0 {
					return fmt.Errorf("--exists needs an element name")
				}
				return checkExists(args[0], opts.atLeastVersion)
			}
			if len(args) == 0 {
				if opts.uriHandlers {
					printURIHandlers(out)
					return nil
				}
				printAll(out, opts.klass, opts.printAll)
				return nil
			}

			name := args[0]
			if !opts.plugin {
				if f := gst.ElementFactoryFind(name); f != nil {
					return printElement(out, f)
				}
				if f, ok := gst.FindFeature[*gst.DeviceProviderFactory](gst.DefaultRegistry(), name); ok {
					printDeviceProvider(out, f)
					return nil
				}
			}
			if p := gst.DefaultRegistry().FindPlugin(name); p != nil {
				printPlugin(out, p)
				return nil
			}
			// a plugin may be named by its shared library
			for _, p := range gst.DefaultRegistry().Plugins() {
				if p.Filename() != "" && strings.HasSuffix(p.Filename(), name) {
					printPlugin(out, p)
					return nil
				}
			}
			return &notFoundError{name: name}
		},
	}

	flags := cmd.Flags()
	flags.BoolVarP(&opts.printAll, "print-all", "a", false, "Print details of every element")
	flags.BoolVar(&opts.plugin, "plugin", false, "List the features of the named plugin even if an element has the same name")
	flags.StringVarP(&opts.klass, "types", "t", "", "Only list elements whose klass contains every \"/\" separated component")
	flags.BoolVarP(&opts.uriHandlers, "uri-handlers", "u", false, "List the elements that handle URIs")
	flags.BoolVar(&opts.exists, "exists", false, "Exit with status 0 when the named element exists")
	flags.StringVar(&opts.atLeastVersion, "atleast-version", "", "With --exists, also require the plugin to be at least this version")
	cmd.PersistentFlags().StringVar(&opts.debug, "gst-debug", "", "Debug thresholds, overriding GST_DEBUG")
	return cmd
}

func checkExists(name, version string) error {
	var major, minor, micro int
	if version != "" {
		if _, err := fmt.Sscanf(version, "%d.%d.%d", &major, &minor, &micro); err != nil {
			return fmt.Errorf("invalid version %q: want MAJOR.MINOR.MICRO", version)
		}
	}
	if !gst.DefaultRegistry().CheckFeatureVersion(name, major, minor, micro) {
		return &notFoundError{name: name, quiet: true}
	}
	return nil
}
