// Command gst-inspect prints the plugins and features of the registry, or the
// details of one element factory or plugin.
package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		var missing *notFoundError
		if !errors.As(err, &missing) || !missing.quiet {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
