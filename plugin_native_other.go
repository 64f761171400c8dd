//go:build !darwin && !linux

package gst

import "fmt"

// ScanPath is not supported on this platform.
func (r *Registry) ScanPath(dir string) error {
	return fmt.Errorf("gst: native plugins are not supported on this platform")
}
