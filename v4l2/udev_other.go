//go:build !linux

package v4l2

import (
	"errors"
	"fmt"
)

func watch(func(action, devname string)) (func(), error) {
	return nil, fmt.Errorf("v4l2: udev monitor: %w", errors.ErrUnsupported)
}
