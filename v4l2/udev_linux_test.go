//go:build linux

package v4l2

import (
	"testing"

	"github.com/pilebones/go-udev/netlink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcher(t *testing.T) {
	m := matcher()
	require.NoError(t, m.Compile())

	camera := map[string]string{"SUBSYSTEM": "video4linux", "DEVNAME": "/dev/video0"}
	assert.True(t, m.Evaluate(netlink.UEvent{Action: netlink.ADD, KObj: "/devices/video4linux/video0", Env: camera}))
	assert.True(t, m.Evaluate(netlink.UEvent{Action: netlink.REMOVE, KObj: "/devices/video4linux/video0", Env: camera}))
	assert.False(t, m.Evaluate(netlink.UEvent{Action: netlink.BIND, KObj: "/devices/video4linux/video0", Env: camera}))

	disk := map[string]string{"SUBSYSTEM": "block", "DEVNAME": "/dev/sda"}
	assert.False(t, m.Evaluate(netlink.UEvent{Action: netlink.ADD, KObj: "/devices/block/sda", Env: disk}))
}
