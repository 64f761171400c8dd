//go:build linux

package v4l2

import (
	"fmt"

	"github.com/pilebones/go-udev/netlink"
)

// watch listens for udev events of the video4linux subsystem until the
// returned function is called.
func watch(fn func(action, devname string)) (func(), error) {
	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		return nil, fmt.Errorf("v4l2: udev monitor: %w", err)
	}

	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, matcher())
	quit := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-quit:
				close(monitorQuit)
				return
			case ev := <-queue:
				fn(string(ev.Action), ev.Env["DEVNAME"])
			case err := <-errs:
				catV4L2.Warning(nil, "udev monitor: %v", err)
			}
		}
	}()
	return func() {
		close(quit)
		<-done
		_ = conn.Close()
	}, nil
}

func matcher() netlink.Matcher {
	action := actionAdd + "|" + actionChange + "|" + actionRemove
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "video4linux",
			"DEVNAME":   "video[0-9]+",
		},
	})
	return rules
}
