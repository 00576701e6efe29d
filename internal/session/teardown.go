package session

import (
	"time"

	"github.com/rbright/livelink/internal/channel"
)

// teardown releases everything in Closing order. Each step is bounded by
// the release timeout; failures are logged and never stop later steps.
func (c *Controller) teardown(ch channel.Channel, senderDone <-chan struct{}) {
	c.step("stop capture", c.capture.Stop)
	c.step("release playback", func() error {
		c.player.Flush()
		return c.player.Close()
	})
	c.step("stop sender", func() error {
		if discarded := c.outbox.close(); discarded > 0 {
			c.logger.Debug("discarded queued outbound frames", "count", discarded)
		}
		<-senderDone
		return nil
	})
	c.step("close channel", ch.Close)
}

// release frees whatever connect or activate acquired.
func (c *Controller) release(ch channel.Channel, captureHeld bool, playerHeld bool) {
	if captureHeld {
		c.step("release capture", c.capture.Stop)
	}
	if playerHeld {
		c.step("release playback", c.player.Close)
	}
	if ch != nil {
		c.step("release channel", ch.Close)
	}
}

// step runs fn with the release timeout. A step that overruns keeps running
// in the background; teardown moves on.
func (c *Controller) step(name string, fn func() error) {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	timer := time.NewTimer(c.cfg.ReleaseTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			c.logger.Warn("teardown step failed", "step", name, "error", err.Error())
		}
	case <-timer.C:
		c.logger.Warn("teardown step timed out", "step", name, "timeout", c.cfg.ReleaseTimeout.String())
	}
}
