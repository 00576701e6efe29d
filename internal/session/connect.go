package session

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/rbright/livelink/internal/channel"
)

type acquired struct {
	ch      channel.Channel
	capture bool
	player  bool
}

// connect acquires capture devices, the output sink, and the remote channel
// concurrently. It returns errStopped if Stop wins the race; whatever was
// still in flight is then released in the background once it settles.
func (c *Controller) connect(ctx context.Context) (channel.Channel, error) {
	openCtx, cancel := context.WithTimeout(ctx, c.cfg.OpenTimeout)
	defer cancel()

	var got acquired
	g, gctx := errgroup.WithContext(openCtx)
	g.Go(func() error {
		if err := c.capture.Acquire(gctx); err != nil {
			return err
		}
		got.capture = true
		return nil
	})
	g.Go(func() error {
		if err := c.player.Open(); err != nil {
			return fmt.Errorf("open playback: %w", err)
		}
		got.player = true
		return nil
	})
	g.Go(func() error {
		ch, err := c.opener.Open(gctx, c.cfg.Channel)
		if err != nil {
			if !errors.Is(err, channel.ErrUnavailable) {
				err = fmt.Errorf("%w: %v", channel.ErrUnavailable, err)
			}
			return err
		}
		got.ch = ch
		return nil
	})

	settled := make(chan error, 1)
	go func() { settled <- g.Wait() }()

	select {
	case err := <-settled:
		if err == nil {
			return got.ch, nil
		}
		if errors.Is(openCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w: open timed out after %s: %v", channel.ErrUnavailable, c.cfg.OpenTimeout, err)
		}
		c.release(got.ch, got.capture, got.player)
		return nil, err
	case <-c.stopCh:
	case <-ctx.Done():
	case <-openCtx.Done():
		// A collaborator that ignores gctx must not hold Connecting open.
		if ctx.Err() == nil {
			c.abandon(cancel, settled, &got)
			return nil, fmt.Errorf("%w: open timed out after %s", channel.ErrUnavailable, c.cfg.OpenTimeout)
		}
	}

	c.abandon(cancel, settled, &got)
	return nil, errStopped
}

// abandon cancels in-flight acquisition and releases whatever it yields once
// every acquirer has returned.
func (c *Controller) abandon(cancel context.CancelFunc, settled <-chan error, got *acquired) {
	cancel()
	go func() {
		<-settled
		c.release(got.ch, got.capture, got.player)
		c.logger.Debug("released resources abandoned while connecting")
	}()
}
