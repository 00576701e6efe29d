package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/rbright/livelink/internal/channel"
	"github.com/rbright/livelink/internal/fsm"
	"github.com/rbright/livelink/internal/pcm"
)

// exit records why the active loop ended.
type exit struct {
	event  fsm.Event
	err    error
	reason string
}

// loop is the single writer for transcript and playback state while the
// session is active.
func (c *Controller) loop(ctx context.Context, ch channel.Channel) exit {
	events := ch.Events()
	for {
		select {
		case <-ctx.Done():
			c.player.Flush()
			return exit{event: fsm.EventStop, reason: "context cancelled"}
		case <-c.stopCh:
			flushed := c.player.Flush()
			c.logger.Debug("stop requested", "flushed_segments", flushed)
			return exit{event: fsm.EventStop, reason: "stopped by user"}
		case err := <-c.captureErr:
			return exit{event: fsm.EventCaptureLost, err: err, reason: "Capture device lost. Reconnect your microphone or camera."}
		case err := <-c.escalate:
			return exit{event: fsm.EventChannelError, err: err, reason: "Live link stopped accepting media."}
		case ev, ok := <-events:
			if !ok {
				return exit{event: fsm.EventChannelClosed, reason: "channel closed"}
			}
			if done, out := c.dispatch(ev); done {
				return out
			}
		}
	}
}

// dispatch applies one inbound event in arrival order.
func (c *Controller) dispatch(ev channel.Inbound) (bool, exit) {
	switch e := ev.(type) {
	case channel.AudioChunk:
		c.playChunk(e)
	case channel.TranscriptDelta:
		switch e.Speaker {
		case channel.SpeakerUser:
			c.transcript.AppendUser(e.Text)
		case channel.SpeakerAssistant:
			c.transcript.AppendAssistant(e.Text)
		default:
			c.logger.Warn("transcript delta with unknown speaker", "speaker", string(e.Speaker))
		}
	case channel.TurnComplete:
		turn := c.transcript.TurnComplete()
		c.observer.TurnCompleted()
		c.logger.Info("turn complete", "user_chars", len(turn.User), "assistant_chars", len(turn.Assistant))
	case channel.Interrupted:
		flushed := c.player.Flush()
		c.interruptions.Add(1)
		c.observer.Interrupted(flushed)
		c.logger.Info("assistant interrupted", "flushed_segments", flushed)
	case channel.ChannelError:
		err := e.Err
		if err == nil {
			err = fmt.Errorf("%w: %s", channel.ErrChannel, e.Reason)
		} else if !errors.Is(err, channel.ErrChannel) {
			err = fmt.Errorf("%w: %v", channel.ErrChannel, err)
		}
		return true, exit{event: fsm.EventChannelError, err: err, reason: fmt.Sprintf("Live link error: %s", e.Reason)}
	case channel.ChannelClosed:
		return true, exit{event: fsm.EventChannelClosed, reason: e.Reason}
	default:
		c.logger.Warn("ignoring unknown inbound event", "type", fmt.Sprintf("%T", ev))
	}
	return false, exit{}
}

func (c *Controller) playChunk(chunk channel.AudioChunk) {
	samples, err := pcm.DecodeBase64(chunk.Payload)
	if err != nil {
		c.chunksDropped.Add(1)
		c.observer.ChunkDropped()
		c.chunkLog.Do(func() {
			c.logger.Warn("dropping undecodable audio chunk", "error", err.Error())
		})
		return
	}

	seg, err := c.player.Enqueue(samples)
	if err != nil {
		c.chunksDropped.Add(1)
		c.observer.ChunkDropped()
		c.chunkLog.Do(func() {
			c.logger.Warn("dropping audio chunk", "error", err.Error())
		})
		return
	}
	c.chunksPlayed.Add(1)
	c.observer.ChunkPlayed(seg.Frames, seg.Underrun)
}

// sendLoop drains the outbox to the channel in order. Consecutive failures
// past the threshold escalate to a channel error.
func (c *Controller) sendLoop(ctx context.Context, ch channel.Channel, done chan<- struct{}) {
	defer close(done)

	failures := 0
	escalated := false
	for {
		ev, ok := c.outbox.next()
		if !ok {
			return
		}

		if err := ch.Send(ctx, ev); err != nil {
			failures++
			c.sendFailures.Add(1)
			c.observer.SendFailed(kindOf(ev))
			c.sendLog.Do(func() {
				c.logger.Warn("outbound send failed", "kind", kindOf(ev), "consecutive", failures, "error", err.Error())
			})
			if failures >= c.cfg.SendFailureThreshold && !escalated {
				escalated = true
				select {
				case c.escalate <- fmt.Errorf("%w: %d consecutive send failures: %v", channel.ErrChannel, failures, err):
				default:
				}
			}
			continue
		}
		failures = 0
		c.framesSent.Add(1)
		c.observer.FrameSent(kindOf(ev))
	}
}

func kindOf(ev channel.Outbound) string {
	switch ev.(type) {
	case channel.AudioFrame:
		return "audio"
	case channel.VideoSnapshot:
		return "video"
	default:
		return "unknown"
	}
}

// captureSink forwards capture output into the session without blocking.
type captureSink struct {
	c *Controller
}

func (s captureSink) OnAudioFrame(f channel.AudioFrame) {
	s.enqueue(f)
}

func (s captureSink) OnVideoSnapshot(v channel.VideoSnapshot) {
	s.enqueue(v)
}

func (s captureSink) OnCaptureError(err error) {
	select {
	case s.c.captureErr <- err:
	default:
	}
}

func (s captureSink) enqueue(ev channel.Outbound) {
	evicted, dropped := s.c.outbox.push(ev)
	if !dropped {
		return
	}
	s.c.framesDropped.Add(1)
	s.c.observer.FrameDropped(kindOf(evicted))
	s.c.dropLog.Do(func() {
		s.c.logger.Warn("outbound queue full; dropped oldest", "kind", kindOf(evicted), "total_dropped", s.c.framesDropped.Load())
	})
}
