package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rbright/livelink/internal/channel"
	"github.com/rbright/livelink/internal/pcm"
)

// session is one open Gemini Live channel.
type session struct {
	conn       *websocket.Conn
	logger     *slog.Logger
	dump       io.Writer
	writeWait  time.Duration
	closeGrace time.Duration
	inputRate  int

	events chan channel.Inbound
	done   chan struct{}
	recvWG sync.WaitGroup

	writeMu   sync.Mutex
	closeOnce sync.Once
	closing   chan struct{}
	closeErr  error
}

func newSession(conn *websocket.Conn, d Dialer, cfg channel.Config) *session {
	rate := cfg.InputSampleRate
	if rate <= 0 {
		rate = 16000
	}
	s := &session{
		conn:       conn,
		logger:     d.Logger,
		dump:       d.EventDump,
		writeWait:  d.WriteWait,
		closeGrace: d.CloseGrace,
		inputRate:  rate,
		events:     make(chan channel.Inbound, eventBuffer),
		done:       make(chan struct{}),
		closing:    make(chan struct{}),
	}
	s.recvWG.Add(1)
	return s
}

func (s *session) Events() <-chan channel.Inbound {
	return s.events
}

// Send writes one realtimeInput frame.
func (s *session) Send(ctx context.Context, event channel.Outbound) error {
	select {
	case <-s.closing:
		return fmt.Errorf("%w: channel closed", channel.ErrSendFailed)
	case <-s.done:
		return fmt.Errorf("%w: channel closed", channel.ErrSendFailed)
	default:
	}

	msg, err := s.encode(event)
	if err != nil {
		return fmt.Errorf("%w: %v", channel.ErrSendFailed, err)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", channel.ErrSendFailed, err)
	}

	deadline := time.Now().Add(s.writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set write deadline: %v", channel.ErrSendFailed, err)
	}
	if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", channel.ErrSendFailed, err)
	}
	return nil
}

func (s *session) encode(event channel.Outbound) (clientRealtimeMessage, error) {
	switch ev := event.(type) {
	case channel.AudioFrame:
		rate := ev.SampleRate
		if rate <= 0 {
			rate = s.inputRate
		}
		return clientRealtimeMessage{RealtimeInput: realtimeInput{
			Audio: &blob{MimeType: pcm.MimeType(rate), Data: pcm.EncodeBase64(ev.PCM)},
		}}, nil
	case channel.VideoSnapshot:
		return clientRealtimeMessage{RealtimeInput: realtimeInput{
			Video: &blob{MimeType: "image/jpeg", Data: pcm.EncodeBase64(ev.JPEG)},
		}}, nil
	default:
		return clientRealtimeMessage{}, fmt.Errorf("unsupported outbound event %T", event)
	}
}

// Close sends a normal close frame and tears the connection down. Safe to
// call repeatedly; later calls return the first result.
func (s *session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)

		s.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing")
		err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.closeGrace))
		s.writeMu.Unlock()
		if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			s.logger.Debug("gemini close frame failed", "error", err.Error())
		}

		// Give the server a moment to echo the close before dropping the socket.
		select {
		case <-s.done:
		case <-time.After(s.closeGrace):
		}
		if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.closeErr = fmt.Errorf("close gemini connection: %w", err)
		}
		s.recvWG.Wait()
	})
	return s.closeErr
}

// receiveLoop is the only reader. Events are forwarded in arrival order and
// the stream ends with exactly one terminal event.
func (s *session) receiveLoop() {
	defer s.recvWG.Done()
	defer close(s.done)
	defer close(s.events)

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.emit(s.terminalFor(err))
			return
		}
		if s.dump != nil {
			writeDump(s.dump, raw)
		}

		var msg serverMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.Warn("gemini frame decode failed", "error", err.Error(), "bytes", len(raw))
			continue
		}
		if msg.GoAway != nil {
			s.logger.Warn("gemini server going away", "time_left", msg.GoAway.TimeLeft)
		}
		if msg.UsageMetadata != nil {
			s.logger.Debug("gemini usage",
				"prompt_tokens", msg.UsageMetadata.PromptTokenCount,
				"response_tokens", msg.UsageMetadata.ResponseTokenCount,
				"total_tokens", msg.UsageMetadata.TotalTokenCount,
			)
		}

		for _, ev := range translate(msg, time.Now()) {
			if !s.emit(ev) {
				return
			}
			if channel.Terminal(ev) {
				return
			}
		}
	}
}

func (s *session) terminalFor(err error) channel.Inbound {
	select {
	case <-s.closing:
		return channel.ChannelClosed{Reason: "closed by client"}
	default:
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway {
			reason := closeErr.Text
			if reason == "" {
				reason = "closed by server"
			}
			return channel.ChannelClosed{Reason: reason}
		}
		reason := closeErr.Text
		if reason == "" {
			reason = fmt.Sprintf("close code %d", closeErr.Code)
		}
		return channel.ChannelError{Reason: reason, Err: fmt.Errorf("%w: %v", channel.ErrChannel, err)}
	}
	return channel.ChannelError{Reason: "connection lost", Err: fmt.Errorf("%w: %v", channel.ErrChannel, err)}
}

// emit delivers ev unless the channel is being closed and nobody is reading.
func (s *session) emit(ev channel.Inbound) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.closing:
		select {
		case s.events <- ev:
			return true
		default:
			return false
		}
	}
}

var dumpMu sync.Mutex

func writeDump(w io.Writer, raw []byte) {
	var line bytes.Buffer
	if err := json.Compact(&line, raw); err != nil {
		line.Reset()
		line.Write(raw)
	}
	line.WriteByte('\n')

	dumpMu.Lock()
	defer dumpMu.Unlock()
	_, _ = w.Write(line.Bytes())
}
