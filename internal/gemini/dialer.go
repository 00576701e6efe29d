// Package gemini implements the live channel over the Gemini Live
// BidiGenerateContent websocket API.
package gemini

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rbright/livelink/internal/channel"
)

const (
	DefaultURL          = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	DefaultModel        = "gemini-2.5-flash-native-audio-preview-12-2025"
	DefaultVoice        = "Zephyr"
	DefaultDialTimeout  = 10 * time.Second
	DefaultSetupTimeout = 10 * time.Second
	DefaultWriteWait    = 5 * time.Second
	DefaultCloseGrace   = time.Second
	maxMessageSize      = 16 * 1024 * 1024
	eventBuffer         = 64
)

// Dialer opens Gemini Live channels.
type Dialer struct {
	URL          string
	APIKey       string
	Model        string
	DialTimeout  time.Duration
	SetupTimeout time.Duration
	WriteWait    time.Duration
	CloseGrace   time.Duration
	UserAgent    string
	Logger       *slog.Logger
	// EventDump receives every raw server frame as one JSON line.
	EventDump io.Writer
}

func (d Dialer) withDefaults() Dialer {
	if strings.TrimSpace(d.URL) == "" {
		d.URL = DefaultURL
	}
	if strings.TrimSpace(d.Model) == "" {
		d.Model = DefaultModel
	}
	if d.DialTimeout <= 0 {
		d.DialTimeout = DefaultDialTimeout
	}
	if d.SetupTimeout <= 0 {
		d.SetupTimeout = DefaultSetupTimeout
	}
	if d.WriteWait <= 0 {
		d.WriteWait = DefaultWriteWait
	}
	if d.CloseGrace <= 0 {
		d.CloseGrace = DefaultCloseGrace
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return d
}

// Open dials the service, sends the setup frame, and waits for
// setupComplete. Every failure wraps channel.ErrUnavailable.
func (d Dialer) Open(ctx context.Context, cfg channel.Config) (channel.Channel, error) {
	d = d.withDefaults()

	if strings.TrimSpace(d.APIKey) == "" {
		return nil, fmt.Errorf("%w: missing API key", channel.ErrUnavailable)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: d.DialTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
	}
	headers := http.Header{}
	headers.Set("x-goog-api-key", d.APIKey)
	if d.UserAgent != "" {
		headers.Set("User-Agent", d.UserAgent)
	}

	d.Logger.Debug("gemini dial", "url", d.URL, "model", d.Model)
	conn, resp, err := dialer.DialContext(ctx, d.URL, headers)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("%w: dial status %d: %v", channel.ErrUnavailable, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("%w: dial: %v", channel.ErrUnavailable, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	conn.SetReadLimit(maxMessageSize)

	// Abandon the handshake if the caller gives up.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	err = d.handshake(conn, cfg)
	if !stop() {
		_ = conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %v", channel.ErrUnavailable, ctxErr)
		}
	}
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", channel.ErrUnavailable, err)
	}

	s := newSession(conn, d, cfg)
	go s.receiveLoop()
	d.Logger.Info("gemini channel open", "model", d.Model, "voice", voiceOrDefault(cfg.Voice))
	return s, nil
}

func (d Dialer) handshake(conn *websocket.Conn, cfg channel.Config) error {
	data, err := json.Marshal(buildSetup(d.Model, cfg))
	if err != nil {
		return fmt.Errorf("encode setup: %w", err)
	}
	if err := conn.SetWriteDeadline(time.Now().Add(d.WriteWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send setup: %w", err)
	}

	if err := conn.SetReadDeadline(time.Now().Add(d.SetupTimeout)); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("setup not acknowledged within %s", d.SetupTimeout)
		}
		return fmt.Errorf("read setup response: %w", err)
	}
	if d.EventDump != nil {
		writeDump(d.EventDump, raw)
	}

	var msg serverMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("decode setup response: %w", err)
	}
	if msg.Error != nil {
		return fmt.Errorf("setup rejected: %d %s: %s", msg.Error.Code, msg.Error.Status, msg.Error.Message)
	}
	if msg.SetupComplete == nil {
		return errors.New("setup response missing setupComplete")
	}
	return conn.SetReadDeadline(time.Time{})
}

func buildSetup(model string, cfg channel.Config) clientSetupMessage {
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	modality := cfg.ResponseModality
	if modality == "" {
		modality = channel.ModalityAudio
	}

	msg := clientSetupMessage{Setup: setup{
		Model: model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{string(modality)},
		},
	}}

	if modality == channel.ModalityAudio {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voiceOrDefault(cfg.Voice)}},
		}
	}
	if text := strings.TrimSpace(cfg.SystemInstruction); text != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: text}}}
	}
	if cfg.Transcription.User {
		msg.Setup.InputAudioTranscription = &audioTranscripts{}
	}
	if cfg.Transcription.Assistant {
		msg.Setup.OutputAudioTranscription = &audioTranscripts{}
	}
	return msg
}

func voiceOrDefault(voice string) string {
	if strings.TrimSpace(voice) == "" {
		return DefaultVoice
	}
	return voice
}
