// Package channel defines the bidirectional real-time bus between a live
// session and a remote inference service. Concrete transports live in their
// own packages.
package channel

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable reports that a channel could not be opened.
	ErrUnavailable = errors.New("remote channel unavailable")
	// ErrSendFailed reports that an outbound event was not delivered.
	ErrSendFailed = errors.New("remote channel send failed")
	// ErrChannel reports a fatal transport or service error on an open channel.
	ErrChannel = errors.New("remote channel error")
)

// Modality is the response modality requested from the service.
type Modality string

const (
	ModalityAudio Modality = "AUDIO"
	ModalityText  Modality = "TEXT"
)

// Transcription selects which sides of the conversation the service should
// transcribe.
type Transcription struct {
	User      bool
	Assistant bool
}

// Config is passed through to the service when the channel opens.
type Config struct {
	ResponseModality  Modality
	SystemInstruction string
	Voice             string
	Transcription     Transcription
	// InputSampleRate labels outbound audio frames.
	InputSampleRate int
}

// Opener establishes channels.
type Opener interface {
	// Open blocks until the channel is ready or fails. Failures wrap
	// ErrUnavailable.
	Open(ctx context.Context, cfg Config) (Channel, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(context.Context, Config) (Channel, error)

func (f OpenerFunc) Open(ctx context.Context, cfg Config) (Channel, error) {
	return f(ctx, cfg)
}

// Channel is one open session with the service.
type Channel interface {
	// Send delivers one outbound event. Calls are serialized by the caller
	// and delivered in call order. Failures wrap ErrSendFailed.
	Send(ctx context.Context, event Outbound) error
	// Events yields inbound events in arrival order. The channel is closed
	// after a terminal ChannelClosed or ChannelError.
	Events() <-chan Inbound
	// Close releases the channel. Safe to call repeatedly.
	Close() error
}

// Inbound is one event received from the service.
type Inbound interface {
	inbound()
}

// AudioChunk carries base64 s16le audio at the service output rate.
type AudioChunk struct {
	Payload    string
	MimeType   string
	ReceivedAt time.Time
}

// TranscriptSpeaker identifies the side a transcription delta belongs to.
type TranscriptSpeaker string

const (
	SpeakerUser      TranscriptSpeaker = "user"
	SpeakerAssistant TranscriptSpeaker = "assistant"
)

// TranscriptDelta is an incremental transcription fragment.
type TranscriptDelta struct {
	Speaker TranscriptSpeaker
	Text    string
}

// TurnComplete marks the end of an assistant turn.
type TurnComplete struct{}

// Interrupted reports that the service detected user barge-in.
type Interrupted struct{}

// ChannelError is terminal.
type ChannelError struct {
	Reason string
	Err    error
}

// ChannelClosed is terminal.
type ChannelClosed struct {
	Reason string
}

func (AudioChunk) inbound()      {}
func (TranscriptDelta) inbound() {}
func (TurnComplete) inbound()    {}
func (Interrupted) inbound()     {}
func (ChannelError) inbound()    {}
func (ChannelClosed) inbound()   {}

// Outbound is one event sent to the service.
type Outbound interface {
	outbound()
}

// AudioFrame is one fixed-size s16le microphone frame.
type AudioFrame struct {
	Seq        uint64
	PCM        []byte
	SampleRate int
	CapturedAt time.Time
}

// VideoSnapshot is one JPEG camera frame.
type VideoSnapshot struct {
	Seq        uint64
	JPEG       []byte
	Width      int
	Height     int
	CapturedAt time.Time
}

func (AudioFrame) outbound()    {}
func (VideoSnapshot) outbound() {}

// Terminal reports whether ev ends the inbound stream.
func Terminal(ev Inbound) bool {
	switch ev.(type) {
	case ChannelError, ChannelClosed:
		return true
	default:
		return false
	}
}
