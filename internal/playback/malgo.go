package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gen2brain/malgo"
)

// MalgoSink plays mono s16 audio through the default miniaudio output device.
type MalgoSink struct {
	sampleRate int
	logger     *slog.Logger
	mixer      mixer

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	started bool
}

// NewMalgoSink prepares an output sink at sampleRate Hz. No device is
// opened until Start.
func NewMalgoSink(sampleRate int, logger *slog.Logger) *MalgoSink {
	return &MalgoSink{sampleRate: sampleRate, logger: logger}
}

func (s *MalgoSink) SampleRate() int { return s.sampleRate }

func (s *MalgoSink) Position() int64 { return s.mixer.Position() }

func (s *MalgoSink) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(s.sampleRate)

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frameCount uint32) {
			s.mixer.render(out, int(frameCount))
		},
	}

	dev, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("init playback device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return fmt.Errorf("start playback device: %w", err)
	}

	s.ctx = ctx
	s.device = dev
	s.started = true
	if s.logger != nil {
		s.logger.Debug("playback device started", "sample_rate", s.sampleRate)
	}
	return nil
}

func (s *MalgoSink) Schedule(start int64, samples []int16) (Voice, error) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil, errors.New("playback device not started")
	}
	return s.mixer.schedule(start, samples), nil
}

// Close stops the device and frees the audio context. Safe to call twice.
func (s *MalgoSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mixer.reset()
	if !s.started {
		return nil
	}
	s.started = false

	var errs []error
	if err := s.device.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop playback device: %w", err))
	}
	s.device.Uninit()
	if err := s.ctx.Uninit(); err != nil {
		errs = append(errs, fmt.Errorf("uninit audio context: %w", err))
	}
	s.ctx.Free()
	s.device = nil
	s.ctx = nil
	return errors.Join(errs...)
}
