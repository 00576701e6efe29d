package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"

	"github.com/rbright/livelink/internal/capture"
)

const (
	defaultSampleRate   = 16000
	defaultStallTimeout = 3 * time.Second
	fragmentMillis      = 20
)

// Microphone opens Pulse record streams for the configured input.
type Microphone struct {
	Input        string
	Fallback     string
	SampleRate   int
	StallTimeout time.Duration
	Logger       *slog.Logger
}

// Open resolves the input device and connects to its source. Samples do not
// flow until Start.
func (m Microphone) Open(ctx context.Context) (capture.InputStream, error) {
	rate := m.SampleRate
	if rate <= 0 {
		rate = defaultSampleRate
	}
	stall := m.StallTimeout
	if stall <= 0 {
		stall = defaultStallTimeout
	}

	client, err := newClient()
	if err != nil {
		return nil, err
	}

	devices, err := listDevices(client)
	if err != nil {
		client.Close()
		return nil, err
	}
	selection, err := selectDeviceFromList(devices, m.Input, m.Fallback)
	if err != nil {
		client.Close()
		return nil, err
	}
	if selection.Warning != "" && m.Logger != nil {
		m.Logger.Warn("audio device fallback", "warning", selection.Warning)
	}

	source, err := client.SourceByID(selection.Device.ID)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("resolve source %q: %w", selection.Device.ID, err)
	}

	if err := ctx.Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &Stream{
		device:     selection.Device,
		sampleRate: rate,
		stall:      stall,
		logger:     m.Logger,
		client:     client,
		source:     source,
		lost:       make(chan error, 1),
		stopCh:     make(chan struct{}),
	}, nil
}

// Stream is one Pulse record stream delivering mono float32 samples.
type Stream struct {
	device     Device
	sampleRate int
	stall      time.Duration
	logger     *slog.Logger

	client *pulse.Client
	source *pulse.Source
	stream *pulse.RecordStream

	lost   chan error
	stopCh chan struct{}

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
	watch    sync.WaitGroup
	lastData atomic.Int64
	lostOnce sync.Once
}

func (s *Stream) SampleRate() int { return s.sampleRate }

func (s *Stream) Device() string { return describeDevice(s.device) }

// Lost yields one ErrDeviceLost when the source disappears or stops
// delivering data.
func (s *Stream) Lost() <-chan error { return s.lost }


func (s *Stream) Start(fn func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return errors.New("microphone stream closed")
	}
	if s.stream != nil {
		return errors.New("microphone stream already started")
	}

	writer := pulse.Float32Writer(func(buf []float32) (int, error) {
		return s.onSamples(buf, fn)
	})
	stream, err := s.client.NewRecord(
		writer,
		pulse.RecordSource(s.source),
		pulse.RecordMono,
		pulse.RecordSampleRate(s.sampleRate),
		pulse.RecordBufferFragmentSize(uint32(s.sampleRate*fragmentMillis/1000*4)),
		pulse.RecordMediaName("livelink microphone"),
	)
	if err != nil {
		return fmt.Errorf("create pulse record stream: %w", err)
	}

	s.stream = stream
	s.lastData.Store(time.Now().UnixNano())
	stream.Start()

	s.watch.Add(1)
	go s.watchdog()
	return nil
}

// Close stops the record stream and disconnects. Safe to call repeatedly.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	if s.stream != nil {
		s.stream.Stop()
		s.stream.Close()
	}
	if s.client != nil {
		s.client.Close()
	}

	s.inflight.Wait()
	s.watch.Wait()
	return nil
}

func (s *Stream) onSamples(buf []float32, fn func([]float32)) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return 0, io.EOF
	}
	// Guard Add under the same mutex as s.stopped to avoid Add/Wait races.
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	s.lastData.Store(time.Now().UnixNano())

	// Pulse reuses buf across callbacks.
	fn(append([]float32(nil), buf...))
	return len(buf), nil
}

// watchdog reports loss when the source vanishes or data stalls.
func (s *Stream) watchdog() {
	defer s.watch.Done()

	interval := s.stall / 3
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}

		if _, err := s.client.SourceByID(s.device.ID); err != nil {
			s.reportLost(fmt.Errorf("%w: source %q: %v", capture.ErrDeviceLost, s.device.ID, err))
			return
		}
		if idle := time.Since(time.Unix(0, s.lastData.Load())); idle > s.stall {
			s.reportLost(fmt.Errorf("%w: no audio from %q for %s", capture.ErrDeviceLost, s.device.ID, idle.Round(time.Millisecond)))
			return
		}
	}
}

func (s *Stream) reportLost(err error) {
	s.lostOnce.Do(func() {
		if s.logger != nil {
			s.logger.Error("microphone lost", "device", s.device.ID, "error", err.Error())
		}
		s.lost <- err
	})
}

// describeDevice returns a concise human-readable device label.
func describeDevice(dev Device) string {
	if dev.Description != "" && dev.ID != "" {
		return fmt.Sprintf("%s (%s)", dev.Description, dev.ID)
	}
	if dev.Description != "" {
		return dev.Description
	}
	return dev.ID
}
