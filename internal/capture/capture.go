// Package capture turns microphone sample callbacks and periodic camera
// grabs into ordered outbound frames for a live session.
package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/livelink/internal/channel"
	"github.com/rbright/livelink/internal/pcm"
)

var (
	// ErrPermissionDenied reports that the OS refused access to a device.
	ErrPermissionDenied = errors.New("capture device permission denied")
	// ErrDeviceLost reports that an acquired device disappeared.
	ErrDeviceLost = errors.New("capture device lost")
	// ErrNotAcquired is returned by Start before a successful Acquire.
	ErrNotAcquired = errors.New("capture devices not acquired")
)

// Sink receives captured items. Implementations must not block.
type Sink interface {
	OnAudioFrame(channel.AudioFrame)
	OnVideoSnapshot(channel.VideoSnapshot)
	OnCaptureError(error)
}

// Microphone acquires an input stream.
type Microphone interface {
	Open(ctx context.Context) (InputStream, error)
}

// InputStream delivers normalized mono samples from the device clock.
type InputStream interface {
	SampleRate() int
	Device() string
	// Start begins delivery. fn is called from the device goroutine.
	Start(fn func([]float32)) error
	// Lost yields at most one error when the device goes away.
	Lost() <-chan error
	Close() error
}

// Camera acquires a still-frame source.
type Camera interface {
	Open(ctx context.Context) (Shutter, error)
}

// Shutter grabs single frames from an acquired camera.
type Shutter interface {
	Snapshot(ctx context.Context) (image.Image, error)
	Close() error
}

// Config controls frame sizing and snapshot cadence.
type Config struct {
	FrameSamples  int
	VideoInterval time.Duration
	VideoWidth    int
	VideoHeight   int
	JPEGQuality   int
	// SnapshotTimeout bounds one camera grab.
	SnapshotTimeout time.Duration
}

// Stats summarizes what the pipeline produced.
type Stats struct {
	Device     string
	Frames     uint64
	Snapshots  uint64
	BytesAudio int64
}

// Pipeline owns the acquired devices for one session.
type Pipeline struct {
	cfg    Config
	mic    Microphone
	cam    Camera
	logger *slog.Logger

	mu      sync.Mutex
	stream  InputStream
	shutter Shutter
	started bool
	stopped bool

	emitMu   sync.Mutex
	halted   bool
	sink     Sink
	pending  []float32
	audioSeq uint64
	videoSeq uint64

	stopCh   chan struct{}
	stopOnce sync.Once
	failOnce sync.Once
	wg       sync.WaitGroup

	frames     atomic.Uint64
	snapshots  atomic.Uint64
	bytesAudio atomic.Int64
}

// New builds a pipeline. cam may be nil for audio-only sessions.
func New(cfg Config, mic Microphone, cam Camera, logger *slog.Logger) *Pipeline {
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = 4096
	}
	if cfg.VideoInterval <= 0 {
		cfg.VideoInterval = time.Second
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 60
	}
	if cfg.SnapshotTimeout <= 0 {
		cfg.SnapshotTimeout = cfg.VideoInterval
	}
	return &Pipeline{
		cfg:    cfg,
		mic:    mic,
		cam:    cam,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Acquire opens the microphone and, when configured, the camera. Any device
// opened before a failure is released before returning.
func (p *Pipeline) Acquire(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return errors.New("capture pipeline stopped")
	}
	if p.stream != nil {
		return nil
	}

	stream, err := p.mic.Open(ctx)
	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}

	if p.cam != nil {
		shutter, err := p.cam.Open(ctx)
		if err != nil {
			if closeErr := stream.Close(); closeErr != nil && p.logger != nil {
				p.logger.Warn("release microphone after camera failure", "error", closeErr.Error())
			}
			return fmt.Errorf("open camera: %w", err)
		}
		p.shutter = shutter
	}

	p.stream = stream
	return nil
}

// Start begins forwarding captured items to sink.
func (p *Pipeline) Start(sink Sink) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return ErrNotAcquired
	}
	if p.started {
		return errors.New("capture pipeline already started")
	}

	p.emitMu.Lock()
	p.sink = sink
	p.emitMu.Unlock()

	if err := p.stream.Start(p.onSamples); err != nil {
		return fmt.Errorf("start microphone: %w", err)
	}
	p.started = true

	p.wg.Add(1)
	go p.watchLoss(p.stream.Lost())

	if p.shutter != nil {
		p.wg.Add(1)
		go p.snapshotLoop(p.shutter)
	}
	return nil
}

// Stop halts capture and releases all devices. No item is forwarded after
// Stop returns. Safe to call repeatedly and before Start.
func (p *Pipeline) Stop() error {
	p.halt()
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil
	}
	p.stopped = true

	var errs []error
	if p.stream != nil {
		if err := p.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close microphone: %w", err))
		}
	}
	if p.shutter != nil {
		if err := p.shutter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close camera: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Stats reports counters and the resolved input device.
func (p *Pipeline) Stats() Stats {
	p.mu.Lock()
	device := ""
	if p.stream != nil {
		device = p.stream.Device()
	}
	p.mu.Unlock()

	return Stats{
		Device:     device,
		Frames:     p.frames.Load(),
		Snapshots:  p.snapshots.Load(),
		BytesAudio: p.bytesAudio.Load(),
	}
}

// halt stops emission without waiting for workers.
func (p *Pipeline) halt() {
	p.emitMu.Lock()
	p.halted = true
	p.pending = nil
	p.emitMu.Unlock()

	p.stopOnce.Do(func() { close(p.stopCh) })
}

// fail reports a fatal capture error once and halts the pipeline.
func (p *Pipeline) fail(err error) {
	p.failOnce.Do(func() {
		p.emitMu.Lock()
		sink := p.sink
		halted := p.halted
		p.emitMu.Unlock()

		p.halt()
		if sink != nil && !halted {
			sink.OnCaptureError(err)
		}
	})
}

func (p *Pipeline) onSamples(samples []float32) {
	p.emitMu.Lock()
	defer p.emitMu.Unlock()

	if p.halted || p.sink == nil {
		return
	}

	p.pending = append(p.pending, samples...)
	size := p.cfg.FrameSamples
	for len(p.pending) >= size {
		frame := channel.AudioFrame{
			Seq:        p.audioSeq,
			PCM:        pcm.EncodeFloat32(p.pending[:size]),
			SampleRate: p.stream.SampleRate(),
			CapturedAt: time.Now(),
		}
		p.pending = p.pending[size:]
		p.audioSeq++
		p.frames.Add(1)
		p.bytesAudio.Add(int64(len(frame.PCM)))
		p.sink.OnAudioFrame(frame)
	}
	if len(p.pending) == 0 {
		p.pending = nil
	}
}

func (p *Pipeline) watchLoss(lost <-chan error) {
	defer p.wg.Done()

	select {
	case <-p.stopCh:
	case err, ok := <-lost:
		if !ok {
			return
		}
		if err == nil {
			err = ErrDeviceLost
		}
		if !errors.Is(err, ErrDeviceLost) {
			err = fmt.Errorf("%w: %v", ErrDeviceLost, err)
		}
		p.fail(err)
	}
}

func (p *Pipeline) snapshotLoop(shutter Shutter) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.VideoInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
		}

		if err := p.snapshot(shutter); err != nil {
			if errors.Is(err, ErrDeviceLost) {
				p.fail(err)
				return
			}
			if p.logger != nil {
				p.logger.Debug("camera snapshot skipped", "error", err.Error())
			}
		}
	}
}

func (p *Pipeline) snapshot(shutter Shutter) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.SnapshotTimeout)
	defer cancel()
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	img, err := shutter.Snapshot(ctx)
	if err != nil {
		return err
	}
	jpg, w, h, err := EncodeSnapshot(img, p.cfg.VideoWidth, p.cfg.VideoHeight, p.cfg.JPEGQuality)
	if err != nil {
		return err
	}

	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	if p.halted || p.sink == nil {
		return nil
	}
	p.sink.OnVideoSnapshot(channel.VideoSnapshot{
		Seq:        p.videoSeq,
		JPEG:       jpg,
		Width:      w,
		Height:     h,
		CapturedAt: time.Now(),
	})
	p.videoSeq++
	p.snapshots.Add(1)
	return nil
}
