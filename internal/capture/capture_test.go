package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/livelink/internal/channel"
)

type fakeStream struct {
	mu     sync.Mutex
	fn     func([]float32)
	lost   chan error
	closed atomic.Int32
}

func newFakeStream() *fakeStream {
	return &fakeStream{lost: make(chan error, 1)}
}

func (s *fakeStream) SampleRate() int { return 16000 }
func (s *fakeStream) Device() string  { return "fake mic" }

func (s *fakeStream) Start(fn func([]float32)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = fn
	return nil
}

func (s *fakeStream) Lost() <-chan error { return s.lost }

func (s *fakeStream) Close() error {
	s.closed.Add(1)
	return nil
}

func (s *fakeStream) push(samples []float32) {
	s.mu.Lock()
	fn := s.fn
	s.mu.Unlock()
	if fn != nil {
		fn(samples)
	}
}

type fakeMic struct {
	stream *fakeStream
	err    error
}

func (m *fakeMic) Open(context.Context) (InputStream, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.stream, nil
}

type fakeShutter struct {
	err    error
	closed atomic.Int32
}

func (s *fakeShutter) Snapshot(context.Context) (image.Image, error) {
	if s.err != nil {
		return nil, s.err
	}
	img := image.NewRGBA(image.Rect(0, 0, 640, 480))
	for y := 0; y < 480; y++ {
		for x := 0; x < 640; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	return img, nil
}

func (s *fakeShutter) Close() error {
	s.closed.Add(1)
	return nil
}

type fakeCamera struct {
	shutter *fakeShutter
	err     error
}

func (c *fakeCamera) Open(context.Context) (Shutter, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.shutter, nil
}

type recordingSink struct {
	mu        sync.Mutex
	frames    []channel.AudioFrame
	snapshots []channel.VideoSnapshot
	errs      []error
}

func (s *recordingSink) OnAudioFrame(f channel.AudioFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, f)
}

func (s *recordingSink) OnVideoSnapshot(v channel.VideoSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, v)
}

func (s *recordingSink) OnCaptureError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *recordingSink) counts() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames), len(s.snapshots), len(s.errs)
}

func TestPipelineAssemblesFixedFramesInOrder(t *testing.T) {
	stream := newFakeStream()
	p := New(Config{FrameSamples: 4}, &fakeMic{stream: stream}, nil, nil)
	sink := &recordingSink{}

	require.NoError(t, p.Acquire(context.Background()))
	require.NoError(t, p.Start(sink))

	stream.push([]float32{0, 0.5, 1.0})
	stream.push([]float32{-1.0, 0, 0, 0, 0, 0.25, 0.25, 0.25, 0.25, 0.1})

	frames, _, _ := sink.counts()
	require.Equal(t, 3, frames)
	for i, f := range sink.frames {
		require.Equal(t, uint64(i), f.Seq)
		require.Len(t, f.PCM, 8)
		require.Equal(t, 16000, f.SampleRate)
	}
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x40, 0xff, 0x7f, 0x00, 0x80}, sink.frames[0].PCM)

	require.NoError(t, p.Stop())
	stats := p.Stats()
	require.Equal(t, uint64(3), stats.Frames)
	require.Equal(t, int64(24), stats.BytesAudio)
	require.Equal(t, "fake mic", stats.Device)
}

func TestPipelineStopIsIdempotentAndSilencesCallbacks(t *testing.T) {
	stream := newFakeStream()
	shutter := &fakeShutter{}
	p := New(Config{FrameSamples: 2, VideoInterval: time.Hour}, &fakeMic{stream: stream}, &fakeCamera{shutter: shutter}, nil)
	sink := &recordingSink{}

	require.NoError(t, p.Acquire(context.Background()))
	require.NoError(t, p.Start(sink))
	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop())

	stream.push([]float32{0.1, 0.2, 0.3, 0.4})
	frames, _, _ := sink.counts()
	require.Zero(t, frames)
	require.Equal(t, int32(1), stream.closed.Load())
	require.Equal(t, int32(1), shutter.closed.Load())

	require.Error(t, p.Acquire(context.Background()))
}

func TestPipelineStopBeforeStartReleasesDevices(t *testing.T) {
	stream := newFakeStream()
	p := New(Config{}, &fakeMic{stream: stream}, nil, nil)

	require.NoError(t, p.Acquire(context.Background()))
	require.NoError(t, p.Stop())
	require.Equal(t, int32(1), stream.closed.Load())
}

func TestPipelineStartRequiresAcquire(t *testing.T) {
	p := New(Config{}, &fakeMic{stream: newFakeStream()}, nil, nil)
	require.True(t, errors.Is(p.Start(&recordingSink{}), ErrNotAcquired))
}

func TestAcquireReleasesMicrophoneWhenCameraDenied(t *testing.T) {
	stream := newFakeStream()
	cam := &fakeCamera{err: ErrPermissionDenied}
	p := New(Config{}, &fakeMic{stream: stream}, cam, nil)

	err := p.Acquire(context.Background())
	require.True(t, errors.Is(err, ErrPermissionDenied))
	require.Equal(t, int32(1), stream.closed.Load())
}

func TestAcquirePropagatesMicrophonePermissionDenied(t *testing.T) {
	p := New(Config{}, &fakeMic{err: ErrPermissionDenied}, nil, nil)

	err := p.Acquire(context.Background())
	require.True(t, errors.Is(err, ErrPermissionDenied))
	require.Contains(t, err.Error(), "open microphone")
}

func TestPipelineReportsDeviceLossOnce(t *testing.T) {
	stream := newFakeStream()
	p := New(Config{FrameSamples: 1}, &fakeMic{stream: stream}, nil, nil)
	sink := &recordingSink{}

	require.NoError(t, p.Acquire(context.Background()))
	require.NoError(t, p.Start(sink))

	stream.lost <- errors.New("source removed")

	require.Eventually(t, func() bool {
		_, _, errs := sink.counts()
		return errs == 1
	}, time.Second, 5*time.Millisecond)
	require.True(t, errors.Is(sink.errs[0], ErrDeviceLost))

	stream.push([]float32{0.5})
	frames, _, _ := sink.counts()
	require.Zero(t, frames)

	require.NoError(t, p.Stop())
	_, _, errs := sink.counts()
	require.Equal(t, 1, errs)
}

func TestPipelineEmitsScaledJPEGSnapshots(t *testing.T) {
	stream := newFakeStream()
	p := New(Config{
		VideoInterval: 10 * time.Millisecond,
		VideoWidth:    320,
		VideoHeight:   240,
		JPEGQuality:   60,
	}, &fakeMic{stream: stream}, &fakeCamera{shutter: &fakeShutter{}}, nil)
	sink := &recordingSink{}

	require.NoError(t, p.Acquire(context.Background()))
	require.NoError(t, p.Start(sink))

	require.Eventually(t, func() bool {
		_, snaps, _ := sink.counts()
		return snaps >= 2
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop())

	sink.mu.Lock()
	first := sink.snapshots[0]
	second := sink.snapshots[1]
	sink.mu.Unlock()

	require.Equal(t, uint64(0), first.Seq)
	require.Equal(t, uint64(1), second.Seq)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(first.JPEG))
	require.NoError(t, err)
	require.Equal(t, 320, cfg.Width)
	require.Equal(t, 240, cfg.Height)
}

func TestSnapshotDeviceLossFailsPipeline(t *testing.T) {
	stream := newFakeStream()
	shutter := &fakeShutter{err: ErrDeviceLost}
	p := New(Config{VideoInterval: 5 * time.Millisecond}, &fakeMic{stream: stream}, &fakeCamera{shutter: shutter}, nil)
	sink := &recordingSink{}

	require.NoError(t, p.Acquire(context.Background()))
	require.NoError(t, p.Start(sink))

	require.Eventually(t, func() bool {
		_, _, errs := sink.counts()
		return errs == 1
	}, time.Second, 5*time.Millisecond)
	require.NoError(t, p.Stop())
}

func TestEncodeSnapshotKeepsBoundsWhenUnsized(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 8, 6))
	jpg, w, h, err := EncodeSnapshot(img, 0, 0, 80)
	require.NoError(t, err)
	require.Equal(t, 8, w)
	require.Equal(t, 6, h)
	require.NotEmpty(t, jpg)

	_, _, _, err = EncodeSnapshot(nil, 1, 1, 80)
	require.Error(t, err)
}
