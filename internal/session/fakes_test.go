package session

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rbright/livelink/internal/capture"
	"github.com/rbright/livelink/internal/channel"
	"github.com/rbright/livelink/internal/playback"
)

type fakeCapture struct {
	acquireErr error
	startErr   error
	stopBlock  chan struct{}

	// acquireBlock stalls Acquire regardless of its context.
	acquireBlock chan struct{}

	mu   sync.Mutex
	sink capture.Sink

	acquired atomic.Int32
	started  atomic.Int32
	stopped  atomic.Int32
}

func (f *fakeCapture) Acquire(context.Context) error {
	if f.acquireBlock != nil {
		<-f.acquireBlock
	}
	if f.acquireErr != nil {
		return f.acquireErr
	}
	f.acquired.Add(1)
	return nil
}

func (f *fakeCapture) Start(sink capture.Sink) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.sink = sink
	f.mu.Unlock()
	f.started.Add(1)
	return nil
}

func (f *fakeCapture) Stop() error {
	if f.stopBlock != nil {
		<-f.stopBlock
	}
	f.stopped.Add(1)
	return nil
}

func (f *fakeCapture) Stats() capture.Stats {
	return capture.Stats{Device: "fake mic", Frames: 3, BytesAudio: 3 * 640}
}

// held reports devices acquired and not yet released.
func (f *fakeCapture) held() int32 {
	return f.acquired.Load() - f.stopped.Load()
}

func (f *fakeCapture) currentSink() capture.Sink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sink
}

type fakeChannel struct {
	events chan channel.Inbound

	mu      sync.Mutex
	sent    []channel.Outbound
	sendErr error

	closeOnce sync.Once
	closed    atomic.Int32
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan channel.Inbound, 16)}
}

func (f *fakeChannel) Send(_ context.Context, ev channel.Outbound) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, ev)
	return nil
}

func (f *fakeChannel) Events() <-chan channel.Inbound {
	return f.events
}

func (f *fakeChannel) Close() error {
	f.closeOnce.Do(func() { f.closed.Add(1) })
	return nil
}

func (f *fakeChannel) sentFrames() []channel.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]channel.Outbound(nil), f.sent...)
}

type fakeOpener struct {
	ch    *fakeChannel
	err   error
	block bool

	opened atomic.Int32
	cfg    atomic.Pointer[channel.Config]
}

func (f *fakeOpener) Open(ctx context.Context, cfg channel.Config) (channel.Channel, error) {
	f.cfg.Store(&cfg)
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	f.opened.Add(1)
	return f.ch, nil
}

// clockSink is a playback sink whose frame clock tests advance by hand.
type clockSink struct {
	mu       sync.Mutex
	position int64
	voices   []*clockVoice
	started  atomic.Int32
	closed   atomic.Int32
}

type clockVoice struct {
	start    int64
	frames   int
	stopped  atomic.Bool
	finished atomic.Bool
}

func (v *clockVoice) Stop() {
	v.stopped.Store(true)
	v.finished.Store(true)
}

func (v *clockVoice) Finished() bool { return v.finished.Load() }

func (s *clockSink) Start() error {
	s.started.Add(1)
	return nil
}

func (s *clockSink) SampleRate() int { return 24000 }

func (s *clockSink) Position() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.position
}

func (s *clockSink) Schedule(start int64, samples []int16) (playback.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := &clockVoice{start: start, frames: len(samples)}
	s.voices = append(s.voices, v)
	return v, nil
}

func (s *clockSink) Close() error {
	s.closed.Add(1)
	return nil
}

func (s *clockSink) advance(frames int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position += frames
	for _, v := range s.voices {
		if v.start+int64(v.frames) <= s.position {
			v.finished.Store(true)
		}
	}
}

func (s *clockSink) scheduled() []*clockVoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*clockVoice(nil), s.voices...)
}

type fakeIndicator struct {
	errors       atomic.Int32
	connected    atomic.Int32
	disconnected atomic.Int32

	mu      sync.Mutex
	lastErr string
}

func (*fakeIndicator) ShowConnecting(context.Context) {}
func (*fakeIndicator) ShowActive(context.Context)     {}
func (f *fakeIndicator) ShowError(_ context.Context, msg string) {
	f.errors.Add(1)
	f.mu.Lock()
	f.lastErr = msg
	f.mu.Unlock()
}
func (f *fakeIndicator) CueConnected(context.Context)    { f.connected.Add(1) }
func (f *fakeIndicator) CueDisconnected(context.Context) { f.disconnected.Add(1) }
func (*fakeIndicator) Hide(context.Context)              {}

type harness struct {
	capture   *fakeCapture
	ch        *fakeChannel
	opener    *fakeOpener
	sink      *clockSink
	player    *playback.Scheduler
	indicator *fakeIndicator
	ctrl      *Controller
}

func newHarness(cfg Config) *harness {
	h := &harness{
		capture:   &fakeCapture{},
		ch:        newFakeChannel(),
		sink:      &clockSink{},
		indicator: &fakeIndicator{},
	}
	h.opener = &fakeOpener{ch: h.ch}
	h.player = playback.NewScheduler(h.sink, nil)
	h.ctrl = NewController(nil, cfg, h.opener, h.capture, h.player, h.indicator, nil)
	return h
}

// start runs the controller in the background and returns its result channel.
func (h *harness) start(ctx context.Context) <-chan Result {
	out := make(chan Result, 1)
	go func() { out <- h.ctrl.Run(ctx) }()
	return out
}
