// Package session drives one live duplex conversation through its lifecycle:
// acquire devices and the remote channel, stream media both ways, and tear
// everything down exactly once.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/rbright/livelink/internal/capture"
	"github.com/rbright/livelink/internal/channel"
	"github.com/rbright/livelink/internal/fsm"
	"github.com/rbright/livelink/internal/ipc"
	"github.com/rbright/livelink/internal/playback"
	"github.com/rbright/livelink/internal/transcript"
)

var (
	// ErrSessionReused is returned when Run is called on a finished session.
	ErrSessionReused = errors.New("session already ran; create a new one")
	// errStopped marks a stop request that arrived while connecting.
	errStopped = errors.New("stopped while connecting")
)

const (
	defaultOpenTimeout          = 10 * time.Second
	defaultReleaseTimeout       = 2 * time.Second
	defaultSendQueue            = 64
	defaultSendFailureThreshold = 25
	logInterval                 = 5 * time.Second
)

// Config tunes one session.
type Config struct {
	Channel              channel.Config
	OpenTimeout          time.Duration
	ReleaseTimeout       time.Duration
	SendQueue            int
	SendFailureThreshold int
}

func (c Config) withDefaults() Config {
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = defaultOpenTimeout
	}
	if c.ReleaseTimeout <= 0 {
		c.ReleaseTimeout = defaultReleaseTimeout
	}
	if c.SendQueue <= 0 {
		c.SendQueue = defaultSendQueue
	}
	if c.SendFailureThreshold <= 0 {
		c.SendFailureThreshold = defaultSendFailureThreshold
	}
	return c
}

// Capture is the session-facing subset of the capture pipeline.
type Capture interface {
	Acquire(context.Context) error
	Start(capture.Sink) error
	Stop() error
	Stats() capture.Stats
}

// Player is the session-facing subset of the playback scheduler.
type Player interface {
	Open() error
	Enqueue([]int16) (playback.Segment, error)
	Flush() int
	Audible() bool
	Close() error
}

// Indicator is the session-facing subset of indicator behavior.
type Indicator interface {
	ShowConnecting(context.Context)
	ShowActive(context.Context)
	ShowError(context.Context, string)
	CueConnected(context.Context)
	CueDisconnected(context.Context)
	Hide(context.Context)
}

// noopIndicator preserves session flow when no indicator is wired.
type noopIndicator struct{}

func (noopIndicator) ShowConnecting(context.Context)    {}
func (noopIndicator) ShowActive(context.Context)        {}
func (noopIndicator) ShowError(context.Context, string) {}
func (noopIndicator) CueConnected(context.Context)      {}
func (noopIndicator) CueDisconnected(context.Context)   {}
func (noopIndicator) Hide(context.Context)              {}

// Result is the complete lifecycle output returned by one Run invocation.
type Result struct {
	SessionID string
	State     fsm.State
	Err       error
	// Reason is a human-readable account of why the session ended.
	Reason string

	AudioDevice       string
	FramesCaptured    uint64
	SnapshotsCaptured uint64
	AudioBytes        int64
	FramesSent        uint64
	FramesDropped     uint64
	SendFailures      uint64
	ChunksPlayed      uint64
	ChunksDropped     uint64
	Interruptions     uint64
	Turns             uint64

	StartedAt  time.Time
	FinishedAt time.Time
}

// Controller owns one session. It is single-use.
type Controller struct {
	id        string
	logger    *slog.Logger
	cfg       Config
	opener    channel.Opener
	capture   Capture
	player    Player
	indicator Indicator
	observer  Observer

	mu    sync.RWMutex
	state fsm.State

	transcript transcript.Accumulator

	stopCh     chan struct{}
	stopOnce   sync.Once
	captureErr chan error
	escalate   chan error
	outbox     *outbox

	framesSent    atomic.Uint64
	framesDropped atomic.Uint64
	sendFailures  atomic.Uint64
	chunksPlayed  atomic.Uint64
	chunksDropped atomic.Uint64
	interruptions atomic.Uint64

	dropLog  rate.Sometimes
	sendLog  rate.Sometimes
	chunkLog rate.Sometimes
}

// NewController wires a session. indicator and observer may be nil.
func NewController(
	logger *slog.Logger,
	cfg Config,
	opener channel.Opener,
	capture Capture,
	player Player,
	indicator Indicator,
	observer Observer,
) *Controller {
	cfg = cfg.withDefaults()
	if indicator == nil {
		indicator = noopIndicator{}
	}
	if observer == nil {
		observer = noopObserver{}
	}
	id := uuid.NewString()
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Controller{
		id:         id,
		logger:     logger.With("session_id", id),
		cfg:        cfg,
		opener:     opener,
		capture:    capture,
		player:     player,
		indicator:  indicator,
		observer:   observer,
		state:      fsm.StateIdle,
		stopCh:     make(chan struct{}),
		captureErr: make(chan error, 1),
		escalate:   make(chan error, 1),
		outbox:     newOutbox(cfg.SendQueue),
		dropLog:    rate.Sometimes{First: 1, Interval: logInterval},
		sendLog:    rate.Sometimes{First: 1, Interval: logInterval},
		chunkLog:   rate.Sometimes{First: 1, Interval: logInterval},
	}
}

// ID returns the session identifier used in logs.
func (c *Controller) ID() string {
	return c.id
}

// State returns the current FSM state snapshot.
func (c *Controller) State() fsm.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// transition applies one FSM event to the controller state.
func (c *Controller) transition(event fsm.Event) error {
	c.mu.Lock()
	prev := c.state
	next, err := fsm.Transition(c.state, event)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.state = next
	c.mu.Unlock()

	c.logger.Debug("session transition", "from", string(prev), "event", string(event), "to", string(next))
	c.observer.SessionState(next)
	return nil
}

// Stop requests teardown. It never blocks and is safe from any goroutine,
// any number of times, in any state.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// UserTranscript returns the user's transcription for the current turn.
func (c *Controller) UserTranscript() string {
	return c.transcript.User()
}

// AssistantTranscript returns the assistant's transcription for the current turn.
func (c *Controller) AssistantTranscript() string {
	return c.transcript.Assistant()
}

// Transcript returns both sides of the current turn consistently.
func (c *Controller) Transcript() transcript.Snapshot {
	return c.transcript.Snapshot()
}

// Audible reports whether assistant audio is currently sounding.
func (c *Controller) Audible() bool {
	if c.State() != fsm.StateActive {
		return false
	}
	return c.player.Audible()
}

// Run executes the whole lifecycle and returns when the session is Closed
// or Failed.
func (c *Controller) Run(ctx context.Context) Result {
	result := Result{SessionID: c.id, StartedAt: time.Now()}

	if err := c.transition(fsm.EventStart); err != nil {
		return c.finish(result, fmt.Errorf("%w: %v", ErrSessionReused, err), "session already used")
	}
	c.logger.Info("session connecting")
	c.indicator.ShowConnecting(ctx)

	ch, err := c.connect(ctx)
	if err == nil {
		err = c.activate(ch)
	}

	switch {
	case errors.Is(err, errStopped):
		_ = c.transition(fsm.EventStop)
		c.indicator.Hide(context.Background())
		_ = c.transition(fsm.EventReleased)
		return c.finish(result, nil, "stopped while connecting")
	case err != nil:
		_ = c.transition(fsm.EventFail)
		reason := failureReason(err)
		c.logger.Error("session failed to start", "error", err.Error(), "reason", reason)
		c.indicator.ShowError(context.Background(), reason)
		return c.finish(result, err, reason)
	}

	c.logger.Info("session active")
	c.indicator.ShowActive(ctx)
	c.indicator.CueConnected(context.Background())

	senderDone := make(chan struct{})
	go c.sendLoop(ctx, ch, senderDone)

	exit := c.loop(ctx, ch)
	if err := c.transition(exit.event); err != nil {
		c.logger.Error("session exit transition", "error", err.Error())
	}
	c.logger.Info("session closing", "event", string(exit.event), "reason", exit.reason)

	c.teardown(ch, senderDone)
	_ = c.transition(fsm.EventReleased)

	cleanupCtx, cancel := context.WithTimeout(context.Background(), 800*time.Millisecond)
	defer cancel()
	c.indicator.CueDisconnected(cleanupCtx)
	if exit.err != nil {
		c.indicator.ShowError(cleanupCtx, exit.reason)
	} else {
		c.indicator.Hide(cleanupCtx)
	}
	return c.finish(result, exit.err, exit.reason)
}

// activate starts capture into the outbound queue. On failure every
// acquired resource is released before returning.
func (c *Controller) activate(ch channel.Channel) error {
	if err := c.capture.Start(captureSink{c: c}); err != nil {
		c.release(ch, true, true)
		return fmt.Errorf("start capture: %w", err)
	}
	if err := c.transition(fsm.EventReady); err != nil {
		c.release(ch, true, true)
		return err
	}
	return nil
}

func (c *Controller) finish(result Result, err error, reason string) Result {
	stats := c.capture.Stats()

	result.State = c.State()
	result.Err = err
	result.Reason = reason
	result.AudioDevice = stats.Device
	result.FramesCaptured = stats.Frames
	result.SnapshotsCaptured = stats.Snapshots
	result.AudioBytes = stats.BytesAudio
	result.FramesSent = c.framesSent.Load()
	result.FramesDropped = c.framesDropped.Load()
	result.SendFailures = c.sendFailures.Load()
	result.ChunksPlayed = c.chunksPlayed.Load()
	result.ChunksDropped = c.chunksDropped.Load()
	result.Interruptions = c.interruptions.Load()
	result.Turns = uint64(c.transcript.Turns())
	result.FinishedAt = time.Now()
	return result
}

// failureReason maps startup errors onto user-facing messages.
func failureReason(err error) string {
	switch {
	case errors.Is(err, capture.ErrPermissionDenied):
		return "Camera or microphone access was denied. Check device permissions."
	case errors.Is(err, channel.ErrUnavailable):
		return "Live link unavailable. Check your network and API key."
	default:
		return "Failed to start live link. Ensure your camera and microphone are connected."
	}
}

// Handle serves IPC commands for the active owner session.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	state := string(c.State())
	switch req.Command {
	case ipc.CommandStatus:
		return ipc.StatusResponse(state, c.id, c.Audible())
	case ipc.CommandStop:
		return c.requestStop()
	case ipc.CommandTranscript:
		return ipc.Reply(state, c.id, transcript.Render(c.Transcript()))
	default:
		return ipc.Reject(state, c.id, "unknown command: %s", req.Command)
	}
}

func (c *Controller) requestStop() ipc.Response {
	state := c.State()
	switch state {
	case fsm.StateConnecting, fsm.StateActive:
	default:
		return ipc.Reject(string(state), c.id, "cannot stop from state %s", state)
	}

	select {
	case <-c.stopCh:
		return ipc.Reply(string(state), c.id, "stop already requested")
	default:
	}
	c.Stop()
	return ipc.Reply(string(state), c.id, "stop requested")
}
