// Package metrics exports live session telemetry to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rbright/livelink/internal/fsm"
)

const namespace = "livelink"

var states = []fsm.State{
	fsm.StateIdle,
	fsm.StateConnecting,
	fsm.StateActive,
	fsm.StateClosing,
	fsm.StateClosed,
	fsm.StateFailed,
}

// Metrics holds all session collectors. It satisfies the session observer
// contract and never blocks the caller.
type Metrics struct {
	// Session metrics
	CurrentState    *prometheus.GaugeVec
	SessionsStarted prometheus.Counter
	SessionsEnded   *prometheus.CounterVec

	// Outbound media
	FramesSent    *prometheus.CounterVec
	FramesDropped *prometheus.CounterVec
	SendFailures  *prometheus.CounterVec

	// Playback
	ChunksPlayed     prometheus.Counter
	ChunksDropped    prometheus.Counter
	PlaybackSeconds  prometheus.Counter
	PlaybackUnderrun prometheus.Counter

	// Conversation
	Interruptions   prometheus.Counter
	FlushedSegments prometheus.Histogram
	Turns           prometheus.Counter

	outputRate float64
}

// NewRegistry returns a registry carrying the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// New creates and registers session collectors on reg. outputRate is the
// playback sample rate used to convert frames into seconds.
func New(reg prometheus.Registerer, outputRate int) *Metrics {
	factory := promauto.With(reg)
	if outputRate <= 0 {
		outputRate = 24000
	}

	return &Metrics{
		CurrentState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_state",
			Help:      "1 for the current live session state, 0 otherwise",
		}, []string{"state"}),
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of live sessions that began connecting",
		}),
		SessionsEnded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of live sessions by terminal state",
		}, []string{"state"}),

		FramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Total outbound media frames delivered to the channel",
		}, []string{"kind"}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_dropped_total",
			Help:      "Total outbound media frames evicted from a full send queue",
		}, []string{"kind"}),
		SendFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "send_failures_total",
			Help:      "Total outbound media frames the channel refused",
		}, []string{"kind"}),

		ChunksPlayed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_chunks_total",
			Help:      "Total assistant audio chunks scheduled for playback",
		}),
		ChunksDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_chunks_dropped_total",
			Help:      "Total assistant audio chunks that could not be decoded or scheduled",
		}),
		PlaybackSeconds: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_audio_seconds_total",
			Help:      "Total seconds of assistant audio scheduled",
		}),
		PlaybackUnderrun: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_underruns_total",
			Help:      "Total chunks that arrived after the previous one finished playing",
		}),

		Interruptions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "interruptions_total",
			Help:      "Total barge-in interruptions",
		}),
		FlushedSegments: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "interruption_flushed_segments",
			Help:      "Playing or pending segments silenced per interruption",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		}),
		Turns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total completed conversation turns",
		}),

		outputRate: float64(outputRate),
	}
}

func (m *Metrics) SessionState(state fsm.State) {
	for _, s := range states {
		value := 0.0
		if s == state {
			value = 1
		}
		m.CurrentState.WithLabelValues(string(s)).Set(value)
	}

	switch {
	case state == fsm.StateConnecting:
		m.SessionsStarted.Inc()
	case fsm.Terminal(state):
		m.SessionsEnded.WithLabelValues(string(state)).Inc()
	}
}

func (m *Metrics) FrameSent(kind string) {
	m.FramesSent.WithLabelValues(kind).Inc()
}

func (m *Metrics) FrameDropped(kind string) {
	m.FramesDropped.WithLabelValues(kind).Inc()
}

func (m *Metrics) SendFailed(kind string) {
	m.SendFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) ChunkPlayed(frames int, underrun bool) {
	m.ChunksPlayed.Inc()
	m.PlaybackSeconds.Add(float64(frames) / m.outputRate)
	if underrun {
		m.PlaybackUnderrun.Inc()
	}
}

func (m *Metrics) ChunkDropped() {
	m.ChunksDropped.Inc()
}

func (m *Metrics) Interrupted(flushed int) {
	m.Interruptions.Inc()
	m.FlushedSegments.Observe(float64(flushed))
}

func (m *Metrics) TurnCompleted() {
	m.Turns.Inc()
}
