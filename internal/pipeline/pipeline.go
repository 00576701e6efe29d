// Package pipeline assembles a live session from runtime config: devices,
// playback, the remote channel, and optional debug artifacts.
package pipeline

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rbright/livelink/internal/audio"
	"github.com/rbright/livelink/internal/camera"
	"github.com/rbright/livelink/internal/capture"
	"github.com/rbright/livelink/internal/channel"
	"github.com/rbright/livelink/internal/config"
	"github.com/rbright/livelink/internal/gemini"
	"github.com/rbright/livelink/internal/playback"
	"github.com/rbright/livelink/internal/session"
	"github.com/rbright/livelink/internal/version"
)

// Options carries values resolved outside the config file.
type Options struct {
	APIKey   string
	NoCamera bool
	// Indicator and Observer may be nil.
	Indicator session.Indicator
	Observer  session.Observer
}

// Live is one assembled session plus the artifacts it owns.
type Live struct {
	Controller *session.Controller

	cfg    config.Config
	logger *slog.Logger

	closeOnce sync.Once
	eventDump *os.File
	recorder  *recordingMicrophone
}

// Build wires a session controller from config. Devices are not opened
// until the controller runs.
func Build(cfg config.Config, opts Options, logger *slog.Logger) (*Live, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	live := &Live{cfg: cfg, logger: logger}

	var mic capture.Microphone = audio.Microphone{
		Input:        cfg.Audio.Input,
		Fallback:     cfg.Audio.Fallback,
		SampleRate:   cfg.Audio.InputSampleRate,
		StallTimeout: time.Duration(cfg.Audio.StallTimeoutMS) * time.Millisecond,
		Logger:       logger,
	}
	if cfg.Debug.EnableAudioDump {
		live.recorder = &recordingMicrophone{inner: mic}
		mic = live.recorder
	}

	var dump io.Writer
	if cfg.Debug.EnableEventDump {
		file, err := createDebugFile("events", "jsonl")
		if err != nil {
			return nil, err
		}
		live.eventDump = file
		dump = file
	}

	capturePipeline := capture.New(captureConfig(cfg), mic, cameraFor(cfg, opts.NoCamera), logger)
	player := playback.NewScheduler(playback.NewMalgoSink(cfg.Audio.OutputSampleRate, logger), logger)

	live.Controller = session.NewController(
		logger,
		sessionConfig(cfg),
		newDialer(cfg, opts.APIKey, dump, logger),
		capturePipeline,
		player,
		opts.Indicator,
		opts.Observer,
	)
	return live, nil
}

// Close flushes debug artifacts. Call it after the controller has returned.
func (l *Live) Close() error {
	var err error
	l.closeOnce.Do(func() {
		if l.recorder != nil {
			if werr := l.writeDebugAudio(l.recorder.recorded()); werr != nil {
				l.logger.Warn("unable to write debug audio dump", "error", werr.Error())
			}
		}
		if l.eventDump != nil {
			err = l.eventDump.Close()
		}
	})
	return err
}

func (l *Live) writeDebugAudio(rawPCM []byte) error {
	if len(rawPCM) == 0 {
		return nil
	}
	file, err := createDebugFile("audio", "wav")
	if err != nil {
		return err
	}
	defer file.Close()

	if err := writePCM16WAV(file, rawPCM, l.cfg.Audio.InputSampleRate, 1); err != nil {
		return fmt.Errorf("write %s: %w", file.Name(), err)
	}
	l.logger.Info("wrote debug audio dump", "path", file.Name())
	return nil
}

func sessionConfig(cfg config.Config) session.Config {
	return session.Config{
		Channel: channel.Config{
			ResponseModality:  channel.Modality(cfg.Live.ResponseModality),
			SystemInstruction: cfg.Live.SystemInstruction,
			Voice:             cfg.Live.Voice,
			Transcription: channel.Transcription{
				User:      cfg.Live.InputTranscription,
				Assistant: cfg.Live.OutputTranscription,
			},
			InputSampleRate: cfg.Audio.InputSampleRate,
		},
		OpenTimeout:          time.Duration(cfg.Session.OpenTimeoutMS) * time.Millisecond,
		ReleaseTimeout:       time.Duration(cfg.Session.ReleaseTimeoutMS) * time.Millisecond,
		SendQueue:            cfg.Session.SendQueue,
		SendFailureThreshold: cfg.Session.SendFailureThreshold,
	}
}

func captureConfig(cfg config.Config) capture.Config {
	return capture.Config{
		FrameSamples:  cfg.Audio.FrameSamples,
		VideoInterval: time.Duration(cfg.Camera.IntervalMS) * time.Millisecond,
		VideoWidth:    cfg.Camera.Width,
		VideoHeight:   cfg.Camera.Height,
		JPEGQuality:   cfg.Camera.JPEGQuality,
	}
}

// cameraFor returns nil for audio-only sessions.
func cameraFor(cfg config.Config, noCamera bool) capture.Camera {
	if noCamera || !cfg.Camera.Enable {
		return nil
	}
	return camera.Camera{
		Device: cfg.Camera.Device,
		FFmpeg: cfg.Camera.FFmpeg,
		Width:  cfg.Camera.Width,
		Height: cfg.Camera.Height,
	}
}

func newDialer(cfg config.Config, apiKey string, dump io.Writer, logger *slog.Logger) gemini.Dialer {
	return gemini.Dialer{
		URL:          cfg.Gemini.URL,
		APIKey:       apiKey,
		Model:        cfg.Gemini.Model,
		DialTimeout:  time.Duration(cfg.Gemini.DialTimeoutMS) * time.Millisecond,
		SetupTimeout: time.Duration(cfg.Gemini.SetupTimeoutMS) * time.Millisecond,
		UserAgent:    version.UserAgent(),
		Logger:       logger,
		EventDump:    dump,
	}
}
