package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if strings.TrimSpace(cfg.Gemini.URL) == "" {
		return nil, fmt.Errorf("gemini.url must not be empty")
	}
	parsed, err := url.Parse(strings.TrimSpace(cfg.Gemini.URL))
	if err != nil {
		return nil, fmt.Errorf("gemini.url is invalid: %w", err)
	}
	if parsed.Scheme != "wss" && parsed.Scheme != "ws" {
		return nil, fmt.Errorf("gemini.url must use ws:// or wss://")
	}
	if parsed.Scheme == "ws" {
		warnings = append(warnings, Warning{Message: "gemini.url uses unencrypted ws://; the API key is sent in clear text"})
	}
	if strings.TrimSpace(cfg.Gemini.Model) == "" {
		return nil, fmt.Errorf("gemini.model must not be empty")
	}
	if strings.TrimSpace(cfg.Gemini.APIKeyEnv) == "" {
		return nil, fmt.Errorf("gemini.api_key_env must not be empty")
	}
	if cfg.Gemini.DialTimeoutMS <= 0 {
		return nil, fmt.Errorf("gemini.dial_timeout_ms must be > 0")
	}
	if cfg.Gemini.SetupTimeoutMS <= 0 {
		return nil, fmt.Errorf("gemini.setup_timeout_ms must be > 0")
	}

	switch strings.ToUpper(strings.TrimSpace(cfg.Live.ResponseModality)) {
	case "AUDIO":
		if strings.TrimSpace(cfg.Live.Voice) == "" {
			return nil, fmt.Errorf("live.voice must not be empty when live.response_modality=AUDIO")
		}
	case "TEXT":
		warnings = append(warnings, Warning{Message: "live.response_modality=TEXT disables assistant speech playback"})
	default:
		return nil, fmt.Errorf("live.response_modality must be one of: AUDIO, TEXT")
	}

	if cfg.Audio.InputSampleRate <= 0 {
		return nil, fmt.Errorf("audio.input_sample_rate must be > 0")
	}
	if cfg.Audio.OutputSampleRate <= 0 {
		return nil, fmt.Errorf("audio.output_sample_rate must be > 0")
	}
	if cfg.Audio.FrameSamples <= 0 {
		return nil, fmt.Errorf("audio.frame_samples must be > 0")
	}
	if cfg.Audio.StallTimeoutMS < 0 {
		return nil, fmt.Errorf("audio.stall_timeout_ms must be >= 0")
	}

	if cfg.Camera.Enable {
		if strings.TrimSpace(cfg.Camera.Device) == "" {
			return nil, fmt.Errorf("camera.device must not be empty when camera.enable=true")
		}
		if strings.TrimSpace(cfg.Camera.FFmpeg) == "" {
			return nil, fmt.Errorf("camera.ffmpeg must not be empty when camera.enable=true")
		}
	}
	if cfg.Camera.IntervalMS <= 0 {
		return nil, fmt.Errorf("camera.interval_ms must be > 0")
	}
	if cfg.Camera.Width <= 0 || cfg.Camera.Height <= 0 {
		return nil, fmt.Errorf("camera.width and camera.height must be > 0")
	}
	if cfg.Camera.JPEGQuality < 1 || cfg.Camera.JPEGQuality > 100 {
		return nil, fmt.Errorf("camera.jpeg_quality must be between 1 and 100")
	}

	if cfg.Session.OpenTimeoutMS <= 0 {
		return nil, fmt.Errorf("session.open_timeout_ms must be > 0")
	}
	if cfg.Session.ReleaseTimeoutMS <= 0 {
		return nil, fmt.Errorf("session.release_timeout_ms must be > 0")
	}
	if cfg.Session.SendQueue <= 0 {
		return nil, fmt.Errorf("session.send_queue must be > 0")
	}
	if cfg.Session.SendFailureThreshold <= 0 {
		return nil, fmt.Errorf("session.send_failure_threshold must be > 0")
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Indicator.Backend))
	if backend == "" {
		return nil, fmt.Errorf("indicator.backend must not be empty")
	}
	if backend != "hypr" && backend != "desktop" {
		return nil, fmt.Errorf("indicator.backend must be one of: hypr, desktop")
	}
	if backend == "desktop" && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.backend=desktop")
	}
	if cfg.Indicator.CuePlayer.Raw != "" && len(cfg.Indicator.CuePlayer.Argv) == 0 {
		return nil, fmt.Errorf("indicator.cue_player_cmd is configured but empty")
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}

	if cfg.Metrics.Enable {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(cfg.Metrics.Listen)); err != nil {
			return nil, fmt.Errorf("metrics.listen must be host:port: %w", err)
		}
	}

	return warnings, nil
}
