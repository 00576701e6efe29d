package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateDefaultsPass(t *testing.T) {
	warnings, err := Validate(Default())
	require.NoError(t, err)
	require.Empty(t, warnings)
}

func TestValidateRejectsInvalidCoreFields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "empty url", mutate: func(c *Config) { c.Gemini.URL = "" }, wantErr: "gemini.url"},
		{name: "http url", mutate: func(c *Config) { c.Gemini.URL = "https://example.com" }, wantErr: "ws:// or wss://"},
		{name: "empty model", mutate: func(c *Config) { c.Gemini.Model = " " }, wantErr: "gemini.model"},
		{name: "empty api key env", mutate: func(c *Config) { c.Gemini.APIKeyEnv = "" }, wantErr: "api_key_env"},
		{name: "zero setup timeout", mutate: func(c *Config) { c.Gemini.SetupTimeoutMS = 0 }, wantErr: "setup_timeout_ms"},
		{name: "bad modality", mutate: func(c *Config) { c.Live.ResponseModality = "VIDEO" }, wantErr: "response_modality"},
		{name: "audio without voice", mutate: func(c *Config) { c.Live.Voice = "" }, wantErr: "live.voice"},
		{name: "zero input rate", mutate: func(c *Config) { c.Audio.InputSampleRate = 0 }, wantErr: "input_sample_rate"},
		{name: "zero frame samples", mutate: func(c *Config) { c.Audio.FrameSamples = 0 }, wantErr: "frame_samples"},
		{name: "camera without device", mutate: func(c *Config) { c.Camera.Device = "" }, wantErr: "camera.device"},
		{name: "jpeg quality", mutate: func(c *Config) { c.Camera.JPEGQuality = 101 }, wantErr: "jpeg_quality"},
		{name: "zero interval", mutate: func(c *Config) { c.Camera.IntervalMS = 0 }, wantErr: "interval_ms"},
		{name: "zero send queue", mutate: func(c *Config) { c.Session.SendQueue = 0 }, wantErr: "send_queue"},
		{name: "zero failure threshold", mutate: func(c *Config) { c.Session.SendFailureThreshold = 0 }, wantErr: "send_failure_threshold"},
		{name: "bad backend", mutate: func(c *Config) { c.Indicator.Backend = "x11" }, wantErr: "indicator.backend"},
		{name: "negative error timeout", mutate: func(c *Config) { c.Indicator.ErrorTimeoutMS = -1 }, wantErr: "error_timeout"},
		{name: "cue player raw but empty argv", mutate: func(c *Config) {
			c.Indicator.CuePlayer = CommandConfig{Raw: "mycmd"}
		}, wantErr: "cue_player_cmd"},
		{name: "metrics listen", mutate: func(c *Config) {
			c.Metrics.Enable = true
			c.Metrics.Listen = "9464"
		}, wantErr: "metrics.listen"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)

			_, err := Validate(cfg)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestValidateWarnsOnInsecureURLAndTextModality(t *testing.T) {
	cfg := Default()
	cfg.Gemini.URL = "ws://127.0.0.1:8080/live"
	cfg.Live.ResponseModality = "TEXT"

	warnings, err := Validate(cfg)
	require.NoError(t, err)
	require.Len(t, warnings, 2)
}

func TestValidateSkipsCameraDeviceWhenDisabled(t *testing.T) {
	cfg := Default()
	cfg.Camera.Enable = false
	cfg.Camera.Device = ""

	_, err := Validate(cfg)
	require.NoError(t, err)
}

func TestResolveAPIKeyFromEnvironment(t *testing.T) {
	t.Setenv("LIVELINK_TEST_KEY", "  secret  ")
	key, err := ResolveAPIKey(GeminiConfig{APIKeyEnv: "LIVELINK_TEST_KEY"})
	require.NoError(t, err)
	require.Equal(t, "secret", key)
}

func TestResolveAPIKeyMissing(t *testing.T) {
	t.Setenv("LIVELINK_TEST_KEY", "")
	_, err := ResolveAPIKey(GeminiConfig{APIKeyEnv: "LIVELINK_TEST_KEY"})
	require.ErrorIs(t, err, ErrMissingAPIKey)
	require.Contains(t, err.Error(), "LIVELINK_TEST_KEY")
}
