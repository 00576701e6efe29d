package config

const defaultSystemInstruction = "You are LiveLink. " +
	"You are helpful and naturally expressive. " +
	"You can see through the camera. " +
	"Be concise."

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	cuePlayer := "pw-play --media-role Notification"

	return Config{
		Gemini: GeminiConfig{
			URL:            "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent",
			Model:          "gemini-2.5-flash-native-audio-preview-12-2025",
			APIKeyEnv:      "GEMINI_API_KEY",
			DialTimeoutMS:  10000,
			SetupTimeoutMS: 10000,
		},
		Live: LiveConfig{
			ResponseModality:    "AUDIO",
			Voice:               "Zephyr",
			SystemInstruction:   defaultSystemInstruction,
			InputTranscription:  true,
			OutputTranscription: true,
		},
		Audio: AudioConfig{
			Input:            "default",
			Fallback:         "default",
			InputSampleRate:  16000,
			FrameSamples:     4096,
			OutputSampleRate: 24000,
			StallTimeoutMS:   3000,
		},
		Camera: CameraConfig{
			Enable:      true,
			Device:      "/dev/video0",
			FFmpeg:      "ffmpeg",
			IntervalMS:  1000,
			Width:       320,
			Height:      240,
			JPEGQuality: 60,
		},
		Session: SessionConfig{
			OpenTimeoutMS:        10000,
			ReleaseTimeoutMS:     2000,
			SendQueue:            64,
			SendFailureThreshold: 25,
		},
		Indicator: IndicatorConfig{
			Enable:         true,
			Backend:        "hypr",
			DesktopAppName: "livelink-indicator",
			SoundEnable:    true,
			CuePlayer:      CommandConfig{Raw: cuePlayer, Argv: mustParseArgv(cuePlayer)},
			ErrorTimeoutMS: 4000,
		},
		Metrics: MetricsConfig{
			Enable: false,
			Listen: "127.0.0.1:9464",
		},
		Debug: DebugConfig{},
	}
}
