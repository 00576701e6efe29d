// Package config resolves, parses, validates, and defaults livelink configuration.
package config

// Config is the fully materialized runtime configuration used by livelink.
type Config struct {
	Gemini    GeminiConfig
	Live      LiveConfig
	Audio     AudioConfig
	Camera    CameraConfig
	Session   SessionConfig
	Indicator IndicatorConfig
	Metrics   MetricsConfig
	Debug     DebugConfig
}

// GeminiConfig locates the live endpoint and its credentials.
type GeminiConfig struct {
	URL   string
	Model string
	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string
	// EnvFile is an optional dotenv file loaded before reading APIKeyEnv.
	EnvFile        string
	DialTimeoutMS  int
	SetupTimeoutMS int
}

// LiveConfig controls what the remote model is asked to produce.
type LiveConfig struct {
	ResponseModality    string
	Voice               string
	SystemInstruction   string
	InputTranscription  bool
	OutputTranscription bool
}

// AudioConfig controls microphone selection and stream formats.
type AudioConfig struct {
	Input            string
	Fallback         string
	InputSampleRate  int
	FrameSamples     int
	OutputSampleRate int
	StallTimeoutMS   int
}

// CameraConfig controls periodic video snapshots.
type CameraConfig struct {
	Enable      bool
	Device      string
	FFmpeg      string
	IntervalMS  int
	Width       int
	Height      int
	JPEGQuality int
}

// SessionConfig bounds lifecycle timing and the outbound queue.
type SessionConfig struct {
	OpenTimeoutMS        int
	ReleaseTimeoutMS     int
	SendQueue            int
	SendFailureThreshold int
}

// IndicatorConfig controls visual indicator and audio cue behavior.
type IndicatorConfig struct {
	Enable              bool
	Backend             string
	DesktopAppName      string
	SoundEnable         bool
	SoundConnectFile    string
	SoundDisconnectFile string
	SoundErrorFile      string
	CuePlayer           CommandConfig
	TextConnecting      string
	TextActive          string
	TextError           string
	ErrorTimeoutMS      int
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// MetricsConfig controls the optional Prometheus endpoint.
type MetricsConfig struct {
	Enable bool
	Listen string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableEventDump bool
	EnableAudioDump bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
