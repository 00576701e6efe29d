package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Gemini    *jsoncGemini    `json:"gemini"`
	Live      *jsoncLive      `json:"live"`
	Audio     *jsoncAudio     `json:"audio"`
	Camera    *jsoncCamera    `json:"camera"`
	Session   *jsoncSession   `json:"session"`
	Indicator *jsoncIndicator `json:"indicator"`
	Metrics   *jsoncMetrics   `json:"metrics"`
	Debug     *jsoncDebug     `json:"debug"`
}

type jsoncGemini struct {
	URL            *string `json:"url"`
	Model          *string `json:"model"`
	APIKeyEnv      *string `json:"api_key_env"`
	EnvFile        *string `json:"env_file"`
	DialTimeoutMS  *int    `json:"dial_timeout_ms"`
	SetupTimeoutMS *int    `json:"setup_timeout_ms"`
}

type jsoncLive struct {
	ResponseModality    *string `json:"response_modality"`
	Voice               *string `json:"voice"`
	SystemInstruction   *string `json:"system_instruction"`
	InputTranscription  *bool   `json:"input_transcription"`
	OutputTranscription *bool   `json:"output_transcription"`
}

type jsoncAudio struct {
	Input            *string `json:"input"`
	Fallback         *string `json:"fallback"`
	InputSampleRate  *int    `json:"input_sample_rate"`
	FrameSamples     *int    `json:"frame_samples"`
	OutputSampleRate *int    `json:"output_sample_rate"`
	StallTimeoutMS   *int    `json:"stall_timeout_ms"`
}

type jsoncCamera struct {
	Enable      *bool   `json:"enable"`
	Device      *string `json:"device"`
	FFmpeg      *string `json:"ffmpeg"`
	IntervalMS  *int    `json:"interval_ms"`
	Width       *int    `json:"width"`
	Height      *int    `json:"height"`
	JPEGQuality *int    `json:"jpeg_quality"`
}

type jsoncSession struct {
	OpenTimeoutMS        *int `json:"open_timeout_ms"`
	ReleaseTimeoutMS     *int `json:"release_timeout_ms"`
	SendQueue            *int `json:"send_queue"`
	SendFailureThreshold *int `json:"send_failure_threshold"`
}

type jsoncIndicator struct {
	Enable              *bool   `json:"enable"`
	Backend             *string `json:"backend"`
	DesktopAppName      *string `json:"desktop_app_name"`
	SoundEnable         *bool   `json:"sound_enable"`
	SoundConnectFile    *string `json:"sound_connect_file"`
	SoundDisconnectFile *string `json:"sound_disconnect_file"`
	SoundErrorFile      *string `json:"sound_error_file"`
	CuePlayerCmd        *string `json:"cue_player_cmd"`
	TextConnecting      *string `json:"text_connecting"`
	TextActive          *string `json:"text_active"`
	TextError           *string `json:"text_error"`
	ErrorTimeoutMS      *int    `json:"error_timeout_ms"`
}

type jsoncMetrics struct {
	Enable *bool   `json:"enable"`
	Listen *string `json:"listen"`
}

type jsoncDebug struct {
	EventDump *bool `json:"event_dump"`
	AudioDump *bool `json:"audio_dump"`
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if payload.Gemini != nil {
		setString(&cfg.Gemini.URL, payload.Gemini.URL)
		setString(&cfg.Gemini.Model, payload.Gemini.Model)
		setString(&cfg.Gemini.APIKeyEnv, payload.Gemini.APIKeyEnv)
		setString(&cfg.Gemini.EnvFile, payload.Gemini.EnvFile)
		setInt(&cfg.Gemini.DialTimeoutMS, payload.Gemini.DialTimeoutMS)
		setInt(&cfg.Gemini.SetupTimeoutMS, payload.Gemini.SetupTimeoutMS)
	}

	if payload.Live != nil {
		if payload.Live.ResponseModality != nil {
			cfg.Live.ResponseModality = strings.ToUpper(strings.TrimSpace(*payload.Live.ResponseModality))
		}
		setString(&cfg.Live.Voice, payload.Live.Voice)
		if payload.Live.SystemInstruction != nil {
			cfg.Live.SystemInstruction = *payload.Live.SystemInstruction
		}
		setBool(&cfg.Live.InputTranscription, payload.Live.InputTranscription)
		setBool(&cfg.Live.OutputTranscription, payload.Live.OutputTranscription)
	}

	if payload.Audio != nil {
		if payload.Audio.Input != nil {
			cfg.Audio.Input = *payload.Audio.Input
		}
		if payload.Audio.Fallback != nil {
			cfg.Audio.Fallback = *payload.Audio.Fallback
		}
		setInt(&cfg.Audio.InputSampleRate, payload.Audio.InputSampleRate)
		setInt(&cfg.Audio.FrameSamples, payload.Audio.FrameSamples)
		setInt(&cfg.Audio.OutputSampleRate, payload.Audio.OutputSampleRate)
		setInt(&cfg.Audio.StallTimeoutMS, payload.Audio.StallTimeoutMS)
	}

	if payload.Camera != nil {
		setBool(&cfg.Camera.Enable, payload.Camera.Enable)
		setString(&cfg.Camera.Device, payload.Camera.Device)
		setString(&cfg.Camera.FFmpeg, payload.Camera.FFmpeg)
		setInt(&cfg.Camera.IntervalMS, payload.Camera.IntervalMS)
		setInt(&cfg.Camera.Width, payload.Camera.Width)
		setInt(&cfg.Camera.Height, payload.Camera.Height)
		setInt(&cfg.Camera.JPEGQuality, payload.Camera.JPEGQuality)
	}

	if payload.Session != nil {
		setInt(&cfg.Session.OpenTimeoutMS, payload.Session.OpenTimeoutMS)
		setInt(&cfg.Session.ReleaseTimeoutMS, payload.Session.ReleaseTimeoutMS)
		setInt(&cfg.Session.SendQueue, payload.Session.SendQueue)
		setInt(&cfg.Session.SendFailureThreshold, payload.Session.SendFailureThreshold)
	}

	if payload.Indicator != nil {
		setBool(&cfg.Indicator.Enable, payload.Indicator.Enable)
		setString(&cfg.Indicator.Backend, payload.Indicator.Backend)
		setString(&cfg.Indicator.DesktopAppName, payload.Indicator.DesktopAppName)
		setBool(&cfg.Indicator.SoundEnable, payload.Indicator.SoundEnable)
		setString(&cfg.Indicator.SoundConnectFile, payload.Indicator.SoundConnectFile)
		setString(&cfg.Indicator.SoundDisconnectFile, payload.Indicator.SoundDisconnectFile)
		setString(&cfg.Indicator.SoundErrorFile, payload.Indicator.SoundErrorFile)
		if payload.Indicator.CuePlayerCmd != nil {
			raw := *payload.Indicator.CuePlayerCmd
			argv, err := parseArgv(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid indicator.cue_player_cmd: %w", err)
			}
			cfg.Indicator.CuePlayer = CommandConfig{Raw: raw, Argv: argv}
		}
		setString(&cfg.Indicator.TextConnecting, payload.Indicator.TextConnecting)
		setString(&cfg.Indicator.TextActive, payload.Indicator.TextActive)
		setString(&cfg.Indicator.TextError, payload.Indicator.TextError)
		setInt(&cfg.Indicator.ErrorTimeoutMS, payload.Indicator.ErrorTimeoutMS)
	}

	if payload.Metrics != nil {
		setBool(&cfg.Metrics.Enable, payload.Metrics.Enable)
		setString(&cfg.Metrics.Listen, payload.Metrics.Listen)
	}

	if payload.Debug != nil {
		setBool(&cfg.Debug.EnableEventDump, payload.Debug.EventDump)
		setBool(&cfg.Debug.EnableAudioDump, payload.Debug.AudioDump)
	}

	if cfg.Debug.EnableAudioDump || cfg.Debug.EnableEventDump {
		warnings = append(warnings, Warning{Message: "debug dumps are enabled; conversation audio and events are written to disk"})
	}

	return warnings, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	// last significant byte outside strings; a comma only trails a value.
	var prev byte

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			prev = ch
			out.WriteByte(ch)
			continue
		}

		if ch == ',' && closesValue(prev) {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				out.WriteByte(' ')
				continue
			}
		}

		if !isJSONWhitespace(ch) {
			prev = ch
		}
		out.WriteByte(ch)
	}

	return out.String()
}

func closesValue(prev byte) bool {
	switch prev {
	case 0, '{', '[', ',', ':':
		return false
	default:
		return true
	}
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
