// Package doctor runs runtime readiness diagnostics for config, credentials,
// capture devices, and the live endpoint.
package doctor

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/livelink/internal/audio"
	"github.com/rbright/livelink/internal/config"
	"github.com/rbright/livelink/internal/hypr"
)

const probeTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(cfg config.Loaded) Report {
	checks := []Check{}

	checks = append(checks, Check{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	})

	checks = append(checks, checkAPIKey(cfg.Config.Gemini))
	checks = append(checks, checkEndpoint(cfg.Config.Gemini.URL))
	checks = append(checks, checkAudioSelection(cfg.Config))

	if cfg.Config.Camera.Enable {
		checks = append(checks, checkBinary(cfg.Config.Camera.FFmpeg, "camera snapshots require ffmpeg"))
		checks = append(checks, checkCameraDevice(cfg.Config.Camera.Device))
	}

	if cfg.Config.Indicator.Enable && !strings.EqualFold(cfg.Config.Indicator.Backend, "desktop") {
		checks = append(checks, checkEnv("HYPRLAND_INSTANCE_SIGNATURE", func(v string) bool {
			return strings.TrimSpace(v) != ""
		}, "Hyprland session detected", "HYPRLAND_INSTANCE_SIGNATURE is empty"))
		checks = append(checks, checkHyprland())
	}
	if cfg.Config.Indicator.Enable && strings.EqualFold(cfg.Config.Indicator.Backend, "desktop") {
		checks = append(checks, checkBinary("busctl", "desktop notifications use busctl"))
	}

	if cfg.Config.Indicator.SoundEnable && hasCueFiles(cfg.Config.Indicator) {
		checks = append(checks, checkCommand(cfg.Config.Indicator.CuePlayer.Argv, "cue_player_cmd"))
	}

	return Report{Checks: checks}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkAPIKey resolves the API key without printing it.
func checkAPIKey(cfg config.GeminiConfig) Check {
	key, err := config.ResolveAPIKey(cfg)
	if err != nil {
		return Check{Name: "gemini.api_key", Pass: false, Message: err.Error()}
	}
	return Check{Name: "gemini.api_key", Pass: true, Message: fmt.Sprintf("%s is set (%d chars)", cfg.APIKeyEnv, len(key))}
}

// checkEndpoint verifies the live endpoint host accepts TCP connections.
func checkEndpoint(raw string) Check {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Check{Name: "gemini.endpoint", Pass: false, Message: fmt.Sprintf("invalid url: %v", err)}
	}

	port := u.Port()
	switch {
	case port != "":
	case u.Scheme == "wss":
		port = "443"
	case u.Scheme == "ws":
		port = "80"
	default:
		return Check{Name: "gemini.endpoint", Pass: false, Message: fmt.Sprintf("unsupported scheme %q", u.Scheme)}
	}
	if u.Hostname() == "" {
		return Check{Name: "gemini.endpoint", Pass: false, Message: "url has no host"}
	}

	addr := net.JoinHostPort(u.Hostname(), port)
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return Check{Name: "gemini.endpoint", Pass: false, Message: fmt.Sprintf("dial %s failed: %v", addr, err)}
	}
	_ = conn.Close()
	return Check{Name: "gemini.endpoint", Pass: true, Message: fmt.Sprintf("reachable at %s", addr)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(cfg config.Config) Check {
	selection, err := audio.SelectDevice(context.Background(), cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

// checkCameraDevice confirms the V4L2 node exists and is readable.
func checkCameraDevice(device string) Check {
	file, err := os.Open(device)
	if err != nil {
		if os.IsPermission(err) {
			return Check{Name: "camera.device", Pass: false, Message: fmt.Sprintf("%s is not readable; check video group membership", device)}
		}
		return Check{Name: "camera.device", Pass: false, Message: err.Error()}
	}
	_ = file.Close()
	return Check{Name: "camera.device", Pass: true, Message: fmt.Sprintf("%s is readable", device)}
}

// checkHyprland confirms hyprctl can talk to the compositor.
func checkHyprland() Check {
	ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
	defer cancel()

	info, err := hypr.QueryVersion(ctx)
	if err != nil {
		return Check{Name: "hyprctl", Pass: false, Message: err.Error()}
	}
	return Check{Name: "hyprctl", Pass: true, Message: fmt.Sprintf("Hyprland %s", info.Tag)}
}

func hasCueFiles(cfg config.IndicatorConfig) bool {
	return strings.TrimSpace(cfg.SoundConnectFile) != "" ||
		strings.TrimSpace(cfg.SoundDisconnectFile) != "" ||
		strings.TrimSpace(cfg.SoundErrorFile) != ""
}
