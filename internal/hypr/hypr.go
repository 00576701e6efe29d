// Package hypr wraps the hyprctl commands used for on-screen session state.
package hypr

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// VersionInfo is the subset of `hyprctl -j version` used for readiness checks.
type VersionInfo struct {
	Tag    string `json:"tag"`
	Branch string `json:"branch"`
}

// QueryVersion confirms hyprctl can reach a running compositor.
func QueryVersion(ctx context.Context) (VersionInfo, error) {
	output, err := runHyprctlOutput(ctx, "-j", "version")
	if err != nil {
		return VersionInfo{}, err
	}

	var info VersionInfo
	if err := json.Unmarshal(output, &info); err != nil {
		return VersionInfo{}, fmt.Errorf("decode hyprctl version json: %w", err)
	}
	info.Tag = strings.TrimSpace(info.Tag)
	info.Branch = strings.TrimSpace(info.Branch)
	if info.Tag == "" {
		return VersionInfo{}, fmt.Errorf("hyprctl version returned empty tag")
	}
	return info, nil
}

// Notify sends a Hyprland notification payload.
func Notify(ctx context.Context, icon int, timeoutMS int, color string, text string) error {
	if strings.TrimSpace(color) == "" {
		color = "rgb(89b4fa)"
	}
	return runHyprctl(
		ctx,
		"--quiet",
		"dispatch",
		"notify",
		strconv.Itoa(icon),
		strconv.Itoa(timeoutMS),
		color,
		text,
	)
}

// DismissNotify dismisses active Hyprland notifications.
func DismissNotify(ctx context.Context) error {
	return runHyprctl(ctx, "--quiet", "dispatch", "dismissnotify")
}

func runHyprctl(ctx context.Context, args ...string) error {
	_, err := runHyprctlOutput(ctx, args...)
	return err
}

func runHyprctlOutput(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "hyprctl", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		trimmed := strings.TrimSpace(string(out))
		if trimmed == "" {
			return nil, fmt.Errorf("hyprctl %v failed: %w", args, err)
		}
		return nil, fmt.Errorf("hyprctl %v failed: %w (%s)", args, err, trimmed)
	}
	return out, nil
}
