// Package app maps CLI commands onto the live session owner and its
// control socket.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/rbright/livelink/internal/audio"
	"github.com/rbright/livelink/internal/cli"
	"github.com/rbright/livelink/internal/config"
	"github.com/rbright/livelink/internal/doctor"
	"github.com/rbright/livelink/internal/fsm"
	"github.com/rbright/livelink/internal/indicator"
	"github.com/rbright/livelink/internal/ipc"
	"github.com/rbright/livelink/internal/logging"
	"github.com/rbright/livelink/internal/metrics"
	"github.com/rbright/livelink/internal/pipeline"
	"github.com/rbright/livelink/internal/session"
	"github.com/rbright/livelink/internal/version"
)

const (
	binaryName     = "livelink"
	forwardTimeout = 220 * time.Millisecond
	cueDrain       = 1500 * time.Millisecond
)

type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText(binaryName))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText(binaryName))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	logRuntime, err := logging.New(parsed.Debug)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, ipc.CommandStop)
	case cli.CommandTranscript:
		return r.forwardOrFail(ctx, ipc.CommandTranscript)
	case cli.CommandStart:
		return r.commandStart(ctx, cfgLoaded.Config, parsed, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		availability := "yes"
		if !device.Available {
			availability = "no"
		}
		muted := "no"
		if device.Muted {
			muted = "yes"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			availability,
			muted,
		)
	}

	return 0
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, string(fsm.StateIdle))
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus)
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		if resp.State == "" {
			resp.State = string(fsm.StateIdle)
		}
		if resp.Speaking {
			fmt.Fprintf(r.Stdout, "%s (assistant speaking)\n", resp.State)
			return 0
		}
		fmt.Fprintln(r.Stdout, resp.State)
		return 0
	}

	fmt.Fprintln(r.Stdout, string(fsm.StateIdle))
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no active livelink session\n")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// commandStart becomes the session owner: it binds the control socket, runs
// one session to completion, and releases everything on the way out.
func (r Runner) commandStart(ctx context.Context, cfg config.Config, parsed cli.Parsed, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	if resp, handled, _ := tryForward(ctx, socketPath, ipc.CommandStatus); handled {
		fmt.Fprintf(r.Stderr, "error: %v (state %s)\n", ipc.ErrAlreadyRunning, resp.State)
		return 1
	}

	apiKey, err := config.ResolveAPIKey(cfg.Gemini)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("resolve api key failed", "error", err.Error())
		return 1
	}

	listener, err := ipc.Acquire(ctx, socketPath, 180*time.Millisecond, 8, nil)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	var observer session.Observer
	if cfg.Metrics.Enable {
		reg := metrics.NewRegistry()
		observer = metrics.New(reg, cfg.Audio.OutputSampleRate)
		server := metrics.NewServer(cfg.Metrics.Listen, reg, logger)
		if err := server.Start(); err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}

	notifier := indicator.New(cfg.Indicator, logger)
	live, err := pipeline.Build(cfg, pipeline.Options{
		APIKey:    apiKey,
		NoCamera:  parsed.NoCamera,
		Indicator: notifier,
		Observer:  observer,
	}, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = live.Close() }()

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, listener, live.Controller)
	}()

	result := live.Controller.Run(ctx)
	serverCancel()
	serverErr := <-serverErrCh

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cueDrain)
	notifier.Wait(drainCtx)
	drainCancel()

	logSessionResult(logger, result)

	if serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}
	if result.Err != nil {
		fmt.Fprintf(r.Stderr, "error: %s: %v\n", result.Reason, result.Err)
		return 1
	}
	if result.State == fsm.StateFailed {
		fmt.Fprintf(r.Stderr, "error: %s\n", result.Reason)
		return 1
	}
	if strings.TrimSpace(result.Reason) != "" {
		fmt.Fprintln(r.Stdout, result.Reason)
	}
	return 0
}

func logSessionResult(logger *slog.Logger, result session.Result) {
	if logger == nil {
		return
	}
	fields := []any{
		"session_id", result.SessionID,
		"state", result.State,
		"reason", result.Reason,
		"started_at", result.StartedAt.Format(time.RFC3339Nano),
		"finished_at", result.FinishedAt.Format(time.RFC3339Nano),
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
		"audio_device", result.AudioDevice,
		"frames_captured", result.FramesCaptured,
		"snapshots_captured", result.SnapshotsCaptured,
		"audio_bytes_captured", result.AudioBytes,
		"frames_sent", result.FramesSent,
		"frames_dropped", result.FramesDropped,
		"send_failures", result.SendFailures,
		"chunks_played", result.ChunksPlayed,
		"chunks_dropped", result.ChunksDropped,
		"interruptions", result.Interruptions,
		"turns", result.Turns,
	}

	if result.Err != nil {
		logger.Error("session failed", append(fields, "error", result.Err.Error())...)
		return
	}
	logger.Info("session complete", fields...)
}

func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, forwardTimeout)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if isSocketMissing(err) {
		return ipc.Response{}, false, nil
	}
	if isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
