// Package indicator handles visual session state notifications and audio cue playback.
package indicator

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/rbright/livelink/internal/config"
	"github.com/rbright/livelink/internal/hypr"
)

const (
	colorConnecting = "rgb(f9e2af)"
	colorActive     = "rgb(a6e3a1)"
	colorError      = "rgb(f38ba8)"

	// Long enough to outlast any session; Hide dismisses it.
	persistentTimeoutMS = 3600000
)

// Notifier is the concrete indicator used by runtime sessions. It routes
// notifications via Hyprland or desktop DBus based on config backend.
type Notifier struct {
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	messages messages

	mu                    sync.Mutex
	desktopNotificationID uint32
	soundMu               sync.Mutex
	cues                  sync.WaitGroup
}

// New creates an indicator from config.
func New(cfg config.IndicatorConfig, logger *slog.Logger) *Notifier {
	return &Notifier{
		cfg:      cfg,
		logger:   logger,
		messages: indicatorMessagesFromEnv().withOverrides(cfg),
	}
}

// ShowConnecting signals that devices and the live link are being opened.
func (n *Notifier) ShowConnecting(ctx context.Context) {
	if !n.cfg.Enable {
		return
	}
	n.run(ctx, func(ctx context.Context) error {
		return n.notify(ctx, 1, persistentTimeoutMS, colorConnecting, n.messages.connecting)
	})
}

// ShowActive signals that the conversation is live.
func (n *Notifier) ShowActive(ctx context.Context) {
	if !n.cfg.Enable {
		return
	}
	n.run(ctx, func(ctx context.Context) error {
		return n.notify(ctx, 1, persistentTimeoutMS, colorActive, n.messages.active)
	})
}

// ShowError displays an error-state indicator message and plays the error cue.
func (n *Notifier) ShowError(ctx context.Context, text string) {
	n.playCue(cueError)
	if !n.cfg.Enable {
		return
	}
	if text == "" {
		text = n.messages.errorText
	}
	timeout := n.cfg.ErrorTimeoutMS
	if timeout <= 0 {
		timeout = 1200
	}
	n.run(ctx, func(ctx context.Context) error {
		return n.notify(ctx, 3, timeout, colorError, text)
	})
}

// CueConnected emits the connected cue.
func (n *Notifier) CueConnected(context.Context) {
	n.playCue(cueConnect)
}

// CueDisconnected emits the disconnected cue.
func (n *Notifier) CueDisconnected(context.Context) {
	n.playCue(cueDisconnect)
}

// Hide dismisses the active indicator surface.
func (n *Notifier) Hide(ctx context.Context) {
	if !n.cfg.Enable {
		return
	}
	n.run(ctx, n.dismiss)
}

// Wait blocks until queued cues finish or ctx ends.
func (n *Notifier) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		n.cues.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// notify dispatches indicator output through the configured backend.
func (n *Notifier) notify(ctx context.Context, icon int, timeoutMS int, color string, text string) error {
	if n.desktop() {
		return n.notifyDesktop(ctx, timeoutMS, text)
	}
	return hypr.Notify(ctx, icon, timeoutMS, color, text)
}

// dismiss removes indicator output from the configured backend.
func (n *Notifier) dismiss(ctx context.Context) error {
	if n.desktop() {
		return n.dismissDesktop(ctx)
	}
	return hypr.DismissNotify(ctx)
}

func (n *Notifier) desktop() bool {
	return strings.EqualFold(strings.TrimSpace(n.cfg.Backend), "desktop")
}

// notifyDesktop sends a replaceable desktop notification and stores its ID.
func (n *Notifier) notifyDesktop(ctx context.Context, timeoutMS int, text string) error {
	n.mu.Lock()
	replaceID := n.desktopNotificationID
	n.mu.Unlock()

	appName := strings.TrimSpace(n.cfg.DesktopAppName)
	if appName == "" {
		appName = "livelink-indicator"
	}

	id, err := desktopNotify(ctx, appName, replaceID, text, timeoutMS)
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.desktopNotificationID = id
	n.mu.Unlock()
	return nil
}

// dismissDesktop closes the current desktop notification ID when present.
func (n *Notifier) dismissDesktop(ctx context.Context) error {
	n.mu.Lock()
	id := n.desktopNotificationID
	n.desktopNotificationID = 0
	n.mu.Unlock()

	if id == 0 {
		return nil
	}
	return desktopDismiss(ctx, id)
}

// run executes an indicator operation with a bounded timeout.
func (n *Notifier) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(ctx, 400*time.Millisecond)
	defer cancel()
	if err := fn(runCtx); err != nil {
		n.log("indicator dispatch failed", err)
	}
}

// playCue serializes cue playback and emits audio asynchronously.
func (n *Notifier) playCue(kind cueKind) {
	if !n.cfg.SoundEnable {
		return
	}
	n.cues.Add(1)
	go func() {
		defer n.cues.Done()
		n.soundMu.Lock()
		defer n.soundMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
		defer cancel()
		if err := emitCue(ctx, kind, n.cfg); err != nil {
			n.log("indicator audio cue failed", err)
		}
	}()
}

// log emits debug-only indicator failures to the runtime logger.
func (n *Notifier) log(message string, err error) {
	if n.logger == nil || err == nil {
		return
	}
	n.logger.Debug(message, "error", err.Error())
}
