// Package camera grabs still frames from a V4L2 device through ffmpeg.
package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/rbright/livelink/internal/capture"
)

const (
	DefaultDevice = "/dev/video0"
	DefaultFFmpeg = "ffmpeg"
)

// runFunc executes one grab and returns PNG bytes.
type runFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

// Camera opens a V4L2 device for periodic snapshots.
type Camera struct {
	Device string
	FFmpeg string
	// Width and Height request a capture size from the driver; zero lets
	// the driver choose.
	Width  int
	Height int

	run runFunc
}

// Open checks that the device exists and is readable, and holds it open
// until the shutter is closed.
func (c Camera) Open(ctx context.Context) (capture.Shutter, error) {
	device := strings.TrimSpace(c.Device)
	if device == "" {
		device = DefaultDevice
	}
	ffmpeg := strings.TrimSpace(c.FFmpeg)
	if ffmpeg == "" {
		ffmpeg = DefaultFFmpeg
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if _, err := exec.LookPath(ffmpeg); err != nil && c.run == nil {
		return nil, fmt.Errorf("camera requires %s: %w", ffmpeg, err)
	}

	file, err := os.Open(device)
	if err != nil {
		switch {
		case errors.Is(err, fs.ErrPermission):
			return nil, fmt.Errorf("%w: %s", capture.ErrPermissionDenied, device)
		case errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("camera device %s not found", device)
		default:
			return nil, fmt.Errorf("open camera %s: %w", device, err)
		}
	}

	run := c.run
	if run == nil {
		run = runCommand
	}

	return &Shutter{
		device: device,
		ffmpeg: ffmpeg,
		width:  c.Width,
		height: c.Height,
		file:   file,
		run:    run,
	}, nil
}

// Shutter grabs frames from one acquired camera.
type Shutter struct {
	device string
	ffmpeg string
	width  int
	height int
	file   *os.File
	run    runFunc

	mu     sync.Mutex
	closed bool
}

// Snapshot grabs one frame. A vanished device reports capture.ErrDeviceLost.
func (s *Shutter) Snapshot(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, errors.New("camera closed")
	}

	if _, err := os.Stat(s.device); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", capture.ErrDeviceLost, s.device, err)
	}

	out, err := s.run(ctx, s.ffmpeg, grabArgs(s.device, s.width, s.height)...)
	if err != nil {
		return nil, err
	}

	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("decode camera frame: %w", err)
	}
	return img, nil
}

// Close releases the device handle. Safe to call repeatedly.
func (s *Shutter) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close camera %s: %w", s.device, err)
	}
	return nil
}

func grabArgs(device string, width, height int) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-f", "v4l2"}
	if width > 0 && height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", width, height))
	}
	return append(args,
		"-i", device,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "png",
		"-",
	)
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		trimmed := strings.TrimSpace(stderr.String())
		if trimmed == "" {
			return nil, fmt.Errorf("camera grab failed: %w", err)
		}
		return nil, fmt.Errorf("camera grab failed: %w (%s)", err, trimmed)
	}
	return out, nil
}
