package pipeline

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rbright/livelink/internal/capture"
	"github.com/rbright/livelink/internal/logging"
	"github.com/rbright/livelink/internal/pcm"
)

// maxRecordedBytes caps the in-memory microphone dump at ten minutes of 16 kHz audio.
const maxRecordedBytes = 10 * 60 * 16000 * 2

// recordingMicrophone tees captured samples into memory for the audio dump.
type recordingMicrophone struct {
	inner capture.Microphone

	mu  sync.Mutex
	buf []byte
}

func (r *recordingMicrophone) Open(ctx context.Context) (capture.InputStream, error) {
	stream, err := r.inner.Open(ctx)
	if err != nil {
		return nil, err
	}
	return &recordingStream{InputStream: stream, owner: r}, nil
}

func (r *recordingMicrophone) record(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.buf) >= maxRecordedBytes {
		return
	}
	r.buf = append(r.buf, pcm.EncodeFloat32(samples)...)
}

func (r *recordingMicrophone) recorded() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]byte(nil), r.buf...)
}

type recordingStream struct {
	capture.InputStream
	owner *recordingMicrophone
}

func (s *recordingStream) Start(fn func([]float32)) error {
	return s.InputStream.Start(func(samples []float32) {
		s.owner.record(samples)
		fn(samples)
	})
}

// createDebugFile creates timestamped debug artifacts under <state>/debug.
func createDebugFile(prefix string, extension string) (*os.File, error) {
	stateDir, err := logging.StateDir()
	if err != nil {
		return nil, fmt.Errorf("resolve state dir: %w", err)
	}
	debugDir := filepath.Join(stateDir, "debug")
	if err := os.MkdirAll(debugDir, 0o700); err != nil {
		return nil, fmt.Errorf("create debug dir: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405.000")
	path := filepath.Join(debugDir, fmt.Sprintf("%s-%s.%s", prefix, timestamp, extension))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open debug file %q: %w", path, err)
	}
	return file, nil
}

// writePCM16WAV writes raw little-endian PCM bytes with a minimal WAV header.
func writePCM16WAV(w io.Writer, data []byte, sampleRate int, channels int) error {
	if channels <= 0 {
		channels = 1
	}
	const bitsPerSample = 16
	byteRate := sampleRate * channels * (bitsPerSample / 8)
	blockAlign := channels * (bitsPerSample / 8)

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(data)))
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], bitsPerSample)
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(data)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}
