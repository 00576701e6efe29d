// Package pcm converts between float samples, signed 16-bit little-endian
// PCM bytes, and the base64 payloads carried by the remote channel.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrDecode is returned for payloads that cannot be interpreted as s16le PCM.
var ErrDecode = errors.New("pcm decode failed")

const (
	// BytesPerSample is the width of one mono s16le sample.
	BytesPerSample = 2

	scale = 32768
)

// FloatToInt16 converts one normalized sample by truncating x*32768 and
// saturating at the int16 range, so 1.0 maps to 32767 and -1.0 to -32768.
func FloatToInt16(x float32) int16 {
	if math.IsNaN(float64(x)) {
		return 0
	}
	v := math.Trunc(float64(x) * scale)
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	default:
		return int16(v)
	}
}

// EncodeFloat32 converts normalized float samples into s16le bytes.
func EncodeFloat32(samples []float32) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(FloatToInt16(s)))
	}
	return out
}

// EncodeInt16 packs samples into s16le bytes.
func EncodeInt16(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(s))
	}
	return out
}

// DecodeInt16 unpacks s16le bytes. Empty or odd-length input is rejected.
func DecodeInt16(data []byte) ([]int16, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	if len(data)%BytesPerSample != 0 {
		return nil, fmt.Errorf("%w: odd payload length %d", ErrDecode, len(data))
	}
	out := make([]int16, len(data)/BytesPerSample)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*BytesPerSample:]))
	}
	return out, nil
}

// EncodeBase64 returns the standard base64 transport encoding of raw bytes.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes a transport payload into samples.
func DecodeBase64(payload string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return DecodeInt16(raw)
}

// Duration is the playback length of frames mono samples at rate Hz.
func Duration(frames int, rate int) time.Duration {
	if rate <= 0 || frames <= 0 {
		return 0
	}
	return time.Duration(int64(frames) * int64(time.Second) / int64(rate))
}

// MimeType labels raw PCM at rate for the remote channel.
func MimeType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}
