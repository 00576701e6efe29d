package playback

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"
)

// mixer renders scheduled voices into s16le mono output and owns the frame
// clock. The device callback is its only caller of render.
type mixer struct {
	mu       sync.Mutex
	voices   []*voice
	position atomic.Int64
}

type voice struct {
	start    int64
	samples  []int16
	stopped  atomic.Bool
	finished atomic.Bool
}

func (v *voice) Stop() {
	v.stopped.Store(true)
	v.finished.Store(true)
}

func (v *voice) Finished() bool {
	return v.finished.Load()
}

func (m *mixer) Position() int64 {
	return m.position.Load()
}

func (m *mixer) schedule(start int64, samples []int16) *voice {
	v := &voice{start: start, samples: samples}
	m.mu.Lock()
	m.voices = append(m.voices, v)
	m.mu.Unlock()
	return v
}

// render fills out with frames frames starting at the current position and
// advances the clock.
func (m *mixer) render(out []byte, frames int) {
	base := m.position.Load()

	m.mu.Lock()
	active := m.voices[:0]
	for _, v := range m.voices {
		if !v.stopped.Load() {
			active = append(active, v)
		}
	}
	m.voices = active
	voices := append([]*voice(nil), active...)
	m.mu.Unlock()

	for i := 0; i < frames; i++ {
		pos := base + int64(i)
		var sum int32
		for _, v := range voices {
			off := pos - v.start
			if off < 0 || off >= int64(len(v.samples)) || v.stopped.Load() {
				continue
			}
			sum += int32(v.samples[off])
		}
		if sum > math.MaxInt16 {
			sum = math.MaxInt16
		} else if sum < math.MinInt16 {
			sum = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum)))
	}

	end := base + int64(frames)
	m.position.Store(end)

	m.mu.Lock()
	kept := m.voices[:0]
	for _, v := range m.voices {
		if v.start+int64(len(v.samples)) <= end {
			v.finished.Store(true)
			continue
		}
		kept = append(kept, v)
	}
	m.voices = kept
	m.mu.Unlock()
}

func (m *mixer) reset() {
	m.mu.Lock()
	for _, v := range m.voices {
		v.Stop()
	}
	m.voices = nil
	m.mu.Unlock()
}
