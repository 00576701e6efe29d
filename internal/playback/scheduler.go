// Package playback schedules decoded assistant audio gaplessly against the
// output device clock and unwinds it on interruption.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rbright/livelink/internal/pcm"
)

var (
	// ErrClosed is returned when enqueueing into a released scheduler.
	ErrClosed = errors.New("playback scheduler closed")
	// ErrEmptySegment is returned for zero-length audio.
	ErrEmptySegment = errors.New("empty playback segment")
)

// Voice is one scheduled buffer on the output sink.
type Voice interface {
	// Stop silences the voice immediately, whether pending or playing.
	Stop()
	// Finished reports whether the voice played out or was stopped.
	Finished() bool
}

// Sink is an output device with its own monotonic frame clock.
type Sink interface {
	Start() error
	SampleRate() int
	// Position is the number of frames rendered since Start.
	Position() int64
	// Schedule plays samples beginning at frame start. Start positions in
	// the past play from their remaining portion.
	Schedule(start int64, samples []int16) (Voice, error)
	Close() error
}

// Segment describes where one enqueued chunk landed on the sink timeline.
type Segment struct {
	Start    int64
	Frames   int
	Duration time.Duration
	// Underrun is set when the cursor had fallen behind the sink clock and
	// was moved forward to the live position.
	Underrun bool
}

type scheduled struct {
	voice Voice
	start int64
	end   int64
}

// Scheduler keeps the next-start cursor for gapless playback. The cursor is
// measured in sink frames so back-to-back segments are exactly contiguous.
type Scheduler struct {
	sink   Sink
	logger *slog.Logger

	mu        sync.Mutex
	next      int64
	cursorSet bool
	voices    []scheduled
	opened    bool
	closed    bool
}

// NewScheduler binds a scheduler to sink.
func NewScheduler(sink Sink, logger *slog.Logger) *Scheduler {
	return &Scheduler{sink: sink, logger: logger}
}

// Open starts the output sink.
func (s *Scheduler) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.opened {
		return nil
	}
	if err := s.sink.Start(); err != nil {
		return fmt.Errorf("start playback sink: %w", err)
	}
	s.opened = true
	return nil
}

// Enqueue schedules samples at the cursor, or at the live sink position if
// the cursor is unset or behind it, then advances the cursor by the segment
// length.
func (s *Scheduler) Enqueue(samples []int16) (Segment, error) {
	if len(samples) == 0 {
		return Segment{}, ErrEmptySegment
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Segment{}, ErrClosed
	}

	s.prune()

	seg := Segment{Frames: len(samples), Duration: pcm.Duration(len(samples), s.sink.SampleRate())}
	now := s.sink.Position()
	if now > s.next {
		seg.Underrun = s.cursorSet
		s.next = now
	}
	seg.Start = s.next

	voice, err := s.sink.Schedule(s.next, samples)
	if err != nil {
		return Segment{}, fmt.Errorf("schedule segment at frame %d: %w", s.next, err)
	}

	s.voices = append(s.voices, scheduled{voice: voice, start: s.next, end: s.next + int64(len(samples))})
	s.next += int64(len(samples))
	s.cursorSet = true

	if seg.Underrun && s.logger != nil {
		s.logger.Debug("playback underrun", "frame", seg.Start)
	}
	return seg, nil
}

// Flush stops every scheduled voice, including the one playing, and resets
// the cursor. It returns the number of voices that were still pending or
// playing. Calling it with nothing scheduled is a no-op.
func (s *Scheduler) Flush() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *Scheduler) flushLocked() int {
	stopped := 0
	for _, v := range s.voices {
		if !v.voice.Finished() {
			stopped++
		}
		v.voice.Stop()
	}
	s.voices = nil
	s.next = 0
	s.cursorSet = false
	return stopped
}

// nextStart reports the cursor and whether it is set.
func (s *Scheduler) nextStart() (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next, s.cursorSet
}

// pending counts voices that have not finished.
func (s *Scheduler) pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prune()
	return len(s.voices)
}

// Audible reports whether a scheduled voice is currently sounding.
func (s *Scheduler) Audible() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	now := s.sink.Position()
	for _, v := range s.voices {
		if v.start <= now && now < v.end && !v.voice.Finished() {
			return true
		}
	}
	return false
}

// Close flushes all audio and releases the sink. Safe to call repeatedly.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.flushLocked()
	s.closed = true
	if !s.opened {
		return nil
	}
	if err := s.sink.Close(); err != nil {
		return fmt.Errorf("close playback sink: %w", err)
	}
	return nil
}

func (s *Scheduler) prune() {
	kept := s.voices[:0]
	for _, v := range s.voices {
		if !v.voice.Finished() {
			kept = append(kept, v)
		}
	}
	s.voices = kept
}
