// Package transcript accumulates the incremental user and assistant
// transcriptions for the turn in progress.
package transcript

import (
	"strings"
	"sync"
)

// Snapshot is a consistent view of both buffers.
type Snapshot struct {
	User      string
	Assistant string
}

// Accumulator holds two append-only buffers that are cleared together at
// turn boundaries. It is safe for concurrent readers; the session loop is
// the only writer.
type Accumulator struct {
	mu        sync.RWMutex
	user      strings.Builder
	assistant strings.Builder
	turns     int
}

func (a *Accumulator) AppendUser(text string) {
	a.mu.Lock()
	a.user.WriteString(text)
	a.mu.Unlock()
}

func (a *Accumulator) AppendAssistant(text string) {
	a.mu.Lock()
	a.assistant.WriteString(text)
	a.mu.Unlock()
}

// TurnComplete clears both buffers in one step and returns what they held.
func (a *Accumulator) TurnComplete() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	done := Snapshot{User: a.user.String(), Assistant: a.assistant.String()}
	a.user.Reset()
	a.assistant.Reset()
	a.turns++
	return done
}

func (a *Accumulator) User() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.user.String()
}

func (a *Accumulator) Assistant() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.assistant.String()
}

// Snapshot reads both buffers under one lock.
func (a *Accumulator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Snapshot{User: a.user.String(), Assistant: a.assistant.String()}
}

// Turns counts completed turns.
func (a *Accumulator) Turns() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.turns
}
