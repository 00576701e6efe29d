package session

import "github.com/rbright/livelink/internal/fsm"

// Observer receives session telemetry. Implementations must not block.
type Observer interface {
	SessionState(fsm.State)
	FrameSent(kind string)
	FrameDropped(kind string)
	SendFailed(kind string)
	ChunkPlayed(frames int, underrun bool)
	ChunkDropped()
	Interrupted(flushed int)
	TurnCompleted()
}

type noopObserver struct{}

func (noopObserver) SessionState(fsm.State) {}
func (noopObserver) FrameSent(string)       {}
func (noopObserver) FrameDropped(string)    {}
func (noopObserver) SendFailed(string)      {}
func (noopObserver) ChunkPlayed(int, bool)  {}
func (noopObserver) ChunkDropped()          {}
func (noopObserver) Interrupted(int)        {}
func (noopObserver) TurnCompleted()         {}
