package fsm

import "fmt"

type State string

type Event string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateActive     State = "active"
	StateClosing    State = "closing"
	StateClosed     State = "closed"
	StateFailed     State = "failed"
)

const (
	EventStart         Event = "start"
	EventReady         Event = "ready"
	EventFail          Event = "fail"
	EventStop          Event = "stop"
	EventChannelClosed Event = "channel_closed"
	EventChannelError  Event = "channel_error"
	EventCaptureLost   Event = "capture_lost"
	EventReleased      Event = "released"
)

func Transition(current State, event Event) (State, error) {
	switch current {
	case StateIdle:
		switch event {
		case EventStart:
			return StateConnecting, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateConnecting:
		switch event {
		case EventReady:
			return StateActive, nil
		case EventFail:
			return StateFailed, nil
		case EventStop:
			return StateClosing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateActive:
		switch event {
		case EventStop, EventChannelClosed, EventChannelError, EventCaptureLost:
			return StateClosing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateClosing:
		switch event {
		case EventReleased:
			return StateClosed, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StateClosed, StateFailed:
		return current, invalidTransition(current, event)
	default:
		return current, fmt.Errorf("unknown state %q", current)
	}
}

// Terminal reports whether no further transition can leave state.
func Terminal(state State) bool {
	return state == StateClosed || state == StateFailed
}

func invalidTransition(state State, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", state, event)
}
