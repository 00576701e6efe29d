// Package ipc carries control commands from the CLI to the process that owns
// the live session, as newline-delimited JSON over a unix socket.
package ipc

import "fmt"

// Commands understood by the session owner.
const (
	CommandStatus     = "status"
	CommandStop       = "stop"
	CommandTranscript = "transcript"
)

type Request struct {
	Command string `json:"command"`
}

type Response struct {
	OK        bool   `json:"ok"`
	State     string `json:"state,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	// Speaking is set while assistant audio is audible.
	Speaking bool   `json:"speaking,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
}

// StatusResponse reports the session state. The message reads "assistant
// speaking" while playback is audible so a bare client can print it as is.
func StatusResponse(state, sessionID string, speaking bool) Response {
	msg := "status"
	if speaking {
		msg = "assistant speaking"
	}
	return Response{OK: true, State: state, SessionID: sessionID, Speaking: speaking, Message: msg}
}

// Reply acknowledges a command with a message for the client to print.
func Reply(state, sessionID, message string) Response {
	return Response{OK: true, State: state, SessionID: sessionID, Message: message}
}

func Reject(state, sessionID, format string, args ...any) Response {
	return Response{State: state, SessionID: sessionID, Error: fmt.Sprintf(format, args...)}
}
