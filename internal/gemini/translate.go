package gemini

import (
	"fmt"
	"strings"
	"time"

	"github.com/rbright/livelink/internal/channel"
)

// translate maps one server frame onto inbound events. Within a frame the
// order is assistant transcription, user transcription, turn completion,
// audio, then interruption.
func translate(msg serverMessage, now time.Time) []channel.Inbound {
	var events []channel.Inbound

	if msg.Error != nil {
		reason := strings.TrimSpace(msg.Error.Message)
		if reason == "" {
			reason = msg.Error.Status
		}
		return append(events, channel.ChannelError{
			Reason: reason,
			Err:    fmt.Errorf("%w: server error %d %s: %s", channel.ErrChannel, msg.Error.Code, msg.Error.Status, reason),
		})
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			events = append(events, channel.TranscriptDelta{Speaker: channel.SpeakerAssistant, Text: sc.OutputTranscription.Text})
		}
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			events = append(events, channel.TranscriptDelta{Speaker: channel.SpeakerUser, Text: sc.InputTranscription.Text})
		}
		if sc.TurnComplete {
			events = append(events, channel.TurnComplete{})
		}
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData == nil || p.InlineData.Data == "" {
					continue
				}
				if !strings.HasPrefix(p.InlineData.MimeType, "audio/") {
					continue
				}
				events = append(events, channel.AudioChunk{
					Payload:    p.InlineData.Data,
					MimeType:   p.InlineData.MimeType,
					ReceivedAt: now,
				})
			}
		}
		if sc.Interrupted {
			events = append(events, channel.Interrupted{})
		}
	}

	return events
}
