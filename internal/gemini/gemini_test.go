package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/rbright/livelink/internal/channel"
)

type liveServer struct {
	server   *httptest.Server
	upgrader websocket.Upgrader

	mu      sync.Mutex
	setup     map[string]any
	apiKey    string
	userAgent string
	inbound   [][]byte
}

// newLiveServer acknowledges setup, then hands the socket to handler.
func newLiveServer(t *testing.T, ack bool, handler func(*websocket.Conn)) *liveServer {
	t.Helper()
	ls := &liveServer{}
	ls.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ls.mu.Lock()
		ls.apiKey = r.Header.Get("x-goog-api-key")
		ls.userAgent = r.Header.Get("User-Agent")
		ls.mu.Unlock()

		conn, err := ls.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg map[string]any
		_ = json.Unmarshal(raw, &msg)
		ls.mu.Lock()
		ls.setup = msg
		ls.mu.Unlock()

		if ack {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"setupComplete":{}}`))
		}
		if handler != nil {
			handler(conn)
		}
	}))
	t.Cleanup(ls.server.Close)
	return ls
}

func (ls *liveServer) URL() string {
	return "ws" + strings.TrimPrefix(ls.server.URL, "http")
}

func (ls *liveServer) record(raw []byte) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.inbound = append(ls.inbound, raw)
}

func (ls *liveServer) received() [][]byte {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return append([][]byte(nil), ls.inbound...)
}

func drain(t *testing.T, ch channel.Channel, n int) []channel.Inbound {
	t.Helper()
	var out []channel.Inbound
	timeout := time.After(3 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-ch.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func testConfig() channel.Config {
	return channel.Config{
		ResponseModality:  channel.ModalityAudio,
		SystemInstruction: "Be concise.",
		Voice:             "Puck",
		Transcription:     channel.Transcription{User: true, Assistant: true},
		InputSampleRate:   16000,
	}
}

func TestOpenSendsSetupAndWaitsForAck(t *testing.T) {
	ls := newLiveServer(t, true, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
	})

	ch, err := Dialer{URL: ls.URL(), APIKey: "secret", UserAgent: "livelink/test"}.Open(context.Background(), testConfig())
	require.NoError(t, err)
	defer func() { require.NoError(t, ch.Close()) }()

	ls.mu.Lock()
	defer ls.mu.Unlock()
	require.Equal(t, "secret", ls.apiKey)
	require.Equal(t, "livelink/test", ls.userAgent)

	setup := ls.setup["setup"].(map[string]any)
	require.Equal(t, "models/"+DefaultModel, setup["model"])
	require.Contains(t, setup, "inputAudioTranscription")
	require.Contains(t, setup, "outputAudioTranscription")

	gen := setup["generationConfig"].(map[string]any)
	require.Equal(t, []any{"AUDIO"}, gen["responseModalities"])
	voice := gen["speechConfig"].(map[string]any)["voiceConfig"].(map[string]any)["prebuiltVoiceConfig"].(map[string]any)
	require.Equal(t, "Puck", voice["voiceName"])

	sys := setup["systemInstruction"].(map[string]any)["parts"].([]any)[0].(map[string]any)
	require.Equal(t, "Be concise.", sys["text"])
}

func TestOpenWithoutAckTimesOutUnavailable(t *testing.T) {
	ls := newLiveServer(t, false, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
	})

	_, err := Dialer{URL: ls.URL(), APIKey: "k", SetupTimeout: 50 * time.Millisecond}.Open(context.Background(), testConfig())
	require.True(t, errors.Is(err, channel.ErrUnavailable))
	require.Contains(t, err.Error(), "not acknowledged")
}

func TestOpenCancelledContextIsUnavailable(t *testing.T) {
	ls := newLiveServer(t, false, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := Dialer{URL: ls.URL(), APIKey: "k", SetupTimeout: 5 * time.Second}.Open(ctx, testConfig())
	require.True(t, errors.Is(err, channel.ErrUnavailable))
}

func TestOpenRequiresAPIKey(t *testing.T) {
	_, err := Dialer{URL: "ws://127.0.0.1:1"}.Open(context.Background(), testConfig())
	require.True(t, errors.Is(err, channel.ErrUnavailable))
	require.Contains(t, err.Error(), "missing API key")
}

func TestOpenUnreachableIsUnavailable(t *testing.T) {
	_, err := Dialer{URL: "ws://127.0.0.1:1", APIKey: "k", DialTimeout: 200 * time.Millisecond}.Open(context.Background(), testConfig())
	require.True(t, errors.Is(err, channel.ErrUnavailable))
}

func TestOpenSetupRejected(t *testing.T) {
	ls := &liveServer{}
	ls.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ls.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":{"code":400,"status":"INVALID_ARGUMENT","message":"bad model"}}`))
	}))
	t.Cleanup(ls.server.Close)

	_, err := Dialer{URL: ls.URL(), APIKey: "k"}.Open(context.Background(), testConfig())
	require.True(t, errors.Is(err, channel.ErrUnavailable))
	require.Contains(t, err.Error(), "bad model")
}

func TestSendWritesRealtimeInputInOrder(t *testing.T) {
	done := make(chan struct{})
	var ls *liveServer
	ls = newLiveServer(t, true, func(conn *websocket.Conn) {
		for i := 0; i < 4; i++ {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ls.record(raw)
		}
		close(done)
		_, _, _ = conn.ReadMessage()
	})

	ch, err := Dialer{URL: ls.URL(), APIKey: "k"}.Open(context.Background(), testConfig())
	require.NoError(t, err)
	defer func() { _ = ch.Close() }()

	ctx := context.Background()
	require.NoError(t, ch.Send(ctx, channel.AudioFrame{Seq: 0, PCM: []byte{1, 0}, SampleRate: 16000}))
	require.NoError(t, ch.Send(ctx, channel.AudioFrame{Seq: 1, PCM: []byte{2, 0}, SampleRate: 16000}))
	require.NoError(t, ch.Send(ctx, channel.VideoSnapshot{Seq: 0, JPEG: []byte{0xff, 0xd8}}))
	require.NoError(t, ch.Send(ctx, channel.AudioFrame{Seq: 2, PCM: []byte{3, 0}}))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("server did not receive frames")
	}

	got := ls.received()
	require.Len(t, got, 4)

	var first clientRealtimeMessage
	require.NoError(t, json.Unmarshal(got[0], &first))
	require.Equal(t, "audio/pcm;rate=16000", first.RealtimeInput.Audio.MimeType)
	require.Equal(t, "AQA=", first.RealtimeInput.Audio.Data)

	var second clientRealtimeMessage
	require.NoError(t, json.Unmarshal(got[1], &second))
	require.Equal(t, "AgA=", second.RealtimeInput.Audio.Data)

	var third clientRealtimeMessage
	require.NoError(t, json.Unmarshal(got[2], &third))
	require.Nil(t, third.RealtimeInput.Audio)
	require.Equal(t, "image/jpeg", third.RealtimeInput.Video.MimeType)

	var fourth clientRealtimeMessage
	require.NoError(t, json.Unmarshal(got[3], &fourth))
	require.Equal(t, "audio/pcm;rate=16000", fourth.RealtimeInput.Audio.MimeType)
}

func TestSendAfterCloseFails(t *testing.T) {
	ls := newLiveServer(t, true, func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
	})

	ch, err := Dialer{URL: ls.URL(), APIKey: "k", CloseGrace: 50 * time.Millisecond}.Open(context.Background(), testConfig())
	require.NoError(t, err)
	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	err = ch.Send(context.Background(), channel.AudioFrame{PCM: []byte{0, 0}})
	require.True(t, errors.Is(err, channel.ErrSendFailed))
}

func TestReceiveTranslatesServerContentInOrder(t *testing.T) {
	frames := []string{
		`{"serverContent":{"inputTranscription":{"text":"hello"}}}`,
		`{"serverContent":{"modelTurn":{"parts":[{"inlineData":{"mimeType":"audio/pcm;rate=24000","data":"AAA="}}]}}}`,
		`{"serverContent":{"outputTranscription":{"text":"hi"}}}`,
		`{"serverContent":{"interrupted":true}}`,
		`{"serverContent":{"turnComplete":true}}`,
	}
	ls := newLiveServer(t, true, func(conn *websocket.Conn) {
		for _, f := range frames {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(f))
		}
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session over"))
		_, _, _ = conn.ReadMessage()
	})

	var dump bytes.Buffer
	var dumpMuTest sync.Mutex
	ch, err := Dialer{URL: ls.URL(), APIKey: "k", EventDump: lockedWriter{w: &dump, mu: &dumpMuTest}}.Open(context.Background(), testConfig())
	require.NoError(t, err)
	defer func() { _ = ch.Close() }()

	events := drain(t, ch, 6)
	require.Equal(t, channel.TranscriptDelta{Speaker: channel.SpeakerUser, Text: "hello"}, events[0])
	audio, ok := events[1].(channel.AudioChunk)
	require.True(t, ok)
	require.Equal(t, "AAA=", audio.Payload)
	require.Equal(t, channel.TranscriptDelta{Speaker: channel.SpeakerAssistant, Text: "hi"}, events[2])
	require.Equal(t, channel.Interrupted{}, events[3])
	require.Equal(t, channel.TurnComplete{}, events[4])
	require.Equal(t, channel.ChannelClosed{Reason: "session over"}, events[5])

	_, open := <-ch.Events()
	require.False(t, open)

	dumpMuTest.Lock()
	lines := strings.Count(dump.String(), "\n")
	dumpMuTest.Unlock()
	require.Equal(t, 6, lines)
}

func TestReceiveAbnormalDropIsChannelError(t *testing.T) {
	ls := newLiveServer(t, true, func(conn *websocket.Conn) {
		_ = conn.UnderlyingConn().Close()
	})

	ch, err := Dialer{URL: ls.URL(), APIKey: "k"}.Open(context.Background(), testConfig())
	require.NoError(t, err)
	defer func() { _ = ch.Close() }()

	events := drain(t, ch, 1)
	chErr, ok := events[0].(channel.ChannelError)
	require.True(t, ok)
	require.True(t, errors.Is(chErr.Err, channel.ErrChannel))
}

func TestCloseEndsStreamWithClientClosed(t *testing.T) {
	ls := newLiveServer(t, true, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	ch, err := Dialer{URL: ls.URL(), APIKey: "k", CloseGrace: 100 * time.Millisecond}.Open(context.Background(), testConfig())
	require.NoError(t, err)
	require.NoError(t, ch.Close())

	var last channel.Inbound
	for ev := range ch.Events() {
		last = ev
	}
	require.Equal(t, channel.ChannelClosed{Reason: "closed by client"}, last)
}

func TestTranslateOrderWithinOneFrame(t *testing.T) {
	msg := serverMessage{ServerContent: &serverContent{
		ModelTurn: &content{Parts: []part{
			{Text: "thinking"},
			{InlineData: &blob{MimeType: "audio/pcm;rate=24000", Data: "AQA="}},
			{InlineData: &blob{MimeType: "image/png", Data: "xx"}},
		}},
		TurnComplete:        true,
		Interrupted:         true,
		InputTranscription:  &transcription{Text: "u"},
		OutputTranscription: &transcription{Text: "a"},
	}}

	events := translate(msg, time.Unix(0, 0))
	require.Len(t, events, 5)
	require.Equal(t, channel.TranscriptDelta{Speaker: channel.SpeakerAssistant, Text: "a"}, events[0])
	require.Equal(t, channel.TranscriptDelta{Speaker: channel.SpeakerUser, Text: "u"}, events[1])
	require.Equal(t, channel.TurnComplete{}, events[2])
	require.IsType(t, channel.AudioChunk{}, events[3])
	require.Equal(t, channel.Interrupted{}, events[4])
}

func TestTranslateServerErrorIsTerminal(t *testing.T) {
	events := translate(serverMessage{Error: &serverError{Code: 429, Status: "RESOURCE_EXHAUSTED"}}, time.Now())
	require.Len(t, events, 1)
	chErr := events[0].(channel.ChannelError)
	require.Equal(t, "RESOURCE_EXHAUSTED", chErr.Reason)
	require.True(t, channel.Terminal(chErr))
}

func TestBuildSetupTextModalityOmitsSpeech(t *testing.T) {
	msg := buildSetup("models/custom", channel.Config{ResponseModality: channel.ModalityText})
	require.Equal(t, "models/custom", msg.Setup.Model)
	require.Nil(t, msg.Setup.GenerationConfig.SpeechConfig)
	require.Nil(t, msg.Setup.SystemInstruction)
	require.Nil(t, msg.Setup.InputAudioTranscription)
}

type lockedWriter struct {
	w  *bytes.Buffer
	mu *sync.Mutex
}

func (l lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}
