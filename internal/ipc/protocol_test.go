package ipc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusResponseReportsSpeaking(t *testing.T) {
	quiet := StatusResponse("active", "s1", false)
	require.True(t, quiet.OK)
	require.Equal(t, "status", quiet.Message)
	require.False(t, quiet.Speaking)

	speaking := StatusResponse("active", "s1", true)
	require.True(t, speaking.Speaking)
	require.Equal(t, "assistant speaking", speaking.Message)
	require.Equal(t, "s1", speaking.SessionID)
}

func TestRejectCarriesErrorWithoutOK(t *testing.T) {
	resp := Reject("closed", "s1", "cannot stop from state %s", "closed")
	require.False(t, resp.OK)
	require.Equal(t, "cannot stop from state closed", resp.Error)
	require.Empty(t, resp.Message)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":false,"state":"closed","session_id":"s1","error":"cannot stop from state closed"}`, string(data))
}

func TestReplyOmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(Reply("active", "", "stop requested"))
	require.NoError(t, err)
	require.JSONEq(t, `{"ok":true,"state":"active","message":"stop requested"}`, string(data))
}
