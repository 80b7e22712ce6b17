package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spigell/mock-interviewer/internal/interview"
	"github.com/stretchr/testify/require"
)

func TestHTTPBackendSendsTurn(t *testing.T) {
	t.Parallel()

	var got interview.ChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"reply":"좋습니다.","isInterviewEnd":true,"_chatMetrics":{"durationMs":12,"model":"gemini-2.5-flash"}}`))
	}))
	defer srv.Close()

	backend := NewHTTPBackend(srv.URL+"/", srv.Client())
	history := []interview.ChatMessage{{Role: interview.RoleUser, Text: "hi"}}
	reply, err := backend.SendChatTurn(context.Background(), &interview.Setup{}, history, "답변")
	require.NoError(t, err)

	require.Equal(t, "좋습니다.", reply.Text)
	require.True(t, reply.IsInterviewEnd)
	require.Equal(t, int64(12), reply.Metrics.DurationMs)
	require.Equal(t, "답변", got.UserMessage)
	require.Equal(t, history, got.History)
}

func TestHTTPBackendMapsErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"gemini unavailable"}`))
	}))
	defer srv.Close()

	_, err := NewHTTPBackend(srv.URL, srv.Client()).SendChatTurn(context.Background(), nil, nil, "")
	require.ErrorIs(t, err, ErrUpstream)
	require.ErrorContains(t, err, "gemini unavailable")
}
