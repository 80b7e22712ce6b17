package realtime

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spigell/mock-interviewer/internal/interview"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenAIIssue(t *testing.T) {
	t.Parallel()

	var got clientSecretRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/realtime/client_secrets", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"value":"ek_123","expires_at":1700003600}`))
	}))
	defer server.Close()

	client, err := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL}, server.Client(), zap.NewNop())
	require.NoError(t, err)

	setup := &interview.Setup{
		Interviewers:      []interview.Interviewer{{Name: "김민준"}},
		CandidateAnalysis: interview.CandidateAnalysis{Weaknesses: []string{"숨겨야 할 약점"}},
	}
	cred, err := client.Issue(context.Background(), setup)
	require.NoError(t, err)
	require.Equal(t, "ek_123", cred.Value)
	require.Equal(t, int64(1700003600), cred.ExpiresAt.Unix())

	require.Equal(t, 3600, got.ExpiresAfter.Seconds)
	require.Equal(t, "server_vad", got.Session.Audio.Input.TurnDetection.Type)
	require.Equal(t, "coral", got.Session.Audio.Output.Voice)
	require.Contains(t, got.Session.Instructions, "김민준")
	require.NotContains(t, got.Session.Instructions, "숨겨야 할 약점")
}

func TestOpenAIIssueUpstreamFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL}, server.Client(), nil)
	require.NoError(t, err)

	_, err = client.Issue(context.Background(), &interview.Setup{})
	require.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestOpenAIExchange(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/realtime/calls", r.URL.Path)
		require.Equal(t, "gpt-realtime", r.URL.Query().Get("model"))
		require.Equal(t, "application/sdp", r.Header.Get("Content-Type"))
		require.Equal(t, "Bearer ek_123", r.Header.Get("Authorization"))

		body, _ := io.ReadAll(r.Body)
		if string(body) != "v=0 offer" {
			http.Error(w, "bad offer", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("v=0 answer"))
	}))
	defer server.Close()

	client, err := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: server.URL + "/"}, server.Client(), nil)
	require.NoError(t, err)

	answer, err := client.Exchange(context.Background(), "v=0 offer", "ek_123")
	require.NoError(t, err)
	require.Equal(t, "v=0 answer", answer)

	_, err = client.Exchange(context.Background(), "garbage", "ek_123")
	require.ErrorIs(t, err, ErrExchangeFailed)
	require.Contains(t, err.Error(), "400")
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewOpenAI(OpenAIConfig{}, nil, nil)
	require.Error(t, err)
}
