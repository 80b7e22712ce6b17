package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spigell/mock-interviewer/internal/interview"
	"github.com/spigell/mock-interviewer/internal/utils"
)

// ErrUpstream is returned when the chat backend fails to produce a reply.
var ErrUpstream = errors.New("chat: upstream error")

// Backend produces the interviewer's next turn. An empty userMessage asks for
// the opening turn.
type Backend interface {
	SendChatTurn(ctx context.Context, setup *interview.Setup, history []interview.ChatMessage, userMessage string) (interview.ChatReply, error)
}

// HTTPBackend calls the chat endpoint of a running server.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

func NewHTTPBackend(baseURL string, client *http.Client) *HTTPBackend {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &HTTPBackend{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (b *HTTPBackend) SendChatTurn(ctx context.Context, setup *interview.Setup, history []interview.ChatMessage, userMessage string) (interview.ChatReply, error) {
	if history == nil {
		history = []interview.ChatMessage{}
	}
	body, err := json.Marshal(interview.ChatRequest{Setup: setup, History: history, UserMessage: userMessage})
	if err != nil {
		return interview.ChatReply{}, fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return interview.ChatReply{}, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return interview.ChatReply{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return interview.ChatReply{}, fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := utils.TruncateForLog(string(data), 200)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return interview.ChatReply{}, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, msg)
	}

	var reply interview.ChatReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return interview.ChatReply{}, fmt.Errorf("%w: decode reply: %v", ErrUpstream, err)
	}
	return reply, nil
}
