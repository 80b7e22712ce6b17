package realtime

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
	"github.com/spigell/mock-interviewer/internal/prompts"
	"github.com/spigell/mock-interviewer/internal/utils"
	"go.uber.org/zap"
)

const (
	defaultBaseURL            = "https://api.openai.com"
	defaultSessionModel       = "gpt-realtime"
	defaultTranscriptionModel = "gpt-4o-transcribe"
	defaultVoice              = "coral"
	credentialTTL             = 3600
)

var (
	ErrUpstreamUnavailable = errors.New("realtime: credential issuer unavailable")
	ErrExchangeFailed      = errors.New("realtime: session description exchange failed")
)

// OpenAIConfig configures the OpenAI Realtime signaling client.
type OpenAIConfig struct {
	APIKey             string        `mapstructure:"-"`
	BaseURL            string        `mapstructure:"base_url"`
	Model              string        `mapstructure:"model"`
	Voice              string        `mapstructure:"voice"`
	TranscriptionModel string        `mapstructure:"transcription_model"`
	Timeout            time.Duration `mapstructure:"timeout"`
}

// OpenAI issues ephemeral client secrets and performs the SDP exchange
// against the OpenAI Realtime API.
type OpenAI struct {
	cfg    OpenAIConfig
	client *http.Client
	logger *zap.Logger
}

func NewOpenAI(cfg OpenAIConfig, client *http.Client, logger *zap.Logger) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultSessionModel
	}
	if cfg.Voice == "" {
		cfg.Voice = defaultVoice
	}
	if cfg.TranscriptionModel == "" {
		cfg.TranscriptionModel = defaultTranscriptionModel
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAI{cfg: cfg, client: client, logger: logger}, nil
}

type clientSecretRequest struct {
	ExpiresAfter expiresAfter  `json:"expires_after"`
	Session      sessionConfig `json:"session"`
}

type expiresAfter struct {
	Anchor  string `json:"anchor"`
	Seconds int    `json:"seconds"`
}

type sessionConfig struct {
	Type            string      `json:"type"`
	Model           string      `json:"model"`
	Instructions    string      `json:"instructions"`
	MaxOutputTokens int         `json:"max_output_tokens"`
	Audio           audioConfig `json:"audio"`
}

type audioConfig struct {
	Input  audioInput  `json:"input"`
	Output audioOutput `json:"output"`
}

type audioInput struct {
	Transcription transcription `json:"transcription"`
	TurnDetection turnDetection `json:"turn_detection"`
}

type transcription struct {
	Model string `json:"model"`
}

type turnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	SilenceDurationMs int     `json:"silence_duration_ms"`
}

type audioOutput struct {
	Voice string `json:"voice"`
}

type clientSecretResponse struct {
	Value     string `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

// Issue creates a client secret whose session carries the interviewer instructions.
func (o *OpenAI) Issue(ctx context.Context, setup *interview.Setup) (Credential, error) {
	if setup == nil {
		return Credential{}, errors.New("interview setup is required")
	}

	setupJSON, err := json.Marshal(setup.ForInterview())
	if err != nil {
		return Credential{}, fmt.Errorf("encode interview setup: %w", err)
	}

	body, err := json.Marshal(clientSecretRequest{
		ExpiresAfter: expiresAfter{Anchor: "created_at", Seconds: credentialTTL},
		Session: sessionConfig{
			Type:            "realtime",
			Model:           o.cfg.Model,
			Instructions:    prompts.Interviewer(string(setupJSON)),
			MaxOutputTokens: 4096,
			Audio: audioConfig{
				Input: audioInput{
					Transcription: transcription{Model: o.cfg.TranscriptionModel},
					TurnDetection: turnDetection{Type: "server_vad", Threshold: 0.5, SilenceDurationMs: 2000},
				},
				Output: audioOutput{Voice: o.cfg.Voice},
			},
		},
	})
	if err != nil {
		return Credential{}, fmt.Errorf("encode client secret request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/v1/realtime/client_secrets", bytes.NewReader(body))
	if err != nil {
		return Credential{}, err
	}
	req.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode/100 != 2 {
		o.logger.Warn("client secret request rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("body", utils.TruncateForLog(string(data), 300)),
		)
		return Credential{}, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	var out clientSecretResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return Credential{}, fmt.Errorf("%w: decode response: %v", ErrUpstreamUnavailable, err)
	}
	if out.Value == "" {
		return Credential{}, fmt.Errorf("%w: empty client secret", ErrUpstreamUnavailable)
	}

	cred := Credential{Value: out.Value}
	if out.ExpiresAt > 0 {
		cred.ExpiresAt = time.Unix(out.ExpiresAt, 0)
	}
	o.logger.Debug("realtime credential issued", zap.Time("expires_at", cred.ExpiresAt))
	return cred, nil
}

// Exchange posts the local offer and returns the remote answer.
func (o *OpenAI) Exchange(ctx context.Context, offer, credential string) (string, error) {
	url := fmt.Sprintf("%s/v1/realtime/calls?model=%s", o.cfg.BaseURL, o.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(offer))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExchangeFailed, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read answer: %v", ErrExchangeFailed, err)
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("%w: status %d %s", ErrExchangeFailed, resp.StatusCode, utils.TruncateForLog(strings.TrimSpace(string(data)), 200))
	}

	answer := string(data)
	if strings.TrimSpace(answer) == "" {
		return "", fmt.Errorf("%w: empty answer", ErrExchangeFailed)
	}
	return answer, nil
}
