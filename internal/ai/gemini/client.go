package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spigell/mock-interviewer/internal/ai"
	"github.com/spigell/mock-interviewer/internal/utils"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	defaultModel      = "gemini-2.5-flash"
	defaultMaxRetries = 3
	retryBaseDelay    = time.Second
	maxQuotaWait      = 30 * time.Second
)

var sleep = time.Sleep

var retryAfterPattern = regexp.MustCompile(`(?i)retry (?:after|in) ([0-9.]+) ?s`)

type chatSession interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type chatCreator interface {
	Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error)
}

type genaiChats struct {
	chats *genai.Chats
}

func (g genaiChats) Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error) {
	chat, err := g.chats.Create(ctx, model, config, history)
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// Config selects the Gemini model and retry budget.
type Config struct {
	APIKey     string `mapstructure:"-"`
	Model      string `mapstructure:"model"`
	MaxRetries int    `mapstructure:"max_retries"`
}

// Request is one generation call. History is replayed before Message.
type Request struct {
	System          string
	History         []*genai.Content
	Message         string
	Images          []ai.Image
	Temperature     *float32
	MaxOutputTokens int32
	GoogleSearch    bool
	JSON            bool
}

type Response struct {
	Text         string
	Model        string
	InputTokens  int32
	OutputTokens int32
	FinishReason string
	Duration     time.Duration
	Grounding    *genai.GroundingMetadata
}

// Generator wraps the Google GenAI client with retries on transient failures.
type Generator struct {
	chats      chatCreator
	model      string
	maxRetries int
	logger     *zap.Logger
}

// NewGenerator creates a Generator for the Gemini API backend.
func NewGenerator(ctx context.Context, cfg Config, logger *zap.Logger) (*Generator, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Generator{
		chats:      genaiChats{chats: client.Chats},
		model:      model,
		maxRetries: retries,
		logger:     logger,
	}, nil
}

func (g *Generator) Model() string {
	if g == nil {
		return ""
	}
	return g.model
}

// Generate runs req, retrying server errors and short quota waits.
func (g *Generator) Generate(ctx context.Context, req Request) (*Response, error) {
	if g == nil || g.chats == nil {
		return nil, errors.New("gemini generator is not initialized")
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, fmt.Errorf("%w: message must not be empty", ai.ErrInvalidInput)
	}

	config := buildConfig(req)
	attempts := max(g.maxRetries, 1)

	for attempt := 1; ; attempt++ {
		started := time.Now()
		resp, err := g.send(ctx, config, req.History, message, req.Images)
		if err == nil {
			out, err := g.parse(resp)
			if err != nil {
				return nil, err
			}
			out.Duration = time.Since(started)
			return out, nil
		}

		delay, retry := retryDelay(err, attempt)
		if !retry || attempt >= attempts || ctx.Err() != nil {
			return nil, fmt.Errorf("generate content: %w", err)
		}

		g.logger.Warn("gemini request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		sleep(delay)
	}
}

// send puts images ahead of the message text in one user turn.
func (g *Generator) send(ctx context.Context, config *genai.GenerateContentConfig, history []*genai.Content, message string, images []ai.Image) (*genai.GenerateContentResponse, error) {
	chat, err := g.chats.Create(ctx, g.model, config, history)
	if err != nil {
		return nil, err
	}
	parts := make([]genai.Part, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, genai.Part{InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: img.Data}})
	}
	parts = append(parts, genai.Part{Text: message})
	return chat.SendMessage(ctx, parts...)
}

func buildConfig(req Request) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{
		Temperature:     req.Temperature,
		MaxOutputTokens: req.MaxOutputTokens,
	}
	if system := strings.TrimSpace(req.System); system != "" {
		config.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.GoogleSearch {
		config.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	} else if req.JSON {
		config.ResponseMIMEType = "application/json"
	}
	return config
}

func (g *Generator) parse(resp *genai.GenerateContentResponse) (*Response, error) {
	if resp == nil {
		return nil, ai.ErrEmptyResponse
	}

	out := &Response{Model: g.model}
	if usage := resp.UsageMetadata; usage != nil {
		out.InputTokens = usage.PromptTokenCount
		out.OutputTokens = usage.CandidatesTokenCount
	}

	var builder strings.Builder
	for i, candidate := range resp.Candidates {
		if candidate == nil {
			continue
		}
		if i == 0 {
			out.FinishReason = string(candidate.FinishReason)
			out.Grounding = candidate.GroundingMetadata
		}
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}
	out.Text = strings.TrimSpace(builder.String())

	if out.Text == "" {
		if out.FinishReason == string(genai.FinishReasonMaxTokens) {
			return nil, ai.ErrTruncated
		}
		return nil, fmt.Errorf("%w (finish reason %q)", ai.ErrEmptyResponse, out.FinishReason)
	}

	g.logger.Debug("gemini response",
		zap.String("model", g.model),
		zap.String("finish_reason", out.FinishReason),
		zap.Int32("input_tokens", out.InputTokens),
		zap.Int32("output_tokens", out.OutputTokens),
		zap.String("preview", utils.TruncateForLog(out.Text, 200)),
	)
	return out, nil
}

// retryDelay reports whether err is worth another attempt and how long to wait.
func retryDelay(err error, attempt int) (time.Duration, bool) {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return 0, false
	}

	switch {
	case apiErr.Code >= http.StatusInternalServerError:
		return utils.Backoff(retryBaseDelay, attempt), true
	case apiErr.Code == http.StatusTooManyRequests:
		if wait, ok := quotaWait(apiErr.Message); ok {
			if wait > maxQuotaWait {
				return 0, false
			}
			return wait, true
		}
		return utils.Backoff(retryBaseDelay, attempt), true
	default:
		return 0, false
	}
}

func quotaWait(message string) (time.Duration, bool) {
	match := retryAfterPattern.FindStringSubmatch(message)
	if match == nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}
