package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spigell/mock-interviewer/internal/ai"
	"github.com/spigell/mock-interviewer/internal/interview"
	"github.com/spigell/mock-interviewer/internal/prompts"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	chatTemperature     = 0.8
	chatMaxOutputTokens = 1024
)

type generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
	Model() string
}

// ChatService answers interview chat turns statelessly: the whole history
// comes with every call.
type ChatService struct {
	gen    generator
	logger *zap.Logger
	now    func() time.Time
}

func NewChatService(gen generator, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{gen: gen, logger: logger, now: time.Now}
}

// SendChatTurn produces the interviewer's next reply. An empty userMessage
// asks for the opening turn. The end token is stripped from the input so the
// candidate cannot forge it.
func (s *ChatService) SendChatTurn(ctx context.Context, setup *interview.Setup, history []interview.ChatMessage, userMessage string) (interview.ChatReply, error) {
	if setup == nil {
		return interview.ChatReply{}, fmt.Errorf("%w: interview setup is required", ai.ErrInvalidInput)
	}

	setupJSON, err := json.Marshal(setup.ForInterview())
	if err != nil {
		return interview.ChatReply{}, fmt.Errorf("marshal interview setup: %w", err)
	}

	message := interview.StripEndToken(userMessage)
	if message == "" {
		message = interview.OpeningPrompt
	}

	resp, err := s.gen.Generate(ctx, Request{
		System:          prompts.Interviewer(string(setupJSON)),
		History:         toContents(history),
		Message:         message,
		Temperature:     genai.Ptr[float32](chatTemperature),
		MaxOutputTokens: chatMaxOutputTokens,
	})
	if err != nil {
		return interview.ChatReply{}, err
	}

	end := interview.HasEndToken(resp.Text)
	s.logger.Debug("chat turn answered",
		zap.Int("history", len(history)),
		zap.Bool("interview_end", end),
		zap.Duration("duration", resp.Duration),
	)

	return interview.ChatReply{
		Text:           interview.StripEndToken(resp.Text),
		IsInterviewEnd: end,
		Metrics: &interview.ChatMetrics{
			DurationMs:           resp.Duration.Milliseconds(),
			PromptTokenCount:     resp.InputTokens,
			CandidatesTokenCount: resp.OutputTokens,
			Model:                resp.Model,
			Timestamp:            s.now().UTC().Format(time.RFC3339),
		},
	}, nil
}

func toContents(history []interview.ChatMessage) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history))
	for _, msg := range history {
		if msg.Text == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if msg.Role == interview.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(msg.Text, role))
	}
	return contents
}
