package interview

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ChatMessage is one turn of the history fed back to the chat model.
type ChatMessage struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// ChatReply is the result of a single chat turn. Text never contains EndToken.
type ChatReply struct {
	Text           string       `json:"reply"`
	IsInterviewEnd bool         `json:"isInterviewEnd"`
	Metrics        *ChatMetrics `json:"_chatMetrics,omitempty"`
}

// ChatRequest is the body of the stateless chat endpoint.
type ChatRequest struct {
	Setup       *Setup        `json:"interviewSetup"`
	History     []ChatMessage `json:"history"`
	UserMessage string        `json:"userMessage,omitempty"`
}

// ChatMetrics describes the cost of one chat turn.
type ChatMetrics struct {
	DurationMs           int64  `json:"durationMs"`
	PromptTokenCount     int32  `json:"promptTokenCount"`
	CandidatesTokenCount int32  `json:"candidatesTokenCount"`
	Model                string `json:"model"`
	Timestamp            string `json:"timestamp"`
}

// StageMetrics describes the cost of one pipeline stage call.
type StageMetrics struct {
	Stage        string `json:"stage"`
	Model        string `json:"model"`
	DurationMs   int64  `json:"durationMs"`
	InputTokens  int32  `json:"inputTokens"`
	OutputTokens int32  `json:"outputTokens"`
	StopReason   string `json:"stopReason,omitempty"`
}
