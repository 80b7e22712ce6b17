package monitor

import (
	"context"
	"time"
)

type Stage string

const (
	StageDirectives Stage = "stage0"
	StageGrounding  Stage = "grounding"
	StageSetup      Stage = "stage1"
	StageChatInit   Stage = "chat_init"
	StageInterview  Stage = "stage2"
	StageEvaluation Stage = "stage3"
)

type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

type Category string

const (
	CategoryGeminiAPI  Category = "gemini.api"
	CategoryGeminiChat Category = "gemini.chat"
	CategoryJSONParse  Category = "app.json_parse"
	CategoryRealtime   Category = "app.realtime"
	CategoryUnknown    Category = "app.unknown"
)

type TimelineEvent struct {
	Seq        int            `json:"seq"`
	Timestamp  time.Time      `json:"timestamp"`
	Stage      Stage          `json:"stage"`
	Event      string         `json:"event"`
	DurationMs *int64         `json:"durationMs,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type StructuredError struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Stage     Stage     `json:"stage"`
	Category  Category  `json:"category"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
}

// Span describes one LLM call.
type Span struct {
	ID                 string    `json:"id"`
	Stage              Stage     `json:"stage"`
	Model              string    `json:"model"`
	StartedAt          time.Time `json:"startedAt"`
	EndedAt            time.Time `json:"endedAt"`
	DurationMs         int64     `json:"durationMs"`
	SystemPrompt       string    `json:"systemPrompt,omitempty"`
	UserMessage        string    `json:"userMessage,omitempty"`
	RawResponse        string    `json:"rawResponse,omitempty"`
	RawResponsePreview string    `json:"rawResponsePreview,omitempty"`
	ParsedSuccessfully bool      `json:"parsedSuccessfully"`
	InputTokens        int32     `json:"inputTokens"`
	OutputTokens       int32     `json:"outputTokens"`
	StopReason         string    `json:"stopReason,omitempty"`
}

type RealtimeEvent struct {
	Seq       int            `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	Direction string         `json:"direction"`
	EventType string         `json:"eventType"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Trace is everything recorded for one pipeline run.
type Trace struct {
	TraceID        string            `json:"traceId"`
	StartedAt      time.Time         `json:"startedAt"`
	CompletedAt    *time.Time        `json:"completedAt,omitempty"`
	Timeline       []TimelineEvent   `json:"timeline"`
	Errors         []StructuredError `json:"errors"`
	Spans          []Span            `json:"spans"`
	RealtimeEvents []RealtimeEvent   `json:"realtimeEvents"`
	DroppedEvents  int               `json:"droppedRealtimeEvents,omitempty"`
}

// Telemetry is the fire-and-forget sink the interview components report to.
type Telemetry interface {
	RecordTimelineEvent(stage Stage, event string, duration time.Duration, metadata map[string]any)
	RecordError(stage Stage, category Category, severity Severity, message string)
	RecordSpan(span Span)
	RecordRealtimeEvent(direction, eventType string, payload map[string]any)
	Flush(ctx context.Context) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordTimelineEvent(Stage, string, time.Duration, map[string]any) {}
func (Nop) RecordError(Stage, Category, Severity, string)                    {}
func (Nop) RecordSpan(Span)                                                  {}
func (Nop) RecordRealtimeEvent(string, string, map[string]any)               {}
func (Nop) Flush(context.Context) error                                      { return nil }
