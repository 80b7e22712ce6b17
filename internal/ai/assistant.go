package ai

import (
	"context"
	"errors"
	"slices"

	"github.com/spigell/mock-interviewer/internal/interview"
)

var (
	// ErrInvalidInput is returned before any model call when the input cannot be used.
	ErrInvalidInput = errors.New("ai: invalid input")
	// ErrInvalidOutput is returned when the model answer cannot be parsed or validated.
	ErrInvalidOutput = errors.New("ai: model output is invalid")
	// ErrTruncated is returned when the model stopped at the output token limit.
	ErrTruncated = errors.New("ai: model output was truncated")
	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("ai: model returned an empty response")
	// ErrNoText is returned when an image holds no readable text.
	ErrNoText = errors.New("ai: no text could be extracted from the image")
)

// MaxImageSize bounds images accepted for text extraction.
const MaxImageSize = 10 << 20

var imageTypes = []string{"image/png", "image/jpeg", "image/webp", "image/gif"}

// SupportedImageType reports whether mimeType can be sent for text extraction.
func SupportedImageType(mimeType string) bool {
	return slices.Contains(imageTypes, mimeType)
}

// Image is an inline image sent to a model.
type Image struct {
	MIMEType string
	Data     []byte
}

// TextExtractor reads the text out of a screenshot, such as a job posting.
type TextExtractor interface {
	ExtractText(ctx context.Context, img Image) (string, error)
}

// Analysis is the outcome of the pre-interview pipeline.
type Analysis struct {
	Plan      *interview.ResearchPlan
	Setup     *interview.Setup
	Grounding *interview.GroundingReport
	Metrics   []interview.StageMetrics
	// RawSetup is the model answer the setup was decoded from.
	RawSetup string
}

type Analyzer interface {
	Analyze(ctx context.Context, resumeText, jobPostingText string) (*Analysis, error)
}

type EvaluationResult struct {
	Evaluation *interview.Evaluation
	Metrics    interview.StageMetrics
}

type Evaluator interface {
	Evaluate(ctx context.Context, setup *interview.Setup, transcript []interview.Entry) (*EvaluationResult, error)
}
