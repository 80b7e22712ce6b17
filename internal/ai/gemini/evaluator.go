package gemini

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spigell/mock-interviewer/internal/ai"
	"github.com/spigell/mock-interviewer/internal/ai/schema"
	"github.com/spigell/mock-interviewer/internal/interview"
	"github.com/spigell/mock-interviewer/internal/monitor"
	"github.com/spigell/mock-interviewer/internal/prompts"
	"go.uber.org/zap"
)

const evaluationMaxTokens = 16384

// Evaluator grades a finished interview against its setup.
type Evaluator struct {
	analyzer *Analyzer
}

func NewEvaluator(gen generator, telemetry monitor.Telemetry, logger *zap.Logger) *Evaluator {
	return &Evaluator{analyzer: NewAnalyzer(gen, telemetry, logger)}
}

func (e *Evaluator) Evaluate(ctx context.Context, setup *interview.Setup, transcript []interview.Entry) (*ai.EvaluationResult, error) {
	if setup == nil || len(transcript) == 0 {
		return nil, fmt.Errorf("%w: interview setup and transcript are required", ai.ErrInvalidInput)
	}

	setupJSON, err := json.Marshal(setup)
	if err != nil {
		return nil, fmt.Errorf("marshal interview setup: %w", err)
	}
	dialogue := interview.FormatTranscript(transcript, setup.InterviewerName())

	a := e.analyzer
	resp, err := a.call(ctx, monitor.StageEvaluation, Request{
		Message:         prompts.Evaluation(string(setupJSON), dialogue),
		MaxOutputTokens: evaluationMaxTokens,
		JSON:            true,
	})
	if err != nil {
		return nil, err
	}
	result := &ai.EvaluationResult{Metrics: stageMetrics(monitor.StageEvaluation, resp)}

	raw := extractJSON(resp.Text)
	if err := schema.ValidateEvaluation([]byte(raw)); err != nil {
		a.telemetry.RecordError(monitor.StageEvaluation, monitor.CategoryJSONParse, monitor.SeverityError, err.Error())
		return result, fmt.Errorf("%w: %v", ai.ErrInvalidOutput, err)
	}

	var evaluation interview.Evaluation
	if err := decodeJSON(raw, &evaluation); err != nil {
		a.telemetry.RecordError(monitor.StageEvaluation, monitor.CategoryJSONParse, monitor.SeverityError, err.Error())
		return result, err
	}
	result.Evaluation = &evaluation

	a.logger.Info("evaluation completed",
		zap.String("grade", evaluation.Overall.Grade),
		zap.Int("questions", len(evaluation.QuestionEvaluations)),
		zap.Int("turns", len(transcript)),
	)
	return result, nil
}
