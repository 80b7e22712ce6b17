// Package pipeline runs the stages around an interview: collecting the
// inputs, analysing them into an interview setup and grading the transcript.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/spigell/mock-interviewer/internal/ai"
	"github.com/spigell/mock-interviewer/internal/interview"
	"github.com/spigell/mock-interviewer/internal/jobposting"
	"github.com/spigell/mock-interviewer/internal/logger"
	"github.com/spigell/mock-interviewer/internal/monitor"
	"github.com/spigell/mock-interviewer/internal/resume"
	"go.uber.org/zap"
)

// Step is a single stage of the pipeline.
type Step interface {
	Name() string
	Apply(ctx context.Context, deps Deps, w *Work) error
}

type JobFetcher interface {
	FetchURL(ctx context.Context, rawURL string) (*jobposting.Posting, error)
}

// Deps aggregates collaborators shared across all steps.
type Deps struct {
	Jobs      JobFetcher
	Analyzer  ai.Analyzer
	Evaluator ai.Evaluator
	Telemetry monitor.Telemetry
	Logger    *zap.Logger
}

// Input is what the candidate submits before the interview. A résumé file
// takes precedence over ResumeText and a JobURL over JobText.
type Input struct {
	ResumeFile     []byte
	ResumeFileName string
	ResumeText     string
	JobURL         string
	JobText        string
}

// Work carries the values produced by the steps.
type Work struct {
	Input   Input
	Resume  *resume.Document
	Posting *jobposting.Posting

	Analysis *ai.Analysis

	Setup      *interview.Setup
	Transcript []interview.Entry
	Evaluation *ai.EvaluationResult
}

// StepReport describes one executed step.
type StepReport struct {
	Name     string
	Duration time.Duration
}

// Run executes steps sequentially and stops at the first failure.
func Run(ctx context.Context, deps Deps, steps []Step, w *Work) ([]StepReport, error) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Telemetry == nil {
		deps.Telemetry = monitor.Nop{}
	}

	reports := make([]StepReport, 0, len(steps))
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return reports, err
		}

		started := time.Now()
		if err := step.Apply(ctx, deps, w); err != nil {
			deps.Logger.Warn("pipeline step failed", zap.String(logger.FieldStage, step.Name()), zap.Error(err))
			return reports, fmt.Errorf("%s: %w", step.Name(), err)
		}

		report := StepReport{Name: step.Name(), Duration: time.Since(started)}
		reports = append(reports, report)
		deps.Logger.Info("pipeline step",
			zap.String(logger.FieldStage, report.Name),
			zap.Duration("duration", report.Duration),
		)
	}
	return reports, nil
}
