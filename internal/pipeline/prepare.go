package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/spigell/mock-interviewer/internal/ai"
	"github.com/spigell/mock-interviewer/internal/interview"
	"github.com/spigell/mock-interviewer/internal/logger"
	"github.com/spigell/mock-interviewer/internal/monitor"
	"github.com/spigell/mock-interviewer/internal/session"
	"go.uber.org/zap"
)

var ErrNothingToEvaluate = errors.New("pipeline: no interview setup or transcript to evaluate")

// traceStarter and traceCompleter are implemented by monitor.Recorder.
type traceStarter interface {
	StartPipeline() string
}

type traceCompleter interface {
	Complete()
}

// Pipeline prepares interviews and evaluates them, storing every result in
// the session.
type Pipeline struct {
	deps Deps
}

func New(deps Deps) *Pipeline {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Telemetry == nil {
		deps.Telemetry = monitor.Nop{}
	}
	return &Pipeline{deps: deps}
}

// Prepare resolves the inputs and analyses them. The session is reset and
// filled only when every step succeeded, so a failed attempt keeps the
// previous interview.
func (p *Pipeline) Prepare(ctx context.Context, sess *session.Context, in Input) (*ai.Analysis, error) {
	log := p.deps.Logger
	if starter, ok := p.deps.Telemetry.(traceStarter); ok {
		log = logger.WithFields(log, zap.String(logger.FieldTraceID, starter.StartPipeline()))
	}
	deps := p.deps
	deps.Logger = log

	started := time.Now()
	deps.Telemetry.RecordTimelineEvent(monitor.StageDirectives, "pipeline.started", 0, nil)

	w := &Work{Input: in}
	if _, err := Run(ctx, deps, []Step{inputsStep{}, analysisStep{}}, w); err != nil {
		deps.Telemetry.RecordTimelineEvent(monitor.StageSetup, "pipeline.failed", time.Since(started), map[string]any{"error": err.Error()})
		return nil, err
	}

	sess.Reset()
	sess.SetResume(w.Resume.Text, w.Resume.FileName)
	sess.SetJobPosting(w.Posting.Text, w.Posting.CompanyName, w.Posting.Position)
	sess.SetGrounding(w.Analysis.Grounding)
	sess.AddAnalysisMetrics(w.Analysis.Metrics...)
	sess.SetSetup(w.Setup)

	deps.Telemetry.RecordTimelineEvent(monitor.StageSetup, "pipeline.completed", time.Since(started), map[string]any{
		"questions": len(w.Setup.Questions),
	})
	log.Info("interview prepared",
		zap.String("interviewer", w.Setup.InterviewerName()),
		zap.Int("questions", len(w.Setup.Questions)),
		zap.Duration("duration", time.Since(started)),
	)
	return w.Analysis, nil
}

// Evaluate grades the transcript held by sess and stores the evaluation.
func (p *Pipeline) Evaluate(ctx context.Context, sess *session.Context) (*interview.Evaluation, error) {
	w := &Work{Setup: sess.Setup(), Transcript: sess.Transcript()}
	if w.Setup == nil || len(w.Transcript) == 0 {
		return nil, ErrNothingToEvaluate
	}

	_, err := Run(ctx, p.deps, []Step{evaluationStep{}}, w)
	if w.Evaluation != nil && w.Evaluation.Metrics.Stage != "" {
		sess.AddEvaluationMetrics(w.Evaluation.Metrics)
	}
	p.finishTrace(ctx)
	if err != nil {
		return nil, err
	}

	sess.SetEvaluation(w.Evaluation.Evaluation)
	p.deps.Logger.Info("interview evaluated",
		zap.Int("transcript_entries", len(w.Transcript)),
		zap.String("grade", w.Evaluation.Evaluation.Overall.Grade),
	)
	return w.Evaluation.Evaluation, nil
}

func (p *Pipeline) finishTrace(ctx context.Context) {
	if completer, ok := p.deps.Telemetry.(traceCompleter); ok {
		completer.Complete()
	}
	if err := p.deps.Telemetry.Flush(ctx); err != nil {
		p.deps.Logger.Debug("telemetry flush failed", zap.Error(err))
	}
}
