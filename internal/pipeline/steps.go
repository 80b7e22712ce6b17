package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/spigell/mock-interviewer/internal/ai"
	"github.com/spigell/mock-interviewer/internal/interview"
	"github.com/spigell/mock-interviewer/internal/jobposting"
	"github.com/spigell/mock-interviewer/internal/resume"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// inputsStep resolves the résumé and the job posting concurrently.
type inputsStep struct{}

func (inputsStep) Name() string { return "inputs" }

func (inputsStep) Apply(ctx context.Context, deps Deps, w *Work) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		doc, err := resolveResume(w.Input)
		if err != nil {
			return fmt.Errorf("resume: %w", err)
		}
		w.Resume = doc
		return nil
	})

	g.Go(func() error {
		posting, err := resolvePosting(gctx, deps.Jobs, w.Input)
		if err != nil {
			return fmt.Errorf("job posting: %w", err)
		}
		w.Posting = posting
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	deps.Logger.Debug("inputs resolved",
		zap.String("resume_file", w.Resume.FileName),
		zap.Int("resume_chars", utf8.RuneCountInString(w.Resume.Text)),
		zap.String("company", w.Posting.CompanyName),
		zap.String("position", w.Posting.Position),
	)
	return nil
}

func resolveResume(in Input) (*resume.Document, error) {
	if len(in.ResumeFile) > 0 {
		return resume.Parse(in.ResumeFile, in.ResumeFileName)
	}
	text, err := requireText(in.ResumeText, "résumé")
	if err != nil {
		return nil, err
	}
	return &resume.Document{Text: text, FileName: in.ResumeFileName}, nil
}

func resolvePosting(ctx context.Context, jobs JobFetcher, in Input) (*jobposting.Posting, error) {
	if url := strings.TrimSpace(in.JobURL); url != "" {
		if jobs == nil {
			return nil, errors.New("job posting fetcher is not configured")
		}
		return jobs.FetchURL(ctx, url)
	}
	text, err := requireText(in.JobText, "job posting")
	if err != nil {
		return nil, err
	}
	return &jobposting.Posting{Text: text}, nil
}

func requireText(text, what string) (string, error) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < interview.MinTextLength {
		return "", fmt.Errorf("%w: %s must be at least %d characters", ai.ErrInvalidInput, what, interview.MinTextLength)
	}
	return text, nil
}

// analysisStep turns the inputs into an interview setup.
type analysisStep struct{}

func (analysisStep) Name() string { return "analysis" }

func (analysisStep) Apply(ctx context.Context, deps Deps, w *Work) error {
	if deps.Analyzer == nil {
		return errors.New("analyzer is not configured")
	}
	analysis, err := deps.Analyzer.Analyze(ctx, w.Resume.Text, w.Posting.Text)
	if err != nil {
		return err
	}
	if analysis == nil || analysis.Setup == nil {
		return fmt.Errorf("%w: analysis produced no interview setup", ai.ErrInvalidOutput)
	}
	w.Analysis = analysis
	w.Setup = analysis.Setup
	return nil
}

// evaluationStep grades the transcript. A result carrying only metrics is
// kept on failure so the cost of the call is still reported.
type evaluationStep struct{}

func (evaluationStep) Name() string { return "evaluation" }

func (evaluationStep) Apply(ctx context.Context, deps Deps, w *Work) error {
	if deps.Evaluator == nil {
		return errors.New("evaluator is not configured")
	}
	result, err := deps.Evaluator.Evaluate(ctx, w.Setup, w.Transcript)
	w.Evaluation = result
	if err != nil {
		return err
	}
	if result == nil || result.Evaluation == nil {
		return fmt.Errorf("%w: evaluation is empty", ai.ErrInvalidOutput)
	}
	return nil
}
