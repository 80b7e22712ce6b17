package gemini

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spigell/mock-interviewer/internal/ai"
	"github.com/spigell/mock-interviewer/internal/ai/schema"
	"github.com/spigell/mock-interviewer/internal/interview"
	"github.com/spigell/mock-interviewer/internal/monitor"
	"github.com/spigell/mock-interviewer/internal/prompts"
	"github.com/spigell/mock-interviewer/internal/utils"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	directivesMaxTokens = 2048
	setupMaxTokens      = 16384
	researchTemperature = 1.0
	researchTimeout     = 120 * time.Second

	defaultMaxLogLength = 200
)

// Analyzer turns a résumé and a job posting into an interview setup in three
// steps: research directives, grounded web research and the setup itself.
type Analyzer struct {
	gen             generator
	telemetry       monitor.Telemetry
	logger          *zap.Logger
	maxLogLen       int
	researchTimeout time.Duration
	now             func() time.Time
}

func NewAnalyzer(gen generator, telemetry monitor.Telemetry, logger *zap.Logger) *Analyzer {
	if telemetry == nil {
		telemetry = monitor.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		gen:             gen,
		telemetry:       telemetry,
		logger:          logger,
		maxLogLen:       defaultMaxLogLength,
		researchTimeout: researchTimeout,
		now:             time.Now,
	}
}

func (a *Analyzer) Analyze(ctx context.Context, resumeText, jobPostingText string) (*ai.Analysis, error) {
	resumeText = strings.TrimSpace(resumeText)
	jobPostingText = strings.TrimSpace(jobPostingText)
	if utf8.RuneCountInString(resumeText) < interview.MinTextLength {
		return nil, fmt.Errorf("%w: résumé is too short", ai.ErrInvalidInput)
	}
	if utf8.RuneCountInString(jobPostingText) < interview.MinTextLength {
		return nil, fmt.Errorf("%w: job posting is too short", ai.ErrInvalidInput)
	}

	out := &ai.Analysis{}

	plan, metrics, err := a.directives(ctx, resumeText, jobPostingText)
	if err != nil {
		return nil, err
	}
	out.Plan = plan
	out.Metrics = append(out.Metrics, metrics)

	out.Grounding = a.research(ctx, plan)

	setup, raw, metrics, err := a.setup(ctx, resumeText, jobPostingText, plan, out.Grounding)
	out.Metrics = append(out.Metrics, metrics)
	if err != nil {
		return out, err
	}
	out.Setup = setup
	out.RawSetup = raw

	a.logger.Info("analysis completed",
		zap.Int("questions", len(setup.Questions)),
		zap.String("grounding", string(out.Grounding.Status)),
	)
	return out, nil
}

func (a *Analyzer) directives(ctx context.Context, resumeText, jobPostingText string) (*interview.ResearchPlan, interview.StageMetrics, error) {
	message := prompts.Directives(resumeText, jobPostingText)
	resp, err := a.call(ctx, monitor.StageDirectives, Request{
		Message:         message,
		MaxOutputTokens: directivesMaxTokens,
		JSON:            true,
	})
	if err != nil {
		return nil, interview.StageMetrics{Stage: string(monitor.StageDirectives), Model: a.gen.Model()}, err
	}
	metrics := stageMetrics(monitor.StageDirectives, resp)

	var plan interview.ResearchPlan
	if err := decodeJSON(resp.Text, &plan); err != nil {
		a.logger.Warn("research directives are not valid json, continuing without them",
			zap.String("response_preview", utils.TruncateForLog(resp.Text, a.maxLogLen)),
			zap.Error(err),
		)
		a.telemetry.RecordError(monitor.StageDirectives, monitor.CategoryJSONParse, monitor.SeverityWarning, err.Error())
		return nil, metrics, nil
	}

	a.logger.Debug("research directives received",
		zap.Int("directives", len(plan.Directives)),
		zap.Strings("gaps", plan.IdentifiedGaps),
	)
	return &plan, metrics, nil
}

// research never fails the analysis; problems end up in the report status.
func (a *Analyzer) research(ctx context.Context, plan *interview.ResearchPlan) *interview.GroundingReport {
	if plan == nil {
		return a.skipped("research directives are unavailable")
	}
	if len(plan.Directives) == 0 {
		return a.skipped("research directives are empty")
	}

	researchCtx, cancel := context.WithTimeout(ctx, a.researchTimeout)
	defer cancel()

	started := a.now()
	resp, err := a.call(researchCtx, monitor.StageGrounding, Request{
		Message:      prompts.Research(researchBrief(plan)),
		GoogleSearch: true,
		Temperature:  genai.Ptr[float32](researchTemperature),
	})
	duration := a.now().Sub(started)
	if err != nil {
		a.logger.Warn("grounded research failed, continuing without it", zap.Error(err))
		return &interview.GroundingReport{
			Status:        interview.GroundingError,
			SearchQueries: []string{},
			Sources:       []interview.GroundingSource{},
			Evidences:     []interview.GroundingEvidence{},
			DurationMs:    duration.Milliseconds(),
			ErrorMessage:  err.Error(),
			Timestamp:     a.now().UTC().Format(time.RFC3339),
		}
	}

	report := groundingReport(resp.Grounding)
	report.Status = interview.GroundingSuccess
	report.ResearchText = resp.Text
	report.DurationMs = duration.Milliseconds()
	report.Timestamp = a.now().UTC().Format(time.RFC3339)

	a.logger.Info("grounded research completed",
		zap.Int("queries", len(report.SearchQueries)),
		zap.Int("sources", len(report.Sources)),
		zap.Duration("duration", duration),
	)
	return report
}

func (a *Analyzer) skipped(reason string) *interview.GroundingReport {
	a.logger.Debug("grounded research skipped", zap.String("reason", reason))
	a.telemetry.RecordTimelineEvent(monitor.StageGrounding, "grounding.skipped", 0, map[string]any{"reason": reason})
	return &interview.GroundingReport{
		Status:        interview.GroundingSkipped,
		SearchQueries: []string{},
		Sources:       []interview.GroundingSource{},
		Evidences:     []interview.GroundingEvidence{},
		ErrorMessage:  reason,
		Timestamp:     a.now().UTC().Format(time.RFC3339),
	}
}

func (a *Analyzer) setup(ctx context.Context, resumeText, jobPostingText string, plan *interview.ResearchPlan, report *interview.GroundingReport) (*interview.Setup, string, interview.StageMetrics, error) {
	resp, err := a.call(ctx, monitor.StageSetup, Request{
		Message:         prompts.Setup(resumeText, jobPostingText, researchContext(plan, report)),
		MaxOutputTokens: setupMaxTokens,
		JSON:            true,
	})
	if err != nil {
		return nil, "", interview.StageMetrics{Stage: string(monitor.StageSetup), Model: a.gen.Model()}, err
	}
	metrics := stageMetrics(monitor.StageSetup, resp)

	raw := extractJSON(resp.Text)
	if err := schema.ValidateSetup([]byte(raw)); err != nil {
		a.telemetry.RecordError(monitor.StageSetup, monitor.CategoryJSONParse, monitor.SeverityError, err.Error())
		return nil, raw, metrics, fmt.Errorf("%w: %v", ai.ErrInvalidOutput, err)
	}

	var setup interview.Setup
	if err := decodeJSON(raw, &setup); err != nil {
		a.telemetry.RecordError(monitor.StageSetup, monitor.CategoryJSONParse, monitor.SeverityError, err.Error())
		return nil, raw, metrics, err
	}
	return &setup, raw, metrics, nil
}

// call runs one stage and reports it to telemetry.
func (a *Analyzer) call(ctx context.Context, stage monitor.Stage, req Request) (*Response, error) {
	a.logger.Debug("gemini stage request",
		zap.String("stage", string(stage)),
		zap.Int("prompt_length", utf8.RuneCountInString(req.Message)),
		zap.String("prompt_preview", utils.TruncateForLog(req.Message, a.maxLogLen)),
	)

	started := a.now()
	resp, err := a.gen.Generate(ctx, req)
	ended := a.now()
	if err != nil {
		severity := monitor.SeverityFatal
		if stage == monitor.StageGrounding {
			severity = monitor.SeverityWarning
		}
		a.telemetry.RecordError(stage, monitor.CategoryGeminiAPI, severity, err.Error())
		return nil, fmt.Errorf("%s: %w", stage, err)
	}

	a.telemetry.RecordSpan(monitor.Span{
		Stage:              stage,
		Model:              resp.Model,
		StartedAt:          started,
		EndedAt:            ended,
		UserMessage:        req.Message,
		RawResponse:        resp.Text,
		ParsedSuccessfully: true,
		InputTokens:        resp.InputTokens,
		OutputTokens:       resp.OutputTokens,
		StopReason:         resp.FinishReason,
	})
	a.telemetry.RecordTimelineEvent(stage, string(stage)+".completed", ended.Sub(started), nil)
	return resp, nil
}

func stageMetrics(stage monitor.Stage, resp *Response) interview.StageMetrics {
	return interview.StageMetrics{
		Stage:        string(stage),
		Model:        resp.Model,
		DurationMs:   resp.Duration.Milliseconds(),
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		StopReason:   resp.FinishReason,
	}
}

// researchBrief renders the plan for the research prompt, most important directive first.
func researchBrief(plan *interview.ResearchPlan) string {
	directives := slices.Clone(plan.Directives)
	slices.SortStableFunc(directives, func(x, y interview.ResearchDirective) int {
		return x.Priority - y.Priority
	})

	var b strings.Builder
	b.WriteString("[조사 지시문]\n")
	for i, d := range directives {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "- [%s] (priority %d, %s)\n  검색: %s\n  목적: %s\n  대안: %s\n",
			d.ID, d.Priority, d.Category, d.Query, d.Context, d.FallbackStrategy)
	}
	fmt.Fprintf(&b, "\n[참고: 지원자 프로필]\n%s\n\n[참고: 지원 포지션]\n%s\n\n[참고: 식별된 갭]\n%s",
		plan.CandidateSummary, plan.PositionSummary, bulletList(plan.IdentifiedGaps))
	return b.String()
}

// researchContext is what the setup stage learns from the earlier stages.
func researchContext(plan *interview.ResearchPlan, report *interview.GroundingReport) string {
	var parts []string
	if plan != nil {
		parts = append(parts, fmt.Sprintf("[사전 분석 결과]\n지원자 요약: %s\n포지션 요약: %s\n식별된 갭:\n%s",
			plan.CandidateSummary, plan.PositionSummary, bulletList(plan.IdentifiedGaps)))
	}
	if report != nil && strings.TrimSpace(report.ResearchText) != "" {
		parts = append(parts, "[웹 리서치 결과]\n"+report.ResearchText)
	}
	return strings.Join(parts, "\n\n")
}

func bulletList(items []string) string {
	lines := make([]string, 0, len(items))
	for _, item := range items {
		lines = append(lines, "- "+item)
	}
	return strings.Join(lines, "\n")
}

func groundingReport(meta *genai.GroundingMetadata) *interview.GroundingReport {
	report := &interview.GroundingReport{
		SearchQueries: []string{},
		Sources:       []interview.GroundingSource{},
		Evidences:     []interview.GroundingEvidence{},
	}
	if meta == nil {
		return report
	}

	report.SearchQueries = append(report.SearchQueries, meta.WebSearchQueries...)
	for _, chunk := range meta.GroundingChunks {
		if chunk == nil || chunk.Web == nil {
			continue
		}
		title := chunk.Web.Title
		if title == "" {
			title = "(제목 없음)"
		}
		var domain string
		if u, err := url.Parse(chunk.Web.URI); err == nil {
			domain = u.Hostname()
		}
		report.Sources = append(report.Sources, interview.GroundingSource{Title: title, URI: chunk.Web.URI, Domain: domain})
	}
	for _, support := range meta.GroundingSupports {
		if support == nil || support.Segment == nil || support.Segment.Text == "" {
			continue
		}
		indices := make([]int, 0, len(support.GroundingChunkIndices))
		for _, idx := range support.GroundingChunkIndices {
			indices = append(indices, int(idx))
		}
		report.Evidences = append(report.Evidences, interview.GroundingEvidence{Text: support.Segment.Text, SourceIndices: indices})
	}
	return report
}
