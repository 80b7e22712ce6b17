package gemini

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spigell/mock-interviewer/internal/ai"
	"github.com/spigell/mock-interviewer/internal/interview"
	"github.com/spigell/mock-interviewer/internal/monitor"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

type stubReply struct {
	resp *Response
	err  error
}

type stubGenerator struct {
	mu       sync.Mutex
	replies  []stubReply
	requests []Request
}

func (s *stubGenerator) Generate(_ context.Context, req Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if len(s.replies) == 0 {
		return nil, errors.New("unexpected call")
	}
	next := s.replies[0]
	s.replies = s.replies[1:]
	return next.resp, next.err
}

func (s *stubGenerator) Model() string {
	return "stub-model"
}

func (s *stubGenerator) reply(text string) *stubGenerator {
	s.replies = append(s.replies, stubReply{resp: &Response{
		Text:         text,
		Model:        "stub-model",
		InputTokens:  10,
		OutputTokens: 20,
		FinishReason: "STOP",
		Duration:     150 * time.Millisecond,
	}})
	return s
}

func (s *stubGenerator) fail(err error) *stubGenerator {
	s.replies = append(s.replies, stubReply{err: err})
	return s
}

const (
	sampleResume  = "강화학습 엔지니어 3년 경력. 추천 시스템에 PPO를 적용해 클릭률을 12% 개선했고, 시뮬레이터를 직접 구축했습니다."
	samplePosting = "강화학습 백엔드 채용. Python, PyTorch 기반 강화학습 모델을 서비스에 배포하고 운영할 엔지니어를 찾습니다."
	samplePlan    = "```json\n" + `{"candidate_summary":"RL 3년","position_summary":"RL 백엔드","identified_gaps":["분산 학습"],"directives":[` +
		`{"id":"d2","priority":2,"category":"tech","query":"Ray RLlib","context":"도구","fallback_strategy":"일반 지식"},` +
		`{"id":"d1","priority":1,"category":"company","query":"테스트랩 기술 블로그","context":"회사","fallback_strategy":"공고"}]}` + "\n```"
)

func loadSetupFixture(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("../schema/testdata/setup.json")
	require.NoError(t, err)
	return string(data)
}

func loadEvaluationFixture(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile("../schema/testdata/evaluation.json")
	require.NoError(t, err)
	return string(data)
}

type recordingTelemetry struct {
	monitor.Nop
	mu     sync.Mutex
	errors []monitor.Category
	spans  []monitor.Stage
}

func (r *recordingTelemetry) RecordError(_ monitor.Stage, category monitor.Category, _ monitor.Severity, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, category)
}

func (r *recordingTelemetry) RecordSpan(span monitor.Span) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = append(r.spans, span.Stage)
}

func TestAnalyzerRunsAllStages(t *testing.T) {
	t.Parallel()

	gen := (&stubGenerator{}).reply(samplePlan)
	gen.replies = append(gen.replies, stubReply{resp: &Response{
		Text:  "테스트랩은 RL 팀을 확장 중입니다.",
		Model: "stub-model",
		Grounding: &genai.GroundingMetadata{
			WebSearchQueries: []string{"테스트랩 기술 블로그"},
			GroundingChunks: []*genai.GroundingChunk{
				{Web: &genai.GroundingChunkWeb{URI: "https://blog.example.com/rl", Title: "RL at 테스트랩"}},
				{Web: &genai.GroundingChunkWeb{URI: "https://news.example.org/a"}},
			},
			GroundingSupports: []*genai.GroundingSupport{
				{Segment: &genai.Segment{Text: "RL 팀 확장"}, GroundingChunkIndices: []int32{0, 1}},
				{Segment: &genai.Segment{}},
			},
		},
	}})
	gen.reply(loadSetupFixture(t))

	telemetry := &recordingTelemetry{}
	analysis, err := NewAnalyzer(gen, telemetry, zap.NewNop()).Analyze(context.Background(), sampleResume, samplePosting)
	require.NoError(t, err)

	require.Len(t, analysis.Setup.Questions, 5)
	require.Equal(t, "김민준", analysis.Setup.InterviewerName())
	require.Len(t, analysis.Plan.Directives, 2)

	report := analysis.Grounding
	require.Equal(t, interview.GroundingSuccess, report.Status)
	require.Equal(t, []string{"테스트랩 기술 블로그"}, report.SearchQueries)
	require.Equal(t, "blog.example.com", report.Sources[0].Domain)
	require.Equal(t, "(제목 없음)", report.Sources[1].Title)
	require.Equal(t, []interview.GroundingEvidence{{Text: "RL 팀 확장", SourceIndices: []int{0, 1}}}, report.Evidences)

	require.Len(t, analysis.Metrics, 2)
	require.Equal(t, "stage0", analysis.Metrics[0].Stage)
	require.Equal(t, "stage1", analysis.Metrics[1].Stage)
	require.Equal(t, int64(150), analysis.Metrics[1].DurationMs)

	research := gen.requests[1]
	require.True(t, research.GoogleSearch)
	require.Less(t, strings.Index(research.Message, "[d1]"), strings.Index(research.Message, "[d2]"), "directives are sorted by priority")
	require.Contains(t, gen.requests[2].Message, "테스트랩은 RL 팀을 확장 중입니다.")
	require.Equal(t, []monitor.Stage{monitor.StageDirectives, monitor.StageGrounding, monitor.StageSetup}, telemetry.spans)
}

func TestAnalyzerContinuesWithoutDirectives(t *testing.T) {
	t.Parallel()

	gen := (&stubGenerator{}).reply("죄송합니다, JSON을 만들 수 없습니다.").reply(loadSetupFixture(t))
	telemetry := &recordingTelemetry{}

	analysis, err := NewAnalyzer(gen, telemetry, zap.NewNop()).Analyze(context.Background(), sampleResume, samplePosting)
	require.NoError(t, err)

	require.Nil(t, analysis.Plan)
	require.Equal(t, interview.GroundingSkipped, analysis.Grounding.Status)
	require.Len(t, gen.requests, 2, "research is skipped")
	require.Equal(t, []monitor.Category{monitor.CategoryJSONParse}, telemetry.errors)
}

func TestAnalyzerResearchFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	gen := (&stubGenerator{}).reply(samplePlan).fail(errors.New("deadline exceeded")).reply(loadSetupFixture(t))

	analysis, err := NewAnalyzer(gen, nil, nil).Analyze(context.Background(), sampleResume, samplePosting)
	require.NoError(t, err)
	require.Equal(t, interview.GroundingError, analysis.Grounding.Status)
	require.Contains(t, analysis.Grounding.ErrorMessage, "deadline exceeded")
	require.NotNil(t, analysis.Setup)
}

func TestAnalyzerRejectsInvalidSetup(t *testing.T) {
	t.Parallel()

	gen := (&stubGenerator{}).reply(samplePlan).reply("리서치 결과").reply(`{"company_analysis":{}}`)
	telemetry := &recordingTelemetry{}

	analysis, err := NewAnalyzer(gen, telemetry, nil).Analyze(context.Background(), sampleResume, samplePosting)
	require.ErrorIs(t, err, ai.ErrInvalidOutput)
	require.Nil(t, analysis.Setup)
	require.Contains(t, telemetry.errors, monitor.CategoryJSONParse)
}

func TestAnalyzerStopsWhenDirectivesCallFails(t *testing.T) {
	t.Parallel()

	gen := (&stubGenerator{}).fail(ai.ErrTruncated)
	telemetry := &recordingTelemetry{}

	_, err := NewAnalyzer(gen, telemetry, nil).Analyze(context.Background(), sampleResume, samplePosting)
	require.ErrorIs(t, err, ai.ErrTruncated)
	require.Equal(t, []monitor.Category{monitor.CategoryGeminiAPI}, telemetry.errors)
}

func TestAnalyzerRejectsShortInput(t *testing.T) {
	t.Parallel()

	gen := &stubGenerator{}
	_, err := NewAnalyzer(gen, nil, nil).Analyze(context.Background(), "짧은 이력서", samplePosting)
	require.ErrorIs(t, err, ai.ErrInvalidInput)
	require.Empty(t, gen.requests)
}

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"```json\n{\"a\":1}\n```":    `{"a":1}`,
		"```\n{\"a\":1}```":          `{"a":1}`,
		"Here you go: {\"a\":1} bye": `{"a":1}`,
		`{"a":{"b":2}}`:              `{"a":{"b":2}}`,
	}
	for in, want := range cases {
		require.Equal(t, want, extractJSON(in), in)
	}
}
