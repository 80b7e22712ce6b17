package httpserver

import (
	"errors"
	"io"
	"io/fs"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/spigell/mock-interviewer/internal/ai"
	"github.com/spigell/mock-interviewer/internal/chat"
	"github.com/spigell/mock-interviewer/internal/interview"
	"github.com/spigell/mock-interviewer/internal/jobposting"
	"github.com/spigell/mock-interviewer/internal/monitor"
	"github.com/spigell/mock-interviewer/internal/pipeline"
	"github.com/spigell/mock-interviewer/internal/resume"
	"github.com/spigell/mock-interviewer/internal/session"
	"go.uber.org/zap"
)

var errUnavailable = echo.NewHTTPError(http.StatusServiceUnavailable, "this endpoint is not configured")

func (s *Server) parseResume(c echo.Context) error {
	header, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "a résumé file is required in the 'file' field")
	}
	if header.Size > resume.MaxFileSize {
		return httpError(resume.ErrTooLarge)
	}

	file, err := header.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "uploaded file cannot be read")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, resume.MaxFileSize+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "uploaded file cannot be read")
	}

	doc, err := resume.Parse(data, header.Filename)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, doc)
}

type fetchJobRequest struct {
	URL string `json:"url"`
}

type fetchJobResponse struct {
	Text        string `json:"text"`
	CompanyName string `json:"companyName"`
	Position    string `json:"position"`
}

func (s *Server) fetchJob(c echo.Context) error {
	if s.deps.Jobs == nil {
		return errUnavailable
	}
	var req fetchJobRequest
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "url is required")
	}

	posting, err := s.deps.Jobs.FetchURL(c.Request().Context(), req.URL)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, fetchJobResponse{
		Text:        posting.Text,
		CompanyName: posting.CompanyName,
		Position:    posting.Position,
	})
}

type ocrResponse struct {
	Text string `json:"text"`
}

// ocr extracts the text of a job posting screenshot.
func (s *Server) ocr(c echo.Context) error {
	if s.deps.OCR == nil {
		return errUnavailable
	}
	header, err := c.FormFile("image")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "an image file is required in the 'image' field")
	}
	mimeType := header.Header.Get(echo.HeaderContentType)
	if !ai.SupportedImageType(mimeType) {
		return echo.NewHTTPError(http.StatusBadRequest, "only PNG, JPEG, WebP and GIF images are supported")
	}
	if header.Size > ai.MaxImageSize {
		return echo.NewHTTPError(http.StatusBadRequest, "images must be 10 MiB or smaller")
	}

	file, err := header.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "uploaded image cannot be read")
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, ai.MaxImageSize+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "uploaded image cannot be read")
	}

	text, err := s.deps.OCR.ExtractText(c.Request().Context(), ai.Image{MIMEType: mimeType, Data: data})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, ocrResponse{Text: text})
}

type analyzeRequest struct {
	ResumeText     string `json:"resumeText"`
	ResumeFileName string `json:"resumeFileName,omitempty"`
	JobPostingText string `json:"jobPostingText"`
	JobPostingURL  string `json:"jobPostingUrl,omitempty"`
}

type analyzeResponse struct {
	Setup     *interview.Setup           `json:"interviewSetup"`
	Grounding *interview.GroundingReport `json:"groundingReport,omitempty"`
	Metrics   []interview.StageMetrics   `json:"_metrics,omitempty"`
}

func (s *Server) analyze(c echo.Context) error {
	if s.deps.Preparer == nil {
		return errUnavailable
	}
	var req analyzeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	analysis, err := s.deps.Preparer.Prepare(c.Request().Context(), s.deps.Session, pipeline.Input{
		ResumeText:     req.ResumeText,
		ResumeFileName: req.ResumeFileName,
		JobText:        req.JobPostingText,
		JobURL:         req.JobPostingURL,
	})
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, analyzeResponse{
		Setup:     analysis.Setup,
		Grounding: analysis.Grounding,
		Metrics:   analysis.Metrics,
	})
}

func (s *Server) chatTurn(c echo.Context) error {
	if s.deps.Chat == nil {
		return errUnavailable
	}
	var req interview.ChatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Setup == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "interviewSetup is required")
	}

	reply, err := s.deps.Chat.SendChatTurn(c.Request().Context(), req.Setup, req.History, req.UserMessage)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, reply)
}

type sessionRequest struct {
	Setup *interview.Setup `json:"interviewSetup"`
}

// issueSession returns an ephemeral realtime credential. Without a setup in
// the body the prepared session is used.
func (s *Server) issueSession(c echo.Context) error {
	if s.deps.Credentials == nil {
		return errUnavailable
	}
	var req sessionRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	setup := req.Setup
	if setup == nil {
		setup = s.deps.Session.Setup()
	}
	if setup == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "interviewSetup is required")
	}

	credential, err := s.deps.Credentials.Issue(c.Request().Context(), setup)
	if err != nil {
		s.logger.Warn("realtime credential issuance failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "failed to create realtime session")
	}
	return c.JSON(http.StatusOK, credential)
}

type evaluateRequest struct {
	Setup      *interview.Setup  `json:"interviewSetup"`
	Transcript []interview.Entry `json:"transcript"`
}

type evaluateResponse struct {
	Evaluation *interview.Evaluation   `json:"evaluation"`
	Metrics    *interview.StageMetrics `json:"_metrics,omitempty"`
}

// evaluate grades the transcript in the body, or the session's own when the
// body carries none. Only the latter is stored in the session.
func (s *Server) evaluate(c echo.Context) error {
	if s.deps.Evaluator == nil {
		return errUnavailable
	}
	var req evaluateRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}

	fromSession := req.Setup == nil && len(req.Transcript) == 0
	if fromSession {
		req.Setup = s.deps.Session.Setup()
		req.Transcript = s.deps.Session.Transcript()
	}
	if req.Setup == nil || len(req.Transcript) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "interviewSetup and transcript are required")
	}

	result, err := s.deps.Evaluator.Evaluate(c.Request().Context(), req.Setup, req.Transcript)
	if err != nil {
		return httpError(err)
	}
	if fromSession {
		s.deps.Session.SetEvaluation(result.Evaluation)
		s.deps.Session.AddEvaluationMetrics(result.Metrics)
	}
	return c.JSON(http.StatusOK, evaluateResponse{Evaluation: result.Evaluation, Metrics: &result.Metrics})
}

type stateResponse struct {
	ResumeFileName    string                     `json:"resumeFileName,omitempty"`
	CompanyName       string                     `json:"companyName,omitempty"`
	Position          string                     `json:"position,omitempty"`
	Setup             *interview.Setup           `json:"interviewSetup"`
	Grounding         *interview.GroundingReport `json:"groundingReport"`
	Evaluation        *interview.Evaluation      `json:"evaluation"`
	Transcript        []interview.Entry          `json:"transcript"`
	AnalysisMetrics   []interview.StageMetrics   `json:"analysisMetrics,omitempty"`
	ChatMetrics       []interview.ChatMetrics    `json:"chatMetrics,omitempty"`
	EvaluationMetrics []interview.StageMetrics   `json:"evaluationMetrics,omitempty"`
	Avatar            interview.AvatarState      `json:"avatarState"`
	ElapsedSeconds    int                        `json:"elapsedSeconds"`
	InterviewActive   bool                       `json:"isInterviewActive"`
}

func newStateResponse(st session.State) stateResponse {
	transcript := st.Transcript
	if transcript == nil {
		transcript = []interview.Entry{}
	}
	return stateResponse{
		ResumeFileName:    st.ResumeFileName,
		CompanyName:       st.CompanyName,
		Position:          st.Position,
		Setup:             st.Setup,
		Grounding:         st.Grounding,
		Evaluation:        st.Evaluation,
		Transcript:        transcript,
		AnalysisMetrics:   st.AnalysisMetrics,
		ChatMetrics:       st.ChatMetrics,
		EvaluationMetrics: st.EvaluationMetrics,
		Avatar:            st.Avatar,
		ElapsedSeconds:    st.ElapsedSeconds,
		InterviewActive:   st.InterviewActive,
	}
}

func (s *Server) state(c echo.Context) error {
	return c.JSON(http.StatusOK, newStateResponse(s.deps.Session.Snapshot()))
}

func (s *Server) resetState(c echo.Context) error {
	s.deps.Session.Reset()
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listTraces(c echo.Context) error {
	if s.deps.Traces == nil {
		return errUnavailable
	}
	traces, err := s.deps.Traces.List()
	if err != nil {
		return err
	}
	if traces == nil {
		traces = []monitor.TraceInfo{}
	}
	return c.JSON(http.StatusOK, traces)
}

func (s *Server) getTrace(c echo.Context) error {
	if s.deps.Traces == nil {
		return errUnavailable
	}
	trace, err := s.deps.Traces.Load(c.Param("id"))
	if errors.Is(err, fs.ErrNotExist) {
		return echo.NewHTTPError(http.StatusNotFound, "trace not found")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, trace)
}

// httpError maps domain errors to responses.
func httpError(err error) error {
	switch {
	case errors.Is(err, resume.ErrTooLarge):
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error()).SetInternal(err)
	case errors.Is(err, resume.ErrUnsupportedFormat),
		errors.Is(err, jobposting.ErrInvalidURL),
		errors.Is(err, ai.ErrInvalidInput),
		errors.Is(err, chat.ErrEmptyMessage):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	case errors.Is(err, resume.ErrCorrupt),
		errors.Is(err, ai.ErrNoText),
		errors.Is(err, resume.ErrEmpty),
		errors.Is(err, resume.ErrTooShort):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error()).SetInternal(err)
	case errors.Is(err, jobposting.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error()).SetInternal(err)
	case errors.Is(err, jobposting.ErrRateLimited):
		return echo.NewHTTPError(http.StatusTooManyRequests, err.Error()).SetInternal(err)
	case errors.Is(err, jobposting.ErrUnreachable),
		errors.Is(err, ai.ErrInvalidOutput),
		errors.Is(err, ai.ErrTruncated),
		errors.Is(err, ai.ErrEmptyResponse),
		errors.Is(err, chat.ErrUpstream):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error()).SetInternal(err)
	default:
		return err
	}
}
