// Package httpserver exposes the interview API and the session event stream.
package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spigell/mock-interviewer/internal/ai"
	"github.com/spigell/mock-interviewer/internal/chat"
	"github.com/spigell/mock-interviewer/internal/monitor"
	"github.com/spigell/mock-interviewer/internal/pipeline"
	"github.com/spigell/mock-interviewer/internal/realtime"
	"github.com/spigell/mock-interviewer/internal/session"
	"go.uber.org/zap"
)

const (
	// bodyLimit fits the largest upload, a 10 MiB screenshot.
	bodyLimit            = "11M"
	defaultAudioInterval = 50 * time.Millisecond
)

// Preparer is implemented by pipeline.Pipeline.
type Preparer interface {
	Prepare(ctx context.Context, sess *session.Context, in pipeline.Input) (*ai.Analysis, error)
}

// TraceStore is implemented by monitor.FileSink.
type TraceStore interface {
	List() ([]monitor.TraceInfo, error)
	Load(traceID string) (monitor.Trace, error)
}

// Deps are the collaborators behind the endpoints. A nil collaborator turns
// its endpoints into 503 responses.
type Deps struct {
	Session     *session.Context
	Preparer    Preparer
	Jobs        pipeline.JobFetcher
	OCR         ai.TextExtractor
	Chat        chat.Backend
	Evaluator   ai.Evaluator
	Credentials realtime.CredentialIssuer
	Traces      TraceStore
	Logger      *zap.Logger
}

type Server struct {
	echo     *echo.Echo
	deps     Deps
	logger   *zap.Logger
	upgrader websocket.Upgrader

	audioInterval time.Duration
}

func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Session == nil {
		deps.Session = session.New(nil, session.WithLogger(deps.Logger))
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: deps.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// The server is meant to run next to the avatar UI on localhost.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		audioInterval: defaultAudioInterval,
	}

	e.HTTPErrorHandler = s.handleError
	e.Use(requestLogger(s.logger))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(bodyLimit))

	s.register(e)
	return s
}

func (s *Server) register(e *echo.Echo) {
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	api := e.Group("/api")
	api.POST("/parse-resume", s.parseResume)
	api.POST("/fetch-job", s.fetchJob)
	api.POST("/ocr", s.ocr)
	api.POST("/analyze", s.analyze)
	api.POST("/chat", s.chatTurn)
	api.POST("/session", s.issueSession)
	api.POST("/evaluate", s.evaluate)
	api.GET("/state", s.state)
	api.DELETE("/state", s.resetState)
	api.GET("/traces", s.listTraces)
	api.GET("/traces/:id", s.getTrace)

	e.GET("/ws/session", s.sessionEvents)
}

func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.logger.Info("http server listening", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
