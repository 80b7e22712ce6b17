package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spigell/mock-interviewer/internal/ai/gemini"
	"github.com/spigell/mock-interviewer/internal/jobposting"
	"github.com/spigell/mock-interviewer/internal/logger"
	"github.com/spigell/mock-interviewer/internal/monitor"
	"github.com/spigell/mock-interviewer/internal/pipeline"
	"github.com/spigell/mock-interviewer/internal/realtime"
	"github.com/spigell/mock-interviewer/internal/secrets"
	"github.com/spigell/mock-interviewer/internal/session"
	"github.com/spigell/mock-interviewer/internal/storage"
	"go.uber.org/zap"
)

// services are the collaborators shared by the commands.
type services struct {
	session   *session.Context
	recorder  *monitor.Recorder
	traces    *monitor.FileSink
	generator *gemini.Generator
	chat      *gemini.ChatService
	evaluator *gemini.Evaluator
	ocr       *gemini.TextReader
	jobs      *jobposting.Client
	pipeline  *pipeline.Pipeline
}

func newServices(ctx context.Context, config *Config, log *zap.Logger) (*services, error) {
	sess, err := newSession(config, log)
	if err != nil {
		return nil, err
	}
	recorder, traces := newRecorder(config, log)

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		File:  config.Gemini.APIKeyFile,
		Value: config.Gemini.APIKey,
		Env:   "GEMINI_API_KEY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set gemini.api_key_file or GEMINI_API_KEY_FILE)", err)
	}

	genLogger := logger.WithCommonFields(log, "gemini", config.Gemini.Model)
	generator, err := gemini.NewGenerator(ctx, gemini.Config{
		APIKey:     apiKey,
		Model:      config.Gemini.Model,
		MaxRetries: config.Gemini.MaxRetries,
	}, genLogger)
	if err != nil {
		return nil, err
	}

	evaluator := gemini.NewEvaluator(generator, recorder, genLogger)
	jobs := jobposting.New(logger.ForComponent(log, "jobposting"))

	return &services{
		session:   sess,
		recorder:  recorder,
		traces:    traces,
		generator: generator,
		chat:      gemini.NewChatService(generator, genLogger),
		evaluator: evaluator,
		ocr:       gemini.NewTextReader(generator, genLogger),
		jobs:      jobs,
		pipeline: pipeline.New(pipeline.Deps{
			Jobs:      jobs,
			Analyzer:  gemini.NewAnalyzer(generator, recorder, genLogger),
			Evaluator: evaluator,
			Telemetry: recorder,
			Logger:    logger.ForComponent(log, "pipeline"),
		}),
	}, nil
}

// newSession restores the previous session from the data directory.
func newSession(config *Config, log *zap.Logger) (*session.Context, error) {
	store, err := storage.NewFileStore(filepath.Join(config.DataDir, "session"), config.StorageQuota)
	if err != nil {
		return nil, err
	}
	sess := session.New(store, session.WithLogger(logger.ForComponent(log, "session")))
	sess.Hydrate()
	return sess, nil
}

// newRecorder stores traces on disk and, when configured, archives them to
// blob storage as well.
func newRecorder(config *Config, log *zap.Logger) (*monitor.Recorder, *monitor.FileSink) {
	dir := config.Monitor.Dir
	if dir == "" {
		dir = filepath.Join(config.DataDir, "traces")
	}
	traces := &monitor.FileSink{Dir: dir, TTL: config.Monitor.TTL, Keep: config.Monitor.Keep}
	if removed, err := traces.Cleanup(time.Now()); err != nil {
		log.Warn("trace cleanup failed", zap.Error(err))
	} else if removed > 0 {
		log.Debug("old traces removed", zap.Int("count", removed))
	}

	sinks := []monitor.Sink{traces}
	if config.Monitor.Archive.Enabled() {
		archiver, err := monitor.NewBlobArchiver(config.Monitor.Archive)
		if err != nil {
			log.Warn("trace archive disabled", zap.Error(err))
		} else {
			sinks = append(sinks, archiver)
		}
	}
	return monitor.NewRecorder(logger.ForComponent(log, "monitor"), sinks...), traces
}

// newIssuer builds the OpenAI Realtime client. It returns nil when no key is
// configured, which disables voice mode.
func newIssuer(config *Config, log *zap.Logger) (*realtime.OpenAI, error) {
	apiKey, err := secrets.Load(secrets.Source{
		Name:  "openai api key",
		File:  config.OpenAI.APIKeyFile,
		Value: config.OpenAI.APIKey,
		Env:   "OPENAI_API_KEY",
	})
	if err != nil {
		return nil, fmt.Errorf("%w (set openai.api_key_file or OPENAI_API_KEY_FILE)", err)
	}
	return realtime.NewOpenAI(realtime.OpenAIConfig{
		APIKey:             apiKey,
		BaseURL:            config.OpenAI.BaseURL,
		Model:              config.OpenAI.Model,
		Voice:              config.OpenAI.Voice,
		TranscriptionModel: config.OpenAI.TranscriptionModel,
		Timeout:            config.OpenAI.Timeout,
	}, nil, logger.WithCommonFields(log, "openai", config.OpenAI.Model))
}
