package session

import (
	"errors"

	"github.com/spigell/mock-interviewer/internal/storage"
	"go.uber.org/zap"
)

// persist mirrors the given keys to storage. It must be called with c.mu held.
// Failures are logged and dropped: in-memory state stays authoritative.
func (c *Context) persist(keys ...string) {
	for _, key := range keys {
		value, present := c.valueFor(key)
		var err error
		if present {
			err = storage.SetJSON(c.store, key, value)
		} else {
			err = c.store.Delete(key)
		}
		if err != nil {
			fields := []zap.Field{zap.String("key", key), zap.Error(err)}
			if errors.Is(err, storage.ErrQuotaExceeded) {
				fields = append(fields, zap.Bool("quota", true))
			}
			c.logger.Debug("session persist skipped", fields...)
		}
	}
}

func (c *Context) valueFor(key string) (any, bool) {
	s := &c.state
	switch key {
	case storage.KeySetup:
		return s.Setup, s.Setup != nil
	case storage.KeyTranscript:
		return s.Transcript, len(s.Transcript) > 0
	case storage.KeyEvaluation:
		return s.Evaluation, s.Evaluation != nil
	case storage.KeyResumeText:
		return s.ResumeText, s.ResumeText != ""
	case storage.KeyGroundingReport:
		return s.Grounding, s.Grounding != nil
	case storage.KeyAnalysisMetrics:
		return s.AnalysisMetrics, len(s.AnalysisMetrics) > 0
	case storage.KeyChatMetrics:
		return s.ChatMetrics, len(s.ChatMetrics) > 0
	case storage.KeyEvaluationMetrics:
		return s.EvaluationMetrics, len(s.EvaluationMetrics) > 0
	}
	return nil, false
}

// Hydrate restores persisted values. Each key is read independently and a
// value already present in memory is never replaced.
func (c *Context) Hydrate() {
	c.mu.Lock()
	s := &c.state
	restored := 0
	for _, ok := range []bool{
		hydrateKey(c, storage.KeySetup, s.Setup == nil, &s.Setup),
		hydrateKey(c, storage.KeyTranscript, len(s.Transcript) == 0, &s.Transcript),
		hydrateKey(c, storage.KeyEvaluation, s.Evaluation == nil, &s.Evaluation),
		hydrateKey(c, storage.KeyResumeText, s.ResumeText == "", &s.ResumeText),
		hydrateKey(c, storage.KeyGroundingReport, s.Grounding == nil, &s.Grounding),
		hydrateKey(c, storage.KeyAnalysisMetrics, len(s.AnalysisMetrics) == 0, &s.AnalysisMetrics),
		hydrateKey(c, storage.KeyChatMetrics, len(s.ChatMetrics) == 0, &s.ChatMetrics),
		hydrateKey(c, storage.KeyEvaluationMetrics, len(s.EvaluationMetrics) == 0, &s.EvaluationMetrics),
	} {
		if ok {
			restored++
		}
	}
	c.mu.Unlock()

	c.logger.Debug("session hydrated", zap.Int("restored_keys", restored))
	if restored > 0 {
		c.subs.notify(c.Snapshot)
	}
}

// hydrateKey must be called with c.mu held.
func hydrateKey[T any](c *Context, key string, empty bool, dst *T) bool {
	if !empty {
		return false
	}

	var value T
	if err := storage.GetJSON(c.store, key, &value); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Debug("session hydrate skipped", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	*dst = value
	return true
}
