package storage

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Session-scoped keys. Each value is an independent JSON document.
const (
	KeySetup             = "ai-interview-setup"
	KeyTranscript        = "ai-interview-transcript"
	KeyEvaluation        = "ai-interview-evaluation"
	KeyResumeText        = "ai-interview-resume-text"
	KeyGroundingReport   = "ai-interview-grounding-report"
	KeyAnalysisMetrics   = "ai-interview-analysis-metrics"
	KeyChatMetrics       = "ai-interview-chat-metrics"
	KeyEvaluationMetrics = "ai-interview-evaluation-metrics"
)

// SessionKeys lists every key cleared by a session reset.
var SessionKeys = []string{
	KeySetup,
	KeyTranscript,
	KeyEvaluation,
	KeyResumeText,
	KeyGroundingReport,
	KeyAnalysisMetrics,
	KeyChatMetrics,
	KeyEvaluationMetrics,
}

var (
	ErrNotFound      = errors.New("storage: key not found")
	ErrQuotaExceeded = errors.New("storage: quota exceeded")
)

// Store is a small key/value store for session documents.
type Store interface {
	Get(key string) ([]byte, error)
	Set(key string, value []byte) error
	Delete(key string) error
}

// GetJSON decodes the value stored under key into v.
// It returns ErrNotFound when the key is absent.
func GetJSON(s Store, key string, v any) error {
	data, err := s.Get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func SetJSON(s Store, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(key, data)
}
