package monitor

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spigell/mock-interviewer/internal/utils"
	"go.uber.org/zap"
)

const (
	// MaxRealtimeEvents bounds the realtime event ring of one trace.
	MaxRealtimeEvents = 1000

	previewLength = 500
)

// Sink persists traces.
type Sink interface {
	Save(ctx context.Context, trace Trace) error
}

// Recorder collects the trace of the current pipeline run. Recording starts
// a trace implicitly when none is active.
type Recorder struct {
	sinks  []Sink
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	trace    *Trace
	seq      int
	realtime int
}

func NewRecorder(logger *zap.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{sinks: sinks, logger: logger, now: time.Now}
}

// StartPipeline begins a new trace and returns its id.
func (r *Recorder) StartPipeline() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startLocked()
}

func (r *Recorder) startLocked() string {
	r.trace = &Trace{TraceID: uuid.NewString(), StartedAt: r.now()}
	r.seq = 0
	r.realtime = 0
	return r.trace.TraceID
}

func (r *Recorder) currentLocked() *Trace {
	if r.trace == nil {
		r.startLocked()
	}
	return r.trace
}

func (r *Recorder) TraceID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.trace == nil {
		return ""
	}
	return r.trace.TraceID
}

func (r *Recorder) RecordTimelineEvent(stage Stage, event string, duration time.Duration, metadata map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.currentLocked()
	r.seq++
	entry := TimelineEvent{Seq: r.seq, Timestamp: r.now(), Stage: stage, Event: event, Metadata: metadata}
	if duration > 0 {
		ms := duration.Milliseconds()
		entry.DurationMs = &ms
	}
	t.Timeline = append(t.Timeline, entry)
}

func (r *Recorder) RecordError(stage Stage, category Category, severity Severity, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.currentLocked()
	t.Errors = append(t.Errors, StructuredError{
		ID:        uuid.NewString(),
		Timestamp: r.now(),
		Stage:     stage,
		Category:  category,
		Severity:  severity,
		Message:   message,
	})
	r.logger.Debug("monitor error recorded",
		zap.String("stage", string(stage)),
		zap.String("category", string(category)),
		zap.String("severity", string(severity)),
	)
}

func (r *Recorder) RecordSpan(span Span) {
	if span.ID == "" {
		span.ID = uuid.NewString()
	}
	if span.RawResponsePreview == "" && span.RawResponse != "" {
		span.RawResponsePreview = utils.TruncateForLog(span.RawResponse, previewLength)
	}
	if span.DurationMs == 0 && !span.EndedAt.IsZero() {
		span.DurationMs = span.EndedAt.Sub(span.StartedAt).Milliseconds()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.currentLocked()
	t.Spans = append(t.Spans, span)
}

// RecordRealtimeEvent keeps the most recent MaxRealtimeEvents events.
func (r *Recorder) RecordRealtimeEvent(direction, eventType string, payload map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := r.currentLocked()
	r.realtime++
	t.RealtimeEvents = append(t.RealtimeEvents, RealtimeEvent{
		Seq:       r.realtime,
		Timestamp: r.now(),
		Direction: direction,
		EventType: eventType,
		Payload:   payload,
	})
	if over := len(t.RealtimeEvents) - MaxRealtimeEvents; over > 0 {
		t.RealtimeEvents = slices.Delete(t.RealtimeEvents, 0, over)
		t.DroppedEvents += over
	}
}

// Complete marks the current trace finished.
func (r *Recorder) Complete() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.trace != nil && r.trace.CompletedAt == nil {
		now := r.now()
		r.trace.CompletedAt = &now
	}
}

// Snapshot returns a copy of the current trace.
func (r *Recorder) Snapshot() Trace {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.trace == nil {
		return Trace{}
	}
	t := *r.trace
	t.Timeline = slices.Clone(t.Timeline)
	t.Errors = slices.Clone(t.Errors)
	t.Spans = slices.Clone(t.Spans)
	t.RealtimeEvents = slices.Clone(t.RealtimeEvents)
	return t
}

// Flush saves the current trace to every sink. Every sink is tried.
func (r *Recorder) Flush(ctx context.Context) error {
	trace := r.Snapshot()
	if trace.TraceID == "" {
		return nil
	}

	var errs []error
	for _, sink := range r.sinks {
		if err := sink.Save(ctx, trace); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		r.logger.Warn("monitor flush failed", zap.String("trace_id", trace.TraceID), zap.Error(err))
		return err
	}
	r.logger.Debug("monitor flushed",
		zap.String("trace_id", trace.TraceID),
		zap.Int("timeline", len(trace.Timeline)),
		zap.Int("errors", len(trace.Errors)),
		zap.Int("spans", len(trace.Spans)),
	)
	return nil
}
