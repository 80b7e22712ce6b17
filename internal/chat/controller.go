package chat

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spigell/mock-interviewer/internal/interview"
	"github.com/spigell/mock-interviewer/internal/monitor"
	"github.com/spigell/mock-interviewer/internal/session"
	"go.uber.org/zap"
)

const (
	DefaultSpeakDwell = 2 * time.Second
	DefaultEndDelay   = 2 * time.Second

	flushTimeout = 10 * time.Second
)

var (
	ErrBusy         = errors.New("chat: a message is already being sent")
	ErrEnding       = errors.New("chat: interview is ending")
	ErrNotConnected = errors.New("chat: interview is not connected")
	ErrEmptyMessage = errors.New("chat: message is empty")
	ErrNotStartable = errors.New("chat: interview can only start from idle or error")
	ErrNoSetup      = errors.New("chat: interview setup is missing")
)

type stopper interface {
	Stop() bool
}

func afterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// Controller runs a turn-based interview against a stateless Backend. The
// conversation history lives here and is sent with every turn.
type Controller struct {
	sess      *session.Context
	owner     session.Owner
	backend   Backend
	telemetry monitor.Telemetry
	logger    *zap.Logger

	speakDwell time.Duration
	endDelay   time.Duration
	after      func(time.Duration, func()) stopper

	inFlight atomic.Bool
	ending   atomic.Bool

	// writeMu orders session writes against EndInterview.
	writeMu sync.Mutex

	mu       sync.Mutex
	status   interview.Status
	history  []interview.ChatMessage
	lastErr  error
	ended    bool
	dwell    stopper
	endTimer stopper
}

type Option func(*Controller)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithTelemetry(telemetry monitor.Telemetry) Option {
	return func(c *Controller) {
		if telemetry != nil {
			c.telemetry = telemetry
		}
	}
}

// WithSpeakDwell sets how long the avatar stays speaking after a reply.
func WithSpeakDwell(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.speakDwell = d
		}
	}
}

// WithEndDelay sets the grace period between the end token and EndInterview.
func WithEndDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.endDelay = d
		}
	}
}

// NewController claims the session for chat mode.
func NewController(sess *session.Context, backend Backend, opts ...Option) *Controller {
	c := &Controller{
		sess:       sess,
		backend:    backend,
		telemetry:  monitor.Nop{},
		logger:     zap.NewNop(),
		speakDwell: DefaultSpeakDwell,
		endDelay:   DefaultEndDelay,
		after:      afterFunc,
		status:     interview.StatusIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.owner = sess.Claim("chat", c.EndInterview)
	return c
}

func (c *Controller) Status() interview.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the last start or turn failure.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// History returns a copy of the conversation sent to the backend.
func (c *Controller) History() []interview.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.history)
}

// StartInterview asks the backend for the opening turn. It may be retried
// after a failure.
func (c *Controller) StartInterview(ctx context.Context) error {
	c.mu.Lock()
	if c.status != interview.StatusIdle && c.status != interview.StatusError {
		status := c.status
		c.mu.Unlock()
		c.logger.Debug("start ignored", zap.String("status", string(status)))
		return ErrNotStartable
	}
	c.status = interview.StatusConnecting
	c.history = nil
	c.lastErr = nil
	c.mu.Unlock()

	c.telemetry.RecordTimelineEvent(monitor.StageChatInit, "chat.init.started", 0, nil)
	started := time.Now()

	setup := c.sess.Setup()
	var reply interview.ChatReply
	err := ErrNoSetup
	if setup != nil {
		reply, err = c.backend.SendChatTurn(ctx, setup, nil, "")
	}

	c.mu.Lock()
	if c.status != interview.StatusConnecting {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if err != nil {
		c.status = interview.StatusError
		c.lastErr = err
		c.mu.Unlock()

		c.logger.Error("chat interview start failed", zap.Error(err))
		c.telemetry.RecordError(monitor.StageChatInit, monitor.CategoryGeminiChat, monitor.SeverityError, err.Error())
		return fmt.Errorf("start interview: %w", err)
	}
	text := interview.StripEndToken(reply.Text)
	c.history = []interview.ChatMessage{
		{Role: interview.RoleUser, Text: interview.OpeningPrompt},
		{Role: interview.RoleModel, Text: text},
	}
	c.status = interview.StatusConnected
	c.mu.Unlock()

	if !c.live(func() { _ = c.sess.SetInterviewActive(c.owner, true) }) {
		return ErrNotConnected
	}
	c.telemetry.RecordTimelineEvent(monitor.StageChatInit, "chat.init.completed", time.Since(started), nil)
	c.logger.Info("chat interview started")
	if !c.deliver(reply) {
		return ErrNotConnected
	}
	return nil
}

type sendOptions struct {
	system bool
}

type SendOption func(*sendOptions)

// AsSystemMessage sends text to the backend without adding it to the transcript.
func AsSystemMessage() SendOption {
	return func(o *sendOptions) {
		o.system = true
	}
}

// SendMessage sends one turn. A call made while another is in flight is
// rejected with ErrBusy. A failed turn leaves the session connected.
func (c *Controller) SendMessage(ctx context.Context, text string, opts ...SendOption) error {
	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}

	if c.ending.Load() {
		return ErrEnding
	}
	text = interview.StripEndToken(text)
	if text == "" {
		return ErrEmptyMessage
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		c.logger.Debug("send dropped, another message in flight")
		return ErrBusy
	}
	defer c.inFlight.Store(false)

	c.mu.Lock()
	if c.status != interview.StatusConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.status = interview.StatusSending
	history := slices.Clone(c.history)
	c.mu.Unlock()

	var appendErr error
	ok := c.live(func() {
		if !o.system {
			if _, appendErr = c.sess.Append(c.owner, interview.SpeakerCandidate, text); appendErr != nil {
				return
			}
		}
		_ = c.sess.SetAvatarState(c.owner, interview.AvatarIdle)
	})
	if !ok {
		return ErrNotConnected
	}
	if appendErr != nil {
		c.restoreConnected()
		return appendErr
	}

	started := time.Now()
	reply, err := c.backend.SendChatTurn(ctx, c.sess.Setup(), history, text)

	c.mu.Lock()
	if c.status != interview.StatusSending {
		c.mu.Unlock()
		c.logger.Debug("chat reply dropped, interview no longer active")
		return ErrNotConnected
	}
	c.status = interview.StatusConnected
	if err != nil {
		c.lastErr = err
		c.mu.Unlock()

		c.logger.Warn("chat turn failed", zap.Bool("system", o.system), zap.Error(err))
		c.telemetry.RecordError(monitor.StageInterview, monitor.CategoryGeminiChat, monitor.SeverityError, err.Error())
		return fmt.Errorf("send message: %w", err)
	}
	c.history = append(c.history,
		interview.ChatMessage{Role: interview.RoleUser, Text: text},
		interview.ChatMessage{Role: interview.RoleModel, Text: interview.StripEndToken(reply.Text)},
	)
	c.lastErr = nil
	c.mu.Unlock()

	c.telemetry.RecordTimelineEvent(monitor.StageInterview, "chat.turn", time.Since(started), map[string]any{
		"system": o.system,
		"end":    reply.IsInterviewEnd,
	})
	if !c.deliver(reply) {
		c.logger.Debug("chat reply dropped, interview ended before delivery")
		return ErrNotConnected
	}
	return nil
}

func (c *Controller) restoreConnected() {
	c.mu.Lock()
	if c.status == interview.StatusSending {
		c.status = interview.StatusConnected
	}
	c.mu.Unlock()
}

// live runs fn unless the interview has ended. EndInterview waits for a
// running fn to return.
func (c *Controller) live(fn func()) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	ended := c.ended
	c.mu.Unlock()
	if ended {
		return false
	}
	fn()
	return true
}

// deliver shows a successful reply and schedules the end when requested.
// It reports false when the interview ended first.
func (c *Controller) deliver(reply interview.ChatReply) bool {
	var end bool
	ok := c.live(func() {
		text := interview.StripEndToken(reply.Text)
		if text != "" {
			if _, err := c.sess.Append(c.owner, interview.SpeakerInterviewer, text); err != nil {
				return
			}
		}
		if reply.Metrics != nil {
			c.sess.AddChatMetrics(*reply.Metrics)
		}
		c.speak()
		end = reply.IsInterviewEnd || interview.HasEndToken(reply.Text)
	})
	if end {
		c.scheduleEnd()
	}
	return ok
}

// speak must run inside live.
func (c *Controller) speak() {
	_ = c.sess.SetAvatarState(c.owner, interview.AvatarSpeaking)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dwell != nil {
		c.dwell.Stop()
	}
	c.dwell = c.after(c.speakDwell, func() {
		c.live(func() { _ = c.sess.SetAvatarState(c.owner, interview.AvatarListening) })
	})
}

func (c *Controller) scheduleEnd() {
	if !c.ending.CompareAndSwap(false, true) {
		return
	}
	c.logger.Info("interview end token received", zap.Duration("delay", c.endDelay))

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ended {
		return
	}
	c.endTimer = c.after(c.endDelay, c.EndInterview)
}

// EndInterview stops the interview and flushes telemetry in the background.
// Repeated calls do nothing.
func (c *Controller) EndInterview() {
	c.writeMu.Lock()
	c.mu.Lock()
	if c.ended {
		c.mu.Unlock()
		c.writeMu.Unlock()
		return
	}
	c.ended = true
	c.status = interview.StatusDisconnected
	for _, t := range []stopper{c.dwell, c.endTimer} {
		if t != nil {
			t.Stop()
		}
	}
	c.dwell, c.endTimer = nil, nil
	turns := len(c.history) / 2
	c.mu.Unlock()

	c.ending.Store(true)
	_ = c.sess.SetInterviewActive(c.owner, false)
	_ = c.sess.SetAvatarState(c.owner, interview.AvatarIdle)
	c.writeMu.Unlock()

	c.telemetry.RecordTimelineEvent(monitor.StageInterview, "chat.ended", 0, map[string]any{"turns": turns})
	c.logger.Info("chat interview ended", zap.Int("turns", turns))

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		if err := c.telemetry.Flush(ctx); err != nil {
			c.logger.Debug("telemetry flush failed", zap.Error(err))
		}
	}()
}
