// Package orchestrator drives one interview attempt from media acquisition
// to the evaluation hand-off, enforcing the time box of the mode.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spigell/mock-interviewer/internal/interview"
	"github.com/spigell/mock-interviewer/internal/media"
	"github.com/spigell/mock-interviewer/internal/session"
	"github.com/spigell/mock-interviewer/internal/timer"
	"go.uber.org/zap"
)

type Phase string

const (
	PhaseIdle             Phase = "idle"
	PhaseStarting         Phase = "starting"
	PhaseInterview        Phase = "interview"
	PhaseEvaluating       Phase = "evaluating"
	PhaseDone             Phase = "done"
	PhaseFailed           Phase = "failed"
	PhaseEvaluationFailed Phase = "evaluation_failed"
	PhaseClosed           Phase = "closed"
)

// Reason tells why an interview ended.
type Reason string

const (
	ReasonEnded  Reason = "ended"
	ReasonTimeUp Reason = "time_up"
	ReasonUser   Reason = "user"
)

var (
	ErrNotStartable = errors.New("orchestrator: interview already started")
	ErrNotRetryable = errors.New("orchestrator: retry is only possible after a setup failure")
	ErrNoSetup      = errors.New("orchestrator: interview setup is missing")
)

// Driver is the mode specific part of a run.
type Driver interface {
	Mode() string
	// Begin opens the interview. source is nil for modes without audio.
	Begin(ctx context.Context, source media.AudioSource) error
	// Warn tells the interviewer that time is almost up.
	Warn(ctx context.Context) error
	End()
}

// Evaluator grades the transcript held by a session.
type Evaluator interface {
	Evaluate(ctx context.Context, sess *session.Context) (*interview.Evaluation, error)
}

// Status is a point-in-time view of a run for display.
type Status struct {
	Mode      string `json:"mode"`
	Phase     Phase  `json:"phase"`
	Error     string `json:"error,omitempty"`
	Reason    Reason `json:"reason,omitempty"`
	Elapsed   int    `json:"elapsed"`
	Clock     string `json:"clock"`
	Remaining int    `json:"remaining"`
	Warning   bool   `json:"warning"`
	TimeUp    bool   `json:"timeUp"`
}

// Run is a single interview attempt. It may be retried after a setup
// failure and finishes at most once.
type Run struct {
	sess      *session.Context
	driver    Driver
	media     *media.Manager
	evaluator Evaluator
	limits    timer.Limits
	elapsed   *timer.Elapsed
	alarm     *timer.Alarm
	logger    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	phase      Phase
	err        error
	reason     Reason
	finished   bool
	wasActive  bool
	unsub      []func()
	evaluation *interview.Evaluation
}

type Option func(*options)

type options struct {
	logger    *zap.Logger
	timerOpts []timer.Option
	limits    *timer.Limits
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTimerOptions configures the elapsed timer, mostly to inject a ticker.
func WithTimerOptions(opts ...timer.Option) Option {
	return func(o *options) {
		o.timerOpts = append(o.timerOpts, opts...)
	}
}

// WithLimits overrides the time box of the mode.
func WithLimits(limits timer.Limits) Option {
	return func(o *options) {
		o.limits = &limits
	}
}

func newRun(sess *session.Context, driver Driver, devices *media.Manager, evaluator Evaluator, limits timer.Limits, opts ...Option) *Run {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.limits != nil {
		limits = *o.limits
	}

	logger := o.logger.With(zap.String("mode", driver.Mode()))
	ctx, cancel := context.WithCancel(context.Background())
	timerOpts := append([]timer.Option{timer.WithLogger(logger)}, o.timerOpts...)

	return &Run{
		sess:      sess,
		driver:    driver,
		media:     devices,
		evaluator: evaluator,
		limits:    limits,
		elapsed:   timer.New(sess, limits, timerOpts...),
		alarm:     timer.NewAlarm(limits),
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		phase:     PhaseIdle,
	}
}

func (r *Run) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Err returns the setup or evaluation failure to show to the candidate.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Evaluation returns the report once the run is done.
func (r *Run) Evaluation() *interview.Evaluation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evaluation
}

// Done is closed once the run has finished and the evaluation settled.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

func (r *Run) Status() Status {
	r.mu.Lock()
	s := Status{Mode: r.driver.Mode(), Phase: r.phase, Reason: r.reason}
	if r.err != nil {
		s.Error = r.err.Error()
	}
	r.mu.Unlock()

	s.Elapsed = r.sess.Elapsed()
	s.Clock = timer.Format(s.Elapsed)
	s.Remaining = r.limits.Remaining(s.Elapsed)
	s.Warning = r.limits.IsWarning(s.Elapsed)
	s.TimeUp = r.limits.IsTimeUp(s.Elapsed)
	return s
}

// Start begins the interview. A setup failure leaves the run in PhaseFailed
// with every acquired resource released.
func (r *Run) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.phase != PhaseIdle {
		r.mu.Unlock()
		return ErrNotStartable
	}
	r.phase = PhaseStarting
	r.err = nil
	r.wasActive = false
	r.mu.Unlock()

	return r.begin(ctx)
}

// Retry starts again after a setup failure.
func (r *Run) Retry(ctx context.Context) error {
	r.mu.Lock()
	if r.phase != PhaseFailed {
		r.mu.Unlock()
		return ErrNotRetryable
	}
	r.phase = PhaseStarting
	r.err = nil
	r.wasActive = false
	r.mu.Unlock()

	r.logger.Info("retrying interview setup")
	return r.begin(ctx)
}

func (r *Run) begin(ctx context.Context) error {
	if r.sess.Setup() == nil {
		return r.fail(ErrNoSetup)
	}

	r.sess.ClearInterview()
	r.alarm.Reset()
	r.subscribe()

	var source media.AudioSource
	if r.media != nil {
		source = r.media.AudioOrSilence(ctx)
		// The camera only feeds the self view; failures are ignored.
		r.media.RequestCamera(ctx)
	}

	if err := r.driver.Begin(ctx, source); err != nil {
		return r.fail(err)
	}

	r.mu.Lock()
	if r.phase == PhaseStarting {
		r.phase = PhaseInterview
	}
	r.mu.Unlock()
	r.logger.Info("interview started")
	return nil
}

// fail leaves the driver alone: a failed Begin has already released what it
// acquired and must stay startable for Retry.
func (r *Run) fail(err error) error {
	r.release()

	r.mu.Lock()
	r.phase = PhaseFailed
	r.err = err
	r.mu.Unlock()

	r.logger.Error("interview setup failed", zap.Error(err))
	return fmt.Errorf("start interview: %w", err)
}

func (r *Run) subscribe() {
	offElapsed := session.Subscribe(r.sess, func(s session.State) int { return s.ElapsedSeconds }, r.onElapsed)
	offActive := session.Subscribe(r.sess, func(s session.State) bool { return s.InterviewActive }, r.onActive)

	r.mu.Lock()
	r.unsub = append(r.unsub, offElapsed, offActive)
	r.mu.Unlock()
}

func (r *Run) onActive(active bool) {
	if active {
		r.mu.Lock()
		r.wasActive = true
		r.mu.Unlock()
		r.elapsed.Start()
		return
	}

	r.elapsed.Stop()
	r.mu.Lock()
	ended := r.wasActive && (r.phase == PhaseInterview || r.phase == PhaseStarting)
	r.mu.Unlock()
	if ended {
		go r.finish(ReasonEnded)
	}
}

func (r *Run) onElapsed(elapsed int) {
	switch r.alarm.Observe(elapsed) {
	case timer.SignalWarning:
		r.logger.Info("interview time warning", zap.Int("elapsed", elapsed))
		go func() {
			if err := r.driver.Warn(r.ctx); err != nil {
				r.logger.Warn("failed to deliver time warning", zap.Error(err))
			}
		}()
	case timer.SignalTimeUp:
		r.logger.Info("interview time is up", zap.Int("elapsed", elapsed))
		go r.finish(ReasonTimeUp)
	}
}

// End finishes the interview on the candidate's request.
func (r *Run) End() {
	r.finish(ReasonUser)
}

// finish stops the interview and hands the transcript to the evaluator.
func (r *Run) finish(reason Reason) {
	r.mu.Lock()
	if r.finished || (r.phase != PhaseInterview && r.phase != PhaseStarting) {
		r.mu.Unlock()
		return
	}
	r.finished = true
	r.reason = reason
	r.phase = PhaseEvaluating
	r.mu.Unlock()
	defer close(r.done)

	r.teardown()
	r.logger.Info("interview finished",
		zap.String("reason", string(reason)),
		zap.Int("elapsed", r.sess.Elapsed()),
		zap.Int("transcript_entries", len(r.sess.Transcript())),
	)

	if r.evaluator == nil {
		r.setPhase(PhaseDone)
		return
	}

	evaluation, err := r.evaluator.Evaluate(r.ctx, r.sess)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase != PhaseEvaluating {
		return
	}
	if err != nil {
		r.phase = PhaseEvaluationFailed
		r.err = err
		r.logger.Error("interview evaluation failed", zap.Error(err))
		return
	}
	r.phase = PhaseDone
	r.evaluation = evaluation
}

func (r *Run) setPhase(phase Phase) {
	r.mu.Lock()
	r.phase = phase
	r.mu.Unlock()
}

// teardown ends the driver and releases everything the run acquired.
func (r *Run) teardown() {
	r.release()
	r.driver.End()
}

func (r *Run) release() {
	r.mu.Lock()
	unsub := r.unsub
	r.unsub = nil
	r.mu.Unlock()

	for _, off := range unsub {
		off()
	}
	r.elapsed.Stop()
	if r.media != nil {
		r.media.StopAllStreams()
	}
}

// Close abandons the run without evaluation. A pending evaluation is cancelled.
func (r *Run) Close() {
	r.mu.Lock()
	if r.phase == PhaseClosed {
		r.mu.Unlock()
		return
	}
	active := !r.finished && (r.phase == PhaseInterview || r.phase == PhaseStarting)
	r.phase = PhaseClosed
	r.mu.Unlock()

	r.cancel()
	if active {
		r.teardown()
	}
}
