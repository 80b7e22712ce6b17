package timer

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Counter is the shared elapsed-seconds counter driven by the timer.
type Counter interface {
	Active() bool
	Elapsed() int
	IncrementElapsed(limit int) (int, bool)
}

// Ticker abstracts time.Ticker so tests can drive ticks by hand.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func newRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Elapsed ticks a Counter once per interval while the interview is active.
// At most one ticking goroutine exists per Elapsed at any time.
type Elapsed struct {
	counter   Counter
	limits    Limits
	interval  time.Duration
	newTicker func(time.Duration) Ticker
	logger    *zap.Logger

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool
}

type Option func(*Elapsed)

func WithTicker(newTicker func(time.Duration) Ticker) Option {
	return func(e *Elapsed) {
		if newTicker != nil {
			e.newTicker = newTicker
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(e *Elapsed) {
		if d > 0 {
			e.interval = d
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(e *Elapsed) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func New(counter Counter, limits Limits, opts ...Option) *Elapsed {
	e := &Elapsed{
		counter:   counter,
		limits:    limits,
		interval:  time.Second,
		newTicker: newRealTicker,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Elapsed) Limits() Limits {
	return e.limits
}

// Start begins ticking. It is a no-op when already running, when the
// interview is not active or when the limit is reached. A goroutine left over
// from a previous Stop finishes before the new one starts ticking.
func (e *Elapsed) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running || !e.counter.Active() || e.limits.IsTimeUp(e.counter.Elapsed()) {
		return
	}

	prev := e.done
	e.running = true
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	go e.loop(prev, e.stop, e.done)
	e.logger.Debug("timer started", zap.Int("elapsed", e.counter.Elapsed()))
}

// Stop halts ticking without waiting for the goroutine to exit, so it is safe
// to call from a counter subscriber. Safe to call repeatedly.
func (e *Elapsed) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}
	e.running = false
	close(e.stop)
	e.stop = nil
	e.logger.Debug("timer stopped", zap.Int("elapsed", e.counter.Elapsed()))
}

// Wait blocks until the most recent ticking goroutine has exited.
func (e *Elapsed) Wait() {
	e.mu.Lock()
	done := e.done
	e.mu.Unlock()

	if done != nil {
		<-done
	}
}

func (e *Elapsed) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Elapsed) loop(prev <-chan struct{}, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	if prev != nil {
		select {
		case <-prev:
		case <-stop:
			return
		}
	}

	ticker := e.newTicker(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
		}

		select {
		case <-stop:
			return
		default:
		}

		elapsed, moved := e.counter.IncrementElapsed(e.limits.Max)
		if !moved || e.limits.IsTimeUp(elapsed) {
			e.halt(stop)
			return
		}
	}
}

// halt marks the timer idle when the loop ends on its own.
func (e *Elapsed) halt(stop <-chan struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running && e.stop != nil && (<-chan struct{})(e.stop) == stop {
		e.running = false
		e.stop = nil
	}
}
