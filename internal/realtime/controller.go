package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spigell/mock-interviewer/internal/interview"
	"github.com/spigell/mock-interviewer/internal/media"
	"github.com/spigell/mock-interviewer/internal/session"
	"go.uber.org/zap"
)

const (
	DefaultEndDelay        = 2 * time.Second
	DefaultExchangeTimeout = 20 * time.Second

	eventQueueSize = 256
)

var (
	ErrChannelClosed = errors.New("realtime: event channel is not open")
	ErrEmptyText     = errors.New("realtime: text is empty")
	errSuperseded    = errors.New("realtime: connection attempt superseded")
)

type stopper interface {
	Stop() bool
}

func afterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// Controller drives a voice interview over a realtime peer connection.
// It owns at most one peer, event channel and audio sink at a time.
type Controller struct {
	sess      *session.Context
	owner     session.Owner
	peers     PeerFactory
	exchanger SDPExchanger
	recorder  EventRecorder
	logger    *zap.Logger

	endDelay        time.Duration
	exchangeTimeout time.Duration
	openingTurn     bool
	after           func(time.Duration, func()) stopper

	mu         sync.Mutex
	status     interview.Status
	lastErr    error
	connecting bool
	gen        uint64
	open       bool
	res        resources
	endTimer   stopper
}

// resources are the handles acquired by one connection attempt.
type resources struct {
	peer    Peer
	channel EventChannel
	sink    *AudioSink
	source  media.AudioSource
	quit    chan struct{}
}

func (r resources) release(logger *zap.Logger) {
	if r.quit != nil {
		close(r.quit)
	}
	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			logger.Debug("close event channel", zap.Error(err))
		}
	}
	if r.source != nil {
		r.source.Stop()
	}
	if r.peer != nil {
		if err := r.peer.Close(); err != nil {
			logger.Debug("close peer connection", zap.Error(err))
		}
	}
	if r.sink != nil {
		r.sink.Close()
	}
}

type Option func(*Controller)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithRecorder(recorder EventRecorder) Option {
	return func(c *Controller) {
		if recorder != nil {
			c.recorder = recorder
		}
	}
}

// WithEndDelay sets the grace period between the end token and teardown.
func WithEndDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.endDelay = d
		}
	}
}

// WithExchangeTimeout bounds the offer/answer exchange. Zero disables the bound.
func WithExchangeTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.exchangeTimeout = d
		}
	}
}

// WithOpeningTurn makes the controller ask for the greeting once the
// realtime session is created, instead of relying on the session instructions.
func WithOpeningTurn(enabled bool) Option {
	return func(c *Controller) {
		c.openingTurn = enabled
	}
}

// NewController claims the session for voice mode. A controller that claims
// the session later disconnects this one.
func NewController(sess *session.Context, peers PeerFactory, exchanger SDPExchanger, opts ...Option) *Controller {
	c := &Controller{
		sess:            sess,
		peers:           peers,
		exchanger:       exchanger,
		recorder:        nopRecorder{},
		logger:          zap.NewNop(),
		endDelay:        DefaultEndDelay,
		exchangeTimeout: DefaultExchangeTimeout,
		after:           afterFunc,
		status:          interview.StatusIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.owner = sess.Claim("voice", c.Disconnect)
	return c
}

func (c *Controller) Status() interview.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Err returns the failure that moved the controller to StatusError.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Connect establishes a session with credential, sending audio from source.
// It returns nil without doing anything while another attempt is in flight.
// On failure every acquired resource is released and the status is StatusError.
func (c *Controller) Connect(ctx context.Context, credential string, source media.AudioSource) error {
	c.mu.Lock()
	if c.connecting {
		c.mu.Unlock()
		c.logger.Debug("connect ignored, attempt already in flight")
		return nil
	}
	c.connecting = true
	c.gen++
	gen := c.gen
	previous := c.detachLocked()
	c.status = interview.StatusConnecting
	c.lastErr = nil
	c.mu.Unlock()

	previous.release(c.logger)

	err := c.establish(ctx, gen, credential, source)

	c.mu.Lock()
	if gen != c.gen {
		// Disconnect ran meanwhile and released what was adopted. The source
		// may not have been adopted yet.
		c.mu.Unlock()
		if source != nil {
			source.Stop()
		}
		if err == nil {
			err = errSuperseded
		}
		return err
	}
	c.connecting = false
	if err == nil {
		c.mu.Unlock()
		c.logger.Info("realtime session negotiated")
		return nil
	}
	failed := c.detachLocked()
	c.status = interview.StatusError
	c.lastErr = err
	c.mu.Unlock()

	failed.release(c.logger)
	if failed.sink != nil {
		_ = c.sess.SetAudioSink(c.owner, nil)
	}
	if failed.source == nil && source != nil {
		source.Stop()
	}
	c.logger.Error("realtime connect failed", zap.Error(err))
	return err
}

func (c *Controller) establish(ctx context.Context, gen uint64, credential string, source media.AudioSource) error {
	if credential == "" {
		return errors.New("realtime credential is empty")
	}
	if source == nil {
		return errors.New("audio source is required")
	}

	// (a) peer connection
	peer, err := c.peers.NewPeer()
	if err != nil {
		return fmt.Errorf("create peer connection: %w", err)
	}
	if !c.adopt(gen, func(r *resources) { r.peer = peer }) {
		_ = peer.Close()
		return errSuperseded
	}

	// (b) output sink for remote audio
	sink := NewAudioSink(c.logger)
	if !c.adopt(gen, func(r *resources) { r.sink = sink }) {
		sink.Close()
		return errSuperseded
	}
	_ = c.sess.SetAudioSink(c.owner, sink)
	peer.OnRemoteAudio(func(remote RemoteAudio) {
		if c.current(gen) {
			sink.Attach(remote)
		}
	})

	// (c) local audio
	if err := peer.AddAudioSource(source); err != nil {
		return fmt.Errorf("add local audio: %w", err)
	}
	if !c.adopt(gen, func(r *resources) { r.source = source }) {
		return errSuperseded
	}

	// (d) event channel
	channel, err := peer.CreateEventChannel(EventChannelLabel)
	if err != nil {
		return fmt.Errorf("create event channel: %w", err)
	}
	queue := make(chan []byte, eventQueueSize)
	quit := make(chan struct{})
	if !c.adopt(gen, func(r *resources) { r.channel, r.quit = channel, quit }) {
		_ = channel.Close()
		return errSuperseded
	}
	c.wireChannel(gen, channel, queue, quit)
	go c.dispatch(gen, queue, quit)

	// (e) offer/answer
	offer, err := peer.CreateOffer(ctx)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}

	exchangeCtx := ctx
	if c.exchangeTimeout > 0 {
		var cancel context.CancelFunc
		exchangeCtx, cancel = context.WithTimeout(ctx, c.exchangeTimeout)
		defer cancel()
	}
	answer, err := c.exchanger.Exchange(exchangeCtx, offer, credential)
	if err != nil {
		return fmt.Errorf("exchange session description: %w", err)
	}
	if !c.current(gen) {
		return errSuperseded
	}
	if err := peer.SetAnswer(answer); err != nil {
		return fmt.Errorf("apply answer: %w", err)
	}
	return nil
}

// adopt records a resource for attempt gen. It reports false when the attempt
// is no longer current, in which case the caller owns the resource.
func (c *Controller) adopt(gen uint64, set func(*resources)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	set(&c.res)
	return true
}

func (c *Controller) current(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

func (c *Controller) wireChannel(gen uint64, channel EventChannel, queue chan<- []byte, quit <-chan struct{}) {
	channel.OnOpen(func() {
		c.mu.Lock()
		if gen != c.gen {
			c.mu.Unlock()
			return
		}
		c.open = true
		c.status = interview.StatusConnected
		c.mu.Unlock()

		c.logger.Info("realtime event channel open")
		_ = c.sess.SetInterviewActive(c.owner, true)
	})

	channel.OnClose(func() {
		c.mu.Lock()
		if gen != c.gen || !c.open {
			c.mu.Unlock()
			return
		}
		c.open = false
		c.status = interview.StatusDisconnected
		c.mu.Unlock()

		c.logger.Info("realtime event channel closed by peer")
		_ = c.sess.SetInterviewActive(c.owner, false)
	})

	channel.OnMessage(func(data []byte) {
		select {
		case queue <- data:
		case <-quit:
		}
	})
}

// dispatch handles events of one connection in arrival order.
func (c *Controller) dispatch(gen uint64, queue <-chan []byte, quit <-chan struct{}) {
	seen := make(map[string]struct{})
	for {
		select {
		case <-quit:
			return
		case data := <-queue:
			if !c.current(gen) {
				return
			}
			c.handle(gen, data, seen)
		}
	}
}

// Disconnect releases every resource and clears the interview-active flag.
// It is safe to call repeatedly and from any state.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.connecting = false
	c.open = false
	res := c.detachLocked()
	wasActive := c.status != interview.StatusIdle
	c.status = interview.StatusDisconnected
	c.mu.Unlock()

	res.release(c.logger)
	if res.sink != nil {
		_ = c.sess.SetAudioSink(c.owner, nil)
	}
	_ = c.sess.SetInterviewActive(c.owner, false)
	if wasActive {
		c.logger.Debug("realtime session disconnected")
	}
}

// detachLocked hands the current resources to the caller and cancels the
// pending end timer. It must be called with c.mu held.
func (c *Controller) detachLocked() resources {
	res := c.res
	c.res = resources{}
	c.open = false
	if c.endTimer != nil {
		c.endTimer.Stop()
		c.endTimer = nil
	}
	return res
}

// SendTextEvent injects text as a user message and requests a response.
// The end token is removed first so it cannot be forged. Nothing is added to
// the transcript.
func (c *Controller) SendTextEvent(text string) error {
	channel, err := c.openChannel()
	if err != nil {
		return err
	}
	return c.sendUserText(channel, interview.StripEndToken(text))
}

// SendCandidateText records a typed answer in the transcript and sends it
// to the model. The realtime API transcribes only spoken input, so typed
// answers would otherwise be missing from the record.
func (c *Controller) SendCandidateText(text string) error {
	text = interview.StripEndToken(text)
	if text == "" {
		return ErrEmptyText
	}
	channel, err := c.openChannel()
	if err != nil {
		return err
	}
	if _, err := c.sess.Append(c.owner, interview.SpeakerCandidate, text); err != nil {
		return err
	}
	return c.sendUserText(channel, text)
}

func (c *Controller) openChannel() (EventChannel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.res.channel == nil || !c.open {
		return nil, ErrChannelClosed
	}
	return c.res.channel, nil
}

func (c *Controller) sendUserText(channel EventChannel, text string) error {
	events, err := userTextEvents(text)
	if err != nil {
		return fmt.Errorf("encode text event: %w", err)
	}
	for i, event := range events {
		if err := channel.SendText(event); err != nil {
			return fmt.Errorf("send realtime event: %w", err)
		}
		eventType := EventConversationItemCreate
		if i > 0 {
			eventType = EventResponseCreate
		}
		c.recorder.RecordRealtimeEvent("outbound", eventType, nil)
	}
	return nil
}

func (c *Controller) scheduleEnd(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.endTimer != nil {
		return
	}
	c.logger.Info("interview end token received", zap.Duration("delay", c.endDelay))
	c.endTimer = c.after(c.endDelay, func() {
		if c.current(gen) {
			c.Disconnect()
		}
	})
}
