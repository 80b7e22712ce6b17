package session

import (
	"errors"
	"sync"
	"time"

	"github.com/spigell/mock-interviewer/internal/interview"
	"github.com/spigell/mock-interviewer/internal/storage"
	"go.uber.org/zap"
)

// ErrNotOwner is returned when a controller that no longer owns the session writes to it.
var ErrNotOwner = errors.New("session: writer does not own the session")

// Owner identifies the controller currently allowed to drive the interview.
type Owner struct {
	name string
	id   uint64
}

func (o Owner) Name() string {
	return o.name
}

// Context is the shared state of one interview session. It is passed by
// reference to every component that reads or drives the interview.
type Context struct {
	store  storage.Store
	logger *zap.Logger
	now    func() time.Time

	mu       sync.RWMutex
	state    State
	owner    Owner
	onRevoke func()
	nextID   uint64

	subs subscribers
}

type Option func(*Context)

func WithLogger(logger *zap.Logger) Option {
	return func(c *Context) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock overrides the clock used for transcript timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Context) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a session context persisted to store. A nil store keeps the
// session in memory only.
func New(store storage.Store, opts ...Option) *Context {
	if store == nil {
		store = storage.NewMemory()
	}

	c := &Context{
		store:  store,
		logger: zap.NewNop(),
		now:    time.Now,
		state:  initialState(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.subs.logger = c.logger
	return c
}

func (c *Context) Now() time.Time {
	return c.now()
}

// Snapshot returns a copy of the current state.
func (c *Context) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.clone()
}

// Claim makes name the only writer of the interview-scoped state. The previous
// owner, if any, is told through its onRevoke callback.
func (c *Context) Claim(name string, onRevoke func()) Owner {
	c.mu.Lock()
	c.nextID++
	owner := Owner{name: name, id: c.nextID}
	previous, revoke := c.owner, c.onRevoke
	c.owner, c.onRevoke = owner, onRevoke
	c.mu.Unlock()

	if previous.id != 0 {
		c.logger.Debug("session ownership moved",
			zap.String("from", previous.name),
			zap.String("to", name),
		)
		if revoke != nil {
			revoke()
		}
	}
	return owner
}

// Release drops ownership if owner still holds it.
func (c *Context) Release(owner Owner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.owner.id == owner.id {
		c.owner, c.onRevoke = Owner{}, nil
	}
}

// IsOwner reports whether owner is the current writer.
func (c *Context) IsOwner(owner Owner) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return owner.id != 0 && c.owner.id == owner.id
}

// checkOwner must be called with c.mu held.
func (c *Context) checkOwner(owner Owner, op string) error {
	if owner.id != 0 && owner.id == c.owner.id {
		return nil
	}
	c.logger.Debug("rejected write from stale owner",
		zap.String("op", op),
		zap.String("owner", owner.name),
		zap.String("current", c.owner.name),
	)
	return ErrNotOwner
}

// Append adds an utterance to the transcript.
func (c *Context) Append(owner Owner, speaker interview.Speaker, text string) (interview.Entry, error) {
	c.mu.Lock()
	if err := c.checkOwner(owner, "append"); err != nil {
		c.mu.Unlock()
		return interview.Entry{}, err
	}
	entry := interview.NewEntry(speaker, text, c.now())
	c.state.Transcript = append(c.state.Transcript, entry)
	c.persist(storage.KeyTranscript)
	c.mu.Unlock()

	c.subs.notify(c.Snapshot)
	return entry, nil
}

func (c *Context) SetAvatarState(owner Owner, avatar interview.AvatarState) error {
	c.mu.Lock()
	if err := c.checkOwner(owner, "avatar"); err != nil {
		c.mu.Unlock()
		return err
	}
	c.state.Avatar = avatar
	c.mu.Unlock()

	c.subs.notify(c.Snapshot)
	return nil
}

func (c *Context) SetInterviewActive(owner Owner, active bool) error {
	c.mu.Lock()
	if err := c.checkOwner(owner, "active"); err != nil {
		c.mu.Unlock()
		return err
	}
	c.state.InterviewActive = active
	c.mu.Unlock()

	c.subs.notify(c.Snapshot)
	return nil
}

// SetAudioSink publishes the handle of the sink playing remote audio. Pass nil to detach.
func (c *Context) SetAudioSink(owner Owner, tap AudioTap) error {
	c.mu.Lock()
	if err := c.checkOwner(owner, "audio"); err != nil {
		c.mu.Unlock()
		return err
	}
	c.state.Audio = tap
	c.mu.Unlock()

	c.subs.notify(c.Snapshot)
	return nil
}

// IncrementElapsed adds one second while the interview is active and the
// counter is below limit. It reports whether the counter moved.
func (c *Context) IncrementElapsed(limit int) (int, bool) {
	c.mu.Lock()
	if !c.state.InterviewActive || (limit > 0 && c.state.ElapsedSeconds >= limit) {
		elapsed := c.state.ElapsedSeconds
		c.mu.Unlock()
		return elapsed, false
	}
	c.state.ElapsedSeconds++
	elapsed := c.state.ElapsedSeconds
	c.mu.Unlock()

	c.subs.notify(c.Snapshot)
	return elapsed, true
}

func (c *Context) Elapsed() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.ElapsedSeconds
}

func (c *Context) Active() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.InterviewActive
}

func (c *Context) Transcript() []interview.Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]interview.Entry(nil), c.state.Transcript...)
}

func (c *Context) Setup() *interview.Setup {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Setup
}

// ClearInterview prepares the context for a new interview attempt. The
// analysis results are kept.
func (c *Context) ClearInterview() {
	c.mu.Lock()
	c.state.Transcript = nil
	c.state.ElapsedSeconds = 0
	c.state.InterviewActive = false
	c.state.Avatar = interview.AvatarIdle
	c.state.ChatMetrics = nil
	c.persist(storage.KeyTranscript, storage.KeyChatMetrics)
	c.mu.Unlock()

	c.subs.notify(c.Snapshot)
}

// Reset drops every session-scoped value, in memory and in storage.
func (c *Context) Reset() {
	c.mu.Lock()
	c.state = initialState()
	for _, key := range storage.SessionKeys {
		if err := c.store.Delete(key); err != nil {
			c.logger.Debug("failed to clear session key", zap.String("key", key), zap.Error(err))
		}
	}
	c.mu.Unlock()

	c.subs.notify(c.Snapshot)
}
