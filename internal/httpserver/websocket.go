package httpserver

import (
	"math"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/spigell/mock-interviewer/internal/interview"
	"github.com/spigell/mock-interviewer/internal/session"
	"go.uber.org/zap"
)

const (
	eventBuffer  = 64
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// Event is one message of the /ws/session stream.
type Event struct {
	Type     string                `json:"type"`
	Avatar   interview.AvatarState `json:"avatarState,omitempty"`
	Entry    *interview.Entry      `json:"entry,omitempty"`
	Elapsed  *int                  `json:"elapsedSeconds,omitempty"`
	Active   *bool                 `json:"isInterviewActive,omitempty"`
	Level    *float64              `json:"level,omitempty"`
	Snapshot *stateResponse        `json:"state,omitempty"`
}

const (
	EventSnapshot   = "snapshot"
	EventAvatar     = "avatar"
	EventTranscript = "transcript"
	EventElapsed    = "elapsed"
	EventActive     = "active"
	EventAudioLevel = "audio_level"
)

// sessionEvents streams avatar state, transcript appends, the clock and the
// audio level to the avatar projector. Slow clients lose events rather than
// stalling the session.
func (s *Server) sessionEvents(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", zap.Error(err))
		return nil
	}
	defer conn.Close()

	sess := s.deps.Session
	events := make(chan Event, eventBuffer)
	push := func(ev Event) {
		select {
		case events <- ev:
		default:
			s.logger.Debug("session event dropped", zap.String("type", ev.Type))
		}
	}

	snapshot := sess.Snapshot()
	state := newStateResponse(snapshot)
	events <- Event{Type: EventSnapshot, Snapshot: &state}

	for _, off := range s.watch(sess, snapshot, push) {
		defer off()
	}

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	audio := time.NewTicker(s.audioInterval)
	defer audio.Stop()
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	lastLevel := -1.0
	for {
		select {
		case <-closed:
			return nil
		case <-c.Request().Context().Done():
			return nil
		case ev := <-events:
			if err := s.write(conn, ev); err != nil {
				return nil
			}
		case <-audio.C:
			tap := sess.Snapshot().Audio
			if tap == nil {
				continue
			}
			level := math.Round(tap.Level()*100) / 100
			if level == lastLevel {
				continue
			}
			lastLevel = level
			if err := s.write(conn, Event{Type: EventAudioLevel, Level: &level}); err != nil {
				return nil
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return nil
			}
		}
	}
}

// watch subscribes to the session values the avatar reacts to.
func (s *Server) watch(sess *session.Context, initial session.State, push func(Event)) []func() {
	sent := len(initial.Transcript)
	return []func(){
		session.Subscribe(sess, func(st session.State) interview.AvatarState { return st.Avatar }, func(avatar interview.AvatarState) {
			push(Event{Type: EventAvatar, Avatar: avatar})
		}),
		session.Subscribe(sess, func(st session.State) int { return st.ElapsedSeconds }, func(elapsed int) {
			push(Event{Type: EventElapsed, Elapsed: &elapsed})
		}),
		session.Subscribe(sess, func(st session.State) bool { return st.InterviewActive }, func(active bool) {
			push(Event{Type: EventActive, Active: &active})
		}),
		session.Subscribe(sess, func(st session.State) int { return len(st.Transcript) }, func(n int) {
			if n < sent {
				sent = 0
			}
			transcript := sess.Transcript()
			for i := sent; i < n && i < len(transcript); i++ {
				entry := transcript[i]
				push(Event{Type: EventTranscript, Entry: &entry})
			}
			sent = n
		}),
	}
}

func (s *Server) write(conn *websocket.Conn, ev Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if err := conn.WriteJSON(ev); err != nil {
		s.logger.Debug("websocket write failed", zap.Error(err))
		return err
	}
	return nil
}
