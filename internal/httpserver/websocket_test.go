package httpserver

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spigell/mock-interviewer/internal/interview"
	"github.com/spigell/mock-interviewer/internal/session"
	"github.com/stretchr/testify/require"
)

type fixedLevel float64

func (l fixedLevel) Level() float64 { return float64(l) }

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestSessionEventStream(t *testing.T) {
	t.Parallel()

	sess := session.New(nil)
	owner := sess.Claim("voice", nil)
	_, err := sess.Append(owner, interview.SpeakerInterviewer, "안녕하세요.")
	require.NoError(t, err)

	s := newTestServer(t, Deps{Session: sess})
	s.audioInterval = 5 * time.Millisecond
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/session"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The snapshot is written after the subscriptions are in place.
	ev := readEvent(t, conn)
	require.Equal(t, EventSnapshot, ev.Type)
	require.Len(t, ev.Snapshot.Transcript, 1)

	require.NoError(t, sess.SetInterviewActive(owner, true))
	ev = readEvent(t, conn)
	require.Equal(t, EventActive, ev.Type)
	require.True(t, *ev.Active)

	_, err = sess.Append(owner, interview.SpeakerCandidate, "반갑습니다.")
	require.NoError(t, err)
	ev = readEvent(t, conn)
	require.Equal(t, EventTranscript, ev.Type)
	require.Equal(t, "반갑습니다.", ev.Entry.Text)
	require.Equal(t, interview.SpeakerCandidate, ev.Entry.Speaker)

	require.NoError(t, sess.SetAvatarState(owner, interview.AvatarSpeaking))
	ev = readEvent(t, conn)
	require.Equal(t, EventAvatar, ev.Type)
	require.Equal(t, interview.AvatarSpeaking, ev.Avatar)

	_, changed := sess.IncrementElapsed(60)
	require.True(t, changed)
	ev = readEvent(t, conn)
	require.Equal(t, EventElapsed, ev.Type)
	require.Equal(t, 1, *ev.Elapsed)

	require.NoError(t, sess.SetAudioSink(owner, fixedLevel(0.504)))
	ev = readEvent(t, conn)
	require.Equal(t, EventAudioLevel, ev.Type)
	require.InDelta(t, 0.5, *ev.Level, 1e-9)
}
