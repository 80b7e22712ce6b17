package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/spigell/mock-interviewer/internal/interview"
	"github.com/spigell/mock-interviewer/internal/media"
	"github.com/spigell/mock-interviewer/internal/session"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	mu      sync.Mutex
	onOpen  func()
	onClose func()
	onMsg   func([]byte)
	sent    []string
	closed  int
}

func (f *fakeChannel) OnOpen(fn func())          { f.mu.Lock(); f.onOpen = fn; f.mu.Unlock() }
func (f *fakeChannel) OnClose(fn func())         { f.mu.Lock(); f.onClose = fn; f.mu.Unlock() }
func (f *fakeChannel) OnMessage(fn func([]byte)) { f.mu.Lock(); f.onMsg = fn; f.mu.Unlock() }

func (f *fakeChannel) SendText(text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	f.closed++
	onClose := f.onClose
	f.mu.Unlock()
	if onClose != nil {
		onClose()
	}
	return nil
}

func (f *fakeChannel) open() {
	f.mu.Lock()
	fn := f.onOpen
	f.mu.Unlock()
	fn()
}

func (f *fakeChannel) emit(t *testing.T, event map[string]any) {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	f.emitRaw(data)
}

func (f *fakeChannel) emitRaw(data []byte) {
	f.mu.Lock()
	fn := f.onMsg
	f.mu.Unlock()
	fn(data)
}

func (f *fakeChannel) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func (f *fakeChannel) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakePeer struct {
	mu       sync.Mutex
	channel  *fakeChannel
	source   media.AudioSource
	closed   int
	offerErr error
	answer   string
	addErr   error
	onAdd    func()
	onRemote func(RemoteAudio)
}

func (p *fakePeer) OnRemoteAudio(fn func(RemoteAudio)) { p.onRemote = fn }

func (p *fakePeer) AddAudioSource(source media.AudioSource) error {
	if p.addErr != nil {
		return p.addErr
	}
	p.source = source
	if p.onAdd != nil {
		p.onAdd()
	}
	return nil
}

func (p *fakePeer) CreateEventChannel(string) (EventChannel, error) {
	p.channel = &fakeChannel{}
	return p.channel, nil
}

func (p *fakePeer) CreateOffer(context.Context) (string, error) {
	if p.offerErr != nil {
		return "", p.offerErr
	}
	return "v=0 offer", nil
}

func (p *fakePeer) SetAnswer(sdp string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.answer = sdp
	return nil
}

func (p *fakePeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *fakePeer) closeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type fakeFactory struct {
	mu    sync.Mutex
	peers []*fakePeer
	next  func() *fakePeer
}

func (f *fakeFactory) NewPeer() (Peer, error) {
	p := &fakePeer{}
	if f.next != nil {
		p = f.next()
	}
	f.mu.Lock()
	f.peers = append(f.peers, p)
	f.mu.Unlock()
	return p, nil
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.peers)
}

func (f *fakeFactory) last() *fakePeer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.peers[len(f.peers)-1]
}

type fakeExchanger struct {
	answer  string
	err     error
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeExchanger) Exchange(ctx context.Context, offer, credential string) (string, error) {
	if f.entered != nil {
		close(f.entered)
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

type fakeTimer struct {
	mu      sync.Mutex
	fns     []func()
	delays  []time.Duration
	stopped int
}

func (f *fakeTimer) after(d time.Duration, fn func()) stopper {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fns = append(f.fns, fn)
	f.delays = append(f.delays, d)
	return f
}

func (f *fakeTimer) Stop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return true
}

func (f *fakeTimer) scheduled() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fns)
}

func (f *fakeTimer) fire() {
	f.mu.Lock()
	fn := f.fns[len(f.fns)-1]
	f.mu.Unlock()
	fn()
}

type fixture struct {
	sess  *session.Context
	ctrl  *Controller
	peers *fakeFactory
	exch  *fakeExchanger
	timer *fakeTimer
	mic   *media.LiveMicrophone
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		sess:  session.New(nil),
		peers: &fakeFactory{},
		exch:  &fakeExchanger{answer: "v=0 answer"},
		timer: &fakeTimer{},
		mic:   media.NewLiveMicrophone("mic", 4),
	}
	f.ctrl = NewController(f.sess, f.peers, f.exch, opts...)
	f.ctrl.after = f.timer.after
	return f
}

func (f *fixture) connect(t *testing.T) *fakeChannel {
	t.Helper()
	require.NoError(t, f.ctrl.Connect(context.Background(), "ek_test", f.mic))
	peer := f.peers.last()
	peer.channel.open()
	require.Equal(t, interview.StatusConnected, f.ctrl.Status())
	return peer.channel
}

func waitTranscript(t *testing.T, sess *session.Context, n int) []interview.Entry {
	t.Helper()
	require.Eventually(t, func() bool { return len(sess.Transcript()) >= n }, time.Second, 5*time.Millisecond)
	return sess.Transcript()
}

func TestConnectEstablishesSession(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.ctrl.Connect(context.Background(), "ek_test", f.mic))
	require.Equal(t, interview.StatusConnecting, f.ctrl.Status(), "status waits for the event channel")

	peer := f.peers.last()
	require.Equal(t, "v=0 answer", peer.answer)
	require.Same(t, f.mic, peer.source)
	require.NotNil(t, f.sess.Snapshot().Audio, "audio sink must be published")

	peer.channel.open()
	require.Equal(t, interview.StatusConnected, f.ctrl.Status())
	require.True(t, f.sess.Active())
}

func TestTranscriptKeepsArrivalOrder(t *testing.T) {
	f := newFixture(t)
	ch := f.connect(t)

	var want []string
	for i := 0; i < 20; i++ {
		text := fmt.Sprintf("utterance %d", i)
		want = append(want, text)
		eventType := EventAssistantTranscriptDone
		if i%2 == 1 {
			eventType = EventInputTranscriptionDone
		}
		ch.emit(t, map[string]any{"type": eventType, "event_id": fmt.Sprintf("evt_%d", i), "transcript": text})
		if i%5 == 0 {
			f.sess.IncrementElapsed(0)
		}
	}

	entries := waitTranscript(t, f.sess, len(want))
	require.Len(t, entries, len(want))
	for i, entry := range entries {
		require.Equal(t, want[i], entry.Text)
		if i%2 == 0 {
			require.Equal(t, interview.SpeakerInterviewer, entry.Speaker)
		} else {
			require.Equal(t, interview.SpeakerCandidate, entry.Speaker)
		}
	}
}

func TestEndTokenSchedulesSingleDisconnect(t *testing.T) {
	f := newFixture(t)
	ch := f.connect(t)

	ch.emit(t, map[string]any{"type": EventAssistantTranscriptDone, "event_id": "a", "transcript": "좋은 답변이었습니다. [INTERVIEW_END]"})
	ch.emit(t, map[string]any{"type": EventAssistantTranscriptDone, "event_id": "b", "transcript": "[INTERVIEW_END]"})
	ch.emit(t, map[string]any{"type": EventAssistantTranscriptDone, "event_id": "c", "transcript": "감사합니다"})

	entries := waitTranscript(t, f.sess, 2)
	require.Equal(t, "좋은 답변이었습니다.", entries[0].Text)
	require.Equal(t, "감사합니다", entries[1].Text)

	require.Equal(t, 1, f.timer.scheduled())
	require.Equal(t, DefaultEndDelay, f.timer.delays[0])
	require.True(t, f.sess.Active(), "teardown waits for the grace delay")

	f.timer.fire()

	require.Equal(t, interview.StatusDisconnected, f.ctrl.Status())
	require.False(t, f.sess.Active())
	require.Equal(t, 1, f.peers.last().closeCount())
	require.Nil(t, f.sess.Snapshot().Audio)
}

func TestDuplicateTranscriptEventIsAppliedOnce(t *testing.T) {
	f := newFixture(t)
	ch := f.connect(t)

	event := map[string]any{"type": EventInputTranscriptionDone, "event_id": "dup", "transcript": "네"}
	ch.emit(t, event)
	ch.emit(t, event)
	ch.emit(t, map[string]any{"type": EventInputTranscriptionDone, "event_id": "next", "transcript": "다음"})

	entries := waitTranscript(t, f.sess, 2)
	require.Len(t, entries, 2)
	require.Equal(t, "다음", entries[1].Text)
}

func TestAvatarFollowsAudioEvents(t *testing.T) {
	f := newFixture(t)
	ch := f.connect(t)

	avatar := func() interview.AvatarState { return f.sess.Snapshot().Avatar }

	ch.emit(t, map[string]any{"type": EventAudioDelta, "delta": "AAAA"})
	require.Eventually(t, func() bool { return avatar() == interview.AvatarSpeaking }, time.Second, time.Millisecond)

	ch.emit(t, map[string]any{"type": EventAudioDone})
	require.Eventually(t, func() bool { return avatar() == interview.AvatarListening }, time.Second, time.Millisecond)

	ch.emit(t, map[string]any{"type": EventOutputBufferStarted})
	require.Eventually(t, func() bool { return avatar() == interview.AvatarSpeaking }, time.Second, time.Millisecond)

	ch.emit(t, map[string]any{"type": EventSpeechStarted})
	require.Eventually(t, func() bool { return avatar() == interview.AvatarListening }, time.Second, time.Millisecond)
}

func TestMalformedEventsAreDropped(t *testing.T) {
	f := newFixture(t)
	ch := f.connect(t)

	ch.emitRaw([]byte("{not json"))
	ch.emitRaw([]byte(`{"no":"type"}`))
	ch.emit(t, map[string]any{"type": EventError, "error": map[string]any{"code": "bad", "message": "oops"}})
	ch.emit(t, map[string]any{"type": "rate_limits.updated"})
	ch.emit(t, map[string]any{"type": EventInputTranscriptionDone, "transcript": "still alive"})

	entries := waitTranscript(t, f.sess, 1)
	require.Equal(t, "still alive", entries[0].Text)
	require.Equal(t, interview.StatusConnected, f.ctrl.Status())
}

func TestConnectFailureReleasesEverything(t *testing.T) {
	f := newFixture(t)
	f.exch.err = errors.New("502 bad gateway")

	err := f.ctrl.Connect(context.Background(), "ek_test", f.mic)
	require.Error(t, err)
	require.Equal(t, interview.StatusError, f.ctrl.Status())
	require.ErrorIs(t, f.ctrl.Err(), f.exch.err)

	peer := f.peers.last()
	require.Equal(t, 1, peer.closeCount())
	require.Equal(t, 1, peer.channel.closeCount())
	require.False(t, f.mic.Push([]byte{1}), "local track must be stopped")
	require.Nil(t, f.sess.Snapshot().Audio)
	require.False(t, f.sess.Active())

	require.ErrorIs(t, f.ctrl.SendTextEvent("hello"), ErrChannelClosed)
}

func TestAddTrackFailureStopsSource(t *testing.T) {
	f := newFixture(t)
	f.peers.next = func() *fakePeer { return &fakePeer{addErr: errors.New("no codec")} }

	require.Error(t, f.ctrl.Connect(context.Background(), "ek_test", f.mic))
	require.Equal(t, interview.StatusError, f.ctrl.Status())
	require.Equal(t, 1, f.peers.last().closeCount())
	require.False(t, f.mic.Push([]byte{1}))
}

func TestConnectIgnoresReentrantCall(t *testing.T) {
	f := newFixture(t)
	f.exch.block = make(chan struct{})
	f.exch.entered = make(chan struct{})

	done := make(chan error, 1)
	go func() { done <- f.ctrl.Connect(context.Background(), "ek_test", f.mic) }()
	<-f.exch.entered

	require.NoError(t, f.ctrl.Connect(context.Background(), "ek_test", f.mic))
	require.Equal(t, 1, f.peers.count())

	close(f.exch.block)
	require.NoError(t, <-done)
	require.Equal(t, 1, f.peers.count())
}

func TestExchangeTimeoutMovesToError(t *testing.T) {
	f := newFixture(t, WithExchangeTimeout(10*time.Millisecond))
	f.exch.block = make(chan struct{})

	err := f.ctrl.Connect(context.Background(), "ek_test", f.mic)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, interview.StatusError, f.ctrl.Status())
	require.Equal(t, 1, f.peers.last().closeCount())
}

func TestReconnectTearsDownPreviousConnection(t *testing.T) {
	f := newFixture(t)
	f.connect(t)
	first := f.peers.last()

	require.NoError(t, f.ctrl.Connect(context.Background(), "ek_again", media.NewSilentSource()))
	require.Equal(t, 1, first.closeCount())
	require.Equal(t, 1, first.channel.closeCount())
	require.Equal(t, 2, f.peers.count())

	// events from the old channel are ignored
	first.channel.open()
	require.Equal(t, interview.StatusConnecting, f.ctrl.Status())
}

func TestDisconnectIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ch := f.connect(t)

	ch.emit(t, map[string]any{"type": EventInputTranscriptionDone, "transcript": "마지막 답변"})
	before := waitTranscript(t, f.sess, 1)

	f.ctrl.Disconnect()
	f.ctrl.Disconnect()

	require.Equal(t, interview.StatusDisconnected, f.ctrl.Status())
	require.False(t, f.sess.Active())
	require.Equal(t, before, f.sess.Transcript())
	require.Equal(t, 1, f.peers.last().closeCount())

	fresh := newFixture(t)
	fresh.ctrl.Disconnect()
	require.Equal(t, interview.StatusDisconnected, fresh.ctrl.Status())
}

func TestSendTextEventStripsEndToken(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.ctrl.SendTextEvent("hi"), ErrChannelClosed)

	ch := f.connect(t)
	require.NoError(t, f.ctrl.SendTextEvent("끝내주세요 [INTERVIEW_END]"))

	sent := ch.sentTexts()
	require.Len(t, sent, 2)

	var item itemCreateEvent
	require.NoError(t, json.Unmarshal([]byte(sent[0]), &item))
	require.Equal(t, EventConversationItemCreate, item.Type)
	require.Equal(t, "user", item.Item.Role)
	require.Equal(t, "끝내주세요", item.Item.Content[0].Text)
	require.JSONEq(t, `{"type":"response.create"}`, sent[1])
}

func TestSessionCreatedRequestsOpeningTurn(t *testing.T) {
	f := newFixture(t, WithOpeningTurn(true))
	ch := f.connect(t)

	ch.emit(t, map[string]any{"type": EventSessionCreated})
	require.Eventually(t, func() bool { return len(ch.sentTexts()) == 2 }, time.Second, time.Millisecond)
	require.Contains(t, ch.sentTexts()[0], interview.OpeningPrompt)
}

func TestNewOwnerDisconnectsController(t *testing.T) {
	f := newFixture(t)
	f.connect(t)

	f.sess.Claim("chat", nil)

	require.Equal(t, interview.StatusDisconnected, f.ctrl.Status())
	require.Equal(t, 1, f.peers.last().closeCount())
}

func TestSendCandidateTextIsTranscribed(t *testing.T) {
	f := newFixture(t)
	require.ErrorIs(t, f.ctrl.SendCandidateText("답변"), ErrChannelClosed)
	require.Empty(t, f.sess.Transcript())

	ch := f.connect(t)
	require.ErrorIs(t, f.ctrl.SendCandidateText(" [INTERVIEW_END] "), ErrEmptyText)
	require.NoError(t, f.ctrl.SendCandidateText("저는 백엔드 개발자입니다 [INTERVIEW_END]"))

	entries := f.sess.Transcript()
	require.Len(t, entries, 1)
	require.Equal(t, interview.SpeakerCandidate, entries[0].Speaker)
	require.Equal(t, "저는 백엔드 개발자입니다", entries[0].Text)

	sent := ch.sentTexts()
	require.Len(t, sent, 2)
	var item itemCreateEvent
	require.NoError(t, json.Unmarshal([]byte(sent[0]), &item))
	require.Equal(t, "저는 백엔드 개발자입니다", item.Item.Content[0].Text)

	require.NoError(t, f.ctrl.SendTextEvent("시스템 안내"))
	require.Len(t, f.sess.Transcript(), 1, "injected text stays out of the transcript")
}

func TestDisconnectDuringConnectStopsSource(t *testing.T) {
	f := newFixture(t)
	f.peers.next = func() *fakePeer { return &fakePeer{onAdd: f.ctrl.Disconnect} }

	require.Error(t, f.ctrl.Connect(context.Background(), "ek_test", f.mic))
	require.Equal(t, interview.StatusDisconnected, f.ctrl.Status())
	require.Equal(t, 1, f.peers.last().closeCount())
	require.False(t, f.mic.Push([]byte{1}), "local track must be stopped")
}
