package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spigell/mock-interviewer/internal/interview"
	"github.com/spigell/mock-interviewer/internal/storage"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func fixedClock() func() time.Time {
	var mu sync.Mutex
	now := time.UnixMilli(1_700_000_000_000)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Millisecond)
		return now
	}
}

func TestAppendPersistsTranscript(t *testing.T) {
	store := storage.NewMemory()
	c := New(store, WithClock(fixedClock()))
	owner := c.Claim("voice", nil)

	if _, err := c.Append(owner, interview.SpeakerInterviewer, "안녕하세요"); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := c.Append(owner, interview.SpeakerCandidate, "반갑습니다"); err != nil {
		t.Fatalf("append: %v", err)
	}

	var persisted []interview.Entry
	if err := storage.GetJSON(store, storage.KeyTranscript, &persisted); err != nil {
		t.Fatalf("expected transcript to be persisted: %v", err)
	}
	if len(persisted) != 2 || persisted[1].Text != "반갑습니다" {
		t.Fatalf("unexpected persisted transcript: %+v", persisted)
	}
	if persisted[0].Timestamp >= persisted[1].Timestamp {
		t.Fatalf("expected increasing timestamps: %+v", persisted)
	}
}

func TestConcurrentAppendsKeepEveryEntry(t *testing.T) {
	c := New(nil)
	owner := c.Claim("chat", nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Append(owner, interview.SpeakerCandidate, "x"); err != nil {
				t.Errorf("append: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := len(c.Transcript()); got != 50 {
		t.Fatalf("expected 50 entries, got %d", got)
	}
}

func TestStaleOwnerIsRejected(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	c := New(nil, WithLogger(zap.New(core)))

	revoked := 0
	first := c.Claim("voice", func() { revoked++ })
	second := c.Claim("chat", nil)

	if revoked != 1 {
		t.Fatalf("expected previous owner to be revoked once, got %d", revoked)
	}

	if _, err := c.Append(first, interview.SpeakerInterviewer, "stale"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := c.SetInterviewActive(first, true); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := c.SetAvatarState(second, interview.AvatarSpeaking); err != nil {
		t.Fatalf("owner write failed: %v", err)
	}
	if len(c.Transcript()) != 0 {
		t.Fatal("stale write must not reach the transcript")
	}
	if logs.FilterMessage("rejected write from stale owner").Len() != 2 {
		t.Fatalf("expected rejected writes to be logged, got %d", logs.Len())
	}

	c.Release(second)
	if c.IsOwner(second) {
		t.Fatal("expected ownership to be released")
	}
	if err := c.SetAvatarState(Owner{}, interview.AvatarIdle); !errors.Is(err, ErrNotOwner) {
		t.Fatal("zero owner must never be accepted")
	}
}

func TestIncrementElapsedOnlyWhileActive(t *testing.T) {
	c := New(nil)
	owner := c.Claim("chat", nil)

	if _, moved := c.IncrementElapsed(10); moved {
		t.Fatal("counter must not move while inactive")
	}

	_ = c.SetInterviewActive(owner, true)
	for i := 0; i < 12; i++ {
		c.IncrementElapsed(10)
	}
	if got := c.Elapsed(); got != 10 {
		t.Fatalf("expected counter to stop at limit, got %d", got)
	}
}

func TestHydrateKeepsNewerInMemoryValues(t *testing.T) {
	store := storage.NewMemory()
	if err := storage.SetJSON(store, storage.KeyResumeText, "persisted resume"); err != nil {
		t.Fatal(err)
	}
	if err := storage.SetJSON(store, storage.KeyTranscript, []interview.Entry{{Speaker: interview.SpeakerCandidate, Text: "old"}}); err != nil {
		t.Fatal(err)
	}
	if err := store.Set(storage.KeyEvaluation, []byte("{not json")); err != nil {
		t.Fatal(err)
	}
	setup := &interview.Setup{CompanyAnalysis: interview.CompanyAnalysis{CompanyName: "원티드"}}
	if err := storage.SetJSON(store, storage.KeySetup, setup); err != nil {
		t.Fatal(err)
	}

	c := New(store)
	c.state.ResumeText = "fresh resume"
	c.Hydrate()

	state := c.Snapshot()
	if state.ResumeText != "fresh resume" {
		t.Fatalf("hydrate overwrote newer value: %q", state.ResumeText)
	}
	if len(state.Transcript) != 1 || state.Transcript[0].Text != "old" {
		t.Fatalf("expected transcript to be restored: %+v", state.Transcript)
	}
	if state.Evaluation != nil {
		t.Fatal("corrupt evaluation must be skipped")
	}
	if state.Setup == nil || state.Setup.CompanyAnalysis.CompanyName != "원티드" {
		t.Fatalf("expected setup to be restored despite the corrupt evaluation: %+v", state.Setup)
	}
}

func TestResetClearsStateAndStorage(t *testing.T) {
	store := storage.NewMemory()
	c := New(store)
	owner := c.Claim("chat", nil)

	c.SetResume("resume", "cv.txt")
	c.SetSetup(&interview.Setup{})
	_, _ = c.Append(owner, interview.SpeakerCandidate, "hello")
	_ = c.SetAvatarState(owner, interview.AvatarSpeaking)

	c.Reset()

	state := c.Snapshot()
	if len(state.Transcript) != 0 || state.Setup != nil || state.ResumeText != "" {
		t.Fatalf("expected empty state, got %+v", state)
	}
	if state.Avatar != interview.AvatarIdle {
		t.Fatalf("expected idle avatar, got %s", state.Avatar)
	}
	if store.Len() != 0 {
		t.Fatalf("expected storage to be empty, got %d keys", store.Len())
	}
}

func TestPersistFailureIsSwallowed(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	store := storage.NewMemory()
	store.Quota = 1
	c := New(store, WithLogger(zap.New(core)))
	owner := c.Claim("chat", nil)

	if _, err := c.Append(owner, interview.SpeakerCandidate, "long enough to exceed"); err != nil {
		t.Fatalf("storage failure leaked to caller: %v", err)
	}
	if len(c.Transcript()) != 1 {
		t.Fatal("in-memory transcript must not depend on storage")
	}
	if logs.FilterMessage("session persist skipped").Len() != 1 {
		t.Fatal("expected quota failure to be logged")
	}
}
