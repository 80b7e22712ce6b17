package interview

import (
	"fmt"
	"strings"
	"time"
)

// EndToken is embedded by the interviewer model when the interview should end.
const EndToken = "[INTERVIEW_END]"

// OpeningPrompt is sent in place of a user turn when the conversation is empty.
const OpeningPrompt = "면접을 시작해주세요. 간단히 인사하고 바로 첫 번째 질문으로 넘어가주세요."

// TimeWarningMessage is injected as a system message when the warning window opens.
const TimeWarningMessage = "[시스템] 면접 종료까지 2분 남았습니다. 현재 질문을 마무리하고 마지막 질문으로 넘어가주세요."

type Speaker string

const (
	SpeakerInterviewer Speaker = "interviewer"
	SpeakerCandidate   Speaker = "candidate"
)

// Entry is a single resolved utterance. Timestamp is unix milliseconds.
type Entry struct {
	Speaker   Speaker `json:"speaker"`
	Text      string  `json:"text"`
	Timestamp int64   `json:"timestamp"`
}

func NewEntry(speaker Speaker, text string, at time.Time) Entry {
	return Entry{Speaker: speaker, Text: text, Timestamp: at.UnixMilli()}
}

type AvatarState string

const (
	AvatarIdle      AvatarState = "idle"
	AvatarSpeaking  AvatarState = "speaking"
	AvatarListening AvatarState = "listening"
)

// Status is the lifecycle state of a session controller.
type Status string

const (
	StatusIdle         Status = "idle"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusSending      Status = "sending"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// StripEndToken removes every occurrence of the end token and trims the result.
func StripEndToken(text string) string {
	return strings.TrimSpace(strings.ReplaceAll(text, EndToken, ""))
}

func HasEndToken(text string) bool {
	return strings.Contains(text, EndToken)
}

// FormatTranscript renders entries as the plain dialogue consumed by the evaluation stage.
func FormatTranscript(entries []Entry, interviewerName string) string {
	interviewerName = strings.TrimSpace(interviewerName)
	if interviewerName == "" {
		interviewerName = "면접관"
	}

	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n")
		}
		switch e.Speaker {
		case SpeakerInterviewer:
			fmt.Fprintf(&b, "면접관(%s): %s", interviewerName, e.Text)
		default:
			fmt.Fprintf(&b, "지원자: %s", e.Text)
		}
	}
	return b.String()
}
