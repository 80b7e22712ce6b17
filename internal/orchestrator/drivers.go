package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spigell/mock-interviewer/internal/chat"
	"github.com/spigell/mock-interviewer/internal/interview"
	"github.com/spigell/mock-interviewer/internal/media"
	"github.com/spigell/mock-interviewer/internal/realtime"
	"github.com/spigell/mock-interviewer/internal/session"
	"github.com/spigell/mock-interviewer/internal/timer"
	"github.com/spigell/mock-interviewer/internal/utils"
)

const (
	warnRetryDelay = 500 * time.Millisecond
	warnAttempts   = 20
)

// VoiceSession is implemented by realtime.Controller.
type VoiceSession interface {
	Connect(ctx context.Context, credential string, source media.AudioSource) error
	SendTextEvent(text string) error
	Disconnect()
}

// ChatSession is implemented by chat.Controller.
type ChatSession interface {
	StartInterview(ctx context.Context) error
	SendMessage(ctx context.Context, text string, opts ...chat.SendOption) error
	EndInterview()
}

type voiceDriver struct {
	sess   *session.Context
	issuer realtime.CredentialIssuer
	voice  VoiceSession
}

// NewVoiceRun builds a voice interview. The microphone falls back to silence
// when it cannot be opened.
func NewVoiceRun(sess *session.Context, devices *media.Manager, issuer realtime.CredentialIssuer, voice VoiceSession, evaluator Evaluator, opts ...Option) *Run {
	if devices == nil {
		devices = media.NewManager(nil, nil)
	}
	driver := &voiceDriver{sess: sess, issuer: issuer, voice: voice}
	return newRun(sess, driver, devices, evaluator, timer.VoiceLimits, opts...)
}

func (d *voiceDriver) Mode() string { return "voice" }

func (d *voiceDriver) Begin(ctx context.Context, source media.AudioSource) error {
	credential, err := d.issuer.Issue(ctx, d.sess.Setup())
	if err != nil {
		return fmt.Errorf("issue realtime credential: %w", err)
	}
	return d.voice.Connect(ctx, credential.Value, source)
}

func (d *voiceDriver) Warn(context.Context) error {
	return d.voice.SendTextEvent(interview.TimeWarningMessage)
}

func (d *voiceDriver) End() {
	d.voice.Disconnect()
}

type chatDriver struct {
	chat ChatSession
}

func NewChatRun(sess *session.Context, ctrl ChatSession, evaluator Evaluator, opts ...Option) *Run {
	return newRun(sess, &chatDriver{chat: ctrl}, nil, evaluator, timer.ChatLimits, opts...)
}

func (d *chatDriver) Mode() string { return "chat" }

func (d *chatDriver) Begin(ctx context.Context, _ media.AudioSource) error {
	return d.chat.StartInterview(ctx)
}

// Warn waits for an in-flight candidate turn instead of dropping the warning.
func (d *chatDriver) Warn(ctx context.Context) error {
	for attempt := 1; ; attempt++ {
		err := d.chat.SendMessage(ctx, interview.TimeWarningMessage, chat.AsSystemMessage())
		if !errors.Is(err, chat.ErrBusy) || attempt == warnAttempts {
			return err
		}
		if err := utils.WaitFor(ctx, warnRetryDelay); err != nil {
			return err
		}
	}
}

func (d *chatDriver) End() {
	d.chat.EndInterview()
}
