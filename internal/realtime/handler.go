package realtime

import (
	"strings"

	"github.com/spigell/mock-interviewer/internal/interview"
	"github.com/spigell/mock-interviewer/internal/utils"
	"go.uber.org/zap"
)

// handle applies one inbound event. A malformed or failing event is logged
// and dropped, it never ends the session. seen holds the ids of transcript
// events already applied on this connection.
func (c *Controller) handle(gen uint64, data []byte, seen map[string]struct{}) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("realtime event handler panicked", zap.Any("panic", r))
		}
	}()

	event, payload, err := parseEvent(data)
	if err != nil {
		c.logger.Warn("dropping malformed realtime event",
			zap.Error(err),
			zap.String("raw", utils.TruncateForLog(string(data), 200)),
		)
		return
	}
	c.recorder.RecordRealtimeEvent("inbound", event.Type, payload)

	if event.Transcript != "" && event.EventID != "" {
		if _, dup := seen[event.EventID]; dup {
			c.logger.Debug("duplicate realtime event ignored", zap.String("event_id", event.EventID))
			return
		}
		seen[event.EventID] = struct{}{}
	}

	switch event.Type {
	case EventAssistantTranscriptDone, EventAssistantTranscriptDoneGA:
		if cleaned := interview.StripEndToken(event.Transcript); cleaned != "" {
			_, _ = c.sess.Append(c.owner, interview.SpeakerInterviewer, cleaned)
		}
		if interview.HasEndToken(event.Transcript) {
			c.scheduleEnd(gen)
		}

	case EventInputTranscriptionDone:
		if cleaned := interview.StripEndToken(event.Transcript); cleaned != "" {
			_, _ = c.sess.Append(c.owner, interview.SpeakerCandidate, cleaned)
		}

	case EventAudioDelta, EventAudioDeltaGA, EventOutputBufferStarted:
		_ = c.sess.SetAvatarState(c.owner, interview.AvatarSpeaking)

	case EventAudioDone, EventAudioDoneGA, EventOutputBufferStopped, EventSpeechStarted:
		_ = c.sess.SetAvatarState(c.owner, interview.AvatarListening)

	case EventSessionCreated:
		c.logger.Info("realtime session created")
		if c.openingTurn {
			if err := c.SendTextEvent(interview.OpeningPrompt); err != nil {
				c.logger.Warn("failed to request opening turn", zap.Error(err))
			}
		}

	case EventError:
		fields := []zap.Field{zap.String("event_id", event.EventID)}
		if event.Error != nil {
			fields = append(fields,
				zap.String("code", event.Error.Code),
				zap.String("message", strings.TrimSpace(event.Error.Message)),
			)
		}
		c.logger.Warn("realtime service reported an error", fields...)

	default:
		c.logger.Debug("unhandled realtime event", zap.String("type", event.Type))
	}
}
