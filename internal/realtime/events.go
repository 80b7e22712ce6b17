package realtime

import (
	"encoding/json"
	"fmt"
)

// Inbound event types the controller reacts to. Both the beta and GA names are accepted.
const (
	EventAssistantTranscriptDone   = "response.audio_transcript.done"
	EventAssistantTranscriptDoneGA = "response.output_audio_transcript.done"
	EventInputTranscriptionDone    = "conversation.item.input_audio_transcription.completed"
	EventAudioDelta                = "response.audio.delta"
	EventAudioDeltaGA              = "response.output_audio.delta"
	EventOutputBufferStarted       = "output_audio_buffer.started"
	EventAudioDone                 = "response.audio.done"
	EventAudioDoneGA               = "response.output_audio.done"
	EventOutputBufferStopped       = "output_audio_buffer.stopped"
	EventSpeechStarted             = "input_audio_buffer.speech_started"
	EventSessionCreated            = "session.created"
	EventError                     = "error"

	EventConversationItemCreate = "conversation.item.create"
	EventResponseCreate         = "response.create"
)

type inboundEvent struct {
	Type       string      `json:"type"`
	EventID    string      `json:"event_id"`
	Transcript string      `json:"transcript"`
	Error      *eventError `json:"error"`
}

type eventError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func parseEvent(data []byte) (inboundEvent, map[string]any, error) {
	var event inboundEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return inboundEvent{}, nil, fmt.Errorf("decode realtime event: %w", err)
	}
	if event.Type == "" {
		return inboundEvent{}, nil, fmt.Errorf("realtime event without type")
	}

	var payload map[string]any
	_ = json.Unmarshal(data, &payload)
	if event.Type == EventAudioDelta || event.Type == EventAudioDeltaGA {
		// base64 audio, only its size is worth keeping
		if delta, ok := payload["delta"].(string); ok {
			payload["delta"] = len(delta)
		}
	}
	return event, payload, nil
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type conversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type itemCreateEvent struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type responseCreateEvent struct {
	Type string `json:"type"`
}

func userTextEvents(text string) ([]string, error) {
	item, err := json.Marshal(itemCreateEvent{
		Type: EventConversationItemCreate,
		Item: conversationItem{
			Type:    "message",
			Role:    "user",
			Content: []contentPart{{Type: "input_text", Text: text}},
		},
	})
	if err != nil {
		return nil, err
	}
	response, err := json.Marshal(responseCreateEvent{Type: EventResponseCreate})
	if err != nil {
		return nil, err
	}
	return []string{string(item), string(response)}, nil
}
