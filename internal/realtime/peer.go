package realtime

import (
	"context"
	"time"

	"github.com/spigell/mock-interviewer/internal/interview"
	"github.com/spigell/mock-interviewer/internal/media"
)

// EventChannelLabel is the data channel the realtime service exchanges JSON events on.
const EventChannelLabel = "oai-events"

// Peer is one peer connection to the realtime service.
type Peer interface {
	// OnRemoteAudio registers the handler for the inbound audio track.
	OnRemoteAudio(fn func(RemoteAudio))
	// AddAudioSource attaches the local audio track fed from source.
	AddAudioSource(source media.AudioSource) error
	CreateEventChannel(label string) (EventChannel, error)
	// CreateOffer sets the local description and returns it once candidate gathering is complete.
	CreateOffer(ctx context.Context) (string, error)
	SetAnswer(sdp string) error
	Close() error
}

type PeerFactory interface {
	NewPeer() (Peer, error)
}

// EventChannel is the bidirectional JSON event channel of a Peer.
type EventChannel interface {
	OnOpen(fn func())
	OnClose(fn func())
	OnMessage(fn func([]byte))
	SendText(text string) error
	Close() error
}

// RemoteAudio yields payloads of the inbound audio track.
type RemoteAudio interface {
	ReadPacket() ([]byte, error)
}

// Credential is a short-lived client secret for a single realtime session.
type Credential struct {
	Value     string    `json:"clientSecret"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type CredentialIssuer interface {
	Issue(ctx context.Context, setup *interview.Setup) (Credential, error)
}

type SDPExchanger interface {
	Exchange(ctx context.Context, offer, credential string) (string, error)
}

// EventRecorder receives every realtime event for monitoring.
type EventRecorder interface {
	RecordRealtimeEvent(direction, eventType string, payload map[string]any)
}

type nopRecorder struct{}

func (nopRecorder) RecordRealtimeEvent(string, string, map[string]any) {}
