package media

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

var ErrNoDevice = errors.New("media: no capture device")

type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

type Permission string

const (
	PermissionPrompt  Permission = "prompt"
	PermissionGranted Permission = "granted"
	PermissionDenied  Permission = "denied"
)

// Stream is an acquired capture stream.
type Stream interface {
	Kind() Kind
	Stop()
}

// AudioStream is a Stream that also yields encoded audio.
type AudioStream interface {
	Stream
	AudioSource
}

// Devices opens capture devices. Implementations must honour ctx.
type Devices interface {
	OpenMicrophone(ctx context.Context) (AudioStream, error)
	OpenCamera(ctx context.Context) (Stream, error)
}

// Manager acquires and releases capture streams. A failed request resolves
// to nil and records the permission outcome; it never aborts the caller.
type Manager struct {
	devices Devices
	logger  *zap.Logger

	mu      sync.Mutex
	streams []Stream
	mic     Permission
	camera  Permission
	micErr  error
}

func NewManager(devices Devices, logger *zap.Logger) *Manager {
	if devices == nil {
		devices = NoDevices{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		devices: devices,
		logger:  logger,
		mic:     PermissionPrompt,
		camera:  PermissionPrompt,
	}
}

func (m *Manager) RequestMicrophone(ctx context.Context) AudioStream {
	stream, err := m.devices.OpenMicrophone(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.mic = PermissionDenied
		m.micErr = fmt.Errorf("open microphone: %w", err)
		m.logger.Warn("microphone unavailable", zap.Error(err))
		return nil
	}

	m.mic = PermissionGranted
	m.micErr = nil
	m.streams = append(m.streams, stream)
	return stream
}

// RequestCamera returns nil on any failure. The camera is cosmetic.
func (m *Manager) RequestCamera(ctx context.Context) Stream {
	stream, err := m.devices.OpenCamera(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err != nil {
		m.camera = PermissionDenied
		m.logger.Debug("camera unavailable", zap.Error(err))
		return nil
	}

	m.camera = PermissionGranted
	m.streams = append(m.streams, stream)
	return stream
}

// AudioOrSilence returns the microphone, or a SilentSource when it cannot be opened.
func (m *Manager) AudioOrSilence(ctx context.Context) AudioSource {
	if mic := m.RequestMicrophone(ctx); mic != nil {
		return mic
	}
	m.logger.Info("using silent audio track in place of the microphone")
	silent := NewSilentSource()
	m.mu.Lock()
	m.streams = append(m.streams, silentStream{silent})
	m.mu.Unlock()
	return silent
}

// StopAllStreams stops every stream acquired so far.
func (m *Manager) StopAllStreams() {
	m.mu.Lock()
	streams := m.streams
	m.streams = nil
	m.mu.Unlock()

	for _, s := range streams {
		s.Stop()
	}
	if len(streams) > 0 {
		m.logger.Debug("media streams stopped", zap.Int("count", len(streams)))
	}
}

func (m *Manager) Permissions() (mic, camera Permission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mic, m.camera
}

func (m *Manager) MicError() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.micErr
}

type silentStream struct{ *SilentSource }

func (silentStream) Kind() Kind { return KindAudio }
