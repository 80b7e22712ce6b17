package media

import (
	"context"
	"sync"
)

// NoDevices is the Devices of a host without capture hardware.
type NoDevices struct{}

func (NoDevices) OpenMicrophone(context.Context) (AudioStream, error) { return nil, ErrNoDevice }
func (NoDevices) OpenCamera(context.Context) (Stream, error)          { return nil, ErrNoDevice }

// Bridge exposes a single LiveMicrophone fed by an external capture process,
// for example Opus frames relayed over a websocket.
type Bridge struct {
	mu  sync.Mutex
	mic *bridgedMicrophone
}

type bridgedMicrophone struct {
	*LiveMicrophone
}

func (bridgedMicrophone) Kind() Kind { return KindAudio }

// Attach installs a new microphone and returns it so the producer can push frames.
// A previously attached microphone is stopped.
func (b *Bridge) Attach(label string) *LiveMicrophone {
	mic := NewLiveMicrophone(label, 0)

	b.mu.Lock()
	previous := b.mic
	b.mic = &bridgedMicrophone{mic}
	b.mu.Unlock()

	if previous != nil {
		previous.Stop()
	}
	return mic
}

func (b *Bridge) Detach() {
	b.mu.Lock()
	previous := b.mic
	b.mic = nil
	b.mu.Unlock()

	if previous != nil {
		previous.Stop()
	}
}

func (b *Bridge) OpenMicrophone(ctx context.Context) (AudioStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.mic == nil {
		return nil, ErrNoDevice
	}
	return b.mic, nil
}

func (b *Bridge) OpenCamera(context.Context) (Stream, error) {
	return nil, ErrNoDevice
}
