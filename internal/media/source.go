package media

import (
	"context"
	"errors"
	"sync"
	"time"
)

// FrameDuration is the length of one Opus frame sent to the peer.
const FrameDuration = 20 * time.Millisecond

// ErrSourceClosed is returned by ReadFrame once a source has been stopped.
var ErrSourceClosed = errors.New("media: source closed")

// Frame is one encoded Opus frame.
type Frame struct {
	Data     []byte
	Duration time.Duration
}

// AudioSource produces the candidate's outbound audio. Session controllers
// depend only on this interface.
type AudioSource interface {
	ReadFrame(ctx context.Context) (Frame, error)
	Stop()
	Label() string
}

// LiveMicrophone relays Opus frames pushed by a capture device.
type LiveMicrophone struct {
	label  string
	frames chan Frame

	once sync.Once
	done chan struct{}
}

func NewLiveMicrophone(label string, buffer int) *LiveMicrophone {
	if buffer <= 0 {
		buffer = 50
	}
	return &LiveMicrophone{
		label:  label,
		frames: make(chan Frame, buffer),
		done:   make(chan struct{}),
	}
}

// Push queues a frame. It drops the frame and returns false when the buffer is
// full or the microphone has been stopped.
func (m *LiveMicrophone) Push(data []byte) bool {
	select {
	case <-m.done:
		return false
	default:
	}

	select {
	case m.frames <- Frame{Data: data, Duration: FrameDuration}:
		return true
	default:
		return false
	}
}

func (m *LiveMicrophone) ReadFrame(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-m.done:
		return Frame{}, ErrSourceClosed
	case f := <-m.frames:
		return f, nil
	}
}

func (m *LiveMicrophone) Stop() {
	m.once.Do(func() { close(m.done) })
}

func (m *LiveMicrophone) Label() string {
	return m.label
}

// silenceFrame is a valid 20ms Opus packet that decodes to silence.
var silenceFrame = []byte{0xf8, 0xff, 0xfe}

// SilentSource paces Opus silence frames in real time. It stands in for a
// microphone so the peer always has an outbound audio track.
type SilentSource struct {
	clock func(time.Duration) <-chan time.Time

	once sync.Once
	done chan struct{}
}

func NewSilentSource() *SilentSource {
	return &SilentSource{clock: time.After, done: make(chan struct{})}
}

func (s *SilentSource) ReadFrame(ctx context.Context) (Frame, error) {
	select {
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	case <-s.done:
		return Frame{}, ErrSourceClosed
	case <-s.clock(FrameDuration):
		return Frame{Data: append([]byte(nil), silenceFrame...), Duration: FrameDuration}, nil
	}
}

func (s *SilentSource) Stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *SilentSource) Label() string {
	return "silence"
}
