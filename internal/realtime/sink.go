package realtime

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const (
	// loudPayload is the payload size treated as full amplitude.
	loudPayload = 160
	levelStale  = 250 * time.Millisecond
)

// AudioSink consumes the inbound audio track and exposes a coarse amplitude
// for the avatar. Opus carries no level, so payload size stands in for it.
type AudioSink struct {
	logger *zap.Logger
	now    func() time.Time

	level  atomic.Uint64
	lastAt atomic.Int64
	bytes  atomic.Int64

	closeOnce sync.Once
	closed    chan struct{}
}

func NewAudioSink(logger *zap.Logger) *AudioSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AudioSink{logger: logger, now: time.Now, closed: make(chan struct{})}
}

// Attach starts consuming remote until it fails or the sink is closed.
func (s *AudioSink) Attach(remote RemoteAudio) {
	go func() {
		for {
			select {
			case <-s.closed:
				return
			default:
			}

			payload, err := remote.ReadPacket()
			if err != nil {
				s.logger.Debug("remote audio ended", zap.Error(err))
				return
			}
			s.observe(len(payload))
		}
	}()
}

func (s *AudioSink) observe(size int) {
	sample := math.Min(1, float64(size)/loudPayload)
	prev := math.Float64frombits(s.level.Load())
	s.level.Store(math.Float64bits(prev*0.7 + sample*0.3))
	s.lastAt.Store(s.now().UnixNano())
	s.bytes.Add(int64(size))
}

// Level returns a value in [0, 1]. It drops to zero when no audio has arrived recently.
func (s *AudioSink) Level() float64 {
	select {
	case <-s.closed:
		return 0
	default:
	}
	if s.now().Sub(time.Unix(0, s.lastAt.Load())) > levelStale {
		return 0
	}
	return math.Float64frombits(s.level.Load())
}

func (s *AudioSink) BytesReceived() int64 {
	return s.bytes.Load()
}

func (s *AudioSink) Close() {
	s.closeOnce.Do(func() { close(s.closed) })
}
