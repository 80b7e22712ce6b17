package realtime

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type scriptedAudio struct {
	packets chan []byte
}

func (s *scriptedAudio) ReadPacket() ([]byte, error) {
	p, ok := <-s.packets
	if !ok {
		return nil, errors.New("track ended")
	}
	return p, nil
}

func TestAudioSinkLevel(t *testing.T) {
	t.Parallel()

	now := time.Unix(100, 0)
	sink := NewAudioSink(nil)
	sink.now = func() time.Time { return now }

	require.Zero(t, sink.Level())

	remote := &scriptedAudio{packets: make(chan []byte)}
	sink.Attach(remote)
	for i := 0; i < 10; i++ {
		remote.packets <- make([]byte, loudPayload)
	}
	close(remote.packets)

	require.Eventually(t, func() bool { return sink.BytesReceived() == 10*loudPayload }, time.Second, time.Millisecond)
	level := sink.Level()
	require.Greater(t, level, 0.9)
	require.LessOrEqual(t, level, 1.0)

	now = now.Add(time.Second)
	require.Zero(t, sink.Level(), "stale audio reads as silence")

	sink.Close()
	sink.Close()
	require.Zero(t, sink.Level())
}
