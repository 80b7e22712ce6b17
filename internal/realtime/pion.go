package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
	pionmedia "github.com/pion/webrtc/v3/pkg/media"
	"github.com/spigell/mock-interviewer/internal/media"
	"go.uber.org/zap"
)

// PionFactory creates peers backed by pion/webrtc.
type PionFactory struct {
	ICEServers []string
	Logger     *zap.Logger
}

func (f PionFactory) NewPeer() (Peer, error) {
	logger := f.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	var servers []webrtc.ICEServer
	if len(f.ICEServers) > 0 {
		servers = []webrtc.ICEServer{{URLs: f.ICEServers}}
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &pionPeer{pc: pc, logger: logger, ctx: ctx, cancel: cancel}
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		logger.Debug("peer connection state", zap.String("state", state.String()))
	})
	return p, nil
}

type pionPeer struct {
	pc     *webrtc.PeerConnection
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (p *pionPeer) OnRemoteAudio(fn func(RemoteAudio)) {
	p.pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		p.logger.Debug("remote audio track", zap.String("codec", remote.Codec().MimeType))
		fn(remoteTrack{remote})
	})
}

func (p *pionPeer) AddAudioSource(source media.AudioSource) error {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", source.Label(),
	)
	if err != nil {
		return fmt.Errorf("create local track: %w", err)
	}

	sender, err := p.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add track: %w", err)
	}

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
	go func() {
		defer p.wg.Done()
		for {
			frame, err := source.ReadFrame(p.ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) && !errors.Is(err, media.ErrSourceClosed) {
					p.logger.Debug("local audio ended", zap.Error(err))
				}
				return
			}
			if err := track.WriteSample(pionmedia.Sample{Data: frame.Data, Duration: frame.Duration}); err != nil {
				p.logger.Debug("write audio sample", zap.Error(err))
			}
		}
	}()
	return nil
}

func (p *pionPeer) CreateEventChannel(label string) (EventChannel, error) {
	dc, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return nil, err
	}
	return pionChannel{dc}, nil
}

func (p *pionPeer) CreateOffer(ctx context.Context) (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", err
	}

	gatherComplete := webrtc.GatheringCompletePromise(p.pc)
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gatherComplete:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	local := p.pc.LocalDescription()
	if local == nil {
		return "", errors.New("local description missing after gathering")
	}
	return local.SDP, nil
}

func (p *pionPeer) SetAnswer(sdp string) error {
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp})
}

// Close stops the local senders and closes the connection.
func (p *pionPeer) Close() error {
	p.cancel()
	for _, sender := range p.pc.GetSenders() {
		if err := sender.Stop(); err != nil {
			p.logger.Debug("stop sender", zap.Error(err))
		}
	}
	err := p.pc.Close()
	p.wg.Wait()
	return err
}

type remoteTrack struct {
	track *webrtc.TrackRemote
}

func (r remoteTrack) ReadPacket() ([]byte, error) {
	pkt, _, err := r.track.ReadRTP()
	if err != nil {
		return nil, err
	}
	return pkt.Payload, nil
}

type pionChannel struct {
	dc *webrtc.DataChannel
}

func (c pionChannel) OnOpen(fn func())  { c.dc.OnOpen(fn) }
func (c pionChannel) OnClose(fn func()) { c.dc.OnClose(fn) }

func (c pionChannel) OnMessage(fn func([]byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) { fn(msg.Data) })
}

func (c pionChannel) SendText(text string) error { return c.dc.SendText(text) }
func (c pionChannel) Close() error               { return c.dc.Close() }
