// Package peer implements call negotiation on top of a pion PeerConnection.
package peer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/docconnect/videocall/internal/call"
	"github.com/docconnect/videocall/internal/media"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// ErrControlNotOpen is returned when the control channel cannot send yet.
var ErrControlNotOpen = errors.New("control channel not open")

// FactoryConfig tunes every negotiator a Factory builds.
type FactoryConfig struct {
	// VideoBitrateKbps is written as b=AS on outgoing video sections.
	VideoBitrateKbps uint64
}

// Factory builds pion-backed negotiators sharing one API instance.
type Factory struct {
	api *webrtc.API
	cfg FactoryConfig
	log *slog.Logger
}

// NewFactory registers the default codecs and interceptors.
func NewFactory(cfg FactoryConfig, log *slog.Logger) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, call.NewError("register codecs", err)
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, call.NewError("register interceptors", err)
	}
	return &Factory{
		api: webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i)),
		cfg: cfg,
		log: log.With("component", "peer"),
	}, nil
}

// NewNegotiator creates a peer connection carrying opts.Stream.
func (f *Factory) NewNegotiator(opts call.NegotiatorOptions, events call.NegotiatorEvents) (call.Negotiator, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{
		ICEServers:         opts.ICEServers,
		ICETransportPolicy: opts.ICETransportPolicy,
	})
	if err != nil {
		return nil, call.NewError("create peer connection", err)
	}

	n := &Negotiator{
		pc:      pc,
		opts:    opts,
		events:  events,
		bitrate: f.cfg.VideoBitrateKbps,
		log:     f.log.With("initiator", opts.Initiator),
	}
	if err := n.addLocalTracks(); err != nil {
		pc.Close()
		return nil, err
	}
	n.wire()

	if opts.Initiator {
		ordered := true
		dc, err := pc.CreateDataChannel(controlLabel, &webrtc.DataChannelInit{Ordered: &ordered})
		if err != nil {
			pc.Close()
			return nil, call.NewError("create data channel", err)
		}
		n.attachControl(dc)
	}
	return n, nil
}

// Negotiator is one pion PeerConnection plus its control channel.
type Negotiator struct {
	pc      *webrtc.PeerConnection
	opts    call.NegotiatorOptions
	events  call.NegotiatorEvents
	bitrate uint64
	log     *slog.Logger

	mu        sync.Mutex
	pending   []webrtc.ICECandidateInit
	remote    *media.RemoteStream
	control   *webrtc.DataChannel
	connected bool
	closed    bool

	closeOnce sync.Once
}

func (n *Negotiator) addLocalTracks() error {
	have := map[media.Kind]bool{}
	if n.opts.Stream != nil {
		for _, t := range n.opts.Stream.Tracks() {
			if t.Local() == nil {
				continue
			}
			sender, err := n.pc.AddTrack(t.Local())
			if err != nil {
				return call.NewError("add track", err)
			}
			have[t.Kind()] = true
			go drainRTCP(sender)
		}
	}

	// An initiator without a camera still offers to receive video.
	if !n.opts.Initiator {
		return nil
	}
	for _, want := range []struct {
		kind  media.Kind
		codec webrtc.RTPCodecType
	}{
		{media.KindAudio, webrtc.RTPCodecTypeAudio},
		{media.KindVideo, webrtc.RTPCodecTypeVideo},
	} {
		if have[want.kind] {
			continue
		}
		if _, err := n.pc.AddTransceiverFromKind(want.codec, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			return call.NewError("add transceiver", err)
		}
	}
	return nil
}

// drainRTCP reads incoming RTCP so interceptors keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (n *Negotiator) wire() {
	n.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || !n.opts.Trickle {
			return
		}
		init := c.ToJSON()
		n.emit(call.Signal{Type: call.SignalCandidate, Candidate: &init})
	})

	n.pc.OnTrack(func(tr *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		n.handleTrack(tr)
	})

	n.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		n.log.Debug("Peer connection state changed", "state", s.String())
		switch s {
		case webrtc.PeerConnectionStateConnected:
			n.markConnected()
		case webrtc.PeerConnectionStateFailed:
			if n.isClosed() {
				return
			}
			if n.events.OnError != nil {
				n.events.OnError(fmt.Errorf("%w: ice transport failed", call.ErrPeer))
			}
		case webrtc.PeerConnectionStateClosed:
			n.emitClose()
		}
	})

	if !n.opts.Initiator {
		n.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			if dc.Label() == controlLabel {
				n.attachControl(dc)
			}
		})
	}
}

func (n *Negotiator) attachControl(dc *webrtc.DataChannel) {
	n.mu.Lock()
	n.control = dc
	n.mu.Unlock()

	dc.OnOpen(func() {
		n.log.Debug("Control channel open")
		n.markConnected()
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		m, err := decodeControl(msg.Data)
		if err != nil {
			n.log.Warn("Bad control message", "error", err)
			return
		}
		switch m.Type {
		case controlMediaState:
			var p mediaStatePayload
			if err := m.decodePayload(&p); err != nil {
				n.log.Warn("Bad media state", "error", err)
				return
			}
			if n.events.OnRemoteMedia != nil {
				n.events.OnRemoteMedia(p.Mic, p.Video)
			}
		default:
			n.log.Debug("Ignoring control message", "type", m.Type)
		}
	})
}

func (n *Negotiator) handleTrack(tr *webrtc.TrackRemote) {
	kind := media.KindAudio
	if tr.Kind() == webrtc.RTPCodecTypeVideo {
		kind = media.KindVideo
	}
	rt := &media.RemoteTrack{ID: tr.ID(), Kind: kind, MimeType: tr.Codec().MimeType}

	n.mu.Lock()
	first := n.remote == nil
	if first {
		n.remote = media.NewRemoteStream(tr.StreamID())
	}
	n.remote.Add(rt)
	stream := n.remote
	n.mu.Unlock()

	n.log.Info("Remote track", "kind", kind, "codec", rt.MimeType)
	if first && n.events.OnStream != nil {
		n.events.OnStream(stream)
	}

	for {
		pkt, _, err := tr.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				n.log.Debug("Remote track ended", "kind", kind, "error", err)
			}
			return
		}
		rt.Observe(pkt, time.Now())
	}
}

// Start creates the offer on the initiating side.
func (n *Negotiator) Start() error {
	if !n.opts.Initiator {
		return nil
	}
	go func() {
		if err := n.describe(webrtc.SDPTypeOffer); err != nil && !n.isClosed() {
			n.log.Error("Offer failed", "error", err)
			if n.events.OnError != nil {
				n.events.OnError(err)
			}
		}
	}()
	return nil
}

// Signal applies an offer, answer or candidate from the peer.
func (n *Negotiator) Signal(s call.Signal) error {
	if n.isClosed() {
		return call.NewError("signal", webrtc.ErrConnectionClosed)
	}

	switch s.Type {
	case call.SignalOffer:
		if err := n.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: s.SDP}); err != nil {
			return call.NewError("set remote offer", err)
		}
		n.flushCandidates()
		return n.describe(webrtc.SDPTypeAnswer)

	case call.SignalAnswer:
		if err := n.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: s.SDP}); err != nil {
			return call.NewError("set remote answer", err)
		}
		n.flushCandidates()
		return nil

	case call.SignalCandidate:
		if s.Candidate == nil {
			return call.WrapError("add candidate", call.ErrUnexpectedSignal, "missing candidate")
		}
		n.mu.Lock()
		if n.pc.RemoteDescription() == nil {
			n.pending = append(n.pending, *s.Candidate)
			n.mu.Unlock()
			return nil
		}
		n.mu.Unlock()
		if err := n.pc.AddICECandidate(*s.Candidate); err != nil {
			return call.NewError("add candidate", err)
		}
		return nil

	default:
		return call.WrapError("signal", call.ErrUnexpectedSignal, s.Type)
	}
}

// describe creates and applies the local description, then emits it.
func (n *Negotiator) describe(t webrtc.SDPType) error {
	var (
		desc webrtc.SessionDescription
		err  error
	)
	if t == webrtc.SDPTypeOffer {
		desc, err = n.pc.CreateOffer(nil)
	} else {
		desc, err = n.pc.CreateAnswer(nil)
	}
	if err != nil {
		return call.NewError("create "+t.String(), err)
	}

	var gathered <-chan struct{}
	if !n.opts.Trickle {
		gathered = webrtc.GatheringCompletePromise(n.pc)
	}
	if err := n.pc.SetLocalDescription(desc); err != nil {
		return call.NewError("set local description", err)
	}
	if gathered != nil {
		<-gathered
	}

	local := n.pc.LocalDescription()
	if local == nil {
		return call.NewError("local description", webrtc.ErrConnectionClosed)
	}
	sdp, err := applyVideoBandwidth(local.SDP, n.bitrate)
	if err != nil {
		n.log.Warn("Keeping untouched SDP", "error", err)
		sdp = local.SDP
	}
	n.emit(call.Signal{Type: t.String(), SDP: sdp})
	return nil
}

func (n *Negotiator) flushCandidates() {
	n.mu.Lock()
	pending := n.pending
	n.pending = nil
	n.mu.Unlock()

	for _, c := range pending {
		if err := n.pc.AddICECandidate(c); err != nil {
			n.log.Warn("Queued candidate rejected", "error", err)
		}
	}
}

// AnnounceMedia tells the peer about local mic and camera state.
func (n *Negotiator) AnnounceMedia(mic, video bool) error {
	n.mu.Lock()
	dc := n.control
	n.mu.Unlock()
	if dc == nil || dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrControlNotOpen
	}

	b, err := encodeControl(controlMediaState, mediaStatePayload{Mic: mic, Video: video})
	if err != nil {
		return err
	}
	return dc.Send(b)
}

// Close tears down the peer connection.
func (n *Negotiator) Close() error {
	var err error
	n.closeOnce.Do(func() {
		n.mu.Lock()
		n.closed = true
		dc := n.control
		n.mu.Unlock()

		if dc != nil {
			dc.Close()
		}
		err = n.pc.Close()
	})
	return err
}

func (n *Negotiator) emit(s call.Signal) {
	if n.isClosed() || n.events.OnSignal == nil {
		return
	}
	n.events.OnSignal(s)
}

func (n *Negotiator) markConnected() {
	n.mu.Lock()
	if n.connected || n.closed {
		n.mu.Unlock()
		return
	}
	n.connected = true
	n.mu.Unlock()

	if n.events.OnConnect != nil {
		n.events.OnConnect()
	}
}

func (n *Negotiator) emitClose() {
	if n.isClosed() {
		return
	}
	if n.events.OnClose != nil {
		n.events.OnClose()
	}
}

func (n *Negotiator) isClosed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}
