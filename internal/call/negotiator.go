package call

import (
	"github.com/docconnect/videocall/internal/media"
	"github.com/pion/webrtc/v4"
)

// Signal types produced and consumed by a Negotiator.
const (
	SignalOffer     = "offer"
	SignalAnswer    = "answer"
	SignalCandidate = "candidate"
)

// Signal is an opaque negotiation payload passed through the relay.
type Signal struct {
	Type      string                   `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

// NegotiatorOptions configures a new negotiation object.
type NegotiatorOptions struct {
	Initiator          bool
	Stream             *media.Stream
	ICEServers         []webrtc.ICEServer
	ICETransportPolicy webrtc.ICETransportPolicy
	Trickle            bool
}

// NegotiatorEvents are invoked from the negotiator's own goroutines. Any
// field may be nil.
type NegotiatorEvents struct {
	OnSignal      func(Signal)
	OnStream      func(*media.RemoteStream)
	OnConnect     func()
	OnError       func(error)
	OnClose       func()
	OnRemoteMedia func(mic, video bool)
}

// Negotiator drives one offer/answer/ICE exchange with one peer.
type Negotiator interface {
	// Start begins negotiation. An initiator produces its offer through
	// OnSignal; a non-initiator does nothing.
	Start() error
	// Signal applies a payload received from the peer.
	Signal(Signal) error
	// Close tears the connection down. It is safe to call more than once.
	Close() error
}

// MediaAnnouncer is implemented by negotiators that can tell the peer about
// local mic and camera state.
type MediaAnnouncer interface {
	AnnounceMedia(mic, video bool) error
}

// NegotiatorFactory constructs negotiation objects.
type NegotiatorFactory interface {
	NewNegotiator(opts NegotiatorOptions, events NegotiatorEvents) (Negotiator, error)
}
