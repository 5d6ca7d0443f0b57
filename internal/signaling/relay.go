package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/docconnect/videocall/internal/protocol"
)

// ErrRelayDropped is returned when a signaling message cannot be delivered.
// It never reaches the sender; the hub only logs it.
var ErrRelayDropped = errors.New("relay dropped")

// SignalKind identifies the negotiation payload being relayed.
type SignalKind int

const (
	SignalOffer SignalKind = iota
	SignalAnswer
	SignalIceCandidate
)

func (k SignalKind) String() string {
	switch k {
	case SignalOffer:
		return "offer"
	case SignalAnswer:
		return "answer"
	case SignalIceCandidate:
		return "ice-candidate"
	default:
		return fmt.Sprintf("SignalKind(%d)", int(k))
	}
}

// Deliverer queues a message for one connection. It reports false when the
// connection is unknown or its queue is full.
type Deliverer interface {
	Deliver(connectionID string, msg *protocol.Message) bool
}

// Relay forwards negotiation payloads between members of the same room.
type Relay struct {
	registry *Registry
	out      Deliverer
	log      *slog.Logger
}

// NewRelay creates a relay reading membership from registry.
func NewRelay(registry *Registry, out Deliverer, log *slog.Logger) *Relay {
	return &Relay{registry: registry, out: out, log: log}
}

// Targeted delivers payload from one member to another. The message is
// dropped when either side is not registered in roomID.
func (r *Relay) Targeted(kind SignalKind, roomID, from, to string, payload json.RawMessage) error {
	log := r.log.With("kind", kind.String(), "room_id", roomID, "from", from, "to", to)

	if _, ok := r.registry.Member(roomID, from); !ok {
		log.Warn("Dropping signal: sender not in room")
		return fmt.Errorf("%w: sender %s not in room %s", ErrRelayDropped, from, roomID)
	}
	if to == "" || to == from {
		log.Warn("Dropping signal: invalid target")
		return fmt.Errorf("%w: invalid target %q", ErrRelayDropped, to)
	}
	if _, ok := r.registry.Member(roomID, to); !ok {
		log.Warn("Dropping signal: target not in room")
		return fmt.Errorf("%w: target %s not in room %s", ErrRelayDropped, to, roomID)
	}

	msg, err := outbound(kind, from, payload)
	if err != nil {
		return err
	}
	if !r.out.Deliver(to, msg) {
		log.Warn("Dropping signal: target queue unavailable")
		return fmt.Errorf("%w: target %s unavailable", ErrRelayDropped, to)
	}
	log.Debug("Relayed signal")
	return nil
}

// Offer forwards an offer to every other member of roomID and returns the
// number of deliveries.
func (r *Relay) Offer(roomID, from string, payload json.RawMessage) (int, error) {
	log := r.log.With("kind", SignalOffer.String(), "room_id", roomID, "from", from)

	if _, ok := r.registry.Member(roomID, from); !ok {
		log.Warn("Dropping offer: sender not in room")
		return 0, fmt.Errorf("%w: sender %s not in room %s", ErrRelayDropped, from, roomID)
	}

	msg, err := outbound(SignalOffer, from, payload)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, p := range r.registry.Others(roomID, from) {
		if r.out.Deliver(p.ConnectionID, msg) {
			delivered++
		} else {
			log.Warn("Dropping offer for unavailable member", "to", p.ConnectionID)
		}
	}
	if delivered == 0 {
		log.Debug("Offer had no recipients")
	}
	return delivered, nil
}

// outbound builds the server-to-client message for a relayed payload. The
// from field is always the sender's connection id.
func outbound(kind SignalKind, from string, payload json.RawMessage) (*protocol.Message, error) {
	switch kind {
	case SignalOffer:
		return protocol.NewMessage(protocol.TypeReceiveOffer, protocol.ReceiveOfferPayload{Offer: payload, From: from})
	case SignalAnswer:
		return protocol.NewMessage(protocol.TypeReceiveAnswer, protocol.ReceiveAnswerPayload{Answer: payload, From: from})
	case SignalIceCandidate:
		return protocol.NewMessage(protocol.TypeReceiveIceCandidate, protocol.ReceiveIceCandidatePayload{Candidate: payload, From: from})
	default:
		return nil, fmt.Errorf("unknown signal kind %v", kind)
	}
}
