package transport

import (
	"encoding/json"
	"log/slog"

	"github.com/docconnect/videocall/internal/protocol"
)

// Events receives decoded server messages. Methods are called one at a
// time, in arrival order.
type Events interface {
	HandleRoomUsers(users []protocol.Participant)
	HandleUserJoined(p protocol.Participant)
	HandleUserLeft(p protocol.Participant)
	HandleOffer(from string, offer json.RawMessage)
	HandleAnswer(from string, answer json.RawMessage)
	HandleIceCandidate(from string, candidate json.RawMessage)
	HandleServerError(e protocol.ErrorPayload)
}

// Handler routes incoming signaling messages to Events.
type Handler struct {
	client *Client
	events Events
	log    *slog.Logger
}

// NewHandler creates a handler over client.
func NewHandler(client *Client, events Events, log *slog.Logger) *Handler {
	return &Handler{client: client, events: events, log: log.With("component", "handler")}
}

// Start routes messages until the client is done.
func (h *Handler) Start() {
	for {
		select {
		case msg := <-h.client.Incoming():
			h.route(msg)
		case <-h.client.Done():
			return
		}
	}
}

func (h *Handler) route(msg *protocol.Message) {
	switch msg.Type {
	case protocol.TypeConnected:
		// The welcome frame is consumed while dialing.

	case protocol.TypeRoomUsers:
		var users []protocol.Participant
		if h.decode(msg, &users) {
			h.events.HandleRoomUsers(users)
		}

	case protocol.TypeUserJoinedRoom:
		var p protocol.Participant
		if h.decode(msg, &p) {
			h.events.HandleUserJoined(p)
		}

	case protocol.TypeUserLeftRoom:
		var p protocol.Participant
		if h.decode(msg, &p) {
			h.events.HandleUserLeft(p)
		}

	case protocol.TypeReceiveOffer:
		var p protocol.ReceiveOfferPayload
		if h.decode(msg, &p) {
			h.events.HandleOffer(p.From, p.Offer)
		}

	case protocol.TypeReceiveAnswer:
		var p protocol.ReceiveAnswerPayload
		if h.decode(msg, &p) {
			h.events.HandleAnswer(p.From, p.Answer)
		}

	case protocol.TypeReceiveIceCandidate:
		var p protocol.ReceiveIceCandidatePayload
		if h.decode(msg, &p) {
			h.events.HandleIceCandidate(p.From, p.Candidate)
		}

	case protocol.TypeError:
		var p protocol.ErrorPayload
		if !h.decode(msg, &p) {
			p = protocol.ErrorPayload{Error: "Unknown error from server"}
		}
		h.events.HandleServerError(p)

	default:
		h.log.Debug("Ignoring message", "type", msg.Type)
	}
}

func (h *Handler) decode(msg *protocol.Message, v any) bool {
	if err := msg.Decode(v); err != nil {
		h.log.Warn("Dropping malformed message", "type", msg.Type, "error", err)
		return false
	}
	return true
}
