// Package protocol defines the JSON websocket messages exchanged between the
// signaling server and call clients.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Message is the envelope for every client-to-server and server-to-client
// websocket frame.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Message type constants.
const (
	// Client to server.
	TypeJoinRoom         = "joinRoom"
	TypeLeaveRoom        = "leaveRoom"
	TypeSendOffer        = "sendOffer"
	TypeSendAnswer       = "sendAnswer"
	TypeSendIceCandidate = "sendIceCandidate"

	// Server to client.
	TypeConnected           = "connected"
	TypeRoomUsers           = "roomUsers"
	TypeUserJoinedRoom      = "userJoinedRoom"
	TypeUserLeftRoom        = "userLeftRoom"
	TypeReceiveOffer        = "receiveOffer"
	TypeReceiveAnswer       = "receiveAnswer"
	TypeReceiveIceCandidate = "receiveIceCandidate"
	TypeError               = "error"
)

// Error codes carried in ErrorPayload.Code.
const (
	CodeRoomFull   = "room_full"
	CodeBadRequest = "bad_request"
	CodeUnknown    = "unknown_type"
)

// Participant is one connection registered in a room.
type Participant struct {
	ConnectionID string `json:"connectionId" yaml:"connection_id"`
	UserID       string `json:"userId" yaml:"user_id"`
}

// ConnectedPayload is the first frame a server sends on a new connection.
type ConnectedPayload struct {
	ConnectionID string `json:"connectionId" yaml:"connection_id"`
}

// JoinRoomPayload asks the server to register the connection in a room.
type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// LeaveRoomPayload asks the server to remove the connection from a room.
type LeaveRoomPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// SendOfferPayload carries an SDP offer to every other room member.
type SendOfferPayload struct {
	RoomID string          `json:"roomId"`
	Offer  json.RawMessage `json:"offer"`
	From   string          `json:"from,omitempty"`
}

// SendAnswerPayload carries an SDP answer to one room member.
type SendAnswerPayload struct {
	RoomID string          `json:"roomId"`
	Signal json.RawMessage `json:"signal"`
	From   string          `json:"from,omitempty"`
	To     string          `json:"to"`
}

// SendIceCandidatePayload carries a trickled ICE candidate to one room member.
type SendIceCandidatePayload struct {
	RoomID    string          `json:"roomId"`
	Candidate json.RawMessage `json:"candidate"`
	From      string          `json:"from,omitempty"`
	To        string          `json:"to"`
}

// ReceiveOfferPayload is a relayed offer. From is the sender's connection id.
type ReceiveOfferPayload struct {
	Offer json.RawMessage `json:"offer"`
	From  string          `json:"from"`
}

// ReceiveAnswerPayload is a relayed answer.
type ReceiveAnswerPayload struct {
	Answer json.RawMessage `json:"answer"`
	From   string          `json:"from"`
}

// ReceiveIceCandidatePayload is a relayed ICE candidate.
type ReceiveIceCandidatePayload struct {
	Candidate json.RawMessage `json:"candidate"`
	From      string          `json:"from"`
}

// ErrorPayload represents error messages from the server.
type ErrorPayload struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// NewMessage creates a Message with the given type and JSON-encoded payload.
func NewMessage(t string, payload any) (*Message, error) {
	if payload == nil {
		return &Message{Type: t}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return &Message{Type: t, Payload: b}, nil
}

// MustMessage is NewMessage for payloads that cannot fail to encode.
func MustMessage(t string, payload any) *Message {
	m, err := NewMessage(t, payload)
	if err != nil {
		panic(err)
	}
	return m
}

// Decode unmarshals the payload into v.
func (m *Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", m.Type, err)
	}
	return nil
}
