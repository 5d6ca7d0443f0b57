package signaling

import (
	"context"
	"errors"
	"log/slog"

	"github.com/docconnect/videocall/internal/protocol"
)

// ErrHubStopped is returned by queries made after the hub loop exited.
var ErrHubStopped = errors.New("hub stopped")

// inbound is a message read from a connection, tagged with its sender.
type inbound struct {
	conn *Conn
	msg  *protocol.Message
}

// HubConfig tunes the hub.
type HubConfig struct {
	// RoomCapacity caps participants per room. Zero means unbounded.
	RoomCapacity int
}

// Hub is the central brain of the signaling server. It owns the room
// registry and all live connections; every mutation happens on the
// goroutine running Run.
type Hub struct {
	registry *Registry
	relay    *Relay
	conns    map[string]*Conn
	log      *slog.Logger

	register   chan *Conn
	unregister chan *Conn
	inbound    chan inbound
	queries    chan func()
	done       chan struct{}
}

// NewHub creates a new Hub instance.
func NewHub(cfg HubConfig, log *slog.Logger) *Hub {
	h := &Hub{
		registry:   NewRegistry(cfg.RoomCapacity),
		conns:      make(map[string]*Conn),
		log:        log.With("component", "hub"),
		register:   make(chan *Conn),
		unregister: make(chan *Conn),
		inbound:    make(chan inbound, 64),
		queries:    make(chan func()),
		done:       make(chan struct{}),
	}
	h.relay = NewRelay(h.registry, h, h.log)
	return h
}

// Run starts the hub's main processing loop and blocks until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for id, c := range h.conns {
				delete(h.conns, id)
				close(c.send)
			}
			return

		case c := <-h.register:
			h.conns[c.ID] = c
			h.log.Info("Connection registered", "connection_id", c.ID)
			h.Deliver(c.ID, protocol.MustMessage(protocol.TypeConnected, protocol.ConnectedPayload{ConnectionID: c.ID}))

		case c := <-h.unregister:
			if _, ok := h.conns[c.ID]; !ok {
				continue
			}
			for _, d := range h.registry.Disconnect(c.ID) {
				h.announceDeparture(d.RoomID, d.Participant)
			}
			delete(h.conns, c.ID)
			close(c.send)
			h.log.Info("Connection unregistered", "connection_id", c.ID)

		case in := <-h.inbound:
			if _, ok := h.conns[in.conn.ID]; !ok {
				continue
			}
			h.handle(in.conn, in.msg)

		case q := <-h.queries:
			q()
		}
	}
}

// Register hands a new connection to the hub. It returns false once the hub
// has stopped.
func (h *Hub) Register(c *Conn) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes a connection and all of its room memberships.
func (h *Hub) Unregister(c *Conn) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Dispatch queues a message read from c for processing.
func (h *Hub) Dispatch(c *Conn, msg *protocol.Message) {
	select {
	case h.inbound <- inbound{conn: c, msg: msg}:
	case <-h.done:
	}
}

// Rooms returns a snapshot of every room.
func (h *Hub) Rooms(ctx context.Context) ([]Room, error) {
	var out []Room
	err := h.query(ctx, func() { out = h.registry.Rooms() })
	return out, err
}

// Room returns a snapshot of one room.
func (h *Hub) Room(ctx context.Context, roomID string) (Room, bool, error) {
	var (
		out Room
		ok  bool
	)
	err := h.query(ctx, func() { out, ok = h.registry.Room(roomID) })
	return out, ok, err
}

// query runs fn on the hub goroutine and waits for it.
func (h *Hub) query(ctx context.Context, fn func()) error {
	reply := make(chan struct{})
	select {
	case h.queries <- func() { fn(); close(reply) }:
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-reply:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Deliver queues msg for connectionID without blocking. It must only be
// called from the hub goroutine.
func (h *Hub) Deliver(connectionID string, msg *protocol.Message) bool {
	c, ok := h.conns[connectionID]
	if !ok {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		h.log.Warn("Outbound queue full", "connection_id", connectionID, "type", msg.Type)
		return false
	}
}

func (h *Hub) handle(c *Conn, msg *protocol.Message) {
	log := h.log.With("connection_id", c.ID, "type", msg.Type)

	switch msg.Type {
	case protocol.TypeJoinRoom:
		var p protocol.JoinRoomPayload
		if err := msg.Decode(&p); err != nil || p.RoomID == "" {
			h.reject(c, protocol.CodeBadRequest, "joinRoom requires roomId")
			return
		}
		others, err := h.registry.Join(p.RoomID, p.UserID, c.ID)
		if err != nil {
			log.Warn("Join rejected", "room_id", p.RoomID, "error", err)
			h.reject(c, protocol.CodeRoomFull, err.Error())
			return
		}
		log.Info("Joined room", "room_id", p.RoomID, "user_id", p.UserID, "others", len(others))

		h.Deliver(c.ID, protocol.MustMessage(protocol.TypeRoomUsers, others))
		joined := protocol.MustMessage(protocol.TypeUserJoinedRoom, Participant{ConnectionID: c.ID, UserID: p.UserID})
		for _, o := range others {
			h.Deliver(o.ConnectionID, joined)
		}

	case protocol.TypeLeaveRoom:
		var p protocol.LeaveRoomPayload
		if err := msg.Decode(&p); err != nil || p.RoomID == "" {
			h.reject(c, protocol.CodeBadRequest, "leaveRoom requires roomId")
			return
		}
		if participant, ok := h.registry.Leave(p.RoomID, c.ID); ok {
			log.Info("Left room", "room_id", p.RoomID)
			h.announceDeparture(p.RoomID, participant)
		}

	case protocol.TypeSendOffer:
		var p protocol.SendOfferPayload
		if err := msg.Decode(&p); err != nil {
			h.reject(c, protocol.CodeBadRequest, err.Error())
			return
		}
		if _, err := h.relay.Offer(p.RoomID, c.ID, p.Offer); err != nil {
			log.Debug("Offer not relayed", "error", err)
		}

	case protocol.TypeSendAnswer:
		var p protocol.SendAnswerPayload
		if err := msg.Decode(&p); err != nil {
			h.reject(c, protocol.CodeBadRequest, err.Error())
			return
		}
		if err := h.relay.Targeted(SignalAnswer, p.RoomID, c.ID, p.To, p.Signal); err != nil {
			log.Debug("Answer not relayed", "error", err)
		}

	case protocol.TypeSendIceCandidate:
		var p protocol.SendIceCandidatePayload
		if err := msg.Decode(&p); err != nil {
			h.reject(c, protocol.CodeBadRequest, err.Error())
			return
		}
		if err := h.relay.Targeted(SignalIceCandidate, p.RoomID, c.ID, p.To, p.Candidate); err != nil {
			log.Debug("Candidate not relayed", "error", err)
		}

	default:
		log.Warn("Unknown message type")
		h.reject(c, protocol.CodeUnknown, "unknown message type "+msg.Type)
	}
}

func (h *Hub) announceDeparture(roomID string, p Participant) {
	left := protocol.MustMessage(protocol.TypeUserLeftRoom, p)
	for _, o := range h.registry.Others(roomID, p.ConnectionID) {
		h.Deliver(o.ConnectionID, left)
	}
}

func (h *Hub) reject(c *Conn, code, text string) {
	h.Deliver(c.ID, protocol.MustMessage(protocol.TypeError, protocol.ErrorPayload{Code: code, Error: text}))
}
