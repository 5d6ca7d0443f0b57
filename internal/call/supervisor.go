package call

import (
	"log/slog"
	"sync"
)

// Rejoiner is the part of a Session the Supervisor drives.
type Rejoiner interface {
	CurrentRoom() string
	Invalidate(reason string)
	Rejoin(roomID string) error
}

// Supervisor restores room membership after the signaling transport
// reconnects. The server forgets a connection's rooms when it drops, and
// the peer tears its side down, so the negotiation is discarded and the
// room joined again under the new connection ID.
type Supervisor struct {
	session Rejoiner
	log     *slog.Logger

	mu           sync.Mutex
	lastRoom     string
	disconnected bool
}

func NewSupervisor(session Rejoiner, log *slog.Logger) *Supervisor {
	return &Supervisor{session: session, log: log.With("component", "supervisor")}
}

// OnDisconnect remembers the room that was joined when the transport went
// away.
func (sv *Supervisor) OnDisconnect(err error) {
	room := sv.session.CurrentRoom()

	sv.mu.Lock()
	if !sv.disconnected {
		sv.lastRoom = room
	}
	sv.disconnected = true
	sv.mu.Unlock()

	sv.log.Warn("Signaling disconnected", "room_id", room, "error", err)
}

// OnReconnect drops the stale negotiation and rejoins the room the session
// is in now. A room left while the transport was down stays left.
func (sv *Supervisor) OnReconnect(connectionID string) {
	sv.mu.Lock()
	last := sv.lastRoom
	was := sv.disconnected
	sv.disconnected = false
	sv.lastRoom = ""
	sv.mu.Unlock()

	if !was {
		return
	}
	room := sv.session.CurrentRoom()
	sv.log.Info("Signaling reconnected", "connection_id", connectionID, "room_id", room, "last_room", last)
	sv.session.Invalidate("signaling reconnected")
	if room == "" {
		return
	}
	if err := sv.session.Rejoin(room); err != nil {
		sv.log.Error("Cannot rejoin room", "room_id", room, "error", err)
	}
}

// LastRoom returns the room remembered at the last disconnect.
func (sv *Supervisor) LastRoom() string {
	sv.mu.Lock()
	defer sv.mu.Unlock()
	return sv.lastRoom
}
