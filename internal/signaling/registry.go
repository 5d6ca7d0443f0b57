package signaling

import (
	"errors"
	"slices"
	"sort"

	"github.com/docconnect/videocall/internal/protocol"
)

// ErrRoomFull is returned when a new connection joins a room at capacity.
var ErrRoomFull = errors.New("room is full")

// Participant is one registered connection in a room.
type Participant = protocol.Participant

// Room is a named set of participants. Order is join order.
type Room struct {
	ID           string        `json:"id"`
	Participants []Participant `json:"participants"`
}

// Departure records a participant removed from a room.
type Departure struct {
	RoomID      string
	Participant Participant
}

// Registry tracks room membership. It is not safe for concurrent use; the
// Hub owns it and touches it only from its run loop.
type Registry struct {
	rooms    map[string]*Room
	capacity int

	// memberships maps a connection id to the rooms it joined.
	memberships map[string]map[string]struct{}
}

// NewRegistry creates an empty registry. A capacity of zero or less means
// rooms are unbounded.
func NewRegistry(capacity int) *Registry {
	return &Registry{
		rooms:       make(map[string]*Room),
		capacity:    capacity,
		memberships: make(map[string]map[string]struct{}),
	}
}

// Join registers connectionID in roomID and returns the other participants.
// Joining a room the connection is already in changes nothing.
func (r *Registry) Join(roomID, userID, connectionID string) ([]Participant, error) {
	room, ok := r.rooms[roomID]
	if !ok {
		room = &Room{ID: roomID}
		r.rooms[roomID] = room
	}

	if room.index(connectionID) < 0 {
		if r.capacity > 0 && len(room.Participants) >= r.capacity {
			return nil, ErrRoomFull
		}
		room.Participants = append(room.Participants, Participant{
			ConnectionID: connectionID,
			UserID:       userID,
		})
		rooms, ok := r.memberships[connectionID]
		if !ok {
			rooms = make(map[string]struct{})
			r.memberships[connectionID] = rooms
		}
		rooms[roomID] = struct{}{}
	}

	return r.Others(roomID, connectionID), nil
}

// Leave removes connectionID from roomID. It reports false when the
// connection was not a member. Empty rooms are deleted.
func (r *Registry) Leave(roomID, connectionID string) (Participant, bool) {
	room, ok := r.rooms[roomID]
	if !ok {
		return Participant{}, false
	}
	i := room.index(connectionID)
	if i < 0 {
		return Participant{}, false
	}

	p := room.Participants[i]
	room.Participants = slices.Delete(room.Participants, i, i+1)
	if len(room.Participants) == 0 {
		delete(r.rooms, roomID)
	}

	if rooms, ok := r.memberships[connectionID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(r.memberships, connectionID)
		}
	}
	return p, true
}

// Disconnect removes connectionID from every room it joined.
func (r *Registry) Disconnect(connectionID string) []Departure {
	rooms := r.memberships[connectionID]
	ids := make([]string, 0, len(rooms))
	for id := range rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var out []Departure
	for _, id := range ids {
		if p, ok := r.Leave(id, connectionID); ok {
			out = append(out, Departure{RoomID: id, Participant: p})
		}
	}
	return out
}

// Others lists the participants of roomID excluding connectionID.
func (r *Registry) Others(roomID, connectionID string) []Participant {
	room, ok := r.rooms[roomID]
	if !ok {
		return []Participant{}
	}
	out := make([]Participant, 0, len(room.Participants))
	for _, p := range room.Participants {
		if p.ConnectionID != connectionID {
			out = append(out, p)
		}
	}
	return out
}

// Member reports whether connectionID is registered in roomID.
func (r *Registry) Member(roomID, connectionID string) (Participant, bool) {
	room, ok := r.rooms[roomID]
	if !ok {
		return Participant{}, false
	}
	i := room.index(connectionID)
	if i < 0 {
		return Participant{}, false
	}
	return room.Participants[i], true
}

// Room returns a copy of roomID.
func (r *Registry) Room(roomID string) (Room, bool) {
	room, ok := r.rooms[roomID]
	if !ok {
		return Room{}, false
	}
	return room.clone(), true
}

// Rooms returns copies of all rooms ordered by id.
func (r *Registry) Rooms() []Room {
	out := make([]Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		out = append(out, room.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (room *Room) index(connectionID string) int {
	return slices.IndexFunc(room.Participants, func(p Participant) bool {
		return p.ConnectionID == connectionID
	})
}

func (room *Room) clone() Room {
	return Room{ID: room.ID, Participants: slices.Clone(room.Participants)}
}
