package signaling

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/docconnect/videocall/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T, capacity int) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(HubConfig{RoomCapacity: capacity}, discardLogger())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func connect(t *testing.T, h *Hub, id string) *Conn {
	t.Helper()
	c := NewConn(h, nil, id, DefaultConnConfig())
	require.True(t, h.Register(c))
	welcome := next(t, c)
	require.Equal(t, protocol.TypeConnected, welcome.Type)
	return c
}

func next(t *testing.T, c *Conn) *protocol.Message {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("no message for %s", c.ID)
		return nil
	}
}

func expectSilence(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case msg := <-c.send:
		t.Fatalf("unexpected %s for %s", msg.Type, c.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func send(h *Hub, c *Conn, typ string, payload any) {
	h.Dispatch(c, protocol.MustMessage(typ, payload))
}

func TestHubJoinAnnouncesParticipants(t *testing.T) {
	h := startHub(t, 2)
	a := connect(t, h, "a")
	b := connect(t, h, "b")

	send(h, a, protocol.TypeJoinRoom, protocol.JoinRoomPayload{RoomID: "apt-123", UserID: "ua"})
	msg := next(t, a)
	require.Equal(t, protocol.TypeRoomUsers, msg.Type)
	var users []Participant
	require.NoError(t, msg.Decode(&users))
	assert.Empty(t, users)

	send(h, b, protocol.TypeJoinRoom, protocol.JoinRoomPayload{RoomID: "apt-123", UserID: "ub"})
	msg = next(t, b)
	require.NoError(t, msg.Decode(&users))
	assert.Equal(t, []Participant{{ConnectionID: "a", UserID: "ua"}}, users)

	msg = next(t, a)
	require.Equal(t, protocol.TypeUserJoinedRoom, msg.Type)
	var joined Participant
	require.NoError(t, msg.Decode(&joined))
	assert.Equal(t, Participant{ConnectionID: "b", UserID: "ub"}, joined)
}

func TestHubRejectsJoinIntoFullRoom(t *testing.T) {
	h := startHub(t, 2)
	a := connect(t, h, "a")
	b := connect(t, h, "b")
	c := connect(t, h, "c")

	send(h, a, protocol.TypeJoinRoom, protocol.JoinRoomPayload{RoomID: "r", UserID: "ua"})
	next(t, a)
	send(h, b, protocol.TypeJoinRoom, protocol.JoinRoomPayload{RoomID: "r", UserID: "ub"})
	next(t, b)
	next(t, a)

	send(h, c, protocol.TypeJoinRoom, protocol.JoinRoomPayload{RoomID: "r", UserID: "uc"})
	msg := next(t, c)
	require.Equal(t, protocol.TypeError, msg.Type)
	var e protocol.ErrorPayload
	require.NoError(t, msg.Decode(&e))
	assert.Equal(t, protocol.CodeRoomFull, e.Code)

	expectSilence(t, a)
	expectSilence(t, b)
}

func TestHubRelaysAndStampsSender(t *testing.T) {
	h := startHub(t, 2)
	a := connect(t, h, "a")
	b := connect(t, h, "b")
	send(h, a, protocol.TypeJoinRoom, protocol.JoinRoomPayload{RoomID: "r", UserID: "ua"})
	next(t, a)
	send(h, b, protocol.TypeJoinRoom, protocol.JoinRoomPayload{RoomID: "r", UserID: "ub"})
	next(t, b)
	next(t, a)

	send(h, b, protocol.TypeSendOffer, protocol.SendOfferPayload{
		RoomID: "r",
		Offer:  json.RawMessage(`{"type":"offer","sdp":"o"}`),
		From:   "spoofed",
	})
	msg := next(t, a)
	require.Equal(t, protocol.TypeReceiveOffer, msg.Type)
	var offer protocol.ReceiveOfferPayload
	require.NoError(t, msg.Decode(&offer))
	assert.Equal(t, "b", offer.From)

	send(h, a, protocol.TypeSendAnswer, protocol.SendAnswerPayload{
		RoomID: "r",
		Signal: json.RawMessage(`{"type":"answer","sdp":"a"}`),
		To:     "b",
	})
	msg = next(t, b)
	require.Equal(t, protocol.TypeReceiveAnswer, msg.Type)

	send(h, a, protocol.TypeSendIceCandidate, protocol.SendIceCandidatePayload{
		RoomID:    "r",
		Candidate: json.RawMessage(`{"type":"candidate"}`),
		To:        "nobody",
	})
	expectSilence(t, a)
	expectSilence(t, b)
}

func TestHubLeaveBroadcastsOnce(t *testing.T) {
	h := startHub(t, 2)
	a := connect(t, h, "a")
	b := connect(t, h, "b")
	send(h, a, protocol.TypeJoinRoom, protocol.JoinRoomPayload{RoomID: "r", UserID: "ua"})
	next(t, a)
	send(h, b, protocol.TypeJoinRoom, protocol.JoinRoomPayload{RoomID: "r", UserID: "ub"})
	next(t, b)
	next(t, a)

	send(h, a, protocol.TypeLeaveRoom, protocol.LeaveRoomPayload{RoomID: "r", UserID: "ua"})
	send(h, a, protocol.TypeLeaveRoom, protocol.LeaveRoomPayload{RoomID: "r", UserID: "ua"})

	msg := next(t, b)
	require.Equal(t, protocol.TypeUserLeftRoom, msg.Type)
	var left Participant
	require.NoError(t, msg.Decode(&left))
	assert.Equal(t, Participant{ConnectionID: "a", UserID: "ua"}, left)
	expectSilence(t, b)

	room, ok, err := h.Room(context.Background(), "r")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []Participant{{ConnectionID: "b", UserID: "ub"}}, room.Participants)
}

func TestHubUnregisterLeavesRoomsAndDeletesEmpty(t *testing.T) {
	h := startHub(t, 2)
	a := connect(t, h, "a")
	b := connect(t, h, "b")
	send(h, a, protocol.TypeJoinRoom, protocol.JoinRoomPayload{RoomID: "r", UserID: "ua"})
	next(t, a)
	send(h, b, protocol.TypeJoinRoom, protocol.JoinRoomPayload{RoomID: "r", UserID: "ub"})
	next(t, b)
	next(t, a)

	h.Unregister(b)
	msg := next(t, a)
	assert.Equal(t, protocol.TypeUserLeftRoom, msg.Type)

	_, open := <-b.send
	assert.False(t, open, "unregister closes the outbound queue")

	h.Unregister(a)
	rooms, err := h.Rooms(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestHubRejectsUnknownType(t *testing.T) {
	h := startHub(t, 2)
	a := connect(t, h, "a")

	h.Dispatch(a, &protocol.Message{Type: "createRoom"})
	msg := next(t, a)
	require.Equal(t, protocol.TypeError, msg.Type)
	var e protocol.ErrorPayload
	require.NoError(t, msg.Decode(&e))
	assert.Equal(t, protocol.CodeUnknown, e.Code)
}
