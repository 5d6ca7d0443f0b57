package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/docconnect/videocall/internal/config"
	"github.com/docconnect/videocall/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setFlag(t *testing.T, p *string, v string) {
	t.Helper()
	old := *p
	*p = v
	t.Cleanup(func() { *p = old })
}

func TestResolveRoom(t *testing.T) {
	setFlag(t, &flagAppointment, "42")
	room, err := resolveRoom()
	require.NoError(t, err)
	assert.Equal(t, "appointment_42", room)

	setFlag(t, &flagRoom, "custom")
	_, err = resolveRoom()
	assert.Error(t, err)

	flagAppointment = ""
	room, err = resolveRoom()
	require.NoError(t, err)
	assert.Equal(t, "custom", room)

	flagRoom = ""
	_, err = resolveRoom()
	assert.Error(t, err)
}

func TestLoadConfigWrapsErrors(t *testing.T) {
	t.Setenv("USER_ID", "")
	_, err := LoadConfig(config.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestFetchAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/rooms":
			w.Write([]byte(`{"rooms":[{"id":"appointment_1","participants":[{"connectionId":"c1","userId":"doctor"}]}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	setFlag(t, &flagAPIServer, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws")

	var body struct {
		Rooms []struct {
			ID string `json:"id"`
		} `json:"rooms"`
	}
	require.NoError(t, fetchAPI(context.Background(), "/api/rooms", &body))
	require.Len(t, body.Rooms, 1)
	assert.Equal(t, "appointment_1", body.Rooms[0].ID)

	require.NoError(t, listRooms(context.Background()))

	err := fetchAPI(context.Background(), "/api/missing", &body)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestEncodeFormats(t *testing.T) {
	rooms := struct {
		Rooms []roomListing `json:"rooms" yaml:"rooms"`
	}{Rooms: []roomListing{{ID: "appointment_1", Participants: []protocol.Participant{{ConnectionID: "c1", UserID: "doctor"}}}}}

	var buf bytes.Buffer
	require.NoError(t, encode(&buf, "json", rooms))
	assert.JSONEq(t, `{"rooms":[{"id":"appointment_1","participants":[{"connectionId":"c1","userId":"doctor"}]}]}`, buf.String())

	buf.Reset()
	require.NoError(t, encode(&buf, "yaml", rooms))
	assert.Contains(t, buf.String(), "- id: appointment_1")
	assert.Contains(t, buf.String(), "user_id: doctor")

	assert.Error(t, encode(&buf, "xml", rooms))
}
