package ui

import (
	"fmt"
	"io"

	"github.com/docconnect/videocall/internal/protocol"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// RoomRow is one line of the rooms table.
type RoomRow struct {
	ID           string
	Participants []protocol.Participant
}

// RenderRooms writes the rooms table to w.
func RenderRooms(w io.Writer, rooms []RoomRow) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Active rooms")
	t.SetStyle(table.StyleRounded)
	t.Style().Title.Align = text.AlignCenter
	t.AppendHeader(table.Row{"#", "Room", "Participants", "Users"})

	for i, r := range rooms {
		users := ""
		for j, p := range r.Participants {
			if j > 0 {
				users += ", "
			}
			users += p.UserID
		}
		t.AppendRow(table.Row{i + 1, r.ID, len(r.Participants), users})
	}
	if len(rooms) == 0 {
		t.AppendRow(table.Row{"", "no active rooms", "", ""})
	}
	t.AppendFooter(table.Row{"", "Total", len(rooms), ""})
	t.Render()
}

// RenderICEServers writes the ICE server list to w.
func RenderICEServers(w io.Writer, urls [][]string, policy string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleRounded)
	t.SetTitle(fmt.Sprintf("ICE servers (policy %s)", policy))
	t.AppendHeader(table.Row{"#", "URLs"})
	for i, u := range urls {
		t.AppendRow(table.Row{i + 1, fmt.Sprint(u)})
	}
	t.Render()
}
