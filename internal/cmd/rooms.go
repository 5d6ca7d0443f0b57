package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/docconnect/videocall/internal/config"
	"github.com/docconnect/videocall/internal/protocol"
	"github.com/docconnect/videocall/internal/ui"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	flagAPIServer string
	flagOutput    string
)

type roomListing struct {
	ID           string                 `json:"id" yaml:"id"`
	Participants []protocol.Participant `json:"participants" yaml:"participants"`
}

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List active rooms on the signaling server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listRooms(cmd.Context())
	},
}

var iceCmd = &cobra.Command{
	Use:   "ice",
	Short: "Show the ICE servers the signaling server hands out",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showICEServers(cmd.Context())
	},
}

func listRooms(ctx context.Context) error {
	var body struct {
		Rooms []roomListing `json:"rooms" yaml:"rooms"`
	}
	if err := fetchAPI(ctx, "/api/rooms", &body); err != nil {
		return err
	}
	if flagOutput != "table" {
		return encode(os.Stdout, flagOutput, body)
	}

	rows := make([]ui.RoomRow, len(body.Rooms))
	for i, r := range body.Rooms {
		rows[i] = ui.RoomRow{ID: r.ID, Participants: r.Participants}
	}
	ui.RenderRooms(os.Stdout, rows)
	return nil
}

func showICEServers(ctx context.Context) error {
	var body struct {
		ICEServers []struct {
			URLs       []string `json:"urls" yaml:"urls"`
			Username   string   `json:"username,omitempty" yaml:"username,omitempty"`
			Credential any      `json:"credential,omitempty" yaml:"credential,omitempty"`
		} `json:"iceServers" yaml:"ice_servers"`
		Policy string `json:"iceTransportPolicy" yaml:"transport_policy"`
	}
	if err := fetchAPI(ctx, "/api/ice-servers", &body); err != nil {
		return err
	}
	if flagOutput != "table" {
		return encode(os.Stdout, flagOutput, body)
	}

	urls := make([][]string, len(body.ICEServers))
	for i, s := range body.ICEServers {
		urls[i] = s.URLs
	}
	ui.RenderICEServers(os.Stdout, urls, body.Policy)
	return nil
}

func fetchAPI(ctx context.Context, path string, out any) error {
	server := flagAPIServer
	if server == "" {
		server = os.Getenv("SIGNALING_URL")
	}
	if server == "" {
		server = config.DefaultServerURL
	}
	base, err := config.APIURL(server)
	if err != nil {
		return fmt.Errorf("invalid server url %q: %w", server, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("query %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("query %s: server returned %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// encode writes v as JSON or YAML.
func encode(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	}
	return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
}

func init() {
	rootCmd.AddCommand(roomsCmd, iceCmd)

	for _, c := range []*cobra.Command{roomsCmd, iceCmd} {
		c.Flags().StringVarP(&flagAPIServer, "server", "S", "", "Signaling websocket URL")
		c.Flags().StringVarP(&flagOutput, "output", "o", "table", "Output format: table, json or yaml")
	}
}
