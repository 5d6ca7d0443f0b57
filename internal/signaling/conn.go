package signaling

import (
	"log/slog"
	"time"

	"github.com/docconnect/videocall/internal/protocol"
	"github.com/gorilla/websocket"
)

// ConnConfig holds websocket limits for one connection.
type ConnConfig struct {
	// Time allowed to write a message to the peer.
	WriteWait time.Duration
	// Time allowed to read the next pong message from the peer.
	PongWait time.Duration
	// Maximum message size allowed from peer.
	MaxMessageSize int64
	// Outbound queue length.
	SendBuffer int
}

// DefaultConnConfig returns limits large enough for SDP payloads.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendBuffer:     64,
	}
}

// pingPeriod must be less than pongWait.
func (c ConnConfig) pingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

// Conn is a wrapper for a single websocket connection.
type Conn struct {
	// ID is the server-assigned connection id.
	ID string

	hub  *Hub
	ws   *websocket.Conn
	cfg  ConnConfig
	log  *slog.Logger
	send chan *protocol.Message
}

// NewConn wraps ws for hub. The caller registers it and starts both pumps.
func NewConn(hub *Hub, ws *websocket.Conn, id string, cfg ConnConfig) *Conn {
	return &Conn{
		ID:   id,
		hub:  hub,
		ws:   ws,
		cfg:  cfg,
		log:  hub.log.With("connection_id", id),
		send: make(chan *protocol.Message, cfg.SendBuffer),
	}
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Conn) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	for {
		var msg protocol.Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("Websocket read failed", "error", err)
			}
			return
		}
		c.hub.Dispatch(c, &msg)
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(c.cfg.pingPeriod())
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				// The hub closed the channel.
				c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteJSON(msg); err != nil {
				c.log.Warn("Websocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
