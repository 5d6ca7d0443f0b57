package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/docconnect/videocall/internal/clock"
	"github.com/docconnect/videocall/internal/dns"
	"github.com/docconnect/videocall/internal/protocol"
	"github.com/gorilla/websocket"
)

var (
	// ErrDisconnected is returned by sends while no connection is up.
	ErrDisconnected = errors.New("signaling transport disconnected")
	// ErrClosed is returned once the client has been closed or gave up
	// reconnecting.
	ErrClosed = errors.New("signaling transport closed")
	// ErrQueueFull is returned when the outbound queue cannot take more.
	ErrQueueFull = errors.New("signaling send queue full")
)

// Listener is told about connection loss and recovery. Both methods run on
// the client's own goroutines.
type Listener interface {
	OnDisconnect(err error)
	OnReconnect(connectionID string)
}

// Config holds dial and reconnect settings.
type Config struct {
	URL               string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	HandshakeTimeout  time.Duration
	WriteWait         time.Duration
	PongWait          time.Duration
	MaxMessageSize    int64
	SendBuffer        int
}

func (c *Config) setDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = time.Second
	}
	if c.MaxReconnectDelay <= 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
	if c.WriteWait <= 0 {
		c.WriteWait = 10 * time.Second
	}
	if c.PongWait <= 0 {
		c.PongWait = 60 * time.Second
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 64 * 1024
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 64
	}
}

// link is one websocket connection. A Client replaces its link on every
// reconnect.
type link struct {
	ws       *websocket.Conn
	id       string
	out      chan *protocol.Message
	stop     chan struct{}
	stopOnce sync.Once
}

func (l *link) close() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Client manages the websocket connection to the signaling server. Inbound
// messages from every connection it makes arrive on one channel.
type Client struct {
	cfg      Config
	resolver *dns.Resolver
	clock    clock.Clock
	log      *slog.Logger
	incoming chan *protocol.Message
	done     chan struct{}
	doneOnce sync.Once

	mu       sync.Mutex
	link     *link
	listener Listener
	closed   bool
	err      error
}

// NewClient creates a client. Call Connect to dial.
func NewClient(cfg Config, log *slog.Logger) *Client {
	cfg.setDefaults()
	return &Client{
		cfg:      cfg,
		resolver: dns.Default(),
		clock:    clock.Real(),
		log:      log.With("component", "transport"),
		incoming: make(chan *protocol.Message, 32),
		done:     make(chan struct{}),
	}
}

// SetListener installs l. Call it before Connect.
func (c *Client) SetListener(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = l
}

// SetClock replaces the clock used for reconnect backoff.
func (c *Client) SetClock(clk clock.Clock) {
	c.clock = clk
}

// Connect dials the server and waits for its welcome frame.
func (c *Client) Connect(ctx context.Context) error {
	l, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		l.ws.Close()
		return ErrClosed
	}
	c.link = l
	c.mu.Unlock()

	c.log.Info("Connected to signaling server", "url", c.cfg.URL, "connection_id", l.id)
	c.start(l)
	return nil
}

func (c *Client) dial(ctx context.Context) (*link, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %w", err)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
		NetDialContext:   c.resolver.DialContext,
	}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect: %w", err)
	}

	ws.SetReadLimit(c.cfg.MaxMessageSize)
	ws.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	var welcome protocol.Message
	if err := ws.ReadJSON(&welcome); err != nil {
		ws.Close()
		return nil, fmt.Errorf("read welcome: %w", err)
	}
	var p protocol.ConnectedPayload
	if welcome.Type != protocol.TypeConnected {
		ws.Close()
		return nil, fmt.Errorf("expected %s, got %s", protocol.TypeConnected, welcome.Type)
	}
	if err := welcome.Decode(&p); err != nil || p.ConnectionID == "" {
		ws.Close()
		return nil, fmt.Errorf("welcome without connection id: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	})

	return &link{
		ws:   ws,
		id:   p.ConnectionID,
		out:  make(chan *protocol.Message, c.cfg.SendBuffer),
		stop: make(chan struct{}),
	}, nil
}

func (c *Client) start(l *link) {
	go c.readPump(l)
	go c.writePump(l)
}

// readPump reads messages from one connection.
func (c *Client) readPump(l *link) {
	defer func() {
		l.close()
		l.ws.Close()
	}()

	for {
		var msg protocol.Message
		if err := l.ws.ReadJSON(&msg); err != nil {
			c.dropped(l, err)
			return
		}
		select {
		case c.incoming <- &msg:
		case <-c.done:
			return
		case <-l.stop:
			return
		}
	}
}

// writePump writes messages to one connection and sends periodic pings.
func (c *Client) writePump(l *link) {
	ticker := time.NewTicker((c.cfg.PongWait * 9) / 10)
	defer func() {
		ticker.Stop()
		l.ws.Close()
	}()

	for {
		select {
		case msg := <-l.out:
			l.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := l.ws.WriteJSON(msg); err != nil {
				c.dropped(l, err)
				return
			}

		case <-ticker.C:
			l.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := l.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.dropped(l, err)
				return
			}

		case <-l.stop:
			l.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			// Flush what was queued before Close, such as a final leaveRoom.
			for flushed := false; !flushed; {
				select {
				case msg := <-l.out:
					if l.ws.WriteJSON(msg) != nil {
						return
					}
				default:
					flushed = true
				}
			}
			l.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// dropped handles the loss of l. Only the first report for the current
// link starts a reconnect.
func (c *Client) dropped(l *link, err error) {
	c.mu.Lock()
	if c.closed || c.link != l {
		c.mu.Unlock()
		return
	}
	c.link = nil
	listener := c.listener
	c.mu.Unlock()

	l.close()
	c.log.Warn("Signaling connection lost", "connection_id", l.id, "error", err)
	if listener != nil {
		listener.OnDisconnect(err)
	}
	go c.reconnect()
}

func (c *Client) reconnect() {
	delay := c.cfg.ReconnectDelay
	var lastErr error
	for attempt := 1; attempt <= c.cfg.ReconnectAttempts; attempt++ {
		select {
		case <-c.clock.After(delay):
		case <-c.done:
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.HandshakeTimeout)
		l, err := c.dial(ctx)
		cancel()
		if err != nil {
			lastErr = err
			c.log.Warn("Reconnect failed", "attempt", attempt, "error", err)
			delay = min(delay*2, c.cfg.MaxReconnectDelay)
			continue
		}

		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			l.ws.Close()
			return
		}
		c.link = l
		listener := c.listener
		c.mu.Unlock()

		c.log.Info("Reconnected to signaling server", "attempt", attempt, "connection_id", l.id)
		c.start(l)
		if listener != nil {
			listener.OnReconnect(l.id)
		}
		return
	}

	c.log.Error("Giving up on signaling server", "attempts", c.cfg.ReconnectAttempts, "error", lastErr)
	c.fail(fmt.Errorf("%w: %v", ErrClosed, lastErr))
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	c.closed = true
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.doneOnce.Do(func() { close(c.done) })
}

// Send queues msg on the current connection without blocking.
func (c *Client) Send(msg *protocol.Message) error {
	c.mu.Lock()
	l, closed := c.link, c.closed
	c.mu.Unlock()

	switch {
	case closed:
		return ErrClosed
	case l == nil:
		return ErrDisconnected
	}
	select {
	case l.out <- msg:
		return nil
	case <-l.stop:
		return ErrDisconnected
	default:
		return ErrQueueFull
	}
}

func (c *Client) send(t string, payload any) error {
	msg, err := protocol.NewMessage(t, payload)
	if err != nil {
		return err
	}
	return c.Send(msg)
}

// ConnectionID returns the server-assigned ID of the current connection,
// or "" while disconnected.
func (c *Client) ConnectionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.link == nil {
		return ""
	}
	return c.link.id
}

// Incoming returns the channel of inbound messages.
func (c *Client) Incoming() <-chan *protocol.Message {
	return c.incoming
}

// Done is closed once the client is closed or gave up reconnecting.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the client stopped, or nil.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close closes the connection and stops reconnecting.
func (c *Client) Close() {
	c.mu.Lock()
	l := c.link
	c.link = nil
	c.closed = true
	c.mu.Unlock()

	if l != nil {
		l.close()
	}
	c.doneOnce.Do(func() { close(c.done) })
}

// JoinRoom asks to join roomID.
func (c *Client) JoinRoom(roomID, userID string) error {
	return c.send(protocol.TypeJoinRoom, protocol.JoinRoomPayload{RoomID: roomID, UserID: userID})
}

// LeaveRoom asks to leave roomID.
func (c *Client) LeaveRoom(roomID, userID string) error {
	return c.send(protocol.TypeLeaveRoom, protocol.LeaveRoomPayload{RoomID: roomID, UserID: userID})
}

// SendOffer relays an offer to the rest of the room.
func (c *Client) SendOffer(roomID string, offer json.RawMessage) error {
	return c.send(protocol.TypeSendOffer, protocol.SendOfferPayload{
		RoomID: roomID,
		Offer:  offer,
		From:   c.ConnectionID(),
	})
}

// SendAnswer relays an answer to one participant.
func (c *Client) SendAnswer(roomID, to string, answer json.RawMessage) error {
	return c.send(protocol.TypeSendAnswer, protocol.SendAnswerPayload{
		RoomID: roomID,
		Signal: answer,
		From:   c.ConnectionID(),
		To:     to,
	})
}

// SendIceCandidate relays a candidate to one participant.
func (c *Client) SendIceCandidate(roomID, to string, candidate json.RawMessage) error {
	return c.send(protocol.TypeSendIceCandidate, protocol.SendIceCandidatePayload{
		RoomID:    roomID,
		Candidate: candidate,
		From:      c.ConnectionID(),
		To:        to,
	})
}
