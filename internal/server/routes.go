package server

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/docconnect/videocall/internal/config"
	"github.com/docconnect/videocall/internal/logging"
	"github.com/docconnect/videocall/internal/signaling"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// RoomView is the REST representation of a room.
type RoomView struct {
	ID           string                  `json:"id"`
	Participants []signaling.Participant `json:"participants"`
}

// Handlers serves the websocket endpoint and the read-only REST API.
type Handlers struct {
	hub      *signaling.Hub
	cfg      *config.Server
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandlers(hub *signaling.Hub, cfg *config.Server, log *slog.Logger) *Handlers {
	origins := cfg.HTTP.AllowedOrigins
	return &Handlers{
		hub: hub,
		cfg: cfg,
		log: log.With("component", "http"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(origins, "*") || slices.Contains(origins, origin)
			},
		},
	}
}

// NewRouter builds the gin engine.
func NewRouter(h *Handlers) *gin.Engine {
	if h.cfg.Env == logging.EnvProd {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(h.log))

	corsCfg := cors.DefaultConfig()
	if slices.Contains(h.cfg.HTTP.AllowedOrigins, "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = h.cfg.HTTP.AllowedOrigins
	}
	corsCfg.AllowMethods = []string{"GET", "HEAD", "OPTIONS"}
	corsCfg.AllowHeaders = []string{"Content-Type", "Origin", "Accept"}
	router.Use(cors.New(corsCfg))

	router.GET("/health", h.Health)
	router.GET("/ws", h.ServeWs)

	api := router.Group("/api")
	api.GET("/rooms", h.ListRooms)
	api.GET("/rooms/:roomID/participants", h.ListParticipants)
	api.GET("/ice-servers", h.ICEServers)

	return router
}

func (h *Handlers) Health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ServeWs upgrades the request and hands the connection to the hub.
func (h *Handlers) ServeWs(ctx *gin.Context) {
	ws, err := h.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		h.log.Warn("Failed to upgrade connection", "error", err)
		return
	}

	sc := h.cfg.Signaling
	conn := signaling.NewConn(h.hub, ws, uuid.NewString(), signaling.ConnConfig{
		WriteWait:      sc.WriteWait,
		PongWait:       sc.PongWait,
		MaxMessageSize: sc.MaxMessageSize,
		SendBuffer:     sc.SendBuffer,
	})
	if !h.hub.Register(conn) {
		ws.Close()
		return
	}

	go conn.WritePump()
	go conn.ReadPump()
}

func (h *Handlers) ListRooms(ctx *gin.Context) {
	rooms, err := h.hub.Rooms(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	out := make([]RoomView, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, RoomView{ID: r.ID, Participants: r.Participants})
	}
	ctx.JSON(http.StatusOK, gin.H{"rooms": out})
}

func (h *Handlers) ListParticipants(ctx *gin.Context) {
	room, ok, err := h.hub.Room(ctx.Request.Context(), ctx.Param("roomID"))
	if err != nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"participants": room.Participants})
}

// ICEServers returns the ICE configuration clients should use.
func (h *Handlers) ICEServers(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"iceServers":         h.cfg.ICE.Servers(),
		"iceTransportPolicy": h.cfg.ICE.TransportPolicy,
	})
}

func requestLogger(log *slog.Logger) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		log.Debug("HTTP request",
			"method", ctx.Request.Method,
			"path", ctx.FullPath(),
			"status", ctx.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
