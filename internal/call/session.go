package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/docconnect/videocall/internal/clock"
	"github.com/docconnect/videocall/internal/config"
	"github.com/docconnect/videocall/internal/media"
	"github.com/docconnect/videocall/internal/protocol"
	"github.com/pion/webrtc/v4"
)

// Signaler sends requests to the signaling server.
type Signaler interface {
	JoinRoom(roomID, userID string) error
	LeaveRoom(roomID, userID string) error
	SendOffer(roomID string, offer json.RawMessage) error
	SendAnswer(roomID, to string, answer json.RawMessage) error
	SendIceCandidate(roomID, to string, candidate json.RawMessage) error
}

// Config holds the per-session call settings.
type Config struct {
	UserID             string
	ICEServers         []webrtc.ICEServer
	ICETransportPolicy webrtc.ICETransportPolicy
	Trickle            bool
	WatchdogTimeout    time.Duration
	ForceConnectDelay  time.Duration
	// AutoCall makes the joiner call the first participant already in
	// the room.
	AutoCall bool
}

// Deps are the collaborators of a Session.
type Deps struct {
	Signaler    Signaler
	Media       *media.Manager
	Negotiators NegotiatorFactory
	Clock       clock.Clock
	Log         *slog.Logger
	// OnChange receives a snapshot after every observable change. It is
	// called without any session lock held and may be called from
	// several goroutines; Seq orders the snapshots.
	OnChange func(Snapshot)
}

// Snapshot is a copy of the session state for display.
type Snapshot struct {
	Seq              uint64
	State            ConnectionState
	Generation       uint64
	RoomID           string
	Target           string
	Initiator        bool
	Participants     []protocol.Participant
	LocalStream      *media.Stream
	RemoteStream     *media.RemoteStream
	MicEnabled       bool
	VideoEnabled     bool
	RemoteMediaKnown bool
	RemoteMic        bool
	RemoteVideo      bool
	LastError        error
}

// Session orchestrates one user's side of a 1:1 call: room membership,
// local media and the negotiation with the current peer.
type Session struct {
	cfg         Config
	signaler    Signaler
	media       *media.Manager
	negotiators NegotiatorFactory
	clock       clock.Clock
	log         *slog.Logger
	onChange    func(Snapshot)

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	machine      Machine
	negotiator   Negotiator
	watchdog     clock.Timer
	target       string
	initiator    bool
	remote       *media.RemoteStream
	remoteKnown  bool
	remoteMic    bool
	remoteVideo  bool
	room         string
	participants []protocol.Participant
	lastErr      error
	seq          uint64
}

// NewSession creates an idle session.
func NewSession(cfg Config, deps Deps) *Session {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if cfg.WatchdogTimeout <= 0 {
		cfg.WatchdogTimeout = config.DefaultWatchdogTimeout
	}
	if cfg.ForceConnectDelay <= 0 {
		cfg.ForceConnectDelay = config.DefaultForceConnectDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		cfg:         cfg,
		signaler:    deps.Signaler,
		media:       deps.Media,
		negotiators: deps.Negotiators,
		clock:       deps.Clock,
		log:         deps.Log.With("component", "session", "user_id", cfg.UserID),
		onChange:    deps.OnChange,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// RoomIDForAppointment derives the room shared by both parties of an
// appointment.
func RoomIDForAppointment(appointmentID string) string {
	return "appointment_" + appointmentID
}

// Snapshot returns the current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// CurrentRoom returns the joined room or "".
func (s *Session) CurrentRoom() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room
}

// JoinRoom announces membership and then prepares local media. A media
// failure leaves the session in the room with state Failed.
func (s *Session) JoinRoom(ctx context.Context, roomID string) error {
	if roomID == "" {
		return NewError("join room", ErrNotInRoom)
	}
	if prev := s.CurrentRoom(); prev != "" && prev != roomID {
		s.LeaveRoom(ctx)
	}

	s.mu.Lock()
	s.room = roomID
	s.participants = nil
	s.lastErr = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)

	s.log.Info("Joining room", "room_id", roomID)
	if err := s.signaler.JoinRoom(roomID, s.cfg.UserID); err != nil {
		return NewError("join room", err)
	}

	if _, err := s.PrepareLocalMedia(ctx); err != nil {
		return err
	}
	return nil
}

// Rejoin re-announces membership after the signaling transport came back.
// Local media is kept.
func (s *Session) Rejoin(roomID string) error {
	s.mu.Lock()
	s.room = roomID
	s.participants = nil
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)

	s.log.Info("Rejoining room", "room_id", roomID)
	if err := s.signaler.JoinRoom(roomID, s.cfg.UserID); err != nil {
		return NewError("rejoin room", err)
	}
	return nil
}

// LeaveRoom drops the call, releases local media and leaves the room. It
// never fails; transport errors are logged.
func (s *Session) LeaveRoom(ctx context.Context) {
	s.mu.Lock()
	room := s.room
	s.room = ""
	s.participants = nil
	closers := s.applyLocked(Event{Kind: EventTeardown}, nil)
	s.target = ""
	s.initiator = false
	s.mu.Unlock()

	if room != "" {
		s.log.Info("Leaving room", "room_id", room)
		if err := s.signaler.LeaveRoom(room, s.cfg.UserID); err != nil {
			s.log.Warn("Cannot send leave", "room_id", room, "error", err)
		}
	}
	s.closeAll(closers)
	s.media.Release()
	s.notify(s.Snapshot())
}

// PrepareLocalMedia acquires the local stream, moving the session to
// Failed when nothing can be opened.
func (s *Session) PrepareLocalMedia(ctx context.Context) (*media.Stream, error) {
	stream, err := s.media.Acquire(ctx)
	if err != nil {
		if errors.Is(err, media.ErrReleased) || errors.Is(err, context.Canceled) {
			return nil, NewError("prepare media", err)
		}
		s.mu.Lock()
		gen := s.machine.Generation
		s.mu.Unlock()
		s.dispatch(Event{Kind: EventMediaFailed, Generation: gen, Err: err})
		return nil, NewError("prepare media", err)
	}
	s.notify(s.Snapshot())
	return stream, nil
}

// StartCall begins a negotiation with target, replacing any existing one.
// Only the initiator produces an offer.
func (s *Session) StartCall(ctx context.Context, target string, initiator bool) error {
	if s.CurrentRoom() == "" {
		return NewError("start call", ErrNotInRoom)
	}
	stream, err := s.PrepareLocalMedia(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	closers := s.applyLocked(Event{Kind: EventCallStarted}, nil)
	s.target = target
	s.initiator = initiator
	gen := s.machine.Generation
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.closeAll(closers)
	s.notify(snap)

	s.log.Info("Starting call", "target", target, "initiator", initiator, "generation", gen)
	return s.spawn(gen, initiator, stream, nil)
}

// ReceiveOffer answers an offer from another participant, replacing any
// negotiation in progress.
func (s *Session) ReceiveOffer(ctx context.Context, offer Signal, from string) error {
	if offer.Type != SignalOffer {
		return WrapError("receive offer", ErrUnexpectedSignal, offer.Type)
	}
	if s.CurrentRoom() == "" {
		return NewError("receive offer", ErrNotInRoom)
	}
	stream, err := s.PrepareLocalMedia(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	closers := s.applyLocked(Event{Kind: EventCallStarted}, nil)
	s.target = from
	s.initiator = false
	gen := s.machine.Generation
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.closeAll(closers)
	s.notify(snap)

	s.log.Info("Answering offer", "from", from, "generation", gen)
	return s.spawn(gen, false, stream, &offer)
}

// ReceiveAnswer applies an answer from the current peer.
func (s *Session) ReceiveAnswer(answer Signal, from string) error {
	if answer.Type != SignalAnswer {
		return WrapError("receive answer", ErrUnexpectedSignal, answer.Type)
	}
	return s.deliver("receive answer", answer, from)
}

// ReceiveIceCandidate applies a candidate from the current peer.
func (s *Session) ReceiveIceCandidate(candidate Signal, from string) error {
	if candidate.Type == "" {
		candidate.Type = SignalCandidate
	}
	return s.deliver("receive candidate", candidate, from)
}

func (s *Session) deliver(op string, sig Signal, from string) error {
	s.mu.Lock()
	n, target, gen := s.negotiator, s.target, s.machine.Generation
	s.mu.Unlock()

	if n == nil {
		s.log.Debug("Dropping signal without negotiation", "type", sig.Type, "from", from)
		return NewError(op, ErrNoNegotiation)
	}
	if from != target {
		s.log.Debug("Dropping signal from unexpected peer", "type", sig.Type, "from", from, "target", target)
		return WrapError(op, ErrWrongPeer, from)
	}
	if err := n.Signal(sig); err != nil {
		s.log.Warn("Cannot apply signal", "type", sig.Type, "error", err)
		// A rejected candidate leaves the rest of the negotiation usable.
		if sig.Type == SignalAnswer {
			s.dispatch(Event{Kind: EventPeerError, Generation: gen, Err: fmt.Errorf("%w: %w", ErrPeer, err)})
		}
		return NewError(op, err)
	}
	return nil
}

// ForceConnect tears the call down, waits briefly and calls target as
// initiator.
func (s *Session) ForceConnect(ctx context.Context, target string) error {
	s.Invalidate("force connect")

	select {
	case <-s.clock.After(s.cfg.ForceConnectDelay):
	case <-ctx.Done():
		return NewError("force connect", ctx.Err())
	}
	return s.StartCall(ctx, target, true)
}

// Invalidate drops the negotiation but keeps the room and local media.
func (s *Session) Invalidate(reason string) {
	s.mu.Lock()
	closers := s.applyLocked(Event{Kind: EventTeardown}, nil)
	s.target = ""
	s.initiator = false
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Info("Negotiation invalidated", "reason", reason)
	s.closeAll(closers)
	s.notify(snap)
}

// EndCall drops the negotiation and releases local media while staying in
// the room.
func (s *Session) EndCall() {
	s.Invalidate("call ended")
	s.media.Release()
	s.notify(s.Snapshot())
}

// ToggleMicrophone flips the local audio tracks and returns the new flag.
func (s *Session) ToggleMicrophone() bool {
	on := s.media.ToggleMic()
	s.announce()
	s.notify(s.Snapshot())
	return on
}

// ToggleVideo flips the local video tracks and returns the new flag.
func (s *Session) ToggleVideo() bool {
	on := s.media.ToggleVideo()
	s.announce()
	s.notify(s.Snapshot())
	return on
}

func (s *Session) announce() {
	s.mu.Lock()
	n := s.negotiator
	s.mu.Unlock()

	a, ok := n.(MediaAnnouncer)
	if !ok {
		return
	}
	st := s.media.State()
	if err := a.AnnounceMedia(st.MicEnabled, st.VideoEnabled); err != nil {
		s.log.Debug("Cannot announce media state", "error", err)
	}
}

// HandleRoomUsers records the members already present after a join. With
// AutoCall the joiner calls the first of them.
func (s *Session) HandleRoomUsers(users []protocol.Participant) {
	s.mu.Lock()
	s.participants = slices.Clone(users)
	idle := s.machine.State == Disconnected || s.machine.State == Failed
	auto := s.cfg.AutoCall && idle && s.room != "" && len(users) > 0
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)

	if !auto {
		return
	}
	target := users[0].ConnectionID
	if err := s.StartCall(s.ctx, target, true); err != nil {
		s.log.Warn("Auto call failed", "target", target, "error", err)
	}
}

// HandleUserJoined records a new member.
func (s *Session) HandleUserJoined(p protocol.Participant) {
	s.mu.Lock()
	if !slices.ContainsFunc(s.participants, func(q protocol.Participant) bool {
		return q.ConnectionID == p.ConnectionID
	}) {
		s.participants = append(s.participants, p)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Info("User joined", "connection_id", p.ConnectionID, "user_id", p.UserID)
	s.notify(snap)
}

// HandleUserLeft removes a member. If it was the peer the call ends.
func (s *Session) HandleUserLeft(p protocol.Participant) {
	s.mu.Lock()
	s.participants = slices.DeleteFunc(s.participants, func(q protocol.Participant) bool {
		return q.ConnectionID == p.ConnectionID
	})
	var closers []Negotiator
	if p.ConnectionID != "" && p.ConnectionID == s.target {
		closers = s.applyLocked(Event{Kind: EventPeerClosed, Generation: s.machine.Generation}, nil)
		s.target = ""
		s.initiator = false
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.log.Info("User left", "connection_id", p.ConnectionID, "user_id", p.UserID)
	s.closeAll(closers)
	s.notify(snap)
}

// HandleOffer decodes and answers a relayed offer.
func (s *Session) HandleOffer(from string, raw json.RawMessage) {
	sig, err := DecodeSignal(raw)
	if err != nil {
		s.log.Warn("Dropping malformed offer", "from", from, "error", err)
		return
	}
	if err := s.ReceiveOffer(s.ctx, sig, from); err != nil {
		s.log.Warn("Cannot answer offer", "from", from, "error", err)
	}
}

// HandleAnswer decodes and applies a relayed answer.
func (s *Session) HandleAnswer(from string, raw json.RawMessage) {
	sig, err := DecodeSignal(raw)
	if err != nil {
		s.log.Warn("Dropping malformed answer", "from", from, "error", err)
		return
	}
	if err := s.ReceiveAnswer(sig, from); err != nil {
		s.log.Debug("Answer not applied", "from", from, "error", err)
	}
}

// HandleIceCandidate decodes and applies a relayed candidate.
func (s *Session) HandleIceCandidate(from string, raw json.RawMessage) {
	sig, err := DecodeSignal(raw)
	if err != nil {
		s.log.Warn("Dropping malformed candidate", "from", from, "error", err)
		return
	}
	if err := s.ReceiveIceCandidate(sig, from); err != nil {
		s.log.Debug("Candidate not applied", "from", from, "error", err)
	}
}

// HandleServerError records a rejection from the signaling server.
func (s *Session) HandleServerError(e protocol.ErrorPayload) {
	s.log.Warn("Signaling server error", "code", e.Code, "error", e.Error)
	s.mu.Lock()
	s.lastErr = WrapError(e.Code, ErrRejected, e.Error)
	snap := s.snapshotLocked()
	s.mu.Unlock()
	s.notify(snap)
}

// Close leaves the room and stops the session's background work.
func (s *Session) Close() {
	s.LeaveRoom(context.Background())
	s.cancel()
}

// spawn creates the negotiator for generation gen. It is installed only
// if gen is still current; otherwise it is closed straight away.
func (s *Session) spawn(gen uint64, initiator bool, stream *media.Stream, offer *Signal) error {
	n, err := s.negotiators.NewNegotiator(NegotiatorOptions{
		Initiator:          initiator,
		Stream:             stream,
		ICEServers:         s.cfg.ICEServers,
		ICETransportPolicy: s.cfg.ICETransportPolicy,
		Trickle:            s.cfg.Trickle,
	}, s.eventsFor(gen))
	if err != nil {
		s.dispatch(Event{Kind: EventPeerError, Generation: gen, Err: err})
		return NewError("create negotiator", err)
	}

	s.mu.Lock()
	switch {
	case s.machine.Generation != gen:
		s.mu.Unlock()
		n.Close()
		return NewError("start call", ErrSuperseded)
	case s.machine.State != Connecting:
		cause := s.lastErr
		s.mu.Unlock()
		n.Close()
		if cause == nil {
			cause = ErrSuperseded
		}
		return NewError("start call", cause)
	}
	s.negotiator = n
	s.mu.Unlock()

	if offer != nil {
		err = n.Signal(*offer)
	} else {
		err = n.Start()
	}
	if err != nil {
		s.dispatch(Event{Kind: EventPeerError, Generation: gen, Err: err})
		return NewError("negotiate", err)
	}
	return nil
}

func (s *Session) eventsFor(gen uint64) NegotiatorEvents {
	return NegotiatorEvents{
		OnSignal: func(sig Signal) { s.forward(gen, sig) },
		OnStream: func(rs *media.RemoteStream) {
			s.dispatchStream(Event{Kind: EventRemoteStream, Generation: gen}, rs)
		},
		OnConnect: func() {
			s.dispatch(Event{Kind: EventPeerConnected, Generation: gen})
		},
		OnError: func(err error) {
			s.log.Warn("Peer error", "generation", gen, "error", err)
			s.dispatch(Event{Kind: EventPeerError, Generation: gen, Err: fmt.Errorf("%w: %w", ErrPeer, err)})
		},
		OnClose: func() {
			s.dispatch(Event{Kind: EventPeerClosed, Generation: gen})
		},
		OnRemoteMedia: func(mic, video bool) {
			s.mu.Lock()
			if gen != s.machine.Generation {
				s.mu.Unlock()
				return
			}
			s.remoteKnown, s.remoteMic, s.remoteVideo = true, mic, video
			snap := s.snapshotLocked()
			s.mu.Unlock()
			s.notify(snap)
		},
	}
}

// forward relays a locally produced signal if its negotiation is current.
func (s *Session) forward(gen uint64, sig Signal) {
	s.mu.Lock()
	if gen != s.machine.Generation || s.machine.State == Disconnected {
		s.mu.Unlock()
		s.log.Debug("Dropping stale local signal", "type", sig.Type, "generation", gen)
		return
	}
	room, target := s.room, s.target
	s.mu.Unlock()

	payload, err := json.Marshal(sig)
	if err != nil {
		s.log.Error("Cannot encode signal", "type", sig.Type, "error", err)
		return
	}
	switch Classify(sig) {
	case RouteOffer:
		err = s.signaler.SendOffer(room, payload)
	case RouteAnswer:
		err = s.signaler.SendAnswer(room, target, payload)
	default:
		err = s.signaler.SendIceCandidate(room, target, payload)
	}
	if err != nil {
		s.log.Warn("Cannot relay signal", "type", sig.Type, "error", err)
	}
}

func (s *Session) dispatch(ev Event) {
	s.dispatchStream(ev, nil)
}

func (s *Session) dispatchStream(ev Event, rs *media.RemoteStream) {
	s.mu.Lock()
	closers := s.applyLocked(ev, rs)
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.closeAll(closers)
	s.notify(snap)
}

// applyLocked runs the transition for ev and its effects. Negotiators to
// destroy are returned so they can be closed after s.mu is released.
func (s *Session) applyLocked(ev Event, rs *media.RemoteStream) []Negotiator {
	prev := s.machine
	next, effects := prev.Apply(ev)
	if next == prev && len(effects) == 0 {
		if ev.Generation != prev.Generation {
			s.log.Debug("Ignoring stale event", "event", ev.Kind, "generation", ev.Generation, "current", prev.Generation)
		}
		return nil
	}
	s.machine = next

	var closers []Negotiator
	for _, e := range effects {
		switch e {
		case EffectStartWatchdog:
			gen := next.Generation
			s.watchdog = s.clock.AfterFunc(s.cfg.WatchdogTimeout, func() {
				s.dispatch(Event{Kind: EventWatchdogFired, Generation: gen, Err: ErrNegotiationTimeout})
			})
		case EffectCancelWatchdog:
			if s.watchdog != nil {
				s.watchdog.Stop()
				s.watchdog = nil
			}
		case EffectDestroyNegotiator:
			if s.negotiator != nil {
				closers = append(closers, s.negotiator)
				s.negotiator = nil
			}
		case EffectClearRemoteStream:
			s.remote = nil
			s.remoteKnown, s.remoteMic, s.remoteVideo = false, false, false
		case EffectSetRemoteStream:
			if rs != nil {
				s.remote = rs
			}
		}
	}

	switch {
	case ev.Kind == EventCallStarted:
		s.lastErr = nil
	case next.State == Failed && ev.Err != nil:
		s.lastErr = ev.Err
	}

	if next.State != prev.State {
		s.log.Info("Connection state changed",
			"from", prev.State.String(),
			"to", next.State.String(),
			"event", ev.Kind.String(),
			"generation", next.Generation,
		)
	}
	return closers
}

func (s *Session) snapshotLocked() Snapshot {
	st := s.media.State()
	s.seq++
	return Snapshot{
		Seq:              s.seq,
		State:            s.machine.State,
		Generation:       s.machine.Generation,
		RoomID:           s.room,
		Target:           s.target,
		Initiator:        s.initiator,
		Participants:     slices.Clone(s.participants),
		LocalStream:      st.Stream,
		RemoteStream:     s.remote,
		MicEnabled:       st.MicEnabled,
		VideoEnabled:     st.VideoEnabled,
		RemoteMediaKnown: s.remoteKnown,
		RemoteMic:        s.remoteMic,
		RemoteVideo:      s.remoteVideo,
		LastError:        s.lastErr,
	}
}

func (s *Session) closeAll(ns []Negotiator) {
	for _, n := range ns {
		if err := n.Close(); err != nil {
			s.log.Debug("Closing negotiator", "error", err)
		}
	}
}

func (s *Session) notify(snap Snapshot) {
	if s.onChange != nil {
		s.onChange(snap)
	}
}
