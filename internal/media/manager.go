package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrPermissionDenied is returned by devices when the user refused
	// access to a requested kind.
	ErrPermissionDenied = errors.New("media permission denied")
	// ErrDeviceUnavailable is returned by devices when no usable hardware
	// exists for a requested kind.
	ErrDeviceUnavailable = errors.New("media device unavailable")
	// ErrMediaUnavailable is returned by Acquire when no stream could be
	// opened, even audio-only.
	ErrMediaUnavailable = errors.New("media unavailable")
	// ErrReleased is returned to callers of an acquisition that was
	// overtaken by Release.
	ErrReleased = errors.New("media released during acquisition")
)

// Constraints selects the kinds requested from devices.
type Constraints struct {
	Audio bool
	Video bool
}

// Devices opens capture streams.
type Devices interface {
	GetUserMedia(ctx context.Context, c Constraints) (*Stream, error)
}

// State is a copy of the manager's flags.
type State struct {
	Stream       *Stream
	MicEnabled   bool
	VideoEnabled bool
}

// Manager acquires the local stream once and shares it between callers.
type Manager struct {
	devices Devices
	log     *slog.Logger

	mu           sync.Mutex
	stream       *Stream
	pending      *acquisition
	epoch        uint64
	micEnabled   bool
	videoEnabled bool
}

type acquisition struct {
	done   chan struct{}
	cancel context.CancelFunc
	stream *Stream
	err    error
}

// NewManager creates a manager over devices.
func NewManager(devices Devices, log *slog.Logger) *Manager {
	return &Manager{devices: devices, log: log.With("component", "media")}
}

// Acquire returns the local stream, opening it on first use. Concurrent
// callers share a single device request and receive the same stream. The
// request outlives any one caller: ctx only bounds this caller's wait, and
// only Release cancels the request itself.
func (m *Manager) Acquire(ctx context.Context) (*Stream, error) {
	m.mu.Lock()
	if m.stream != nil {
		s := m.stream
		m.mu.Unlock()
		return s, nil
	}
	a := m.pending
	if a == nil {
		a = m.startLocked(ctx)
	}
	m.mu.Unlock()

	select {
	case <-a.done:
		return a.stream, a.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// startLocked launches the shared device request. It keeps ctx's values but
// not its cancellation.
func (m *Manager) startLocked(ctx context.Context) *acquisition {
	reqCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a := &acquisition{done: make(chan struct{}), cancel: cancel}
	m.pending = a
	go m.run(reqCtx, a, m.epoch)
	return a
}

func (m *Manager) run(ctx context.Context, a *acquisition, epoch uint64) {
	defer a.cancel()
	stream, err := m.open(ctx)

	var stale *Stream
	m.mu.Lock()
	if m.pending == a {
		m.pending = nil
	}
	switch {
	case epoch != m.epoch:
		stale, stream, err = stream, nil, ErrReleased
	case err != nil:
	default:
		m.stream = stream
		m.micEnabled = len(stream.AudioTracks()) > 0
		m.videoEnabled = len(stream.VideoTracks()) > 0
	}
	a.stream, a.err = stream, err
	m.mu.Unlock()
	close(a.done)

	if stale != nil {
		m.log.Debug("Stopping stream acquired after release")
		stale.Stop()
	}
}

func (m *Manager) open(ctx context.Context) (*Stream, error) {
	s, err := m.devices.GetUserMedia(ctx, Constraints{Audio: true, Video: true})
	if err == nil {
		m.log.Info("Acquired audio and video")
		return s, nil
	}
	if errors.Is(err, ErrPermissionDenied) {
		m.log.Warn("Video permission denied, retrying audio only", "error", err)
		s, retryErr := m.devices.GetUserMedia(ctx, Constraints{Audio: true})
		if retryErr == nil {
			m.log.Info("Acquired audio only")
			return s, nil
		}
		err = retryErr
	}
	m.log.Error("Cannot acquire media", "error", err)
	return nil, fmt.Errorf("%w: %w", ErrMediaUnavailable, err)
}

// Stream returns the held stream or nil.
func (m *Manager) Stream() *Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

// State returns the held stream and the mic/video flags.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{Stream: m.stream, MicEnabled: m.micEnabled, VideoEnabled: m.videoEnabled}
}

// ToggleMic flips every audio track and returns the new flag. Without a
// stream or audio tracks nothing changes.
func (m *Manager) ToggleMic() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.micEnabled = m.toggle(KindAudio, m.micEnabled)
	return m.micEnabled
}

// ToggleVideo flips every video track and returns the new flag.
func (m *Manager) ToggleVideo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videoEnabled = m.toggle(KindVideo, m.videoEnabled)
	return m.videoEnabled
}

func (m *Manager) toggle(kind Kind, current bool) bool {
	if m.stream == nil {
		return current
	}
	tracks := m.stream.ofKind(kind)
	if len(tracks) == 0 {
		return current
	}
	next := !current
	for _, t := range tracks {
		t.SetEnabled(next)
	}
	return next
}

// Release stops every held track. It is safe to call repeatedly and
// cancels any acquisition still in flight.
func (m *Manager) Release() {
	m.mu.Lock()
	s := m.stream
	m.stream = nil
	if m.pending != nil {
		m.pending.cancel()
		m.pending = nil
	}
	m.epoch++
	m.micEnabled = false
	m.videoEnabled = false
	m.mu.Unlock()

	if s != nil {
		m.log.Info("Released local media", "stream_id", s.ID())
		s.Stop()
	}
}
