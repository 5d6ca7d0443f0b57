// Package media owns local capture streams and the bookkeeping for
// streams received from the remote peer.
package media

import (
	"slices"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Kind is the media type of a track.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Track is one local capture track. Disabling a track keeps it attached to
// the peer connection but stops it from producing samples.
type Track struct {
	id    string
	kind  Kind
	local webrtc.TrackLocal

	mu      sync.Mutex
	enabled bool
	stopped bool
	onStop  func()
}

// NewTrack creates an enabled track. local may be nil for tracks that are
// never sent over a peer connection. onStop runs once, on the first Stop.
func NewTrack(id string, kind Kind, local webrtc.TrackLocal, onStop func()) *Track {
	return &Track{id: id, kind: kind, local: local, enabled: true, onStop: onStop}
}

func (t *Track) ID() string { return t.id }
func (t *Track) Kind() Kind { return t.kind }
func (t *Track) Local() webrtc.TrackLocal { return t.local }

// Enabled reports whether the track currently produces samples.
func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled && !t.stopped
}

// SetEnabled mutates the track in place.
func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

// Stop releases the underlying device. It is safe to call more than once.
func (t *Track) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	onStop := t.onStop
	t.mu.Unlock()

	if onStop != nil {
		onStop()
	}
}

// Stopped reports whether Stop has been called.
func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Stream is a local capture stream. Its track set never changes after
// creation.
type Stream struct {
	id     string
	tracks []*Track
}

// NewStream groups tracks under id.
func NewStream(id string, tracks ...*Track) *Stream {
	return &Stream{id: id, tracks: tracks}
}

func (s *Stream) ID() string { return s.id }

// Tracks returns every track of the stream.
func (s *Stream) Tracks() []*Track { return slices.Clone(s.tracks) }

// AudioTracks returns the audio tracks.
func (s *Stream) AudioTracks() []*Track { return s.ofKind(KindAudio) }

// VideoTracks returns the video tracks.
func (s *Stream) VideoTracks() []*Track { return s.ofKind(KindVideo) }

// Stop stops every track.
func (s *Stream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

func (s *Stream) ofKind(k Kind) []*Track {
	var out []*Track
	for _, t := range s.tracks {
		if t.kind == k {
			out = append(out, t)
		}
	}
	return out
}
