package media

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
)

// RemoteTrack is a track received from the peer. Packet counters are
// updated by the goroutine draining the track.
type RemoteTrack struct {
	ID       string
	Kind     Kind
	MimeType string

	packets  atomic.Uint64
	bytes    atomic.Uint64
	lost     atomic.Uint64
	lastSeq  atomic.Uint32
	seen     atomic.Bool
	lastSeen atomic.Int64
}

// RemoteTrackStats is a point-in-time copy of a RemoteTrack's counters.
type RemoteTrackStats struct {
	Packets  uint64
	Bytes    uint64
	Lost     uint64
	LastSeen time.Time
}

// Observe accounts one received RTP packet. Gaps in sequence numbers are
// counted as lost packets.
func (t *RemoteTrack) Observe(pkt *rtp.Packet, at time.Time) {
	t.packets.Add(1)
	t.bytes.Add(uint64(len(pkt.Payload)))
	t.lastSeen.Store(at.UnixNano())

	seq := uint32(pkt.SequenceNumber)
	if t.seen.Swap(true) {
		prev := uint16(t.lastSeq.Load())
		if gap := pkt.SequenceNumber - prev; gap > 1 && gap < 1<<15 {
			t.lost.Add(uint64(gap - 1))
		}
	}
	t.lastSeq.Store(seq)
}

// Stats returns the current counters.
func (t *RemoteTrack) Stats() RemoteTrackStats {
	s := RemoteTrackStats{
		Packets: t.packets.Load(),
		Bytes:   t.bytes.Load(),
		Lost:    t.lost.Load(),
	}
	if ns := t.lastSeen.Load(); ns != 0 {
		s.LastSeen = time.Unix(0, ns)
	}
	return s
}

// RemoteStream is the media received from the peer. Tracks are appended as
// the peer connection reports them.
type RemoteStream struct {
	ID string

	mu     sync.Mutex
	tracks []*RemoteTrack
}

// NewRemoteStream creates an empty remote stream.
func NewRemoteStream(id string) *RemoteStream {
	return &RemoteStream{ID: id}
}

// Add attaches a track.
func (s *RemoteStream) Add(t *RemoteTrack) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	s.mu.Unlock()
}

// Tracks returns the tracks received so far.
func (s *RemoteStream) Tracks() []*RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.tracks)
}
