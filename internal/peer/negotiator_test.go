package peer

import (
	"context"
	"testing"
	"time"

	"github.com/docconnect/videocall/internal/call"
	"github.com/docconnect/videocall/internal/logging"
	"github.com/docconnect/videocall/internal/media"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type side struct {
	n         call.Negotiator
	signals   chan call.Signal
	connected chan struct{}
	streams   chan *media.RemoteStream
	remote    chan [2]bool
}

func newSide(t *testing.T, f *Factory, initiator bool) *side {
	t.Helper()
	devices := media.NewSyntheticDevices(media.SyntheticConfig{}, logging.Discard())
	stream, err := devices.GetUserMedia(context.Background(), media.Constraints{Audio: true})
	require.NoError(t, err)
	t.Cleanup(stream.Stop)

	s := &side{
		signals:   make(chan call.Signal, 64),
		connected: make(chan struct{}, 1),
		streams:   make(chan *media.RemoteStream, 1),
		remote:    make(chan [2]bool, 4),
	}
	n, err := f.NewNegotiator(call.NegotiatorOptions{
		Initiator: initiator,
		Stream:    stream,
		Trickle:   true,
	}, call.NegotiatorEvents{
		OnSignal: func(sig call.Signal) {
			select {
			case s.signals <- sig:
			default:
			}
		},
		OnStream: func(rs *media.RemoteStream) { s.streams <- rs },
		OnConnect: func() {
			select {
			case s.connected <- struct{}{}:
			default:
			}
		},
		OnRemoteMedia: func(mic, video bool) {
			select {
			case s.remote <- [2]bool{mic, video}:
			default:
			}
		},
	})
	require.NoError(t, err)
	s.n = n
	t.Cleanup(func() { n.Close() })
	return s
}

// forward feeds every signal from one side into the other, in order.
func forward(t *testing.T, from, to *side, done <-chan struct{}) {
	go func() {
		for {
			select {
			case sig := <-from.signals:
				if err := to.n.Signal(sig); err != nil {
					t.Logf("signal %s: %v", sig.Type, err)
				}
			case <-done:
				return
			}
		}
	}()
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(20 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

func TestNegotiatorsConnectOverLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real ICE sockets")
	}

	f, err := NewFactory(FactoryConfig{VideoBitrateKbps: 1000}, logging.Discard())
	require.NoError(t, err)

	caller := newSide(t, f, true)
	callee := newSide(t, f, false)

	done := make(chan struct{})
	defer close(done)
	forward(t, caller, callee, done)
	forward(t, callee, caller, done)

	require.NoError(t, callee.n.Start(), "non-initiator start is a no-op")
	require.NoError(t, caller.n.Start())

	waitFor(t, caller.connected, "caller connect")
	waitFor(t, callee.connected, "callee connect")

	rs := waitFor(t, callee.streams, "callee remote stream")
	require.NotEmpty(t, rs.Tracks())
	assert.Equal(t, media.KindAudio, rs.Tracks()[0].Kind)

	announcer, ok := caller.n.(call.MediaAnnouncer)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return announcer.AnnounceMedia(false, true) == nil
	}, 10*time.Second, 50*time.Millisecond)
	assert.Equal(t, [2]bool{false, true}, waitFor(t, callee.remote, "media state"))

	require.NoError(t, caller.n.Close())
	assert.NoError(t, caller.n.Close(), "close is idempotent")
}

func TestSignalRejectsUnknownType(t *testing.T) {
	f, err := NewFactory(FactoryConfig{}, logging.Discard())
	require.NoError(t, err)
	n, err := f.NewNegotiator(call.NegotiatorOptions{}, call.NegotiatorEvents{})
	require.NoError(t, err)
	defer n.Close()

	assert.ErrorIs(t, n.Signal(call.Signal{Type: "rollback"}), call.ErrUnexpectedSignal)
	assert.ErrorIs(t, n.Signal(call.Signal{Type: call.SignalCandidate}), call.ErrUnexpectedSignal)
}

func TestCandidatesQueuedUntilRemoteDescription(t *testing.T) {
	f, err := NewFactory(FactoryConfig{}, logging.Discard())
	require.NoError(t, err)
	n, err := f.NewNegotiator(call.NegotiatorOptions{}, call.NegotiatorEvents{})
	require.NoError(t, err)
	defer n.Close()

	cand := "candidate:1 1 udp 2130706431 192.0.2.1 50000 typ host"
	require.NoError(t, n.Signal(call.Signal{
		Type:      call.SignalCandidate,
		Candidate: &webrtc.ICECandidateInit{Candidate: cand},
	}))

	pn := n.(*Negotiator)
	pn.mu.Lock()
	defer pn.mu.Unlock()
	assert.Len(t, pn.pending, 1)
}
