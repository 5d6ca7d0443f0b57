package media

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/docconnect/videocall/internal/logging"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTimeout = 2 * time.Second
	testTick    = 5 * time.Millisecond
)

func TestSyntheticDevicesOpenRequestedKinds(t *testing.T) {
	d := NewSyntheticDevices(SyntheticConfig{}, logging.Discard())

	s, err := d.GetUserMedia(context.Background(), Constraints{Audio: true, Video: true})
	require.NoError(t, err)
	defer s.Stop()

	require.Len(t, s.AudioTracks(), 1)
	require.Len(t, s.VideoTracks(), 1)

	audio := s.AudioTracks()[0]
	require.NotNil(t, audio.Local())
	assert.Equal(t, webrtc.RTPCodecTypeAudio, audio.Local().Kind())
	assert.Equal(t, s.ID(), audio.Local().StreamID())
}

func TestSyntheticDevicesDenyVideo(t *testing.T) {
	d := NewSyntheticDevices(SyntheticConfig{DenyVideo: true}, logging.Discard())
	m := NewManager(d, logging.Discard())

	s, err := m.Acquire(context.Background())
	require.NoError(t, err)
	defer m.Release()

	assert.Len(t, s.AudioTracks(), 1)
	assert.Empty(t, s.VideoTracks())
}

func TestSyntheticDevicesMissingFile(t *testing.T) {
	d := NewSyntheticDevices(SyntheticConfig{
		AudioFile: filepath.Join(t.TempDir(), "missing.ogg"),
	}, logging.Discard())

	_, err := d.GetUserMedia(context.Background(), Constraints{Audio: true})
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestSyntheticTrackStopIsIdempotent(t *testing.T) {
	d := NewSyntheticDevices(SyntheticConfig{}, logging.Discard())
	s, err := d.GetUserMedia(context.Background(), Constraints{Audio: true})
	require.NoError(t, err)

	s.Stop()
	s.Stop()
	assert.True(t, s.AudioTracks()[0].Stopped())
	assert.False(t, s.AudioTracks()[0].Enabled())
}

func TestRemoteTrackCountsLoss(t *testing.T) {
	tr := &RemoteTrack{ID: "v", Kind: KindVideo}
	now := time.Unix(100, 0)

	tr.Observe(&rtp.Packet{Header: rtp.Header{SequenceNumber: 10}, Payload: make([]byte, 100)}, now)
	tr.Observe(&rtp.Packet{Header: rtp.Header{SequenceNumber: 11}, Payload: make([]byte, 50)}, now)
	tr.Observe(&rtp.Packet{Header: rtp.Header{SequenceNumber: 14}, Payload: make([]byte, 50)}, now)

	stats := tr.Stats()
	assert.EqualValues(t, 3, stats.Packets)
	assert.EqualValues(t, 200, stats.Bytes)
	assert.EqualValues(t, 2, stats.Lost)
	assert.Equal(t, now, stats.LastSeen)
}

func TestRemoteTrackSequenceWrap(t *testing.T) {
	tr := &RemoteTrack{ID: "a", Kind: KindAudio}
	now := time.Now()

	tr.Observe(&rtp.Packet{Header: rtp.Header{SequenceNumber: 65535}}, now)
	tr.Observe(&rtp.Packet{Header: rtp.Header{SequenceNumber: 0}}, now)

	assert.EqualValues(t, 0, tr.Stats().Lost)
}
