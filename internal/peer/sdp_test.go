package peer

import (
	"strings"
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOfferSDP(t *testing.T) string {
	t.Helper()
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		_, err := pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
		require.NoError(t, err)
	}
	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	return offer.SDP
}

func TestApplyVideoBandwidthTouchesVideoOnly(t *testing.T) {
	out, err := applyVideoBandwidth(newOfferSDP(t), 1000)
	require.NoError(t, err)

	var desc sdp.SessionDescription
	require.NoError(t, desc.Unmarshal([]byte(out)))

	for _, m := range desc.MediaDescriptions {
		switch m.MediaName.Media {
		case "video":
			require.Len(t, m.Bandwidth, 1)
			assert.Equal(t, "AS", m.Bandwidth[0].Type)
			assert.EqualValues(t, 1000, m.Bandwidth[0].Bandwidth)
		case "audio":
			assert.Empty(t, m.Bandwidth)
		}
	}
}

func TestApplyVideoBandwidthReplacesExistingLimit(t *testing.T) {
	first, err := applyVideoBandwidth(newOfferSDP(t), 30)
	require.NoError(t, err)
	require.Contains(t, first, "b=AS:30")

	second, err := applyVideoBandwidth(first, 1000)
	require.NoError(t, err)
	assert.NotContains(t, second, "b=AS:30")
	assert.Equal(t, 1, strings.Count(second, "b=AS:1000"))
}

func TestApplyVideoBandwidthZeroIsNoop(t *testing.T) {
	in := newOfferSDP(t)
	out, err := applyVideoBandwidth(in, 0)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestApplyVideoBandwidthRejectsGarbage(t *testing.T) {
	_, err := applyVideoBandwidth("not sdp", 1000)
	assert.Error(t, err)
}

func TestControlMediaStateEnvelope(t *testing.T) {
	b, err := encodeControl(controlMediaState, mediaStatePayload{Mic: false, Video: true})
	require.NoError(t, err)

	m, err := decodeControl(b)
	require.NoError(t, err)
	assert.Equal(t, controlMediaState, m.Type)

	var p mediaStatePayload
	require.NoError(t, m.decodePayload(&p))
	assert.Equal(t, mediaStatePayload{Mic: false, Video: true}, p)
}
