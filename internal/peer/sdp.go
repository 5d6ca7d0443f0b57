package peer

import (
	"fmt"

	"github.com/pion/sdp/v3"
)

// applyVideoBandwidth sets a b=AS line on every video media section,
// replacing any existing AS limit.
func applyVideoBandwidth(raw string, kbps uint64) (string, error) {
	if kbps == 0 {
		return raw, nil
	}

	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(raw)); err != nil {
		return "", fmt.Errorf("parse sdp: %w", err)
	}

	changed := false
	for _, m := range desc.MediaDescriptions {
		if m.MediaName.Media != "video" {
			continue
		}
		kept := m.Bandwidth[:0]
		for _, b := range m.Bandwidth {
			if b.Type != "AS" {
				kept = append(kept, b)
			}
		}
		m.Bandwidth = append(kept, sdp.Bandwidth{Type: "AS", Bandwidth: kbps})
		changed = true
	}
	if !changed {
		return raw, nil
	}

	out, err := desc.Marshal()
	if err != nil {
		return "", fmt.Errorf("encode sdp: %w", err)
	}
	return string(out), nil
}
