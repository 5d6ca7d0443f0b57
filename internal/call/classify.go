package call

import (
	"encoding/json"
	"fmt"
)

// Route is where a locally produced signal must be sent.
type Route int

const (
	// RouteOffer broadcasts to the room.
	RouteOffer Route = iota
	// RouteAnswer targets the current peer.
	RouteAnswer
	// RouteCandidate targets the current peer.
	RouteCandidate
)

// Classify picks the route for a local signal by its shape. Anything that
// is neither an offer nor an answer travels as an ICE candidate.
func Classify(s Signal) Route {
	switch s.Type {
	case SignalOffer:
		return RouteOffer
	case SignalAnswer:
		return RouteAnswer
	default:
		return RouteCandidate
	}
}

// DecodeSignal parses a relayed payload.
func DecodeSignal(raw json.RawMessage) (Signal, error) {
	var s Signal
	if len(raw) == 0 {
		return s, fmt.Errorf("%w: empty payload", ErrUnexpectedSignal)
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("decode signal: %w", err)
	}
	if s.Type == "" && s.Candidate != nil {
		s.Type = SignalCandidate
	}
	return s, nil
}
