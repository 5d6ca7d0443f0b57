package call

import "fmt"

// ConnectionState is the call status shown to the user.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Failed
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// EventKind enumerates the inputs of the transition function.
type EventKind int

const (
	// EventCallStarted replaces any negotiation with a new one.
	EventCallStarted EventKind = iota
	// EventRemoteStream reports media from the peer.
	EventRemoteStream
	// EventPeerConnected reports an established transport.
	EventPeerConnected
	// EventPeerError reports a fatal negotiation error.
	EventPeerError
	// EventWatchdogFired reports an expired negotiation deadline.
	EventWatchdogFired
	// EventPeerClosed reports the peer went away.
	EventPeerClosed
	// EventMediaFailed reports that no local media could be acquired.
	EventMediaFailed
	// EventTeardown is a local request to drop the negotiation.
	EventTeardown
)

func (k EventKind) String() string {
	switch k {
	case EventCallStarted:
		return "call-started"
	case EventRemoteStream:
		return "remote-stream"
	case EventPeerConnected:
		return "peer-connected"
	case EventPeerError:
		return "peer-error"
	case EventWatchdogFired:
		return "watchdog-fired"
	case EventPeerClosed:
		return "peer-closed"
	case EventMediaFailed:
		return "media-failed"
	case EventTeardown:
		return "teardown"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one input to Machine.Apply. Generation names the negotiation the
// event belongs to; it is ignored for local requests.
type Event struct {
	Kind       EventKind
	Generation uint64
	Err        error
}

// Effect is a side effect the caller must perform after a transition.
type Effect int

const (
	EffectStartWatchdog Effect = iota
	EffectCancelWatchdog
	EffectDestroyNegotiator
	EffectClearRemoteStream
	EffectSetRemoteStream
)

func (e Effect) String() string {
	switch e {
	case EffectStartWatchdog:
		return "start-watchdog"
	case EffectCancelWatchdog:
		return "cancel-watchdog"
	case EffectDestroyNegotiator:
		return "destroy-negotiator"
	case EffectClearRemoteStream:
		return "clear-remote-stream"
	case EffectSetRemoteStream:
		return "set-remote-stream"
	default:
		return fmt.Sprintf("Effect(%d)", int(e))
	}
}

// Machine is the connection state plus the generation of the live
// negotiation. The zero value is Disconnected at generation 0.
type Machine struct {
	State      ConnectionState
	Generation uint64
}

// local reports whether k originates from a local request rather than from
// a negotiation object or timer.
func (k EventKind) local() bool {
	return k == EventCallStarted || k == EventTeardown
}

// Apply returns the next machine and the effects to run. Events from a
// negotiation or watchdog whose generation is no longer current change
// nothing. Destroying the negotiation always advances the generation.
func (m Machine) Apply(ev Event) (Machine, []Effect) {
	if !ev.Kind.local() && ev.Generation != m.Generation {
		return m, nil
	}

	switch ev.Kind {
	case EventCallStarted:
		return Machine{State: Connecting, Generation: m.Generation + 1}, []Effect{
			EffectCancelWatchdog, EffectDestroyNegotiator, EffectClearRemoteStream, EffectStartWatchdog,
		}

	case EventTeardown:
		return Machine{State: Disconnected, Generation: m.Generation + 1}, []Effect{
			EffectCancelWatchdog, EffectDestroyNegotiator, EffectClearRemoteStream,
		}

	case EventRemoteStream:
		if m.State != Connecting && m.State != Connected {
			return m, nil
		}
		return Machine{State: Connected, Generation: m.Generation}, []Effect{
			EffectCancelWatchdog, EffectSetRemoteStream,
		}

	case EventPeerConnected:
		if m.State != Connecting {
			return m, nil
		}
		return Machine{State: Connected, Generation: m.Generation}, []Effect{EffectCancelWatchdog}

	case EventPeerError:
		if m.State != Connecting && m.State != Connected {
			return m, nil
		}
		return Machine{State: Failed, Generation: m.Generation}, []Effect{EffectCancelWatchdog}

	case EventWatchdogFired:
		if m.State != Connecting {
			return m, nil
		}
		return Machine{State: Failed, Generation: m.Generation}, nil

	case EventMediaFailed:
		return Machine{State: Failed, Generation: m.Generation}, []Effect{EffectCancelWatchdog}

	case EventPeerClosed:
		if m.State == Disconnected {
			return m, nil
		}
		return Machine{State: Disconnected, Generation: m.Generation + 1}, []Effect{
			EffectCancelWatchdog, EffectDestroyNegotiator, EffectClearRemoteStream,
		}
	}
	return m, nil
}
