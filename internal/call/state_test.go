package call

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestApplyTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    Machine
		event   Event
		want    Machine
		effects []Effect
	}{
		{
			name:    "start call from idle",
			from:    Machine{State: Disconnected, Generation: 4},
			event:   Event{Kind: EventCallStarted},
			want:    Machine{State: Connecting, Generation: 5},
			effects: []Effect{EffectCancelWatchdog, EffectDestroyNegotiator, EffectClearRemoteStream, EffectStartWatchdog},
		},
		{
			name:    "start call replaces a connected call",
			from:    Machine{State: Connected, Generation: 2},
			event:   Event{Kind: EventCallStarted},
			want:    Machine{State: Connecting, Generation: 3},
			effects: []Effect{EffectCancelWatchdog, EffectDestroyNegotiator, EffectClearRemoteStream, EffectStartWatchdog},
		},
		{
			name:    "remote stream connects",
			from:    Machine{State: Connecting, Generation: 1},
			event:   Event{Kind: EventRemoteStream, Generation: 1},
			want:    Machine{State: Connected, Generation: 1},
			effects: []Effect{EffectCancelWatchdog, EffectSetRemoteStream},
		},
		{
			name:    "peer connected",
			from:    Machine{State: Connecting, Generation: 1},
			event:   Event{Kind: EventPeerConnected, Generation: 1},
			want:    Machine{State: Connected, Generation: 1},
			effects: []Effect{EffectCancelWatchdog},
		},
		{
			name:  "peer connected twice",
			from:  Machine{State: Connected, Generation: 1},
			event: Event{Kind: EventPeerConnected, Generation: 1},
			want:  Machine{State: Connected, Generation: 1},
		},
		{
			name:    "peer error while connected",
			from:    Machine{State: Connected, Generation: 1},
			event:   Event{Kind: EventPeerError, Generation: 1},
			want:    Machine{State: Failed, Generation: 1},
			effects: []Effect{EffectCancelWatchdog},
		},
		{
			name:  "watchdog while connecting",
			from:  Machine{State: Connecting, Generation: 1},
			event: Event{Kind: EventWatchdogFired, Generation: 1},
			want:  Machine{State: Failed, Generation: 1},
		},
		{
			name:  "watchdog after connect has no effect",
			from:  Machine{State: Connected, Generation: 1},
			event: Event{Kind: EventWatchdogFired, Generation: 1},
			want:  Machine{State: Connected, Generation: 1},
		},
		{
			name:  "stale watchdog has no effect",
			from:  Machine{State: Connecting, Generation: 2},
			event: Event{Kind: EventWatchdogFired, Generation: 1},
			want:  Machine{State: Connecting, Generation: 2},
		},
		{
			name:  "stale peer error has no effect",
			from:  Machine{State: Connected, Generation: 3},
			event: Event{Kind: EventPeerError, Generation: 2},
			want:  Machine{State: Connected, Generation: 3},
		},
		{
			name:  "stale remote stream has no effect",
			from:  Machine{State: Disconnected, Generation: 3},
			event: Event{Kind: EventRemoteStream, Generation: 2},
			want:  Machine{State: Disconnected, Generation: 3},
		},
		{
			name:    "peer closed",
			from:    Machine{State: Connected, Generation: 1},
			event:   Event{Kind: EventPeerClosed, Generation: 1},
			want:    Machine{State: Disconnected, Generation: 2},
			effects: []Effect{EffectCancelWatchdog, EffectDestroyNegotiator, EffectClearRemoteStream},
		},
		{
			name:    "peer closed after failure",
			from:    Machine{State: Failed, Generation: 1},
			event:   Event{Kind: EventPeerClosed, Generation: 1},
			want:    Machine{State: Disconnected, Generation: 2},
			effects: []Effect{EffectCancelWatchdog, EffectDestroyNegotiator, EffectClearRemoteStream},
		},
		{
			name:  "remote stream after failure is ignored",
			from:  Machine{State: Failed, Generation: 1},
			event: Event{Kind: EventRemoteStream, Generation: 1},
			want:  Machine{State: Failed, Generation: 1},
		},
		{
			name:    "media failure",
			from:    Machine{State: Connecting, Generation: 1},
			event:   Event{Kind: EventMediaFailed, Generation: 1},
			want:    Machine{State: Failed, Generation: 1},
			effects: []Effect{EffectCancelWatchdog},
		},
		{
			name:    "teardown from any state",
			from:    Machine{State: Failed, Generation: 7},
			event:   Event{Kind: EventTeardown},
			want:    Machine{State: Disconnected, Generation: 8},
			effects: []Effect{EffectCancelWatchdog, EffectDestroyNegotiator, EffectClearRemoteStream},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, effects := tt.from.Apply(tt.event)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.effects, effects)
		})
	}
}
