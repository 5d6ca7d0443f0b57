package config

import (
	"github.com/pion/webrtc/v4"
)

// Default ICE servers: public STUN plus a shared TURN relay.
var (
	DefaultSTUNServers = []string{
		"stun:stun.l.google.com:19302",
		"stun:stun1.l.google.com:19302",
		"stun:stun2.l.google.com:19302",
		"stun:stun3.l.google.com:19302",
		"stun:stun4.l.google.com:19302",
		"stun:global.stun.twilio.com:3478",
	}
	DefaultTURNServer = TURNServer{
		URLs: []string{
			"turn:openrelay.metered.ca:80",
			"turn:openrelay.metered.ca:443",
		},
		Username:   "openrelayproject",
		Credential: "openrelayproject",
	}
)

// Transport policies accepted by ICE.TransportPolicy.
const (
	PolicyAll   = "all"
	PolicyRelay = "relay"
)

// TURNServer is a relay with static credentials.
type TURNServer struct {
	URLs       []string `yaml:"urls" json:"urls"`
	Username   string   `yaml:"username" json:"username"`
	Credential string   `yaml:"credential" json:"credential"`
}

// ICE holds the server list handed to every peer connection.
type ICE struct {
	STUNServers     []string     `yaml:"stun_servers" json:"stunServers" env:"STUN_SERVERS" env-separator:","`
	TURNServers     []TURNServer `yaml:"turn_servers" json:"turnServers"`
	TransportPolicy string       `yaml:"transport_policy" json:"transportPolicy" env:"ICE_TRANSPORT_POLICY"`
}

func (c *ICE) setDefaults() {
	if len(c.STUNServers) == 0 {
		c.STUNServers = append([]string(nil), DefaultSTUNServers...)
	}
	if len(c.TURNServers) == 0 {
		c.TURNServers = []TURNServer{DefaultTURNServer}
	}
	if c.TransportPolicy == "" {
		c.TransportPolicy = PolicyAll
	}
}

// Servers converts the configuration into pion ICE servers.
func (c ICE) Servers() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, 0, len(c.STUNServers)+len(c.TURNServers))
	for _, url := range c.STUNServers {
		out = append(out, webrtc.ICEServer{URLs: []string{url}})
	}
	for _, t := range c.TURNServers {
		if len(t.URLs) == 0 {
			continue
		}
		out = append(out, webrtc.ICEServer{
			URLs:           t.URLs,
			Username:       t.Username,
			Credential:     t.Credential,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return out
}

// Policy returns the pion transport policy.
func (c ICE) Policy() webrtc.ICETransportPolicy {
	if c.TransportPolicy == PolicyRelay {
		return webrtc.ICETransportPolicyRelay
	}
	return webrtc.ICETransportPolicyAll
}
