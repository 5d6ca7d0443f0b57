package config

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadClientDefaults(t *testing.T) {
	t.Setenv("USER_ID", "patient-1")

	cfg, err := Load(Options{})
	require.NoError(t, err)

	assert.Equal(t, DefaultServerURL, cfg.ServerURL)
	assert.Equal(t, "patient-1", cfg.UserID)
	assert.Equal(t, DefaultWatchdogTimeout, cfg.WatchdogTimeout)
	assert.Equal(t, DefaultForceConnectDelay, cfg.ForceConnectDelay)
	assert.True(t, cfg.Trickle)
	assert.Equal(t, DefaultSTUNServers, cfg.ICE.STUNServers)
	require.Len(t, cfg.ICE.TURNServers, 1)
	assert.Equal(t, webrtc.ICETransportPolicyAll, cfg.ICE.Policy())
}

func TestLoadClientFlagsOverrideEnv(t *testing.T) {
	t.Setenv("USER_ID", "from-env")
	t.Setenv("SIGNALING_URL", "ws://env.example/ws")
	t.Setenv("WATCHDOG_TIMEOUT", "3s")

	cfg, err := Load(Options{
		UserID:     "from-flag",
		TURNServer: "turn:relay.example:3478",
		TURNUser:   "u",
		TURNPass:   "p",
		ForceRelay: true,
	})
	require.NoError(t, err)

	assert.Equal(t, "from-flag", cfg.UserID)
	assert.Equal(t, "ws://env.example/ws", cfg.ServerURL)
	assert.Equal(t, 3*time.Second, cfg.WatchdogTimeout)
	assert.Equal(t, webrtc.ICETransportPolicyRelay, cfg.ICE.Policy())

	servers := cfg.ICE.Servers()
	last := servers[len(servers)-1]
	assert.Equal(t, []string{"turn:relay.example:3478"}, last.URLs)
	assert.Equal(t, "u", last.Username)
}

func TestLoadClientRequiresUser(t *testing.T) {
	t.Setenv("USER_ID", "")
	_, err := Load(Options{})
	assert.Error(t, err)
}

func TestICEServersIncludeTURN(t *testing.T) {
	var ice ICE
	ice.setDefaults()

	servers := ice.Servers()
	require.Len(t, servers, len(DefaultSTUNServers)+1)
	turn := servers[len(servers)-1]
	assert.Equal(t, DefaultTURNServer.URLs, turn.URLs)
	assert.Equal(t, "openrelayproject", turn.Username)
}

func TestAPIURL(t *testing.T) {
	got, err := APIURL("wss://calls.example.com/ws")
	require.NoError(t, err)
	assert.Equal(t, "https://calls.example.com", got)

	got, err = APIURL("ws://localhost:8080/ws")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", got)
}

func TestMustLoadServerPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
env: prod
http:
  address: ":9090"
  allowed_origins: ["https://app.example.com"]
signaling:
  room_capacity: 3
ice:
  stun_servers: ["stun:stun.example.com:3478"]
`), 0o600))

	cfg := MustLoadServerPath(path)
	assert.Equal(t, "prod", cfg.Env)
	assert.Equal(t, ":9090", cfg.HTTP.Address)
	assert.Equal(t, []string{"https://app.example.com"}, cfg.HTTP.AllowedOrigins)
	assert.Equal(t, 3, cfg.Signaling.RoomCapacity)
	assert.Equal(t, 60*time.Second, cfg.Signaling.PongWait)
	assert.Equal(t, []string{"stun:stun.example.com:3478"}, cfg.ICE.STUNServers)
	assert.Len(t, cfg.ICE.TURNServers, 1)
}

func TestRestrictedInterface(t *testing.T) {
	assert.True(t, restrictedInterface("wg0", nil))
	assert.True(t, restrictedInterface("tun0", nil))
	assert.True(t, restrictedInterface("eth0", []net.IP{net.ParseIP("100.101.5.9")}))
	assert.False(t, restrictedInterface("eth0", []net.IP{net.ParseIP("192.168.1.20")}))
	assert.False(t, restrictedInterface("en0", []net.IP{net.ParseIP("100.128.0.1")}))
}
