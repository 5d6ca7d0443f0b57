package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Default client values.
const (
	DefaultServerURL         = "ws://localhost:8080/ws"
	DefaultWatchdogTimeout   = 10 * time.Second
	DefaultForceConnectDelay = 500 * time.Millisecond
	DefaultVideoBitrateKbps  = 1000
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = time.Second
)

// Client holds call client configuration.
type Client struct {
	Env      string `env:"ENV" env-default:"local"`
	LogLevel string `env:"LOG_LEVEL"`

	// ServerURL is the signaling websocket endpoint.
	ServerURL string `env:"SIGNALING_URL"`
	UserID    string `env:"USER_ID"`

	ICE ICE

	WatchdogTimeout   time.Duration `env:"WATCHDOG_TIMEOUT"`
	ForceConnectDelay time.Duration `env:"FORCE_CONNECT_DELAY"`
	VideoBitrateKbps  uint64        `env:"VIDEO_BITRATE_KBPS"`
	Trickle           bool          `env:"ICE_TRICKLE" env-default:"true"`

	ReconnectAttempts int           `env:"RECONNECT_ATTEMPTS"`
	ReconnectDelay    time.Duration `env:"RECONNECT_DELAY"`
}

// Options for loading config with CLI flag overrides. Zero values mean
// "not set".
type Options struct {
	ServerURL  string
	UserID     string
	STUNServer string
	TURNServer string
	TURNUser   string
	TURNPass   string
	ForceRelay bool
	// DetectRelay switches to relay-only ICE when ShouldForceRelay
	// reports a VPN or CGNAT interface.
	DetectRelay bool
	Watchdog    time.Duration
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Defaults - lowest priority
func Load(opts Options) (*Client, error) {
	var cfg Client
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if opts.ServerURL != "" {
		cfg.ServerURL = opts.ServerURL
	}
	if opts.UserID != "" {
		cfg.UserID = opts.UserID
	}
	if opts.STUNServer != "" {
		cfg.ICE.STUNServers = []string{opts.STUNServer}
	}
	if opts.TURNServer != "" {
		cfg.ICE.TURNServers = []TURNServer{{
			URLs:       []string{opts.TURNServer},
			Username:   opts.TURNUser,
			Credential: opts.TURNPass,
		}}
	}
	if opts.ForceRelay {
		cfg.ICE.TransportPolicy = PolicyRelay
	}
	if opts.Watchdog > 0 {
		cfg.WatchdogTimeout = opts.Watchdog
	}

	cfg.setDefaults()

	if opts.DetectRelay && cfg.ICE.TransportPolicy != PolicyRelay && len(cfg.ICE.TURNServers) > 0 && ShouldForceRelay() {
		cfg.ICE.TransportPolicy = PolicyRelay
	}

	if cfg.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	if _, err := url.Parse(cfg.ServerURL); err != nil {
		return nil, fmt.Errorf("invalid server url %q: %w", cfg.ServerURL, err)
	}
	return &cfg, nil
}

func (c *Client) setDefaults() {
	if c.ServerURL == "" {
		c.ServerURL = DefaultServerURL
	}
	if c.WatchdogTimeout <= 0 {
		c.WatchdogTimeout = DefaultWatchdogTimeout
	}
	if c.ForceConnectDelay <= 0 {
		c.ForceConnectDelay = DefaultForceConnectDelay
	}
	if c.VideoBitrateKbps == 0 {
		c.VideoBitrateKbps = DefaultVideoBitrateKbps
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = DefaultReconnectAttempts
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	c.ICE.setDefaults()
}

// APIURL derives the REST base URL from a signaling websocket URL.
func APIURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	}
	u.Path = strings.TrimSuffix(u.Path, "/ws")
	u.RawQuery = ""
	return strings.TrimSuffix(u.String(), "/"), nil
}
