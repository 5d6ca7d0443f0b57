package config

import (
	"flag"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Server is the signaling server configuration.
type Server struct {
	Env       string    `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTP      `yaml:"http"`
	Signaling Signaling `yaml:"signaling"`
	ICE       ICE       `yaml:"ice"`
}

type HTTP struct {
	Address         string        `yaml:"address" env:"HTTP_ADDRESS" env-default:":8080"`
	AllowedOrigins  []string      `yaml:"allowed_origins" env:"HTTP_ALLOWED_ORIGINS" env-separator:","`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"10s"`
}

type Signaling struct {
	// RoomCapacity limits participants per room. Zero disables the limit.
	RoomCapacity   int           `yaml:"room_capacity" env:"ROOM_CAPACITY" env-default:"2"`
	SendBuffer     int           `yaml:"send_buffer" env:"SEND_BUFFER" env-default:"64"`
	MaxMessageSize int64         `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE" env-default:"65536"`
	WriteWait      time.Duration `yaml:"write_wait" env:"WRITE_WAIT" env-default:"10s"`
	PongWait       time.Duration `yaml:"pong_wait" env:"PONG_WAIT" env-default:"60s"`
}

// MustLoadServer reads the config file named by -config or CONFIG_PATH.
// Without a file, configuration comes from the environment alone.
func MustLoadServer() *Server {
	return MustLoadServerPath(fetchConfigPath())
}

// MustLoadServerPath reads configuration from path and panics on failure.
func MustLoadServerPath(path string) *Server {
	var cfg Server

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			panic("cannot read config: " + err.Error())
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		panic("cannot read environment: " + err.Error())
	}

	cfg.setDefaults()
	return &cfg
}

func fetchConfigPath() string {
	var res string

	flag.StringVar(&res, "config", "", "path to config file")
	flag.Parse()

	if res == "" {
		res = os.Getenv("CONFIG_PATH")
	}
	if res == "" {
		res = "config/local.yaml"
	}
	return res
}

func (c *Server) setDefaults() {
	if c.HTTP.Address == "" {
		c.HTTP.Address = ":8080"
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if len(c.HTTP.AllowedOrigins) == 0 {
		c.HTTP.AllowedOrigins = []string{"*"}
	}
	if c.Signaling.SendBuffer <= 0 {
		c.Signaling.SendBuffer = 64
	}
	if c.Signaling.MaxMessageSize <= 0 {
		c.Signaling.MaxMessageSize = 64 * 1024
	}
	if c.Signaling.WriteWait <= 0 {
		c.Signaling.WriteWait = 10 * time.Second
	}
	if c.Signaling.PongWait <= 0 {
		c.Signaling.PongWait = 60 * time.Second
	}
	c.ICE.setDefaults()
}
