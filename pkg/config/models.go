package config

import (
	"time"

	"github.com/table-talk25/TableTalk-app-sub000/pkg/pipeline"
)

type Config struct {
	LogLevel    string `mapstructure:"logLevel"`
	Client      ClientConfig
	Server      ServerConfig
	Transport   TransportConfig
	Storage     StorageConfig
	Events      map[string]EventConfig `mapstructure:"events"`
	Permissions []string               `mapstructure:"permissions"`

	// Pipelines is filled by CompilePipelines from Events.
	Pipelines map[string]*pipeline.Pipeline `mapstructure:"-"`
}

// ClientConfig drives the realtime client of a logged-in user.
type ClientConfig struct {
	ServerURL               string        `mapstructure:"serverURL"`
	APIURL                  string        `mapstructure:"apiURL"`
	ConnectTimeout          time.Duration `mapstructure:"connectTimeout"`
	ReconnectDelay          time.Duration `mapstructure:"reconnectDelay"`
	TypingIdle              time.Duration `mapstructure:"typingIdle"`
	PeerTypingTTL           time.Duration `mapstructure:"peerTypingTTL"`
	NotificationSyncTimeout time.Duration `mapstructure:"notificationSyncTimeout"`
}

type ServerConfig struct {
	Address         string
	Auth            AuthConfig
	ConnectionLimit ConnectionLimitConfig `mapstructure:"connectionLimit"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwtSecret"`
}

type ConnectionLimitConfig struct {
	MaxPerUser int    `mapstructure:"maxPerUser"`
	Mode       string `mapstructure:"mode"` // "reject" or "cycle"
}

// TransportConfig mirrors transport.ConnectionConfig so it converts directly.
type TransportConfig struct {
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	PingInterval time.Duration `mapstructure:"pingInterval"`
	PingTimeout  time.Duration `mapstructure:"pingTimeout"`
	SendQueue    int           `mapstructure:"sendQueue"`
	ReadLimit    int64         `mapstructure:"readLimit"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // "memory" or "pebble"
	Path   string `mapstructure:"path"`
}

type EventConfig struct {
	// Target is resolved once per message and exposed as {$target.id}.
	Target    string         `mapstructure:"target"`
	Modifiers []ActionConfig `mapstructure:"modifiers"`
	Actions   []ActionConfig `mapstructure:"actions"`
}

type ActionConfig struct {
	Name   string   `mapstructure:"name"`
	Params []string `mapstructure:"params"`
}
