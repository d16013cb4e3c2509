package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	clientEnvPrefix = "INKDOWN"

	ModeOnline  = "online"
	ModeOffline = "offline"
)

// ClientConfig drives a collaborating client session.
type ClientConfig struct {
	ServerURL      string
	Token          string
	Mode           string
	MaxAttempts    int
	ConnectTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	AutoReconnect  bool
	Debounce       time.Duration
	RetryDelay     time.Duration
	LogLevel       string
}

// NewClientViper returns a viper instance with client defaults and env
// bindings configured.
func NewClientViper() *viper.Viper {
	v := viper.New()
	ApplyClientDefaults(v)
	return v
}

// ApplyClientDefaults configures defaults and env bindings on v.
func ApplyClientDefaults(v *viper.Viper) {
	v.SetEnvPrefix(clientEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.url", "http://localhost:5001")
	v.SetDefault("sync.mode", ModeOnline)
	v.SetDefault("sync.max_attempts", 5)
	v.SetDefault("sync.connect_timeout", 10*time.Second)
	v.SetDefault("sync.initial_backoff", time.Second)
	v.SetDefault("sync.max_backoff", 5*time.Second)
	v.SetDefault("sync.auto_reconnect", true)
	v.SetDefault("sync.debounce", 2*time.Second)
	v.SetDefault("sync.retry_delay", 2*time.Second)
	v.SetDefault("log.level", "info")
}

// LoadClient reads client configuration from v.
func LoadClient(v *viper.Viper) (ClientConfig, error) {
	cfg := ClientConfig{
		ServerURL:      strings.TrimRight(strings.TrimSpace(v.GetString("server.url")), "/"),
		Token:          strings.TrimSpace(v.GetString("auth.token")),
		Mode:           strings.ToLower(strings.TrimSpace(v.GetString("sync.mode"))),
		MaxAttempts:    v.GetInt("sync.max_attempts"),
		ConnectTimeout: v.GetDuration("sync.connect_timeout"),
		InitialBackoff: v.GetDuration("sync.initial_backoff"),
		MaxBackoff:     v.GetDuration("sync.max_backoff"),
		AutoReconnect:  v.GetBool("sync.auto_reconnect"),
		Debounce:       v.GetDuration("sync.debounce"),
		RetryDelay:     v.GetDuration("sync.retry_delay"),
		LogLevel:       v.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func (c ClientConfig) Offline() bool {
	return c.Mode == ModeOffline
}

func (c ClientConfig) validate() error {
	if c.Mode != ModeOnline && c.Mode != ModeOffline {
		return fmt.Errorf("sync.mode must be %q or %q, got %q", ModeOnline, ModeOffline, c.Mode)
	}
	if c.ServerURL == "" {
		return fmt.Errorf("server.url is required")
	}
	if c.Token == "" && !c.Offline() {
		return fmt.Errorf("auth.token is required unless sync.mode is offline")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("sync.max_attempts must be positive")
	}
	if c.Debounce <= 0 {
		return fmt.Errorf("sync.debounce must be positive")
	}
	return nil
}
