package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const devJWTSecret = "dev-secret-change-in-production"

// Config is the relay server configuration, read from the environment and an
// optional .env file.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	WebSocket WebSocketConfig
	CORS      CORSConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, s.Port)
}

func (s ServerConfig) IsProduction() bool {
	return s.Env == "production"
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

// URL is the CouchDB endpoint with credentials escaped into the userinfo.
func (d DatabaseConfig) URL() string {
	u := url.URL{
		Scheme: "http",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, d.Port),
	}
	return u.String()
}

type JWTConfig struct {
	Secret                 string
	Expiration             time.Duration
	RefreshTokenExpiration time.Duration
}

// WebSocketConfig sizes the relay hub. PingPeriod must be shorter than
// PongWait or idle peers time out between pings.
type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	MaxMessageSize  int64
	WriteWait       time.Duration
	PongWait        time.Duration
	PingPeriod      time.Duration
	MaxConnPerUser  int
}

type CORSConfig struct {
	AllowedOrigins string
	AllowedMethods string
	AllowedHeaders string
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	godotenv.Load()
	return load(os.LookupEnv)
}

func load(lookup func(string) (string, bool)) (*Config, error) {
	env := envReader{lookup: lookup}

	cfg := &Config{
		Server: ServerConfig{
			Port: env.str("PORT", "5001"),
			Host: env.str("HOST", "0.0.0.0"),
			Env:  env.str("ENV", "development"),
		},
		Database: DatabaseConfig{
			Host:     env.str("DB_HOST", "localhost"),
			Port:     env.str("DB_PORT", "5984"),
			User:     env.str("DB_USER", "admin"),
			Password: env.str("DB_PASSWORD", "password"),
			Name:     env.str("DB_NAME", "inkdown_collab"),
		},
		JWT: JWTConfig{
			Secret:                 env.str("JWT_SECRET", devJWTSecret),
			Expiration:             env.duration("JWT_EXPIRATION", 15*time.Minute),
			RefreshTokenExpiration: env.duration("REFRESH_TOKEN_EXPIRATION", 7*24*time.Hour),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  env.integer("WS_READ_BUFFER_SIZE", 4096),
			WriteBufferSize: env.integer("WS_WRITE_BUFFER_SIZE", 4096),
			MaxMessageSize:  int64(env.integer("WS_MAX_MESSAGE_SIZE", 10<<20)),
			WriteWait:       env.duration("WS_WRITE_WAIT", 10*time.Second),
			PongWait:        env.duration("WS_PONG_WAIT", 60*time.Second),
			PingPeriod:      env.duration("WS_PING_PERIOD", 54*time.Second),
			MaxConnPerUser:  env.integer("WS_MAX_CONN_PER_USER", 5),
		},
		CORS: CORSConfig{
			AllowedOrigins: env.str("CORS_ALLOWED_ORIGINS", "*"),
			AllowedMethods: env.str("CORS_ALLOWED_METHODS", "GET,POST,PUT,DELETE,OPTIONS"),
			AllowedHeaders: env.str("CORS_ALLOWED_HEADERS", "Content-Type,Authorization"),
		},
		Logging: LoggingConfig{
			Level: env.str("LOG_LEVEL", "info"),
		},
	}

	if err := errors.Join(env.errs...); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.Server.IsProduction() && c.JWT.Secret == devJWTSecret {
		errs = append(errs, errors.New("JWT_SECRET must be set in production"))
	}
	if c.JWT.Expiration <= 0 || c.JWT.RefreshTokenExpiration <= 0 {
		errs = append(errs, errors.New("token expirations must be positive"))
	}
	if c.Database.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if c.WebSocket.MaxConnPerUser <= 0 {
		errs = append(errs, fmt.Errorf("WS_MAX_CONN_PER_USER must be positive, got %d", c.WebSocket.MaxConnPerUser))
	}
	if c.WebSocket.PingPeriod >= c.WebSocket.PongWait {
		errs = append(errs, fmt.Errorf("WS_PING_PERIOD (%s) must be shorter than WS_PONG_WAIT (%s)",
			c.WebSocket.PingPeriod, c.WebSocket.PongWait))
	}
	return errors.Join(errs...)
}

// envReader reads typed values and collects every malformed one instead of
// silently falling back to the default.
type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *envReader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && v != "" {
		return v
	}
	return def
}

func (r *envReader) integer(key string, def int) int {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return n
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("invalid %s: %w", key, err))
		return def
	}
	return d
}
