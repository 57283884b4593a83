package config

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pscheid92/linecast/internal/domain"
	"go-simpler.org/env"
)

type Config struct {
	Mode     string        `env:"LINECAST_MODE" default:"network+console"`
	Host     string        `env:"LINECAST_HOST" default:"localhost"`
	Port     int           `env:"LINECAST_PORT" default:"2323"`
	Interval time.Duration `env:"LINECAST_INTERVAL" default:"1s"`
	Message  string        `env:"LINECAST_MESSAGE" default:"Hello from linecast!"`

	AcceptTimeout time.Duration `env:"LINECAST_ACCEPT_TIMEOUT" default:"1s"`
	WriteTimeout  time.Duration `env:"LINECAST_WRITE_TIMEOUT" default:"5s"`
	BindAttempts  int           `env:"LINECAST_BIND_ATTEMPTS" default:"1"`
	BindBackoff   time.Duration `env:"LINECAST_BIND_BACKOFF" default:"500ms"`

	// Zero disables the respective limit.
	MaxConnections      int     `env:"LINECAST_MAX_CONNECTIONS" default:"0"`
	MaxConnectionsPerIP int     `env:"LINECAST_MAX_CONNECTIONS_PER_IP" default:"0"`
	ConnectionRate      float64 `env:"LINECAST_CONNECTION_RATE" default:"0"`
	ConnectionBurst     int     `env:"LINECAST_CONNECTION_BURST" default:"10"`

	AdminAddr string `env:"ADMIN_ADDR"`

	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
	LogOutput string `env:"LOG_OUTPUT" default:"stderr"`
}

// Load reads .env and the environment. It does not validate: callers apply
// their overrides first and then call Validate.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	return &cfg, nil
}

// Validate checks every field and reports the first problem as a
// *domain.ConfigurationError.
func (c *Config) Validate() error {
	mode, err := domain.ParseMode(c.Mode)
	if err != nil {
		return err
	}

	if mode.UsesNetwork() {
		if c.Port < 0 || c.Port > 65535 {
			return &domain.ConfigurationError{Field: "port", Value: strconv.Itoa(c.Port), Reason: "must be between 0 and 65535"}
		}
		if c.AcceptTimeout <= 0 {
			return &domain.ConfigurationError{Field: "accept_timeout", Value: c.AcceptTimeout.String(), Reason: "must be positive"}
		}
		if c.WriteTimeout <= 0 {
			return &domain.ConfigurationError{Field: "write_timeout", Value: c.WriteTimeout.String(), Reason: "must be positive"}
		}
		if c.BindAttempts < 1 {
			return &domain.ConfigurationError{Field: "bind_attempts", Value: strconv.Itoa(c.BindAttempts), Reason: "must be at least 1"}
		}
	}

	if c.Interval <= 0 {
		return &domain.ConfigurationError{Field: "interval", Value: c.Interval.String(), Reason: "must be positive"}
	}

	limits := map[string]int{
		"max_connections":        c.MaxConnections,
		"max_connections_per_ip": c.MaxConnectionsPerIP,
	}
	for name, value := range limits {
		if value < 0 {
			return &domain.ConfigurationError{Field: name, Value: strconv.Itoa(value), Reason: "must not be negative"}
		}
	}
	if c.ConnectionRate < 0 {
		return &domain.ConfigurationError{Field: "connection_rate", Value: strconv.FormatFloat(c.ConnectionRate, 'f', -1, 64), Reason: "must not be negative"}
	}
	if c.ConnectionRate > 0 && c.ConnectionBurst < 1 {
		return &domain.ConfigurationError{Field: "connection_burst", Value: strconv.Itoa(c.ConnectionBurst), Reason: "must be at least 1 when a connection rate is set"}
	}

	if c.AdminAddr != "" {
		if _, _, err := net.SplitHostPort(c.AdminAddr); err != nil {
			return &domain.ConfigurationError{Field: "admin_addr", Value: c.AdminAddr, Reason: err.Error()}
		}
	}

	return nil
}

// ParsedMode returns the normalised mode. Only meaningful after Validate succeeded.
func (c *Config) ParsedMode() domain.Mode {
	mode, _ := domain.ParseMode(c.Mode)
	return mode
}

// ListenAddr is the host:port the connection server binds.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
