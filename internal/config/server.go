package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Server is the relay configuration, read from the environment.
type Server struct {
	Port            int           `envconfig:"PORT" default:"3000"`
	CORSOrigin      []string      `envconfig:"CORS_ORIGIN" default:"http://localhost:5173,http://localhost:5174"`
	RoomTimeout     time.Duration `envconfig:"ROOM_TIMEOUT" default:"2h"`
	MaxUsersPerRoom int           `envconfig:"MAX_USERS_PER_ROOM" default:"2"`
	SweepInterval   time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// LoadServer reads and validates the relay configuration.
func LoadServer() (*Server, error) {
	var cfg Server
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load server config: %w", err)
	}

	for i, o := range cfg.CORSOrigin {
		cfg.CORSOrigin[i] = strings.TrimSpace(o)
	}

	switch {
	case cfg.Port <= 0 || cfg.Port > 65535:
		return nil, fmt.Errorf("invalid PORT %d", cfg.Port)
	case cfg.RoomTimeout <= 0:
		return nil, fmt.Errorf("invalid ROOM_TIMEOUT %s", cfg.RoomTimeout)
	case cfg.MaxUsersPerRoom < 2:
		return nil, fmt.Errorf("MAX_USERS_PER_ROOM must be at least 2, got %d", cfg.MaxUsersPerRoom)
	case cfg.SweepInterval <= 0:
		return nil, fmt.Errorf("invalid SWEEP_INTERVAL %s", cfg.SweepInterval)
	}

	return &cfg, nil
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf(":%d", s.Port)
}
