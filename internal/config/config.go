// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config is the full server configuration.
type Config struct {
	// HTTP
	Port           string   `env:"PORT" envDefault:"8080"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`

	// Settlement ledger. Both optional; without DATABASE_URL settlements stay
	// in memory.
	DatabaseURL string        `env:"DATABASE_URL"`
	RedisURL    string        `env:"REDIS_URL"`
	CacheTTL    time.Duration `env:"LEDGER_CACHE_TTL" envDefault:"30s"`
	LedgerQueue int           `env:"LEDGER_QUEUE" envDefault:"256"`

	// Access. An empty list admits every non-blank identity.
	AllowedIdentities []string `env:"ALLOWED_IDENTITIES" envSeparator:","`

	// Engine tuning
	StartingBalance decimal.Decimal `env:"STARTING_BALANCE" envDefault:"1000"`
	BetInterval     time.Duration   `env:"BET_INTERVAL" envDefault:"60s"`
	BetDuration     time.Duration   `env:"BET_DURATION" envDefault:"30s"`
	ActionTTL       time.Duration   `env:"ACTION_TTL" envDefault:"5m"`
	EmotionTTL      time.Duration   `env:"EMOTION_TTL" envDefault:"5m"`
	DecayInterval   time.Duration   `env:"DECAY_INTERVAL" envDefault:"30s"`
	LobbyHistory    int             `env:"LOBBY_HISTORY" envDefault:"100"`
	RoomHistory     int             `env:"ROOM_HISTORY" envDefault:"200"`
	EventBuffer     int             `env:"EVENT_BUFFER" envDefault:"1024"`
}

// Load reads .env if present (non-fatal if missing) and then the process
// environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if !c.StartingBalance.IsPositive() {
		errs = append(errs, errors.New("STARTING_BALANCE must be positive"))
	}
	for name, d := range map[string]time.Duration{
		"BET_INTERVAL":   c.BetInterval,
		"BET_DURATION":   c.BetDuration,
		"ACTION_TTL":     c.ActionTTL,
		"EMOTION_TTL":    c.EmotionTTL,
		"DECAY_INTERVAL": c.DecayInterval,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	// The resolve timer must fire before the next proposal tick.
	if c.BetDuration >= c.BetInterval {
		errs = append(errs, errors.New("BET_DURATION must be shorter than BET_INTERVAL"))
	}
	if c.LobbyHistory <= 0 || c.RoomHistory <= 0 {
		errs = append(errs, errors.New("LOBBY_HISTORY and ROOM_HISTORY must be positive"))
	}
	if c.EventBuffer <= 0 {
		errs = append(errs, errors.New("EVENT_BUFFER must be positive"))
	}
	return errors.Join(errs...)
}
