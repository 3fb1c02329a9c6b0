package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Addr             string        `env:"RELAYFEED_ADDR,default=:8080" validate:"required"`
	LogLevel         string        `env:"LOG_LEVEL,default=info" validate:"oneof=debug info warn warning error"`
	BackendProfile   string        `env:"RELAYFEED_BACKEND_PROFILE" validate:"omitempty,oneof=custom memory inmemory production prod durable-local local-durable"`
	DataDir          string        `env:"RELAYFEED_DATA_DIR,default=.relayfeed"`
	StateBackendDSN  string        `env:"RELAYFEED_STATE_BACKEND_DSN"`
	StateFile        string        `env:"RELAYFEED_STATE_FILE"`
	ReplyQueueDSN    string        `env:"RELAYFEED_REPLY_QUEUE_DSN"`
	ReplyQueueSize   int           `env:"RELAYFEED_REPLY_QUEUE_SIZE,default=1024" validate:"gte=1"`
	ProductionDSN    string        `env:"RELAYFEED_PRODUCTION_DSN"`
	PostgresDSN      string        `env:"RELAYFEED_POSTGRES_DSN"`
	JWTSecret        string        `env:"RELAYFEED_JWT_SECRET"`
	RateLimitMax     int           `env:"RELAYFEED_RATE_LIMIT_MAX,default=0" validate:"gte=0"`
	RateLimitWindow  time.Duration `env:"RELAYFEED_RATE_LIMIT_WINDOW,default=1m" validate:"gt=0"`
	MaxBodyBytes     int           `env:"RELAYFEED_MAX_BODY_BYTES,default=1048576" validate:"gte=0"`
	AutoReply        bool          `env:"RELAYFEED_AUTO_REPLY,default=false"`
	AutoReplyDelay   time.Duration `env:"RELAYFEED_AUTO_REPLY_DELAY,default=2s" validate:"gte=0"`
	AutoReplyMessage string        `env:"RELAYFEED_AUTO_REPLY_MESSAGE"`
	IdempotencyTTL   time.Duration `env:"RELAYFEED_IDEMPOTENCY_TTL,default=10m" validate:"gt=0"`
	ShutdownTimeout  time.Duration `env:"RELAYFEED_SHUTDOWN_TIMEOUT,default=10s" validate:"gt=0"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	cfg.BackendProfile = strings.ToLower(strings.TrimSpace(cfg.BackendProfile))
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// profileDSNs expands a backend profile into default state and reply queue
// DSNs. Explicit DSNs in the config take precedence.
func (c Config) profileDSNs() (stateDSN, replyQueueDSN string, err error) {
	switch c.BackendProfile {
	case "", "custom":
		return "", "", nil
	case "memory", "inmemory":
		return "memory://", "memory://", nil
	case "production", "prod":
		dsn := strings.TrimSpace(c.ProductionDSN)
		if dsn == "" {
			dsn = strings.TrimSpace(c.PostgresDSN)
		}
		if dsn == "" {
			return "", "", fmt.Errorf("RELAYFEED_PRODUCTION_DSN or RELAYFEED_POSTGRES_DSN is required when RELAYFEED_BACKEND_PROFILE=%s", c.BackendProfile)
		}
		return dsn, dsn, nil
	case "durable-local", "local-durable":
		return "file://" + filepath.Join(c.DataDir, "state.json"),
			"file://" + filepath.Join(c.DataDir, "reply-queue.json"),
			nil
	default:
		return "", "", fmt.Errorf("unsupported RELAYFEED_BACKEND_PROFILE: %s", c.BackendProfile)
	}
}

func (c Config) stateDSN() (string, error) {
	profileDSN, _, err := c.profileDSNs()
	if err != nil {
		return "", err
	}
	switch {
	case strings.TrimSpace(c.StateBackendDSN) != "":
		return strings.TrimSpace(c.StateBackendDSN), nil
	case strings.TrimSpace(c.StateFile) != "":
		return strings.TrimSpace(c.StateFile), nil
	default:
		return profileDSN, nil
	}
}

func (c Config) replyQueueDSN() (string, error) {
	_, profileDSN, err := c.profileDSNs()
	if err != nil {
		return "", err
	}
	if dsn := strings.TrimSpace(c.ReplyQueueDSN); dsn != "" {
		return dsn, nil
	}
	return profileDSN, nil
}
