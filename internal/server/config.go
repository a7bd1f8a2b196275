package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	_ "github.com/joho/godotenv/autoload"
)

// Config holds runtime configuration loaded from the environment (and a .env
// file when present).
type Config struct {
	Port      int    `env:"PORT,default=8080"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=text"`

	// StoreDriver selects the snapshot backend: sqlite, postgres, redis or memory.
	StoreDriver    string `env:"STORE_DRIVER,default=sqlite"`
	DBPath         string `env:"DB_PATH,default=data/tabletop.db"`
	DatabaseURL    string `env:"DATABASE_URL"`
	RedisAddr      string `env:"REDIS_ADDR,default=localhost:6379"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX,default=tabletop:sessions:"`

	AllowedOrigins string `env:"ALLOWED_ORIGINS,default=*"`

	RateLimit       int           `env:"RATE_LIMIT,default=30"`
	RateWindow      time.Duration `env:"RATE_WINDOW,default=1s"`
	// IdleTimeout closes sockets with no inbound frame for this long; 0 disables it.
	IdleTimeout     time.Duration `env:"IDLE_TIMEOUT,default=10m"`
	SendQueue       int           `env:"SEND_QUEUE,default=256"`
	MaxMessageBytes int64         `env:"MAX_MESSAGE_BYTES,default=16777216"`

	ImageMaxWidth          int `env:"IMAGE_MAX_WIDTH,default=1920"`
	ImageQuality           int `env:"IMAGE_QUALITY,default=85"`
	ImageCompressThreshold int `env:"IMAGE_COMPRESS_THRESHOLD,default=524288"`
	ImageMaxPixels         int `env:"IMAGE_MAX_PIXELS,default=40000000"`

	SaveOnShutdown bool `env:"SAVE_ON_SHUTDOWN,default=false"`
	// AutosaveInterval snapshots changed sessions periodically; 0 disables it.
	AutosaveInterval time.Duration `env:"AUTOSAVE_INTERVAL,default=0s"`
}

// DefaultConfig mirrors the struct tag defaults without reading the
// environment.
func DefaultConfig() Config {
	return Config{
		Port:                   8080,
		LogLevel:               "info",
		LogFormat:              "text",
		StoreDriver:            "sqlite",
		DBPath:                 "data/tabletop.db",
		RedisAddr:              "localhost:6379",
		RedisKeyPrefix:         "tabletop:sessions:",
		AllowedOrigins:         "*",
		RateLimit:              30,
		RateWindow:             time.Second,
		IdleTimeout:            10 * time.Minute,
		SendQueue:              256,
		MaxMessageBytes:        16 << 20,
		ImageMaxWidth:          1920,
		ImageQuality:           85,
		ImageCompressThreshold: 512 << 10,
		ImageMaxPixels:         40_000_000,
	}
}

// LoadConfig decodes the environment into a Config.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case "sqlite", "postgres", "redis", "memory":
	default:
		return fmt.Errorf("STORE_DRIVER: unknown driver %q", c.StoreDriver)
	}
	if c.StoreDriver == "postgres" && c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for the postgres driver")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT: %d out of range", c.Port)
	}
	if c.RateLimit <= 0 || c.RateWindow <= 0 {
		return errors.New("RATE_LIMIT and RATE_WINDOW must be positive")
	}
	if c.AutosaveInterval < 0 {
		return errors.New("AUTOSAVE_INTERVAL must not be negative")
	}
	if c.ImageMaxPixels <= 0 {
		return errors.New("IMAGE_MAX_PIXELS must be positive")
	}
	if c.SendQueue <= 0 {
		return errors.New("SEND_QUEUE must be positive")
	}
	return nil
}

// Origins returns the websocket origin patterns.
func (c Config) Origins() []string {
	return parseAllowedOrigins(c.AllowedOrigins)
}

func parseAllowedOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return origins
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func NewLogger(cfg Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
