// Package config loads runtime settings from the environment, optionally
// seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port               string
	DatabaseURL        string
	Store              string
	JWTSecret          string
	TokenTTL           time.Duration
	OperationTimeout   time.Duration
	DefaultRadius      float64
	AllowSelfOffer     bool
	KafkaBrokers       []string
	KafkaTopic         string
	OutboxPollInterval time.Duration
	OutboxMaxAttempts  int
}

// Load reads .env files (missing ones are ignored) and then the process
// environment. Variables already set in the environment win over .env.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from an arbitrary variable source.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	p := parser{lookup: lookup}

	cfg := Config{
		Port:               p.str("PORT", "8080"),
		DatabaseURL:        p.str("DATABASE_URL", ""),
		JWTSecret:          p.str("JWT_SECRET", ""),
		TokenTTL:           p.duration("TOKEN_TTL", 24*time.Hour),
		OperationTimeout:   p.duration("OPERATION_TIMEOUT", 5*time.Second),
		DefaultRadius:      p.positiveFloat("DEFAULT_RADIUS_METERS", 10000),
		AllowSelfOffer:     p.boolean("ALLOW_SELF_OFFER", false),
		KafkaBrokers:       p.list("KAFKA_BROKERS"),
		KafkaTopic:         p.str("KAFKA_TOPIC", "roadassist.events"),
		OutboxPollInterval: p.duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxMaxAttempts:  p.positiveInt("OUTBOX_MAX_ATTEMPTS", 10),
	}

	defaultStore := StoreMemory
	if cfg.DatabaseURL != "" {
		defaultStore = StorePostgres
	}
	cfg.Store = strings.ToLower(p.str("STORE", defaultStore))

	if p.err != nil {
		return Config{}, p.err
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("config: JWT_SECRET is required")
	}
	switch cfg.Store {
	case StoreMemory:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("config: STORE=postgres requires DATABASE_URL")
		}
	default:
		return Config{}, fmt.Errorf("config: STORE must be %q or %q, got %q", StorePostgres, StoreMemory, cfg.Store)
	}
	return cfg, nil
}

// parser records the first malformed variable and keeps defaults after it.
type parser struct {
	lookup func(string) (string, bool)
	err    error
}

func (p *parser) raw(key string) (string, bool) {
	v, ok := p.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *parser) fail(key, value, want string) {
	if p.err == nil {
		p.err = fmt.Errorf("config: %s=%q: %s", key, value, want)
	}
}

func (p *parser) str(key, def string) string {
	if v, ok := p.raw(key); ok {
		return v
	}
	return def
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.fail(key, v, "want a positive duration such as 5s")
		return def
	}
	return d
}

func (p *parser) positiveFloat(key string, def float64) float64 {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		p.fail(key, v, "want a positive number")
		return def
	}
	return f
}

func (p *parser) positiveInt(key string, def int) int {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		p.fail(key, v, "want a positive integer")
		return def
	}
	return n
}

func (p *parser) boolean(key string, def bool) bool {
	v, ok := p.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, v, "want true or false")
		return def
	}
	return b
}

func (p *parser) list(key string) []string {
	v, ok := p.raw(key)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
