// Package config loads and validates the process configuration from the
// environment. Loading is strict: a malformed value is a startup error, not
// a silent fallback.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	envSecret          = "FLYT_AUTH_SECRET"
	envBootstrapSecret = "FLYT_BOOTSTRAP_SECRET"
	envRefreshInterval = "FLYT_CLAIMS_REFRESH_INTERVAL_MS"
	envSessionTTL      = "FLYT_SESSION_TTL_SECONDS"
	envProviders       = "FLYT_AUTH_PROVIDERS"
	envDefaultProvider = "FLYT_AUTH_DEFAULT_PROVIDER"
	envPGDSN           = "FLYT_PG_DSN"
	envListenAddr      = "FLYT_LISTEN_ADDR"
	envEnvironment     = "FLYT_ENV"
)

const (
	minSecretLen          = 32
	minBootstrapSecretLen = 16

	defaultRefreshInterval = 5000 * time.Millisecond
	maxRefreshIntervalProd = 30000 * time.Millisecond
	maxRefreshIntervalDev  = 300000 * time.Millisecond

	defaultSessionTTL = 24 * time.Hour
	defaultListenAddr = ":8080"
)

var knownProviders = map[string]struct{}{
	"github": {},
	"google": {},
}

// ErrInvalid wraps every configuration validation failure.
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the validated process configuration.
type Config struct {
	// Secret signs and verifies session tokens.
	Secret []byte

	// BootstrapSecret guards the sign-in endpoint: minting a session
	// requires presenting it alongside the verified provider identity.
	BootstrapSecret string

	// RefreshInterval bounds how long cached claims are trusted before a
	// store reconciliation is forced.
	RefreshInterval time.Duration

	// SessionTTL is the lifetime of an issued session token.
	SessionTTL time.Duration

	// Providers is the ordered set of enabled sign-in providers.
	Providers []string

	// DefaultProvider is used when a sign-in request names none.
	DefaultProvider string

	// PGDSN is the Postgres connection string. Empty disables the readiness
	// database ping.
	PGDSN string

	// ListenAddr is the HTTP bind address.
	ListenAddr string

	// Environment is "production" or "development". Production enforces the
	// refresh interval ceiling.
	Environment string
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Load reads the environment and returns a validated Config.
func Load() (Config, error) {
	cfg := Config{
		RefreshInterval: defaultRefreshInterval,
		SessionTTL:      defaultSessionTTL,
		ListenAddr:      defaultListenAddr,
		Environment:     "production",
	}

	secret := strings.TrimSpace(os.Getenv(envSecret))
	if secret == "" {
		return Config{}, invalid("%s is required", envSecret)
	}
	if len(secret) < minSecretLen {
		return Config{}, invalid("%s must be at least %d characters", envSecret, minSecretLen)
	}
	cfg.Secret = []byte(secret)

	bootstrapSecret := strings.TrimSpace(os.Getenv(envBootstrapSecret))
	if bootstrapSecret == "" {
		return Config{}, invalid("%s is required", envBootstrapSecret)
	}
	if len(bootstrapSecret) < minBootstrapSecretLen {
		return Config{}, invalid("%s must be at least %d characters", envBootstrapSecret, minBootstrapSecretLen)
	}
	cfg.BootstrapSecret = bootstrapSecret

	if env := strings.TrimSpace(os.Getenv(envEnvironment)); env != "" {
		switch env {
		case "production", "development":
			cfg.Environment = env
		default:
			return Config{}, invalid("%s must be production or development, got %q", envEnvironment, env)
		}
	}

	// Zero is legal: it forces reconciliation on every resolution.
	if raw := strings.TrimSpace(os.Getenv(envRefreshInterval)); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms < 0 {
			return Config{}, invalid("%s must be a non-negative integer of milliseconds, got %q", envRefreshInterval, raw)
		}
		cfg.RefreshInterval = time.Duration(ms) * time.Millisecond
	}
	// A long trust window widens the revocation gap; the ceiling cannot be
	// configured away, only loosened for development.
	maxInterval := maxRefreshIntervalProd
	if cfg.Environment == "development" {
		maxInterval = maxRefreshIntervalDev
	}
	if cfg.RefreshInterval > maxInterval {
		return Config{}, invalid("%s must not exceed %d in %s", envRefreshInterval, maxInterval/time.Millisecond, cfg.Environment)
	}

	if raw := strings.TrimSpace(os.Getenv(envSessionTTL)); raw != "" {
		sec, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || sec <= 0 {
			return Config{}, invalid("%s must be a positive integer of seconds, got %q", envSessionTTL, raw)
		}
		cfg.SessionTTL = time.Duration(sec) * time.Second
	}

	providers, err := parseProviders(os.Getenv(envProviders))
	if err != nil {
		return Config{}, err
	}
	cfg.Providers = providers

	cfg.DefaultProvider = strings.ToLower(strings.TrimSpace(os.Getenv(envDefaultProvider)))
	if cfg.DefaultProvider == "" {
		cfg.DefaultProvider = cfg.Providers[0]
	}
	if !contains(cfg.Providers, cfg.DefaultProvider) {
		return Config{}, invalid("%s %q is not among enabled providers %v", envDefaultProvider, cfg.DefaultProvider, cfg.Providers)
	}

	cfg.PGDSN = strings.TrimSpace(os.Getenv(envPGDSN))

	if addr := strings.TrimSpace(os.Getenv(envListenAddr)); addr != "" {
		cfg.ListenAddr = addr
	}

	return cfg, nil
}

func parseProviders(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return []string{"github", "google"}, nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, p := range strings.Split(raw, ",") {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, ok := knownProviders[p]; !ok {
			return nil, invalid("%s contains unknown provider %q", envProviders, p)
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, invalid("%s must enable at least one provider", envProviders)
	}
	return out, nil
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}
