package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName           = "Mosala"
	defaultAppEnv            = "development"
	defaultPort              = "8080"
	defaultLogLevel          = "info"
	defaultShutdownDelay     = 10 * time.Second
	defaultIdempotencyTTL    = 24 * time.Hour
	defaultLedgerRetryLimit  = 5
	defaultMultiplier        = 3
	defaultWindowDays        = 30
	defaultDefaultThreshold  = 4
	defaultSagaStepTimeout   = 10 * time.Second
	defaultSweepInterval     = time.Hour
	defaultReconcileInterval = 6 * time.Hour
	defaultKafkaTopic        = "mosala.lending"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	KafkaBrokers   []string
	KafkaTopic     string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	// Lending policy knobs. These are policy, not constants: operators tune
	// them per deployment.
	LedgerRetryLimit      int
	EligibilityMultiplier int64
	EligibilityWindowDays int
	DefaultThreshold      int
	SagaStepTimeout       time.Duration
	SweepInterval         time.Duration
	ReconcileInterval     time.Duration
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:               getEnv("APP_NAME", defaultAppName),
		AppEnv:                getEnv("APP_ENV", defaultAppEnv),
		Port:                  getEnv("PORT", defaultPort),
		LogLevel:              strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisURL:              os.Getenv("REDIS_URL"),
		KafkaTopic:            getEnv("KAFKA_TOPIC", defaultKafkaTopic),
		ShutdownPeriod:        defaultShutdownDelay,
		IdempotencyTTL:        defaultIdempotencyTTL,
		LedgerRetryLimit:      defaultLedgerRetryLimit,
		EligibilityMultiplier: defaultMultiplier,
		EligibilityWindowDays: defaultWindowDays,
		DefaultThreshold:      defaultDefaultThreshold,
		SagaStepTimeout:       defaultSagaStepTimeout,
		SweepInterval:         defaultSweepInterval,
		ReconcileInterval:     defaultReconcileInterval,
	}

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		for _, broker := range strings.Split(v, ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, broker)
			}
		}
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.SagaStepTimeout, err = durationEnv("SAGA_STEP_TIMEOUT", cfg.SagaStepTimeout); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return Config{}, err
	}
	if cfg.ReconcileInterval, err = durationEnv("RECONCILE_INTERVAL", cfg.ReconcileInterval); err != nil {
		return Config{}, err
	}
	if cfg.LedgerRetryLimit, err = intEnv("LEDGER_RETRY_LIMIT", cfg.LedgerRetryLimit); err != nil {
		return Config{}, err
	}
	if cfg.EligibilityWindowDays, err = intEnv("ELIGIBILITY_WINDOW_DAYS", cfg.EligibilityWindowDays); err != nil {
		return Config{}, err
	}
	if cfg.DefaultThreshold, err = intEnv("DEFAULT_THRESHOLD", cfg.DefaultThreshold); err != nil {
		return Config{}, err
	}

	if v := os.Getenv("ELIGIBILITY_MULTIPLIER"); v != "" {
		m, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid ELIGIBILITY_MULTIPLIER: %w", err)
		}
		cfg.EligibilityMultiplier = m
	}

	if cfg.LedgerRetryLimit < 1 {
		return Config{}, fmt.Errorf("LEDGER_RETRY_LIMIT must be at least 1")
	}
	if cfg.EligibilityMultiplier < 0 {
		return Config{}, fmt.Errorf("ELIGIBILITY_MULTIPLIER must not be negative")
	}
	if cfg.DefaultThreshold < 1 {
		return Config{}, fmt.Errorf("DEFAULT_THRESHOLD must be at least 1")
	}

	if !cfg.IsDev() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the app runs in a development environment, where the
// in-memory backends may substitute for Postgres, Redis and Kafka.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if seconds, err := strconv.Atoi(v); err == nil {
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
