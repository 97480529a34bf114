package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/timba-app/livescores/internal/platform/logging"
)

const (
	EnvDev   = "dev"
	EnvStage = "stage"
	EnvProd  = "prod"

	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config stores runtime configuration for the service.
type Config struct {
	AppEnv         string `validate:"required,oneof=dev stage prod"`
	ServiceName    string `validate:"required"`
	ServiceVersion string
	LogLevel       logging.Level

	FootballDataBaseURL         string
	FootballDataToken           string        `validate:"required"`
	FootballDataTimeout         time.Duration `validate:"gt=0"`
	FootballDataMaxRetries      int           `validate:"gte=0"`
	FootballDataBackoffBase     time.Duration `validate:"gt=0"`
	FootballDataCircuitEnabled  bool
	FootballDataCircuitFailures int           `validate:"gte=1"`
	FootballDataCircuitOpenFor  time.Duration `validate:"gt=0"`
	FootballDataCircuitHalfOpen int           `validate:"gte=1"`
	RateLimitCapacity           int           `validate:"gte=1"`
	RateLimitWindow             time.Duration `validate:"gt=0"`
	RateLimitAcquireTimeout     time.Duration `validate:"gt=0"`
	CompetitionsCacheTTL        time.Duration `validate:"gt=0"`
	MatchesCacheTTL             time.Duration `validate:"gt=0"`
	LiveCacheTTL                time.Duration `validate:"gt=0"`
	TrackedCompetitions         []string      `validate:"min=1"`
	PollScheduledInterval       time.Duration `validate:"gt=0"`
	PollLiveInterval            time.Duration `validate:"gt=0"`
	PollPausedInterval          time.Duration `validate:"gt=0"`
	PollFinishedInterval        time.Duration `validate:"gt=0"`
	DiscoveryInterval           time.Duration `validate:"gt=0"`
	PollWorkers                 int           `validate:"gte=1"`
	AwayGoalsFirst              bool
	StorageDriver               string `validate:"oneof=memory sqlite postgres"`
	SQLitePath                  string
	DBURL                       string
	WebhookEnabled              bool
	WebhookURL                  string
	WebhookSecret               string
	WebhookRetries              int           `validate:"gte=0"`
	WebhookTimeout              time.Duration `validate:"gt=0"`
	ExportPath                  string
	UptraceEnabled              bool
	UptraceDSN                  string
	PyroscopeEnabled            bool
	PyroscopeServerAddress      string
	PyroscopeAppName            string
	PyroscopeAuthToken          string
	PyroscopeUploadRate         time.Duration `validate:"gt=0"`
}

func Load() (Config, error) {
	appEnv, err := parseAppEnv(getEnv("APP_ENV", EnvDev))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:         appEnv,
		ServiceName:    getEnv("SERVICE_NAME", "livescores"),
		ServiceVersion: getEnv("SERVICE_VERSION", "dev"),
		LogLevel:       parseLogLevel(getEnv("LOG_LEVEL", "info")),
	}

	cfg.FootballDataBaseURL = strings.TrimSpace(getEnv("FOOTBALL_DATA_BASE_URL", "https://api.football-data.org/v4"))
	cfg.FootballDataToken = strings.TrimSpace(getEnv("FOOTBALL_DATA_TOKEN", ""))
	if cfg.FootballDataToken == "" {
		return Config{}, fmt.Errorf("FOOTBALL_DATA_TOKEN is required")
	}

	cfg.FootballDataTimeout, err = getEnvAsDuration("FOOTBALL_DATA_TIMEOUT", "15s")
	if err != nil {
		return Config{}, err
	}
	cfg.FootballDataMaxRetries, err = getEnvAsInt("FOOTBALL_DATA_MAX_RETRIES", 3)
	if err != nil {
		return Config{}, fmt.Errorf("parse FOOTBALL_DATA_MAX_RETRIES: %w", err)
	}
	cfg.FootballDataBackoffBase, err = getEnvAsDuration("FOOTBALL_DATA_BACKOFF_BASE", "1s")
	if err != nil {
		return Config{}, err
	}

	cfg.FootballDataCircuitEnabled, err = strconv.ParseBool(getEnv("FOOTBALL_DATA_CIRCUIT_ENABLED", "true"))
	if err != nil {
		return Config{}, fmt.Errorf("parse FOOTBALL_DATA_CIRCUIT_ENABLED: %w", err)
	}
	cfg.FootballDataCircuitFailures, err = getEnvAsInt("FOOTBALL_DATA_CIRCUIT_FAILURE_COUNT", 5)
	if err != nil {
		return Config{}, fmt.Errorf("parse FOOTBALL_DATA_CIRCUIT_FAILURE_COUNT: %w", err)
	}
	cfg.FootballDataCircuitOpenFor, err = getEnvAsDuration("FOOTBALL_DATA_CIRCUIT_OPEN_TIMEOUT", "15s")
	if err != nil {
		return Config{}, err
	}
	cfg.FootballDataCircuitHalfOpen, err = getEnvAsInt("FOOTBALL_DATA_CIRCUIT_HALF_OPEN_MAX_REQ", 2)
	if err != nil {
		return Config{}, fmt.Errorf("parse FOOTBALL_DATA_CIRCUIT_HALF_OPEN_MAX_REQ: %w", err)
	}

	cfg.RateLimitCapacity, err = getEnvAsInt("RATE_LIMIT_CAPACITY", 10)
	if err != nil {
		return Config{}, fmt.Errorf("parse RATE_LIMIT_CAPACITY: %w", err)
	}
	cfg.RateLimitWindow, err = getEnvAsDuration("RATE_LIMIT_WINDOW", "60s")
	if err != nil {
		return Config{}, err
	}
	cfg.RateLimitAcquireTimeout, err = getEnvAsDuration("RATE_LIMIT_ACQUIRE_TIMEOUT", "30s")
	if err != nil {
		return Config{}, err
	}

	cfg.CompetitionsCacheTTL, err = getEnvAsDuration("COMPETITIONS_CACHE_TTL", "1h")
	if err != nil {
		return Config{}, err
	}
	cfg.MatchesCacheTTL, err = getEnvAsDuration("MATCHES_CACHE_TTL", "5m")
	if err != nil {
		return Config{}, err
	}
	cfg.LiveCacheTTL, err = getEnvAsDuration("LIVE_CACHE_TTL", "1m")
	if err != nil {
		return Config{}, err
	}

	cfg.TrackedCompetitions = splitCSV(getEnv("TRACKED_COMPETITIONS", "PL,CL,PD,BL1,SA,FL1"))
	if len(cfg.TrackedCompetitions) == 0 {
		return Config{}, fmt.Errorf("TRACKED_COMPETITIONS must list at least one competition code")
	}

	cfg.PollScheduledInterval, err = getEnvAsDuration("POLL_SCHEDULED_INTERVAL", "10m")
	if err != nil {
		return Config{}, err
	}
	cfg.PollLiveInterval, err = getEnvAsDuration("POLL_LIVE_INTERVAL", "15s")
	if err != nil {
		return Config{}, err
	}
	cfg.PollPausedInterval, err = getEnvAsDuration("POLL_PAUSED_INTERVAL", "30s")
	if err != nil {
		return Config{}, err
	}
	cfg.PollFinishedInterval, err = getEnvAsDuration("POLL_FINISHED_INTERVAL", "1h")
	if err != nil {
		return Config{}, err
	}
	cfg.DiscoveryInterval, err = getEnvAsDuration("DISCOVERY_INTERVAL", "5m")
	if err != nil {
		return Config{}, err
	}
	cfg.PollWorkers, err = getEnvAsInt("POLL_WORKERS", 4)
	if err != nil {
		return Config{}, fmt.Errorf("parse POLL_WORKERS: %w", err)
	}
	cfg.AwayGoalsFirst, err = strconv.ParseBool(getEnv("AWAY_GOALS_FIRST", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("parse AWAY_GOALS_FIRST: %w", err)
	}

	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(getEnv("STORAGE_DRIVER", StorageSQLite)))
	cfg.SQLitePath = strings.TrimSpace(getEnv("SQLITE_PATH", "livescores.db"))
	cfg.DBURL = strings.TrimSpace(getEnv("DB_URL", ""))
	switch cfg.StorageDriver {
	case StorageMemory:
	case StorageSQLite:
		if cfg.SQLitePath == "" {
			return Config{}, fmt.Errorf("SQLITE_PATH is required when STORAGE_DRIVER=sqlite")
		}
	case StoragePostgres:
		if cfg.DBURL == "" {
			return Config{}, fmt.Errorf("DB_URL is required when STORAGE_DRIVER=postgres")
		}
	default:
		return Config{}, fmt.Errorf("invalid STORAGE_DRIVER %q: valid values are %s, %s, %s",
			cfg.StorageDriver, StorageMemory, StorageSQLite, StoragePostgres)
	}

	cfg.WebhookEnabled, err = strconv.ParseBool(getEnv("WEBHOOK_ENABLED", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("parse WEBHOOK_ENABLED: %w", err)
	}
	cfg.WebhookURL = strings.TrimSpace(getEnv("WEBHOOK_URL", ""))
	if cfg.WebhookEnabled && cfg.WebhookURL == "" {
		return Config{}, fmt.Errorf("WEBHOOK_URL is required when WEBHOOK_ENABLED=true")
	}
	cfg.WebhookSecret = strings.TrimSpace(getEnv("WEBHOOK_SECRET", ""))
	cfg.WebhookRetries, err = getEnvAsInt("WEBHOOK_RETRIES", 2)
	if err != nil {
		return Config{}, fmt.Errorf("parse WEBHOOK_RETRIES: %w", err)
	}
	cfg.WebhookTimeout, err = getEnvAsDuration("WEBHOOK_TIMEOUT", "10s")
	if err != nil {
		return Config{}, err
	}

	cfg.ExportPath = strings.TrimSpace(getEnv("EXPORT_PATH", ""))

	cfg.UptraceEnabled, err = strconv.ParseBool(getEnv("UPTRACE_ENABLED", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("parse UPTRACE_ENABLED: %w", err)
	}
	cfg.UptraceDSN = strings.TrimSpace(getEnv("UPTRACE_DSN", ""))
	if cfg.UptraceEnabled && cfg.UptraceDSN == "" {
		return Config{}, fmt.Errorf("UPTRACE_DSN is required when UPTRACE_ENABLED=true")
	}

	cfg.PyroscopeEnabled, err = strconv.ParseBool(getEnv("PYROSCOPE_ENABLED", "false"))
	if err != nil {
		return Config{}, fmt.Errorf("parse PYROSCOPE_ENABLED: %w", err)
	}
	cfg.PyroscopeServerAddress = strings.TrimSpace(getEnv("PYROSCOPE_SERVER_ADDRESS", ""))
	if cfg.PyroscopeEnabled && cfg.PyroscopeServerAddress == "" {
		return Config{}, fmt.Errorf("PYROSCOPE_SERVER_ADDRESS is required when PYROSCOPE_ENABLED=true")
	}
	cfg.PyroscopeAppName = strings.TrimSpace(getEnv("PYROSCOPE_APP_NAME", cfg.ServiceName))
	cfg.PyroscopeAuthToken = strings.TrimSpace(getEnv("PYROSCOPE_AUTH_TOKEN", ""))
	cfg.PyroscopeUploadRate, err = getEnvAsDuration("PYROSCOPE_UPLOAD_RATE", "15s")
	if err != nil {
		return Config{}, err
	}

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func parseLogLevel(v string) logging.Level {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "debug":
		return logging.LevelDebug
	case "warn", "warning":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func parseAppEnv(v string) (string, error) {
	value := strings.ToLower(strings.TrimSpace(v))
	switch value {
	case EnvDev, EnvStage, EnvProd:
		return value, nil
	default:
		return "", fmt.Errorf("invalid APP_ENV %q: valid values are %s, %s, %s", v, EnvDev, EnvStage, EnvProd)
	}
}

func getEnv(key, fallback string) string {
	value := os.Getenv(key)
	if strings.TrimSpace(value) == "" {
		return fallback
	}

	return value
}

func getEnvAsInt(key string, fallback int) (int, error) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback, nil
	}

	out, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}

	return out, nil
}

func getEnvAsDuration(key, fallback string) (time.Duration, error) {
	out, err := time.ParseDuration(getEnv(key, fallback))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if out <= 0 {
		return 0, fmt.Errorf("%s must be > 0", key)
	}
	return out, nil
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.ToUpper(strings.TrimSpace(part))
		if item == "" {
			continue
		}
		out = append(out, item)
	}

	return out
}
