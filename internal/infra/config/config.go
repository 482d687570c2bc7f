package config

import (
	"fmt"
	"os"
	"strconv"
	"strings" // For LogLevel normalization
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// AppConfig holds all configuration for the application
type AppConfig struct {
	TelegramToken      string
	StorageBackend     string // postgres (default) or memory for local runs
	DatabaseURL        string
	RunMigrations      bool
	DBMaxOpenConns     int
	DBMaxIdleConns     int
	DBConnMaxLifetime  time.Duration
	DBConnMaxIdleTime  time.Duration
	AdminTelegramIDs   []int64 // receive every notification, run reports and admin commands
	ManagerTelegramIDs []int64 // receive every notification and the daily summary
	LogLevel           string
	Environment        string
	Timezone           *time.Location
	HTTPAddr           string

	CronSpecDeadlineCheck string // scheduler tick
	CronSpecDailySummary  string
	RunCheckOnStart       bool
	TickTimeout           time.Duration
	RenotifyInterval      time.Duration // repeat reminders for red/expired deadlines

	NotifyRetryAttempts     int
	NotifyRetryInitialDelay time.Duration
	NotifyRetryMaxDelay     time.Duration
	NotifyAttemptTimeout    time.Duration // must outlast TelegramHTTPTimeout
	NotifyWorkers           int

	TelegramHTTPTimeout time.Duration // HTTP client timeout of every Bot API call
	TelegramPollTimeout time.Duration // long-poll wait, shorter than TelegramHTTPTimeout

	ConflictRetryAttempts int
	AllowTypeOrphaning    bool
	FNTypeNames           []string // accepted names of the fiscal-drive replacement type
	OFDTypeNames          []string // accepted names of the operator contract renewal type
}

var (
	defaultFNTypeNames  = []string{"Замена ФН", "Замена фискального накопителя", "Fiscal drive replacement"}
	defaultOFDTypeNames = []string{"Продление договора ОФД", "Продление ОФД", "Operator contract renewal"}
)

// Load reads configuration from environment variables and .env file (if present).
func Load() (*AppConfig, error) {
	// Attempt to load .env file. Errors are ignored if the file doesn't exist.
	// godotenv.Load will not override existing env variables.
	_ = godotenv.Load()
	return FromEnv(os.Getenv)
}

// FromEnv builds the configuration from a lookup function.
func FromEnv(getenv func(string) string) (*AppConfig, error) {
	cfg := &AppConfig{}
	var err error

	cfg.StorageBackend = strings.ToLower(getenv("STORAGE"))
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = StoragePostgres
	}
	if cfg.StorageBackend != StoragePostgres && cfg.StorageBackend != StorageMemory {
		return nil, fmt.Errorf("invalid STORAGE %q: want %s or %s", cfg.StorageBackend, StoragePostgres, StorageMemory)
	}

	cfg.TelegramToken = getenv("TELEGRAM_TOKEN")
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is not set")
	}

	cfg.DatabaseURL = getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && cfg.StorageBackend == StoragePostgres {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}

	if cfg.RunMigrations, err = boolOr(getenv, "RUN_MIGRATIONS", true); err != nil {
		return nil, err
	}

	if cfg.DBMaxOpenConns, err = intOr(getenv, "DB_MAX_OPEN_CONNS", 25); err != nil {
		return nil, err
	}
	if cfg.DBMaxIdleConns, err = intOr(getenv, "DB_MAX_IDLE_CONNS", 25); err != nil {
		return nil, err
	}
	if cfg.DBConnMaxLifetime, err = durationOr(getenv, "DB_CONN_MAX_LIFETIME", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.DBConnMaxIdleTime, err = durationOr(getenv, "DB_CONN_MAX_IDLE_TIME", time.Minute); err != nil {
		return nil, err
	}
	if cfg.DBMaxOpenConns < 1 || cfg.DBMaxIdleConns < 0 {
		return nil, fmt.Errorf("DB_MAX_OPEN_CONNS must be positive and DB_MAX_IDLE_CONNS not negative")
	}

	cfg.AdminTelegramIDs, err = parseIDList(getenv("ADMIN_TELEGRAM_IDS"))
	if err != nil {
		return nil, fmt.Errorf("invalid ADMIN_TELEGRAM_IDS: %w", err)
	}
	if len(cfg.AdminTelegramIDs) == 0 {
		return nil, fmt.Errorf("ADMIN_TELEGRAM_IDS is not set")
	}

	cfg.ManagerTelegramIDs, err = parseIDList(getenv("MANAGER_TELEGRAM_IDS"))
	if err != nil {
		return nil, fmt.Errorf("invalid MANAGER_TELEGRAM_IDS: %w", err)
	}

	cfg.LogLevel = strings.ToLower(getenv("LOG_LEVEL"))
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info" // Default log level
	}

	cfg.Environment = strings.ToLower(getenv("ENVIRONMENT"))
	if cfg.Environment == "" {
		cfg.Environment = "development" // Default environment
	}

	tzName := getenv("TIMEZONE")
	if tzName == "" {
		tzName = "UTC"
	}
	cfg.Timezone, err = time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
	}

	cfg.HTTPAddr = getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	cfg.CronSpecDeadlineCheck = getenv("CRON_SPEC_DEADLINE_CHECK")
	if cfg.CronSpecDeadlineCheck == "" {
		cfg.CronSpecDeadlineCheck = "0 9 * * *" // Default: 09:00 daily
	}
	cfg.CronSpecDailySummary = getenv("CRON_SPEC_DAILY_SUMMARY")
	if cfg.CronSpecDailySummary == "" {
		cfg.CronSpecDailySummary = "30 9 * * *" // Default: 09:30 daily
	}

	if cfg.RunCheckOnStart, err = boolOr(getenv, "RUN_CHECK_ON_START", false); err != nil {
		return nil, err
	}
	if cfg.TickTimeout, err = durationOr(getenv, "TICK_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.RenotifyInterval, err = durationOr(getenv, "RENOTIFY_INTERVAL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.NotifyRetryAttempts, err = intOr(getenv, "NOTIFY_RETRY_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.NotifyRetryInitialDelay, err = durationOr(getenv, "NOTIFY_RETRY_INITIAL_DELAY", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.NotifyRetryMaxDelay, err = durationOr(getenv, "NOTIFY_RETRY_MAX_DELAY", time.Minute); err != nil {
		return nil, err
	}
	if cfg.NotifyAttemptTimeout, err = durationOr(getenv, "NOTIFY_ATTEMPT_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.NotifyWorkers, err = intOr(getenv, "NOTIFY_WORKERS", 8); err != nil {
		return nil, err
	}
	if cfg.TelegramHTTPTimeout, err = durationOr(getenv, "TELEGRAM_HTTP_TIMEOUT", 12*time.Second); err != nil {
		return nil, err
	}
	if cfg.TelegramPollTimeout, err = durationOr(getenv, "TELEGRAM_POLL_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	// A send abandoned by the attempt timeout may still reach Telegram; the retry would
	// then duplicate it. The HTTP call has to give up first.
	if cfg.NotifyAttemptTimeout <= cfg.TelegramHTTPTimeout {
		return nil, fmt.Errorf("NOTIFY_ATTEMPT_TIMEOUT (%s) must exceed TELEGRAM_HTTP_TIMEOUT (%s)", cfg.NotifyAttemptTimeout, cfg.TelegramHTTPTimeout)
	}
	if cfg.TelegramPollTimeout <= 0 || cfg.TelegramPollTimeout >= cfg.TelegramHTTPTimeout {
		return nil, fmt.Errorf("TELEGRAM_POLL_TIMEOUT (%s) must be positive and below TELEGRAM_HTTP_TIMEOUT (%s)", cfg.TelegramPollTimeout, cfg.TelegramHTTPTimeout)
	}
	if cfg.ConflictRetryAttempts, err = intOr(getenv, "CONFLICT_RETRY_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.NotifyRetryAttempts < 1 || cfg.NotifyWorkers < 1 || cfg.ConflictRetryAttempts < 1 {
		return nil, fmt.Errorf("NOTIFY_RETRY_ATTEMPTS, NOTIFY_WORKERS and CONFLICT_RETRY_ATTEMPTS must be positive")
	}

	if cfg.AllowTypeOrphaning, err = boolOr(getenv, "ALLOW_TYPE_ORPHANING", true); err != nil {
		return nil, err
	}

	cfg.FNTypeNames = listOr(getenv("FN_TYPE_NAMES"), defaultFNTypeNames)
	cfg.OFDTypeNames = listOr(getenv("OFD_TYPE_NAMES"), defaultOFDTypeNames)

	return cfg, nil
}

func parseIDList(raw string) ([]int64, error) {
	ids := make([]int64, 0)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func listOr(raw string, def []string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return append([]string(nil), def...)
	}
	return out
}

func intOr(getenv func(string) string, key string, def int) (int, error) {
	raw := getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func durationOr(getenv func(string) string, key string, def time.Duration) (time.Duration, error) {
	raw := getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func boolOr(getenv func(string) string, key string, def bool) (bool, error) {
	raw := getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
