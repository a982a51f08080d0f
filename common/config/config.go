package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all service configuration
type Config struct {
	Service     ServiceConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Acquisition AcquisitionConfig
	Batch       BatchConfig
	Ledger      LedgerConfig
	RateLimit   RateLimitConfig
	State       StateConfig
	Delivery    DeliveryConfig
	Listing     ListingConfig
	Telemetry   TelemetryConfig
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

// AcquisitionConfig bounds every remote fetch and download
type AcquisitionConfig struct {
	DownloadFolder     string
	UserAgent          string
	HTTPTimeout        time.Duration
	ScrapeTimeout      time.Duration
	DownloadTimeout    time.Duration
	SegmentTimeout     time.Duration
	MaxRedirects       int
	SegmentRedirects   int
	SegmentConcurrency int
	MaxFileSize        int64
	MinFileSize        int64
	MaxSearchResults   int
	FilenameMaxLength  int
	ProgressStep       int // percent
	HostHeaderRules    string
	ContentMarkers     []string
	ImplicitNextPage   bool
	FileCleanupAge     time.Duration
	FileCleanupEvery   time.Duration
}

// BatchConfig holds batch orchestrator settings
type BatchConfig struct {
	MaxConcurrent    int
	ProgressInterval int
}

// LedgerConfig holds history ledger settings
type LedgerConfig struct {
	Backend          string // "file" or "postgres"
	FilePath         string
	HistoryRetention time.Duration
	SessionRetention time.Duration
	CacheTTL         time.Duration
	SweepSchedule    string
}

// RateLimitConfig holds per-requester request limits
type RateLimitConfig struct {
	Enabled     bool
	Backend     string // "memory" or "redis"
	Window      time.Duration
	MaxRequests int
}

// StateConfig holds per-requester conversational state settings
type StateConfig struct {
	Backend string // "memory" or "redis"
	TTL     time.Duration
	MaxKeys int
}

// DeliveryConfig holds delivery sink settings
type DeliveryConfig struct {
	Sink        string // "outbox" or "webhook"
	OutboxDir   string
	WebhookURL  string
	MaxRetries  int
	RetryDelay  time.Duration
	Timeout     time.Duration
	MaxFileSize int64
}

// ListingConfig holds the listing-page classifier settings
type ListingConfig struct {
	Expression string
	RulesFile  string
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof   bool
	PprofPort     int
	EnableMetrics bool
}

// DefaultListingExpression matches the search, category and tag pages of
// common video hosts.
const DefaultListingExpression = `url.contains("/search") || url.contains("?q=") || url.contains("/category") || url.contains("/tag")`

// DefaultUserAgent is sent on every outbound request unless overridden.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Load loads configuration from an optional .env file and environment variables
func Load(serviceName string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	maxFileSize := getEnvInt64("MAX_FILE_SIZE", 50*1000*1000)

	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8080),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "mediagrab"),
			User:        getEnv("POSTGRES_USER", "mediagrab"),
			Password:    getEnv("POSTGRES_PASSWORD", "mediagrab"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 10),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 1),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Acquisition: AcquisitionConfig{
			DownloadFolder:     getEnv("DOWNLOAD_FOLDER", "./downloads"),
			UserAgent:          getEnv("USER_AGENT", DefaultUserAgent),
			HTTPTimeout:        getEnvDuration("HTTP_REQUEST_TIMEOUT", 30*time.Second),
			ScrapeTimeout:      getEnvDuration("SCRAPE_TIMEOUT", 30*time.Second),
			DownloadTimeout:    getEnvDuration("DOWNLOAD_TIMEOUT", 60*time.Second),
			SegmentTimeout:     getEnvDuration("SEGMENT_TIMEOUT", 30*time.Second),
			MaxRedirects:       getEnvInt("MAX_REDIRECTS", 5),
			SegmentRedirects:   getEnvInt("SEGMENT_REDIRECTS", 3),
			SegmentConcurrency: getEnvInt("SEGMENT_CONCURRENCY", 4),
			MaxFileSize:        maxFileSize,
			MinFileSize:        getEnvInt64("MIN_FILE_SIZE", 10000),
			MaxSearchResults:   getEnvInt("MAX_SEARCH_RESULTS", 20),
			FilenameMaxLength:  getEnvInt("FILENAME_MAX_LENGTH", 200),
			ProgressStep:       getEnvInt("PROGRESS_STEP_PERCENT", 10),
			HostHeaderRules:    getEnv("HOST_HEADER_RULES", "erome.com=https://www.erome.com/|https://www.erome.com"),
			ContentMarkers:     getEnvSlice("CONTENT_MARKERS", []string{"-video-", "-porn-"}),
			ImplicitNextPage:   getEnvBool("IMPLICIT_NEXT_PAGE", true),
			FileCleanupAge:     getEnvDuration("FILE_CLEANUP_AGE", 1*time.Hour),
			FileCleanupEvery:   getEnvDuration("FILE_CLEANUP_INTERVAL", 30*time.Minute),
		},
		Batch: BatchConfig{
			MaxConcurrent:    getEnvInt("MAX_CONCURRENT_DOWNLOADS", 3),
			ProgressInterval: getEnvInt("PROGRESS_UPDATE_INTERVAL", 3),
		},
		Ledger: LedgerConfig{
			Backend:          getEnv("LEDGER_BACKEND", "file"),
			FilePath:         getEnv("LEDGER_FILE", "./data/data.json"),
			HistoryRetention: getEnvDuration("HISTORY_RETENTION", 24*time.Hour),
			SessionRetention: getEnvDuration("SESSION_RETENTION", 24*time.Hour),
			CacheTTL:         getEnvDuration("LEDGER_CACHE_TTL", 5*time.Second),
			SweepSchedule:    getEnv("LEDGER_SWEEP_SCHEDULE", "@every 1h"),
		},
		RateLimit: RateLimitConfig{
			Enabled:     getEnvBool("RATE_LIMIT_ENABLED", true),
			Backend:     getEnv("RATE_LIMIT_BACKEND", "memory"),
			Window:      getEnvDuration("RATE_LIMIT_WINDOW", 60*time.Second),
			MaxRequests: getEnvInt("RATE_LIMIT_MAX_REQUESTS", 5),
		},
		State: StateConfig{
			Backend: getEnv("STATE_BACKEND", "memory"),
			TTL:     getEnvDuration("STATE_TTL", 24*time.Hour),
			MaxKeys: getEnvInt("STATE_MAX_KEYS", 10000),
		},
		Delivery: DeliveryConfig{
			Sink:        getEnv("DELIVERY_SINK", "outbox"),
			OutboxDir:   getEnv("OUTBOX_DIR", "./outbox"),
			WebhookURL:  getEnv("WEBHOOK_URL", ""),
			MaxRetries:  getEnvInt("DELIVERY_MAX_RETRIES", 3),
			RetryDelay:  getEnvDuration("DELIVERY_RETRY_DELAY", 2*time.Second),
			Timeout:     getEnvDuration("DELIVERY_TIMEOUT", 5*time.Minute),
			MaxFileSize: getEnvInt64("DELIVERY_MAX_FILE_SIZE", maxFileSize),
		},
		Listing: ListingConfig{
			Expression: getEnv("LISTING_EXPRESSION", DefaultListingExpression),
			RulesFile:  getEnv("LISTING_RULES_FILE", ""),
		},
		Telemetry: TelemetryConfig{
			EnablePprof:   getEnvBool("ENABLE_PPROF", false),
			PprofPort:     getEnvInt("PPROF_PORT", 6060),
			EnableMetrics: getEnvBool("ENABLE_METRICS", true),
		},
	}

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	var errs []error

	if c.Service.Port < 1 || c.Service.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port: %d", c.Service.Port))
	}

	a := c.Acquisition
	if a.MinFileSize < 0 || a.MaxFileSize <= a.MinFileSize {
		errs = append(errs, fmt.Errorf("MAX_FILE_SIZE (%d) must be greater than MIN_FILE_SIZE (%d)", a.MaxFileSize, a.MinFileSize))
	}
	if a.MaxRedirects < 0 || a.SegmentRedirects < 0 {
		errs = append(errs, errors.New("redirect limits must be >= 0"))
	}
	if a.SegmentConcurrency < 1 {
		errs = append(errs, errors.New("SEGMENT_CONCURRENCY must be >= 1"))
	}
	if a.MaxSearchResults < 1 {
		errs = append(errs, errors.New("MAX_SEARCH_RESULTS must be >= 1"))
	}
	if a.FilenameMaxLength < 16 {
		errs = append(errs, errors.New("FILENAME_MAX_LENGTH must be >= 16"))
	}
	if a.HTTPTimeout <= 0 || a.DownloadTimeout <= 0 || a.SegmentTimeout <= 0 || a.ScrapeTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}

	if c.Batch.MaxConcurrent < 1 {
		errs = append(errs, errors.New("MAX_CONCURRENT_DOWNLOADS must be >= 1"))
	}
	if c.Batch.ProgressInterval < 1 {
		errs = append(errs, errors.New("PROGRESS_UPDATE_INTERVAL must be >= 1"))
	}

	switch c.Ledger.Backend {
	case "file":
		if c.Ledger.FilePath == "" {
			errs = append(errs, errors.New("LEDGER_FILE is required for the file backend"))
		}
	case "postgres":
		if c.Database.Host == "" {
			errs = append(errs, errors.New("database host is required"))
		}
		if c.Database.MaxConns < c.Database.MinConns {
			errs = append(errs, errors.New("max_conns must be >= min_conns"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown LEDGER_BACKEND: %q", c.Ledger.Backend))
	}
	if c.Ledger.HistoryRetention <= 0 || c.Ledger.SessionRetention <= 0 {
		errs = append(errs, errors.New("retention must be positive"))
	}

	if c.RateLimit.Enabled && (c.RateLimit.Window <= 0 || c.RateLimit.MaxRequests < 1) {
		errs = append(errs, errors.New("rate limit window and max requests must be positive"))
	}
	if c.RateLimit.Backend == "redis" && !c.Redis.Enabled {
		errs = append(errs, errors.New("RATE_LIMIT_BACKEND=redis requires REDIS_ENABLED"))
	}
	if c.State.Backend == "redis" && !c.Redis.Enabled {
		errs = append(errs, errors.New("STATE_BACKEND=redis requires REDIS_ENABLED"))
	}

	switch c.Delivery.Sink {
	case "outbox":
		if c.Delivery.OutboxDir == "" {
			errs = append(errs, errors.New("OUTBOX_DIR is required for the outbox sink"))
		}
	case "webhook":
		if c.Delivery.WebhookURL == "" {
			errs = append(errs, errors.New("WEBHOOK_URL is required for the webhook sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown DELIVERY_SINK: %q", c.Delivery.Sink))
	}
	if c.Delivery.MaxRetries < 1 {
		errs = append(errs, errors.New("DELIVERY_MAX_RETRIES must be >= 1"))
	}

	if strings.TrimSpace(c.Listing.Expression) == "" {
		errs = append(errs, errors.New("LISTING_EXPRESSION must not be empty"))
	}

	return errors.Join(errs...)
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// RedisAddr returns host:port for the Redis client
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
