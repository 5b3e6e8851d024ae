package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store drivers accepted by STORE_DRIVER.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

// ProviderConfig holds the credentials and endpoint of one async job provider.
type ProviderConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
}

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv             string
	Port               string
	PublicBaseURL      string
	StoreDriver        string
	DatabaseURL        string
	SQLitePath         string
	DBAutoMigrate      bool
	JWTSecret          string
	OIDCIssuer         string
	OIDCAudience       string
	WebhookTokenSecret string
	SimulateProviders  bool
	Captioning         ProviderConfig
	LipSync            ProviderConfig
	TTS                ProviderConfig
	ProviderTimeout    time.Duration
	ChargeOnCompletion []string
	DispatchWorkers    int
	JobStaleAfter      time.Duration
	SweeperEnabled     bool
	SweepInterval      time.Duration
	NotifyWebhookURL   string
	CORSAllowedOrigins []string
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:             getEnv("APP_ENV", "development"),
		Port:               port,
		PublicBaseURL:      strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+port), "/"),
		StoreDriver:        strings.ToLower(getEnv("STORE_DRIVER", StoreMemory)),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		SQLitePath:         getEnv("SQLITE_PATH", "./data/creatorhub.db"),
		DBAutoMigrate:      getEnvBool("DB_AUTO_MIGRATE", true),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		OIDCIssuer:         strings.TrimRight(os.Getenv("OIDC_ISSUER"), "/"),
		OIDCAudience:       os.Getenv("OIDC_AUDIENCE"),
		WebhookTokenSecret: os.Getenv("WEBHOOK_TOKEN_SECRET"),
		SimulateProviders:  getEnvBool("SIMULATE_PROVIDERS", false),
		Captioning:         loadProvider("CAPTIONING", "https://api.captions.example.com/v1"),
		LipSync:            loadProvider("LIPSYNC", "https://api.lipsync.example.com/v1"),
		TTS:                loadProvider("TTS", "https://api.tts.example.com/v1"),
		ProviderTimeout:    time.Second * time.Duration(getEnvInt("PROVIDER_TIMEOUT_SECONDS", 30)),
		ChargeOnCompletion: getEnvList("CHARGE_ON_COMPLETION", []string{"lipsync"}),
		DispatchWorkers:    getEnvInt("DISPATCH_WORKERS", 4),
		JobStaleAfter:      time.Minute * time.Duration(getEnvInt("JOB_STALE_AFTER_MINUTES", 120)),
		SweeperEnabled:     getEnvBool("SWEEPER_ENABLED", false),
		SweepInterval:      time.Second * time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 60)),
		NotifyWebhookURL:   os.Getenv("NOTIFY_WEBHOOK_URL"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", nil),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
	}

	switch cfg.StoreDriver {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required for the postgres store")
		}
	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.OIDCIssuer != "" && cfg.OIDCAudience == "" {
		return nil, fmt.Errorf("OIDC_AUDIENCE is required when OIDC_ISSUER is set")
	}
	if cfg.WebhookTokenSecret == "" {
		cfg.WebhookTokenSecret = cfg.JWTSecret
	}
	if cfg.DispatchWorkers <= 0 {
		cfg.DispatchWorkers = 1
	}

	return cfg, nil
}

// MissingProviderCredentials lists providers without an API key.
func (c *Config) MissingProviderCredentials() []string {
	var missing []string
	if c.Captioning.APIKey == "" {
		missing = append(missing, "captioning")
	}
	if c.LipSync.APIKey == "" {
		missing = append(missing, "lipsync")
	}
	if c.TTS.APIKey == "" {
		missing = append(missing, "tts")
	}
	return missing
}

func loadProvider(prefix, defaultBaseURL string) ProviderConfig {
	return ProviderConfig{
		BaseURL:       strings.TrimRight(getEnv(prefix+"_BASE_URL", defaultBaseURL), "/"),
		APIKey:        strings.TrimSpace(os.Getenv(prefix + "_API_KEY")),
		WebhookSecret: strings.TrimSpace(os.Getenv(prefix + "_WEBHOOK_SECRET")),
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			out = append(out, part)
		}
	}
	return out
}
