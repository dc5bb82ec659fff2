package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration derived from environment variables.
type Config struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	ServiceName  string
	DebugTrace   bool
	// Allowed CORS origin for the page that embeds the questionnaire
	AllowedOrigin string
	// Session storage
	SessionBackend string
	RedisAddr      string
	SessionTTL     time.Duration
	TokenSecret    string
	TokenTTL       time.Duration
	// CMS catalog
	CatalogURL      string
	CatalogToken    string
	CatalogTimeout  time.Duration
	CatalogCacheTTL time.Duration
	CMSAssetsURL    string
	// Lead delivery
	LeadURL         string
	DispatchTimeout time.Duration
	ShortFormCID    string
	ShortFormSID    string
	CampaignURL     string
	// Visit registration and PIN channel
	PostgresDSN          string
	PinRateLimitEnabled  bool
	PinRateLimitCapacity int
	PinRateLimitRefill   int
	PinRateLimitInterval time.Duration
	GeoIPDB              string
	// Database connection pooling configuration
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration
	DBConnMaxIdleTime time.Duration
	// Flow analytics
	ClickHouseDSN string
	// Tracing configuration
	TracingEnabled    bool
	TempoEndpoint     string
	TracingSampleRate float64
}

// Load parses environment variables and returns a Config populated with
// defaults when variables are absent.
func Load() Config {
	cfg := Config{}

	cfg.Port = getenv("PORT", "8787")
	cfg.ReadTimeout = envDuration("READ_TIMEOUT", 5*time.Second)
	cfg.WriteTimeout = envDuration("WRITE_TIMEOUT", 10*time.Second)
	cfg.ServiceName = getenv("SERVICE_NAME", "coregflow")
	cfg.DebugTrace = envBool("DEBUG_TRACE", false)
	cfg.AllowedOrigin = getenv("ALLOWED_ORIGIN", "*")

	cfg.SessionBackend = getenv("SESSION_BACKEND", "redis")
	cfg.RedisAddr = getenv("REDIS_ADDR", "localhost:6379")
	// a tab session rarely outlives a couple of hours
	cfg.SessionTTL = envDuration("SESSION_TTL", 2*time.Hour)
	cfg.TokenSecret = getenv("TOKEN_SECRET", "")
	cfg.TokenTTL = envDuration("TOKEN_TTL", 2*time.Hour)

	cfg.CatalogURL = getenv("CATALOG_URL", "http://localhost:8055/items/coreg_campaigns")
	cfg.CatalogToken = getenv("CATALOG_TOKEN", "")
	cfg.CatalogTimeout = envDuration("CATALOG_TIMEOUT", 3*time.Second)
	cfg.CatalogCacheTTL = envDuration("CATALOG_CACHE_TTL", time.Minute)
	cfg.CMSAssetsURL = getenv("CMS_ASSETS_URL", "http://localhost:8055/assets")

	cfg.LeadURL = getenv("LEAD_URL", "http://localhost:9000/api/lead")
	cfg.DispatchTimeout = envDuration("DISPATCH_TIMEOUT", 10*time.Second)
	cfg.ShortFormCID = getenv("SHORTFORM_CID", "925")
	cfg.ShortFormSID = getenv("SHORTFORM_SID", "34")
	cfg.CampaignURL = getenv("CAMPAIGN_URL", "")

	// Empty DSN disables visit registration and the PIN channel
	cfg.PostgresDSN = getenv("POSTGRES_DSN", "")
	cfg.PinRateLimitEnabled = envBool("PIN_RATE_LIMIT_ENABLED", true)
	cfg.PinRateLimitCapacity = envInt("PIN_RATE_LIMIT_CAPACITY", 3)
	cfg.PinRateLimitRefill = envInt("PIN_RATE_LIMIT_REFILL_RATE", 1)
	cfg.PinRateLimitInterval = envDuration("PIN_RATE_LIMIT_INTERVAL", time.Minute)
	cfg.GeoIPDB = getenv("GEOIP_DB", "internal/geoip/testdata/GeoLite2-Country.mmdb")

	cfg.DBMaxOpenConns = envInt("DB_MAX_OPEN_CONNS", 10)
	cfg.DBMaxIdleConns = envInt("DB_MAX_IDLE_CONNS", 2)
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	cfg.DBConnMaxIdleTime = envDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute)

	// Empty DSN disables flow analytics
	cfg.ClickHouseDSN = getenv("CLICKHOUSE_DSN", "")

	cfg.TracingEnabled = envBool("TRACING_ENABLED", false)
	cfg.TempoEndpoint = getenv("TEMPO_ENDPOINT", "tempo:4317")
	cfg.TracingSampleRate = envFloat("TRACING_SAMPLE_RATE", 1.0)

	return cfg
}

// getenv returns the value of the environment variable if set, otherwise def.
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envDuration parses an environment variable into a time.Duration.
// The value can be a duration string (e.g. "5s") or a number of seconds.
// If the variable is unset or invalid, def is returned.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return def
}

// envBool parses a boolean environment variable. Accepted values are those
// supported by strconv.ParseBool. When unset or invalid, def is returned.
func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return def
}

// envInt parses an integer environment variable. When unset or invalid, def is returned.
func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if i, err := strconv.Atoi(v); err == nil {
		return i
	}
	return def
}

// envFloat parses a float64 environment variable. When unset or invalid, def is returned.
func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return def
}
