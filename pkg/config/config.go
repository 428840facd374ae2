package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Mongo     MongoConfig
	RateLimit RateLimitConfig
	Redis     RedisConfig
	NATS      NATSConfig
	Auth      AuthConfig
	Stripe    StripeConfig
	Email     EmailConfig
	CORS      CORSConfig
	Outbox    OutboxConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	Production   bool
}

type MongoConfig struct {
	URI            string
	Database       string
	MaxPoolSize    uint64
	ConnectTimeout time.Duration
}

// RateLimitConfig points at the PostgreSQL database holding fixed-window
// counters. An empty DatabaseURL disables rate limiting.
type RateLimitConfig struct {
	DatabaseURL string
	Requests    int
	Window      time.Duration
	// TrustedProxies lists the CIDRs whose X-Forwarded-For is believed.
	TrustedProxies []string
}

type RedisConfig struct {
	URL            string
	Password       string
	DB             int
	ListingTTL     time.Duration
	IdempotencyTTL time.Duration
}

type NATSConfig struct {
	URL string
}

// AuthConfig signs session tokens. POST /jwt trusts the posted identity, so
// IssuerKey, when set, restricts it to callers presenting X-Issuer-Key.
type AuthConfig struct {
	JWTSecret  string
	SessionTTL time.Duration
	CookieName string
	IssuerKey  string
}

type StripeConfig struct {
	SecretKey string
	Currency  string
}

type EmailConfig struct {
	SMTPHost      string
	SMTPPort      int
	SMTPUser      string
	SMTPPass      string
	SMTPFrom      string
	SMTPUseTLS    bool
	MailerSendKey string
	FromName      string
	FromEmail     string
	DevMode       bool // print emails to logs instead of sending
}

type CORSConfig struct {
	AllowedOrigins []string
}

type OutboxConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "5000"),
			ReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 5*time.Second),
			WriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			Production:   getEnv("NODE_ENV", getEnv("APP_ENV", "development")) == "production",
		},
		Mongo: MongoConfig{
			URI:            getEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database:       getEnv("MONGO_DATABASE", "toLetDB"),
			MaxPoolSize:    uint64(getInt("MONGO_MAX_POOL", 50)),
			ConnectTimeout: getDuration("MONGO_CONNECT_TIMEOUT", 10*time.Second),
		},
		RateLimit: RateLimitConfig{
			DatabaseURL: getEnv("RATE_LIMIT_DATABASE_URL", ""),
			Requests:    getInt("RATE_LIMIT_REQUESTS", 30),
			Window:      getDuration("RATE_LIMIT_WINDOW", time.Minute),

			TrustedProxies: getList("TRUSTED_PROXIES", nil),
		},
		Redis: RedisConfig{
			URL:            getEnv("REDIS_URL", "redis://localhost:6379"),
			Password:       getEnv("REDIS_PASSWORD", ""),
			DB:             getInt("REDIS_DB", 0),
			ListingTTL:     getDuration("LISTING_CACHE_TTL", 2*time.Minute),
			IdempotencyTTL: getDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		NATS: NATSConfig{
			URL: getEnv("NATS_URL", "nats://localhost:4222"),
		},
		Auth: AuthConfig{
			JWTSecret:  getEnv("ACCESS_TOKEN_SECRET", "dev-only-secret-change-in-prod"),
			SessionTTL: getDuration("SESSION_TTL", 365*24*time.Hour),
			CookieName: getEnv("SESSION_COOKIE", "token"),
			IssuerKey:  getEnv("JWT_ISSUER_KEY", ""),
		},
		Stripe: StripeConfig{
			SecretKey: getEnv("PAYMENT_SK", ""),
			Currency:  getEnv("PAYMENT_CURRENCY", "usd"),
		},
		Email: EmailConfig{
			SMTPHost:      getEnv("SMTP_HOST", "localhost"),
			SMTPPort:      getInt("SMTP_PORT", 1025),
			SMTPUser:      getEnv("SMTP_USER", ""),
			SMTPPass:      getEnv("SMTP_PASS", ""),
			SMTPFrom:      getEnv("SMTP_FROM", "noreply@tolet.local"),
			SMTPUseTLS:    getBool("SMTP_USE_TLS", false),
			MailerSendKey: getEnv("MAILERSEND_API_KEY", ""),
			FromName:      getEnv("MAILER_FROM_NAME", "To-Let"),
			FromEmail:     getEnv("MAILER_FROM", ""),
			DevMode:       getBool("EMAIL_DEV_MODE", true),
		},
		CORS: CORSConfig{
			AllowedOrigins: getList("CORS_ORIGINS", []string{"http://localhost:5173", "http://localhost:5174"}),
		},
		Outbox: OutboxConfig{
			PollInterval: getDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
			BatchSize:    getInt("OUTBOX_BATCH_SIZE", 50),
			MaxAttempts:  getInt("OUTBOX_MAX_ATTEMPTS", 10),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// getList splits a comma separated value, dropping empty entries.
func getList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
