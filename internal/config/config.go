package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kirinyoku/tix-gate/internal/mail"
)

type Config struct {
	Server    ServerConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Email     mail.Config
	Sheets    SheetsConfig
	Kafka     KafkaConfig
	Events    EventsConfig
	Delivery  DeliveryConfig
	App       AppConfig
}

type ServerConfig struct {
	Host string
	Port int
	// TrustedProxies lists the IPs or CIDRs allowed to set X-Forwarded-For.
	// Empty means the socket peer is always the client IP.
	TrustedProxies []string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	User     string
	Password string
	Name     string
	Host     string
	Port     int
	SSLMode  string
	MaxConns int
	// Migrate applies the embedded schema at startup.
	Migrate bool
}

func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Name, p.SSLMode,
	)
}

type AuthConfig struct {
	JWTSecret string
}

type RateLimitConfig struct {
	RedeemLimit  int
	RedeemWindow time.Duration
}

type SheetsConfig struct {
	SpreadsheetID   string
	CredentialsJSON string
	CredentialsFile string
	Range           string
	DefaultEvent    string
	MaxQuantity     int
	// PollInterval of zero disables the background poller.
	PollInterval time.Duration
}

func (s SheetsConfig) Enabled() bool {
	return s.SpreadsheetID != "" && (s.CredentialsJSON != "" || s.CredentialsFile != "")
}

type KafkaConfig struct {
	Enabled bool
	Brokers []string
	Topic   string
}

type EventsConfig struct {
	// QueueSize bounds ticket events waiting for the monitor and Kafka sinks.
	// Events beyond it are dropped.
	QueueSize int
}

type DeliveryConfig struct {
	Workers   int
	QueueSize int
}

type AppConfig struct {
	// URL is the scanner front-end; /r/:token redirects there.
	URL string
	// PublicBaseURL is the origin printed into ticket QR codes and links.
	PublicBaseURL string
	BrandName     string
	Venue         string
	ContactEmail  string
	StatsTTL      time.Duration
	IdemTTL       time.Duration
}

func New() (*Config, error) {
	const op = "config.New"

	_ = godotenv.Load()

	var errs []string
	bad := func(key string, err error) {
		errs = append(errs, fmt.Sprintf("invalid %s: %v", key, err))
	}
	intVar := func(key string, def int) int {
		v, err := envInt(key, def)
		if err != nil {
			bad(key, err)
		}
		return v
	}
	durVar := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		if err != nil {
			bad(key, err)
		}
		return v
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: env("SERVER_HOST", "localhost"),
			Port: intVar("SERVER_PORT", 8080),

			TrustedProxies: splitList(env("SERVER_TRUSTED_PROXIES", "")),
		},
		Postgres: PostgresConfig{
			User:     os.Getenv("POSTGRES_USER"),
			Password: os.Getenv("POSTGRES_PASSWORD"),
			Name:     os.Getenv("POSTGRES_DB"),
			Host:     env("POSTGRES_HOST", "localhost"),
			Port:     intVar("POSTGRES_PORT", 5432),
			SSLMode:  env("POSTGRES_SSLMODE", "disable"),
			MaxConns: intVar("POSTGRES_MAX_CONNS", 0),
			Migrate:  env("POSTGRES_MIGRATE", "true") == "true",
		},
		Redis: RedisConfig{
			Addr:     env("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       intVar("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
		},
		RateLimit: RateLimitConfig{
			RedeemLimit:  intVar("REDEEM_RATE_LIMIT", 10),
			RedeemWindow: durVar("REDEEM_RATE_WINDOW", time.Minute),
		},
		Email: mail.Config{
			From:     os.Getenv("EMAIL_FROM"),
			FromName: env("EMAIL_FROM_NAME", env("BRAND_NAME", "Tix")),
			Host:     os.Getenv("SMTP_HOST"),
			Port:     intVar("SMTP_PORT", 587),
			Username: os.Getenv("SMTP_USER"),
			Password: firstEnv("EMAIL_API_KEY", "SMTP_PASSWORD", "GMAIL_APP_PASSWORD"),
		},
		Sheets: SheetsConfig{
			SpreadsheetID:   os.Getenv("GOOGLE_SHEETS_ID"),
			CredentialsJSON: os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"),
			CredentialsFile: os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"),
			Range:           env("GOOGLE_SHEETS_RANGE", "A:Z"),
			DefaultEvent:    env("DEFAULT_EVENT_NAME", "General Admission"),
			MaxQuantity:     intVar("MAX_TICKETS_PER_REQUEST", 10),
			PollInterval:    durVar("GOOGLE_SHEETS_POLL_INTERVAL", 0),
		},
		Kafka: KafkaConfig{
			Enabled: env("KAFKA_ENABLED", "false") == "true",
			Brokers: splitList(env("KAFKA_BROKERS", "localhost:9092")),
			Topic:   env("KAFKA_TOPIC", "tixgate.tickets"),
		},
		Events: EventsConfig{
			QueueSize: intVar("EVENTS_QUEUE_SIZE", 1024),
		},
		Delivery: DeliveryConfig{
			Workers:   intVar("DELIVERY_WORKERS", 2),
			QueueSize: intVar("DELIVERY_QUEUE_SIZE", 256),
		},
		App: AppConfig{
			URL:           env("APP_URL", "http://localhost:3000"),
			PublicBaseURL: env("PUBLIC_TICKET_BASE_URL", "http://localhost:8080"),
			BrandName:     env("BRAND_NAME", "Tix"),
			Venue:         os.Getenv("VENUE_NAME"),
			ContactEmail:  os.Getenv("CONTACT_EMAIL"),
			StatsTTL:      durVar("STATS_CACHE_TTL", 15*time.Second),
			IdemTTL:       durVar("IDEMPOTENCY_TTL", 24*time.Hour),
		},
	}

	provider, err := mail.ParseProvider(env("EMAIL_PROVIDER", string(mail.ProviderLog)))
	if err != nil {
		bad("EMAIL_PROVIDER", err)
	}
	cfg.Email.Provider = provider

	for key, v := range map[string]string{
		"POSTGRES_USER":     cfg.Postgres.User,
		"POSTGRES_PASSWORD": cfg.Postgres.Password,
		"POSTGRES_DB":       cfg.Postgres.Name,
		"JWT_SECRET":        cfg.Auth.JWTSecret,
	} {
		if v == "" {
			errs = append(errs, "missing "+key)
		}
	}
	if provider != mail.ProviderLog && provider != "" && cfg.Email.From == "" {
		errs = append(errs, "missing EMAIL_FROM")
	}
	if cfg.RateLimit.RedeemLimit <= 0 {
		errs = append(errs, "invalid REDEEM_RATE_LIMIT: must be positive")
	}
	if cfg.Sheets.MaxQuantity <= 0 {
		errs = append(errs, "invalid MAX_TICKETS_PER_REQUEST: must be positive")
	}
	for _, p := range cfg.Server.TrustedProxies {
		if !validProxy(p) {
			errs = append(errs, fmt.Sprintf("invalid SERVER_TRUSTED_PROXIES: %q is not an IP or CIDR", p))
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%s: %s", op, strings.Join(errs, "; "))
	}

	return cfg, nil
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}

func envInt(key string, def int) (int, error) {
	s := env(key, "")
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

// envDuration accepts Go durations ("90s") or plain seconds ("90").
func envDuration(key string, def time.Duration) (time.Duration, error) {
	s := env(key, "")
	if s == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func validProxy(s string) bool {
	if strings.Contains(s, "/") {
		_, _, err := net.ParseCIDR(s)
		return err == nil
	}
	return net.ParseIP(s) != nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
