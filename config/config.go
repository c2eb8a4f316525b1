package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	JWT        JWTConfig
	AWS        AWSConfig
	Payment    PaymentConfig
	Email      EmailConfig
	AMQP       AMQPConfig
	Membership MembershipConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	PublicBaseURL      string // used to build gateway callback URLs
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// AWSConfig holds AWS credentials, S3 buckets and SES region.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	MaterialsBucket      string
	BannersBucket        string
	PresignExpireMinutes int
}

// PaymentConfig selects and configures the hosted payment gateway.
type PaymentConfig struct {
	Provider           string // "pesapal" or "omise"
	Currency           string
	CallbackURL        string
	PollIntervalSec    int
	PollTimeoutMinutes int // 0 keeps polling until completion or cancellation
	Pesapal            PesapalConfig
	Omise              OmiseConfig
}

// PesapalConfig holds Pesapal API v3 credentials.
type PesapalConfig struct {
	BaseURL        string
	ConsumerKey    string
	ConsumerSecret string
	IPNID          string
}

// OmiseConfig holds Omise keys and the source type used for hosted payments.
type OmiseConfig struct {
	PublicKey  string
	SecretKey  string
	SourceType string
}

// EmailConfig for outbound mail.
type EmailConfig struct {
	Provider    string // "ses" or "noop"
	FromAddress string
	FromName    string
}

// AMQPConfig for domain event publishing. Empty URL disables publishing.
type AMQPConfig struct {
	URL      string
	Exchange string
}

// MembershipConfig holds membership fees per category in minor units.
type MembershipConfig struct {
	Fees map[string]int64
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()
	_ = godotenv.Load("env")

	fees, err := parseFees(getEnv("MEMBERSHIP_FEES", "full:1000000,associate:500000,student:150000"))
	if err != nil {
		return nil, fmt.Errorf("parse MEMBERSHIP_FEES: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 30),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			PublicBaseURL:      strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "society"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", "eu-west-1"),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			MaterialsBucket:      getEnv("AWS_S3_MATERIALS_BUCKET", "society-event-materials"),
			BannersBucket:        getEnv("AWS_S3_BANNERS_BUCKET", "society-banners"),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Payment: PaymentConfig{
			Provider:           strings.ToLower(getEnv("PAYMENT_PROVIDER", "pesapal")),
			Currency:           getEnv("PAYMENT_CURRENCY", "KES"),
			CallbackURL:        getEnv("PAYMENT_CALLBACK_URL", ""),
			PollIntervalSec:    getEnvInt("PAYMENT_POLL_INTERVAL_SEC", 5),
			PollTimeoutMinutes: getEnvInt("PAYMENT_POLL_TIMEOUT_MIN", 0),
			Pesapal: PesapalConfig{
				BaseURL:        getEnv("PESAPAL_BASE_URL", "https://cybqa.pesapal.com/pesapalv3"),
				ConsumerKey:    getEnv("PESAPAL_CONSUMER_KEY", ""),
				ConsumerSecret: getEnv("PESAPAL_CONSUMER_SECRET", ""),
				IPNID:          getEnv("PESAPAL_IPN_ID", ""),
			},
			Omise: OmiseConfig{
				PublicKey:  getEnv("OMISE_PUBLIC_KEY", ""),
				SecretKey:  getEnv("OMISE_SECRET_KEY", ""),
				SourceType: getEnv("OMISE_SOURCE_TYPE", "mobile_banking_kbank"),
			},
		},
		Email: EmailConfig{
			Provider:    getEnv("EMAIL_PROVIDER", "noop"),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "noreply@example.org"),
			FromName:    getEnv("EMAIL_FROM_NAME", "Society Secretariat"),
		},
		AMQP: AMQPConfig{
			URL:      getEnv("AMQP_URL", ""),
			Exchange: getEnv("AMQP_EXCHANGE", "society.events"),
		},
		Membership: MembershipConfig{Fees: fees},
	}
	if cfg.Payment.CallbackURL == "" {
		cfg.Payment.CallbackURL = cfg.Server.PublicBaseURL + "/payments/callback"
	}
	return cfg, nil
}

// parseFees reads "category:amount,category:amount".
func parseFees(s string) (map[string]int64, error) {
	out := make(map[string]int64)
	for _, pair := range splitTrim(s, ",") {
		k, v, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("invalid fee entry %q", pair)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid fee amount %q", v)
		}
		out[strings.ToLower(strings.TrimSpace(k))] = n
	}
	return out, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
