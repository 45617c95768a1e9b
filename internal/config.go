package internal

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is read once at startup from the process environment (and .env, if any).
type Config struct {
	Port         string
	DatabaseURL  string
	RedisURL     string
	MongoURI     string
	MongoDB      string
	JWTSecret    string
	CookieSecure bool

	AllowedOrigins []string
	PublicURL      string

	NestlinkURL     string
	NestlinkAPIKey  string
	NestlinkTimeout time.Duration

	TelegramToken  string
	TelegramChatID int64
	TelegramAPIURL string
	MaxProofBytes  int64

	AwardAmount   int64
	ReferralBonus int64
	PaidBonus     int64

	BundlesFile string

	SMTPHost   string
	SMTPPort   int
	SMTPUser   string
	SMTPPass   string
	SMTPSender string
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using process environment")
	}

	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		MongoURI:       os.Getenv("MONGO_URI"),
		MongoDB:        getEnv("MONGO_DB", "promo"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		CookieSecure:   os.Getenv("COOKIE_SECURE") == "1",
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		PublicURL:      strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:3000"), "/"),
		NestlinkURL:    strings.TrimRight(getEnv("NESTLINK_URL", "https://api.nestlink.co.ke"), "/"),
		NestlinkAPIKey: os.Getenv("NESTLINK_API_KEY"),
		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramAPIURL: os.Getenv("TELEGRAM_API_URL"),
		BundlesFile:    os.Getenv("BUNDLES_FILE"),
		SMTPHost:       os.Getenv("SMTP_HOST"),
		SMTPUser:       os.Getenv("SMTP_USER"),
		SMTPPass:       os.Getenv("SMTP_PASS"),
		SMTPSender:     os.Getenv("SMTP_SENDER"),
	}

	var err error
	if cfg.NestlinkTimeout, err = time.ParseDuration(getEnv("NESTLINK_TIMEOUT", "30s")); err != nil {
		return nil, fmt.Errorf("NESTLINK_TIMEOUT: %w", err)
	}
	if chat := os.Getenv("TELEGRAM_CHAT_ID"); chat != "" {
		if cfg.TelegramChatID, err = strconv.ParseInt(chat, 10, 64); err != nil {
			return nil, fmt.Errorf("TELEGRAM_CHAT_ID: %w", err)
		}
	}
	ints := []struct {
		key  string
		def  int64
		dest *int64
	}{
		{"MAX_PROOF_BYTES", 10 << 20, &cfg.MaxProofBytes},
		{"AWARD_AMOUNT", 10013, &cfg.AwardAmount},
		{"REFERRAL_BONUS", 50, &cfg.ReferralBonus},
		{"PAID_BONUS", 100, &cfg.PaidBonus},
	}
	for _, it := range ints {
		if *it.dest, err = getInt(it.key, it.def); err != nil {
			return nil, err
		}
	}
	port, err := getInt("SMTP_PORT", 465)
	if err != nil {
		return nil, err
	}
	cfg.SMTPPort = int(port)

	return cfg, nil
}

// Validate checks the settings the HTTP server cannot run without.
func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s is required", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
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
