package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the webhook service and its
// downstream collaborators.
type Config struct {
	BotToken             string
	MySQLDSN             string
	ListenAddr           string
	WorkerBaseURL        string
	WorkerAPIKey         string
	WorkerSubmitPath     string
	CallbackBaseURL      string
	RequestTimeout       time.Duration
	BranchTimeout        time.Duration
	PaymentLink          string
	DefaultCredits       int
	TopUpCredits         int
	TopUpPriceMinorUnits int
	TopUpCurrency        string
	S3Endpoint           string
	S3Region             string
	S3AccessKey          string
	S3SecretKey          string
	S3Bucket             string
	S3PublicBaseURL      string
	S3UsePathStyle       bool
	S3Prefix             string
}

// ArchiveEnabled reports whether delivered images should be copied to S3.
func (c Config) ArchiveEnabled() bool {
	return c.S3Bucket != ""
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:           getEnv("LISTEN_ADDR", ":8080"),
		WorkerSubmitPath:     getEnv("WORKER_SUBMIT_PATH", "/v1/generations"),
		CallbackBaseURL:      strings.TrimRight(getEnv("CALLBACK_BASE_URL", ""), "/"),
		RequestTimeout:       time.Second * time.Duration(getInt("HTTP_TIMEOUT_SECONDS", 20)),
		BranchTimeout:        time.Second * time.Duration(getInt("WEBHOOK_BRANCH_TIMEOUT_SECONDS", 10)),
		PaymentLink:          getEnv("STRIPE_PAYMENT_LINK", ""),
		DefaultCredits:       getInt("DEFAULT_FREE_CREDITS", 10),
		TopUpCredits:         getInt("TOPUP_CREDITS", 50),
		TopUpPriceMinorUnits: getInt("TOPUP_PRICE_MINOR_UNITS", 1000),
		TopUpCurrency:        getEnv("TOPUP_CURRENCY", "USD"),
		S3Endpoint:           getEnv("S3_ENDPOINT", ""),
		S3Region:             os.Getenv("S3_REGION"),
		S3AccessKey:          os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:          os.Getenv("S3_SECRET_KEY"),
		S3Bucket:             os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:      os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:       getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:             getEnv("S3_PREFIX", "archive"),
	}

	cfg.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.WorkerBaseURL = strings.TrimRight(os.Getenv("WORKER_BASE_URL"), "/")
	cfg.WorkerAPIKey = os.Getenv("WORKER_API_KEY")

	if cfg.CallbackBaseURL == "" {
		cfg.CallbackBaseURL = "http://localhost" + cfg.ListenAddr
	}

	var missing []string
	if cfg.BotToken == "" {
		missing = append(missing, "TELEGRAM_BOT_TOKEN")
	}
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.WorkerBaseURL == "" {
		missing = append(missing, "WORKER_BASE_URL")
	}
	if cfg.WorkerAPIKey == "" {
		missing = append(missing, "WORKER_API_KEY")
	}
	if cfg.ArchiveEnabled() {
		if cfg.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if cfg.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if cfg.S3PublicBaseURL == "" {
			missing = append(missing, "S3_PUBLIC_BASE_URL")
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// No .env file is fine; everything can come from the process environment.
	return nil
}
