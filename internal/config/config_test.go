package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("TELEGRAM_BOT_TOKEN", "token")
	t.Setenv("MYSQL_DSN", "user:pass@tcp(localhost:3306)/bot")
	t.Setenv("WORKER_BASE_URL", "https://worker.example/")
	t.Setenv("WORKER_API_KEY", "secret")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 10, cfg.DefaultCredits)
	assert.Equal(t, 50, cfg.TopUpCredits)
	assert.Equal(t, 1000, cfg.TopUpPriceMinorUnits)
	assert.Equal(t, "USD", cfg.TopUpCurrency)
	assert.Equal(t, 20*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 10*time.Second, cfg.BranchTimeout)
	assert.Equal(t, "https://worker.example", cfg.WorkerBaseURL, "trailing slash trimmed")
	assert.Equal(t, "/v1/generations", cfg.WorkerSubmitPath)
	assert.Equal(t, "http://localhost:8080", cfg.CallbackBaseURL)
	assert.False(t, cfg.ArchiveEnabled())
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")
	t.Setenv("MYSQL_DSN", "")
	t.Setenv("WORKER_BASE_URL", "")
	t.Setenv("WORKER_API_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TELEGRAM_BOT_TOKEN")
	assert.Contains(t, err.Error(), "MYSQL_DSN")
	assert.Contains(t, err.Error(), "WORKER_BASE_URL")
	assert.Contains(t, err.Error(), "WORKER_API_KEY")
}

func TestLoadArchiveRequiresS3Block(t *testing.T) {
	setRequired(t)
	t.Setenv("S3_BUCKET", "images")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "S3_REGION")
	assert.Contains(t, err.Error(), "S3_ACCESS_KEY")
	assert.Contains(t, err.Error(), "S3_SECRET_KEY")
	assert.Contains(t, err.Error(), "S3_PUBLIC_BASE_URL")
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("DEFAULT_FREE_CREDITS", "3")
	t.Setenv("TOPUP_CREDITS", "100")
	t.Setenv("TOPUP_PRICE_MINOR_UNITS", "2500")
	t.Setenv("TOPUP_CURRENCY", "EUR")
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("CALLBACK_BASE_URL", "https://bot.example/")
	t.Setenv("STRIPE_PAYMENT_LINK", "https://buy.stripe.com/abc")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.DefaultCredits)
	assert.Equal(t, 100, cfg.TopUpCredits)
	assert.Equal(t, 2500, cfg.TopUpPriceMinorUnits)
	assert.Equal(t, "EUR", cfg.TopUpCurrency)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "https://bot.example", cfg.CallbackBaseURL)
	assert.Equal(t, "https://buy.stripe.com/abc", cfg.PaymentLink)
}
