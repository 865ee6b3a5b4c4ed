package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/ohmynofan/provider-checkin-bot/internal/domain/model"
)

type Config struct {
	DatabasePath  string
	ProvidersPath string
	AccountsPath  string

	MaxRetries         int
	RetryInitialDelay  time.Duration
	RetryMaxDelay      time.Duration
	RetryMultiplier    float64
	WafCookieTTL       time.Duration
	BypassAttempts     int
	BypassRetryGap     time.Duration
	ChallengeWait      time.Duration
	BrowserCloseWait   time.Duration
	BalanceFetchDelay  time.Duration
	HealthCheckEvery   time.Duration
	StaleTaskThreshold time.Duration
}

func Load() Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found, using default values")
	}

	return Config{
		DatabasePath:  stringWithDefault(os.Getenv("DATABASE_PATH"), "data/checkin.db"),
		ProvidersPath: stringWithDefault(os.Getenv("PROVIDERS_PATH"), "configs/providers.json"),
		AccountsPath:  stringWithDefault(os.Getenv("ACCOUNTS_PATH"), "configs/accounts.json"),

		MaxRetries:         parseIntWithDefault(os.Getenv("HTTP_MAX_RETRIES"), 3),
		RetryInitialDelay:  parseMillisWithDefault(os.Getenv("HTTP_RETRY_INITIAL_MS"), 1000),
		RetryMaxDelay:      parseMillisWithDefault(os.Getenv("HTTP_RETRY_MAX_MS"), 10000),
		RetryMultiplier:    parseFloatWithDefault(os.Getenv("HTTP_RETRY_MULTIPLIER"), 2.0),
		WafCookieTTL:       parseHoursWithDefault(os.Getenv("WAF_COOKIE_TTL_HOURS"), 24),
		BypassAttempts:     parseIntWithDefault(os.Getenv("BYPASS_ATTEMPTS"), 2),
		BypassRetryGap:     parseMillisWithDefault(os.Getenv("BYPASS_RETRY_GAP_MS"), 2000),
		ChallengeWait:      parseMillisWithDefault(os.Getenv("CHALLENGE_WAIT_MS"), 8000),
		BrowserCloseWait:   parseMillisWithDefault(os.Getenv("BROWSER_CLOSE_WAIT_MS"), 5000),
		BalanceFetchDelay:  parseMillisWithDefault(os.Getenv("BALANCE_FETCH_DELAY_MS"), 1500),
		HealthCheckEvery:   parseMillisWithDefault(os.Getenv("HEALTH_CHECK_EVERY_MS"), 5*60*1000),
		StaleTaskThreshold: parseHoursWithDefault(os.Getenv("STALE_TASK_THRESHOLD_HOURS"), 25),
	}
}

func stringWithDefault(value, defaultVal string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultVal
	}
	return value
}

func parseIntWithDefault(value string, defaultVal int) int {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultVal
	}
	if v, err := strconv.Atoi(value); err == nil && v >= 0 {
		return v
	}
	return defaultVal
}

func parseMillisWithDefault(value string, defaultMs int) time.Duration {
	return time.Duration(parseIntWithDefault(value, defaultMs)) * time.Millisecond
}

func parseHoursWithDefault(value string, defaultHours int) time.Duration {
	return time.Duration(parseIntWithDefault(value, defaultHours)) * time.Hour
}

func parseFloatWithDefault(value string, defaultVal float64) float64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return defaultVal
	}
	if v, err := strconv.ParseFloat(value, 64); err == nil && v > 0 {
		return v
	}
	return defaultVal
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return errors.New("database path required")
	}
	if c.RetryMultiplier < 1 {
		return errors.New("retry multiplier must be >= 1")
	}
	if c.RetryMaxDelay < c.RetryInitialDelay {
		return errors.New("retry max delay must not be below the initial delay")
	}
	return nil
}

// LoadProviders reads the provider seed file. A missing file is not an error,
// it just means the store already holds everything.
func (c Config) LoadProviders() ([]*model.Provider, error) {
	b, err := os.ReadFile(c.ProvidersPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var providers []*model.Provider
	if err := json.Unmarshal(b, &providers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal providers: %w", err)
	}

	for idx, p := range providers {
		if strings.TrimSpace(p.Domain) == "" {
			return nil, fmt.Errorf("invalid provider input: empty domain at index %d", idx)
		}
	}
	return providers, nil
}

func (c Config) LoadAccounts() ([]*model.Account, error) {
	b, err := os.ReadFile(c.AccountsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var accounts []*model.Account
	if err := json.Unmarshal(b, &accounts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal accounts: %w", err)
	}

	for idx, a := range accounts {
		if strings.TrimSpace(a.ProviderID) == "" {
			return nil, fmt.Errorf("invalid account input: empty provider id at index %d", idx)
		}
	}
	return accounts, nil
}
