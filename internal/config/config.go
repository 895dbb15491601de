package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

type Config struct {
	// Discord Bot
	DiscordToken    string `validate:"required"`
	InviteChannelID string

	// Database
	DatabaseURL string `validate:"required"`

	// Roster source
	SpreadsheetID         string `validate:"required"`
	SheetName             string
	SheetID               int64 `validate:"gte=0"`
	GoogleCredentialsFile string

	// Payment schedule
	DecayRatio float64 `validate:"gt=0,lte=1"`

	// Roster cache and background sync
	CacheTTL      time.Duration `validate:"gt=0"`
	PollInterval  time.Duration `validate:"gt=0"`
	ShutdownGrace time.Duration `validate:"gte=0"`
	BackoffBase   time.Duration `validate:"gt=0"`
	BackoffMax    time.Duration `validate:"gtefield=BackoffBase"`

	// Unpaid reminders, disabled when zero
	ReminderInterval time.Duration `validate:"gte=0"`

	// Operator alerts
	TelegramAlertToken string
	TelegramAlertChats []int64

	// Operator API (enabled when DiscordClientID is set)
	WebBind             string
	WebUIBaseURL        string
	DiscordClientID     string
	DiscordClientSecret string `validate:"required_with=DiscordClientID"`
	DiscordRedirectURI  string
	JWTSecret           string
	OperatorIDs         []string
}

var validate = validator.New()

func Load() (*Config, error) {
	// Load environment variables from .env if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		DiscordToken:          os.Getenv("DISCORD_TOKEN"),
		InviteChannelID:       os.Getenv("INVITE_CHANNEL_ID"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		SpreadsheetID:         os.Getenv("SPREADSHEET_ID"),
		SheetName:             getEnvDefault("SHEET_NAME", "Sheet1"),
		GoogleCredentialsFile: getEnvDefault("GOOGLE_CREDENTIALS_FILE", "google_sheets_key.json"),
		TelegramAlertToken:    os.Getenv("TELEGRAM_ALERT_TOKEN"),
		WebBind:               getEnvDefault("WEB_BIND", "0.0.0.0:3000"),
		DiscordClientID:       os.Getenv("DISCORD_CLIENT_ID"),
		DiscordClientSecret:   os.Getenv("DISCORD_CLIENT_SECRET"),
		DiscordRedirectURI:    getEnvDefault("DISCORD_REDIRECT_URI", "http://localhost:3000/api/auth/callback"),
		JWTSecret:             getEnvDefault("JWT_SECRET", "dev-only-change-me"),
		OperatorIDs:           splitList(os.Getenv("OPERATOR_IDS")),
	}

	var err error
	if cfg.SheetID, err = getEnvInt("SHEET_ID", 0); err != nil {
		return nil, err
	}
	if cfg.DecayRatio, err = getEnvFloat("DECAY_RATIO", 1); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = getEnvSeconds("CACHE_TTL_SECONDS", 30); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = getEnvSeconds("POLL_INTERVAL_SECONDS", 30); err != nil {
		return nil, err
	}
	if cfg.ShutdownGrace, err = getEnvSeconds("SHUTDOWN_GRACE_SECONDS", 10); err != nil {
		return nil, err
	}
	if cfg.BackoffBase, err = getEnvSeconds("SYNC_BACKOFF_BASE_SECONDS", 5); err != nil {
		return nil, err
	}
	if cfg.BackoffMax, err = getEnvSeconds("SYNC_BACKOFF_MAX_SECONDS", 60); err != nil {
		return nil, err
	}
	if cfg.ReminderInterval, err = getEnvSeconds("REMINDER_INTERVAL_SECONDS", 0); err != nil {
		return nil, err
	}
	if cfg.TelegramAlertChats, err = parseChatIDs(os.Getenv("TELEGRAM_ALERT_CHATS")); err != nil {
		return nil, err
	}

	// Extract base URL from redirect URI
	cfg.WebUIBaseURL = extractBaseURL(cfg.DiscordRedirectURI)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// APIEnabled reports whether the operator API has OAuth credentials.
func (c *Config) APIEnabled() bool {
	return c.DiscordClientID != ""
}

func getEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return f, nil
}

// getEnvSeconds reads a whole or fractional number of seconds.
func getEnvSeconds(key string, defaultSeconds float64) (time.Duration, error) {
	s, err := getEnvFloat(key, defaultSeconds)
	if err != nil {
		return 0, err
	}
	return time.Duration(s * float64(time.Second)), nil
}

func splitList(s string) []string {
	return lo.Compact(lo.Map(strings.Split(s, ","), func(v string, _ int) string {
		return strings.TrimSpace(v)
	}))
}

func parseChatIDs(s string) ([]int64, error) {
	var ids []int64
	for _, v := range splitList(s) {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("TELEGRAM_ALERT_CHATS: invalid chat id %q: %w", v, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func extractBaseURL(redirectURI string) string {
	// e.g., "http://localhost:3000/api/auth/callback" -> "http://localhost:3000"
	parsed, err := url.Parse(redirectURI)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "http://localhost:3000"
	}

	return fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
}
