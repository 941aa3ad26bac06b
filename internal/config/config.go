package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Session  SessionConfig
	Captcha  CaptchaConfig
	Browser  BrowserConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Telegram TelegramConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type ScraperConfig struct {
	// RequestSpacing is the minimum gap between two requests to the same host.
	RequestSpacing  time.Duration
	RequestTimeout  time.Duration
	ConcurrentLimit int
	PollInterval    time.Duration
	UserAgent       string
	// DirectoryURL points at the official page listing every store with
	// name and province. Empty disables directory lookups.
	DirectoryURL string
	Proxy        string
}

type SessionConfig struct {
	Username          string
	Password          string
	DataDir           string
	CookieFile        string
	LoginAttempts     int
	SerializeInterval time.Duration
	// MaxAge marks a cached jar stale once exceeded.
	MaxAge time.Duration
}

type CaptchaConfig struct {
	Dir         string
	PathSuffix  string
	MaxAttempts int
}

type BrowserConfig struct {
	Enabled        bool
	Headless       bool
	Timeout        time.Duration
	AcceptLanguage string
	Locale         string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

type TelegramConfig struct {
	Enabled  bool
	BotToken string
	ChatIDs  []string
	Timeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Scraper: ScraperConfig{
			RequestSpacing:  getDurationOrDefault("SCRAPER_REQUEST_SPACING", 500*time.Millisecond),
			RequestTimeout:  getDurationOrDefault("SCRAPER_REQUEST_TIMEOUT", 20*time.Second),
			ConcurrentLimit: getIntOrDefault("SCRAPER_CONCURRENT_LIMIT", 5),
			PollInterval:    getDurationOrDefault("SCRAPER_POLL_INTERVAL", time.Second),
			UserAgent:       getEnvOrDefault("SCRAPER_USER_AGENT", defaultUserAgent),
			DirectoryURL:    getEnvOrDefault("SCRAPER_DIRECTORY_URL", ""),
			Proxy:           getEnvOrDefault("SCRAPER_PROXY", ""),
		},
		Session: SessionConfig{
			Username:          getEnvOrDefault("SESSION_USERNAME", ""),
			Password:          getEnvOrDefault("SESSION_PASSWORD", ""),
			DataDir:           getEnvOrDefault("SESSION_DATA_DIR", "data"),
			CookieFile:        getEnvOrDefault("SESSION_COOKIE_FILE", "data/cookies.txt"),
			LoginAttempts:     getIntOrDefault("SESSION_LOGIN_ATTEMPTS", 3),
			SerializeInterval: getDurationOrDefault("SESSION_SERIALIZE_INTERVAL", time.Minute),
			MaxAge:            getDurationOrDefault("SESSION_MAX_AGE", 30*time.Minute),
		},
		Captcha: CaptchaConfig{
			Dir:         getEnvOrDefault("CAPTCHA_DIR", "re-captchas"),
			PathSuffix:  getEnvOrDefault("CAPTCHA_PATH_SUFFIX", "/Captcha.aspx"),
			MaxAttempts: getIntOrDefault("CAPTCHA_MAX_ATTEMPTS", 10),
		},
		Browser: BrowserConfig{
			Enabled:        getBoolOrDefault("BROWSER_ENABLED", false),
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "es-ES,es;q=0.9,en;q=0.8"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "es-ES"),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "shop_monitor"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			Stream:   getEnvOrDefault("REDIS_STREAM", "stream:entity_changed"),
		},
		Telegram: TelegramConfig{
			Enabled:  getBoolOrDefault("TELEGRAM_ENABLED", false),
			BotToken: getEnvOrDefault("TELEGRAM_BOT_TOKEN", ""),
			ChatIDs:  getStringSliceOrDefault("TELEGRAM_CHAT_IDS", []string{}),
			Timeout:  getDurationOrDefault("TELEGRAM_TIMEOUT", 10*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Scraper.ConcurrentLimit < 1 {
		return fmt.Errorf("SCRAPER_CONCURRENT_LIMIT must be at least 1")
	}

	if c.Scraper.RequestSpacing <= 0 {
		return fmt.Errorf("SCRAPER_REQUEST_SPACING must be positive")
	}

	if c.Session.LoginAttempts < 1 {
		return fmt.Errorf("SESSION_LOGIN_ATTEMPTS must be at least 1")
	}

	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is required when TELEGRAM_ENABLED is set")
	}

	return nil
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
