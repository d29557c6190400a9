package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Addr                  string
	ReadTimeout           time.Duration
	WriteTimeout          time.Duration
	ShutdownTimeout       time.Duration
	MaxConcurrentSearches int64
}

type ScraperConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	MaxFallbacks   int
	MaxPages       int
	PageDelayMin   time.Duration
	PageDelayMax   time.Duration
	UserAgents     []string
	Proxy          string
	// Seed makes warm-up randomness reproducible. Zero seeds from the clock.
	Seed int64
}

type BrowserConfig struct {
	Headless          bool
	NavigationTimeout time.Duration
	ClickTimeout      time.Duration
	Locale            string
}

type DatabaseConfig struct {
	URL      string
	MaxConns int32
}

func (d DatabaseConfig) Enabled() bool {
	return d.URL != ""
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads the environment, after loading a .env file from the working
// directory when present. Unparseable values fall back to their defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Addr:                  getEnvOrDefault("SERVER_ADDR", ":8080"),
			ReadTimeout:           getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:          getDurationOrDefault("SERVER_WRITE_TIMEOUT", 10*time.Minute),
			ShutdownTimeout:       getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			MaxConcurrentSearches: int64(getIntOrDefault("SERVER_MAX_CONCURRENT_SEARCHES", 1)),
		},
		Scraper: ScraperConfig{
			BaseURL:        getEnvOrDefault("SCRAPER_BASE_URL", "https://www.yellowpages.com/"),
			RequestTimeout: getDurationOrDefault("SCRAPER_REQUEST_TIMEOUT", 30*time.Second),
			MaxFallbacks:   getIntOrDefault("SCRAPER_MAX_FALLBACKS", 0),
			MaxPages:       getIntOrDefault("SCRAPER_MAX_PAGES", 100),
			PageDelayMin:   getDurationOrDefault("SCRAPER_PAGE_DELAY_MIN", 0),
			PageDelayMax:   getDurationOrDefault("SCRAPER_PAGE_DELAY_MAX", 0),
			UserAgents:     getStringSliceOrDefault("SCRAPER_USER_AGENTS", nil),
			Proxy:          getEnvOrDefault("SCRAPER_PROXY", ""),
			Seed:           int64(getIntOrDefault("SCRAPER_SEED", 0)),
		},
		Browser: BrowserConfig{
			Headless:          getBoolOrDefault("BROWSER_HEADLESS", true),
			NavigationTimeout: getDurationOrDefault("BROWSER_NAVIGATION_TIMEOUT", 35*time.Second),
			ClickTimeout:      getDurationOrDefault("BROWSER_CLICK_TIMEOUT", 3*time.Second),
			Locale:            getEnvOrDefault("BROWSER_LOCALE", "en-US"),
		},
		Database: DatabaseConfig{
			URL:      getEnvOrDefault("DATABASE_URL", ""),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 5)),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", ""),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			TTL:      getDurationOrDefault("CACHE_TTL", time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "text"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.Scraper.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("SCRAPER_BASE_URL must be an absolute URL, got %q", c.Scraper.BaseURL)
	}

	if c.Scraper.RequestTimeout <= 0 {
		return fmt.Errorf("SCRAPER_REQUEST_TIMEOUT must be positive")
	}

	if c.Scraper.MaxFallbacks < 0 {
		return fmt.Errorf("SCRAPER_MAX_FALLBACKS cannot be negative")
	}

	if c.Scraper.MaxPages < 1 {
		return fmt.Errorf("SCRAPER_MAX_PAGES must be at least 1")
	}

	if c.Scraper.PageDelayMin < 0 {
		return fmt.Errorf("SCRAPER_PAGE_DELAY_MIN cannot be negative")
	}

	if c.Scraper.PageDelayMin > c.Scraper.PageDelayMax {
		return fmt.Errorf("SCRAPER_PAGE_DELAY_MIN cannot be greater than SCRAPER_PAGE_DELAY_MAX")
	}

	if c.Browser.NavigationTimeout <= 0 || c.Browser.ClickTimeout <= 0 {
		return fmt.Errorf("browser timeouts must be positive")
	}

	if c.Server.MaxConcurrentSearches < 1 {
		return fmt.Errorf("SERVER_MAX_CONCURRENT_SEARCHES must be at least 1")
	}

	return nil
}

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

// getStringSliceOrDefault splits a comma list, dropping empty entries.
func getStringSliceOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
