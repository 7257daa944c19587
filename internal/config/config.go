package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Scraper  ScraperConfig  `yaml:"scraper"`
	Proxy    ProxyConfig    `yaml:"proxy"`
	Browser  BrowserConfig  `yaml:"browser"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	WhatsApp WhatsAppConfig `yaml:"whatsapp"`
	Notify   NotifyConfig   `yaml:"notify"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	Host            string        `yaml:"host"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type ScraperConfig struct {
	BaseURL           string        `yaml:"base_url"`
	AlternativeURLs   []string      `yaml:"alternative_urls"`
	Mode              string        `yaml:"mode"`
	MaxListings       int           `yaml:"max_listings"`
	MinDelay          time.Duration `yaml:"min_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`
	BackoffFactor     float64       `yaml:"backoff_factor"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	UserAgents        []string      `yaml:"user_agents"`
	ScheduleInterval  time.Duration `yaml:"schedule_interval"`
	OutputFile        string        `yaml:"output_file"`
}

const (
	ModeHTTP    = "http"
	ModeBrowser = "browser"
)

type ProxyConfig struct {
	Proxies       []string      `yaml:"proxies"`
	TestURL       string        `yaml:"test_url"`
	ProbeInterval time.Duration `yaml:"probe_interval"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout"`
}

type BrowserConfig struct {
	Headless       bool          `yaml:"headless"`
	Timeout        time.Duration `yaml:"timeout"`
	ViewportWidth  int           `yaml:"viewport_width"`
	ViewportHeight int           `yaml:"viewport_height"`
	AcceptLanguage string        `yaml:"accept_language"`
	TimezoneID     string        `yaml:"timezone_id"`
	Locale         string        `yaml:"locale"`
	ProxyServer    string        `yaml:"proxy_server"`
}

type DatabaseConfig struct {
	Driver     string `yaml:"driver"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	DBName     string `yaml:"name"`
	SSLMode    string `yaml:"ssl_mode"`
	MaxConns   int32  `yaml:"max_conns"`
	SQLitePath string `yaml:"sqlite_path"`
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// RedisConfig enables the outbox relay when Addr is set.
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PollInterval time.Duration `yaml:"poll_interval"`
	BatchSize    int           `yaml:"batch_size"`
}

type WhatsAppConfig struct {
	ProfileDir      string        `yaml:"profile_dir"`
	Headless        bool          `yaml:"headless"`
	DailyLimit      int           `yaml:"daily_limit"`
	CampaignLimit   int           `yaml:"campaign_limit"`
	MinMessageDelay time.Duration `yaml:"min_message_delay"`
	MaxMessageDelay time.Duration `yaml:"max_message_delay"`
	SendTimeout     time.Duration `yaml:"send_timeout"`
	// TemplatesFile is an optional YAML map of template name to text.
	TemplatesFile string `yaml:"templates_file"`
}

type NotifyConfig struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in settings before any file or environment overrides.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			Host:            "0.0.0.0",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    0,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"http://localhost:*", "https://localhost:*"},
		},
		Scraper: ScraperConfig{
			BaseURL: "https://www.revolico.com",
			AlternativeURLs: []string{
				"https://revolico.com",
				"https://m.revolico.com",
				"http://www.revolico.com",
			},
			Mode:              ModeHTTP,
			MaxListings:       3,
			MinDelay:          3 * time.Second,
			MaxDelay:          8 * time.Second,
			RequestTimeout:    20 * time.Second,
			MaxRetries:        2,
			RetryDelay:        10 * time.Second,
			BackoffFactor:     2,
			MaxBackoff:        60 * time.Second,
			RequestsPerMinute: 10,
			UserAgents:        defaultUserAgents(),
			OutputFile:        "revolico_data.json",
		},
		Proxy: ProxyConfig{
			TestURL:       "http://httpbin.org/ip",
			ProbeInterval: 5 * time.Minute,
			ProbeTimeout:  10 * time.Second,
		},
		Browser: BrowserConfig{
			Headless:       true,
			Timeout:        30 * time.Second,
			ViewportWidth:  1920,
			ViewportHeight: 1080,
			AcceptLanguage: "es-ES,es;q=0.9,en;q=0.8",
			TimezoneID:     "America/Havana",
			Locale:         "es-ES",
		},
		Database: DatabaseConfig{
			Driver:     DriverSQLite,
			Host:       "localhost",
			Port:       5432,
			User:       "postgres",
			DBName:     "revolico",
			SSLMode:    "disable",
			MaxConns:   10,
			SQLitePath: "revolico_customers.db",
		},
		Redis: RedisConfig{
			PollInterval: 5 * time.Second,
			BatchSize:    100,
		},
		WhatsApp: WhatsAppConfig{
			ProfileDir:      "whatsapp_profiles",
			Headless:        false,
			DailyLimit:      100,
			CampaignLimit:   10,
			MinMessageDelay: 60 * time.Second,
			MaxMessageDelay: 180 * time.Second,
			SendTimeout:     45 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file named by
// CONFIG_FILE, and finally environment variables.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	s := &cfg.Server
	s.Port = getIntOrDefault("SERVER_PORT", s.Port)
	s.Host = getEnvOrDefault("SERVER_HOST", s.Host)
	s.ReadTimeout = getDurationOrDefault("SERVER_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getDurationOrDefault("SERVER_WRITE_TIMEOUT", s.WriteTimeout)
	s.ShutdownTimeout = getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.AllowedOrigins = getStringSliceOrDefault("SERVER_ALLOWED_ORIGINS", s.AllowedOrigins)

	sc := &cfg.Scraper
	sc.BaseURL = getEnvOrDefault("SCRAPER_BASE_URL", sc.BaseURL)
	sc.AlternativeURLs = getStringSliceOrDefault("SCRAPER_ALTERNATIVE_URLS", sc.AlternativeURLs)
	sc.Mode = getEnvOrDefault("SCRAPER_MODE", sc.Mode)
	sc.MaxListings = getIntOrDefault("SCRAPER_MAX_LISTINGS", sc.MaxListings)
	sc.MinDelay = getDurationOrDefault("SCRAPER_MIN_DELAY", sc.MinDelay)
	sc.MaxDelay = getDurationOrDefault("SCRAPER_MAX_DELAY", sc.MaxDelay)
	sc.RequestTimeout = getDurationOrDefault("SCRAPER_TIMEOUT", sc.RequestTimeout)
	sc.MaxRetries = getIntOrDefault("SCRAPER_MAX_RETRIES", sc.MaxRetries)
	sc.RetryDelay = getDurationOrDefault("SCRAPER_RETRY_DELAY", sc.RetryDelay)
	sc.BackoffFactor = getFloatOrDefault("SCRAPER_BACKOFF_FACTOR", sc.BackoffFactor)
	sc.MaxBackoff = getDurationOrDefault("SCRAPER_MAX_BACKOFF", sc.MaxBackoff)
	sc.RequestsPerMinute = getIntOrDefault("SCRAPER_REQUESTS_PER_MINUTE", sc.RequestsPerMinute)
	sc.UserAgents = getStringSliceOrDefault("SCRAPER_USER_AGENTS", sc.UserAgents)
	sc.ScheduleInterval = getDurationOrDefault("SCRAPER_SCHEDULE_INTERVAL", sc.ScheduleInterval)
	sc.OutputFile = getEnvOrDefault("SCRAPER_OUTPUT_FILE", sc.OutputFile)

	p := &cfg.Proxy
	p.Proxies = getStringSliceOrDefault("SCRAPER_PROXIES", p.Proxies)
	p.TestURL = getEnvOrDefault("PROXY_TEST_URL", p.TestURL)
	p.ProbeInterval = getDurationOrDefault("PROXY_PROBE_INTERVAL", p.ProbeInterval)
	p.ProbeTimeout = getDurationOrDefault("PROXY_PROBE_TIMEOUT", p.ProbeTimeout)

	b := &cfg.Browser
	b.Headless = getBoolOrDefault("BROWSER_HEADLESS", b.Headless)
	b.Timeout = getDurationOrDefault("BROWSER_TIMEOUT", b.Timeout)
	b.ViewportWidth = getIntOrDefault("BROWSER_VIEWPORT_WIDTH", b.ViewportWidth)
	b.ViewportHeight = getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", b.ViewportHeight)
	b.AcceptLanguage = getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", b.AcceptLanguage)
	b.TimezoneID = getEnvOrDefault("BROWSER_TIMEZONE", b.TimezoneID)
	b.Locale = getEnvOrDefault("BROWSER_LOCALE", b.Locale)
	b.ProxyServer = getEnvOrDefault("BROWSER_PROXY", b.ProxyServer)

	d := &cfg.Database
	d.Driver = getEnvOrDefault("DB_DRIVER", d.Driver)
	d.Host = getEnvOrDefault("DB_HOST", d.Host)
	d.Port = getIntOrDefault("DB_PORT", d.Port)
	d.User = getEnvOrDefault("DB_USER", d.User)
	d.Password = getEnvOrDefault("DB_PASSWORD", d.Password)
	d.DBName = getEnvOrDefault("DB_NAME", d.DBName)
	d.SSLMode = getEnvOrDefault("DB_SSL_MODE", d.SSLMode)
	d.MaxConns = int32(getIntOrDefault("DB_MAX_CONNS", int(d.MaxConns)))
	d.SQLitePath = getEnvOrDefault("DB_SQLITE_PATH", d.SQLitePath)

	r := &cfg.Redis
	r.Addr = getEnvOrDefault("REDIS_ADDR", r.Addr)
	r.Password = getEnvOrDefault("REDIS_PASSWORD", r.Password)
	r.DB = getIntOrDefault("REDIS_DB", r.DB)
	r.PollInterval = getDurationOrDefault("RELAY_POLL_INTERVAL", r.PollInterval)
	r.BatchSize = getIntOrDefault("RELAY_BATCH_SIZE", r.BatchSize)

	w := &cfg.WhatsApp
	w.ProfileDir = getEnvOrDefault("WHATSAPP_PROFILE_DIR", w.ProfileDir)
	w.Headless = getBoolOrDefault("WHATSAPP_HEADLESS", w.Headless)
	w.DailyLimit = getIntOrDefault("WHATSAPP_DAILY_LIMIT", w.DailyLimit)
	w.CampaignLimit = getIntOrDefault("WHATSAPP_CAMPAIGN_LIMIT", w.CampaignLimit)
	w.MinMessageDelay = getDurationOrDefault("WHATSAPP_MIN_DELAY", w.MinMessageDelay)
	w.MaxMessageDelay = getDurationOrDefault("WHATSAPP_MAX_DELAY", w.MaxMessageDelay)
	w.SendTimeout = getDurationOrDefault("WHATSAPP_SEND_TIMEOUT", w.SendTimeout)
	w.TemplatesFile = getEnvOrDefault("WHATSAPP_TEMPLATES_FILE", w.TemplatesFile)

	n := &cfg.Notify
	n.TelegramToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", n.TelegramToken)
	n.TelegramChatID = getInt64OrDefault("TELEGRAM_CHAT_ID", n.TelegramChatID)

	l := &cfg.Logging
	l.Level = getEnvOrDefault("LOG_LEVEL", l.Level)
	l.Format = getEnvOrDefault("LOG_FORMAT", l.Format)
}

func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if _, err := url.ParseRequestURI(c.Scraper.BaseURL); err != nil {
		return fmt.Errorf("SCRAPER_BASE_URL is not a valid URL: %w", err)
	}

	if c.Scraper.Mode != ModeHTTP && c.Scraper.Mode != ModeBrowser {
		return fmt.Errorf("SCRAPER_MODE must be %q or %q", ModeHTTP, ModeBrowser)
	}

	if c.Scraper.MaxListings < 1 {
		return fmt.Errorf("SCRAPER_MAX_LISTINGS must be at least 1")
	}

	if c.Scraper.MinDelay > c.Scraper.MaxDelay {
		return fmt.Errorf("SCRAPER_MIN_DELAY cannot be greater than SCRAPER_MAX_DELAY")
	}

	if c.Scraper.MaxRetries < 0 {
		return fmt.Errorf("SCRAPER_MAX_RETRIES cannot be negative")
	}

	if c.Scraper.BackoffFactor < 1 {
		return fmt.Errorf("SCRAPER_BACKOFF_FACTOR must be at least 1")
	}

	if len(c.Scraper.UserAgents) == 0 {
		return fmt.Errorf("at least one user agent is required")
	}

	if c.Database.Driver != DriverSQLite && c.Database.Driver != DriverPostgres {
		return fmt.Errorf("DB_DRIVER must be %q or %q", DriverSQLite, DriverPostgres)
	}

	if c.WhatsApp.MinMessageDelay > c.WhatsApp.MaxMessageDelay {
		return fmt.Errorf("WHATSAPP_MIN_DELAY cannot be greater than WHATSAPP_MAX_DELAY")
	}

	if c.WhatsApp.DailyLimit < 1 {
		return fmt.Errorf("WHATSAPP_DAILY_LIMIT must be at least 1")
	}

	return nil
}

// Attempts is the total number of fetch attempts per page.
func (s ScraperConfig) Attempts() int {
	return s.MaxRetries + 1
}

// BaseURLs lists the primary base URL followed by the alternatives.
func (s ScraperConfig) BaseURLs() []string {
	urls := make([]string, 0, len(s.AlternativeURLs)+1)
	urls = append(urls, s.BaseURL)
	for _, u := range s.AlternativeURLs {
		if u != "" && u != s.BaseURL {
			urls = append(urls, u)
		}
	}
	return urls
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(d.User), url.QueryEscape(d.Password), d.Host, d.Port, d.DBName, d.SSLMode)
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

func getInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
		var out []string
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	}
	return defaultValue
}

func defaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_2 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/121.0.6167.138 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Android 14; Mobile; rv:121.0) Gecko/121.0 Firefox/121.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.2 Safari/605.1.15",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
		"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:121.0) Gecko/20100101 Firefox/121.0",
	}
}
