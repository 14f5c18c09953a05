package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Search   SearchConfig   `yaml:"search" mapstructure:"search"`
	Crawl    CrawlConfig    `yaml:"crawl" mapstructure:"crawl"`
	Hunter   HunterConfig   `yaml:"hunter" mapstructure:"hunter"`
	Probe    ProbeConfig    `yaml:"probe" mapstructure:"probe"`
	SMTP     SMTPConfig     `yaml:"smtp" mapstructure:"smtp"`
	Send     SendConfig     `yaml:"send" mapstructure:"send"`
	IMAP     IMAPConfig     `yaml:"imap" mapstructure:"imap"`
	Redis    RedisConfig    `yaml:"redis" mapstructure:"redis"`
	Lock     LockConfig     `yaml:"lock" mapstructure:"lock"`
	Progress ProgressConfig `yaml:"progress" mapstructure:"progress"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// ServerConfig configures the JSON API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// SearchConfig configures the DuckDuckGo HTML client.
type SearchConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxResults  int     `yaml:"max_results" mapstructure:"max_results"`
	Retries     int     `yaml:"retries" mapstructure:"retries"`
	MinDelay    float64 `yaml:"min_delay" mapstructure:"min_delay"`
	MaxDelay    float64 `yaml:"max_delay" mapstructure:"max_delay"`
}

// CrawlConfig configures web email discovery.
type CrawlConfig struct {
	MaxPages        int      `yaml:"max_pages" mapstructure:"max_pages"`
	PageTimeoutSecs int      `yaml:"page_timeout_secs" mapstructure:"page_timeout_secs"`
	Concurrency     int      `yaml:"concurrency" mapstructure:"concurrency"`
	ExcludePaths    []string `yaml:"exclude_paths" mapstructure:"exclude_paths"`
	MinDelay        float64  `yaml:"min_delay" mapstructure:"min_delay"`
	MaxDelay        float64  `yaml:"max_delay" mapstructure:"max_delay"`
}

// HunterConfig holds the optional reputation API key. An empty key disables it.
type HunterConfig struct {
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// ProbeConfig configures SMTP mailbox probing.
type ProbeConfig struct {
	HeloHost    string  `yaml:"helo_host" mapstructure:"helo_host"`
	MailFrom    string  `yaml:"mail_from" mapstructure:"mail_from"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MinDelay    float64 `yaml:"min_delay" mapstructure:"min_delay"`
	MaxDelay    float64 `yaml:"max_delay" mapstructure:"max_delay"`
}

// SMTPConfig holds outbound mail server credentials.
type SMTPConfig struct {
	Host        string `yaml:"host" mapstructure:"host"`
	Port        int    `yaml:"port" mapstructure:"port"`
	User        string `yaml:"user" mapstructure:"user"`
	AppPassword string `yaml:"app_password" mapstructure:"app_password"`
	FromName    string `yaml:"from_name" mapstructure:"from_name"`
}

// SendConfig paces bulk sending.
type SendConfig struct {
	MinDelay  float64 `yaml:"min_delay" mapstructure:"min_delay"`
	MaxDelay  float64 `yaml:"max_delay" mapstructure:"max_delay"`
	MaxPerRun int     `yaml:"max_per_run" mapstructure:"max_per_run"`
}

// IMAPConfig holds inbound mail server settings for bounce scanning.
type IMAPConfig struct {
	Host      string `yaml:"host" mapstructure:"host"`
	Port      int    `yaml:"port" mapstructure:"port"`
	User      string `yaml:"user" mapstructure:"user"`
	Password  string `yaml:"password" mapstructure:"password"`
	Folder    string `yaml:"folder" mapstructure:"folder"`
	SinceDays int    `yaml:"since_days" mapstructure:"since_days"`
}

// RedisConfig configures the optional Redis connection.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// LockConfig selects the single-run lock backend: memory, redis or postgres.
type LockConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"`
	TTLSecs int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
}

// ProgressConfig selects the progress sink: memory, file or redis.
type ProgressConfig struct {
	Backend string `yaml:"backend" mapstructure:"backend"`
	Path    string `yaml:"path" mapstructure:"path"`
	Key     string `yaml:"key" mapstructure:"key"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("MAILFINDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "mailfinder.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("search.base_url", "https://html.duckduckgo.com/html/")
	v.SetDefault("search.timeout_secs", 10)
	v.SetDefault("search.max_results", 5)
	v.SetDefault("search.retries", 1)
	v.SetDefault("search.min_delay", 0.5)
	v.SetDefault("search.max_delay", 1.5)
	v.SetDefault("crawl.max_pages", 10)
	v.SetDefault("crawl.page_timeout_secs", 8)
	v.SetDefault("crawl.concurrency", 1)
	v.SetDefault("crawl.exclude_paths", []string{"/blog/*", "/actualites/*", "/news/*", "/*.pdf"})
	v.SetDefault("crawl.min_delay", 0.3)
	v.SetDefault("crawl.max_delay", 0.8)
	v.SetDefault("hunter.base_url", "https://api.hunter.io/v2")
	v.SetDefault("probe.helo_host", "mail.example.com")
	v.SetDefault("probe.mail_from", "check@example.com")
	v.SetDefault("probe.timeout_secs", 10)
	v.SetDefault("probe.min_delay", 0.3)
	v.SetDefault("probe.max_delay", 0.8)
	v.SetDefault("smtp.host", "smtp.gmail.com")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("send.min_delay", 5.0)
	v.SetDefault("send.max_delay", 15.0)
	v.SetDefault("send.max_per_run", 50)
	v.SetDefault("imap.host", "imap.gmail.com")
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.folder", "INBOX")
	v.SetDefault("imap.since_days", 7)
	v.SetDefault("redis.addr", "")
	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.ttl_secs", 6*3600)
	v.SetDefault("progress.backend", "file")
	v.SetDefault("progress.path", "data/task_progress.json")
	v.SetDefault("progress.key", "mailfinder:progress")

	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	for _, key := range []string{
		"hunter.api_key", "smtp.user", "smtp.app_password", "smtp.from_name",
		"imap.user", "imap.password", "redis.password", "redis.db",
	} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.applyFallbacks()

	return &cfg, nil
}

// applyFallbacks fills IMAP credentials from the SMTP account when unset.
func (c *Config) applyFallbacks() {
	if c.IMAP.User == "" {
		c.IMAP.User = c.SMTP.User
	}
	if c.IMAP.Password == "" {
		c.IMAP.Password = c.SMTP.AppPassword
	}
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
