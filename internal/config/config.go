// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs, built once at process start
// and passed down explicitly.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Session SessionConfig `mapstructure:"session"`
	Crawl   CrawlConfig   `mapstructure:"crawl"`
	Paths   PathsConfig   `mapstructure:"paths"`
	Scopus  ScopusConfig  `mapstructure:"scopus"`
	Titles  TitlesConfig  `mapstructure:"titles"`
	API     APIConfig     `mapstructure:"api"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// SessionConfig governs the shared browser session and its refresh.
type SessionConfig struct {
	CookiesPath        string `mapstructure:"cookies_path"`
	UserAgent          string `mapstructure:"user_agent"`
	Headless           bool   `mapstructure:"headless"`
	RefreshCooldownSec int    `mapstructure:"refresh_cooldown_seconds"`
	LoginURL           string `mapstructure:"login_url"`
	LoginTimeoutSec    int    `mapstructure:"login_timeout_seconds"`
	RedirectPrefix     string `mapstructure:"redirect_prefix"`
	UsernameSelector   string `mapstructure:"username_selector"`
	PasswordSelector   string `mapstructure:"password_selector"`
	SubmitSelector     string `mapstructure:"submit_selector"`
	Username           string `mapstructure:"username"`
	Password           string `mapstructure:"password"`
}

// CrawlConfig governs scheduler and per-unit page action behavior.
type CrawlConfig struct {
	ChunkSize          int `mapstructure:"chunk_size"`
	Concurrency        int `mapstructure:"concurrency"`
	MaxAttempts        int `mapstructure:"max_attempts"`
	RetryDelayMs       int `mapstructure:"retry_delay_ms"`
	NavTimeoutSec      int `mapstructure:"nav_timeout_seconds"`
	ProbeTimeoutMs     int `mapstructure:"probe_timeout_ms"`
	DownloadTimeoutSec int `mapstructure:"download_timeout_seconds"`
	ExportTimeoutSec   int `mapstructure:"export_timeout_seconds"`
}

// PathsConfig sets the on-disk layout of pipeline stage artifacts.
type PathsConfig struct {
	SeedCSV       string `mapstructure:"seed_csv"`
	TitlesCSV     string `mapstructure:"titles_csv"`
	MiscitedDir   string `mapstructure:"miscited_dir"`
	CitingDir     string `mapstructure:"citing_dir"`
	ReferencesDir string `mapstructure:"references_dir"`
}

// ScopusConfig holds the remote endpoints the page actions target.
type ScopusConfig struct {
	BaseURL string `mapstructure:"base_url"`
	DocURL  string `mapstructure:"doc_url"`
}

// TitlesConfig governs the HTTP title-fetch stage.
type TitlesConfig struct {
	Concurrency  int `mapstructure:"concurrency"`
	ChunkSize    int `mapstructure:"chunk_size"`
	MaxAttempts  int `mapstructure:"max_attempts"`
	TimeoutSec   int `mapstructure:"timeout_seconds"`
	RetryDelayMs int `mapstructure:"retry_delay_ms"`
}

// APIConfig configures the optional status listener. Empty ListenAddr
// disables it.
type APIConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CITECRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.development", true)

	v.SetDefault("session.cookies_path", "cookies.json")
	v.SetDefault("session.user_agent",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36")
	v.SetDefault("session.headless", true)
	v.SetDefault("session.refresh_cooldown_seconds", 30)
	v.SetDefault("session.login_timeout_seconds", 60)
	v.SetDefault("session.username_selector", `input[name="cred_userid_inputtext"]`)
	v.SetDefault("session.password_selector", `input[name="cred_password_inputtext"]`)
	v.SetDefault("session.submit_selector", `input[value="Login"]`)

	v.SetDefault("crawl.chunk_size", 100)
	v.SetDefault("crawl.concurrency", 5)
	v.SetDefault("crawl.max_attempts", 5)
	v.SetDefault("crawl.retry_delay_ms", 1000)
	v.SetDefault("crawl.nav_timeout_seconds", 45)
	v.SetDefault("crawl.probe_timeout_ms", 500)
	v.SetDefault("crawl.download_timeout_seconds", 60)
	v.SetDefault("crawl.export_timeout_seconds", 60)

	v.SetDefault("paths.seed_csv", "eid.csv")
	v.SetDefault("paths.titles_csv", "eid_with_titles.csv")
	v.SetDefault("paths.miscited_dir", "miscited_downloads")
	v.SetDefault("paths.citing_dir", "citing_downloads")
	v.SetDefault("paths.references_dir", "references_of_citing_download")

	v.SetDefault("titles.concurrency", 20)
	v.SetDefault("titles.chunk_size", 100)
	v.SetDefault("titles.max_attempts", 5)
	v.SetDefault("titles.timeout_seconds", 10)
	v.SetDefault("titles.retry_delay_ms", 1000)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawl.ChunkSize <= 0 {
		return fmt.Errorf("crawl.chunk_size must be > 0")
	}
	if c.Crawl.Concurrency <= 0 {
		return fmt.Errorf("crawl.concurrency must be > 0")
	}
	if c.Crawl.MaxAttempts <= 0 {
		return fmt.Errorf("crawl.max_attempts must be > 0")
	}
	if c.Crawl.DownloadTimeoutSec <= 0 {
		return fmt.Errorf("crawl.download_timeout_seconds must be > 0")
	}
	if c.Session.RefreshCooldownSec < 0 {
		return fmt.Errorf("session.refresh_cooldown_seconds must be >= 0")
	}
	if c.Titles.Concurrency <= 0 {
		return fmt.Errorf("titles.concurrency must be > 0")
	}
	return nil
}

// RefreshCooldown returns the session refresh cooldown as a duration.
func (c SessionConfig) RefreshCooldown() time.Duration {
	return time.Duration(c.RefreshCooldownSec) * time.Second
}

// LoginTimeout returns the login flow budget as a duration.
func (c SessionConfig) LoginTimeout() time.Duration {
	return time.Duration(c.LoginTimeoutSec) * time.Second
}

// RetryDelay returns the between-attempt sleep as a duration.
func (c CrawlConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}

// NavTimeout returns the per-unit navigation budget as a duration.
func (c CrawlConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// ProbeTimeout returns the result-probe wait as a duration.
func (c CrawlConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutMs) * time.Millisecond
}

// DownloadTimeout returns the bounded download wait as a duration.
func (c CrawlConfig) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutSec) * time.Second
}

// ExportTimeout returns the export-trigger wait as a duration.
func (c CrawlConfig) ExportTimeout() time.Duration {
	return time.Duration(c.ExportTimeoutSec) * time.Second
}

// Timeout returns the per-request HTTP budget as a duration.
func (c TitlesConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// RetryDelay returns the between-attempt sleep as a duration.
func (c TitlesConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMs) * time.Millisecond
}
