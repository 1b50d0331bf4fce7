package model

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

// Sign-out marker policies.
const (
	// SignOutMarkersWhereWork marks only the queues that held the owner's
	// pending work.
	SignOutMarkersWhereWork = "where-work"

	// SignOutMarkersAlways marks both queues.
	SignOutMarkersAlways = "always"
)

// AccountConfig holds the connection settings for one mail account. The
// password is never stored here; it lives in the system keyring.
type AccountConfig struct {
	// ID is the owner ID tasks for this account carry.
	ID string `mapstructure:"id" yaml:"id"`

	// Email is the login and the From address of sent mail.
	Email string `mapstructure:"email" yaml:"email"`

	IMAPHost string `mapstructure:"imap_host" yaml:"imap_host"`
	IMAPPort string `mapstructure:"imap_port" yaml:"imap_port"`
	SMTPHost string `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort string `mapstructure:"smtp_port" yaml:"smtp_port"`

	// TLS selects implicit TLS; otherwise STARTTLS is used.
	TLS bool `mapstructure:"tls" yaml:"tls"`

	// Mailbox names used when an action does not name one.
	DraftsMailbox  string `mapstructure:"drafts_mailbox" yaml:"drafts_mailbox"`
	TrashMailbox   string `mapstructure:"trash_mailbox" yaml:"trash_mailbox"`
	SpamMailbox    string `mapstructure:"spam_mailbox" yaml:"spam_mailbox"`
	DefaultMailbox string `mapstructure:"default_mailbox" yaml:"default_mailbox"`

	// Probe enables a TCP reachability check before each drain.
	Probe bool `mapstructure:"probe" yaml:"probe"`
}

// StorageConfig locates the queue database.
type StorageConfig struct {
	Path string `mapstructure:"path" yaml:"path" env:"OUTBOX_STORAGE_PATH"`
}

// DrainConfig tunes drain cycles.
type DrainConfig struct {
	// Budget bounds a single CLI drain. Zero means unbounded.
	Budget time.Duration `mapstructure:"budget" yaml:"budget" env:"OUTBOX_DRAIN_BUDGET"`

	// RetryLimit caps in-cycle re-dispatches of a task whose handler asked
	// for an immediate retry.
	RetryLimit int `mapstructure:"retry_limit" yaml:"retry_limit" env:"OUTBOX_DRAIN_RETRY_LIMIT"`

	// SignOutMarkers is SignOutMarkersWhereWork or SignOutMarkersAlways.
	SignOutMarkers string `mapstructure:"signout_markers" yaml:"signout_markers" env:"OUTBOX_SIGNOUT_MARKERS"`
}

// LogConfig controls the CLI logger.
type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" env:"OUTBOX_LOG_LEVEL"`
}

// MetricsConfig controls the Prometheus endpoint of long-running commands.
type MetricsConfig struct {
	// Listen is the address /metrics is served on. Empty disables it.
	Listen string `mapstructure:"listen" yaml:"listen" env:"OUTBOX_METRICS_LISTEN"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Storage  StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Drain    DrainConfig     `mapstructure:"drain" yaml:"drain"`
	Log      LogConfig       `mapstructure:"log" yaml:"log"`
	Metrics  MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Accounts []AccountConfig `mapstructure:"accounts" yaml:"accounts"`
}

// Account returns the configured account with the given ID.
func (c *AppConfig) Account(id string) (AccountConfig, bool) {
	for _, a := range c.Accounts {
		if a.ID == id {
			return a, true
		}
	}
	return AccountConfig{}, false
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mail-outbox/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mail-outbox", "config.yaml")
}

// DefaultStoragePath returns the default queue database location.
func DefaultStoragePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".", "outbox.db")
	}
	return filepath.Join(dir, "mail-outbox", "outbox.db")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Storage: StorageConfig{Path: DefaultStoragePath()},
		Drain: DrainConfig{
			Budget:         30 * time.Second,
			RetryLimit:     3,
			SignOutMarkers: SignOutMarkersWhereWork,
		},
		Log:      LogConfig{Level: "info"},
		Accounts: []AccountConfig{},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper
// and then applies OUTBOX_* environment overrides. If the file does not
// exist, the defaults are used as the base.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("storage.path", DefaultStoragePath())
	v.SetDefault("drain.budget", "30s")
	v.SetDefault("drain.retry_limit", 3)
	v.SetDefault("drain.signout_markers", SignOutMarkersWhereWork)
	v.SetDefault("log.level", "info")

	cfg := defaultAppConfig()
	if err := v.ReadInConfig(); err != nil {
		_, isPathErr := err.(*os.PathError)
		_, isNotFound := err.(viper.ConfigFileNotFoundError)
		if !isPathErr && !isNotFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	for i := range cfg.Accounts {
		applyAccountDefaults(&cfg.Accounts[i])
	}

	switch cfg.Drain.SignOutMarkers {
	case SignOutMarkersWhereWork, SignOutMarkersAlways:
	default:
		return nil, fmt.Errorf(
			"parsing config %s: unknown drain.signout_markers %q",
			path, cfg.Drain.SignOutMarkers,
		)
	}

	return cfg, nil
}

func applyAccountDefaults(a *AccountConfig) {
	if a.IMAPPort == "" {
		a.IMAPPort = "993"
	}
	if a.SMTPPort == "" {
		a.SMTPPort = "587"
	}
	if a.DraftsMailbox == "" {
		a.DraftsMailbox = "Drafts"
	}
	if a.TrashMailbox == "" {
		a.TrashMailbox = "Trash"
	}
	if a.SpamMailbox == "" {
		a.SpamMailbox = "Spam"
	}
	if a.DefaultMailbox == "" {
		a.DefaultMailbox = "INBOX"
	}
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("storage", cfg.Storage)
	v.Set("drain", map[string]any{
		"budget":          cfg.Drain.Budget.String(),
		"retry_limit":     cfg.Drain.RetryLimit,
		"signout_markers": cfg.Drain.SignOutMarkers,
	})
	v.Set("log", cfg.Log)
	v.Set("metrics", map[string]any{"listen": cfg.Metrics.Listen})
	v.Set("accounts", cfg.Accounts)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
