package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gosyncprogress/internal/utils"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	_ "embed"
)

var customConfigPath string // Custom config path set via --config flag

//go:embed config.sample.json
var sampleConfig []byte

const (
	CONFIG_DIR_PATH  = "gosyncprogress"
	CONFIG_FILE_PATH = "config.json"
	CONFIG_DIR_PERM  = 0755
	CONFIG_FILE_PERM = 0600
)

// Defaults applied to empty fields after loading
const (
	DefaultRemoteName            = "default"
	DefaultRemoteTimeout         = 10 * time.Second
	DefaultBatchSize             = 20
	DefaultMaxAttempts           = 5
	DefaultBackoffBase           = time.Second
	DefaultBackoffCap            = 5 * time.Minute
	DefaultFlushInterval         = 30 * time.Second
	DefaultProbeInterval         = 30 * time.Second
	DefaultMaxLowPriorityPending = 500
	DefaultQueuedItemsSample     = 10
)

// Duration is a time.ParseDuration string such as "30s" or "5m"
type Duration string

// Value parses the duration, returning def when it is empty or invalid
func (d Duration) Value(def time.Duration) time.Duration {
	if d == "" {
		return def
	}
	v, err := time.ParseDuration(string(d))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// Config is the application configuration
type Config struct {
	Remote   RemoteConfig   `json:"remote" yaml:"remote"`
	Sync     SyncConfig     `json:"sync" yaml:"sync"`
	Database DatabaseConfig `json:"database" yaml:"database"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

// RemoteConfig describes the progress server.
// Token is a plaintext fallback; keyring and environment take precedence.
type RemoteConfig struct {
	Name     string   `json:"name,omitempty" yaml:"name,omitempty" validate:"omitempty,alphanum"`
	URL      string   `json:"url" yaml:"url" validate:"omitempty,url"`
	TokenEnv string   `json:"token_env,omitempty" yaml:"token_env,omitempty"`
	Token    string   `json:"token,omitempty" yaml:"token,omitempty"`
	Username string   `json:"username,omitempty" yaml:"username,omitempty"`
	Timeout  Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"omitempty,duration"`
}

// SyncConfig tunes batching, retries and the background timers
type SyncConfig struct {
	BatchSize             int      `json:"batch_size,omitempty" yaml:"batch_size,omitempty" validate:"min=0,max=100"`
	MaxAttempts           int      `json:"max_attempts,omitempty" yaml:"max_attempts,omitempty" validate:"min=0"`
	BackoffBase           Duration `json:"backoff_base,omitempty" yaml:"backoff_base,omitempty" validate:"omitempty,duration"`
	BackoffCap            Duration `json:"backoff_cap,omitempty" yaml:"backoff_cap,omitempty" validate:"omitempty,duration"`
	FlushInterval         Duration `json:"flush_interval,omitempty" yaml:"flush_interval,omitempty" validate:"omitempty,duration"`
	ProbeInterval         Duration `json:"probe_interval,omitempty" yaml:"probe_interval,omitempty" validate:"omitempty,duration"`
	MaxLowPriorityPending int      `json:"max_low_priority_pending,omitempty" yaml:"max_low_priority_pending,omitempty" validate:"min=0"`
	QueuedItemsSample     int      `json:"queued_items_sample,omitempty" yaml:"queued_items_sample,omitempty" validate:"min=0"`
}

// DatabaseConfig locates the queue database. An empty path uses the XDG data dir.
type DatabaseConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"`
}

// LogConfig controls logging
type LogConfig struct {
	Verbose bool `json:"verbose,omitempty" yaml:"verbose,omitempty"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
			d, err := time.ParseDuration(fl.Field().String())
			return err == nil && d > 0
		})
	})
	return validate
}

// Validate checks field constraints and cross-field rules
func (c Config) Validate() error {
	if err := getValidator().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return utils.ErrInvalidConfig(fe.Namespace(), fmt.Sprintf("failed '%s' check", fe.Tag()))
		}
		return err
	}

	base := c.Sync.BackoffBase.Value(DefaultBackoffBase)
	maxDelay := c.Sync.BackoffCap.Value(DefaultBackoffCap)
	if maxDelay < base {
		return utils.ErrInvalidConfig("sync.backoff_cap", "must not be shorter than backoff_base")
	}
	return nil
}

// applyDefaults fills empty fields
func (c *Config) applyDefaults() {
	if c.Remote.Name == "" {
		c.Remote.Name = DefaultRemoteName
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = DefaultBatchSize
	}
	if c.Sync.MaxAttempts == 0 {
		c.Sync.MaxAttempts = DefaultMaxAttempts
	}
	if c.Sync.MaxLowPriorityPending == 0 {
		c.Sync.MaxLowPriorityPending = DefaultMaxLowPriorityPending
	}
	if c.Sync.QueuedItemsSample == 0 {
		c.Sync.QueuedItemsSample = DefaultQueuedItemsSample
	}
}

// RemoteTimeout returns the HTTP timeout for the progress server
func (c *Config) RemoteTimeout() time.Duration {
	return c.Remote.Timeout.Value(DefaultRemoteTimeout)
}

// FlushInterval returns the periodic flush interval
func (c *Config) FlushInterval() time.Duration {
	return c.Sync.FlushInterval.Value(DefaultFlushInterval)
}

// ProbeInterval returns the connectivity probe interval
func (c *Config) ProbeInterval() time.Duration {
	return c.Sync.ProbeInterval.Value(DefaultProbeInterval)
}

// BackoffBase returns the first retry delay
func (c *Config) BackoffBase() time.Duration {
	return c.Sync.BackoffBase.Value(DefaultBackoffBase)
}

// BackoffCap returns the longest retry delay
func (c *Config) BackoffCap() time.Duration {
	return c.Sync.BackoffCap.Value(DefaultBackoffCap)
}

// DatabasePath returns the configured database path with ~ and $VARS expanded
func (c *Config) DatabasePath() (string, error) {
	return utils.ExpandPath(c.Database.Path)
}

// SetCustomConfigPath sets a custom config path to use instead of the default user config directory.
// If path is a directory, it looks for "config.json" inside it.
func SetCustomConfigPath(path string) {
	if path == "" {
		customConfigPath = ""
		return
	}
	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		customConfigPath = filepath.Join(path, CONFIG_FILE_PATH)
	} else {
		customConfigPath = path
	}
}

// GetConfigPath returns the --config override or the default user config file
func GetConfigPath() (string, error) {
	if customConfigPath != "" {
		return utils.ExpandPath(customConfigPath)
	}

	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, CONFIG_DIR_PATH, CONFIG_FILE_PATH), nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config dir: %w", err)
	}
	return filepath.Join(dir, CONFIG_DIR_PATH, CONFIG_FILE_PATH), nil
}

// Load reads, defaults and validates the config at path. A missing file is
// created from the embedded sample.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		data, err = createConfigFromSample(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return Parse(data, path)
}

// Parse decodes config data. Files ending in .yaml or .yml are YAML,
// everything else is JSON.
func Parse(data []byte, path string) (*Config, error) {
	var cfg Config
	if isYAML(path) {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, utils.WrapWithSuggestion(
				fmt.Errorf("invalid YAML in config file %s: %w", path, err),
				"Fix the syntax error or delete the file to regenerate the sample")
		}
	} else {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, utils.WrapWithSuggestion(
				fmt.Errorf("invalid JSON in config file %s: %w", path, err),
				"Fix the syntax error or delete the file to regenerate the sample")
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path in the format its extension selects
func Save(cfg *Config, path string) error {
	var (
		data []byte
		err  error
	)
	if isYAML(path) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := createConfigDir(path); err != nil {
		return err
	}
	return WriteConfigFile(path, data)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func createConfigDir(configPath string) error {
	return os.MkdirAll(filepath.Dir(configPath), CONFIG_DIR_PERM)
}

// WriteConfigFile writes config data with owner-only permissions
func WriteConfigFile(configPath string, data []byte) error {
	return os.WriteFile(configPath, data, CONFIG_FILE_PERM)
}

func createConfigFromSample(configPath string) ([]byte, error) {
	if err := createConfigDir(configPath); err != nil {
		return nil, err
	}

	data := sampleConfig
	if isYAML(configPath) {
		var cfg Config
		if err := json.Unmarshal(sampleConfig, &cfg); err != nil {
			return nil, err
		}
		out, err := yaml.Marshal(&cfg)
		if err != nil {
			return nil, err
		}
		data = out
	}

	if err := WriteConfigFile(configPath, data); err != nil {
		return nil, err
	}
	utils.Infof("Created default config at %s", configPath)
	return data, nil
}

// Sample returns the embedded sample configuration
func Sample() []byte {
	return append([]byte(nil), sampleConfig...)
}
