package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up by LoadFromDir.
const FileName = "borrowchecker.yaml"

// Config represents the borrowchecker configuration
type Config struct {
	Title  string        `yaml:"title"`
	Server ServerConfig  `yaml:"server"`
	Store  StoreConfig   `yaml:"store"`
	Groups []GroupConfig `yaml:"groups,omitempty"`
	User   UserConfig    `yaml:"user"`
	Cache  *CacheConfig  `yaml:"cache,omitempty"`
	API    *APIConfig    `yaml:"api,omitempty"`
	Log    LogConfig     `yaml:"log"`
	Watch  bool          `yaml:"watch"`

	// RefreshInterval pulls remotes periodically (e.g. "5m"). Empty disables it.
	RefreshInterval string `yaml:"refresh_interval,omitempty"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port  int    `yaml:"port"`
	Host  string `yaml:"host"`
	Debug bool   `yaml:"debug"`
}

// StoreConfig selects the persistence backend of a group.
type StoreConfig struct {
	Type   string       `yaml:"type"`             // "git", "dir", "sqlite" or "postgres"
	Path   string       `yaml:"path,omitempty"`   // Repository or directory; sqlite base directory
	Branch string       `yaml:"branch,omitempty"` // For git: branch to read (default: main)
	Remote string       `yaml:"remote,omitempty"` // For git: remote fetched on refresh
	DSN    string       `yaml:"dsn,omitempty"`    // For sqlite/postgres (env vars expanded)
	Retry  *RetryConfig `yaml:"retry,omitempty"`
}

// GroupConfig declares one group when several are served.
type GroupConfig struct {
	ID    string      `yaml:"id"`
	Name  string      `yaml:"name"`
	Store StoreConfig `yaml:"store"`
}

// UserConfig identifies whose balances are shown.
type UserConfig struct {
	ID string `yaml:"id"` // Entity UUID from group.toml
}

// RetryConfig configures retry behavior for remote refreshes
type RetryConfig struct {
	MaxRetries int    `yaml:"max_retries,omitempty"` // Maximum retry attempts (default: 3)
	BaseDelay  string `yaml:"base_delay,omitempty"`  // Initial delay (e.g., "100ms"). Default: 100ms
	MaxDelay   string `yaml:"max_delay,omitempty"`   // Maximum delay (e.g., "5s"). Default: 5s
}

// CacheConfig configures caching of repository reads
type CacheConfig struct {
	Type     string `yaml:"type,omitempty"`     // "memory" or "redis". Default: memory
	TTL      string `yaml:"ttl,omitempty"`      // Cache TTL (e.g., "5m"). Default: disabled (empty)
	Strategy string `yaml:"strategy,omitempty"` // "simple" or "stale-while-revalidate". Default: "simple"
	Addr     string `yaml:"addr,omitempty"`     // For redis: host:port (env vars expanded)
	Password string `yaml:"password,omitempty"` // For redis (env vars expanded)
	DB       int    `yaml:"db,omitempty"`       // For redis: database number
	Prefix   string `yaml:"prefix,omitempty"`   // For redis: key prefix
}

// APIConfig holds REST API configuration
type APIConfig struct {
	CORS      *CORSConfig      `yaml:"cors,omitempty"`
	RateLimit *RateLimitConfig `yaml:"rate_limit,omitempty"`
}

// CORSConfig holds CORS configuration for the API
type CORSConfig struct {
	Origins []string `yaml:"origins,omitempty"` // Allowed origins (e.g., ["http://localhost:3000", "*"])
}

// RateLimitConfig holds rate limiting configuration for the API
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"` // Rate limit in requests per second (default: 10)
	Burst             int     `yaml:"burst,omitempty"`               // Burst size (default: 20)
	MaxTrackedIPs     int     `yaml:"max_tracked_ips,omitempty"`     // Per-IP limiters kept (default: 10000)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console or json
}

// GetDSN returns the DSN with environment variable expansion
func (c StoreConfig) GetDSN() string {
	return os.ExpandEnv(c.DSN)
}

// GetRetryMaxRetries returns the max retries (default: 3, set to 0 to disable retries)
func (c StoreConfig) GetRetryMaxRetries() int {
	if c.Retry == nil || c.Retry.MaxRetries < 0 {
		return 3
	}
	return c.Retry.MaxRetries
}

// GetRetryBaseDelay returns the base delay (default: 100ms)
func (c StoreConfig) GetRetryBaseDelay() time.Duration {
	if c.Retry == nil {
		return 100 * time.Millisecond
	}
	return parseDuration(c.Retry.BaseDelay, 100*time.Millisecond)
}

// GetRetryMaxDelay returns the max delay (default: 5s)
func (c StoreConfig) GetRetryMaxDelay() time.Duration {
	if c.Retry == nil {
		return 5 * time.Second
	}
	return parseDuration(c.Retry.MaxDelay, 5*time.Second)
}

// GroupList returns the configured groups. Without a groups section the
// top-level store is served as a single group named after the title.
func (c *Config) GroupList() []GroupConfig {
	if len(c.Groups) > 0 {
		return c.Groups
	}
	return []GroupConfig{{ID: "default", Name: c.Title, Store: c.Store}}
}

// UserID parses the configured user. An empty ID yields uuid.Nil.
func (c *Config) UserID() (uuid.UUID, error) {
	if strings.TrimSpace(c.User.ID) == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(strings.TrimSpace(c.User.ID))
	if err != nil {
		return uuid.Nil, fmt.Errorf("user.id %q is not a UUID", c.User.ID)
	}
	return id, nil
}

// GetRefreshInterval returns the remote refresh interval (0 if disabled)
func (c *Config) GetRefreshInterval() time.Duration {
	return parseDuration(c.RefreshInterval, 0)
}

// IsCacheEnabled returns true if caching is enabled
func (c *CacheConfig) IsCacheEnabled() bool {
	return c != nil && c.TTL != ""
}

// GetType returns the cache backend (default: "memory")
func (c *CacheConfig) GetType() string {
	if c == nil || c.Type == "" {
		return "memory"
	}
	return c.Type
}

// GetTTL returns the cache TTL (0 if caching is disabled)
func (c *CacheConfig) GetTTL() time.Duration {
	if c == nil {
		return 0
	}
	return parseDuration(c.TTL, 0)
}

// GetStrategy returns the cache strategy (default: "simple")
func (c *CacheConfig) GetStrategy() string {
	if c == nil || c.Strategy == "" {
		return "simple"
	}
	return c.Strategy
}

// GetAddr returns the redis address with environment variable expansion
func (c *CacheConfig) GetAddr() string {
	if c == nil {
		return ""
	}
	return os.ExpandEnv(c.Addr)
}

// GetPassword returns the redis password with environment variable expansion
func (c *CacheConfig) GetPassword() string {
	if c == nil {
		return ""
	}
	return os.ExpandEnv(c.Password)
}

// GetCORSOrigins returns the configured CORS origins, or nil if not configured
func (c *APIConfig) GetCORSOrigins() []string {
	if c == nil || c.CORS == nil {
		return nil
	}
	return c.CORS.Origins
}

// GetRateLimitRPS returns the rate limit in requests per second (default: 10)
func (c *APIConfig) GetRateLimitRPS() float64 {
	if c == nil || c.RateLimit == nil || c.RateLimit.RequestsPerSecond <= 0 {
		return 10
	}
	return c.RateLimit.RequestsPerSecond
}

// GetRateLimitBurst returns the burst size (default: 20)
func (c *APIConfig) GetRateLimitBurst() int {
	if c == nil || c.RateLimit == nil || c.RateLimit.Burst <= 0 {
		return 20
	}
	return c.RateLimit.Burst
}

// GetMaxTrackedIPs returns how many client IPs the limiter tracks (default: 10000)
func (c *APIConfig) GetMaxTrackedIPs() int {
	if c == nil || c.RateLimit == nil || c.RateLimit.MaxTrackedIPs <= 0 {
		return 10000
	}
	return c.RateLimit.MaxTrackedIPs
}

// Validate checks the store types, group IDs, user and cache settings.
func (c *Config) Validate() error {
	if _, err := c.UserID(); err != nil {
		return err
	}

	seen := make(map[string]bool)
	for i, g := range c.GroupList() {
		if g.ID == "" {
			return fmt.Errorf("groups[%d]: id is required", i)
		}
		if seen[g.ID] {
			return fmt.Errorf("groups[%d]: duplicate id %q", i, g.ID)
		}
		seen[g.ID] = true
		if err := g.Store.validate(); err != nil {
			return fmt.Errorf("group %q: %w", g.ID, err)
		}
	}

	if c.Cache != nil {
		switch c.Cache.GetType() {
		case "memory":
		case "redis":
			if c.Cache.GetAddr() == "" {
				return fmt.Errorf("cache: redis requires addr")
			}
		default:
			return fmt.Errorf("cache: unsupported type %q", c.Cache.Type)
		}
		switch c.Cache.GetStrategy() {
		case "simple", "stale-while-revalidate":
		default:
			return fmt.Errorf("cache: unsupported strategy %q", c.Cache.Strategy)
		}
	}
	return nil
}

func (c StoreConfig) validate() error {
	switch c.Type {
	case "", "git", "dir", "sqlite":
	case "postgres":
		if c.GetDSN() == "" && os.Getenv("DATABASE_URL") == "" {
			return fmt.Errorf("store: postgres requires dsn or DATABASE_URL")
		}
	default:
		return fmt.Errorf("store: unsupported type %q", c.Type)
	}
	return nil
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Title: "Borrow Checker",
		Server: ServerConfig{
			Port:  8080,
			Host:  "localhost",
			Debug: false,
		},
		Store: StoreConfig{
			Type:   "git",
			Path:   ".",
			Branch: "main",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file
// If the file doesn't exist, returns the default configuration
func Load(configPath string) (*Config, error) {
	// If no config path provided, use default
	if configPath == "" {
		return DefaultConfig(), nil
	}

	// Check if file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	// Read the config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	config := DefaultConfig() // Start with defaults
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Relative store paths are resolved against the config file.
	base := filepath.Dir(configPath)
	config.Store.Path = resolvePath(base, config.Store.Path)
	for i := range config.Groups {
		config.Groups[i].Store.Path = resolvePath(base, config.Groups[i].Store.Path)
	}

	return config, nil
}

// LoadFromDir looks for borrowchecker.yaml in the given directory.
// If none is found, returns the default configuration with the store
// pointed at dir.
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}
	config := DefaultConfig()
	config.Store.Path = dir
	return config, nil
}

// Save writes the configuration to a YAML file
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

func resolvePath(base, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
