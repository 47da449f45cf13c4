package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/c360/agentsdk/errors"
)

// DefaultBucketPrefix is prepended to a region name when its bucket is not
// named explicitly.
const DefaultBucketPrefix = "agentsdk_"

// Config represents the complete agent configuration
type Config struct {
	Version string                  `json:"version,omitempty"`
	Agent   AgentConfig             `json:"agent"`
	NATS    NATSConfig              `json:"nats"`
	Regions map[string]RegionConfig `json:"regions,omitempty"`
	Metrics MetricsConfig           `json:"metrics"`
	Workers WorkerConfig            `json:"workers"`
}

// AgentConfig identifies the agent process
type AgentConfig struct {
	Name         string `json:"name"`
	InstanceID   string `json:"instance_id,omitempty"` // generated at startup when empty
	Environment  string `json:"environment,omitempty"` // "prod", "dev", "test"
	BucketPrefix string `json:"bucket_prefix,omitempty"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs           []string      `json:"urls,omitempty"`
	MaxReconnects  int           `json:"max_reconnects,omitempty"`
	ReconnectWait  time.Duration `json:"reconnect_wait,omitempty"`
	ConnectTimeout time.Duration `json:"connect_timeout,omitempty"`
	PingInterval   time.Duration `json:"ping_interval,omitempty"`
	DrainTimeout   time.Duration `json:"drain_timeout,omitempty"`
	Username       string        `json:"username,omitempty"`
	Password       string        `json:"password,omitempty"`
	Token          string        `json:"token,omitempty"`
	TLS            NATSTLSConfig `json:"tls,omitempty"`
}

// NATSTLSConfig for secure NATS connections
type NATSTLSConfig struct {
	Enabled  bool   `json:"enabled"`
	CertFile string `json:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty"`
}

// RegionConfig binds one region of device state to a KV bucket
type RegionConfig struct {
	Bucket  string `json:"bucket,omitempty"`  // defaults to bucket_prefix + region
	History int    `json:"history,omitempty"` // revisions kept per key when created
	Create  bool   `json:"create,omitempty"`  // create the bucket when missing
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty"`
	Path    string `json:"path,omitempty"`
}

// WorkerConfig sizes the mutation worker pool
type WorkerConfig struct {
	Count     int `json:"count,omitempty"`
	QueueSize int `json:"queue_size,omitempty"`
}

// Validate checks semantic constraints the schema cannot express and fills
// in derived values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Agent.Name) == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "agent.name is required")
	}
	if !isValidName(c.Agent.Name) {
		return invalidf("agent.name %q must be alphanumeric with dashes, dots or underscores", c.Agent.Name)
	}

	if len(c.NATS.URLs) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate", "nats.urls is required")
	}
	for i, raw := range c.NATS.URLs {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return invalidf("nats.urls[%d] %q is not a valid URL", i, raw)
		}
		if !slices.Contains([]string{"nats", "tls", "ws", "wss"}, u.Scheme) {
			return invalidf("nats.urls[%d] has unsupported scheme %q", i, u.Scheme)
		}
	}
	if c.NATS.TLS.Enabled && (c.NATS.TLS.CertFile == "") != (c.NATS.TLS.KeyFile == "") {
		return invalidf("nats.tls.cert_file and nats.tls.key_file must be set together")
	}
	if c.NATS.Token != "" && c.NATS.Username != "" {
		return invalidf("nats.token and nats.username are mutually exclusive")
	}

	seen := make(map[string]string, len(c.Regions))
	for _, region := range c.RegionNames() {
		if region == "" || !isValidName(region) {
			return invalidf("region name %q is invalid", region)
		}
		rc := c.Regions[region]
		bucket := c.BucketFor(region)
		if !isValidBucket(bucket) {
			return invalidf("regions.%s.bucket %q must be alphanumeric with dashes or underscores", region, bucket)
		}
		if other, dup := seen[bucket]; dup {
			return invalidf("regions %s and %s share bucket %q", other, region, bucket)
		}
		seen[bucket] = region
		if rc.History < 0 || rc.History > 64 {
			return invalidf("regions.%s.history must be between 0 and 64", region)
		}
	}

	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return invalidf("metrics.port %d out of range", c.Metrics.Port)
	}
	if c.Metrics.Path != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		return invalidf("metrics.path must start with /")
	}
	if c.Workers.Count < 0 || c.Workers.QueueSize < 0 {
		return invalidf("workers.count and workers.queue_size must not be negative")
	}

	return nil
}

func invalidf(format string, args ...any) error {
	return errors.WrapInvalid(fmt.Errorf("%w: "+format, append([]any{errors.ErrInvalidConfig}, args...)...),
		"Config", "Validate", "semantic check")
}

// isValidName accepts letters, digits, dashes, underscores and dots.
func isValidName(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) &&
			r != '-' && r != '_' && r != '.' {
			return false
		}
	}
	return true
}

// isValidBucket follows the JetStream bucket name rules.
func isValidBucket(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= 'a' && r <= 'z') && !(r >= 'A' && r <= 'Z') && !(r >= '0' && r <= '9') &&
			r != '-' && r != '_' {
			return false
		}
	}
	return true
}

// RegionNames returns the configured regions in sorted order.
func (c *Config) RegionNames() []string {
	names := make([]string, 0, len(c.Regions))
	for name := range c.Regions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BucketFor returns the bucket that backs region. Dots in a region name are
// not valid in a bucket name and become underscores.
func (c *Config) BucketFor(region string) string {
	if rc, ok := c.Regions[region]; ok && rc.Bucket != "" {
		return rc.Bucket
	}
	prefix := c.Agent.BucketPrefix
	if prefix == "" {
		prefix = DefaultBucketPrefix
	}
	return prefix + strings.ReplaceAll(region, ".", "_")
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}

	data, err := json.Marshal(c)
	if err != nil {
		copied := *c
		return &copied
	}

	var clone Config
	if err := json.Unmarshal(data, &clone); err != nil {
		copied := *c
		return &copied
	}
	return &clone
}

// String returns a JSON representation with credentials redacted
func (c *Config) String() string {
	redacted := c.Clone()
	if redacted.NATS.Password != "" {
		redacted.NATS.Password = "***"
	}
	if redacted.NATS.Token != "" {
		redacted.NATS.Token = "***"
	}
	data, _ := json.MarshalIndent(redacted, "", "  ")
	return string(data)
}

// SaveToFile saves the configuration as JSON
func (c *Config) SaveToFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return safeWriteFile(path, data)
}

// SafeConfig provides thread-safe access to configuration
type SafeConfig struct {
	mu     sync.RWMutex
	config *Config
}

// NewSafeConfig creates a new thread-safe config wrapper
func NewSafeConfig(cfg *Config) *SafeConfig {
	if cfg == nil {
		cfg = &Config{}
	}
	return &SafeConfig{config: cfg}
}

// Get returns a deep copy of the current configuration
func (sc *SafeConfig) Get() *Config {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.config.Clone()
}

// Update atomically replaces the configuration after validation
func (sc *SafeConfig) Update(cfg *Config) error {
	if cfg == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig, "SafeConfig", "Update", "nil config")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.config = cfg
	return nil
}
