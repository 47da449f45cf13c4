package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/c360/agentsdk/errors"
)

//go:embed schema.json
var schemaJSON []byte

// Schema returns the JSON schema configuration files are validated against.
func Schema() []byte {
	return bytes.Clone(schemaJSON)
}

// Loader handles configuration loading with layers and overrides.
// Later layers override earlier ones key by key.
type Loader struct {
	layers     []string
	validation bool
	envPrefix  string
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader with validation enabled
func NewLoader() *Loader {
	return &Loader{
		validation: true,
		envPrefix:  "AGENTSDK",
		lookupEnv:  os.LookupEnv,
	}
}

// AddLayer adds a configuration file layer
func (l *Loader) AddLayer(path string) {
	l.layers = append(l.layers, path)
}

// EnableValidation enables or disables configuration validation
func (l *Loader) EnableValidation(enable bool) {
	l.validation = enable
}

// SetEnvPrefix changes the prefix of override variables
func (l *Loader) SetEnvPrefix(prefix string) {
	l.envPrefix = strings.TrimSuffix(prefix, "_")
}

// LoadFile loads configuration from a single file
func (l *Loader) LoadFile(path string) (*Config, error) {
	l.layers = []string{path}
	return l.Load()
}

// Load loads and merges all configuration layers
func (l *Loader) Load() (*Config, error) {
	merged, err := toMap(Defaults())
	if err != nil {
		return nil, errors.WrapFatal(err, "Loader", "Load", "encode defaults")
	}

	for _, path := range l.layers {
		raw, err := l.loadRaw(path)
		if err != nil {
			return nil, err
		}
		if l.validation {
			if err := validateSchema(raw); err != nil {
				return nil, errors.WrapInvalid(err, "Loader", "Load", fmt.Sprintf("validate %s", path))
			}
		}
		parseDurations(raw)
		merged = deepMergeMaps(merged, raw)
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "Loader", "Load", "decode merged config")
	}

	if err := l.applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if l.validation {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// Defaults returns the configuration every layer is merged onto
func Defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			BucketPrefix: DefaultBucketPrefix,
		},
		NATS: NATSConfig{
			URLs:           []string{"nats://localhost:4222"},
			MaxReconnects:  -1,
			ReconnectWait:  2 * time.Second,
			ConnectTimeout: 5 * time.Second,
			PingInterval:   30 * time.Second,
			DrainTimeout:   30 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
			Path:    "/metrics",
		},
		Workers: WorkerConfig{
			Count:     4,
			QueueSize: 64,
		},
	}
}

// loadRaw reads one layer into a generic map, choosing the decoder from the
// file extension.
func (l *Loader) loadRaw(path string) (map[string]any, error) {
	data, err := safeReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrConfigNotFound, err), "Loader", "loadRaw", path)
		}
		return nil, errors.WrapInvalid(err, "Loader", "loadRaw", path)
	}

	var raw map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := validateJSONDepth(data); err != nil {
			return nil, errors.WrapInvalid(err, "Loader", "loadRaw", path)
		}
		err = json.Unmarshal(data, &raw)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	case ".toml":
		_, err = toml.Decode(string(data), &raw)
	default:
		err = fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "Loader", "loadRaw", path)
	}
	if raw == nil {
		raw = map[string]any{}
	}

	// Decoders disagree on number and map types; a JSON round trip gives the
	// schema validator and the merge one shape to work with.
	return normalize(raw)
}

func normalize(raw map[string]any) (map[string]any, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "Loader", "normalize", "re-encode layer")
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrParsingFailed, err), "Loader", "normalize", "re-decode layer")
	}
	return out, nil
}

// validateSchema checks one layer against the embedded schema and joins all
// violations into a single error.
func validateSchema(raw map[string]any) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(schemaJSON),
		gojsonschema.NewGoLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("%w: schema: %v", errors.ErrInvalidConfig, err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		msgs = append(msgs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
	}
	return fmt.Errorf("%w: %s", errors.ErrInvalidConfig, strings.Join(msgs, "; "))
}

// parseDurations converts duration strings to nanoseconds for json unmarshaling
func parseDurations(data map[string]any) {
	nats, ok := data["nats"].(map[string]any)
	if !ok {
		return
	}
	for _, field := range []string{"reconnect_wait", "connect_timeout", "ping_interval", "drain_timeout"} {
		if s, ok := nats[field].(string); ok {
			if d, err := time.ParseDuration(s); err == nil {
				nats[field] = d.Nanoseconds()
			}
		}
	}
}

// deepMergeMaps recursively merges two maps, with override taking precedence
func deepMergeMaps(base, override map[string]any) map[string]any {
	result := make(map[string]any, len(base))
	for k, v := range base {
		result[k] = v
	}

	for k, v := range override {
		if v == nil {
			continue
		}
		if baseMap, ok := base[k].(map[string]any); ok {
			if overrideMap, ok := v.(map[string]any); ok {
				result[k] = deepMergeMaps(baseMap, overrideMap)
				continue
			}
		}
		result[k] = v
	}
	return result
}

func toMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromMap(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (l *Loader) applyEnvOverrides(cfg *Config) error {
	get := func(name string) (string, bool, error) {
		key := l.envPrefix + "_" + name
		val, ok := l.lookupEnv(key)
		if !ok || val == "" {
			return "", false, nil
		}
		if err := validateEnvVar(key, val); err != nil {
			return "", false, errors.WrapInvalid(err, "Loader", "applyEnvOverrides", key)
		}
		return val, true, nil
	}

	overrides := []struct {
		name  string
		apply func(string) error
	}{
		{"AGENT_NAME", func(v string) error { cfg.Agent.Name = v; return nil }},
		{"AGENT_INSTANCE_ID", func(v string) error { cfg.Agent.InstanceID = v; return nil }},
		{"AGENT_ENVIRONMENT", func(v string) error { cfg.Agent.Environment = v; return nil }},
		{"NATS_URLS", func(v string) error {
			urls := strings.Split(v, ",")
			for i := range urls {
				urls[i] = strings.TrimSpace(urls[i])
			}
			cfg.NATS.URLs = urls
			return nil
		}},
		{"NATS_USERNAME", func(v string) error { cfg.NATS.Username = v; return nil }},
		{"NATS_PASSWORD", func(v string) error { cfg.NATS.Password = v; return nil }},
		{"NATS_TOKEN", func(v string) error { cfg.NATS.Token = v; return nil }},
		{"METRICS_PORT", func(v string) error {
			port, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%w: metrics port %q: %v", errors.ErrInvalidConfig, v, err)
			}
			cfg.Metrics.Port = port
			return nil
		}},
	}

	for _, o := range overrides {
		val, ok, err := get(o.name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if err := o.apply(val); err != nil {
			return errors.WrapInvalid(err, "Loader", "applyEnvOverrides", l.envPrefix+"_"+o.name)
		}
	}
	return nil
}
