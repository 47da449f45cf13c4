package config

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/agentsdk/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.lookupEnv = func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	return l
}

func TestLoader_LoadJSON(t *testing.T) {
	path := writeFile(t, "agent.json", `{
		"agent": {"name": "leaf1-agent", "environment": "dev"},
		"nats": {
			"urls": ["nats://10.0.0.1:4222", "nats://10.0.0.2:4222"],
			"max_reconnects": 10,
			"reconnect_wait": "5s"
		},
		"regions": {
			"intf": {"create": true, "history": 5},
			"bgp": {"bucket": "device_bgp"}
		}
	}`)

	cfg, err := newTestLoader(nil).LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "leaf1-agent", cfg.Agent.Name)
	assert.Equal(t, []string{"nats://10.0.0.1:4222", "nats://10.0.0.2:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 10, cfg.NATS.MaxReconnects)
	assert.Equal(t, 5*time.Second, cfg.NATS.ReconnectWait)
	assert.Equal(t, 5*time.Second, cfg.NATS.ConnectTimeout, "default survives the merge")
	assert.Equal(t, 30*time.Second, cfg.NATS.DrainTimeout, "default survives the merge")
	assert.Equal(t, []string{"bgp", "intf"}, cfg.RegionNames())
	assert.Equal(t, "agentsdk_intf", cfg.BucketFor("intf"))
	assert.Equal(t, "device_bgp", cfg.BucketFor("bgp"))
	assert.True(t, cfg.Regions["intf"].Create)
	assert.Equal(t, 5, cfg.Regions["intf"].History)

	// Untouched sections keep their defaults.
	assert.Equal(t, Defaults().Metrics, cfg.Metrics)
	assert.Equal(t, Defaults().Workers, cfg.Workers)
}

func TestLoader_LoadYAML(t *testing.T) {
	path := writeFile(t, "agent.yaml", `
agent:
  name: spine1
nats:
  urls: [nats://127.0.0.1:4222]
  reconnect_wait: 250ms
  ping_interval: 15s
  drain_timeout: 3s
regions:
  intf:
    create: true
metrics:
  port: 9191
workers:
  count: 2
`)

	cfg, err := newTestLoader(nil).LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "spine1", cfg.Agent.Name)
	assert.Equal(t, 250*time.Millisecond, cfg.NATS.ReconnectWait)
	assert.Equal(t, 15*time.Second, cfg.NATS.PingInterval)
	assert.Equal(t, 3*time.Second, cfg.NATS.DrainTimeout)
	assert.Equal(t, 9191, cfg.Metrics.Port)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
	assert.Equal(t, 2, cfg.Workers.Count)
	assert.Equal(t, 64, cfg.Workers.QueueSize)
}

func TestLoader_LoadTOML(t *testing.T) {
	path := writeFile(t, "agent.toml", `
[agent]
name = "edge7"
bucket_prefix = "lab_"

[nats]
urls = ["tls://nats.lab:4443"]
connect_timeout = "2s"

[regions.intf]
history = 3

[regions."bgp.ipv4"]
`)

	cfg, err := newTestLoader(nil).LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "edge7", cfg.Agent.Name)
	assert.Equal(t, 2*time.Second, cfg.NATS.ConnectTimeout)
	assert.Equal(t, "lab_intf", cfg.BucketFor("intf"))
	assert.Equal(t, "lab_bgp_ipv4", cfg.BucketFor("bgp.ipv4"))
	assert.Equal(t, 3, cfg.Regions["intf"].History)
}

func TestLoader_LayersOverride(t *testing.T) {
	base := writeFile(t, "base.yaml", `
agent: {name: base}
nats: {urls: ["nats://a:4222"], max_reconnects: 3}
regions:
  intf: {history: 2}
`)
	site := writeFile(t, "site.json", `{
		"agent": {"environment": "prod"},
		"regions": {"intf": {"create": true}, "bgp": {}}
	}`)

	l := newTestLoader(nil)
	l.AddLayer(base)
	l.AddLayer(site)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "base", cfg.Agent.Name)
	assert.Equal(t, "prod", cfg.Agent.Environment)
	assert.Equal(t, 3, cfg.NATS.MaxReconnects)
	assert.Equal(t, RegionConfig{History: 2, Create: true}, cfg.Regions["intf"])
	assert.Contains(t, cfg.Regions, "bgp")
}

func TestLoader_EnvOverrides(t *testing.T) {
	path := writeFile(t, "agent.json", `{"agent": {"name": "from-file"}}`)

	cfg, err := newTestLoader(map[string]string{
		"AGENTSDK_AGENT_NAME":    "from-env",
		"AGENTSDK_NATS_URLS":     "nats://x:4222, nats://y:4222",
		"AGENTSDK_NATS_TOKEN":    "s3cret",
		"AGENTSDK_METRICS_PORT":  "9300",
		"AGENTSDK_NATS_USERNAME": "",
	}).LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Agent.Name)
	assert.Equal(t, []string{"nats://x:4222", "nats://y:4222"}, cfg.NATS.URLs)
	assert.Equal(t, "s3cret", cfg.NATS.Token)
	assert.Equal(t, 9300, cfg.Metrics.Port)
	assert.Empty(t, cfg.NATS.Username)
	assert.NotContains(t, cfg.String(), "s3cret")
}

func TestLoader_EnvOverrideInvalid(t *testing.T) {
	path := writeFile(t, "agent.json", `{"agent": {"name": "a"}}`)

	_, err := newTestLoader(map[string]string{"AGENTSDK_METRICS_PORT": "http"}).LoadFile(path)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)

	_, err = newTestLoader(map[string]string{"AGENTSDK_AGENT_NAME": "bad\x00name"}).LoadFile(path)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestLoader_SchemaRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"unknown top-level key", `{"agent": {"name": "a"}, "graph": {}}`, "graph"},
		{"negative history", `{"agent": {"name": "a"}, "regions": {"intf": {"history": -1}}}`, "history"},
		{"bad duration", `{"agent": {"name": "a"}, "nats": {"reconnect_wait": "soon"}}`, "reconnect_wait"},
		{"port out of range", `{"agent": {"name": "a"}, "metrics": {"port": 70000}}`, "port"},
		{"bad bucket", `{"agent": {"name": "a"}, "regions": {"intf": {"bucket": "a.b"}}}`, "bucket"},
		{"wrong type", `{"agent": {"name": 7}}`, "name"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestLoader(nil).LoadFile(writeFile(t, "agent.json", tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, errors.ErrInvalidConfig)
			assert.True(t, errors.IsInvalid(err))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestLoader_ValidationDisabled(t *testing.T) {
	l := newTestLoader(nil)
	l.EnableValidation(false)

	cfg, err := l.LoadFile(writeFile(t, "agent.json", `{"regions": {"intf": {}}}`))
	require.NoError(t, err)
	assert.Empty(t, cfg.Agent.Name)
}

func TestLoader_FileErrors(t *testing.T) {
	_, err := newTestLoader(nil).LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrConfigNotFound)

	_, err = newTestLoader(nil).LoadFile(writeFile(t, "agent.ini", "name=a"))
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	_, err = newTestLoader(nil).LoadFile(writeFile(t, "agent.yaml", "agent: [unclosed"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrParsingFailed)

	deep := strings.Repeat("[", maxJSONDepth+1) + strings.Repeat("]", maxJSONDepth+1)
	_, err = newTestLoader(nil).LoadFile(writeFile(t, "agent.json", `{"x": `+deep+`}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nesting too deep")
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := Defaults()
		cfg.Agent.Name = "leaf1"
		cfg.Regions = map[string]RegionConfig{"intf": {}}
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing name", func(c *Config) { c.Agent.Name = "" }},
		{"no urls", func(c *Config) { c.NATS.URLs = nil }},
		{"bad scheme", func(c *Config) { c.NATS.URLs = []string{"http://x:4222"} }},
		{"no host", func(c *Config) { c.NATS.URLs = []string{"nats://"} }},
		{"cert without key", func(c *Config) { c.NATS.TLS = NATSTLSConfig{Enabled: true, CertFile: "c.pem"} }},
		{"token and user", func(c *Config) { c.NATS.Token, c.NATS.Username = "t", "u" }},
		{"shared bucket", func(c *Config) {
			c.Regions = map[string]RegionConfig{"a": {Bucket: "same"}, "b": {Bucket: "same"}}
		}},
		{"history too deep", func(c *Config) { c.Regions = map[string]RegionConfig{"intf": {History: 65}} }},
		{"bad metrics path", func(c *Config) { c.Metrics.Path = "metrics" }},
		{"negative workers", func(c *Config) { c.Workers.Count = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestConfig_CloneIsDeep(t *testing.T) {
	cfg := Defaults()
	cfg.Regions = map[string]RegionConfig{"intf": {History: 1}}

	clone := cfg.Clone()
	clone.Regions["intf"] = RegionConfig{History: 9}
	clone.NATS.URLs[0] = "nats://other:4222"

	assert.Equal(t, 1, cfg.Regions["intf"].History)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URLs[0])
}

func TestConfig_SaveAndReload(t *testing.T) {
	cfg := Defaults()
	cfg.Agent.Name = "roundtrip"
	cfg.Regions = map[string]RegionConfig{"intf": {Create: true}}

	path := filepath.Join(t.TempDir(), "saved.json")
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := newTestLoader(nil).LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestSafeConfig_ConcurrentAccess(t *testing.T) {
	base := Defaults()
	base.Agent.Name = "a"
	sc := NewSafeConfig(base)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = sc.Get().Agent.Name
		}()
		go func() {
			defer wg.Done()
			next := Defaults()
			next.Agent.Name = "b"
			assert.NoError(t, sc.Update(next))
		}()
	}
	wg.Wait()

	assert.Equal(t, "b", sc.Get().Agent.Name)

	err := sc.Update(&Config{})
	assert.True(t, errors.IsInvalid(err))
	assert.Equal(t, "b", sc.Get().Agent.Name)
}

func TestValidateConfigPath(t *testing.T) {
	assert.NoError(t, validateConfigPath("agent.yaml"))
	assert.NoError(t, validateConfigPath("/etc/agentd/agent.toml"))
	assert.Error(t, validateConfigPath(""))
	assert.Error(t, validateConfigPath("../outside.json"))
	assert.Error(t, validateConfigPath("agent.conf"))
	assert.Error(t, validateConfigPath(strings.Repeat("a", maxPathLen+1)+".json"))
}
