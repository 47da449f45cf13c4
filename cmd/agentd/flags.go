package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/c360/agentsdk/errors"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigLayers    []string
	LogLevel        string
	LogFormat       string
	MetricsPort     int
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

// layerList collects repeated --config flags. The first explicit flag
// replaces the environment default.
type layerList struct {
	layers   *[]string
	explicit bool
}

func (l *layerList) String() string {
	if l.layers == nil {
		return ""
	}
	return strings.Join(*l.layers, ",")
}

func (l *layerList) Set(v string) error {
	if !l.explicit {
		*l.layers = nil
		l.explicit = true
	}
	*l.layers = append(*l.layers, v)
	return nil
}

func parseFlags(args []string, stderr io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{
		ConfigLayers: splitList(getEnv("AGENTD_CONFIG", "configs/agentd.yaml")),
	}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)

	layers := &layerList{layers: &cfg.ConfigLayers}
	fs.Var(layers, "config",
		"Configuration file; repeat to layer files, later ones win (env: AGENTD_CONFIG, comma-separated)")
	fs.Var(layers, "c", "Shorthand for --config")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("AGENTD_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: AGENTD_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("AGENTD_LOG_FORMAT", "json"),
		"Log format: json, text (env: AGENTD_LOG_FORMAT)")

	fs.IntVar(&cfg.MetricsPort, "metrics-port",
		getEnvInt("AGENTD_METRICS_PORT", 0),
		"Metrics and health port, 0 keeps the configured port (env: AGENTD_METRICS_PORT)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("AGENTD_SHUTDOWN_TIMEOUT", 10*time.Second),
		"Graceful shutdown timeout (env: AGENTD_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printDetailedHelp(fs, stderr) }

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			cfg.ShowHelp = true
			return cfg, nil
		}
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "agentd", "parseFlags", err.Error())
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if len(cfg.ConfigLayers) == 0 {
		return errors.WrapInvalid(errors.ErrMissingConfig, "agentd", "validateFlags", "no config file")
	}
	for _, path := range cfg.ConfigLayers {
		if _, err := os.Stat(path); err != nil {
			return errors.WrapInvalid(errors.ErrConfigNotFound, "agentd", "validateFlags",
				fmt.Sprintf("config file %s", path))
		}
	}

	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return err
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "agentd", "validateFlags",
			fmt.Sprintf("log format %s", cfg.LogFormat))
	}
	if cfg.MetricsPort < 0 || cfg.MetricsPort > 65535 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "agentd", "validateFlags",
			fmt.Sprintf("metrics port %d", cfg.MetricsPort))
	}
	if cfg.ShutdownTimeout <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "agentd", "validateFlags",
			fmt.Sprintf("shutdown timeout %s", cfg.ShutdownTimeout))
	}
	return nil
}

func printDetailedHelp(fs *flag.FlagSet, w io.Writer) {
	_, _ = fmt.Fprintf(w, `%s - network device agent

Usage: %s [options]

Options:
`, appName, appName)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Layer a site file over the base config
  %s --config=/etc/agentd/base.yaml --config=/etc/agentd/site.toml

  # Run with debug logging
  %s --log-level=debug --log-format=text

  # Validate configuration only
  %s --validate

Exit codes:
  0 ok, 1 failure, 2 protocol violation, 3 bad configuration, 4 mount failed

Version: %s
Build: %s
`, appName, appName, appName, Version, BuildTime)
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
