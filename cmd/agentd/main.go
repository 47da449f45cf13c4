// Package main implements agentd, a network device agent built on the SDK.
// It mounts the interface and BGP regions from NATS JetStream Key/Value,
// watches them and serves metrics and health over HTTP.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/c360/agentsdk/agent"
	"github.com/c360/agentsdk/config"
	"github.com/c360/agentsdk/errors"
	"github.com/c360/agentsdk/health"
	"github.com/c360/agentsdk/metric"
	"github.com/c360/agentsdk/natsclient"
	"github.com/c360/agentsdk/pkg/retry"
	"github.com/c360/agentsdk/store/natskv"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "agentd"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run returns the process exit code. A protocol violation or any other panic
// on the agent goroutine exits with agent.ExitPanic.
func run(args []string, stdout, stderr io.Writer) (code int) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			code = agent.ExitPanic
		}
	}()

	err := start(args, stdout, stderr)
	code = agent.ExitCode(err)
	if err != nil {
		slog.Error("Agent failed", "error", err, "class", errors.Classify(err).String(), "exit_code", code)
	}
	return code
}

func start(args []string, stdout, stderr io.Writer) error {
	cli, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	if err := validateFlags(cli); err != nil {
		return err
	}
	if cli.ShowVersion {
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
		return nil
	}
	if cli.ShowHelp {
		return nil
	}

	level, err := parseLevel(cli.LogLevel)
	if err != nil {
		return err
	}
	logger, levelVar := newLogger(stderr, level, cli.LogFormat)
	slog.SetDefault(logger)
	errors.SetPanicHook(func(msg string) {
		logger.Error("Protocol violation", "violation", msg)
	})

	cfg, err := loadConfig(cli.ConfigLayers)
	if err != nil {
		return err
	}
	if cli.MetricsPort != 0 {
		cfg.Metrics.Port = cli.MetricsPort
	}
	if cfg.Agent.InstanceID == "" {
		cfg.Agent.InstanceID = uuid.NewString()
	}
	logger = logger.With("instance", cfg.Agent.InstanceID)

	logger.Info("Starting agent",
		"build_time", BuildTime,
		"config", cli.ConfigLayers,
		"agent", cfg.Agent.Name,
		"environment", cfg.Agent.Environment,
		"regions", cfg.RegionNames())

	if cli.Validate {
		logger.Info("Configuration is valid")
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	go debugOnSignal(ctx, usr1, levelVar, level, logger)

	return runAgent(ctx, cfg, cli.ShutdownTimeout, logger)
}

func loadConfig(layers []string) (*config.Config, error) {
	loader := config.NewLoader()
	for _, path := range layers {
		loader.AddLayer(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, errors.Wrap(err, "agentd", "loadConfig", "load config")
	}
	return cfg, nil
}

func runAgent(ctx context.Context, cfg *config.Config, shutdownTimeout time.Duration, logger *slog.Logger) error {
	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()
	reconnected := make(chan struct{}, 1)
	onReconnect := func() {
		select {
		case reconnected <- struct{}{}:
		default:
		}
	}

	client, err := natsclient.NewClient(strings.Join(cfg.NATS.URLs, ","),
		natsOptions(cfg, logger, registry, monitor, onReconnect)...)
	if err != nil {
		return errors.Wrap(err, "agentd", "runAgent", "create NATS client")
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer closeCancel()
		if err := client.Close(closeCtx); err != nil {
			logger.Warn("Closing NATS client failed", "error", err)
		}
	}()

	st := natskv.New(client, bindings(cfg), natskv.WithLogger(logger))

	drv, err := agent.New(st,
		agent.WithLogger(logger),
		agent.WithMetrics(registry),
		agent.WithHealth(monitor),
		agent.WithInstanceID(cfg.Agent.InstanceID),
		agent.WithConnector(client.Connect, connectRetry()),
		agent.WithWorkers(cfg.Workers.Count, cfg.Workers.QueueSize),
		agent.WithShutdownTimeout(shutdownTimeout),
	)
	if err != nil {
		return err
	}

	if _, err := newLinkWatcher(drv, registry, monitor, logger); err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		srv := metric.NewServer(cfg.Metrics.Port, cfg.Metrics.Path, registry)
		srv.Handle("/healthz", monitor.Handler(cfg.Agent.Name))
		if err := srv.Start(); err != nil {
			return errors.WrapFatal(err, "agentd", "runAgent", "start metrics server")
		}
		defer func() {
			if err := srv.Stop(shutdownTimeout); err != nil {
				logger.Warn("Stopping metrics server failed", "error", err)
			}
		}()
	}

	go resyncFeeds(ctx, drv, reconnected, cfg.NATS.ReconnectWait, logger)

	err = drv.Run(ctx)
	logger.Info("Agent shutdown complete")
	return err
}

// resyncFeeds re-establishes lost region feeds after every reconnect, and
// retries every interval while a region stays lost.
func resyncFeeds(ctx context.Context, drv *agent.Driver, reconnected <-chan struct{}, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-reconnected:
		case <-ticker.C:
			if len(drv.Loop().Lost()) == 0 {
				continue
			}
		}
		if err := drv.Resync(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("Region resync failed", "error", err, "lost", drv.Loop().Lost())
		}
	}
}

func natsOptions(cfg *config.Config, logger *slog.Logger, registry *metric.MetricsRegistry,
	monitor *health.Monitor, onReconnect func()) []natsclient.ClientOption {
	n := cfg.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithLogger(logger),
		natsclient.WithName(fmt.Sprintf("%s-%s", cfg.Agent.Name, cfg.Agent.InstanceID)),
		natsclient.WithMaxReconnects(n.MaxReconnects),
		natsclient.WithReconnectWait(n.ReconnectWait),
		natsclient.WithTimeout(n.ConnectTimeout),
		natsclient.WithPingInterval(n.PingInterval),
		natsclient.WithDrainTimeout(n.DrainTimeout),
		natsclient.WithMetrics(registry),
		natsclient.WithHealthChangeCallback(monitor.ConnectionListener("nats")),
		natsclient.WithReconnectCallback(onReconnect),
	}
	switch {
	case n.Token != "":
		opts = append(opts, natsclient.WithToken(n.Token))
	case n.Username != "":
		opts = append(opts, natsclient.WithCredentials(n.Username, n.Password))
	}
	if n.TLS.Enabled {
		opts = append(opts, natsclient.WithTLS(n.TLS.CertFile, n.TLS.KeyFile, n.TLS.CAFile))
	}
	return opts
}

func bindings(cfg *config.Config) map[string]natskv.Binding {
	out := make(map[string]natskv.Binding, len(cfg.Regions))
	for _, name := range cfg.RegionNames() {
		r := cfg.Regions[name]
		out[name] = natskv.Binding{
			Bucket:  cfg.BucketFor(name),
			History: r.History,
			Create:  r.Create,
		}
	}
	return out
}

// connectRetry keeps trying for about a minute before giving up.
func connectRetry() retry.Config {
	return retry.Config{
		MaxAttempts:  10,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}
