package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/c360/agentsdk/errors"
)

// parseLevel accepts the slog level names in any case.
func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, errors.WrapInvalid(errors.ErrInvalidConfig, "agentd", "parseLevel", fmt.Sprintf("log level %q", s))
	}
	return level, nil
}

// newLogger logs to w at a level that can change while the agent runs.
// agentd passes stderr so stdout carries only command output.
func newLogger(w io.Writer, level slog.Level, format string) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(level)
	opts := &slog.HandlerOptions{Level: lv, AddSource: level <= slog.LevelDebug}

	var handler slog.Handler = slog.NewJSONHandler(w, opts)
	if format == "text" {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler).With("service", appName, "version", Version), lv
}

// toggleDebug switches lv to debug, or back to base when already there.
func toggleDebug(lv *slog.LevelVar, base slog.Level) slog.Level {
	if lv.Level() == slog.LevelDebug && base != slog.LevelDebug {
		lv.Set(base)
	} else {
		lv.Set(slog.LevelDebug)
	}
	return lv.Level()
}

// debugOnSignal toggles debug logging on every signal until ctx is done.
func debugOnSignal(ctx context.Context, sigs <-chan os.Signal, lv *slog.LevelVar, base slog.Level, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			logger.Info("Log level changed", "signal", sig.String(), "level", toggleDebug(lv, base).String())
		}
	}
}
