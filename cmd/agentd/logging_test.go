package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/agentsdk/errors"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"INFO", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"loud", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsInvalid(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewLogger_JSONAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger, _ := newLogger(&buf, slog.LevelInfo, "json")
	logger.Debug("hidden")
	logger.Info("hello", "instance", "edge1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "hello", rec["msg"])
	assert.Equal(t, appName, rec["service"])
	assert.Equal(t, Version, rec["version"])
	assert.Equal(t, "edge1", rec["instance"])
}

func TestDebugOnSignal(t *testing.T) {
	var buf bytes.Buffer
	logger, lv := newLogger(&buf, slog.LevelWarn, "text")

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	sigs := make(chan os.Signal, 1)
	go debugOnSignal(ctx, sigs, lv, slog.LevelWarn, logger)

	sigs <- syscall.SIGUSR1
	require.Eventually(t, func() bool { return lv.Level() == slog.LevelDebug }, time.Second, 5*time.Millisecond)

	sigs <- syscall.SIGUSR1
	require.Eventually(t, func() bool { return lv.Level() == slog.LevelWarn }, time.Second, 5*time.Millisecond)

	// a debug base level stays at debug
	assert.Equal(t, slog.LevelDebug, toggleDebug(lv, slog.LevelDebug))
	assert.Equal(t, slog.LevelDebug, toggleDebug(lv, slog.LevelDebug))
}

func TestRun_LogsToStderr(t *testing.T) {
	good := writeConfig(t, "agent.yaml", "agent:\n  name: edge1\n")
	var stdout, stderr bytes.Buffer
	require.Equal(t, 0, run([]string{"--config", good, "--validate"}, &stdout, &stderr))
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "Configuration is valid")
}
