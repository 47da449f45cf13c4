package main

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/agentsdk/agent"
	"github.com/c360/agentsdk/domain/bgp"
	"github.com/c360/agentsdk/domain/intf"
	"github.com/c360/agentsdk/health"
	"github.com/c360/agentsdk/manager"
	"github.com/c360/agentsdk/metric"
	"github.com/c360/agentsdk/store/memstore"
	sdktest "github.com/c360/agentsdk/testutil"
)

func TestLinkWatcher(t *testing.T) {
	st := memstore.New()
	sdktest.Seed(t, st, intf.RegionName, "Ethernet1",
		intf.Status{AdminEnabled: true, OperStatus: intf.OperUp, Description: "uplink"})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()

	drv, err := agent.New(st, agent.WithLogger(logger), agent.WithMetrics(registry), agent.WithHealth(monitor))
	require.NoError(t, err)
	w, err := newLinkWatcher(drv, registry, monitor, logger)
	require.NoError(t, err)

	sdktest.StartDriver(t, drv)
	require.Eventually(t, func() bool { return w.ifaces.Status() == manager.StatusMounted }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, manager.StatusStub, w.peers.Status(), "no bgp region on this store")
	peerHealth, ok := monitor.Get(bgp.RegionName)
	require.True(t, ok)
	assert.True(t, peerHealth.IsDegraded())

	ctx := t.Context()
	require.NoError(t, w.ifaces.ReportOperStatus(ctx, "Ethernet1", intf.OperDown))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(w.linkDown.WithLabelValues("Ethernet1")) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, w.ifaces.ReportOperStatus(ctx, "Ethernet2", intf.OperUp))
	require.Eventually(t, func() bool {
		s, ok := w.ifaces.Get("Ethernet2")
		return ok && s.Description == "managed by agentd"
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, testutil.ToFloat64(w.linkDown.WithLabelValues("Ethernet2")))

	require.NoError(t, w.ifaces.Delete(ctx, "Ethernet1"))
	require.Eventually(t, func() bool { return !w.ifaces.Exists("Ethernet1") }, 2*time.Second, 5*time.Millisecond)
}

func TestLinkWatcher_DuplicateMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	monitor := health.NewMonitor()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	drv1, err := agent.New(memstore.New(), agent.WithMetrics(registry))
	require.NoError(t, err)
	_, err = newLinkWatcher(drv1, registry, monitor, logger)
	require.NoError(t, err)

	drv2, err := agent.New(memstore.New())
	require.NoError(t, err)
	_, err = newLinkWatcher(drv2, registry, monitor, logger)
	assert.Error(t, err)
}

func TestResyncFeeds_AfterReconnect(t *testing.T) {
	st := memstore.New()
	sdktest.Seed(t, st, intf.RegionName, "Ethernet1", intf.Status{OperStatus: intf.OperUp})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	drv, err := agent.New(st, agent.WithLogger(logger))
	require.NoError(t, err)
	ifaces := intf.NewManager(manager.WithLogger(logger))
	drv.Register(ifaces)
	sdktest.StartDriver(t, drv)
	require.Eventually(t, func() bool { return ifaces.Status() == manager.StatusMounted }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	reconnected := make(chan struct{}, 1)
	go resyncFeeds(ctx, drv, reconnected, time.Hour, logger)

	b, _ := st.Region(intf.RegionName)
	b.DropWatchers()
	require.Eventually(t, func() bool { return ifaces.Status() == manager.StatusStale }, 2*time.Second, 5*time.Millisecond)
	sdktest.Seed(t, st, intf.RegionName, "Ethernet2", intf.Status{OperStatus: intf.OperDown})

	reconnected <- struct{}{}
	require.Eventually(t, func() bool {
		return ifaces.Status() == manager.StatusMounted && ifaces.Exists("Ethernet2")
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, drv.Loop().Lost())
}
