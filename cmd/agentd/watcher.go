package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/agentsdk/agent"
	"github.com/c360/agentsdk/domain/bgp"
	"github.com/c360/agentsdk/domain/intf"
	"github.com/c360/agentsdk/errors"
	"github.com/c360/agentsdk/health"
	"github.com/c360/agentsdk/manager"
	"github.com/c360/agentsdk/metric"
	"github.com/c360/agentsdk/mount"
)

// linkWatcher is the example agent: it follows interface and BGP peer state,
// counts links that go down while admin enabled and labels interfaces the
// platform reports without a description.
type linkWatcher struct {
	intf.BaseHandler

	drv    *agent.Driver
	ifaces *intf.Manager
	peers  *bgp.Manager
	logger *slog.Logger

	linkDown    *prometheus.CounterVec
	established prometheus.Gauge
}

func newLinkWatcher(drv *agent.Driver, registry *metric.MetricsRegistry, monitor *health.Monitor, logger *slog.Logger) (*linkWatcher, error) {
	opts := []manager.Option{
		manager.WithLogger(logger),
		manager.WithMetrics(registry.CoreMetrics()),
		manager.WithStatusListener(monitor.RegionListener()),
	}

	w := &linkWatcher{
		drv:    drv,
		ifaces: intf.NewManager(opts...),
		peers:  bgp.NewManager(opts...),
		logger: logger.With("component", "link-watcher"),
		linkDown: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentd",
			Name:      "link_down_total",
			Help:      "Admin-enabled interfaces that went operationally down",
		}, []string{"interface"}),
		established: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "agentd",
			Name:      "bgp_established_peers",
			Help:      "BGP peers in established state",
		}),
	}

	if err := registry.RegisterCounterVec("agentd", "link_down_total", w.linkDown); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("agentd", "bgp_established_peers", w.established); err != nil {
		return nil, err
	}

	// Completion runs in reverse registration order, so the watcher goes
	// first to complete after the managers it reads.
	drv.Register(w)
	drv.Register(w.ifaces)
	drv.Register(w.peers)
	return w, nil
}

// OnMount implements mount.Participant. The managers declare the regions.
func (w *linkWatcher) OnMount(*mount.Group) {}

// OnMountsComplete subscribes to both domains once the managers have
// mounted. It runs before dispatch starts, so no lock is needed.
func (w *linkWatcher) OnMountsComplete(mount.Accessor) {
	intf.Watch(w.ifaces, w).WatchAll(true)
	bgp.Watch(w.peers, peerObserver{w}).WatchAll(true)
	w.established.Set(float64(w.peers.Established()))
	w.logger.Info("Watching links",
		"interfaces", w.ifaces.Len(),
		"interfaces_status", w.ifaces.Status().String(),
		"peers_status", w.peers.Status().String())
}

func (w *linkWatcher) OnOperStatus(id intf.ID, status intf.OperStatus) {
	s, ok := w.ifaces.Get(id)
	if !ok {
		return
	}
	w.logger.Info("Interface oper status", "interface", id, "oper", status, "admin_enabled", s.AdminEnabled)
	if status == intf.OperDown && s.AdminEnabled {
		w.linkDown.WithLabelValues(string(id)).Inc()
		w.logger.Warn("Link down on enabled interface", "interface", id)
	}
	if s.Description == "" {
		w.label(id)
	}
}

func (w *linkWatcher) OnInterfaceDeleted(id intf.ID) {
	w.linkDown.DeleteLabelValues(string(id))
	w.logger.Info("Interface removed", "interface", id)
}

// label sets a placeholder description off the dispatch goroutine.
func (w *linkWatcher) label(id intf.ID) {
	err := w.drv.Submit(func(ctx context.Context) error {
		s, ok := w.ifaces.Get(id)
		if !ok || s.Description != "" {
			return nil
		}
		return w.ifaces.SetDescription(ctx, id, fmt.Sprintf("managed by %s", appName))
	})
	if err != nil {
		w.logger.Warn("Could not queue description update", "interface", id, "error", err,
			"class", errors.Classify(err).String())
	}
}

type peerObserver struct {
	w *linkWatcher
}

func (p peerObserver) OnPeerState(key bgp.PeerKey, state bgp.PeerState) {
	p.w.established.Set(float64(p.w.peers.Established()))
	p.w.logger.Info("BGP peer state", "peer", key.String(), "state", state.State, "remote_as", state.RemoteAS)
}

func (p peerObserver) OnPeerDeleted(key bgp.PeerKey) {
	p.w.established.Set(float64(p.w.peers.Established()))
	p.w.logger.Info("BGP peer removed", "peer", key.String())
}
