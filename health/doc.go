// Package health tracks the health of an agent: one status per mounted
// region plus the store connection, aggregated into a single verdict.
//
// # Health States
//
//   - healthy: mounted and receiving changes
//   - degraded: serving, but a region is a stub or its view is stale
//   - unhealthy: a region is not mounted or the store connection is down
//
// # Wiring
//
// The Monitor exposes listeners that plug straight into the SDK:
//
//	monitor := health.NewMonitor()
//
//	mgr := manager.New[intf.ID, intf.Status]("intf", intf.Codec{},
//	    manager.WithStatusListener(monitor.RegionListener()))
//
//	client, _ := natsclient.NewClient(url,
//	    natsclient.WithHealthChangeCallback(monitor.ConnectionListener("nats")))
//
//	srv.Handle("/healthz", monitor.Handler("agentd"))
//
// The handler answers 200 while the aggregate is healthy or degraded and 503
// once anything is unhealthy. Error messages are sanitized before they are
// published.
package health
