// Package agentsdk is a framework for network device agents that keep their
// state in an external Key/Value store.
//
// # Architecture
//
// Each domain (interfaces, BGP peers, ...) owns one region of the store and
// exposes it through a typed manager. Agents subscribe to managers with
// handlers and are called back on the dispatch goroutine when the region
// changes.
//
//	store (NATS JetStream KV)
//	   │  watch feeds
//	   ▼
//	dispatch.Loop ──► manager.Manager[K,V] ──► manager.Handler ──► agent code
//	                        ▲
//	mount.Registry ─────────┘  (two-phase mounting, before any dispatch)
//
// Startup always runs in the same order: participants register, the registry
// collects their region requirements (DoMounts), the regions are mounted
// against the store, every participant is told mounting is complete
// (MountsComplete), and only then does dispatch start. agent.Driver runs
// this sequence.
//
// # Packages
//
//   - store, store/memstore, store/natskv: the store abstraction and its
//     in-memory and JetStream KV implementations
//   - mount: participant registry, mount group and mounting
//   - manager: generic manager, handlers and codecs
//   - iterator: bookmarked cursors over a manager's keys
//   - dispatch: the change pump and its scoped lock
//   - agent: the driver hosting an agent process
//   - domain/intf, domain/bgp: example domains
//   - errors: classified errors, sentinels and the protocol violation hook
//   - config, metric, health, natsclient, pkg/retry, pkg/worker: ambient
//     infrastructure
//
// # Protocol Violations
//
// Misuse that cannot be recovered from, such as reading a manager before it
// mounted or registering a participant after mounting started, is reported
// through errors.Panicf: the process-wide hook runs, then the call panics.
package agentsdk
