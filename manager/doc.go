// Package manager provides the generic base every domain manager is built on:
// a Manager owns one region of state and the Handlers subscribed to it.
//
// A Manager is a mount.Participant. During mounting it requires its region
// with the configured access mode; once mounts complete it loads the region's
// snapshot into a local view, or becomes a stub if the store has no such
// region. From then on reads (Get, Exists, Len, Iter, Cursor) are served from
// the view and never block. Dispatch calls Apply for every store change, which
// updates the view and calls Notify.
//
// Handlers opt in to scopes: WatchAll for every key, WatchOne for a single
// key. Notify delivers each change at most once per handler, in handler
// registration order, regardless of how many of its scopes match.
//
// Using a manager before mounts complete is a protocol violation reported
// through the errors panic hook. Stub managers answer every read with an
// empty result, accept and drop every write, and never notify.
//
//	ports := manager.New[PortID, Port]("ports", manager.JSONCodec[PortID, Port]{})
//	h := manager.NewHandler(ports, manager.ObserverFunc[PortID, Port](func(c manager.Change[PortID, Port]) {
//	    log.Info("port changed", "port", c.Key, "op", c.Op)
//	}))
//	h.WatchAll(true)
//	defer h.Close()
package manager
