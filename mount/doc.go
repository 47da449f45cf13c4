// Package mount implements the two-phase startup protocol that binds domain
// managers to their regions of the state store before any change is
// dispatched.
//
// Participants register with a Registry while it is in the Registering phase.
// The host driver then calls DoMounts with a Group: every participant declares
// the regions it needs and the access mode for each. The driver applies the
// group to a store.Store with Apply, which opens the buckets and reads their
// initial snapshots, and finally calls MountsComplete with the result so every
// participant can bind to its live state. Only after that does the dispatch
// loop start.
//
// Both phases visit participants in reverse registration order. Registering a
// participant after DoMounts has started, calling a phase twice, or calling
// MountsComplete before DoMounts are protocol violations reported through the
// errors panic hook.
//
//	reg := mount.NewRegistry()
//	reg.Register(intfMgr)
//	reg.Register(bgpMgr)
//
//	group := mount.NewGroup()
//	reg.DoMounts(group)
//	mounted, err := mount.Apply(ctx, st, group, logger)
//	if err != nil {
//	    return err
//	}
//	reg.MountsComplete(mounted)
package mount
