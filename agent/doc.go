// Package agent hosts an agent process on top of the SDK.
//
// A Driver owns the three pieces every agent needs and runs them in the one
// order that is safe:
//
//  1. Domain modules Register their managers and other mount participants.
//  2. Run connects to the store (retried), calls DoMounts, applies the mount
//     group against the store and calls MountsComplete.
//  3. Only then does the dispatch loop start delivering changes.
//
// Regions the store does not provide mount as stubs; any other store fault
// during mounting makes Run return an error wrapping ErrMountFailed.
//
//	drv, err := agent.New(st, agent.WithLogger(logger), agent.WithMetrics(reg))
//	if err != nil {
//	    return err
//	}
//	interfaces := intf.NewManager()
//	drv.Register(interfaces)
//
//	go func() { <-ctx.Done(); _ = drv.Shutdown(context.Background()) }()
//	os.Exit(agent.ExitCode(drv.Run(ctx)))
//
// # Mutations
//
// Handlers run on the dispatch loop and may mutate state directly. Any other
// goroutine must hold the scoped lock while it mutates: Submit queues a Job on
// the mutation pool, which runs it with the lock held; Mutate runs a function
// under the lock on the calling goroutine.
//
// # Exit Codes
//
// ExitCode maps Run's result to ExitOK, ExitFailure, ExitBadConfig or
// ExitMountFailed. Protocol violations panic; a host that recovers one exits
// with ExitPanic, which is also the status Go uses for an unrecovered panic.
package agent
