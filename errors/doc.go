// Package errors provides standardized error handling for the agent SDK.
//
// # Error Classification
//
// Recoverable errors fall into three classes:
//
//   - Transient: store timeouts, lost connections, unavailable buckets (retry recommended)
//   - Invalid: malformed values, writes to read-only regions, bad input (do not retry)
//   - Fatal: invalid configuration and other unrecoverable states (stop the agent)
//
// Wrap third-party errors with the component and method that observed them:
//
//	if err := bucket.Put(ctx, key, value); err != nil {
//	    return errors.WrapTransient(err, "Manager", "Set", "bucket put")
//	}
//
// The resulting message follows "component.method: action failed: cause" and
// the chain stays inspectable with errors.Is and errors.As.
//
// # Protocol Violations
//
// Broken caller contracts are not errors. Registering a mount participant
// after mounting began, reading a manager before it was mounted, building a
// handler without a manager: all of these go through Panicf, which hands the
// formatted message to the process-wide panic hook and then panics with a
// *ProtocolViolation. Hosts install their own hook with SetPanicHook, for
// example to flush logs before the process dies. Tests install a recording
// hook and recover the panic.
//
// Absence is not an error either: lookups of missing keys return an explicit
// (zero, false) pair.
package errors
