// Package testutil holds helpers shared by the SDK's tests.
//
// Recorder is a manager.Observer that keeps every change it is delivered;
// CallLog and Participant record mount phase calls in order. Seed and
// FaultyStore prepare stores, StartDriver runs an agent.Driver for the
// length of a test, and CapturePanicHook with ExpectViolation turn protocol
// violations into assertions:
//
//	msg := testutil.ExpectViolation(t, func() { mgr.Get("eth0") })
//	assert.Contains(t, msg, "before mounting completed")
package testutil
