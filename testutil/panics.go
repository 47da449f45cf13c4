package testutil

import (
	stderrors "errors"
	"sync"
	"testing"

	"github.com/c360/agentsdk/errors"
)

// PanicCapture records every message delivered to the process-wide panic hook
// while installed. It is safe for concurrent use.
type PanicCapture struct {
	mu       sync.Mutex
	messages []string
}

// CapturePanicHook installs a recording panic hook for the duration of the
// test and restores the previous hook on cleanup.
func CapturePanicHook(t testing.TB) *PanicCapture {
	t.Helper()
	c := &PanicCapture{}
	prev := errors.SetPanicHook(c.record)
	t.Cleanup(func() { errors.SetPanicHook(prev) })
	return c
}

func (c *PanicCapture) record(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

// Messages returns a copy of the recorded messages.
func (c *PanicCapture) Messages() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.messages))
	copy(out, c.messages)
	return out
}

// Count returns the number of recorded messages.
func (c *PanicCapture) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// ExpectViolation runs fn and fails the test unless it panics with a
// *errors.ProtocolViolation. It returns the violation message.
func ExpectViolation(t testing.TB, fn func()) (msg string) {
	t.Helper()
	defer func() {
		r := recover()
		if r == nil {
			t.Fatalf("expected protocol violation, function returned normally")
			return
		}
		err, ok := r.(error)
		var pv *errors.ProtocolViolation
		if !ok || !stderrors.As(err, &pv) {
			t.Fatalf("expected protocol violation, got panic %v", r)
			return
		}
		msg = pv.Message
	}()
	fn()
	return ""
}
