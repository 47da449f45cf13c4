package errors

import (
	"fmt"
	"log/slog"
	"sync"
)

// ProtocolViolation is raised when a caller breaks a sequencing contract:
// registering a mount participant after mounting began, using a manager
// before it was mounted, constructing a handler without a manager, or
// dereferencing an exhausted cursor. It is never returned as an error value;
// it is the payload of the panic that follows the panic hook.
type ProtocolViolation struct {
	Message string
}

func (pv *ProtocolViolation) Error() string {
	return "protocol violation: " + pv.Message
}

// PanicHook receives the formatted message of a protocol violation.
type PanicHook func(msg string)

var (
	hookMu sync.RWMutex
	hook   PanicHook = defaultPanicHook
)

func defaultPanicHook(msg string) {
	slog.Error("protocol violation", "message", msg)
}

// SetPanicHook installs the process-wide panic hook and returns the previous
// one. A nil hook restores the default, which logs the message.
//
// The hook cannot resume execution: after it returns, Panicf panics with a
// *ProtocolViolation, which terminates the process unless recovered.
func SetPanicHook(h PanicHook) PanicHook {
	hookMu.Lock()
	defer hookMu.Unlock()
	prev := hook
	if h == nil {
		h = defaultPanicHook
	}
	hook = h
	return prev
}

// Panicf reports a protocol violation through the panic hook and panics.
func Panicf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	hookMu.RLock()
	h := hook
	hookMu.RUnlock()

	h(msg)
	panic(&ProtocolViolation{Message: msg})
}
