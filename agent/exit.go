package agent

import (
	"context"
	stderrors "errors"

	"github.com/c360/agentsdk/errors"
)

// Process exit codes
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitPanic       = 2
	ExitBadConfig   = 3
	ExitMountFailed = 4
)

// ErrMountFailed marks errors raised while mounting regions
var ErrMountFailed = stderrors.New("mount failed")

// ExitCode maps the error Run returned, or a recovered panic value, to a
// process exit code.
func ExitCode(err error) int {
	if err == nil || stderrors.Is(err, context.Canceled) {
		return ExitOK
	}

	var pv *errors.ProtocolViolation
	switch {
	case stderrors.As(err, &pv):
		return ExitPanic
	case stderrors.Is(err, ErrMountFailed):
		return ExitMountFailed
	case stderrors.Is(err, errors.ErrInvalidConfig),
		stderrors.Is(err, errors.ErrMissingConfig),
		stderrors.Is(err, errors.ErrConfigNotFound):
		return ExitBadConfig
	default:
		return ExitFailure
	}
}
