package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/c360/agentsdk/agent"
)

// StartDriver runs d in the background. The returned function shuts it down
// and returns Run's result; it is also registered as test cleanup, and only
// the first call does any work.
func StartDriver(t testing.TB, d *agent.Driver) (stop func() error) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()

	var once sync.Once
	var result error
	stop = func() error {
		once.Do(func() {
			if err := d.Shutdown(context.Background()); err != nil {
				t.Errorf("shutdown: %v", err)
			}
			select {
			case result = <-done:
			case <-time.After(2 * time.Second):
				t.Errorf("driver did not stop")
			}
		})
		return result
	}
	t.Cleanup(func() { _ = stop() })
	return stop
}
