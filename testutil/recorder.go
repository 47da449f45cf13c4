package testutil

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/c360/agentsdk/manager"
	"github.com/c360/agentsdk/mount"
)

// Recorder is a manager.Observer that keeps every change it receives. It is
// safe for concurrent use.
type Recorder[K comparable, V any] struct {
	mu      sync.Mutex
	changes []manager.Change[K, V]
}

// NewRecorder creates an empty recorder.
func NewRecorder[K comparable, V any]() *Recorder[K, V] {
	return &Recorder[K, V]{}
}

// OnChange implements manager.Observer.
func (r *Recorder[K, V]) OnChange(c manager.Change[K, V]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

// Changes returns a copy of the recorded changes.
func (r *Recorder[K, V]) Changes() []manager.Change[K, V] {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]manager.Change[K, V], len(r.changes))
	copy(out, r.changes)
	return out
}

// Keys returns the keys of the recorded changes in delivery order.
func (r *Recorder[K, V]) Keys() []K {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]K, 0, len(r.changes))
	for _, c := range r.changes {
		out = append(out, c.Key)
	}
	return out
}

// Len returns the number of recorded changes.
func (r *Recorder[K, V]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changes)
}

// WaitFor polls until at least n changes were recorded or the timeout
// expires, and fails the test on timeout.
func (r *Recorder[K, V]) WaitFor(t testing.TB, n int, timeout time.Duration) []manager.Change[K, V] {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if r.Len() >= n {
			return r.Changes()
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %d changes, got %d", n, r.Len())
	return nil
}

// CallLog is a shared, ordered log of participant calls.
type CallLog struct {
	mu    sync.Mutex
	calls []string
}

// Add appends an entry.
func (l *CallLog) Add(entry string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, entry)
}

// Calls returns a copy of the log.
func (l *CallLog) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

// Participant is a mount.Participant that logs its phase calls as
// "mount:<name>" and "complete:<name>". Optional hooks run after logging.
type Participant struct {
	Name     string
	Log      *CallLog
	Requires []mount.Requirement

	OnMountFunc    func(g *mount.Group)
	OnCompleteFunc func(acc mount.Accessor)
}

// NewParticipant creates a logging participant.
func NewParticipant(name string, log *CallLog, requires ...mount.Requirement) *Participant {
	return &Participant{Name: name, Log: log, Requires: requires}
}

// OnMount implements mount.Participant.
func (p *Participant) OnMount(g *mount.Group) {
	p.Log.Add(fmt.Sprintf("mount:%s", p.Name))
	for _, r := range p.Requires {
		g.Require(r.Region, r.Mode)
	}
	if p.OnMountFunc != nil {
		p.OnMountFunc(g)
	}
}

// OnMountsComplete implements mount.Participant.
func (p *Participant) OnMountsComplete(acc mount.Accessor) {
	p.Log.Add(fmt.Sprintf("complete:%s", p.Name))
	if p.OnCompleteFunc != nil {
		p.OnCompleteFunc(acc)
	}
}
