package mount

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/c360/agentsdk/errors"
	"github.com/c360/agentsdk/metric"
)

// Phase is the state of a Registry. Phases only move forward.
type Phase int

const (
	// Registering accepts new participants.
	Registering Phase = iota
	// Mounting has invoked, or is invoking, every OnMount hook.
	Mounting
	// Complete has invoked every OnMountsComplete hook. Dispatch may begin.
	Complete
)

// String returns the string representation of the phase
func (p Phase) String() string {
	switch p {
	case Registering:
		return "registering"
	case Mounting:
		return "mounting"
	case Complete:
		return "complete"
	default:
		return "unknown"
	}
}

// Participant takes part in the two-phase mount protocol. Participants must
// be comparable (normally pointers); identity is the interface value.
type Participant interface {
	// OnMount declares the regions the participant needs.
	OnMount(g *Group)
	// OnMountsComplete binds the participant to its mounted regions. Every
	// participant has finished OnMount before the first call.
	OnMountsComplete(acc Accessor)
}

// Registry drives the two-phase mount protocol for a set of participants.
type Registry struct {
	mu           sync.Mutex
	participants []Participant
	phase        Phase

	logger  *slog.Logger
	metrics *metric.Metrics
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the registry logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics records phase transitions in the core metrics
func WithMetrics(m *metric.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry creates an empty registry in the Registering phase.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "mount-registry")
	r.metrics.RecordMountPhase(int(Registering))
	return r
}

// Phase returns the current phase.
func (r *Registry) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Len returns the number of registered participants.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.participants)
}

// Register adds p. Registering a participant twice is a no-op. Registering
// once mounting has begun is a protocol violation: the participant would
// silently miss its mount call.
func (r *Registry) Register(p Participant) {
	if p == nil {
		errors.Panicf("mount: nil participant")
	}

	r.mu.Lock()
	phase := r.phase
	if phase != Registering {
		r.mu.Unlock()
		errors.Panicf("mount: participant %T registered during %s phase", p, phase)
	}
	if !slices.Contains(r.participants, p) {
		r.participants = append(r.participants, p)
	}
	r.mu.Unlock()
}

// DoMounts moves the registry to Mounting and calls OnMount on every
// participant, most recently registered first. A participant that depends on
// another's mount having been declared must register after it.
func (r *Registry) DoMounts(g *Group) {
	if g == nil {
		errors.Panicf("mount: DoMounts with nil group")
	}
	participants := r.advance(Registering, Mounting)

	r.logger.Debug("Starting mount phase", "participants", len(participants))
	for _, p := range participants {
		p.OnMount(g)
	}
	g.seal()
	r.logger.Info("Mount phase finished", "participants", len(participants), "regions", g.Len())
}

// MountsComplete moves the registry to Complete and calls OnMountsComplete
// on every participant in the same order as DoMounts.
func (r *Registry) MountsComplete(acc Accessor) {
	if acc == nil {
		errors.Panicf("mount: MountsComplete with nil accessor")
	}
	participants := r.advance(Mounting, Complete)

	r.logger.Debug("Starting mounts-complete phase", "participants", len(participants))
	for _, p := range participants {
		p.OnMountsComplete(acc)
	}
	r.logger.Info("Mounts complete", "participants", len(participants))
}

// advance performs the from→to transition and returns the participants in
// invocation order.
func (r *Registry) advance(from, to Phase) []Participant {
	r.mu.Lock()
	if r.phase != from {
		phase := r.phase
		r.mu.Unlock()
		errors.Panicf("mount: cannot enter %s phase from %s", to, phase)
	}
	r.phase = to
	ordered := slices.Clone(r.participants)
	r.mu.Unlock()

	r.metrics.RecordMountPhase(int(to))
	slices.Reverse(ordered)
	return ordered
}
