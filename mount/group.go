package mount

import (
	"sync"

	"github.com/c360/agentsdk/errors"
	"github.com/c360/agentsdk/store"
)

// Requirement is one region a participant asked for.
type Requirement struct {
	Region string
	Mode   store.AccessMode
}

// Group collects the regions participants require during the mount phase.
// It is sealed once DoMounts returns.
type Group struct {
	mu     sync.Mutex
	order  []string
	modes  map[string]store.AccessMode
	sealed bool
}

// NewGroup creates an empty mount group.
func NewGroup() *Group {
	return &Group{modes: make(map[string]store.AccessMode)}
}

// Require declares that region must be mounted with at least mode. Requiring
// a region again keeps the widest mode asked for.
func (g *Group) Require(region string, mode store.AccessMode) {
	if region == "" {
		errors.Panicf("mount: Require with empty region")
	}
	if !mode.Valid() {
		errors.Panicf("mount: Require %q with invalid access mode %d", region, int(mode))
	}

	g.mu.Lock()
	if g.sealed {
		g.mu.Unlock()
		errors.Panicf("mount: Require %q after the mount phase", region)
	}
	prev, ok := g.modes[region]
	if !ok {
		g.order = append(g.order, region)
	}
	g.modes[region] = store.Widest(prev, mode)
	g.mu.Unlock()
}

// Mode returns the mode region was required with, if any.
func (g *Group) Mode(region string) (store.AccessMode, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	m, ok := g.modes[region]
	return m, ok
}

// Len returns the number of distinct regions required.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.order)
}

// Requirements returns the required regions in first-required order.
func (g *Group) Requirements() []Requirement {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Requirement, 0, len(g.order))
	for _, r := range g.order {
		out = append(out, Requirement{Region: r, Mode: g.modes[r]})
	}
	return out
}

func (g *Group) seal() {
	g.mu.Lock()
	g.sealed = true
	g.mu.Unlock()
}
