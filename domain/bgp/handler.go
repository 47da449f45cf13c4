package bgp

import (
	"github.com/c360/agentsdk/manager"
	"github.com/c360/agentsdk/store"
)

// Handler receives peer session transitions.
type Handler interface {
	// OnPeerState is called when a peer appears or its session state
	// changes. Counter-only updates are not reported.
	OnPeerState(key PeerKey, state PeerState)
	OnPeerDeleted(key PeerKey)
}

type observer struct {
	h Handler
}

func (o observer) OnChange(c manager.Change[PeerKey, PeerState]) {
	switch {
	case c.Op == store.OpDelete:
		o.h.OnPeerDeleted(c.Key)
	case !c.HadPrevious || c.Previous.State != c.Value.State:
		o.h.OnPeerState(c.Key, c.Value)
	}
}

// Watch subscribes h to m. The returned handler watches nothing until
// WatchAll or WatchOne is called on it.
func Watch(m *Manager, h Handler) *manager.Handler[PeerKey, PeerState] {
	return manager.NewHandler(m.Manager, manager.Observer[PeerKey, PeerState](observer{h: h}))
}
