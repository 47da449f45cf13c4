package bgp

import (
	"cmp"
	"fmt"
	"iter"
	"net/netip"
	"strings"

	"github.com/c360/agentsdk/errors"
	"github.com/c360/agentsdk/iterator"
	"github.com/c360/agentsdk/manager"
)

// RegionName is the store region holding BGP peer state.
const RegionName = "bgp.peers"

// DefaultVRF is the VRF of peers configured outside any VRF.
const DefaultVRF = "default"

// PeerKey identifies a peer by VRF and neighbor address.
type PeerKey struct {
	VRF     string
	Address netip.Addr
}

// NewPeerKey builds a key, failing on an unparsable address.
func NewPeerKey(vrf, addr string) (PeerKey, error) {
	a, err := netip.ParseAddr(addr)
	if err != nil {
		return PeerKey{}, errors.WrapInvalid(errors.ErrInvalidData, "bgp", "NewPeerKey", fmt.Sprintf("address %q", addr))
	}
	if vrf == "" {
		vrf = DefaultVRF
	}
	return PeerKey{VRF: vrf, Address: a}, nil
}

// MustPeerKey is NewPeerKey for literals; it panics on a bad address.
func MustPeerKey(vrf, addr string) PeerKey {
	k, err := NewPeerKey(vrf, addr)
	if err != nil {
		panic(err)
	}
	return k
}

func (k PeerKey) String() string {
	return k.VRF + "/" + k.Address.String()
}

// SessionState is the BGP finite state machine state.
type SessionState string

// Session states
const (
	StateIdle        SessionState = "idle"
	StateConnect     SessionState = "connect"
	StateActive      SessionState = "active"
	StateOpenSent    SessionState = "opensent"
	StateOpenConfirm SessionState = "openconfirm"
	StateEstablished SessionState = "established"
)

// PeerState is the stored state of one peer.
type PeerState struct {
	State            SessionState `json:"state"`
	RemoteAS         uint32       `json:"remote_as"`
	PrefixesReceived int          `json:"prefixes_received,omitempty"`
	LastError        string       `json:"last_error,omitempty"`
}

// Codec stores peers under "<vrf>/<address>", with the colons of IPv6
// addresses written as underscores so keys stay within the store's key
// alphabet. Keys order by VRF, then address.
type Codec struct {
	manager.JSONValues[PeerState]
}

// Compare implements manager.Codec.
func (Codec) Compare(a, b PeerKey) int {
	if c := cmp.Compare(a.VRF, b.VRF); c != 0 {
		return c
	}
	return a.Address.Compare(b.Address)
}

// EncodeKey implements manager.Codec.
func (Codec) EncodeKey(k PeerKey) string {
	return k.VRF + "/" + strings.ReplaceAll(k.Address.String(), ":", "_")
}

// DecodeKey implements manager.Codec.
func (Codec) DecodeKey(s string) (PeerKey, error) {
	vrf, addr, ok := strings.Cut(s, "/")
	if !ok || vrf == "" {
		return PeerKey{}, fmt.Errorf("%w: peer key %q", errors.ErrInvalidData, s)
	}
	a, err := netip.ParseAddr(strings.ReplaceAll(addr, "_", ":"))
	if err != nil {
		return PeerKey{}, fmt.Errorf("%w: peer key %q: %v", errors.ErrInvalidData, s, err)
	}
	return PeerKey{VRF: vrf, Address: a}, nil
}

// Manager serves the BGP peer region. Peer state is written by the routing
// daemon, so the manager mounts read-notify by default.
type Manager struct {
	*manager.Manager[PeerKey, PeerState]
}

// NewManager creates a peer manager. If the store has no BGP region, as on
// a platform without a routing daemon, it mounts as a stub.
func NewManager(opts ...manager.Option) *Manager {
	return &Manager{Manager: manager.New[PeerKey, PeerState](RegionName, Codec{}, opts...)}
}

// NewStub creates a peer manager that never mounts its region.
func NewStub(opts ...manager.Option) *Manager {
	return &Manager{Manager: manager.NewStub[PeerKey, PeerState](RegionName, Codec{}, opts...)}
}

// PeersInVRF iterates the peers of one VRF in address order.
func (m *Manager) PeersInVRF(vrf string) iter.Seq2[PeerKey, PeerState] {
	return func(yield func(PeerKey, PeerState) bool) {
		// the zero address sorts before every valid one
		for k, s := range m.Iter(iterator.After(PeerKey{VRF: vrf})) {
			if k.VRF != vrf {
				return
			}
			if !yield(k, s) {
				return
			}
		}
	}
}

// Established counts the peers whose session is up.
func (m *Manager) Established() int {
	n := 0
	for _, s := range m.Iter(iterator.Start[PeerKey]()) {
		if s.State == StateEstablished {
			n++
		}
	}
	return n
}
