package intf

import (
	"context"
	"fmt"
	"iter"

	"github.com/c360/agentsdk/errors"
	"github.com/c360/agentsdk/iterator"
	"github.com/c360/agentsdk/manager"
	"github.com/c360/agentsdk/store"
)

// RegionName is the store region holding interface state.
const RegionName = "interfaces"

// ID names an interface, e.g. "Ethernet1".
type ID string

// OperStatus is the operational state reported by the platform.
type OperStatus string

// Operational states
const (
	OperUnknown OperStatus = "unknown"
	OperUp      OperStatus = "up"
	OperDown    OperStatus = "down"
	OperTesting OperStatus = "testing"
)

// Valid reports whether s is one of the known states.
func (s OperStatus) Valid() bool {
	switch s {
	case OperUnknown, OperUp, OperDown, OperTesting:
		return true
	}
	return false
}

// Status is the stored state of one interface.
type Status struct {
	AdminEnabled bool       `json:"admin_enabled"`
	OperStatus   OperStatus `json:"oper_status"`
	Description  string     `json:"description,omitempty"`
	MTU          int        `json:"mtu,omitempty"`
}

// Codec stores interfaces under their name as JSON.
type Codec = manager.JSONCodec[ID, Status]

// Manager serves the interfaces region. It embeds the generic manager, so it
// mounts, routes and closes like any other.
type Manager struct {
	*manager.Manager[ID, Status]
}

// NewManager creates an interface manager mounted read-write. Options are
// applied after the default mode, so WithMode can narrow it.
func NewManager(opts ...manager.Option) *Manager {
	opts = append([]manager.Option{manager.WithMode(store.ReadWrite)}, opts...)
	return &Manager{Manager: manager.New[ID, Status](RegionName, Codec{}, opts...)}
}

// SetAdminEnabled enables or disables a known interface.
func (m *Manager) SetAdminEnabled(ctx context.Context, id ID, enabled bool) error {
	return m.modify(ctx, "SetAdminEnabled", id, func(s *Status) { s.AdminEnabled = enabled })
}

// SetDescription sets the description of a known interface.
func (m *Manager) SetDescription(ctx context.Context, id ID, description string) error {
	return m.modify(ctx, "SetDescription", id, func(s *Status) { s.Description = description })
}

// SetMTU sets the MTU of a known interface.
func (m *Manager) SetMTU(ctx context.Context, id ID, mtu int) error {
	if mtu < 0 {
		return errors.WrapInvalid(errors.ErrInvalidData, "intf", "SetMTU", fmt.Sprintf("mtu %d", mtu))
	}
	return m.modify(ctx, "SetMTU", id, func(s *Status) { s.MTU = mtu })
}

// ReportOperStatus records the operational state of an interface, creating
// it if the platform reports it for the first time.
func (m *Manager) ReportOperStatus(ctx context.Context, id ID, oper OperStatus) error {
	if !oper.Valid() {
		return errors.WrapInvalid(errors.ErrInvalidData, "intf", "ReportOperStatus",
			fmt.Sprintf("oper status %q", oper))
	}
	return m.Update(ctx, id, func(cur Status, _ bool) (Status, error) {
		cur.OperStatus = oper
		return cur, nil
	})
}

func (m *Manager) modify(ctx context.Context, op string, id ID, fn func(*Status)) error {
	return m.Update(ctx, id, func(cur Status, ok bool) (Status, error) {
		if !ok {
			return cur, errors.WrapInvalid(errors.ErrKeyNotFound, "intf", op, fmt.Sprintf("interface %s", id))
		}
		fn(&cur)
		return cur, nil
	})
}

// OperUp iterates the interfaces that are operationally up, in name order,
// starting after the bookmark.
func (m *Manager) OperUp(b iterator.Bookmark[ID]) iter.Seq2[ID, Status] {
	return func(yield func(ID, Status) bool) {
		for id, s := range m.Iter(b) {
			if s.OperStatus != OperUp {
				continue
			}
			if !yield(id, s) {
				return
			}
		}
	}
}
