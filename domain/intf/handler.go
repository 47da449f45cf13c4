package intf

import (
	"github.com/c360/agentsdk/manager"
	"github.com/c360/agentsdk/store"
)

// Handler receives interface changes field by field.
type Handler interface {
	OnOperStatus(id ID, status OperStatus)
	OnAdminEnabled(id ID, enabled bool)
	OnDescription(id ID, description string)
	OnInterfaceDeleted(id ID)
}

// BaseHandler implements Handler with no-ops. Embed it to handle a subset.
type BaseHandler struct{}

func (BaseHandler) OnOperStatus(ID, OperStatus) {}
func (BaseHandler) OnAdminEnabled(ID, bool)     {}
func (BaseHandler) OnDescription(ID, string)    {}
func (BaseHandler) OnInterfaceDeleted(ID)       {}

// observer turns generic changes into Handler calls. A newly seen interface
// reports every field; an update reports only fields that differ.
type observer struct {
	h Handler
}

func (o observer) OnChange(c manager.Change[ID, Status]) {
	if c.Op == store.OpDelete {
		o.h.OnInterfaceDeleted(c.Key)
		return
	}

	prev, had := c.Previous, c.HadPrevious
	if !had || prev.OperStatus != c.Value.OperStatus {
		o.h.OnOperStatus(c.Key, c.Value.OperStatus)
	}
	if !had || prev.AdminEnabled != c.Value.AdminEnabled {
		o.h.OnAdminEnabled(c.Key, c.Value.AdminEnabled)
	}
	if !had || prev.Description != c.Value.Description {
		o.h.OnDescription(c.Key, c.Value.Description)
	}
}

// Watch subscribes h to m. The returned handler watches nothing until
// WatchAll or WatchOne is called on it.
func Watch(m *Manager, h Handler) *manager.Handler[ID, Status] {
	return manager.NewHandler(m.Manager, manager.Observer[ID, Status](observer{h: h}))
}
