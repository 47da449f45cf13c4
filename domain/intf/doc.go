// Package intf is the interface domain: the state of network interfaces kept
// in the "interfaces" region, and a field-level handler over its changes.
//
//	ifaces := intf.NewManager()
//	drv.Register(ifaces)
//
//	h := intf.Watch(ifaces, myHandler)
//	h.WatchOne("Ethernet1", true)
//
// Handlers must be created and set to watch from the dispatch goroutine or
// under the driver's scoped lock.
package intf
