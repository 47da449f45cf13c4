// Package bgp is the BGP peer domain. Peers are keyed by VRF and neighbor
// address, so the package supplies its own codec rather than a string key.
//
// Platforms without a routing daemon have no peer region; the manager then
// mounts as a stub: reads are empty, writes are dropped and handlers never
// fire.
package bgp
