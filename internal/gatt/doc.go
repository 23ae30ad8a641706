// Package gatt implements the central-role GATT peer cache: a bounded registry of
// connected peers, the record pools backing their attribute hierarchies, and the
// discovery driver that walks a peer's attribute database
// (services -> characteristics -> descriptors) through asynchronous transport
// procedures.
//
// The package is deliberately single-threaded. A Registry and everything reachable
// from it must only be touched from one goroutine (see internal/evloop); transports
// deliver their completion callbacks on that same goroutine. pkg/host wraps the
// registry with an event loop for callers that live on other goroutines.
//
// A discovery walk is started with Registry.DiscoverAll and always ends with exactly
// one invocation of the supplied DiscoveryFunc. Whatever was discovered before an
// error stays attached to the peer and can be queried with the lookup methods on
// Peer (FindService, FindCharacteristic, FindDescriptor).
package gatt
