package gatt

import (
	"fmt"
	"sort"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
)

// DiscState is the discovery state of a Peer.
type DiscState int

const (
	StateIdle DiscState = iota
	StateDiscoveringServices
	StateDiscoveringCharacteristics
	StateDiscoveringDescriptors
	StateDone
	StateError
)

func (s DiscState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDiscoveringServices:
		return "discovering_services"
	case StateDiscoveringCharacteristics:
		return "discovering_characteristics"
	case StateDiscoveringDescriptors:
		return "discovering_descriptors"
	case StateDone:
		return "done"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("state_%d", int(s))
	}
}

// InFlight reports whether a walk is running in state s.
func (s DiscState) InFlight() bool {
	return s == StateDiscoveringServices ||
		s == StateDiscoveringCharacteristics ||
		s == StateDiscoveringDescriptors
}

// DiscoveryFunc is invoked exactly once per accepted DiscoverAll call. err is nil
// on success. When err is ErrPeerDeleted the peer is a detached copy: its pool
// slots are already free, so the callback may Add the same or another handle,
// and the copy is no longer registered.
type DiscoveryFunc func(peer *Peer, err error)

// Peer is the discovery context of one connection.
type Peer struct {
	slot Slot

	connHandle uint16
	svcs       []*Service

	state DiscState
	err   error
	walk  uint64

	// Resume cursor: the service whose characteristics, or the characteristic
	// whose descriptors, are being discovered.
	curSvc *Service
	curChr *Characteristic

	discFn DiscoveryFunc
}

// ConnHandle returns the connection handle the peer is keyed by.
func (p *Peer) ConnHandle() uint16 {
	return p.connHandle
}

// Services returns the discovered services in ascending handle order.
// The slice must not be modified.
func (p *Peer) Services() []*Service {
	return p.svcs
}

// State returns the discovery state.
func (p *Peer) State() DiscState {
	return p.state
}

// Err returns the error that ended the last walk, if it failed.
func (p *Peer) Err() error {
	return p.err
}

// Discovering reports whether a walk is in flight.
func (p *Peer) Discovering() bool {
	return p.state.InFlight()
}

// Capacity sizes the record pools of a Registry.
type Capacity struct {
	MaxPeers           int
	MaxServices        int
	MaxCharacteristics int
	MaxDescriptors     int
}

// Validate rejects non-positive capacities.
func (c Capacity) Validate() error {
	switch {
	case c.MaxPeers <= 0:
		return fmt.Errorf("invalid capacity: max peers must be positive, got %d", c.MaxPeers)
	case c.MaxServices <= 0:
		return fmt.Errorf("invalid capacity: max services must be positive, got %d", c.MaxServices)
	case c.MaxCharacteristics <= 0:
		return fmt.Errorf("invalid capacity: max characteristics must be positive, got %d", c.MaxCharacteristics)
	case c.MaxDescriptors <= 0:
		return fmt.Errorf("invalid capacity: max descriptors must be positive, got %d", c.MaxDescriptors)
	}
	return nil
}

// StateObserver is notified of every discovery state transition.
type StateObserver func(conn uint16, state DiscState, err error)

// PoolStats is a point-in-time view of one pool.
type PoolStats struct {
	Kind      RecordKind
	Capacity  int
	InUse     int
	Available int
}

// Stats reports pool usage across the registry.
type Stats struct {
	Peers           PoolStats
	Services        PoolStats
	Characteristics PoolStats
	Descriptors     PoolStats
}

// Registry owns every Peer and the pools backing their attribute hierarchies.
// It is not safe for concurrent use; see the package documentation.
type Registry struct {
	transport Transport
	logger    *logrus.Logger
	observer  StateObserver

	peers    *hashmap.Map[uint16, *Peer]
	peerPool *Pool[Peer]
	svcPool  *Pool[Service]
	chrPool  *Pool[Characteristic]
	dscPool  *Pool[Descriptor]

	walks uint64
}

// NewRegistry sizes the pools once; they never grow.
func NewRegistry(capacity Capacity, transport Transport, logger *logrus.Logger) (*Registry, error) {
	if err := capacity.Validate(); err != nil {
		return nil, err
	}
	if transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if logger == nil {
		logger = logrus.New()
	}

	logger.WithFields(logrus.Fields{
		"max_peers":           capacity.MaxPeers,
		"max_services":        capacity.MaxServices,
		"max_characteristics": capacity.MaxCharacteristics,
		"max_descriptors":     capacity.MaxDescriptors,
	}).Debug("Peer registry initialized")

	return &Registry{
		transport: transport,
		logger:    logger,
		peers:     hashmap.New[uint16, *Peer](),
		peerPool:  NewPool[Peer](KindPeer, capacity.MaxPeers),
		svcPool:   NewPool[Service](KindService, capacity.MaxServices),
		chrPool:   NewPool[Characteristic](KindCharacteristic, capacity.MaxCharacteristics),
		dscPool:   NewPool[Descriptor](KindDescriptor, capacity.MaxDescriptors),
	}, nil
}

// SetObserver installs fn as the state transition observer (nil removes it).
func (r *Registry) SetObserver(fn StateObserver) {
	r.observer = fn
}

// Add registers an empty peer for conn.
func (r *Registry) Add(conn uint16) error {
	if _, ok := r.peers.Get(conn); ok {
		return fmt.Errorf("%w: conn_handle=%d", ErrDuplicateConnection, conn)
	}

	peer, slot, err := r.peerPool.Acquire()
	if err != nil {
		r.logger.WithFields(logrus.Fields{
			"conn_handle": conn,
			"max_peers":   r.peerPool.Cap(),
		}).Warn("Peer registry full")
		return fmt.Errorf("%w: conn_handle=%d: %w", ErrRegistryFull, conn, err)
	}

	peer.slot = slot
	peer.connHandle = conn
	r.peers.Set(conn, peer)

	r.logger.WithField("conn_handle", conn).Debug("Peer added")
	return nil
}

// Delete releases the peer and every record it owns. A walk still in flight is
// completed with ErrPeerDeleted after the records are released, on a detached
// copy of the peer; events that arrive for it afterwards are ignored.
func (r *Registry) Delete(conn uint16) error {
	peer, ok := r.peers.Get(conn)
	if !ok {
		return fmt.Errorf("%w: conn_handle=%d", ErrUnknownConnection, conn)
	}

	r.peers.Del(conn)

	var gone *Peer
	if peer.Discovering() {
		gone = detach(peer)
	}

	svcs := len(peer.svcs)
	r.releaseServices(peer)
	r.peerPool.Release(peer.slot)

	r.logger.WithFields(logrus.Fields{
		"conn_handle": conn,
		"services":    svcs,
	}).Debug("Peer deleted")

	if gone != nil {
		r.complete(gone, fmt.Errorf("%w: conn_handle=%d", ErrPeerDeleted, conn))
	}
	return nil
}

// detach copies peer and its hierarchy out of the pools. The copy owns no slots.
func detach(peer *Peer) *Peer {
	gone := &Peer{
		connHandle: peer.connHandle,
		state:      peer.state,
		err:        peer.err,
		walk:       peer.walk,
		discFn:     peer.discFn,
		svcs:       make([]*Service, 0, len(peer.svcs)),
	}
	for _, svc := range peer.svcs {
		s := &Service{UUID: svc.UUID, StartHandle: svc.StartHandle, EndHandle: svc.EndHandle}
		for _, chr := range svc.chrs {
			c := &Characteristic{
				svc:        s,
				UUID:       chr.UUID,
				DefHandle:  chr.DefHandle,
				ValHandle:  chr.ValHandle,
				Properties: chr.Properties,
			}
			for _, dsc := range chr.dscs {
				c.dscs = append(c.dscs, &Descriptor{UUID: dsc.UUID, Handle: dsc.Handle})
			}
			s.chrs = append(s.chrs, c)
		}
		gone.svcs = append(gone.svcs, s)
	}
	return gone
}

// Find returns the peer registered for conn, or nil.
func (r *Registry) Find(conn uint16) *Peer {
	peer, ok := r.peers.Get(conn)
	if !ok {
		return nil
	}
	return peer
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	return r.peers.Len()
}

// Peers returns the registered peers ordered by connection handle.
func (r *Registry) Peers() []*Peer {
	result := make([]*Peer, 0, r.peers.Len())
	r.peers.Range(func(_ uint16, p *Peer) bool {
		result = append(result, p)
		return true
	})
	sort.Slice(result, func(i, j int) bool {
		return result[i].connHandle < result[j].connHandle
	})
	return result
}

// Stats reports pool usage.
func (r *Registry) Stats() Stats {
	return Stats{
		Peers:           poolStats(r.peerPool),
		Services:        poolStats(r.svcPool),
		Characteristics: poolStats(r.chrPool),
		Descriptors:     poolStats(r.dscPool),
	}
}

func poolStats[T any](p *Pool[T]) PoolStats {
	return PoolStats{
		Kind:      p.Kind(),
		Capacity:  p.Cap(),
		InUse:     p.InUse(),
		Available: p.Available(),
	}
}

// releaseServices returns the whole hierarchy of peer to the pools.
func (r *Registry) releaseServices(peer *Peer) {
	for _, svc := range peer.svcs {
		for _, chr := range svc.chrs {
			for _, dsc := range chr.dscs {
				r.dscPool.Release(dsc.slot)
			}
			r.chrPool.Release(chr.slot)
		}
		r.svcPool.Release(svc.slot)
	}
	peer.svcs = nil
	peer.curSvc = nil
	peer.curChr = nil
}
