// Package host serializes registry access through a single event loop so the
// peer cache can be driven from any goroutine.
package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blepeer/internal/events"
	"github.com/srg/blepeer/internal/evloop"
	"github.com/srg/blepeer/internal/gatt"
)

// ErrClosed is returned by every method of a closed Host.
var ErrClosed = errors.New("host is closed")

// Poster schedules fn on the host event loop. Transports deliver procedure
// results through it.
type Poster interface {
	Post(fn func()) error
}

// TransportFactory builds the transport once the event loop exists.
type TransportFactory func(poster Poster) gatt.Transport

// Options configures a Host.
type Options struct {
	Capacity gatt.Capacity
	// EventQueueDepth is the size of the Events() ring; older events are
	// overwritten when nobody reads them.
	EventQueueDepth int
	// BacklogWarn logs when this many actions are queued on the loop.
	BacklogWarn int
}

// DefaultOptions returns sensible defaults for host
func DefaultOptions() *Options {
	return &Options{
		Capacity: gatt.Capacity{
			MaxPeers:           8,
			MaxServices:        64,
			MaxCharacteristics: 256,
			MaxDescriptors:     256,
		},
		EventQueueDepth: 64,
		BacklogWarn:     1024,
	}
}

// Host owns the event loop, the registry and the transport.
type Host struct {
	loop      *evloop.Loop
	registry  *gatt.Registry
	transport gatt.Transport
	events    *events.RingChannel[events.Event]
	logger    *logrus.Logger

	closeMtx sync.Mutex
	closed   bool
}

// New starts a host. The loop stops when ctx is cancelled; Close must still be
// called to release the event channel.
func New(ctx context.Context, opts *Options, factory TransportFactory, logger *logrus.Logger) (*Host, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}
	if factory == nil {
		return nil, fmt.Errorf("transport factory cannot be nil")
	}
	if opts.EventQueueDepth <= 0 {
		return nil, fmt.Errorf("event queue depth must be positive, got %d", opts.EventQueueDepth)
	}
	if err := opts.Capacity.Validate(); err != nil {
		return nil, err
	}

	h := &Host{
		loop:   evloop.New("host", opts.BacklogWarn, logger),
		events: events.NewRingChannel[events.Event](opts.EventQueueDepth),
		logger: logger,
	}

	h.transport = factory(h.loop)
	if h.transport == nil {
		return nil, fmt.Errorf("transport factory returned nil")
	}

	registry, err := gatt.NewRegistry(opts.Capacity, h.transport, logger)
	if err != nil {
		return nil, err
	}
	registry.SetObserver(func(conn uint16, state gatt.DiscState, err error) {
		h.emit(events.Event{Kind: events.StateChanged, ConnHandle: conn, State: state, Err: err})
	})
	h.registry = registry

	if err := h.loop.Start(ctx); err != nil {
		return nil, err
	}
	return h, nil
}

// Transport returns the transport built by the factory.
func (h *Host) Transport() gatt.Transport {
	return h.transport
}

// Events returns the progress feed. It is lossy: when the reader falls behind
// the oldest events are dropped. The channel is closed by Close.
func (h *Host) Events() <-chan events.Event {
	return h.events.C()
}

// EventMetrics reports the progress feed counters.
func (h *Host) EventMetrics() events.Metrics {
	return h.events.Metrics()
}

func (h *Host) emit(ev events.Event) {
	ev.Time = time.Now()
	if h.events.Send(ev) {
		h.logger.WithField("conn_handle", ev.ConnHandle).Trace("Progress event overwritten")
	}
}

// run executes fn on the loop, translating a stopped loop into ErrClosed.
func (h *Host) run(ctx context.Context, fn func(r *gatt.Registry) error) error {
	err := h.loop.Run(ctx, func() error {
		return fn(h.registry)
	})
	if errors.Is(err, evloop.ErrStopped) {
		return ErrClosed
	}
	return err
}

// AddPeer registers a connection.
func (h *Host) AddPeer(ctx context.Context, conn uint16) error {
	return h.run(ctx, func(r *gatt.Registry) error {
		if err := r.Add(conn); err != nil {
			return err
		}
		h.emit(events.Event{Kind: events.PeerAdded, ConnHandle: conn})
		return nil
	})
}

// DeletePeer forgets a connection, aborting its walk if one is running.
func (h *Host) DeletePeer(ctx context.Context, conn uint16) error {
	return h.run(ctx, func(r *gatt.Registry) error {
		if err := r.Delete(conn); err != nil {
			return err
		}
		h.emit(events.Event{Kind: events.PeerDeleted, ConnHandle: conn})
		return nil
	})
}

// DiscoverAll starts a walk and returns once it is issued. fn runs on the
// event loop and must not block; it may call back into the Host.
func (h *Host) DiscoverAll(ctx context.Context, conn uint16, fn gatt.DiscoveryFunc) error {
	return h.run(ctx, func(r *gatt.Registry) error {
		return r.DiscoverAll(conn, fn)
	})
}

// Discover runs a walk to completion and returns a snapshot of the result. The
// snapshot is returned together with the walk error so partial results stay
// visible. Cancelling ctx stops the wait, not the walk.
func (h *Host) Discover(ctx context.Context, conn uint16) (gatt.Profile, error) {
	type result struct {
		profile gatt.Profile
		err     error
	}
	ch := make(chan result, 1)

	err := h.DiscoverAll(ctx, conn, func(peer *gatt.Peer, err error) {
		ch <- result{profile: peer.Snapshot(), err: err}
	})
	if err != nil {
		return gatt.Profile{}, err
	}

	select {
	case res := <-ch:
		return res.profile, res.err
	case <-ctx.Done():
		return gatt.Profile{}, ctx.Err()
	}
}

// Lookup runs fn against the peer on the event loop. The peer must not be
// retained after fn returns; use Snapshot to carry results out.
func (h *Host) Lookup(ctx context.Context, conn uint16, fn func(peer *gatt.Peer) error) error {
	return h.run(ctx, func(r *gatt.Registry) error {
		peer := r.Find(conn)
		if peer == nil {
			return fmt.Errorf("%w: conn_handle=%d", gatt.ErrUnknownConnection, conn)
		}
		return fn(peer)
	})
}

// Snapshot copies the current hierarchy of a peer.
func (h *Host) Snapshot(ctx context.Context, conn uint16) (gatt.Profile, error) {
	var profile gatt.Profile
	err := h.Lookup(ctx, conn, func(peer *gatt.Peer) error {
		profile = peer.Snapshot()
		return nil
	})
	return profile, err
}

// Stats reports registry pool usage.
func (h *Host) Stats(ctx context.Context) (gatt.Stats, error) {
	var stats gatt.Stats
	err := h.run(ctx, func(r *gatt.Registry) error {
		stats = r.Stats()
		return nil
	})
	return stats, err
}

// Close deletes every peer, aborting running walks, then stops the loop and
// closes the event feed. It must not be called from a discovery callback.
func (h *Host) Close() error {
	if h.loop.OnLoop() {
		return fmt.Errorf("host cannot be closed from its event loop")
	}

	h.closeMtx.Lock()
	defer h.closeMtx.Unlock()

	if h.closed {
		return ErrClosed
	}
	h.closed = true

	if h.loop.Active() {
		err := h.run(context.Background(), func(r *gatt.Registry) error {
			for _, peer := range r.Peers() {
				conn := peer.ConnHandle()
				if err := r.Delete(conn); err != nil {
					return err
				}
				h.emit(events.Event{Kind: events.PeerDeleted, ConnHandle: conn})
			}
			return nil
		})
		if err != nil && !errors.Is(err, ErrClosed) {
			h.logger.WithField("error", err).Warn("Failed to release peers on close")
		}
		if err := h.loop.Stop(ErrClosed); err != nil {
			h.logger.WithField("error", err).Debug("Event loop already stopped")
		}
	}

	h.events.Close()
	h.logger.Debug("Host closed")
	return nil
}
