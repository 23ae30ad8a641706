// Package inspect runs one complete discovery, against a simulated profile or a
// real device, and returns the resulting attribute hierarchy.
package inspect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blepeer/internal/events"
	"github.com/srg/blepeer/internal/gatt"
	"github.com/srg/blepeer/internal/transport/goble"
	"github.com/srg/blepeer/internal/transport/sim"
	"github.com/srg/blepeer/pkg/config"
	"github.com/srg/blepeer/pkg/connection"
	"github.com/srg/blepeer/pkg/host"
)

// InspectOptions defines options for inspecting a peer
type InspectOptions struct {
	ConnHandle       uint16
	Capacity         gatt.Capacity
	EventQueueDepth  int
	EventHistory     uint32
	ConnectTimeout   time.Duration
	ProcedureTimeout time.Duration

	// Progress receives every registry event; it runs on a dedicated goroutine.
	Progress func(ev events.Event)
	// Inspect runs on the event loop after discovery, with the live peer.
	Inspect func(peer *gatt.Peer) error
	// Dial replaces the platform dialer for device inspection.
	Dial connection.Dialer
}

// OptionsFromConfig derives inspect options from the application config.
func OptionsFromConfig(cfg *config.Config) *InspectOptions {
	return &InspectOptions{
		ConnHandle:       1,
		Capacity:         cfg.Capacity(),
		EventQueueDepth:  cfg.EventQueueDepth,
		EventHistory:     uint32(min(cfg.EventHistory, int(events.MaxHistory))),
		ConnectTimeout:   cfg.ConnectTimeout,
		ProcedureTimeout: cfg.ProcedureTimeout,
	}
}

// InspectResult is a structured representation of a peer's discovery results
type InspectResult struct {
	Source  string       `json:"source" yaml:"source"`
	Name    string       `json:"name,omitempty" yaml:"name,omitempty"`
	Profile gatt.Profile `json:"profile" yaml:"profile"`
	Stats   gatt.Stats   `json:"-" yaml:"-"`
	// Events is the transcript of registry events, oldest first.
	Events []string `json:"events,omitempty" yaml:"events,omitempty"`
}

// InspectProfile serves profile from the simulated transport and discovers it.
func InspectProfile(ctx context.Context, profile *sim.Profile, opts *InspectOptions, logger *logrus.Logger) (*InspectResult, error) {
	opts, logger = normalize(opts, logger)

	db, err := profile.Build()
	if err != nil {
		return nil, err
	}

	var transport *sim.Transport
	res, err := run(ctx, opts, logger, func(p host.Poster) gatt.Transport {
		transport = sim.NewTransport(p, logger)
		return transport
	}, func(ctx context.Context, h *host.Host) (func(), error) {
		transport.Attach(opts.ConnHandle, db)
		if err := h.AddPeer(ctx, opts.ConnHandle); err != nil {
			return nil, err
		}
		return func() { transport.Detach(opts.ConnHandle) }, nil
	})
	if res != nil {
		res.Source = "profile"
		res.Name = db.Name
	}
	return res, err
}

// InspectDevice connects to the device at address and discovers it.
func InspectDevice(ctx context.Context, address string, opts *InspectOptions, logger *logrus.Logger) (*InspectResult, error) {
	opts, logger = normalize(opts, logger)

	var transport *goble.Transport
	res, err := run(ctx, opts, logger, func(p host.Poster) gatt.Transport {
		transport = goble.NewTransport(p, opts.ProcedureTimeout, logger)
		return transport
	}, func(ctx context.Context, h *host.Host) (func(), error) {
		conn := connection.NewConnection(h, transport, opts.Dial, logger)
		err := conn.Connect(ctx, &connection.ConnectOptions{
			DeviceAddress:  address,
			ConnectTimeout: opts.ConnectTimeout,
			ConnHandle:     opts.ConnHandle,
		})
		if err != nil {
			return nil, err
		}
		return func() {
			if err := conn.Disconnect(context.Background()); err != nil && !errors.Is(err, connection.ErrNotConnected) {
				logger.WithField("error", err).Warn("Failed to disconnect")
			}
		}, nil
	})
	if res != nil {
		res.Source = "device"
		res.Name = address
	}
	return res, err
}

func normalize(opts *InspectOptions, logger *logrus.Logger) (*InspectOptions, *logrus.Logger) {
	defaults := OptionsFromConfig(config.DefaultConfig())
	if opts == nil {
		opts = defaults
	}
	if opts.Capacity == (gatt.Capacity{}) {
		opts.Capacity = defaults.Capacity
	}
	if opts.EventQueueDepth == 0 {
		opts.EventQueueDepth = defaults.EventQueueDepth
	}
	if opts.EventHistory == 0 {
		opts.EventHistory = defaults.EventHistory
	}
	if logger == nil {
		logger = logrus.New()
	}
	return opts, logger
}

// attachFunc registers the peer with h and returns its release function.
type attachFunc func(ctx context.Context, h *host.Host) (func(), error)

func run(ctx context.Context, opts *InspectOptions, logger *logrus.Logger, factory host.TransportFactory, attach attachFunc) (*InspectResult, error) {
	h, err := host.New(ctx, &host.Options{
		Capacity:        opts.Capacity,
		EventQueueDepth: opts.EventQueueDepth,
	}, factory, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start host: %w", err)
	}

	feed := make(chan events.Event, opts.EventQueueDepth)
	collector, err := events.NewCollector(feed, opts.EventHistory, func(err error) {
		logger.WithField("error", err).Debug("Event collector error")
	})
	if err != nil {
		_ = h.Close()
		return nil, err
	}
	if err := collector.Start(); err != nil {
		_ = h.Close()
		return nil, err
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(feed)
		for ev := range h.Events() {
			if opts.Progress != nil {
				opts.Progress(ev)
			}
			select {
			case feed <- ev:
			default:
				logger.WithField("event", ev.String()).Debug("Event transcript full, dropping event")
			}
		}
	}()

	res, runErr := discover(ctx, h, opts, logger, attach)

	if err := h.Close(); err != nil {
		logger.WithField("error", err).Debug("Host close")
	}
	wg.Wait()
	collector.Stop()

	transcript, err := collector.Transcript()
	if err != nil {
		logger.WithField("error", err).Debug("Failed to read event transcript")
	}
	if res != nil && transcript != "" {
		res.Events = strings.Split(strings.TrimSuffix(transcript, "\n"), "\n")
	}
	return res, runErr
}

func discover(ctx context.Context, h *host.Host, opts *InspectOptions, logger *logrus.Logger, attach attachFunc) (*InspectResult, error) {
	release, err := attach(ctx, h)
	if err != nil {
		return nil, err
	}
	defer release()

	logger.WithField("conn_handle", opts.ConnHandle).Info("Discovering attribute database...")
	profile, err := h.Discover(ctx, opts.ConnHandle)
	res := &InspectResult{Profile: profile}
	if err != nil {
		if profile.State == "" {
			return nil, err
		}
		return res, fmt.Errorf("discovery failed: %w", err)
	}

	if opts.Inspect != nil {
		if err := h.Lookup(ctx, opts.ConnHandle, opts.Inspect); err != nil {
			return res, err
		}
	}
	if res.Stats, err = h.Stats(ctx); err != nil {
		return res, err
	}
	return res, nil
}
