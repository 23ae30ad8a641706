// Package goble adapts a connected go-ble client to gatt.Transport. The client
// calls block, so each procedure runs on its own goroutine and its results are
// posted back onto the event loop.
package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blepeer/internal/gatt"
	"github.com/srg/blepeer/internal/groutine"
)

// DefaultProcedureTimeout bounds a single discovery procedure.
const DefaultProcedureTimeout = 10 * time.Second

// Client is the part of ble.Client the transport drives.
type Client interface {
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error)
}

// Poster schedules fn on the goroutine that owns the registry.
type Poster interface {
	Post(fn func()) error
}

// link is one attached client plus the go-ble objects it returned, which later
// procedures must be handed back.
type link struct {
	client Client

	mtx  sync.Mutex
	svcs map[uint16]*ble.Service        // by start handle
	chrs map[uint16]*ble.Characteristic // by value handle
}

// Transport implements gatt.Transport over go-ble clients.
type Transport struct {
	poster  Poster
	logger  *logrus.Logger
	timeout time.Duration
	links   *hashmap.Map[uint16, *link]
}

// NewTransport creates a transport; timeout <= 0 selects DefaultProcedureTimeout.
func NewTransport(poster Poster, timeout time.Duration, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	if timeout <= 0 {
		timeout = DefaultProcedureTimeout
	}
	return &Transport{
		poster:  poster,
		logger:  logger,
		timeout: timeout,
		links:   hashmap.New[uint16, *link](),
	}
}

// Attach binds a connected client to conn.
func (t *Transport) Attach(conn uint16, client Client) {
	t.links.Set(conn, &link{
		client: client,
		svcs:   make(map[uint16]*ble.Service),
		chrs:   make(map[uint16]*ble.Characteristic),
	})
}

// Detach forgets conn. Procedures already running still post their results.
func (t *Transport) Detach(conn uint16) {
	t.links.Del(conn)
}

func (t *Transport) link(proc gatt.Procedure, conn uint16) (*link, error) {
	l, ok := t.links.Get(conn)
	if !ok {
		return nil, gatt.NewTransportError(proc, gatt.StatusENotConn)
	}
	return l, nil
}

func (t *Transport) DiscoverServices(conn, start, end uint16, fn gatt.ServiceFunc) error {
	l, err := t.link(gatt.ProcDiscoverServices, conn)
	if err != nil {
		return err
	}

	t.run(gatt.ProcDiscoverServices, conn, func() ([]func(), error) {
		svcs, err := l.client.DiscoverServices(nil)
		if err != nil {
			return nil, err
		}

		l.mtx.Lock()
		defer l.mtx.Unlock()

		var items []func()
		for _, s := range svcs {
			if s.Handle < start || s.Handle > end {
				continue
			}
			u, err := gatt.FromBLE(s.UUID)
			if err != nil {
				t.skip(conn, gatt.ProcDiscoverServices, s.Handle, err)
				continue
			}
			l.svcs[s.Handle] = s
			def := gatt.ServiceDef{UUID: u, StartHandle: s.Handle, EndHandle: s.EndHandle}
			items = append(items, func() { fn(gatt.StatusOK, &def) })
		}
		return items, nil
	}, func(status gatt.Status) { fn(status, nil) })
	return nil
}

func (t *Transport) DiscoverCharacteristics(conn, start, end uint16, fn gatt.CharacteristicFunc) error {
	l, err := t.link(gatt.ProcDiscoverCharacteristics, conn)
	if err != nil {
		return err
	}

	l.mtx.Lock()
	svc, ok := l.svcs[start]
	if !ok {
		svc = &ble.Service{Handle: start}
	}
	svc.EndHandle = end
	l.mtx.Unlock()

	t.run(gatt.ProcDiscoverCharacteristics, conn, func() ([]func(), error) {
		chrs, err := l.client.DiscoverCharacteristics(nil, svc)
		if err != nil {
			return nil, err
		}

		l.mtx.Lock()
		defer l.mtx.Unlock()

		var items []func()
		for _, c := range chrs {
			if c.Handle < start || c.Handle > end {
				continue
			}
			u, err := gatt.FromBLE(c.UUID)
			if err != nil {
				t.skip(conn, gatt.ProcDiscoverCharacteristics, c.Handle, err)
				continue
			}
			l.chrs[c.ValueHandle] = c
			def := gatt.CharacteristicDef{
				UUID:       u,
				DefHandle:  c.Handle,
				ValHandle:  c.ValueHandle,
				Properties: gatt.Properties(c.Property),
			}
			items = append(items, func() { fn(gatt.StatusOK, &def) })
		}
		return items, nil
	}, func(status gatt.Status) { fn(status, nil) })
	return nil
}

func (t *Transport) DiscoverDescriptors(conn, start, end uint16, fn gatt.DescriptorFunc) error {
	l, err := t.link(gatt.ProcDiscoverDescriptors, conn)
	if err != nil {
		return err
	}
	if start == 0 {
		return gatt.NewTransportError(gatt.ProcDiscoverDescriptors, gatt.StatusEInval)
	}

	// Descriptor ranges start right after the value handle.
	l.mtx.Lock()
	chr, ok := l.chrs[start-1]
	if !ok {
		chr = &ble.Characteristic{ValueHandle: start - 1}
	}
	chr.EndHandle = end
	l.mtx.Unlock()

	t.run(gatt.ProcDiscoverDescriptors, conn, func() ([]func(), error) {
		dscs, err := l.client.DiscoverDescriptors(nil, chr)
		if err != nil {
			return nil, err
		}

		var items []func()
		for _, d := range dscs {
			if d.Handle < start || d.Handle > end {
				continue
			}
			u, err := gatt.FromBLE(d.UUID)
			if err != nil {
				t.skip(conn, gatt.ProcDiscoverDescriptors, d.Handle, err)
				continue
			}
			def := gatt.DescriptorDef{UUID: u, Handle: d.Handle}
			items = append(items, func() { fn(gatt.StatusOK, &def) })
		}
		return items, nil
	}, func(status gatt.Status) { fn(status, nil) })
	return nil
}

// run executes call on a procedure goroutine and posts its results, then the
// terminal status. A call that outlives the procedure timeout is reported as
// StatusETimeout and its late results are discarded.
func (t *Transport) run(proc gatt.Procedure, conn uint16, call func() ([]func(), error), terminal func(gatt.Status)) {
	name := groutine.Name("goble", proc, conn)

	groutine.Go(context.Background(), name, func(ctx context.Context) {
		type outcome struct {
			items []func()
			err   error
		}
		resCh := make(chan outcome, 1)
		groutine.Go(ctx, name+"/call", func(context.Context) {
			items, err := call()
			resCh <- outcome{items: items, err: err}
		})

		ctx, cancel := context.WithTimeout(ctx, t.timeout)
		defer cancel()

		var res outcome
		select {
		case res = <-resCh:
		case <-ctx.Done():
			res.err = fmt.Errorf("%s: %w", proc, ctx.Err())
		}

		status := gatt.StatusDone
		if res.err != nil {
			status = StatusFromError(res.err)
			t.logger.WithFields(logrus.Fields{
				"conn_handle": conn,
				"procedure":   proc,
				"status":      status,
				"error":       res.err,
			}).Warn("Discovery procedure failed")
		}

		for _, item := range res.items {
			if err := t.poster.Post(item); err != nil {
				t.logger.WithFields(logrus.Fields{
					"conn_handle": conn,
					"procedure":   proc,
					"error":       err,
				}).Debug("Event loop gone, dropping procedure results")
				return
			}
		}
		if err := t.poster.Post(func() { terminal(status) }); err != nil {
			t.logger.WithFields(logrus.Fields{
				"conn_handle": conn,
				"procedure":   proc,
				"error":       err,
			}).Debug("Event loop gone, dropping procedure status")
		}
	})
}

func (t *Transport) skip(conn uint16, proc gatt.Procedure, handle uint16, err error) {
	t.logger.WithFields(logrus.Fields{
		"conn_handle": conn,
		"procedure":   proc,
		"handle":      handle,
		"error":       err,
	}).Warn("Skipping attribute with malformed UUID")
}

// StatusFromError maps a go-ble error onto a transport status. ATT error
// responses keep their protocol code.
func StatusFromError(err error) gatt.Status {
	if err == nil {
		return gatt.StatusOK
	}

	var attErr ble.ATTError
	if errors.As(err, &attErr) {
		return gatt.StatusATTBase + gatt.Status(attErr)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return gatt.StatusETimeout
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "not connected"), strings.Contains(msg, "disconnected"):
		return gatt.StatusENotConn
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return gatt.StatusETimeout
	case strings.Contains(msg, "not supported"), strings.Contains(msg, "not implemented"):
		return gatt.StatusENotSup
	default:
		return gatt.StatusEUnknown
	}
}
