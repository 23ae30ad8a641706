package gatt

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/sirupsen/logrus"
)

// DiscoverAll starts a full discovery walk of the peer's attribute database and
// returns without waiting for it. Any hierarchy left by a previous walk is
// released first. fn is invoked exactly once when the walk ends, unless
// DiscoverAll itself returns an error.
func (r *Registry) DiscoverAll(conn uint16, fn DiscoveryFunc) error {
	peer := r.Find(conn)
	if peer == nil {
		return fmt.Errorf("%w: conn_handle=%d", ErrUnknownConnection, conn)
	}
	if peer.Discovering() {
		return fmt.Errorf("%w: conn_handle=%d state=%s", ErrAlreadyDiscovering, conn, peer.state)
	}

	r.releaseServices(peer)

	r.walks++
	peer.walk = r.walks
	peer.discFn = fn
	peer.err = nil
	r.setState(peer, StateDiscoveringServices, nil)

	err := r.transport.DiscoverServices(conn, MinHandle, MaxHandle, r.serviceHandler(conn, peer.walk))
	if err != nil {
		peer.discFn = nil
		r.setState(peer, StateIdle, nil)
		r.logger.WithFields(logrus.Fields{
			"conn_handle": conn,
			"error":       err,
		}).Error("Failed to start discovery")
		return fmt.Errorf("%s: conn_handle=%d: %w", ProcDiscoverServices, conn, err)
	}

	r.logger.WithField("conn_handle", conn).Info("Discovery started")
	return nil
}

func (r *Registry) serviceHandler(conn uint16, walk uint64) ServiceFunc {
	return func(status Status, def *ServiceDef) {
		peer := r.activePeer(conn, walk, StateDiscoveringServices)
		if peer == nil {
			return
		}

		switch status {
		case StatusOK:
			if def == nil {
				r.complete(peer, NewTransportError(ProcDiscoverServices, StatusEBadData))
				return
			}
			if err := r.addService(peer, def); err != nil {
				r.complete(peer, err)
			}
		case StatusDone:
			r.setState(peer, StateDiscoveringCharacteristics, nil)
			r.discoverNextCharacteristics(peer)
		default:
			r.complete(peer, NewTransportError(ProcDiscoverServices, status))
		}
	}
}

func (r *Registry) characteristicHandler(conn uint16, walk uint64) CharacteristicFunc {
	return func(status Status, def *CharacteristicDef) {
		peer := r.activePeer(conn, walk, StateDiscoveringCharacteristics)
		if peer == nil {
			return
		}

		switch status {
		case StatusOK:
			if def == nil {
				r.complete(peer, NewTransportError(ProcDiscoverCharacteristics, StatusEBadData))
				return
			}
			if err := r.addCharacteristic(peer, peer.curSvc, def); err != nil {
				r.complete(peer, err)
			}
		case StatusDone:
			r.discoverNextCharacteristics(peer)
		default:
			r.complete(peer, NewTransportError(ProcDiscoverCharacteristics, status))
		}
	}
}

func (r *Registry) descriptorHandler(conn uint16, walk uint64) DescriptorFunc {
	return func(status Status, def *DescriptorDef) {
		peer := r.activePeer(conn, walk, StateDiscoveringDescriptors)
		if peer == nil {
			return
		}

		switch status {
		case StatusOK:
			if def == nil {
				r.complete(peer, NewTransportError(ProcDiscoverDescriptors, StatusEBadData))
				return
			}
			if err := r.addDescriptor(peer, peer.curChr, def); err != nil {
				r.complete(peer, err)
			}
		case StatusDone:
			r.discoverNextDescriptors(peer)
		default:
			r.complete(peer, NewTransportError(ProcDiscoverDescriptors, status))
		}
	}
}

// activePeer resolves the peer an event belongs to, or nil when the event is stale:
// the connection is gone, the handle was re-added, a newer walk replaced the one
// that issued the procedure, or the walk already ended.
func (r *Registry) activePeer(conn uint16, walk uint64, want DiscState) *Peer {
	peer, ok := r.peers.Get(conn)
	if !ok {
		r.logger.WithField("conn_handle", conn).Warn("Dropping discovery event for unknown connection")
		return nil
	}
	if peer.walk != walk {
		r.logger.WithFields(logrus.Fields{
			"conn_handle": conn,
			"walk":        walk,
			"active_walk": peer.walk,
		}).Warn("Dropping discovery event from a previous walk")
		return nil
	}
	if peer.state != want {
		// The walk was aborted while the transport still had events queued.
		r.logger.WithFields(logrus.Fields{
			"conn_handle": conn,
			"state":       peer.state,
			"expected":    want,
		}).Debug("Dropping discovery event for a finished walk")
		return nil
	}
	return peer
}

// discoverNextCharacteristics moves the cursor to the next non-empty service and
// issues characteristic discovery over its range. When no service is left the
// walk moves on to descriptors.
func (r *Registry) discoverNextCharacteristics(peer *Peer) {
	var svc *Service
	for _, s := range peer.svcs {
		if peer.curSvc != nil && s.StartHandle <= peer.curSvc.StartHandle {
			continue
		}
		if s.IsEmpty() {
			continue
		}
		svc = s
		break
	}

	if svc == nil {
		peer.curSvc = nil
		peer.curChr = nil
		r.setState(peer, StateDiscoveringDescriptors, nil)
		r.discoverNextDescriptors(peer)
		return
	}

	peer.curSvc = svc
	r.logger.WithFields(logrus.Fields{
		"conn_handle":  peer.connHandle,
		"service_uuid": svc.UUID,
		"start_handle": svc.StartHandle,
		"end_handle":   svc.EndHandle,
	}).Debug("Discovering characteristics")

	err := r.transport.DiscoverCharacteristics(peer.connHandle, svc.StartHandle, svc.EndHandle,
		r.characteristicHandler(peer.connHandle, peer.walk))
	if err != nil {
		r.complete(peer, fmt.Errorf("%s: conn_handle=%d: %w", ProcDiscoverCharacteristics, peer.connHandle, err))
	}
}

// discoverNextDescriptors moves the cursor to the next characteristic that has room
// for descriptors and issues descriptor discovery over [value+1, end]. When no
// characteristic is left the walk is done.
func (r *Registry) discoverNextDescriptors(peer *Peer) {
	var prevVal uint16
	if peer.curChr != nil {
		prevVal = peer.curChr.ValHandle
	}

	var chr *Characteristic
	for _, svc := range peer.svcs {
		for _, c := range svc.chrs {
			if c.ValHandle <= prevVal || c.IsEmpty() {
				continue
			}
			chr = c
			break
		}
		if chr != nil {
			break
		}
	}

	if chr == nil {
		r.complete(peer, nil)
		return
	}

	peer.curChr = chr
	start, end := chr.ValHandle+1, chr.EndHandle()
	r.logger.WithFields(logrus.Fields{
		"conn_handle":  peer.connHandle,
		"char_uuid":    chr.UUID,
		"start_handle": start,
		"end_handle":   end,
	}).Debug("Discovering descriptors")

	err := r.transport.DiscoverDescriptors(peer.connHandle, start, end,
		r.descriptorHandler(peer.connHandle, peer.walk))
	if err != nil {
		r.complete(peer, fmt.Errorf("%s: conn_handle=%d: %w", ProcDiscoverDescriptors, peer.connHandle, err))
	}
}

func (r *Registry) addService(peer *Peer, def *ServiceDef) error {
	idx, found := slices.BinarySearchFunc(peer.svcs, def.StartHandle, func(s *Service, h uint16) int {
		return cmp.Compare(s.StartHandle, h)
	})
	if found {
		r.logger.WithFields(logrus.Fields{
			"conn_handle":  peer.connHandle,
			"start_handle": def.StartHandle,
		}).Debug("Ignoring duplicate service")
		return nil
	}

	svc, slot, err := r.svcPool.Acquire()
	if err != nil {
		return fmt.Errorf("conn_handle=%d service %s: %w", peer.connHandle, def.UUID, err)
	}
	svc.slot = slot
	svc.UUID = def.UUID
	svc.StartHandle = def.StartHandle
	svc.EndHandle = def.EndHandle

	peer.svcs = slices.Insert(peer.svcs, idx, svc)

	r.logger.WithFields(logrus.Fields{
		"conn_handle":  peer.connHandle,
		"service_uuid": svc.UUID,
		"start_handle": svc.StartHandle,
		"end_handle":   svc.EndHandle,
	}).Debug("Service discovered")
	return nil
}

func (r *Registry) addCharacteristic(peer *Peer, svc *Service, def *CharacteristicDef) error {
	if svc == nil || def.DefHandle <= svc.StartHandle || def.DefHandle > svc.EndHandle {
		return fmt.Errorf("%w: conn_handle=%d characteristic %s at 0x%04x", ErrOrphanAttribute,
			peer.connHandle, def.UUID, def.DefHandle)
	}
	// The value follows its declaration inside the same service.
	if def.ValHandle <= def.DefHandle || def.ValHandle > svc.EndHandle {
		return fmt.Errorf("%w: conn_handle=%d characteristic %s value at 0x%04x (declaration 0x%04x)",
			ErrOrphanAttribute, peer.connHandle, def.UUID, def.ValHandle, def.DefHandle)
	}

	idx, found := slices.BinarySearchFunc(svc.chrs, def.DefHandle, func(c *Characteristic, h uint16) int {
		return cmp.Compare(c.DefHandle, h)
	})
	if found {
		r.logger.WithFields(logrus.Fields{
			"conn_handle": peer.connHandle,
			"def_handle":  def.DefHandle,
		}).Debug("Ignoring duplicate characteristic")
		return nil
	}

	chr, slot, err := r.chrPool.Acquire()
	if err != nil {
		return fmt.Errorf("conn_handle=%d characteristic %s: %w", peer.connHandle, def.UUID, err)
	}
	chr.slot = slot
	chr.svc = svc
	chr.UUID = def.UUID
	chr.DefHandle = def.DefHandle
	chr.ValHandle = def.ValHandle
	chr.Properties = def.Properties

	svc.chrs = slices.Insert(svc.chrs, idx, chr)

	r.logger.WithFields(logrus.Fields{
		"conn_handle":  peer.connHandle,
		"service_uuid": svc.UUID,
		"char_uuid":    chr.UUID,
		"def_handle":   chr.DefHandle,
		"val_handle":   chr.ValHandle,
		"properties":   chr.Properties,
	}).Debug("Characteristic discovered")
	return nil
}

func (r *Registry) addDescriptor(peer *Peer, chr *Characteristic, def *DescriptorDef) error {
	if chr == nil || def.Handle <= chr.ValHandle || def.Handle > chr.EndHandle() {
		return fmt.Errorf("%w: conn_handle=%d descriptor %s at 0x%04x", ErrOrphanAttribute,
			peer.connHandle, def.UUID, def.Handle)
	}

	idx, found := slices.BinarySearchFunc(chr.dscs, def.Handle, func(d *Descriptor, h uint16) int {
		return cmp.Compare(d.Handle, h)
	})
	if found {
		r.logger.WithFields(logrus.Fields{
			"conn_handle": peer.connHandle,
			"handle":      def.Handle,
		}).Debug("Ignoring duplicate descriptor")
		return nil
	}

	dsc, slot, err := r.dscPool.Acquire()
	if err != nil {
		return fmt.Errorf("conn_handle=%d descriptor %s: %w", peer.connHandle, def.UUID, err)
	}
	dsc.slot = slot
	dsc.UUID = def.UUID
	dsc.Handle = def.Handle

	chr.dscs = slices.Insert(chr.dscs, idx, dsc)

	r.logger.WithFields(logrus.Fields{
		"conn_handle": peer.connHandle,
		"char_uuid":   chr.UUID,
		"dsc_uuid":    dsc.UUID,
		"handle":      dsc.Handle,
	}).Debug("Descriptor discovered")
	return nil
}

// complete ends the walk and hands the outcome to the completion callback.
// The callback is cleared before it runs so it can start a new walk.
func (r *Registry) complete(peer *Peer, err error) {
	fn := peer.discFn
	peer.discFn = nil
	peer.curSvc = nil
	peer.curChr = nil
	peer.err = err

	fields := logrus.Fields{
		"conn_handle": peer.connHandle,
		"services":    len(peer.svcs),
	}
	if err != nil {
		fields["error"] = err
		r.setState(peer, StateError, err)
		r.logger.WithFields(fields).Error("Discovery aborted")
	} else {
		r.setState(peer, StateDone, nil)
		r.logger.WithFields(fields).Info("Discovery complete")
	}

	if fn != nil {
		fn(peer, err)
	}
}

func (r *Registry) setState(peer *Peer, state DiscState, err error) {
	peer.state = state
	if r.observer != nil {
		r.observer(peer.connHandle, state, err)
	}
}
