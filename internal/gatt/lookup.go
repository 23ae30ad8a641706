package gatt

// FindService returns the first service with the given UUID, or nil.
func (p *Peer) FindService(svcUUID UUID) *Service {
	for _, svc := range p.svcs {
		if svc.UUID == svcUUID {
			return svc
		}
	}
	return nil
}

// FindCharacteristic returns the first characteristic chrUUID of the first service
// svcUUID, or nil when either is missing.
func (p *Peer) FindCharacteristic(svcUUID, chrUUID UUID) *Characteristic {
	svc := p.FindService(svcUUID)
	if svc == nil {
		return nil
	}
	return svc.FindCharacteristic(chrUUID)
}

// FindDescriptor returns the descriptor dscUUID under svcUUID/chrUUID, or nil when
// any link of the path is missing.
func (p *Peer) FindDescriptor(svcUUID, chrUUID, dscUUID UUID) *Descriptor {
	chr := p.FindCharacteristic(svcUUID, chrUUID)
	if chr == nil {
		return nil
	}
	return chr.FindDescriptor(dscUUID)
}

// FindServiceByHandle returns the service whose handle range contains handle.
func (p *Peer) FindServiceByHandle(handle uint16) *Service {
	for _, svc := range p.svcs {
		if svc.Contains(handle) {
			return svc
		}
		if svc.StartHandle > handle {
			break
		}
	}
	return nil
}

// FindCharacteristicByValueHandle returns the characteristic whose value attribute
// lives at handle.
func (p *Peer) FindCharacteristicByValueHandle(handle uint16) *Characteristic {
	svc := p.FindServiceByHandle(handle)
	if svc == nil {
		return nil
	}
	for _, chr := range svc.chrs {
		if chr.ValHandle == handle {
			return chr
		}
	}
	return nil
}

// FindCharacteristic returns the first characteristic with the given UUID, or nil.
func (s *Service) FindCharacteristic(chrUUID UUID) *Characteristic {
	for _, chr := range s.chrs {
		if chr.UUID == chrUUID {
			return chr
		}
	}
	return nil
}

// FindDescriptor returns the first descriptor with the given UUID, or nil.
func (c *Characteristic) FindDescriptor(dscUUID UUID) *Descriptor {
	for _, dsc := range c.dscs {
		if dsc.UUID == dscUUID {
			return dsc
		}
	}
	return nil
}
