package gatt

// Profile is a value copy of a peer's discovered hierarchy. Unlike Peer it does not
// alias pool records and may be handed to other goroutines.
type Profile struct {
	ConnHandle uint16        `json:"conn_handle" yaml:"conn_handle"`
	State      string        `json:"state" yaml:"state"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
	Services   []ServiceInfo `json:"services" yaml:"services"`
}

type ServiceInfo struct {
	UUID            UUID                 `json:"uuid" yaml:"uuid"`
	StartHandle     uint16               `json:"start_handle" yaml:"start_handle"`
	EndHandle       uint16               `json:"end_handle" yaml:"end_handle"`
	Characteristics []CharacteristicInfo `json:"characteristics" yaml:"characteristics"`
}

type CharacteristicInfo struct {
	UUID        UUID             `json:"uuid" yaml:"uuid"`
	DefHandle   uint16           `json:"def_handle" yaml:"def_handle"`
	ValHandle   uint16           `json:"val_handle" yaml:"val_handle"`
	EndHandle   uint16           `json:"end_handle" yaml:"end_handle"`
	Properties  []string         `json:"properties" yaml:"properties"`
	Descriptors []DescriptorInfo `json:"descriptors" yaml:"descriptors"`
}

type DescriptorInfo struct {
	UUID   UUID   `json:"uuid" yaml:"uuid"`
	Handle uint16 `json:"handle" yaml:"handle"`
}

// Snapshot copies the current hierarchy, including a partial one left by an
// aborted walk.
func (p *Peer) Snapshot() Profile {
	prof := Profile{
		ConnHandle: p.connHandle,
		State:      p.state.String(),
		Services:   make([]ServiceInfo, 0, len(p.svcs)),
	}
	if p.err != nil {
		prof.Error = p.err.Error()
	}

	for _, svc := range p.svcs {
		si := ServiceInfo{
			UUID:            svc.UUID,
			StartHandle:     svc.StartHandle,
			EndHandle:       svc.EndHandle,
			Characteristics: make([]CharacteristicInfo, 0, len(svc.chrs)),
		}
		for _, chr := range svc.chrs {
			ci := CharacteristicInfo{
				UUID:        chr.UUID,
				DefHandle:   chr.DefHandle,
				ValHandle:   chr.ValHandle,
				EndHandle:   chr.EndHandle(),
				Properties:  chr.Properties.Names(),
				Descriptors: make([]DescriptorInfo, 0, len(chr.dscs)),
			}
			for _, dsc := range chr.dscs {
				ci.Descriptors = append(ci.Descriptors, DescriptorInfo{UUID: dsc.UUID, Handle: dsc.Handle})
			}
			si.Characteristics = append(si.Characteristics, ci)
		}
		prof.Services = append(prof.Services, si)
	}
	return prof
}

// FindService returns the first service with the given UUID.
func (p Profile) FindService(svcUUID UUID) (ServiceInfo, bool) {
	for _, svc := range p.Services {
		if svc.UUID == svcUUID {
			return svc, true
		}
	}
	return ServiceInfo{}, false
}

// FindCharacteristic returns the first characteristic with the given UUID.
func (s ServiceInfo) FindCharacteristic(chrUUID UUID) (CharacteristicInfo, bool) {
	for _, chr := range s.Characteristics {
		if chr.UUID == chrUUID {
			return chr, true
		}
	}
	return CharacteristicInfo{}, false
}

// FindDescriptor returns the first descriptor with the given UUID.
func (c CharacteristicInfo) FindDescriptor(dscUUID UUID) (DescriptorInfo, bool) {
	for _, dsc := range c.Descriptors {
		if dsc.UUID == dscUUID {
			return dsc, true
		}
	}
	return DescriptorInfo{}, false
}
