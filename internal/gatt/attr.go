package gatt

import (
	"fmt"
	"strings"

	"github.com/go-ble/ble"
)

// Attribute handle bounds of a GATT database.
const (
	MinHandle uint16 = 0x0001
	MaxHandle uint16 = 0xffff
)

// Properties is the characteristic properties bitmask from the declaration.
type Properties uint8

const (
	PropBroadcast   = Properties(ble.CharBroadcast)
	PropRead        = Properties(ble.CharRead)
	PropWriteNR     = Properties(ble.CharWriteNR)
	PropWrite       = Properties(ble.CharWrite)
	PropNotify      = Properties(ble.CharNotify)
	PropIndicate    = Properties(ble.CharIndicate)
	PropSignedWrite = Properties(ble.CharSignedWrite)
	PropExtended    = Properties(ble.CharExtended)
)

var propertyNames = []struct {
	prop Properties
	name string
}{
	{PropBroadcast, "broadcast"},
	{PropRead, "read"},
	{PropWriteNR, "write-without-response"},
	{PropWrite, "write"},
	{PropNotify, "notify"},
	{PropIndicate, "indicate"},
	{PropSignedWrite, "signed-write"},
	{PropExtended, "extended"},
}

// Has reports whether every bit of q is set in p.
func (p Properties) Has(q Properties) bool {
	return p&q == q
}

// Names lists the set properties in declaration bit order.
func (p Properties) Names() []string {
	names := make([]string, 0, len(propertyNames))
	for _, pn := range propertyNames {
		if p&pn.prop != 0 {
			names = append(names, pn.name)
		}
	}
	return names
}

func (p Properties) String() string {
	if p == 0 {
		return "none"
	}
	return strings.Join(p.Names(), ",")
}

// ParseProperties parses a comma separated property list such as "read,notify".
func ParseProperties(s string) (Properties, error) {
	var props Properties
	for _, tok := range strings.Split(s, ",") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}
		found := false
		for _, pn := range propertyNames {
			if pn.name == tok {
				props |= pn.prop
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown characteristic property %q", tok)
		}
	}
	return props, nil
}

// ServiceDef is a primary service as reported by the transport.
type ServiceDef struct {
	UUID        UUID
	StartHandle uint16
	EndHandle   uint16
}

// CharacteristicDef is a characteristic declaration as reported by the transport.
type CharacteristicDef struct {
	UUID       UUID
	DefHandle  uint16
	ValHandle  uint16
	Properties Properties
}

// DescriptorDef is a descriptor as reported by the transport.
type DescriptorDef struct {
	UUID   UUID
	Handle uint16
}

// Service is a discovered primary service owned by a Peer.
type Service struct {
	slot Slot

	UUID        UUID
	StartHandle uint16
	EndHandle   uint16

	chrs []*Characteristic
}

// Characteristics returns the owned characteristics in ascending handle order.
// The slice must not be modified.
func (s *Service) Characteristics() []*Characteristic {
	return s.chrs
}

// IsEmpty reports whether the service range has no room for characteristics.
func (s *Service) IsEmpty() bool {
	return s.EndHandle <= s.StartHandle
}

// Contains reports whether handle lies inside the service range.
func (s *Service) Contains(handle uint16) bool {
	return handle >= s.StartHandle && handle <= s.EndHandle
}

func (s *Service) String() string {
	return fmt.Sprintf("service %s [0x%04x-0x%04x]", s.UUID, s.StartHandle, s.EndHandle)
}

// Characteristic is a discovered characteristic owned by a Service.
type Characteristic struct {
	slot Slot
	svc  *Service

	UUID       UUID
	DefHandle  uint16
	ValHandle  uint16
	Properties Properties

	dscs []*Descriptor
}

// Service returns the owning service.
func (c *Characteristic) Service() *Service {
	return c.svc
}

// Descriptors returns the owned descriptors in ascending handle order.
// The slice must not be modified.
func (c *Characteristic) Descriptors() []*Descriptor {
	return c.dscs
}

// EndHandle is the last handle that belongs to the characteristic: one before the
// next characteristic's declaration, or the service end for the last one.
func (c *Characteristic) EndHandle() uint16 {
	if c.svc == nil {
		return c.ValHandle
	}
	for i, chr := range c.svc.chrs {
		if chr != c {
			continue
		}
		if i+1 < len(c.svc.chrs) {
			return c.svc.chrs[i+1].DefHandle - 1
		}
		break
	}
	return c.svc.EndHandle
}

// IsEmpty reports whether there is no handle between the value and the end
// handle, i.e. the characteristic cannot own descriptors.
func (c *Characteristic) IsEmpty() bool {
	return c.ValHandle >= c.EndHandle()
}

func (c *Characteristic) String() string {
	return fmt.Sprintf("characteristic %s def=0x%04x val=0x%04x", c.UUID, c.DefHandle, c.ValHandle)
}

// Descriptor is a discovered descriptor owned by a Characteristic.
type Descriptor struct {
	slot Slot

	UUID   UUID
	Handle uint16
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("descriptor %s handle=0x%04x", d.UUID, d.Handle)
}
