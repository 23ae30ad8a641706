// Package sim is an in-memory peripheral: it serves a GATT database described by
// a profile through the gatt.Transport interface, delivering results on the
// event loop the way a real host stack would.
package sim

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/srg/blepeer/internal/gatt"
)

// Profile describes a peripheral's attribute database. Handles left at zero are
// assigned sequentially: service declaration, then for every characteristic its
// declaration, value and descriptors.
type Profile struct {
	Name     string    `yaml:"name,omitempty" json:"name,omitempty"`
	Services []Service `yaml:"services" json:"services"`
}

type Service struct {
	UUID            gatt.UUID        `yaml:"uuid" json:"uuid"`
	StartHandle     uint16           `yaml:"start_handle,omitempty" json:"start_handle,omitempty"`
	EndHandle       uint16           `yaml:"end_handle,omitempty" json:"end_handle,omitempty"`
	Characteristics []Characteristic `yaml:"characteristics,omitempty" json:"characteristics,omitempty"`
}

type Characteristic struct {
	UUID        gatt.UUID    `yaml:"uuid" json:"uuid"`
	Properties  string       `yaml:"properties,omitempty" json:"properties,omitempty"`
	DefHandle   uint16       `yaml:"def_handle,omitempty" json:"def_handle,omitempty"`
	Descriptors []Descriptor `yaml:"descriptors,omitempty" json:"descriptors,omitempty"`
}

type Descriptor struct {
	UUID   gatt.UUID `yaml:"uuid" json:"uuid"`
	Handle uint16    `yaml:"handle,omitempty" json:"handle,omitempty"`
}

// ParseProfile decodes a YAML (or JSON) profile.
func ParseProfile(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse profile: %w", err)
	}
	return &p, nil
}

// LoadProfile reads and decodes a profile file.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile %s: %w", path, err)
	}
	p, err := ParseProfile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Database is a profile with every handle resolved, ordered by handle.
type Database struct {
	Name            string
	Services        []gatt.ServiceDef
	Characteristics []gatt.CharacteristicDef
	Descriptors     []gatt.DescriptorDef
}

// Build resolves handles and validates that they strictly increase and nest.
func (p *Profile) Build() (*Database, error) {
	db := &Database{Name: p.Name}

	var last uint16 // last handle in use
	next := func(explicit uint16, what string) (uint16, error) {
		if explicit == 0 {
			if last == gatt.MaxHandle {
				return 0, fmt.Errorf("%s: handle space exhausted", what)
			}
			return last + 1, nil
		}
		if explicit <= last {
			return 0, fmt.Errorf("%s: handle 0x%04x must be greater than 0x%04x", what, explicit, last)
		}
		return explicit, nil
	}

	for si, svc := range p.Services {
		what := fmt.Sprintf("service[%d] %s", si, svc.UUID)
		if svc.UUID.IsZero() {
			return nil, fmt.Errorf("%s: uuid is required", what)
		}

		start, err := next(svc.StartHandle, what)
		if err != nil {
			return nil, err
		}
		last = start

		for ci, chr := range svc.Characteristics {
			cwhat := fmt.Sprintf("%s characteristic[%d] %s", what, ci, chr.UUID)
			if chr.UUID.IsZero() {
				return nil, fmt.Errorf("%s: uuid is required", cwhat)
			}
			props, err := gatt.ParseProperties(chr.Properties)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", cwhat, err)
			}

			def, err := next(chr.DefHandle, cwhat)
			if err != nil {
				return nil, err
			}
			last = def
			val, err := next(0, cwhat)
			if err != nil {
				return nil, err
			}
			last = val

			db.Characteristics = append(db.Characteristics, gatt.CharacteristicDef{
				UUID:       chr.UUID,
				DefHandle:  def,
				ValHandle:  val,
				Properties: props,
			})

			for di, dsc := range chr.Descriptors {
				dwhat := fmt.Sprintf("%s descriptor[%d] %s", cwhat, di, dsc.UUID)
				if dsc.UUID.IsZero() {
					return nil, fmt.Errorf("%s: uuid is required", dwhat)
				}
				h, err := next(dsc.Handle, dwhat)
				if err != nil {
					return nil, err
				}
				last = h
				db.Descriptors = append(db.Descriptors, gatt.DescriptorDef{UUID: dsc.UUID, Handle: h})
			}
		}

		end := last
		if svc.EndHandle != 0 {
			if svc.EndHandle < last {
				return nil, fmt.Errorf("%s: end handle 0x%04x below last attribute 0x%04x", what, svc.EndHandle, last)
			}
			end = svc.EndHandle
			last = end
		}
		db.Services = append(db.Services, gatt.ServiceDef{UUID: svc.UUID, StartHandle: start, EndHandle: end})
	}

	return db, nil
}
