package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/srg/blepeer/internal/gatt"
	"github.com/srg/blepeer/internal/transport/sim"
)

// ProfileBuilder builds simulated peripheral profiles for tests.
type ProfileBuilder struct {
	profile sim.Profile
}

// NewProfileBuilder creates an empty profile builder.
func NewProfileBuilder() *ProfileBuilder {
	return &ProfileBuilder{}
}

// WithName sets the profile name.
func (b *ProfileBuilder) WithName(name string) *ProfileBuilder {
	b.profile.Name = name
	return b
}

// WithService appends a service with sequentially assigned handles.
func (b *ProfileBuilder) WithService(uuid string) *ProfileBuilder {
	b.profile.Services = append(b.profile.Services, sim.Service{UUID: gatt.MustParseUUID(uuid)})
	return b
}

// WithServiceRange appends a service with explicit start and end handles.
func (b *ProfileBuilder) WithServiceRange(uuid string, start, end uint16) *ProfileBuilder {
	b.profile.Services = append(b.profile.Services, sim.Service{
		UUID:        gatt.MustParseUUID(uuid),
		StartHandle: start,
		EndHandle:   end,
	})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *ProfileBuilder) WithCharacteristic(uuid, properties string) *ProfileBuilder {
	svc := b.lastService("WithCharacteristic")
	svc.Characteristics = append(svc.Characteristics, sim.Characteristic{
		UUID:       gatt.MustParseUUID(uuid),
		Properties: properties,
	})
	return b
}

// WithDescriptor adds a descriptor to the last added characteristic.
func (b *ProfileBuilder) WithDescriptor(uuid string) *ProfileBuilder {
	svc := b.lastService("WithDescriptor")
	if len(svc.Characteristics) == 0 {
		panic("WithDescriptor: no characteristic added yet, call WithCharacteristic first")
	}
	chr := &svc.Characteristics[len(svc.Characteristics)-1]
	chr.Descriptors = append(chr.Descriptors, sim.Descriptor{UUID: gatt.MustParseUUID(uuid)})
	return b
}

// FromJSON replaces the profile with the decoded JSON document.
func (b *ProfileBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *ProfileBuilder {
	var p sim.Profile
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &p); err != nil {
		panic(fmt.Sprintf("ProfileBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	b.profile = p
	return b
}

func (b *ProfileBuilder) lastService(caller string) *sim.Service {
	if len(b.profile.Services) == 0 {
		panic(caller + ": no service added yet, call WithService first")
	}
	return &b.profile.Services[len(b.profile.Services)-1]
}

// Profile returns a copy of the built profile.
func (b *ProfileBuilder) Profile() *sim.Profile {
	p := b.profile
	return &p
}

// Build resolves handles, panicking on an invalid profile.
func (b *ProfileBuilder) Build() *sim.Database {
	db, err := b.profile.Build()
	if err != nil {
		panic(fmt.Sprintf("ProfileBuilder.Build: %v", err))
	}
	return db
}
