package main

import (
	"fmt"
	"strings"

	"github.com/srg/blepeer/internal/bledb"
	"github.com/srg/blepeer/internal/gatt"
)

// target is what find resolved: a characteristic and, for descriptor lookups,
// one of its descriptors.
type target struct {
	Service        *gatt.Service
	Characteristic *gatt.Characteristic
	Descriptor     *gatt.Descriptor
}

// resolveTarget locates an attribute on a discovered peer.
//
// Resolution cases:
//  1. --service given: direct lookup through the peer's Find* API; the
//     characteristic comes from --char or the positional UUID.
//  2. No --service: every service is searched for the positional UUID, as a
//     service or characteristic or, with --desc, as a descriptor. More than one
//     match is an error naming the candidates.
func resolveTarget(peer *gatt.Peer, targetUUID, serviceUUID, charUUID, descUUID string) (target, error) {
	if serviceUUID != "" {
		return resolveExplicit(peer, targetUUID, serviceUUID, charUUID, descUUID)
	}
	if targetUUID == "" {
		return target{}, fmt.Errorf("a UUID or --service is required")
	}

	want, err := gatt.ParseUUID(targetUUID)
	if err != nil {
		return target{}, err
	}

	var found []target
	for _, svc := range peer.Services() {
		if descUUID == "" && svc.UUID == want {
			found = append(found, target{Service: svc})
		}
		for _, chr := range svc.Characteristics() {
			if descUUID == "" {
				if chr.UUID == want {
					found = append(found, target{Service: svc, Characteristic: chr})
				}
				continue
			}
			if dsc := chr.FindDescriptor(want); dsc != nil {
				found = append(found, target{Service: svc, Characteristic: chr, Descriptor: dsc})
			}
		}
	}

	switch len(found) {
	case 0:
		return target{}, fmt.Errorf("%s: %w", describe(want), ErrNotFound)
	case 1:
		return found[0], nil
	default:
		var where []string
		for _, t := range found {
			if t.Characteristic == nil {
				where = append(where, t.Service.UUID.String())
				continue
			}
			where = append(where, fmt.Sprintf("%s/%s", t.Service.UUID, t.Characteristic.UUID))
		}
		return target{}, fmt.Errorf("%s is %w: found in %s; use --service and --char",
			describe(want), ErrAmbiguous, strings.Join(where, ", "))
	}
}

func resolveExplicit(peer *gatt.Peer, targetUUID, serviceUUID, charUUID, descUUID string) (target, error) {
	svcUUID, err := gatt.ParseUUID(serviceUUID)
	if err != nil {
		return target{}, err
	}
	svc := peer.FindService(svcUUID)
	if svc == nil {
		return target{}, fmt.Errorf("service %s: %w", describe(svcUUID), ErrNotFound)
	}

	charStr := charUUID
	if charStr == "" {
		charStr = targetUUID
	}
	if charStr == "" {
		if descUUID != "" {
			return target{}, fmt.Errorf("--desc requires --char or a characteristic UUID argument")
		}
		return target{Service: svc}, nil
	}
	chrUUID, err := gatt.ParseUUID(charStr)
	if err != nil {
		return target{}, err
	}
	chr := peer.FindCharacteristic(svcUUID, chrUUID)
	if chr == nil {
		return target{}, fmt.Errorf("characteristic %s in service %s: %w", describe(chrUUID), svcUUID, ErrNotFound)
	}
	if descUUID == "" {
		return target{Service: svc, Characteristic: chr}, nil
	}

	dscUUID, err := gatt.ParseUUID(descUUID)
	if err != nil {
		return target{}, err
	}
	dsc := peer.FindDescriptor(svcUUID, chrUUID, dscUUID)
	if dsc == nil {
		return target{}, fmt.Errorf("descriptor %s in characteristic %s: %w", describe(dscUUID), chrUUID, ErrNotFound)
	}
	return target{Service: svc, Characteristic: chr, Descriptor: dsc}, nil
}

// describe renders a UUID with its well-known name when there is one.
func describe(u gatt.UUID) string {
	for _, name := range []string{bledb.ServiceName(u), bledb.CharacteristicName(u), bledb.DescriptorName(u)} {
		if name != "" {
			return fmt.Sprintf("%s (%s)", u, name)
		}
	}
	return u.String()
}
