// Package bledb names well-known Bluetooth SIG attribute types for display.
package bledb

import (
	"strings"

	"github.com/srg/blepeer/internal/gatt"
)

var services = map[uint16]string{
	0x1800: "Generic Access",
	0x1801: "Generic Attribute",
	0x1802: "Immediate Alert",
	0x1803: "Link Loss",
	0x1804: "Tx Power",
	0x1805: "Current Time",
	0x180a: "Device Information",
	0x180d: "Heart Rate",
	0x180f: "Battery Service",
	0x1810: "Blood Pressure",
	0x1812: "Human Interface Device",
	0x1816: "Cycling Speed and Cadence",
	0x1818: "Cycling Power",
	0x1819: "Location and Navigation",
	0x181a: "Environmental Sensing",
	0x181c: "User Data",
	0x1826: "Fitness Machine",
	0xfe59: "Nordic DFU",
}

var characteristics = map[uint16]string{
	0x2a00: "Device Name",
	0x2a01: "Appearance",
	0x2a04: "Peripheral Preferred Connection Parameters",
	0x2a05: "Service Changed",
	0x2a06: "Alert Level",
	0x2a07: "Tx Power Level",
	0x2a19: "Battery Level",
	0x2a23: "System ID",
	0x2a24: "Model Number String",
	0x2a25: "Serial Number String",
	0x2a26: "Firmware Revision String",
	0x2a27: "Hardware Revision String",
	0x2a28: "Software Revision String",
	0x2a29: "Manufacturer Name String",
	0x2a2b: "Current Time",
	0x2a37: "Heart Rate Measurement",
	0x2a38: "Body Sensor Location",
	0x2a39: "Heart Rate Control Point",
	0x2a4d: "Report",
	0x2a6e: "Temperature",
	0x2a6f: "Humidity",
	0x2aa6: "Central Address Resolution",
}

var descriptors = map[uint16]string{
	0x2900: "Characteristic Extended Properties",
	0x2901: "Characteristic User Descriptor",
	0x2902: "Client Characteristic Configuration",
	0x2903: "Server Characteristic Configuration",
	0x2904: "Characteristic Presentation Format",
	0x2905: "Characteristic Aggregate Format",
	0x2908: "Report Reference",
}

var vendor = map[gatt.UUID]string{
	gatt.MustParseUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e"): "Nordic UART Service",
	gatt.MustParseUUID("6e400002-b5a3-f393-e0a9-e50e24dcca9e"): "Nordic UART RX",
	gatt.MustParseUUID("6e400003-b5a3-f393-e0a9-e50e24dcca9e"): "Nordic UART TX",
}

// NormalizeUUID returns the short lowercase form of a UUID string: four hex digits
// for SIG UUIDs, 32 dash-less digits otherwise. Unparsable input is returned
// trimmed and lowercased.
func NormalizeUUID(s string) string {
	u, err := gatt.ParseUUID(s)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(s))
	}
	return strings.ReplaceAll(u.String(), "-", "")
}

// ServiceName returns the known name of a service UUID, or "".
func ServiceName(u gatt.UUID) string {
	return name(services, u)
}

// CharacteristicName returns the known name of a characteristic UUID, or "".
func CharacteristicName(u gatt.UUID) string {
	return name(characteristics, u)
}

// DescriptorName returns the known name of a descriptor UUID, or "".
func DescriptorName(u gatt.UUID) string {
	return name(descriptors, u)
}

func name(table map[uint16]string, u gatt.UUID) string {
	if v, ok := u.Uint16(); ok {
		return table[v]
	}
	return vendor[u]
}

// LookupService is ServiceName for a UUID string in any accepted form.
func LookupService(s string) string {
	return lookup(s, ServiceName)
}

// LookupCharacteristic is CharacteristicName for a UUID string.
func LookupCharacteristic(s string) string {
	return lookup(s, CharacteristicName)
}

// LookupDescriptor is DescriptorName for a UUID string.
func LookupDescriptor(s string) string {
	return lookup(s, DescriptorName)
}

func lookup(s string, fn func(gatt.UUID) string) string {
	u, err := gatt.ParseUUID(s)
	if err != nil {
		return ""
	}
	return fn(u)
}
