package main

import (
	"context"

	"github.com/go-ble/ble"

	"github.com/srg/blepeer/internal/testutils"
	"github.com/srg/blepeer/pkg/scan"
)

type fakeAdvertisement struct {
	ble.Advertisement

	addr, name string
	rssi       int
	services   []ble.UUID
}

func (a fakeAdvertisement) Addr() ble.Addr       { return ble.NewAddr(a.addr) }
func (a fakeAdvertisement) LocalName() string    { return a.name }
func (a fakeAdvertisement) RSSI() int            { return a.rssi }
func (a fakeAdvertisement) TxPowerLevel() int    { return 0 }
func (a fakeAdvertisement) Connectable() bool    { return true }
func (a fakeAdvertisement) Services() []ble.UUID { return a.services }

// fakeScanDevice delivers its advertisements and ends the scan.
type fakeScanDevice struct {
	advs []ble.Advertisement
}

func (d *fakeScanDevice) Scan(_ context.Context, _ bool, h ble.AdvHandler) error {
	for _, a := range d.advs {
		h(a)
	}
	return nil
}

func (s *CommandTestSuite) withScanDevice(advs ...ble.Advertisement) {
	original := scan.DeviceFactory
	scan.DeviceFactory = func() (scan.Device, error) { return &fakeScanDevice{advs: advs}, nil }
	s.T().Cleanup(func() { scan.DeviceFactory = original })
}

func (s *CommandTestSuite) TestScanTable() {
	s.withScanDevice(
		fakeAdvertisement{addr: "11:22:33:44:55:66", name: "Battery", rssi: -67, services: []ble.UUID{ble.UUID16(0x180f)}},
		fakeAdvertisement{addr: "aa:bb:cc:dd:ee:ff", name: "HRM", rssi: -45, services: []ble.UUID{ble.UUID16(0x180d), ble.UUID16(0x180a)}},
	)

	out, _, err := s.ExecuteCommand("scan", "--duration", "0")
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).Assert(out, `
NAME     ADDRESS            RSSI     SERVICES
HRM      AA:BB:CC:DD:EE:FF  -45 dBm  180d,180a
Battery  11:22:33:44:55:66  -67 dBm  180f
`)
}

func (s *CommandTestSuite) TestScanJSONWithServiceFilter() {
	s.withScanDevice(
		fakeAdvertisement{addr: "11:22:33:44:55:66", name: "Battery", rssi: -67, services: []ble.UUID{ble.UUID16(0x180f)}},
		fakeAdvertisement{addr: "aa:bb:cc:dd:ee:ff", name: "HRM", rssi: -45, services: []ble.UUID{ble.UUID16(0x180d)}},
	)

	out, _, err := s.ExecuteCommand("scan", "--duration", "0", "--services", "0x180F", "--format", "json")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(out, `[
		{"address": "11:22:33:44:55:66", "name": "Battery", "rssi": -67, "connectable": true, "services": ["180f"], "seen": 1}
	]`)
}

func (s *CommandTestSuite) TestScanNothingFound() {
	s.withScanDevice()

	out, _, err := s.ExecuteCommand("scan", "--duration", "0")
	s.Require().NoError(err)
	s.Equal("No devices discovered\n", out)
}

func (s *CommandTestSuite) TestScanRejectsInput() {
	_, _, err := s.ExecuteCommand("scan", "--format", "tree")
	s.EqualError(err, "invalid format 'tree': must be one of [table json yaml]")

	_, _, err = s.ExecuteCommand("scan", "--services", "xyz")
	s.Require().Error(err)
	s.Contains(err.Error(), "invalid service UUID")
}
