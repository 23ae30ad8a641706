// Package scan finds advertising peripherals so a central can pick one to
// connect to and discover.
package scan

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"

	"github.com/srg/blepeer/internal/events"
	"github.com/srg/blepeer/internal/gatt"
	"github.com/srg/blepeer/internal/transport/goble"
)

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// Device is the part of ble.Device a scan needs.
type Device interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
}

// DeviceFactory opens the platform device. It is a variable so tests can
// replace it.
var DeviceFactory = func() (Device, error) {
	return goble.DeviceFactory()
}

// EventType marks if the device was newly discovered or updated
type EventType int

const (
	EventNew EventType = iota
	EventUpdated
)

func (t EventType) String() string {
	if t == EventNew {
		return "new"
	}
	return "updated"
}

type Event struct {
	Type   EventType
	Device DeviceInfo
}

// DeviceInfo is what a scan learned about one advertiser.
type DeviceInfo struct {
	Address     string      `json:"address" yaml:"address"`
	Name        string      `json:"name,omitempty" yaml:"name,omitempty"`
	RSSI        int         `json:"rssi" yaml:"rssi"`
	TxPower     int         `json:"tx_power,omitempty" yaml:"tx_power,omitempty"`
	Connectable bool        `json:"connectable" yaml:"connectable"`
	Services    []gatt.UUID `json:"services,omitempty" yaml:"services,omitempty"`
	Seen        int         `json:"seen" yaml:"seen"`
	LastSeen    time.Time   `json:"last_seen" yaml:"last_seen"`
}

// Options configures scanning behavior
type Options struct {
	Duration        time.Duration
	DuplicateFilter bool
	ServiceUUIDs    []gatt.UUID
	AllowList       []string
	BlockList       []string
}

// DefaultOptions returns default scanning options
func DefaultOptions() *Options {
	return &Options{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
	}
}

// Scanner handles BLE device discovery
type Scanner struct {
	devices *hashmap.Map[string, DeviceInfo]
	events  *events.RingChannel[Event]
	logger  *logrus.Logger
	opts    *Options
}

// NewScanner creates a scanner whose event feed keeps the last eventDepth
// advertisements.
func NewScanner(eventDepth int, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	if eventDepth <= 0 {
		eventDepth = 100
	}
	return &Scanner{
		events: events.NewRingChannel[Event](eventDepth),
		logger: logger,
	}
}

// Scan listens for advertisements until opts.Duration elapses or ctx is
// done, then returns the matching devices, strongest signal first. Running
// out of time is the normal end of a scan, not an error. A Scanner runs one
// scan at a time.
func (s *Scanner) Scan(ctx context.Context, opts *Options, progress ProgressCallback) ([]DeviceInfo, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if progress == nil {
		progress = func(string) {}
	}

	s.devices = hashmap.New[string, DeviceInfo]()
	s.opts = opts
	defer func() { s.opts = nil }()

	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progress("scanning")

	err = dev.Scan(ctx, opts.DuplicateFilter, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	progress("processing results")
	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")

	return s.results(), nil
}

// handleAdvertisement updates existing or adds a new device
func (s *Scanner) handleAdvertisement(adv ble.Advertisement) {
	addr := strings.ToUpper(adv.Addr().String())

	info, existing := s.devices.Get(addr)
	if !existing {
		if !s.include(addr, adv) {
			return
		}
		info = DeviceInfo{Address: addr}
	}

	info.Seen++
	info.LastSeen = time.Now()
	info.RSSI = adv.RSSI()
	info.TxPower = adv.TxPowerLevel()
	info.Connectable = adv.Connectable()
	if name := adv.LocalName(); name != "" {
		info.Name = name
	}
	for _, u := range adv.Services() {
		if gu, err := gatt.FromBLE(u); err == nil && !containsUUID(info.Services, gu) {
			info.Services = append(info.Services, gu)
		}
	}
	s.devices.Set(addr, info)

	ev := Event{Type: EventUpdated, Device: info}
	if !existing {
		ev.Type = EventNew
		s.logger.WithFields(logrus.Fields{
			"device":  info.Name,
			"address": addr,
			"rssi":    info.RSSI,
		}).Info("Discovered new device")
	}
	s.events.Send(ev)
}

// include applies the allow, block and service filters.
func (s *Scanner) include(addr string, adv ble.Advertisement) bool {
	opts := s.opts

	for _, blocked := range opts.BlockList {
		if strings.EqualFold(addr, blocked) {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if strings.EqualFold(addr, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(opts.ServiceUUIDs) == 0 {
		return true
	}
	for _, u := range adv.Services() {
		gu, err := gatt.FromBLE(u)
		if err == nil && containsUUID(opts.ServiceUUIDs, gu) {
			return true
		}
	}
	return false
}

func (s *Scanner) results() []DeviceInfo {
	devs := make([]DeviceInfo, 0, s.devices.Len())
	s.devices.Range(func(_ string, info DeviceInfo) bool {
		devs = append(devs, info)
		return true
	})
	sort.Slice(devs, func(i, j int) bool {
		if devs[i].RSSI != devs[j].RSSI {
			return devs[i].RSSI > devs[j].RSSI
		}
		return devs[i].Address < devs[j].Address
	})
	return devs
}

// Events returns a read-only feed of device events. Old events are dropped
// when the reader falls behind.
func (s *Scanner) Events() <-chan Event {
	return s.events.C()
}

func containsUUID(list []gatt.UUID, u gatt.UUID) bool {
	for _, v := range list {
		if v == u {
			return true
		}
	}
	return false
}
