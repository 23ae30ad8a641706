package goble

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// DeviceFactory creates the platform HCI device. It is a variable so tests can
// replace it.
var DeviceFactory = newPlatformDevice

// Dial opens the platform device and connects to address.
func Dial(ctx context.Context, address string, timeout time.Duration, logger *logrus.Logger) (ble.Client, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}

	dev, err := DeviceFactory()
	if err != nil {
		logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	logger.WithFields(logrus.Fields{
		"address": address,
		"timeout": timeout,
	}).Info("Connecting to BLE device...")

	client, err := ble.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to dial BLE device")
		return nil, fmt.Errorf("failed to connect to device with address %q: %w", address, err)
	}
	return client, nil
}
