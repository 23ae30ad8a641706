// Package connection binds a real BLE link to a host: it dials the device,
// registers the link with the peer cache and releases it when the link drops.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/srg/blepeer/internal/gatt"
	"github.com/srg/blepeer/internal/transport/goble"
	"github.com/srg/blepeer/pkg/host"
)

// ErrNotConnected is returned when an operation needs an established link.
var ErrNotConnected = errors.New("not connected")

// Client is the part of ble.Client a connection uses.
type Client interface {
	goble.Client
	CancelConnection() error
	Disconnected() <-chan struct{}
}

// Dialer opens a link to address.
type Dialer func(ctx context.Context, address string, timeout time.Duration, logger *logrus.Logger) (Client, error)

// DialBLE dials through the platform go-ble device.
func DialBLE(ctx context.Context, address string, timeout time.Duration, logger *logrus.Logger) (Client, error) {
	return goble.Dial(ctx, address, timeout, logger)
}

// ConnectOptions configures the BLE connection
type ConnectOptions struct {
	DeviceAddress  string
	ConnectTimeout time.Duration
	// ConnHandle is the key the link is registered under in the host.
	ConnHandle uint16
}

// DefaultConnectOptions returns sensible defaults for a BLE connection
func DefaultConnectOptions(deviceAddress string) *ConnectOptions {
	return &ConnectOptions{
		DeviceAddress:  deviceAddress,
		ConnectTimeout: 30 * time.Second,
		ConnHandle:     1,
	}
}

// Connection is one link registered with a host.
type Connection struct {
	host      *host.Host
	transport *goble.Transport
	dial      Dialer
	logger    *logrus.Logger

	connMutex   sync.RWMutex
	client      Client
	conn        uint16
	address     string
	isConnected bool
	released    chan struct{}
}

// NewConnection creates a connection; dial nil selects DialBLE.
func NewConnection(h *host.Host, transport *goble.Transport, dial Dialer, logger *logrus.Logger) *Connection {
	if logger == nil {
		logger = logrus.New()
	}
	if dial == nil {
		dial = DialBLE
	}
	return &Connection{
		host:      h,
		transport: transport,
		dial:      dial,
		logger:    logger,
	}
}

// Connect dials the device and registers the link under opts.ConnHandle.
func (c *Connection) Connect(ctx context.Context, opts *ConnectOptions) error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if c.isConnected {
		return fmt.Errorf("already connected to %s", c.address)
	}

	client, err := c.dial(ctx, opts.DeviceAddress, opts.ConnectTimeout, c.logger)
	if err != nil {
		return err
	}

	if err := c.host.AddPeer(ctx, opts.ConnHandle); err != nil {
		_ = client.CancelConnection()
		return fmt.Errorf("failed to register connection: %w", err)
	}
	c.transport.Attach(opts.ConnHandle, client)

	c.client = client
	c.conn = opts.ConnHandle
	c.address = opts.DeviceAddress
	c.isConnected = true
	c.released = make(chan struct{})
	go c.watch(client, opts.ConnHandle, c.released)

	c.logger.WithFields(logrus.Fields{
		"address":     opts.DeviceAddress,
		"conn_handle": opts.ConnHandle,
	}).Info("Connected to device")
	return nil
}

// watch releases the peer when the link drops on its own.
func (c *Connection) watch(client Client, conn uint16, released <-chan struct{}) {
	select {
	case <-released:
		return
	case <-client.Disconnected():
	}

	c.logger.WithField("conn_handle", conn).Warn("Device disconnected")
	c.connMutex.Lock()
	defer c.connMutex.Unlock()
	if !c.isConnected || c.client != client {
		return
	}
	c.release(context.Background())
}

// ConnHandle returns the handle the link is registered under.
func (c *Connection) ConnHandle() uint16 {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.conn
}

// IsConnected reports whether the link is up.
func (c *Connection) IsConnected() bool {
	c.connMutex.RLock()
	defer c.connMutex.RUnlock()
	return c.isConnected
}

// Discover walks the remote attribute database.
func (c *Connection) Discover(ctx context.Context) (gatt.Profile, error) {
	c.connMutex.RLock()
	connected, conn := c.isConnected, c.conn
	c.connMutex.RUnlock()

	if !connected {
		return gatt.Profile{}, ErrNotConnected
	}
	return c.host.Discover(ctx, conn)
}

// Disconnect releases the peer and drops the link.
func (c *Connection) Disconnect(ctx context.Context) error {
	c.connMutex.Lock()
	defer c.connMutex.Unlock()

	if !c.isConnected {
		return ErrNotConnected
	}
	return c.release(ctx)
}

func (c *Connection) release(ctx context.Context) error {
	close(c.released)
	c.isConnected = false

	var errs []error
	if err := c.host.DeletePeer(ctx, c.conn); err != nil && !errors.Is(err, host.ErrClosed) {
		errs = append(errs, err)
	}
	c.transport.Detach(c.conn)
	if err := c.client.CancelConnection(); err != nil {
		errs = append(errs, fmt.Errorf("failed to cancel connection: %w", err))
	}

	c.logger.WithField("conn_handle", c.conn).Debug("Connection released")
	return errors.Join(errs...)
}
