package inspect_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/blepeer/internal/events"
	"github.com/srg/blepeer/internal/gatt"
	"github.com/srg/blepeer/internal/testutils"
	"github.com/srg/blepeer/pkg/config"
	"github.com/srg/blepeer/pkg/connection"
	"github.com/srg/blepeer/pkg/inspect"
)

func heartRateProfile() *testutils.ProfileBuilder {
	return testutils.NewProfileBuilder().
		WithName("hrs").
		WithService("180d").
		WithCharacteristic("2a37", "notify").
		WithDescriptor("2902").
		WithCharacteristic("2a38", "read")
}

func TestInspectProfile(t *testing.T) {
	logger := testutils.NewTestHelper(t).Logger
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var mtx sync.Mutex
	var progress []events.Event
	var hrmValue uint16

	opts := inspect.OptionsFromConfig(config.DefaultConfig())
	opts.Progress = func(ev events.Event) {
		mtx.Lock()
		defer mtx.Unlock()
		progress = append(progress, ev)
	}
	opts.Inspect = func(peer *gatt.Peer) error {
		chr := peer.FindCharacteristic(gatt.UUID16(0x180d), gatt.UUID16(0x2a37))
		if chr == nil {
			return errors.New("heart rate measurement missing")
		}
		hrmValue = chr.ValHandle
		return nil
	}

	res, err := inspect.InspectProfile(ctx, heartRateProfile().Profile(), opts, logger)
	require.NoError(t, err)

	assert.Equal(t, "profile", res.Source)
	assert.Equal(t, "hrs", res.Name)
	assert.Equal(t, "done", res.Profile.State)
	require.Len(t, res.Profile.Services, 1)
	assert.Equal(t, uint16(3), hrmValue)
	assert.Equal(t, 1, res.Stats.Services.InUse, "stats MUST be taken before release")

	assert.Equal(t, []string{
		"conn=1 peer_added",
		"conn=1 state_changed discovering_services",
		"conn=1 state_changed discovering_characteristics",
		"conn=1 state_changed discovering_descriptors",
		"conn=1 state_changed done",
		"conn=1 peer_deleted",
	}, res.Events)

	mtx.Lock()
	defer mtx.Unlock()
	assert.Len(t, progress, len(res.Events), "progress MUST see every event")
}

func TestInspectProfile_Errors(t *testing.T) {
	logger := testutils.NewTestHelper(t).Logger
	ctx := context.Background()

	t.Run("invalid profile", func(t *testing.T) {
		p := testutils.NewProfileBuilder().WithServiceRange("180d", 10, 5).Profile()
		_, err := inspect.InspectProfile(ctx, p, nil, logger)
		require.Error(t, err)
	})

	t.Run("pool exhaustion keeps partial result", func(t *testing.T) {
		opts := inspect.OptionsFromConfig(config.DefaultConfig())
		opts.Capacity.MaxCharacteristics = 1

		res, err := inspect.InspectProfile(ctx, heartRateProfile().Profile(), opts, logger)
		require.Error(t, err)
		assert.ErrorIs(t, err, gatt.ErrPoolExhausted)
		require.NotNil(t, res)
		assert.Equal(t, "error", res.Profile.State)
		require.Len(t, res.Profile.Services, 1)
		assert.Len(t, res.Profile.Services[0].Characteristics, 1)
	})

	t.Run("inspect callback error", func(t *testing.T) {
		opts := inspect.OptionsFromConfig(config.DefaultConfig())
		opts.Inspect = func(*gatt.Peer) error { return errors.New("not what I wanted") }

		_, err := inspect.InspectProfile(ctx, heartRateProfile().Profile(), opts, logger)
		assert.EqualError(t, err, "not what I wanted")
	})
}

// bleClient answers every procedure with an empty result.
type bleClient struct {
	disconnected chan struct{}
}

func (c *bleClient) DiscoverServices([]ble.UUID) ([]*ble.Service, error) {
	return []*ble.Service{{UUID: ble.UUID16(0x1800), Handle: 1, EndHandle: 1}}, nil
}

func (c *bleClient) DiscoverCharacteristics([]ble.UUID, *ble.Service) ([]*ble.Characteristic, error) {
	return nil, nil
}

func (c *bleClient) DiscoverDescriptors([]ble.UUID, *ble.Characteristic) ([]*ble.Descriptor, error) {
	return nil, nil
}

func (c *bleClient) CancelConnection() error       { return nil }
func (c *bleClient) Disconnected() <-chan struct{} { return c.disconnected }

func TestInspectDevice(t *testing.T) {
	logger := testutils.NewTestHelper(t).Logger
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	opts := inspect.OptionsFromConfig(config.DefaultConfig())
	opts.Dial = func(_ context.Context, address string, _ time.Duration, _ *logrus.Logger) (connection.Client, error) {
		assert.Equal(t, "AA:BB:CC:DD:EE:FF", address)
		return &bleClient{disconnected: make(chan struct{})}, nil
	}

	res, err := inspect.InspectDevice(ctx, "AA:BB:CC:DD:EE:FF", opts, logger)
	require.NoError(t, err)
	assert.Equal(t, "device", res.Source)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", res.Name)
	require.Len(t, res.Profile.Services, 1)
	assert.Equal(t, gatt.UUID16(0x1800), res.Profile.Services[0].UUID)

	opts.Dial = func(context.Context, string, time.Duration, *logrus.Logger) (connection.Client, error) {
		return nil, errors.New("adapter powered off")
	}
	_, err = inspect.InspectDevice(ctx, "AA:BB:CC:DD:EE:FF", opts, logger)
	assert.EqualError(t, err, "adapter powered off")
}
