package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/srg/blepeer/internal/gatt"
	"github.com/srg/blepeer/pkg/connection"
)

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "pool exhaustion names the config key",
			err:  fmt.Errorf("discovery failed: %w", &gatt.PoolError{Kind: gatt.KindDescriptor, Capacity: 4}),
			want: "discovery failed: descriptor pool exhausted (capacity 4); raise pools.descriptors in the configuration file",
		},
		{
			name: "deadline",
			err:  fmt.Errorf("connect: %w", context.DeadlineExceeded),
			want: "connect: context deadline exceeded; the device did not answer in time",
		},
		{
			name: "not connected",
			err:  connection.ErrNotConnected,
			want: connection.ErrNotConnected.Error() + "; is the device connected?",
		},
		{
			name: "enotconn status",
			err:  gatt.NewTransportError(gatt.ProcDiscoverServices, gatt.StatusENotConn),
			want: "discover services: status=7 (enotconn); is the device connected?",
		},
		{
			name: "att rejection",
			err:  gatt.NewTransportError(gatt.ProcDiscoverDescriptors, gatt.StatusATTInsufficientAuthen),
			want: "discover descriptors: status=261 (att_insufficient_authen); the device rejected the request",
		},
		{
			name: "plain error passes through",
			err:  errors.New("boom"),
			want: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatUserError(tt.err))
		})
	}
}
