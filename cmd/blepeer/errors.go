package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/blepeer/internal/gatt"
	"github.com/srg/blepeer/pkg/connection"
)

// Command-level errors
var (
	// ErrNotFound is returned by find when no attribute matches.
	ErrNotFound = errors.New("not found")
	// ErrAmbiguous is returned by find when a UUID matches in several places and
	// no --service narrows it down.
	ErrAmbiguous = errors.New("ambiguous")
)

// FormatUserError turns an error chain into a one-line message for the terminal.
func FormatUserError(err error) string {
	var poolErr *gatt.PoolError
	switch {
	case errors.As(err, &poolErr):
		return fmt.Sprintf("%v; raise pools.%ss in the configuration file", err, poolErr.Kind)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%v; the device did not answer in time", err)
	case errors.Is(err, connection.ErrNotConnected), gatt.StatusOf(err) == gatt.StatusENotConn:
		return fmt.Sprintf("%v; is the device connected?", err)
	}

	if terr := gatt.ToTransport(err); terr != nil && terr.Status >= gatt.StatusATTBase && terr.Status < gatt.StatusHCIBase {
		return fmt.Sprintf("%v; the device rejected the request", err)
	}
	return err.Error()
}
