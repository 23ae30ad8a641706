// Package events carries discovery progress out of the event loop: a lossy ring
// channel that never blocks the loop, and a collector that keeps the most recent
// events for transcripts.
package events

import (
	"fmt"
	"time"

	"github.com/srg/blepeer/internal/gatt"
)

// Kind classifies an Event.
type Kind int

const (
	PeerAdded Kind = iota
	PeerDeleted
	StateChanged
)

func (k Kind) String() string {
	switch k {
	case PeerAdded:
		return "peer_added"
	case PeerDeleted:
		return "peer_deleted"
	case StateChanged:
		return "state_changed"
	default:
		return fmt.Sprintf("kind_%d", int(k))
	}
}

// Event is one registry notification.
type Event struct {
	Time       time.Time
	Kind       Kind
	ConnHandle uint16
	State      gatt.DiscState
	Err        error
}

func (e Event) String() string {
	s := fmt.Sprintf("conn=%d %s", e.ConnHandle, e.Kind)
	if e.Kind == StateChanged {
		s += " " + e.State.String()
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}
