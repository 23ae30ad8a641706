package gatt

import (
	"errors"
	"fmt"
)

// Registry misuse and lifecycle errors. All are returned wrapped with the
// connection handle, so compare with errors.Is.
var (
	ErrDuplicateConnection = errors.New("duplicate connection")
	ErrUnknownConnection   = errors.New("unknown connection")
	ErrRegistryFull        = errors.New("peer registry full")
	ErrPoolExhausted       = errors.New("pool exhausted")
	ErrAlreadyDiscovering  = errors.New("discovery already in progress")

	// ErrOrphanAttribute aborts a walk when a transport reports an attribute that
	// falls outside the handle range of the service or characteristic being expanded.
	ErrOrphanAttribute = errors.New("attribute outside parent handle range")

	// ErrPeerDeleted is delivered to the completion callback of a walk whose peer
	// was deleted before the walk finished.
	ErrPeerDeleted = errors.New("peer deleted during discovery")
)

// PoolError reports which record pool ran dry. It matches ErrPoolExhausted
// (and ErrRegistryFull for the peer pool) under errors.Is.
type PoolError struct {
	Kind     RecordKind
	Capacity int
}

func (e *PoolError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s pool exhausted (capacity %d)", e.Kind, e.Capacity)
}

// Is allows errors.Is(err, ErrPoolExhausted) and, for peers, ErrRegistryFull.
func (e *PoolError) Is(target error) bool {
	if e == nil {
		return false
	}
	if target == ErrPoolExhausted {
		return true
	}
	return target == ErrRegistryFull && e.Kind == KindPeer
}

// Procedure names a transport discovery procedure.
type Procedure string

const (
	ProcDiscoverServices        Procedure = "discover services"
	ProcDiscoverCharacteristics Procedure = "discover characteristics"
	ProcDiscoverDescriptors     Procedure = "discover descriptors"
)

// TransportError carries a non-success status reported by a discovery procedure.
// The status is passed through verbatim to the completion callback.
type TransportError struct {
	Proc   Procedure
	Status Status
}

func NewTransportError(proc Procedure, status Status) *TransportError {
	return &TransportError{
		Proc:   proc,
		Status: status,
	}
}

func (e *TransportError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Proc == "" {
		return fmt.Sprintf("transport error: status=%d (%s)", int(e.Status), e.Status)
	}
	return fmt.Sprintf("%s: status=%d (%s)", e.Proc, int(e.Status), e.Status)
}

// Is matches another *TransportError with the same status, ignoring the procedure
// when the target leaves it empty.
func (e *TransportError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*TransportError)
	if !ok {
		return false
	}
	return e.Status == t.Status && (t.Proc == "" || t.Proc == e.Proc)
}

// IsTransport reports whether err carries a transport status.
func IsTransport(err error) bool {
	return ToTransport(err) != nil
}

// ToTransport extracts the *TransportError from err, or nil.
func ToTransport(err error) *TransportError {
	var terr *TransportError
	if errors.As(err, &terr) {
		return terr
	}
	return nil
}

// StatusOf returns the transport status carried by err; StatusOK for nil and
// StatusEUnknown for errors that carry no status.
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	if terr := ToTransport(err); terr != nil {
		return terr.Status
	}
	if errors.Is(err, ErrPoolExhausted) {
		return StatusENoMem
	}
	if errors.Is(err, ErrUnknownConnection) || errors.Is(err, ErrPeerDeleted) {
		return StatusENotConn
	}
	if errors.Is(err, ErrAlreadyDiscovering) {
		return StatusEAlready
	}
	return StatusEUnknown
}
