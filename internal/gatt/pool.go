package gatt

// RecordKind identifies one of the record pools.
type RecordKind int

const (
	KindPeer RecordKind = iota
	KindService
	KindCharacteristic
	KindDescriptor
)

func (k RecordKind) String() string {
	switch k {
	case KindPeer:
		return "peer"
	case KindService:
		return "service"
	case KindCharacteristic:
		return "characteristic"
	case KindDescriptor:
		return "descriptor"
	default:
		return "unknown"
	}
}

// Slot identifies an acquired pool record. The generation changes every time the
// slot is reused, so a stale Slot never resolves to the record's next owner.
// The zero Slot is never valid.
type Slot struct {
	index int32
	gen   uint32
}

// Valid reports whether s was produced by Acquire.
func (s Slot) Valid() bool {
	return s.gen != 0
}

// Pool is a fixed-capacity arena of T with a LIFO free-list of indices.
// Records never move, so pointers handed out by Acquire stay valid until Release.
// Pool is not safe for concurrent use.
type Pool[T any] struct {
	kind  RecordKind
	items []T
	gens  []uint32
	inUse []bool
	free  []int32
}

// NewPool creates a pool with room for capacity records.
func NewPool[T any](kind RecordKind, capacity int) *Pool[T] {
	if capacity < 0 {
		capacity = 0
	}
	p := &Pool[T]{
		kind:  kind,
		items: make([]T, capacity),
		gens:  make([]uint32, capacity),
		inUse: make([]bool, capacity),
		free:  make([]int32, 0, capacity),
	}
	// Lowest index on top so slots are handed out in order.
	for i := capacity - 1; i >= 0; i-- {
		p.free = append(p.free, int32(i))
	}
	return p
}

// Acquire takes a zeroed record from the pool. It fails with a *PoolError when
// every slot is in use; exhaustion is never retried.
func (p *Pool[T]) Acquire() (*T, Slot, error) {
	n := len(p.free)
	if n == 0 {
		return nil, Slot{}, &PoolError{Kind: p.kind, Capacity: len(p.items)}
	}

	idx := p.free[n-1]
	p.free = p.free[:n-1]

	p.gens[idx]++
	if p.gens[idx] == 0 {
		p.gens[idx] = 1
	}
	p.inUse[idx] = true

	return &p.items[idx], Slot{index: idx, gen: p.gens[idx]}, nil
}

// Get resolves a slot to its record, or false if the slot was released or reused.
func (p *Pool[T]) Get(s Slot) (*T, bool) {
	if !p.owns(s) {
		return nil, false
	}
	return &p.items[s.index], true
}

// Release zeroes the record and returns its slot to the free-list.
// Releasing a stale or foreign slot is a no-op and reports false.
func (p *Pool[T]) Release(s Slot) bool {
	if !p.owns(s) {
		return false
	}

	var zero T
	p.items[s.index] = zero
	p.inUse[s.index] = false
	p.free = append(p.free, s.index)
	return true
}

func (p *Pool[T]) owns(s Slot) bool {
	if !s.Valid() || s.index < 0 || int(s.index) >= len(p.items) {
		return false
	}
	return p.inUse[s.index] && p.gens[s.index] == s.gen
}

// Kind returns the record kind the pool holds.
func (p *Pool[T]) Kind() RecordKind {
	return p.kind
}

// Cap returns the fixed capacity.
func (p *Pool[T]) Cap() int {
	return len(p.items)
}

// InUse returns the number of acquired records.
func (p *Pool[T]) InUse() int {
	return len(p.items) - len(p.free)
}

// Available returns the number of free slots.
func (p *Pool[T]) Available() int {
	return len(p.free)
}
