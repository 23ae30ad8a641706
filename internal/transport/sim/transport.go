package sim

import (
	"fmt"
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/blepeer/internal/gatt"
)

// Poster schedules fn on the goroutine that owns the registry.
type Poster interface {
	Post(fn func()) error
}

// Fault makes a procedure fail. Call selects the nth invocation (1-based) of Proc
// across all connections; zero matches every invocation.
type Fault struct {
	Proc gatt.Procedure
	Call int

	// Sync fails the call itself instead of reporting Status asynchronously.
	Sync bool
	// After is the number of results delivered before Status.
	After  int
	Status gatt.Status
	// Stall delivers the first After results and never completes the
	// procedure, like a peripheral that stops answering.
	Stall bool
}

// Call records one procedure issued against the transport.
type Call struct {
	Proc  gatt.Procedure
	Conn  uint16
	Start uint16
	End   uint16
}

// Transport serves attached databases. It is safe for concurrent use; callbacks
// run through the Poster, never inside the issuing call.
type Transport struct {
	poster Poster
	logger *logrus.Logger
	dbs    *hashmap.Map[uint16, *Database]

	mtx    sync.Mutex
	faults []Fault
	counts map[gatt.Procedure]int
	calls  []Call
}

func NewTransport(poster Poster, logger *logrus.Logger) *Transport {
	if logger == nil {
		logger = logrus.New()
	}
	return &Transport{
		poster: poster,
		logger: logger,
		dbs:    hashmap.New[uint16, *Database](),
		counts: make(map[gatt.Procedure]int),
	}
}

// Attach serves db on conn, replacing any database already attached.
func (t *Transport) Attach(conn uint16, db *Database) {
	t.dbs.Set(conn, db)
	t.logger.WithFields(logrus.Fields{
		"conn_handle": conn,
		"peripheral":  db.Name,
		"services":    len(db.Services),
	}).Debug("Simulated peripheral attached")
}

// Detach simulates a disconnect: later procedures on conn fail with ENotConn.
func (t *Transport) Detach(conn uint16) {
	t.dbs.Del(conn)
}

// InjectFault registers f. Faults are matched in registration order.
func (t *Transport) InjectFault(f Fault) {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	t.faults = append(t.faults, f)
}

// Calls returns the procedures issued so far.
func (t *Transport) Calls() []Call {
	t.mtx.Lock()
	defer t.mtx.Unlock()
	return append([]Call(nil), t.calls...)
}

func (t *Transport) DiscoverServices(conn, start, end uint16, fn gatt.ServiceFunc) error {
	db, fault, err := t.begin(gatt.ProcDiscoverServices, conn, start, end)
	if err != nil {
		return err
	}

	var items []func()
	for i := range db.Services {
		if svc := db.Services[i]; svc.StartHandle >= start && svc.StartHandle <= end {
			items = append(items, func() { fn(gatt.StatusOK, &svc) })
		}
	}
	return t.deliver(gatt.ProcDiscoverServices, conn, items, fault, func(status gatt.Status) { fn(status, nil) })
}

func (t *Transport) DiscoverCharacteristics(conn, start, end uint16, fn gatt.CharacteristicFunc) error {
	db, fault, err := t.begin(gatt.ProcDiscoverCharacteristics, conn, start, end)
	if err != nil {
		return err
	}

	var items []func()
	for i := range db.Characteristics {
		if chr := db.Characteristics[i]; chr.DefHandle >= start && chr.DefHandle <= end {
			items = append(items, func() { fn(gatt.StatusOK, &chr) })
		}
	}
	return t.deliver(gatt.ProcDiscoverCharacteristics, conn, items, fault, func(status gatt.Status) { fn(status, nil) })
}

func (t *Transport) DiscoverDescriptors(conn, start, end uint16, fn gatt.DescriptorFunc) error {
	db, fault, err := t.begin(gatt.ProcDiscoverDescriptors, conn, start, end)
	if err != nil {
		return err
	}

	var items []func()
	for i := range db.Descriptors {
		if dsc := db.Descriptors[i]; dsc.Handle >= start && dsc.Handle <= end {
			items = append(items, func() { fn(gatt.StatusOK, &dsc) })
		}
	}
	return t.deliver(gatt.ProcDiscoverDescriptors, conn, items, fault, func(status gatt.Status) { fn(status, nil) })
}

// begin records the call and resolves the database and the fault that applies.
func (t *Transport) begin(proc gatt.Procedure, conn, start, end uint16) (*Database, *Fault, error) {
	t.mtx.Lock()
	t.calls = append(t.calls, Call{Proc: proc, Conn: conn, Start: start, End: end})
	t.counts[proc]++
	n := t.counts[proc]

	var fault *Fault
	for i := range t.faults {
		f := t.faults[i]
		if f.Proc == proc && (f.Call == 0 || f.Call == n) {
			fault = &f
			break
		}
	}
	t.mtx.Unlock()

	db, ok := t.dbs.Get(conn)
	if !ok {
		return nil, nil, gatt.NewTransportError(proc, gatt.StatusENotConn)
	}
	if start == 0 || start > end {
		return nil, nil, gatt.NewTransportError(proc, gatt.StatusEInval)
	}
	if fault != nil && fault.Sync {
		return nil, nil, gatt.NewTransportError(proc, fault.Status)
	}
	return db, fault, nil
}

// deliver posts each result, then the terminal status, as separate loop actions.
func (t *Transport) deliver(proc gatt.Procedure, conn uint16, items []func(), fault *Fault, terminal func(gatt.Status)) error {
	status := gatt.StatusDone
	if fault != nil {
		status = fault.Status
		if fault.After < len(items) {
			items = items[:fault.After]
		}
	}
	stalled := fault != nil && fault.Stall

	t.logger.WithFields(logrus.Fields{
		"conn_handle": conn,
		"procedure":   proc,
		"results":     len(items),
		"status":      status,
	}).Debug("Simulated procedure")

	for i, item := range items {
		if err := t.poster.Post(item); err != nil {
			if i == 0 {
				return fmt.Errorf("%s: %w", proc, err)
			}
			return nil
		}
	}
	if stalled {
		t.logger.WithFields(logrus.Fields{
			"conn_handle": conn,
			"procedure":   proc,
		}).Debug("Simulated procedure stalled")
		return nil
	}
	if err := t.poster.Post(func() { terminal(status) }); err != nil && len(items) == 0 {
		return fmt.Errorf("%s: %w", proc, err)
	}
	return nil
}
