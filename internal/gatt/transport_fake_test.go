package gatt_test

import (
	"errors"

	"github.com/srg/blepeer/internal/gatt"
)

// request is one discovery procedure issued by the registry and not yet answered.
type request struct {
	proc       gatt.Procedure
	conn       uint16
	start, end uint16

	svcFn gatt.ServiceFunc
	chrFn gatt.CharacteristicFunc
	dscFn gatt.DescriptorFunc
}

// fakeDB is a flat attribute database; entries are answered by handle range.
type fakeDB struct {
	services        []gatt.ServiceDef
	characteristics []gatt.CharacteristicDef
	descriptors     []gatt.DescriptorDef
}

// fakeTransport queues requests so tests decide when, and in which order,
// results are delivered.
type fakeTransport struct {
	pending []*request
	issued  []request

	// failIssue makes the next matching procedure fail synchronously.
	failIssue     error
	failIssueProc gatt.Procedure
}

func (f *fakeTransport) issue(r *request) error {
	if f.failIssue != nil && (f.failIssueProc == "" || f.failIssueProc == r.proc) {
		err := f.failIssue
		f.failIssue = nil
		return err
	}
	f.pending = append(f.pending, r)
	f.issued = append(f.issued, *r)
	return nil
}

func (f *fakeTransport) DiscoverServices(conn, start, end uint16, fn gatt.ServiceFunc) error {
	return f.issue(&request{proc: gatt.ProcDiscoverServices, conn: conn, start: start, end: end, svcFn: fn})
}

func (f *fakeTransport) DiscoverCharacteristics(conn, start, end uint16, fn gatt.CharacteristicFunc) error {
	return f.issue(&request{proc: gatt.ProcDiscoverCharacteristics, conn: conn, start: start, end: end, chrFn: fn})
}

func (f *fakeTransport) DiscoverDescriptors(conn, start, end uint16, fn gatt.DescriptorFunc) error {
	return f.issue(&request{proc: gatt.ProcDiscoverDescriptors, conn: conn, start: start, end: end, dscFn: fn})
}

// next removes and returns the oldest pending request.
func (f *fakeTransport) next() *request {
	if len(f.pending) == 0 {
		return nil
	}
	r := f.pending[0]
	f.pending = f.pending[1:]
	return r
}

// ranges returns the [start, end] pairs of every issued request of proc.
func (f *fakeTransport) ranges(proc gatt.Procedure) [][2]uint16 {
	var out [][2]uint16
	for _, r := range f.issued {
		if r.proc == proc {
			out = append(out, [2]uint16{r.start, r.end})
		}
	}
	return out
}

// answer delivers every database entry inside the request range, then status.
func (f *fakeTransport) answer(r *request, db *fakeDB, status gatt.Status) {
	switch r.proc {
	case gatt.ProcDiscoverServices:
		for i := range db.services {
			if s := db.services[i]; s.StartHandle >= r.start && s.StartHandle <= r.end {
				r.svcFn(gatt.StatusOK, &s)
			}
		}
		r.svcFn(status, nil)
	case gatt.ProcDiscoverCharacteristics:
		for i := range db.characteristics {
			if c := db.characteristics[i]; c.DefHandle >= r.start && c.DefHandle <= r.end {
				r.chrFn(gatt.StatusOK, &c)
			}
		}
		r.chrFn(status, nil)
	case gatt.ProcDiscoverDescriptors:
		for i := range db.descriptors {
			if d := db.descriptors[i]; d.Handle >= r.start && d.Handle <= r.end {
				r.dscFn(gatt.StatusOK, &d)
			}
		}
		r.dscFn(status, nil)
	}
}

// drain answers pending requests from db until none is left.
func (f *fakeTransport) drain(db *fakeDB) {
	for r := f.next(); r != nil; r = f.next() {
		f.answer(r, db, gatt.StatusDone)
	}
}

var errLinkDown = errors.New("link down")

// completion records every invocation of a DiscoveryFunc.
type completion struct {
	calls []error
	peers []*gatt.Peer
}

func (c *completion) fn(peer *gatt.Peer, err error) {
	c.calls = append(c.calls, err)
	c.peers = append(c.peers, peer)
}
