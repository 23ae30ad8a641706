package sim_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/srg/blepeer/internal/evloop"
	"github.com/srg/blepeer/internal/gatt"
	"github.com/srg/blepeer/internal/testutils"
	"github.com/srg/blepeer/internal/transport/sim"
)

const sampleProfile = "profiles/heart-rate-sensor.yaml"

type SimTestSuite struct {
	suite.Suite

	helper    *testutils.TestHelper
	loop      *evloop.Loop
	transport *sim.Transport
	registry  *gatt.Registry
}

func (s *SimTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.loop = evloop.New("sim-test", 0, s.helper.Logger)
	s.Require().NoError(s.loop.Start(context.Background()))

	s.transport = sim.NewTransport(s.loop, s.helper.Logger)
	r, err := gatt.NewRegistry(gatt.Capacity{MaxPeers: 2, MaxServices: 8, MaxCharacteristics: 16, MaxDescriptors: 16},
		s.transport, s.helper.Logger)
	s.Require().NoError(err)
	s.registry = r
}

func (s *SimTestSuite) TearDownTest() {
	s.Require().NoError(s.loop.Stop(nil))
}

func (s *SimTestSuite) heartRateProfile() string {
	data, err := testutils.LoadFixture(sampleProfile)
	s.Require().NoError(err, "MUST load the sample profile")
	return data
}

func (s *SimTestSuite) heartRateDB() *sim.Database {
	p, err := sim.ParseProfile([]byte(s.heartRateProfile()))
	s.Require().NoError(err, "MUST parse profile")
	db, err := p.Build()
	s.Require().NoError(err, "MUST build database")
	return db
}

type result struct {
	profile gatt.Profile
	err     error
}

// discover runs a full walk on the loop and waits for its completion.
func (s *SimTestSuite) discover(conn uint16) result {
	ch := make(chan result, 2)
	err := s.loop.Run(context.Background(), func() error {
		if s.registry.Find(conn) == nil {
			if err := s.registry.Add(conn); err != nil {
				return err
			}
		}
		return s.registry.DiscoverAll(conn, func(peer *gatt.Peer, err error) {
			ch <- result{profile: peer.Snapshot(), err: err}
		})
	})
	s.Require().NoError(err, "MUST start discovery")

	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		s.FailNow("discovery MUST complete")
		return result{}
	}
}

func (s *SimTestSuite) TestBuildAssignsHandles() {
	db := s.heartRateDB()

	s.Equal("heart-rate-sensor", db.Name)
	s.Equal([]gatt.ServiceDef{
		{UUID: gatt.UUID16(0x1800), StartHandle: 1, EndHandle: 3},
		{UUID: gatt.UUID16(0x180d), StartHandle: 4, EndHandle: 9},
		{UUID: gatt.MustParseUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e"), StartHandle: 0x20, EndHandle: 0xffff},
	}, db.Services)

	s.Require().Len(db.Characteristics, 5)
	s.Equal(gatt.CharacteristicDef{UUID: gatt.UUID16(0x2a37), DefHandle: 5, ValHandle: 6, Properties: gatt.PropNotify}, db.Characteristics[1])
	s.Equal(gatt.DescriptorDef{UUID: gatt.UUID16(0x2902), Handle: 7}, db.Descriptors[0])
	s.Equal(uint16(0x25), db.Descriptors[1].Handle)
}

func (s *SimTestSuite) TestBuildRejectsBadProfiles() {
	tests := []struct {
		name    string
		profile string
	}{
		{"missing uuid", "services:\n  - characteristics: []\n"},
		{"unknown property", "services:\n  - uuid: 180d\n    characteristics:\n      - uuid: 2a37\n        properties: teleport\n"},
		{"handles going backwards", "services:\n  - uuid: 180d\n    start_handle: 10\n  - uuid: 180f\n    start_handle: 5\n"},
		{"end before last attribute", "services:\n  - uuid: 180d\n    end_handle: 2\n    characteristics:\n      - uuid: 2a37\n"},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			p, err := sim.ParseProfile([]byte(tt.profile))
			s.Require().NoError(err)
			_, err = p.Build()
			s.Error(err)
		})
	}

	_, err := sim.ParseProfile([]byte("services: [\n"))
	s.Error(err, "malformed YAML MUST fail")
}

func (s *SimTestSuite) TestLoadProfileFromFile() {
	path := s.helper.WriteFile("hr.yaml", s.heartRateProfile())

	p, err := sim.LoadProfile(path)
	s.Require().NoError(err)
	s.Len(p.Services, 3)

	_, err = sim.LoadProfile(filepath.Join(s.T().TempDir(), "missing.yaml"))
	s.Error(err)
}

func (s *SimTestSuite) TestFullDiscovery() {
	// GOAL: Verify the registry assembles the simulated database through the loop
	//
	// TEST SCENARIO: attach profile → discover → every attribute present with the
	// derived end handles → issued procedures follow the walk order

	s.transport.Attach(1, s.heartRateDB())
	r := s.discover(1)
	s.Require().NoError(r.err)

	s.Equal("done", r.profile.State)
	s.Require().Len(r.profile.Services, 3)

	testutils.NewJSONAsserter(s.T()).AssertValue(r.profile, `{
		"conn_handle": 1,
		"state": "done",
		"services": [
			{"uuid": "1800", "start_handle": 1, "end_handle": 3, "characteristics": "<<PRESENCE>>"},
			{"uuid": "180d", "start_handle": 4, "end_handle": 9, "characteristics": [
				{"uuid": "2a37", "def_handle": 5, "val_handle": 6, "end_handle": 7, "properties": ["notify"],
				 "descriptors": [{"uuid": "2902", "handle": 7}]},
				{"uuid": "2a38", "def_handle": 8, "val_handle": 9, "end_handle": 9, "properties": ["read"], "descriptors": []}
			]},
			{"uuid": "6e400001-b5a3-f393-e0a9-e50e24dcca9e", "start_handle": 32, "end_handle": 65535,
			 "characteristics": "<<PRESENCE>>"}
		]
	}`)

	hr, ok := r.profile.FindService(gatt.UUID16(0x180d))
	s.Require().True(ok)
	hrm, ok := hr.FindCharacteristic(gatt.UUID16(0x2a37))
	s.Require().True(ok)
	s.Equal(uint16(7), hrm.EndHandle)
	s.Require().Len(hrm.Descriptors, 1)
	s.Equal(uint16(7), hrm.Descriptors[0].Handle)

	nus, ok := r.profile.FindService(gatt.MustParseUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e"))
	s.Require().True(ok)
	tx, ok := nus.FindCharacteristic(gatt.MustParseUUID("6e400003-b5a3-f393-e0a9-e50e24dcca9e"))
	s.Require().True(ok)
	s.Equal(uint16(0xffff), tx.EndHandle)

	var procs []gatt.Procedure
	for _, c := range s.transport.Calls() {
		procs = append(procs, c.Proc)
	}
	s.Equal([]gatt.Procedure{
		gatt.ProcDiscoverServices,
		gatt.ProcDiscoverCharacteristics, gatt.ProcDiscoverCharacteristics, gatt.ProcDiscoverCharacteristics,
		// Only 2a37 and 6e400003 have handles past their value.
		gatt.ProcDiscoverDescriptors, gatt.ProcDiscoverDescriptors,
	}, procs)
}

func (s *SimTestSuite) TestAsyncFault() {
	// GOAL: Verify an injected status aborts the walk after partial delivery
	//
	// TEST SCENARIO: second characteristic procedure delivers one result then fails →
	// callback error carries the status → delivered result kept

	s.transport.Attach(1, s.heartRateDB())
	s.transport.InjectFault(sim.Fault{
		Proc:   gatt.ProcDiscoverCharacteristics,
		Call:   2,
		After:  1,
		Status: gatt.StatusATTInsufficientAuthen,
	})

	r := s.discover(1)
	s.Require().Error(r.err)
	s.Equal(gatt.StatusATTInsufficientAuthen, gatt.StatusOf(r.err))
	s.Equal("error", r.profile.State)

	hr, ok := r.profile.FindService(gatt.UUID16(0x180d))
	s.Require().True(ok)
	s.Len(hr.Characteristics, 1)
}

func (s *SimTestSuite) TestSyncFault() {
	s.transport.Attach(1, s.heartRateDB())
	s.transport.InjectFault(sim.Fault{Proc: gatt.ProcDiscoverDescriptors, Sync: true, Status: gatt.StatusEBusy})

	r := s.discover(1)
	s.Require().Error(r.err)
	s.Equal(gatt.StatusEBusy, gatt.StatusOf(r.err))
}

func (s *SimTestSuite) TestUnknownConnectionFailsSynchronously() {
	err := s.loop.Run(context.Background(), func() error {
		if err := s.registry.Add(5); err != nil {
			return err
		}
		return s.registry.DiscoverAll(5, func(*gatt.Peer, error) {
			s.Fail("callback MUST NOT run for a rejected walk")
		})
	})
	s.Require().Error(err)
	s.Equal(gatt.StatusENotConn, gatt.StatusOf(err))
}

func (s *SimTestSuite) TestTwoPeersDiscoverIndependently() {
	small, err := (&sim.Profile{Services: []sim.Service{{UUID: gatt.UUID16(0x180f)}}}).Build()
	s.Require().NoError(err)

	s.transport.Attach(1, s.heartRateDB())
	s.transport.Attach(2, small)

	r1 := s.discover(1)
	r2 := s.discover(2)
	s.Require().NoError(r1.err)
	s.Require().NoError(r2.err)
	s.Len(r1.profile.Services, 3)
	s.Len(r2.profile.Services, 1)

	s.transport.Detach(2)
	err = s.loop.Run(context.Background(), func() error {
		return s.registry.DiscoverAll(2, func(*gatt.Peer, error) {})
	})
	s.Equal(gatt.StatusENotConn, gatt.StatusOf(err), "detached peripheral MUST fail like a dropped link")
}

func TestSimTestSuite(t *testing.T) {
	suite.Run(t, new(SimTestSuite))
}
