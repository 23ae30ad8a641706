package main

import (
	"github.com/srg/blepeer/internal/testutils"
)

func (s *CommandTestSuite) TestDiscoverTree() {
	// GOAL: Verify discover prints the complete hierarchy as a tree
	//
	// TEST SCENARIO: heart rate profile → discover → handles, properties and
	// well-known names appear in handle order

	out, stderr, err := s.ExecuteCommand("discover", "--profile", s.profilePath)
	s.Require().NoError(err, "discover MUST succeed")
	s.Empty(stderr, "a silent logger and a non-terminal progress printer MUST not write")

	testutils.NewTextAsserter(s.T()).Assert(out, `
Peer 1 (heart-rate-sensor): 2 services, state done
├── Service 1800 [0x0001-0x0003] Generic Access
│   └── Characteristic 2a00 [decl 0x0002, value 0x0003, end 0x0003] read Device Name
└── Service 180d [0x0004-0x0009] Heart Rate
    ├── Characteristic 2a37 [decl 0x0005, value 0x0006, end 0x0007] notify Heart Rate Measurement
    │   └── Descriptor 2902 [0x0007] Client Characteristic Configuration
    └── Characteristic 2a38 [decl 0x0008, value 0x0009, end 0x0009] read Body Sensor Location
`)
}

func (s *CommandTestSuite) TestDiscoverJSON() {
	out, _, err := s.ExecuteCommand("discover", "--profile", s.profilePath, "--json", "--conn", "7", "--events")
	s.Require().NoError(err)

	testutils.NewJSONAsserter(s.T()).Assert(out, `{
		"source": "profile",
		"name": "heart-rate-sensor",
		"conn_handle": 7,
		"state": "done",
		"services": [
			{
				"uuid": "1800", "name": "Generic Access", "start_handle": 1, "end_handle": 3,
				"characteristics": [
					{"uuid": "2a00", "name": "Device Name", "def_handle": 2, "val_handle": 3, "end_handle": 3,
					 "properties": ["read"], "descriptors": []}
				]
			},
			{
				"uuid": "180d", "name": "Heart Rate", "start_handle": 4, "end_handle": 9,
				"characteristics": [
					{"uuid": "2a37", "def_handle": 5, "val_handle": 6, "end_handle": 7, "properties": ["notify"],
					 "descriptors": [{"uuid": "2902", "name": "Client Characteristic Configuration", "handle": 7}]},
					{"uuid": "2a38", "def_handle": 8, "val_handle": 9, "end_handle": 9, "properties": ["read"]}
				]
			}
		],
		"events": [
			"conn=7 peer_added",
			"conn=7 state_changed discovering_services",
			"conn=7 state_changed discovering_characteristics",
			"conn=7 state_changed discovering_descriptors",
			"conn=7 state_changed done",
			"conn=7 peer_deleted"
		]
	}`)

	s.Less(indexOf(out, `"source"`), indexOf(out, `"services"`), "keys MUST keep their rendering order")
}

func (s *CommandTestSuite) TestDiscoverYAML() {
	out, _, err := s.ExecuteCommand("discover", "--profile", s.profilePath, "--format", "yaml")
	s.Require().NoError(err)

	s.Contains(out, "source: profile\n")
	s.Contains(out, "name: heart-rate-sensor\n")
	s.Contains(out, "uuid: 180d\n")
	s.Contains(out, "state: done\n")
	s.NotContains(out, "events:", "transcript MUST be opt-in")
}

func (s *CommandTestSuite) TestDiscoverConfigDrivesOutput() {
	cfgPath := s.helper.WriteFile("blepeer.yaml", "output_format: json\n")

	out, _, err := s.ExecuteCommand("discover", "--profile", s.profilePath, "--config", cfgPath)
	s.Require().NoError(err)
	s.Contains(out, `"state": "done"`)
}

func (s *CommandTestSuite) TestDiscoverPoolExhaustionPrintsPartial() {
	cfgPath := s.helper.WriteFile("small.yaml", "pools:\n  characteristics: 2\n")

	out, _, err := s.ExecuteCommand("discover", "--profile", s.profilePath, "--config", cfgPath)
	s.Require().Error(err)
	s.Contains(FormatUserError(err), "raise pools.characteristics")
	s.Contains(out, "state error", "partial hierarchy MUST still be printed")
	s.Contains(out, "Characteristic 2a37")
	s.NotContains(out, "Characteristic 2a38")
}

func (s *CommandTestSuite) TestDiscoverErrors() {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing profile flag", []string{"discover"}, `required flag(s) "profile" not set`},
		{"missing profile file", []string{"discover", "--profile", "/nonexistent/p.yaml"}, "failed to read profile"},
		{"bad log level", []string{"discover", "--profile", "x", "--log-level", "loud"}, "invalid log level: loud"},
		{"bad format", []string{"discover", "--profile", "PROFILE", "--format", "xml"}, `unsupported output format "xml"`},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			args := make([]string, len(tt.args))
			for i, a := range tt.args {
				if a == "PROFILE" {
					a = s.profilePath
				}
				args[i] = a
			}
			_, _, err := s.ExecuteCommand(args...)
			s.Require().Error(err)
			s.Contains(err.Error(), tt.want)
		})
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
