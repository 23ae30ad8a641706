package main

import (
	"github.com/srg/blepeer/internal/testutils"
)

const twoCCCDProfile = `
name: sensor-with-battery
services:
  - uuid: 180d
    characteristics:
      - uuid: 2a37
        properties: notify
        descriptors:
          - uuid: 2902
  - uuid: 180f
    characteristics:
      - uuid: 2a19
        properties: read,notify
        descriptors:
          - uuid: 2902
`

func (s *CommandTestSuite) TestFindCharacteristic() {
	out, _, err := s.ExecuteCommand("find", "2a37", "--profile", s.profilePath)
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).Assert(out, `
service        180d handles 0x0004-0x0009 (Heart Rate)
characteristic 2a37 decl 0x0005 value 0x0006 end 0x0007 [notify] (Heart Rate Measurement)
`)
}

func (s *CommandTestSuite) TestFindExplicitDescriptor() {
	out, _, err := s.ExecuteCommand("find", "--profile", s.profilePath,
		"--service", "180d", "--char", "2a37", "--desc", "2902")
	s.Require().NoError(err)

	testutils.NewTextAsserter(s.T()).Assert(out, `
service        180d handles 0x0004-0x0009 (Heart Rate)
characteristic 2a37 decl 0x0005 value 0x0006 end 0x0007 [notify] (Heart Rate Measurement)
descriptor     2902 handle 0x0007 (Client Characteristic Configuration)
`)
}

func (s *CommandTestSuite) TestFindServiceOnly() {
	out, _, err := s.ExecuteCommand("find", "--profile", s.profilePath, "--service", "1800")
	s.Require().NoError(err)
	s.Equal("service        1800 handles 0x0001-0x0003 (Generic Access)\n", out)
}

func (s *CommandTestSuite) TestFindServiceByUUID() {
	out, _, err := s.ExecuteCommand("find", "180d", "--profile", s.profilePath)
	s.Require().NoError(err, "a service UUID argument MUST resolve without --service")
	s.Equal("service        180d handles 0x0004-0x0009 (Heart Rate)\n", out)
}

func (s *CommandTestSuite) TestFindDescriptorRequiresCharacteristic() {
	out, _, err := s.ExecuteCommand("find", "--profile", s.profilePath, "--service", "180d", "--desc", "2902")
	s.Require().Error(err, "--desc without a characteristic MUST NOT fall back to the service")
	s.EqualError(err, "--desc requires --char or a characteristic UUID argument")
	s.Empty(out)
}

func (s *CommandTestSuite) TestFindDescriptorAmbiguous() {
	path := s.helper.WriteFile("two-cccd.yaml", twoCCCDProfile)

	out, _, err := s.ExecuteCommand("find", "2902", "--desc-search", "--profile", path)
	s.Require().Error(err)
	s.ErrorIs(err, ErrAmbiguous)
	s.Contains(err.Error(), "found in 180d/2a37, 180f/2a19")
	s.Empty(out, "nothing MUST be printed for an ambiguous match")

	out, _, err = s.ExecuteCommand("find", "2902", "--desc-search", "--service", "180f", "--char", "2a19", "--profile", path)
	s.Require().NoError(err, "--service and --char MUST narrow the match")
	s.Contains(out, "descriptor     2902 handle 0x0008")
}

func (s *CommandTestSuite) TestFindNotFound() {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown characteristic", []string{"find", "2a19"}, "2a19 (Battery Level): not found"},
		{"unknown service", []string{"find", "--service", "180f"}, "service 180f (Battery Service): not found"},
		{"unknown descriptor", []string{"find", "--service", "180d", "--char", "2a38", "--desc", "2902"},
			"descriptor 2902 (Client Characteristic Configuration) in characteristic 2a38: not found"},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, _, err := s.ExecuteCommand(append(tt.args, "--profile", s.profilePath)...)
			s.Require().Error(err)
			s.ErrorIs(err, ErrNotFound)
			s.Contains(err.Error(), tt.want)
		})
	}
}

func (s *CommandTestSuite) TestFindRequiresTarget() {
	_, _, err := s.ExecuteCommand("find", "--profile", s.profilePath)
	s.EqualError(err, "a UUID argument or --service is required")
}
