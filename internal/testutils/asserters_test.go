package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingT captures assertion failures instead of failing the test.
type recordingT struct {
	errors []string
}

func (r *recordingT) Helper() {}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestTextAsserter(t *testing.T) {
	tests := []struct {
		name     string
		opts     []TextOption
		actual   string
		expected string
		match    bool
	}{
		{"identical", nil, "a\nb", "a\nb", true},
		{"surrounding whitespace trimmed by default", nil, "\n  a\nb  \n", "  a\nb", true},
		{"trailing whitespace ignored by default", nil, "a   \nb", "a\nb", true},
		{"leading whitespace significant", nil, "x\n a", "x\na", false},
		{"empty lines significant by default", nil, "a\n\nb", "a\nb", false},
		{"empty lines ignored when asked", []TextOption{WithIgnoreEmptyLines(true)}, "a\n\nb", "a\nb", true},
		{"trim disabled", []TextOption{WithTrimSpace(false)}, "a\n", "a", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			ok := NewTextAsserter(rec, tt.opts...).Assert(tt.actual, tt.expected)

			assert.Equal(t, tt.match, ok)
			assert.Equal(t, tt.match, len(rec.errors) == 0)
		})
	}
}

func TestTextAsserter_DiffIsUnified(t *testing.T) {
	diff := NewTextAsserter(&recordingT{}).Diff("a\nc\n", "a\nb\n")

	assert.Contains(t, diff, "--- expected")
	assert.Contains(t, diff, "+++ actual")
	assert.Contains(t, diff, "-b")
	assert.Contains(t, diff, "+c")

	colored := NewTextAsserter(&recordingT{}, WithEnableColors(true)).Diff("a c\n", "a b\n")
	assert.Contains(t, colored, "a·c", "colored diff MUST make spaces visible")
}

func TestJSONAsserter(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		actual   string
		expected string
		match    bool
	}{
		{"identical", nil, `{"a":1}`, `{"a":1}`, true},
		{"key order irrelevant", nil, `{"a":1,"b":2}`, `{"b":2,"a":1}`, true},
		{"value differs", nil, `{"a":1}`, `{"a":2}`, false},
		{"extra keys ignored by default", nil, `{"a":1,"b":2}`, `{"a":1}`, true},
		{"extra keys rejected", []Option{WithIgnoreExtraKeys(false)}, `{"a":1,"b":2}`, `{"a":1}`, false},
		{"nested extra keys ignored", nil, `{"s":[{"uuid":"180d","x":1}]}`, `{"s":[{"uuid":"180d"}]}`, true},
		{"null equals empty array", nil, `{"s":null}`, `{"s":[]}`, true},
		{"missing equals empty array", nil, `{}`, `{"s":[]}`, true},
		{"null vs empty array strict", []Option{WithNilToEmptyArray(false)}, `{"s":null}`, `{"s":[]}`, false},
		{"presence placeholder", nil, `{"time":"2024-01-01"}`, `{"time":"<<PRESENCE>>"}`, true},
		{"presence placeholder requires value", nil, `{}`, `{"time":"<<PRESENCE>>"}`, false},
		{"ignored fields", []Option{WithIgnoredFields("time")}, `{"a":1,"time":1}`, `{"a":1,"time":2}`, true},
		{"root arrays", nil, `[1,2]`, `[1,2]`, true},
		{"root arrays differ", nil, `[1,2]`, `[2,1]`, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingT{}
			ok := NewJSONAsserter(rec, tt.opts...).Assert(tt.actual, tt.expected)

			assert.Equal(t, tt.match, ok, "errors: %v", rec.errors)
		})
	}
}

func TestJSONAsserter_InvalidJSON(t *testing.T) {
	ja := NewJSONAsserter(&recordingT{})

	assert.Contains(t, ja.Diff(`{}`, `{`), "invalid expected JSON")
	assert.Contains(t, ja.Diff(`{`, `{}`), "invalid actual JSON")
}

func TestProfileBuilder(t *testing.T) {
	db := NewProfileBuilder().
		WithName("hrs").
		WithService("180d").
		WithCharacteristic("2a37", "notify").
		WithDescriptor("2902").
		WithServiceRange("180f", 0x10, 0x1f).
		WithCharacteristic("2a19", "read").
		Build()

	require.Len(t, db.Services, 2)
	assert.Equal(t, "hrs", db.Name)
	assert.Equal(t, uint16(1), db.Services[0].StartHandle)
	assert.Equal(t, uint16(4), db.Services[0].EndHandle)
	assert.Equal(t, uint16(0x10), db.Services[1].StartHandle)
	assert.Equal(t, uint16(0x1f), db.Services[1].EndHandle)
	require.Len(t, db.Descriptors, 1)
	assert.Equal(t, uint16(4), db.Descriptors[0].Handle)

	assert.Panics(t, func() { NewProfileBuilder().WithCharacteristic("2a37", "read") })
	assert.Panics(t, func() { NewProfileBuilder().WithService("180d").WithDescriptor("2902") })
}

func TestProfileBuilder_FromJSON(t *testing.T) {
	p := NewProfileBuilder().FromJSON(`{"name":%q,"services":[{"uuid":"1800","characteristics":[{"uuid":"2a00","properties":"read"}]}]}`, "gap").Profile()

	assert.Equal(t, "gap", p.Name)
	require.Len(t, p.Services, 1)
	assert.Len(t, p.Services[0].Characteristics, 1)
}
