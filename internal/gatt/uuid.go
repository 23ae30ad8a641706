package gatt

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
)

// UUID is a GATT attribute type in its normalized 128-bit form, stored in
// big-endian (display) byte order. 16- and 32-bit UUIDs are expanded against the
// Bluetooth base UUID, so a short UUID and its expansion compare equal with ==.
type UUID [16]byte

// baseUUID is 00000000-0000-1000-8000-00805f9b34fb.
var baseUUID = UUID{
	0x00, 0x00, 0x00, 0x00,
	0x00, 0x00,
	0x10, 0x00,
	0x80, 0x00,
	0x00, 0x80, 0x5f, 0x9b, 0x34, 0xfb,
}

// UUID16 expands a 16-bit SIG UUID.
func UUID16(v uint16) UUID {
	return UUID32(uint32(v))
}

// UUID32 expands a 32-bit SIG UUID.
func UUID32(v uint32) UUID {
	u := baseUUID
	binary.BigEndian.PutUint32(u[0:4], v)
	return u
}

// FromBLE converts a go-ble UUID (little-endian, 2/4/16 bytes) to its normalized form.
func FromBLE(u ble.UUID) (UUID, error) {
	b := ble.Reverse(u)
	switch len(b) {
	case 2:
		return UUID16(binary.BigEndian.Uint16(b)), nil
	case 4:
		return UUID32(binary.BigEndian.Uint32(b)), nil
	case 16:
		var out UUID
		copy(out[:], b)
		return out, nil
	default:
		return UUID{}, fmt.Errorf("invalid UUID length %d", len(b))
	}
}

// ParseUUID parses the textual forms accepted throughout the tool:
// "180d", "0x180D", "0000180d", "0000180d-0000-1000-8000-00805f9b34fb",
// "{0000180d-...}" and dash-less 128-bit strings.
func ParseUUID(s string) (UUID, error) {
	clean := strings.ToLower(strings.TrimSpace(s))
	clean = strings.TrimSuffix(strings.TrimPrefix(clean, "{"), "}")
	clean = strings.TrimPrefix(clean, "0x")
	if clean == "" {
		return UUID{}, fmt.Errorf("invalid UUID %q: empty", s)
	}

	// ble.Parse only knows the 16- and 128-bit forms.
	if digits := strings.ReplaceAll(clean, "-", ""); len(digits) == 8 {
		b, err := hex.DecodeString(digits)
		if err != nil {
			return UUID{}, fmt.Errorf("invalid UUID %q: %w", s, err)
		}
		return UUID32(binary.BigEndian.Uint32(b)), nil
	}

	u, err := ble.Parse(clean)
	if err != nil {
		return UUID{}, fmt.Errorf("invalid UUID %q: %w", s, err)
	}
	return FromBLE(u)
}

// MustParseUUID is ParseUUID that panics on error; for constants and tests.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// Uint16 returns the 16-bit short form when u is a base-UUID expansion of one.
func (u UUID) Uint16() (uint16, bool) {
	v, ok := u.Uint32()
	if !ok || v > 0xffff {
		return 0, false
	}
	return uint16(v), true
}

// Uint32 returns the 32-bit short form when u is a base-UUID expansion of one.
func (u UUID) Uint32() (uint32, bool) {
	if [12]byte(u[4:]) != [12]byte(baseUUID[4:]) {
		return 0, false
	}
	return binary.BigEndian.Uint32(u[0:4]), true
}

// IsZero reports whether u is the all-zero UUID.
func (u UUID) IsZero() bool {
	return u == UUID{}
}

// BLE returns the go-ble representation, using the shortest form available.
func (u UUID) BLE() ble.UUID {
	if v, ok := u.Uint16(); ok {
		return ble.UUID16(v)
	}
	return ble.UUID(ble.Reverse(u[:]))
}

// String renders 16-bit UUIDs as four hex digits ("180d"), 32-bit ones as eight,
// and everything else in the canonical dashed form.
func (u UUID) String() string {
	if v, ok := u.Uint16(); ok {
		return fmt.Sprintf("%04x", v)
	}
	if v, ok := u.Uint32(); ok {
		return fmt.Sprintf("%08x", v)
	}

	h := hex.EncodeToString(u[:])
	return h[0:8] + "-" + h[8:12] + "-" + h[12:16] + "-" + h[16:20] + "-" + h[20:32]
}

// MarshalText implements encoding.TextMarshaler.
func (u UUID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *UUID) UnmarshalText(text []byte) error {
	parsed, err := ParseUUID(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
