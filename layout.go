package smarterid

import (
	"bytes"
	"encoding/binary"
	"net"
	"time"
)

// Field offsets into the 16-byte RFC 4122 layout (network byte order).
const (
	offTimeLow          = 0  // 4 bytes
	offTimeMid          = 4  // 2 bytes
	offTimeHiAndVersion = 6  // 2 bytes, version in the high nibble of byte 6
	offClockSeqHiAndRes = 8  // 1 byte, variant in the top bits
	offClockSeqLow      = 9  // 1 byte
	offNode             = 10 // 6 bytes
	nodeLen             = 6

	clockSeqMask  = 0x3fff
	timestampMask = 0x0fffffffffffffff
)

const (
	versionMask    byte = 0x0f
	variantMask    byte = 0x3f
	variantRFC4122 byte = 0x80
)

// UUID is a 128-bit RFC 4122 identifier. The zero value is the nil UUID.
type UUID [16]byte

// Version is the 4-bit version number stored in time_hi_and_version.
type Version uint8

const (
	VersionTimeBased Version = 1
	VersionMD5       Version = 3
	VersionRandom    Version = 4
	VersionSHA1      Version = 5
)

// Valid reports whether v is one of the versions this package generates.
func (v Version) Valid() bool {
	switch v {
	case VersionTimeBased, VersionMD5, VersionRandom, VersionSHA1:
		return true
	}
	return false
}

func (v Version) String() string {
	switch v {
	case VersionTimeBased:
		return "v1 (time-based)"
	case VersionMD5:
		return "v3 (name-based, MD5)"
	case VersionRandom:
		return "v4 (random)"
	case VersionSHA1:
		return "v5 (name-based, SHA-1)"
	case 2:
		return "v2 (DCE security)"
	}
	return "unknown"
}

// Variant is the leading bit pattern of clock_seq_hi_and_reserved.
// The constants hold the pattern itself, so VariantRFC4122 == 0b10.
type Variant uint8

const (
	VariantNCS       Variant = 0b0
	VariantRFC4122   Variant = 0b10
	VariantMicrosoft Variant = 0b110
	VariantFuture    Variant = 0b111
)

func (v Variant) String() string {
	switch v {
	case VariantNCS:
		return "NCS"
	case VariantRFC4122:
		return "RFC 4122"
	case VariantMicrosoft:
		return "Microsoft"
	case VariantFuture:
		return "Future"
	}
	return "invalid"
}

// Well known namespaces from RFC 4122 Appendix C.
var (
	Nil           UUID
	NamespaceDNS  = MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	NamespaceURL  = MustParse("6ba7b811-9dad-11d1-80b4-00c04fd430c8")
	NamespaceOID  = MustParse("6ba7b812-9dad-11d1-80b4-00c04fd430c8")
	NamespaceX500 = MustParse("6ba7b814-9dad-11d1-80b4-00c04fd430c8")
)

// stampVersion overwrites the version nibble and leaves every other bit alone.
func stampVersion(raw [16]byte, v Version) [16]byte {
	raw[offTimeHiAndVersion] = raw[offTimeHiAndVersion]&versionMask | byte(v)<<4
	return raw
}

// stampVariant overwrites the top two bits of clock_seq_hi_and_reserved with 10.
func stampVariant(raw [16]byte) [16]byte {
	raw[offClockSeqHiAndRes] = raw[offClockSeqHiAndRes]&variantMask | variantRFC4122
	return raw
}

// Version returns the raw version nibble, conformant or not.
func (u UUID) Version() Version {
	return Version(u[offTimeHiAndVersion] >> 4)
}

// Variant decodes the variable-length variant field (RFC 4122 §4.1.1).
func (u UUID) Variant() Variant {
	b := u[offClockSeqHiAndRes]
	switch {
	case b&0x80 == 0:
		return VariantNCS
	case b&0xc0 == 0x80:
		return VariantRFC4122
	case b&0xe0 == 0xc0:
		return VariantMicrosoft
	default:
		return VariantFuture
	}
}

func (u UUID) TimeLow() uint32 {
	return binary.BigEndian.Uint32(u[offTimeLow:])
}

func (u UUID) TimeMid() uint16 {
	return binary.BigEndian.Uint16(u[offTimeMid:])
}

func (u UUID) TimeHiAndVersion() uint16 {
	return binary.BigEndian.Uint16(u[offTimeHiAndVersion:])
}

func (u UUID) ClockSeqHiAndReserved() uint8 {
	return u[offClockSeqHiAndRes]
}

func (u UUID) ClockSeqLow() uint8 {
	return u[offClockSeqLow]
}

// Node returns the 48-bit node field.
func (u UUID) Node() Node {
	var n Node
	copy(n[:], u[offNode:])
	return n
}

// Fields is the six-field view of a UUID.
type Fields struct {
	TimeLow               uint32
	TimeMid               uint16
	TimeHiAndVersion      uint16
	ClockSeqHiAndReserved uint8
	ClockSeqLow           uint8
	Node                  Node
}

// Fields splits u into its RFC 4122 fields.
func (u UUID) Fields() Fields {
	return Fields{
		TimeLow:               u.TimeLow(),
		TimeMid:               u.TimeMid(),
		TimeHiAndVersion:      u.TimeHiAndVersion(),
		ClockSeqHiAndReserved: u.ClockSeqHiAndReserved(),
		ClockSeqLow:           u.ClockSeqLow(),
		Node:                  u.Node(),
	}
}

// Timestamp reassembles the 60-bit timestamp. Only meaningful for v1 values.
func (u UUID) Timestamp() Timestamp {
	hi := uint64(u.TimeHiAndVersion() & 0x0fff)
	return Timestamp(hi<<48 | uint64(u.TimeMid())<<32 | uint64(u.TimeLow()))
}

// ClockSequence returns the 14-bit clock sequence. Only meaningful for v1 values.
func (u UUID) ClockSequence() uint16 {
	return binary.BigEndian.Uint16(u[offClockSeqHiAndRes:]) & clockSeqMask
}

// Bytes returns a copy of the 16 raw bytes.
func (u UUID) Bytes() []byte {
	b := make([]byte, len(u))
	copy(b, u[:])
	return b
}

// IsNil reports whether every bit of u is zero.
func (u UUID) IsNil() bool {
	return u == Nil
}

// Compare orders UUIDs bytewise; it returns -1, 0 or +1.
func (u UUID) Compare(other UUID) int {
	return bytes.Compare(u[:], other[:])
}

// Validate checks that u was plausibly produced by one of this package's
// generators: version in {1,3,4,5} and the RFC 4122 variant.
func (u UUID) Validate() error {
	if !u.Version().Valid() {
		return WithContext(ErrNonConformant, map[string]interface{}{
			"uuid":    u.String(),
			"version": int(u.Version()),
			"reason":  "version must be 1, 3, 4 or 5",
		})
	}
	if u.Variant() != VariantRFC4122 {
		return WithContext(ErrNonConformant, map[string]interface{}{
			"uuid":    u.String(),
			"variant": u.Variant().String(),
			"reason":  "variant must be RFC 4122",
		})
	}
	return nil
}

// Node is a 48-bit node identifier, conventionally an IEEE 802 MAC address.
type Node [nodeLen]byte

// String renders the node as a colon separated MAC address.
func (n Node) String() string {
	return net.HardwareAddr(n[:]).String()
}

// IsMulticast reports whether the multicast bit is set, which RFC 4122 §4.5
// uses to mark randomly generated node ids.
func (n Node) IsMulticast() bool {
	return n[0]&0x01 != 0
}

// MarshalText implements encoding.TextMarshaler.
func (n Node) MarshalText() ([]byte, error) {
	return []byte(n.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (n *Node) UnmarshalText(text []byte) error {
	parsed, err := ParseNode(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}

// ParseNode accepts any 48-bit form understood by net.ParseMAC.
func ParseNode(s string) (Node, error) {
	var n Node
	hw, err := net.ParseMAC(s)
	if err != nil || len(hw) != nodeLen {
		return n, WithContext(ErrInvalidFormat, map[string]interface{}{
			"node":   s,
			"reason": "expected a 48-bit MAC address",
		})
	}
	copy(n[:], hw)
	return n, nil
}

// Timestamp counts 100-nanosecond intervals since 1582-10-15T00:00:00Z.
// Only the low 60 bits are significant.
type Timestamp uint64

// gregorianOffset is the number of 100-ns ticks between the Gregorian
// reform and the Unix epoch.
const gregorianOffset = 0x01b21dd213814000

// TimestampFromTime converts t to RFC 4122 ticks.
func TimestampFromTime(t time.Time) Timestamp {
	ticks := uint64(t.Unix())*1e7 + uint64(t.Nanosecond()/100)
	return Timestamp((ticks + gregorianOffset) & timestampMask)
}

// Time converts ts back to wall-clock time (UTC).
func (ts Timestamp) Time() time.Time {
	ticks := int64(uint64(ts)&timestampMask) - gregorianOffset
	return time.Unix(ticks/1e7, (ticks%1e7)*100).UTC()
}
