package smarterid

import (
	"database/sql/driver"
	"encoding/hex"
	"fmt"
)

// canonicalLen is the length of the 8-4-4-4-12 form.
const canonicalLen = 36

// hyphen positions in the canonical form
var hyphens = [4]int{8, 13, 18, 23}

// byteOffsets maps each of the 16 bytes to the index of its first hex digit.
var byteOffsets = [16]int{0, 2, 4, 6, 9, 11, 14, 16, 19, 21, 24, 26, 28, 30, 32, 34}

// hexValues decodes one ASCII hex digit; 0xff marks a non-hex byte.
var hexValues = func() [256]byte {
	var t [256]byte
	for i := range t {
		t[i] = 0xff
	}
	for c := '0'; c <= '9'; c++ {
		t[c] = byte(c - '0')
	}
	for c := 'a'; c <= 'f'; c++ {
		t[c] = byte(c-'a') + 10
		t[c-'a'+'A'] = byte(c-'a') + 10
	}
	return t
}()

// FormatError reports text that is not a canonical UUID.
type FormatError struct {
	Input  string
	Offset int // -1 when the problem is the length
	Reason string
}

func (e *FormatError) Error() string {
	if e.Offset < 0 {
		return fmt.Sprintf("invalid UUID format %q: %s", e.Input, e.Reason)
	}
	return fmt.Sprintf("invalid UUID format %q at offset %d: %s", e.Input, e.Offset, e.Reason)
}

// Is lets errors.Is match any FormatError against ErrInvalidFormat.
func (e *FormatError) Is(target error) bool {
	return target == ErrInvalidFormat
}

// String returns the canonical lowercase 8-4-4-4-12 form.
func (u UUID) String() string {
	var buf [canonicalLen]byte
	encodeCanonical(buf[:], u)
	return string(buf[:])
}

// Format is the function form of UUID.String.
func Format(u UUID) string {
	return u.String()
}

func encodeCanonical(dst []byte, u UUID) {
	hex.Encode(dst[0:8], u[0:4])
	dst[8] = '-'
	hex.Encode(dst[9:13], u[4:6])
	dst[13] = '-'
	hex.Encode(dst[14:18], u[6:8])
	dst[18] = '-'
	hex.Encode(dst[19:23], u[8:10])
	dst[23] = '-'
	hex.Encode(dst[24:], u[10:])
}

// Parse decodes the canonical 36-character form. Hex digits may be upper or
// lower case. Version and variant bits are not checked; see UUID.Validate.
func Parse(s string) (UUID, error) {
	var u UUID
	if len(s) != canonicalLen {
		return u, &FormatError{
			Input:  s,
			Offset: -1,
			Reason: fmt.Sprintf("length %d, want %d", len(s), canonicalLen),
		}
	}
	for _, i := range hyphens {
		if s[i] != '-' {
			return u, &FormatError{Input: s, Offset: i, Reason: "expected '-'"}
		}
	}
	for i, off := range byteOffsets {
		hi, lo := hexValues[s[off]], hexValues[s[off+1]]
		if hi == 0xff {
			return UUID{}, &FormatError{Input: s, Offset: off, Reason: "not a hex digit"}
		}
		if lo == 0xff {
			return UUID{}, &FormatError{Input: s, Offset: off + 1, Reason: "not a hex digit"}
		}
		u[i] = hi<<4 | lo
	}
	return u, nil
}

// ParseBytes is Parse for a byte slice.
func ParseBytes(b []byte) (UUID, error) {
	return Parse(string(b))
}

// MustParse is like Parse but panics on error. Use it for constants.
func MustParse(s string) UUID {
	u, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("smarterid.MustParse(%q): %v", s, err))
	}
	return u
}

// IsValid reports whether s is structurally a canonical UUID string.
func IsValid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// MarshalText implements encoding.TextMarshaler using the canonical form.
func (u UUID) MarshalText() ([]byte, error) {
	buf := make([]byte, canonicalLen)
	encodeCanonical(buf, u)
	return buf, nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *UUID) UnmarshalText(text []byte) error {
	parsed, err := ParseBytes(text)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Value implements driver.Valuer; UUIDs are stored as canonical text.
func (u UUID) Value() (driver.Value, error) {
	return u.String(), nil
}

// Scan implements sql.Scanner for text columns. NULL scans to Nil.
func (u *UUID) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*u = Nil
		return nil
	case string:
		return u.UnmarshalText([]byte(v))
	case []byte:
		return u.UnmarshalText(v)
	default:
		return WithContext(ErrInvalidFormat, map[string]interface{}{
			"type":   fmt.Sprintf("%T", src),
			"reason": "cannot scan into UUID",
		})
	}
}
