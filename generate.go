package smarterid

import (
	"crypto/md5"
	"crypto/sha1"
	"encoding/binary"
	"hash"
	"io"
)

// Build is the finishing step shared by every generator: it stamps version v
// and the RFC 4122 variant onto raw and leaves the other 122 bits untouched.
func Build(v Version, raw [16]byte) (UUID, error) {
	if !v.Valid() {
		return Nil, WithContext(ErrUnsupportedVersion, map[string]interface{}{
			"version": int(v),
		})
	}
	return finish(v, raw), nil
}

func finish(v Version, raw [16]byte) UUID {
	return UUID(stampVariant(stampVersion(raw, v)))
}

// NewTimeBased builds a version 1 UUID from a 60-bit timestamp, a 14-bit
// clock sequence and a node id. Bits above those widths are discarded.
//
// Uniqueness across restarts depends on the caller supplying a fresh clock
// sequence or node; see Generator for a stateful wrapper.
func NewTimeBased(ts Timestamp, clockSeq uint16, node Node) UUID {
	var raw [16]byte
	t := uint64(ts) & timestampMask
	binary.BigEndian.PutUint32(raw[offTimeLow:], uint32(t))
	binary.BigEndian.PutUint16(raw[offTimeMid:], uint16(t>>32))
	binary.BigEndian.PutUint16(raw[offTimeHiAndVersion:], uint16(t>>48)&0x0fff)
	binary.BigEndian.PutUint16(raw[offClockSeqHiAndRes:], clockSeq&clockSeqMask)
	copy(raw[offNode:], node[:])
	return finish(VersionTimeBased, raw)
}

// NewRandomFrom builds a version 4 UUID from exactly one 16-byte read of r.
func NewRandomFrom(r io.Reader) (UUID, error) {
	var raw [16]byte
	if r == nil {
		return Nil, unavailable(ErrEntropyUnavailable, nil)
	}
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return Nil, unavailable(ErrEntropyUnavailable, err)
	}
	return finish(VersionRandom, raw), nil
}

// NewMD5 builds a version 3 UUID from MD5(namespace || name).
func NewMD5(namespace UUID, name []byte) UUID {
	return newHashed(md5.New(), VersionMD5, namespace, name)
}

// NewSHA1 builds a version 5 UUID from the first 16 bytes of
// SHA-1(namespace || name).
func NewSHA1(namespace UUID, name []byte) UUID {
	return newHashed(sha1.New(), VersionSHA1, namespace, name)
}

// newHashed feeds the namespace in network byte order, never its display
// string (RFC 4122 §4.3).
func newHashed(h hash.Hash, v Version, namespace UUID, name []byte) UUID {
	h.Write(namespace[:])
	h.Write(name)
	var raw [16]byte
	copy(raw[:], h.Sum(nil))
	return finish(v, raw)
}
