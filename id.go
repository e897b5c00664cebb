package smarterid

import (
	"github.com/google/uuid"
)

// NewID returns a fresh random UUID in canonical form. It is the drop-in
// helper for callers that only need an opaque identifier string.
func NewID() string {
	return MustNewV4().String()
}

// FromGoogle converts a github.com/google/uuid value. The byte layouts are
// identical, so this is a plain copy.
func FromGoogle(u uuid.UUID) UUID {
	return UUID(u)
}

// Google converts u for APIs that take github.com/google/uuid values.
func (u UUID) Google() uuid.UUID {
	return uuid.UUID(u)
}
