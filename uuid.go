package ctxn

import (
	"bytes"
	"time"

	"github.com/google/uuid"
)

// UUID is a thin wrapper over github.com/google/uuid.UUID so the rest of
// this module stays decoupled from the external package.
type UUID uuid.UUID

// NilUUID is the zero-value UUID.
var NilUUID UUID

// NewUUID returns a new randomly generated UUID. Generation is retried a
// handful of times on transient entropy-source errors; it panics only if
// every attempt fails, which should never happen in practice.
func NewUUID() UUID {
	var err error
	for i := 0; i < 10; i++ {
		var id uuid.UUID
		id, err = uuid.NewRandom()
		if err == nil {
			return UUID(id)
		}
		time.Sleep(time.Millisecond)
	}
	panic(err)
}

// ParseUUID converts a string to a UUID, returning an error if malformed.
func ParseUUID(s string) (UUID, error) {
	u, err := uuid.Parse(s)
	return UUID(u), err
}

// IsNil reports whether the UUID equals the zero-value UUID.
func (id UUID) IsNil() bool {
	return bytes.Equal(id[:], NilUUID[:])
}

// String returns the canonical string representation of the UUID.
func (id UUID) String() string {
	return uuid.UUID(id).String()
}

// MarshalJSON renders the UUID as its canonical string form.
func (id UUID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + id.String() + `"`), nil
}

// UnmarshalJSON parses the UUID from its canonical string form. An empty
// string unmarshals to the nil UUID so zero-value records round-trip.
func (id *UUID) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 {
		s = s[1 : len(s)-1]
	}
	if s == "" {
		*id = NilUUID
		return nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return err
	}
	*id = UUID(u)
	return nil
}
