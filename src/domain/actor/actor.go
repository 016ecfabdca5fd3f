// Package actor defines the globally unique identity of a sync agent instance.
package actor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ID is a 128-bit actor identifier, assigned once per agent instance and
// persisted across restarts. It participates in the total order of
// Timestamps (see domain/clock) as the final tiebreak.
type ID [16]byte

// Nil is the zero actor id. No real actor is ever assigned Nil.
var Nil ID

// New generates a fresh random actor id.
func New() ID {
	return ID(uuid.New())
}

// String renders the actor id in canonical UUID form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// Less reports whether id sorts before other. Used as the final tiebreak
// in the HLC total order and in LWW conflict resolution (higher actor wins).
func (id ID) Less(other ID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// Bytes returns the raw 16-byte identifier.
func (id ID) Bytes() []byte {
	return id[:]
}

// FromBytes parses a 16-byte slice into an ID.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != len(id) {
		return Nil, fmt.Errorf("actor: invalid id length %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}

// ParseString parses a canonical UUID string into an ID.
func ParseString(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("actor: parse %q: %w", s, err)
	}
	return ID(u), nil
}

// LoadOrCreate loads the actor id persisted at path, or generates and
// persists a new one if the file does not exist yet. override, if
// non-empty, is parsed and persisted instead, matching the "actor id
// override" entry of the configuration surface.
func LoadOrCreate(path, override string) (ID, error) {
	if override != "" {
		id, err := ParseString(override)
		if err != nil {
			return Nil, err
		}
		return id, persist(path, id)
	}

	data, err := os.ReadFile(path)
	if err == nil {
		return FromBytes(data)
	}
	if !os.IsNotExist(err) {
		return Nil, fmt.Errorf("actor: read %s: %w", path, err)
	}

	id := New()
	return id, persist(path, id)
}

func persist(path string, id ID) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("actor: mkdir %s: %w", dir, err)
		}
	}
	return os.WriteFile(path, id.Bytes(), 0o600)
}
