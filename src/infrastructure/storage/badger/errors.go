package badger

import (
	"errors"

	"github.com/dgraph-io/badger/v4"

	pkgerrors "aas-deltasync/src/pkg/errors"
)

// ErrNotFound is returned by lookups against a missing key.
var ErrNotFound = errors.New("key not found")

// WrapError classifies a BadgerDB error into the sync agent's taxonomy
// (spec §7): anything Badger reports as a durability failure is
// persistence-fatal, a missing key is a plain sentinel the caller checks
// with IsNotFound, and everything else passes through unwrapped.
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		return ErrNotFound
	case errors.Is(err, badger.ErrDBClosed),
		errors.Is(err, badger.ErrTruncateNeeded),
		errors.Is(err, badger.ErrBlockedWrites):
		return pkgerrors.NewPersistenceError(operation, err)
	default:
		return err
	}
}

// IsNotFound reports whether err indicates a missing key.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, badger.ErrKeyNotFound)
}
