package writepath

import "errors"

// Sentinel errors for the write-path boundary, matching spec §7's taxonomy
// ("store transport", "not found", "conflict") and named exactly as the
// spec names them so callers can distinguish failure modes with errors.Is.
var (
	// ErrInsertionError wraps a transport/database failure during a create
	// operation.
	ErrInsertionError = errors.New("writepath: insertion error")

	// ErrUpdateError wraps a transport/database failure during an update
	// operation.
	ErrUpdateError = errors.New("writepath: update error")

	// ErrDeletionError wraps a transport/database failure during an
	// archive (soft-delete) operation.
	ErrDeletionError = errors.New("writepath: deletion error")

	// ErrEntityDoesNotExist is returned when the target id of an update,
	// or archive operation is absent.
	ErrEntityDoesNotExist = errors.New("writepath: entity does not exist")

	// ErrBaseURLDoesNotExist is the ontology analogue of
	// ErrEntityDoesNotExist.
	ErrBaseURLDoesNotExist = errors.New("writepath: base url does not exist")

	// ErrRaceConditionOnUpdate is returned when the underlying
	// version-consistency check rejects an update (spec §4.7's
	// "restriction-violation signal" surfaced as a distinguishable error).
	ErrRaceConditionOnUpdate = errors.New("writepath: race condition on update")

	// ErrBaseURLAlreadyExists is returned when creating an ontology vertex
	// whose base URL is already registered under a different identity.
	ErrBaseURLAlreadyExists = errors.New("writepath: base url already exists")

	// ErrVersionedURLAlreadyExists is returned when creating an ontology
	// vertex revision that already exists.
	ErrVersionedURLAlreadyExists = errors.New("writepath: versioned url already exists")
)
