package repository

import "errors"

var (
	// ErrNotFound is returned when a document does not exist or belongs
	// to a different tenant.
	ErrNotFound = errors.New("document not found")

	// ErrConflict is returned when a write loses a revision race or
	// collides with an existing document id.
	ErrConflict = errors.New("document revision conflict")
)
