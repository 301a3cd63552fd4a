package domain

import "errors"

var (
	// ErrImageryUnavailable means the remote imagery service could not be
	// initialized or reached. Fatal for the whole analysis.
	ErrImageryUnavailable = errors.New("imagery service unavailable")

	// ErrInvalidGeometry means a geometry is not a usable Polygon or
	// MultiPolygon.
	ErrInvalidGeometry = errors.New("invalid geometry")

	// ErrContactUnresolved means the user directory could not produce a real
	// deliverable address for a user. Placeholder addresses count as
	// unresolved.
	ErrContactUnresolved = errors.New("contact unresolved")

	// ErrNotFound is returned by storage lookups that match no row.
	ErrNotFound = errors.New("not found")
)
