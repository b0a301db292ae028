package models

import "errors"

// Error taxonomy. Handlers map these onto HTTP statuses; everything else is
// treated as an internal error.
var (
	// ErrQueryFailed means one or more range scans of a feed query errored.
	// The whole query fails closed; no partial result is published.
	ErrQueryFailed = errors.New("feed query failed")

	// ErrMutationFailed means a single vote/edit/delete/publish write failed.
	// It is localized to the operation and does not invalidate the feed.
	ErrMutationFailed = errors.New("mutation failed")

	// ErrNotFound means a referenced document is absent.
	ErrNotFound = errors.New("not found")

	// ErrPermissionDenied means a non-owner attempted an edit or delete.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrGeocodeFailed is non-fatal; display falls back to raw coordinates.
	ErrGeocodeFailed = errors.New("geocoding failed")
)
