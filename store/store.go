// Package store defines the document collaborator the feed engine runs
// against: a schemaless collection store that supports key-range scans over
// an indexed field, atomic array mutations, and snapshot subscriptions.
package store

import (
	"context"
)

// Collection names used by the application.
const (
	CollectionReports  = "reports"
	CollectionUsers    = "users"
	CollectionComments = "comments"
)

// Document is one stored record.
type Document struct {
	ID     string
	Fields map[string]any
}

// Order is one ordering term of a scan.
type Order struct {
	Field string
	Desc  bool
}

// Filter is an equality filter on a single field.
type Filter struct {
	Field string
	Value any
}

// KeyRange restricts a scan to [Start, End) of the first ordering field.
type KeyRange struct {
	Start string
	End   string
}

// Scan describes one range scan. Range may be nil for a full collection scan;
// Filter may be nil for no filtering.
type Scan struct {
	Collection string
	OrderBy    []Order
	Range      *KeyRange
	Filter     *Filter
}

// UpdateOp selects how a FieldUpdate is applied.
type UpdateOp int

const (
	// OpSet replaces the field value.
	OpSet UpdateOp = iota
	// OpArrayUnion appends the value to an array field if absent.
	OpArrayUnion
	// OpArrayRemove removes the value from an array field if present.
	OpArrayRemove
)

// FieldUpdate is one partial-field mutation. Array ops are atomic at the
// store: concurrent voters cannot produce duplicate set members.
type FieldUpdate struct {
	Field string
	Op    UpdateOp
	Value any
}

// Unsubscribe tears down a subscription. Safe to call more than once; only
// the first call has effect.
type Unsubscribe func()

// DocumentStore is the abstract collaborator the engine and services depend
// on. Concrete backings: MySQL in production, memory in tests and the
// comment stream fixtures.
type DocumentStore interface {
	// RangeScan executes one scan and returns matching documents in scan
	// order. An error fails the caller's whole query (fail closed).
	RangeScan(ctx context.Context, scan Scan) ([]Document, error)

	// Get returns a document or models.ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Create inserts a document with a generated id and returns the id.
	Create(ctx context.Context, collection string, fields map[string]any) (string, error)

	// Put inserts a document under a caller-chosen id. Used when the id must
	// exist before the document does, e.g. media objects keyed by report id
	// are uploaded before the report document is written.
	Put(ctx context.Context, collection, id string, fields map[string]any) error

	// Update applies partial-field mutations to an existing document.
	Update(ctx context.Context, collection, id string, updates []FieldUpdate) error

	// Delete removes a document. Deleting an absent document returns
	// models.ErrNotFound.
	Delete(ctx context.Context, collection, id string) error

	// Subscribe pushes the full ordered result of scan on every change to
	// the collection, starting with the current snapshot. The returned
	// Unsubscribe must be invoked exactly once by the owning controller.
	Subscribe(scan Scan, onChange func([]Document)) Unsubscribe
}

// Mirrored columns. The store keeps these fields queryable outside the
// document body so range scans and filters can use them; they are synced on
// every create and update.
const (
	FieldLocationHash        = "location_hash"
	FieldDefaultLocationHash = "default_location_hash"
	FieldCategory            = "category"
	FieldTimestamp           = "timestamp"
	FieldPostID              = "post_id"
)
