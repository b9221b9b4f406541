package store

import (
	"context"

	"recordpad/internal/record/model"
)

// Store persists commits. Lookups return model.ErrNotFound when nothing matches.
type Store interface {
	// Insert writes the commit log, record, owners, key binding and parent
	// relation of entry in one transaction. Re-inserting the same document
	// ID is a no-op for the log and record. When the (owner, key) binding
	// moves to a new record, relations of the previous record follow it and
	// the previous record is removed.
	Insert(ctx context.Context, entry model.Entry) error
	// Delete removes the commit log and everything hanging off it.
	Delete(ctx context.Context, documentID string) error

	GetByKey(ctx context.Context, owner, key string) (*model.Record, error)
	GetByID(ctx context.Context, documentID string) (*model.Record, error)
	ListChildren(ctx context.Context, parentID string) ([]model.Record, error)

	Close() error
}
