package search

import "context"

// Document is one search-index document.
type Document map[string]any

// Op is one member of a bulk batch: an upsert of Doc, or a delete of DocID
// when Delete is set.
type Op struct {
	Alias  string
	DocID  string
	Delete bool
	Doc    Document
}

// Index is the search tier consumed by the change propagator: physical
// index and alias management plus batched document upserts and deletes.
// Implementations must be safe for concurrent use.
type Index interface {
	IndexExists(ctx context.Context, name string) (bool, error)
	AliasExists(ctx context.Context, alias string) (bool, error)
	CreateIndex(ctx context.Context, name string, mapping map[string]any) error
	CreateAlias(ctx context.Context, name, alias string) error
	Bulk(ctx context.Context, ops []Op) error
}
