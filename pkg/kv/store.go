package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/ledger/pkg/params"
	"github.com/cuemby/ledger/pkg/types"
)

// ErrItemNotFound is returned by point reads of absent keys.
var ErrItemNotFound = errors.New("item not found")

// ConditionFailedError reports that a guarded write did not pass its
// condition. Index identifies the failing member of a transactional batch
// (-1 for single-item operations).
type ConditionFailedError struct {
	Index  int
	Reason string
}

func (e *ConditionFailedError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("conditional check failed on transact item %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("conditional check failed: %s", e.Reason)
}

// IsConditionFailed reports whether err is a ConditionFailedError.
func IsConditionFailed(err error) bool {
	var cf *ConditionFailedError
	return errors.As(err, &cf)
}

// Store is the engine-neutral contract the persistence core requires of the
// primary table: conditional single-item writes, bounded all-or-nothing
// multi-item transactions, a descending range query over versions, a point
// get, a secondary index over export job status, and an ordered change
// feed. Implementations must be safe for concurrent use.
type Store interface {
	// Documents
	PutItem(ctx context.Context, req params.PutRequest) error
	GetItem(ctx context.Context, req params.GetRequest) (*types.Item, error)
	Query(ctx context.Context, req params.QueryRequest) ([]types.Item, error)
	DeleteItem(ctx context.Context, req params.DeleteRequest) error
	ApplyTransition(ctx context.Context, req params.StatusTransitionRequest) error
	TransactWrite(ctx context.Context, items []params.TransactItem) error

	// Export jobs
	PutExportJob(ctx context.Context, req params.ExportPutRequest) error
	GetExportJob(ctx context.Context, req params.ExportGetRequest) (*types.ExportJob, error)
	TransitionExportJob(ctx context.Context, req params.ExportTransitionRequest) error
	QueryExportJobsByStatus(ctx context.Context, req params.ExportStatusQuery) ([]types.ExportJob, error)

	// Utility
	Close() error
}
