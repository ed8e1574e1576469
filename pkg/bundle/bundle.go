package bundle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/ledger/pkg/codec"
	"github.com/cuemby/ledger/pkg/kv"
	"github.com/cuemby/ledger/pkg/log"
	"github.com/cuemby/ledger/pkg/metrics"
	"github.com/cuemby/ledger/pkg/params"
	"github.com/cuemby/ledger/pkg/types"
	"github.com/cuemby/ledger/pkg/versionstore"
)

// Service executes atomic multi-resource bundles with two-phase commit over
// bounded conditional-write batches. The guarded status transition is the
// sole concurrency primitive: a conflicting bundle observes this one's
// transient states and fails, or reclaims them after the lock window.
type Service struct {
	store    kv.Store
	versions *versionstore.VersionStore
	logger   zerolog.Logger
}

// NewService creates a bundle service.
func NewService(store kv.Store, versions *versionstore.VersionStore) *Service {
	return &Service{
		store:    store,
		versions: versions,
		logger:   log.WithComponent("bundle"),
	}
}

// stagedLock tracks one item that acquired a transient state during Phase 1
// so rollback knows what to undo.
type stagedLock struct {
	op           types.BundleOperation
	resourceType string
	storageID    string
	vid          int64
}

// plan is the per-entry staging state carried across phases.
type plan struct {
	req       types.BatchRequest
	id        string
	storageID string
	vid       int64 // new version for create/update, current for delete/read
	item      *types.Item
}

// Execute runs a bundle: pre-resolution, staging, commit, and rollback on
// any participant failure. On success every response carries the entry's
// new vid, last-modified stamp and echoed resource. On failure the returned
// error is a *types.BundleFailedError carrying per-entry outcomes.
func (s *Service) Execute(ctx context.Context, requests []types.BatchRequest) ([]types.BatchResponse, error) {
	if len(requests) == 0 {
		return nil, nil
	}

	plans, err := s.preResolve(ctx, requests)
	if err != nil {
		metrics.BundlesTotal.WithLabelValues("failure").Inc()
		return nil, err
	}

	locks, err := s.stage(ctx, plans)
	if err != nil {
		s.rollback(ctx, locks)
		metrics.BundlesTotal.WithLabelValues("failure").Inc()
		return nil, s.failed("staging failed", plans, err)
	}

	responses, err := s.commit(ctx, plans)
	if err != nil {
		s.rollback(ctx, locks)
		metrics.BundlesTotal.WithLabelValues("failure").Inc()
		return nil, s.failed("commit failed", plans, err)
	}

	metrics.BundlesTotal.WithLabelValues("success").Inc()
	return responses, nil
}

// preResolve looks up the current vid of every update, delete and read
// target. A missing update or delete target fails the whole bundle.
func (s *Service) preResolve(ctx context.Context, requests []types.BatchRequest) ([]plan, error) {
	plans := make([]plan, len(requests))
	for i, req := range requests {
		p := plan{req: req, id: req.ID}
		switch req.Operation {
		case types.OpCreate:
			if p.id == "" {
				p.id = uuid.NewString()
			}
			p.vid = 1
		case types.OpUpdate, types.OpDelete, types.OpRead:
			item, err := s.versions.ReadMostRecent(ctx, req.ResourceType, req.ID, req.TenantID)
			if err != nil {
				if types.IsResourceNotFound(err) && req.Operation == types.OpRead {
					// Absent read targets fail the bundle at commit, after
					// nothing has been staged for them.
					p.vid = 0
					break
				}
				return nil, s.failed(fmt.Sprintf("entry %d target missing", i), plans, err)
			}
			if req.Operation == types.OpUpdate {
				p.vid = item.VID + 1
			} else {
				p.vid = item.VID
			}
		default:
			return nil, s.failed(fmt.Sprintf("entry %d has unknown operation %q", i, req.Operation), plans, nil)
		}
		p.storageID = codec.BuildStorageID(p.id, req.TenantID)
		plans[i] = p
	}
	return plans, nil
}

// stage synthesizes and applies the Phase-1 writes: PENDING inserts for
// creates and updates, guarded AVAILABLE→PENDING_DELETE transitions for
// deletes. Reads stage nothing.
func (s *Service) stage(ctx context.Context, plans []plan) ([]stagedLock, error) {
	var items []params.TransactItem
	var pending []stagedLock

	now := time.Now()
	for i := range plans {
		p := &plans[i]
		switch p.req.Operation {
		case types.OpCreate, types.OpUpdate:
			item := codec.EncodeForInsert(p.req.Resource, p.req.ResourceType, p.id, p.vid, types.StatusPending, p.req.TenantID, now)
			p.item = &item
			put := params.InsertNewVersion(item, false)
			items = append(items, params.TransactItem{Put: &put})
			pending = append(pending, stagedLock{
				op:           p.req.Operation,
				resourceType: p.req.ResourceType,
				storageID:    p.storageID,
				vid:          p.vid,
			})
		case types.OpDelete:
			tr := s.versions.TransitionRequest(p.req.ResourceType, p.storageID, p.vid, types.StatusAvailable, types.StatusPendingDelete)
			items = append(items, params.TransactItem{Transition: &tr})
			pending = append(pending, stagedLock{
				op:           p.req.Operation,
				resourceType: p.req.ResourceType,
				storageID:    p.storageID,
				vid:          p.vid,
			})
		}
	}

	var locks []stagedLock
	consumed := 0
	for _, batch := range splitTransact(items) {
		if err := s.store.TransactWrite(ctx, batch); err != nil {
			return locks, err
		}
		consumed += len(batch)
		locks = pending[:consumed]
	}
	return locks, nil
}

// commit runs Phase 2: execute the collected point-gets, then promote every
// staged state to its steady state in transactional batches.
func (s *Service) commit(ctx context.Context, plans []plan) ([]types.BatchResponse, error) {
	responses := make([]types.BatchResponse, len(plans))

	// Reads first: an absent read target aborts before any transition.
	for i := range plans {
		p := &plans[i]
		if p.req.Operation != types.OpRead {
			continue
		}
		if p.vid == 0 {
			return nil, &types.ResourceNotFoundError{ResourceType: p.req.ResourceType, ID: p.req.ID}
		}
		item, err := s.store.GetItem(ctx, params.PointGet(p.storageID, p.vid))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s/%s: %w", p.req.ResourceType, p.req.ID, err)
		}
		resource := codec.DecodeForRead(*item, nil)
		responses[i] = types.BatchResponse{
			Operation:    p.req.Operation,
			ResourceType: p.req.ResourceType,
			ID:           p.id,
			VID:          p.vid,
			LastModified: resource.LastUpdated(),
			Resource:     resource,
		}
	}

	var items []params.TransactItem
	for i := range plans {
		p := &plans[i]
		switch p.req.Operation {
		case types.OpCreate, types.OpUpdate:
			tr := s.versions.TransitionRequest(p.req.ResourceType, p.storageID, p.vid, types.StatusPending, types.StatusAvailable)
			items = append(items, params.TransactItem{Transition: &tr})
		case types.OpDelete:
			tr := s.versions.TransitionRequest(p.req.ResourceType, p.storageID, p.vid, types.StatusPendingDelete, types.StatusDeleted)
			items = append(items, params.TransactItem{Transition: &tr})
		}
	}
	for _, batch := range splitTransact(items) {
		if err := s.store.TransactWrite(ctx, batch); err != nil {
			return nil, err
		}
	}

	for i := range plans {
		p := &plans[i]
		switch p.req.Operation {
		case types.OpCreate, types.OpUpdate:
			resource := codec.DecodeForRead(*p.item, nil)
			responses[i] = types.BatchResponse{
				Operation:    p.req.Operation,
				ResourceType: p.req.ResourceType,
				ID:           p.id,
				VID:          p.vid,
				LastModified: resource.LastUpdated(),
				Resource:     resource,
			}
		case types.OpDelete:
			responses[i] = types.BatchResponse{
				Operation:    p.req.Operation,
				ResourceType: p.req.ResourceType,
				ID:           p.id,
				VID:          p.vid,
			}
		}
	}
	return responses, nil
}

// rollback undoes every staged transient state: newly-inserted versions are
// deleted unconditionally, staged deletes are reverted to AVAILABLE.
// Idempotent and safe to retry; partial failures are logged and the bundle
// outcome stays failed.
func (s *Service) rollback(ctx context.Context, locks []stagedLock) {
	metrics.BundleRollbacksTotal.Inc()
	for _, lock := range locks {
		var err error
		switch lock.op {
		case types.OpCreate, types.OpUpdate:
			err = s.store.DeleteItem(ctx, params.DeleteVersion(lock.storageID, lock.vid))
		case types.OpDelete:
			err = s.versions.Transition(ctx, lock.resourceType, lock.storageID, lock.vid, types.StatusPendingDelete, types.StatusAvailable)
		}
		if err != nil {
			s.logger.Error().
				Err(err).
				Str("storage_id", lock.storageID).
				Int64("vid", lock.vid).
				Str("op", string(lock.op)).
				Msg("rollback step failed")
		}
	}
}

func (s *Service) failed(reason string, plans []plan, err error) error {
	responses := make([]types.BatchResponse, len(plans))
	for i := range plans {
		responses[i] = types.BatchResponse{
			Operation:    plans[i].req.Operation,
			ResourceType: plans[i].req.ResourceType,
			ID:           plans[i].id,
			Error:        reason,
		}
	}
	return &types.BundleFailedError{Reason: reason, Responses: responses, Err: err}
}

// splitTransact slices a descriptor list into sub-batches no larger than
// the engine's transaction bound.
func splitTransact(items []params.TransactItem) [][]params.TransactItem {
	if len(items) == 0 {
		return nil
	}
	var out [][]params.TransactItem
	for len(items) > params.MaxTransactItems {
		out = append(out, items[:params.MaxTransactItems])
		items = items[params.MaxTransactItems:]
	}
	return append(out, items)
}
