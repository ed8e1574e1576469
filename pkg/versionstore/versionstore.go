package versionstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/ledger/pkg/codec"
	"github.com/cuemby/ledger/pkg/kv"
	"github.com/cuemby/ledger/pkg/params"
	"github.com/cuemby/ledger/pkg/types"
)

// VersionStore provides point and range access over version chains in the
// primary table and applies guarded status transitions.
type VersionStore struct {
	store          kv.Store
	lockDurationMS int64
}

// New creates a VersionStore. lockDurationMS <= 0 selects the default
// reclaim threshold.
func New(store kv.Store, lockDurationMS int64) *VersionStore {
	if lockDurationMS <= 0 {
		lockDurationMS = params.DefaultLockDurationMS
	}
	return &VersionStore{store: store, lockDurationMS: lockDurationMS}
}

// ReadMostRecent resolves the current version of a resource. It inspects up
// to the two newest versions:
//
//  1. head DELETED → ResourceNotFound
//  2. head AVAILABLE, LOCKED or PENDING_DELETE → head
//  3. head PENDING with a prior version → the prior version
//  4. otherwise → ResourceNotFound
//
// A head-PENDING chain with no prior version reads as not-found; a reader
// racing a first create simply retries.
func (v *VersionStore) ReadMostRecent(ctx context.Context, resourceType, id, tenantID string) (*types.Item, error) {
	storageID := codec.BuildStorageID(id, tenantID)
	items, err := v.store.Query(ctx, params.MostRecentQuery(storageID, 2))
	if err != nil {
		return nil, fmt.Errorf("failed to query versions of %s/%s: %w", resourceType, id, err)
	}
	notFound := &types.ResourceNotFoundError{ResourceType: resourceType, ID: id}
	if len(items) == 0 || items[0].ResourceType != resourceType {
		return nil, notFound
	}
	head := items[0]
	switch {
	case head.DocumentStatus == types.StatusDeleted:
		return nil, notFound
	case head.DocumentStatus.Readable():
		return &head, nil
	case head.DocumentStatus == types.StatusPending && len(items) > 1:
		prior := items[1]
		if prior.DocumentStatus.Readable() {
			return &prior, nil
		}
		return nil, notFound
	default:
		return nil, notFound
	}
}

// ReadVersion resolves one specific version. Only AVAILABLE versions of the
// requested resource type are served; anything else is VersionNotFound.
func (v *VersionStore) ReadVersion(ctx context.Context, resourceType, id string, vid int64, tenantID string) (*types.Item, error) {
	storageID := codec.BuildStorageID(id, tenantID)
	item, err := v.store.GetItem(ctx, params.PointGet(storageID, vid))
	if err != nil {
		if errors.Is(err, kv.ErrItemNotFound) {
			return nil, &types.VersionNotFoundError{ResourceType: resourceType, ID: id, VID: vid}
		}
		return nil, fmt.Errorf("failed to read version %d of %s/%s: %w", vid, resourceType, id, err)
	}
	if item.ResourceType != resourceType || item.DocumentStatus != types.StatusAvailable {
		return nil, &types.VersionNotFoundError{ResourceType: resourceType, ID: id, VID: vid}
	}
	return item, nil
}

// CurrentVID returns the vid of the current version of a resource.
func (v *VersionStore) CurrentVID(ctx context.Context, resourceType, id, tenantID string) (int64, error) {
	item, err := v.ReadMostRecent(ctx, resourceType, id, tenantID)
	if err != nil {
		return 0, err
	}
	return item.VID, nil
}

// Transition applies the guarded status transition from oldStatus to
// newStatus on one version, with the expired-lock reclaim escape.
func (v *VersionStore) Transition(ctx context.Context, resourceType, storageID string, vid int64, oldStatus, newStatus types.DocumentStatus) error {
	req := params.StatusTransition(resourceType, storageID, vid, oldStatus, newStatus, time.Now(), v.lockDurationMS)
	return v.store.ApplyTransition(ctx, req)
}

// TransitionRequest builds the guarded transition descriptor without
// applying it, for batching into a transactional write.
func (v *VersionStore) TransitionRequest(resourceType, storageID string, vid int64, oldStatus, newStatus types.DocumentStatus) params.StatusTransitionRequest {
	return params.StatusTransition(resourceType, storageID, vid, oldStatus, newStatus, time.Now(), v.lockDurationMS)
}
