package dataservice

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/ledger/pkg/bundle"
	"github.com/cuemby/ledger/pkg/codec"
	"github.com/cuemby/ledger/pkg/kv"
	"github.com/cuemby/ledger/pkg/log"
	"github.com/cuemby/ledger/pkg/metrics"
	"github.com/cuemby/ledger/pkg/params"
	"github.com/cuemby/ledger/pkg/types"
	"github.com/cuemby/ledger/pkg/versionstore"
)

// Service provides single-resource CRUD over the primary table, enforcing
// the per-resource version lifecycle. No retries happen here; transient
// conflicts surface as typed errors and retry policy lives at the client.
type Service struct {
	store        kv.Store
	versions     *versionstore.VersionStore
	bundles      *bundle.Service
	updateCreate bool
}

// NewService creates a data service. updateCreateSupported controls whether
// updates to a missing id synthesize a create with the supplied id.
func NewService(store kv.Store, versions *versionstore.VersionStore, bundles *bundle.Service, updateCreateSupported bool) *Service {
	return &Service{
		store:        store,
		versions:     versions,
		bundles:      bundles,
		updateCreate: updateCreateSupported,
	}
}

// CreateResource inserts version 1 of a new resource under a generated id.
// Fast path: the version goes straight to AVAILABLE because the key is new.
func (s *Service) CreateResource(ctx context.Context, resource types.Resource, resourceType, tenantID string) (types.Resource, error) {
	return s.createWithID(ctx, resource, resourceType, uuid.NewString(), tenantID)
}

// CreateResourceWithID inserts version 1 under a caller-supplied id.
func (s *Service) CreateResourceWithID(ctx context.Context, resource types.Resource, resourceType, id, tenantID string) (types.Resource, error) {
	return s.createWithID(ctx, resource, resourceType, id, tenantID)
}

func (s *Service) createWithID(ctx context.Context, resource types.Resource, resourceType, id, tenantID string) (types.Resource, error) {
	item := codec.EncodeForInsert(resource, resourceType, id, 1, types.StatusAvailable, tenantID, time.Now())
	err := s.store.PutItem(ctx, params.InsertNewVersion(item, false))
	if err != nil {
		if kv.IsConditionFailed(err) {
			return nil, &types.InvalidResourceError{Reason: "Resource creation failed, id matches an existing resource"}
		}
		return nil, fmt.Errorf("failed to create %s/%s: %w", resourceType, id, err)
	}
	metrics.DocumentsWrittenTotal.WithLabelValues(resourceType, "create").Inc()
	logger := log.WithResource(resourceType, id)
	logger.Debug().Int64("vid", 1).Msg("resource created")
	return codec.DecodeForRead(item, nil), nil
}

// ReadResource resolves the current version of a resource.
func (s *Service) ReadResource(ctx context.Context, resourceType, id, tenantID string) (types.Resource, error) {
	item, err := s.versions.ReadMostRecent(ctx, resourceType, id, tenantID)
	if err != nil {
		return nil, err
	}
	return codec.DecodeForRead(*item, nil), nil
}

// ReadVersion resolves one specific AVAILABLE version of a resource.
func (s *Service) ReadVersion(ctx context.Context, resourceType, id string, vid int64, tenantID string) (types.Resource, error) {
	item, err := s.versions.ReadVersion(ctx, resourceType, id, vid, tenantID)
	if err != nil {
		return nil, err
	}
	return codec.DecodeForRead(*item, nil), nil
}

// UpdateResource writes a new version of an existing resource through a
// single-entry bundle (PENDING insert, then promotion to AVAILABLE). When
// the id is missing and update-create is enabled, the update synthesizes a
// create with the supplied id after validating its format.
func (s *Service) UpdateResource(ctx context.Context, resource types.Resource, resourceType, id, tenantID string) (types.Resource, error) {
	_, err := s.versions.ReadMostRecent(ctx, resourceType, id, tenantID)
	if err != nil {
		if types.IsResourceNotFound(err) && s.updateCreate {
			if _, parseErr := uuid.Parse(id); parseErr != nil {
				return nil, &types.InvalidResourceError{Reason: fmt.Sprintf("id %q is not a valid resource id", id)}
			}
			return s.createWithID(ctx, resource, resourceType, id, tenantID)
		}
		return nil, err
	}

	responses, err := s.bundles.Execute(ctx, []types.BatchRequest{{
		Operation:    types.OpUpdate,
		ResourceType: resourceType,
		ID:           id,
		Resource:     resource,
		TenantID:     tenantID,
	}})
	if err != nil {
		return nil, err
	}
	metrics.DocumentsWrittenTotal.WithLabelValues(resourceType, "update").Inc()
	return responses[0].Resource, nil
}

// DeleteResource logically deletes the current version of a resource by
// transitioning it from AVAILABLE to DELETED. The version chain is kept.
func (s *Service) DeleteResource(ctx context.Context, resourceType, id, tenantID string) (string, error) {
	item, err := s.versions.ReadMostRecent(ctx, resourceType, id, tenantID)
	if err != nil {
		return "", err
	}
	err = s.versions.Transition(ctx, resourceType, item.StorageID, item.VID, types.StatusAvailable, types.StatusDeleted)
	if err != nil {
		if kv.IsConditionFailed(err) {
			return "", &types.ResourceNotFoundError{ResourceType: resourceType, ID: id}
		}
		return "", fmt.Errorf("failed to delete %s/%s: %w", resourceType, id, err)
	}
	metrics.DocumentsWrittenTotal.WithLabelValues(resourceType, "delete").Inc()
	logger := log.WithResource(resourceType, id)
	logger.Debug().Int64("vid", item.VID).Msg("resource deleted")
	return fmt.Sprintf("Successfully deleted resource %s/%s version %d", resourceType, id, item.VID), nil
}

// PatchResource applies a shallow merge of the supplied fields onto the
// current version and writes the result as a new version.
func (s *Service) PatchResource(ctx context.Context, patch types.Resource, resourceType, id, tenantID string) (types.Resource, error) {
	current, err := s.ReadResource(ctx, resourceType, id, tenantID)
	if err != nil {
		return nil, err
	}
	merged := current.Clone()
	for k, v := range patch {
		merged[k] = v
	}
	return s.UpdateResource(ctx, merged, resourceType, id, tenantID)
}
