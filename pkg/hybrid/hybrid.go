package hybrid

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/ledger/pkg/blob"
	"github.com/cuemby/ledger/pkg/dataservice"
	"github.com/cuemby/ledger/pkg/log"
	"github.com/cuemby/ledger/pkg/metrics"
	"github.com/cuemby/ledger/pkg/params"
	"github.com/cuemby/ledger/pkg/types"
)

// bulkObject is the blob body for an offloaded payload. Link repeats the
// object's own key as a self-referential integrity check.
type bulkObject struct {
	Link string         `json:"link"`
	Data map[string]any `json:"data"`
}

// Store routes registered large fields of selected resource types to the
// blob tier while keeping a stub in the primary table, and composes the
// full resource back on read.
//
// Writes are strictly blob-first: a crash after the blob upload leaves only
// an orphaned object, while the reverse order could commit an unreadable
// resource.
type Store struct {
	data         *dataservice.Service
	blobs        blob.Store
	offload      map[string][]string // fixed at construction, read-only after
	multiTenancy bool
	separator    string
	logger       zerolog.Logger
}

// New creates a hybrid store. The offload registration maps resource types
// to the field names routed to the blob tier; it must not be mutated after
// construction.
func New(data *dataservice.Service, blobs blob.Store, offload map[string][]string, multiTenancy bool, separator string) *Store {
	if separator == "" {
		separator = "_"
	}
	return &Store{
		data:         data,
		blobs:        blobs,
		offload:      offload,
		multiTenancy: multiTenancy,
		separator:    separator,
		logger:       log.WithComponent("hybrid"),
	}
}

// Registered reports whether a resource type has offloaded fields.
func (h *Store) Registered(resourceType string) bool {
	return len(h.offload[resourceType]) > 0
}

func (h *Store) assertTenancy(tenantID string) error {
	if h.multiTenancy != (tenantID != "") {
		logger := log.WithTenantID(tenantID)
		logger.Warn().
			Bool("multi_tenancy", h.multiTenancy).
			Msg("tenancy mode mismatch")
		return &types.TenancyMismatchError{MultiTenancyEnabled: h.multiTenancy}
	}
	return nil
}

func (h *Store) bulkKey(resourceType, id, tenantID string) string {
	key := fmt.Sprintf("%s/%s%s%s.json", resourceType, id, h.separator, uuid.NewString())
	if tenantID != "" {
		key = tenantID + "/" + key
	}
	return key
}

// detach splits a resource into its stripped stub and the blob body for
// its offloaded fields. A resource carrying none of the registered fields
// detaches to itself with no blob.
func (h *Store) detach(resource types.Resource, resourceType, id, tenantID string) (types.Resource, string, []byte, error) {
	stripped := resource.Clone()
	data := map[string]any{}
	for _, field := range h.offload[resourceType] {
		if v, ok := stripped[field]; ok {
			data[field] = v
			delete(stripped, field)
		}
	}
	if len(data) == 0 {
		return stripped, "", nil, nil
	}
	link := h.bulkKey(resourceType, id, tenantID)
	stripped[params.FieldBulkDataLink] = link
	body, err := json.Marshal(bulkObject{Link: link, Data: data})
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to encode bulk object: %w", err)
	}
	return stripped, link, body, nil
}

// compose restores the offloaded fields onto a stripped resource. Any
// blob-fetch or link-mismatch failure surfaces as ResourceNotFound.
func (h *Store) compose(ctx context.Context, resource types.Resource, resourceType, id string) (types.Resource, error) {
	link, ok := resource[params.FieldBulkDataLink].(string)
	if !ok || link == "" {
		return resource, nil
	}
	body, err := h.blobs.Get(ctx, link)
	if err != nil {
		h.logger.Error().Err(err).Str("link", link).Msg("bulk object fetch failed")
		return nil, &types.ResourceNotFoundError{ResourceType: resourceType, ID: id}
	}
	metrics.BulkObjectsTotal.WithLabelValues("get").Inc()
	var bulk bulkObject
	if err := json.Unmarshal(body, &bulk); err != nil || bulk.Link != link {
		h.logger.Error().Str("link", link).Msg("bulk object link check failed")
		return nil, &types.ResourceNotFoundError{ResourceType: resourceType, ID: id}
	}
	out := resource.Clone()
	for field, value := range bulk.Data {
		out[field] = value
	}
	delete(out, params.FieldBulkDataLink)
	return out, nil
}

// CreateResource writes a new hybrid resource: blob upload first, then the
// stripped stub through the data service. On stub-insert failure the blob
// is deleted best effort.
func (h *Store) CreateResource(ctx context.Context, resource types.Resource, resourceType, tenantID string) (types.Resource, error) {
	if err := h.assertTenancy(tenantID); err != nil {
		return nil, err
	}
	if !h.Registered(resourceType) {
		return h.data.CreateResource(ctx, resource, resourceType, tenantID)
	}
	id := uuid.NewString()
	stripped, link, body, err := h.detach(resource, resourceType, id, tenantID)
	if err != nil {
		return nil, err
	}
	if link != "" {
		if err := h.blobs.Put(ctx, link, body); err != nil {
			return nil, fmt.Errorf("failed to upload bulk object: %w", err)
		}
		metrics.BulkObjectsTotal.WithLabelValues("put").Inc()
	}
	created, err := h.data.CreateResourceWithID(ctx, stripped, resourceType, id, tenantID)
	if err != nil {
		if link != "" {
			if delErr := h.blobs.Delete(ctx, link); delErr != nil {
				h.logger.Warn().Err(delErr).Str("link", link).Msg("orphaned bulk object cleanup failed")
			}
		}
		return nil, err
	}
	return h.compose(ctx, created, resourceType, id)
}

// UpdateResource writes a new version of a hybrid resource, offloading to a
// fresh bulk object. The previous version keeps its own object.
func (h *Store) UpdateResource(ctx context.Context, resource types.Resource, resourceType, id, tenantID string) (types.Resource, error) {
	if err := h.assertTenancy(tenantID); err != nil {
		return nil, err
	}
	if !h.Registered(resourceType) {
		return h.data.UpdateResource(ctx, resource, resourceType, id, tenantID)
	}
	stripped, link, body, err := h.detach(resource, resourceType, id, tenantID)
	if err != nil {
		return nil, err
	}
	if link != "" {
		if err := h.blobs.Put(ctx, link, body); err != nil {
			return nil, fmt.Errorf("failed to upload bulk object: %w", err)
		}
		metrics.BulkObjectsTotal.WithLabelValues("put").Inc()
	}
	updated, err := h.data.UpdateResource(ctx, stripped, resourceType, id, tenantID)
	if err != nil {
		if link != "" {
			if delErr := h.blobs.Delete(ctx, link); delErr != nil {
				h.logger.Warn().Err(delErr).Str("link", link).Msg("orphaned bulk object cleanup failed")
			}
		}
		return nil, err
	}
	return h.compose(ctx, updated, resourceType, id)
}

// ReadResource resolves the current version and composes the full resource.
func (h *Store) ReadResource(ctx context.Context, resourceType, id, tenantID string) (types.Resource, error) {
	if err := h.assertTenancy(tenantID); err != nil {
		return nil, err
	}
	resource, err := h.data.ReadResource(ctx, resourceType, id, tenantID)
	if err != nil {
		return nil, err
	}
	return h.compose(ctx, resource, resourceType, id)
}

// ReadVersion resolves one specific version and composes the full resource.
func (h *Store) ReadVersion(ctx context.Context, resourceType, id string, vid int64, tenantID string) (types.Resource, error) {
	if err := h.assertTenancy(tenantID); err != nil {
		return nil, err
	}
	resource, err := h.data.ReadVersion(ctx, resourceType, id, vid, tenantID)
	if err != nil {
		return nil, err
	}
	return h.compose(ctx, resource, resourceType, id)
}

// DeleteResource deletes the blob and the primary item concurrently, both
// best effort. A failed blob delete orphans the object for GC; a failed
// primary transition is the operation's error.
func (h *Store) DeleteResource(ctx context.Context, resourceType, id, tenantID string) (string, error) {
	if err := h.assertTenancy(tenantID); err != nil {
		return "", err
	}
	if !h.Registered(resourceType) {
		return h.data.DeleteResource(ctx, resourceType, id, tenantID)
	}
	current, err := h.data.ReadResource(ctx, resourceType, id, tenantID)
	if err != nil {
		return "", err
	}
	link, _ := current[params.FieldBulkDataLink].(string)

	var wg sync.WaitGroup
	var deleteMsg string
	var deleteErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		deleteMsg, deleteErr = h.data.DeleteResource(ctx, resourceType, id, tenantID)
	}()
	if link != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := h.blobs.Delete(ctx, link); err != nil {
				h.logger.Warn().Err(err).Str("link", link).Msg("bulk object delete failed")
				return
			}
			metrics.BulkObjectsTotal.WithLabelValues("delete").Inc()
		}()
	}
	wg.Wait()
	if deleteErr != nil {
		return "", deleteErr
	}
	return deleteMsg, nil
}
