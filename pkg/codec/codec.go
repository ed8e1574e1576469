package codec

import (
	"sort"
	"strings"
	"time"

	"github.com/cuemby/ledger/pkg/params"
	"github.com/cuemby/ledger/pkg/types"
)

// BuildStorageID derives the partition-key value for a logical id. In
// multi-tenant mode the tenant id is concatenated onto the id so one
// tenant's versions colocate under one partition.
func BuildStorageID(id, tenantID string) string {
	return id + tenantID
}

// SplitStorageID recovers the logical id from a storage id.
func SplitStorageID(storageID, tenantID string) string {
	if tenantID == "" {
		return storageID
	}
	return strings.TrimSuffix(storageID, tenantID)
}

// Projection selects optional fields for DecodeForRead. A nil projection
// returns the public payload only.
type Projection struct {
	IncludeTenantID bool
}

// EncodeForInsert clones the resource into its stored item form: the id is
// rewritten to the storage id, meta.versionId and meta.lastUpdated are
// stamped (overwriting caller-supplied values), the reference fingerprints
// are extracted, and the lifecycle fields are set.
func EncodeForInsert(resource types.Resource, resourceType, id string, vid int64, status types.DocumentStatus, tenantID string, now time.Time) types.Item {
	doc := resource.Clone()
	if doc == nil {
		doc = types.Resource{}
	}
	storageID := BuildStorageID(id, tenantID)
	doc.SetID(storageID)
	doc[params.FieldResourceType] = resourceType
	doc.StampMeta(vid, now)

	item := types.Item{
		StorageID:      storageID,
		VID:            vid,
		ResourceType:   resourceType,
		DocumentStatus: status,
		LockEndTs:      now.UnixMilli(),
		TenantID:       tenantID,
		References:     ExtractReferences(doc),
		Document:       doc,
	}
	if link, ok := doc[params.FieldBulkDataLink].(string); ok {
		item.BulkDataLink = link
	}
	return item
}

// DecodeForRead strips the internal fields from a stored item and restores
// the logical id on the caller's boundary. The tenant id survives only when
// the projection asks for it.
func DecodeForRead(item types.Item, proj *Projection) types.Resource {
	doc := item.Document.Clone()
	if doc == nil {
		doc = types.Resource{}
	}
	doc.SetID(SplitStorageID(item.StorageID, item.TenantID))
	if proj != nil && proj.IncludeTenantID && item.TenantID != "" {
		doc[params.FieldTenantID] = item.TenantID
	} else {
		delete(doc, params.FieldTenantID)
	}
	return doc
}

// ExtractReferences flattens the document into dotted paths and collects
// every string value whose terminal path segment is "reference". The result
// is sorted and deduplicated.
func ExtractReferences(doc types.Resource) []string {
	seen := map[string]struct{}{}
	collectReferences(map[string]any(doc), seen)

	refs := make([]string, 0, len(seen))
	for r := range seen {
		refs = append(refs, r)
	}
	sort.Strings(refs)
	return refs
}

func collectReferences(v any, seen map[string]struct{}) {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			if k == "reference" {
				if s, ok := e.(string); ok {
					seen[s] = struct{}{}
					continue
				}
			}
			collectReferences(e, seen)
		}
	case []any:
		for _, e := range t {
			collectReferences(e, seen)
		}
	}
}
