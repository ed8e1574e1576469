package params

import (
	"time"

	"github.com/cuemby/ledger/pkg/types"
)

// Stored field names referenced by conditional expressions. Defined once
// here; no other package spells these strings.
const (
	FieldID             = "id"
	FieldVID            = "vid"
	FieldResourceType   = "resourceType"
	FieldDocumentStatus = "documentStatus"
	FieldLockEndTs      = "lockEndTs"
	FieldTenantID       = "tenantId"
	FieldReferences     = "_references"
	FieldBulkDataLink   = "bulkDataLink"
	FieldMeta           = "meta"

	FieldJobID      = "jobId"
	FieldJobOwnerID = "jobOwnerId"
	FieldJobStatus  = "jobStatus"
)

const (
	// MaxTransactItems bounds one conditional-write transaction. Larger
	// bundles are split into sequential sub-batches.
	MaxTransactItems = 25

	// DefaultLockDurationMS is how long a transient status holds off a
	// forcible reclaim by a conflicting writer.
	DefaultLockDurationMS = 35000
)

// reclaimable are the transient statuses an expired lock may be taken from.
var reclaimable = []types.DocumentStatus{
	types.StatusLocked,
	types.StatusPending,
	types.StatusPendingDelete,
}

// Condition guards a single write. The zero value is unconditional.
//
// A status guard passes when the stored status equals ExpectStatus. The
// lock-expired escape also lets it pass when the stored status is one of
// ReclaimStatuses and the stored lockEndTs is older than ReclaimBefore.
type Condition struct {
	NotExists       bool
	ResourceType    string
	ExpectStatus    types.DocumentStatus
	ReclaimBefore   int64
	ReclaimStatuses []types.DocumentStatus
}

// PutRequest inserts one item, optionally guarded.
type PutRequest struct {
	Item      types.Item
	Condition Condition
}

// StatusTransitionRequest moves one stored version to NewStatus, guarded,
// refreshing its lockEndTs.
type StatusTransitionRequest struct {
	StorageID    string
	VID          int64
	NewStatus    types.DocumentStatus
	NewLockEndTs int64
	Condition    Condition
}

// GetRequest is a point read of one version.
type GetRequest struct {
	StorageID  string
	VID        int64
	Projection []string
}

// QueryRequest reads the most recent Limit versions of one storage id,
// descending by vid.
type QueryRequest struct {
	StorageID  string
	Limit      int
	Projection []string
}

// DeleteRequest removes one version unconditionally (rollback path).
type DeleteRequest struct {
	StorageID string
	VID       int64
}

// TransactItem is one member of a bounded all-or-nothing batch. Exactly one
// field is set.
type TransactItem struct {
	Put        *PutRequest
	Transition *StatusTransitionRequest
	Delete     *DeleteRequest
}

// InsertNewVersion builds the conditional insert for a freshly encoded
// version. Unless overwrite is allowed the write is guarded on the key not
// existing.
func InsertNewVersion(item types.Item, allowOverwrite bool) PutRequest {
	return PutRequest{
		Item:      item,
		Condition: Condition{NotExists: !allowOverwrite},
	}
}

// StatusTransition builds the guarded transition from oldStatus to
// newStatus on (storageID, vid). The guard passes when the stored resource
// type matches and the stored status equals oldStatus, or when the stored
// status is a transient lock whose lockEndTs predates now-lockDurationMS.
func StatusTransition(resourceType, storageID string, vid int64, oldStatus, newStatus types.DocumentStatus, now time.Time, lockDurationMS int64) StatusTransitionRequest {
	if lockDurationMS <= 0 {
		lockDurationMS = DefaultLockDurationMS
	}
	nowMS := now.UnixMilli()
	return StatusTransitionRequest{
		StorageID:    storageID,
		VID:          vid,
		NewStatus:    newStatus,
		NewLockEndTs: nowMS,
		Condition: Condition{
			ResourceType:    resourceType,
			ExpectStatus:    oldStatus,
			ReclaimBefore:   nowMS - lockDurationMS,
			ReclaimStatuses: reclaimable,
		},
	}
}

// MostRecentQuery builds the descending query for the newest limit versions
// of a storage id.
func MostRecentQuery(storageID string, limit int, projection ...string) QueryRequest {
	return QueryRequest{StorageID: storageID, Limit: limit, Projection: projection}
}

// PointGet builds the read of one specific version.
func PointGet(storageID string, vid int64, projection ...string) GetRequest {
	return GetRequest{StorageID: storageID, VID: vid, Projection: projection}
}

// DeleteVersion builds the unconditional removal of one version.
func DeleteVersion(storageID string, vid int64) DeleteRequest {
	return DeleteRequest{StorageID: storageID, VID: vid}
}
