package types

import (
	"fmt"
	"time"
)

// DocumentStatus is the per-version lifecycle field driving the write state machine.
type DocumentStatus string

const (
	StatusPending       DocumentStatus = "PENDING"
	StatusLocked        DocumentStatus = "LOCKED"
	StatusAvailable     DocumentStatus = "AVAILABLE"
	StatusPendingDelete DocumentStatus = "PENDING_DELETE"
	StatusDeleted       DocumentStatus = "DELETED"
)

// Transient reports whether the status is one of the short-lived lock states
// that a stale-lock reclaim may take over after the lock window expires.
func (s DocumentStatus) Transient() bool {
	return s == StatusPending || s == StatusLocked || s == StatusPendingDelete
}

// Readable reports whether a version in this status may satisfy a
// "current resource" read.
func (s DocumentStatus) Readable() bool {
	return s == StatusAvailable || s == StatusLocked || s == StatusPendingDelete
}

// Resource is the opaque document payload of a logical resource. The store
// does not interpret it beyond the reserved fields it stamps (id, meta).
type Resource map[string]any

// ID returns the document's id field, or "" when absent.
func (r Resource) ID() string {
	id, _ := r["id"].(string)
	return id
}

// SetID stamps the document's id field.
func (r Resource) SetID(id string) {
	r["id"] = id
}

// VersionID returns meta.versionId, or "" when absent.
func (r Resource) VersionID() string {
	meta, ok := r["meta"].(map[string]any)
	if !ok {
		return ""
	}
	v, _ := meta["versionId"].(string)
	return v
}

// LastUpdated returns meta.lastUpdated, or "" when absent.
func (r Resource) LastUpdated() string {
	meta, ok := r["meta"].(map[string]any)
	if !ok {
		return ""
	}
	v, _ := meta["lastUpdated"].(string)
	return v
}

// StampMeta overwrites meta.versionId and meta.lastUpdated, preserving any
// other meta fields the caller supplied.
func (r Resource) StampMeta(vid int64, at time.Time) {
	meta, ok := r["meta"].(map[string]any)
	if !ok {
		meta = make(map[string]any)
		r["meta"] = meta
	}
	meta["versionId"] = fmt.Sprintf("%d", vid)
	meta["lastUpdated"] = at.UTC().Format(time.RFC3339Nano)
}

// Clone returns a deep copy of the resource.
func (r Resource) Clone() Resource {
	if r == nil {
		return nil
	}
	return Resource(cloneValue(map[string]any(r)).(map[string]any))
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Item is the stored record for a single version of a resource. Composite
// primary key (StorageID, VID); StorageID embeds the tenant id in
// multi-tenant mode.
type Item struct {
	StorageID      string         `json:"id"`
	VID            int64          `json:"vid"`
	ResourceType   string         `json:"resourceType"`
	DocumentStatus DocumentStatus `json:"documentStatus"`
	LockEndTs      int64          `json:"lockEndTs"`
	TenantID       string         `json:"tenantId,omitempty"`
	References     []string       `json:"_references"`
	BulkDataLink   string         `json:"bulkDataLink,omitempty"`
	Document       Resource       `json:"document"`
}

// BundleOperation is the verb of one bundle entry.
type BundleOperation string

const (
	OpCreate BundleOperation = "create"
	OpUpdate BundleOperation = "update"
	OpDelete BundleOperation = "delete"
	OpRead   BundleOperation = "read"
)

// BatchRequest is one entry of an atomic bundle.
type BatchRequest struct {
	Operation    BundleOperation
	ResourceType string
	ID           string
	VID          int64
	Resource     Resource
	TenantID     string
}

// BatchResponse is the per-entry outcome of a bundle.
type BatchResponse struct {
	Operation    BundleOperation
	ResourceType string
	ID           string
	VID          int64
	LastModified string
	Resource     Resource
	Error        string
}

// JobStatus is the lifecycle of an export job.
type JobStatus string

const (
	JobInProgress JobStatus = "in-progress"
	JobCanceling  JobStatus = "canceling"
	JobCanceled   JobStatus = "canceled"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether the job can no longer change state.
func (s JobStatus) Terminal() bool {
	return s == JobCanceled || s == JobCompleted || s == JobFailed
}

// ExportJob is a row in the export table, keyed by JobID with a secondary
// index on JobStatus.
type ExportJob struct {
	JobID            string    `json:"jobId"`
	JobOwnerID       string    `json:"jobOwnerId"`
	JobStatus        JobStatus `json:"jobStatus"`
	ExportType       string    `json:"exportType"`
	GroupID          string    `json:"groupId,omitempty"`
	OutputFormat     string    `json:"outputFormat,omitempty"`
	Since            string    `json:"since,omitempty"`
	Type             string    `json:"type,omitempty"`
	TenantID         string    `json:"tenantId,omitempty"`
	TransactionTime  string    `json:"transactionTime"`
	ExportedFileURLs []string  `json:"exportedFileUrls,omitempty"`
	ErrorArray       []string  `json:"errorArray,omitempty"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`
}
