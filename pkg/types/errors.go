package types

import (
	"errors"
	"fmt"
)

// ResourceNotFoundError reports that no readable version of a resource
// exists, or that the target of a read/update/delete is absent.
type ResourceNotFoundError struct {
	ResourceType string
	ID           string
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("resource %s/%s not found", e.ResourceType, e.ID)
}

// VersionNotFoundError reports that a specific version of a resource is
// absent, belongs to a different resource type, or is not AVAILABLE.
type VersionNotFoundError struct {
	ResourceType string
	ID           string
	VID          int64
}

func (e *VersionNotFoundError) Error() string {
	return fmt.Sprintf("version %d of resource %s/%s not found", e.VID, e.ResourceType, e.ID)
}

// InvalidResourceError reports a malformed id on create/update-as-create or
// an insert that conflicts with an existing id.
type InvalidResourceError struct {
	Reason string
}

func (e *InvalidResourceError) Error() string {
	return fmt.Sprintf("invalid resource: %s", e.Reason)
}

// TooManyConcurrentExportRequestsError reports that an export admission cap
// was hit, either per requester or system-wide.
type TooManyConcurrentExportRequestsError struct {
	UserID string
}

func (e *TooManyConcurrentExportRequestsError) Error() string {
	if e.UserID != "" {
		return fmt.Sprintf("too many concurrent export requests for user %s", e.UserID)
	}
	return "too many concurrent export requests"
}

// TenancyMismatchError reports that the request's tenant id presence
// disagrees with the configured multi-tenancy mode.
type TenancyMismatchError struct {
	MultiTenancyEnabled bool
}

func (e *TenancyMismatchError) Error() string {
	if e.MultiTenancyEnabled {
		return "tenant id required: multi-tenancy is enabled"
	}
	return "unexpected tenant id: multi-tenancy is disabled"
}

// BundleFailedError reports that at least one participant of a bundle failed.
// It carries the per-entry outcomes collected up to the failure.
type BundleFailedError struct {
	Reason    string
	Responses []BatchResponse
	Err       error
}

func (e *BundleFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bundle failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("bundle failed: %s", e.Reason)
}

func (e *BundleFailedError) Unwrap() error { return e.Err }

// IsResourceNotFound reports whether err is a ResourceNotFoundError.
func IsResourceNotFound(err error) bool {
	var rnf *ResourceNotFoundError
	return errors.As(err, &rnf)
}

// IsVersionNotFound reports whether err is a VersionNotFoundError.
func IsVersionNotFound(err error) bool {
	var vnf *VersionNotFoundError
	return errors.As(err, &vnf)
}

// IsInvalidResource reports whether err is an InvalidResourceError.
func IsInvalidResource(err error) bool {
	var ir *InvalidResourceError
	return errors.As(err, &ir)
}
