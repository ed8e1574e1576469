package export

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/ledger/pkg/kv"
	"github.com/cuemby/ledger/pkg/log"
	"github.com/cuemby/ledger/pkg/metrics"
	"github.com/cuemby/ledger/pkg/params"
	"github.com/cuemby/ledger/pkg/types"
)

// exportResourceType names bulk export in not-found errors.
const exportResourceType = "$export"

// Request carries the parameters of a new bulk export.
type Request struct {
	UserID       string
	ExportType   string
	GroupID      string
	OutputFormat string
	Since        string
	Type         string
	TenantID     string
}

// Registry admits, cancels and reports bulk export jobs. Admission is
// throttled per requesting user and system wide; a job counts against both
// budgets while its status is in-progress or canceling.
type Registry struct {
	store      kv.Store
	maxPerUser int
	maxSystem  int
}

// NewRegistry creates an export registry with the given concurrency caps.
func NewRegistry(store kv.Store, maxPerUser, maxSystem int) *Registry {
	return &Registry{
		store:      store,
		maxPerUser: maxPerUser,
		maxSystem:  maxSystem,
	}
}

// activeJobs returns all jobs currently holding a concurrency slot.
func (r *Registry) activeJobs(ctx context.Context) ([]types.ExportJob, error) {
	var active []types.ExportJob
	for _, status := range []types.JobStatus{types.JobInProgress, types.JobCanceling} {
		jobs, err := r.store.QueryExportJobsByStatus(ctx,
			params.ExportJobsByStatus(status, params.FieldJobOwnerID, params.FieldJobStatus))
		if err != nil {
			return nil, fmt.Errorf("failed to query %s jobs: %w", status, err)
		}
		active = append(active, jobs...)
	}
	return active, nil
}

// InitiateExport admits a new export job and returns its id. When the
// requesting user or the system is at its concurrency cap it fails with
// TooManyConcurrentExportRequests and nothing is written.
func (r *Registry) InitiateExport(ctx context.Context, req Request) (string, error) {
	active, err := r.activeJobs(ctx)
	if err != nil {
		return "", err
	}

	owned := 0
	for _, job := range active {
		if job.JobOwnerID == req.UserID {
			owned++
		}
	}
	if owned >= r.maxPerUser {
		metrics.ExportAdmissionsTotal.WithLabelValues("rejected_user").Inc()
		return "", &types.TooManyConcurrentExportRequestsError{UserID: req.UserID}
	}
	if len(active) >= r.maxSystem {
		metrics.ExportAdmissionsTotal.WithLabelValues("rejected_system").Inc()
		return "", &types.TooManyConcurrentExportRequestsError{UserID: req.UserID}
	}

	job := types.ExportJob{
		JobID:           uuid.NewString(),
		JobOwnerID:      req.UserID,
		JobStatus:       types.JobInProgress,
		ExportType:      req.ExportType,
		GroupID:         req.GroupID,
		OutputFormat:    req.OutputFormat,
		Since:           req.Since,
		Type:            req.Type,
		TenantID:        req.TenantID,
		TransactionTime: time.Now().UTC().Format(time.RFC3339),
	}
	if err := r.store.PutExportJob(ctx, params.InsertExportJob(job)); err != nil {
		return "", fmt.Errorf("failed to register export job: %w", err)
	}
	metrics.ExportAdmissionsTotal.WithLabelValues("admitted").Inc()
	logger := log.WithJobID(job.JobID)
	logger.Info().Str("owner", job.JobOwnerID).Msg("export job admitted")
	return job.JobID, nil
}

// CancelExport requests cancellation of a running job. Jobs already in a
// terminal state cannot be canceled.
func (r *Registry) CancelExport(ctx context.Context, jobID string) error {
	job, err := r.store.GetExportJob(ctx, params.GetExportJob(jobID))
	if err != nil {
		if err == kv.ErrItemNotFound {
			return &types.ResourceNotFoundError{ResourceType: exportResourceType, ID: jobID}
		}
		return err
	}
	if job.JobStatus.Terminal() {
		return fmt.Errorf("export job %s is already in %s state and cannot be canceled", jobID, job.JobStatus)
	}
	err = r.store.TransitionExportJob(ctx,
		params.ExportStatusTransition(jobID, types.JobCanceling, types.JobInProgress, types.JobCanceling))
	if err != nil {
		return fmt.Errorf("failed to cancel export job %s: %w", jobID, err)
	}
	logger := log.WithJobID(jobID)
	logger.Info().Msg("export job canceling")
	return nil
}

// GetExportStatus returns a job with its output fields normalized: absent
// url and error lists come back empty, never nil.
func (r *Registry) GetExportStatus(ctx context.Context, jobID string) (*types.ExportJob, error) {
	job, err := r.store.GetExportJob(ctx, params.GetExportJob(jobID))
	if err != nil {
		if err == kv.ErrItemNotFound {
			return nil, &types.ResourceNotFoundError{ResourceType: exportResourceType, ID: jobID}
		}
		return nil, err
	}
	if job.ExportedFileURLs == nil {
		job.ExportedFileURLs = []string{}
	}
	if job.ErrorArray == nil {
		job.ErrorArray = []string{}
	}
	return job, nil
}
