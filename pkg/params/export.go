package params

import "github.com/cuemby/ledger/pkg/types"

// ExportPutRequest inserts a new export job, guarded on the job id not
// existing.
type ExportPutRequest struct {
	Job       types.ExportJob
	NotExists bool
}

// ExportTransitionRequest moves a job to NewStatus, guarded on the stored
// status being one of ExpectStatusOneOf (empty slice = unconditional).
type ExportTransitionRequest struct {
	JobID             string
	NewStatus         types.JobStatus
	ExpectStatusOneOf []types.JobStatus
}

// ExportStatusQuery reads jobs through the jobStatus secondary index.
type ExportStatusQuery struct {
	Status     types.JobStatus
	Projection []string
}

// ExportGetRequest is a point read of one job.
type ExportGetRequest struct {
	JobID string
}

// InsertExportJob builds the conditional insert for a new job row.
func InsertExportJob(job types.ExportJob) ExportPutRequest {
	return ExportPutRequest{Job: job, NotExists: true}
}

// ExportStatusTransition builds the guarded status change for a job.
func ExportStatusTransition(jobID string, newStatus types.JobStatus, expect ...types.JobStatus) ExportTransitionRequest {
	return ExportTransitionRequest{JobID: jobID, NewStatus: newStatus, ExpectStatusOneOf: expect}
}

// ExportJobsByStatus builds the secondary-index query for jobs in a status.
func ExportJobsByStatus(status types.JobStatus, projection ...string) ExportStatusQuery {
	return ExportStatusQuery{Status: status, Projection: projection}
}

// GetExportJob builds the point read of one job.
func GetExportJob(jobID string) ExportGetRequest {
	return ExportGetRequest{JobID: jobID}
}
