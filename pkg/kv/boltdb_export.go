package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuemby/ledger/pkg/params"
	"github.com/cuemby/ledger/pkg/types"
	bolt "go.etcd.io/bbolt"
)

func exportStatusKey(status types.JobStatus, jobID string) []byte {
	k := make([]byte, 0, len(status)+len(jobID)+1)
	k = append(k, status...)
	k = append(k, keySep)
	k = append(k, jobID...)
	return k
}

func getStoredJob(b *bolt.Bucket, jobID string) (*types.ExportJob, error) {
	data := b.Get([]byte(jobID))
	if data == nil {
		return nil, nil
	}
	var job types.ExportJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to decode export job %s: %w", jobID, err)
	}
	return &job, nil
}

// PutExportJob inserts a job row and its status index entry.
func (s *BoltStore) PutExportJob(ctx context.Context, req params.ExportPutRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketExportJobs)
		existing, err := getStoredJob(jobs, req.Job.JobID)
		if err != nil {
			return err
		}
		if req.NotExists && existing != nil {
			return &ConditionFailedError{Index: -1, Reason: "job id already exists"}
		}
		data, err := json.Marshal(req.Job)
		if err != nil {
			return err
		}
		if err := jobs.Put([]byte(req.Job.JobID), data); err != nil {
			return err
		}
		idx := tx.Bucket(bucketExportStatus)
		if existing != nil && existing.JobStatus != req.Job.JobStatus {
			if err := idx.Delete(exportStatusKey(existing.JobStatus, existing.JobID)); err != nil {
				return err
			}
		}
		return idx.Put(exportStatusKey(req.Job.JobStatus, req.Job.JobID), []byte(req.Job.JobID))
	})
}

// GetExportJob reads one job row. Returns ErrItemNotFound when absent.
func (s *BoltStore) GetExportJob(ctx context.Context, req params.ExportGetRequest) (*types.ExportJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var job *types.ExportJob
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		job, err = getStoredJob(tx.Bucket(bucketExportJobs), req.JobID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrItemNotFound
	}
	return job, nil
}

// TransitionExportJob moves a job to a new status, guarded on the stored
// status, and maintains the status index.
func (s *BoltStore) TransitionExportJob(ctx context.Context, req params.ExportTransitionRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketExportJobs)
		job, err := getStoredJob(jobs, req.JobID)
		if err != nil {
			return err
		}
		if job == nil {
			return ErrItemNotFound
		}
		if len(req.ExpectStatusOneOf) > 0 {
			ok := false
			for _, st := range req.ExpectStatusOneOf {
				if job.JobStatus == st {
					ok = true
					break
				}
			}
			if !ok {
				return &ConditionFailedError{
					Index:  -1,
					Reason: fmt.Sprintf("jobStatus is %s", job.JobStatus),
				}
			}
		}
		oldStatus := job.JobStatus
		job.JobStatus = req.NewStatus
		data, err := json.Marshal(job)
		if err != nil {
			return err
		}
		if err := jobs.Put([]byte(job.JobID), data); err != nil {
			return err
		}
		idx := tx.Bucket(bucketExportStatus)
		if err := idx.Delete(exportStatusKey(oldStatus, job.JobID)); err != nil {
			return err
		}
		return idx.Put(exportStatusKey(req.NewStatus, job.JobID), []byte(job.JobID))
	})
}

// QueryExportJobsByStatus walks the status index and returns the matching
// job rows.
func (s *BoltStore) QueryExportJobsByStatus(ctx context.Context, req params.ExportStatusQuery) ([]types.ExportJob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	prefix := append([]byte(req.Status), keySep)
	var out []types.ExportJob
	err := s.db.View(func(tx *bolt.Tx) error {
		jobs := tx.Bucket(bucketExportJobs)
		c := tx.Bucket(bucketExportStatus).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			job, err := getStoredJob(jobs, string(v))
			if err != nil {
				return err
			}
			if job != nil {
				out = append(out, *job)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
