package api

import (
	"github.com/sunr3d/site-mover/models"
)

// Error body
type errorResp struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// InitUpload
type initUploadResp struct {
	JobID       string `json:"job_id"`
	ChunkSize   int64  `json:"chunk_size"`
	TotalChunks int    `json:"total_chunks"`
}

// UploadChunk
type uploadChunkReq struct {
	JobID string `json:"job_id"`
	Index *int   `json:"index"`
	Chunk []byte `json:"chunk"`
}

type uploadChunkResp struct {
	Status   string `json:"status"`
	Received int    `json:"received"`
}

// InitDownload, JobStatus
type jobStatusResp struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	TotalChunks int    `json:"total_chunks,omitempty"`
	TotalSize   int64  `json:"total_size,omitempty"`
	ChunkSize   int64  `json:"chunk_size,omitempty"`
	Checksum    string `json:"checksum,omitempty"`
	Error       string `json:"error,omitempty"`
}

// FetchChunk
type chunkResp struct {
	Index int    `json:"index"`
	Chunk []byte `json:"chunk"`
}

// CancelJob
type cancelJobReq struct {
	JobID string `json:"job_id"`
}

// Import
type importReq struct {
	JobID        string           `json:"job_id"`
	MergePlan    models.MergePlan `json:"merge_plan,omitempty"`
	ActingUser   string           `json:"acting_user,omitempty"`
	SkipSnapshot bool             `json:"skip_snapshot,omitempty"`
}

// Import, RestoreSnapshot
type startedResp struct {
	HistoryID string `json:"history_id"`
	StatusURL string `json:"status_url"`
}

// RestoreSnapshot
type restoreSnapshotReq struct {
	SnapshotID string `json:"snapshot_id"`
}

type emptyResp struct{}

func newJobStatusResp(job *models.ChunkJob) jobStatusResp {
	return jobStatusResp{
		JobID:       job.ID,
		Status:      job.ExternalStatus(),
		TotalChunks: job.TotalChunks,
		TotalSize:   job.TotalSize,
		ChunkSize:   job.ChunkSize,
		Checksum:    job.Checksum,
		Error:       job.Error,
	}
}
