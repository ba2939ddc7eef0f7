package models

import "time"

type JobDirection string

const (
	JobDirectionUpload   JobDirection = "upload"
	JobDirectionDownload JobDirection = "download"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusComplete   JobStatus = "complete"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusError      JobStatus = "error"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusComplete || s == JobStatusCancelled || s == JobStatusError
}

// ChunkJob tracks a resumable transfer. The backing file at FilePath is owned
// by exactly one job.
type ChunkJob struct {
	ID          string       `json:"id"`
	Direction   JobDirection `json:"direction"`
	Status      JobStatus    `json:"status"`
	TotalSize   int64        `json:"total_size"`
	ChunkSize   int64        `json:"chunk_size"`
	TotalChunks int          `json:"total_chunks"`
	DoneChunks  []int        `json:"done_chunks"`
	Checksum    string       `json:"checksum,omitempty"`
	FilePath    string       `json:"file_path"`
	Error       string       `json:"error,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	ExpiresAt   time.Time    `json:"expires_at"`
}

func (j *ChunkJob) HasChunk(index int) bool {
	for _, i := range j.DoneChunks {
		if i == index {
			return true
		}
	}
	return false
}

func (j *ChunkJob) Complete() bool {
	return len(j.DoneChunks) == j.TotalChunks
}

// ExternalStatus is the status string reported to download clients.
func (j *ChunkJob) ExternalStatus() string {
	switch j.Status {
	case JobStatusPending:
		return "processing"
	case JobStatusInProgress, JobStatusComplete:
		if j.Direction == JobDirectionDownload {
			return "ready"
		}
		return string(j.Status)
	default:
		return string(j.Status)
	}
}

type UploadInit struct {
	TotalChunks int    `json:"total_chunks"`
	TotalSize   int64  `json:"total_size,omitempty"`
	Checksum    string `json:"checksum"`
	ChunkSize   int64  `json:"chunk_size,omitempty"`
}

type DownloadRequest struct {
	SnapshotID     string `json:"snapshot_id,omitempty"`
	IncludeUploads bool   `json:"include_uploads"`
	IncludePlugins bool   `json:"include_plugins"`
	IncludeThemes  bool   `json:"include_themes"`
}
