package services

import (
	"context"

	"github.com/sunr3d/site-mover/models"
)

//go:generate go run github.com/vektra/mockery/v2@v2.53.2 --name=TransferService --output=../../../mocks
type TransferService interface {
	InitUpload(ctx context.Context, req models.UploadInit) (*models.ChunkJob, error)
	UploadChunk(ctx context.Context, jobID string, index int, data []byte) (*models.ChunkJob, error)
	// ClaimUpload moves a complete upload to dest and removes the job.
	ClaimUpload(ctx context.Context, jobID, dest string) error

	InitDownload(ctx context.Context, req models.DownloadRequest) (*models.ChunkJob, error)
	InitDownloadFromFile(ctx context.Context, path string) (*models.ChunkJob, error)
	JobStatus(ctx context.Context, jobID string) (*models.ChunkJob, error)
	FetchChunk(ctx context.Context, jobID string, index int) ([]byte, error)
	CancelJob(ctx context.Context, jobID string) error

	SweepExpired(ctx context.Context) (int, error)
}
