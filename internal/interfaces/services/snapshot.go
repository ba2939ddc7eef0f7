package services

import (
	"context"

	"github.com/sunr3d/site-mover/models"
)

//go:generate go run github.com/vektra/mockery/v2@v2.53.2 --name=SnapshotService --output=../../../mocks
type SnapshotService interface {
	Create(ctx context.Context, opts models.SnapshotOptions) (*models.Snapshot, error)
	Get(ctx context.Context, id string) (*models.Snapshot, error)
	List(ctx context.Context) ([]*models.Snapshot, error)
	Delete(ctx context.Context, id string) error
	// ArchivePath returns the snapshot archive location, failing with
	// ErrSnapshotMissing when the record exists but the file is gone.
	ArchivePath(ctx context.Context, id string) (string, error)
	Restore(ctx context.Context, id string) error
	Prune(ctx context.Context) (int, error)
	SetRestorer(r ArchiveRestorer)
}

// ArchiveRestorer applies a snapshot archive to the live site.
type ArchiveRestorer interface {
	RestoreArchive(ctx context.Context, path string) error
}
