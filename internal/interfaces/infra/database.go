package infra

import (
	"context"
	"time"

	"github.com/sunr3d/site-mover/models"
)

//go:generate go run github.com/vektra/mockery/v2@v2.53.2 --name=JobStore --output=../../../mocks
type JobStore interface {
	SaveJob(ctx context.Context, job *models.ChunkJob) error
	GetJob(ctx context.Context, id string) (*models.ChunkJob, error)
	DeleteJob(ctx context.Context, id string) error
	// ListSweepableJobs returns jobs expired at now or cancelled, oldest first.
	ListSweepableJobs(ctx context.Context, now time.Time) ([]*models.ChunkJob, error)
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.2 --name=HistoryStore --output=../../../mocks
type HistoryStore interface {
	CreateHistory(ctx context.Context, entry *models.HistoryEntry) error
	UpdateHistory(ctx context.Context, entry *models.HistoryEntry) error
	GetHistory(ctx context.Context, id string) (*models.HistoryEntry, error)
	ListHistory(ctx context.Context, limit int) ([]*models.HistoryEntry, error)
	ListRunningHistory(ctx context.Context, startedBefore time.Time) ([]*models.HistoryEntry, error)
}

// Locker provides named, non-blocking, single-holder locks. A lock older
// than maxAge counts as stale and may be taken over.
//
//go:generate go run github.com/vektra/mockery/v2@v2.53.2 --name=Locker --output=../../../mocks
type Locker interface {
	Acquire(ctx context.Context, name string, maxAge time.Duration) error
	Release(ctx context.Context, name string) error
	ReleaseStale(ctx context.Context, maxAge time.Duration) ([]string, error)
}

//go:generate go run github.com/vektra/mockery/v2@v2.53.2 --name=SnapshotStore --output=../../../mocks
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, snap *models.Snapshot) error
	GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error)
	DeleteSnapshot(ctx context.Context, id string) error
	// ListSnapshots returns snapshots newest first.
	ListSnapshots(ctx context.Context) ([]*models.Snapshot, error)
}

// Store is the durable bookkeeping backend.
type Store interface {
	JobStore
	HistoryStore
	Locker
	SnapshotStore
	Close() error
}
