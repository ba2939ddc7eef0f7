package services

import (
	"context"
	"time"

	"github.com/sunr3d/site-mover/models"
)

//go:generate go run github.com/vektra/mockery/v2@v2.53.2 --name=HistoryService --output=../../../mocks
type HistoryService interface {
	Start(ctx context.Context, typ models.HistoryType, fields map[string]any) (*models.HistoryEntry, error)
	Progress(ctx context.Context, id string, percent int, message string) error
	Annotate(ctx context.Context, id string, fields map[string]any) error
	// Finish moves a running entry to a terminal status. It fails for an
	// entry that is already finalized.
	Finish(ctx context.Context, id string, status models.HistoryStatus, fields map[string]any) error
	Get(ctx context.Context, id string) (*models.HistoryEntry, error)
	List(ctx context.Context, limit int) ([]*models.HistoryEntry, error)
	SweepStale(ctx context.Context, olderThan time.Duration) (int, error)
}
