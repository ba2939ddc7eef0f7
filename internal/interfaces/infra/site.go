package infra

import (
	"context"

	"github.com/sunr3d/site-mover/models"
)

// SiteDatabase is the database of the site being exported or replaced.
//
//go:generate go run github.com/vektra/mockery/v2@v2.53.2 --name=SiteDatabase --output=../../../mocks
type SiteDatabase interface {
	Tables(ctx context.Context) ([]string, error)
	Columns(ctx context.Context, table string) ([]string, error)
	StreamRows(ctx context.Context, table string, fn func(models.Row) error) error
	// ReplaceTable swaps the table contents in one transaction, recreating
	// the table when the column set differs.
	ReplaceTable(ctx context.Context, table string, columns []string, rows []models.Row) error
	DropTable(ctx context.Context, table string) error
	Close() error
}
