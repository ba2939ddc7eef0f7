package services

import (
	"context"

	"github.com/sunr3d/site-mover/models"
)

//go:generate go run github.com/vektra/mockery/v2@v2.53.2 --name=ExportService --output=../../../mocks
type ExportService interface {
	Export(ctx context.Context, opts models.ExportOptions) (*models.ExportResult, error)
}
