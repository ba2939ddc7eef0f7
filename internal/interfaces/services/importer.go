package services

import (
	"context"

	"github.com/sunr3d/site-mover/models"
)

//go:generate go run github.com/vektra/mockery/v2@v2.53.2 --name=ImportService --output=../../../mocks
type ImportService interface {
	ArchiveRestorer

	Import(ctx context.Context, req models.ImportRequest) (*models.ImportResult, error)
	// StartImport runs the import in the background and returns the history
	// id to poll.
	StartImport(ctx context.Context, req models.ImportRequest) (string, error)
	StartRestore(ctx context.Context, snapshotID string) (string, error)
}

// ContentImporter applies selected-content documents. Field mapping for each
// content type lives behind this interface.
//
//go:generate go run github.com/vektra/mockery/v2@v2.53.2 --name=ContentImporter --output=../../../mocks
type ContentImporter interface {
	ImportPage(ctx context.Context, doc *models.PageDocument) error
	ImportOptionsPage(ctx context.Context, doc *models.OptionsPageDocument) error
	ImportForms(ctx context.Context, doc *models.FormsDocument) error
	ImportMedia(ctx context.Context, ref models.MediaRef, data []byte) error
}
