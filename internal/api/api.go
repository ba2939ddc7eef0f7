package api

import (
	"net/http"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/sunr3d/site-mover/internal/config"
	"github.com/sunr3d/site-mover/internal/interfaces/services"
)

type Deps struct {
	FS        afero.Fs
	Transfer  services.TransferService
	Importer  services.ImportService
	Exporter  services.ExportService
	Snapshots services.SnapshotService
	History   services.HistoryService
	Metrics   http.Handler
}

type API struct {
	fs        afero.Fs
	transfer  services.TransferService
	importer  services.ImportService
	exporter  services.ExportService
	snapshots services.SnapshotService
	history   services.HistoryService
	metrics   http.Handler
	logger    *zap.Logger
	cfg       *config.Config
}

func New(deps Deps, logger *zap.Logger, cfg *config.Config) *API {
	return &API{
		fs:        deps.FS,
		transfer:  deps.Transfer,
		importer:  deps.Importer,
		exporter:  deps.Exporter,
		snapshots: deps.Snapshots,
		history:   deps.History,
		metrics:   deps.Metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

func (h *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /chunk/init", h.InitUpload)
	mux.HandleFunc("POST /chunk/upload", h.UploadChunk)
	mux.HandleFunc("POST /chunk/download/init", h.InitDownload)
	mux.HandleFunc("GET /chunk/status", h.JobStatus)
	mux.HandleFunc("GET /chunk/download", h.FetchChunk)
	mux.HandleFunc("POST /chunk/cancel", h.CancelJob)

	mux.HandleFunc("POST /import", h.Import)
	mux.HandleFunc("POST /export", h.Export)

	mux.HandleFunc("GET /snapshots", h.ListSnapshots)
	mux.HandleFunc("POST /snapshots", h.CreateSnapshot)
	mux.HandleFunc("DELETE /snapshots", h.DeleteSnapshot)
	mux.HandleFunc("POST /snapshots/restore", h.RestoreSnapshot)

	mux.HandleFunc("GET /history", h.ListHistory)
	mux.HandleFunc("GET /history/status", h.HistoryStatus)

	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
}
