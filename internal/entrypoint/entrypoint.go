package entrypoint

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sunr3d/site-mover/internal/api"
	"github.com/sunr3d/site-mover/internal/config"
	"github.com/sunr3d/site-mover/internal/infra/inmem"
	"github.com/sunr3d/site-mover/internal/infra/redislock"
	"github.com/sunr3d/site-mover/internal/infra/sitedb"
	"github.com/sunr3d/site-mover/internal/infra/sqlite"
	"github.com/sunr3d/site-mover/internal/interfaces/infra"
	"github.com/sunr3d/site-mover/internal/interfaces/services"
	"github.com/sunr3d/site-mover/internal/memlimit"
	"github.com/sunr3d/site-mover/internal/metrics"
	"github.com/sunr3d/site-mover/internal/middleware"
	"github.com/sunr3d/site-mover/internal/server"
	"github.com/sunr3d/site-mover/internal/services/export_service"
	"github.com/sunr3d/site-mover/internal/services/history_service"
	"github.com/sunr3d/site-mover/internal/services/import_service"
	"github.com/sunr3d/site-mover/internal/services/snapshot_service"
	"github.com/sunr3d/site-mover/internal/services/sweeper"
	"github.com/sunr3d/site-mover/internal/services/transfer_service"
	"github.com/sunr3d/site-mover/internal/tasks"
)

const shutdownTimeout = 30 * time.Second

// App holds every wired component. The CLI commands use it directly; Run
// serves it over HTTP.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	FS      afero.Fs
	Store   infra.Store
	Locker  infra.Locker
	Site    infra.SiteDatabase
	Metrics *metrics.Metrics
	Runner  *tasks.Runner

	History   services.HistoryService
	Exporter  services.ExportService
	Snapshots services.SnapshotService
	Transfer  services.TransferService
	Importer  services.ImportService
	Sweeper   *sweeper.Sweeper

	closers []io.Closer
}

func New(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	app := &App{
		Config:  cfg,
		Logger:  log,
		FS:      afero.NewOsFs(),
		Metrics: metrics.New(),
		Runner:  tasks.New(log.Named("tasks")),
	}
	if err := app.wire(ctx); err != nil {
		return nil, multierr.Append(err, app.closeAll())
	}
	return app, nil
}

func (a *App) wire(ctx context.Context) error {
	cfg, log := a.Config, a.Logger

	for _, dir := range []string{cfg.DataDir, cfg.ExportsDir(), cfg.SnapshotsDir(), cfg.ChunksDir(), cfg.ImportsDir()} {
		if err := a.FS.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
		}
	}
	log.Info("директории данных готовы", zap.String("path", cfg.DataDir))

	var err error
	switch cfg.StoreBackend {
	case "memory":
		a.Store = inmem.New(log.Named("store"))
	default:
		a.Store, err = sqlite.Open(ctx, log.Named("store"), cfg.StoreDSN)
		if err != nil {
			return fmt.Errorf("не удалось открыть хранилище: %w", err)
		}
	}
	a.closers = append(a.closers, a.Store)

	switch cfg.LockBackend {
	case "redis":
		client, err := redislock.NewClient(redislock.Config{
			Address:  cfg.RedisAddress,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return fmt.Errorf("не удалось подключиться к Redis: %w", err)
		}
		a.closers = append(a.closers, client)
		a.Locker = redislock.New(client, log.Named("lock"))
	default:
		a.Locker = a.Store
	}

	a.Site, err = sitedb.Open(ctx, log.Named("site"), cfg.SiteDSN)
	if err != nil {
		return fmt.Errorf("не удалось открыть базу сайта: %w", err)
	}
	a.closers = append(a.closers, a.Site)

	a.History = history_service.New(log.Named("history"), a.Store)
	a.Exporter = export_service.New(log.Named("export"), cfg, a.FS, a.Site, a.History, a.Metrics)
	snapshots := snapshot_service.New(log.Named("snapshots"), cfg, a.FS, a.Store, a.Exporter)
	a.Snapshots = snapshots
	a.Transfer = transfer_service.New(log.Named("transfer"), cfg, transfer_service.Deps{
		FS:        a.FS,
		Repo:      a.Store,
		Exporter:  a.Exporter,
		Snapshots: snapshots,
		Runner:    a.Runner,
		Metrics:   a.Metrics,
	})
	a.Importer = import_service.New(log.Named("import"), cfg, import_service.Deps{
		FS:        a.FS,
		Site:      a.Site,
		Locker:    a.Locker,
		History:   a.History,
		Snapshots: snapshots,
		Runner:    a.Runner,
		Budget:    memlimit.New(log.Named("memlimit"), cfg.MinImportMemory, cfg.MaxImportMemory),
		Metrics:   a.Metrics,
	})
	snapshots.SetRestorer(a.Importer)

	a.Sweeper = sweeper.New(log.Named("sweeper"), cfg, sweeper.Deps{
		Transfer:  a.Transfer,
		Locker:    a.Locker,
		History:   a.History,
		Snapshots: a.Snapshots,
	})
	return nil
}

// Handler returns the HTTP surface with the middleware chain applied.
func (a *App) Handler() http.Handler {
	controller := api.New(api.Deps{
		FS:        a.FS,
		Transfer:  a.Transfer,
		Importer:  a.Importer,
		Exporter:  a.Exporter,
		Snapshots: a.Snapshots,
		History:   a.History,
		Metrics:   a.Metrics.Handler(),
	}, a.Logger.Named("api"), a.Config)

	mux := http.NewServeMux()
	controller.Register(mux)

	router := http.Handler(mux)
	router = middleware.JSONValidator()(router)
	router = middleware.ReqLogger(a.Logger)(router)
	router = middleware.Recovery(a.Logger)(router)
	return router
}

// Close waits for background imports and exports, then releases storage.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}
	if a.Runner != nil {
		err = multierr.Append(err, a.Runner.Shutdown(ctx))
	}
	return multierr.Append(err, a.closeAll())
}

func (a *App) closeAll() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i].Close())
	}
	a.closers = nil
	return err
}

// Run serves until ctx is cancelled, then waits for background work.
func Run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	app, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.Close(ctx); err != nil {
			log.Error("ошибка при остановке приложения", zap.Error(err))
		}
	}()

	if err := app.Sweeper.Start(); err != nil {
		return err
	}

	srv := server.New(cfg.HTTPPort, cfg.HTTPTimeout, app.Handler(), log)
	return srv.Start(ctx)
}
