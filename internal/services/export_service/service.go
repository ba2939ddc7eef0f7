package export_service

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sunr3d/site-mover/internal/archive"
	"github.com/sunr3d/site-mover/internal/config"
	"github.com/sunr3d/site-mover/internal/interfaces/infra"
	"github.com/sunr3d/site-mover/internal/interfaces/services"
	"github.com/sunr3d/site-mover/internal/metrics"
	"github.com/sunr3d/site-mover/models"
)

var _ services.ExportService = (*exportService)(nil)

var errStopRows = errors.New("stop rows")

type exportService struct {
	fs      afero.Fs
	site    infra.SiteDatabase
	history services.HistoryService
	metrics *metrics.Metrics
	logger  *zap.Logger
	cfg     *config.Config
	now     func() time.Time
}

func New(log *zap.Logger, cfg *config.Config, fs afero.Fs, site infra.SiteDatabase, history services.HistoryService, m *metrics.Metrics) services.ExportService {
	return &exportService{
		fs:      fs,
		site:    site,
		history: history,
		metrics: m,
		logger:  log,
		cfg:     cfg,
		now:     time.Now,
	}
}

func (s *exportService) Export(ctx context.Context, opts models.ExportOptions) (*models.ExportResult, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	started := s.now()
	target := opts.TargetPath
	if target == "" {
		target = filepath.Join(s.cfg.ExportsDir(),
			fmt.Sprintf("site-%s-%s.wpbkp", started.UTC().Format("20060102-150405"), uuid.New().String()[:8]))
	}

	histType := opts.HistoryType
	if histType == "" {
		histType = models.HistoryTypeExport
	}

	result := &models.ExportResult{Path: target}
	entry, err := s.history.Start(ctx, histType, map[string]any{
		"path":            target,
		"include_uploads": opts.IncludeUploads,
		"include_plugins": opts.IncludePlugins,
		"include_themes":  opts.IncludeThemes,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHistory, err)
	}
	result.HistoryID = entry.ID

	err = s.build(ctx, opts, result)
	s.finish(ctx, histType, result, started, err)
	if err != nil {
		return nil, err
	}

	s.logger.Info("экспорт завершен",
		zap.String("path", result.Path),
		zap.Int64("size", result.Size),
		zap.Int("tables", result.Stats.Tables),
		zap.Int("rows", result.Stats.Rows),
		zap.Int("files", result.Files),
	)
	return result, nil
}

func (s *exportService) build(ctx context.Context, opts models.ExportOptions, result *models.ExportResult) (err error) {
	w, err := archive.Create(s.fs, result.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveBuild, err)
	}
	defer func() {
		if err == nil {
			return
		}
		abortErr := w.Abort()
		if _, statErr := s.fs.Stat(result.Path); statErr == nil {
			abortErr = multierr.Append(abortErr, s.fs.Remove(result.Path))
		}
		if abortErr != nil {
			s.logger.Error("не удалось удалить незавершенный архив",
				zap.String("path", result.Path),
				zap.Error(abortErr),
			)
		}
	}()

	if err := w.WriteManifest(models.Manifest{Type: models.ArchiveTypeFullSite}); err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveBuild, err)
	}

	s.progress(ctx, result.HistoryID, 10, "выгрузка базы данных")

	info := models.PayloadInfo{
		SiteURL: s.cfg.SiteURL,
		HomeURL: s.cfg.HomeURL,
		Paths:   s.cfg.ContentRoots(),
	}
	if err := w.WriteDatabaseExport(ctx, info, s.tables(ctx)); err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveBuild, err)
	}
	result.Stats = w.Stats()

	s.progress(ctx, result.HistoryID, 60, "упаковка файлов")

	roots := s.cfg.ContentRoots()
	for _, root := range selectedRoots(opts) {
		n, err := s.addRoot(ctx, w, root, roots[root])
		if err != nil {
			return err
		}
		result.Files += n
	}

	if err := w.Finalize(); err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveBuild, err)
	}

	fi, err := s.fs.Stat(result.Path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrArchiveBuild, err)
	}
	result.Size = fi.Size()
	return nil
}

// tables streams every site table lazily, one row at a time.
func (s *exportService) tables(ctx context.Context) iter.Seq2[models.TableStream, error] {
	return func(yield func(models.TableStream, error) bool) {
		names, err := s.site.Tables(ctx)
		if err != nil {
			yield(models.TableStream{}, fmt.Errorf("%w: %v", ErrSiteRead, err))
			return
		}

		for _, name := range names {
			cols, err := s.site.Columns(ctx, name)
			if err != nil {
				yield(models.TableStream{}, fmt.Errorf("%w: %v", ErrSiteRead, err))
				return
			}

			table := name
			stream := models.TableStream{
				Name:    table,
				Columns: cols,
				Rows: func(yield func(models.Row, error) bool) {
					err := s.site.StreamRows(ctx, table, func(row models.Row) error {
						if !yield(row, nil) {
							return errStopRows
						}
						return nil
					})
					if err != nil && !errors.Is(err, errStopRows) {
						yield(nil, fmt.Errorf("%w: %v", ErrSiteRead, err))
					}
				},
			}
			if !yield(stream, nil) {
				return
			}
		}
	}
}

func selectedRoots(opts models.ExportOptions) []string {
	var roots []string
	if opts.IncludeUploads {
		roots = append(roots, "uploads")
	}
	if opts.IncludePlugins {
		roots = append(roots, "plugins")
	}
	if opts.IncludeThemes {
		roots = append(roots, "themes")
	}
	return roots
}

func (s *exportService) addRoot(ctx context.Context, w *archive.Writer, root, dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}
	if _, err := s.fs.Stat(dir); os.IsNotExist(err) {
		s.logger.Warn("каталог контента отсутствует", zap.String("root", root), zap.String("dir", dir))
		return 0, nil
	}

	added := 0
	err := afero.Walk(s.fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
		default:
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		f, err := s.fs.Open(path)
		if err != nil {
			return err
		}
		err = multierr.Append(w.AddFileEntry(root+"/"+filepath.ToSlash(rel), f, info.ModTime()), f.Close())
		if err != nil {
			return err
		}
		added++
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrContextDone) {
			return added, err
		}
		return added, fmt.Errorf("%w: %s: %v", ErrContentWalk, root, err)
	}
	return added, nil
}

func (s *exportService) progress(ctx context.Context, historyID string, percent int, message string) {
	if historyID == "" {
		return
	}
	if err := s.history.Progress(ctx, historyID, percent, message); err != nil {
		s.logger.Warn("не удалось обновить прогресс", zap.String("history_id", historyID), zap.Error(err))
	}
}

func (s *exportService) finish(ctx context.Context, histType models.HistoryType, result *models.ExportResult, started time.Time, err error) {
	status := models.HistoryStatusSuccess
	fields := map[string]any{
		"size":   result.Size,
		"tables": result.Stats.Tables,
		"rows":   result.Stats.Rows,
		"files":  result.Files,
	}
	if err != nil {
		status = models.HistoryStatusError
		if ctx.Err() != nil {
			status = models.HistoryStatusCancelled
		}
		fields = map[string]any{"error": err.Error()}
		s.logger.Error("экспорт не удался", zap.String("path", result.Path), zap.Error(err))
	}

	s.metrics.Operations.WithLabelValues(string(histType), string(status)).Inc()
	s.metrics.OperationSeconds.WithLabelValues(string(histType)).Observe(s.now().Sub(started).Seconds())

	if finErr := s.history.Finish(context.WithoutCancel(ctx), result.HistoryID, status, fields); finErr != nil {
		s.logger.Error("не удалось завершить запись истории",
			zap.String("history_id", result.HistoryID),
			zap.Error(finErr),
		)
	}
}
