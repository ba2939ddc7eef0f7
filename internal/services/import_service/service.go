package import_service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sunr3d/site-mover/internal/archive"
	"github.com/sunr3d/site-mover/internal/config"
	"github.com/sunr3d/site-mover/internal/interfaces/infra"
	"github.com/sunr3d/site-mover/internal/interfaces/services"
	"github.com/sunr3d/site-mover/internal/memlimit"
	"github.com/sunr3d/site-mover/internal/metrics"
	"github.com/sunr3d/site-mover/internal/rewrite"
	"github.com/sunr3d/site-mover/internal/tasks"
	"github.com/sunr3d/site-mover/models"
)

var _ services.ImportService = (*importService)(nil)

const (
	lockFullImport     = "full-import"
	lockSelectedImport = "selected-import"
	lockRollback       = "rollback"
)

var errStopRows = errors.New("stop rows")

var stateProgress = map[models.ImportState]int{
	models.ImportStateReceivedArchive:  5,
	models.ImportStateTypeDetected:     10,
	models.ImportStateSnapshotTaken:    25,
	models.ImportStateDomainsRewritten: 35,
	models.ImportStateDatabaseApplied:  70,
	models.ImportStateFilesExtracted:   85,
	models.ImportStateUserMergeApplied: 95,
}

type Deps struct {
	FS        afero.Fs
	Site      infra.SiteDatabase
	Locker    infra.Locker
	History   services.HistoryService
	Snapshots services.SnapshotService
	// Content is optional; selected-content archives are refused without it.
	Content services.ContentImporter
	Runner  *tasks.Runner
	Budget  *memlimit.Budget
	Metrics *metrics.Metrics
}

type importService struct {
	fs        afero.Fs
	site      infra.SiteDatabase
	locker    infra.Locker
	history   services.HistoryService
	snapshots services.SnapshotService
	content   services.ContentImporter
	runner    *tasks.Runner
	budget    *memlimit.Budget
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       *config.Config
	now       func() time.Time
}

func New(log *zap.Logger, cfg *config.Config, deps Deps) services.ImportService {
	return &importService{
		fs:        deps.FS,
		site:      deps.Site,
		locker:    deps.Locker,
		history:   deps.History,
		snapshots: deps.Snapshots,
		content:   deps.Content,
		runner:    deps.Runner,
		budget:    deps.Budget,
		metrics:   deps.Metrics,
		logger:    log,
		cfg:       cfg,
		now:       time.Now,
	}
}

type fileSource interface {
	FileEntries() iter.Seq[models.FileEntry]
	OpenFileEntry(entry models.FileEntry) (io.ReadCloser, error)
}

type importJob struct {
	req      models.ImportRequest
	restore  bool
	histType models.HistoryType
	lockName string
	locked   bool
	merge    bool
	started  time.Time
	result   *models.ImportResult

	zr     *archive.Reader
	legacy *archive.LegacyReader
}

func (j *importJob) files() fileSource {
	if j.legacy != nil {
		return j.legacy
	}
	return j.zr
}

func (j *importJob) close() error {
	var err error
	if j.zr != nil {
		err = multierr.Append(err, j.zr.Close())
		j.zr = nil
	}
	if j.legacy != nil {
		err = multierr.Append(err, j.legacy.Close())
		j.legacy = nil
	}
	return err
}

func (s *importService) Import(ctx context.Context, req models.ImportRequest) (*models.ImportResult, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	job, err := s.prepare(ctx, req, false)
	if err != nil {
		return nil, err
	}
	return s.execute(ctx, job)
}

func (s *importService) StartImport(ctx context.Context, req models.ImportRequest) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	job, err := s.prepare(ctx, req, false)
	if err != nil {
		return "", err
	}
	return s.detach(ctx, job)
}

func (s *importService) StartRestore(ctx context.Context, snapshotID string) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	path, err := s.snapshots.ArchivePath(ctx, snapshotID)
	if err != nil {
		return "", err
	}
	job, err := s.prepare(ctx, models.ImportRequest{ArchivePath: path}, true)
	if err != nil {
		return "", err
	}
	return s.detach(ctx, job)
}

// RestoreArchive applies a full-site archive as-is: no snapshot, no user
// merge, and tables missing from the archive are dropped.
func (s *importService) RestoreArchive(ctx context.Context, path string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	job, err := s.prepare(ctx, models.ImportRequest{ArchivePath: path}, true)
	if err != nil {
		return err
	}
	_, err = s.execute(ctx, job)
	return err
}

func (s *importService) detach(ctx context.Context, job *importJob) (string, error) {
	id := job.result.HistoryID
	err := s.runner.Go(id, func(ctx context.Context) {
		s.execute(ctx, job)
	})
	if err != nil {
		s.release(ctx, job)
		s.finish(ctx, job, err)
		return "", err
	}

	s.logger.Info("импорт запущен в фоне", zap.String("history_id", id))
	return id, nil
}

// prepare validates the archive and the request and takes the lock. Nothing
// on the site is touched before it returns.
func (s *importService) prepare(ctx context.Context, req models.ImportRequest, restore bool) (*importJob, error) {
	if req.ArchivePath == "" {
		return nil, fmt.Errorf("%w: не указан путь к архиву", ErrInvalidRequest)
	}

	job := &importJob{
		req:      req,
		restore:  restore,
		histType: models.HistoryTypeImport,
		started:  s.now(),
		result:   &models.ImportResult{State: models.ImportStateReceivedArchive},
	}
	if restore {
		job.histType = models.HistoryTypeRollback
		job.req.SkipSnapshot = true
		job.req.MergePlan = nil
		job.req.ActingUser = ""
	}

	entry, err := s.history.Start(ctx, job.histType, map[string]any{
		"archive": filepath.Base(req.ArchivePath),
		"state":   string(models.ImportStateReceivedArchive),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHistory, err)
	}
	job.result.HistoryID = entry.ID

	if err := s.open(ctx, job); err != nil {
		if cerr := job.close(); cerr != nil {
			s.logger.Warn("не удалось закрыть архив", zap.Error(cerr))
		}
		s.finish(ctx, job, err)
		return nil, err
	}
	return job, nil
}

func (s *importService) open(ctx context.Context, job *importJob) error {
	if err := s.openArchive(ctx, job); err != nil {
		return err
	}

	switch {
	case job.restore:
		job.lockName = lockRollback
	case job.result.Type == models.ArchiveTypeSelectedContent:
		if s.content == nil {
			return ErrNoContentImporter
		}
		job.lockName = lockSelectedImport
	default:
		job.lockName = lockFullImport
		if len(job.req.MergePlan) > 0 {
			if job.legacy != nil {
				return fmt.Errorf("%w: архив старого формата не содержит пользователей", ErrInvalidRequest)
			}
			if err := s.validateMerge(ctx, job.req); err != nil {
				return err
			}
			job.merge = true
		}
	}

	if err := s.locker.Acquire(ctx, job.lockName, s.cfg.LockMaxAge); err != nil {
		if errors.Is(err, infra.ErrLockHeld) {
			s.metrics.LockConflicts.WithLabelValues(job.lockName).Inc()
			s.logger.Warn("операция уже выполняется", zap.String("lock", job.lockName))
			return err
		}
		return fmt.Errorf("не удалось захватить блокировку %s: %w", job.lockName, err)
	}
	job.locked = true
	return nil
}

func (s *importService) openArchive(ctx context.Context, job *importJob) error {
	path := job.req.ArchivePath
	format, err := archive.Sniff(s.fs, path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}

	switch format {
	case archive.FormatZip:
	case archive.FormatLegacy:
		if job.restore {
			return fmt.Errorf("%w: снимок должен быть полным архивом", ErrWrongArchiveType)
		}
		lr, err := archive.OpenLegacy(s.fs, path)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidArchive, err)
		}
		job.legacy = lr
		job.result.Type = models.ArchiveTypeFullSite
		s.advance(ctx, job, models.ImportStateTypeDetected, map[string]any{"type": "legacy"})
		return nil
	default:
		return fmt.Errorf("%w: %w: %s", ErrInvalidArchive, archive.ErrUnknownFormat, filepath.Base(path))
	}

	var opts []archive.ReaderOption
	if s.budget != nil {
		opts = append(opts, archive.WithMemoryBudget(s.budget))
	} else {
		opts = append(opts, archive.WithMaxPayloadSize(s.cfg.MaxImportMemory))
	}
	zr, err := archive.Open(s.fs, path, opts...)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}
	job.zr = zr

	typ, err := zr.Type()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}
	job.result.Type = typ
	if job.restore && typ != models.ArchiveTypeFullSite {
		return fmt.Errorf("%w: %s", ErrWrongArchiveType, typ)
	}
	s.advance(ctx, job, models.ImportStateTypeDetected, map[string]any{"type": string(typ)})

	stats, err := zr.VerifyPayload(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArchive, err)
	}
	s.logger.Info("архив проверен",
		zap.String("history_id", job.result.HistoryID),
		zap.String("type", string(typ)),
		zap.Int("tables", stats.Tables),
		zap.Int("rows", stats.Rows),
		zap.Int64("bytes", stats.Bytes),
	)
	return nil
}

func (s *importService) validateMerge(ctx context.Context, req models.ImportRequest) error {
	if err := validatePlan(req.MergePlan); err != nil {
		return err
	}

	acting := models.NormalizeEmail(req.ActingUser)
	if acting == "" {
		return fmt.Errorf("%w: не указан", ErrActingUserMissing)
	}

	found := false
	err := s.site.StreamRows(ctx, s.cfg.UsersTable, func(row models.Row) error {
		if models.NormalizeEmail(cellString(row[s.cfg.UserEmailColumn])) == acting {
			found = true
			return errStopRows
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopRows) {
		return fmt.Errorf("%w: %v", ErrActingUserMissing, err)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrActingUserMissing, acting)
	}
	return nil
}

func (s *importService) execute(ctx context.Context, job *importJob) (*models.ImportResult, error) {
	err := s.apply(ctx, job)
	if err != nil {
		err = s.rollback(ctx, job, err)
	}
	s.release(ctx, job)

	if err == nil {
		job.result.State = models.ImportStateFinalized
		if job.req.DeleteArchive {
			if rmErr := s.fs.Remove(job.req.ArchivePath); rmErr != nil {
				s.logger.Warn("не удалось удалить архив", zap.String("path", job.req.ArchivePath), zap.Error(rmErr))
			}
		}
	}
	s.finish(ctx, job, err)
	if err != nil {
		return nil, err
	}
	return job.result, nil
}

func (s *importService) apply(ctx context.Context, job *importJob) error {
	switch {
	case job.legacy != nil:
		if err := s.extractFiles(ctx, job); err != nil {
			return err
		}
		s.advance(ctx, job, models.ImportStateFilesExtracted, map[string]any{"files": job.result.Files})
		return nil
	case job.result.Type == models.ArchiveTypeSelectedContent:
		return s.applySelected(ctx, job)
	default:
		return s.applyFullSite(ctx, job)
	}
}

func (s *importService) applyFullSite(ctx context.Context, job *importJob) error {
	if !job.req.SkipSnapshot {
		snap, err := s.snapshots.Create(ctx, models.SnapshotOptions{
			Label:          "перед импортом " + filepath.Base(job.req.ArchivePath),
			IncludeUploads: s.cfg.SnapshotIncludeUploads,
			Meta: map[string]string{
				"history_id": job.result.HistoryID,
				"archive":    filepath.Base(job.req.ArchivePath),
			},
		})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSnapshot, err)
		}
		job.result.SnapshotID = snap.ID
		s.advance(ctx, job, models.ImportStateSnapshotTaken, map[string]any{
			"snapshot_id":    snap.ID,
			"snapshot_label": snap.Label,
		})
	}

	info, err := job.zr.Info(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrApply, err)
	}
	rw, err := rewrite.New(
		rewrite.Site{SiteURL: info.SiteURL, HomeURL: info.HomeURL, Paths: info.Paths},
		rewrite.Site{SiteURL: s.cfg.SiteURL, HomeURL: s.cfg.HomeURL, Paths: s.cfg.ContentRoots()},
		rewrite.WithReclaimEvery(s.cfg.ReclaimEveryTables),
		rewrite.WithLogger(s.logger),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrApply, err)
	}
	s.advance(ctx, job, models.ImportStateDomainsRewritten, map[string]any{
		"replacements": len(rw.Replacements()),
	})

	existing, err := s.site.Tables(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrApply, err)
	}

	imported := make(map[string]bool)
	var incomingUsers *models.TableDump
	err = rw.Stream(ctx,
		func(fn func(models.TableDump) error) error {
			_, err := job.zr.StreamTables(ctx, fn)
			return err
		},
		func(t models.TableDump) error {
			imported[t.Name] = true
			if job.merge && t.Name == s.cfg.UsersTable {
				incomingUsers = &t
				return nil
			}
			if err := s.site.ReplaceTable(ctx, t.Name, t.Columns, t.Rows); err != nil {
				return fmt.Errorf("%w: таблица %s: %v", ErrApply, t.Name, err)
			}
			job.result.Tables++
			job.result.Rows += len(t.Rows)
			s.metrics.TablesImported.Inc()
			return nil
		},
	)
	if err != nil {
		return err
	}

	for _, name := range existing {
		if imported[name] || (job.merge && name == s.cfg.UsersTable) {
			continue
		}
		if err := s.site.DropTable(ctx, name); err != nil {
			return fmt.Errorf("%w: таблица %s: %v", ErrApply, name, err)
		}
		job.result.Dropped = append(job.result.Dropped, name)
	}
	s.advance(ctx, job, models.ImportStateDatabaseApplied, map[string]any{
		"tables":  job.result.Tables,
		"rows":    job.result.Rows,
		"dropped": len(job.result.Dropped),
	})

	if err := s.extractFiles(ctx, job); err != nil {
		return err
	}
	s.advance(ctx, job, models.ImportStateFilesExtracted, map[string]any{"files": job.result.Files})

	if !job.merge {
		return nil
	}
	if incomingUsers == nil {
		s.logger.Warn("в архиве нет таблицы пользователей, слияние пропущено",
			zap.String("table", s.cfg.UsersTable))
		return nil
	}
	counts, err := s.mergeUsers(ctx, job, *incomingUsers)
	if err != nil {
		return err
	}
	job.result.Users = &counts
	s.advance(ctx, job, models.ImportStateUserMergeApplied, map[string]any{
		"users_imported":  counts.Imported,
		"users_replaced":  counts.Replaced,
		"users_kept":      counts.Kept,
		"users_skipped":   counts.Skipped,
		"users_dropped":   counts.Dropped,
		"forced_preserve": counts.ForcedPreserve,
	})
	return nil
}

func (s *importService) mergeUsers(ctx context.Context, job *importJob, incoming models.TableDump) (models.MergeCounts, error) {
	table := s.cfg.UsersTable
	columns, err := s.site.Columns(ctx, table)
	if err != nil {
		return models.MergeCounts{}, fmt.Errorf("%w: %v", ErrUserMerge, err)
	}
	local := models.TableDump{Name: table, Columns: columns}
	err = s.site.StreamRows(ctx, table, func(row models.Row) error {
		local.Rows = append(local.Rows, row)
		return nil
	})
	if err != nil {
		return models.MergeCounts{}, fmt.Errorf("%w: %v", ErrUserMerge, err)
	}

	merged, counts, err := newUserMerge(s.cfg, job.req.MergePlan, job.req.ActingUser).merge(local, incoming)
	if err != nil {
		return counts, fmt.Errorf("%w: %w", ErrUserMerge, err)
	}
	if err := s.site.ReplaceTable(ctx, table, merged.Columns, merged.Rows); err != nil {
		return counts, fmt.Errorf("%w: %v", ErrUserMerge, err)
	}

	if counts.ForcedPreserve {
		s.logger.Warn("учетная запись текущего пользователя сохранена принудительно",
			zap.String("history_id", job.result.HistoryID),
			zap.String("acting_user", job.req.ActingUser),
		)
	}
	s.logger.Info("пользователи объединены",
		zap.String("history_id", job.result.HistoryID),
		zap.Int("imported", counts.Imported),
		zap.Int("replaced", counts.Replaced),
		zap.Int("kept", counts.Kept),
		zap.Int("dropped", counts.Dropped),
	)
	return counts, nil
}

func (s *importService) extractFiles(ctx context.Context, job *importJob) error {
	roots := s.cfg.ContentRoots()
	src := job.files()

	for entry := range src.FileEntries() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
		default:
		}

		dir := roots[entry.Root]
		if dir == "" {
			s.logger.Debug("корень не настроен, файл пропущен", zap.String("entry", entry.Name))
			continue
		}
		dst, err := archive.SafeJoin(dir, entry.RelPath)
		if err != nil {
			s.logger.Warn("небезопасный путь пропущен", zap.String("entry", entry.Name), zap.Error(err))
			continue
		}
		if err := s.writeFile(src, entry, dst); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrExtract, entry.Name, err)
		}
		job.result.Files++
		s.metrics.FilesExtracted.Inc()
	}

	if job.zr != nil {
		if unsafe := job.zr.UnsafeEntries(); len(unsafe) > 0 {
			s.logger.Warn("записи вне разрешенных каталогов пропущены",
				zap.String("history_id", job.result.HistoryID),
				zap.Strings("entries", unsafe),
			)
		}
	}
	return nil
}

func (s *importService) writeFile(src fileSource, entry models.FileEntry, dst string) error {
	rc, err := src.OpenFileEntry(entry)
	if err != nil {
		return err
	}
	defer rc.Close()

	if err := s.fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	f, err := s.fs.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		return multierr.Append(err, f.Close())
	}
	if err := f.Close(); err != nil {
		return err
	}
	if !entry.ModTime.IsZero() {
		if err := s.fs.Chtimes(dst, entry.ModTime, entry.ModTime); err != nil {
			s.logger.Debug("не удалось выставить время файла", zap.String("path", dst), zap.Error(err))
		}
	}
	return nil
}

func (s *importService) applySelected(ctx context.Context, job *importJob) error {
	doc, err := job.zr.ContentDocument(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrApply, err)
	}
	if err := s.dispatch(ctx, job, doc); err != nil {
		return err
	}
	s.advance(ctx, job, models.ImportStateDatabaseApplied, map[string]any{
		"kind":  string(doc.Kind()),
		"items": job.result.Items,
		"files": job.result.Files,
	})
	return nil
}

func (s *importService) dispatch(ctx context.Context, job *importJob, doc models.ContentDocument) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	var err error
	switch d := doc.(type) {
	case *models.PageDocument:
		if err := s.importMedia(ctx, job, d.Media); err != nil {
			return err
		}
		err = s.content.ImportPage(ctx, d)
	case *models.OptionsPageDocument:
		if err := s.importMedia(ctx, job, d.Media); err != nil {
			return err
		}
		err = s.content.ImportOptionsPage(ctx, d)
	case *models.FormsDocument:
		if err := s.importMedia(ctx, job, d.Media); err != nil {
			return err
		}
		err = s.content.ImportForms(ctx, d)
	case *models.BundleDocument:
		for _, item := range d.Items {
			if err := s.dispatch(ctx, job, item); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %w: %T", ErrApply, models.ErrUnknownContentKind, doc)
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrApply, doc.Kind(), err)
	}
	job.result.Items++
	return nil
}

func (s *importService) importMedia(ctx context.Context, job *importJob, refs []models.MediaRef) error {
	for _, ref := range refs {
		data, err := job.zr.ExtractNamedFile(ref.ArchivePath)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrExtract, ref.Name, err)
		}
		if err := s.content.ImportMedia(ctx, ref, data); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrApply, ref.Name, err)
		}
		job.result.Files++
		s.metrics.FilesExtracted.Inc()
	}
	return nil
}

// rollback restores the pre-import snapshot once. The returned error always
// carries the original cause.
func (s *importService) rollback(ctx context.Context, job *importJob, cause error) error {
	ierr := &ImportError{
		Cause:      cause,
		State:      job.result.State,
		SnapshotID: job.result.SnapshotID,
	}
	s.logger.Error("импорт прерван",
		zap.String("history_id", job.result.HistoryID),
		zap.String("state", string(job.result.State)),
		zap.Error(cause),
	)

	if job.result.SnapshotID == "" {
		job.result.State = models.ImportStateFailed
		return ierr
	}

	ierr.RollbackAttempted = true
	rctx := context.WithoutCancel(ctx)
	s.progress(rctx, job, "откат из снимка "+job.result.SnapshotID)

	path, err := s.snapshots.ArchivePath(rctx, job.result.SnapshotID)
	if err == nil {
		err = s.restoreFrom(rctx, path)
	}
	if err != nil {
		ierr.RollbackErr = err
		job.result.State = models.ImportStateRollbackFailed
		s.metrics.Rollbacks.WithLabelValues("failed").Inc()
		s.logger.Error("откат не удался, требуется ручное вмешательство",
			zap.String("history_id", job.result.HistoryID),
			zap.String("snapshot_id", job.result.SnapshotID),
			zap.NamedError("cause", cause),
			zap.Error(err),
		)
		return ierr
	}

	job.result.State = models.ImportStateRolledBack
	s.metrics.Rollbacks.WithLabelValues("success").Inc()
	s.logger.Warn("сайт восстановлен из снимка",
		zap.String("history_id", job.result.HistoryID),
		zap.String("snapshot_id", job.result.SnapshotID),
	)
	return ierr
}

// restoreFrom applies a snapshot under the lock already held by the caller.
func (s *importService) restoreFrom(ctx context.Context, path string) error {
	job := &importJob{
		req:     models.ImportRequest{ArchivePath: path, SkipSnapshot: true},
		restore: true,
		result:  &models.ImportResult{},
	}
	if err := s.openArchive(ctx, job); err != nil {
		return err
	}
	err := s.applyFullSite(ctx, job)
	return multierr.Append(err, job.close())
}

func (s *importService) release(ctx context.Context, job *importJob) {
	rctx := context.WithoutCancel(ctx)
	if job.locked {
		if err := s.locker.Release(rctx, job.lockName); err != nil {
			s.logger.Error("не удалось снять блокировку", zap.String("lock", job.lockName), zap.Error(err))
		}
		job.locked = false
	}
	if err := job.close(); err != nil {
		s.logger.Warn("не удалось закрыть архив", zap.Error(err))
	}
}

func (s *importService) advance(ctx context.Context, job *importJob, state models.ImportState, fields map[string]any) {
	job.result.State = state
	if job.result.HistoryID == "" {
		return
	}

	if fields == nil {
		fields = make(map[string]any)
	}
	fields["state"] = string(state)
	hctx := context.WithoutCancel(ctx)
	if err := s.history.Annotate(hctx, job.result.HistoryID, fields); err != nil {
		s.logger.Warn("не удалось обновить историю", zap.String("history_id", job.result.HistoryID), zap.Error(err))
	}
	s.progress(hctx, job, string(state))
}

func (s *importService) progress(ctx context.Context, job *importJob, message string) {
	if job.result.HistoryID == "" {
		return
	}
	if err := s.history.Progress(ctx, job.result.HistoryID, stateProgress[job.result.State], message); err != nil {
		s.logger.Warn("не удалось обновить прогресс", zap.String("history_id", job.result.HistoryID), zap.Error(err))
	}
}

func (s *importService) finish(ctx context.Context, job *importJob, err error) {
	status := models.HistoryStatusSuccess
	fields := map[string]any{
		"tables": job.result.Tables,
		"rows":   job.result.Rows,
		"files":  job.result.Files,
	}
	if job.result.Items > 0 {
		fields["items"] = job.result.Items
	}

	if err != nil {
		status = models.HistoryStatusError
		if ctx.Err() != nil {
			status = models.HistoryStatusCancelled
		}
		switch job.result.State {
		case models.ImportStateRolledBack, models.ImportStateRollbackFailed:
		default:
			job.result.State = models.ImportStateFailed
		}
		fields["error"] = err.Error()

		var ierr *ImportError
		if errors.As(err, &ierr) {
			fields["failed_state"] = string(ierr.State)
			fields["rollback_attempted"] = ierr.RollbackAttempted
			if ierr.RollbackErr != nil {
				fields["rollback_error"] = ierr.RollbackErr.Error()
			}
		}
	}
	fields["state"] = string(job.result.State)

	s.metrics.Operations.WithLabelValues(string(job.histType), string(status)).Inc()
	s.metrics.OperationSeconds.WithLabelValues(string(job.histType)).Observe(s.now().Sub(job.started).Seconds())

	if err == nil {
		s.logger.Info("импорт завершен",
			zap.String("history_id", job.result.HistoryID),
			zap.String("type", string(job.result.Type)),
			zap.Int("tables", job.result.Tables),
			zap.Int("files", job.result.Files),
		)
	}

	if finErr := s.history.Finish(context.WithoutCancel(ctx), job.result.HistoryID, status, fields); finErr != nil {
		s.logger.Error("не удалось завершить запись истории",
			zap.String("history_id", job.result.HistoryID),
			zap.Error(finErr),
		)
	}
}
