package snapshot_service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/sunr3d/site-mover/internal/config"
	"github.com/sunr3d/site-mover/internal/interfaces/infra"
	"github.com/sunr3d/site-mover/internal/interfaces/services"
	"github.com/sunr3d/site-mover/models"
)

var _ services.SnapshotService = (*snapshotService)(nil)

type snapshotService struct {
	fs       afero.Fs
	repo     infra.SnapshotStore
	exporter services.ExportService
	logger   *zap.Logger
	cfg      *config.Config
	now      func() time.Time

	mu       sync.RWMutex
	restorer services.ArchiveRestorer
}

func New(log *zap.Logger, cfg *config.Config, fs afero.Fs, repo infra.SnapshotStore, exporter services.ExportService) services.SnapshotService {
	return &snapshotService{
		fs:       fs,
		repo:     repo,
		exporter: exporter,
		logger:   log,
		cfg:      cfg,
		now:      time.Now,
	}
}

// SetRestorer wires the import path used by Restore. The importer itself
// takes snapshots, so it is attached after both are built.
func (s *snapshotService) SetRestorer(r services.ArchiveRestorer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restorer = r
}

func (s *snapshotService) Create(ctx context.Context, opts models.SnapshotOptions) (*models.Snapshot, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	id := uuid.New().String()
	path := filepath.Join(s.cfg.SnapshotsDir(), id+".wpbkp")

	result, err := s.exporter.Export(ctx, models.ExportOptions{
		IncludeUploads: opts.IncludeUploads,
		IncludePlugins: opts.IncludePlugins,
		IncludeThemes:  opts.IncludeThemes,
		TargetPath:     path,
		HistoryType:    models.HistoryTypeSnapshot,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotCreate, err)
	}

	snap := &models.Snapshot{
		ID:             id,
		Label:          opts.Label,
		Path:           result.Path,
		Size:           result.Size,
		IncludeUploads: opts.IncludeUploads,
		IncludePlugins: opts.IncludePlugins,
		IncludeThemes:  opts.IncludeThemes,
		Meta:           opts.Meta,
		CreatedAt:      s.now(),
	}
	if err := s.repo.SaveSnapshot(ctx, snap); err != nil {
		s.fs.Remove(result.Path)
		return nil, fmt.Errorf("%w: %v", ErrSnapshotSave, err)
	}

	s.logger.Info("снимок создан",
		zap.String("snapshot_id", id),
		zap.String("path", snap.Path),
		zap.Int64("size", snap.Size),
		zap.Int("tables", result.Stats.Tables),
	)
	return snap, nil
}

func (s *snapshotService) Get(ctx context.Context, id string) (*models.Snapshot, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	snap, err := s.repo.GetSnapshot(ctx, id)
	if errors.Is(err, infra.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotSave, err)
	}
	return snap, nil
}

func (s *snapshotService) List(ctx context.Context) ([]*models.Snapshot, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	snaps, err := s.repo.ListSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSnapshotSave, err)
	}
	return snaps, nil
}

func (s *snapshotService) Delete(ctx context.Context, id string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	snap, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return s.delete(ctx, snap)
}

func (s *snapshotService) delete(ctx context.Context, snap *models.Snapshot) error {
	if err := s.fs.Remove(snap.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrSnapshotSave, err)
	}
	if err := s.repo.DeleteSnapshot(ctx, snap.ID); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotSave, err)
	}

	s.logger.Info("снимок удален", zap.String("snapshot_id", snap.ID))
	return nil
}

func (s *snapshotService) ArchivePath(ctx context.Context, id string) (string, error) {
	snap, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}

	exists, err := afero.Exists(s.fs, snap.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSnapshotMissing, err)
	}
	if !exists {
		s.logger.Error("файл снимка отсутствует",
			zap.String("snapshot_id", id),
			zap.String("path", snap.Path),
		)
		return "", fmt.Errorf("%w: %s", ErrSnapshotMissing, snap.Path)
	}
	return snap.Path, nil
}

func (s *snapshotService) Restore(ctx context.Context, id string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	s.mu.RLock()
	restorer := s.restorer
	s.mu.RUnlock()
	if restorer == nil {
		return ErrNoRestorer
	}

	path, err := s.ArchivePath(ctx, id)
	if err != nil {
		return err
	}

	s.logger.Info("восстановление снимка", zap.String("snapshot_id", id))
	if err := restorer.RestoreArchive(ctx, path); err != nil {
		return fmt.Errorf("%w: %w", ErrRestore, err)
	}
	return nil
}

// Prune keeps the newest SnapshotRetention snapshots and deletes the rest.
func (s *snapshotService) Prune(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	if s.cfg.SnapshotRetention <= 0 {
		return 0, nil
	}

	snaps, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(snaps) <= s.cfg.SnapshotRetention {
		return 0, nil
	}

	pruned := 0
	for _, snap := range snaps[s.cfg.SnapshotRetention:] {
		if err := s.delete(ctx, snap); err != nil {
			return pruned, err
		}
		pruned++
	}

	s.logger.Info("старые снимки удалены",
		zap.Int("count", pruned),
		zap.Int("retention", s.cfg.SnapshotRetention),
	)
	return pruned, nil
}
