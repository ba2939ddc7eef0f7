package inmem

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sunr3d/site-mover/internal/interfaces/infra"
	"github.com/sunr3d/site-mover/models"
)

var _ infra.Store = (*inmemDB)(nil)

type inmemDB struct {
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	jobs      map[string]*models.ChunkJob
	history   map[string]*models.HistoryEntry
	locks     map[string]time.Time
	snapshots map[string]*models.Snapshot
}

func New(log *zap.Logger) infra.Store {
	return NewWithClock(log, time.Now)
}

func NewWithClock(log *zap.Logger, now func() time.Time) infra.Store {
	return &inmemDB{
		logger:    log,
		now:       now,
		jobs:      make(map[string]*models.ChunkJob),
		history:   make(map[string]*models.HistoryEntry),
		locks:     make(map[string]time.Time),
		snapshots: make(map[string]*models.Snapshot),
	}
}

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
		return nil
	}
}

func (db *inmemDB) SaveJob(ctx context.Context, job *models.ChunkJob) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if job == nil {
		return ErrJobNil
	}
	if job.ID == "" {
		return ErrIDEmpty
	}

	cp := *job
	cp.DoneChunks = append([]int(nil), job.DoneChunks...)

	db.mu.Lock()
	defer db.mu.Unlock()

	db.jobs[job.ID] = &cp
	return nil
}

func (db *inmemDB) GetJob(ctx context.Context, id string) (*models.ChunkJob, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrIDEmpty
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	job, exists := db.jobs[id]
	if !exists {
		return nil, fmt.Errorf("%w: задача %s", infra.ErrNotFound, id)
	}
	cp := *job
	cp.DoneChunks = append([]int(nil), job.DoneChunks...)
	return &cp, nil
}

func (db *inmemDB) DeleteJob(ctx context.Context, id string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if id == "" {
		return ErrIDEmpty
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.jobs[id]; !exists {
		return fmt.Errorf("%w: задача %s", infra.ErrNotFound, id)
	}
	delete(db.jobs, id)
	db.logger.Debug("задача удалена", zap.String("job_id", id))
	return nil
}

func (db *inmemDB) ListSweepableJobs(ctx context.Context, now time.Time) ([]*models.ChunkJob, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	var out []*models.ChunkJob
	for _, job := range db.jobs {
		if now.After(job.ExpiresAt) || job.Status == models.JobStatusCancelled {
			cp := *job
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (db *inmemDB) CreateHistory(ctx context.Context, entry *models.HistoryEntry) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if entry == nil {
		return ErrHistoryNil
	}
	if entry.ID == "" {
		return ErrIDEmpty
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.history[entry.ID]; exists {
		return fmt.Errorf("%w: запись %s уже существует", infra.ErrInvalidArg, entry.ID)
	}
	db.history[entry.ID] = copyHistory(entry)
	return nil
}

func (db *inmemDB) UpdateHistory(ctx context.Context, entry *models.HistoryEntry) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if entry == nil {
		return ErrHistoryNil
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.history[entry.ID]; !exists {
		return fmt.Errorf("%w: запись истории %s", infra.ErrNotFound, entry.ID)
	}
	db.history[entry.ID] = copyHistory(entry)
	return nil
}

func (db *inmemDB) GetHistory(ctx context.Context, id string) (*models.HistoryEntry, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	entry, exists := db.history[id]
	if !exists {
		return nil, fmt.Errorf("%w: запись истории %s", infra.ErrNotFound, id)
	}
	return copyHistory(entry), nil
}

func (db *inmemDB) ListHistory(ctx context.Context, limit int) ([]*models.HistoryEntry, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	db.mu.RLock()
	out := make([]*models.HistoryEntry, 0, len(db.history))
	for _, entry := range db.history {
		out = append(out, copyHistory(entry))
	}
	db.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (db *inmemDB) ListRunningHistory(ctx context.Context, startedBefore time.Time) ([]*models.HistoryEntry, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	var out []*models.HistoryEntry
	for _, entry := range db.history {
		if entry.Running() && entry.StartedAt.Before(startedBefore) {
			out = append(out, copyHistory(entry))
		}
	}
	return out, nil
}

func (db *inmemDB) Acquire(ctx context.Context, name string, maxAge time.Duration) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if name == "" {
		return ErrLockNameEmpty
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	now := db.now()
	if since, held := db.locks[name]; held && now.Sub(since) < maxAge {
		return fmt.Errorf("%w: %s", infra.ErrLockHeld, name)
	}
	db.locks[name] = now
	return nil
}

func (db *inmemDB) Release(ctx context.Context, name string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	delete(db.locks, name)
	return nil
}

func (db *inmemDB) ReleaseStale(ctx context.Context, maxAge time.Duration) ([]string, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	now := db.now()
	var released []string
	for name, since := range db.locks {
		if now.Sub(since) >= maxAge {
			delete(db.locks, name)
			released = append(released, name)
			db.logger.Info("устаревшая блокировка снята", zap.String("lock", name))
		}
	}
	sort.Strings(released)
	return released, nil
}

func (db *inmemDB) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if snap == nil {
		return ErrSnapshotNil
	}
	if snap.ID == "" {
		return ErrIDEmpty
	}

	cp := *snap
	db.mu.Lock()
	defer db.mu.Unlock()

	db.snapshots[snap.ID] = &cp
	return nil
}

func (db *inmemDB) GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	snap, exists := db.snapshots[id]
	if !exists {
		return nil, fmt.Errorf("%w: снимок %s", infra.ErrNotFound, id)
	}
	cp := *snap
	return &cp, nil
}

func (db *inmemDB) DeleteSnapshot(ctx context.Context, id string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.snapshots[id]; !exists {
		return fmt.Errorf("%w: снимок %s", infra.ErrNotFound, id)
	}
	delete(db.snapshots, id)
	return nil
}

func (db *inmemDB) ListSnapshots(ctx context.Context) ([]*models.Snapshot, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	db.mu.RLock()
	out := make([]*models.Snapshot, 0, len(db.snapshots))
	for _, snap := range db.snapshots {
		cp := *snap
		out = append(out, &cp)
	}
	db.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (db *inmemDB) Close() error {
	return nil
}

func copyHistory(e *models.HistoryEntry) *models.HistoryEntry {
	cp := *e
	if e.Context != nil {
		cp.Context = make(map[string]any, len(e.Context))
		for k, v := range e.Context {
			cp.Context[k] = v
		}
	}
	if e.FinishedAt != nil {
		t := *e.FinishedAt
		cp.FinishedAt = &t
	}
	return &cp
}
