package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sunr3d/site-mover/internal/interfaces/infra"
	"github.com/sunr3d/site-mover/models"
)

const driverName = "sqlite"

func init() {
	sqlx.BindDriver(driverName, sqlx.QUESTION)
}

var _ infra.Store = (*sqliteDB)(nil)

type sqliteDB struct {
	db     *sqlx.DB
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*sqliteDB)

func WithClock(now func() time.Time) Option {
	return func(s *sqliteDB) { s.now = now }
}

// Open opens the bookkeeping database at path and applies the schema.
func Open(ctx context.Context, log *zap.Logger, path string, opts ...Option) (infra.Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrOpen, err)
		}
	}

	db, err := sqlx.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpen, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrOpen, pragma, err)
		}
	}

	store := newStore(db, log, opts...)
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	log.Info("хранилище sqlite открыто", zap.String("path", path))
	return store, nil
}

// NewFromDB wraps an already opened connection without touching the schema.
func NewFromDB(db *sqlx.DB, log *zap.Logger, opts ...Option) infra.Store {
	return newStore(db, log, opts...)
}

func newStore(db *sqlx.DB, log *zap.Logger, opts ...Option) *sqliteDB {
	s := &sqliteDB{db: db, logger: log, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *sqliteDB) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w: %v", ErrMigrate, err)
		}
	}
	return nil
}

func checkCtx(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
		return nil
	}
}

func queryErr(err error) error {
	return fmt.Errorf("%w: %v", ErrQuery, err)
}

func affected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, queryErr(err)
	}
	return n, nil
}

func (s *sqliteDB) SaveJob(ctx context.Context, job *models.ChunkJob) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if job == nil || job.ID == "" {
		return ErrIDEmpty
	}

	row, err := newJobRow(job)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO chunk_jobs
			(id, direction, status, total_size, chunk_size, total_chunks, done_chunks,
			 checksum, file_path, error, created_at, updated_at, expires_at)
		VALUES
			(:id, :direction, :status, :total_size, :chunk_size, :total_chunks, :done_chunks,
			 :checksum, :file_path, :error, :created_at, :updated_at, :expires_at)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			total_size = excluded.total_size,
			chunk_size = excluded.chunk_size,
			total_chunks = excluded.total_chunks,
			done_chunks = excluded.done_chunks,
			checksum = excluded.checksum,
			file_path = excluded.file_path,
			error = excluded.error,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`

	if _, err := s.db.NamedExecContext(ctx, query, row); err != nil {
		return queryErr(err)
	}
	return nil
}

func (s *sqliteDB) GetJob(ctx context.Context, id string) (*models.ChunkJob, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, ErrIDEmpty
	}

	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM chunk_jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: задача %s", infra.ErrNotFound, id)
	}
	if err != nil {
		return nil, queryErr(err)
	}
	return row.model()
}

func (s *sqliteDB) DeleteJob(ctx context.Context, id string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM chunk_jobs WHERE id = ?`, id)
	if err != nil {
		return queryErr(err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: задача %s", infra.ErrNotFound, id)
	}
	return nil
}

func (s *sqliteDB) ListSweepableJobs(ctx context.Context, now time.Time) ([]*models.ChunkJob, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM chunk_jobs
		WHERE expires_at < ? OR status = ?
		ORDER BY created_at`,
		toNanos(now), string(models.JobStatusCancelled))
	if err != nil {
		return nil, queryErr(err)
	}

	out := make([]*models.ChunkJob, 0, len(rows))
	for i := range rows {
		job, err := rows[i].model()
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

func (s *sqliteDB) CreateHistory(ctx context.Context, entry *models.HistoryEntry) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if entry == nil || entry.ID == "" {
		return ErrIDEmpty
	}

	row, err := newHistoryRow(entry)
	if err != nil {
		return err
	}

	res, err := s.db.NamedExecContext(ctx, `
		INSERT INTO history (id, type, status, progress, message, context, started_at, finished_at)
		VALUES (:id, :type, :status, :progress, :message, :context, :started_at, :finished_at)
		ON CONFLICT (id) DO NOTHING`, row)
	if err != nil {
		return queryErr(err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: запись %s уже существует", infra.ErrInvalidArg, entry.ID)
	}
	return nil
}

func (s *sqliteDB) UpdateHistory(ctx context.Context, entry *models.HistoryEntry) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if entry == nil || entry.ID == "" {
		return ErrIDEmpty
	}

	row, err := newHistoryRow(entry)
	if err != nil {
		return err
	}

	res, err := s.db.NamedExecContext(ctx, `
		UPDATE history SET
			status = :status,
			progress = :progress,
			message = :message,
			context = :context,
			finished_at = :finished_at
		WHERE id = :id`, row)
	if err != nil {
		return queryErr(err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: запись истории %s", infra.ErrNotFound, entry.ID)
	}
	return nil
}

func (s *sqliteDB) GetHistory(ctx context.Context, id string) (*models.HistoryEntry, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	var row historyRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM history WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: запись истории %s", infra.ErrNotFound, id)
	}
	if err != nil {
		return nil, queryErr(err)
	}
	return row.model()
}

func (s *sqliteDB) ListHistory(ctx context.Context, limit int) ([]*models.HistoryEntry, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = -1
	}

	var rows []historyRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM history ORDER BY started_at DESC LIMIT ?`, limit); err != nil {
		return nil, queryErr(err)
	}
	return historyModels(rows)
}

func (s *sqliteDB) ListRunningHistory(ctx context.Context, startedBefore time.Time) ([]*models.HistoryEntry, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	var rows []historyRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM history WHERE status = ? AND started_at < ? ORDER BY started_at`,
		string(models.HistoryStatusRunning), toNanos(startedBefore)); err != nil {
		return nil, queryErr(err)
	}
	return historyModels(rows)
}

func historyModels(rows []historyRow) ([]*models.HistoryEntry, error) {
	out := make([]*models.HistoryEntry, 0, len(rows))
	for i := range rows {
		entry, err := rows[i].model()
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

// Acquire takes the lock when it is free or older than maxAge. The upsert
// only overwrites a stale row, so a zero row count means another holder.
func (s *sqliteDB) Acquire(ctx context.Context, name string, maxAge time.Duration) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%w: пустое имя блокировки", infra.ErrInvalidArg)
	}

	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO locks (name, created_at) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET created_at = excluded.created_at
		WHERE locks.created_at <= ?`,
		name, toNanos(now), toNanos(now.Add(-maxAge)))
	if err != nil {
		return queryErr(err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", infra.ErrLockHeld, name)
	}
	return nil
}

func (s *sqliteDB) Release(ctx context.Context, name string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM locks WHERE name = ?`, name); err != nil {
		return queryErr(err)
	}
	return nil
}

func (s *sqliteDB) ReleaseStale(ctx context.Context, maxAge time.Duration) ([]string, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	var released []string
	err := s.db.SelectContext(ctx, &released,
		`DELETE FROM locks WHERE created_at <= ? RETURNING name`,
		toNanos(s.now().Add(-maxAge)))
	if err != nil {
		return nil, queryErr(err)
	}
	for _, name := range released {
		s.logger.Info("устаревшая блокировка снята", zap.String("lock", name))
	}
	return released, nil
}

func (s *sqliteDB) SaveSnapshot(ctx context.Context, snap *models.Snapshot) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}
	if snap == nil || snap.ID == "" {
		return ErrIDEmpty
	}

	row, err := newSnapshotRow(snap)
	if err != nil {
		return err
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO snapshots
			(id, label, path, size, include_uploads, include_plugins, include_themes, meta, created_at)
		VALUES
			(:id, :label, :path, :size, :include_uploads, :include_plugins, :include_themes, :meta, :created_at)
		ON CONFLICT (id) DO UPDATE SET
			label = excluded.label,
			path = excluded.path,
			size = excluded.size,
			meta = excluded.meta`, row)
	if err != nil {
		return queryErr(err)
	}
	return nil
}

func (s *sqliteDB) GetSnapshot(ctx context.Context, id string) (*models.Snapshot, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	var row snapshotRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM snapshots WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: снимок %s", infra.ErrNotFound, id)
	}
	if err != nil {
		return nil, queryErr(err)
	}
	return row.model()
}

func (s *sqliteDB) DeleteSnapshot(ctx context.Context, id string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return queryErr(err)
	}
	n, err := affected(res)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: снимок %s", infra.ErrNotFound, id)
	}
	return nil
}

func (s *sqliteDB) ListSnapshots(ctx context.Context) ([]*models.Snapshot, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	var rows []snapshotRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM snapshots ORDER BY created_at DESC`); err != nil {
		return nil, queryErr(err)
	}

	out := make([]*models.Snapshot, 0, len(rows))
	for i := range rows {
		snap, err := rows[i].model()
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}

func (s *sqliteDB) Close() error {
	return s.db.Close()
}
