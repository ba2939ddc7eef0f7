package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sunr3d/site-mover/models"
)

type jobRow struct {
	ID          string `db:"id"`
	Direction   string `db:"direction"`
	Status      string `db:"status"`
	TotalSize   int64  `db:"total_size"`
	ChunkSize   int64  `db:"chunk_size"`
	TotalChunks int    `db:"total_chunks"`
	DoneChunks  string `db:"done_chunks"`
	Checksum    string `db:"checksum"`
	FilePath    string `db:"file_path"`
	Error       string `db:"error"`
	CreatedAt   int64  `db:"created_at"`
	UpdatedAt   int64  `db:"updated_at"`
	ExpiresAt   int64  `db:"expires_at"`
}

type historyRow struct {
	ID         string        `db:"id"`
	Type       string        `db:"type"`
	Status     string        `db:"status"`
	Progress   int           `db:"progress"`
	Message    string        `db:"message"`
	Context    string        `db:"context"`
	StartedAt  int64         `db:"started_at"`
	FinishedAt sql.NullInt64 `db:"finished_at"`
}

type snapshotRow struct {
	ID             string `db:"id"`
	Label          string `db:"label"`
	Path           string `db:"path"`
	Size           int64  `db:"size"`
	IncludeUploads bool   `db:"include_uploads"`
	IncludePlugins bool   `db:"include_plugins"`
	IncludeThemes  bool   `db:"include_themes"`
	Meta           string `db:"meta"`
	CreatedAt      int64  `db:"created_at"`
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return string(b), nil
}

func newJobRow(job *models.ChunkJob) (*jobRow, error) {
	done := job.DoneChunks
	if done == nil {
		done = []int{}
	}
	doneJSON, err := encodeJSON(done)
	if err != nil {
		return nil, err
	}
	return &jobRow{
		ID:          job.ID,
		Direction:   string(job.Direction),
		Status:      string(job.Status),
		TotalSize:   job.TotalSize,
		ChunkSize:   job.ChunkSize,
		TotalChunks: job.TotalChunks,
		DoneChunks:  doneJSON,
		Checksum:    job.Checksum,
		FilePath:    job.FilePath,
		Error:       job.Error,
		CreatedAt:   toNanos(job.CreatedAt),
		UpdatedAt:   toNanos(job.UpdatedAt),
		ExpiresAt:   toNanos(job.ExpiresAt),
	}, nil
}

func (r *jobRow) model() (*models.ChunkJob, error) {
	var done []int
	if err := json.Unmarshal([]byte(r.DoneChunks), &done); err != nil {
		return nil, fmt.Errorf("%w: done_chunks задачи %s: %v", ErrEncode, r.ID, err)
	}
	return &models.ChunkJob{
		ID:          r.ID,
		Direction:   models.JobDirection(r.Direction),
		Status:      models.JobStatus(r.Status),
		TotalSize:   r.TotalSize,
		ChunkSize:   r.ChunkSize,
		TotalChunks: r.TotalChunks,
		DoneChunks:  done,
		Checksum:    r.Checksum,
		FilePath:    r.FilePath,
		Error:       r.Error,
		CreatedAt:   fromNanos(r.CreatedAt),
		UpdatedAt:   fromNanos(r.UpdatedAt),
		ExpiresAt:   fromNanos(r.ExpiresAt),
	}, nil
}

func newHistoryRow(e *models.HistoryEntry) (*historyRow, error) {
	ctxMap := e.Context
	if ctxMap == nil {
		ctxMap = map[string]any{}
	}
	ctxJSON, err := encodeJSON(ctxMap)
	if err != nil {
		return nil, err
	}
	row := &historyRow{
		ID:        e.ID,
		Type:      string(e.Type),
		Status:    string(e.Status),
		Progress:  e.Progress,
		Message:   e.Message,
		Context:   ctxJSON,
		StartedAt: toNanos(e.StartedAt),
	}
	if e.FinishedAt != nil {
		row.FinishedAt = sql.NullInt64{Int64: toNanos(*e.FinishedAt), Valid: true}
	}
	return row, nil
}

func (r *historyRow) model() (*models.HistoryEntry, error) {
	entry := &models.HistoryEntry{
		ID:        r.ID,
		Type:      models.HistoryType(r.Type),
		Status:    models.HistoryStatus(r.Status),
		Progress:  r.Progress,
		Message:   r.Message,
		StartedAt: fromNanos(r.StartedAt),
	}
	var ctxMap map[string]any
	if err := json.Unmarshal([]byte(r.Context), &ctxMap); err != nil {
		return nil, fmt.Errorf("%w: context записи %s: %v", ErrEncode, r.ID, err)
	}
	if len(ctxMap) > 0 {
		entry.Context = ctxMap
	}
	if r.FinishedAt.Valid {
		t := fromNanos(r.FinishedAt.Int64)
		entry.FinishedAt = &t
	}
	return entry, nil
}

func newSnapshotRow(s *models.Snapshot) (*snapshotRow, error) {
	meta := s.Meta
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := encodeJSON(meta)
	if err != nil {
		return nil, err
	}
	return &snapshotRow{
		ID:             s.ID,
		Label:          s.Label,
		Path:           s.Path,
		Size:           s.Size,
		IncludeUploads: s.IncludeUploads,
		IncludePlugins: s.IncludePlugins,
		IncludeThemes:  s.IncludeThemes,
		Meta:           metaJSON,
		CreatedAt:      toNanos(s.CreatedAt),
	}, nil
}

func (r *snapshotRow) model() (*models.Snapshot, error) {
	snap := &models.Snapshot{
		ID:             r.ID,
		Label:          r.Label,
		Path:           r.Path,
		Size:           r.Size,
		IncludeUploads: r.IncludeUploads,
		IncludePlugins: r.IncludePlugins,
		IncludeThemes:  r.IncludeThemes,
		CreatedAt:      fromNanos(r.CreatedAt),
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(r.Meta), &meta); err != nil {
		return nil, fmt.Errorf("%w: meta снимка %s: %v", ErrEncode, r.ID, err)
	}
	if len(meta) > 0 {
		snap.Meta = meta
	}
	return snap, nil
}
