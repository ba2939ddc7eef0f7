package history_service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sunr3d/site-mover/internal/interfaces/infra"
	"github.com/sunr3d/site-mover/internal/interfaces/services"
	"github.com/sunr3d/site-mover/models"
)

var _ services.HistoryService = (*historyService)(nil)

type historyService struct {
	repo   infra.HistoryStore
	logger *zap.Logger
	now    func() time.Time
}

func New(log *zap.Logger, repo infra.HistoryStore) services.HistoryService {
	return NewWithClock(log, repo, time.Now)
}

func NewWithClock(log *zap.Logger, repo infra.HistoryStore, now func() time.Time) services.HistoryService {
	return &historyService{repo: repo, logger: log, now: now}
}

func (s *historyService) Start(ctx context.Context, typ models.HistoryType, fields map[string]any) (*models.HistoryEntry, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	entry := &models.HistoryEntry{
		ID:        uuid.New().String(),
		Type:      typ,
		Status:    models.HistoryStatusRunning,
		Context:   merge(nil, fields),
		StartedAt: s.now(),
	}
	if err := s.repo.CreateHistory(ctx, entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHistorySave, err)
	}

	s.logger.Info("операция начата",
		zap.String("history_id", entry.ID),
		zap.String("type", string(typ)),
	)
	return entry, nil
}

func (s *historyService) Progress(ctx context.Context, id string, percent int, message string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	entry, err := s.running(ctx, id)
	if err != nil {
		return err
	}

	entry.Progress = min(max(percent, 0), 100)
	if message != "" {
		entry.Message = message
	}
	if err := s.repo.UpdateHistory(ctx, entry); err != nil {
		return fmt.Errorf("%w: %v", ErrHistorySave, err)
	}

	s.logger.Debug("прогресс операции",
		zap.String("history_id", id),
		zap.Int("progress", entry.Progress),
		zap.String("message", message),
	)
	return nil
}

func (s *historyService) Annotate(ctx context.Context, id string, fields map[string]any) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	entry, err := s.repo.GetHistory(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHistoryGet, err)
	}

	entry.Context = merge(entry.Context, fields)
	if err := s.repo.UpdateHistory(ctx, entry); err != nil {
		return fmt.Errorf("%w: %v", ErrHistorySave, err)
	}
	return nil
}

func (s *historyService) Finish(ctx context.Context, id string, status models.HistoryStatus, fields map[string]any) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	switch status {
	case models.HistoryStatusSuccess, models.HistoryStatusError, models.HistoryStatusCancelled:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}

	entry, err := s.running(ctx, id)
	if err != nil {
		return err
	}

	finished := s.now()
	entry.Status = status
	entry.FinishedAt = &finished
	entry.Context = merge(entry.Context, fields)
	if status == models.HistoryStatusSuccess {
		entry.Progress = 100
	}

	if err := s.repo.UpdateHistory(ctx, entry); err != nil {
		return fmt.Errorf("%w: %v", ErrHistorySave, err)
	}

	s.logger.Info("операция завершена",
		zap.String("history_id", id),
		zap.String("type", string(entry.Type)),
		zap.String("status", string(status)),
		zap.Duration("duration", finished.Sub(entry.StartedAt)),
	)
	return nil
}

func (s *historyService) Get(ctx context.Context, id string) (*models.HistoryEntry, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	entry, err := s.repo.GetHistory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHistoryGet, err)
	}
	return entry, nil
}

func (s *historyService) List(ctx context.Context, limit int) ([]*models.HistoryEntry, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	entries, err := s.repo.ListHistory(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHistoryGet, err)
	}
	return entries, nil
}

// SweepStale fails entries that stayed running longer than olderThan,
// typically left behind by a crashed process.
func (s *historyService) SweepStale(ctx context.Context, olderThan time.Duration) (int, error) {
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	stale, err := s.repo.ListRunningHistory(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrHistoryGet, err)
	}

	swept := 0
	for _, entry := range stale {
		finished := s.now()
		entry.Status = models.HistoryStatusError
		entry.FinishedAt = &finished
		entry.Message = "операция прервана"
		if err := s.repo.UpdateHistory(ctx, entry); err != nil {
			s.logger.Error("не удалось закрыть зависшую запись истории",
				zap.String("history_id", entry.ID),
				zap.Error(err),
			)
			continue
		}
		swept++
	}

	if swept > 0 {
		s.logger.Info("зависшие записи истории закрыты", zap.Int("count", swept))
	}
	return swept, nil
}

func (s *historyService) running(ctx context.Context, id string) (*models.HistoryEntry, error) {
	entry, err := s.repo.GetHistory(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHistoryGet, err)
	}
	if !entry.Running() {
		return nil, fmt.Errorf("%w: %s (%s)", ErrAlreadyFinalized, id, entry.Status)
	}
	return entry, nil
}

func merge(dst, src map[string]any) map[string]any {
	if len(src) == 0 {
		return dst
	}
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
