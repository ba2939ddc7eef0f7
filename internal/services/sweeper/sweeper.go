// Package sweeper runs the periodic crash-recovery and garbage collection
// passes: expired transfer jobs, stale locks, abandoned history entries and
// snapshots beyond retention.
package sweeper

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sunr3d/site-mover/internal/config"
	"github.com/sunr3d/site-mover/internal/interfaces/infra"
	"github.com/sunr3d/site-mover/internal/interfaces/services"
)

type Deps struct {
	Transfer  services.TransferService
	Locker    infra.Locker
	History   services.HistoryService
	Snapshots services.SnapshotService
}

type Report struct {
	Jobs      int      `json:"jobs"`
	Locks     []string `json:"locks,omitempty"`
	History   int      `json:"history"`
	Snapshots int      `json:"snapshots"`
}

type Sweeper struct {
	deps   Deps
	logger *zap.Logger
	cfg    *config.Config

	mu     sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

func New(log *zap.Logger, cfg *config.Config, deps Deps) *Sweeper {
	return &Sweeper{deps: deps, logger: log, cfg: cfg}
}

// Start schedules RunOnce on SWEEP_SCHEDULE. Overlapping runs are skipped.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return ErrStarted
	}

	cronLog := cron.PrintfLogger(zap.NewStdLog(s.logger.Named("cron")))
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := c.AddFunc(s.cfg.SweepSchedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("очистка завершилась с ошибками", zap.Error(err))
		}
	})
	if err != nil {
		cancel()
		return fmt.Errorf("%w: %q: %v", ErrSchedule, s.cfg.SweepSchedule, err)
	}

	s.cron, s.cancel = c, cancel
	c.Start()
	s.logger.Info("плановая очистка запущена", zap.String("schedule", s.cfg.SweepSchedule))
	return nil
}

// Stop cancels a running pass and waits for it to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	s.logger.Info("плановая очистка остановлена")
}

// RunOnce performs every pass. A failing pass does not stop the others; the
// errors are combined.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	select {
	case <-ctx.Done():
		return Report{}, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	var (
		report Report
		errs   error
		err    error
	)

	if s.deps.Transfer != nil {
		report.Jobs, err = s.deps.Transfer.SweepExpired(ctx)
		errs = multierr.Append(errs, err)
	}
	if s.deps.Locker != nil {
		report.Locks, err = s.deps.Locker.ReleaseStale(ctx, s.cfg.LockMaxAge)
		errs = multierr.Append(errs, err)
		if len(report.Locks) > 0 {
			s.logger.Warn("сняты зависшие блокировки", zap.Strings("locks", report.Locks))
		}
	}
	if s.deps.History != nil {
		report.History, err = s.deps.History.SweepStale(ctx, s.cfg.HistoryStaleAfter)
		errs = multierr.Append(errs, err)
	}
	if s.deps.Snapshots != nil {
		report.Snapshots, err = s.deps.Snapshots.Prune(ctx)
		errs = multierr.Append(errs, err)
	}

	s.logger.Debug("очистка выполнена",
		zap.Int("jobs", report.Jobs),
		zap.Int("locks", len(report.Locks)),
		zap.Int("history", report.History),
		zap.Int("snapshots", report.Snapshots),
	)
	return report, errs
}
