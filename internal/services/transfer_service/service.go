package transfer_service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/afero"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sunr3d/site-mover/internal/config"
	"github.com/sunr3d/site-mover/internal/interfaces/infra"
	"github.com/sunr3d/site-mover/internal/interfaces/services"
	"github.com/sunr3d/site-mover/internal/metrics"
	"github.com/sunr3d/site-mover/internal/tasks"
	"github.com/sunr3d/site-mover/models"
)

const gib = int64(1) << 30

var _ services.TransferService = (*transferService)(nil)

// SnapshotLocator resolves a snapshot id to its archive on disk.
type SnapshotLocator interface {
	ArchivePath(ctx context.Context, id string) (string, error)
}

type transferService struct {
	fs        afero.Fs
	repo      infra.JobStore
	exporter  services.ExportService
	snapshots SnapshotLocator
	runner    *tasks.Runner
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       *config.Config
	now       func() time.Time

	locks sync.Map
}

type Deps struct {
	FS        afero.Fs
	Repo      infra.JobStore
	Exporter  services.ExportService
	Snapshots SnapshotLocator
	Runner    *tasks.Runner
	Metrics   *metrics.Metrics
}

func New(log *zap.Logger, cfg *config.Config, deps Deps) services.TransferService {
	return &transferService{
		fs:        deps.FS,
		repo:      deps.Repo,
		exporter:  deps.Exporter,
		snapshots: deps.Snapshots,
		runner:    deps.Runner,
		metrics:   deps.Metrics,
		logger:    log,
		cfg:       cfg,
		now:       time.Now,
	}
}

func (s *transferService) InitUpload(ctx context.Context, req models.UploadInit) (*models.ChunkJob, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	if req.TotalChunks <= 0 {
		return nil, fmt.Errorf("%w: total_chunks должен быть больше нуля", ErrInvalidRequest)
	}
	checksum, err := normalizeChecksum(req.Checksum)
	if err != nil {
		return nil, err
	}

	chunkSize, totalChunks, err := s.negotiate(req)
	if err != nil {
		return nil, err
	}

	job := s.newJob(models.JobDirectionUpload, ".part")
	job.ChunkSize = chunkSize
	job.TotalChunks = totalChunks
	job.TotalSize = req.TotalSize
	job.Checksum = checksum

	if err := s.createJobFile(job.FilePath); err != nil {
		return nil, err
	}
	if err := s.repo.SaveJob(ctx, job); err != nil {
		s.fs.Remove(job.FilePath)
		return nil, fmt.Errorf("%w: %v", ErrJobSave, err)
	}

	s.metrics.JobsCreated.WithLabelValues(string(job.Direction)).Inc()
	s.logger.Info("загрузка начата",
		zap.String("job_id", job.ID),
		zap.Int("total_chunks", job.TotalChunks),
		zap.Int64("chunk_size", job.ChunkSize),
	)
	return job, nil
}

// negotiate settles the chunk size and count of an upload. When the server
// does not accept the proposed chunk size, total_chunks is recomputed from
// total_size, so a changed size needs total_size unless one chunk still fits.
func (s *transferService) negotiate(req models.UploadInit) (int64, int, error) {
	chunkSize := s.clamp(req.ChunkSize)
	if req.ChunkSize <= 0 {
		chunkSize = s.clamp(s.cfg.DownloadChunkSize)
	}
	changed := chunkSize != req.ChunkSize

	if req.TotalSize <= 0 {
		if changed && (req.TotalChunks > 1 || chunkSize < req.ChunkSize) {
			return 0, 0, fmt.Errorf("%w: размер чанка изменен на %d, нужен total_size", ErrInvalidRequest, chunkSize)
		}
		return chunkSize, req.TotalChunks, nil
	}

	total := chunksFor(req.TotalSize, chunkSize)
	if !changed && total != req.TotalChunks {
		return 0, 0, fmt.Errorf("%w: %d байт не делятся на %d чанков по %d", ErrInvalidRequest,
			req.TotalSize, req.TotalChunks, chunkSize)
	}
	return chunkSize, total, nil
}

// UploadChunk writes a chunk at its offset. Sending an index again overwrites
// it, and a complete set is verified again after every write.
func (s *transferService) UploadChunk(ctx context.Context, jobID string, index int, data []byte) (*models.ChunkJob, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	unlock := s.lockJob(jobID)
	defer unlock()

	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Direction != models.JobDirectionUpload {
		return nil, ErrWrongDirection
	}
	if err := usable(job); err != nil {
		return nil, err
	}
	if index < 0 || index >= job.TotalChunks {
		return nil, fmt.Errorf("%w: %d из %d", ErrChunkIndexOutOfRange, index, job.TotalChunks)
	}
	if err := checkChunkSize(job, index, len(data)); err != nil {
		return nil, err
	}

	if err := s.writeAt(job.FilePath, int64(index)*job.ChunkSize, data, index == job.TotalChunks-1); err != nil {
		return nil, err
	}

	if !job.HasChunk(index) {
		job.DoneChunks = append(job.DoneChunks, index)
	}
	job.Status = models.JobStatusInProgress
	job.Error = ""
	job.UpdatedAt = s.now()
	job.ExpiresAt = job.UpdatedAt.Add(s.cfg.JobTTL)

	s.metrics.ChunksReceived.Inc()
	s.metrics.ChunkBytes.WithLabelValues(string(job.Direction)).Add(float64(len(data)))

	var verifyErr error
	if job.Complete() {
		verifyErr = s.verifyUpload(job)
	}

	if err := s.repo.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJobSave, err)
	}
	if verifyErr != nil {
		return nil, verifyErr
	}
	return job, nil
}

func checkChunkSize(job *models.ChunkJob, index, size int) error {
	want := job.ChunkSize
	exact := index < job.TotalChunks-1
	if job.TotalSize > 0 {
		want = min(job.ChunkSize, job.TotalSize-int64(index)*job.ChunkSize)
		exact = true
	}
	if (exact && int64(size) != want) || size == 0 || int64(size) > want {
		return fmt.Errorf("%w: чанк %d, %d байт при размере %d", ErrChunkSize, index, size, want)
	}
	return nil
}

// verifyUpload checks a complete upload. A checksum mismatch leaves the job
// open so the client can resend the damaged chunks.
func (s *transferService) verifyUpload(job *models.ChunkJob) error {
	sum, err := fileChecksum(s.fs, job.FilePath, len(job.Checksum))
	if err == nil && sum != job.Checksum {
		err = fmt.Errorf("%w: ожидалось %s, получено %s", ErrChecksumMismatch, job.Checksum, sum)
		job.Error = err.Error()
		s.logger.Warn("контрольная сумма загрузки не совпала", zap.String("job_id", job.ID), zap.Error(err))
		return err
	}
	if err != nil {
		job.Status = models.JobStatusError
		job.Error = err.Error()
		s.logger.Warn("загрузка отклонена", zap.String("job_id", job.ID), zap.Error(err))
		return err
	}

	if fi, statErr := s.fs.Stat(job.FilePath); statErr == nil {
		job.TotalSize = fi.Size()
	}
	job.Status = models.JobStatusComplete
	s.logger.Info("загрузка завершена",
		zap.String("job_id", job.ID),
		zap.Int64("size", job.TotalSize),
	)
	return nil
}

func (s *transferService) ClaimUpload(ctx context.Context, jobID, dest string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	unlock := s.lockJob(jobID)
	defer unlock()

	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Direction != models.JobDirectionUpload {
		return ErrWrongDirection
	}
	if err := usable(job); err != nil {
		return err
	}
	if job.Status != models.JobStatusComplete {
		return fmt.Errorf("%w: получено %d из %d чанков", ErrUploadIncomplete, len(job.DoneChunks), job.TotalChunks)
	}

	if err := s.fs.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := s.fs.Rename(job.FilePath, dest); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := s.repo.DeleteJob(ctx, jobID); err != nil {
		return fmt.Errorf("%w: %v", ErrJobSave, err)
	}
	s.locks.Delete(jobID)

	s.logger.Info("загрузка передана", zap.String("job_id", jobID), zap.String("dest", dest))
	return nil
}

// InitDownload prepares an archive for chunked download. A snapshot is
// copied right away; a fresh export runs in the background and the job
// stays pending until it finishes.
func (s *transferService) InitDownload(ctx context.Context, req models.DownloadRequest) (*models.ChunkJob, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	if req.SnapshotID != "" {
		path, err := s.snapshots.ArchivePath(ctx, req.SnapshotID)
		if err != nil {
			return nil, err
		}
		return s.InitDownloadFromFile(ctx, path)
	}

	job := s.newJob(models.JobDirectionDownload, ".wpbkp")
	if err := s.repo.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJobSave, err)
	}
	s.metrics.JobsCreated.WithLabelValues(string(job.Direction)).Inc()

	opts := models.ExportOptions{
		IncludeUploads: req.IncludeUploads,
		IncludePlugins: req.IncludePlugins,
		IncludeThemes:  req.IncludeThemes,
		TargetPath:     job.FilePath,
	}
	err := s.runner.Go(job.ID, func(taskCtx context.Context) {
		s.prepareDownload(taskCtx, job.ID, opts)
	})
	if err != nil {
		job.Status = models.JobStatusError
		job.Error = err.Error()
		s.repo.SaveJob(ctx, job)
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	s.logger.Info("подготовка архива для скачивания", zap.String("job_id", job.ID))
	return job, nil
}

func (s *transferService) prepareDownload(ctx context.Context, jobID string, opts models.ExportOptions) {
	result, exportErr := s.exporter.Export(ctx, opts)

	unlock := s.lockJob(jobID)
	defer unlock()

	job, err := s.getJob(ctx, jobID)
	if err != nil {
		s.logger.Warn("задача исчезла во время экспорта", zap.String("job_id", jobID), zap.Error(err))
		if exportErr == nil {
			s.fs.Remove(result.Path)
		}
		return
	}
	if job.Status == models.JobStatusCancelled {
		s.fs.Remove(job.FilePath)
		return
	}

	if exportErr != nil {
		job.Status = models.JobStatusError
		job.Error = exportErr.Error()
		s.logger.Error("экспорт для скачивания не удался", zap.String("job_id", jobID), zap.Error(exportErr))
	} else {
		s.ready(job, result.Size)
	}
	job.UpdatedAt = s.now()

	if err := s.repo.SaveJob(context.WithoutCancel(ctx), job); err != nil {
		s.logger.Error("не удалось сохранить задачу", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (s *transferService) InitDownloadFromFile(ctx context.Context, path string) (*models.ChunkJob, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	job := s.newJob(models.JobDirectionDownload, ".wpbkp")
	size, err := s.copyFile(path, job.FilePath)
	if err != nil {
		return nil, err
	}
	s.ready(job, size)

	if err := s.repo.SaveJob(ctx, job); err != nil {
		s.fs.Remove(job.FilePath)
		return nil, fmt.Errorf("%w: %v", ErrJobSave, err)
	}

	s.metrics.JobsCreated.WithLabelValues(string(job.Direction)).Inc()
	s.logger.Info("архив готов к скачиванию",
		zap.String("job_id", job.ID),
		zap.Int64("size", job.TotalSize),
		zap.Int("total_chunks", job.TotalChunks),
	)
	return job, nil
}

func (s *transferService) ready(job *models.ChunkJob, size int64) {
	job.TotalSize = size
	job.ChunkSize = s.downloadChunkSize(size)
	job.TotalChunks = chunksFor(size, job.ChunkSize)
	job.Status = models.JobStatusInProgress
}

func (s *transferService) JobStatus(ctx context.Context, jobID string) (*models.ChunkJob, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	return s.getJob(ctx, jobID)
}

func (s *transferService) FetchChunk(ctx context.Context, jobID string, index int) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	unlock := s.lockJob(jobID)
	defer unlock()

	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Direction != models.JobDirectionDownload {
		return nil, ErrWrongDirection
	}
	if err := usable(job); err != nil {
		return nil, err
	}
	if job.Status == models.JobStatusPending {
		return nil, ErrJobNotReady
	}
	if index < 0 || index >= job.TotalChunks {
		return nil, fmt.Errorf("%w: %d из %d", ErrChunkIndexOutOfRange, index, job.TotalChunks)
	}

	offset := int64(index) * job.ChunkSize
	length := min(job.ChunkSize, job.TotalSize-offset)
	data, err := s.readAt(job.FilePath, offset, length)
	if err != nil {
		return nil, err
	}

	if !job.HasChunk(index) {
		job.DoneChunks = append(job.DoneChunks, index)
	}
	if job.Complete() {
		job.Status = models.JobStatusComplete
	}
	job.UpdatedAt = s.now()
	job.ExpiresAt = job.UpdatedAt.Add(s.cfg.JobTTL)
	if err := s.repo.SaveJob(ctx, job); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJobSave, err)
	}

	s.metrics.ChunksServed.Inc()
	s.metrics.ChunkBytes.WithLabelValues(string(job.Direction)).Add(float64(len(data)))
	return data, nil
}

// CancelJob stops serving the job and frees its file. Cancelling twice is
// not an error.
func (s *transferService) CancelJob(ctx context.Context, jobID string) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	unlock := s.lockJob(jobID)
	defer unlock()

	job, err := s.getJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status == models.JobStatusCancelled {
		return nil
	}

	if s.runner != nil {
		s.runner.Cancel(jobID)
	}
	if err := s.fs.Remove(job.FilePath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("не удалось удалить файл задачи", zap.String("job_id", jobID), zap.Error(err))
	}

	job.Status = models.JobStatusCancelled
	job.UpdatedAt = s.now()
	if err := s.repo.SaveJob(ctx, job); err != nil {
		return fmt.Errorf("%w: %v", ErrJobSave, err)
	}

	s.logger.Info("задача отменена", zap.String("job_id", jobID))
	return nil
}

func (s *transferService) SweepExpired(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%w: %v", ErrContextDone, ctx.Err())
	default:
	}

	jobs, err := s.repo.ListSweepableJobs(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrJobSave, err)
	}

	swept := 0
	var errs error
	for _, job := range jobs {
		unlock := s.lockJob(job.ID)
		if s.runner != nil {
			s.runner.Cancel(job.ID)
		}
		rmErr := s.fs.Remove(job.FilePath)
		if rmErr != nil && os.IsNotExist(rmErr) {
			rmErr = nil
		}
		err := multierr.Append(rmErr, s.repo.DeleteJob(ctx, job.ID))
		unlock()
		if err != nil && !errors.Is(err, infra.ErrNotFound) {
			errs = multierr.Append(errs, fmt.Errorf("задача %s: %w", job.ID, err))
			continue
		}
		s.locks.Delete(job.ID)
		swept++
	}

	if swept > 0 {
		s.metrics.JobsSwept.Add(float64(swept))
		s.logger.Info("просроченные задачи удалены", zap.Int("count", swept))
	}
	return swept, errs
}

func (s *transferService) newJob(dir models.JobDirection, ext string) *models.ChunkJob {
	now := s.now()
	id := uuid.New().String()
	return &models.ChunkJob{
		ID:         id,
		Direction:  dir,
		Status:     models.JobStatusPending,
		DoneChunks: []int{},
		FilePath:   filepath.Join(s.cfg.ChunksDir(), id+ext),
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(s.cfg.JobTTL),
	}
}

func (s *transferService) getJob(ctx context.Context, jobID string) (*models.ChunkJob, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if errors.Is(err, infra.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrJobSave, err)
	}
	return job, nil
}

func (s *transferService) lockJob(jobID string) func() {
	v, _ := s.locks.LoadOrStore(jobID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func usable(job *models.ChunkJob) error {
	switch job.Status {
	case models.JobStatusCancelled:
		return fmt.Errorf("%w: %s", ErrJobCancelled, job.ID)
	case models.JobStatusError:
		return fmt.Errorf("%w: %s", ErrJobFailed, job.Error)
	}
	return nil
}

func (s *transferService) clamp(size int64) int64 {
	return min(max(size, s.cfg.MinChunkSize), s.cfg.MaxChunkSize)
}

func (s *transferService) downloadChunkSize(total int64) int64 {
	size := s.cfg.DownloadChunkSize
	switch {
	case total >= 3*gib:
		size = s.cfg.ChunkTier3GB
	case total >= 2*gib:
		size = s.cfg.ChunkTier2GB
	case total >= gib:
		size = s.cfg.ChunkTier1GB
	}
	return s.clamp(size)
}

func chunksFor(total, chunkSize int64) int {
	return int((total + chunkSize - 1) / chunkSize)
}

func (s *transferService) createJobFile(path string) error {
	if err := s.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	f, err := s.fs.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// writeAt stores data at offset. The last chunk also cuts the file to its
// end, dropping the tail of an earlier, longer copy.
func (s *transferService) writeAt(path string, offset int64, data []byte, last bool) error {
	f, err := s.fs.OpenFile(path, os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	_, err = f.WriteAt(data, offset)
	if err == nil && last {
		err = f.Truncate(offset + int64(len(data)))
	}
	err = multierr.Append(err, f.Close())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func (s *transferService) readAt(path string, offset, length int64) ([]byte, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer f.Close()

	buf := make([]byte, length)
	n, err := f.ReadAt(buf, offset)
	if err != nil && !(errors.Is(err, io.EOF) && int64(n) == length) {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return buf, nil
}

func (s *transferService) copyFile(src, dst string) (int64, error) {
	in, err := s.fs.Open(src)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer in.Close()

	if err := s.fs.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	out, err := s.fs.Create(dst)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIO, err)
	}

	n, err := io.Copy(out, in)
	err = multierr.Append(err, out.Close())
	if err != nil {
		s.fs.Remove(dst)
		return 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return n, nil
}
