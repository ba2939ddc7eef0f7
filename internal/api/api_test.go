package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sunr3d/site-mover/internal/config"
	"github.com/sunr3d/site-mover/internal/infra/inmem"
	"github.com/sunr3d/site-mover/internal/interfaces/infra"
	"github.com/sunr3d/site-mover/internal/interfaces/services"
	"github.com/sunr3d/site-mover/internal/memlimit"
	"github.com/sunr3d/site-mover/internal/metrics"
	"github.com/sunr3d/site-mover/internal/services/export_service"
	"github.com/sunr3d/site-mover/internal/services/history_service"
	"github.com/sunr3d/site-mover/internal/services/import_service"
	"github.com/sunr3d/site-mover/internal/services/snapshot_service"
	"github.com/sunr3d/site-mover/internal/services/transfer_service"
	"github.com/sunr3d/site-mover/internal/tasks"
	"github.com/sunr3d/site-mover/models"
)

const testChunkSize = 1024

type testEnv struct {
	api      *API
	mux      *http.ServeMux
	fs       afero.Fs
	store    infra.Store
	site     infra.SiteDatabase
	exporter services.ExportService
	runner   *tasks.Runner
	cfg      *config.Config
}

func testConfig() *config.Config {
	return &config.Config{
		HTTPTimeout:        30 * time.Second,
		DataDir:            "/data",
		SiteURL:            "http://example.com",
		HomeURL:            "http://example.com",
		UploadsDir:         "/site/uploads",
		UsersTable:         "users",
		UserEmailColumn:    "email",
		UserRoleColumn:     "role",
		UserStatusColumn:   "status",
		AdminRole:          "administrator",
		DisabledStatus:     "disabled",
		ActiveStatus:       "active",
		MinChunkSize:       testChunkSize,
		MaxChunkSize:       64 * testChunkSize,
		DownloadChunkSize:  testChunkSize,
		ChunkTier1GB:       testChunkSize,
		ChunkTier2GB:       testChunkSize,
		ChunkTier3GB:       testChunkSize,
		JobTTL:             2 * time.Hour,
		LockMaxAge:         time.Hour,
		MinImportMemory:    1 << 20,
		MaxImportMemory:    1 << 30,
		ReclaimEveryTables: 10,
		SnapshotRetention:  5,
	}
}

func setupTestAPI(t *testing.T) *testEnv {
	log := zaptest.NewLogger(t)
	cfg := testConfig()
	fs := afero.NewMemMapFs()
	m := metrics.New()

	store := inmem.New(log)
	site := inmem.NewSiteDatabase(log)
	require.NoError(t, site.ReplaceTable(context.Background(), "posts",
		[]string{"id", "title", "guid"},
		[]models.Row{
			{"id": "1", "title": "Hello", "guid": "http://example.com/?p=1"},
			{"id": "2", "title": "World", "guid": "http://example.com/?p=2"},
		}))

	runner := tasks.New(log)
	history := history_service.New(log, store)
	exporter := export_service.New(log, cfg, fs, site, history, m)
	snapshots := snapshot_service.New(log, cfg, fs, store, exporter)
	transfer := transfer_service.New(log, cfg, transfer_service.Deps{
		FS:        fs,
		Repo:      store,
		Exporter:  exporter,
		Snapshots: snapshots,
		Runner:    runner,
		Metrics:   m,
	})
	importer := import_service.New(log, cfg, import_service.Deps{
		FS:        fs,
		Site:      site,
		Locker:    store,
		History:   history,
		Snapshots: snapshots,
		Runner:    runner,
		Budget:    memlimit.New(log, cfg.MinImportMemory, cfg.MaxImportMemory),
		Metrics:   m,
	})
	snapshots.SetRestorer(importer)

	t.Cleanup(func() { runner.Shutdown(context.Background()) })

	api := New(Deps{
		FS:        fs,
		Transfer:  transfer,
		Importer:  importer,
		Exporter:  exporter,
		Snapshots: snapshots,
		History:   history,
		Metrics:   m.Handler(),
	}, log, cfg)

	mux := http.NewServeMux()
	api.Register(mux)

	return &testEnv{
		api:      api,
		mux:      mux,
		fs:       fs,
		store:    store,
		site:     site,
		exporter: exporter,
		runner:   runner,
		cfg:      cfg,
	}
}

func (env *testEnv) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func assertErrorKind(t *testing.T, w *httptest.ResponseRecorder, status int, kind string) {
	t.Helper()
	assert.Equal(t, status, w.Code, w.Body.String())
	resp := decode[errorResp](t, w)
	assert.Equal(t, kind, resp.Kind)
	assert.NotEmpty(t, resp.Error)
}

func exportBytes(t *testing.T, env *testEnv) []byte {
	t.Helper()
	res, err := env.exporter.Export(context.Background(), models.ExportOptions{})
	require.NoError(t, err)
	data, err := afero.ReadFile(env.fs, res.Path)
	require.NoError(t, err)
	return data
}

func uploadArchive(t *testing.T, env *testEnv, data []byte) string {
	t.Helper()
	sum := sha256.Sum256(data)
	total := (len(data) + testChunkSize - 1) / testChunkSize

	w := env.do(t, http.MethodPost, "/chunk/init", models.UploadInit{
		TotalChunks: total,
		TotalSize:   int64(len(data)),
		Checksum:    hex.EncodeToString(sum[:]),
		ChunkSize:   testChunkSize,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	initResp := decode[initUploadResp](t, w)
	require.NotEmpty(t, initResp.JobID)
	assert.Equal(t, int64(testChunkSize), initResp.ChunkSize)

	for i := total - 1; i >= 0; i-- {
		chunk := data[i*testChunkSize : min((i+1)*testChunkSize, len(data))]
		idx := i
		w := env.do(t, http.MethodPost, "/chunk/upload", uploadChunkReq{JobID: initResp.JobID, Index: &idx, Chunk: chunk})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}
	return initResp.JobID
}

func TestAPI_UploadAndImport(t *testing.T) {
	env := setupTestAPI(t)
	data := exportBytes(t, env)
	jobID := uploadArchive(t, env, data)

	w := env.do(t, http.MethodGet, "/chunk/status?job_id="+jobID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "complete", decode[jobStatusResp](t, w).Status)

	w = env.do(t, http.MethodPost, "/import", importReq{JobID: jobID})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	started := decode[startedResp](t, w)
	require.NotEmpty(t, started.HistoryID)

	env.runner.Wait()

	w = env.do(t, http.MethodGet, started.StatusURL, nil)
	require.Equal(t, http.StatusOK, w.Code)
	entry := decode[models.HistoryEntry](t, w)
	assert.Equal(t, models.HistoryStatusSuccess, entry.Status)
	assert.Equal(t, models.HistoryTypeImport, entry.Type)

	exists, err := afero.Exists(env.fs, "/data/imports/"+jobID+".wpbkp")
	require.NoError(t, err)
	assert.False(t, exists)

	w = env.do(t, http.MethodGet, "/chunk/status?job_id="+jobID, nil)
	assertErrorKind(t, w, http.StatusNotFound, "JobNotFound")
}

func TestAPI_Import_LockHeld(t *testing.T) {
	env := setupTestAPI(t)
	jobID := uploadArchive(t, env, exportBytes(t, env))
	require.NoError(t, env.store.Acquire(context.Background(), "full-import", time.Hour))

	w := env.do(t, http.MethodPost, "/import", importReq{JobID: jobID})
	assertErrorKind(t, w, http.StatusConflict, "LockHeld")

	exists, err := afero.Exists(env.fs, "/data/imports/"+jobID+".wpbkp")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestAPI_Import_UnknownJob(t *testing.T) {
	env := setupTestAPI(t)

	w := env.do(t, http.MethodPost, "/import", importReq{JobID: "missing"})
	assertErrorKind(t, w, http.StatusNotFound, "JobNotFound")
}

func TestAPI_UploadChunk_Validation(t *testing.T) {
	env := setupTestAPI(t)

	w := env.do(t, http.MethodPost, "/chunk/upload", uploadChunkReq{JobID: "x"})
	assertErrorKind(t, w, http.StatusBadRequest, kindValidation)

	w = env.do(t, http.MethodPost, "/chunk/init", models.UploadInit{TotalChunks: 1, Checksum: "nope"})
	assertErrorKind(t, w, http.StatusBadRequest, kindValidation)

	req := httptest.NewRequest(http.MethodPost, "/chunk/init", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.api.InitUpload(rec, req)
	assertErrorKind(t, rec, http.StatusBadRequest, kindValidation)
}

func TestAPI_InitUpload_NegotiatesChunkSize(t *testing.T) {
	env := setupTestAPI(t)
	maxChunk := int64(64 * testChunkSize)

	w := env.do(t, http.MethodPost, "/chunk/init", models.UploadInit{
		TotalChunks: 1,
		TotalSize:   2*maxChunk + 5,
		Checksum:    hex.EncodeToString(make([]byte, sha256.Size)),
		ChunkSize:   4 * maxChunk,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[initUploadResp](t, w)
	assert.Equal(t, maxChunk, resp.ChunkSize)
	assert.Equal(t, 3, resp.TotalChunks)

	w = env.do(t, http.MethodPost, "/chunk/init", models.UploadInit{
		TotalChunks: 1,
		Checksum:    hex.EncodeToString(make([]byte, sha256.Size)),
		ChunkSize:   4 * maxChunk,
	})
	assertErrorKind(t, w, http.StatusBadRequest, kindValidation)
}

func TestAPI_SnapshotDownload(t *testing.T) {
	env := setupTestAPI(t)

	w := env.do(t, http.MethodPost, "/snapshots", models.SnapshotOptions{Label: "ручной"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	snap := decode[models.Snapshot](t, w)
	want, err := afero.ReadFile(env.fs, snap.Path)
	require.NoError(t, err)

	w = env.do(t, http.MethodPost, "/chunk/download/init", models.DownloadRequest{SnapshotID: snap.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	job := decode[jobStatusResp](t, w)
	assert.Equal(t, "ready", job.Status)
	require.Positive(t, job.TotalChunks)

	var got []byte
	for i := 0; i < job.TotalChunks; i++ {
		w := env.do(t, http.MethodGet, "/chunk/download?job_id="+job.JobID+"&index="+strconv.Itoa(i), nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		chunk := decode[chunkResp](t, w)
		assert.Equal(t, i, chunk.Index)
		got = append(got, chunk.Chunk...)
	}
	assert.Equal(t, want, got)

	w = env.do(t, http.MethodGet, "/chunk/download?job_id="+job.JobID+"&index="+strconv.Itoa(job.TotalChunks), nil)
	assertErrorKind(t, w, http.StatusRequestedRangeNotSatisfiable, "ChunkIndexOutOfRange")

	w = env.do(t, http.MethodPost, "/chunk/cancel", cancelJobReq{JobID: job.JobID})
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/chunk/download?job_id="+job.JobID+"&index=0", nil)
	assertErrorKind(t, w, http.StatusGone, "JobCancelled")

	w = env.do(t, http.MethodGet, "/chunk/status?job_id="+job.JobID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", decode[jobStatusResp](t, w).Status)
}

func TestAPI_FetchChunk_MissingParams(t *testing.T) {
	env := setupTestAPI(t)

	w := env.do(t, http.MethodGet, "/chunk/download?index=0", nil)
	assertErrorKind(t, w, http.StatusBadRequest, kindValidation)

	w = env.do(t, http.MethodGet, "/chunk/download?job_id=x&index=abc", nil)
	assertErrorKind(t, w, http.StatusBadRequest, kindValidation)
}

func TestAPI_Snapshots(t *testing.T) {
	env := setupTestAPI(t)

	w := env.do(t, http.MethodGet, "/snapshots", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]models.Snapshot](t, w))

	w = env.do(t, http.MethodPost, "/snapshots", models.SnapshotOptions{Label: "a"})
	require.Equal(t, http.StatusCreated, w.Code)
	snap := decode[models.Snapshot](t, w)

	w = env.do(t, http.MethodGet, "/snapshots", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]models.Snapshot](t, w), 1)

	require.NoError(t, env.site.DropTable(context.Background(), "posts"))

	w = env.do(t, http.MethodPost, "/snapshots/restore", restoreSnapshotReq{SnapshotID: snap.ID})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	started := decode[startedResp](t, w)
	env.runner.Wait()

	w = env.do(t, http.MethodGet, "/history/status?history_id="+started.HistoryID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	entry := decode[models.HistoryEntry](t, w)
	assert.Equal(t, models.HistoryStatusSuccess, entry.Status)
	assert.Equal(t, models.HistoryTypeRollback, entry.Type)

	tables, err := env.site.Tables(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"posts"}, tables)

	w = env.do(t, http.MethodDelete, "/snapshots?snapshot_id="+snap.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodPost, "/snapshots/restore", restoreSnapshotReq{SnapshotID: snap.ID})
	assertErrorKind(t, w, http.StatusNotFound, "SnapshotNotFound")
}

func TestAPI_Export(t *testing.T) {
	env := setupTestAPI(t)

	w := env.do(t, http.MethodPost, "/export", models.ExportOptions{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[models.ExportResult](t, w)
	assert.NotEmpty(t, res.Path)
	assert.Positive(t, res.Size)

	exists, err := afero.Exists(env.fs, res.Path)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestAPI_History(t *testing.T) {
	env := setupTestAPI(t)
	exportBytes(t, env)

	w := env.do(t, http.MethodGet, "/history?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	entries := decode[[]models.HistoryEntry](t, w)
	require.Len(t, entries, 1)
	assert.Equal(t, models.HistoryTypeExport, entries[0].Type)

	w = env.do(t, http.MethodGet, "/history?limit=-1", nil)
	assertErrorKind(t, w, http.StatusBadRequest, kindValidation)

	w = env.do(t, http.MethodGet, "/history/status?history_id=nope", nil)
	assertErrorKind(t, w, http.StatusNotFound, "HistoryNotFound")
}

func TestAPI_Metrics(t *testing.T) {
	env := setupTestAPI(t)
	exportBytes(t, env)

	w := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sitemover_")
}
