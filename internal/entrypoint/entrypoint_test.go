package entrypoint

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sunr3d/site-mover/internal/config"
	"github.com/sunr3d/site-mover/internal/infra/redislock"
	"github.com/sunr3d/site-mover/models"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		HTTPTimeout:        30 * time.Second,
		DataDir:            filepath.Join(dir, "data"),
		StoreBackend:       "sqlite",
		StoreDSN:           filepath.Join(dir, "data", "sitemover.db"),
		SiteDSN:            filepath.Join(dir, "data", "site.db"),
		SiteURL:            "http://example.com",
		HomeURL:            "http://example.com",
		UploadsDir:         filepath.Join(dir, "site", "uploads"),
		PluginsDir:         filepath.Join(dir, "site", "plugins"),
		ThemesDir:          filepath.Join(dir, "site", "themes"),
		UsersTable:         "users",
		UserEmailColumn:    "email",
		UserRoleColumn:     "role",
		UserStatusColumn:   "status",
		AdminRole:          "administrator",
		DisabledStatus:     "disabled",
		ActiveStatus:       "active",
		MinChunkSize:       1 << 20,
		MaxChunkSize:       10 << 20,
		DownloadChunkSize:  5 << 20,
		JobTTL:             2 * time.Hour,
		LockMaxAge:         time.Hour,
		HistoryStaleAfter:  6 * time.Hour,
		MinImportMemory:    1 << 20,
		MaxImportMemory:    1 << 30,
		SnapshotRetention:  5,
		ReclaimEveryTables: 10,
		SweepSchedule:      "@every 1h",
		LockBackend:        "store",
	}
}

func setupTestApp(t *testing.T, cfg *config.Config) *App {
	app, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, app.Close(context.Background()))
	})
	return app
}

func TestNew_SQLiteStore(t *testing.T) {
	app := setupTestApp(t, testConfig(t))
	ctx := context.Background()

	require.NoError(t, app.Site.ReplaceTable(ctx, "posts", []string{"id"}, []models.Row{{"id": "1"}}))

	req := httptest.NewRequest(http.MethodPost, "/export", strings.NewReader(`{"include_uploads": false}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	app.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	entries, err := app.History.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.HistoryStatusSuccess, entries[0].Status)

	report, err := app.Sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Jobs)
}

func TestNew_MemoryStoreRedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.StoreBackend = "memory"
	cfg.LockBackend = "redis"
	cfg.RedisAddress = mr.Addr()

	app := setupTestApp(t, cfg)
	ctx := context.Background()

	require.NoError(t, app.Locker.Acquire(ctx, "full-import", time.Hour))
	assert.True(t, mr.Exists("sitemover:lock:full-import"))

	w := httptest.NewRecorder()
	app.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/snapshots", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestNew_RedisUnavailable(t *testing.T) {
	cfg := testConfig(t)
	cfg.LockBackend = "redis"
	cfg.RedisAddress = ""

	app, err := New(context.Background(), cfg, zaptest.NewLogger(t))
	assert.ErrorIs(t, err, redislock.ErrEmptyAddress)
	assert.Nil(t, app)
}

func TestApp_Handler_RejectsNonJSON(t *testing.T) {
	app := setupTestApp(t, testConfig(t))

	req := httptest.NewRequest(http.MethodPost, "/chunk/init", strings.NewReader("total_chunks=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	app.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}
