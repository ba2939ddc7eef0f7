package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sunr3d/site-mover/internal/infra/sitedb"
	"github.com/sunr3d/site-mover/models"
)

func setupTestEnv(t *testing.T) string {
	dir := t.TempDir()
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("STORE_BACKEND", "sqlite")
	t.Setenv("STORE_DSN", filepath.Join(dir, "data", "sitemover.db"))
	t.Setenv("SITE_DSN", filepath.Join(dir, "data", "site.db"))
	t.Setenv("UPLOADS_DIR", filepath.Join(dir, "site", "uploads"))
	t.Setenv("PLUGINS_DIR", filepath.Join(dir, "site", "plugins"))
	t.Setenv("THEMES_DIR", filepath.Join(dir, "site", "themes"))
	t.Setenv("SITE_URL", "http://example.com")
	t.Setenv("LOCK_BACKEND", "store")
	t.Setenv("LOG_LEVEL", "error")

	site, err := sitedb.Open(context.Background(), zaptest.NewLogger(t), filepath.Join(dir, "data", "site.db"))
	require.NoError(t, err)
	require.NoError(t, site.ReplaceTable(context.Background(), "posts",
		[]string{"id", "title"},
		[]models.Row{{"id": int64(1), "title": "Hello"}, {"id": int64(2), "title": "World"}}))
	require.NoError(t, site.Close())
	return dir
}

func run(t *testing.T, args ...string) ([]byte, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.Bytes(), err
}

func TestCLI_SnapshotLifecycle(t *testing.T) {
	setupTestEnv(t)

	out, err := run(t, "snapshot", "create", "--label", "перед обновлением")
	require.NoError(t, err)
	var snap models.Snapshot
	require.NoError(t, json.Unmarshal(out, &snap))
	assert.Equal(t, "перед обновлением", snap.Label)
	assert.False(t, snap.IncludeUploads)

	out, err = run(t, "snapshot", "list")
	require.NoError(t, err)
	var snaps []models.Snapshot
	require.NoError(t, json.Unmarshal(out, &snaps))
	require.Len(t, snaps, 1)
	assert.Equal(t, snap.ID, snaps[0].ID)

	_, err = run(t, "snapshot", "restore", snap.ID)
	require.NoError(t, err)

	_, err = run(t, "snapshot", "delete", snap.ID)
	require.NoError(t, err)

	out, err = run(t, "snapshot", "list")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, string(out))
}

func TestCLI_ExportImport(t *testing.T) {
	dir := setupTestEnv(t)
	archive := filepath.Join(dir, "site.wpbkp")

	out, err := run(t, "export", "--out", archive)
	require.NoError(t, err)
	var exported models.ExportResult
	require.NoError(t, json.Unmarshal(out, &exported))
	assert.Equal(t, archive, exported.Path)

	out, err = run(t, "import", archive, "--no-snapshot", "--delete-archive")
	require.NoError(t, err)
	var res models.ImportResult
	require.NoError(t, json.Unmarshal(out, &res))
	assert.Equal(t, models.ImportStateFinalized, res.State)
	assert.Equal(t, 1, res.Tables)
	assert.Equal(t, 2, res.Rows)
	assert.Empty(t, res.SnapshotID)

	_, err = os.Stat(archive)
	assert.True(t, os.IsNotExist(err))
}

func TestCLI_ImportMissingArchive(t *testing.T) {
	dir := setupTestEnv(t)

	_, err := run(t, "import", filepath.Join(dir, "nope.wpbkp"))
	assert.Error(t, err)
}

func TestCLI_Sweep(t *testing.T) {
	setupTestEnv(t)

	out, err := run(t, "sweep")
	require.NoError(t, err)
	assert.JSONEq(t, `{"jobs": 0, "history": 0, "snapshots": 0}`, string(out))
}

func TestCLI_ExplicitEnvFileMissing(t *testing.T) {
	dir := setupTestEnv(t)

	_, err := run(t, "--env-file", filepath.Join(dir, "missing.env"), "sweep")
	assert.ErrorContains(t, err, "missing.env")
}

func TestLoadPlan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
admin@example.com:
  import: true
  mode: keep
editor@example.com:
  import: true
  mode: replace
spam@example.com:
  import: false
`), 0o644))

	plan, err := loadPlan(path)
	require.NoError(t, err)
	assert.Equal(t, models.MergePlan{
		"admin@example.com":  {Import: true, Mode: models.MergeModeKeep},
		"editor@example.com": {Import: true, Mode: models.MergeModeReplace},
		"spam@example.com":   {Import: false},
	}, plan)
}

func TestLoadPlan_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- не карта\n"), 0o644))

	_, err := loadPlan(path)
	assert.Error(t, err)
}
