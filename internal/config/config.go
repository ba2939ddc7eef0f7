package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	HTTPPort    string        `envconfig:"HTTP_PORT" default:"8080"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"60s"`
	LogLevel    string        `envconfig:"LOG_LEVEL" default:"info"`

	DataDir      string `envconfig:"DATA_DIR" default:"./data"`
	StoreBackend string `envconfig:"STORE_BACKEND" default:"sqlite"`
	StoreDSN     string `envconfig:"STORE_DSN" default:"./data/sitemover.db"`
	SiteDSN      string `envconfig:"SITE_DSN" default:"./data/site.db"`

	SiteURL    string `envconfig:"SITE_URL" default:"http://localhost"`
	HomeURL    string `envconfig:"HOME_URL"`
	UploadsDir string `envconfig:"UPLOADS_DIR" default:"./site/wp-content/uploads"`
	PluginsDir string `envconfig:"PLUGINS_DIR" default:"./site/wp-content/plugins"`
	ThemesDir  string `envconfig:"THEMES_DIR" default:"./site/wp-content/themes"`

	UsersTable       string `envconfig:"USERS_TABLE" default:"users"`
	UserEmailColumn  string `envconfig:"USER_EMAIL_COLUMN" default:"email"`
	UserRoleColumn   string `envconfig:"USER_ROLE_COLUMN" default:"role"`
	UserStatusColumn string `envconfig:"USER_STATUS_COLUMN" default:"status"`
	AdminRole        string `envconfig:"ADMIN_ROLE" default:"administrator"`
	DisabledStatus   string `envconfig:"DISABLED_STATUS" default:"disabled"`
	ActiveStatus     string `envconfig:"ACTIVE_STATUS" default:"active"`

	MinChunkSize      int64 `envconfig:"MIN_CHUNK_SIZE" default:"1048576"`
	MaxChunkSize      int64 `envconfig:"MAX_CHUNK_SIZE" default:"10485760"`
	DownloadChunkSize int64 `envconfig:"DOWNLOAD_CHUNK_SIZE" default:"5242880"`
	ChunkTier1GB      int64 `envconfig:"CHUNK_TIER_1GB" default:"4194304"`
	ChunkTier2GB      int64 `envconfig:"CHUNK_TIER_2GB" default:"3145728"`
	ChunkTier3GB      int64 `envconfig:"CHUNK_TIER_3GB" default:"2097152"`

	JobTTL            time.Duration `envconfig:"JOB_TTL" default:"2h"`
	LockMaxAge        time.Duration `envconfig:"LOCK_MAX_AGE" default:"1h"`
	HistoryStaleAfter time.Duration `envconfig:"HISTORY_STALE_AFTER" default:"6h"`

	MinImportMemory int64 `envconfig:"MIN_IMPORT_MEMORY" default:"268435456"`
	MaxImportMemory int64 `envconfig:"MAX_IMPORT_MEMORY" default:"2147483648"`

	SnapshotRetention      int  `envconfig:"SNAPSHOT_RETENTION" default:"5"`
	SnapshotIncludeUploads bool `envconfig:"SNAPSHOT_INCLUDE_UPLOADS" default:"false"`

	ReclaimEveryTables int    `envconfig:"RECLAIM_EVERY_TABLES" default:"10"`
	SweepSchedule      string `envconfig:"SWEEP_SCHEDULE" default:"@every 1m"`

	LockBackend   string `envconfig:"LOCK_BACKEND" default:"store"`
	RedisAddress  string `envconfig:"REDIS_ADDRESS" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("не удалось прочитать конфигурацию: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.MinChunkSize <= 0 || c.MaxChunkSize < c.MinChunkSize {
		return fmt.Errorf("некорректные границы размера чанка: %d..%d", c.MinChunkSize, c.MaxChunkSize)
	}
	if c.MaxImportMemory < c.MinImportMemory {
		return fmt.Errorf("MAX_IMPORT_MEMORY меньше MIN_IMPORT_MEMORY")
	}
	switch c.StoreBackend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("неизвестный STORE_BACKEND: %s", c.StoreBackend)
	}
	switch c.LockBackend {
	case "store", "redis":
	default:
		return fmt.Errorf("неизвестный LOCK_BACKEND: %s", c.LockBackend)
	}
	if c.HomeURL == "" {
		c.HomeURL = c.SiteURL
	}
	return nil
}

func (c *Config) ExportsDir() string   { return filepath.Join(c.DataDir, "exports") }
func (c *Config) SnapshotsDir() string { return filepath.Join(c.DataDir, "snapshots") }
func (c *Config) ChunksDir() string    { return filepath.Join(c.DataDir, "chunks") }
func (c *Config) ImportsDir() string   { return filepath.Join(c.DataDir, "imports") }

// ContentRoots maps archive roots to local directories.
func (c *Config) ContentRoots() map[string]string {
	return map[string]string{
		"uploads": c.UploadsDir,
		"plugins": c.PluginsDir,
		"themes":  c.ThemesDir,
	}
}
