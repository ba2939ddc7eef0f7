package sqlite

var schema = []string{
	`CREATE TABLE IF NOT EXISTS chunk_jobs (
		id           TEXT PRIMARY KEY,
		direction    TEXT    NOT NULL,
		status       TEXT    NOT NULL,
		total_size   INTEGER NOT NULL DEFAULT 0,
		chunk_size   INTEGER NOT NULL DEFAULT 0,
		total_chunks INTEGER NOT NULL DEFAULT 0,
		done_chunks  TEXT    NOT NULL DEFAULT '[]',
		checksum     TEXT    NOT NULL DEFAULT '',
		file_path    TEXT    NOT NULL DEFAULT '',
		error        TEXT    NOT NULL DEFAULT '',
		created_at   INTEGER NOT NULL,
		updated_at   INTEGER NOT NULL,
		expires_at   INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_chunk_jobs_expires_at ON chunk_jobs (expires_at)`,
	`CREATE TABLE IF NOT EXISTS history (
		id          TEXT PRIMARY KEY,
		type        TEXT    NOT NULL,
		status      TEXT    NOT NULL,
		progress    INTEGER NOT NULL DEFAULT 0,
		message     TEXT    NOT NULL DEFAULT '',
		context     TEXT    NOT NULL DEFAULT '{}',
		started_at  INTEGER NOT NULL,
		finished_at INTEGER
	)`,
	`CREATE INDEX IF NOT EXISTS idx_history_started_at ON history (started_at)`,
	`CREATE TABLE IF NOT EXISTS locks (
		name       TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS snapshots (
		id              TEXT PRIMARY KEY,
		label           TEXT    NOT NULL DEFAULT '',
		path            TEXT    NOT NULL,
		size            INTEGER NOT NULL DEFAULT 0,
		include_uploads INTEGER NOT NULL DEFAULT 0,
		include_plugins INTEGER NOT NULL DEFAULT 0,
		include_themes  INTEGER NOT NULL DEFAULT 0,
		meta            TEXT    NOT NULL DEFAULT '{}',
		created_at      INTEGER NOT NULL
	)`,
}
