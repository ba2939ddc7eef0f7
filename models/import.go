package models

type ImportState string

const (
	ImportStateReceivedArchive  ImportState = "received_archive"
	ImportStateTypeDetected     ImportState = "type_detected"
	ImportStateSnapshotTaken    ImportState = "snapshot_taken"
	ImportStateDomainsRewritten ImportState = "domains_rewritten"
	ImportStateDatabaseApplied  ImportState = "database_applied"
	ImportStateFilesExtracted   ImportState = "files_extracted"
	ImportStateUserMergeApplied ImportState = "user_merge_applied"
	ImportStateFinalized        ImportState = "finalized"
	ImportStateFailed           ImportState = "failed"
	ImportStateRolledBack       ImportState = "rolled_back"
	ImportStateRollbackFailed   ImportState = "rollback_failed"
)

type ImportRequest struct {
	ArchivePath   string    `json:"archive_path"`
	MergePlan     MergePlan `json:"merge_plan,omitempty"`
	ActingUser    string    `json:"acting_user,omitempty"`
	SkipSnapshot  bool      `json:"skip_snapshot,omitempty"`
	DeleteArchive bool      `json:"delete_archive,omitempty"`
}

type ImportResult struct {
	HistoryID  string       `json:"history_id"`
	Type       ArchiveType  `json:"type"`
	State      ImportState  `json:"state"`
	SnapshotID string       `json:"snapshot_id,omitempty"`
	Tables     int          `json:"tables"`
	Rows       int          `json:"rows"`
	Files      int          `json:"files"`
	Items      int          `json:"items,omitempty"`
	Dropped    []string     `json:"dropped_tables,omitempty"`
	Users      *MergeCounts `json:"users,omitempty"`
}

type ExportOptions struct {
	IncludeUploads bool `json:"include_uploads"`
	IncludePlugins bool `json:"include_plugins"`
	IncludeThemes  bool `json:"include_themes"`
	// TargetPath overrides the generated archive location.
	TargetPath string `json:"-"`
	// HistoryType records the run under another operation, such as a
	// snapshot. Empty means export.
	HistoryType HistoryType `json:"-"`
}

type ExportResult struct {
	HistoryID string       `json:"history_id,omitempty"`
	Path      string       `json:"path"`
	Size      int64        `json:"size"`
	Stats     PayloadStats `json:"stats"`
	Files     int          `json:"files"`
}
