package models

import "time"

type Snapshot struct {
	ID             string            `json:"id"`
	Label          string            `json:"label,omitempty"`
	Path           string            `json:"path"`
	Size           int64             `json:"size"`
	IncludeUploads bool              `json:"include_uploads"`
	IncludePlugins bool              `json:"include_plugins"`
	IncludeThemes  bool              `json:"include_themes"`
	Meta           map[string]string `json:"meta,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

type SnapshotOptions struct {
	Label          string            `json:"label,omitempty"`
	IncludeUploads bool              `json:"include_uploads"`
	IncludePlugins bool              `json:"include_plugins"`
	IncludeThemes  bool              `json:"include_themes"`
	Meta           map[string]string `json:"meta,omitempty"`
}
