package models

import "time"

type HistoryType string

const (
	HistoryTypeExport   HistoryType = "export"
	HistoryTypeImport   HistoryType = "import"
	HistoryTypeSnapshot HistoryType = "snapshot"
	HistoryTypeRollback HistoryType = "rollback"
)

type HistoryStatus string

const (
	HistoryStatusRunning   HistoryStatus = "running"
	HistoryStatusSuccess   HistoryStatus = "success"
	HistoryStatusError     HistoryStatus = "error"
	HistoryStatusCancelled HistoryStatus = "cancelled"
)

type HistoryEntry struct {
	ID         string         `json:"id"`
	Type       HistoryType    `json:"type"`
	Status     HistoryStatus  `json:"status"`
	Progress   int            `json:"progress"`
	Message    string         `json:"message,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

func (h *HistoryEntry) Running() bool {
	return h.Status == HistoryStatusRunning
}
