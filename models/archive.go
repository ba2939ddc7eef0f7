package models

import (
	"iter"
	"time"
)

type ArchiveType string

const (
	ArchiveTypeFullSite        ArchiveType = "full-site"
	ArchiveTypeSelectedContent ArchiveType = "selected-content"
)

func (t ArchiveType) Valid() bool {
	return t == ArchiveTypeFullSite || t == ArchiveTypeSelectedContent
}

type Manifest struct {
	FormatVersion   int         `json:"format_version"`
	ProducerVersion string      `json:"producer_version"`
	PluginVersion   string      `json:"plugin_version,omitempty"`
	Type            ArchiveType `json:"type,omitempty"`
	CreatedAtGMT    time.Time   `json:"created_at_gmt"`
}

// Row is one database row keyed by column name. Numbers read back from an
// archive are json.Number.
type Row map[string]any

type TableDump struct {
	Name    string   `json:"-"`
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// TableStream is a lazily produced table used when writing an export.
type TableStream struct {
	Name    string
	Columns []string
	Rows    iter.Seq2[Row, error]
}

type PayloadInfo struct {
	SiteURL string            `json:"site_url"`
	HomeURL string            `json:"home_url"`
	Paths   map[string]string `json:"paths"`
}

type Payload struct {
	PayloadInfo
	Tables []TableDump
}

type PayloadStats struct {
	Tables int   `json:"tables"`
	Rows   int   `json:"rows"`
	Bytes  int64 `json:"bytes"`
}

type FileEntry struct {
	Name    string    `json:"name"`
	Root    string    `json:"root"`
	RelPath string    `json:"rel_path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}
