package archive

import (
	"bytes"
	"fmt"
	"io"
	"iter"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/sunr3d/site-mover/models"
)

// Legacy positional layout: a fixed header per file followed by its bytes,
// terminated by an all-zero header.
const (
	legacyNameSize   = 255
	legacySizeSize   = 14
	legacyMtimeSize  = 12
	legacyPathSize   = 4096
	LegacyHeaderSize = legacyNameSize + legacySizeSize + legacyMtimeSize + legacyPathSize
)

type Format int

const (
	FormatUnknown Format = iota
	FormatZip
	FormatLegacy
)

func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

type legacyEntry struct {
	name    string
	offset  int64
	size    int64
	modTime time.Time
}

// LegacyReader gives read-only access to archives in the old positional
// format. Only the header table is read on open; contents are read on demand.
type LegacyReader struct {
	file    afero.File
	entries []legacyEntry
	index   map[string]int
}

func OpenLegacy(fs afero.Fs, name string) (*LegacyReader, error) {
	f, err := fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	r := &LegacyReader{file: f, index: make(map[string]int)}
	if err := r.scan(); err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func (r *LegacyReader) scan() error {
	st, err := r.file.Stat()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	size := st.Size()

	header := make([]byte, LegacyHeaderSize)
	var offset int64
	for {
		n, err := r.file.ReadAt(header, offset)
		if n < LegacyHeaderSize {
			if err == nil || err == io.EOF {
				return fmt.Errorf("%w: нет маркера конца архива", ErrCorruptArchive)
			}
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		if isZero(header) {
			return nil
		}

		entry, err := parseLegacyHeader(header)
		if err != nil {
			return err
		}
		entry.offset = offset + LegacyHeaderSize
		if entry.offset+entry.size > size {
			return fmt.Errorf("%w: запись %s обрезана", ErrCorruptArchive, entry.name)
		}

		r.index[entry.name] = len(r.entries)
		r.entries = append(r.entries, entry)
		offset = entry.offset + entry.size
	}
}

func parseLegacyHeader(h []byte) (legacyEntry, error) {
	field := func(from, size int) string {
		return string(bytes.TrimRight(h[from:from+size], "\x00"))
	}

	name := field(0, legacyNameSize)
	sizeStr := field(legacyNameSize, legacySizeSize)
	mtimeStr := field(legacyNameSize+legacySizeSize, legacyMtimeSize)
	dir := field(legacyNameSize+legacySizeSize+legacyMtimeSize, legacyPathSize)

	size, err := strconv.ParseInt(strings.TrimSpace(sizeStr), 10, 64)
	if err != nil || size < 0 {
		return legacyEntry{}, fmt.Errorf("%w: некорректный размер %q", ErrCorruptArchive, sizeStr)
	}
	mtime, err := strconv.ParseInt(strings.TrimSpace(mtimeStr), 10, 64)
	if err != nil {
		return legacyEntry{}, fmt.Errorf("%w: некорректное время %q", ErrCorruptArchive, mtimeStr)
	}
	if name == "" {
		return legacyEntry{}, fmt.Errorf("%w: пустое имя файла", ErrCorruptArchive)
	}

	full := name
	if dir != "" && dir != "." {
		full = path.Join(strings.ReplaceAll(dir, "\\", "/"), name)
	}
	return legacyEntry{name: full, size: size, modTime: time.Unix(mtime, 0).UTC()}, nil
}

// FileEntries yields entries under the allowed content roots.
func (r *LegacyReader) FileEntries() iter.Seq[models.FileEntry] {
	return func(yield func(models.FileEntry) bool) {
		for _, e := range r.entries {
			name, root, sub, err := EntryName(e.name)
			if err != nil {
				continue
			}
			entry := models.FileEntry{Name: name, Root: root, RelPath: sub, Size: e.size, ModTime: e.modTime}
			if !yield(entry) {
				return
			}
		}
	}
}

// Names lists every stored path in archive order.
func (r *LegacyReader) Names() []string {
	names := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		names = append(names, e.name)
	}
	return names
}

func (r *LegacyReader) OpenFileEntry(entry models.FileEntry) (io.ReadCloser, error) {
	e, ok := r.lookup(entry.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, entry.Name)
	}
	return io.NopCloser(io.NewSectionReader(r.file, e.offset, e.size)), nil
}

func (r *LegacyReader) ExtractNamedFile(name string) ([]byte, error) {
	e, ok := r.lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}
	buf := make([]byte, e.size)
	if _, err := r.file.ReadAt(buf, e.offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return buf, nil
}

func (r *LegacyReader) Close() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func (r *LegacyReader) lookup(name string) (legacyEntry, bool) {
	candidates := []string{name, strings.TrimPrefix(name, contentPrefix)}
	for _, c := range candidates {
		if i, ok := r.index[c]; ok {
			return r.entries[i], true
		}
	}
	return legacyEntry{}, false
}

// WriteLegacyHeader encodes one positional header. Used to build fixtures and
// by conversion tooling; the package has no legacy writer.
func WriteLegacyHeader(w io.Writer, dir, name string, size int64, modTime time.Time) error {
	h := make([]byte, LegacyHeaderSize)
	copy(h[0:legacyNameSize], name)
	copy(h[legacyNameSize:], strconv.FormatInt(size, 10))
	copy(h[legacyNameSize+legacySizeSize:], strconv.FormatInt(modTime.Unix(), 10))
	copy(h[legacyNameSize+legacySizeSize+legacyMtimeSize:], dir)
	_, err := w.Write(h)
	return err
}

// Sniff reports which container format the file at name uses.
func Sniff(fs afero.Fs, name string) (Format, error) {
	f, err := fs.Open(name)
	if err != nil {
		return FormatUnknown, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer f.Close()

	header := make([]byte, LegacyHeaderSize)
	n, _ := io.ReadFull(f, header)
	if n >= len(zipMagic) && bytes.Equal(header[:len(zipMagic)], zipMagic) {
		return FormatZip, nil
	}
	if n == LegacyHeaderSize {
		if isZero(header) {
			return FormatLegacy, nil
		}
		if _, err := parseLegacyHeader(header); err == nil {
			return FormatLegacy, nil
		}
	}
	return FormatUnknown, nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
