package archive

import (
	"archive/zip"
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"io"
	"iter"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/multierr"

	"github.com/sunr3d/site-mover/models"
)

const copyBufferSize = 64 * 1024

type WriterOption func(*Writer)

// WithStagingDir sets where per-table staging files are created.
func WithStagingDir(dir string) WriterOption {
	return func(w *Writer) { w.stagingDir = dir }
}

func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.now = now }
}

// Writer produces an archive. The manifest goes first, then the payload and
// file entries in any order, then Finalize.
type Writer struct {
	fs         afero.Fs
	path       string
	stagingDir string
	now        func() time.Time

	file afero.File
	zw   *zip.Writer
	buf  []byte

	manifestWritten bool
	payloadWritten  bool
	closed          bool
	stats           models.PayloadStats
}

// Create truncates or creates the archive at path.
func Create(fs afero.Fs, path string, opts ...WriterOption) (*Writer, error) {
	w := &Writer{
		fs:         fs,
		path:       path,
		stagingDir: filepath.Dir(path),
		now:        time.Now,
		buf:        make([]byte, copyBufferSize),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	w.file = f
	w.zw = zip.NewWriter(f)
	return w, nil
}

func (w *Writer) Path() string {
	return w.path
}

func (w *Writer) Stats() models.PayloadStats {
	return w.stats
}

func (w *Writer) WriteManifest(m models.Manifest) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	if w.manifestWritten {
		return ErrManifestWritten
	}
	if !m.Type.Valid() {
		return fmt.Errorf("%w: тип %q", ErrInvalidManifest, m.Type)
	}
	if m.FormatVersion == 0 {
		m.FormatVersion = CurrentFormatVersion
	}
	if m.ProducerVersion == "" {
		m.ProducerVersion = ProducerVersion
	}
	if m.CreatedAtGMT.IsZero() {
		m.CreatedAtGMT = w.now()
	}
	m.CreatedAtGMT = m.CreatedAtGMT.UTC().Truncate(time.Second)

	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := w.writeEntry(ManifestEntry, data); err != nil {
		return err
	}

	w.manifestWritten = true
	return nil
}

// WriteDatabaseExport writes a full-site payload. Each table is serialized to
// a staging file first, so at most one table's encoded rows exist outside the
// archive at a time.
func (w *Writer) WriteDatabaseExport(ctx context.Context, info models.PayloadInfo, tables iter.Seq2[models.TableStream, error]) error {
	if err := w.beginPayload(); err != nil {
		return err
	}

	hasher := sha256.New()
	entry, err := w.zw.CreateHeader(&zip.FileHeader{
		Name:     PayloadEntry,
		Method:   zip.Deflate,
		Modified: w.now(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	out := bufio.NewWriterSize(io.MultiWriter(entry, hasher), copyBufferSize)
	counter := &countingWriter{w: out}

	if err := writePayloadHead(counter, info); err != nil {
		return err
	}

	first := true
	for table, err := range tables {
		if err != nil {
			return fmt.Errorf("%w: %v", ErrIO, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !first {
			if _, err := counter.Write([]byte{','}); err != nil {
				return fmt.Errorf("%w: %v", ErrIO, err)
			}
		}
		first = false

		if err := w.writeTable(counter, table); err != nil {
			return err
		}
	}

	if _, err := counter.Write([]byte("}}}")); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := out.Flush(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	w.stats.Bytes = counter.n

	return w.finishPayload(hasher)
}

// WriteContentDocument writes a selected-content payload.
func (w *Writer) WriteContentDocument(doc models.ContentDocument) error {
	if err := w.beginPayload(); err != nil {
		return err
	}

	data, err := models.MarshalContentDocument(doc)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	hasher := sha256.New()
	hasher.Write(data)
	if err := w.writeEntry(PayloadEntry, data); err != nil {
		return err
	}
	w.stats.Bytes = int64(len(data))

	return w.finishPayload(hasher)
}

// AddFileEntry copies src into the archive under an allow-listed root.
func (w *Writer) AddFileEntry(rel string, src io.Reader, modTime time.Time) error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	if !w.manifestWritten {
		return ErrManifestMissing
	}

	name, _, _, err := EntryName(rel)
	if err != nil {
		return err
	}
	if modTime.IsZero() {
		modTime = w.now()
	}

	entry, err := w.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modTime,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if _, err := io.CopyBuffer(entry, src, w.buf); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// Finalize writes the central directory. The writer is unusable afterwards.
func (w *Writer) Finalize() error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	if !w.manifestWritten {
		return ErrManifestMissing
	}
	if !w.payloadWritten {
		return ErrPayloadMissing
	}

	w.closed = true
	err := multierr.Append(w.zw.Close(), w.file.Close())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// Abort closes the writer without a central directory and removes the file.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	err := multierr.Append(w.file.Close(), w.fs.Remove(w.path))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func (w *Writer) writeTable(out io.Writer, table models.TableStream) error {
	staging, err := afero.TempFile(w.fs, w.stagingDir, "table-*.json")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	stagingPath := staging.Name()
	defer w.fs.Remove(stagingPath)

	rows, err := stageTable(staging, table)
	if err != nil {
		staging.Close()
		return err
	}
	if _, err := staging.Seek(0, io.SeekStart); err != nil {
		staging.Close()
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	key, _ := json.Marshal(table.Name)
	if _, err := out.Write(append(key, ':')); err != nil {
		staging.Close()
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	_, err = io.CopyBuffer(out, staging, w.buf)
	err = multierr.Append(err, staging.Close())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	w.stats.Tables++
	w.stats.Rows += rows
	return nil
}

func stageTable(f io.Writer, table models.TableStream) (int, error) {
	bw := bufio.NewWriterSize(f, copyBufferSize)

	cols := table.Columns
	if cols == nil {
		cols = []string{}
	}
	colsJSON, err := json.Marshal(cols)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	bw.WriteString(`{"columns":`)
	bw.Write(colsJSON)
	bw.WriteString(`,"rows":[`)

	n := 0
	if table.Rows != nil {
		for row, err := range table.Rows {
			if err != nil {
				return n, fmt.Errorf("%w: таблица %s: %v", ErrIO, table.Name, err)
			}
			data, err := json.Marshal(row)
			if err != nil {
				return n, fmt.Errorf("%w: таблица %s: %v", ErrIO, table.Name, err)
			}
			if n > 0 {
				bw.WriteByte(',')
			}
			bw.Write(data)
			n++
		}
	}
	bw.WriteString("]}")

	if err := bw.Flush(); err != nil {
		return n, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return n, nil
}

func writePayloadHead(out io.Writer, info models.PayloadInfo) error {
	paths := info.Paths
	if paths == nil {
		paths = map[string]string{}
	}
	site, _ := json.Marshal(info.SiteURL)
	home, _ := json.Marshal(info.HomeURL)
	pathsJSON, err := json.Marshal(paths)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	head := fmt.Sprintf(`{"site_url":%s,"home_url":%s,"paths":%s,"database":{"tables":{`, site, home, pathsJSON)
	if _, err := io.WriteString(out, head); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func (w *Writer) beginPayload() error {
	if err := w.checkOpen(); err != nil {
		return err
	}
	if !w.manifestWritten {
		return ErrManifestMissing
	}
	if w.payloadWritten {
		return ErrPayloadWritten
	}
	w.payloadWritten = true
	return nil
}

func (w *Writer) finishPayload(h hash.Hash) error {
	sum := hex.EncodeToString(h.Sum(nil))
	return w.writeEntry(ChecksumEntry, []byte(sum))
}

func (w *Writer) writeEntry(name string, data []byte) error {
	entry, err := w.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: w.now(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if _, err := entry.Write(data); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func (w *Writer) checkOpen() error {
	if w.closed {
		return ErrWriterClosed
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
