package archive

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"strings"

	"github.com/spf13/afero"

	"github.com/sunr3d/site-mover/internal/memlimit"
	"github.com/sunr3d/site-mover/models"
)

const (
	maxManifestSize = 1 << 20
	maxChecksumSize = 1 << 10
)

var zipMagic = []byte("PK\x03\x04")

type ReaderOption func(*Reader)

// WithMemoryBudget scopes payload decoding to a memory budget. The budget's
// ceiling is also the maximum accepted payload size.
func WithMemoryBudget(b *memlimit.Budget) ReaderOption {
	return func(r *Reader) {
		r.budget = b
		if b != nil {
			r.maxPayload = b.Ceiling()
		}
	}
}

func WithMaxPayloadSize(n int64) ReaderOption {
	return func(r *Reader) { r.maxPayload = n }
}

type Reader struct {
	file       afero.File
	zr         *zip.Reader
	index      map[string]*zip.File
	manifest   models.Manifest
	budget     *memlimit.Budget
	maxPayload int64
	unsafe     []string
}

// Open validates the container and its manifest. A file without a central
// directory, e.g. one whose writer never finalized, is reported as
// ErrCorruptArchive.
func Open(fs afero.Fs, path string, opts ...ReaderOption) (*Reader, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	r, err := newReader(f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

func newReader(f afero.File, opts ...ReaderOption) (*Reader, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}

	head := make([]byte, len(zipMagic))
	if n, _ := f.ReadAt(head, 0); n < len(head) || !bytes.Equal(head, zipMagic) {
		return nil, fmt.Errorf("%w: %w", ErrCorruptArchive, ErrUnknownFormat)
	}

	zr, err := zip.NewReader(f, st.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}

	r := &Reader{
		file:  f,
		zr:    zr,
		index: make(map[string]*zip.File, len(zr.File)),
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, zf := range zr.File {
		r.index[zf.Name] = zf
	}

	if err := r.loadManifest(); err != nil {
		return nil, err
	}
	if _, ok := r.index[PayloadEntry]; !ok {
		return nil, fmt.Errorf("%w: нет записи %s", ErrCorruptArchive, PayloadEntry)
	}
	return r, nil
}

func (r *Reader) loadManifest() error {
	zf, ok := r.index[ManifestEntry]
	if !ok {
		return fmt.Errorf("%w: нет манифеста", ErrCorruptArchive)
	}
	data, err := readEntry(zf, maxManifestSize)
	if err != nil {
		return fmt.Errorf("%w: манифест: %v", ErrCorruptArchive, err)
	}

	var m models.Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("%w: манифест: %v", ErrCorruptArchive, err)
	}
	if m.FormatVersion < 1 || m.FormatVersion > CurrentFormatVersion {
		return fmt.Errorf("%w: версия формата %d не поддерживается", ErrCorruptArchive, m.FormatVersion)
	}
	if m.ProducerVersion == "" {
		m.ProducerVersion = m.PluginVersion
	}
	if m.Type != "" && !m.Type.Valid() {
		return fmt.Errorf("%w: неизвестный тип %q", ErrCorruptArchive, m.Type)
	}

	r.manifest = m
	return nil
}

func (r *Reader) Manifest() models.Manifest {
	return r.manifest
}

// Type returns the manifest type, falling back to the payload shape for
// archives produced before the type field existed.
func (r *Reader) Type() (models.ArchiveType, error) {
	if r.manifest.Type.Valid() {
		return r.manifest.Type, nil
	}
	return r.sniffPayloadType()
}

func (r *Reader) PayloadSize() int64 {
	return int64(r.index[PayloadEntry].UncompressedSize64)
}

// Info reads the site URLs and paths without decoding the tables.
func (r *Reader) Info(ctx context.Context) (models.PayloadInfo, error) {
	rc, err := r.index[PayloadEntry].Open()
	if err != nil {
		return models.PayloadInfo{}, fmt.Errorf("%w: %v", ErrPayloadCorrupted, err)
	}
	defer rc.Close()

	dec := json.NewDecoder(rc)
	dec.UseNumber()
	return decodeInfo(ctx, dec)
}

// VerifyPayload checks the payload checksum and structure without keeping
// rows in memory.
func (r *Reader) VerifyPayload(ctx context.Context) (models.PayloadStats, error) {
	if err := r.checkPayloadSize(); err != nil {
		return models.PayloadStats{}, err
	}

	typ, err := r.Type()
	if err != nil {
		return models.PayloadStats{}, err
	}

	rc, hasher, err := r.openPayload()
	if err != nil {
		return models.PayloadStats{}, err
	}
	defer rc.Close()

	var stats models.PayloadStats
	switch typ {
	case models.ArchiveTypeFullSite:
		dec := json.NewDecoder(rc)
		dec.UseNumber()
		_, stats, err = decodeFullPayload(ctx, dec, false, nil)
		if err != nil {
			return stats, err
		}
		if err := expectEOF(dec); err != nil {
			return stats, err
		}
	case models.ArchiveTypeSelectedContent:
		data, err := io.ReadAll(rc)
		if err != nil {
			return stats, fmt.Errorf("%w: %v", ErrPayloadCorrupted, err)
		}
		if _, err := models.ParseContentDocument(data); err != nil {
			return stats, fmt.Errorf("%w: %v", ErrPayloadCorrupted, err)
		}
	}

	stats.Bytes = r.PayloadSize()
	if err := r.verifySum(rc, hasher); err != nil {
		return stats, err
	}
	return stats, nil
}

// StreamTables decodes the full-site payload one table at a time.
func (r *Reader) StreamTables(ctx context.Context, fn func(models.TableDump) error) (models.PayloadInfo, error) {
	if err := r.checkPayloadSize(); err != nil {
		return models.PayloadInfo{}, err
	}
	if r.budget != nil {
		release, err := r.budget.Reserve(r.PayloadSize())
		if err != nil {
			return models.PayloadInfo{}, fmt.Errorf("%w: %v", ErrPayloadTooLarge, err)
		}
		defer release()
	}

	rc, hasher, err := r.openPayload()
	if err != nil {
		return models.PayloadInfo{}, err
	}
	defer rc.Close()

	dec := json.NewDecoder(rc)
	dec.UseNumber()
	info, _, err := decodeFullPayload(ctx, dec, true, fn)
	if err != nil {
		return info, err
	}
	if err := expectEOF(dec); err != nil {
		return info, err
	}
	if err := r.verifySum(rc, hasher); err != nil {
		return info, err
	}
	return info, nil
}

// StreamPayload decodes the whole full-site payload into memory.
func (r *Reader) StreamPayload(ctx context.Context) (*models.Payload, error) {
	payload := &models.Payload{}
	info, err := r.StreamTables(ctx, func(t models.TableDump) error {
		payload.Tables = append(payload.Tables, t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	payload.PayloadInfo = info
	return payload, nil
}

// ContentDocument decodes a selected-content payload.
func (r *Reader) ContentDocument(ctx context.Context) (models.ContentDocument, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if err := r.checkPayloadSize(); err != nil {
		return nil, err
	}

	data, err := readEntry(r.index[PayloadEntry], r.limit())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadCorrupted, err)
	}
	doc, err := models.ParseContentDocument(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadCorrupted, err)
	}
	return doc, nil
}

// FileEntries yields the content file entries in archive order. Entries whose
// path is outside the allowed roots are not yielded; see UnsafeEntries.
func (r *Reader) FileEntries() iter.Seq[models.FileEntry] {
	return func(yield func(models.FileEntry) bool) {
		r.unsafe = r.unsafe[:0]
		for _, zf := range r.zr.File {
			if !strings.HasPrefix(zf.Name, contentPrefix) || zf.FileInfo().IsDir() {
				continue
			}
			name, root, sub, err := EntryName(zf.Name)
			if err != nil || name != zf.Name {
				r.unsafe = append(r.unsafe, zf.Name)
				continue
			}
			entry := models.FileEntry{
				Name:    name,
				Root:    root,
				RelPath: sub,
				Size:    int64(zf.UncompressedSize64),
				ModTime: zf.Modified,
			}
			if !yield(entry) {
				return
			}
		}
	}
}

// UnsafeEntries lists entries skipped by the last FileEntries pass.
func (r *Reader) UnsafeEntries() []string {
	return append([]string(nil), r.unsafe...)
}

func (r *Reader) OpenFileEntry(entry models.FileEntry) (io.ReadCloser, error) {
	zf, ok := r.index[entry.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, entry.Name)
	}
	rc, err := zf.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	return rc, nil
}

// ExtractNamedFile returns one entry by name without walking the archive.
// Content paths may be given with or without the wp-content/ prefix.
func (r *Reader) ExtractNamedFile(name string) ([]byte, error) {
	zf, ok := r.index[name]
	if !ok {
		if full, _, _, err := EntryName(name); err == nil {
			zf, ok = r.index[full]
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, name)
	}

	data, err := readEntry(zf, -1)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}
	return data, nil
}

func (r *Reader) Close() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

func (r *Reader) checkPayloadSize() error {
	if r.maxPayload > 0 && r.PayloadSize() > r.maxPayload {
		return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, r.PayloadSize(), r.maxPayload)
	}
	return nil
}

func (r *Reader) limit() int64 {
	if r.maxPayload > 0 {
		return r.maxPayload
	}
	return -1
}

type hashedReadCloser struct {
	io.Reader
	closer io.Closer
}

func (h *hashedReadCloser) Close() error { return h.closer.Close() }

func (r *Reader) openPayload() (io.ReadCloser, *sumCheck, error) {
	rc, err := r.index[PayloadEntry].Open()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrPayloadCorrupted, err)
	}
	sum := &sumCheck{h: sha256.New()}
	return &hashedReadCloser{Reader: io.TeeReader(rc, sum.h), closer: rc}, sum, nil
}

func (r *Reader) verifySum(rc io.Reader, sum *sumCheck) error {
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("%w: %v", ErrPayloadCorrupted, err)
	}

	zf, ok := r.index[ChecksumEntry]
	if !ok {
		if r.manifest.FormatVersion < CurrentFormatVersion {
			return nil
		}
		return fmt.Errorf("%w: нет контрольной суммы", ErrPayloadCorrupted)
	}
	want, err := readEntry(zf, maxChecksumSize)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPayloadCorrupted, err)
	}
	got := hex.EncodeToString(sum.h.Sum(nil))
	if !strings.EqualFold(strings.TrimSpace(string(want)), got) {
		return fmt.Errorf("%w: контрольная сумма не совпадает", ErrPayloadCorrupted)
	}
	return nil
}

func (r *Reader) sniffPayloadType() (models.ArchiveType, error) {
	rc, err := r.index[PayloadEntry].Open()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPayloadCorrupted, err)
	}
	defer rc.Close()

	dec := json.NewDecoder(rc)
	keys, err := topLevelKeys(dec, "database", "type")
	if err != nil {
		return "", err
	}
	switch {
	case keys["database"]:
		return models.ArchiveTypeFullSite, nil
	case keys["type"]:
		return models.ArchiveTypeSelectedContent, nil
	}
	return "", fmt.Errorf("%w: не удалось определить тип архива", ErrCorruptArchive)
}

func readEntry(zf *zip.File, limit int64) ([]byte, error) {
	if limit >= 0 && int64(zf.UncompressedSize64) > limit {
		return nil, fmt.Errorf("запись %s слишком большая", zf.Name)
	}
	rc, err := zf.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		if errors.Is(err, zip.ErrChecksum) {
			return nil, fmt.Errorf("%w: %s", ErrPayloadCorrupted, zf.Name)
		}
		return nil, err
	}
	return data, nil
}
