package archive

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const legacyPath = "/data/old.wpress"

type legacyFile struct {
	dir, name, body string
}

func buildLegacy(t *testing.T, files []legacyFile, terminate bool) []byte {
	t.Helper()

	var buf bytes.Buffer
	mtime := time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC)
	for _, f := range files {
		require.NoError(t, WriteLegacyHeader(&buf, f.dir, f.name, int64(len(f.body)), mtime))
		buf.WriteString(f.body)
	}
	if terminate {
		buf.Write(make([]byte, LegacyHeaderSize))
	}
	return buf.Bytes()
}

func TestLegacyReader_Entries(t *testing.T) {
	fs := afero.NewMemMapFs()
	data := buildLegacy(t, []legacyFile{
		{".", "database.sql", "CREATE TABLE x;"},
		{"uploads/2020/06", "cat.jpg", "meow"},
		{"themes/twenty", "style.css", "body{}"},
	}, true)
	require.NoError(t, afero.WriteFile(fs, legacyPath, data, 0644))

	format, err := Sniff(fs, legacyPath)
	require.NoError(t, err)
	assert.Equal(t, FormatLegacy, format)

	r, err := OpenLegacy(fs, legacyPath)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []string{"database.sql", "uploads/2020/06/cat.jpg", "themes/twenty/style.css"}, r.Names())

	var entries []string
	for e := range r.FileEntries() {
		entries = append(entries, e.Name)
		assert.Equal(t, time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC), e.ModTime)
	}
	assert.Equal(t, []string{"wp-content/uploads/2020/06/cat.jpg", "wp-content/themes/twenty/style.css"}, entries)

	body, err := r.ExtractNamedFile("wp-content/uploads/2020/06/cat.jpg")
	require.NoError(t, err)
	assert.Equal(t, "meow", string(body))

	dump, err := r.ExtractNamedFile("database.sql")
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE x;", string(dump))

	_, err = r.ExtractNamedFile("nope.txt")
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestLegacyReader_MissingEndMarker(t *testing.T) {
	fs := afero.NewMemMapFs()
	data := buildLegacy(t, []legacyFile{{"uploads", "a.txt", "abc"}}, false)
	require.NoError(t, afero.WriteFile(fs, legacyPath, data, 0644))

	_, err := OpenLegacy(fs, legacyPath)
	assert.ErrorIs(t, err, ErrCorruptArchive)
}

func TestLegacyReader_TruncatedContent(t *testing.T) {
	fs := afero.NewMemMapFs()
	data := buildLegacy(t, []legacyFile{{"uploads", "a.txt", "abcdef"}}, false)
	require.NoError(t, afero.WriteFile(fs, legacyPath, data[:len(data)-3], 0644))

	_, err := OpenLegacy(fs, legacyPath)
	assert.ErrorIs(t, err, ErrCorruptArchive)
}

func TestSniff_Zip(t *testing.T) {
	fs := afero.NewMemMapFs()
	writeTestArchive(t, fs, nil)

	format, err := Sniff(fs, testArchive)
	require.NoError(t, err)
	assert.Equal(t, FormatZip, format)
}

func TestSniff_Unknown(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, legacyPath, []byte("hello"), 0644))

	format, err := Sniff(fs, legacyPath)
	require.NoError(t, err)
	assert.Equal(t, FormatUnknown, format)
}
