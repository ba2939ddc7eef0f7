package rewrite

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/sunr3d/site-mover/internal/serialized"
	"github.com/sunr3d/site-mover/models"
)

func oldSite() Site {
	return Site{
		SiteURL: "http://old.example.com",
		HomeURL: "http://old.example.com",
		Paths:   map[string]string{"uploads": "/var/old/uploads"},
	}
}

func newSite() Site {
	return Site{
		SiteURL: "http://new.example.com",
		HomeURL: "http://new.example.com",
		Paths:   map[string]string{"uploads": "/var/new/uploads"},
	}
}

func setupTestRewriter(t *testing.T, from, to Site, opts ...Option) *Rewriter {
	opts = append(opts, WithLogger(zaptest.NewLogger(t)))
	r, err := New(from, to, opts...)
	require.NoError(t, err)
	return r
}

func TestRewriter_SameSiteIsNoop(t *testing.T) {
	r := setupTestRewriter(t, oldSite(), oldSite())
	assert.True(t, r.Noop())
	assert.Empty(t, r.Replacements())

	table := models.TableDump{
		Name: "posts",
		Rows: []models.Row{
			{"a": "http://old.example.com/x", "b": json.Number("1"), "c": nil},
			{"a": `a:1:{i:0;s:22:"http://old.example.com";}`},
		},
	}
	before := []models.Row{
		{"a": "http://old.example.com/x", "b": json.Number("1"), "c": nil},
		{"a": `a:1:{i:0;s:22:"http://old.example.com";}`},
	}

	assert.Equal(t, 0, r.RewriteTable(&table))
	assert.Equal(t, before, table.Rows)
}

func TestRewriter_SameURLsDifferentPaths(t *testing.T) {
	to := oldSite()
	to.Paths = map[string]string{"uploads": "/srv/uploads"}
	r := setupTestRewriter(t, oldSite(), to)

	assert.False(t, r.Noop())
	assert.Equal(t, "http://old.example.com/x at /srv/uploads/a.jpg", r.RewriteString("http://old.example.com/x at /var/old/uploads/a.jpg"))
}

func TestRewriter_PlainText(t *testing.T) {
	r := setupTestRewriter(t, oldSite(), newSite())

	cases := map[string]string{
		"see http://old.example.com/page":       "see http://new.example.com/page",
		"see https://old.example.com/page":      "see http://new.example.com/page",
		"see http://old.example.com:80/page":    "see http://new.example.com/page",
		"see https://old.example.com:443/page":  "see http://new.example.com/page",
		"img //old.example.com/a.png":           "img //new.example.com/a.png",
		"file /var/old/uploads/2024/a.jpg":      "file /var/new/uploads/2024/a.jpg",
		`{"u":"http:\/\/old.example.com\/page"`: `{"u":"http:\/\/new.example.com\/page"`,
		"nothing to see":                        "nothing to see",
	}
	for in, want := range cases {
		assert.Equal(t, want, r.RewriteString(in), in)
	}
}

func TestRewriter_SpecificityOrdering(t *testing.T) {
	r := setupTestRewriter(t,
		Site{SiteURL: "http://a.com:8080", HomeURL: "http://a.com"},
		Site{SiteURL: "https://b.com", HomeURL: "https://c.com"},
	)

	assert.Equal(t, "go https://b.com/path", r.RewriteString("go http://a.com:8080/path"))
	assert.Equal(t, "go https://c.com/path", r.RewriteString("go http://a.com/path"))

	pairs := r.Replacements()
	for i := 1; i < len(pairs); i++ {
		assert.GreaterOrEqual(t, len(pairs[i-1].From), len(pairs[i].From))
	}
}

func TestRewriter_NonStandardPortTarget(t *testing.T) {
	r := setupTestRewriter(t,
		Site{SiteURL: "http://old.test"},
		Site{SiteURL: "https://new.test:8443/"},
	)

	assert.Equal(t, "https://new.test:8443/x", r.RewriteString("http://old.test/x"))
}

func TestRewriter_ExplicitStandardPortDropped(t *testing.T) {
	r := setupTestRewriter(t,
		Site{SiteURL: "http://old.test"},
		Site{SiteURL: "https://new.test:443"},
	)

	assert.Equal(t, "https://new.test/x", r.RewriteString("http://old.test:80/x"))
}

func TestRewriter_NestedAtThreeDepths(t *testing.T) {
	r := setupTestRewriter(t, oldSite(), newSite())

	in := `a:2:{s:3:"url";s:27:"http://old.example.com/page";s:5:"inner";a:2:{s:1:"x";s:27:"http://old.example.com/page";s:4:"deep";a:1:{i:0;s:27:"http://old.example.com/page";}}}`
	out := r.RewriteString(in)

	v, err := serialized.DecodePHP(out)
	require.NoError(t, err)

	want := `a:2:{s:3:"url";s:27:"http://new.example.com/page";s:5:"inner";a:2:{s:1:"x";s:27:"http://new.example.com/page";s:4:"deep";a:1:{i:0;s:27:"http://new.example.com/page";}}}`
	assert.Equal(t, want, out)

	m := v.(serialized.Map)
	require.Len(t, m, 2)
	assert.Equal(t, serialized.String("url"), m[0].Key)
}

func TestRewriter_LengthChangeKeepsEncodingValid(t *testing.T) {
	r := setupTestRewriter(t,
		Site{SiteURL: "http://a.io"},
		Site{SiteURL: "https://much-longer-domain.example.org"},
	)

	out := r.RewriteString(`a:1:{s:4:"link";s:14:"http://a.io/p1";}`)
	assert.Equal(t, `a:1:{s:4:"link";s:41:"https://much-longer-domain.example.org/p1";}`, out)

	_, err := serialized.DecodePHP(out)
	assert.NoError(t, err)
}

func TestRewriter_DoubleSerialized(t *testing.T) {
	r := setupTestRewriter(t, oldSite(), newSite())

	inner := `a:1:{i:0;s:22:"http://old.example.com";}`
	outer := `a:1:{s:1:"v";s:40:"` + inner + `";}`
	got := r.RewriteString(outer)

	assert.Equal(t, `a:1:{s:1:"v";s:40:"a:1:{i:0;s:22:"http://new.example.com";}";}`, got)
}

func TestRewriter_SignatureBoundaries(t *testing.T) {
	r := setupTestRewriter(t, oldSite(), newSite())

	cases := map[string]string{
		"/var/old/uploads2/x":               "/var/old/uploads2/x",
		"/var/old/uploads-backup/x":         "/var/old/uploads-backup/x",
		"/var/old/uploads":                  "/var/new/uploads",
		"/var/old/uploads/2024/a.jpg":       "/var/new/uploads/2024/a.jpg",
		"http://old.example.com.evil.org/x": "http://old.example.com.evil.org/x",
		"http://old.example.community":      "http://old.example.community",
		"visit http://old.example.com.":     "visit http://new.example.com.",
		`<a href="http://old.example.com">`: `<a href="http://new.example.com">`,
		"http://old.example.com?p=1":        "http://new.example.com?p=1",
		"http://old.example.com:8080/x":     "http://new.example.com:8080/x",
		"(http://old.example.com)":          "(http://new.example.com)",
	}
	for in, want := range cases {
		assert.Equal(t, want, r.RewriteString(in), in)
	}
}

func TestRewriter_JSONValue(t *testing.T) {
	r := setupTestRewriter(t, oldSite(), newSite())

	got := r.RewriteString(`{"logo":"http://old.example.com/logo.png","n":3,"list":["/var/old/uploads/a.jpg",true]}`)
	assert.Equal(t, `{"logo":"http://new.example.com/logo.png","n":3,"list":["/var/new/uploads/a.jpg",true]}`, got)
}

func TestRewriter_JSONValueKeepsSpacing(t *testing.T) {
	r := setupTestRewriter(t, oldSite(), newSite())

	got := r.RewriteString(`{"a": 1.0, "u": "http://old.example.com/page"}`)
	assert.Equal(t, `{"a": 1.0, "u": "http://new.example.com/page"}`, got)
}

func TestRewriter_BrokenSerializedFallsBackToSubstring(t *testing.T) {
	r := setupTestRewriter(t, oldSite(), newSite())

	in := `a:1:{s:3:"url";s:99:"http://old.example.com";}`
	assert.Equal(t, `a:1:{s:3:"url";s:99:"http://new.example.com";}`, r.RewriteString(in))
}

func TestRewriter_UnchangedSerializedKeepsBytes(t *testing.T) {
	r := setupTestRewriter(t, oldSite(), newSite())

	in := `a:1:{s:22:"http://old.example.com";s:1:"x";}`
	assert.Equal(t, in, r.RewriteString(in))
}

func TestRewriter_NonStringsUntouched(t *testing.T) {
	r := setupTestRewriter(t, oldSite(), newSite())

	table := models.TableDump{Rows: []models.Row{{
		"id":    json.Number("10"),
		"flag":  true,
		"empty": nil,
		"text":  "http://old.example.com",
	}}}

	assert.Equal(t, 1, r.RewriteTable(&table))
	assert.Equal(t, json.Number("10"), table.Rows[0]["id"])
	assert.Equal(t, true, table.Rows[0]["flag"])
	assert.Nil(t, table.Rows[0]["empty"])
	assert.Equal(t, "http://new.example.com", table.Rows[0]["text"])
}

func TestRewriter_ReclaimEveryN(t *testing.T) {
	calls := 0
	r := setupTestRewriter(t, oldSite(), newSite(),
		WithReclaimEvery(2),
		WithReclaimFunc(func() { calls++ }),
	)

	for i := 0; i < 5; i++ {
		r.RewriteTable(&models.TableDump{})
	}
	assert.Equal(t, 2, calls)
}

func TestRewriter_Stream(t *testing.T) {
	r := setupTestRewriter(t, oldSite(), newSite())

	source := func(fn func(models.TableDump) error) error {
		for _, name := range []string{"a", "b"} {
			if err := fn(models.TableDump{Name: name, Rows: []models.Row{{"v": "http://old.example.com"}}}); err != nil {
				return err
			}
		}
		return nil
	}

	var got []models.TableDump
	err := r.Stream(context.Background(), source, func(t models.TableDump) error {
		got = append(got, t)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "http://new.example.com", got[1].Rows[0]["v"])
}

func TestNew_InvalidURL(t *testing.T) {
	_, err := New(Site{SiteURL: "http://"}, newSite())
	assert.ErrorIs(t, err, ErrInvalidURL)
}
