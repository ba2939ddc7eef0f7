package serialized

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func upper(s string) string { return strings.ToUpper(s) }

func TestDecodePHP_EncodeIsIdentity(t *testing.T) {
	inputs := []string{
		`N;`,
		`b:1;`,
		`i:-42;`,
		`d:0.5;`,
		`s:12:"Привет";`,
		`a:0:{}`,
		`a:2:{i:0;s:1:"a";s:3:"key";a:1:{i:0;b:0;}}`,
		`O:8:"stdClass":2:{s:4:"name";s:3:"bob";s:3:"age";i:30;}`,
		`s:5:"a";b;";`,
	}
	for _, in := range inputs {
		v, err := DecodePHP(in)
		require.NoError(t, err, in)
		out, err := EncodePHP(v)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestDecodePHP_Errors(t *testing.T) {
	inputs := []string{
		`s:10:"short";`,
		`a:2:{i:0;s:1:"a";}`,
		`i:abc;`,
		`b:2;`,
		`i:1;extra`,
		`x:1;`,
		`a:1:{a:0:{}i:1;}`,
	}
	for _, in := range inputs {
		_, err := DecodePHP(in)
		assert.Error(t, err, in)
	}
}

func TestLooksPHP(t *testing.T) {
	assert.True(t, LooksPHP(`a:1:{i:0;s:1:"x";}`))
	assert.True(t, LooksPHP(`s:1:"x";`))
	assert.True(t, LooksPHP(`N;`))
	assert.False(t, LooksPHP(`hello`))
	assert.False(t, LooksPHP(`{"a":1}`))
}

func TestMapStrings_RecomputesLengths(t *testing.T) {
	v, err := DecodePHP(`a:2:{s:3:"url";s:10:"http://a.b";s:1:"n";i:5;}`)
	require.NoError(t, err)

	nv, changed := MapStrings(v, func(s string) string {
		return strings.ReplaceAll(s, "http://a.b", "https://example.org")
	})
	require.True(t, changed)

	out, err := EncodePHP(nv)
	require.NoError(t, err)
	assert.Equal(t, `a:2:{s:3:"url";s:19:"https://example.org";s:1:"n";i:5;}`, out)
}

func TestMapStrings_Unchanged(t *testing.T) {
	v, err := DecodePHP(`a:1:{s:1:"k";s:1:"v";}`)
	require.NoError(t, err)

	_, changed := MapStrings(v, func(s string) string { return s })
	assert.False(t, changed)
}

func TestMapStrings_KeysUntouched(t *testing.T) {
	v, err := DecodePHP(`O:3:"Foo":1:{s:3:"bar";s:3:"baz";}`)
	require.NoError(t, err)

	nv, changed := MapStrings(v, upper)
	require.True(t, changed)
	out, err := EncodePHP(nv)
	require.NoError(t, err)
	assert.Equal(t, `O:3:"Foo":1:{s:3:"bar";s:3:"BAZ";}`, out)
}

func TestDecodePHP_ReferencesStayOpaque(t *testing.T) {
	in := `a:4:{s:3:"url";s:15:"http://old.test";s:4:"same";R:2;s:4:"link";r:2;` +
		`s:3:"obj";C:11:"ArrayObject":21:{x:i:0;a:0:{};m:a:0:{}}}`
	v, err := DecodePHP(in)
	require.NoError(t, err)

	nv, changed := MapStrings(v, func(s string) string {
		return strings.ReplaceAll(s, "http://old.test", "https://new.test")
	})
	require.True(t, changed)
	out, err := EncodePHP(nv)
	require.NoError(t, err)
	assert.Equal(t, `a:4:{s:3:"url";s:16:"https://new.test";s:4:"same";R:2;s:4:"link";r:2;`+
		`s:3:"obj";C:11:"ArrayObject":21:{x:i:0;a:0:{};m:a:0:{}}}`, out)
}

func TestDecodePHP_EnumAndBrokenCustom(t *testing.T) {
	v, err := DecodePHP(`a:1:{i:0;E:11:"Suit:Hearts";}`)
	require.NoError(t, err)
	assert.Equal(t, Map{{Key: Int(0), Value: Raw(`E:11:"Suit:Hearts";`)}}, v)

	_, err = DecodePHP(`C:11:"ArrayObject":99:{x:i:0;}`)
	assert.ErrorIs(t, err, ErrSyntax)

	_, err = DecodePHP(`a:1:{i:0;r:x;}`)
	assert.ErrorIs(t, err, ErrSyntax)
}

func TestRewriteJSON_KeepsLayout(t *testing.T) {
	in := "{\"a\": 1.0, \"u\": \"http://old.example.com/page\",\n  \"list\": [ \"x\", null, true ]}"
	out, changed, err := RewriteJSON(in, func(s string) string {
		return strings.ReplaceAll(s, "old.example.com", "new.example.com")
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, strings.Replace(in, "old.example.com", "new.example.com", 1), out)
}

func TestRewriteJSON_KeysUntouched(t *testing.T) {
	in := `{"http://old.test": "http://old.test", "nested": {"k": ["http://old.test/a"]}}`
	out, changed, err := RewriteJSON(in, func(s string) string {
		return strings.ReplaceAll(s, "http://old.test", "https://new.test")
	})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, `{"http://old.test": "https://new.test", "nested": {"k": ["https://new.test/a"]}}`, out)
}

func TestRewriteJSON_NoChange(t *testing.T) {
	in := `{"z":1,"a":[true,null,"x"],"m":{"k":1.50}}`
	out, changed, err := RewriteJSON(in, func(s string) string { return s })
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, in, out)
}

func TestRewriteJSON_EscapedSlashesKept(t *testing.T) {
	in := `{"url":"http:\/\/old.test\/a","plain":"http://old.test/b"}`
	out, changed, err := RewriteJSON(in, func(s string) string {
		return strings.ReplaceAll(s, "http://old.test", "https://new.test")
	})
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, `{"url":"https:\/\/new.test\/a","plain":"https://new.test/b"}`, out)
}

func TestRewriteJSON_Errors(t *testing.T) {
	for _, in := range []string{`{"a":}`, `[1,2`, `{"a":1} x`} {
		_, _, err := RewriteJSON(in, func(s string) string { return s })
		assert.Error(t, err, in)
	}
}

func TestLooksJSON(t *testing.T) {
	assert.True(t, LooksJSON(` {"a":1} `))
	assert.True(t, LooksJSON(`[1]`))
	assert.False(t, LooksJSON(`{broken`))
	assert.False(t, LooksJSON(`plain`))
}
