package serialized

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// LooksJSON reports whether s is shaped like a JSON object or array.
func LooksJSON(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return false
	}
	return (s[0] == '{' && s[len(s)-1] == '}') || (s[0] == '[' && s[len(s)-1] == ']')
}

// RewriteJSON applies fn to every string value of the JSON document s and
// splices changed values back into the original text. Keys, numbers and
// whitespace keep their bytes. A changed value keeps the \/ notation of the
// string it replaces.
func RewriteJSON(s string, fn func(string) string) (string, bool, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	sp := &jsonSplicer{src: s, fn: fn}
	if err := sp.value(dec, 0); err != nil {
		return "", false, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return "", false, ErrTrailing
	}
	if len(sp.edits) == 0 {
		return s, false, nil
	}

	var b strings.Builder
	last := 0
	for _, e := range sp.edits {
		b.WriteString(s[last:e.start])
		b.WriteString(e.text)
		last = e.end
	}
	b.WriteString(s[last:])
	return b.String(), true, nil
}

type jsonEdit struct {
	start, end int
	text       string
}

type jsonSplicer struct {
	src   string
	fn    func(string) string
	edits []jsonEdit
}

func (sp *jsonSplicer) value(dec *json.Decoder, depth int) error {
	if depth > maxDepth {
		return ErrTooDeep
	}
	from := int(dec.InputOffset())
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSyntax, err)
	}

	switch t := tok.(type) {
	case nil, bool, json.Number:
		return nil
	case string:
		return sp.replace(from, int(dec.InputOffset()), t)
	case json.Delim:
		switch t {
		case '[':
			for dec.More() {
				if err := sp.value(dec, depth+1); err != nil {
					return err
				}
			}
		case '{':
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return fmt.Errorf("%w: %v", ErrSyntax, err)
				}
				if _, ok := kt.(string); !ok {
					return fmt.Errorf("%w: ключ не строка", ErrSyntax)
				}
				if err := sp.value(dec, depth+1); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("%w: неожиданный токен %v", ErrSyntax, t)
		}
		if _, err := dec.Token(); err != nil {
			return fmt.Errorf("%w: %v", ErrSyntax, err)
		}
		return nil
	}
	return fmt.Errorf("%w: неожиданный токен %v", ErrSyntax, tok)
}

// replace handles the string token ending at end. Only separators and
// whitespace lie between from and its opening quote.
func (sp *jsonSplicer) replace(from, end int, v string) error {
	out := sp.fn(v)
	if out == v {
		return nil
	}
	start := from + strings.IndexByte(sp.src[from:end], '"')
	escapeSlashes := strings.Contains(sp.src[start:end], `\/`)

	var b bytes.Buffer
	if err := encodeJSONString(&b, out, escapeSlashes); err != nil {
		return err
	}
	sp.edits = append(sp.edits, jsonEdit{start: start, end: end, text: b.String()})
	return nil
}

func encodeJSONString(b *bytes.Buffer, s string, escapeSlashes bool) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	out := bytes.TrimRight(tmp.Bytes(), "\n")
	if escapeSlashes {
		out = bytes.ReplaceAll(out, []byte("/"), []byte(`\/`))
	}
	b.Write(out)
	return nil
}
