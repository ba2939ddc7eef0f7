package serialized

import (
	"fmt"
	"strconv"
	"strings"
)

// LooksPHP is a cheap check for values worth handing to DecodePHP.
func LooksPHP(s string) bool {
	if s == "N;" {
		return true
	}
	if len(s) < 4 || s[1] != ':' {
		return false
	}
	switch s[0] {
	case 'b', 'i', 'd', 's', 'a', 'O', 'C', 'E':
	default:
		return false
	}
	last := s[len(s)-1]
	return last == ';' || last == '}'
}

// DecodePHP parses a complete PHP-serialized value. String lengths are byte
// counts.
func DecodePHP(s string) (Value, error) {
	p := &phpParser{s: s}
	v, err := p.value(0)
	if err != nil {
		return nil, err
	}
	if p.pos != len(s) {
		return nil, fmt.Errorf("%w: позиция %d", ErrTrailing, p.pos)
	}
	return v, nil
}

type phpParser struct {
	s   string
	pos int
}

func (p *phpParser) fail(what string) error {
	return fmt.Errorf("%w: %s, позиция %d", ErrSyntax, what, p.pos)
}

func (p *phpParser) expect(lit string) error {
	if !strings.HasPrefix(p.s[p.pos:], lit) {
		return p.fail("ожидалось " + strconv.Quote(lit))
	}
	p.pos += len(lit)
	return nil
}

// until returns the text up to the delimiter and moves past it.
func (p *phpParser) until(delim byte) (string, error) {
	i := strings.IndexByte(p.s[p.pos:], delim)
	if i < 0 {
		return "", p.fail("нет разделителя " + string(delim))
	}
	tok := p.s[p.pos : p.pos+i]
	p.pos += i + 1
	return tok, nil
}

func (p *phpParser) count(delim byte) (int, error) {
	tok, err := p.until(delim)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n < 0 {
		return 0, p.fail("некорректная длина " + strconv.Quote(tok))
	}
	return n, nil
}

func (p *phpParser) value(depth int) (Value, error) {
	if depth > maxDepth {
		return nil, ErrTooDeep
	}
	if p.pos+1 >= len(p.s) {
		return nil, p.fail("неожиданный конец")
	}

	switch p.s[p.pos] {
	case 'N':
		if err := p.expect("N;"); err != nil {
			return nil, err
		}
		return Null{}, nil
	case 'b':
		if err := p.expect("b:"); err != nil {
			return nil, err
		}
		tok, err := p.until(';')
		if err != nil {
			return nil, err
		}
		switch tok {
		case "0":
			return Bool(false), nil
		case "1":
			return Bool(true), nil
		}
		return nil, p.fail("некорректное логическое значение")
	case 'i':
		if err := p.expect("i:"); err != nil {
			return nil, err
		}
		tok, err := p.until(';')
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return nil, p.fail("некорректное целое " + strconv.Quote(tok))
		}
		return Int(n), nil
	case 'd':
		if err := p.expect("d:"); err != nil {
			return nil, err
		}
		tok, err := p.until(';')
		if err != nil {
			return nil, err
		}
		if !validFloat(tok) {
			return nil, p.fail("некорректное число " + strconv.Quote(tok))
		}
		return Number(tok), nil
	case 's':
		return p.str()
	case 'a':
		if err := p.expect("a:"); err != nil {
			return nil, err
		}
		n, err := p.count(':')
		if err != nil {
			return nil, err
		}
		pairs, err := p.pairs(n, depth)
		if err != nil {
			return nil, err
		}
		return Map(pairs), nil
	case 'O':
		if err := p.expect("O:"); err != nil {
			return nil, err
		}
		class, err := p.lenPrefixed()
		if err != nil {
			return nil, err
		}
		if err := p.expect(":"); err != nil {
			return nil, err
		}
		n, err := p.count(':')
		if err != nil {
			return nil, err
		}
		props, err := p.pairs(n, depth)
		if err != nil {
			return nil, err
		}
		return Object{Class: class, Props: props}, nil
	case 'r', 'R':
		start := p.pos
		p.pos += 2
		if p.s[start+1] != ':' {
			return nil, p.fail("некорректная ссылка")
		}
		if _, err := p.count(';'); err != nil {
			return nil, err
		}
		return Raw(p.s[start:p.pos]), nil
	case 'C':
		return p.custom()
	case 'E':
		start := p.pos
		if err := p.expect("E:"); err != nil {
			return nil, err
		}
		if _, err := p.lenPrefixed(); err != nil {
			return nil, err
		}
		if err := p.expect(";"); err != nil {
			return nil, err
		}
		return Raw(p.s[start:p.pos]), nil
	}
	return nil, p.fail("неизвестный тип " + strconv.Quote(p.s[p.pos:p.pos+1]))
}

// custom reads `C:<n>:"<class>":<m>:{<m bytes>}`. The payload format belongs
// to the class, so the whole token stays opaque.
func (p *phpParser) custom() (Value, error) {
	start := p.pos
	if err := p.expect("C:"); err != nil {
		return nil, err
	}
	if _, err := p.lenPrefixed(); err != nil {
		return nil, err
	}
	if err := p.expect(":"); err != nil {
		return nil, err
	}
	n, err := p.count(':')
	if err != nil {
		return nil, err
	}
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	if p.pos+n >= len(p.s) || p.s[p.pos+n] != '}' {
		return nil, p.fail("длина данных объекта не совпадает")
	}
	p.pos += n + 1
	return Raw(p.s[start:p.pos]), nil
}

func (p *phpParser) str() (Value, error) {
	if err := p.expect("s:"); err != nil {
		return nil, err
	}
	s, err := p.lenPrefixed()
	if err != nil {
		return nil, err
	}
	if err := p.expect(";"); err != nil {
		return nil, err
	}
	return String(s), nil
}

// lenPrefixed reads `<n>:"<n bytes>"`.
func (p *phpParser) lenPrefixed() (string, error) {
	n, err := p.count(':')
	if err != nil {
		return "", err
	}
	if err := p.expect(`"`); err != nil {
		return "", err
	}
	if p.pos+n+1 > len(p.s) || p.s[p.pos+n] != '"' {
		return "", p.fail("длина строки не совпадает")
	}
	s := p.s[p.pos : p.pos+n]
	p.pos += n + 1
	return s, nil
}

func (p *phpParser) pairs(n, depth int) ([]Pair, error) {
	if err := p.expect("{"); err != nil {
		return nil, err
	}
	pairs := make([]Pair, 0, min(n, 1024))
	for i := 0; i < n; i++ {
		if p.pos >= len(p.s) {
			return nil, p.fail("неожиданный конец")
		}
		var (
			key Value
			err error
		)
		switch p.s[p.pos] {
		case 'i', 's':
			key, err = p.value(depth + 1)
		default:
			err = p.fail("некорректный ключ")
		}
		if err != nil {
			return nil, err
		}
		val, err := p.value(depth + 1)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, Pair{Key: key, Value: val})
	}
	if err := p.expect("}"); err != nil {
		return nil, err
	}
	return pairs, nil
}

func validFloat(tok string) bool {
	switch tok {
	case "INF", "-INF", "NAN":
		return true
	}
	_, err := strconv.ParseFloat(tok, 64)
	return err == nil
}

// EncodePHP writes v in PHP serialize notation.
func EncodePHP(v Value) (string, error) {
	var b strings.Builder
	if err := encodePHP(&b, v); err != nil {
		return "", err
	}
	return b.String(), nil
}

func encodePHP(b *strings.Builder, v Value) error {
	switch t := v.(type) {
	case Null:
		b.WriteString("N;")
	case Bool:
		if t {
			b.WriteString("b:1;")
		} else {
			b.WriteString("b:0;")
		}
	case Int:
		fmt.Fprintf(b, "i:%d;", int64(t))
	case Number:
		fmt.Fprintf(b, "d:%s;", string(t))
	case String:
		fmt.Fprintf(b, "s:%d:\"%s\";", len(t), string(t))
	case List:
		fmt.Fprintf(b, "a:%d:{", len(t))
		for i, item := range t {
			fmt.Fprintf(b, "i:%d;", i)
			if err := encodePHP(b, item); err != nil {
				return err
			}
		}
		b.WriteByte('}')
	case Map:
		fmt.Fprintf(b, "a:%d:{", len(t))
		if err := encodePHPPairs(b, t); err != nil {
			return err
		}
		b.WriteByte('}')
	case Raw:
		b.WriteString(string(t))
	case Object:
		fmt.Fprintf(b, "O:%d:\"%s\":%d:{", len(t.Class), t.Class, len(t.Props))
		if err := encodePHPPairs(b, t.Props); err != nil {
			return err
		}
		b.WriteByte('}')
	default:
		return fmt.Errorf("%w: неподдерживаемый тип %T", ErrSyntax, v)
	}
	return nil
}

func encodePHPPairs(b *strings.Builder, pairs []Pair) error {
	for _, p := range pairs {
		if err := encodePHP(b, p.Key); err != nil {
			return err
		}
		if err := encodePHP(b, p.Value); err != nil {
			return err
		}
	}
	return nil
}
