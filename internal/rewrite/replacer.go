package rewrite

import "strings"

// replacer substitutes signatures left to right, longest first. A signature
// that does not end in a slash only matches where the name ends, so
// /var/old/uploads leaves /var/old/uploads2 alone and old.example.com leaves
// old.example.com.evil.org alone.
type replacer struct {
	byFirst map[byte][]Replacement
}

// newReplacer expects pairs ordered longest first.
func newReplacer(pairs []Replacement) *replacer {
	r := &replacer{byFirst: make(map[byte][]Replacement)}
	for _, p := range pairs {
		r.byFirst[p.From[0]] = append(r.byFirst[p.From[0]], p)
	}
	return r
}

func (r *replacer) Replace(s string) string {
	var b strings.Builder
	last := 0
	for i := 0; i < len(s); {
		p, ok := r.match(s, i)
		if !ok {
			i++
			continue
		}
		if last == 0 {
			b.Grow(len(s))
		}
		b.WriteString(s[last:i])
		b.WriteString(p.To)
		i += len(p.From)
		last = i
	}
	if last == 0 {
		return s
	}
	b.WriteString(s[last:])
	return b.String()
}

func (r *replacer) match(s string, i int) (Replacement, bool) {
	for _, p := range r.byFirst[s[i]] {
		if strings.HasPrefix(s[i:], p.From) && atBoundary(s, i+len(p.From), p.From) {
			return p, true
		}
	}
	return Replacement{}, false
}

func atBoundary(s string, end int, from string) bool {
	if from[len(from)-1] == '/' || end == len(s) {
		return true
	}
	c := s[end]
	if isNameByte(c) {
		return false
	}
	return c != '.' || end+1 == len(s) || !isNameByte(s[end+1])
}

func isNameByte(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || '0' <= c && c <= '9' || c == '-' || c == '_'
}
