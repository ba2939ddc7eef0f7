package rewrite

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

type Site struct {
	SiteURL string
	HomeURL string
	// Paths maps a logical root (uploads, plugins, themes, ...) to an
	// absolute filesystem path.
	Paths map[string]string
}

type Replacement struct {
	From string
	To   string
}

type endpoint struct {
	scheme string
	host   string
	port   string
	path   string
}

func parseEndpoint(raw string) (endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return endpoint{}, fmt.Errorf("%w: пустой URL", ErrInvalidURL)
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return endpoint{}, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Hostname() == "" {
		return endpoint{}, fmt.Errorf("%w: нет хоста в %q", ErrInvalidURL, raw)
	}

	e := endpoint{
		scheme: strings.ToLower(u.Scheme),
		host:   strings.ToLower(u.Hostname()),
		port:   u.Port(),
		path:   strings.TrimRight(u.Path, "/"),
	}
	if e.port == standardPort(e.scheme) {
		e.port = ""
	}
	return e, nil
}

func standardPort(scheme string) string {
	if scheme == "https" {
		return "443"
	}
	return "80"
}

func (e endpoint) hostPort() string {
	if e.port == "" {
		return e.host
	}
	return e.host + ":" + e.port
}

// normalized drops standard ports and trailing slashes.
func (e endpoint) normalized() string {
	return e.scheme + "://" + e.hostPort() + e.path
}

type variant struct {
	from string
	rank int
}

// variants lists every spelling of e that should map to the new location:
// both schemes, with and without an explicit standard port, with the
// non-standard port and without it. Lower rank wins when two endpoints
// produce the same spelling.
func (e endpoint) variants() []variant {
	out := []variant{
		{e.normalized(), 0},
		{e.schemeRelative(), 0},
	}
	for _, scheme := range []string{"http", "https"} {
		base := scheme + "://" + e.host
		if e.port != "" {
			out = append(out,
				variant{base + ":" + e.port + e.path, 1},
				variant{base + e.path, 2},
				variant{base + ":" + standardPort(scheme) + e.path, 2},
			)
			continue
		}
		out = append(out,
			variant{base + e.path, 1},
			variant{base + ":" + standardPort(scheme) + e.path, 1},
		)
	}
	return out
}

func (e endpoint) schemeRelative() string {
	return "//" + e.hostPort() + e.path
}

func jsonEscaped(s string) string {
	return strings.ReplaceAll(s, "/", `\/`)
}

type candidate struct {
	to   string
	rank int
}

type pairSet struct {
	byFrom map[string]candidate
}

func (p *pairSet) add(from, to string, rank int) {
	p.put(from, to, rank)
	if esc := jsonEscaped(from); esc != from {
		p.put(esc, jsonEscaped(to), rank)
	}
}

func (p *pairSet) put(from, to string, rank int) {
	if from == "" {
		return
	}
	if cur, ok := p.byFrom[from]; ok && cur.rank <= rank {
		return
	}
	p.byFrom[from] = candidate{to: to, rank: rank}
}

func (p *pairSet) replacements() []Replacement {
	pairs := make([]Replacement, 0, len(p.byFrom))
	for from, c := range p.byFrom {
		if from == c.to {
			continue
		}
		pairs = append(pairs, Replacement{From: from, To: c.to})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if len(pairs[i].From) != len(pairs[j].From) {
			return len(pairs[i].From) > len(pairs[j].From)
		}
		return pairs[i].From < pairs[j].From
	})
	return pairs
}

// buildReplacements returns substitution pairs ordered longest key first so
// that the most specific signature wins.
func buildReplacements(oldSite, newSite Site) ([]Replacement, error) {
	set := &pairSet{byFrom: make(map[string]candidate)}

	oldHome, newHome := oldSite.HomeURL, newSite.HomeURL
	if oldHome == "" {
		oldHome = oldSite.SiteURL
	}
	if newHome == "" {
		newHome = newSite.SiteURL
	}

	urlPairs := [][2]string{{oldSite.SiteURL, newSite.SiteURL}, {oldHome, newHome}}
	var endpoints [][2]endpoint
	sameURLs := true
	for _, pair := range urlPairs {
		if pair[0] == "" || pair[1] == "" {
			continue
		}
		from, err := parseEndpoint(pair[0])
		if err != nil {
			return nil, err
		}
		to, err := parseEndpoint(pair[1])
		if err != nil {
			return nil, err
		}
		if from.normalized() != to.normalized() {
			sameURLs = false
		}
		endpoints = append(endpoints, [2]endpoint{from, to})
	}

	if !sameURLs {
		for _, ep := range endpoints {
			from, to := ep[0], ep[1]
			for _, v := range from.variants() {
				target := to.normalized()
				if strings.HasPrefix(v.from, "//") {
					target = to.schemeRelative()
				}
				set.add(v.from, target, v.rank)
			}
		}
	}

	roots := make([]string, 0, len(oldSite.Paths))
	for root := range oldSite.Paths {
		roots = append(roots, root)
	}
	sort.Strings(roots)
	for _, root := range roots {
		oldPath := strings.TrimRight(oldSite.Paths[root], "/")
		newPath, ok := newSite.Paths[root]
		if !ok || oldPath == "" {
			continue
		}
		newPath = strings.TrimRight(newPath, "/")
		if newPath == "" {
			continue
		}
		set.add(oldPath+"/", newPath+"/", 0)
		set.add(oldPath, newPath, 0)
	}

	return set.replacements(), nil
}
