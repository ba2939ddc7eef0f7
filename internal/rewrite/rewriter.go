// Package rewrite replaces old domain and path signatures in database values,
// keeping PHP-serialized and JSON values structurally valid.
package rewrite

import (
	"context"
	"errors"
	"runtime"

	"go.uber.org/zap"

	"github.com/sunr3d/site-mover/internal/serialized"
	"github.com/sunr3d/site-mover/models"
)

var ErrInvalidURL = errors.New("некорректный URL сайта")

const maxNesting = 8

type Option func(*Rewriter)

// WithReclaimEvery forces a garbage collection after every n tables.
func WithReclaimEvery(n int) Option {
	return func(r *Rewriter) { r.reclaimEvery = n }
}

// WithReclaimFunc replaces runtime.GC as the reclaim hook.
func WithReclaimFunc(fn func()) Option {
	return func(r *Rewriter) { r.reclaim = fn }
}

func WithLogger(log *zap.Logger) Option {
	return func(r *Rewriter) { r.logger = log }
}

type Rewriter struct {
	logger       *zap.Logger
	pairs        []Replacement
	replacer     *replacer
	reclaimEvery int
	reclaim      func()
	tables       int
}

func New(oldSite, newSite Site, opts ...Option) (*Rewriter, error) {
	r := &Rewriter{
		logger:       zap.NewNop(),
		reclaimEvery: 10,
		reclaim:      runtime.GC,
	}
	for _, opt := range opts {
		opt(r)
	}

	pairs, err := buildReplacements(oldSite, newSite)
	if err != nil {
		return nil, err
	}
	r.pairs = pairs
	if len(pairs) > 0 {
		r.replacer = newReplacer(pairs)
	}
	return r, nil
}

// Noop reports whether the rewrite has nothing to replace.
func (r *Rewriter) Noop() bool {
	return r.replacer == nil
}

func (r *Rewriter) Replacements() []Replacement {
	return append([]Replacement(nil), r.pairs...)
}

// RewriteString rewrites s. Serialized and JSON values are decoded and their
// string leaves rewritten recursively; anything that does not decode is
// handled with plain substitution.
func (r *Rewriter) RewriteString(s string) string {
	out, _ := r.rewrite(s, 0)
	return out
}

func (r *Rewriter) rewrite(s string, depth int) (string, bool) {
	if r.replacer == nil || s == "" {
		return s, false
	}
	replaced := r.replacer.Replace(s)
	if replaced == s {
		return s, false
	}
	if depth >= maxNesting {
		return replaced, true
	}

	leaf := func(v string) string {
		out, _ := r.rewrite(v, depth+1)
		return out
	}

	if serialized.LooksPHP(s) {
		if v, err := serialized.DecodePHP(s); err == nil {
			nv, changed := serialized.MapStrings(v, leaf)
			if !changed {
				return s, false
			}
			if out, err := serialized.EncodePHP(nv); err == nil {
				return out, true
			}
		}
	}

	if serialized.LooksJSON(s) {
		if out, changed, err := serialized.RewriteJSON(s, leaf); err == nil {
			return out, changed
		}
	}

	return replaced, true
}

// RewriteValue rewrites string values and returns everything else as is.
func (r *Rewriter) RewriteValue(v any) (any, bool) {
	s, ok := v.(string)
	if !ok {
		return v, false
	}
	out, changed := r.rewrite(s, 0)
	if !changed {
		return v, false
	}
	return out, true
}

// RewriteTable rewrites every cell of t in place and returns the number of
// changed cells.
func (r *Rewriter) RewriteTable(t *models.TableDump) int {
	if r.replacer == nil {
		return 0
	}

	changed := 0
	for _, row := range t.Rows {
		for col, v := range row {
			if nv, ok := r.RewriteValue(v); ok {
				row[col] = nv
				changed++
			}
		}
	}

	r.tables++
	if r.reclaimEvery > 0 && r.tables%r.reclaimEvery == 0 {
		r.reclaim()
		r.logger.Debug("память освобождена после группы таблиц", zap.Int("tables", r.tables))
	}
	return changed
}

// Stream rewrites tables one at a time between a source and a sink.
func (r *Rewriter) Stream(ctx context.Context, source func(func(models.TableDump) error) error, sink func(models.TableDump) error) error {
	return source(func(t models.TableDump) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n := r.RewriteTable(&t)
		r.logger.Debug("таблица обработана", zap.String("table", t.Name), zap.Int("changed", n))
		return sink(t)
	})
}
