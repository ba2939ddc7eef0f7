// Package serialized decodes the dynamic values stored in site database
// columns: PHP-serialized strings and JSON documents. Both decode into the
// same Value tree so that string leaves can be rewritten and the value
// encoded back in its original notation.
package serialized

import "errors"

var (
	ErrSyntax   = errors.New("синтаксическая ошибка сериализованного значения")
	ErrTrailing = errors.New("лишние данные после сериализованного значения")
	ErrTooDeep  = errors.New("слишком глубокая вложенность")
)

const maxDepth = 512

type Value interface {
	isValue()
}

type (
	Null   struct{}
	Bool   bool
	Int    int64
	Number string // raw textual float or JSON number
	String string
	List   []Value
	Map    []Pair
	Object struct {
		Class string
		Props []Pair
	}
	// Raw is a serialized token kept verbatim: references and
	// custom-serialized objects, whose bytes are not ours to change.
	Raw string
)

type Pair struct {
	Key   Value
	Value Value
}

func (Null) isValue()   {}
func (Bool) isValue()   {}
func (Int) isValue()    {}
func (Number) isValue() {}
func (String) isValue() {}
func (List) isValue()   {}
func (Map) isValue()    {}
func (Object) isValue() {}
func (Raw) isValue()    {}

// MapStrings applies fn to every string leaf. Map keys and class names are
// left alone. The returned bool reports whether any leaf changed; when it is
// false the original value is returned.
func MapStrings(v Value, fn func(string) string) (Value, bool) {
	switch t := v.(type) {
	case String:
		out := fn(string(t))
		if out == string(t) {
			return v, false
		}
		return String(out), true
	case List:
		var res List
		for i, item := range t {
			nv, changed := MapStrings(item, fn)
			if changed && res == nil {
				res = make(List, len(t))
				copy(res, t)
			}
			if res != nil {
				res[i] = nv
			}
		}
		if res == nil {
			return v, false
		}
		return res, true
	case Map:
		props, changed := mapPairs(t, fn)
		if !changed {
			return v, false
		}
		return Map(props), true
	case Object:
		props, changed := mapPairs(t.Props, fn)
		if !changed {
			return v, false
		}
		return Object{Class: t.Class, Props: props}, true
	default:
		return v, false
	}
}

func mapPairs(pairs []Pair, fn func(string) string) ([]Pair, bool) {
	var res []Pair
	for i, p := range pairs {
		nv, changed := MapStrings(p.Value, fn)
		if changed && res == nil {
			res = make([]Pair, len(pairs))
			copy(res, pairs)
		}
		if res != nil {
			res[i] = Pair{Key: p.Key, Value: nv}
		}
	}
	return res, res != nil
}
