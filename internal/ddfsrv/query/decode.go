package query

import (
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/ddfserve/ddfserve/internal/common/apperrors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Decode parses a query from its wire form. URL object notation is tried
// first, JSON second, matching the order clients are told to prefer.
func Decode(raw string) (*Query, apperrors.Error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrNotDecodable
	}

	var tree any
	if raw[0] == '$' || raw[0] == '@' {
		v, err := decodeURLON(raw)
		if err != nil {
			return nil, ErrNotDecodable.Err(err)
		}
		tree = v
	} else {
		var v any
		if err := json.UnmarshalFromString(raw, &v); err != nil {
			if u, uerr := decodeURLON(raw); uerr == nil {
				tree = u
			} else {
				return nil, ErrNotDecodable.Err(err)
			}
		} else {
			tree = v
		}
	}

	obj, ok := tree.(map[string]any)
	if !ok {
		return nil, ErrQuerySyntax.Msg("the query must be an object")
	}
	return fromTree(obj)
}

// fromTree shapes and validates the generic decoded tree into a Query. The
// projection is sorted lexicographically so equivalent queries compile to
// identical SQL.
func fromTree(obj map[string]any) (*Query, apperrors.Error) {
	q := &Query{}

	sel, ok := obj["select"].(map[string]any)
	if !ok {
		return nil, ErrMissingSelect
	}
	key, err := stringList(sel["key"])
	if err != nil || len(key) == 0 {
		return nil, ErrSelectKey
	}
	value, err := stringList(sel["value"])
	if err != nil {
		return nil, ErrSelectValue
	}
	sort.Strings(key)
	sort.Strings(value)
	q.Select = Select{Key: key, Value: value}

	from, ok := obj["from"].(string)
	if !ok || from == "" {
		return nil, ErrMissingFrom
	}
	if !supportedFrom[from] {
		return nil, ErrNotSupported.Msg("unsupported from clause: " + from)
	}
	q.From = from

	if lang, present := obj["language"]; present {
		s, ok := lang.(string)
		if !ok || !languageRe.MatchString(s) {
			return nil, ErrMalformedLang
		}
		q.Language = s
	}

	if rawOrder, present := obj["order_by"]; present {
		order, aerr := decodeOrderBy(rawOrder)
		if aerr != nil {
			return nil, aerr
		}
		q.OrderBy = order
	}

	if rawJoin, present := obj["join"]; present {
		join, aerr := decodeJoin(rawJoin)
		if aerr != nil {
			return nil, aerr
		}
		q.Join = join
	}

	if rawWhere, present := obj["where"]; present {
		where, aerr := decodePredicate(rawWhere)
		if aerr != nil {
			return nil, aerr
		}
		q.Where = where
	}

	return q, nil
}

func stringList(v any) ([]string, error) {
	list, ok := v.([]any)
	if !ok {
		return nil, ErrQuerySyntax
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, ErrQuerySyntax
		}
		out = append(out, s)
	}
	return out, nil
}

func decodeOrderBy(v any) ([]Sort, apperrors.Error) {
	list, ok := v.([]any)
	if !ok {
		if s, ok := v.(string); ok {
			return []Sort{{Column: s}}, nil
		}
		return nil, ErrMalformedOrder
	}
	out := make([]Sort, 0, len(list))
	for _, item := range list {
		switch entry := item.(type) {
		case string:
			out = append(out, Sort{Column: entry})
		case map[string]any:
			if len(entry) != 1 {
				return nil, ErrMalformedOrder
			}
			for col, dir := range entry {
				d, ok := dir.(string)
				if !ok || (d != "asc" && d != "desc") {
					return nil, ErrMalformedOrder
				}
				out = append(out, Sort{Column: col, Desc: d == "desc"})
			}
		default:
			return nil, ErrMalformedOrder
		}
	}
	return out, nil
}

func decodeJoin(v any) (map[string]*JoinSpec, apperrors.Error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrMalformedJoin
	}
	out := make(map[string]*JoinSpec, len(obj))
	for name, rawSpec := range obj {
		if !joinVarRe.MatchString(name) {
			return nil, ErrMalformedJoin.Msg("malformed join variable: " + name)
		}
		spec, ok := rawSpec.(map[string]any)
		if !ok {
			return nil, ErrMalformedJoin
		}
		js := &JoinSpec{}
		switch k := spec["key"].(type) {
		case string:
			js.Key = k
		case []any:
			// single-component join keys may arrive as a one-element list
			if len(k) != 1 {
				return nil, ErrMalformedJoin.Msg("join key must name a single concept")
			}
			s, ok := k[0].(string)
			if !ok {
				return nil, ErrMalformedJoin
			}
			js.Key = s
		default:
			return nil, ErrMalformedJoin.Msg("join binding " + name + " must have a key")
		}
		if rawWhere, present := spec["where"]; present {
			where, aerr := decodePredicate(rawWhere)
			if aerr != nil {
				return nil, aerr
			}
			js.Where = where
		}
		out[name] = js
	}
	return out, nil
}

// decodePredicate shapes a where tree into tagged variants. Scalar values
// are implicit $eq; an object with several operators becomes an explicit
// conjunction.
func decodePredicate(v any) (Predicate, apperrors.Error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, ErrMalformedWhere
	}
	var preds []Predicate
	for col, rhs := range obj {
		switch col {
		case "$and", "$or":
			list, ok := rhs.([]any)
			if !ok {
				return nil, ErrMalformedWhere
			}
			var children []Predicate
			for _, item := range list {
				child, aerr := decodePredicate(item)
				if aerr != nil {
					return nil, aerr
				}
				children = append(children, child)
			}
			if col == "$and" {
				preds = append(preds, And(children))
			} else {
				preds = append(preds, Or(children))
			}
		default:
			if strings.HasPrefix(col, "$") {
				return nil, ErrMalformedWhere.Msg("unknown logical operator: " + col)
			}
			child, aerr := decodeComparison(col, rhs)
			if aerr != nil {
				return nil, aerr
			}
			preds = append(preds, child)
		}
	}
	if len(preds) == 1 {
		return preds[0], nil
	}
	return And(preds), nil
}

var comparisonOps = map[string]bool{
	"$eq": true, "$ne": true, "$gt": true, "$gte": true,
	"$lt": true, "$lte": true, "$in": true, "$nin": true,
}

func decodeComparison(col string, rhs any) (Predicate, apperrors.Error) {
	switch val := rhs.(type) {
	case map[string]any:
		var children []Predicate
		for op, operand := range val {
			if !comparisonOps[op] {
				return nil, ErrMalformedWhere.Msg("unknown comparison operator: " + op)
			}
			children = append(children, Cmp{Col: col, Op: op, Value: operand})
		}
		if len(children) == 1 {
			return children[0], nil
		}
		return And(children), nil
	case string:
		if strings.HasPrefix(val, "$") {
			return JoinRef{Col: col, Var: val}, nil
		}
		return Cmp{Col: col, Op: "$eq", Value: val}, nil
	case float64, bool, nil:
		return Cmp{Col: col, Op: "$eq", Value: val}, nil
	default:
		return nil, ErrMalformedWhere
	}
}
