package table

import (
	"fmt"
	"sort"
	"strings"
)

// ColumnRef names a column either on the base table (Join == "") or on a
// joined table.
type ColumnRef struct {
	Join   string
	Column string
}

// Condition is one node of a predicate tree: a conjunction, a disjunction,
// or a leaf comparison.
type Condition struct {
	All   []Condition
	Any   []Condition
	Ref   ColumnRef
	Op    string // $eq, $ne, $gt, $gte, $lt, $lte, $in, $nin
	Value any
}

// Join describes an INNER JOIN against a foreign physical table.
type Join struct {
	Table string
	Alias string
	On    string // column present on both sides
}

// ProjectedColumn is one output column: Name is the response header entry,
// Source the physical column it reads (a translated virtual column when a
// language was requested).
type ProjectedColumn struct {
	Name   string
	Source string
}

// Sort is one ORDER BY entry.
type Sort struct {
	Column string
	Desc   bool
}

// SelectRequest is the compiled form of a structured query against one
// logical table.
type SelectRequest struct {
	Projection []ProjectedColumn
	Joins      []Join
	Where      []Condition // implicitly ANDed
	OrderBy    []Sort
}

// BuildSelect emits the single SELECT statement for the request. When the
// projection touches more than one shard of a wide table, the shards are
// inner-joined on the full key first; user joins always precede the WHERE
// clause.
func (d *Def) BuildSelect(req *SelectRequest) (string, error) {
	if len(d.Shards) == 0 {
		return "", fmt.Errorf("table %v has no physical tables", d.Key)
	}

	needed := map[int]bool{0: true}
	for _, p := range req.Projection {
		idx, ok := d.ShardFor(p.Source)
		if !ok {
			return "", fmt.Errorf("column %q not found in table %s", p.Source, d.Shards[0].Table)
		}
		needed[idx] = true
	}
	collectShards(d, req.Where, needed)

	resolve := func(ref ColumnRef) (string, error) {
		if ref.Join != "" {
			return QuoteIdent(ref.Join) + "." + QuoteIdent(ref.Column), nil
		}
		idx, ok := d.ShardFor(ref.Column)
		if !ok {
			return "", fmt.Errorf("column %q not found in table %s", ref.Column, d.Shards[0].Table)
		}
		if !needed[idx] {
			needed[idx] = true // filter-only columns still pull their shard in
		}
		return shardAlias(idx) + "." + QuoteIdent(ref.Column), nil
	}

	// Resolve the select list first; filters may add shards, so the FROM
	// clause is rendered afterwards.
	selects := make([]string, 0, len(req.Projection))
	for _, p := range req.Projection {
		expr, err := resolve(ColumnRef{Column: p.Source})
		if err != nil {
			return "", err
		}
		if p.Source == p.Name {
			selects = append(selects, expr)
		} else {
			selects = append(selects, expr+" AS "+QuoteIdent(p.Name))
		}
	}

	var where []string
	for _, cond := range req.Where {
		sql, err := conditionSQL(cond, resolve)
		if err != nil {
			return "", err
		}
		where = append(where, sql)
	}

	var orderBy []string
	for _, s := range req.OrderBy {
		src := s.Column
		for _, p := range req.Projection {
			if p.Name == s.Column {
				src = p.Source
				break
			}
		}
		expr, err := resolve(ColumnRef{Column: src})
		if err != nil {
			return "", err
		}
		if s.Desc {
			expr += " DESC"
		}
		orderBy = append(orderBy, expr)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(selects, ", "))
	b.WriteString("\nFROM ")
	b.WriteString(QuoteIdent(d.Shards[0].Table) + " AS " + shardAlias(0))

	indexes := make([]int, 0, len(needed))
	for idx := range needed {
		if idx != 0 {
			indexes = append(indexes, idx)
		}
	}
	sort.Ints(indexes)
	for _, idx := range indexes {
		var on []string
		for _, k := range d.Key {
			on = append(on, fmt.Sprintf("%s.%s = %s.%s",
				shardAlias(idx), QuoteIdent(k), shardAlias(0), QuoteIdent(k)))
		}
		b.WriteString(fmt.Sprintf("\nINNER JOIN %s AS %s ON %s",
			QuoteIdent(d.Shards[idx].Table), shardAlias(idx), strings.Join(on, " AND ")))
	}

	for _, j := range req.Joins {
		b.WriteString(fmt.Sprintf("\nINNER JOIN %s AS %s ON %s.%s = %s.%s",
			QuoteIdent(j.Table), QuoteIdent(j.Alias),
			QuoteIdent(j.Alias), QuoteIdent(j.On),
			shardAlias(0), QuoteIdent(j.On)))
	}

	if len(where) > 0 {
		b.WriteString("\nWHERE " + strings.Join(where, " AND "))
	}
	if len(orderBy) > 0 {
		b.WriteString("\nORDER BY " + strings.Join(orderBy, ", "))
	}
	return b.String(), nil
}

func shardAlias(i int) string {
	return fmt.Sprintf("`t%d`", i)
}

func collectShards(d *Def, conds []Condition, needed map[int]bool) {
	for _, c := range conds {
		collectShards(d, c.All, needed)
		collectShards(d, c.Any, needed)
		if c.Op != "" && c.Ref.Join == "" && c.Ref.Column != "" {
			if idx, ok := d.ShardFor(c.Ref.Column); ok {
				needed[idx] = true
			}
		}
	}
}

type resolveFunc func(ColumnRef) (string, error)

func conditionSQL(c Condition, resolve resolveFunc) (string, error) {
	switch {
	case len(c.All) > 0:
		parts, err := conditionListSQL(c.All, resolve)
		if err != nil {
			return "", err
		}
		return "(" + strings.Join(parts, " AND ") + ")", nil
	case len(c.Any) > 0:
		parts, err := conditionListSQL(c.Any, resolve)
		if err != nil {
			return "", err
		}
		return "(" + strings.Join(parts, " OR ") + ")", nil
	default:
		return comparisonSQL(c, resolve)
	}
}

func conditionListSQL(conds []Condition, resolve resolveFunc) ([]string, error) {
	parts := make([]string, 0, len(conds))
	for _, c := range conds {
		sql, err := conditionSQL(c, resolve)
		if err != nil {
			return nil, err
		}
		parts = append(parts, sql)
	}
	return parts, nil
}

func comparisonSQL(c Condition, resolve resolveFunc) (string, error) {
	lhs, err := resolve(c.Ref)
	if err != nil {
		return "", err
	}
	switch c.Op {
	case "$eq":
		if b, ok := c.Value.(bool); ok {
			if b {
				return lhs + " IS TRUE", nil
			}
			return lhs + " IS FALSE", nil
		}
		return lhs + " <=> " + FormatValue(c.Value), nil
	case "$ne":
		if b, ok := c.Value.(bool); ok {
			if b {
				return lhs + " IS NOT TRUE", nil
			}
			return lhs + " IS NOT FALSE", nil
		}
		return "NOT (" + lhs + " <=> " + FormatValue(c.Value) + ")", nil
	case "$gt":
		return lhs + " > " + FormatValue(c.Value), nil
	case "$gte":
		return lhs + " >= " + FormatValue(c.Value), nil
	case "$lt":
		return lhs + " < " + FormatValue(c.Value), nil
	case "$lte":
		return lhs + " <= " + FormatValue(c.Value), nil
	case "$in", "$nin":
		list, ok := c.Value.([]any)
		if !ok {
			return "", fmt.Errorf("%s requires a list operand", c.Op)
		}
		vals := make([]string, len(list))
		for i, v := range list {
			vals[i] = FormatValue(v)
		}
		op := " IN ("
		if c.Op == "$nin" {
			op = " NOT IN ("
		}
		return lhs + op + strings.Join(vals, ", ") + ")", nil
	default:
		return "", fmt.Errorf("unsupported operator %q", c.Op)
	}
}
