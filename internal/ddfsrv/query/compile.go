package query

import (
	"strings"

	"github.com/ddfserve/ddfserve/internal/common/apperrors"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/schema"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/table"
)

// Plan is a compiled query, ready to execute. Schema queries carry their
// rows inline and never reach the database.
type Plan struct {
	Header   []string
	SQL      string
	Rows     [][]any // non-nil for schema queries
	Warnings []string

	// KeyWidth is the number of leading header columns that form the key.
	KeyWidth int
	// SuppressNullRows drops result rows whose value columns are all NULL;
	// wide datapoint tables produce such rows for sparse indicators.
	SuppressNullRows bool
}

// Compile translates a validated query into a single SELECT over the
// dataset's physical tables. Entity sets in the key are rewritten to their
// domains with an `is--<set>` filter, join bindings become inner joins
// against entity tables, and a requested language swaps value columns for
// their coalescing translated twins.
func Compile(m *schema.Model, q *Query) (*Plan, apperrors.Error) {
	if q.IsSchemaQuery() {
		return &Plan{
			Header:   []string{"key", "value"},
			Rows:     m.SchemaRows(q.SchemaKind()),
			KeyWidth: 1,
		}, nil
	}

	c := &compiler{m: m, q: q, joinByVar: map[string]string{}}
	if aerr := c.resolveFrom(); aerr != nil {
		return nil, aerr
	}
	if aerr := c.project(); aerr != nil {
		return nil, aerr
	}
	if q.Where != nil {
		cond, aerr := c.cond(q.Where, "", c.def)
		if aerr != nil {
			return nil, aerr
		}
		if cond != nil {
			c.req.Where = append(c.req.Where, *cond)
		}
	}
	c.orderBy()

	sql, err := c.def.BuildSelect(&c.req)
	if err != nil {
		return nil, ErrUnknownColumn.Err(err)
	}
	return &Plan{
		Header:           c.header,
		SQL:              sql,
		Warnings:         c.warnings,
		KeyWidth:         len(q.Select.Key),
		SuppressNullRows: q.From == "datapoints",
	}, nil
}

type compiler struct {
	m *schema.Model
	q *Query

	def      *table.Def
	lang     string // validated requested language, empty when unavailable
	header   []string
	req      table.SelectRequest
	warnings []string

	joinByVar map[string]string // binding variable -> table alias ("" for time joins)
}

// resolveFrom picks the base table for the query and seeds the key filters
// the entity-set rewrite requires.
func (c *compiler) resolveFrom() apperrors.Error {
	key := c.q.Select.Key
	switch c.q.From {
	case "concepts":
		if len(key) != 1 || key[0] != "concept" {
			return ErrNotSupported.Msg("concepts are keyed by concept only")
		}
		if c.m.Concepts == nil {
			return ErrNotSupported.Msg("this dataset has no concepts")
		}
		c.def = c.m.Concepts
	case "entities":
		if len(key) != 1 {
			return ErrNotSupported.Msg("entities are keyed by a single domain or set")
		}
		def, ok := c.m.EntityTable(key[0])
		if !ok {
			return ErrNotSupported.Msg("no entity domain serves " + key[0])
		}
		c.def = def
		c.addSetFilter(key[0])
	case "datapoints":
		def, ok := c.m.DatapointTable(key)
		if !ok {
			return ErrNotSupported.Msg("no datapoints are indexed by " + strings.Join(key, ", "))
		}
		c.def = def
		for _, k := range key {
			c.addSetFilter(k)
		}
	default:
		return ErrNotSupported.Msg("unsupported from clause: " + c.q.From)
	}

	if c.q.Language != "" {
		if lang, ok := c.m.Language(c.q.Language); ok {
			c.lang = lang
		} else {
			c.warn("language " + c.q.Language + " is not available in this dataset, responding in the default language")
		}
	}
	return nil
}

// addSetFilter restricts the base table to rows of an entity set when the
// requested key component is a set rather than a domain.
func (c *compiler) addSetFilter(component string) {
	if c.m.ResolveDomain(component) == component {
		return
	}
	c.req.Where = append(c.req.Where, table.Condition{
		Ref:   table.ColumnRef{Column: "is--" + component},
		Op:    "$eq",
		Value: true,
	})
}

// project builds the response header and the select list. Header entries
// keep the names the client asked for; entity-set key components read their
// domain column under an alias.
func (c *compiler) project() apperrors.Error {
	for _, k := range c.q.Select.Key {
		source := c.m.ResolveDomain(k)
		if !c.def.HasColumn(source) {
			return ErrUnknownColumn.Msg("unknown key column: " + k)
		}
		c.header = append(c.header, k)
		c.req.Projection = append(c.req.Projection, table.ProjectedColumn{Name: k, Source: source})
	}
	for _, v := range c.q.Select.Value {
		if !c.def.HasColumn(v) {
			return ErrUnknownColumn.Msg("unknown column: " + v)
		}
		source := v
		if c.lang != "" {
			source = c.def.TranslatedColumn(v, c.lang)
		}
		c.header = append(c.header, v)
		c.req.Projection = append(c.req.Projection, table.ProjectedColumn{Name: v, Source: source})
	}
	return nil
}

// orderBy keeps sort entries that name a projected column and drops the
// rest with a warning; sorting on a column outside the projection would
// leak physical column names into error messages otherwise.
func (c *compiler) orderBy() {
	for _, s := range c.q.OrderBy {
		if c.projected(s.Column) {
			c.req.OrderBy = append(c.req.OrderBy, table.Sort{Column: s.Column, Desc: s.Desc})
			continue
		}
		c.warn("order_by column " + s.Column + " is not part of select, ignoring it")
	}
}

func (c *compiler) projected(name string) bool {
	for _, h := range c.header {
		if h == name {
			return true
		}
	}
	return false
}

// cond translates a predicate subtree. joinAlias is empty on the base
// table; def is the table the column names resolve against. A nil result
// with a nil error means the node contributed joins but no SQL condition.
func (c *compiler) cond(p Predicate, joinAlias string, def *table.Def) (*table.Condition, apperrors.Error) {
	switch node := p.(type) {
	case And:
		children, aerr := c.condList(node, joinAlias, def)
		if aerr != nil {
			return nil, aerr
		}
		return wrapList(children, true), nil
	case Or:
		children, aerr := c.condList(node, joinAlias, def)
		if aerr != nil {
			return nil, aerr
		}
		return wrapList(children, false), nil
	case Cmp:
		return c.comparison(node, joinAlias, def)
	case JoinRef:
		if joinAlias != "" {
			return nil, ErrMalformedWhere.Msg("join bindings cannot reference other joins")
		}
		if _, aerr := c.ensureJoin(node.Var); aerr != nil {
			return nil, aerr
		}
		// the inner join itself constrains the rows
		return nil, nil
	default:
		return nil, ErrMalformedWhere
	}
}

func (c *compiler) condList(nodes []Predicate, joinAlias string, def *table.Def) ([]table.Condition, apperrors.Error) {
	var out []table.Condition
	for _, n := range nodes {
		cond, aerr := c.cond(n, joinAlias, def)
		if aerr != nil {
			return nil, aerr
		}
		if cond != nil {
			out = append(out, *cond)
		}
	}
	return out, nil
}

func wrapList(children []table.Condition, all bool) *table.Condition {
	switch len(children) {
	case 0:
		return nil
	case 1:
		return &children[0]
	}
	if all {
		return &table.Condition{All: children}
	}
	return &table.Condition{Any: children}
}

func (c *compiler) comparison(node Cmp, joinAlias string, def *table.Def) (*table.Condition, apperrors.Error) {
	col := strings.TrimPrefix(node.Col, ".")
	if joinAlias == "" {
		col = c.m.ResolveDomain(col)
	}
	if !def.HasColumn(col) {
		return nil, ErrUnknownColumn.Msg("unknown column in where clause: " + node.Col)
	}
	if c.lang != "" {
		col = def.TranslatedColumn(col, c.lang)
	}
	return &table.Condition{
		Ref:   table.ColumnRef{Join: joinAlias, Column: col},
		Op:    node.Op,
		Value: node.Value,
	}, nil
}

// ensureJoin materializes the join binding for a variable: an inner join
// against the entity table of the binding's key, or a rewrite onto the base
// table for time-domain keys. The binding's where clause is compiled once,
// on first use.
func (c *compiler) ensureJoin(varName string) (string, apperrors.Error) {
	if alias, ok := c.joinByVar[varName]; ok {
		return alias, nil
	}
	binding, ok := c.q.Join[varName]
	if !ok {
		return "", ErrUnknownJoinVar.Msg("undefined join variable: " + varName)
	}

	if schema.IsTimeConcept(binding.Key) {
		// time has no entity table; conditions apply to the base key column
		c.joinByVar[varName] = ""
		if binding.Where != nil {
			cond, aerr := c.cond(binding.Where, "", c.def)
			if aerr != nil {
				return "", aerr
			}
			if cond != nil {
				c.req.Where = append(c.req.Where, *cond)
			}
		}
		return "", nil
	}

	domain := c.m.ResolveDomain(binding.Key)
	edef, ok := c.m.EntityTable(domain)
	if !ok {
		return "", ErrNotSupported.Msg("cannot join on " + binding.Key + ", it has no entity table")
	}
	if !c.def.IsKeyColumn(domain) {
		return "", ErrNotSupported.Msg("join key " + binding.Key + " is not part of the table key")
	}

	alias := strings.TrimPrefix(varName, "$")
	physical := edef.Shards[0].Table
	for _, j := range c.req.Joins {
		if j.Table == physical && j.On != domain {
			return "", ErrJoinConflict.Msg("table " + physical + " is already joined on " + j.On)
		}
		if j.Alias == alias {
			alias = alias + "_"
		}
	}
	c.req.Joins = append(c.req.Joins, table.Join{Table: physical, Alias: alias, On: domain})
	c.joinByVar[varName] = alias

	if binding.Key != domain {
		c.req.Where = append(c.req.Where, table.Condition{
			Ref:   table.ColumnRef{Join: alias, Column: "is--" + binding.Key},
			Op:    "$eq",
			Value: true,
		})
	}
	if binding.Where != nil {
		cond, aerr := c.joinWhere(binding.Where, alias, edef)
		if aerr != nil {
			return "", aerr
		}
		if cond != nil {
			c.req.Where = append(c.req.Where, *cond)
		}
	}
	return alias, nil
}

// joinWhere compiles a binding's predicate against the joined entity table.
// Only columns of the first physical table are reachable through a join;
// datasets wide enough to shard their entity tables are rare and the
// filtered columns are almost always low-index properties.
func (c *compiler) joinWhere(p Predicate, alias string, edef *table.Def) (*table.Condition, apperrors.Error) {
	if aerr := c.checkJoinColumns(p, edef); aerr != nil {
		return nil, aerr
	}
	return c.cond(p, alias, edef)
}

func (c *compiler) checkJoinColumns(p Predicate, edef *table.Def) apperrors.Error {
	switch node := p.(type) {
	case And:
		for _, child := range node {
			if aerr := c.checkJoinColumns(child, edef); aerr != nil {
				return aerr
			}
		}
	case Or:
		for _, child := range node {
			if aerr := c.checkJoinColumns(child, edef); aerr != nil {
				return aerr
			}
		}
	case Cmp:
		col := strings.TrimPrefix(node.Col, ".")
		if idx, ok := edef.ShardFor(col); ok && idx != 0 {
			return ErrNotSupported.Msg("cannot filter a join on " + node.Col + ", it lives outside the primary table")
		}
	}
	return nil
}

func (c *compiler) warn(msg string) {
	c.warnings = append(c.warnings, msg)
}
