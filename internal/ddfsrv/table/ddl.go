package table

import (
	"fmt"
	"strings"
)

// CreateDDL emits one CREATE OR REPLACE TABLE statement per shard. Key
// columns are replicated into every shard and form the primary key. Stored
// translation columns are followed by their coalescing virtual twin so the
// query path can reference `col--lang` directly.
func (d *Def) CreateDDL() []string {
	stmts := make([]string, 0, len(d.Shards))
	for i, shard := range d.Shards {
		var cols []string
		for _, k := range d.Key {
			cols = append(cols, fmt.Sprintf("%s %s NOT NULL", QuoteIdent(k), d.columnType(k)))
		}
		for _, v := range d.ShardColumns(i) {
			typ := d.columnType(v)
			cols = append(cols, fmt.Sprintf("%s %s", QuoteIdent(v), typ))
			for _, lang := range d.columnTranslations(v) {
				stored := "_" + v + "--" + lang
				virtual := v + "--" + lang
				cols = append(cols, fmt.Sprintf("%s %s", QuoteIdent(stored), typ))
				cols = append(cols, fmt.Sprintf("%s %s AS (COALESCE(%s, %s)) VIRTUAL",
					QuoteIdent(virtual), typ, QuoteIdent(stored), QuoteIdent(v)))
			}
		}
		cols = append(cols, fmt.Sprintf("PRIMARY KEY (%s)", quoteList(d.Key)))
		stmts = append(stmts, fmt.Sprintf("CREATE OR REPLACE TABLE %s (\n  %s\n)",
			QuoteIdent(shard.Table), strings.Join(cols, ",\n  ")))
	}
	return stmts
}

// DropDDL emits DROP TABLE IF EXISTS for every shard.
func (d *Def) DropDDL() []string {
	stmts := make([]string, 0, len(d.Shards))
	for _, s := range d.Shards {
		stmts = append(stmts, "DROP TABLE IF EXISTS "+QuoteIdent(s.Table))
	}
	return stmts
}

// DropPrimaryIndexDDL removes the primary key of every shard ahead of a bulk
// load.
func (d *Def) DropPrimaryIndexDDL() []string {
	stmts := make([]string, 0, len(d.Shards))
	for _, s := range d.Shards {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s DROP PRIMARY KEY", QuoteIdent(s.Table)))
	}
	return stmts
}

// AddPrimaryIndexDDL recreates the primary key on every shard after a bulk
// load.
func (d *Def) AddPrimaryIndexDDL() []string {
	stmts := make([]string, 0, len(d.Shards))
	for _, s := range d.Shards {
		stmts = append(stmts, fmt.Sprintf("ALTER TABLE %s ADD PRIMARY KEY (%s)",
			QuoteIdent(s.Table), quoteList(d.Key)))
	}
	return stmts
}

// SecondaryIndexDDL emits CREATE INDEX statements for key components whose
// observed cardinality reached IndexCardinality. Single-column keys are
// covered by the primary index already.
func (d *Def) SecondaryIndexDDL() []string {
	if len(d.Key) < 2 {
		return nil
	}
	var stmts []string
	for _, k := range d.Key[1:] { // the leading key component leads the PK
		col, ok := d.Columns[k]
		if !ok || col.Cardinality < IndexCardinality {
			continue
		}
		for _, s := range d.Shards {
			stmts = append(stmts, fmt.Sprintf("CREATE INDEX %s ON %s (%s)",
				QuoteIdent("ix__"+k), QuoteIdent(s.Table), QuoteIdent(k)))
		}
	}
	return stmts
}

func (d *Def) columnType(name string) string {
	if c, ok := d.Columns[name]; ok {
		return c.Type
	}
	return "VARCHAR(255)"
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}
