// Package table wraps one or more physical MariaDB tables behind a logical
// dataset table: schema inference from CSV, DDL emission, bulk load through
// CSV-backed external tables, index planning, wide-table splitting, and
// SELECT generation for compiled queries.
package table

import (
	"fmt"
	"sort"
	"strings"
)

// Kind identifies what a table backs.
type Kind string

const (
	KindConcepts   Kind = "concepts"
	KindEntities   Kind = "entities"
	KindDatapoints Kind = "datapoints"
)

// Column describes one inferred column of a logical table.
type Column struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Cardinality int      `json:"cardinality,omitempty"`
	// Translations lists the languages that contributed a stored
	// `_name--lang` column and its coalescing virtual twin.
	Translations []string `json:"translations,omitempty"`
}

// Shard is one physical table of a (possibly split) logical table. Every
// shard carries all key columns; value columns are partitioned.
type Shard struct {
	Table  string   `json:"table"`
	Values []string `json:"values"`
}

// Def is the logical table definition persisted inside a dataset's schema
// model.
type Def struct {
	Kind   Kind     `json:"kind"`
	Key    []string `json:"key"`
	Domain string   `json:"domain,omitempty"`
	// Sets lists the entity sets collapsed into this table; each one has an
	// `is--<set>` boolean column.
	Sets      []string           `json:"sets,omitempty"`
	Values    []string           `json:"values,omitempty"`
	Columns   map[string]*Column `json:"columns"`
	Resources []string           `json:"resources,omitempty"`
	Shards    []Shard            `json:"shards"`
}

// NewDef creates an empty definition for the given key.
func NewDef(kind Kind, key []string) *Def {
	sorted := append([]string(nil), key...)
	sort.Strings(sorted)
	return &Def{
		Kind:    kind,
		Key:     sorted,
		Columns: map[string]*Column{},
	}
}

// KeyID returns the canonical identifier for a key: its components sorted
// and joined with "$".
func KeyID(key []string) string {
	sorted := append([]string(nil), key...)
	sort.Strings(sorted)
	return strings.Join(sorted, "$")
}

// AddValue registers a value column, keeping declaration order and ignoring
// duplicates from overlapping resources.
func (d *Def) AddValue(name string) {
	for _, v := range d.Values {
		if v == name {
			return
		}
	}
	d.Values = append(d.Values, name)
}

// AddSet registers an entity set collapsed into this table.
func (d *Def) AddSet(name string) {
	for _, s := range d.Sets {
		if s == name {
			return
		}
	}
	d.Sets = append(d.Sets, name)
	d.Columns["is--"+name] = &Column{Name: "is--" + name, Type: "BOOLEAN"}
}

// AddResource records a contributing source resource.
func (d *Def) AddResource(name string) {
	for _, r := range d.Resources {
		if r == name {
			return
		}
	}
	d.Resources = append(d.Resources, name)
}

// SetColumn records the inferred column definition.
func (d *Def) SetColumn(col *Column) {
	d.Columns[col.Name] = col
}

// HasColumn reports whether the logical table declares the column, counting
// key columns, values, set markers and any other inferred column.
func (d *Def) HasColumn(name string) bool {
	if _, ok := d.Columns[name]; ok {
		return true
	}
	for _, k := range d.Key {
		if k == name {
			return true
		}
	}
	return false
}

// IsKeyColumn reports whether name is part of the primary key.
func (d *Def) IsKeyColumn(name string) bool {
	for _, k := range d.Key {
		if k == name {
			return true
		}
	}
	return false
}

// TranslatedColumn returns the virtual coalescing column for col in the
// given language, or col itself when that language never contributed a
// translation.
func (d *Def) TranslatedColumn(col, lang string) string {
	c, ok := d.Columns[col]
	if !ok {
		return col
	}
	for _, l := range c.Translations {
		if l == lang {
			return col + "--" + lang
		}
	}
	return col
}

// AddTranslation marks col as translated into lang.
func (d *Def) AddTranslation(col, lang string) {
	c, ok := d.Columns[col]
	if !ok {
		c = &Column{Name: col, Type: fmt.Sprintf("VARCHAR(%d)", 255)}
		d.Columns[col] = c
	}
	for _, l := range c.Translations {
		if l == lang {
			return
		}
	}
	c.Translations = append(c.Translations, lang)
}

// TableNames lists every physical table backing this definition.
func (d *Def) TableNames() []string {
	names := make([]string, 0, len(d.Shards))
	for _, s := range d.Shards {
		names = append(names, s.Table)
	}
	return names
}

// ShardFor returns the shard holding the given value column. Key columns
// live in every shard; by convention they resolve to the first.
func (d *Def) ShardFor(col string) (int, bool) {
	if d.IsKeyColumn(col) || strings.HasPrefix(col, "is--") {
		if len(d.Shards) == 0 {
			return 0, false
		}
		return 0, true
	}
	base := translationBase(col)
	for i, s := range d.Shards {
		for _, v := range s.Values {
			if v == col || v == base {
				return i, true
			}
		}
	}
	return 0, false
}

// translationBase strips a `--lang` suffix so translated virtual columns
// resolve to the shard of their base column.
func translationBase(col string) string {
	if i := strings.Index(col, "--"); i > 0 && !strings.HasPrefix(col, "is--") {
		return col[:i]
	}
	return col
}

// ShardColumns returns the value-side columns of shard i: its value columns
// plus, on the first shard only, the `is--<set>` marker columns.
func (d *Def) ShardColumns(i int) []string {
	cols := append([]string(nil), d.Shards[i].Values...)
	if i == 0 {
		var markers []string
		for name := range d.Columns {
			if strings.HasPrefix(name, "is--") {
				markers = append(markers, name)
			}
		}
		sort.Strings(markers)
		cols = append(cols, markers...)
	}
	return cols
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Partition assigns physical tables to the definition, splitting into a
// wide-table group when the column count exceeds maxColumns or the estimated
// row width exceeds rowSizeLimit. baseName is the physical name of the first
// shard; later shards append _1, _2, ...
func (d *Def) Partition(baseName string, maxColumns, rowSizeLimit int) {
	keyWidth := 0
	for _, k := range d.Key {
		keyWidth += d.columnWidth(k)
	}

	markers := 0
	for name := range d.Columns {
		if strings.HasPrefix(name, "is--") {
			markers++
		}
	}

	d.Shards = nil
	shard := Shard{Table: baseName}
	cols := len(d.Key) + markers
	width := keyWidth

	flush := func() {
		d.Shards = append(d.Shards, shard)
		shard = Shard{Table: fmt.Sprintf("%s_%d", baseName, len(d.Shards))}
		cols = len(d.Key)
		width = keyWidth
	}

	for _, v := range d.Values {
		w := d.columnWidth(v)
		n := 1 + len(d.columnTranslations(v))*2 // stored plus virtual per language
		if len(shard.Values) > 0 && (cols+n > maxColumns || width+w > rowSizeLimit) {
			flush()
		}
		shard.Values = append(shard.Values, v)
		cols += n
		width += w
	}
	d.Shards = append(d.Shards, shard)
}

func (d *Def) columnWidth(name string) int {
	if c, ok := d.Columns[name]; ok {
		w := estimatedByteWidth(c.Type)
		for range c.Translations {
			w += estimatedByteWidth(c.Type)
		}
		return w
	}
	return 8
}

func (d *Def) columnTranslations(name string) []string {
	if c, ok := d.Columns[name]; ok {
		return c.Translations
	}
	return nil
}
