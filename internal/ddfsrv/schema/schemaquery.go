package schema

import (
	"sort"

	"github.com/ddfserve/ddfserve/internal/ddfsrv/table"
)

// SchemaRows synthesizes the result rows of a schema query without touching
// the database: one [keyTuple, value] row per declared value column of each
// table of the requested kind. kind is "concepts", "entities", "datapoints"
// or "*" for all three.
func (m *Model) SchemaRows(kind string) [][]any {
	var rows [][]any
	add := func(defs ...*table.Def) {
		for _, def := range defs {
			if def == nil {
				continue
			}
			keyTuple := make([]any, len(def.Key))
			for i, k := range def.Key {
				keyTuple[i] = k
			}
			values := append([]string(nil), def.Values...)
			sort.Strings(values)
			for _, v := range values {
				rows = append(rows, []any{keyTuple, v})
			}
		}
	}

	switch kind {
	case "concepts":
		add(m.Concepts)
	case "entities":
		add(sortedDefs(m.Entities)...)
	case "datapoints":
		add(sortedDefs(m.Datapoints)...)
	case "*":
		add(m.Concepts)
		add(sortedDefs(m.Entities)...)
		add(sortedDefs(m.Datapoints)...)
	}
	return rows
}
