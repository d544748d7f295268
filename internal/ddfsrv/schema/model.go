// Package schema holds the in-memory model of a dataset's DDF schema: the
// concept table, per-entity-domain tables, per-key datapoint tables, the
// entity-set to domain mapping, and the declared translation languages. A
// model is built once by the loader, serialized into the catalog, and
// read-only afterwards, so instances are safe to share across requests.
package schema

import (
	"sort"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/ddfserve/ddfserve/internal/ddfsrv/table"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// timeDomains are the single-component keys treated as in-domain joins of a
// datapoint table against itself; they have no entity table.
var timeDomains = map[string]bool{
	"time": true, "year": true, "quarter": true,
	"month": true, "week": true, "day": true,
}

// IsTimeConcept reports whether name is a time-domain concept.
func IsTimeConcept(name string) bool {
	return timeDomains[name]
}

// Model is the schema of one (dataset, version).
type Model struct {
	Dataset string `json:"dataset"`
	Version string `json:"version"`

	Concepts   *table.Def            `json:"concepts,omitempty"`
	Entities   map[string]*table.Def `json:"entities,omitempty"`   // by domain
	Datapoints map[string]*table.Def `json:"datapoints,omitempty"` // by key id

	// Domains maps each entity set to its entity domain.
	Domains   map[string]string `json:"domains,omitempty"`
	Languages []string          `json:"languages,omitempty"`

	// Tables caches every physical table name; maintained on marshal so the
	// catalog can list backing tables without decoding the whole model.
	Tables []string `json:"tables"`
}

// New returns an empty model for the given dataset version.
func New(dataset, version string) *Model {
	return &Model{
		Dataset:    dataset,
		Version:    version,
		Entities:   map[string]*table.Def{},
		Datapoints: map[string]*table.Def{},
		Domains:    map[string]string{},
	}
}

// ResolveDomain maps an entity set to its domain; concepts that are not
// entity sets resolve to themselves.
func (m *Model) ResolveDomain(concept string) string {
	if d, ok := m.Domains[concept]; ok && d != "" {
		return d
	}
	return concept
}

// NormalizeKey rewrites entity-set key components to their domains and
// returns the sorted result.
func (m *Model) NormalizeKey(key []string) []string {
	out := make([]string, len(key))
	for i, k := range key {
		out[i] = m.ResolveDomain(k)
	}
	sort.Strings(out)
	return out
}

// EntityTable returns the entity table serving the given domain or set.
func (m *Model) EntityTable(domainOrSet string) (*table.Def, bool) {
	def, ok := m.Entities[m.ResolveDomain(domainOrSet)]
	return def, ok
}

// DatapointTable returns the datapoint table for a key, normalising entity
// sets to their domains.
func (m *Model) DatapointTable(key []string) (*table.Def, bool) {
	def, ok := m.Datapoints[table.KeyID(m.NormalizeKey(key))]
	return def, ok
}

// EnsureDatapointTable returns the datapoint table for a key, creating and
// merging it into the domain-normalised definition as needed.
func (m *Model) EnsureDatapointTable(key []string) *table.Def {
	normalized := m.NormalizeKey(key)
	id := table.KeyID(normalized)
	def, ok := m.Datapoints[id]
	if !ok {
		def = table.NewDef(table.KindDatapoints, normalized)
		m.Datapoints[id] = def
	}
	for _, k := range key {
		if m.ResolveDomain(k) != k {
			def.AddSet(k)
		}
	}
	return def
}

// Language matches lang against the declared languages, case-insensitively,
// and returns the declared spelling. Translation column names carry the
// declared casing, so callers must use the returned value.
func (m *Model) Language(lang string) (string, bool) {
	for _, l := range m.Languages {
		if strings.EqualFold(l, lang) {
			return l, true
		}
	}
	return "", false
}

// TableNames lists every physical table of the model.
func (m *Model) TableNames() []string {
	var names []string
	if m.Concepts != nil {
		names = append(names, m.Concepts.TableNames()...)
	}
	for _, d := range sortedDefs(m.Entities) {
		names = append(names, d.TableNames()...)
	}
	for _, d := range sortedDefs(m.Datapoints) {
		names = append(names, d.TableNames()...)
	}
	return names
}

func sortedDefs(defs map[string]*table.Def) []*table.Def {
	keys := make([]string, 0, len(defs))
	for k := range defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*table.Def, 0, len(defs))
	for _, k := range keys {
		out = append(out, defs[k])
	}
	return out
}

// Marshal serializes the model for the catalog's definition column.
func (m *Model) Marshal() ([]byte, error) {
	m.Tables = m.TableNames()
	return json.Marshal(m)
}

// Load deserializes a model from the catalog's definition column.
func Load(data []byte) (*Model, error) {
	m := New("", "")
	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}
	return m, nil
}
