package loader

import (
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/ddfserve/ddfserve/internal/common/apperrors"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/schema"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/table"
)

// rowSizeLimit is the engine's approximate row width cap; tables are split
// preemptively below it.
const rowSizeLimit = 8000

// resourceLoad is one CSV file feeding a logical table, with the header
// renames and constant columns its load needs.
type resourceLoad struct {
	res       *Resource
	colMap    map[string]string
	constants map[string]any
}

// tablePlan pairs a logical table with its inferred column statistics and
// the resources that fill it.
type tablePlan struct {
	def   *table.Def
	stats map[string]*table.ColumnStats
	loads []resourceLoad
}

func newTablePlan(def *table.Def) *tablePlan {
	return &tablePlan{def: def, stats: map[string]*table.ColumnStats{}}
}

// buildResult is the outcome of the schema derivation pass: the model plus
// per-table load plans, produced without touching the database.
type buildResult struct {
	model      *schema.Model
	concepts   *tablePlan
	entities   map[string]*tablePlan // by domain
	datapoints map[string]*tablePlan // by key id
}

// buildModel runs the schema inference pass over the package: concepts
// first, so the entity-set to domain map exists before entity and datapoint
// keys are normalised.
func (l *Loader) buildModel(pkg *Package, name, version string) (*buildResult, apperrors.Error) {
	m := schema.New(name, version)
	m.Languages = pkg.Languages()
	b := &buildResult{
		model:      m,
		entities:   map[string]*tablePlan{},
		datapoints: map[string]*tablePlan{},
	}

	if aerr := b.buildConcepts(pkg, m); aerr != nil {
		return nil, aerr
	}
	if aerr := b.buildEntities(pkg, m); aerr != nil {
		return nil, aerr
	}
	if aerr := b.buildDatapoints(pkg, m); aerr != nil {
		return nil, aerr
	}

	maxColumns := l.MaxColumns
	if maxColumns <= 0 {
		maxColumns = 1000
	}
	b.concepts.finish(table.PhysicalName(name, version, "concepts"), maxColumns)
	for domain, plan := range b.entities {
		plan.finish(table.PhysicalName(name, version, "entities", domain), maxColumns)
	}
	for _, plan := range b.datapoints {
		plan.finish(table.PhysicalName(name, version, append([]string{"datapoints"}, plan.def.Key...)...), maxColumns)
	}
	return b, nil
}

func (b *buildResult) buildConcepts(pkg *Package, m *schema.Model) apperrors.Error {
	def := table.NewDef(table.KindConcepts, []string{"concept"})
	plan := newTablePlan(def)
	for _, entry := range pkg.Manifest.DDFSchema.Concepts {
		def.AddValue(entry.Value)
		for _, rname := range entry.Resources {
			def.AddResource(rname)
		}
	}

	for _, rname := range def.Resources {
		res, aerr := pkg.Resource(rname)
		if aerr != nil {
			return aerr
		}
		plan.loads = append(plan.loads, resourceLoad{res: res})
		// one streaming pass collects column statistics and the
		// entity-set to domain map
		aerr = forEachRecord(pkg.FilePath(res), func(header []string, record []string) apperrors.Error {
			plan.observe(header, record, nil)
			return harvestDomain(m, header, record)
		})
		if aerr != nil {
			return aerr
		}
	}

	plan.discoverTranslations(pkg)
	b.concepts = plan
	m.Concepts = def
	return nil
}

// harvestDomain records the domain of entity_set concepts from a concepts
// CSV row.
func harvestDomain(m *schema.Model, header []string, record []string) apperrors.Error {
	var concept, conceptType, domain string
	for i, h := range header {
		if i >= len(record) {
			break
		}
		switch h {
		case "concept":
			concept = record[i]
		case "concept_type":
			conceptType = record[i]
		case "domain":
			domain = record[i]
		}
	}
	if conceptType != "entity_set" || concept == "" || domain == "" {
		return nil
	}
	if existing, ok := m.Domains[concept]; ok && existing != domain {
		return ErrSchemaValidation.Msg("entity set " + concept + " is claimed by domains " + existing + " and " + domain)
	}
	m.Domains[concept] = domain
	return nil
}

func (b *buildResult) buildEntities(pkg *Package, m *schema.Model) apperrors.Error {
	for _, entry := range pkg.Manifest.DDFSchema.Entities {
		if len(entry.PrimaryKey) != 1 {
			return ErrSchemaValidation.Msg("entity tables are keyed by a single concept, got " + strings.Join(entry.PrimaryKey, ", "))
		}
		set := entry.PrimaryKey[0]
		domain := m.ResolveDomain(set)

		def, ok := m.Entities[domain]
		if !ok {
			def = table.NewDef(table.KindEntities, []string{domain})
			def.Domain = domain
			m.Entities[domain] = def
			b.entities[domain] = newTablePlan(def)
		}
		plan := b.entities[domain]

		if set != domain {
			def.AddSet(set)
		}
		switch {
		case entry.Value == "" || entry.Value == domain:
		case strings.HasPrefix(entry.Value, "is--"):
			// set membership markers are managed columns, never plain values
			def.AddSet(strings.TrimPrefix(entry.Value, "is--"))
		default:
			def.AddValue(entry.Value)
		}
		for _, rname := range entry.Resources {
			def.AddResource(rname)
			res, aerr := pkg.Resource(rname)
			if aerr != nil {
				return aerr
			}
			if plan.hasLoad(res) {
				continue
			}
			load := resourceLoad{res: res, colMap: map[string]string{}}
			if set != domain {
				load.colMap[set] = domain
				load.constants = map[string]any{"is--" + set: true}
			}
			plan.loads = append(plan.loads, load)
			aerr = forEachRecord(pkg.FilePath(res), func(header []string, record []string) apperrors.Error {
				plan.observe(header, record, load.colMap)
				for _, h := range header {
					if strings.HasPrefix(h, "is--") && m.ResolveDomain(strings.TrimPrefix(h, "is--")) == domain {
						def.AddSet(strings.TrimPrefix(h, "is--"))
					}
				}
				return nil
			})
			if aerr != nil {
				return aerr
			}
			// a set resource asserting membership through a column wins
			// over the injected constant
			if load.constants != nil {
				for _, f := range res.Schema.Fields {
					if f.Name == "is--"+set {
						delete(load.constants, "is--"+set)
					}
				}
			}
		}
		plan.discoverTranslations(pkg)
	}
	return nil
}

func (b *buildResult) buildDatapoints(pkg *Package, m *schema.Model) apperrors.Error {
	for _, entry := range pkg.Manifest.DDFSchema.Datapoints {
		def := m.EnsureDatapointTable(entry.PrimaryKey)
		id := table.KeyID(def.Key)
		plan, ok := b.datapoints[id]
		if !ok {
			plan = newTablePlan(def)
			b.datapoints[id] = plan
		}
		def.AddValue(entry.Value)

		// entity-set key components land in their domain column, with the
		// set membership marker asserted alongside
		colMap := map[string]string{}
		var constants map[string]any
		for _, k := range entry.PrimaryKey {
			if d := m.ResolveDomain(k); d != k {
				colMap[k] = d
				if constants == nil {
					constants = map[string]any{}
				}
				constants["is--"+k] = true
			}
		}
		for _, rname := range entry.Resources {
			def.AddResource(rname)
			res, aerr := pkg.Resource(rname)
			if aerr != nil {
				return aerr
			}
			if plan.hasLoad(res) {
				continue
			}
			plan.loads = append(plan.loads, resourceLoad{res: res, colMap: colMap, constants: constants})
			aerr = forEachRecord(pkg.FilePath(res), func(header []string, record []string) apperrors.Error {
				plan.observe(header, record, colMap)
				return nil
			})
			if aerr != nil {
				return aerr
			}
		}
		plan.discoverTranslations(pkg)
	}
	return nil
}

func (p *tablePlan) hasLoad(res *Resource) bool {
	for _, l := range p.loads {
		if l.res == res {
			return true
		}
	}
	return false
}

// observe feeds one CSV record into the column statistics, under the
// table-side column names.
func (p *tablePlan) observe(header []string, record []string, colMap map[string]string) {
	for i, h := range header {
		if i >= len(record) {
			break
		}
		target := h
		if colMap != nil {
			if t, ok := colMap[h]; ok {
				target = t
			}
		}
		s, ok := p.stats[target]
		if !ok {
			s = table.NewColumnStats(target)
			p.stats[target] = s
		}
		s.Observe(record[i])
	}
}

// discoverTranslations registers `_col--lang` columns for every declared
// value column that a translated copy of a contributing file provides.
func (p *tablePlan) discoverTranslations(pkg *Package) {
	for _, lang := range pkg.Languages() {
		for _, load := range p.loads {
			path := pkg.TranslationPath(lang, load.res)
			if path == "" {
				continue
			}
			header, err := readHeader(path)
			if err != nil {
				continue
			}
			for _, h := range header {
				if contains(p.def.Values, h) {
					p.def.AddTranslation(h, lang)
				}
			}
		}
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// finish freezes the inferred column types and assigns physical tables.
func (p *tablePlan) finish(baseName string, maxColumns int) {
	apply := func(name string) {
		s, ok := p.stats[name]
		if !ok {
			return
		}
		existing := p.def.Columns[name]
		col := &table.Column{Name: name, Type: s.SQLType(), Cardinality: s.Cardinality()}
		if existing != nil {
			col.Translations = existing.Translations
		}
		p.def.SetColumn(col)
	}
	for _, k := range p.def.Key {
		apply(k)
	}
	for _, v := range p.def.Values {
		apply(v)
	}
	p.def.Partition(baseName, maxColumns, rowSizeLimit)
}

// forEachRecord streams a CSV file record by record.
func forEachRecord(path string, fn func(header, record []string) apperrors.Error) apperrors.Error {
	f, err := os.Open(path)
	if err != nil {
		return ErrPackage.MsgErr("cannot open resource file "+path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		return ErrPackage.MsgErr("cannot read header of "+path, err)
	}
	for {
		record, err := r.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return ErrPackage.MsgErr("cannot parse "+path, err)
		}
		if aerr := fn(header, record); aerr != nil {
			return aerr
		}
	}
}

// readHeader returns the header row of a CSV file.
func readHeader(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return csv.NewReader(f).Read()
}
