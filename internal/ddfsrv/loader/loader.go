// Package loader ingests a DDF package directory into the database: schema
// inference over the CSV resources, table creation, bulk load, translation
// columns, index planning, asset upload, and finally the catalog entry.
package loader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ddfserve/ddfserve/internal/common/apperrors"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/assets"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/db/dberror"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/db/dbmanager"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/db/models"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/db/mysql"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/notify"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/schema"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/table"
)

// upsertChunk bounds how many CSV records are buffered between upserts.
const upsertChunk = 4000

// Loader runs dataset ingestion. All fields except Notifier are required.
type Loader struct {
	Pool       *dbmanager.Pool
	Catalog    *mysql.Catalog
	Store      assets.Store
	Notifier   *notify.Notifier
	MaxColumns int
}

// Options selects what one Run does.
type Options struct {
	Dir     string
	Name    string
	Version string // empty: derive from the latest prior version

	Password   string
	Publish    bool
	OnlyParse  bool // stop after schema derivation, no database work
	AssetsOnly bool // only upload assets of an existing version
}

// Result reports what a Run produced.
type Result struct {
	Model          *schema.Model
	Version        string
	Tables         int
	AssetsUploaded int
}

// Run performs one ingestion.
func (l *Loader) Run(ctx context.Context, opt Options) (*Result, apperrors.Error) {
	if aerr := ValidateName(opt.Name); aerr != nil {
		return nil, aerr
	}
	if opt.Version != "" {
		if aerr := ValidateVersion(opt.Version); aerr != nil {
			return nil, aerr
		}
	}
	pkg, aerr := ReadPackage(opt.Dir)
	if aerr != nil {
		return nil, aerr
	}

	if opt.AssetsOnly {
		return l.runAssetsOnly(ctx, pkg, opt)
	}

	version, aerr := l.resolveVersion(ctx, opt)
	if aerr != nil {
		return nil, aerr
	}

	build, aerr := l.buildModel(pkg, opt.Name, version)
	if aerr != nil {
		return nil, aerr
	}
	if opt.OnlyParse {
		return &Result{Model: build.model, Version: version}, nil
	}

	start := time.Now()
	l.Notifier.Send(ctx, fmt.Sprintf("loading dataset %s version %s", opt.Name, version))

	if aerr := l.ingest(ctx, pkg, build); aerr != nil {
		l.Notifier.Send(ctx, fmt.Sprintf("loading dataset %s version %s FAILED: %v", opt.Name, version, aerr))
		return nil, aerr
	}

	uploaded, aerr := l.uploadAssets(ctx, pkg, opt.Name, version)
	if aerr != nil {
		l.Notifier.Send(ctx, fmt.Sprintf("loading dataset %s version %s FAILED: %v", opt.Name, version, aerr))
		return nil, aerr
	}

	if aerr := l.register(ctx, build.model, opt, version); aerr != nil {
		return nil, aerr
	}

	tables := len(build.model.TableNames())
	l.Notifier.Send(ctx, fmt.Sprintf("loaded dataset %s version %s: %d tables, %d assets, took %s",
		opt.Name, version, tables, uploaded, time.Since(start).Round(time.Second)))
	return &Result{Model: build.model, Version: version, Tables: tables, AssetsUploaded: uploaded}, nil
}

func (l *Loader) runAssetsOnly(ctx context.Context, pkg *Package, opt Options) (*Result, apperrors.Error) {
	version := opt.Version
	if version == "" {
		ds, aerr := l.Catalog.Lookup(ctx, opt.Name, "")
		if aerr != nil {
			return nil, aerr
		}
		version = ds.Version
	}
	uploaded, aerr := l.uploadAssets(ctx, pkg, opt.Name, version)
	if aerr != nil {
		return nil, aerr
	}
	return &Result{Version: version, AssetsUploaded: uploaded}, nil
}

// resolveVersion derives or validates the target version, failing fast when
// it already exists.
func (l *Loader) resolveVersion(ctx context.Context, opt Options) (string, apperrors.Error) {
	if opt.Version == "" {
		prior := ""
		if ds, aerr := l.Catalog.Lookup(ctx, opt.Name, "latest"); aerr == nil {
			prior = ds.Version
		} else if !errors.Is(aerr, dberror.ErrNotFound) {
			return "", aerr
		}
		return AssignVersion(prior, time.Now()), nil
	}
	if _, aerr := l.Catalog.Lookup(ctx, opt.Name, opt.Version); aerr == nil {
		return "", dberror.ErrAlreadyExists.Msg(fmt.Sprintf("dataset %s version %s is already loaded", opt.Name, opt.Version))
	} else if !errors.Is(aerr, dberror.ErrNotFound) {
		return "", aerr
	}
	return opt.Version, nil
}

// ingest creates and fills every table of the model: concepts row by row,
// entities row by row with their set markers, datapoints through the
// external-table copy with index rebuild around the bulk load.
func (l *Loader) ingest(ctx context.Context, pkg *Package, b *buildResult) apperrors.Error {
	db := l.Pool.DB()

	if aerr := l.loadPlan(ctx, db, pkg, b.concepts, false); aerr != nil {
		return aerr
	}
	for _, domain := range sortedKeys(b.entities) {
		if aerr := l.loadPlan(ctx, db, pkg, b.entities[domain], false); aerr != nil {
			return aerr
		}
	}
	for _, id := range sortedKeys(b.datapoints) {
		if aerr := l.loadPlan(ctx, db, pkg, b.datapoints[id], true); aerr != nil {
			return aerr
		}
	}
	return nil
}

// loadPlan fills one logical table. bulk selects the external-table copy
// for resources without translated copies; translated files always go row
// by row into the stored translation columns.
func (l *Loader) loadPlan(ctx context.Context, db table.Execer, pkg *Package, plan *tablePlan, bulk bool) apperrors.Error {
	def := plan.def
	if aerr := l.createTables(ctx, db, plan); aerr != nil {
		return aerr
	}
	// dropping the primary key is only safe when a single untranslated file
	// fills the table; overlapping resources rely on the key to merge rows
	bulkDrop := bulk && len(plan.loads) == 1 && !l.hasTranslations(pkg, plan.loads[0].res)
	if bulkDrop {
		if aerr := l.execAll(ctx, db, def.DropPrimaryIndexDDL()); aerr != nil {
			return aerr
		}
	}

	for _, load := range plan.loads {
		opt := table.LoadOptions{ColumnMap: load.colMap, Constants: load.constants}
		if bulk && !l.hasTranslations(pkg, load.res) {
			file, err := filepath.Abs(pkg.FilePath(load.res))
			if err != nil {
				return ErrPackage.MsgErr("cannot resolve resource path", err)
			}
			header, err := readHeader(pkg.FilePath(load.res))
			if err != nil {
				return ErrPackage.MsgErr("cannot read resource header", err)
			}
			if aerr := l.execAll(ctx, db, def.ExternalLoadSQL(file, header, plan.stats, opt)); aerr != nil {
				return aerr
			}
		} else if aerr := l.upsertFile(ctx, db, def, pkg.FilePath(load.res), opt); aerr != nil {
			return aerr
		}

		for _, lang := range pkg.Languages() {
			path := pkg.TranslationPath(lang, load.res)
			if path == "" {
				continue
			}
			if aerr := l.upsertTranslation(ctx, db, def, path, lang, load); aerr != nil {
				return aerr
			}
		}
	}

	if bulkDrop {
		if aerr := l.execAll(ctx, db, def.AddPrimaryIndexDDL()); aerr != nil {
			return aerr
		}
	}
	if bulk {
		if aerr := l.execAll(ctx, db, def.SecondaryIndexDDL()); aerr != nil {
			return aerr
		}
	}
	return nil
}

// createTables issues the CREATE statements of a plan. The row width estimate
// behind the split is approximate; when the engine still rejects a shard as
// too wide, the split parameters are halved and the partitioning redone until
// the shards fit.
func (l *Loader) createTables(ctx context.Context, db table.Execer, plan *tablePlan) apperrors.Error {
	def := plan.def
	base := def.Shards[0].Table
	maxColumns := l.MaxColumns
	if maxColumns <= 0 {
		maxColumns = 1000
	}
	width := rowSizeLimit

	for {
		var execErr error
		for _, stmt := range def.CreateDDL() {
			log.Ctx(ctx).Debug().Str("sql", stmt).Msg("executing statement")
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				execErr = err
				break
			}
		}
		if execErr == nil {
			return nil
		}
		if !dbmanager.IsTableTooWide(execErr) {
			return dberror.ErrDatabase.MsgErr("table creation failed", execErr)
		}

		// shrink until the split actually produces more shards
		prev := len(def.Shards)
		for len(def.Shards) <= prev {
			if maxColumns <= 1 && width <= 64 {
				return dberror.ErrDatabase.MsgErr("cannot split "+base+" into narrow enough shards", execErr)
			}
			if maxColumns > 1 {
				maxColumns /= 2
			}
			if width > 64 {
				width /= 2
			}
			def.Partition(base, maxColumns, width)
		}
		log.Ctx(ctx).Warn().Str("table", base).Int("shards", len(def.Shards)).
			Msg("table rejected as too wide, retrying with a narrower split")
	}
}

func (l *Loader) hasTranslations(pkg *Package, res *Resource) bool {
	for _, lang := range pkg.Languages() {
		if pkg.TranslationPath(lang, res) != "" {
			return true
		}
	}
	return false
}

// upsertFile streams a CSV file into the table in bounded chunks.
func (l *Loader) upsertFile(ctx context.Context, db table.Execer, def *table.Def, path string, opt table.LoadOptions) apperrors.Error {
	var header []string
	records := make([][]string, 0, upsertChunk)
	flush := func() apperrors.Error {
		if len(records) == 0 {
			return nil
		}
		if err := def.UpsertRows(ctx, db, header, records, opt); err != nil {
			return dberror.ErrDatabase.MsgErr("bulk upsert into "+def.Shards[0].Table+" failed", err)
		}
		records = records[:0]
		return nil
	}
	aerr := forEachRecord(path, func(h, rec []string) apperrors.Error {
		header = h
		records = append(records, rec)
		if len(records) >= upsertChunk {
			return flush()
		}
		return nil
	})
	if aerr != nil {
		return aerr
	}
	return flush()
}

// upsertTranslation loads a translated copy of a resource: key columns map
// like the base file, translated values land in their stored `_col--lang`
// column, anything else is dropped.
func (l *Loader) upsertTranslation(ctx context.Context, db table.Execer, def *table.Def, path, lang string, load resourceLoad) apperrors.Error {
	header, err := readHeader(path)
	if err != nil {
		return ErrPackage.MsgErr("cannot read translation header", err)
	}
	colMap := map[string]string{}
	for _, h := range header {
		if t, ok := load.colMap[h]; ok {
			colMap[h] = t
			continue
		}
		if def.IsKeyColumn(h) {
			continue
		}
		colMap[h] = "_" + h + "--" + lang
	}
	return l.upsertFile(ctx, db, def, path, table.LoadOptions{ColumnMap: colMap})
}

// register persists the schema model in the catalog and optionally promotes
// the new version to default.
func (l *Loader) register(ctx context.Context, m *schema.Model, opt Options, version string) apperrors.Error {
	definition, err := m.Marshal()
	if err != nil {
		return dberror.ErrDatabase.MsgErr("cannot serialize schema model", err)
	}
	ds := &models.Dataset{
		Name:       opt.Name,
		Version:    version,
		Definition: definition,
	}
	if opt.Password != "" {
		ds.PasswordHash = models.HashPassword(opt.Password)
	}
	if aerr := l.Catalog.InsertNew(ctx, ds); aerr != nil {
		return aerr
	}
	if opt.Publish {
		return l.Catalog.MarkDefault(ctx, opt.Name, version)
	}
	return nil
}

// uploadAssets pushes every file under assets/ to the store.
func (l *Loader) uploadAssets(ctx context.Context, pkg *Package, name, version string) (int, apperrors.Error) {
	dir := pkg.AssetDir()
	if dir == "" {
		return 0, nil
	}
	uploaded := 0
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		key := assets.Key(name, version, filepath.ToSlash(rel))
		if err := l.Store.Put(ctx, key, f, info.Size()); err != nil {
			return err
		}
		log.Ctx(ctx).Debug().Str("key", key).Msg("uploaded asset")
		uploaded++
		return nil
	})
	if err != nil {
		return uploaded, ErrPackage.MsgErr("asset upload failed", err)
	}
	return uploaded, nil
}

func (l *Loader) execAll(ctx context.Context, db table.Execer, stmts []string) apperrors.Error {
	for _, stmt := range stmts {
		log.Ctx(ctx).Debug().Str("sql", stmt).Msg("executing statement")
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return dberror.ErrDatabase.MsgErr("statement failed: "+stmt, err)
		}
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
