package loader

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	drivermysql "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddfserve/ddfserve/internal/ddfsrv/assets"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/table"
)

const testManifest = `{
	"name": "systema",
	"translations": [{"id": "ru-RU"}],
	"resources": [
		{"name": "ddf--concepts", "path": "ddf--concepts.csv",
		 "schema": {"fields": [{"name": "concept"}, {"name": "concept_type"}, {"name": "domain"}, {"name": "name"}], "primaryKey": "concept"}},
		{"name": "ddf--entities--geo--country", "path": "ddf--entities--geo--country.csv",
		 "schema": {"fields": [{"name": "country"}, {"name": "name"}, {"name": "world_4region"}], "primaryKey": "country"}},
		{"name": "ddf--datapoints--population_total--by--country--time", "path": "ddf--datapoints--population_total--by--country--time.csv",
		 "schema": {"fields": [{"name": "country"}, {"name": "time"}, {"name": "population_total"}], "primaryKey": ["country", "time"]}}
	],
	"ddfSchema": {
		"concepts": [
			{"primaryKey": ["concept"], "value": "concept_type", "resources": ["ddf--concepts"]},
			{"primaryKey": ["concept"], "value": "domain", "resources": ["ddf--concepts"]},
			{"primaryKey": ["concept"], "value": "name", "resources": ["ddf--concepts"]}
		],
		"entities": [
			{"primaryKey": ["country"], "value": "name", "resources": ["ddf--entities--geo--country"]},
			{"primaryKey": ["country"], "value": "world_4region", "resources": ["ddf--entities--geo--country"]}
		],
		"datapoints": [
			{"primaryKey": ["country", "time"], "value": "population_total", "resources": ["ddf--datapoints--population_total--by--country--time"]}
		]
	}
}`

func writeTestPackage(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"datapackage.json": testManifest,
		"ddf--concepts.csv": "concept,concept_type,domain,name\n" +
			"geo,entity_domain,,Geography\n" +
			"country,entity_set,geo,Country\n" +
			"time,time,,Time\n" +
			"name,string,,Name\n" +
			"world_4region,string,,Region\n" +
			"population_total,measure,,Population\n",
		"ddf--entities--geo--country.csv": "country,name,world_4region\n" +
			"swe,Sweden,europe\n" +
			"usa,United States,americas\n",
		"ddf--datapoints--population_total--by--country--time.csv": "country,time,population_total\n" +
			"swe,1991,8617375\n" +
			"usa,1991,252981000\n",
		"lang/ru-RU/ddf--entities--geo--country.csv": "country,name\nswe,Швеция\n",
		"assets/world.geojson":                       `{"type":"FeatureCollection"}`,
	}
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func TestReadPackage(t *testing.T) {
	pkg, aerr := ReadPackage(writeTestPackage(t))
	require.Nil(t, aerr)

	assert.Equal(t, []string{"ru-RU"}, pkg.Languages())
	res, aerr := pkg.Resource("ddf--concepts")
	require.Nil(t, aerr)
	assert.Equal(t, Key{"concept"}, res.Schema.PrimaryKey)

	ent, aerr := pkg.Resource("ddf--entities--geo--country")
	require.Nil(t, aerr)
	assert.NotEmpty(t, pkg.TranslationPath("ru-RU", ent))
	dp, aerr := pkg.Resource("ddf--datapoints--population_total--by--country--time")
	require.Nil(t, aerr)
	assert.Empty(t, pkg.TranslationPath("ru-RU", dp))
}

func TestReadPackageWithoutSchema(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "datapackage.json"), []byte(`{"name": "x"}`), 0o644))

	_, aerr := ReadPackage(dir)
	require.NotNil(t, aerr)
	assert.True(t, errors.Is(aerr, ErrSchemaValidation))
}

func TestBuildModel(t *testing.T) {
	pkg, aerr := ReadPackage(writeTestPackage(t))
	require.Nil(t, aerr)

	l := &Loader{MaxColumns: 1000}
	b, aerr := l.buildModel(pkg, "systema", "2024052201")
	require.Nil(t, aerr)
	m := b.model

	assert.Equal(t, map[string]string{"country": "geo"}, m.Domains)
	assert.Equal(t, []string{"ru-RU"}, m.Languages)

	require.NotNil(t, m.Concepts)
	assert.ElementsMatch(t, []string{"concept_type", "domain", "name"}, m.Concepts.Values)

	geo, ok := m.Entities["geo"]
	require.True(t, ok)
	assert.Equal(t, []string{"country"}, geo.Sets)
	assert.ElementsMatch(t, []string{"name", "world_4region"}, geo.Values)
	assert.Equal(t, "name--ru-RU", geo.TranslatedColumn("name", "ru-RU"))
	assert.Equal(t, "world_4region", geo.TranslatedColumn("world_4region", "ru-RU"),
		"only columns the translation file provides get a translated twin")
	require.Len(t, geo.Shards, 1)
	assert.Equal(t, "systema_2024052201__entities__geo", geo.Shards[0].Table)

	dp, ok := m.DatapointTable([]string{"country", "time"})
	require.True(t, ok)
	assert.Equal(t, []string{"geo", "time"}, dp.Key)
	assert.Equal(t, []string{"country"}, dp.Sets)
	assert.Equal(t, "INTEGER", dp.Columns["time"].Type)
	assert.Equal(t, "INTEGER", dp.Columns["population_total"].Type)
}

type fakeResult struct{}

func (fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (fakeResult) RowsAffected() (int64, error) { return 1, nil }

type fakeExecer struct {
	stmts []string
	args  [][]any
}

func (f *fakeExecer) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	f.stmts = append(f.stmts, query)
	f.args = append(f.args, args)
	return fakeResult{}, nil
}

func (f *fakeExecer) joined() string {
	return strings.Join(f.stmts, "\n---\n")
}

func TestLoadEntities(t *testing.T) {
	pkg, aerr := ReadPackage(writeTestPackage(t))
	require.Nil(t, aerr)
	l := &Loader{MaxColumns: 1000}
	b, aerr := l.buildModel(pkg, "systema", "2024052201")
	require.Nil(t, aerr)

	db := &fakeExecer{}
	require.Nil(t, l.loadPlan(context.Background(), db, pkg, b.entities["geo"], false))

	sql := db.joined()
	assert.Contains(t, sql, "CREATE OR REPLACE TABLE `systema_2024052201__entities__geo`")
	assert.Contains(t, sql, "`is--country` BOOLEAN")
	assert.Contains(t, sql, "`name--ru-RU`")
	assert.Contains(t, sql, "AS (COALESCE(`_name--ru-RU`, `name`)) VIRTUAL")
	assert.Contains(t, sql, "ON DUPLICATE KEY UPDATE")
	assert.NotContains(t, sql, "ENGINE=CONNECT", "entities load row by row")

	// the set key lands in the domain column, membership as a constant
	var insertArgs []any
	for i, stmt := range db.stmts {
		if strings.HasPrefix(stmt, "INSERT INTO `systema_2024052201__entities__geo` (") &&
			strings.Contains(stmt, "`is--country`") {
			insertArgs = db.args[i]
		}
	}
	require.NotNil(t, insertArgs)
	assert.Contains(t, insertArgs, "swe")
	assert.Contains(t, insertArgs, true)

	// the translated copy feeds the stored column
	assert.Contains(t, sql, "`_name--ru-RU`")
}

func TestLoadDatapointsUsesExternalCopy(t *testing.T) {
	pkg, aerr := ReadPackage(writeTestPackage(t))
	require.Nil(t, aerr)
	l := &Loader{MaxColumns: 1000}
	b, aerr := l.buildModel(pkg, "systema", "2024052201")
	require.Nil(t, aerr)

	db := &fakeExecer{}
	plan := b.datapoints[table.KeyID([]string{"geo", "time"})]
	require.NotNil(t, plan)
	require.Nil(t, l.loadPlan(context.Background(), db, pkg, plan, true))

	sql := db.joined()
	assert.Contains(t, sql, "ENGINE=CONNECT TABLE_TYPE=CSV")
	assert.Contains(t, sql, "ALTER TABLE")
	assert.Contains(t, sql, "DROP PRIMARY KEY")
	assert.Contains(t, sql, "ADD PRIMARY KEY (`geo`, `time`)")
	assert.Contains(t, sql, "DROP TABLE IF EXISTS")

	// the set membership marker of the key's entity set is asserted on load,
	// so queries filtering on `is--country` see the rows
	assert.Contains(t, sql, "`is--country`")
	assert.Contains(t, sql, ", TRUE FROM")

	// DDL before load, index rebuild after
	assert.Less(t,
		indexOfStmt(db.stmts, "DROP PRIMARY KEY"),
		indexOfStmt(db.stmts, "ENGINE=CONNECT"))
	assert.Greater(t,
		indexOfStmt(db.stmts, "ADD PRIMARY KEY"),
		indexOfStmt(db.stmts, "ENGINE=CONNECT"))
}

// writeOverlappingPackage extends the test package with a second datapoint
// file over the same country,time key.
func writeOverlappingPackage(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	manifest := strings.Replace(testManifest,
		`{"name": "ddf--datapoints--population_total--by--country--time", "path": "ddf--datapoints--population_total--by--country--time.csv",
		 "schema": {"fields": [{"name": "country"}, {"name": "time"}, {"name": "population_total"}], "primaryKey": ["country", "time"]}}`,
		`{"name": "ddf--datapoints--population_total--by--country--time", "path": "ddf--datapoints--population_total--by--country--time.csv",
		 "schema": {"fields": [{"name": "country"}, {"name": "time"}, {"name": "population_total"}], "primaryKey": ["country", "time"]}},
		{"name": "ddf--datapoints--gdp--by--country--time", "path": "ddf--datapoints--gdp--by--country--time.csv",
		 "schema": {"fields": [{"name": "country"}, {"name": "time"}, {"name": "gdp"}], "primaryKey": ["country", "time"]}}`, 1)
	manifest = strings.Replace(manifest,
		`{"primaryKey": ["country", "time"], "value": "population_total", "resources": ["ddf--datapoints--population_total--by--country--time"]}`,
		`{"primaryKey": ["country", "time"], "value": "population_total", "resources": ["ddf--datapoints--population_total--by--country--time"]},
			{"primaryKey": ["country", "time"], "value": "gdp", "resources": ["ddf--datapoints--gdp--by--country--time"]}`, 1)

	files := map[string]string{
		"datapackage.json": manifest,
		"ddf--concepts.csv": "concept,concept_type,domain,name\n" +
			"geo,entity_domain,,Geography\n" +
			"country,entity_set,geo,Country\n" +
			"time,time,,Time\n" +
			"name,string,,Name\n" +
			"world_4region,string,,Region\n" +
			"population_total,measure,,Population\n" +
			"gdp,measure,,GDP\n",
		"ddf--entities--geo--country.csv": "country,name,world_4region\n" +
			"swe,Sweden,europe\n",
		"ddf--datapoints--population_total--by--country--time.csv": "country,time,population_total\n" +
			"swe,1991,8617375\n",
		"ddf--datapoints--gdp--by--country--time.csv": "country,time,gdp\n" +
			"swe,1992,1700\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return dir
}

func TestLoadDatapointsKeepsKeyForOverlappingResources(t *testing.T) {
	pkg, aerr := ReadPackage(writeOverlappingPackage(t))
	require.Nil(t, aerr)
	l := &Loader{MaxColumns: 1000}
	b, aerr := l.buildModel(pkg, "systema", "2024052201")
	require.Nil(t, aerr)

	db := &fakeExecer{}
	plan := b.datapoints[table.KeyID([]string{"geo", "time"})]
	require.NotNil(t, plan)
	require.Len(t, plan.loads, 2)
	require.Nil(t, l.loadPlan(context.Background(), db, pkg, plan, true))

	sql := db.joined()
	// two files fill the same table; the primary key must stay in place so
	// their rows merge through the upsert instead of duplicating
	assert.NotContains(t, sql, "DROP PRIMARY KEY")
	assert.NotContains(t, sql, "ADD PRIMARY KEY")
	assert.Equal(t, 2, strings.Count(sql, "ENGINE=CONNECT TABLE_TYPE=CSV"))
	assert.Contains(t, sql, "ON DUPLICATE KEY UPDATE")
}

type failingExecer struct {
	fakeExecer
	err   error
	calls int
}

func (f *failingExecer) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	f.calls++
	if f.calls == 1 {
		return nil, f.err
	}
	return f.fakeExecer.ExecContext(ctx, query, args...)
}

func TestCreateTablesResplitsWhenEngineRejectsWidth(t *testing.T) {
	pkg, aerr := ReadPackage(writeTestPackage(t))
	require.Nil(t, aerr)
	l := &Loader{MaxColumns: 1000}
	b, aerr := l.buildModel(pkg, "systema", "2024052201")
	require.Nil(t, aerr)

	plan := b.entities["geo"]
	require.Len(t, plan.def.Shards, 1)

	db := &failingExecer{err: &drivermysql.MySQLError{Number: 1118, Message: "Row size too large"}}
	require.Nil(t, l.createTables(context.Background(), db, plan))

	require.Greater(t, len(plan.def.Shards), 1, "the rejected table is split and recreated")
	sql := db.joined()
	assert.Contains(t, sql, "CREATE OR REPLACE TABLE `systema_2024052201__entities__geo`")
	assert.Contains(t, sql, "CREATE OR REPLACE TABLE `systema_2024052201__entities__geo_1`")
}

func TestCreateTablesPassesThroughOtherErrors(t *testing.T) {
	pkg, aerr := ReadPackage(writeTestPackage(t))
	require.Nil(t, aerr)
	l := &Loader{MaxColumns: 1000}
	b, aerr := l.buildModel(pkg, "systema", "2024052201")
	require.Nil(t, aerr)

	db := &failingExecer{err: &drivermysql.MySQLError{Number: 1044, Message: "Access denied"}}
	aerr = l.createTables(context.Background(), db, b.entities["geo"])
	require.NotNil(t, aerr)
	assert.Empty(t, db.stmts, "no retry on errors that are not width rejections")
}

func indexOfStmt(stmts []string, needle string) int {
	for i, s := range stmts {
		if strings.Contains(s, needle) {
			return i
		}
	}
	return -1
}

func TestUploadAssets(t *testing.T) {
	pkg, aerr := ReadPackage(writeTestPackage(t))
	require.Nil(t, aerr)

	storeDir := t.TempDir()
	store, err := assets.NewLocalStore(storeDir, assets.LocalURLPrefix)
	require.NoError(t, err)

	l := &Loader{Store: store}
	n, aerr := l.uploadAssets(context.Background(), pkg, "systema", "2024052201")
	require.Nil(t, aerr)
	assert.Equal(t, 1, n)

	data, err := os.ReadFile(filepath.Join(storeDir, "systema", "2024052201", "world.geojson"))
	require.NoError(t, err)
	assert.Equal(t, `{"type":"FeatureCollection"}`, string(data))
}

func TestAssignVersion(t *testing.T) {
	now := time.Date(2024, 5, 22, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		prior string
		want  string
	}{
		{"", "2024052201"},
		{"2024052201", "2024052202"},
		{"2024052209", "2024052210"},
		{"2024010105", "2024010106"},
		{"v2-01", "v2-02"},
		{"alpha", "alpha1"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AssignVersion(tt.prior, now), "prior %q", tt.prior)
	}
}

func TestValidateVersion(t *testing.T) {
	assert.True(t, errors.Is(ValidateVersion("latest"), ErrVersion))
	assert.True(t, errors.Is(ValidateVersion("_ALL_"), ErrVersion))
	assert.True(t, errors.Is(ValidateVersion(strings.Repeat("v", 41)), ErrVersion))
	assert.Nil(t, ValidateVersion("2024052201"))
}

func TestValidateName(t *testing.T) {
	assert.Nil(t, ValidateName("systema-globalis_2"))
	assert.True(t, errors.Is(ValidateName("SystemA"), ErrName))
	assert.True(t, errors.Is(ValidateName("bad name"), ErrName))
}
