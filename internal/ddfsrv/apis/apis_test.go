package apis

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ddfserve/ddfserve/internal/common/apperrors"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/assets"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/config"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/db/dberror"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/db/models"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/schema"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/table"
)

func TestMain(m *testing.M) {
	config.TestInit()
	m.Run()
}

// fakeCatalog serves a fixed set of datasets, resolving the way the real
// catalog does: default first, then most recent.
type fakeCatalog struct {
	datasets []models.Dataset
}

func (f *fakeCatalog) List(ctx context.Context, name string) ([]models.Dataset, apperrors.Error) {
	return f.datasets, nil
}

func (f *fakeCatalog) Lookup(ctx context.Context, name, version string) (*models.Dataset, apperrors.Error) {
	var fallback *models.Dataset
	for i := range f.datasets {
		ds := &f.datasets[i]
		if ds.Name != name {
			continue
		}
		switch version {
		case ds.Version:
			return ds, nil
		case "", "latest":
			if ds.IsDefault && version == "" {
				return ds, nil
			}
			if fallback == nil {
				fallback = ds
			}
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, dberror.ErrNotFound.Msg("no such dataset")
}

func testDefinition(t *testing.T) []byte {
	t.Helper()
	m := schema.New("systema", "2024052201")
	m.Domains["country"] = "geo"

	dp := m.EnsureDatapointTable([]string{"country", "time"})
	dp.SetColumn(&table.Column{Name: "geo", Type: "VARCHAR(64)"})
	dp.SetColumn(&table.Column{Name: "time", Type: "INTEGER"})
	dp.AddValue("population_total")
	dp.SetColumn(&table.Column{Name: "population_total", Type: "BIGINT"})
	dp.Partition("systema_2024052201__datapoints__geo__time", 1000, 8000)

	definition, err := m.Marshal()
	require.NoError(t, err)
	return definition
}

func testServer(t *testing.T) *Server {
	t.Helper()
	definition := testDefinition(t)
	store, err := assets.NewLocalStore(t.TempDir(), assets.LocalURLPrefix)
	require.NoError(t, err)
	return &Server{
		Catalog: &fakeCatalog{datasets: []models.Dataset{
			{Name: "systema", Version: "2024052201", IsDefault: true, Definition: definition},
			{Name: "systema", Version: "2024052101", Definition: definition},
			{Name: "secret", Version: "2024052201", Definition: definition,
				PasswordHash: models.HashPassword("opensesame")},
		}},
		Store: store,
	}
}

func get(t *testing.T, s *Server, target string, opts ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for _, o := range opts {
		o(req)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func schemaQueryString() string {
	return url.QueryEscape(`{"select": {"key": ["key", "value"], "value": []}, "from": "datapoints.schema"}`)
}

func TestListDatasets(t *testing.T) {
	rec := get(t, testServer(t), "/")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))

	var entries []map[string]any
	require.NoError(t, jsoniter.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 3)
	assert.Equal(t, true, entries[0]["default"])
	_, hasDefault := entries[1]["default"]
	assert.False(t, hasDefault, "non-default entries omit the flag")
}

func TestServiceDirectory(t *testing.T) {
	rec := get(t, testServer(t), "/ddf-service-directory")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"list": "/", "query": "/DATASET/VERSION", "assets": "DATASET/VERSION/assets/ASSET"}`,
		rec.Body.String())
}

func TestVersionlessQueryRedirects(t *testing.T) {
	rec := get(t, testServer(t), "/systema?"+schemaQueryString())
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/systema/2024052201?"+schemaQueryString(), rec.Header().Get("Location"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-cache")
}

func TestSchemaQuery(t *testing.T) {
	rec := get(t, testServer(t), "/systema/2024052201?"+schemaQueryString())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var out map[string]any
	require.NoError(t, jsoniter.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "2024052201", out["version"])
	assert.Equal(t, []any{"key", "value"}, out["header"])
	assert.Equal(t, []any{[]any{[]any{"geo", "time"}, "population_total"}}, out["rows"])

	assert.Equal(t, "public, max-age=31536000, immutable", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "systema/2024052201", rec.Header().Get("Cache-Tag"))
}

func TestUnknownDataset(t *testing.T) {
	rec := get(t, testServer(t), "/nosuch/2024052201?"+schemaQueryString())
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Equal(t, "Dataset nosuch is not loaded.", rec.Body.String())
}

func TestMissingQuery(t *testing.T) {
	rec := get(t, testServer(t), "/systema/2024052201")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMalformedQuery(t *testing.T) {
	rec := get(t, testServer(t), "/systema/2024052201?"+url.QueryEscape(`{"from": "datapoints"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "select")
}

func TestPasswordProtection(t *testing.T) {
	s := testServer(t)

	rec := get(t, s, "/secret/2024052201?"+schemaQueryString())
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, `Basic realm="Access to secret data", charset="UTF-8"`,
		rec.Header().Get("WWW-Authenticate"))

	rec = get(t, s, "/secret/2024052201?"+schemaQueryString(), func(r *http.Request) {
		r.SetBasicAuth("anyone", "wrong")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = get(t, s, "/secret/2024052201?"+schemaQueryString(), func(r *http.Request) {
		r.SetBasicAuth("anyone", "opensesame")
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-cache",
		"protected responses are never publicly cacheable")
}

func TestAssetRedirect(t *testing.T) {
	rec := get(t, testServer(t), "/systema/2024052201/assets/world.geojson")
	require.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "/_assets/systema/2024052201/world.geojson", rec.Header().Get("Location"))
}

func TestVersionlessAssetRedirect(t *testing.T) {
	rec := get(t, testServer(t), "/systema/assets/maps/world.geojson")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/systema/2024052201/assets/maps/world.geojson", rec.Header().Get("Location"))
}

func TestReadyWithoutDatabase(t *testing.T) {
	// the catalog-backed routes must not panic when the pool is absent
	rec := get(t, testServer(t), "/ddf-service-directory")
	assert.Equal(t, http.StatusOK, rec.Code)
}
