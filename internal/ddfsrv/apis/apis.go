// Package apis exposes the HTTP surface of the service: the dataset list,
// the service directory, the query endpoint with version resolution, and
// asset redirects.
package apis

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ddfserve/ddfserve/internal/common/apperrors"
	"github.com/ddfserve/ddfserve/internal/common/httpx"
	"github.com/ddfserve/ddfserve/internal/common/middleware"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/admission"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/assets"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/config"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/db/dberror"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/db/dbmanager"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/db/models"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/schema"
)

// Catalog is the catalog surface the handlers read from.
type Catalog interface {
	List(ctx context.Context, name string) ([]models.Dataset, apperrors.Error)
	Lookup(ctx context.Context, name, version string) (*models.Dataset, apperrors.Error)
}

// Server bundles the dependencies of the HTTP handlers.
type Server struct {
	Pool      *dbmanager.Pool
	Catalog   Catalog
	Store     assets.Store
	Admission *admission.Controller // nil disables admission control

	// schema models are immutable per (name, version); decoded once
	modelCache sync.Map
}

// Router builds the HTTP routing tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger)
	r.Use(middleware.PanicHandler)
	r.Use(chimw.Compress(5, "application/json", "text/plain"))
	if s.Admission != nil {
		r.Use(s.Admission.Middleware)
	}

	r.Get("/", httpx.WrapHandler(s.list))
	r.Get("/ddf-service-directory", httpx.WrapHandler(s.serviceDirectory))
	r.Get("/_ready", httpx.WrapHandler(s.ready))

	if token := config.Config().LoaderIOToken; token != "" {
		r.Get("/"+token+".txt", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte(token))
		})
	}
	if local, ok := s.Store.(*assets.LocalStore); ok {
		r.Mount(assets.LocalURLPrefix, http.StripPrefix(assets.LocalURLPrefix,
			http.FileServer(http.Dir(local.Dir()))))
	}

	r.Get("/{dataset}", httpx.WrapHandler(s.queryWithoutVersion))
	r.Get("/{dataset}/assets/*", httpx.WrapHandler(s.assetWithoutVersion))
	r.Get("/{dataset}/{version}", httpx.WrapHandler(s.query))
	r.Get("/{dataset}/{version}/assets/*", httpx.WrapHandler(s.asset))
	return r
}

// open resolves a dataset version and enforces its password.
func (s *Server) open(r *http.Request, name, version string) (*models.Dataset, error) {
	ds, aerr := s.Catalog.Lookup(r.Context(), name, version)
	if aerr != nil {
		if errors.Is(aerr, dberror.ErrNotFound) {
			return nil, httpx.ErrNotFound("Dataset " + name + " is not loaded.")
		}
		return nil, aerr
	}
	if ds.Protected() {
		_, password, ok := r.BasicAuth()
		if !ok || !ds.CheckPassword(password) {
			return nil, httpx.ErrUnauthorized("Access to " + name + " data")
		}
	}
	return ds, nil
}

// model returns the decoded schema model of a dataset version.
func (s *Server) model(ds *models.Dataset) (*schema.Model, apperrors.Error) {
	key := ds.Name + "/" + ds.Version
	if cached, ok := s.modelCache.Load(key); ok {
		return cached.(*schema.Model), nil
	}
	m, err := schema.Load(ds.Definition)
	if err != nil {
		return nil, apperrors.New("stored dataset definition is unreadable").Err(err)
	}
	s.modelCache.Store(key, m)
	return m, nil
}

// cacheHeaders implements the caching policy: immutable for version-pinned
// responses of unprotected datasets, no-cache for everything else or when
// caching is globally disabled.
func cacheHeaders(name, version string, protected bool) map[string]string {
	if !config.Config().CacheAllow || protected {
		return map[string]string{"Cache-Control": "no-cache, no-store, must-revalidate"}
	}
	return map[string]string{
		"Cache-Control": "public, max-age=31536000, immutable",
		"Cache-Tag":     name + "/" + version,
	}
}

func noCacheHeaders() map[string]string {
	return map[string]string{"Cache-Control": "no-cache"}
}
