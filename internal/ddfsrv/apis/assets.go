package apis

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ddfserve/ddfserve/internal/common/httpx"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/assets"
)

// asset redirects a version-pinned asset request to the store-issued URL.
func (s *Server) asset(r *http.Request) (*httpx.Response, error) {
	name := chi.URLParam(r, "dataset")
	version := chi.URLParam(r, "version")
	file := chi.URLParam(r, "*")
	if file == "" {
		return nil, httpx.ErrBadRequest("the request names no asset")
	}

	ds, aerr := s.Catalog.Lookup(r.Context(), name, version)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{
		StatusCode: http.StatusMovedPermanently,
		Location:   s.Store.URL(assets.Key(name, ds.Version, file)),
		Headers:    cacheHeaders(name, ds.Version, ds.Protected()),
	}, nil
}

// assetWithoutVersion resolves the version first, then redirects to the
// version-qualified asset URL.
func (s *Server) assetWithoutVersion(r *http.Request) (*httpx.Response, error) {
	name := chi.URLParam(r, "dataset")
	file := chi.URLParam(r, "*")
	if file == "" {
		return nil, httpx.ErrBadRequest("the request names no asset")
	}

	ds, aerr := s.Catalog.Lookup(r.Context(), name, "")
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{
		StatusCode: http.StatusFound,
		Location:   "/" + name + "/" + ds.Version + "/assets/" + file,
		Headers:    map[string]string{"Cache-Control": "no-cache, no-store, must-revalidate"},
	}, nil
}
