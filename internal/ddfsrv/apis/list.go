package apis

import (
	"net/http"

	"github.com/ddfserve/ddfserve/internal/common/httpx"
)

// listEntry is one row of the dataset listing.
type listEntry struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Default bool   `json:"default,omitempty"`
}

func (s *Server) list(r *http.Request) (*httpx.Response, error) {
	datasets, aerr := s.Catalog.List(r.Context(), "")
	if aerr != nil {
		return nil, aerr
	}
	entries := make([]listEntry, 0, len(datasets))
	for _, ds := range datasets {
		entries = append(entries, listEntry{Name: ds.Name, Version: ds.Version, Default: ds.IsDefault})
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Headers:    noCacheHeaders(),
		Response:   entries,
	}, nil
}

// serviceDirectory tells clients how the endpoints are shaped.
func (s *Server) serviceDirectory(r *http.Request) (*httpx.Response, error) {
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Headers:    noCacheHeaders(),
		Response: map[string]string{
			"list":   "/",
			"query":  "/DATASET/VERSION",
			"assets": "DATASET/VERSION/assets/ASSET",
		},
	}, nil
}

// ready reports whether the database is reachable; load balancers poll it.
func (s *Server) ready(r *http.Request) (*httpx.Response, error) {
	if s.Pool == nil {
		return nil, httpx.ErrServiceBusy()
	}
	if err := s.Pool.Ping(r.Context()); err != nil {
		return nil, httpx.ErrServiceBusy()
	}
	return &httpx.Response{
		StatusCode:  http.StatusOK,
		ContentType: "text/plain",
		Response:    "ok",
	}, nil
}
