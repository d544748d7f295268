package apis

import (
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/ddfserve/ddfserve/internal/common/httpx"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/db/dberror"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/query"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/stream"
)

// slowQueryThreshold is the duration past which a query is logged as slow.
const slowQueryThreshold = time.Second

// queryWithoutVersion pins a version-less query to the resolved version so
// every cacheable response is keyed by an explicit version. The original
// query string travels along verbatim.
func (s *Server) queryWithoutVersion(r *http.Request) (*httpx.Response, error) {
	name := chi.URLParam(r, "dataset")
	ds, aerr := s.Catalog.Lookup(r.Context(), name, "")
	if aerr != nil {
		return nil, aerr
	}
	location := "/" + name + "/" + ds.Version
	if r.URL.RawQuery != "" {
		location += "?" + r.URL.RawQuery
	}
	return &httpx.Response{
		StatusCode: http.StatusFound,
		Location:   location,
		Headers:    map[string]string{"Cache-Control": "no-cache, no-store, must-revalidate"},
	}, nil
}

func (s *Server) query(r *http.Request) (*httpx.Response, error) {
	name := chi.URLParam(r, "dataset")
	version := chi.URLParam(r, "version")

	ds, err := s.open(r, name, version)
	if err != nil {
		return nil, err
	}
	m, aerr := s.model(ds)
	if aerr != nil {
		return nil, aerr
	}

	raw := rawQuery(r)
	if raw == "" {
		return nil, httpx.ErrBadRequest("the request carries no query")
	}
	q, qerr := query.Decode(raw)
	if qerr != nil {
		return nil, qerr
	}
	plan, qerr := query.Compile(m, q)
	if qerr != nil {
		return nil, qerr
	}

	headers := cacheHeaders(name, ds.Version, ds.Protected())
	if plan.Rows != nil {
		return s.streamSchemaRows(ds.Version, plan, headers), nil
	}
	return s.streamQuery(r, ds.Version, plan, headers)
}

// streamSchemaRows answers a schema query from the in-memory definitions.
func (s *Server) streamSchemaRows(version string, plan *query.Plan, headers map[string]string) *httpx.Response {
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Headers:    headers,
		Stream: func(w http.ResponseWriter) error {
			enc := stream.NewEncoder(w, version, plan.Header, plan.KeyWidth, false)
			for _, row := range plan.Rows {
				if err := enc.WriteRow(row); err != nil {
					return err
				}
			}
			return enc.Close(nil, plan.Warnings)
		},
	}
}

// streamQuery runs the compiled SQL on a borrowed connection and streams
// the rows out. The connection is released when the stream ends, fails, or
// the client goes away.
func (s *Server) streamQuery(r *http.Request, version string, plan *query.Plan, headers map[string]string) (*httpx.Response, error) {
	ctx := r.Context()
	log.Ctx(ctx).Debug().Str("sql", plan.SQL).Msg("executing query")

	conn, aerr := s.Pool.Acquire(ctx)
	if aerr != nil {
		return nil, aerr
	}
	start := time.Now()
	rows, err := conn.QueryContext(ctx, plan.SQL)
	if err != nil {
		s.Pool.Release(conn)
		return nil, dberror.ErrDatabase.MsgErr("query execution failed: "+plan.SQL, err)
	}

	return &httpx.Response{
		StatusCode: http.StatusOK,
		Headers:    headers,
		Stream: func(w http.ResponseWriter) error {
			defer s.Pool.Release(conn)
			defer rows.Close()

			enc := stream.NewEncoder(w, version, plan.Header, plan.KeyWidth, plan.SuppressNullRows)
			if err := stream.Copy(ctx, enc, rows); err != nil {
				return err
			}
			if elapsed := time.Since(start); elapsed > slowQueryThreshold {
				log.Ctx(ctx).Warn().
					Dur("elapsed", elapsed).
					Int("rows", enc.Written()).
					Str("sql", plan.SQL).
					Msg("slow query")
			}
			return enc.Close(nil, plan.Warnings)
		},
	}, nil
}

// rawQuery percent-decodes the query string; both supported encodings
// arrive percent-escaped.
func rawQuery(r *http.Request) string {
	raw := r.URL.RawQuery
	if unescaped, err := url.QueryUnescape(raw); err == nil {
		return unescaped
	}
	return raw
}
