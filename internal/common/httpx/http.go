// Package httpx provides HTTP response handling helpers shared by the query
// server. Handlers return a *Response describing the status, headers, body or
// stream to emit; WrapHandler turns them into http.HandlerFunc values and maps
// application errors to their wire status. Error bodies are short plain-text
// sentences.
package httpx

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"

	"github.com/ddfserve/ddfserve/internal/common/apperrors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WriteBodyFunc writes a streamed response body.
type WriteBodyFunc func(w http.ResponseWriter) error

// Response describes an HTTP response produced by a request handler.
type Response struct {
	StatusCode  int
	Location    string // redirect target for 3xx responses
	ContentType string
	Headers     map[string]string
	Response    any
	Stream      WriteBodyFunc // when set, the body is written by the handler
}

// RequestHandler handles a request and returns a response or an error.
type RequestHandler func(r *http.Request) (*Response, error)

// WrapHandler adapts a RequestHandler into an http.HandlerFunc with uniform
// error translation. Streamed responses flush after the stream function
// returns; errors raised mid-stream are logged, not re-sent.
func WrapHandler(handler RequestHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rsp, err := handler(r)
		if err != nil {
			SendError(r, w, err)
			return
		}
		if rsp == nil {
			ErrInternal("").Send(w)
			return
		}
		for k, v := range rsp.Headers {
			w.Header().Set(k, v)
		}
		if rsp.Location != "" {
			http.Redirect(w, r, rsp.Location, rsp.StatusCode)
			return
		}
		if rsp.Stream != nil {
			if rsp.ContentType == "" {
				rsp.ContentType = "application/json"
			}
			w.Header().Set("Content-Type", rsp.ContentType)
			w.WriteHeader(rsp.StatusCode)
			if err := rsp.Stream(w); err != nil {
				log.Ctx(r.Context()).Warn().Err(err).Msg("response stream aborted")
			}
			return
		}
		if rsp.ContentType == "" {
			rsp.ContentType = "application/json"
		}
		w.Header().Set("Content-Type", rsp.ContentType)
		w.WriteHeader(rsp.StatusCode)
		switch body := rsp.Response.(type) {
		case nil:
		case string:
			w.Write([]byte(body))
		case []byte:
			w.Write(body)
		default:
			if err := json.NewEncoder(w).Encode(body); err != nil {
				log.Ctx(r.Context()).Error().Err(err).Msg("failed to encode response")
			}
		}
	}
}

// SendError writes err to w, translating apperrors status codes. Unknown
// errors become 500 with a generic body; detail stays in the log.
func SendError(r *http.Request, w http.ResponseWriter, err error) {
	if httpErr, ok := err.(*Error); ok {
		httpErr.Send(w)
		return
	}
	if appErr, ok := err.(apperrors.Error); ok {
		status := appErr.StatusCode()
		if status == 0 {
			status = http.StatusInternalServerError
		}
		if status >= http.StatusInternalServerError {
			log.Ctx(r.Context()).Error().Err(appErr).Msg("internal error")
			ErrInternal("").Send(w)
			return
		}
		httpErr := &Error{StatusCode: status, Description: appErr.ErrorAll()}
		httpErr.Send(w)
		return
	}
	log.Ctx(r.Context()).Error().Err(err).Msg("unhandled error")
	ErrInternal("").Send(w)
}
