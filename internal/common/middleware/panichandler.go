package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/rs/zerolog/log"

	"github.com/ddfserve/ddfserve/internal/common/httpx"
)

// PanicHandler recovers panics raised by downstream handlers, logs the stack,
// and returns a 500 unless a response was already started.
func PanicHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := httpx.NewResponseWriter(w)
		defer func() {
			if err := recover(); err != nil {
				log.Ctx(r.Context()).Error().
					Str("panic", fmt.Sprintf("%v", err)).
					Str("stack_trace", string(debug.Stack())).
					Msg("panic occurred")

				if !rw.Written() {
					httpx.ErrInternal("").Send(rw)
				}
			}
		}()
		next.ServeHTTP(rw, r)
	})
}
