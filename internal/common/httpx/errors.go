package httpx

import (
	"net/http"
)

// Error is an HTTP error response: a status code, a one-sentence plain-text
// description, and optional extra headers (e.g. WWW-Authenticate).
type Error struct {
	Description string
	StatusCode  int
	Headers     map[string]string
}

// Send writes the error response to w as text/plain.
func (e *Error) Send(w http.ResponseWriter) {
	if w == nil {
		return
	}
	for k, v := range e.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(e.StatusCode)
	w.Write([]byte(e.Description))
}

// Error returns the description.
func (e *Error) Error() string {
	return e.Description
}

// ErrBadRequest returns a 400 with the given sentence.
func ErrBadRequest(msg string) *Error {
	if msg == "" {
		msg = "Malformed request."
	}
	return &Error{Description: msg, StatusCode: http.StatusBadRequest}
}

// ErrNotFound returns a 404.
func ErrNotFound(msg string) *Error {
	if msg == "" {
		msg = "Not found."
	}
	return &Error{Description: msg, StatusCode: http.StatusNotFound}
}

// ErrUnauthorized returns a 401 carrying a Basic auth challenge for realm.
func ErrUnauthorized(realm string) *Error {
	return &Error{
		Description: "This dataset requires a password.",
		StatusCode:  http.StatusUnauthorized,
		Headers: map[string]string{
			"WWW-Authenticate": `Basic realm="` + realm + `", charset="UTF-8"`,
		},
	}
}

// ErrServiceBusy returns a 503 for admission rejections and pool timeouts.
func ErrServiceBusy() *Error {
	return &Error{
		Description: "The service is too busy, please try again later.",
		StatusCode:  http.StatusServiceUnavailable,
	}
}

// ErrInternal returns a 500 with a generic sentence; detail belongs in logs.
func ErrInternal(msg string) *Error {
	if msg == "" {
		msg = "Unable to process the request."
	}
	return &Error{Description: msg, StatusCode: http.StatusInternalServerError}
}
