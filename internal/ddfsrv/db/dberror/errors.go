// Package dberror defines the error kinds surfaced by the database layer.
package dberror

import (
	"net/http"

	"github.com/ddfserve/ddfserve/internal/common/apperrors"
)

var (
	ErrDatabase      apperrors.Error = apperrors.New("db error").SetStatusCode(http.StatusInternalServerError)
	ErrAlreadyExists apperrors.Error = ErrDatabase.New("already exists").SetStatusCode(http.StatusConflict)
	ErrNotFound      apperrors.Error = ErrDatabase.New("not found").SetStatusCode(http.StatusNotFound)
	ErrInvalidInput  apperrors.Error = ErrDatabase.New("invalid input").SetStatusCode(http.StatusBadRequest)
	ErrBusy          apperrors.Error = ErrDatabase.New("no database connection available").SetStatusCode(http.StatusServiceUnavailable)
)
