package loader

import (
	"net/http"

	"github.com/ddfserve/ddfserve/internal/common/apperrors"
)

var (
	// ErrPackage covers unreadable or structurally broken package
	// directories.
	ErrPackage apperrors.Error = apperrors.New("invalid package").SetStatusCode(http.StatusBadRequest)

	// ErrSchemaValidation covers packages that parse but contradict
	// themselves, e.g. an entity set claimed by two domains or a manifest
	// without a ddfSchema section.
	ErrSchemaValidation = ErrPackage.New("package schema validation failed")

	// ErrName covers rejected dataset names.
	ErrName apperrors.Error = apperrors.New("invalid dataset name").SetStatusCode(http.StatusBadRequest)

	// ErrVersion covers rejected version arguments.
	ErrVersion apperrors.Error = apperrors.New("invalid version").SetStatusCode(http.StatusBadRequest)
)
