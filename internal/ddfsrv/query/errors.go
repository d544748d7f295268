package query

import (
	"net/http"

	"github.com/ddfserve/ddfserve/internal/common/apperrors"
)

// Syntax errors: the query object itself is malformed.
var (
	ErrQuerySyntax apperrors.Error = apperrors.New("malformed query").SetStatusCode(http.StatusBadRequest)

	ErrNotDecodable    = ErrQuerySyntax.New("the query is neither valid JSON nor URL object notation")
	ErrMissingSelect   = ErrQuerySyntax.New("query must have a select")
	ErrSelectKey       = ErrQuerySyntax.New("select.key must be an array of column names")
	ErrSelectValue     = ErrQuerySyntax.New("select.value must be an array of column names")
	ErrMissingFrom     = ErrQuerySyntax.New("query must have a from clause naming a table")
	ErrMalformedOrder  = ErrQuerySyntax.New("order_by must be a list of columns or {column: direction} objects")
	ErrMalformedLang   = ErrQuerySyntax.New("language must be a two or three letter tag with an optional subtag")
	ErrMalformedJoin   = ErrQuerySyntax.New("join bindings must be $-prefixed names mapping to {key, where}")
	ErrMalformedWhere  = ErrQuerySyntax.New("malformed where clause")
)

// Semantic errors: the query is well-formed but does not fit the schema.
var (
	ErrQuerySemantic apperrors.Error = apperrors.New("unsupported query").SetStatusCode(http.StatusBadRequest)

	ErrNotSupported   = ErrQuerySemantic.New("the from clause is not supported by this dataset")
	ErrUnknownJoinVar = ErrQuerySemantic.New("the where clause references an undefined join variable")
	ErrJoinConflict   = ErrQuerySemantic.New("the same table is joined twice with different columns")
	ErrUnknownColumn  = ErrQuerySemantic.New("the query references a column the dataset does not have")
)
