// Package query implements the structured query language of the service:
// decoding from JSON or URL object notation, validation, and compilation
// into a single SQL statement over a dataset's schema model.
package query

import (
	"regexp"
	"strings"
)

// Recognised from clauses. The .schema variants are answered from the
// in-memory schema model without touching the database.
var supportedFrom = map[string]bool{
	"concepts": true, "entities": true, "datapoints": true,
	"concepts.schema": true, "entities.schema": true,
	"datapoints.schema": true, "*.schema": true,
}

var (
	languageRe = regexp.MustCompile(`^[a-zA-Z]{2,3}([_-][-_a-zA-Z0-9]{2,15})?$`)
	joinVarRe  = regexp.MustCompile(`^\$[a-zA-Z0-9_]+$`)
)

// Select is the projection of a query: key columns plus value columns.
type Select struct {
	Key   []string
	Value []string
}

// Sort is one order_by entry.
type Sort struct {
	Column string
	Desc   bool
}

// JoinSpec is one join binding: the concept to join on and an optional
// predicate over the joined table.
type JoinSpec struct {
	Key   string
	Where Predicate
}

// Query is a validated structured query.
type Query struct {
	Select   Select
	From     string
	Where    Predicate
	Join     map[string]*JoinSpec // keyed by binding variable incl. the $ prefix
	OrderBy  []Sort
	Language string
}

// IsSchemaQuery reports whether the from clause targets the schema itself.
func (q *Query) IsSchemaQuery() bool {
	return strings.HasSuffix(q.From, ".schema")
}

// SchemaKind returns the kind a schema query asks for: "concepts",
// "entities", "datapoints" or "*".
func (q *Query) SchemaKind() string {
	return strings.TrimSuffix(q.From, ".schema")
}

// Predicate is a node of the where tree.
type Predicate interface {
	isPredicate()
}

// And is a conjunction of predicates.
type And []Predicate

// Or is a disjunction of predicates.
type Or []Predicate

// Cmp compares a column against a statically typed operand.
type Cmp struct {
	Col   string
	Op    string // $eq, $ne, $gt, $gte, $lt, $lte, $in, $nin
	Value any
}

// JoinRef constrains a column through a join binding, e.g. {geo: "$geo"}.
type JoinRef struct {
	Col string
	Var string
}

func (And) isPredicate()     {}
func (Or) isPredicate()      {}
func (Cmp) isPredicate()     {}
func (JoinRef) isPredicate() {}
