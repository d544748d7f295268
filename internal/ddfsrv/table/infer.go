package table

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Inference thresholds. A string at or beyond TextThreshold becomes TEXT;
// JSON-looking values become JSON when wide, VARCHAR otherwise. Cardinality
// tracking stops at CardinalityCap distinct values, enough to decide whether
// a key column deserves a secondary index.
const (
	TextThreshold      = 2000
	JSONWidthThreshold = 200
	CardinalityCap     = 200

	// Secondary indexes are created on key components at or above this
	// cardinality.
	IndexCardinality = 150
)

// ColumnStats accumulates observations about one CSV column during the
// schema inference pass.
type ColumnStats struct {
	Name string

	maxWidth    int
	seen        int // non-empty values
	allInt      bool
	needsBigInt bool
	anyFraction bool
	allBool     bool
	anyJSON     bool
	distinct    map[string]struct{}
}

// NewColumnStats starts tracking a column. Columns named is--* are boolean
// by convention regardless of observed values.
func NewColumnStats(name string) *ColumnStats {
	return &ColumnStats{
		Name:     name,
		allInt:   true,
		allBool:  true,
		distinct: make(map[string]struct{}),
	}
}

// Observe records one CSV cell. Empty cells carry no type information.
func (c *ColumnStats) Observe(value string) {
	if value == "" {
		return
	}
	c.seen++
	if len(value) > c.maxWidth {
		c.maxWidth = len(value)
	}
	if len(c.distinct) < CardinalityCap {
		c.distinct[value] = struct{}{}
	}

	switch value[0] {
	case '{', '[':
		c.anyJSON = true
	}

	upper := strings.ToUpper(value)
	if upper != "TRUE" && upper != "FALSE" {
		c.allBool = false
	}

	if c.allInt || !c.anyFraction {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			if n > math.MaxInt32 || n < math.MinInt32 {
				c.needsBigInt = true
			}
		} else {
			c.allInt = false
			if _, err := strconv.ParseFloat(value, 64); err == nil {
				c.anyFraction = true
			}
		}
	}
}

// Cardinality returns the observed distinct value count, capped at
// CardinalityCap.
func (c *ColumnStats) Cardinality() int {
	return len(c.distinct)
}

// MaxWidth returns the widest observed string length.
func (c *ColumnStats) MaxWidth() int {
	return c.maxWidth
}

// SQLType decides the column type from the accumulated observations.
func (c *ColumnStats) SQLType() string {
	if strings.HasPrefix(c.Name, "is--") {
		return "BOOLEAN"
	}
	if c.seen == 0 {
		return "VARCHAR(1)"
	}
	if c.allBool {
		return "BOOLEAN"
	}
	if c.allInt {
		if c.needsBigInt {
			return "BIGINT"
		}
		return "INTEGER"
	}
	if c.anyFraction && !c.anyJSON {
		return "DOUBLE"
	}
	if c.anyJSON && c.maxWidth > JSONWidthThreshold {
		return "JSON"
	}
	if c.maxWidth >= TextThreshold {
		return "TEXT"
	}
	return fmt.Sprintf("VARCHAR(%d)", c.maxWidth)
}

// estimatedByteWidth approximates the on-disk row contribution of a column
// of the given SQL type, used to split tables ahead of the ~8000 byte engine
// row limit.
func estimatedByteWidth(sqlType string) int {
	switch {
	case sqlType == "BOOLEAN":
		return 1
	case sqlType == "INTEGER":
		return 4
	case sqlType == "BIGINT", sqlType == "DOUBLE":
		return 8
	case sqlType == "TEXT", sqlType == "JSON":
		// stored off-page, only the pointer counts toward the row
		return 12
	case strings.HasPrefix(sqlType, "VARCHAR("):
		n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(sqlType, "VARCHAR("), ")"))
		if err != nil {
			return 2
		}
		return 3*n + 2 // utf8 worst case plus length prefix
	default:
		return 8
	}
}
