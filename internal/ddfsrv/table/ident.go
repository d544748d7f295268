package table

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// MariaDB caps identifiers at 64 characters. Names over the cap are replaced
// by a prefix plus a hash of the full logical name.
const maxIdentifierLen = 64

var unsafeIdentChars = regexp.MustCompile(`[^a-z0-9_]+`)

// QuoteIdent backtick-quotes a SQL identifier, doubling embedded backticks.
func QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// QuoteString returns a single-quoted SQL string literal with backslash and
// quote characters escaped.
func QuoteString(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

// FormatValue renders a literal operand as SQL. Only the statically typed
// operand kinds produced by the query decoder appear here.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case string:
		return QuoteString(val)
	default:
		return QuoteString(fmt.Sprintf("%v", val))
	}
}

// PhysicalName derives the DB-safe table name for a logical table. The
// logical name is lowercased and stripped of unsafe characters; names beyond
// the identifier cap keep a readable prefix and append a hash of the full
// name. Four characters are reserved for wide-table shard suffixes.
func PhysicalName(dataset, version string, parts ...string) string {
	logical := dataset + "_" + version
	for _, p := range parts {
		logical += "__" + p
	}
	logical = unsafeIdentChars.ReplaceAllString(strings.ToLower(logical), "_")

	const budget = maxIdentifierLen - 4
	if len(logical) <= budget {
		return logical
	}
	sum := sha256.Sum256([]byte(logical))
	return logical[:budget-17] + "_" + hex.EncodeToString(sum[:8])
}
