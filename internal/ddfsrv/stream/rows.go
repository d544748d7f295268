package stream

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Copy drains a result set into the encoder, converting driver values into
// the JSON shape the column's database type implies. It stops early when
// the context is cancelled, typically by a client disconnect.
func Copy(ctx context.Context, enc *Encoder, rows *sql.Rows) error {
	types, err := rows.ColumnTypes()
	if err != nil {
		return errors.Wrap(err, "reading result column types")
	}
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.DatabaseTypeName()
	}

	raw := make([]any, len(types))
	ptrs := make([]any, len(types))
	for i := range raw {
		ptrs[i] = &raw[i]
	}

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := range raw {
			raw[i] = nil
		}
		if err := rows.Scan(ptrs...); err != nil {
			return errors.Wrap(err, "scanning result row")
		}
		row := make([]any, len(raw))
		for i, v := range raw {
			row[i] = convertValue(names[i], v)
		}
		if err := enc.WriteRow(row); err != nil {
			return err
		}
	}
	return errors.Wrap(rows.Err(), "fetching result rows")
}

// convertValue maps a driver value to its JSON representation. The MySQL
// driver hands most values over as []byte; the declared column type decides
// whether that is a number, a boolean or text. BOOLEAN is TINYINT(1) on the
// wire, and nothing else is declared TINYINT here.
func convertValue(dbType string, v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case []byte:
		s := string(val)
		switch dbType {
		case "TINYINT", "BOOLEAN", "BOOL":
			return s != "0"
		case "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT":
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n
			}
			return s
		case "FLOAT", "DOUBLE", "DECIMAL":
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f
			}
			return s
		default:
			return s
		}
	case int64:
		if dbType == "TINYINT" || dbType == "BOOLEAN" || dbType == "BOOL" {
			return val != 0
		}
		return val
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return val
	}
}
