package table

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/rs/zerolog/log"

	"github.com/ddfserve/ddfserve/internal/ddfsrv/db/dbmanager"
)

// Execer is the statement execution surface the load strategies need; both
// *sql.DB and *sql.Conn satisfy it.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// LoadOptions adapts a CSV resource to the logical table. ColumnMap renames
// CSV headers to table columns (entity-set keys to their domain, translated
// values to their stored `_col--lang` column); Constants injects fixed
// values such as `is--<set>` markers.
type LoadOptions struct {
	ColumnMap map[string]string
	Constants map[string]any
}

func (o LoadOptions) target(header string) string {
	if o.ColumnMap != nil {
		if t, ok := o.ColumnMap[header]; ok {
			return t
		}
	}
	return header
}

// upsertBatchSize bounds the rows per multi-value upsert statement.
const upsertBatchSize = 500

// deadlockRetryDelay is the back-off before the single deadlock retry.
const deadlockRetryDelay = 500 * time.Millisecond

// ExternalLoadSQL returns the statement sequence for the external-table copy
// strategy: declare a CONNECT CSV table over the file, INSERT ... SELECT
// into every shard, and drop the external table. Usable only when the file
// carries no translations.
func (d *Def) ExternalLoadSQL(file string, headers []string, stats map[string]*ColumnStats, opt LoadOptions) []string {
	extName := d.Shards[0].Table + "_ext"

	var extCols []string
	for _, h := range headers {
		typ := "VARCHAR(255)"
		if s, ok := stats[opt.target(h)]; ok {
			typ = s.SQLType()
			if typ == "BOOLEAN" {
				// the CSV engine has no boolean type; read the raw token
				typ = "VARCHAR(5)"
			}
		}
		extCols = append(extCols, fmt.Sprintf("%s %s", QuoteIdent(h), typ))
	}

	stmts := []string{fmt.Sprintf(
		"CREATE OR REPLACE TABLE %s (%s) ENGINE=CONNECT TABLE_TYPE=CSV FILE_NAME=%s HEADER=1 SEP_CHAR=',' QUOTED=1",
		QuoteIdent(extName), strings.Join(extCols, ", "), QuoteString(file))}

	// every shard receives the key rows, so the shard joins of a wide
	// table never lose a key that only some indicators cover
	for i := range d.Shards {
		targets, sources := d.shardLoadColumns(i, headers, opt)
		if len(targets) == 0 {
			continue
		}
		stmt := fmt.Sprintf("INSERT INTO %s (%s)\nSELECT %s FROM %s",
			QuoteIdent(d.Shards[i].Table), quoteList(targets),
			strings.Join(sources, ", "), QuoteIdent(extName))
		stmt += "\nON DUPLICATE KEY UPDATE " + strings.Join(d.upsertUpdates(targets), ", ")
		stmts = append(stmts, stmt)
	}

	stmts = append(stmts, "DROP TABLE IF EXISTS "+QuoteIdent(extName))
	return stmts
}

// shardLoadColumns pairs target table columns of shard i with their source
// expressions over the CSV headers. Key columns always load; value columns
// load when the CSV provides them; constants are injected as literals.
func (d *Def) shardLoadColumns(i int, headers []string, opt LoadOptions) (targets, sources []string) {
	shardCols := map[string]bool{}
	for _, k := range d.Key {
		shardCols[k] = true
	}
	for _, c := range d.ShardColumns(i) {
		shardCols[c] = true
		for _, lang := range d.columnTranslations(c) {
			shardCols["_"+c+"--"+lang] = true
		}
	}

	for _, h := range headers {
		t := opt.target(h)
		if !shardCols[t] {
			continue
		}
		targets = append(targets, t)
		sources = append(sources, QuoteIdent(h))
	}
	constCols := make([]string, 0, len(opt.Constants))
	for col := range opt.Constants {
		if shardCols[col] {
			constCols = append(constCols, col)
		}
	}
	sort.Strings(constCols)
	for _, col := range constCols {
		targets = append(targets, col)
		sources = append(sources, FormatValue(opt.Constants[col]))
	}
	return targets, sources
}

// upsertUpdates builds the ON DUPLICATE KEY UPDATE assignments for a column
// list. Key-only inserts get a no-op assignment so replicated key rows merge
// instead of failing.
func (d *Def) upsertUpdates(targets []string) []string {
	var updates []string
	for _, t := range targets {
		if d.IsKeyColumn(t) {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", QuoteIdent(t), QuoteIdent(t)))
	}
	if len(updates) == 0 {
		k := QuoteIdent(d.Key[0])
		updates = append(updates, k+" = "+k)
	}
	return updates
}

// UpsertRows loads a slice of CSV records with parameterised multi-row
// upserts, the strategy tolerant of large cells and translation columns.
// A deadlock is retried once after a short delay.
func (d *Def) UpsertRows(ctx context.Context, db Execer, headers []string, records [][]string, opt LoadOptions) error {
	for i := range d.Shards {
		targets, csvIdx := d.shardRowColumns(i, headers, opt)
		if len(targets) == 0 {
			continue
		}
		for start := 0; start < len(records); start += upsertBatchSize {
			end := start + upsertBatchSize
			if end > len(records) {
				end = len(records)
			}
			if err := d.upsertBatch(ctx, db, i, targets, csvIdx, records[start:end], opt); err != nil {
				return err
			}
		}
	}
	return nil
}

// shardRowColumns resolves which CSV fields feed shard i. csvIdx aligns with
// targets; a negative index marks a constant column. Shards holding none of
// the file's values still receive the key columns.
func (d *Def) shardRowColumns(i int, headers []string, opt LoadOptions) (targets []string, csvIdx []int) {
	shardCols := map[string]bool{}
	for _, k := range d.Key {
		shardCols[k] = true
	}
	for _, c := range d.ShardColumns(i) {
		shardCols[c] = true
		for _, lang := range d.columnTranslations(c) {
			shardCols["_"+c+"--"+lang] = true
		}
	}

	constCols := make([]string, 0, len(opt.Constants))
	for col := range opt.Constants {
		if shardCols[col] {
			constCols = append(constCols, col)
		}
	}
	sort.Strings(constCols)

	for idx, h := range headers {
		t := opt.target(h)
		if !shardCols[t] {
			continue
		}
		targets = append(targets, t)
		csvIdx = append(csvIdx, idx)
	}
	for _, col := range constCols {
		targets = append(targets, col)
		csvIdx = append(csvIdx, -1)
	}
	return targets, csvIdx
}

func (d *Def) upsertBatch(ctx context.Context, db Execer, shard int, targets []string, csvIdx []int, records [][]string, opt LoadOptions) error {
	placeholder := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(targets)), ", ") + ")"
	rowsSQL := strings.TrimSuffix(strings.Repeat(placeholder+", ", len(records)), ", ")

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s ON DUPLICATE KEY UPDATE %s",
		QuoteIdent(d.Shards[shard].Table), quoteList(targets), rowsSQL,
		strings.Join(d.upsertUpdates(targets), ", "))

	args := make([]any, 0, len(records)*len(targets))
	for _, rec := range records {
		for i, t := range targets {
			if csvIdx[i] < 0 {
				args = append(args, opt.Constants[t])
				continue
			}
			v := rec[csvIdx[i]]
			if v == "" {
				args = append(args, nil)
				continue
			}
			args = append(args, v)
		}
	}

	return retry.Do(
		func() error {
			_, err := db.ExecContext(ctx, stmt, args...)
			return err
		},
		retry.Attempts(2),
		retry.Delay(deadlockRetryDelay),
		retry.DelayType(retry.FixedDelay),
		retry.RetryIf(dbmanager.IsDeadlock),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(_ uint, err error) {
			log.Ctx(ctx).Warn().Err(err).Str("table", d.Shards[shard].Table).Msg("deadlock during bulk upsert, retrying")
		}),
	)
}
