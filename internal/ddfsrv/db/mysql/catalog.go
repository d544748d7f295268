// Package mysql implements the dataset catalog over a MariaDB table. All
// mutations run on a single pinned connection so that the unset-previous /
// set-new default sequence is atomic relative to concurrent readers.
package mysql

import (
	"context"
	"database/sql"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"

	"github.com/ddfserve/ddfserve/internal/common/apperrors"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/db/dberror"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/db/dbmanager"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/db/models"
)

// Reserved version tokens on the admin and HTTP surfaces. Never stored.
const (
	VersionLatest = "latest"
	VersionAll    = "_ALL_"
)

// Catalog is the persistent list of (name, version) tuples.
type Catalog struct {
	pool *dbmanager.Pool
}

// NewCatalog returns a catalog backed by the given pool.
func NewCatalog(pool *dbmanager.Pool) *Catalog {
	return &Catalog{pool: pool}
}

const migrateDDL = `
CREATE TABLE IF NOT EXISTS datasets (
  name VARCHAR(255) NOT NULL,
  version VARCHAR(40) NOT NULL,
  is__default BOOLEAN DEFAULT FALSE,
  definition JSON,
  imported DATETIME DEFAULT CURRENT_TIMESTAMP,
  password VARCHAR(80) NULL,
  PRIMARY KEY (name, version)
)`

// Migrate creates the datasets table if needed. "already exists" and
// privilege errors are ignored so read-only deployments can still start.
func (c *Catalog) Migrate(ctx context.Context) apperrors.Error {
	_, err := c.pool.DB().ExecContext(ctx, migrateDDL)
	if err != nil {
		if dbmanager.IsTableExists(err) || dbmanager.IsAccessDenied(err) {
			log.Ctx(ctx).Debug().Err(err).Msg("datasets table migration skipped")
			return nil
		}
		return dberror.ErrDatabase.MsgErr("failed to create datasets table", err)
	}
	return nil
}

// List returns the catalog entries, all datasets when name is empty, ordered
// by import time descending per name.
func (c *Catalog) List(ctx context.Context, name string) ([]models.Dataset, apperrors.Error) {
	query := `SELECT name, version, is__default, imported FROM datasets`
	var args []any
	if name != "" {
		query += ` WHERE name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY name, imported DESC`

	rows, err := c.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dberror.ErrDatabase.MsgErr("failed to list datasets", err)
	}
	defer rows.Close()

	var out []models.Dataset
	for rows.Next() {
		var ds models.Dataset
		if err := rows.Scan(&ds.Name, &ds.Version, &ds.IsDefault, &ds.Imported); err != nil {
			return nil, dberror.ErrDatabase.MsgErr("failed to scan dataset row", err)
		}
		out = append(out, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.MsgErr("failed to list datasets", err)
	}
	return out, nil
}

// Lookup resolves a version reference to a catalog record. An empty version
// resolves to the default, falling back to the most recently imported;
// "latest" always resolves to the most recently imported; anything else is an
// exact match.
func (c *Catalog) Lookup(ctx context.Context, name, version string) (*models.Dataset, apperrors.Error) {
	query := `SELECT name, version, is__default, definition, imported, COALESCE(password, '')
	          FROM datasets WHERE name = ?`
	args := []any{name}
	switch version {
	case "":
		query += ` ORDER BY is__default DESC, imported DESC LIMIT 1`
	case VersionLatest:
		query += ` ORDER BY imported DESC LIMIT 1`
	default:
		query += ` AND version = ?`
		args = append(args, version)
	}

	var ds models.Dataset
	row := c.pool.DB().QueryRowContext(ctx, query, args...)
	err := row.Scan(&ds.Name, &ds.Version, &ds.IsDefault, &ds.Definition, &ds.Imported, &ds.PasswordHash)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("dataset not found")
		}
		return nil, dberror.ErrDatabase.MsgErr("failed to look up dataset", err)
	}
	return &ds, nil
}

// InsertNew records a freshly imported version. The (name, version) tuple
// must not exist yet.
func (c *Catalog) InsertNew(ctx context.Context, ds *models.Dataset) apperrors.Error {
	if ds.Version == VersionLatest || ds.Version == VersionAll {
		return dberror.ErrInvalidInput.Msg("version " + ds.Version + " is reserved")
	}
	var password any
	if ds.PasswordHash != "" {
		password = ds.PasswordHash
	}
	_, err := c.pool.DB().ExecContext(ctx,
		`INSERT INTO datasets (name, version, definition, password) VALUES (?, ?, ?, ?)`,
		ds.Name, ds.Version, []byte(ds.Definition), password)
	if err != nil {
		if dbmanager.IsDuplicateEntry(err) {
			return dberror.ErrAlreadyExists.Msg("dataset " + ds.Name + "." + ds.Version + " already exists")
		}
		return dberror.ErrDatabase.MsgErr("failed to insert dataset", err)
	}
	return nil
}

// MarkDefault clears the existing default and, when version is a literal,
// sets it on that version. "latest" leaves no explicit default so that
// lookups fall through to the most recently imported.
func (c *Catalog) MarkDefault(ctx context.Context, name, version string) apperrors.Error {
	conn, aerr := c.pool.Acquire(ctx)
	if aerr != nil {
		return aerr
	}
	defer c.pool.Release(conn)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return dberror.ErrDatabase.MsgErr("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE datasets SET is__default = FALSE WHERE name = ?`, name); err != nil {
		return dberror.ErrDatabase.MsgErr("failed to clear default", err)
	}
	if version != VersionLatest {
		res, err := tx.ExecContext(ctx,
			`UPDATE datasets SET is__default = TRUE WHERE name = ? AND version = ?`, name, version)
		if err != nil {
			return dberror.ErrDatabase.MsgErr("failed to set default", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return dberror.ErrNotFound.Msg("dataset " + name + "." + version + " not found")
		}
	}
	if err := tx.Commit(); err != nil {
		return dberror.ErrDatabase.MsgErr("failed to commit default change", err)
	}
	return nil
}

// EnsureDefault marks the most recently imported version as default when the
// dataset exists but has no default yet.
func (c *Catalog) EnsureDefault(ctx context.Context, name string) apperrors.Error {
	versions, err := c.List(ctx, name)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		return nil
	}
	for _, v := range versions {
		if v.IsDefault {
			return nil
		}
	}
	return c.MarkDefault(ctx, name, versions[0].Version)
}

// SetPassword stores (or clears, with an empty hash) the password hash on an
// existing version.
func (c *Catalog) SetPassword(ctx context.Context, name, version, hash string) apperrors.Error {
	var password any
	if hash != "" {
		password = hash
	}
	res, err := c.pool.DB().ExecContext(ctx,
		`UPDATE datasets SET password = ? WHERE name = ? AND version = ?`, password, name, version)
	if err != nil {
		return dberror.ErrDatabase.MsgErr("failed to set password", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return dberror.ErrNotFound.Msg("dataset " + name + "." + version + " not found")
	}
	return nil
}

// Remove deletes catalog rows and returns the physical table names their
// definitions list. The selector is a literal version, a comma separated
// list, "latest", or "_ALL_". Removing the most recent version while it is
// the default requires the explicit "_ALL_" token.
func (c *Catalog) Remove(ctx context.Context, name, selector string) ([]string, apperrors.Error) {
	all, err := c.listFull(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, dberror.ErrNotFound.Msg("dataset " + name + " not found")
	}

	var doomed []models.Dataset
	switch selector {
	case VersionAll:
		doomed = all
	case VersionLatest:
		doomed = all[:1]
	default:
		wanted := map[string]bool{}
		for _, v := range strings.Split(selector, ",") {
			wanted[strings.TrimSpace(v)] = true
		}
		for _, ds := range all {
			if wanted[ds.Version] {
				doomed = append(doomed, ds)
				delete(wanted, ds.Version)
			}
		}
		for v := range wanted {
			return nil, dberror.ErrNotFound.Msg("dataset " + name + "." + v + " not found")
		}
	}
	if len(doomed) == 0 {
		return nil, dberror.ErrNotFound.Msg("no matching versions for " + name)
	}

	if selector != VersionAll {
		for _, ds := range doomed {
			if ds.Version == all[0].Version && ds.IsDefault {
				return nil, dberror.ErrInvalidInput.Msg(
					"refusing to remove the default version " + ds.Version + "; use _ALL_ to remove everything")
			}
		}
	}
	return c.remove(ctx, name, doomed)
}

// Purge keeps the default version (or, when none is set, the two most
// recent), every version newer than the default, and the version imported
// immediately before the default; all older versions are deleted. It returns
// the backing table names of the deleted versions.
func (c *Catalog) Purge(ctx context.Context, name string) ([]string, apperrors.Error) {
	all, err := c.listFull(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, dberror.ErrNotFound.Msg("dataset " + name + " not found")
	}

	keepBelow := -1 // index of the last protected version, newest first
	for i, ds := range all {
		if ds.IsDefault {
			keepBelow = i + 1 // default plus the version preceding it
			break
		}
	}
	if keepBelow == -1 {
		keepBelow = 1 // no default: the two most recent survive
	}
	if keepBelow+1 >= len(all) {
		return nil, nil
	}
	return c.remove(ctx, name, all[keepBelow+1:])
}

func (c *Catalog) listFull(ctx context.Context, name string) ([]models.Dataset, apperrors.Error) {
	rows, err := c.pool.DB().QueryContext(ctx,
		`SELECT name, version, is__default, definition, imported, COALESCE(password, '')
		 FROM datasets WHERE name = ? ORDER BY imported DESC`, name)
	if err != nil {
		return nil, dberror.ErrDatabase.MsgErr("failed to list dataset versions", err)
	}
	defer rows.Close()

	var out []models.Dataset
	for rows.Next() {
		var ds models.Dataset
		if err := rows.Scan(&ds.Name, &ds.Version, &ds.IsDefault, &ds.Definition, &ds.Imported, &ds.PasswordHash); err != nil {
			return nil, dberror.ErrDatabase.MsgErr("failed to scan dataset row", err)
		}
		out = append(out, ds)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.MsgErr("failed to list dataset versions", err)
	}
	return out, nil
}

func (c *Catalog) remove(ctx context.Context, name string, doomed []models.Dataset) ([]string, apperrors.Error) {
	conn, aerr := c.pool.Acquire(ctx)
	if aerr != nil {
		return nil, aerr
	}
	defer c.pool.Release(conn)

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, dberror.ErrDatabase.MsgErr("failed to begin transaction", err)
	}
	defer tx.Rollback()

	var tables []string
	for _, ds := range doomed {
		tables = append(tables, TableNames(ds.Definition)...)
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM datasets WHERE name = ? AND version = ?`, name, ds.Version); err != nil {
			return nil, dberror.ErrDatabase.MsgErr("failed to delete dataset row", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, dberror.ErrDatabase.MsgErr("failed to commit dataset removal", err)
	}
	return tables, nil
}

// TableNames extracts the physical table names from a serialized schema
// definition.
func TableNames(definition []byte) []string {
	var names []string
	gjson.GetBytes(definition, "tables").ForEach(func(_, value gjson.Result) bool {
		names = append(names, value.String())
		return true
	})
	return names
}
