package cli

import (
	"context"

	"github.com/ddfserve/ddfserve/internal/ddfsrv/assets"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/config"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/db/dbmanager"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/db/mysql"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/loader"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/notify"
)

// cliPoolSize bounds the admin tool's connections; bulk loads run one
// statement at a time, so a handful is plenty.
const cliPoolSize = 4

// runtime bundles the wired dependencies of a CLI invocation.
type runtime struct {
	pool    *dbmanager.Pool
	catalog *mysql.Catalog
	store   assets.Store
	loader  *loader.Loader
}

// setup loads the configuration and wires the shared dependencies. The
// returned close function releases the database pool.
func setup(ctx context.Context) (*runtime, func(), error) {
	if err := config.Load(configFile); err != nil {
		return nil, nil, err
	}
	config.InitLogger()
	cfg := config.Config()

	pool, err := dbmanager.New(cfg.DSN(), cliPoolSize, cfg.DB.ConnectionTimeout)
	if err != nil {
		return nil, nil, err
	}
	catalog := mysql.NewCatalog(pool)
	if aerr := catalog.Migrate(ctx); aerr != nil {
		pool.Close()
		return nil, nil, aerr
	}
	store, err := assets.NewStore(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}

	rt := &runtime{
		pool:    pool,
		catalog: catalog,
		store:   store,
		loader: &loader.Loader{
			Pool:       pool,
			Catalog:    catalog,
			Store:      store,
			Notifier:   notify.New(cfg.SlackChannelURL),
			MaxColumns: cfg.DB.MaxColumns,
		},
	}
	return rt, func() { pool.Close() }, nil
}

// dropTables drops the backing tables of removed versions. Missing tables
// are not an error; a half-finished load may never have created them.
func (rt *runtime) dropTables(ctx context.Context, tables []string) error {
	for _, t := range tables {
		if _, err := rt.pool.DB().ExecContext(ctx, "DROP TABLE IF EXISTS `"+t+"`"); err != nil {
			return err
		}
	}
	return nil
}
