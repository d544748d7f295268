// Package dbmanager manages the MariaDB connection pool. Query execution
// borrows a dedicated *sql.Conn so that a streaming result holds exactly one
// connection, released when the stream finishes or the client goes away.
package dbmanager

import (
	"context"
	"database/sql"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/rs/zerolog/log"

	"github.com/ddfserve/ddfserve/internal/common/apperrors"
	"github.com/ddfserve/ddfserve/internal/ddfsrv/db/dberror"
)

// Pool wraps database/sql with acquisition accounting used by admission
// control.
type Pool struct {
	db             *sql.DB
	acquireTimeout time.Duration
	pending        int64
	acquired       uint64
	released       uint64
}

// New opens a pool against the given DSN. maxConns bounds open connections;
// acquireTimeout bounds how long Acquire waits for a free connection.
func New(dsn string, maxConns int, acquireTimeout time.Duration) (*Pool, error) {
	sqlDB, err := sql.Open("mysql", dsn)
	if err != nil {
		log.Error().Err(err).Msg("failed to open db")
		return nil, dberror.ErrDatabase.MsgErr("failed to open database", err)
	}

	if maxConns <= 0 {
		maxConns = 10
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns / 2)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	return &Pool{db: sqlDB, acquireTimeout: acquireTimeout}, nil
}

// Ping verifies the database is reachable.
func (p *Pool) Ping(ctx context.Context) error {
	if err := p.db.PingContext(ctx); err != nil {
		return dberror.ErrDatabase.MsgErr("failed to ping database", err)
	}
	return nil
}

// Acquire borrows a connection. It waits at most the configured acquisition
// timeout and returns ErrBusy when the pool stays exhausted.
func (p *Pool) Acquire(ctx context.Context) (*sql.Conn, apperrors.Error) {
	atomic.AddInt64(&p.pending, 1)
	defer atomic.AddInt64(&p.pending, -1)

	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}

	conn, err := p.db.Conn(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, dberror.ErrBusy.Err(err)
		}
		return nil, dberror.ErrDatabase.MsgErr("failed to obtain connection", err)
	}
	atomic.AddUint64(&p.acquired, 1)
	return conn, nil
}

// Release returns a connection to the pool.
func (p *Pool) Release(conn *sql.Conn) {
	if conn == nil {
		return
	}
	conn.Close()
	atomic.AddUint64(&p.released, 1)
}

// Pending returns the number of callers currently waiting in Acquire. The
// admission layer rejects requests above the configured threshold.
func (p *Pool) Pending() int {
	return int(atomic.LoadInt64(&p.pending))
}

// Stats returns the total acquire and release counts.
func (p *Pool) Stats() (acquired, released uint64) {
	return atomic.LoadUint64(&p.acquired), atomic.LoadUint64(&p.released)
}

// DB exposes the underlying pool for callers that do not need a pinned
// connection (catalog reads, DDL during ingestion).
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Close shuts the pool down.
func (p *Pool) Close() error {
	return p.db.Close()
}
