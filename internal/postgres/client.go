// Package postgres wraps *sqlx.DB with a transaction-context-in-ctx
// pattern, adapted from ent's *ent.Tx to a plain *sqlx.Tx since the
// ent-generated client cannot be hand-authored without running
// `go generate` against this core's schema.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/ridgeline/meterbill/internal/config"
	"github.com/ridgeline/meterbill/internal/logger"
	"github.com/ridgeline/meterbill/internal/types"
)

// IClient is the transactional access surface every repository in this
// core depends on, split into Writer/Reader/WithTx.
type IClient interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	TxFromContext(ctx context.Context) *sqlx.Tx

	// Writer returns the connection to use for Create/Update/Delete/Exec.
	Writer(ctx context.Context) sqlx.ExtContext
	// Reader returns the connection to use for Get/List/Count/Query.
	Reader(ctx context.Context) sqlx.ExtContext

	Close() error
}

type Client struct {
	db     *sqlx.DB
	logger *logger.Logger
}

func NewClient(cfg *config.Configuration, log *logger.Logger) (IClient, error) {
	db, err := sqlx.Open("postgres", cfg.Postgres.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.Postgres.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Postgres.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Postgres.ConnMaxLifetimeMinutes) * time.Minute)

	return &Client{db: db, logger: log}, nil
}

// WithTx wraps fn in a transaction. Nested calls reuse the existing
// transaction rather than starting a new one.
func (c *Client) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx := c.TxFromContext(ctx); tx != nil {
		return fn(ctx)
	}

	tx, err := c.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}

	defer func() {
		if v := recover(); v != nil {
			c.logger.Errorw("rolling back transaction due to panic", "panic", v)
			_ = tx.Rollback()
			panic(v)
		}
	}()

	txCtx := context.WithValue(ctx, types.CtxDBTransaction, tx)
	txCtx = types.WithForceWriter(txCtx)

	if err := fn(txCtx); err != nil {
		if rerr := tx.Rollback(); rerr != nil {
			return fmt.Errorf("rolling back transaction: %v (original error: %w)", rerr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (c *Client) TxFromContext(ctx context.Context) *sqlx.Tx {
	if tx, ok := ctx.Value(types.CtxDBTransaction).(*sqlx.Tx); ok {
		return tx
	}
	return nil
}

// Writer always routes to the primary database.
func (c *Client) Writer(ctx context.Context) sqlx.ExtContext {
	if tx := c.TxFromContext(ctx); tx != nil {
		return tx
	}
	return c.db
}

// Reader routes to the transaction when one is open (read-your-writes),
// otherwise to the single configured database — this core has no
// separate reader DSN, so Reader and Writer always coincide outside a
// transaction.
func (c *Client) Reader(ctx context.Context) sqlx.ExtContext {
	if tx := c.TxFromContext(ctx); tx != nil {
		return tx
	}
	return c.db
}

func (c *Client) Close() error {
	return c.db.Close()
}
