package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

// Tx is an opaque, infra-defined transaction handle (pgx.Tx for Postgres).
// Repositories accept nil and fall back to the pool.
type Tx interface{}

var NoTX interface{}

// TransactionManager runs fn inside one database transaction and passes the
// handle through tx. Returning an error from fn rolls the transaction back.
//
// Repository reads that receive a non-nil tx lock the rows they return
// (SELECT ... FOR UPDATE) so that read-check-write sequences are serialized
// per row.
//
//	tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx Tx) error {
//		t, err := txs.FindByReference(ctx, tx, ref)
//		...
//	})
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
