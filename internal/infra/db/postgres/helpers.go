package postgres

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"gym-membership/internal/domain"
	"gym-membership/internal/domain/ports/repository"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"

	// constraint names from migrations/00001_init.sql
	constraintOnePendingPerSub  = "transactions_one_pending_per_subscription"
	constraintSubscriptionsPlan = "subscriptions_plan_id_fkey"
)

func execSQL(ctx context.Context, pool *pgxpool.Pool, tx repository.Tx, q string, args ...interface{}) (pgconn.CommandTag, error) {
	ex, err := getExecutor(pool, tx)
	if err != nil {
		return nil, err
	}
	ct, err := ex.Exec(ctx, q, args...)
	if err != nil {
		return nil, mapError(err)
	}
	return ct, nil
}

func pickRow(ctx context.Context, pool *pgxpool.Pool, tx repository.Tx, q string, args ...interface{}) (pgx.Row, error) {
	ex, err := getExecutor(pool, tx)
	if err != nil {
		return nil, err
	}
	return ex.QueryRow(ctx, q, args...), nil
}

func queryRows(ctx context.Context, pool *pgxpool.Pool, tx repository.Tx, q string, args ...interface{}) (pgx.Rows, error) {
	ex, err := getExecutor(pool, tx)
	if err != nil {
		return nil, err
	}
	rows, err := ex.Query(ctx, q, args...)
	if err != nil {
		return nil, mapError(err)
	}
	return rows, nil
}

// mapError translates driver errors into domain errors. Domain errors pass
// through untouched.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return domain.ErrNotFound
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidExecContext):
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			if pgErr.ConstraintName == constraintOnePendingPerSub {
				return domain.ErrConflict
			}
			return domain.ErrAlreadyExists
		case pgForeignKeyViolation:
			if pgErr.ConstraintName == constraintSubscriptionsPlan {
				return domain.ErrPlanInUse
			}
			return fmt.Errorf("%w: %s", domain.ErrInvalidArgument, pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%w: %v", domain.ErrOperationFailed, err)
}

// scanError distinguishes a missing row from a decode failure.
func scanError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return mapError(err)
	}
	return fmt.Errorf("%w: %v", domain.ErrReadDatabaseRow, err)
}

// lockKey folds an id into the int8 key space of pg_advisory_xact_lock.
func lockKey(namespace, id string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(namespace))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(id))
	return int64(h.Sum64())
}

// pageBounds clamps admin listing windows.
func pageBounds(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
