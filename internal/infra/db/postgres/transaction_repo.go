package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"gym-membership/internal/domain"
	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/repository"
)

var _ repository.TransactionRepository = (*transactionRepo)(nil)

type transactionRepo struct{ pool *pgxpool.Pool }

func NewTransactionRepo(pool *pgxpool.Pool) *transactionRepo {
	return &transactionRepo{pool: pool}
}

const transactionColumns = `id, subscription_id, amount::text, payment_method, payment_reference, external_reference,
       payment_status, failure_reason, metadata::text, paid_at, created_at, updated_at`

func (r *transactionRepo) Save(ctx context.Context, tx repository.Tx, t *model.Transaction) error {
	const q = `
INSERT INTO transactions (
  id, subscription_id, amount, payment_method, payment_reference, external_reference,
  payment_status, failure_reason, metadata, paid_at, created_at, updated_at
) VALUES ($1,$2,$3::numeric,$4,$5,$6,$7,$8,$9::jsonb,$10,$11,$12);`

	meta, err := encodeMetadata(t.Metadata)
	if err != nil {
		return err
	}
	_, err = execSQL(ctx, r.pool, tx, q,
		t.ID, t.SubscriptionID, t.Amount.String(), string(t.PaymentMethod), t.PaymentReference, t.ExternalReference,
		string(t.PaymentStatus), t.FailureReason, meta, t.PaidAt, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save transaction: %w", err)
	}
	return nil
}

func (r *transactionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Transaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM transactions WHERE id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	return r.queryOne(ctx, tx, q+";", id)
}

func (r *transactionRepo) FindByReference(ctx context.Context, tx repository.Tx, reference string) (*model.Transaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM transactions WHERE payment_reference=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	return r.queryOne(ctx, tx, q+";", reference)
}

func (r *transactionRepo) FindPendingBySubscription(ctx context.Context, tx repository.Tx, subscriptionID string) (*model.Transaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM transactions WHERE subscription_id=$1 AND payment_status='PENDING'`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	return r.queryOne(ctx, tx, q+";", subscriptionID)
}

func (r *transactionRepo) ListBySubscription(ctx context.Context, tx repository.Tx, subscriptionID string) ([]*model.Transaction, error) {
	q := `SELECT ` + transactionColumns + ` FROM transactions WHERE subscription_id=$1 ORDER BY created_at DESC;`
	return r.queryMany(ctx, tx, q, subscriptionID)
}

func (r *transactionRepo) List(ctx context.Context, tx repository.Tx, f repository.TransactionFilter) ([]*model.Transaction, int, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("payment_status=$%d", string(f.Status))
	}
	if f.Method != "" {
		add("payment_method=$%d", string(f.Method))
	}
	if f.SubscriptionID != "" {
		add("subscription_id=$%d", f.SubscriptionID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM transactions`+clause+`;`, args...)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := row.Scan(&total); err != nil {
		return nil, 0, scanError(err)
	}

	limit, offset := pageBounds(f.Limit, f.Offset)
	q := fmt.Sprintf(`SELECT %s FROM transactions%s ORDER BY created_at DESC LIMIT %d OFFSET %d;`, transactionColumns, clause, limit, offset)
	out, err := r.queryMany(ctx, tx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *transactionRepo) UpdateStatusIfPending(ctx context.Context, tx repository.Tx, t *model.Transaction) (bool, error) {
	const q = `
UPDATE transactions
   SET payment_status=$2, external_reference=COALESCE($3, external_reference), failure_reason=$4,
       metadata=COALESCE($5::jsonb, metadata), paid_at=$6, updated_at=$7
 WHERE id=$1 AND payment_status='PENDING';`

	meta, err := encodeMetadata(t.Metadata)
	if err != nil {
		return false, err
	}
	ct, err := execSQL(ctx, r.pool, tx, q, t.ID, string(t.PaymentStatus), t.ExternalReference, t.FailureReason, meta, t.PaidAt, t.UpdatedAt)
	if err != nil {
		return false, fmt.Errorf("update transaction status: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *transactionRepo) UpdateMethodIfPending(ctx context.Context, tx repository.Tx, id string, method model.PaymentMethod) (bool, error) {
	const q = `UPDATE transactions SET payment_method=$2, updated_at=NOW() WHERE id=$1 AND payment_status='PENDING';`
	ct, err := execSQL(ctx, r.pool, tx, q, id, string(method))
	if err != nil {
		return false, fmt.Errorf("update transaction method: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// ListPendingOlderThan returns the oldest stale PENDING rows first. Inside a
// transaction the rows are locked and rows locked by another worker are skipped.
func (r *transactionRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `
SELECT ` + transactionColumns + `
  FROM transactions
 WHERE payment_status='PENDING' AND created_at < $1
 ORDER BY created_at ASC
 LIMIT $2`
	if inTx(tx) {
		q += " FOR UPDATE SKIP LOCKED"
	}
	return r.queryMany(ctx, tx, q+";", cutoff, limit)
}

func (r *transactionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.PaymentStatus]int, error) {
	rows, err := queryRows(ctx, r.pool, tx, `SELECT payment_status, COUNT(*) FROM transactions GROUP BY payment_status;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[model.PaymentStatus]int)
	for rows.Next() {
		var (
			st string
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, scanError(err)
		}
		out[model.PaymentStatus(st)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *transactionRepo) SumCompleted(ctx context.Context, tx repository.Tx, since *time.Time) (decimal.Decimal, error) {
	const q = `
SELECT COALESCE(SUM(amount), 0)::text
  FROM transactions
 WHERE payment_status='COMPLETED' AND ($1::timestamptz IS NULL OR paid_at >= $1);`
	row, err := pickRow(ctx, r.pool, tx, q, since)
	if err != nil {
		return decimal.Zero, err
	}
	var sum string
	if err := row.Scan(&sum); err != nil {
		return decimal.Zero, scanError(err)
	}
	d, err := decimal.NewFromString(sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: revenue sum %q", domain.ErrReadDatabaseRow, sum)
	}
	return d, nil
}

// ---- helpers ----

func (r *transactionRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Transaction, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanTransaction(row)
}

func (r *transactionRepo) queryMany(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Transaction, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanTransaction(row interface{ Scan(...interface{}) error }) (*model.Transaction, error) {
	var (
		t              model.Transaction
		amount, method string
		status         string
		meta           *string
	)
	if err := row.Scan(&t.ID, &t.SubscriptionID, &amount, &method, &t.PaymentReference, &t.ExternalReference,
		&status, &t.FailureReason, &meta, &t.PaidAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, scanError(err)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: transaction amount %q", domain.ErrReadDatabaseRow, amount)
	}
	t.Amount = d
	t.PaymentMethod = model.PaymentMethod(method)
	t.PaymentStatus = model.PaymentStatus(status)
	if meta != nil && *meta != "" {
		if err := json.Unmarshal([]byte(*meta), &t.Metadata); err != nil {
			return nil, fmt.Errorf("%w: transaction metadata: %v", domain.ErrReadDatabaseRow, err)
		}
	}
	return &t, nil
}

func encodeMetadata(m map[string]any) (*string, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata: %v", domain.ErrInvalidArgument, err)
	}
	s := string(b)
	return &s, nil
}
