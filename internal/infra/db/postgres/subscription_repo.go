package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"gym-membership/internal/domain"
	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/repository"
)

// Ensure subscriptionRepo implements repository.SubscriptionRepository
var _ repository.SubscriptionRepository = (*subscriptionRepo)(nil)

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

func NewSubscriptionRepo(pool *pgxpool.Pool) *subscriptionRepo {
	return &subscriptionRepo{pool: pool}
}

const subscriptionColumns = `id, user_id, plan_id, subscription_status, payment_status, start_date, end_date, created_at, updated_at`

func (r *subscriptionRepo) Save(ctx context.Context, tx repository.Tx, s *model.Subscription) error {
	const q = `
INSERT INTO subscriptions (
  id, user_id, plan_id, subscription_status, payment_status, start_date, end_date, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (id) DO UPDATE SET
  subscription_status=$4, payment_status=$5, start_date=$6, end_date=$7, updated_at=$9;`

	_, err := execSQL(ctx, r.pool, tx, q, s.ID, s.UserID, s.PlanID, string(s.Status), string(s.PaymentStatus), s.StartDate, s.EndDate, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}
	return nil
}

func (r *subscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id=$1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	return r.queryOne(ctx, tx, q+";", id)
}

func (r *subscriptionRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Subscription, error) {
	q := `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE user_id=$1 AND subscription_status='ACTIVE'
 ORDER BY end_date DESC NULLS LAST
 LIMIT 1`
	if inTx(tx) {
		q += " FOR UPDATE"
	}
	return r.queryOne(ctx, tx, q+";", userID)
}

func (r *subscriptionRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Subscription, error) {
	const q = `
SELECT ` + subscriptionColumns + `
  FROM subscriptions
 WHERE user_id=$1
 ORDER BY created_at DESC;`
	return r.queryMany(ctx, tx, q, userID)
}

func (r *subscriptionRepo) List(ctx context.Context, tx repository.Tx, f repository.SubscriptionFilter) ([]*model.Subscription, int, error) {
	var (
		where []string
		args  []interface{}
	)
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("subscription_status=$%d", string(f.Status))
	}
	if f.PaymentStatus != "" {
		add("payment_status=$%d", string(f.PaymentStatus))
	}
	if f.UserID != "" {
		add("user_id=$%d", f.UserID)
	}
	if f.PlanID != "" {
		add("plan_id=$%d", f.PlanID)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM subscriptions`+clause+`;`, args...)
	if err != nil {
		return nil, 0, err
	}
	var total int
	if err := row.Scan(&total); err != nil {
		return nil, 0, scanError(err)
	}

	limit, offset := pageBounds(f.Limit, f.Offset)
	q := fmt.Sprintf(`SELECT %s FROM subscriptions%s ORDER BY created_at DESC LIMIT %d OFFSET %d;`, subscriptionColumns, clause, limit, offset)
	out, err := r.queryMany(ctx, tx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *subscriptionRepo) UpdateStatusIf(ctx context.Context, tx repository.Tx, s *model.Subscription, from ...model.SubscriptionStatus) (bool, error) {
	if len(from) == 0 {
		return false, domain.ErrInvalidArgument
	}
	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}
	const q = `
UPDATE subscriptions
   SET subscription_status=$2, payment_status=$3, start_date=$4, end_date=$5, updated_at=$6
 WHERE id=$1 AND subscription_status = ANY($7);`

	ct, err := execSQL(ctx, r.pool, tx, q, s.ID, string(s.Status), string(s.PaymentStatus), s.StartDate, s.EndDate, s.UpdatedAt, allowed)
	if err != nil {
		return false, fmt.Errorf("update subscription status: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (r *subscriptionRepo) ExpireEnded(ctx context.Context, tx repository.Tx, now time.Time) (int, error) {
	const q = `
UPDATE subscriptions
   SET subscription_status='EXPIRED', updated_at=$1
 WHERE subscription_status='ACTIVE' AND end_date < $1;`

	ct, err := execSQL(ctx, r.pool, tx, q, now)
	if err != nil {
		return 0, fmt.Errorf("expire subscriptions: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

// LockUser takes a transaction-scoped advisory lock keyed by the user id.
// It needs a real transaction: on the pool the lock would be released at once.
func (r *subscriptionRepo) LockUser(ctx context.Context, tx repository.Tx, userID string) error {
	if !inTx(tx) {
		return domain.ErrInvalidExecContext
	}
	if _, err := execSQL(ctx, r.pool, tx, `SELECT pg_advisory_xact_lock($1);`, lockKey("subscription:user", userID)); err != nil {
		return fmt.Errorf("lock user: %w", err)
	}
	return nil
}

func (r *subscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	const q = `SELECT subscription_status, COUNT(*) FROM subscriptions GROUP BY subscription_status;`
	rows, err := queryRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[model.SubscriptionStatus]int)
	for rows.Next() {
		var (
			st string
			n  int
		)
		if err := rows.Scan(&st, &n); err != nil {
			return nil, scanError(err)
		}
		out[model.SubscriptionStatus(st)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

// ---- helpers ----

func (r *subscriptionRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Subscription, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanSubscription(row)
}

func (r *subscriptionRepo) queryMany(ctx context.Context, tx repository.Tx, q string, args ...interface{}) ([]*model.Subscription, error) {
	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func scanSubscription(row interface{ Scan(...interface{}) error }) (*model.Subscription, error) {
	var (
		s             model.Subscription
		status, paySt string
	)
	if err := row.Scan(&s.ID, &s.UserID, &s.PlanID, &status, &paySt, &s.StartDate, &s.EndDate, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, scanError(err)
	}
	s.Status = model.SubscriptionStatus(status)
	s.PaymentStatus = model.PaymentStatus(paySt)
	return &s, nil
}
