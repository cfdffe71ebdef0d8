package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/shopspring/decimal"

	"gym-membership/internal/domain"
	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/repository"
)

// Ensure interface compliance
var _ repository.PlanRepository = (*planRepo)(nil)

type planRepo struct {
	pool *pgxpool.Pool
}

func NewPlanRepo(pool *pgxpool.Pool) *planRepo {
	return &planRepo{pool: pool}
}

const planColumns = `id, name, description, price::text, duration_days, target_role, features, is_active, created_at, updated_at`

func (r *planRepo) Save(ctx context.Context, tx repository.Tx, p *model.Plan) error {
	const q = `
INSERT INTO plans (id, name, description, price, duration_days, target_role, features, is_active, created_at, updated_at)
VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE
  SET name          = EXCLUDED.name,
      description   = EXCLUDED.description,
      price         = EXCLUDED.price,
      duration_days = EXCLUDED.duration_days,
      target_role   = EXCLUDED.target_role,
      features      = EXCLUDED.features,
      is_active     = EXCLUDED.is_active,
      updated_at    = EXCLUDED.updated_at;`

	features := p.Features
	if features == nil {
		features = []string{}
	}
	_, err := execSQL(ctx, r.pool, tx, q,
		p.ID, p.Name, p.Description, p.Price.String(), p.DurationDays, string(p.TargetRole), features, p.IsActive, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save plan: %w", err)
	}
	return nil
}

func (r *planRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	return r.queryOne(ctx, tx, `SELECT `+planColumns+` FROM plans WHERE id = $1;`, id)
}

func (r *planRepo) FindByName(ctx context.Context, tx repository.Tx, name string) (*model.Plan, error) {
	return r.queryOne(ctx, tx, `SELECT `+planColumns+` FROM plans WHERE name = $1;`, name)
}

func (r *planRepo) List(ctx context.Context, tx repository.Tx, f repository.PlanFilter) ([]*model.Plan, error) {
	var (
		where []string
		args  []interface{}
	)
	if f.ActiveOnly {
		where = append(where, "is_active = TRUE")
	}
	if f.Role != "" {
		args = append(args, string(f.Role))
		where = append(where, fmt.Sprintf("target_role = $%d", len(args)))
	}
	q := `SELECT ` + planColumns + ` FROM plans`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY price ASC, name ASC;"

	rows, err := queryRows(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var out []*model.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *planRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	ct, err := execSQL(ctx, r.pool, tx, `DELETE FROM plans WHERE id = $1;`, id)
	if err != nil {
		if errors.Is(err, domain.ErrPlanInUse) {
			return err
		}
		return fmt.Errorf("delete plan: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *planRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.Plan, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanPlan(row)
}

func scanPlan(row interface{ Scan(...interface{}) error }) (*model.Plan, error) {
	var (
		p     model.Plan
		price string
		role  string
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &price, &p.DurationDays, &role, &p.Features, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, scanError(err)
	}
	amount, err := decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("%w: plan price %q", domain.ErrReadDatabaseRow, price)
	}
	p.Price = amount
	p.TargetRole = model.Role(role)
	return &p, nil
}
