package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*userRepo)(nil)

type userRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *userRepo {
	return &userRepo{pool: pool}
}

const userColumns = `id, email, full_name, role, student_id, staff_id, created_at`

func (r *userRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (id, email, full_name, role, student_id, staff_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
  email=$2, full_name=$3, role=$4, student_id=$5, staff_id=$6;`

	if _, err := execSQL(ctx, r.pool, tx, q, u.ID, u.Email, u.FullName, string(u.Role), u.StudentID, u.StaffID, u.CreatedAt); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

func (r *userRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	return r.queryOne(ctx, tx, `SELECT `+userColumns+` FROM users WHERE id=$1;`, id)
}

func (r *userRepo) FindByEmail(ctx context.Context, tx repository.Tx, email string) (*model.User, error) {
	return r.queryOne(ctx, tx, `SELECT `+userColumns+` FROM users WHERE email=$1;`, email)
}

func (r *userRepo) CountUsers(ctx context.Context, tx repository.Tx) (int, error) {
	row, err := pickRow(ctx, r.pool, tx, `SELECT COUNT(*) FROM users;`)
	if err != nil {
		return 0, err
	}
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, scanError(err)
	}
	return n, nil
}

func (r *userRepo) queryOne(ctx context.Context, tx repository.Tx, q string, args ...interface{}) (*model.User, error) {
	row, err := pickRow(ctx, r.pool, tx, q, args...)
	if err != nil {
		return nil, err
	}
	var (
		u    model.User
		role string
	)
	if err := row.Scan(&u.ID, &u.Email, &u.FullName, &role, &u.StudentID, &u.StaffID, &u.CreatedAt); err != nil {
		return nil, scanError(err)
	}
	u.Role = model.Role(role)
	return &u, nil
}
