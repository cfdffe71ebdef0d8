package repository

import (
	"context"

	"gym-membership/internal/domain/model"
)

// PlanFilter narrows plan listings. Zero values mean "no constraint".
type PlanFilter struct {
	ActiveOnly bool
	Role       model.Role
}

// PlanRepository is the port for membership plans.
type PlanRepository interface {
	// Save inserts or updates by id. A duplicate name returns domain.ErrAlreadyExists.
	Save(ctx context.Context, tx Tx, p *model.Plan) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.Plan, error)
	FindByName(ctx context.Context, tx Tx, name string) (*model.Plan, error)
	List(ctx context.Context, tx Tx, f PlanFilter) ([]*model.Plan, error)
	// Delete removes a plan. A plan still referenced by subscriptions returns
	// domain.ErrPlanInUse.
	Delete(ctx context.Context, tx Tx, id string) error
}
