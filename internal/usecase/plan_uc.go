package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gym-membership/internal/domain"
	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/repository"
	"gym-membership/internal/infra/logging"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Compile-time check
var _ PlanUseCase = (*planUC)(nil)

// PlanInput carries the fields of a new plan.
type PlanInput struct {
	Name         string
	Description  string
	Price        decimal.Decimal
	DurationDays int
	TargetRole   model.Role
	Features     []string
}

// PlanUpdate is a partial update; nil fields are left unchanged.
type PlanUpdate struct {
	Name         *string
	Description  *string
	Price        *decimal.Decimal
	DurationDays *int
	TargetRole   *model.Role
	Features     []string
	IsActive     *bool
}

// PlanUseCase manages membership plans.
type PlanUseCase interface {
	Create(ctx context.Context, in PlanInput) (*model.Plan, error)
	Update(ctx context.Context, id string, in PlanUpdate) (*model.Plan, error)
	SetActive(ctx context.Context, id string, active bool) (*model.Plan, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*model.Plan, error)
	List(ctx context.Context, f repository.PlanFilter) ([]*model.Plan, error)
}

type planUC struct {
	plans repository.PlanRepository
	log   *zerolog.Logger
}

func NewPlanUseCase(plans repository.PlanRepository, logger *zerolog.Logger) *planUC {
	l := logger.With().Str("component", "PlanUC").Logger()
	return &planUC{plans: plans, log: &l}
}

func (uc *planUC) Create(ctx context.Context, in PlanInput) (*model.Plan, error) {
	defer logging.TraceDuration(uc.log, "PlanUC.Create")()

	p, err := model.NewPlan(in.Name, in.Description, in.Price, in.DurationDays, in.TargetRole, in.Features)
	if err != nil {
		return nil, err
	}
	if err := uc.ensureNameFree(ctx, p.Name, ""); err != nil {
		return nil, err
	}
	if err := uc.plans.Save(ctx, repository.NoTX, p); err != nil {
		return nil, err
	}
	uc.log.Info().Str("plan_id", p.ID).Str("name", p.Name).Msg("plan created")
	return p, nil
}

func (uc *planUC) Update(ctx context.Context, id string, in PlanUpdate) (*model.Plan, error) {
	defer logging.TraceDuration(uc.log, "PlanUC.Update")()

	p, err := uc.plans.FindByID(ctx, repository.NoTX, id)
	if err != nil {
		return nil, err
	}
	if in.Name != nil && *in.Name != p.Name {
		if err := uc.ensureNameFree(ctx, *in.Name, p.ID); err != nil {
			return nil, err
		}
		p.Name = *in.Name
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
	if in.Price != nil {
		p.Price = *in.Price
	}
	if in.DurationDays != nil {
		p.DurationDays = *in.DurationDays
	}
	if in.TargetRole != nil {
		p.TargetRole = *in.TargetRole
	}
	if in.Features != nil {
		p.Features = in.Features
	}
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p.UpdatedAt = time.Now()
	if err := uc.plans.Save(ctx, repository.NoTX, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (uc *planUC) SetActive(ctx context.Context, id string, active bool) (*model.Plan, error) {
	return uc.Update(ctx, id, PlanUpdate{IsActive: &active})
}

// Delete removes a plan nobody subscribed to. Referenced plans must be
// deactivated instead.
func (uc *planUC) Delete(ctx context.Context, id string) error {
	defer logging.TraceDuration(uc.log, "PlanUC.Delete")()

	if err := uc.plans.Delete(ctx, repository.NoTX, id); err != nil {
		if errors.Is(err, domain.ErrPlanInUse) {
			return fmt.Errorf("delete plan %s: %w", id, err)
		}
		return err
	}
	uc.log.Info().Str("plan_id", id).Msg("plan deleted")
	return nil
}

func (uc *planUC) Get(ctx context.Context, id string) (*model.Plan, error) {
	return uc.plans.FindByID(ctx, repository.NoTX, id)
}

func (uc *planUC) List(ctx context.Context, f repository.PlanFilter) ([]*model.Plan, error) {
	defer logging.TraceDuration(uc.log, "PlanUC.List")()
	return uc.plans.List(ctx, repository.NoTX, f)
}

func (uc *planUC) ensureNameFree(ctx context.Context, name, selfID string) error {
	existing, err := uc.plans.FindByName(ctx, repository.NoTX, name)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return nil
	case err != nil:
		return err
	case existing.ID != selfID:
		return fmt.Errorf("plan name %q: %w", name, domain.ErrAlreadyExists)
	}
	return nil
}
