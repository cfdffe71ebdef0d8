package model

import (
	"strings"
	"time"

	"gym-membership/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Role is the membership category a user belongs to. Plans target exactly one role.
type Role string

const (
	RoleStudent Role = "STUDENT"
	RoleStaff   Role = "STAFF"
	RolePublic  Role = "PUBLIC"
	RoleAdmin   Role = "ADMIN"
)

// Valid reports whether r can own a membership (ADMIN cannot).
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleStaff, RolePublic:
		return true
	}
	return false
}

// Plan is a purchasable membership with a fixed duration and a base merchant price.
type Plan struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price"`
	DurationDays int             `json:"duration"`
	TargetRole   Role            `json:"targetRole"`
	Features     []string        `json:"features"`
	IsActive     bool            `json:"isActive"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func (p *Plan) IsZero() bool { return p == nil || p.ID == "" }

// NewPlan validates and constructs an active plan.
func NewPlan(name, description string, price decimal.Decimal, durationDays int, role Role, features []string) (*Plan, error) {
	p := &Plan{
		ID:           uuid.NewString(),
		Name:         strings.TrimSpace(name),
		Description:  strings.TrimSpace(description),
		Price:        price,
		DurationDays: durationDays,
		TargetRole:   role,
		Features:     normalizeFeatures(features),
		IsActive:     true,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	return p, nil
}

// Validate checks the invariants shared by create and update.
func (p *Plan) Validate() error {
	if p.Name == "" || p.DurationDays <= 0 || !p.Price.IsPositive() || !p.TargetRole.Valid() {
		return domain.ErrInvalidArgument
	}
	return nil
}

func normalizeFeatures(in []string) []string {
	out := make([]string, 0, len(in))
	for _, f := range in {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
