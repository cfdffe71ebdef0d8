package model

import (
	"strings"
	"time"

	"gym-membership/internal/domain"

	"github.com/google/uuid"
)

// User is a member (or administrator) of the gym. Only the fields the
// subscription core consumes are modelled here.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FullName  string    `json:"fullName"`
	Role      Role      `json:"role"`
	StudentID *string   `json:"studentId,omitempty"`
	StaffID   *string   `json:"staffId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewUser validates role-specific requirements: students need a student id,
// staff need a staff id.
func NewUser(id, email, fullName string, role Role, roleRef string) (*User, error) {
	if id == "" {
		id = uuid.NewString()
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, domain.ErrInvalidArgument
	}
	u := &User{
		ID:        id,
		Email:     email,
		FullName:  strings.TrimSpace(fullName),
		Role:      role,
		CreatedAt: time.Now(),
	}
	roleRef = strings.TrimSpace(roleRef)
	switch role {
	case RoleStudent:
		if roleRef == "" {
			return nil, domain.ErrInvalidArgument
		}
		u.StudentID = &roleRef
	case RoleStaff:
		if roleRef == "" {
			return nil, domain.ErrInvalidArgument
		}
		u.StaffID = &roleRef
	case RolePublic, RoleAdmin:
	default:
		return nil, domain.ErrInvalidArgument
	}
	return u, nil
}

func (u *User) IsZero() bool  { return u == nil || u.ID == "" }
func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }
