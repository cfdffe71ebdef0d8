package apiv1

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"gym-membership/internal/domain"
	"gym-membership/internal/domain/model"
	"gym-membership/internal/usecase"
)

const maxBodyBytes = 1 << 20

type CreateSubscriptionRequest struct {
	PlanID string `json:"planId" validate:"required"`
}

type CreateSubscriptionResponse struct {
	Subscription *model.Subscription `json:"subscription"`
	Transaction  *model.Transaction  `json:"transaction"`
}

type InitializePaymentRequest struct {
	TransactionID string `json:"transactionId" validate:"required"`
	PaymentMethod string `json:"paymentMethod" validate:"required,oneof=CARD MOBILE_MONEY"`
}

type CreatePlanRequest struct {
	Name         string          `json:"name" validate:"required,max=100"`
	Description  string          `json:"description" validate:"max=1000"`
	Price        decimal.Decimal `json:"price" validate:"gt=0"`
	DurationDays int             `json:"duration" validate:"required,gt=0"`
	TargetRole   string          `json:"targetRole" validate:"required,oneof=STUDENT STAFF PUBLIC"`
	Features     []string        `json:"features" validate:"max=50,dive,max=200"`
}

func (r CreatePlanRequest) input() usecase.PlanInput {
	return usecase.PlanInput{
		Name:         r.Name,
		Description:  r.Description,
		Price:        r.Price,
		DurationDays: r.DurationDays,
		TargetRole:   model.Role(r.TargetRole),
		Features:     r.Features,
	}
}

// UpdatePlanRequest is a partial update: absent fields keep their value.
type UpdatePlanRequest struct {
	Name         *string          `json:"name" validate:"omitempty,min=1,max=100"`
	Description  *string          `json:"description" validate:"omitempty,max=1000"`
	Price        *decimal.Decimal `json:"price" validate:"omitempty,gt=0"`
	DurationDays *int             `json:"duration" validate:"omitempty,gt=0"`
	TargetRole   *string          `json:"targetRole" validate:"omitempty,oneof=STUDENT STAFF PUBLIC"`
	Features     []string         `json:"features" validate:"omitempty,max=50,dive,max=200"`
	IsActive     *bool            `json:"isActive"`
}

func (r UpdatePlanRequest) update() usecase.PlanUpdate {
	u := usecase.PlanUpdate{
		Name:         r.Name,
		Description:  r.Description,
		Price:        r.Price,
		DurationDays: r.DurationDays,
		Features:     r.Features,
		IsActive:     r.IsActive,
	}
	if r.TargetRole != nil {
		role := model.Role(*r.TargetRole)
		u.TargetRole = &role
	}
	return u
}

type SetPlanActiveRequest struct {
	IsActive *bool `json:"isActive" validate:"required"`
}

type UpdateSubscriptionStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=CANCELLED"`
}

type RegisterUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	FullName string `json:"fullName" validate:"required,max=200"`
	Role     string `json:"role" validate:"required,oneof=STUDENT STAFF PUBLIC ADMIN"`
	// StudentID or StaffID, depending on Role.
	RoleRef string `json:"roleRef" validate:"required_if=Role STUDENT,required_if=Role STAFF"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	// decimal.Decimal is a struct; expose it to numeric tags as a float.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// decode reads a JSON body into dst and validates it. Every failure is an
// ErrInvalidArgument.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if err == io.EOF {
			return fmt.Errorf("empty body: %w", domain.ErrInvalidArgument)
		}
		return fmt.Errorf("malformed body: %v: %w", err, domain.ErrInvalidArgument)
	}
	if err := s.validate.Struct(dst); err != nil {
		return fmt.Errorf("%s: %w", describe(err), domain.ErrInvalidArgument)
	}
	return nil
}

func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	if fe.Param() != "" {
		return fmt.Sprintf("field %s failed %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("field %s failed %s", fe.Field(), fe.Tag())
}
