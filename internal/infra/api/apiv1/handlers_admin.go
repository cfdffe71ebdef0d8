package apiv1

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"gym-membership/internal/domain"
	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/repository"
	"gym-membership/internal/infra/metrics"
)

// audit records the outcome of an admin mutation.
func audit(action string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.IncAdminAction(action, status)
}

func paging(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, fmt.Errorf("limit %q: %w", v, domain.ErrInvalidArgument)
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("offset %q: %w", v, domain.ErrInvalidArgument)
		}
	}
	return limit, offset, nil
}

// ---- plans ----

func (s *Server) adminListPlans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := repository.PlanFilter{Role: model.Role(q.Get("role"))}
	if v := q.Get("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeErr(w, r, fmt.Errorf("active %q: %w", v, domain.ErrInvalidArgument))
			return
		}
		f.ActiveOnly = b
	}
	plans, err := s.plans.List(r.Context(), f)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	ok(w, http.StatusOK, plans)
}

func (s *Server) adminCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req CreatePlanRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	p, err := s.plans.Create(r.Context(), req.input())
	audit("plan_create", err)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	ok(w, http.StatusCreated, p)
}

func (s *Server) adminGetPlan(w http.ResponseWriter, r *http.Request) {
	p, err := s.plans.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	ok(w, http.StatusOK, p)
}

func (s *Server) adminUpdatePlan(w http.ResponseWriter, r *http.Request) {
	var req UpdatePlanRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	p, err := s.plans.Update(r.Context(), chi.URLParam(r, "id"), req.update())
	audit("plan_update", err)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	ok(w, http.StatusOK, p)
}

func (s *Server) adminSetPlanActive(w http.ResponseWriter, r *http.Request) {
	var req SetPlanActiveRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	p, err := s.plans.SetActive(r.Context(), chi.URLParam(r, "id"), *req.IsActive)
	audit("plan_set_active", err)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	ok(w, http.StatusOK, p)
}

func (s *Server) adminDeletePlan(w http.ResponseWriter, r *http.Request) {
	err := s.plans.Delete(r.Context(), chi.URLParam(r, "id"))
	audit("plan_delete", err)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- subscriptions ----

func (s *Server) adminListSubscriptions(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	q := r.URL.Query()
	f := repository.SubscriptionFilter{
		Status:        model.SubscriptionStatus(q.Get("status")),
		PaymentStatus: model.PaymentStatus(q.Get("paymentStatus")),
		UserID:        q.Get("userId"),
		PlanID:        q.Get("planId"),
		Limit:         limit,
		Offset:        offset,
	}
	if (f.Status != "" && !f.Status.Valid()) || (f.PaymentStatus != "" && !f.PaymentStatus.Valid()) {
		s.writeErr(w, r, fmt.Errorf("status filter: %w", domain.ErrInvalidArgument))
		return
	}
	items, total, err := s.subs.List(r.Context(), f)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	ok(w, http.StatusOK, Page{Items: items, Total: total, Limit: limit, Offset: offset})
}

func (s *Server) adminGetSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := s.subs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	ok(w, http.StatusOK, sub)
}

// adminUpdateSubscriptionStatus only supports cancellation; every other
// transition belongs to payments and expiry.
func (s *Server) adminUpdateSubscriptionStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateSubscriptionStatusRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	sub, err := s.subs.Cancel(r.Context(), chi.URLParam(r, "id"))
	audit("subscription_cancel", err)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	ok(w, http.StatusOK, sub)
}

// ---- ledger ----

func (s *Server) adminListTransactions(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := paging(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	q := r.URL.Query()
	f := repository.TransactionFilter{
		Status:         model.PaymentStatus(q.Get("status")),
		Method:         model.PaymentMethod(q.Get("method")),
		SubscriptionID: q.Get("subscriptionId"),
		Limit:          limit,
		Offset:         offset,
	}
	if (f.Status != "" && !f.Status.Valid()) || (f.Method != "" && !f.Method.Valid()) {
		s.writeErr(w, r, fmt.Errorf("transaction filter: %w", domain.ErrInvalidArgument))
		return
	}
	items, total, err := s.ledger.List(r.Context(), f)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	ok(w, http.StatusOK, Page{Items: items, Total: total, Limit: limit, Offset: offset})
}

// adminVerifyPayment reconciles any reference on behalf of its owner.
func (s *Server) adminVerifyPayment(w http.ResponseWriter, r *http.Request) {
	s.settle(w, r, "", chi.URLParam(r, "reference"))
}

// ---- users ----

func (s *Server) adminRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req RegisterUserRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	u, err := s.users.Register(r.Context(), req.Email, req.FullName, model.Role(req.Role), req.RoleRef)
	audit("user_register", err)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	ok(w, http.StatusCreated, u)
}

func (s *Server) adminGetUser(w http.ResponseWriter, r *http.Request) {
	u, err := s.users.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	ok(w, http.StatusOK, u)
}

func (s *Server) adminStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.stats.Overview(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	ok(w, http.StatusOK, st)
}
