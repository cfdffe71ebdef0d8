package apiv1

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"gym-membership/internal/domain"
	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/repository"
	"gym-membership/internal/infra/api"
	"gym-membership/internal/infra/logging"
	"gym-membership/internal/infra/payment"
)

// caller returns the authenticated member and tags ctx with their id.
func caller(r *http.Request) (*api.MemberClaims, *http.Request) {
	c, _ := api.ClaimsFrom(r.Context())
	return c, r.WithContext(logging.WithUserID(r.Context(), c.Subject))
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	c, r := caller(r)
	u, err := s.users.Get(r.Context(), c.Subject)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	ok(w, http.StatusOK, u)
}

// listPlans shows the active catalogue, optionally for one role.
func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	f := repository.PlanFilter{ActiveOnly: true}
	if role := r.URL.Query().Get("role"); role != "" {
		f.Role = model.Role(role)
		if !f.Role.Valid() {
			s.writeErr(w, r, fmt.Errorf("role %q: %w", role, domain.ErrInvalidArgument))
			return
		}
	}
	plans, err := s.plans.List(r.Context(), f)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	ok(w, http.StatusOK, plans)
}

func (s *Server) createSubscription(w http.ResponseWriter, r *http.Request) {
	c, r := caller(r)
	var req CreateSubscriptionRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	sub, txn, err := s.subs.CreatePending(r.Context(), c.Subject, req.PlanID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	ok(w, http.StatusCreated, CreateSubscriptionResponse{Subscription: sub, Transaction: txn})
}

func (s *Server) listMySubscriptions(w http.ResponseWriter, r *http.Request) {
	c, r := caller(r)
	out, err := s.subs.ListByUser(r.Context(), c.Subject)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	ok(w, http.StatusOK, out)
}

func (s *Server) getMySubscription(w http.ResponseWriter, r *http.Request) {
	c, r := caller(r)
	d, err := s.subs.GetForUser(r.Context(), c.Subject, chi.URLParam(r, "id"))
	if err != nil {
		// Someone else's subscription is reported as absent.
		if errors.Is(err, domain.ErrForbidden) {
			err = domain.ErrNotFound
		}
		s.writeErr(w, r, err)
		return
	}
	ok(w, http.StatusOK, d)
}

func (s *Server) initializePayment(w http.ResponseWriter, r *http.Request) {
	c, r := caller(r)
	var req InitializePaymentRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeErr(w, r, err)
		return
	}
	sess, err := s.pay.Initialize(r.Context(), c.Subject, c.Email, req.TransactionID, model.PaymentMethod(req.PaymentMethod))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	ok(w, http.StatusOK, sess)
}

func (s *Server) verifyPayment(w http.ResponseWriter, r *http.Request) {
	c, r := caller(r)
	s.settle(w, r, c.Subject, chi.URLParam(r, "reference"))
}

func (s *Server) settle(w http.ResponseWriter, r *http.Request, userID, reference string) {
	st, err := s.pay.Verify(logging.WithReference(r.Context(), reference), userID, reference)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	ok(w, http.StatusOK, st)
}

// paymentWebhook hands the exact bytes received to signature verification.
// Any 2xx stops gateway retries, so only failures a retry could fix are 5xx.
func (s *Server) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		if errors.As(err, new(*http.MaxBytesError)) {
			fail(w, http.StatusRequestEntityTooLarge, "body too large")
			return
		}
		fail(w, http.StatusBadRequest, "unreadable body")
		return
	}
	sig := r.Header.Get(payment.SignatureHeader)
	if err := s.pay.HandleWebhook(r.Context(), body, sig); err != nil {
		s.writeErr(w, r, err)
		return
	}
	ok(w, http.StatusOK, nil)
}
