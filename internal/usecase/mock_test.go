//go:build !integration

package usecase_test

import (
	"context"
	"encoding/json"
	"io"
	"sort"
	"sync"
	"time"

	"gym-membership/internal/domain"
	"gym-membership/internal/domain/model"
	"gym-membership/internal/domain/ports/adapter"
	"gym-membership/internal/domain/ports/repository"

	"github.com/jackc/pgx/v4"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// -----------------------------
// In-memory store shared by the repository fakes
// -----------------------------

type memStore struct {
	mu    sync.Mutex
	users map[string]model.User
	plans map[string]model.Plan
	subs  map[string]model.Subscription
	txs   map[string]model.Transaction
}

func newMemStore() *memStore {
	return &memStore{
		users: map[string]model.User{},
		plans: map[string]model.Plan{},
		subs:  map[string]model.Subscription{},
		txs:   map[string]model.Transaction{},
	}
}

type memSnapshot struct {
	users map[string]model.User
	plans map[string]model.Plan
	subs  map[string]model.Subscription
	txs   map[string]model.Transaction
}

func copyMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (s *memStore) snapshot() memSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return memSnapshot{copyMap(s.users), copyMap(s.plans), copyMap(s.subs), copyMap(s.txs)}
}

func (s *memStore) restore(snap memSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users, s.plans, s.subs, s.txs = snap.users, snap.plans, snap.subs, snap.txs
}

// -----------------------------
// Transaction manager
// -----------------------------

// MockTxManager serializes transactions and rolls the store back when fn
// fails, which is what row locks plus a real rollback give the Postgres
// implementation. Set Parallel to let transactions interleave freely (no
// rollback); only the conditional updates then keep state consistent.
type MockTxManager struct {
	store    *memStore
	txMu     sync.Mutex
	Parallel bool

	mu         sync.Mutex
	Commits    int
	Rollbacks  int
	WithTxFunc func(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error
}

func NewMockTxManager(store *memStore) *MockTxManager {
	return &MockTxManager{store: store}
}

var _ repository.TransactionManager = (*MockTxManager)(nil)

func (m *MockTxManager) WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx repository.Tx) error) error {
	if m.WithTxFunc != nil {
		return m.WithTxFunc(ctx, txOpt, fn)
	}
	if m.Parallel {
		return m.finish(fn(ctx, "mock-tx"))
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()
	snap := m.store.snapshot()
	err := fn(ctx, "mock-tx")
	if err != nil {
		m.store.restore(snap)
	}
	return m.finish(err)
}

func (m *MockTxManager) finish(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.Rollbacks++
	} else {
		m.Commits++
	}
	return err
}

// -----------------------------
// Users
// -----------------------------

type MockUserRepo struct{ s *memStore }

var _ repository.UserRepository = (*MockUserRepo)(nil)

func (r *MockUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.users[u.ID] = *u
	return nil
}

func (r *MockUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &u, nil
}

func (r *MockUserRepo) FindByEmail(ctx context.Context, tx repository.Tx, email string) (*model.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email == email {
			cp := u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockUserRepo) CountUsers(ctx context.Context, tx repository.Tx) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.users), nil
}

// -----------------------------
// Plans
// -----------------------------

type MockPlanRepo struct{ s *memStore }

var _ repository.PlanRepository = (*MockPlanRepo)(nil)

func (r *MockPlanRepo) Save(ctx context.Context, tx repository.Tx, p *model.Plan) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, other := range r.s.plans {
		if other.Name == p.Name && other.ID != p.ID {
			return domain.ErrAlreadyExists
		}
	}
	r.s.plans[p.ID] = *p
	return nil
}

func (r *MockPlanRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.plans[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &p, nil
}

func (r *MockPlanRepo) FindByName(ctx context.Context, tx repository.Tx, name string) (*model.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, p := range r.s.plans {
		if p.Name == name {
			cp := p
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockPlanRepo) List(ctx context.Context, tx repository.Tx, f repository.PlanFilter) ([]*model.Plan, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Plan
	for _, p := range r.s.plans {
		if f.ActiveOnly && !p.IsActive {
			continue
		}
		if f.Role != "" && p.TargetRole != f.Role {
			continue
		}
		cp := p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price.LessThan(out[j].Price) })
	return out, nil
}

func (r *MockPlanRepo) Delete(ctx context.Context, tx repository.Tx, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.plans[id]; !ok {
		return domain.ErrNotFound
	}
	for _, s := range r.s.subs {
		if s.PlanID == id {
			return domain.ErrPlanInUse
		}
	}
	delete(r.s.plans, id)
	return nil
}

// -----------------------------
// Subscriptions
// -----------------------------

type MockSubscriptionRepo struct {
	s *memStore

	mu          sync.Mutex
	LockedUsers []string
	transitions int
	// UpdateStatusIfFunc, when set, replaces the conditional update.
	UpdateStatusIfFunc func(ctx context.Context, tx repository.Tx, sub *model.Subscription, from ...model.SubscriptionStatus) (bool, error)
}

var _ repository.SubscriptionRepository = (*MockSubscriptionRepo)(nil)

func (r *MockSubscriptionRepo) Save(ctx context.Context, tx repository.Tx, sub *model.Subscription) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.subs[sub.ID] = *sub
	return nil
}

func (r *MockSubscriptionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	s, ok := r.s.subs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &s, nil
}

func (r *MockSubscriptionRepo) FindActiveByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Subscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, s := range r.s.subs {
		if s.UserID == userID && s.Status == model.SubscriptionStatusActive {
			cp := s
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockSubscriptionRepo) ListByUser(ctx context.Context, tx repository.Tx, userID string) ([]*model.Subscription, error) {
	out, _, err := r.List(ctx, tx, repository.SubscriptionFilter{UserID: userID})
	return out, err
}

func (r *MockSubscriptionRepo) List(ctx context.Context, tx repository.Tx, f repository.SubscriptionFilter) ([]*model.Subscription, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Subscription
	for _, s := range r.s.subs {
		if (f.UserID != "" && s.UserID != f.UserID) ||
			(f.PlanID != "" && s.PlanID != f.PlanID) ||
			(f.Status != "" && s.Status != f.Status) ||
			(f.PaymentStatus != "" && s.PaymentStatus != f.PaymentStatus) {
			continue
		}
		cp := s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return nil, total, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (r *MockSubscriptionRepo) UpdateStatusIf(ctx context.Context, tx repository.Tx, sub *model.Subscription, from ...model.SubscriptionStatus) (bool, error) {
	if r.UpdateStatusIfFunc != nil {
		return r.UpdateStatusIfFunc(ctx, tx, sub, from...)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.subs[sub.ID]
	if !ok {
		return false, nil
	}
	for _, st := range from {
		if cur.Status == st {
			cur.Status = sub.Status
			cur.PaymentStatus = sub.PaymentStatus
			cur.StartDate = sub.StartDate
			cur.EndDate = sub.EndDate
			cur.UpdatedAt = sub.UpdatedAt
			r.s.subs[sub.ID] = cur
			r.mu.Lock()
			r.transitions++
			r.mu.Unlock()
			return true, nil
		}
	}
	return false, nil
}

// Transitions counts successful conditional updates.
func (r *MockSubscriptionRepo) Transitions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitions
}

func (r *MockSubscriptionRepo) ExpireEnded(ctx context.Context, tx repository.Tx, now time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for id, s := range r.s.subs {
		if s.ExpireIfEnded(now) {
			r.s.subs[id] = s
			n++
		}
	}
	return n, nil
}

func (r *MockSubscriptionRepo) LockUser(ctx context.Context, tx repository.Tx, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LockedUsers = append(r.LockedUsers, userID)
	return nil
}

func (r *MockSubscriptionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.SubscriptionStatus]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := map[model.SubscriptionStatus]int{}
	for _, s := range r.s.subs {
		out[s.Status]++
	}
	return out, nil
}

// -----------------------------
// Transactions
// -----------------------------

type MockTransactionRepo struct {
	s *memStore

	mu          sync.Mutex
	transitions int

	// ListedIn records the tx handed to each ListPendingOlderThan call.
	ListedIn []repository.Tx

	// UpdateStatusIfPendingFunc, when set, replaces the conditional update.
	UpdateStatusIfPendingFunc func(ctx context.Context, tx repository.Tx, t *model.Transaction) (bool, error)
}

var _ repository.TransactionRepository = (*MockTransactionRepo)(nil)

func (r *MockTransactionRepo) Save(ctx context.Context, tx repository.Tx, t *model.Transaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, other := range r.s.txs {
		if other.PaymentReference == t.PaymentReference {
			return domain.ErrAlreadyExists
		}
		if other.SubscriptionID == t.SubscriptionID && other.PaymentStatus == model.PaymentStatusPending {
			return domain.ErrConflict
		}
	}
	r.s.txs[t.ID] = *t
	return nil
}

func (r *MockTransactionRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	t, ok := r.s.txs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &t, nil
}

func (r *MockTransactionRepo) FindByReference(ctx context.Context, tx repository.Tx, reference string) (*model.Transaction, error) {
	return r.findOne(func(t model.Transaction) bool { return t.PaymentReference == reference })
}

func (r *MockTransactionRepo) FindPendingBySubscription(ctx context.Context, tx repository.Tx, subscriptionID string) (*model.Transaction, error) {
	return r.findOne(func(t model.Transaction) bool {
		return t.SubscriptionID == subscriptionID && t.PaymentStatus == model.PaymentStatusPending
	})
}

func (r *MockTransactionRepo) findOne(match func(model.Transaction) bool) (*model.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.txs {
		if match(t) {
			cp := t
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *MockTransactionRepo) ListBySubscription(ctx context.Context, tx repository.Tx, subscriptionID string) ([]*model.Transaction, error) {
	out, _, err := r.List(ctx, tx, repository.TransactionFilter{SubscriptionID: subscriptionID})
	return out, err
}

func (r *MockTransactionRepo) List(ctx context.Context, tx repository.Tx, f repository.TransactionFilter) ([]*model.Transaction, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Transaction
	for _, t := range r.s.txs {
		if (f.SubscriptionID != "" && t.SubscriptionID != f.SubscriptionID) ||
			(f.Status != "" && t.PaymentStatus != f.Status) ||
			(f.Method != "" && t.PaymentMethod != f.Method) {
			continue
		}
		cp := t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (r *MockTransactionRepo) UpdateStatusIfPending(ctx context.Context, tx repository.Tx, t *model.Transaction) (bool, error) {
	if r.UpdateStatusIfPendingFunc != nil {
		return r.UpdateStatusIfPendingFunc(ctx, tx, t)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.txs[t.ID]
	if !ok || cur.PaymentStatus != model.PaymentStatusPending {
		return false, nil
	}
	r.s.txs[t.ID] = *t
	r.mu.Lock()
	r.transitions++
	r.mu.Unlock()
	return true, nil
}

// Transitions counts successful conditional status updates.
func (r *MockTransactionRepo) Transitions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transitions
}

func (r *MockTransactionRepo) UpdateMethodIfPending(ctx context.Context, tx repository.Tx, id string, method model.PaymentMethod) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.s.txs[id]
	if !ok || cur.PaymentStatus != model.PaymentStatusPending {
		return false, nil
	}
	cur.PaymentMethod = method
	r.s.txs[id] = cur
	return true, nil
}

func (r *MockTransactionRepo) ListPendingOlderThan(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.Transaction, error) {
	r.mu.Lock()
	r.ListedIn = append(r.ListedIn, tx)
	r.mu.Unlock()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*model.Transaction
	for _, t := range r.s.txs {
		if t.PaymentStatus == model.PaymentStatusPending && t.CreatedAt.Before(cutoff) {
			cp := t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MockTransactionRepo) CountByStatus(ctx context.Context, tx repository.Tx) (map[model.PaymentStatus]int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := map[model.PaymentStatus]int{}
	for _, t := range r.s.txs {
		out[t.PaymentStatus]++
	}
	return out, nil
}

func (r *MockTransactionRepo) SumCompleted(ctx context.Context, tx repository.Tx, since *time.Time) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sum := decimal.Zero
	for _, t := range r.s.txs {
		if t.PaymentStatus != model.PaymentStatusCompleted {
			continue
		}
		if since != nil && (t.PaidAt == nil || t.PaidAt.Before(*since)) {
			continue
		}
		sum = sum.Add(t.Amount)
	}
	return sum, nil
}

// =============================
// Adapters
// =============================

const goodSignature = "good-signature"

// MockGateway records checkout requests and answers Verify from Paid.
type MockGateway struct {
	mu          sync.Mutex
	Initialized []adapter.CheckoutRequest
	VerifyCalls int
	Paid        map[string]bool

	VerifyFunc func(ctx context.Context, reference string) (*adapter.VerifyResult, error)
}

var _ adapter.PaymentGateway = (*MockGateway)(nil)

func NewMockGateway() *MockGateway { return &MockGateway{Paid: map[string]bool{}} }

func (g *MockGateway) Name() string { return "mock" }

func (g *MockGateway) Initialize(ctx context.Context, req adapter.CheckoutRequest) (*adapter.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Initialized = append(g.Initialized, req)
	return &adapter.CheckoutSession{
		AuthorizationURL: "https://checkout.example/" + req.Reference,
		AccessCode:       "access-" + req.Reference,
		Reference:        req.Reference,
	}, nil
}

func (g *MockGateway) Verify(ctx context.Context, reference string) (*adapter.VerifyResult, error) {
	if g.VerifyFunc != nil {
		return g.VerifyFunc(ctx, reference)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.VerifyCalls++
	if g.Paid[reference] {
		return &adapter.VerifyResult{Reference: reference, Status: "success", Paid: true, ExternalReference: "ext-" + reference}, nil
	}
	return &adapter.VerifyResult{Reference: reference, Status: "abandoned"}, nil
}

// ParseWebhook accepts only goodSignature; the HMAC itself is covered by the
// gateway client tests.
func (g *MockGateway) ParseWebhook(rawBody []byte, signature string) (*adapter.WebhookEvent, error) {
	if signature != goodSignature {
		return nil, domain.ErrInvalidSignature
	}
	var body struct {
		Event string         `json:"event"`
		Data  map[string]any `json:"data"`
	}
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return nil, err
	}
	ref, _ := body.Data["reference"].(string)
	return &adapter.WebhookEvent{Type: body.Event, Reference: ref, ExternalReference: "ext-" + ref, Raw: body.Data}, nil
}

func webhookBody(event, reference string) []byte {
	b, _ := json.Marshal(map[string]any{
		"event": event,
		"data":  map[string]any{"reference": reference, "gateway_response": "Declined"},
	})
	return b
}

// -----------------------------
// Utilities
// -----------------------------

func newTestLogger() *zerolog.Logger {
	logger := zerolog.New(io.Discard)
	return &logger
}

// fixedClock returns a settable clock for use cases under test.
type fixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFixedClock(t time.Time) *fixedClock { return &fixedClock{t: t} }

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}
