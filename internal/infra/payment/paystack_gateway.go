package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"gym-membership/internal/config"
	"gym-membership/internal/domain"
	"gym-membership/internal/domain/ports/adapter"
	"gym-membership/internal/infra/metrics"
)

var _ adapter.PaymentGateway = (*PaystackGateway)(nil)

const DefaultPaystackBaseURL = "https://api.paystack.co"

// PaystackGateway implements adapter.PaymentGateway over the Paystack REST API.
// Every call goes through one circuit breaker; verify calls get a single retry
// on network-class failures.
type PaystackGateway struct {
	baseURL   string
	secretKey string
	backoff   time.Duration
	client    *http.Client
	breaker   *gobreaker.CircuitBreaker[[]byte]
	log       zerolog.Logger
}

// apiError is a well-formed refusal from Paystack (4xx). It does not count
// against the breaker and is never retried.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string { return fmt.Sprintf("http %d: %s", e.status, e.message) }

func NewPaystackGateway(cfg config.PaymentConfig, logger *zerolog.Logger) (*PaystackGateway, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("paystack secret key empty")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultPaystackBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid paystack base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	maxFailures := cfg.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}

	g := &PaystackGateway{
		baseURL:   base,
		secretKey: cfg.SecretKey,
		backoff:   cfg.RetryBackoff,
		client:    &http.Client{Timeout: timeout},
		log:       logger.With().Str("component", "PaystackGateway").Logger(),
	}
	g.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "paystack",
		MaxRequests: 1,
		Timeout:     cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			var apiErr *apiError
			return err == nil || errors.As(err, &apiErr)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.log.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
			metrics.SetGatewayBreakerState(name, int(to))
		},
	})
	return g, nil
}

func (g *PaystackGateway) Name() string { return "paystack" }

type paystackEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (g *PaystackGateway) Initialize(ctx context.Context, req adapter.CheckoutRequest) (*adapter.CheckoutSession, error) {
	payload := map[string]any{
		"email":     req.Email,
		"amount":    strconv.FormatInt(req.AmountMinor, 10),
		"currency":  req.Currency,
		"reference": req.Reference,
	}
	if req.CallbackURL != "" {
		payload["callback_url"] = req.CallbackURL
	}
	if len(req.Channels) > 0 {
		payload["channels"] = req.Channels
	}
	if req.Metadata != nil {
		payload["metadata"] = req.Metadata
	}
	if s := req.Split; s != nil && s.Subaccount != "" {
		payload["subaccount"] = s.Subaccount
		payload["transaction_charge"] = s.PlatformShareMinor
		if s.Bearer != "" {
			payload["bearer"] = s.Bearer
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: encode initialize: %v", domain.ErrGateway, err)
	}

	data, err := g.call(ctx, "initialize", http.MethodPost, "/transaction/initialize", body, false)
	if err != nil {
		return nil, err
	}
	var out struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if err := json.Unmarshal(data, &out); err != nil || out.AuthorizationURL == "" {
		return nil, fmt.Errorf("%w: paystack initialize: malformed response", domain.ErrGateway)
	}
	if out.Reference == "" {
		out.Reference = req.Reference
	}
	return &adapter.CheckoutSession{AuthorizationURL: out.AuthorizationURL, AccessCode: out.AccessCode, Reference: out.Reference}, nil
}

func (g *PaystackGateway) Verify(ctx context.Context, reference string) (*adapter.VerifyResult, error) {
	data, err := g.call(ctx, "verify", http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, true)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: paystack verify: malformed response", domain.ErrGateway)
	}
	res := &adapter.VerifyResult{Reference: reference, Raw: raw}
	if s, ok := raw["status"].(string); ok {
		res.Status = s
	}
	res.Paid = res.Status == "success"
	if id, ok := raw["id"]; ok && id != nil {
		res.ExternalReference = fmt.Sprint(id)
	}
	if n, ok := raw["amount"].(json.Number); ok {
		res.AmountMinor, _ = n.Int64()
	}
	if ref, ok := raw["reference"].(string); ok && ref != "" {
		res.Reference = ref
	}
	return res, nil
}

func (g *PaystackGateway) ParseWebhook(rawBody []byte, signature string) (*adapter.WebhookEvent, error) {
	return ParseWebhook(g.secretKey, rawBody, signature)
}

// call runs one logical request through the breaker and returns the
// envelope's data field.
func (g *PaystackGateway) call(ctx context.Context, op, method, path string, body []byte, idempotent bool) ([]byte, error) {
	start := time.Now()
	defer func() { metrics.ObserveGatewayLatency(op, time.Since(start).Seconds()) }()

	data, err := g.breaker.Execute(func() ([]byte, error) {
		data, err := g.roundTrip(ctx, method, path, body)
		if err != nil && g.retryable(err, idempotent) && ctx.Err() == nil {
			metrics.IncGatewayRequest(op, "retry")
			g.log.Warn().Err(err).Str("op", op).Msg("retrying paystack call")
			if werr := sleepCtx(ctx, g.backoff); werr != nil {
				return nil, err
			}
			data, err = g.roundTrip(ctx, method, path, body)
		}
		return data, err
	})

	switch {
	case err == nil:
		metrics.IncGatewayRequest(op, "ok")
		return data, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.IncGatewayRequest(op, "open")
		return nil, fmt.Errorf("%w: paystack %s: circuit open", domain.ErrGateway, op)
	default:
		metrics.IncGatewayRequest(op, "error")
		return nil, fmt.Errorf("%w: paystack %s: %v", domain.ErrGateway, op, err)
	}
}

func (g *PaystackGateway) roundTrip(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+g.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var env paystackEnvelope
	decErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		msg := env.Message
		if decErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &apiError{status: resp.StatusCode, message: msg}
	}
	if decErr != nil {
		return nil, fmt.Errorf("decode response: %w", decErr)
	}
	if !env.Status {
		return nil, &apiError{status: resp.StatusCode, message: env.Message}
	}
	return env.Data, nil
}

// retryable reports network-class failures. Non-idempotent calls are retried
// only when the connection was never established.
func (g *PaystackGateway) retryable(err error, idempotent bool) bool {
	var apiErr *apiError
	if errors.As(err, &apiErr) || errors.Is(err, context.Canceled) {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return idempotent
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
