package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/blinkboard/blink-backend/internal/observability"
	"github.com/blinkboard/blink-backend/internal/platform/ctxutil"
	"github.com/blinkboard/blink-backend/internal/platform/envutil"
	"github.com/blinkboard/blink-backend/internal/platform/httpx"
	"github.com/blinkboard/blink-backend/internal/platform/logger"
)

type GatewayConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

func GatewayConfigFromEnv() GatewayConfig {
	return GatewayConfig{
		BaseURL:    envutil.String("LEDGER_GATEWAY_URL", ""),
		APIKey:     envutil.String("LEDGER_API_KEY", ""),
		Timeout:    envutil.Duration("LEDGER_HTTP_TIMEOUT", 10*time.Second),
		MaxRetries: envutil.Int("LEDGER_MAX_RETRIES", 2),
	}
}

// Gateway talks to the ledger's HTTP gateway.
//
//	POST /v1/mint                    {owner, attributes}
//	POST /v1/assets/{ref}/update     {asset, owner, attributes}
//	POST /v1/assets/{ref}/transfer   {asset, from, to}
//	GET  /v1/transactions/{key}
//
// The idempotency key travels in the Idempotency-Key header. Responses carry
// {"status":"confirmed|pending|failed","ref":"...","reason":"..."}. A 4xx
// answer to a submission is a definitive rejection; 404 on a status query
// means the key is unknown. Transport failures, 429 and 5xx are retried with
// the same key and surface as errors once retries run out.
type Gateway struct {
	log        *logger.Logger
	cfg        GatewayConfig
	httpClient *http.Client
	metrics    *observability.Metrics
}

var _ Client = (*Gateway)(nil)

func NewGateway(log *logger.Logger, cfg GatewayConfig, metrics *observability.Metrics) (*Gateway, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("missing LEDGER_GATEWAY_URL")
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid LEDGER_GATEWAY_URL: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Gateway{
		log:        log.With("client", "LedgerGateway"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		metrics:    metrics,
	}, nil
}

type gatewayReply struct {
	Status string `json:"status"`
	Ref    string `json:"ref"`
	Reason string `json:"reason"`
	Error  string `json:"error"`
}

// GatewayError is a non-2xx answer from the gateway.
type GatewayError struct {
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	msg := strings.TrimSpace(e.Body)
	if len(msg) > 500 {
		msg = msg[:500] + "..."
	}
	return fmt.Sprintf("ledger gateway http %d: %s", e.StatusCode, msg)
}

func (e *GatewayError) HTTPStatusCode() int { return e.StatusCode }

func (g *Gateway) SubmitMint(ctx context.Context, key string, req MintRequest) (Result, error) {
	return g.submit(ctx, "mint", key, "/v1/mint", req)
}

func (g *Gateway) SubmitUpdate(ctx context.Context, key string, req UpdateRequest) (Result, error) {
	return g.submit(ctx, "update", key, "/v1/assets/"+url.PathEscape(req.AssetRef)+"/update", req)
}

func (g *Gateway) SubmitTransfer(ctx context.Context, key string, req TransferRequest) (Result, error) {
	return g.submit(ctx, "transfer", key, "/v1/assets/"+url.PathEscape(req.AssetRef)+"/transfer", req)
}

func (g *Gateway) QueryStatus(ctx context.Context, key string) (Result, error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "ledger.query_status", attribute.String("ledger.idempotency_key", key))
	defer span.End()

	reply, err := g.do(ctx, http.MethodGet, "/v1/transactions/"+url.PathEscape(key), key, nil)
	var res Result
	switch {
	case err == nil:
		res = reply.result()
	case statusOf(err) == http.StatusNotFound:
		res, err = Result{Outcome: OutcomeUnknown}, nil
	}
	g.observe(span, "query", res, err, start)
	return res, err
}

func (g *Gateway) submit(ctx context.Context, call, key, path string, body any) (Result, error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "ledger."+call, attribute.String("ledger.idempotency_key", key))
	defer span.End()

	if strings.TrimSpace(key) == "" {
		return Result{}, fmt.Errorf("ledger %s: idempotency key required", call)
	}
	reply, err := g.do(ctx, http.MethodPost, path, key, body)
	var res Result
	if err == nil {
		res = reply.result()
	} else if code := statusOf(err); refusesOperation(code) {
		res, err = Rejected(rejectionReason(err)), nil
	} else if code == http.StatusUnauthorized || code == http.StatusForbidden {
		g.log.Error("ledger gateway refused service credentials; outcomes stay pending", "call", call, "status", code)
	}
	g.observe(span, call, res, err, start)
	return res, err
}

func (g *Gateway) observe(span trace.Span, call string, res Result, err error, start time.Time) {
	outcome := string(res.Outcome)
	if err != nil {
		outcome = "error"
		span.SetStatus(codes.Error, err.Error())
		g.log.Warn("ledger call failed", "call", call, "error", err)
	}
	span.SetAttributes(attribute.String("ledger.outcome", outcome))
	g.metrics.ObserveLedgerCall(call, outcome, time.Since(start))
}

func (r gatewayReply) result() Result {
	switch strings.ToLower(strings.TrimSpace(r.Status)) {
	case "confirmed", "finalized", "success":
		return Confirmed(r.Ref)
	case "failed", "rejected":
		reason := r.Reason
		if reason == "" {
			reason = r.Error
		}
		return Rejected(reason)
	default:
		return Pending()
	}
}

func (g *Gateway) do(ctx context.Context, method, path, key string, body any) (*gatewayReply, error) {
	var reply *gatewayReply
	b := httpx.Backoff{MaxRetries: g.cfg.MaxRetries, Base: 250 * time.Millisecond, Cap: 5 * time.Second, Retryable: retryable}
	err := b.Retry(ctx, func() (*http.Response, error) {
		r, resp, err := g.doOnce(ctx, method, path, key, body)
		reply = r
		return resp, err
	}, func(attempt int, wait time.Duration, err error) {
		g.log.Warn("Ledger request retrying",
			"path", path,
			"attempt", attempt,
			"max_retries", g.cfg.MaxRetries,
			"sleep", wait.String(),
			"error", err.Error(),
		)
	})
	if err != nil {
		return nil, err
	}
	return reply, nil
}

func (g *Gateway) doOnce(ctx context.Context, method, path, key string, body any) (*gatewayReply, *http.Response, error) {
	var rdr io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
		rdr = &buf
	}
	req, err := http.NewRequestWithContext(ctxutil.Default(ctx), method, g.cfg.BaseURL+path, rdr)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Idempotency-Key", key)
	req.Header.Set("Accept", "application/json")
	if rid := ctxutil.RequestID(ctx); rid != "" {
		req.Header.Set("X-Request-Id", rid)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, resp, &GatewayError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	var reply gatewayReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, resp, fmt.Errorf("unexpected ledger response: %s", string(raw))
	}
	return &reply, resp, nil
}

// retryable treats anything without a definitive HTTP answer as retryable.
// Replays are safe because every request carries its idempotency key.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	var ge *GatewayError
	if errors.As(err, &ge) {
		return httpx.IsRetryableHTTPStatus(ge.StatusCode)
	}
	return !errors.Is(err, context.Canceled)
}

// refusesOperation reports whether a gateway status is the ledger refusing
// the operation itself. Auth failures, unknown routes and 409 (key still in
// flight) say nothing about the operation and stay ambiguous.
func refusesOperation(code int) bool {
	return code == http.StatusBadRequest || code == http.StatusUnprocessableEntity
}

func statusOf(err error) int {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.StatusCode
	}
	return 0
}

func rejectionReason(err error) string {
	var ge *GatewayError
	if !errors.As(err, &ge) {
		return err.Error()
	}
	var reply gatewayReply
	if json.Unmarshal([]byte(ge.Body), &reply) == nil {
		if reply.Reason != "" {
			return reply.Reason
		}
		if reply.Error != "" {
			return reply.Error
		}
	}
	if s := strings.TrimSpace(ge.Body); s != "" {
		return s
	}
	return http.StatusText(ge.StatusCode)
}
