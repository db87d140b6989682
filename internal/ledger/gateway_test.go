package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/blinkboard/blink-backend/internal/platform/ctxutil"
	"github.com/blinkboard/blink-backend/internal/platform/logger"
)

func newTestGateway(t *testing.T, h http.HandlerFunc, retries int) *Gateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	g, err := NewGateway(logger.Nop(), GatewayConfig{
		BaseURL:    srv.URL,
		APIKey:     "test-key",
		Timeout:    2 * time.Second,
		MaxRetries: retries,
	}, nil)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	return g
}

func TestGatewayMintConfirmed(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/mint" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Idempotency-Key"); got != "tx-1" {
			t.Errorf("idempotency key: %q", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("authorization: %q", got)
		}
		var body MintRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.OwnerID != "wallet-a" {
			t.Errorf("body: %+v err=%v", body, err)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "confirmed", "ref": "R"})
	}, 0)

	res, err := g.SubmitMint(context.Background(), "tx-1", MintRequest{OwnerID: "wallet-a", Attributes: json.RawMessage(`{"name":"X"}`)})
	if err != nil {
		t.Fatalf("SubmitMint: %v", err)
	}
	if res.Outcome != OutcomeConfirmed || res.Ref != "R" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestGatewayForwardsRequestID(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Request-Id"); got != "req-42" {
			t.Errorf("request id: %q", got)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "confirmed", "ref": "R"})
	}, 0)

	ctx := ctxutil.WithTraceData(context.Background(), &ctxutil.TraceData{TraceID: "t", RequestID: "req-42"})
	if _, err := g.SubmitMint(ctx, "tx-1", MintRequest{OwnerID: "wallet-a"}); err != nil {
		t.Fatalf("SubmitMint: %v", err)
	}
}

func TestGatewayRejectionIsDefinitive(t *testing.T) {
	var calls int32
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"invalid destination"}`))
	}, 3)

	res, err := g.SubmitTransfer(context.Background(), "tx-2", TransferRequest{AssetRef: "R", FromOwner: "a", ToOwner: "b"})
	if err != nil {
		t.Fatalf("SubmitTransfer: %v", err)
	}
	if res.Outcome != OutcomeRejected || res.Reason != "invalid destination" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("rejections must not be retried, calls=%d", calls)
	}
}

func TestGatewayRetriesWithSameKeyThenReportsError(t *testing.T) {
	var calls int32
	keys := make(chan string, 4)
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		keys <- r.Header.Get("Idempotency-Key")
		w.WriteHeader(http.StatusServiceUnavailable)
	}, 1)

	_, err := g.SubmitUpdate(context.Background(), "tx-3", UpdateRequest{AssetRef: "R", OwnerID: "a", Attributes: json.RawMessage(`{}`)})
	if err == nil {
		t.Fatalf("expected ambiguous error after retries")
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("calls: want=2 got=%d", calls)
	}
	close(keys)
	for k := range keys {
		if k != "tx-3" {
			t.Fatalf("retry used key %q", k)
		}
	}
}

func TestGatewayRetryRecovers(t *testing.T) {
	var calls int32
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"status":"pending"}`))
	}, 2)

	res, err := g.SubmitMint(context.Background(), "tx-4", MintRequest{OwnerID: "a", Attributes: json.RawMessage(`{}`)})
	if err != nil {
		t.Fatalf("SubmitMint: %v", err)
	}
	if res.Outcome != OutcomePending {
		t.Fatalf("want pending, got %+v", res)
	}
}

func TestGatewayQueryStatus(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/transactions/known":
			_, _ = w.Write([]byte(`{"status":"failed","reason":"insufficient funds"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}, 0)
	ctx := context.Background()

	res, err := g.QueryStatus(ctx, "known")
	if err != nil || res.Outcome != OutcomeRejected || res.Reason != "insufficient funds" {
		t.Fatalf("known: %+v err=%v", res, err)
	}
	res, err = g.QueryStatus(ctx, "missing")
	if err != nil || res.Outcome != OutcomeUnknown {
		t.Fatalf("missing: %+v err=%v", res, err)
	}
}

func TestGatewayTimeoutIsAmbiguous(t *testing.T) {
	release := make(chan struct{})
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, 0)
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := g.SubmitMint(ctx, "tx-5", MintRequest{OwnerID: "a", Attributes: json.RawMessage(`{}`)})
	if err == nil {
		t.Fatalf("expected timeout error")
	}
}

func TestNewGatewayRequiresURL(t *testing.T) {
	if _, err := NewGateway(logger.Nop(), GatewayConfig{}, nil); err == nil {
		t.Fatalf("expected error for missing url")
	}
}

func TestGatewayOnlyOperationRefusalsAreDefinitive(t *testing.T) {
	cases := []struct {
		status   int
		body     string
		rejected bool
	}{
		{http.StatusBadRequest, `{"error":"malformed attributes"}`, true},
		{http.StatusUnprocessableEntity, `{"reason":"invalid destination"}`, true},
		{http.StatusUnauthorized, `{"error":"invalid api key"}`, false},
		{http.StatusForbidden, `{"error":"key revoked"}`, false},
		{http.StatusNotFound, `not found`, false},
		{http.StatusConflict, `{"error":"idempotency key in flight"}`, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}, 0)

			res, err := g.SubmitMint(context.Background(), "tx-9", MintRequest{OwnerID: "wallet-a"})
			if tc.rejected {
				if err != nil || res.Outcome != OutcomeRejected || res.Reason == "" {
					t.Fatalf("want definitive rejection, got %+v err=%v", res, err)
				}
				return
			}
			if err == nil || res.Outcome == OutcomeRejected {
				t.Fatalf("want ambiguous error, got %+v err=%v", res, err)
			}
		})
	}
}
