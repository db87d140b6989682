package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/blinkboard/blink-backend/internal/auth/challenge"
	"github.com/blinkboard/blink-backend/internal/auth/session"
	"github.com/blinkboard/blink-backend/internal/auth/signature"
	domainagg "github.com/blinkboard/blink-backend/internal/domain/aggregates"
	"github.com/blinkboard/blink-backend/internal/domain/assets"
	"github.com/blinkboard/blink-backend/internal/domain/identity"
	httpH "github.com/blinkboard/blink-backend/internal/http/handlers"
	httpMW "github.com/blinkboard/blink-backend/internal/http/middleware"
	"github.com/blinkboard/blink-backend/internal/platform/logger"
	"github.com/blinkboard/blink-backend/internal/services"
)

type fakeCoordinator struct {
	create   func(services.CreateAssetRequest) (*services.AssetView, error)
	update   func(services.UpdateAssetRequest) (*services.AssetView, error)
	transfer func(services.TransferAssetRequest) (*services.AssetView, error)
	get      func(uuid.UUID, string) (*services.AssetView, error)
	byOwner  func(string) ([]*services.AssetView, error)
	purge    func(services.PurgeAssetRequest) error
}

func (f *fakeCoordinator) Create(_ context.Context, req services.CreateAssetRequest) (*services.AssetView, error) {
	return f.create(req)
}

func (f *fakeCoordinator) Update(_ context.Context, req services.UpdateAssetRequest) (*services.AssetView, error) {
	return f.update(req)
}

func (f *fakeCoordinator) Transfer(_ context.Context, req services.TransferAssetRequest) (*services.AssetView, error) {
	return f.transfer(req)
}

func (f *fakeCoordinator) GetStatus(_ context.Context, id uuid.UUID, caller string) (*services.AssetView, error) {
	return f.get(id, caller)
}

func (f *fakeCoordinator) ListTransactions(context.Context, uuid.UUID, string) ([]*services.TransactionView, error) {
	return []*services.TransactionView{}, nil
}

func (f *fakeCoordinator) ListByOwner(_ context.Context, owner string) ([]*services.AssetView, error) {
	return f.byOwner(owner)
}

func (f *fakeCoordinator) Purge(_ context.Context, req services.PurgeAssetRequest) error {
	return f.purge(req)
}

type fakeIdentities struct {
	services.IdentityService
	me *identity.Identity
}

func (f *fakeIdentities) IssueChallenge(_ context.Context, pk string) (*challenge.Challenge, error) {
	if pk == "" {
		return nil, domainagg.NewError(domainagg.CodeValidation, "identity.challenge", "public_key is not a valid key", nil)
	}
	return &challenge.Challenge{Message: "Sign in to Blink " + pk, ExpiresAt: time.Now().Add(time.Minute)}, nil
}

func (f *fakeIdentities) GetByID(_ context.Context, id uuid.UUID) (*identity.Identity, error) {
	if f.me == nil || f.me.ID != id {
		return nil, domainagg.NewError(domainagg.CodeNotFound, "identity.get", "identity not found", nil)
	}
	return f.me, nil
}

type fakeMedia struct {
	got []byte
	by  uuid.UUID
}

func (f *fakeMedia) Upload(_ context.Context, uploader uuid.UUID, r io.Reader) (*services.MediaObject, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.got, f.by = data, uploader
	return &services.MediaObject{Key: "media/abc.png", URL: "https://cdn.test/media/abc.png", Created: true}, nil
}

type routerFixture struct {
	engine   *gin.Engine
	coord    *fakeCoordinator
	idents   *fakeIdentities
	media    *fakeMedia
	sessions *session.Manager
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.Nop()
	sessions, err := session.NewManager("router-test-secret-012345", time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	f := &routerFixture{
		coord:    &fakeCoordinator{},
		idents:   &fakeIdentities{},
		media:    &fakeMedia{},
		sessions: sessions,
	}
	f.engine = NewRouter(RouterConfig{
		Log:             log,
		AuthMiddleware:  httpMW.NewAuthMiddleware(log, sessions),
		AuthHandler:     httpH.NewAuthHandler(f.idents),
		IdentityHandler: httpH.NewIdentityHandler(f.idents),
		AssetHandler:    httpH.NewAssetHandler(f.coord),
		MediaHandler:    httpH.NewMediaHandler(f.media),
		HealthHandler:   httpH.NewHealthHandler(nil),
	})
	return f
}

func (f *routerFixture) do(method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decode(t, rec)
	e, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error envelope in %s", rec.Body.String())
	}
	code, _ := e["code"].(string)
	return code
}

func sampleView(status assets.Status) *services.AssetView {
	return &services.AssetView{ID: uuid.New(), Status: status, Version: 1}
}

func TestHealthcheck(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(http.MethodGet, "/healthcheck", nil, nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthcheck: %d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("request id header missing")
	}
}

func TestCreateAssetPassesCredentialsAndAttributes(t *testing.T) {
	f := newRouterFixture(t)
	var got services.CreateAssetRequest
	f.coord.create = func(req services.CreateAssetRequest) (*services.AssetView, error) {
		got = req
		return sampleView(assets.StatusActive), nil
	}
	rec := f.do(http.MethodPost, "/api/assets", map[string]any{
		"public_key": "pk", "message": "m", "signature": "sig",
		"attributes": map[string]any{"name": "Tip jar"},
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	want := signature.Credentials{PublicKey: "pk", Message: "m", Signature: "sig"}
	if got.Credentials != want || !strings.Contains(string(got.Attributes), `"Tip jar"`) {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestAssetErrorMapping(t *testing.T) {
	pending := sampleView(assets.StatusPendingCreate)
	failed := sampleView(assets.StatusFailed)
	tests := []struct {
		name   string
		view   *services.AssetView
		err    error
		status int
		code   string
		asset  bool
	}{
		{name: "validation", err: domainagg.NewError(domainagg.CodeValidation, "asset.create", "name is required", nil), status: 400, code: "validation"},
		{name: "unauthenticated", err: domainagg.NewError(domainagg.CodeUnauthenticated, "asset.create", "signature does not verify", nil), status: 401, code: "unauthenticated"},
		{name: "conflict", err: domainagg.NewError(domainagg.CodeConflict, "asset.create", "stale", nil), status: 409, code: "conflict"},
		{name: "rejected", view: failed, err: domainagg.NewError(domainagg.CodeLedgerRejected, "asset.create", "rejected", &domainagg.LedgerRejection{Reason: "bad"}), status: 422, code: "ledger_rejected", asset: true},
		{name: "store down", err: domainagg.NewError(domainagg.CodeRepositoryUnavailable, "asset.create", "dial tcp 10.0.0.1", nil), status: 503, code: "repository_unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t)
			f.coord.create = func(services.CreateAssetRequest) (*services.AssetView, error) { return tt.view, tt.err }
			rec := f.do(http.MethodPost, "/api/assets", map[string]any{"attributes": map[string]any{}}, nil)
			if rec.Code != tt.status {
				t.Fatalf("status: got %d want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			if code := errorCode(t, rec); code != tt.code {
				t.Fatalf("code: got %q want %q", code, tt.code)
			}
			_, hasAsset := decode(t, rec)["asset"]
			if hasAsset != tt.asset {
				t.Fatalf("asset in body: got %v want %v", hasAsset, tt.asset)
			}
			if strings.Contains(rec.Body.String(), "10.0.0.1") {
				t.Fatalf("internal detail leaked: %s", rec.Body.String())
			}
		})
	}

	t.Run("ledger timeout", func(t *testing.T) {
		f := newRouterFixture(t)
		f.coord.create = func(services.CreateAssetRequest) (*services.AssetView, error) {
			return pending, domainagg.NewError(domainagg.CodeLedgerTimeout, "asset.create", "outcome unknown", nil)
		}
		rec := f.do(http.MethodPost, "/api/assets", map[string]any{"attributes": map[string]any{}}, nil)
		if rec.Code != http.StatusAccepted {
			t.Fatalf("status %d", rec.Code)
		}
		body := decode(t, rec)
		asset, _ := body["asset"].(map[string]any)
		if body["pending"] != true || asset["id"] != pending.ID.String() {
			t.Fatalf("unexpected body: %s", rec.Body.String())
		}
	})
}

func TestRateLimitedResponseCarriesHeaders(t *testing.T) {
	f := newRouterFixture(t)
	f.coord.get = func(uuid.UUID, string) (*services.AssetView, error) {
		detail := &domainagg.RateLimitDetail{Limit: 600, Remaining: 0, ResetSeconds: 42}
		return nil, domainagg.NewError(domainagg.CodeRateLimited, "asset.get", detail.Error(), detail)
	}
	rec := f.do(http.MethodGet, "/api/assets/"+uuid.NewString(), nil, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status %d", rec.Code)
	}
	h := rec.Header()
	if h.Get("Retry-After") != "42" || h.Get("X-RateLimit-Limit") != "600" || h.Get("X-RateLimit-Remaining") != "0" || h.Get("X-RateLimit-Reset") != "42" {
		t.Fatalf("rate limit headers: %v", h)
	}
}

func TestGetStatusKeysReadsByClientIP(t *testing.T) {
	f := newRouterFixture(t)
	var caller string
	view := sampleView(assets.StatusActive)
	f.coord.get = func(id uuid.UUID, c string) (*services.AssetView, error) {
		caller = c
		return view, nil
	}
	rec := f.do(http.MethodGet, "/api/assets/"+view.ID.String(), nil, nil)
	if rec.Code != http.StatusOK || !strings.HasPrefix(caller, "ip:") {
		t.Fatalf("status %d caller %q", rec.Code, caller)
	}
	if rec := f.do(http.MethodGet, "/api/assets/not-a-uuid", nil, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status %d", rec.Code)
	}
}

func TestUpdateAndTransferRequireExpectedVersion(t *testing.T) {
	f := newRouterFixture(t)
	called := false
	f.coord.update = func(services.UpdateAssetRequest) (*services.AssetView, error) { called = true; return nil, nil }
	f.coord.transfer = func(req services.TransferAssetRequest) (*services.AssetView, error) {
		called = true
		if req.ExpectedVersion != 0 || req.ToOwnerID != "bob" {
			t.Errorf("unexpected transfer: %+v", req)
		}
		return sampleView(assets.StatusActive), nil
	}
	id := uuid.NewString()

	rec := f.do(http.MethodPatch, "/api/assets/"+id, map[string]any{"attributes": map[string]any{"name": "x"}}, nil)
	if rec.Code != http.StatusBadRequest || called {
		t.Fatalf("update without version: %d called=%v", rec.Code, called)
	}

	// Zero is a valid version.
	rec = f.do(http.MethodPost, "/api/assets/"+id+"/transfer", map[string]any{"expected_version": 0, "to_owner_id": "bob"}, nil)
	if rec.Code != http.StatusOK || !called {
		t.Fatalf("transfer: %d %s", rec.Code, rec.Body.String())
	}
}

func TestPurgeReturnsNoContent(t *testing.T) {
	f := newRouterFixture(t)
	var got services.PurgeAssetRequest
	f.coord.purge = func(req services.PurgeAssetRequest) error { got = req; return nil }
	id := uuid.New()
	rec := f.do(http.MethodDelete, "/api/assets/"+id.String(), map[string]any{"expected_version": 3, "public_key": "admin"}, nil)
	if rec.Code != http.StatusNoContent || got.AssetID != id || got.ExpectedVersion != 3 {
		t.Fatalf("purge: %d %+v", rec.Code, got)
	}
}

func TestSessionRoutes(t *testing.T) {
	f := newRouterFixture(t)
	me := &identity.Identity{ID: uuid.New(), PublicKey: "wallet-a", DisplayName: "A"}
	f.idents.me = me
	f.coord.byOwner = func(owner string) ([]*services.AssetView, error) {
		if owner != "wallet-a" {
			t.Errorf("listed for %q", owner)
		}
		return []*services.AssetView{sampleView(assets.StatusActive)}, nil
	}

	if rec := f.do(http.MethodGet, "/api/me", nil, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token: %d", rec.Code)
	}
	bad := http.Header{"Authorization": {"Bearer nope"}}
	if rec := f.do(http.MethodGet, "/api/me", nil, bad); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: %d", rec.Code)
	}

	token, _, err := f.sessions.Issue(me.ID, me.PublicKey)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	auth := http.Header{"Authorization": {"Bearer " + token}}
	rec := f.do(http.MethodGet, "/api/me", nil, auth)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), me.ID.String()) {
		t.Fatalf("me: %d %s", rec.Code, rec.Body.String())
	}
	rec = f.do(http.MethodGet, "/api/me/assets", nil, auth)
	if rec.Code != http.StatusOK {
		t.Fatalf("me/assets: %d %s", rec.Code, rec.Body.String())
	}
	if list, _ := decode(t, rec)["assets"].([]any); len(list) != 1 {
		t.Fatalf("assets: %s", rec.Body.String())
	}
}

func TestChallengeRoute(t *testing.T) {
	f := newRouterFixture(t)
	rec := f.do(http.MethodPost, "/api/auth/challenge", map[string]any{"public_key": "wallet-a"}, nil)
	if rec.Code != http.StatusOK || decode(t, rec)["message"] != "Sign in to Blink wallet-a" {
		t.Fatalf("challenge: %d %s", rec.Code, rec.Body.String())
	}
	rec = f.do(http.MethodPost, "/api/auth/challenge", map[string]any{}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty key: %d", rec.Code)
	}
}

func TestMediaUploadRequiresSession(t *testing.T) {
	f := newRouterFixture(t)
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", "a.png")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = part.Write([]byte("png-bytes"))
	_ = mw.Close()

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/media", bytes.NewReader(body.Bytes()))
		req.Header.Set("Content-Type", mw.FormDataContentType())
		return req
	}

	rec := httptest.NewRecorder()
	f.engine.ServeHTTP(rec, newReq())
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no session: %d", rec.Code)
	}

	id := uuid.New()
	token, _, err := f.sessions.Issue(id, "wallet-a")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	req := newReq()
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	f.engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload: %d %s", rec.Code, rec.Body.String())
	}
	if string(f.media.got) != "png-bytes" || f.media.by != id {
		t.Fatalf("media service got %q from %s", f.media.got, f.media.by)
	}
}
