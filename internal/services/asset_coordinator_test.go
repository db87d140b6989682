package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	domainagg "github.com/blinkboard/blink-backend/internal/domain/aggregates"
	"github.com/blinkboard/blink-backend/internal/domain/assets"
	"github.com/blinkboard/blink-backend/internal/ledger"
	"github.com/blinkboard/blink-backend/internal/ledger/ledgertest"
	"github.com/blinkboard/blink-backend/internal/notify"
)

func TestCoordinatorCreateThenStaleTransferConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := newWallet(t), newWallet(t)
	h.register(t, b)

	h.ledger.Block()
	type result struct {
		view *AssetView
		err  error
	}
	done := make(chan result, 1)
	go func() {
		v, err := h.coord.Create(ctx, CreateAssetRequest{Credentials: a.sign("create"), Attributes: []byte(`{"name":"X"}`)})
		done <- result{v, err}
	}()

	var pending []*assets.Transaction
	waitFor(t, "pending create", func() bool {
		pending = h.pendingTransactions(t)
		return len(pending) == 1
	})
	mid, err := h.coord.GetStatus(ctx, pending[0].AssetID, "reader")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if mid.Status != assets.StatusPendingCreate || mid.Version != 0 || !mid.Pending {
		t.Fatalf("unexpected pending view: %+v", mid)
	}
	if mid.Attributes != nil {
		t.Fatalf("unconfirmed attributes visible: %+v", mid.Attributes)
	}
	h.ledger.Release()

	res := <-done
	if res.err != nil {
		t.Fatalf("Create: %v", res.err)
	}
	v := res.view
	if v.Status != assets.StatusActive || v.Version != 1 || v.ExternalRef == nil || *v.ExternalRef != "mint-0001" {
		t.Fatalf("unexpected confirmed view: %+v", v)
	}
	if v.Attributes == nil || v.Attributes.Name != "X" || v.Attributes.BlinkType != assets.BlinkStandard {
		t.Fatalf("attributes not committed: %+v", v.Attributes)
	}
	if v.OwnerID == nil || *v.OwnerID != a.id {
		t.Fatalf("owner: %+v", v.OwnerID)
	}

	_, err = h.coord.Transfer(ctx, TransferAssetRequest{
		Credentials:     a.sign("transfer stale"),
		AssetID:         v.ID,
		ExpectedVersion: 0,
		ToOwnerID:       b.id,
	})
	requireCode(t, err, domainagg.CodeConflict)

	after, err := h.coord.GetStatus(ctx, v.ID, "reader")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if after.Version != 1 || after.Status != assets.StatusActive || *after.OwnerID != a.id {
		t.Fatalf("stale transfer changed the asset: %+v", after)
	}
}

func TestCoordinatorTransferMovesOwnerAfterConfirmation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b := newWallet(t), newWallet(t)
	h.register(t, b)
	v := h.mint(t, a, `{"name":"gift","blink_type":"gift"}`)

	h.ledger.Block()
	done := make(chan error, 1)
	var out *AssetView
	go func() {
		var err error
		out, err = h.coord.Transfer(ctx, TransferAssetRequest{Credentials: a.sign("transfer"), AssetID: v.ID, ExpectedVersion: 1, ToOwnerID: b.id})
		done <- err
	}()
	waitFor(t, "pending transfer", func() bool {
		got, err := h.agg.Get(ctx, v.ID)
		return err == nil && got.Status == assets.StatusPendingTransfer
	})
	mid, err := h.coord.GetStatus(ctx, v.ID, "reader")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if mid.OwnerID != nil {
		t.Fatalf("pending transfer exposes an owner: %q", *mid.OwnerID)
	}

	// Neither party may start another attempt while the transfer is in flight.
	_, err = h.coord.Update(ctx, UpdateAssetRequest{Credentials: a.sign("sneaky"), AssetID: v.ID, ExpectedVersion: 1, Patch: []byte(`{"name":"Y"}`)})
	requireCode(t, err, domainagg.CodeConflict)

	h.ledger.Release()
	if err := <-done; err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if out.Version != 2 || out.OwnerID == nil || *out.OwnerID != b.id {
		t.Fatalf("unexpected view: %+v", out)
	}
	if got := h.ledger.OwnerOf(*v.ExternalRef); got != b.id {
		t.Fatalf("ledger owner: %q", got)
	}

	// The previous owner lost write authority.
	_, err = h.coord.Update(ctx, UpdateAssetRequest{Credentials: a.sign("old owner"), AssetID: v.ID, ExpectedVersion: 2, Patch: []byte(`{"name":"Y"}`)})
	requireCode(t, err, domainagg.CodeForbidden)

	var transferEvent *notify.Event
	for _, ev := range h.events.snapshot() {
		if ev.Kind == assets.KindTransfer {
			ev := ev
			transferEvent = &ev
		}
	}
	if transferEvent == nil || transferEvent.OwnerID != b.id || transferEvent.PreviousOwnerID != a.id {
		t.Fatalf("transfer event: %+v", transferEvent)
	}
}

func TestCoordinatorUpdateShowsCommittedAttributesUntilConfirmed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := newWallet(t)
	v := h.mint(t, a, `{"name":"before","custom":{"edition":1}}`)

	h.ledger.Block()
	done := make(chan error, 1)
	var out *AssetView
	go func() {
		var err error
		out, err = h.coord.Update(ctx, UpdateAssetRequest{
			Credentials:     a.sign("update"),
			AssetID:         v.ID,
			ExpectedVersion: 1,
			Patch:           []byte(`{"name":"after","custom":{"edition":null,"color":"red"}}`),
		})
		done <- err
	}()
	waitFor(t, "pending update", func() bool {
		got, err := h.agg.Get(ctx, v.ID)
		return err == nil && got.Status == assets.StatusPendingUpdate
	})
	mid, err := h.coord.GetStatus(ctx, v.ID, "reader")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if mid.Attributes == nil || mid.Attributes.Name != "before" {
		t.Fatalf("pending read must show committed attributes: %+v", mid.Attributes)
	}
	h.ledger.Release()
	if err := <-done; err != nil {
		t.Fatalf("Update: %v", err)
	}
	if out.Version != 2 || out.Attributes.Name != "after" {
		t.Fatalf("unexpected view: %+v", out)
	}
	if _, ok := out.Attributes.Custom["edition"]; ok {
		t.Fatalf("null custom key should be removed: %+v", out.Attributes.Custom)
	}
	if out.Attributes.Custom["color"].Value() != "red" {
		t.Fatalf("custom color: %+v", out.Attributes.Custom)
	}
}

func TestCoordinatorLedgerRejection(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := newWallet(t)
	v := h.mint(t, a, `{"name":"X"}`)

	h.ledger.Script(ledgertest.Behavior{Mode: ledgertest.ModeReject, Reason: "insufficient funds"})
	view, err := h.coord.Update(ctx, UpdateAssetRequest{Credentials: a.sign("u1"), AssetID: v.ID, ExpectedVersion: 1, Patch: []byte(`{"name":"Y"}`)})
	requireCode(t, err, domainagg.CodeLedgerRejected)
	var rej *domainagg.LedgerRejection
	if !errors.As(err, &rej) || rej.Reason != "insufficient funds" {
		t.Fatalf("rejection reason: %v", err)
	}
	if view == nil || view.Status != assets.StatusFailed || view.Version != 2 || view.FailureReason != "insufficient funds" {
		t.Fatalf("unexpected failed view: %+v", view)
	}
	if view.Attributes.Name != "X" {
		t.Fatalf("rejected update leaked attributes: %+v", view.Attributes)
	}

	// A new attempt may start from FAILED since the asset exists on the ledger.
	retry, err := h.coord.Update(ctx, UpdateAssetRequest{Credentials: a.sign("u2"), AssetID: v.ID, ExpectedVersion: 2, Patch: []byte(`{"name":"Y"}`)})
	if err != nil {
		t.Fatalf("retry Update: %v", err)
	}
	if retry.Status != assets.StatusActive || retry.Version != 3 || retry.Attributes.Name != "Y" {
		t.Fatalf("unexpected retry view: %+v", retry)
	}

	txs, err := h.coord.ListTransactions(ctx, v.ID, "reader")
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(txs) != 3 {
		t.Fatalf("want 3 attempts in the log, got %d", len(txs))
	}
	outcomes := map[assets.TxOutcome]int{}
	for _, tx := range txs {
		outcomes[tx.Outcome]++
	}
	if outcomes[assets.OutcomeConfirmed] != 2 || outcomes[assets.OutcomeFailed] != 1 {
		t.Fatalf("unexpected outcomes: %+v", outcomes)
	}
}

func TestCoordinatorRejectedMintIsTerminal(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := newWallet(t)

	h.ledger.Script(ledgertest.Behavior{Mode: ledgertest.ModeReject})
	view, err := h.coord.Create(ctx, CreateAssetRequest{Credentials: a.sign("c"), Attributes: []byte(`{"name":"X"}`)})
	requireCode(t, err, domainagg.CodeLedgerRejected)
	if view.Status != assets.StatusFailed || view.Version != 1 || view.ExternalRef != nil {
		t.Fatalf("unexpected view: %+v", view)
	}
	_, err = h.coord.Update(ctx, UpdateAssetRequest{Credentials: a.sign("u"), AssetID: view.ID, ExpectedVersion: 1, Patch: []byte(`{"name":"Y"}`)})
	requireCode(t, err, domainagg.CodePreconditionFailed)
}

func TestCoordinatorAmbiguousOutcomeStaysPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := newWallet(t)

	h.ledger.Script(ledgertest.Behavior{Mode: ledgertest.ModeDropResponse})
	view, err := h.coord.Create(ctx, CreateAssetRequest{Credentials: a.sign("c"), Attributes: []byte(`{"name":"X"}`)})
	requireCode(t, err, domainagg.CodeLedgerTimeout)
	if view == nil || view.Status != assets.StatusPendingCreate || view.Version != 0 {
		t.Fatalf("unexpected view: %+v", view)
	}
	pending := h.pendingTransactions(t)
	if len(pending) != 1 || pending[0].AssetID != view.ID {
		t.Fatalf("pending attempt not recorded: %+v", pending)
	}
	if h.ledger.Effects(pending[0].ID.String()) != 1 {
		t.Fatalf("ledger should have applied the mint once")
	}
	// No synchronous retry was issued.
	if h.ledger.Calls() != 1 {
		t.Fatalf("calls=%d", h.ledger.Calls())
	}
}

func TestCoordinatorPendingLedgerAnswerIsAmbiguous(t *testing.T) {
	h := newHarness(t)
	a := newWallet(t)
	v := h.mint(t, a, `{"name":"X"}`)

	h.ledger.Script(ledgertest.Behavior{Mode: ledgertest.ModePending})
	view, err := h.coord.Update(context.Background(), UpdateAssetRequest{Credentials: a.sign("u"), AssetID: v.ID, ExpectedVersion: 1, Patch: []byte(`{"name":"Y"}`)})
	requireCode(t, err, domainagg.CodeLedgerTimeout)
	if view.Status != assets.StatusPendingUpdate || view.Attributes.Name != "X" {
		t.Fatalf("unexpected view: %+v", view)
	}
}

func TestCoordinatorConcurrentWritersOneWinner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := newWallet(t)
	v := h.mint(t, a, `{"name":"X"}`)

	const writers = 6
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.coord.Update(ctx, UpdateAssetRequest{
				Credentials:     a.sign("writer " + string(rune('a'+i))),
				AssetID:         v.ID,
				ExpectedVersion: 1,
				Patch:           []byte(`{"description":"from a writer"}`),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case domainagg.IsCode(err, domainagg.CodeConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if ok != 1 || conflicts != writers-1 {
		t.Fatalf("ok=%d conflicts=%d", ok, conflicts)
	}
	got, err := h.agg.Get(ctx, v.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Version != 2 {
		t.Fatalf("version: want 2 got %d", got.Version)
	}
}

func TestCoordinatorGuardsNeverTouchStorage(t *testing.T) {
	a, b := newWallet(t), newWallet(t)
	forged := a.sign("create")
	forged.Message = "create something else"
	wrongKey := a.sign("m")
	wrongKey.PublicKey = b.id

	cases := []struct {
		name string
		opts []harnessOption
		req  CreateAssetRequest
		code domainagg.ErrorCode
	}{
		{"missing credentials", nil, CreateAssetRequest{Attributes: []byte(`{"name":"X"}`)}, domainagg.CodeUnauthenticated},
		{"forged signature", nil, CreateAssetRequest{Credentials: forged, Attributes: []byte(`{"name":"X"}`)}, domainagg.CodeUnauthenticated},
		{"wrong key", nil, CreateAssetRequest{Credentials: wrongKey, Attributes: []byte(`{"name":"X"}`)}, domainagg.CodeUnauthenticated},
		{"unknown attribute", nil, CreateAssetRequest{Credentials: a.sign("c"), Attributes: []byte(`{"name":"X","color":"red"}`)}, domainagg.CodeValidation},
		{"missing name", nil, CreateAssetRequest{Credentials: a.sign("c"), Attributes: []byte(`{"description":"d"}`)}, domainagg.CodeValidation},
		{"bad image", nil, CreateAssetRequest{Credentials: a.sign("c"), Attributes: []byte(`{"name":"X","image":"ftp://x"}`)}, domainagg.CodeValidation},
		{"rate limited", []harnessOption{withWriteMax(0)}, CreateAssetRequest{Credentials: a.sign("c"), Attributes: []byte(`{"name":"X"}`)}, domainagg.CodeRateLimited},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.opts...)
			_, err := h.coord.Create(context.Background(), tc.req)
			requireCode(t, err, tc.code)
			if n := len(h.pendingTransactions(t)); n != 0 {
				t.Fatalf("guard failure wrote %d attempts", n)
			}
			if h.ledger.Calls() != 0 {
				t.Fatalf("guard failure reached the ledger")
			}
		})
	}
}

func TestCoordinatorRateLimitExactness(t *testing.T) {
	h := newHarness(t, withWriteMax(2))
	a := newWallet(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := h.coord.Create(ctx, CreateAssetRequest{Credentials: a.sign("c"), Attributes: []byte(`{"name":"X"}`)}); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	_, err := h.coord.Create(ctx, CreateAssetRequest{Credentials: a.sign("c"), Attributes: []byte(`{"name":"X"}`)})
	requireCode(t, err, domainagg.CodeRateLimited)
	var detail *domainagg.RateLimitDetail
	if !errors.As(err, &detail) || detail.Remaining != 0 || detail.ResetSeconds <= 0 || detail.Limit != 2 {
		t.Fatalf("rate limit detail: %+v", detail)
	}

	// The store going away closes writes and leaves reads open.
	h.counter.err = errors.New("redis down")
	_, err = h.coord.Create(ctx, CreateAssetRequest{Credentials: newWallet(t).sign("c"), Attributes: []byte(`{"name":"X"}`)})
	requireCode(t, err, domainagg.CodeRateLimited)
	list, err := h.coord.ListByOwner(ctx, a.id)
	if err != nil || len(list) != 2 {
		t.Fatalf("ListByOwner: %d %v", len(list), err)
	}
	if _, err := h.coord.GetStatus(ctx, list[0].ID, "reader"); err != nil {
		t.Fatalf("reads must fail open: %v", err)
	}
}

func TestCoordinatorAuthorizationAndTransferChecks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, b, stranger := newWallet(t), newWallet(t), newWallet(t)
	h.register(t, b)
	v := h.mint(t, a, `{"name":"X"}`)

	_, err := h.coord.Update(ctx, UpdateAssetRequest{Credentials: b.sign("u"), AssetID: v.ID, ExpectedVersion: 1, Patch: []byte(`{"name":"Y"}`)})
	requireCode(t, err, domainagg.CodeForbidden)

	_, err = h.coord.Transfer(ctx, TransferAssetRequest{Credentials: a.sign("t"), AssetID: v.ID, ExpectedVersion: 1, ToOwnerID: a.id})
	requireCode(t, err, domainagg.CodeValidation)

	_, err = h.coord.Transfer(ctx, TransferAssetRequest{Credentials: a.sign("t"), AssetID: v.ID, ExpectedVersion: 1, ToOwnerID: stranger.id})
	requireCode(t, err, domainagg.CodeValidation)

	_, err = h.coord.Transfer(ctx, TransferAssetRequest{Credentials: a.sign("t"), AssetID: v.ID, ExpectedVersion: 1, ToOwnerID: "not-a-key"})
	requireCode(t, err, domainagg.CodeValidation)

	_, err = h.coord.Update(ctx, UpdateAssetRequest{Credentials: a.sign("u"), AssetID: uuid.New(), ExpectedVersion: 1, Patch: []byte(`{"name":"Y"}`)})
	requireCode(t, err, domainagg.CodeNotFound)

	_, err = h.coord.Update(ctx, UpdateAssetRequest{Credentials: a.sign("u"), AssetID: v.ID, ExpectedVersion: 1, Patch: []byte(`{}`)})
	requireCode(t, err, domainagg.CodeValidation)

	got, err := h.agg.Get(ctx, v.ID)
	if err != nil || got.Version != 1 || got.Status != assets.StatusActive {
		t.Fatalf("rejected requests changed the asset: %+v %v", got, err)
	}
}

func TestCoordinatorCanonicalizesCallerKeys(t *testing.T) {
	a, b := newWallet(t), newWallet(t)
	h := newHarness(t, withAdmins(" "+b.id+"\n"))
	challenges := &countingChallenges{}
	coord := h.coordinator(challenges)
	ctx := context.Background()
	h.register(t, b)

	padded := func(w wallet, msg string) CreateAssetRequest {
		creds := w.sign(msg)
		creds.PublicKey = " " + creds.PublicKey + "\t"
		return CreateAssetRequest{Credentials: creds, Attributes: []byte(`{"name":"X"}`)}
	}

	v, err := coord.Create(ctx, padded(a, "create"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if v.OwnerID == nil || *v.OwnerID != a.id {
		t.Fatalf("owner stored as %v, want %q", v.OwnerID, a.id)
	}
	if len(challenges.keys) != 1 || challenges.keys[0] != a.id {
		t.Fatalf("challenge consumed for %q", challenges.keys)
	}

	self := padded(a, "t").Credentials
	_, err = coord.Transfer(ctx, TransferAssetRequest{Credentials: self, AssetID: v.ID, ExpectedVersion: v.Version, ToOwnerID: a.id})
	requireCode(t, err, domainagg.CodeValidation)

	got, err := h.agg.Get(ctx, v.ID)
	if err != nil || got.OwnerID != a.id || got.Version != v.Version {
		t.Fatalf("self-transfer changed the asset: %+v %v", got, err)
	}

	moved, err := coord.Transfer(ctx, TransferAssetRequest{Credentials: self, AssetID: v.ID, ExpectedVersion: v.Version, ToOwnerID: " " + b.id})
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if moved.OwnerID == nil || *moved.OwnerID != b.id {
		t.Fatalf("transfer owner %v, want %q", moved.OwnerID, b.id)
	}

	if err := coord.Purge(ctx, PurgeAssetRequest{Credentials: padded(b, "purge").Credentials, AssetID: v.ID, ExpectedVersion: moved.Version}); err != nil {
		t.Fatalf("Purge by padded admin key: %v", err)
	}
}

func TestCoordinatorConsumesChallengeAfterValidation(t *testing.T) {
	h := newHarness(t)
	challenges := &countingChallenges{}
	coord := h.coordinator(challenges)
	a := newWallet(t)
	ctx := context.Background()

	_, err := coord.Create(ctx, CreateAssetRequest{Credentials: a.sign("bad"), Attributes: []byte(`{"name":""}`)})
	requireCode(t, err, domainagg.CodeValidation)
	if len(challenges.consumed) != 0 {
		t.Fatalf("invalid request burned a challenge")
	}
	if _, err := coord.Create(ctx, CreateAssetRequest{Credentials: a.sign("good"), Attributes: []byte(`{"name":"X"}`)}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(challenges.consumed) != 1 || challenges.consumed[0] != "good" {
		t.Fatalf("consumed: %v", challenges.consumed)
	}
}

func TestCoordinatorCanceledBeforeWriteLeavesNothing(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.coord.Create(ctx, CreateAssetRequest{Credentials: newWallet(t).sign("c"), Attributes: []byte(`{"name":"X"}`)})
	requireCode(t, err, domainagg.CodeRetryable)
	if len(h.pendingTransactions(t)) != 0 || h.ledger.Calls() != 0 {
		t.Fatalf("canceled request left side effects")
	}
}

func TestCoordinatorPurge(t *testing.T) {
	admin, owner := newWallet(t), newWallet(t)
	h := newHarness(t, withAdmins(admin.id))
	ctx := context.Background()
	v := h.mint(t, owner, `{"name":"X"}`)

	err := h.coord.Purge(ctx, PurgeAssetRequest{Credentials: owner.sign("p"), AssetID: v.ID, ExpectedVersion: 1})
	requireCode(t, err, domainagg.CodeForbidden)

	if err := h.coord.Purge(ctx, PurgeAssetRequest{Credentials: admin.sign("p"), AssetID: v.ID, ExpectedVersion: 1}); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	_, err = h.coord.GetStatus(ctx, v.ID, "reader")
	requireCode(t, err, domainagg.CodeNotFound)

	txs, err := h.coord.ListTransactions(ctx, v.ID, "reader")
	if err != nil || len(txs) != 1 {
		t.Fatalf("attempt log should survive a purge: %d %v", len(txs), err)
	}
}

// failingResolve fails every resolve so a settled ledger call cannot be
// committed locally.
type failingResolve struct {
	domainagg.AssetAggregate
}

func (f failingResolve) ConditionalUpdate(ctx context.Context, id uuid.UUID, v int, patch domainagg.AssetPatch) (*assets.Asset, error) {
	if patch.Resolve != nil {
		return nil, domainagg.NewError(domainagg.CodeRepositoryUnavailable, "asset.resolve", "connection refused", nil)
	}
	return f.AssetAggregate.ConditionalUpdate(ctx, id, v, patch)
}

func TestCoordinatorStoreFailureAfterLedgerSuccess(t *testing.T) {
	h := newHarness(t, withAggregate(func(inner domainagg.AssetAggregate) domainagg.AssetAggregate {
		return failingResolve{inner}
	}))
	_, err := h.coord.Create(context.Background(), CreateAssetRequest{Credentials: newWallet(t).sign("c"), Attributes: []byte(`{"name":"X"}`)})
	requireCode(t, err, domainagg.CodeRepositoryUnavailable)

	pending := h.pendingTransactions(t)
	if len(pending) != 1 {
		t.Fatalf("attempt should stay pending for reconciliation, got %d", len(pending))
	}
	if h.ledger.Effects(pending[0].ID.String()) != 1 {
		t.Fatalf("ledger effect missing")
	}
}

func TestCoordinatorLedgerCredentialFailureStaysPending(t *testing.T) {
	h := newHarness(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid api key"}`))
	}))
	t.Cleanup(srv.Close)
	gw, err := ledger.NewGateway(h.log, ledger.GatewayConfig{BaseURL: srv.URL, APIKey: "rotated", Timeout: time.Second}, nil)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	coord := NewAssetCoordinator(h.log, h.cfg, h.agg, h.identities, gw, NewGuard(h.log, h.limiter, nil, nil, false), h.events)

	view, err := coord.Create(context.Background(), CreateAssetRequest{Credentials: newWallet(t).sign("c"), Attributes: []byte(`{"name":"X"}`)})
	requireCode(t, err, domainagg.CodeLedgerTimeout)
	if view == nil || view.Status != assets.StatusPendingCreate {
		t.Fatalf("credential failure must leave the asset pending: %+v", view)
	}
	if n := len(h.pendingTransactions(t)); n != 1 {
		t.Fatalf("pending attempts: %d", n)
	}
}
