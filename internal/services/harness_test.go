package services

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/blinkboard/blink-backend/internal/auth/signature"
	"github.com/blinkboard/blink-backend/internal/data/aggregates"
	repoassets "github.com/blinkboard/blink-backend/internal/data/repos/assets"
	repoidentity "github.com/blinkboard/blink-backend/internal/data/repos/identity"
	"github.com/blinkboard/blink-backend/internal/data/repos/testutil"
	domainagg "github.com/blinkboard/blink-backend/internal/domain/aggregates"
	"github.com/blinkboard/blink-backend/internal/domain/assets"
	"github.com/blinkboard/blink-backend/internal/ledger/ledgertest"
	"github.com/blinkboard/blink-backend/internal/notify"
	"github.com/blinkboard/blink-backend/internal/platform/logger"
	"github.com/blinkboard/blink-backend/internal/ratelimit"
)

type wallet struct {
	id   string
	priv ed25519.PrivateKey
}

func newWallet(t *testing.T) wallet {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return wallet{id: signature.EncodePublicKey(pub), priv: priv}
}

func (w wallet) sign(msg string) signature.Credentials {
	return signature.Credentials{
		PublicKey: w.id,
		Message:   msg,
		Signature: signature.EncodeSignature(ed25519.Sign(w.priv, []byte(msg))),
	}
}

// memCounter is a single-process CounterStore with real expiry.
type memCounter struct {
	mu      sync.Mutex
	now     func() time.Time
	counts  map[string]int64
	expires map[string]time.Time
	err     error
}

func newMemCounter() *memCounter {
	return &memCounter{now: time.Now, counts: map[string]int64{}, expires: map[string]time.Time{}}
}

func (m *memCounter) IncrementWithExpiry(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, 0, m.err
	}
	now := m.now()
	if exp, ok := m.expires[key]; !ok || !now.Before(exp) {
		m.counts[key] = 0
		m.expires[key] = now.Add(window)
	}
	m.counts[key]++
	return m.counts[key], m.expires[key].Sub(now), nil
}

type eventRecorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *eventRecorder) Publish(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *eventRecorder) snapshot() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

type countingChallenges struct {
	mu       sync.Mutex
	consumed []string
	keys     []string
}

func (c *countingChallenges) Consume(_ context.Context, publicKey string, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumed = append(c.consumed, message)
	c.keys = append(c.keys, publicKey)
	return nil
}

type harness struct {
	db         *gorm.DB
	log        *logger.Logger
	agg        domainagg.AssetAggregate
	identities repoidentity.IdentityRepo
	ledger     *ledgertest.Ledger
	counter    *memCounter
	limiter    *ratelimit.Limiter
	events     *eventRecorder
	cfg        AssetCoordinatorConfig
	coord      AssetCoordinator
}

type harnessOption func(*harness)

func withAggregate(wrap func(domainagg.AssetAggregate) domainagg.AssetAggregate) harnessOption {
	return func(h *harness) { h.agg = wrap(h.agg) }
}

func withAdmins(keys ...string) harnessOption {
	return func(h *harness) { h.cfg.AdminKeys = keys }
}

func withWriteMax(n int) harnessOption {
	return func(h *harness) { h.cfg.WritePolicy.Max = n }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	db := testutil.DB(t)
	log := logger.Nop()
	h := &harness{
		db:  db,
		log: log,
		agg: aggregates.NewAssetAggregate(aggregates.AssetAggregateDeps{
			Base:         aggregates.BaseDeps{DB: db, Log: log},
			Assets:       repoassets.NewAssetRepo(db, log),
			Transactions: repoassets.NewTransactionRepo(db, log),
		}),
		identities: repoidentity.NewIdentityRepo(db, log),
		ledger:     ledgertest.New(),
		counter:    newMemCounter(),
		events:     &eventRecorder{},
		cfg: AssetCoordinatorConfig{
			WritePolicy:   ratelimit.Policy{Scope: "asset_write", Max: 1000, Window: time.Minute},
			ReadPolicy:    ratelimit.Policy{Scope: "asset_read", Max: 1000, Window: time.Minute, FailOpen: true},
			SubmitTimeout: 5 * time.Second,
		},
	}
	h.limiter = ratelimit.New(h.counter, log, nil)
	for _, opt := range opts {
		opt(h)
	}
	h.coord = h.coordinator(nil)
	return h
}

func (h *harness) coordinator(challenges ChallengeConsumer) AssetCoordinator {
	guard := NewGuard(h.log, h.limiter, nil, challenges, challenges != nil)
	return NewAssetCoordinator(h.log, h.cfg, h.agg, h.identities, h.ledger, guard, h.events)
}

func (h *harness) register(t *testing.T, w wallet) {
	t.Helper()
	testutil.SeedIdentity(t, context.Background(), h.db, w.id)
}

// mint creates an asset for owner and requires the ledger to confirm it.
func (h *harness) mint(t *testing.T, owner wallet, attrs string) *AssetView {
	t.Helper()
	view, err := h.coord.Create(context.Background(), CreateAssetRequest{
		Credentials: owner.sign("create " + attrs),
		Attributes:  []byte(attrs),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if view.Status != assets.StatusActive {
		t.Fatalf("mint not confirmed: %+v", view)
	}
	return view
}

func (h *harness) pendingTransactions(t *testing.T) []*assets.Transaction {
	t.Helper()
	rows, err := h.agg.ListPending(context.Background(), time.Now().Add(48*time.Hour), 100)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	return rows
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func requireCode(t *testing.T, err error, code domainagg.ErrorCode) {
	t.Helper()
	if !domainagg.IsCode(err, code) {
		t.Fatalf("want %s, got %v", code, err)
	}
}
