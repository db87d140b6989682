package assets

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/blinkboard/blink-backend/internal/data/repos/testutil"
	domainassets "github.com/blinkboard/blink-backend/internal/domain/assets"
	"github.com/blinkboard/blink-backend/internal/platform/dbctx"
)

func TestAssetRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewAssetRepo(db, testutil.Logger(t))

	owner := "owner-" + uuid.NewString()
	pending := &domainassets.Asset{
		ID:         uuid.New(),
		OwnerID:    owner,
		Attributes: datatypes.JSON(`{"name":"X","blink_type":"STANDARD"}`),
		Status:     domainassets.StatusPendingCreate,
	}
	if err := repo.Create(dbc, pending); err != nil {
		t.Fatalf("Create: %v", err)
	}
	active := testutil.SeedActiveAsset(t, ctx, tx, owner, 3)

	got, err := repo.GetByID(dbc, pending.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != domainassets.StatusPendingCreate || got.Version != 0 || got.CreatedAt.IsZero() {
		t.Fatalf("unexpected asset %+v", got)
	}

	rows, err := repo.ListByOwner(dbc, owner, 10)
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != active.ID {
		t.Fatalf("ListByOwner should hide PENDING_CREATE rows, got %d", len(rows))
	}

	if ok, err := repo.DeleteNonPending(dbc, pending.ID, 0); err != nil || ok {
		t.Fatalf("DeleteNonPending(pending): ok=%v err=%v", ok, err)
	}
	if ok, err := repo.DeleteNonPending(dbc, active.ID, 2); err != nil || ok {
		t.Fatalf("DeleteNonPending(stale version): ok=%v err=%v", ok, err)
	}
	if ok, err := repo.DeleteNonPending(dbc, active.ID, 3); err != nil || !ok {
		t.Fatalf("DeleteNonPending(active): ok=%v err=%v", ok, err)
	}
	if _, err := repo.GetByID(dbc, active.ID); err == nil {
		t.Fatalf("expected purged asset to be gone")
	}
}

func TestTransactionRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewTransactionRepo(db, testutil.Logger(t))

	assetID := uuid.New()
	now := time.Now().UTC()
	old := testutil.SeedTransaction(t, ctx, tx, assetID, domainassets.KindCreate, now.Add(-10*time.Minute))
	fresh := testutil.SeedTransaction(t, ctx, tx, assetID, domainassets.KindUpdate, now)

	pending, err := repo.ListPending(dbc, now.Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	found := false
	for _, p := range pending {
		if p.ID == fresh.ID {
			t.Fatalf("fresh attempt should not be listed")
		}
		if p.ID == old.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("old attempt missing from ListPending")
	}

	ok, err := repo.Resolve(dbc, old.ID, domainassets.OutcomeConfirmed, "sig-1", "", now)
	if err != nil || !ok {
		t.Fatalf("Resolve: ok=%v err=%v", ok, err)
	}
	ok, err = repo.Resolve(dbc, old.ID, domainassets.OutcomeFailed, "", "late", now)
	if err != nil || ok {
		t.Fatalf("second Resolve must not overwrite a terminal outcome: ok=%v err=%v", ok, err)
	}
	got, err := repo.GetByID(dbc, old.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Outcome != domainassets.OutcomeConfirmed || got.ExternalTxRef == nil || *got.ExternalTxRef != "sig-1" || got.ResolvedAt == nil {
		t.Fatalf("unexpected resolved row %+v", got)
	}

	rows, err := repo.ListByAsset(dbc, assetID)
	if err != nil || len(rows) != 2 || rows[0].ID != old.ID {
		t.Fatalf("ListByAsset: err=%v len=%d", err, len(rows))
	}
	if _, err := repo.Resolve(dbc, fresh.ID, domainassets.OutcomePending, "", "", now); err == nil {
		t.Fatalf("expected non-terminal outcome to be rejected")
	}
}
