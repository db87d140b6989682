package identity

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/blinkboard/blink-backend/internal/data/repos/testutil"
	domainidentity "github.com/blinkboard/blink-backend/internal/domain/identity"
	"github.com/blinkboard/blink-backend/internal/platform/dbctx"
)

func TestIdentityRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewIdentityRepo(db, testutil.Logger(t))

	pk := "pk" + uuid.NewString()
	row := &domainidentity.Identity{PublicKey: pk, DisplayName: "A"}
	if err := repo.Create(dbc, row); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if row.ID == uuid.Nil {
		t.Fatalf("expected id to be assigned")
	}

	got, err := repo.GetByPublicKey(dbc, pk)
	if err != nil || got == nil || got.ID != row.ID {
		t.Fatalf("GetByPublicKey: got=%v err=%v", got, err)
	}
	missing, err := repo.GetByPublicKey(dbc, "unknown-"+pk)
	if err != nil || missing != nil {
		t.Fatalf("missing key: got=%v err=%v", missing, err)
	}

	if err := repo.UpdateFields(dbc, row.ID, map[string]interface{}{"email": "a@blink.test"}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	got, err = repo.GetByID(dbc, row.ID)
	if err != nil || got.Email != "a@blink.test" {
		t.Fatalf("GetByID after update: got=%+v err=%v", got, err)
	}
}

func TestIdentityRepoUniquePublicKey(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewIdentityRepo(db, testutil.Logger(t))

	pk := "pk" + uuid.NewString()
	if err := repo.Create(dbc, &domainidentity.Identity{PublicKey: pk}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := repo.Create(dbc, &domainidentity.Identity{PublicKey: pk}); err == nil {
		t.Fatalf("expected unique violation on duplicate public key")
	}
}
