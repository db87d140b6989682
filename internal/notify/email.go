package notify

import (
	"context"
	"fmt"

	"github.com/blinkboard/blink-backend/internal/domain/assets"
	"github.com/blinkboard/blink-backend/internal/domain/identity"
	"github.com/blinkboard/blink-backend/internal/platform/dbctx"
	"github.com/blinkboard/blink-backend/internal/platform/logger"
	"github.com/blinkboard/blink-backend/internal/platform/sendgrid"
)

// IdentityLookup is satisfied by the identity repo.
type IdentityLookup interface {
	GetByPublicKey(dbc dbctx.Context, publicKey string) (*identity.Identity, error)
}

type emailNotifier struct {
	log        *logger.Logger
	client     sendgrid.Client
	identities IdentityLookup
}

// NewEmailNotifier mails the recipient of a confirmed transfer when their
// identity has an email address. Other events are ignored.
func NewEmailNotifier(log *logger.Logger, client sendgrid.Client, identities IdentityLookup) Publisher {
	return &emailNotifier{
		log:        log.With("service", "EmailNotifier"),
		client:     client,
		identities: identities,
	}
}

func (n *emailNotifier) Publish(ctx context.Context, ev Event) error {
	if ev.Type != EventAssetConfirmed || ev.Kind != assets.KindTransfer {
		return nil
	}
	recipient, err := n.identities.GetByPublicKey(dbctx.Context{Ctx: ctx}, ev.OwnerID)
	if err != nil {
		return fmt.Errorf("lookup recipient: %w", err)
	}
	if recipient == nil || recipient.Email == "" {
		return nil
	}
	name := recipient.DisplayName
	res, err := n.client.Send(ctx, sendgrid.Message{
		To:      []sendgrid.Address{{Email: recipient.Email, Name: name}},
		Subject: "You received a Blink",
		Text: fmt.Sprintf("Hi %s,\n\nA Blink was transferred to your wallet %s.\nAsset: %s\n",
			name, ev.OwnerID, ev.AssetID),
		Categories: []string{"blink-transfer"},
		CustomArgs: map[string]string{"asset_id": ev.AssetID.String()},
	})
	if err != nil {
		return err
	}
	n.log.Debug("transfer email sent", "asset_id", ev.AssetID, "message_id", res.MessageID)
	return nil
}
