package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/blinkboard/blink-backend/internal/auth/signature"
	repoidentity "github.com/blinkboard/blink-backend/internal/data/repos/identity"
	domainagg "github.com/blinkboard/blink-backend/internal/domain/aggregates"
	"github.com/blinkboard/blink-backend/internal/domain/assets"
	"github.com/blinkboard/blink-backend/internal/ledger"
	"github.com/blinkboard/blink-backend/internal/notify"
	"github.com/blinkboard/blink-backend/internal/observability"
	"github.com/blinkboard/blink-backend/internal/platform/dbctx"
	"github.com/blinkboard/blink-backend/internal/platform/logger"
	"github.com/blinkboard/blink-backend/internal/ratelimit"
)

type CreateAssetRequest struct {
	Credentials signature.Credentials
	Attributes  json.RawMessage
}

type UpdateAssetRequest struct {
	Credentials     signature.Credentials
	AssetID         uuid.UUID
	ExpectedVersion int
	Patch           json.RawMessage
}

type TransferAssetRequest struct {
	Credentials     signature.Credentials
	AssetID         uuid.UUID
	ExpectedVersion int
	ToOwnerID       string
}

type PurgeAssetRequest struct {
	Credentials     signature.Credentials
	AssetID         uuid.UUID
	ExpectedVersion int
}

// AssetCoordinator runs asset create/update/transfer across the local store
// and the ledger.
//
// Mutations return *aggregates.Error on failure. Two codes come with a view
// of the asset alongside the error: CodeLedgerTimeout (the asset is still
// pending; poll GetStatus) and CodeLedgerRejected (the asset is FAILED).
type AssetCoordinator interface {
	Create(ctx context.Context, req CreateAssetRequest) (*AssetView, error)
	Update(ctx context.Context, req UpdateAssetRequest) (*AssetView, error)
	Transfer(ctx context.Context, req TransferAssetRequest) (*AssetView, error)

	// GetStatus is the polling read. caller keys the read rate limit.
	GetStatus(ctx context.Context, assetID uuid.UUID, caller string) (*AssetView, error)
	ListTransactions(ctx context.Context, assetID uuid.UUID, caller string) ([]*TransactionView, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*AssetView, error)

	Purge(ctx context.Context, req PurgeAssetRequest) error
}

type AssetCoordinatorConfig struct {
	WritePolicy ratelimit.Policy
	ReadPolicy  ratelimit.Policy
	// SubmitTimeout bounds one ledger submission. Past it the outcome is
	// treated as ambiguous.
	SubmitTimeout time.Duration
	AdminKeys     []string
	ListLimit     int
}

type assetCoordinator struct {
	log        *logger.Logger
	cfg        AssetCoordinatorConfig
	assets     domainagg.AssetAggregate
	identities repoidentity.IdentityRepo
	ledger     ledger.Client
	guard      *Guard
	outcomes   *outcomeApplier
	admins     map[string]struct{}
}

func NewAssetCoordinator(
	log *logger.Logger,
	cfg AssetCoordinatorConfig,
	assetAgg domainagg.AssetAggregate,
	identities repoidentity.IdentityRepo,
	ledgerClient ledger.Client,
	guard *Guard,
	events notify.Publisher,
) AssetCoordinator {
	serviceLog := log.With("service", "AssetCoordinator")
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 30 * time.Second
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = 200
	}
	admins := make(map[string]struct{}, len(cfg.AdminKeys))
	for _, k := range cfg.AdminKeys {
		if k = signature.NormalizePublicKey(k); k != "" {
			admins[k] = struct{}{}
		}
	}
	return &assetCoordinator{
		log:        serviceLog,
		cfg:        cfg,
		assets:     assetAgg,
		identities: identities,
		ledger:     ledgerClient,
		guard:      guard,
		outcomes:   &outcomeApplier{log: serviceLog, assets: assetAgg, events: events},
		admins:     admins,
	}
}

func (s *assetCoordinator) Create(ctx context.Context, req CreateAssetRequest) (view *AssetView, err error) {
	const op = "asset.create"
	ctx, span := observability.StartSpan(ctx, "AssetCoordinator.Create")
	defer func() { finishSpan(span, err) }()

	owner, err := s.authorizeWrite(ctx, op, req.Credentials)
	if err != nil {
		return nil, err
	}

	attrs, err := assets.ParseAttributes(req.Attributes)
	if err != nil {
		return nil, validationError(op, err)
	}
	attrs = attrs.Normalize()
	if err := attrs.Validate(); err != nil {
		return nil, validationError(op, err)
	}
	staged, err := attrs.JSON()
	if err != nil {
		return nil, domainagg.NewError(domainagg.CodeInternal, op, "encode attributes", err)
	}
	mint := ledger.Operation{Kind: assets.KindCreate, OwnerID: owner, Attributes: json.RawMessage(staged)}
	payload, err := mint.Payload()
	if err != nil {
		return nil, domainagg.NewError(domainagg.CodeInternal, op, "encode ledger payload", err)
	}

	if err := s.guard.Consume(ctx, op, req.Credentials); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, domainagg.Wrap(domainagg.CodeRetryable, op, err)
	}

	now := time.Now().UTC()
	asset := &assets.Asset{
		ID:                uuid.New(),
		OwnerID:           owner,
		PendingAttributes: staged,
		Status:            assets.StatusPendingCreate,
		Version:           0,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	attempt := &assets.Transaction{
		ID:        uuid.New(),
		AssetID:   asset.ID,
		Kind:      assets.KindCreate,
		ActorID:   owner,
		Payload:   payload,
		CreatedAt: now,
	}
	span.SetAttributes(attribute.String("asset.id", asset.ID.String()), attribute.String("asset.tx_id", attempt.ID.String()))
	if err := s.assets.Create(ctx, asset, attempt); err != nil {
		return nil, err
	}
	return s.submit(ctx, op, attempt, mint)
}

func (s *assetCoordinator) Update(ctx context.Context, req UpdateAssetRequest) (view *AssetView, err error) {
	const op = "asset.update"
	ctx, span := observability.StartSpan(ctx, "AssetCoordinator.Update", attribute.String("asset.id", req.AssetID.String()))
	defer func() { finishSpan(span, err) }()

	actor, err := s.authorizeWrite(ctx, op, req.Credentials)
	if err != nil {
		return nil, err
	}
	patch, err := assets.ParseAttributesPatch(req.Patch)
	if err != nil {
		return nil, validationError(op, err)
	}
	if patch.Empty() {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "attributes patch is empty", nil)
	}

	current, err := s.ownedAsset(ctx, op, req.AssetID, req.ExpectedVersion, actor)
	if err != nil {
		return nil, err
	}
	committed, err := assets.DecodeStored(current.Attributes)
	if err != nil {
		return nil, domainagg.NewError(domainagg.CodeInternal, op, "stored attributes unreadable", err)
	}
	merged := committed.Apply(patch).Normalize()
	if err := merged.Validate(); err != nil {
		return nil, validationError(op, err)
	}
	staged, err := merged.JSON()
	if err != nil {
		return nil, domainagg.NewError(domainagg.CodeInternal, op, "encode attributes", err)
	}
	update := ledger.Operation{
		Kind:       assets.KindUpdate,
		OwnerID:    actor,
		AssetRef:   *current.ExternalRef,
		Attributes: json.RawMessage(staged),
	}
	return s.begin(ctx, op, req.Credentials, current, update, nil, staged)
}

func (s *assetCoordinator) Transfer(ctx context.Context, req TransferAssetRequest) (view *AssetView, err error) {
	const op = "asset.transfer"
	ctx, span := observability.StartSpan(ctx, "AssetCoordinator.Transfer", attribute.String("asset.id", req.AssetID.String()))
	defer func() { finishSpan(span, err) }()

	actor, err := s.authorizeWrite(ctx, op, req.Credentials)
	if err != nil {
		return nil, err
	}
	to, err := signature.CanonicalPublicKey(req.ToOwnerID)
	if err != nil {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "to_owner_id is not a valid public key", err)
	}
	if to == actor {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "cannot transfer an asset to its current owner", nil)
	}
	dest, err := s.identities.GetByPublicKey(dbctx.Context{Ctx: ctx}, to)
	if err != nil {
		return nil, domainagg.Wrap(domainagg.CodeRepositoryUnavailable, op, err)
	}
	if dest == nil {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "destination identity does not exist", nil)
	}

	current, err := s.ownedAsset(ctx, op, req.AssetID, req.ExpectedVersion, actor)
	if err != nil {
		return nil, err
	}
	transfer := ledger.Operation{
		Kind:      assets.KindTransfer,
		OwnerID:   actor,
		AssetRef:  *current.ExternalRef,
		ToOwnerID: to,
	}
	return s.begin(ctx, op, req.Credentials, current, transfer, &to, nil)
}

// begin consumes the challenge, commits the pending transition for an
// existing asset, then submits to the ledger.
func (s *assetCoordinator) begin(
	ctx context.Context,
	op string,
	creds signature.Credentials,
	current *assets.Asset,
	ledgerOp ledger.Operation,
	pendingOwner *string,
	pendingAttrs []byte,
) (*AssetView, error) {
	payload, err := ledgerOp.Payload()
	if err != nil {
		return nil, domainagg.NewError(domainagg.CodeInternal, op, "encode ledger payload", err)
	}
	if err := s.guard.Consume(ctx, op, creds); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, domainagg.Wrap(domainagg.CodeRetryable, op, err)
	}

	attempt := &assets.Transaction{
		ID:        uuid.New(),
		AssetID:   current.ID,
		Kind:      ledgerOp.Kind,
		ActorID:   ledgerOp.OwnerID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("asset.tx_id", attempt.ID.String()))
	if _, err := s.assets.ConditionalUpdate(ctx, current.ID, current.Version, domainagg.BeginPatch(attempt, pendingOwner, pendingAttrs)); err != nil {
		return nil, err
	}
	return s.submit(ctx, op, attempt, ledgerOp)
}

// submit runs once the pending write has committed. From here on the caller
// cannot cancel: the ledger call runs to a definitive answer, its timeout, or
// is left for the reconciliation sweep.
func (s *assetCoordinator) submit(ctx context.Context, op string, attempt *assets.Transaction, ledgerOp ledger.Operation) (*AssetView, error) {
	ctx = context.WithoutCancel(ctx)
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
	res, err := ledger.Submit(callCtx, s.ledger, attempt.ID.String(), ledgerOp)
	cancel()

	if err != nil || (res.Outcome != ledger.OutcomeConfirmed && res.Outcome != ledger.OutcomeRejected) {
		s.log.Warn("ledger outcome ambiguous; left for reconciliation",
			"op", op,
			"asset_id", attempt.AssetID,
			"tx_id", attempt.ID,
			"ledger_outcome", res.Outcome,
			"error", err,
		)
		var view *AssetView
		if a, gerr := s.assets.Get(ctx, attempt.AssetID); gerr == nil {
			view = NewAssetView(a)
		}
		return view, domainagg.NewError(domainagg.CodeLedgerTimeout, op, "ledger outcome not yet known; poll the asset status", err)
	}

	after, _, err := s.outcomes.apply(ctx, attempt, res)
	if err != nil {
		s.log.Error("ledger settled but the local record was not updated",
			"op", op,
			"asset_id", attempt.AssetID,
			"tx_id", attempt.ID,
			"ledger_outcome", res.Outcome,
			"ledger_ref", res.Ref,
			"reconciliation_required", true,
			"error", err,
		)
		return nil, domainagg.NewError(domainagg.CodeRepositoryUnavailable, op, "ledger settled but the local record could not be updated", err)
	}
	if after == nil {
		return nil, domainagg.NewError(domainagg.CodeNotFound, op, "asset no longer exists", nil)
	}

	view := NewAssetView(after)
	if res.Outcome == ledger.OutcomeRejected {
		reason := rejectionReason(res)
		return view, domainagg.NewError(domainagg.CodeLedgerRejected, op, reason, &domainagg.LedgerRejection{Reason: reason})
	}
	s.log.Info("asset transition confirmed",
		"op", op,
		"asset_id", after.ID,
		"tx_id", attempt.ID,
		"version", after.Version,
	)
	return view, nil
}

func (s *assetCoordinator) GetStatus(ctx context.Context, assetID uuid.UUID, caller string) (*AssetView, error) {
	const op = "asset.get"
	if err := s.guard.Admit(ctx, op, s.cfg.ReadPolicy, caller); err != nil {
		return nil, err
	}
	a, err := s.assets.Get(ctx, assetID)
	if err != nil {
		return nil, err
	}
	return NewAssetView(a), nil
}

func (s *assetCoordinator) ListTransactions(ctx context.Context, assetID uuid.UUID, caller string) ([]*TransactionView, error) {
	const op = "asset.list_transactions"
	if err := s.guard.Admit(ctx, op, s.cfg.ReadPolicy, caller); err != nil {
		return nil, err
	}
	rows, err := s.assets.ListTransactions(ctx, assetID)
	if err != nil {
		return nil, err
	}
	out := make([]*TransactionView, 0, len(rows))
	for _, tx := range rows {
		out = append(out, NewTransactionView(tx))
	}
	return out, nil
}

func (s *assetCoordinator) ListByOwner(ctx context.Context, ownerID string) ([]*AssetView, error) {
	ownerID = signature.NormalizePublicKey(ownerID)
	if ownerID == "" {
		return nil, domainagg.NewError(domainagg.CodeValidation, "asset.list_by_owner", "owner required", nil)
	}
	rows, err := s.assets.ListByOwner(ctx, ownerID, s.cfg.ListLimit)
	if err != nil {
		return nil, err
	}
	out := make([]*AssetView, 0, len(rows))
	for _, a := range rows {
		out = append(out, NewAssetView(a))
	}
	return out, nil
}

func (s *assetCoordinator) Purge(ctx context.Context, req PurgeAssetRequest) (err error) {
	const op = "asset.purge"
	ctx, span := observability.StartSpan(ctx, "AssetCoordinator.Purge", attribute.String("asset.id", req.AssetID.String()))
	defer func() { finishSpan(span, err) }()

	actor, err := s.authorizeWrite(ctx, op, req.Credentials)
	if err != nil {
		return err
	}
	if _, ok := s.admins[actor]; !ok {
		return domainagg.NewError(domainagg.CodeForbidden, op, "purge requires an administrator key", nil)
	}
	if err := s.guard.Consume(ctx, op, req.Credentials); err != nil {
		return err
	}
	if err := s.assets.Purge(ctx, req.AssetID, req.ExpectedVersion); err != nil {
		return err
	}
	s.log.Warn("asset purged by administrator", "asset_id", req.AssetID, "actor_id", actor)
	if s.outcomes.events != nil {
		ev := notify.Event{Type: notify.EventAssetPurged, AssetID: req.AssetID, Version: req.ExpectedVersion}
		if perr := s.outcomes.events.Publish(context.WithoutCancel(ctx), ev); perr != nil {
			s.log.Warn("publish asset event failed", "asset_id", req.AssetID, "type", ev.Type, "error", perr)
		}
	}
	return nil
}

// authorizeWrite applies the rate limit (keyed by the claimed identity, fail
// closed) and verifies the signature.
func (s *assetCoordinator) authorizeWrite(ctx context.Context, op string, creds signature.Credentials) (string, error) {
	if err := s.guard.Admit(ctx, op, s.cfg.WritePolicy, signature.NormalizePublicKey(creds.PublicKey)); err != nil {
		return "", err
	}
	return s.guard.Authenticate(op, creds)
}

// ownedAsset loads the asset and checks the caller may start an attempt on it.
// The version and pending checks are repeated under the CAS; this pass only
// produces a precise error early.
func (s *assetCoordinator) ownedAsset(ctx context.Context, op string, id uuid.UUID, expectedVersion int, actor string) (*assets.Asset, error) {
	if id == uuid.Nil {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "asset id required", nil)
	}
	if expectedVersion < 0 {
		return nil, domainagg.NewError(domainagg.CodeValidation, op, "expected_version must be >= 0", nil)
	}
	current, err := s.assets.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status.IsPending() {
		return nil, domainagg.NewError(domainagg.CodeConflict, op, "asset has an operation in flight", nil)
	}
	if current.Version != expectedVersion {
		return nil, domainagg.NewError(domainagg.CodeConflict, op, "asset version is stale; re-read and retry", nil)
	}
	if current.OwnerID != actor {
		return nil, domainagg.NewError(domainagg.CodeForbidden, op, "caller does not own this asset", nil)
	}
	if current.ExternalRef == nil || *current.ExternalRef == "" {
		return nil, domainagg.NewError(domainagg.CodePreconditionFailed, op, "asset was never minted", nil)
	}
	return current, nil
}

func validationError(op string, err error) error {
	var fields assets.ValidationErrors
	if errors.As(err, &fields) {
		return domainagg.NewError(domainagg.CodeValidation, op, fields.Error(), fields)
	}
	return domainagg.Wrap(domainagg.CodeValidation, op, err)
}

func finishSpan(span trace.Span, err error) {
	if err != nil {
		span.SetAttributes(attribute.String("error.code", string(domainagg.CodeOf(err))))
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
