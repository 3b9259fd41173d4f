// Package broker composes the artifact registry, token ledger, trust
// evaluator, cipher store, and audit log into the four public operations.
// It owns the ordering guarantees: payloads are sealed before they are
// stored, and decrypted only after every gate has passed.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/contractorvault/broker/internal/common"
	"github.com/contractorvault/broker/internal/logging"
	"github.com/contractorvault/broker/internal/server/artifacts"
	"github.com/contractorvault/broker/internal/server/audit"
	"github.com/contractorvault/broker/internal/server/tokens"
	"github.com/contractorvault/broker/internal/server/trust"
)

type Broker struct {
	artifacts *artifacts.Service
	ledger    *tokens.Service
	trust     *trust.Service
	recorder  *audit.Recorder
	logger    logging.Logger
}

func New(as *artifacts.Service, ls *tokens.Service, ts *trust.Service, rec *audit.Recorder, logger logging.Logger) *Broker {
	return &Broker{
		artifacts: as,
		ledger:    ls,
		trust:     ts,
		recorder:  rec,
		logger:    logger.With("module", "broker"),
	}
}

// Grant is the result of issuing a token. Secret is disclosed here and
// nowhere else; SecretHint is the short prefix an owner can use to
// correlate listings with the link they sent.
type Grant struct {
	TokenID    string
	Secret     string
	SecretHint string
	ExpiresAt  time.Time
}

// Redemption is the payload handed to a consumer whose token passed
// every gate.
type Redemption struct {
	Payload   []byte
	TargetRef string
	ExpiresAt time.Time
}

// RegisterArtifact seals and stores a new artifact.
func (b *Broker) RegisterArtifact(ctx context.Context, owner, label, targetRef string, payload []byte, requesterIP string) (*artifacts.Metadata, error) {
	meta, err := b.artifacts.Create(ctx, owner, label, targetRef, payload)
	if err != nil {
		return nil, err
	}

	b.recorder.Record(owner, audit.ActionArtifactCreated, "artifact:"+meta.ID, requesterIP,
		fmt.Sprintf("registered %q for %s", label, targetRef))
	return meta, nil
}

// DeactivateArtifact retires an artifact without touching its tokens.
func (b *Broker) DeactivateArtifact(ctx context.Context, id, actor, requesterIP string) error {
	if err := b.artifacts.Deactivate(ctx, id); err != nil {
		return err
	}
	b.recorder.Record(actor, audit.ActionArtifactDeactivated, "artifact:"+id, requesterIP, "")
	return nil
}

// IssueToken grants a recipient time-limited access to an artifact.
func (b *Broker) IssueToken(ctx context.Context, artifactID, recipient string, ttl time.Duration, allowedIP string, singleUse bool, actor, requesterIP string) (*Grant, error) {

	meta, err := b.artifacts.Get(ctx, artifactID)
	if err != nil {
		return nil, err
	}
	if !meta.Active {
		return nil, fmt.Errorf("%w: artifact is deactivated", common.ErrValidation)
	}

	issued, err := b.ledger.Issue(ctx, artifactID, recipient, ttl, allowedIP, singleUse, actor)
	if err != nil {
		return nil, err
	}

	b.recorder.Record(actor, audit.ActionGrantAccess, "token:"+issued.Token.ID, requesterIP,
		fmt.Sprintf("granted %s access to %q until %s", recipient, meta.Label, issued.Token.ExpiresAt.Format(time.RFC3339)))

	return &Grant{
		TokenID:    issued.Token.ID,
		Secret:     issued.Secret,
		SecretHint: tokens.SecretHint(issued.Secret),
		ExpiresAt:  issued.Token.ExpiresAt,
	}, nil
}

// Redeem exchanges a token secret for the decrypted artifact. Gate
// order: lookup and status, IP allow-list, trust, then the atomic
// counter transition, and only then decryption. A revoke that becomes
// visible before the transition commits turns the redeem into
// ErrRevoked. Every outcome, allowed or denied, produces one audit
// entry.
func (b *Broker) Redeem(ctx context.Context, secret, requesterIP string, device trust.DeviceContext) (*Redemption, error) {

	token, err := b.ledger.CheckRedeemable(ctx, secret, requesterIP)
	if err != nil {
		b.auditDenied(token, secret, requesterIP, err)
		return nil, err
	}

	decision, _, err := b.trust.Gate(ctx, token.Recipient, requesterIP, device)
	if err != nil {
		b.logger.Error(ctx, "trust gate error", "error", err.Error())
		return nil, common.ErrInternal
	}
	if denied := trust.DenialError(decision); denied != nil {
		b.recorder.Record(token.Recipient, audit.ActionTrustDecision, "token:"+token.ID, requesterIP,
			fmt.Sprintf("denied: %s (score %d)", decision.Reason, decision.Score))
		return nil, denied
	}

	token, err = b.ledger.CommitRedemption(ctx, secret)
	if err != nil {
		b.auditDenied(token, secret, requesterIP, err)
		return nil, err
	}

	payload, meta, err := b.artifacts.Payload(ctx, token.ArtifactID)
	if err != nil {
		b.logger.Error(ctx, "redeem decryption failed", "token_id", token.ID, "error", err.Error())
		if errors.Is(err, common.ErrDecryption) {
			return nil, err
		}
		return nil, common.ErrInternal
	}

	b.recorder.Record(token.Recipient, audit.ActionRedeemSuccess, "token:"+token.ID, requesterIP,
		fmt.Sprintf("redeemed %q (use #%d)", meta.Label, token.UseCount))

	return &Redemption{
		Payload:   payload,
		TargetRef: meta.TargetRef,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

func (b *Broker) auditDenied(token *tokens.Token, secret, requesterIP string, cause error) {
	if errors.Is(cause, common.ErrNotFound) {
		// No row to attribute; an unknown secret is not worth an audit
		// entry per attempt, the rate limiter handles probing.
		return
	}

	target, actor := "token:unknown", "unknown"
	if token != nil {
		target, actor = "token:"+token.ID, token.Recipient
	}

	action := audit.ActionRedeemDenied
	if errors.Is(cause, common.ErrIPNotAllowed) {
		action = audit.ActionSecurityAlert
	}
	b.recorder.Record(actor, action, target, requesterIP, cause.Error())
}

// Validate reports token status for consumer polling. Revocation
// propagates to offline-capable clients within one poll interval because
// this always recomputes status from the store and the clock.
func (b *Broker) Validate(ctx context.Context, secret string) (*tokens.ValidationResult, error) {
	return b.ledger.Validate(ctx, secret)
}

// Revoke is the single-token kill switch. Safe to press repeatedly:
// every press lands in the audit log, only the first one transitions.
func (b *Broker) Revoke(ctx context.Context, tokenID, actor, reason, requesterIP string) error {
	token, did, err := b.ledger.Revoke(ctx, tokenID, actor, reason)
	if err != nil {
		return err
	}

	detail := reason
	if !did {
		detail = fmt.Sprintf("repeated revoke (already %s): %s", token.StatusAt(b.ledger.Now()), reason)
	}
	b.recorder.Record(actor, audit.ActionRevokeAccess, "token:"+tokenID, requesterIP, detail)
	return nil
}

// RevokeAll kills every outstanding token for a recipient as of now.
func (b *Broker) RevokeAll(ctx context.Context, recipient, actor, reason, requesterIP string) (int64, error) {
	n, err := b.ledger.RevokeAll(ctx, recipient, actor, reason)
	if err != nil {
		return 0, err
	}

	b.recorder.Record(actor, audit.ActionRevokeAll, "recipient:"+recipient, requesterIP,
		fmt.Sprintf("revoked %d tokens: %s", n, reason))
	return n, nil
}

// Now exposes the ledger clock for status views and archive naming.
func (b *Broker) Now() time.Time { return b.ledger.Now() }

// GetArtifact returns artifact metadata, never the payload.
func (b *Broker) GetArtifact(ctx context.Context, id string) (*artifacts.Metadata, error) {
	return b.artifacts.Get(ctx, id)
}

// ListTokens returns the tokens the actor has issued, newest first.
func (b *Broker) ListTokens(ctx context.Context, issuer string) ([]*tokens.Token, error) {
	return b.ledger.List(ctx, issuer)
}

// ListDevices returns the known devices of a recipient.
func (b *Broker) ListDevices(ctx context.Context, recipient string) ([]*trust.Record, error) {
	return b.trust.ListByRecipient(ctx, recipient)
}

// TrustDevice, BlockDevice and UnblockDevice expose the admin overrides
// with audit entries.
func (b *Broker) TrustDevice(ctx context.Context, deviceID, actor, requesterIP string) (*trust.Record, error) {
	rec, err := b.trust.Trust(ctx, deviceID, actor)
	if err != nil {
		return nil, err
	}
	b.recorder.Record(actor, audit.ActionDeviceTrusted, "device:"+deviceID, requesterIP, "")
	return rec, nil
}

func (b *Broker) BlockDevice(ctx context.Context, deviceID, actor, reason, requesterIP string) (*trust.Record, error) {
	rec, err := b.trust.Block(ctx, deviceID, actor, reason)
	if err != nil {
		return nil, err
	}
	b.recorder.Record(actor, audit.ActionDeviceBlocked, "device:"+deviceID, requesterIP, reason)
	return rec, nil
}

func (b *Broker) UnblockDevice(ctx context.Context, deviceID, actor, requesterIP string) (*trust.Record, error) {
	rec, err := b.trust.Unblock(ctx, deviceID, actor)
	if err != nil {
		return nil, err
	}
	b.recorder.Record(actor, audit.ActionDeviceUnblocked, "device:"+deviceID, requesterIP, "")
	return rec, nil
}
