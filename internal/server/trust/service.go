package trust

import (
	"context"
	"fmt"

	"github.com/contractorvault/broker/internal/common"
	"github.com/contractorvault/broker/internal/timex"
)

// Service wires the pure evaluator to the trust-record repository and
// exposes the administrative overrides.
type Service struct {
	repo   Repository
	clock  timex.Clock
	policy Policy
}

func NewService(repo Repository, clock timex.Clock, policy Policy) *Service {
	if clock == nil {
		clock = timex.RealClock{}
	}
	return &Service{repo: repo, clock: clock, policy: policy}
}

// Gate evaluates one redemption attempt. It loads (or creates) the trust
// record for the recipient/fingerprint pair, runs the evaluator, persists
// the updated record, and returns the decision. The caller maps a denial
// to ErrDeviceBlocked or ErrTrustTooLow; the token state machine stays
// untouched here.
func (s *Service) Gate(ctx context.Context, recipient, requesterIP string, device DeviceContext) (Decision, *Record, error) {

	now := s.clock.Now()
	fingerprint := FingerprintOf(device)

	rec, _, err := s.repo.GetOrCreate(ctx, recipient, fingerprint, now)
	if err != nil {
		return Decision{}, nil, fmt.Errorf("trust record error: %w", err)
	}

	decision, updated := Evaluate(*rec, requesterIP, s.policy)
	updated.LastSeen = now
	if device.UserAgent != "" {
		updated.UserAgent = device.UserAgent
	}

	if err := s.repo.Update(ctx, &updated); err != nil {
		return Decision{}, nil, fmt.Errorf("trust record error: %w", err)
	}

	return decision, &updated, nil
}

// DenialError maps a deny decision to the broker error taxonomy.
func DenialError(d Decision) error {
	if d.Allow {
		return nil
	}
	if d.Blocked {
		return common.ErrDeviceBlocked
	}
	return common.ErrTrustTooLow
}

// Trust marks a device as trusted, pinning its score into the trusted
// band and clearing any block.
func (s *Service) Trust(ctx context.Context, id, actor string) (*Record, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rec.Trusted = true
	rec.Blocked = false
	rec.BlockedBy = ""
	rec.BlockedReason = ""
	rec.TrustedBy = actor
	if rec.Score < ScoreTrustedDevice {
		rec.Score = ScoreTrustedDevice
	}
	rec.LastSeen = s.clock.Now()

	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Block flags a device. A blocked device is denied regardless of score.
func (s *Service) Block(ctx context.Context, id, actor, reason string) (*Record, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rec.Blocked = true
	rec.Trusted = false
	rec.TrustedBy = ""
	rec.Score = ScoreMin
	rec.BlockedBy = actor
	rec.BlockedReason = reason
	rec.LastSeen = s.clock.Now()

	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Unblock lifts a block and resets the device to the new-device baseline.
func (s *Service) Unblock(ctx context.Context, id, actor string) (*Record, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	rec.Blocked = false
	rec.Score = ScoreNewDevice
	rec.BlockedBy = ""
	rec.BlockedReason = ""
	rec.LastSeen = s.clock.Now()

	if err := s.repo.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListByRecipient returns all known devices for a recipient, most
// recently seen first.
func (s *Service) ListByRecipient(ctx context.Context, recipient string) ([]*Record, error) {
	return s.repo.ListByRecipient(ctx, recipient)
}
