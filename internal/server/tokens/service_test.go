package tokens

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/contractorvault/broker/internal/common"
	"github.com/contractorvault/broker/internal/timex"
)

var testStart = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*Service, *timex.ManualClock) {
	t.Helper()
	clock := timex.NewManualClock(testStart)
	return NewService(NewMemoryRepository(), clock, 24*time.Hour), clock
}

func issue(t *testing.T, s *Service, ttl time.Duration, singleUse bool) *IssuedToken {
	t.Helper()
	it, err := s.Issue(context.Background(), "artifact-1", "dev@example.com", ttl, "", singleUse, "owner@example.com")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}
	return it
}

func TestIssue_RejectsBadTTL(t *testing.T) {
	s, _ := newTestLedger(t)
	ctx := context.Background()

	for _, ttl := range []time.Duration{0, -time.Second} {
		if _, err := s.Issue(ctx, "a", "r", ttl, "", false, "o"); !errors.Is(err, common.ErrValidation) {
			t.Errorf("ttl %v: expected ErrValidation, got %v", ttl, err)
		}
	}

	if _, err := s.Issue(ctx, "a", "r", 48*time.Hour, "", false, "o"); !errors.Is(err, common.ErrValidation) {
		t.Errorf("over-max ttl: expected ErrValidation, got %v", err)
	}
}

func TestIssue_SecretIsOpaque(t *testing.T) {
	s, _ := newTestLedger(t)
	it := issue(t, s, time.Hour, false)

	if it.Secret == "" {
		t.Fatalf("expected a secret")
	}
	if it.Secret == it.Token.ID || it.Secret == it.Token.ArtifactID {
		t.Errorf("secret must be distinct from the identifiers")
	}
	if it.Token.SecretHash == it.Secret {
		t.Errorf("stored hash must not equal the secret")
	}
	if it.Token.SecretHash != HashSecret(it.Secret) {
		t.Errorf("stored hash does not match the secret")
	}

	other := issue(t, s, time.Hour, false)
	if other.Secret == it.Secret {
		t.Errorf("two tokens must not share a secret")
	}
}

func TestStatus_Derivation(t *testing.T) {
	s, clock := newTestLedger(t)
	ctx := context.Background()

	it := issue(t, s, time.Hour, true)

	res, err := s.Validate(ctx, it.Secret)
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if !res.Valid || res.Status != "pending" {
		t.Errorf("fresh token: got %+v", res)
	}

	if _, err := s.CommitRedemption(ctx, it.Secret); err != nil {
		t.Fatalf("redeem error: %v", err)
	}
	res, _ = s.Validate(ctx, it.Secret)
	if res.Valid || res.Status != "redeemed" {
		t.Errorf("after single use: got %+v", res)
	}

	// Revocation outranks redeemed.
	if _, _, err := s.Revoke(ctx, it.Token.ID, "owner@example.com", "cleanup"); err != nil {
		t.Fatalf("Revoke error: %v", err)
	}
	res, _ = s.Validate(ctx, it.Secret)
	if res.Valid || res.Status != "revoked" {
		t.Errorf("after revoke: got %+v", res)
	}

	clock.Advance(2 * time.Hour)
	res, _ = s.Validate(ctx, it.Secret)
	if res.Status != "revoked" {
		t.Errorf("revoked must win over expired, got %+v", res)
	}
}

func TestValidate_UnknownSecret(t *testing.T) {
	s, _ := newTestLedger(t)
	res, err := s.Validate(context.Background(), "no-such-secret")
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if res.Valid || res.Status != "not_found" {
		t.Errorf("got %+v", res)
	}
}

func TestRedeem_ExpiryComputedFromClock(t *testing.T) {
	s, clock := newTestLedger(t)
	ctx := context.Background()

	it := issue(t, s, time.Hour, false)

	// No validation call happens before expiry; there is no sweep to rely
	// on. Moving the clock alone must flip the token to expired.
	clock.Advance(time.Hour)

	if _, err := s.CheckRedeemable(ctx, it.Secret, "198.51.100.2"); !errors.Is(err, common.ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	if _, err := s.CommitRedemption(ctx, it.Secret); !errors.Is(err, common.ErrExpired) {
		t.Fatalf("expected ErrExpired from CAS path, got %v", err)
	}

	res, _ := s.Validate(ctx, it.Secret)
	if res.Valid || res.Status != "expired" {
		t.Errorf("got %+v", res)
	}
}

func TestRedeem_ExactlyAtExpiryFails(t *testing.T) {
	s, clock := newTestLedger(t)
	it := issue(t, s, time.Hour, false)

	clock.Set(it.Token.ExpiresAt)
	if _, err := s.CommitRedemption(context.Background(), it.Secret); !errors.Is(err, common.ErrExpired) {
		t.Fatalf("now == expires_at must be expired, got %v", err)
	}
}

func TestRedeem_UnknownSecret(t *testing.T) {
	s, _ := newTestLedger(t)
	if _, err := s.CheckRedeemable(context.Background(), "bogus", "1.2.3.4"); !errors.Is(err, common.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedeem_IPAllowlist(t *testing.T) {
	s, _ := newTestLedger(t)
	ctx := context.Background()

	it, err := s.Issue(ctx, "artifact-1", "dev@example.com", time.Hour, "203.0.113.1", false, "owner@example.com")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	if _, err := s.CheckRedeemable(ctx, it.Secret, "198.51.100.2"); !errors.Is(err, common.ErrIPNotAllowed) {
		t.Fatalf("expected ErrIPNotAllowed, got %v", err)
	}
	if _, err := s.CheckRedeemable(ctx, it.Secret, "203.0.113.1"); err != nil {
		t.Fatalf("allow-listed ip rejected: %v", err)
	}
}

func TestRedeem_SingleUse(t *testing.T) {
	s, _ := newTestLedger(t)
	ctx := context.Background()

	it := issue(t, s, time.Hour, true)

	tok, err := s.CommitRedemption(ctx, it.Secret)
	if err != nil {
		t.Fatalf("first redeem error: %v", err)
	}
	if tok.UseCount != 1 {
		t.Errorf("use count = %d, want 1", tok.UseCount)
	}
	if tok.LastUsedAt == nil {
		t.Errorf("last used timestamp not recorded")
	}

	if _, err := s.CommitRedemption(ctx, it.Secret); !errors.Is(err, common.ErrAlreadyUsed) {
		t.Fatalf("second redeem: expected ErrAlreadyUsed, got %v", err)
	}
}

func TestRedeem_MultiUseSelfLoop(t *testing.T) {
	s, _ := newTestLedger(t)
	ctx := context.Background()

	it := issue(t, s, time.Hour, false)

	for i := 1; i <= 5; i++ {
		tok, err := s.CommitRedemption(ctx, it.Secret)
		if err != nil {
			t.Fatalf("redeem %d error: %v", i, err)
		}
		if tok.UseCount != int64(i) {
			t.Errorf("redeem %d: use count = %d", i, tok.UseCount)
		}
	}
}

func TestRedeem_SingleUse_ConcurrentExactlyOneWins(t *testing.T) {
	s, _ := newTestLedger(t)
	ctx := context.Background()

	it := issue(t, s, time.Hour, true)

	const n = 32
	var wg sync.WaitGroup
	results := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CommitRedemption(ctx, it.Secret)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, alreadyUsed int
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, common.ErrAlreadyUsed):
			alreadyUsed++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("exactly one of %d simultaneous redeemers must win, got %d", n, wins)
	}
	if alreadyUsed != n-1 {
		t.Errorf("expected %d AlreadyUsed, got %d", n-1, alreadyUsed)
	}
}

func TestRedeem_ConcurrentWithRevoke_RevocationWins(t *testing.T) {
	s, _ := newTestLedger(t)
	ctx := context.Background()

	// The redeem reads the token first, then a revoke commits, then the
	// redeem tries to commit. The CAS must observe the revocation.
	it := issue(t, s, time.Hour, false)

	if _, err := s.CheckRedeemable(ctx, it.Secret, "1.2.3.4"); err != nil {
		t.Fatalf("pre-flight error: %v", err)
	}

	if _, _, err := s.Revoke(ctx, it.Token.ID, "owner@example.com", "kill switch"); err != nil {
		t.Fatalf("Revoke error: %v", err)
	}

	if _, err := s.CommitRedemption(ctx, it.Secret); !errors.Is(err, common.ErrRevoked) {
		t.Fatalf("expected ErrRevoked after losing the race, got %v", err)
	}
}

func TestRevoke_Idempotent(t *testing.T) {
	s, clock := newTestLedger(t)
	ctx := context.Background()

	it := issue(t, s, time.Hour, false)

	tok, did, err := s.Revoke(ctx, it.Token.ID, "owner@example.com", "offboarding")
	if err != nil {
		t.Fatalf("first revoke error: %v", err)
	}
	if !did {
		t.Fatalf("first revoke must perform the transition")
	}
	firstAt := *tok.RevokedAt

	clock.Advance(time.Minute)
	tok, did, err = s.Revoke(ctx, it.Token.ID, "other@example.com", "again")
	if err != nil {
		t.Fatalf("second revoke error: %v", err)
	}
	if did {
		t.Errorf("second revoke must be a no-op")
	}
	if !tok.RevokedAt.Equal(firstAt) {
		t.Errorf("second revoke must not move revoked_at")
	}
	if tok.RevokedBy != "owner@example.com" {
		t.Errorf("original actor overwritten: %s", tok.RevokedBy)
	}
}

func TestRevoke_ExpiredTokenStillSucceeds(t *testing.T) {
	s, clock := newTestLedger(t)
	ctx := context.Background()

	it := issue(t, s, time.Hour, false)
	clock.Advance(2 * time.Hour)

	if _, _, err := s.Revoke(ctx, it.Token.ID, "owner@example.com", "late"); err != nil {
		t.Fatalf("revoking an expired token must succeed, got %v", err)
	}
}

func TestRevokeAll_SnapshotSemantics(t *testing.T) {
	s, clock := newTestLedger(t)
	ctx := context.Background()

	var before []*IssuedToken
	for i := 0; i < 3; i++ {
		before = append(before, issue(t, s, time.Hour, false))
	}
	other, err := s.Issue(ctx, "artifact-1", "someone-else@example.com", time.Hour, "", false, "owner@example.com")
	if err != nil {
		t.Fatalf("Issue error: %v", err)
	}

	n, err := s.RevokeAll(ctx, "dev@example.com", "owner@example.com", "kill switch")
	if err != nil {
		t.Fatalf("RevokeAll error: %v", err)
	}
	if n != 3 {
		t.Fatalf("revoked %d tokens, want 3", n)
	}

	for _, it := range before {
		res, _ := s.Validate(ctx, it.Secret)
		if res.Status != "revoked" {
			t.Errorf("token %s not revoked", it.Token.ID)
		}
	}

	// Another recipient is untouched.
	res, _ := s.Validate(ctx, other.Secret)
	if !res.Valid {
		t.Errorf("other recipient's token must stay valid")
	}

	// A token issued after the call is unaffected, even 1ms later.
	clock.Advance(time.Millisecond)
	after := issue(t, s, time.Hour, false)
	res, _ = s.Validate(ctx, after.Secret)
	if !res.Valid {
		t.Errorf("token issued after revoke-all must stay valid")
	}
}

func TestRevokeAll_RequiresRecipient(t *testing.T) {
	s, _ := newTestLedger(t)
	if _, err := s.RevokeAll(context.Background(), "", "o", "r"); !errors.Is(err, common.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestList_ByIssuer(t *testing.T) {
	s, clock := newTestLedger(t)
	ctx := context.Background()

	issue(t, s, time.Hour, false)
	clock.Advance(time.Second)
	issue(t, s, time.Hour, false)

	list, err := s.List(ctx, "owner@example.com")
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 tokens, got %d", len(list))
	}
	if list[0].CreatedAt.Before(list[1].CreatedAt) {
		t.Errorf("expected newest first")
	}
}
