package trust

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/contractorvault/broker/internal/common"
	"github.com/contractorvault/broker/internal/timex"
)

func newTestTrust(policy Policy) (*Service, *timex.ManualClock) {
	clock := timex.NewManualClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewService(NewMemoryRepository(), clock, policy), clock
}

func TestGate_CreatesRecordOnFirstSight(t *testing.T) {
	s, _ := newTestTrust(Policy{})
	ctx := context.Background()

	device := DeviceContext{UserAgent: "UA/1.0", Platform: "linux"}
	d, rec, err := s.Gate(ctx, "dev@example.com", "203.0.113.1", device)
	if err != nil {
		t.Fatalf("Gate error: %v", err)
	}
	if !d.Allow {
		t.Fatalf("first attempt denied: %+v", d)
	}
	if rec.ID == "" || rec.Fingerprint == "" {
		t.Errorf("record not created: %+v", rec)
	}
	if rec.UserAgent != "UA/1.0" {
		t.Errorf("user agent not captured")
	}
}

func TestGate_ScoreGrowsAcrossAttempts(t *testing.T) {
	s, clock := newTestTrust(Policy{})
	ctx := context.Background()
	device := DeviceContext{Fingerprint: "fp-1"}

	_, first, err := s.Gate(ctx, "dev@example.com", "203.0.113.1", device)
	if err != nil {
		t.Fatalf("Gate error: %v", err)
	}

	clock.Advance(time.Minute)
	_, second, err := s.Gate(ctx, "dev@example.com", "203.0.113.1", device)
	if err != nil {
		t.Fatalf("Gate error: %v", err)
	}

	if second.Score <= first.Score {
		t.Errorf("score must grow with stable fingerprint: %d then %d", first.Score, second.Score)
	}
	if second.ID != first.ID {
		t.Errorf("same fingerprint must reuse one record")
	}
	if !second.LastSeen.After(first.LastSeen) {
		t.Errorf("last seen not advanced")
	}
}

func TestGate_BlockedDeviceDenied(t *testing.T) {
	s, _ := newTestTrust(Policy{})
	ctx := context.Background()
	device := DeviceContext{Fingerprint: "fp-1"}

	_, rec, _ := s.Gate(ctx, "dev@example.com", "203.0.113.1", device)
	if _, err := s.Block(ctx, rec.ID, "owner@example.com", "lost laptop"); err != nil {
		t.Fatalf("Block error: %v", err)
	}

	d, _, err := s.Gate(ctx, "dev@example.com", "203.0.113.1", device)
	if err != nil {
		t.Fatalf("Gate error: %v", err)
	}
	if d.Allow {
		t.Fatalf("blocked device allowed")
	}
	if !errors.Is(DenialError(d), common.ErrDeviceBlocked) {
		t.Errorf("expected ErrDeviceBlocked, got %v", DenialError(d))
	}
}

func TestGate_PolicyFloorMapsToTrustTooLow(t *testing.T) {
	s, _ := newTestTrust(Policy{BlockBelowScore: 80})
	ctx := context.Background()

	d, _, err := s.Gate(ctx, "dev@example.com", "203.0.113.1", DeviceContext{Fingerprint: "fp-1"})
	if err != nil {
		t.Fatalf("Gate error: %v", err)
	}
	if d.Allow {
		t.Fatalf("new device must fall under a floor of 80")
	}
	if !errors.Is(DenialError(d), common.ErrTrustTooLow) {
		t.Errorf("expected ErrTrustTooLow, got %v", DenialError(d))
	}
}

func TestTrustBlockUnblock(t *testing.T) {
	s, _ := newTestTrust(Policy{})
	ctx := context.Background()

	_, rec, _ := s.Gate(ctx, "dev@example.com", "203.0.113.1", DeviceContext{Fingerprint: "fp-1"})

	trusted, err := s.Trust(ctx, rec.ID, "owner@example.com")
	if err != nil {
		t.Fatalf("Trust error: %v", err)
	}
	if !trusted.Trusted || trusted.Score < ScoreTrustedDevice {
		t.Errorf("trust not applied: %+v", trusted)
	}
	if trusted.TrustedBy != "owner@example.com" {
		t.Errorf("trusting actor not recorded")
	}

	blocked, err := s.Block(ctx, rec.ID, "owner@example.com", "incident")
	if err != nil {
		t.Fatalf("Block error: %v", err)
	}
	if !blocked.Blocked || blocked.Trusted || blocked.Score != ScoreMin {
		t.Errorf("block not applied: %+v", blocked)
	}
	if blocked.BlockedReason != "incident" {
		t.Errorf("block reason not recorded")
	}

	unblocked, err := s.Unblock(ctx, rec.ID, "owner@example.com")
	if err != nil {
		t.Fatalf("Unblock error: %v", err)
	}
	if unblocked.Blocked || unblocked.Score != ScoreNewDevice {
		t.Errorf("unblock must reset to the new-device baseline: %+v", unblocked)
	}

	if _, err := s.Trust(ctx, "nope", "o"); !errors.Is(err, common.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListByRecipient(t *testing.T) {
	s, clock := newTestTrust(Policy{})
	ctx := context.Background()

	s.Gate(ctx, "dev@example.com", "1.1.1.1", DeviceContext{Fingerprint: "fp-1"})
	clock.Advance(time.Minute)
	s.Gate(ctx, "dev@example.com", "1.1.1.1", DeviceContext{Fingerprint: "fp-2"})
	s.Gate(ctx, "other@example.com", "1.1.1.1", DeviceContext{Fingerprint: "fp-3"})

	list, err := s.ListByRecipient(ctx, "dev@example.com")
	if err != nil {
		t.Fatalf("ListByRecipient error: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(list))
	}
	if list[0].Fingerprint != "fp-2" {
		t.Errorf("expected most recently seen first")
	}
}
