// Package audit implements the append-only audit log. Every state
// transition in the broker produces exactly one entry; nothing in this
// package can mutate or delete a past entry.
package audit

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Action enumerates the auditable state transitions.
type Action string

const (
	ActionArtifactCreated     Action = "ARTIFACT_CREATED"
	ActionArtifactDeactivated Action = "ARTIFACT_DEACTIVATED"
	ActionGrantAccess         Action = "GRANT_ACCESS"
	ActionRedeemSuccess       Action = "REDEEM_SUCCESS"
	ActionRedeemDenied        Action = "REDEEM_DENIED"
	ActionRevokeAccess        Action = "REVOKE_ACCESS"
	ActionRevokeAll           Action = "REVOKE_ALL"
	ActionTrustDecision       Action = "TRUST_DECISION"
	ActionDeviceTrusted       Action = "DEVICE_TRUSTED"
	ActionDeviceBlocked       Action = "DEVICE_BLOCKED"
	ActionDeviceUnblocked     Action = "DEVICE_UNBLOCKED"
	ActionSecurityAlert       Action = "SECURITY_ALERT"
)

// Entry is one immutable audit record. IDs are ULIDs so entries sort
// lexicographically by creation time.
type Entry struct {
	ID        string    `json:"id"`
	Actor     string    `json:"actor"`
	Action    Action    `json:"action"`
	Target    string    `json:"target"`
	IP        string    `json:"ip,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEntry stamps an entry with a fresh ULID and the given time.
func NewEntry(now time.Time, actor string, action Action, target, ip, detail string) Entry {
	return Entry{
		ID:        ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
		Actor:     actor,
		Action:    action,
		Target:    target,
		IP:        ip,
		Detail:    detail,
		Timestamp: now,
	}
}

// Filter narrows audit queries. Zero values mean "no constraint".
type Filter struct {
	Actor  string
	Action Action
	Target string
	From   time.Time
	To     time.Time
	Limit  int
}
