// Package artifacts owns artifact records: named secrets or captured
// sessions, sealed at rest. Artifact lifecycle is independent of token
// lifecycle; deactivating an artifact never revokes outstanding tokens.
package artifacts

import "time"

// Artifact is the metadata row for a sealed payload. SealedPayload is the
// cipher-store blob; plaintext is never persisted anywhere.
type Artifact struct {
	ID            string
	Owner         string
	Label         string
	TargetRef     string
	SealedPayload []byte
	Active        bool
	CreatedAt     time.Time
}

// Metadata is the external view of an artifact. It carries no payload,
// sealed or otherwise.
type Metadata struct {
	ID        string    `json:"id"`
	Owner     string    `json:"owner"`
	Label     string    `json:"label"`
	TargetRef string    `json:"target_ref"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func (a *Artifact) Metadata() Metadata {
	return Metadata{
		ID:        a.ID,
		Owner:     a.Owner,
		Label:     a.Label,
		TargetRef: a.TargetRef,
		Active:    a.Active,
		CreatedAt: a.CreatedAt,
	}
}
