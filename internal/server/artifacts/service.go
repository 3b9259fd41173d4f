package artifacts

import (
	"context"
	"fmt"

	"github.com/contractorvault/broker/internal/common"
	"github.com/contractorvault/broker/internal/cryptox"
)

// Service is the artifact registry. Payloads are sealed on the way in;
// Get never returns plaintext. Only the broker, during redemption, may
// call Payload.
type Service struct {
	repo   Repository
	cipher *cryptox.Cipher
}

func NewService(repo Repository, cipher *cryptox.Cipher) *Service {
	return &Service{repo: repo, cipher: cipher}
}

func (s *Service) Create(ctx context.Context, owner, label, targetRef string, payload []byte) (*Metadata, error) {

	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", common.ErrValidation)
	}
	if owner == "" {
		return nil, fmt.Errorf("%w: owner is required", common.ErrValidation)
	}

	sealed, err := s.cipher.Seal(payload)
	if err != nil {
		return nil, fmt.Errorf("error sealing payload: %w", err)
	}

	artifact, err := s.repo.Create(ctx, &Artifact{
		Owner:         owner,
		Label:         label,
		TargetRef:     targetRef,
		SealedPayload: sealed,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating artifact: %w", err)
	}

	m := artifact.Metadata()
	return &m, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Metadata, error) {
	artifact, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	m := artifact.Metadata()
	return &m, nil
}

// Deactivate flips the active flag. Outstanding tokens are untouched:
// artifact lifecycle and token lifecycle are deliberately decoupled so an
// owner can rotate an artifact without breaking the audit trail of who had
// access to the prior version.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	return s.repo.Deactivate(ctx, id)
}

// Payload decrypts and returns the artifact's plaintext. Redemption-path
// only; every other caller goes through Get.
func (s *Service) Payload(ctx context.Context, id string) ([]byte, *Metadata, error) {
	artifact, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	plaintext, err := s.cipher.Open(artifact.SealedPayload)
	if err != nil {
		return nil, nil, err
	}

	m := artifact.Metadata()
	return plaintext, &m, nil
}
