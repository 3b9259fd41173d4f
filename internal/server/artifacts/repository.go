package artifacts

import "context"

type Repository interface {
	Create(ctx context.Context, artifact *Artifact) (*Artifact, error)
	Get(ctx context.Context, id string) (*Artifact, error)
	Deactivate(ctx context.Context, id string) error
}
