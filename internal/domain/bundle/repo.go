package bundle

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type DealRepository interface {
	Create(ctx context.Context, d *BundleDeal) error
	GetByID(ctx context.Context, id uuid.UUID) (*BundleDeal, error)
	List(ctx context.Context, limit, offset int) ([]*BundleDeal, int, error)
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	// ListActive returns enabled deals whose window contains now, ordered by id.
	ListActive(ctx context.Context, now time.Time) ([]*BundleDeal, error)
}
