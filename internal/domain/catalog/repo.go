package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type LaboratoryRepository interface {
	Create(ctx context.Context, lab *Laboratory) error
	GetByID(ctx context.Context, id uuid.UUID) (*Laboratory, error)
	Update(ctx context.Context, lab *Laboratory) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*Laboratory, int, error)
	// LockForUpdate serializes activations for one laboratory.
	LockForUpdate(ctx context.Context, id uuid.UUID) error
	// CountMappedEntries counts mapping entries pointing at the laboratory.
	CountMappedEntries(ctx context.Context, id uuid.UUID) (int, error)
}

type PriceListRepository interface {
	Create(ctx context.Context, pl *PriceList) error
	GetByID(ctx context.Context, id uuid.UUID) (*PriceList, error)
	ListByLaboratory(ctx context.Context, labID uuid.UUID) ([]*PriceList, error)
	// Activate deactivates every sibling of id and activates id.
	Activate(ctx context.Context, labID, id uuid.UUID) error
	// ListDue returns, per laboratory, the newest inactive list in effect at
	// now that starts after the laboratory's active list.
	ListDue(ctx context.Context, now time.Time) ([]*PriceList, error)
}

type TestRepository interface {
	Create(ctx context.Context, t *Test) error
	GetByID(ctx context.Context, id uuid.UUID) (*Test, error)
	GetInfo(ctx context.Context, id uuid.UUID) (*TestInfo, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListByPriceList(ctx context.Context, priceListID uuid.UUID, limit, offset int) ([]*Test, int, error)
	ListAllByPriceList(ctx context.Context, priceListID uuid.UUID) ([]*Test, error)
	// CountMappedEntries counts mapping entries pointing at the test.
	CountMappedEntries(ctx context.Context, id uuid.UUID) (int, error)
}

// EntryRepointer moves a laboratory's mapping entries onto the tests of its
// newly active price list. Implemented by the mapping registry.
type EntryRepointer interface {
	RepointLaboratory(ctx context.Context, labID uuid.UUID, tests []*Test) (repointed int, stale []uuid.UUID, err error)
}
