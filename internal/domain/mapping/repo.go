package mapping

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type MappingRepository interface {
	Create(ctx context.Context, m *TestMapping) error
	GetByID(ctx context.Context, id uuid.UUID) (*TestMapping, error)
	// GetMany loads the mappings that exist among ids; missing ids are skipped.
	GetMany(ctx context.Context, ids []uuid.UUID) ([]*TestMapping, error)
	// FindByNormalizedName returns nil, nil when no mapping uses the name.
	FindByNormalizedName(ctx context.Context, normalized string) (*TestMapping, error)
	Rename(ctx context.Context, m *TestMapping) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, limit, offset int) ([]*TestMapping, int, error)
	Search(ctx context.Context, normalizedQuery string, limit, offset int) ([]*TestMapping, int, error)
	CountDealReferences(ctx context.Context, id uuid.UUID) (int, error)

	AddEntry(ctx context.Context, e *Entry) error
	GetEntry(ctx context.Context, mappingID, entryID uuid.UUID) (*Entry, error)
	UpdateEntryTest(ctx context.Context, entryID, testID uuid.UUID, price decimal.Decimal) error
	DeleteEntry(ctx context.Context, mappingID, entryID uuid.UUID) error
	ListEntriesByLaboratory(ctx context.Context, labID uuid.UUID) ([]*Entry, error)
}
