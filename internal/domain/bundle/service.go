package bundle

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labprice/labprice/internal/domain/mapping"
	"github.com/labprice/labprice/internal/platform/apperrors"
	"github.com/labprice/labprice/internal/platform/db"
)

// MappingResolver resolves the mapping ids a deal covers.
type MappingResolver interface {
	Resolve(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*mapping.TestMapping, error)
}

type Service struct {
	repo     DealRepository
	mappings MappingResolver
	tx       db.TxRunner
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo DealRepository, mappings MappingResolver, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{repo: repo, mappings: mappings, tx: tx, logger: logger, now: time.Now}
}

// validate normalizes d in place: duplicate mapping ids are dropped and the
// remaining ids sorted.
func (s *Service) validate(d *BundleDeal) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return apperrors.Validation("bundle deal name is required")
	}

	seen := make(map[uuid.UUID]bool, len(d.MappingIDs))
	ids := make([]uuid.UUID, 0, len(d.MappingIDs))
	for _, id := range d.MappingIDs {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) < 2 {
		return apperrors.Validation("a bundle deal must cover at least two distinct test mappings")
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	d.MappingIDs = ids

	switch d.DiscountType {
	case DiscountPercentage:
		if !d.DiscountValue.IsPositive() || d.DiscountValue.GreaterThan(hundred) {
			return apperrors.Validation("percentage discount must be greater than 0 and at most 100")
		}
	case DiscountFixed:
		if !d.DiscountValue.IsPositive() {
			return apperrors.Validation("fixed discount must be greater than 0")
		}
	default:
		return apperrors.Validation(fmt.Sprintf("invalid discount type %q", d.DiscountType))
	}
	if !d.DiscountValue.Equal(d.DiscountValue.Round(2)) {
		return apperrors.Validation("discount value must have at most two decimal places")
	}

	if d.StartsAt.IsZero() {
		d.StartsAt = s.now().UTC()
	}
	if d.EndsAt != nil && !d.EndsAt.After(d.StartsAt) {
		return apperrors.Validation("ends_at must be after starts_at")
	}
	return nil
}

// CreateDeal stores a new deal. Every covered mapping must exist.
func (s *Service) CreateDeal(ctx context.Context, d *BundleDeal) error {
	if err := s.validate(d); err != nil {
		return err
	}
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.mappings.Resolve(ctx, d.MappingIDs); err != nil {
			return err
		}
		return s.repo.Create(ctx, d)
	})
	if err != nil {
		return err
	}
	s.logger.Info().Str("deal_id", d.ID.String()).Int("mappings", len(d.MappingIDs)).Msg("bundle deal created")
	return nil
}

func (s *Service) GetDeal(ctx context.Context, id uuid.UUID) (*BundleDeal, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListDeals(ctx context.Context, limit, offset int) ([]*BundleDeal, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) SetDealActive(ctx context.Context, id uuid.UUID, active bool) (*BundleDeal, error) {
	var d *BundleDeal
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		if err := s.repo.SetActive(ctx, id, active); err != nil {
			return err
		}
		var err error
		d, err = s.repo.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("deal_id", id.String()).Bool("active", active).Msg("bundle deal toggled")
	return d, nil
}

// GetActiveDeals returns the deals in effect at now, ordered by id.
func (s *Service) GetActiveDeals(ctx context.Context, now time.Time) ([]*BundleDeal, error) {
	deals, err := s.repo.ListActive(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list active deals: %w", err)
	}
	sort.Slice(deals, func(i, j int) bool { return deals[i].ID.String() < deals[j].ID.String() })
	return deals, nil
}
