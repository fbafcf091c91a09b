package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/labprice/labprice/internal/platform/apperrors"
	"github.com/labprice/labprice/internal/platform/db"
	"github.com/labprice/labprice/internal/platform/telemetry"
)

type Service struct {
	labs      LaboratoryRepository
	lists     PriceListRepository
	tests     TestRepository
	tx        db.TxRunner
	repointer EntryRepointer
	metrics   *telemetry.Metrics
	logger    zerolog.Logger
	now       func() time.Time
}

func NewService(labs LaboratoryRepository, lists PriceListRepository, tests TestRepository, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{labs: labs, lists: lists, tests: tests, tx: tx, logger: logger, now: time.Now}
}

// SetRepointer wires the mapping registry, which itself depends on this
// service for test lookups.
func (s *Service) SetRepointer(r EntryRepointer)   { s.repointer = r }
func (s *Service) SetMetrics(m *telemetry.Metrics) { s.metrics = m }

// -- Laboratories --

func validateLaboratory(l *Laboratory) error {
	l.Name = strings.TrimSpace(l.Name)
	if l.Name == "" {
		return apperrors.Validation("laboratory name is required")
	}
	return nil
}

func (s *Service) CreateLaboratory(ctx context.Context, l *Laboratory) error {
	if err := validateLaboratory(l); err != nil {
		return err
	}
	if err := s.labs.Create(ctx, l); err != nil {
		return fmt.Errorf("create laboratory: %w", err)
	}
	s.logger.Info().Str("laboratory_id", l.ID.String()).Msg("laboratory created")
	return nil
}

func (s *Service) GetLaboratory(ctx context.Context, id uuid.UUID) (*Laboratory, error) {
	return s.labs.GetByID(ctx, id)
}

func (s *Service) ListLaboratories(ctx context.Context, limit, offset int) ([]*Laboratory, int, error) {
	return s.labs.List(ctx, limit, offset)
}

func (s *Service) UpdateLaboratory(ctx context.Context, l *Laboratory) error {
	if err := validateLaboratory(l); err != nil {
		return err
	}
	return s.labs.Update(ctx, l)
}

// DeleteLaboratory removes a laboratory with its price lists and tests. It is
// refused while any mapping entry still points at the laboratory.
func (s *Service) DeleteLaboratory(ctx context.Context, id uuid.UUID) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		n, err := s.labs.CountMappedEntries(ctx, id)
		if err != nil {
			return fmt.Errorf("count laboratory references: %w", err)
		}
		if n > 0 {
			return apperrors.Conflict(fmt.Sprintf("laboratory is referenced by %d mapping entries", n), id.String())
		}
		return s.labs.Delete(ctx, id)
	})
}

// -- Price lists --

func (s *Service) CreatePriceList(ctx context.Context, pl *PriceList) error {
	pl.Name = strings.TrimSpace(pl.Name)
	if pl.Name == "" {
		return apperrors.Validation("price list name is required")
	}
	if pl.ValidFrom.IsZero() {
		pl.ValidFrom = s.now().UTC()
	}
	if pl.ValidUntil != nil && !pl.ValidUntil.After(pl.ValidFrom) {
		return apperrors.Validation("valid_until must be after valid_from")
	}
	if _, err := s.labs.GetByID(ctx, pl.LaboratoryID); err != nil {
		return err
	}
	// lists only become active through ActivatePriceList
	pl.IsActive = false
	if err := s.lists.Create(ctx, pl); err != nil {
		return fmt.Errorf("create price list: %w", err)
	}
	return nil
}

func (s *Service) GetPriceList(ctx context.Context, id uuid.UUID) (*PriceList, error) {
	return s.lists.GetByID(ctx, id)
}

func (s *Service) ListPriceLists(ctx context.Context, labID uuid.UUID) ([]*PriceList, error) {
	if _, err := s.labs.GetByID(ctx, labID); err != nil {
		return nil, err
	}
	return s.lists.ListByLaboratory(ctx, labID)
}

// ActivatePriceList makes id the laboratory's only active list and moves the
// laboratory's mapping entries onto it, all in one transaction. Entries with
// no counterpart in the new list stay on their old test and are reported
// stale. A list whose validity has ended cannot be activated.
func (s *Service) ActivatePriceList(ctx context.Context, id uuid.UUID) (*ActivationResult, error) {
	return s.activate(ctx, id, s.now().UTC())
}

func (s *Service) activate(ctx context.Context, id uuid.UUID, now time.Time) (*ActivationResult, error) {
	var res *ActivationResult
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		pl, err := s.lists.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if pl.ValidUntil != nil && !now.Before(*pl.ValidUntil) {
			return apperrors.Validation("price list validity has ended", pl.ID.String())
		}
		if err := s.labs.LockForUpdate(ctx, pl.LaboratoryID); err != nil {
			return err
		}
		if err := s.lists.Activate(ctx, pl.LaboratoryID, pl.ID); err != nil {
			return fmt.Errorf("swap active price list: %w", err)
		}

		res = &ActivationResult{PriceListID: pl.ID, LaboratoryID: pl.LaboratoryID, StaleEntries: []uuid.UUID{}}
		if s.repointer == nil {
			return nil
		}
		tests, err := s.tests.ListAllByPriceList(ctx, pl.ID)
		if err != nil {
			return fmt.Errorf("load price list tests: %w", err)
		}
		repointed, stale, err := s.repointer.RepointLaboratory(ctx, pl.LaboratoryID, tests)
		if err != nil {
			return fmt.Errorf("repoint mapping entries: %w", err)
		}
		res.Repointed = repointed
		if stale != nil {
			res.StaleEntries = stale
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncActivations(1)
	s.logger.Info().
		Str("price_list_id", res.PriceListID.String()).
		Str("laboratory_id", res.LaboratoryID.String()).
		Int("repointed", res.Repointed).
		Int("stale", len(res.StaleEntries)).
		Msg("price list activated")
	return res, nil
}

// ActivateDuePriceLists activates, for every laboratory, the newest list whose
// validity window has opened by now. Each activation is its own transaction;
// the first failure stops the run.
func (s *Service) ActivateDuePriceLists(ctx context.Context, now time.Time) ([]*ActivationResult, error) {
	due, err := s.lists.ListDue(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("list due price lists: %w", err)
	}
	results := make([]*ActivationResult, 0, len(due))
	for _, pl := range due {
		res, err := s.activate(ctx, pl.ID, now)
		if err != nil {
			return results, fmt.Errorf("activate price list %s: %w", pl.ID, err)
		}
		results = append(results, res)
	}
	return results, nil
}

// -- Tests --

func (s *Service) AddTest(ctx context.Context, t *Test) error {
	if err := validateTest(t); err != nil {
		return err
	}
	if _, err := s.lists.GetByID(ctx, t.PriceListID); err != nil {
		return err
	}
	if err := s.tests.Create(ctx, t); err != nil {
		return fmt.Errorf("add test: %w", err)
	}
	return nil
}

func validateTest(t *Test) error {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return apperrors.Validation("test name is required")
	}
	if t.Code != nil {
		code := strings.TrimSpace(*t.Code)
		if code == "" {
			t.Code = nil
		} else {
			t.Code = &code
		}
	}
	if t.Price.IsNegative() {
		return apperrors.Validation("test price must not be negative")
	}
	if !t.Price.Equal(t.Price.Round(2)) {
		return apperrors.Validation("test price must have at most two decimal places")
	}
	return nil
}

func (s *Service) GetTest(ctx context.Context, id uuid.UUID) (*Test, error) {
	return s.tests.GetByID(ctx, id)
}

// GetTestInfo returns a test with its laboratory and active-list flag.
func (s *Service) GetTestInfo(ctx context.Context, id uuid.UUID) (*TestInfo, error) {
	return s.tests.GetInfo(ctx, id)
}

func (s *Service) ListTests(ctx context.Context, priceListID uuid.UUID, limit, offset int) ([]*Test, int, error) {
	if _, err := s.lists.GetByID(ctx, priceListID); err != nil {
		return nil, 0, err
	}
	return s.tests.ListByPriceList(ctx, priceListID, limit, offset)
}

// DeleteTest is refused while a mapping entry references the test; callers
// must re-point or remove the entry first.
func (s *Service) DeleteTest(ctx context.Context, id uuid.UUID) error {
	return s.tx.WithTx(ctx, func(ctx context.Context) error {
		n, err := s.tests.CountMappedEntries(ctx, id)
		if err != nil {
			return fmt.Errorf("count test references: %w", err)
		}
		if n > 0 {
			return apperrors.Conflict("test is referenced by a mapping entry", id.String())
		}
		return s.tests.Delete(ctx, id)
	})
}

// NewPrice parses a money amount.
func NewPrice(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, apperrors.Validation(fmt.Sprintf("invalid price %q", s))
	}
	return d, nil
}
