package comparison

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/labprice/labprice/internal/domain/bundle"
	"github.com/labprice/labprice/internal/domain/mapping"
	"github.com/labprice/labprice/internal/platform/apperrors"
	"github.com/labprice/labprice/internal/platform/db"
	"github.com/labprice/labprice/internal/platform/telemetry"
)

type MappingResolver interface {
	Resolve(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*mapping.TestMapping, error)
}

type DealSource interface {
	GetActiveDeals(ctx context.Context, now time.Time) ([]*bundle.BundleDeal, error)
}

type Service struct {
	mappings MappingResolver
	deals    DealSource
	tx       db.TxRunner
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(mappings MappingResolver, deals DealSource, tx db.TxRunner, logger zerolog.Logger) *Service {
	return &Service{mappings: mappings, deals: deals, tx: tx, logger: logger, now: time.Now}
}

func (s *Service) SetMetrics(m *telemetry.Metrics) { s.metrics = m }

// Snapshot reads the selected mappings and the deals in effect now inside
// one read-only repeatable-read transaction.
func (s *Service) Snapshot(ctx context.Context, ids []uuid.UUID) (Snapshot, error) {
	snap := Snapshot{At: s.now().UTC()}
	err := s.tx.WithSnapshot(ctx, func(ctx context.Context) error {
		var err error
		if snap.Mappings, err = s.mappings.Resolve(ctx, ids); err != nil {
			return err
		}
		snap.Deals, err = s.deals.GetActiveDeals(ctx, snap.At)
		return err
	})
	return snap, err
}

// Compare builds a snapshot and prices the selection against it.
func (s *Service) Compare(ctx context.Context, ids []uuid.UUID) (*Result, error) {
	start := time.Now()
	res, err := s.compare(ctx, ids)
	s.metrics.ObserveComparison(outcome(err), time.Since(start))
	if err != nil {
		s.logger.Warn().Err(err).Int("selected", len(ids)).Msg("comparison failed")
		return nil, err
	}
	s.logger.Debug().
		Int("selected", len(res.Items)).
		Int("laboratories", len(res.Laboratories)).
		Msg("comparison computed")
	return res, nil
}

func (s *Service) compare(ctx context.Context, ids []uuid.UUID) (*Result, error) {
	if len(ids) == 0 {
		return nil, apperrors.Validation("select at least one test")
	}
	snap, err := s.Snapshot(ctx, ids)
	if err != nil {
		return nil, err
	}
	return Compare(ids, snap)
}

func outcome(err error) string {
	if err == nil {
		return telemetry.OutcomeOK
	}
	switch apperrors.KindOf(err) {
	case apperrors.KindValidation:
		return telemetry.OutcomeValidation
	case apperrors.KindNotFound:
		return telemetry.OutcomeNotFound
	case apperrors.KindConflict:
		return telemetry.OutcomeConflict
	default:
		return telemetry.OutcomeInternal
	}
}
