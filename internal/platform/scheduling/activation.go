// Package scheduling runs background jobs on cron schedules.
package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/labprice/labprice/internal/domain/catalog"
)

// DueActivator activates every price list whose validity has started.
type DueActivator interface {
	ActivateDuePriceLists(ctx context.Context, now time.Time) ([]*catalog.ActivationResult, error)
}

// Scheduler wraps a cron runner. The zero value is not usable; use New.
type Scheduler struct {
	cron   *cron.Cron
	logger zerolog.Logger
	now    func() time.Time
	// jobTimeout bounds one run of a job.
	jobTimeout time.Duration
}

func New(logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:     logger,
		now:        time.Now,
		jobTimeout: time.Minute,
	}
}

// ScheduleActivation registers the due-activation job. An empty spec
// disables it and returns false.
func (s *Scheduler) ScheduleActivation(spec string, act DueActivator) (bool, error) {
	if spec == "" {
		return false, nil
	}
	if _, err := s.cron.AddFunc(spec, func() { s.RunActivation(context.Background(), act) }); err != nil {
		return false, fmt.Errorf("schedule price list activation %q: %w", spec, err)
	}
	return true, nil
}

// RunActivation runs the activation job once. Failures are logged; the
// next tick retries.
func (s *Scheduler) RunActivation(ctx context.Context, act DueActivator) int {
	ctx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()

	results, err := act.ActivateDuePriceLists(ctx, s.now().UTC())
	if err != nil {
		s.logger.Error().Err(err).Msg("scheduled price list activation failed")
		return len(results)
	}
	if len(results) > 0 {
		stale := 0
		for _, r := range results {
			stale += len(r.StaleEntries)
		}
		s.logger.Info().Int("activated", len(results)).Int("stale_entries", stale).Msg("scheduled price list activation")
	}
	return len(results)
}

func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts scheduling and returns a context that is done when running
// jobs finish.
func (s *Scheduler) Stop() context.Context { return s.cron.Stop() }
