package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"subscription-api/internal/clock"
	"subscription-api/internal/metrics"
	"subscription-api/internal/subscription"
)

// DefaultBatchSize caps how many tenants of each kind one pass handles.
const DefaultBatchSize = 500

// ErrSweepInProgress is returned when a pass is requested while one is running.
var ErrSweepInProgress = errors.New("sweep already in progress")

// Lister finds tenants whose deadline has passed.
type Lister interface {
	ListExpired(ctx context.Context, status subscription.Status, now time.Time, limit int) ([]string, error)
}

// Engine applies lifecycle events.
type Engine interface {
	Handle(ctx context.Context, ev subscription.Event) (*subscription.Outcome, error)
}

// SweepResult summarises one pass.
type SweepResult struct {
	TrialsProcessed int      `json:"trialsProcessed"`
	GraceProcessed  int      `json:"graceProcessed"`
	Failed          int      `json:"failed"`
	Errors          []string `json:"errors,omitempty"`
}

// Sweeper emits TrialExpired and GracePeriodExpired for overdue tenants.
type Sweeper struct {
	lister    Lister
	engine    Engine
	clock     clock.Clock
	batchSize int

	running atomic.Bool
	cron    *cron.Cron
}

// New creates a sweeper.
func New(lister Lister, engine Engine, clk clock.Clock) *Sweeper {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Sweeper{
		lister:    lister,
		engine:    engine,
		clock:     clk,
		batchSize: DefaultBatchSize,
	}
}

// RunOnce runs a single pass. A failure for one tenant is recorded and the
// pass continues with the next.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	if !s.running.CompareAndSwap(false, true) {
		return res, ErrSweepInProgress
	}
	defer s.running.Store(false)

	start := time.Now()
	now := s.clock.Now()

	trials, err := s.lister.ListExpired(ctx, subscription.StatusTrial, now, s.batchSize)
	if err != nil {
		return res, fmt.Errorf("list expired trials: %w", err)
	}
	graces, err := s.lister.ListExpired(ctx, subscription.StatusGrace, now, s.batchSize)
	if err != nil {
		return res, fmt.Errorf("list expired grace periods: %w", err)
	}

	for _, tenantID := range trials {
		if ctx.Err() != nil {
			break
		}
		if s.apply(ctx, &res, "trial", tenantID, subscription.TrialExpired{TenantID: tenantID}) {
			res.TrialsProcessed++
		}
	}
	for _, tenantID := range graces {
		if ctx.Err() != nil {
			break
		}
		if s.apply(ctx, &res, "grace", tenantID, subscription.GracePeriodExpired{TenantID: tenantID}) {
			res.GraceProcessed++
		}
	}

	log.Info().
		Int("trials_processed", res.TrialsProcessed).
		Int("grace_processed", res.GraceProcessed).
		Int("failed", res.Failed).
		Dur("duration", time.Since(start)).
		Msg("Expiry sweep finished")
	return res, ctx.Err()
}

func (s *Sweeper) apply(ctx context.Context, res *SweepResult, kind, tenantID string, ev subscription.Event) bool {
	_, err := s.engine.Handle(ctx, ev)
	metrics.SweepTenantsTotal.WithLabelValues(kind, metrics.Outcome(err)).Inc()
	if err != nil {
		res.Failed++
		res.Errors = append(res.Errors, fmt.Sprintf("%s: %v", tenantID, err))
		log.Error().Err(err).Str("tenant_id", tenantID).Str("kind", kind).Msg("Sweeper: tenant failed")
		return false
	}
	return true
}

// Start schedules passes on a cron spec such as "@hourly" or "*/15 * * * *".
func (s *Sweeper) Start(schedule string) error {
	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(schedule, func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			if errors.Is(err, ErrSweepInProgress) {
				log.Warn().Msg("Sweeper: previous pass still running, tick skipped")
				return
			}
			log.Error().Err(err).Msg("Sweeper: pass failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	s.cron = c
	c.Start()
	log.Info().Str("schedule", schedule).Msg("Expiry sweeper started")
	return nil
}

// Stop halts scheduling and waits for a running pass to finish or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
	log.Info().Msg("Expiry sweeper stopped")
}
