package sweeper_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"subscription-api/internal/clock"
	"subscription-api/internal/database"
	"subscription-api/internal/subscription"
	"subscription-api/internal/sweeper"
)

type flakyProvider struct {
	mu   sync.Mutex
	fail map[string]bool
}

func (p *flakyProvider) Name() string { return "paystack" }

func (p *flakyProvider) CreateSubscription(_ context.Context, params subscription.CreateSubscriptionParams) (*subscription.ProviderSubscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail[params.TenantID] {
		return nil, errors.New("provider unavailable")
	}
	return &subscription.ProviderSubscription{CustomerID: "CUS_" + params.TenantID, SubscriptionID: "SUB_" + params.TenantID}, nil
}

func (p *flakyProvider) VerifyTransaction(context.Context, string) (*subscription.Transaction, error) {
	return nil, errors.New("not used")
}

type env struct {
	store *database.Store
	svc   *subscription.Service
	clock *clock.Fixed
	sw    *sweeper.Sweeper
	prov  *flakyProvider
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db, err := database.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() { database.Close(db, nil) })

	e := &env{
		store: database.NewStore(db),
		clock: &clock.Fixed{T: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)},
		prov:  &flakyProvider{fail: map[string]bool{}},
	}
	e.svc = subscription.NewService(e.store, e.prov, subscription.WithClock(e.clock))
	e.sw = sweeper.New(e.store, e.svc, e.clock)
	return e
}

func (e *env) signup(t *testing.T, tenantID string, tier subscription.Tier) {
	t.Helper()
	_, err := e.svc.Initialize(context.Background(), subscription.InitializeParams{TenantID: tenantID, Tier: tier})
	require.NoError(t, err)
}

func (e *env) status(t *testing.T, tenantID string) string {
	t.Helper()
	row, err := e.store.Get(context.Background(), tenantID)
	require.NoError(t, err)
	return row.Status
}

func TestRunOnceExpiresTrialsAndGrace(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	e.signup(t, "scale-co", subscription.TierScale)     // 14 day trial
	e.signup(t, "startup-co", subscription.TierStartup) // 30 day trial
	e.signup(t, "free-co", subscription.TierFounder)    // active forever

	e.clock.Advance(15 * 24 * time.Hour)
	res, err := e.sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.TrialsProcessed)
	assert.Equal(t, 0, res.GraceProcessed)
	assert.Equal(t, "grace", e.status(t, "scale-co"))
	assert.Equal(t, "trial", e.status(t, "startup-co"))
	assert.Equal(t, "active", e.status(t, "free-co"))

	e.clock.Advance(8 * 24 * time.Hour)
	res, err = e.sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.GraceProcessed)
	assert.Equal(t, "frozen", e.status(t, "scale-co"))

	row, err := e.store.Get(ctx, "scale-co")
	require.NoError(t, err)
	assert.True(t, row.PaymentFailed)
	assert.Equal(t, subscription.ReasonGraceExpired, row.FrozenReason)
}

func TestRunOnceIsolatesTenantFailures(t *testing.T) {
	e := newEnv(t)
	for _, id := range []string{"a", "b", "c"} {
		e.signup(t, id, subscription.TierStartup)
	}
	e.prov.fail["b"] = true

	e.clock.Advance(31 * 24 * time.Hour)
	res, err := e.sw.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, res.TrialsProcessed)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "b:")
	assert.Equal(t, "grace", e.status(t, "a"))
	assert.Equal(t, "trial", e.status(t, "b"))
	assert.Equal(t, "grace", e.status(t, "c"))

	// The next pass picks the failed tenant up again.
	delete(e.prov.fail, "b")
	res, err = e.sw.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.TrialsProcessed)
	assert.Equal(t, "grace", e.status(t, "b"))
}

func TestRunOnceNothingDue(t *testing.T) {
	e := newEnv(t)
	e.signup(t, "a", subscription.TierGrowth)

	res, err := e.sw.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, sweeper.SweepResult{}, res)
}

type blockingLister struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingLister) ListExpired(context.Context, subscription.Status, time.Time, int) ([]string, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	return nil, nil
}

func TestRunOnceSkipsOverlappingPass(t *testing.T) {
	bl := &blockingLister{entered: make(chan struct{}, 1), release: make(chan struct{})}
	sw := sweeper.New(bl, nil, nil)

	done := make(chan error, 1)
	go func() {
		_, err := sw.RunOnce(context.Background())
		done <- err
	}()
	<-bl.entered

	_, err := sw.RunOnce(context.Background())
	assert.ErrorIs(t, err, sweeper.ErrSweepInProgress)

	close(bl.release)
	assert.NoError(t, <-done)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	sw := sweeper.New(&blockingLister{}, nil, nil)
	assert.Error(t, sw.Start("every tuesday"))
}
