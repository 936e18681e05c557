package subscription

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"subscription-api/internal/clock"
	"subscription-api/internal/metrics"
	"subscription-api/internal/models"
)

// Service is the lifecycle engine: it resolves the tenant an event belongs to,
// re-reads that tenant's record under a row lock, decides the transition and
// persists it atomically.
type Service struct {
	ledger   Ledger
	provider Provider
	clock    clock.Clock
	policy   Policy
	notifier Notifier
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithPolicy overrides the state machine policy.
func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p }
}

// WithNotifier registers a post-commit notifier.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// NewService creates a lifecycle engine.
func NewService(ledger Ledger, provider Provider, opts ...Option) *Service {
	s := &Service{
		ledger:   ledger,
		provider: provider,
		clock:    clock.SystemClock{},
		policy:   DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InitializeParams are the signup inputs.
type InitializeParams struct {
	TenantID string
	Email    string
	Tier     Tier
	Cycle    Cycle
}

// Outcome reports what Handle did.
type Outcome struct {
	TenantID   string `json:"tenant_id"`
	Event      string `json:"event"`
	From       Status `json:"from"`
	To         Status `json:"to"`
	Transition bool   `json:"transition"`
	Reason     string `json:"reason,omitempty"`
	// Duplicate is set when the event's payment was already recorded.
	Duplicate bool `json:"duplicate,omitempty"`
}

// Initialize creates the tenant's record. It fails with ErrConflict if one exists.
func (s *Service) Initialize(ctx context.Context, p InitializeParams) (*models.Subscription, error) {
	p.TenantID = strings.TrimSpace(p.TenantID)
	if p.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	if _, ok := PlanFor(p.Tier); !ok {
		return nil, fmt.Errorf("%w: unknown tier %q", ErrValidation, p.Tier)
	}
	cycle, err := ParseCycle(string(p.Cycle))
	if err != nil {
		return nil, err
	}
	p.Cycle = cycle

	now := s.clock.Now()
	rec := NewRecord(p.TenantID, strings.TrimSpace(p.Email), p.Tier, p.Cycle, now)
	if s.provider != nil {
		rec.Provider = s.provider.Name()
	}

	row := &models.Subscription{}
	rec.ToModel(row)
	entry := &models.SubscriptionChangeLog{
		TenantID:  rec.TenantID,
		ToStatus:  string(rec.State.Status()),
		ToTier:    string(rec.Tier),
		Reason:    ReasonSignup,
		Automatic: false,
		CreatedAt: now,
	}

	if err := s.withRetry(ctx, func() error { return s.ledger.Insert(ctx, row, entry) }); err != nil {
		return nil, err
	}

	metrics.TransitionsTotal.WithLabelValues("none", row.Status, ReasonSignup).Inc()
	log.Info().
		Str("tenant_id", row.TenantID).
		Str("tier", row.Tier).
		Str("status", row.Status).
		Msg("Subscription initialized")
	return row, nil
}

// Status returns the tenant's current record.
func (s *Service) Status(ctx context.Context, tenantID string) (*models.Subscription, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	return s.ledger.Get(ctx, tenantID)
}

// RetryPayment verifies a tenant-supplied payment reference with the provider
// and, if the charge succeeded, applies ManualRetrySucceeded.
func (s *Service) RetryPayment(ctx context.Context, tenantID, reference string) (*Outcome, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, fmt.Errorf("%w: payment reference is required", ErrValidation)
	}
	if !validReference.MatchString(reference) {
		return nil, fmt.Errorf("%w: malformed payment reference", ErrValidation)
	}
	row, err := s.Status(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if s.provider == nil {
		return nil, fmt.Errorf("%w: no payment provider configured", ErrProvider)
	}

	txn, err := s.provider.VerifyTransaction(context.WithoutCancel(ctx), reference)
	if err != nil {
		return nil, fmt.Errorf("%w: verify %s: %v", ErrProvider, reference, err)
	}
	if err := checkRetryPayment(row, reference, txn); err != nil {
		return nil, err
	}

	return s.Handle(ctx, ManualRetrySucceeded{
		TenantID:  row.TenantID,
		Reference: reference,
		Amount:    txn.Amount,
		Currency:  txn.Currency,
	})
}

// validReference is the character set providers issue payment references in.
var validReference = regexp.MustCompile(`^[A-Za-z0-9._=-]{1,100}$`)

// checkRetryPayment accepts a verified transaction only if it is the one asked
// for, belongs to the tenant and covers one period of the tenant's plan.
func checkRetryPayment(row *models.Subscription, reference string, txn *Transaction) error {
	if !txn.Success {
		return fmt.Errorf("%w: payment %s was not successful", ErrValidation, reference)
	}
	if txn.Reference != reference {
		return fmt.Errorf("%w: provider returned payment %q for %q", ErrValidation, txn.Reference, reference)
	}
	if row.ProviderCustomerID != "" && txn.CustomerID != row.ProviderCustomerID {
		return fmt.Errorf("%w: payment %s does not belong to this tenant", ErrValidation, reference)
	}

	plan, ok := PlanFor(Tier(row.Tier))
	if !ok {
		return fmt.Errorf("%w: tenant %s has unknown tier %q", ErrValidation, row.TenantID, row.Tier)
	}
	cycle, err := ParseCycle(row.BillingCycle)
	if err != nil {
		return err
	}
	if due := plan.Price(cycle); due > 0 {
		if !strings.EqualFold(txn.Currency, plan.Currency) {
			return fmt.Errorf("%w: payment %s is in %s, plan is billed in %s", ErrValidation, reference, txn.Currency, plan.Currency)
		}
		if txn.Amount < due {
			return fmt.Errorf("%w: payment %s of %d is below the %s %s price of %d", ErrValidation, reference, txn.Amount, plan.Name, cycle, due)
		}
	}
	return nil
}

// Handle applies one event. Concurrent events for the same tenant serialise on
// the row lock; each re-evaluates from the state the previous one committed.
func (s *Service) Handle(ctx context.Context, ev Event) (*Outcome, error) {
	tenantID, err := s.resolveTenant(ctx, ev)
	if err != nil {
		if errors.Is(err, ErrReconciliation) {
			metrics.ReconciliationFailuresTotal.WithLabelValues(ev.Name()).Inc()
			log.Warn().Err(err).Str("event", ev.Name()).Msg("Reconciliation failed, event dropped")
		}
		return nil, err
	}

	var (
		out    *Outcome
		change *Change
	)
	err = s.withRetry(ctx, func() error {
		out, change = nil, nil
		return s.ledger.WithTenantLock(ctx, tenantID, func(tx LedgerTx) error {
			var err error
			out, change, err = s.apply(ctx, tx, ev)
			return err
		})
	})
	if errors.Is(err, errDuplicateCharge) {
		log.Info().Str("tenant_id", tenantID).Str("event", ev.Name()).Msg("Payment already recorded, event is a no-op")
		return &Outcome{TenantID: tenantID, Event: ev.Name(), Duplicate: true}, nil
	}
	if err != nil {
		if errors.Is(err, ErrReconciliation) {
			metrics.ReconciliationFailuresTotal.WithLabelValues(ev.Name()).Inc()
		}
		log.Error().Err(err).Str("tenant_id", tenantID).Str("event", ev.Name()).Msg("Subscription event failed")
		return nil, err
	}

	if change != nil {
		metrics.TransitionsTotal.WithLabelValues(string(change.From), string(change.To), change.Reason).Inc()
		log.Info().
			Str("tenant_id", tenantID).
			Str("from", string(change.From)).
			Str("to", string(change.To)).
			Str("reason", change.Reason).
			Msg("Subscription transitioned")
		if s.notifier != nil {
			s.notifier.SubscriptionChanged(ctx, *change)
		}
	}
	return out, nil
}

func (s *Service) resolveTenant(ctx context.Context, ev Event) (string, error) {
	switch e := ev.(type) {
	case TrialExpired:
		return requireTenant(e.TenantID)
	case GracePeriodExpired:
		return requireTenant(e.TenantID)
	case ManualRetrySucceeded:
		return requireTenant(e.TenantID)
	case ChargeSucceeded:
		return s.byCustomer(ctx, e.CustomerID)
	case ChargeFailed:
		return s.byCustomer(ctx, e.CustomerID)
	case SubscriptionCreated:
		return s.byCustomer(ctx, e.CustomerID)
	case SubscriptionDisabledByProvider:
		if strings.TrimSpace(e.SubscriptionID) == "" {
			return "", fmt.Errorf("%w: event carries no subscription id", ErrReconciliation)
		}
		id, err := s.ledger.TenantIDBySubscription(ctx, e.SubscriptionID)
		if errors.Is(err, ErrNotFound) {
			return "", fmt.Errorf("%w: no tenant for subscription %s", ErrReconciliation, e.SubscriptionID)
		}
		return id, err
	}
	return "", fmt.Errorf("%w: unsupported event %T", ErrValidation, ev)
}

func (s *Service) byCustomer(ctx context.Context, customerID string) (string, error) {
	if strings.TrimSpace(customerID) == "" {
		return "", fmt.Errorf("%w: event carries no customer id", ErrReconciliation)
	}
	id, err := s.ledger.TenantIDByCustomer(ctx, customerID)
	if errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("%w: no tenant for customer %s", ErrReconciliation, customerID)
	}
	return id, err
}

func requireTenant(tenantID string) (string, error) {
	if strings.TrimSpace(tenantID) == "" {
		return "", fmt.Errorf("%w: tenant id is required", ErrValidation)
	}
	return tenantID, nil
}

// apply runs inside the tenant's locked transaction.
func (s *Service) apply(ctx context.Context, tx LedgerTx, ev Event) (*Outcome, *Change, error) {
	row := tx.Row()
	if err := checkCorrelation(row, ev); err != nil {
		return nil, nil, err
	}

	rec, err := FromModel(row)
	if err != nil {
		return nil, nil, err
	}
	now := s.clock.Now()
	d, err := Decide(rec, ev, now, s.policy)
	if err != nil {
		return nil, nil, err
	}

	out := &Outcome{
		TenantID:   rec.TenantID,
		Event:      ev.Name(),
		From:       rec.State.Status(),
		To:         d.Next.State.Status(),
		Transition: d.Transition,
		Reason:     d.Reason,
	}
	if d.Noop() {
		return out, nil, nil
	}

	if d.Payment != nil {
		inserted, err := tx.AppendPayment(&models.PaymentHistory{
			TenantID:          rec.TenantID,
			ProviderReference: d.Payment.Reference,
			Status:            d.Payment.Status,
			Amount:            d.Payment.Amount,
			Currency:          d.Payment.Currency,
			Tier:              string(rec.Tier),
			BillingCycle:      string(rec.Cycle),
			CreatedAt:         now,
		})
		if err != nil {
			return nil, nil, err
		}
		if !inserted {
			return nil, nil, errDuplicateCharge
		}
	}

	if d.CreateSubscription != nil {
		if s.provider == nil {
			return nil, nil, fmt.Errorf("%w: no payment provider configured", ErrProvider)
		}
		// Provider calls run to completion or timeout even if the caller goes away.
		ps, err := s.provider.CreateSubscription(context.WithoutCancel(ctx), *d.CreateSubscription)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: create subscription for %s: %v", ErrProvider, rec.TenantID, err)
		}
		d = d.WithProviderSubscription(*ps)
		d.Next.Provider = s.provider.Name()
	}

	d.Next.ToModel(row)
	if err := tx.Save(row); err != nil {
		return nil, nil, err
	}
	if !d.Transition {
		return out, nil, nil
	}

	fromStatus := string(rec.State.Status())
	fromTier := string(rec.Tier)
	if err := tx.AppendChangeLog(&models.SubscriptionChangeLog{
		TenantID:   rec.TenantID,
		FromStatus: &fromStatus,
		ToStatus:   row.Status,
		FromTier:   &fromTier,
		ToTier:     row.Tier,
		Reason:     d.Reason,
		Automatic:  isAutomatic(ev),
		CreatedAt:  now,
	}); err != nil {
		return nil, nil, err
	}

	change := &Change{
		TenantID:  rec.TenantID,
		Email:     rec.Email,
		Tier:      rec.Tier,
		From:      rec.State.Status(),
		To:        d.Next.State.Status(),
		Reason:    d.Reason,
		Automatic: isAutomatic(ev),
		At:        now,
		GraceEnds: row.GraceEndsAt,
	}
	return out, change, nil
}

// checkCorrelation re-checks, under the lock, that the correlation id used to
// find the tenant still belongs to it; ids may have rotated since the lookup.
func checkCorrelation(row *models.Subscription, ev Event) error {
	var want, have string
	switch e := ev.(type) {
	case ChargeSucceeded:
		want, have = e.CustomerID, row.ProviderCustomerID
	case ChargeFailed:
		want, have = e.CustomerID, row.ProviderCustomerID
	case SubscriptionCreated:
		want, have = e.CustomerID, row.ProviderCustomerID
	case SubscriptionDisabledByProvider:
		want, have = e.SubscriptionID, row.ProviderSubscriptionID
	default:
		return nil
	}
	if want != have {
		return fmt.Errorf("%w: correlation id %s no longer matches tenant %s", ErrReconciliation, want, row.TenantID)
	}
	return nil
}

func isAutomatic(ev Event) bool {
	_, manual := ev.(ManualRetrySucceeded)
	return !manual
}

// withRetry retries a persistence failure once at the transaction boundary.
func (s *Service) withRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || !errors.Is(err, ErrPersistence) || ctx.Err() != nil {
		return err
	}
	log.Warn().Err(err).Msg("Persistence failure, retrying transaction once")
	return fn()
}
