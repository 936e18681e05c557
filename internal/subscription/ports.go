package subscription

import (
	"context"
	"time"

	"subscription-api/internal/models"
)

// Ledger is the durable store of subscription records.
type Ledger interface {
	// Insert creates a record together with its first change-log entry.
	Insert(ctx context.Context, row *models.Subscription, entry *models.SubscriptionChangeLog) error
	// Get reads a record without locking it.
	Get(ctx context.Context, tenantID string) (*models.Subscription, error)
	// WithTenantLock runs fn in a transaction holding the tenant's row lock.
	// An error returned by fn rolls the transaction back.
	WithTenantLock(ctx context.Context, tenantID string, fn func(tx LedgerTx) error) error
	// TenantIDByCustomer resolves a provider customer id to a tenant.
	TenantIDByCustomer(ctx context.Context, customerID string) (string, error)
	// TenantIDBySubscription resolves a provider subscription id to a tenant.
	TenantIDBySubscription(ctx context.Context, subscriptionID string) (string, error)
}

// LedgerTx is the view of the ledger inside a locked transaction.
type LedgerTx interface {
	Row() *models.Subscription
	Save(row *models.Subscription) error
	AppendChangeLog(entry *models.SubscriptionChangeLog) error
	// AppendPayment reports false when the (reference, status) pair already exists.
	AppendPayment(entry *models.PaymentHistory) (bool, error)
}

// Provider is the outbound side of the payment processor.
type Provider interface {
	Name() string
	CreateSubscription(ctx context.Context, params CreateSubscriptionParams) (*ProviderSubscription, error)
	VerifyTransaction(ctx context.Context, reference string) (*Transaction, error)
}

// Transaction is the provider's view of a single charge.
type Transaction struct {
	Reference  string
	Success    bool
	Amount     int64
	Currency   string
	PaidAt     time.Time
	CustomerID string
}

// Change describes a committed transition, delivered to notifiers after commit.
type Change struct {
	TenantID  string
	Email     string
	Tier      Tier
	From      Status
	To        Status
	Reason    string
	Automatic bool
	At        time.Time
	GraceEnds *time.Time
}

// Notifier receives committed transitions. Implementations must not block.
type Notifier interface {
	SubscriptionChanged(ctx context.Context, change Change)
}
