package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"subscription-api/internal/models"
	"subscription-api/internal/subscription"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the gorm-backed subscription ledger.
type Store struct {
	db *gorm.DB
}

var _ subscription.Ledger = (*Store)(nil)

// NewStore wraps an open database handle.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Insert 创建订阅及首条变更日志
func (s *Store) Insert(ctx context.Context, row *models.Subscription, entry *models.SubscriptionChangeLog) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Subscription{}).Where("tenant_id = ?", row.TenantID).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: tenant %s already has a subscription", subscription.ErrConflict, row.TenantID)
		}
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		return tx.Create(entry).Error
	})
	return classify(err)
}

// Get 获取租户订阅
func (s *Store) Get(ctx context.Context, tenantID string) (*models.Subscription, error) {
	var row models.Subscription
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&row).Error; err != nil {
		return nil, classify(err)
	}
	return &row, nil
}

// TenantIDByCustomer resolves a provider customer id.
func (s *Store) TenantIDByCustomer(ctx context.Context, customerID string) (string, error) {
	return s.tenantIDBy(ctx, "provider_customer_id", customerID)
}

// TenantIDBySubscription resolves a provider subscription id.
func (s *Store) TenantIDBySubscription(ctx context.Context, subscriptionID string) (string, error) {
	return s.tenantIDBy(ctx, "provider_subscription_id", subscriptionID)
}

func (s *Store) tenantIDBy(ctx context.Context, column, value string) (string, error) {
	var row models.Subscription
	err := s.db.WithContext(ctx).
		Select("tenant_id").
		Where(column+" = ?", value).
		First(&row).Error
	if err != nil {
		return "", classify(err)
	}
	return row.TenantID, nil
}

// WithTenantLock 使用 SELECT ... FOR UPDATE 锁定租户行，在同一事务中执行 fn
func (s *Store) WithTenantLock(ctx context.Context, tenantID string, fn func(tx subscription.LedgerTx) error) error {
	var fnErr error
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row models.Subscription
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("tenant_id = ?", tenantID).
			First(&row).Error; err != nil {
			return classify(err)
		}
		fnErr = fn(&lockedTx{tx: tx, row: &row})
		return fnErr
	})
	if fnErr != nil {
		return fnErr
	}
	return classify(err)
}

// lockedTx is the ledger view inside WithTenantLock.
type lockedTx struct {
	tx  *gorm.DB
	row *models.Subscription
}

func (t *lockedTx) Row() *models.Subscription {
	return t.row
}

func (t *lockedTx) Save(row *models.Subscription) error {
	return classify(t.tx.Save(row).Error)
}

func (t *lockedTx) AppendChangeLog(entry *models.SubscriptionChangeLog) error {
	return classify(t.tx.Create(entry).Error)
}

func (t *lockedTx) AppendPayment(entry *models.PaymentHistory) (bool, error) {
	res := t.tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider_reference"},
			{Name: "status"},
		},
		DoNothing: true,
	}).Create(entry)
	if res.Error != nil {
		return false, classify(res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListExpired returns tenants in status whose deadline passed before now,
// oldest deadline first.
func (s *Store) ListExpired(ctx context.Context, status subscription.Status, now time.Time, limit int) ([]string, error) {
	var column string
	switch status {
	case subscription.StatusTrial:
		column = "trial_ends_at"
	case subscription.StatusGrace:
		column = "grace_ends_at"
	default:
		return nil, fmt.Errorf("%w: no deadline for status %q", subscription.ErrValidation, status)
	}

	q := s.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("status = ? AND "+column+" IS NOT NULL AND "+column+" < ?", string(status), now).
		Order(column + " ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var ids []string
	if err := q.Pluck("tenant_id", &ids).Error; err != nil {
		return nil, classify(err)
	}
	return ids, nil
}

// ListChangeLog 获取租户状态变更历史（最新在前）
func (s *Store) ListChangeLog(ctx context.Context, tenantID string, limit int) ([]models.SubscriptionChangeLog, error) {
	var entries []models.SubscriptionChangeLog
	q := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&entries).Error; err != nil {
		return nil, classify(err)
	}
	return entries, nil
}

// ListPayments 获取租户支付记录（最新在前）
func (s *Store) ListPayments(ctx context.Context, tenantID string, limit int) ([]models.PaymentHistory, error) {
	var payments []models.PaymentHistory
	q := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&payments).Error; err != nil {
		return nil, classify(err)
	}
	return payments, nil
}

// Postgres SQLSTATEs worth one retry at the transaction boundary.
var retryableCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
}

// classify maps driver errors onto the lifecycle error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{
		subscription.ErrNotFound,
		subscription.ErrConflict,
		subscription.ErrValidation,
		subscription.ErrPersistence,
	} {
		if errors.Is(err, known) {
			return err
		}
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", subscription.ErrNotFound, err)
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", subscription.ErrConflict, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" {
			return fmt.Errorf("%w: %s", subscription.ErrConflict, pgErr.Message)
		}
		if retryableCodes[pgErr.Code] {
			return fmt.Errorf("%w: %s (%s)", subscription.ErrPersistence, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("%w: %v", subscription.ErrPersistence, err)
}
