package api

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"subscription-api/internal/middleware"
	"subscription-api/internal/models"
	"subscription-api/internal/response"
	"subscription-api/internal/subscription"
)

const (
	historyLimit = 100
	retryTTL     = 30 * time.Second
)

// SignupRequest represents a signup request.
type SignupRequest struct {
	TenantID     string `json:"tenant_id"` // ops callers only
	Tier         string `json:"tier" binding:"required"`
	BillingCycle string `json:"billing_cycle"`
	Email        string `json:"email"`
}

// Signup creates the tenant's subscription record.
// POST /subscriptions/signup
func (h *Handler) Signup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "Invalid request format: "+err.Error())
		return
	}

	tenantID := middleware.TenantID(c)
	if middleware.IsOps(c) {
		tenantID = strings.TrimSpace(req.TenantID)
		if tenantID == "" {
			tenantID = uuid.NewString()
		}
	}
	if tenantID == "" {
		response.ErrorJSON(c, http.StatusUnauthorized, "Authentication required")
		return
	}

	tier, err := subscription.ParseTier(req.Tier)
	if err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	cycle, err := subscription.ParseCycle(req.BillingCycle)
	if err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, err.Error())
		return
	}
	email := req.Email
	if email == "" {
		email = c.GetString("email")
	}

	row, err := h.Lifecycle.Initialize(c.Request.Context(), subscription.InitializeParams{
		TenantID: tenantID,
		Email:    email,
		Tier:     tier,
		Cycle:    cycle,
	})
	if err != nil {
		status := statusFor(err)
		if status == http.StatusConflict {
			response.ErrorJSON(c, status, "Subscription already exists for this tenant")
			return
		}
		response.ErrorJSON(c, status, messageFor(err, status))
		return
	}

	response.CreatedJSON(c, "Subscription created", h.statusView(row))
}

// StatusView is the status endpoint payload.
type StatusView struct {
	TenantID           string     `json:"tenantId"`
	Tier               string     `json:"tier"`
	Status             string     `json:"status"`
	BillingCycle       string     `json:"billingCycle"`
	BillingEmail       string     `json:"billingEmail,omitempty"`
	TrialEndsAt        *time.Time `json:"trialEndsAt,omitempty"`
	GraceEndsAt        *time.Time `json:"graceEndsAt,omitempty"`
	NextBillingDate    *time.Time `json:"nextBillingDate,omitempty"`
	PaymentFailed      bool       `json:"paymentFailed"`
	FrozenReason       string     `json:"frozenReason,omitempty"`
	Provider           string     `json:"provider,omitempty"`
	TrialDaysRemaining *int       `json:"trialDaysRemaining,omitempty"`
	GraceDaysRemaining *int       `json:"graceDaysRemaining,omitempty"`
	Features           []string   `json:"features"`
}

func (h *Handler) statusView(row *models.Subscription) StatusView {
	now := h.Clock.Now()
	v := StatusView{
		TenantID:        row.TenantID,
		Tier:            row.Tier,
		Status:          row.Status,
		BillingCycle:    row.BillingCycle,
		BillingEmail:    row.BillingEmail,
		TrialEndsAt:     row.TrialEndsAt,
		GraceEndsAt:     row.GraceEndsAt,
		NextBillingDate: row.NextBillingDate,
		PaymentFailed:   row.PaymentFailed,
		FrozenReason:    row.FrozenReason,
		Provider:        row.Provider,
		Features:        []string{},
	}
	switch row.Status {
	case models.SubscriptionStatusTrial:
		v.TrialDaysRemaining = daysUntil(now, row.TrialEndsAt)
	case models.SubscriptionStatusGrace:
		v.GraceDaysRemaining = daysUntil(now, row.GraceEndsAt)
	}
	if row.Status != models.SubscriptionStatusFrozen {
		if plan, ok := subscription.PlanFor(subscription.Tier(row.Tier)); ok {
			v.Features = plan.Features
		}
	}
	return v
}

// daysUntil rounds partial days up and never goes below zero.
func daysUntil(now time.Time, deadline *time.Time) *int {
	if deadline == nil {
		return nil
	}
	days := int(math.Ceil(deadline.Sub(now).Hours() / 24))
	if days < 0 {
		days = 0
	}
	return &days
}

// GetStatus returns the caller's subscription.
// GET /subscriptions/status
func (h *Handler) GetStatus(c *gin.Context) {
	row, err := h.Lifecycle.Status(c.Request.Context(), middleware.TenantID(c))
	if err != nil {
		status := statusFor(err)
		if status == http.StatusNotFound {
			response.ErrorJSON(c, status, "No subscription found")
			return
		}
		log.Error().Err(err).Str("tenant_id", middleware.TenantID(c)).Msg("Failed to load subscription")
		response.ErrorJSON(c, status, messageFor(err, status))
		return
	}
	response.SuccessJSON(c, h.statusView(row))
}

// HistoryView is the history endpoint payload.
type HistoryView struct {
	Changes  []models.SubscriptionChangeLog `json:"changes"`
	Payments []models.PaymentHistory        `json:"payments"`
}

// GetHistory returns the caller's change log and payment history, newest first.
// GET /subscriptions/history
func (h *Handler) GetHistory(c *gin.Context) {
	ctx := c.Request.Context()
	tenantID := middleware.TenantID(c)

	changes, err := h.History.ListChangeLog(ctx, tenantID, historyLimit)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", tenantID).Msg("Failed to list change log")
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to load history")
		return
	}
	payments, err := h.History.ListPayments(ctx, tenantID, historyLimit)
	if err != nil {
		log.Error().Err(err).Str("tenant_id", tenantID).Msg("Failed to list payments")
		response.ErrorJSON(c, http.StatusInternalServerError, "Failed to load history")
		return
	}
	if len(changes) == 0 {
		if _, err := h.Lifecycle.Status(ctx, tenantID); errors.Is(err, subscription.ErrNotFound) {
			response.ErrorJSON(c, http.StatusNotFound, "No subscription found")
			return
		}
	}

	response.SuccessJSON(c, HistoryView{Changes: changes, Payments: payments})
}

// RetryPaymentRequest represents a manual retry request.
type RetryPaymentRequest struct {
	PaymentReference string `json:"paymentReference" binding:"required"`
}

// RetryPayment verifies a payment the tenant made out of band and reactivates.
// POST /subscriptions/retry-payment
func (h *Handler) RetryPayment(c *gin.Context) {
	var req RetryPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ErrorJSON(c, http.StatusBadRequest, "paymentReference is required")
		return
	}
	ctx := c.Request.Context()
	tenantID := middleware.TenantID(c)

	if h.Guard != nil {
		key := "retry:" + tenantID
		claimed, err := h.Guard.Claim(ctx, key, retryTTL)
		if err != nil {
			log.Warn().Err(err).Str("tenant_id", tenantID).Msg("Retry guard unavailable, continuing")
		} else if !claimed {
			response.ErrorJSON(c, http.StatusTooManyRequests, "A payment retry is already in progress")
			return
		} else {
			defer h.Guard.Release(context.WithoutCancel(ctx), key)
		}
	}

	out, err := h.Lifecycle.RetryPayment(ctx, tenantID, req.PaymentReference)
	if err != nil {
		status := statusFor(err)
		log.Warn().Err(err).Str("tenant_id", tenantID).Msg("Manual payment retry rejected")
		response.ErrorJSON(c, status, messageFor(err, status))
		return
	}

	row, err := h.Lifecycle.Status(ctx, tenantID)
	if err != nil {
		response.JSON(c, http.StatusOK, response.Success("Payment verified", out))
		return
	}
	response.JSON(c, http.StatusOK, response.Success("Payment verified", gin.H{
		"outcome":      out,
		"subscription": h.statusView(row),
	}))
}

// AccessGranted reports the state RequireAccess let through.
// GET /subscriptions/access[/:feature]
func (h *Handler) AccessGranted(c *gin.Context) {
	response.SuccessJSON(c, gin.H{
		"allowed": true,
		"status":  c.GetString("subscription_status"),
		"tier":    c.GetString("subscription_tier"),
	})
}
