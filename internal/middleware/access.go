package middleware

import (
	"context"
	"errors"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"subscription-api/internal/models"
	"subscription-api/internal/response"
	"subscription-api/internal/subscription"
)

// StatusReader loads a tenant's current record.
type StatusReader interface {
	Status(ctx context.Context, tenantID string) (*models.Subscription, error)
}

// RequireAccess gates a route on subscription state. Frozen tenants get 402;
// tenants whose tier lacks the feature get 403. An empty feature only checks
// that the tenant is not frozen.
func RequireAccess(reader StatusReader, feature string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := TenantID(c)
		if tenantID == "" {
			response.ErrorJSON(c, http.StatusUnauthorized, "Authentication required")
			c.Abort()
			return
		}

		row, err := reader.Status(c.Request.Context(), tenantID)
		if err != nil {
			if errors.Is(err, subscription.ErrNotFound) {
				response.ErrorJSON(c, http.StatusPaymentRequired, "No subscription found")
			} else {
				log.Error().Err(err).Str("tenant_id", tenantID).Msg("Access check failed")
				response.ErrorJSON(c, http.StatusInternalServerError, "Failed to check subscription")
			}
			c.Abort()
			return
		}

		if row.Status == models.SubscriptionStatusFrozen {
			response.JSON(c, http.StatusPaymentRequired, response.Response{
				Success: false,
				Message: "Subscription is frozen, payment required",
				Data:    gin.H{"status": row.Status, "reason": row.FrozenReason},
			})
			c.Abort()
			return
		}

		if feature != "" {
			plan, _ := subscription.PlanFor(subscription.Tier(row.Tier))
			if !slices.Contains(plan.Features, feature) {
				response.JSON(c, http.StatusForbidden, response.Response{
					Success: false,
					Message: "Feature not included in current plan",
					Data:    gin.H{"feature": feature, "tier": row.Tier},
				})
				c.Abort()
				return
			}
		}

		c.Set("subscription_status", row.Status)
		c.Set("subscription_tier", row.Tier)
		c.Next()
	}
}
