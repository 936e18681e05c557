package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"subscription-api/internal/clock"
	"subscription-api/internal/middleware"
	"subscription-api/internal/models"
	"subscription-api/internal/services"
	"subscription-api/internal/subscription"
	"subscription-api/internal/sweeper"
	"subscription-api/internal/webhook"
)

// Lifecycle is the engine surface the handlers call.
type Lifecycle interface {
	Initialize(ctx context.Context, p subscription.InitializeParams) (*models.Subscription, error)
	Status(ctx context.Context, tenantID string) (*models.Subscription, error)
	RetryPayment(ctx context.Context, tenantID, reference string) (*subscription.Outcome, error)
}

// HistoryReader reads the audit tables.
type HistoryReader interface {
	ListChangeLog(ctx context.Context, tenantID string, limit int) ([]models.SubscriptionChangeLog, error)
	ListPayments(ctx context.Context, tenantID string, limit int) ([]models.PaymentHistory, error)
}

// WebhookDispatcher routes verified provider deliveries.
type WebhookDispatcher interface {
	Dispatch(ctx context.Context, provider string, body []byte, header http.Header) webhook.Result
}

// ExpirySweeper runs one expiry pass.
type ExpirySweeper interface {
	RunOnce(ctx context.Context) (sweeper.SweepResult, error)
}

// Deps are the components the routes are wired to.
type Deps struct {
	Lifecycle  Lifecycle
	History    HistoryReader
	Dispatcher WebhookDispatcher
	Sweeper    ExpirySweeper
	Auth       *middleware.Auth
	// Guard throttles manual payment retries; optional.
	Guard services.EventGuard
	Clock clock.Clock
}

var entitlementFeatures = []string{
	subscription.FeatureReports,
	subscription.FeatureESGAnalytics,
	subscription.FeatureAPIAccess,
	subscription.FeatureGovernmentPortal,
	subscription.FeaturePrioritySupport,
}

// Handler holds the wired dependencies for all routes.
type Handler struct {
	Deps
}

// SetupRoutes registers every route on r.
func SetupRoutes(r *gin.Engine, deps Deps) *Handler {
	if deps.Clock == nil {
		deps.Clock = clock.SystemClock{}
	}
	h := &Handler{Deps: deps}

	r.Use(middleware.RequestIDMiddleware())

	subs := r.Group("/subscriptions")
	{
		// Provider callbacks authenticate by payload signature.
		subs.POST("/webhooks/:provider", h.ProviderWebhook)

		subs.POST("/signup", deps.Auth.TenantOrOpsMiddleware(), h.Signup)

		tenant := subs.Group("")
		tenant.Use(deps.Auth.TenantAuthMiddleware())
		{
			tenant.GET("/status", h.GetStatus)
			tenant.GET("/history", h.GetHistory)
			tenant.POST("/retry-payment", h.RetryPayment)

			// Entitlement checks for other platform services.
			tenant.GET("/access", middleware.RequireAccess(deps.Lifecycle, ""), h.AccessGranted)
			for _, feature := range entitlementFeatures {
				tenant.GET("/access/"+feature, middleware.RequireAccess(deps.Lifecycle, feature), h.AccessGranted)
			}
		}

		ops := subs.Group("/cron")
		ops.Use(deps.Auth.OpsAuthMiddleware())
		{
			ops.POST("/check-expirations", h.CheckExpirations)
		}
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": "subscription-service",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return h
}
