package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"subscription-api/internal/api"
	"subscription-api/internal/config"
	"subscription-api/internal/database"
	"subscription-api/internal/middleware"
	"subscription-api/internal/services"
	"subscription-api/internal/subscription"
	"subscription-api/internal/sweeper"
	"subscription-api/internal/webhook"
	"subscription-api/pkg/logging"
)

// Version information (set at build time with -ldflags)
var (
	Version = "dev"
)

var rootCmd = &cobra.Command{
	Use:     "subscription-api",
	Short:   "Subscription lifecycle service",
	Long:    `Tracks tenant subscriptions through trial, active, grace and frozen, reconciling payment provider webhooks`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the expiry sweeper",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one expiry sweep pass and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSweep()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the ledger tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMigrate()
	},
}

var tokenTTL time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token <tenant-id>",
	Short: "Issue a tenant JWT for local testing",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.JWTSecret == "" {
			return errors.New("JWT_SECRET is not set")
		}
		tok, err := middleware.IssueToken(cfg.JWTSecret, args[0], tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	rootCmd.AddCommand(serveCmd, sweepCmd, migrateCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app is the wired service graph shared by the commands.
type app struct {
	cfg      *config.Config
	db       *gorm.DB
	rdb      *redis.Client
	store    *database.Store
	service  *subscription.Service
	guard    services.EventGuard
	notifier *services.LifecycleNotifier
	sweeper  *sweeper.Sweeper
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Component: "subscription-api"})

	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.AutoMigrate(db); err != nil {
		database.Close(db, nil)
		return nil, fmt.Errorf("migrate: %w", err)
	}

	rdb, err := database.OpenRedis(ctx, cfg.RedisURL)
	if err != nil {
		// The guard falls back to memory; the row lock still serialises events.
		log.Warn().Err(err).Msg("Redis unavailable, using in-memory event guard")
		rdb = nil
	}

	provider, err := newProvider(cfg)
	if err != nil {
		database.Close(db, rdb)
		return nil, err
	}

	var mailer *services.BrevoService
	if cfg.BrevoAPIKey != "" && cfg.BrevoFromEmail != "" {
		mailer = services.NewBrevoService(cfg.BrevoAPIKey, cfg.BrevoFromEmail, cfg.BrevoFromName, "")
	}
	var callback *services.WebhookNotifier
	if cfg.StatusWebhookURL != "" {
		callback = services.NewWebhookNotifier(cfg.StatusWebhookURL, cfg.StatusWebhookSecret)
	}
	notifier := services.NewLifecycleNotifier(mailer, callback)

	store := database.NewStore(db)
	policy := subscription.DefaultPolicy()
	policy.GracePeriod = time.Duration(cfg.GracePeriodDays) * 24 * time.Hour

	svc := subscription.NewService(store, provider,
		subscription.WithPolicy(policy),
		subscription.WithNotifier(notifier),
	)

	return &app{
		cfg:      cfg,
		db:       db,
		rdb:      rdb,
		store:    store,
		service:  svc,
		guard:    services.NewEventGuard(rdb),
		notifier: notifier,
		sweeper:  sweeper.New(store, svc, nil),
	}, nil
}

func newProvider(cfg *config.Config) (subscription.Provider, error) {
	switch cfg.PaymentProvider {
	case "stripe":
		if cfg.StripeSecretKey == "" {
			return nil, errors.New("STRIPE_SECRET_KEY is required when PAYMENT_PROVIDER=stripe")
		}
		return services.NewStripeProvider(cfg.StripeSecretKey, cfg.StripePriceIDs, cfg.ProviderTimeout), nil
	default:
		if cfg.PaystackSecretKey == "" {
			return nil, errors.New("PAYSTACK_SECRET_KEY is required when PAYMENT_PROVIDER=paystack")
		}
		return services.NewPaystackProvider(cfg.PaystackSecretKey, cfg.PaystackBaseURL, cfg.PaystackPlanCodes, cfg.ProviderTimeout), nil
	}
}

func (a *app) close() {
	a.notifier.Wait()
	if g, ok := a.guard.(*services.MemoryEventGuard); ok {
		g.Stop()
	}
	database.Close(a.db, a.rdb)
}

func (a *app) sources() []webhook.Source {
	var out []webhook.Source
	if a.cfg.PaystackSecretKey != "" {
		out = append(out, webhook.NewPaystackSource(a.cfg.PaystackSecretKey))
	}
	if a.cfg.StripeWebhookSecret != "" {
		out = append(out, webhook.NewStripeSource(a.cfg.StripeWebhookSecret))
	}
	return out
}

func runServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.JWTSecret == "" {
		log.Warn().Msg("JWT_SECRET is not set; tenant routes will reject every request")
	}
	if a.cfg.OpsAPIKey == "" {
		log.Warn().Msg("OPS_API_KEY is not set; ops routes are disabled")
	}

	gin.SetMode(a.cfg.Mode)
	r := gin.New()
	r.Use(gin.Recovery())
	api.SetupRoutes(r, api.Deps{
		Lifecycle:  a.service,
		History:    a.store,
		Dispatcher: webhook.NewDispatcher(a.store, a.service, a.guard, a.sources()...),
		Sweeper:    a.sweeper,
		Auth:       middleware.NewAuth(a.cfg.JWTSecret, a.cfg.OpsAPIKey),
		Guard:      a.guard,
	})

	if err := a.sweeper.Start(a.cfg.SweepSchedule); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + a.cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Infof("Starting server on port %s", a.cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.sweeper.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}
	return nil
}

func runSweep() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.sweeper.RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("trials processed: %d, grace processed: %d, failed: %d\n",
		res.TrialsProcessed, res.GraceProcessed, res.Failed)
	if res.Failed > 0 {
		return fmt.Errorf("%d tenants failed", res.Failed)
	}
	return nil
}

func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Component: "migrate"})

	db, err := database.Open(cfg)
	if err != nil {
		return err
	}
	defer database.Close(db, nil)
	if err := database.AutoMigrate(db); err != nil {
		return err
	}
	logging.Infof("Migration complete")
	return nil
}
