package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/viaschema/ucp-samples/internal/capability"
	"github.com/viaschema/ucp-samples/internal/catalog"
	"github.com/viaschema/ucp-samples/internal/domain"
	"github.com/viaschema/ucp-samples/internal/handlers"
	"github.com/viaschema/ucp-samples/internal/payments"
	"github.com/viaschema/ucp-samples/internal/platform/config"
	"github.com/viaschema/ucp-samples/internal/platform/idempotency"
	"github.com/viaschema/ucp-samples/internal/platform/observability"
	"github.com/viaschema/ucp-samples/internal/repositories"
	memoryrepo "github.com/viaschema/ucp-samples/internal/repositories/memory"
	redisrepo "github.com/viaschema/ucp-samples/internal/repositories/redis"
	"github.com/viaschema/ucp-samples/internal/schema"
	"github.com/viaschema/ucp-samples/internal/services"
	"github.com/viaschema/ucp-samples/internal/session"
)

func main() {
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("ucp")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	paymentHandlers := []domain.PaymentHandler{
		{ID: "mock", Name: "Mock Card"},
	}
	providers := map[string]payments.Provider{
		"mock": payments.NewMockProvider(payments.MockProviderConfig{
			Logger: observability.EventLogger(logger.Named("payments")),
		}),
	}
	if strings.TrimSpace(cfg.Payments.StripeAPIKey) != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey: cfg.Payments.StripeAPIKey,
			Logger: observability.EventLogger(logger.Named("payments")),
		})
		if err != nil {
			logger.Fatal("failed to initialise stripe payment handler", zap.Error(err))
		}
		providers["stripe"] = stripeProvider
		paymentHandlers = append(paymentHandlers, domain.PaymentHandler{ID: "stripe", Name: "Stripe"})
	}
	paymentManager, err := payments.NewManager(providers,
		payments.WithDefaultHandler(cfg.Payments.DefaultHandler),
	)
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}

	merchantProfile := capability.Profile{
		ProtocolVersion: cfg.Protocol.Version,
		Capabilities: []capability.Capability{
			{Name: schema.CapabilityCheckout, Version: "1.0"},
			{Name: schema.CapabilityDiscount, Version: "1.0"},
			{Name: schema.CapabilityFulfillment, Version: "1.0"},
		},
	}
	for _, h := range paymentHandlers {
		merchantProfile.PaymentHandlers = append(merchantProfile.PaymentHandlers, capability.PaymentHandler{ID: h.ID, Name: h.Name})
	}

	resolver := capability.NewResolver(capability.ResolverDeps{
		Timeout:      cfg.Resolver.Timeout,
		MaxBodyBytes: cfg.Resolver.MaxBodyBytes,
		UserAgent:    cfg.Resolver.UserAgent,
		Logger:       observability.EventLogger(logger.Named("resolver")),
	})

	sessionStore := session.NewMemoryStore()
	sessionManager, err := session.NewManager(session.ManagerDeps{
		Resolver: resolver,
		Merchant: merchantProfile,
		Composer: schema.NewComposer(),
		Store:    sessionStore,
		Logger:   observability.EventLogger(logger.Named("session")),
	})
	if err != nil {
		logger.Fatal("failed to initialise session manager", zap.Error(err))
	}

	var checkoutRepo repositories.CheckoutRepository
	var redisClient *redis.Client
	switch cfg.Store.Backend {
	case "redis":
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		repo, err := redisrepo.NewCheckoutRepository(redisClient, cfg.Store.TTL)
		if err != nil {
			logger.Fatal("failed to initialise redis checkout store", zap.Error(err))
		}
		checkoutRepo = repo
	default:
		checkoutRepo = memoryrepo.NewCheckoutRepository()
	}

	pricingEngine, err := services.NewPricingEngine(services.PricingEngineDeps{
		Tax: &services.FlatRateTaxPolicy{
			RegionBps:    cfg.Tax.RegionBps,
			DefaultBps:   cfg.Tax.DefaultBps,
			NoAddressBps: cfg.Tax.NoAddressBps,
		},
		Logger: observability.EventLogger(logger.Named("pricing")),
	})
	if err != nil {
		logger.Fatal("failed to initialise pricing engine", zap.Error(err))
	}

	productCatalog := catalog.NewMemoryCatalog(catalog.Fixtures()...)

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Checkouts:       checkoutRepo,
		Catalog:         productCatalog,
		Payments:        paymentManager,
		Pricing:         pricingEngine,
		Discounts:       &services.StaticDiscountResolver{Codes: cfg.Checkout.DiscountCodes},
		PaymentHandlers: paymentHandlers,
		FulfillmentOptions: []domain.FulfillmentOption{
			{ID: "standard", Title: "Standard Shipping", Price: 500},
			{ID: "express", Title: "Express Shipping", Price: 1500},
		},
		Currency:           cfg.Checkout.Currency,
		OrderPermalinkBase: cfg.Checkout.OrderPermalinkBase,
		Logger:             observability.EventLogger(logger.Named("checkout")),
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}

	idempotencyStore := idempotency.NewMemoryStore()
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					removed, err := idempotencyStore.CleanupExpired(cleanupCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	healthOpts := []handlers.HealthOption{
		handlers.WithHealthBuildInfo(buildInfoFromEnv(startedAt)),
	}
	if redisClient != nil {
		client := redisClient
		healthOpts = append(healthOpts, handlers.WithReadinessProbe("redis", func(ctx context.Context) error {
			probeCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
			defer cancel()
			return client.Ping(probeCtx).Err()
		}))
	}

	sessionHandlers := handlers.NewSessionHandlers(sessionManager)
	productHandlers := handlers.NewProductHandlers(productCatalog)
	checkoutHandlers := handlers.NewCheckoutHandlers(checkoutService)
	profileHandlers := handlers.NewProfileHandlers(merchantProfile)

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithProfileHandler(profileHandlers.WellKnown),
		handlers.WithSessionRoutes(sessionHandlers.Routes),
		handlers.WithProductRoutes(productHandlers.Routes),
		handlers.WithCheckoutMiddlewares(handlers.RequireSession(sessionManager)),
		handlers.WithCheckoutRoutes(func(r chi.Router) {
			checkoutHandlers.Routes(r, idempotencyMiddleware)
		}),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("ucp merchant api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(os.Getenv("API_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("API_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(os.Getenv("UCP_ENVIRONMENT"))
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}
