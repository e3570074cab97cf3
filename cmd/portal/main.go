package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/helixlife/portal-bff-go/internal/config"
	"github.com/helixlife/portal-bff-go/internal/domain"
	"github.com/helixlife/portal-bff-go/internal/handler"
	"github.com/helixlife/portal-bff-go/internal/infra/cache"
	"github.com/helixlife/portal-bff-go/internal/infra/cartfile"
	"github.com/helixlife/portal-bff-go/internal/infra/feed"
	"github.com/helixlife/portal-bff-go/internal/infra/observability"
	"github.com/helixlife/portal-bff-go/internal/infra/resilience"
	"github.com/helixlife/portal-bff-go/internal/infra/supabase"
	"github.com/helixlife/portal-bff-go/internal/port"
	"github.com/helixlife/portal-bff-go/internal/service/aggregate"
	"github.com/helixlife/portal-bff-go/internal/service/cart"
	"github.com/helixlife/portal-bff-go/internal/service/collection"
	"github.com/helixlife/portal-bff-go/internal/service/hub"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("fetch_timeout", cfg.FetchTimeout),
		zap.Int("purchase_history_limit", cfg.PurchaseHistoryLimit),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Duration("stale_order_cutoff", cfg.StaleOrderCutoff),
	)

	if cfg.SupabaseURL == "" {
		logger.Fatal("SUPABASE_URL is required")
	}

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "helix-portal-bff")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Cache ---
	roleCache := cache.New[string](cfg.CacheTTL)

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}
	cb := resilience.NewCircuitBreaker("supabase")

	// --- Remote data gateway ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	gateway := supabase.NewClient(
		httpClient,
		cfg.SupabaseURL,
		cfg.SupabaseAnonKey,
		cfg.SupabaseServiceKey,
		cb,
		resilienceCfg,
		logger,
	)

	// --- Change feed (optional; collections fall back to refetch) ---
	var changeFeed port.ChangeFeed
	var natsFeed *feed.NATSFeed
	if cfg.NATSURL != "" {
		natsFeed, err = feed.Connect(cfg.NATSURL, cfg.FeedSubjectPrefix, logger)
		if err != nil {
			logger.Fatal("failed to connect change feed", zap.Error(err))
		}
		defer natsFeed.Close()
		changeFeed = natsFeed
		logger.Info("change feed connected", zap.String("nats_url", cfg.NATSURL))
	} else {
		logger.Warn("change feed disabled: NATS_URL not set, collections converge by refetch")
	}

	// --- Cart persistence ---
	cartStore, err := cartfile.New(cfg.CartDir)
	if err != nil {
		logger.Fatal("failed to init cart store", zap.Error(err))
	}

	// --- Services ---
	userHub := hub.New(
		gateway, gateway, roleCache,
		gateway, gateway, gateway, gateway,
		metrics, logger,
		aggregate.WithTimeout(cfg.FetchTimeout),
		aggregate.WithPurchaseLimit(cfg.PurchaseHistoryLimit),
	)
	defer userHub.Close()

	cartSvc := cart.NewService(cartStore, logger)
	checkoutSvc := cart.NewCheckout(gateway, gateway, cartSvc, metrics, logger)

	notifier := &collection.LogNotifier{Logger: logger}

	clientsCol := collection.New(collection.Config[domain.Client]{
		Table: "crm_clients",
		Fetch: gateway.ListClients,
		ID:    func(c domain.Client) string { return c.ID },
		Create: func(ctx context.Context, c domain.Client) (domain.Client, error) {
			created, err := gateway.CreateClient(ctx, &c)
			if err != nil {
				return domain.Client{}, err
			}
			return *created, nil
		},
		Update: gateway.UpdateClient,
		Delete: gateway.DeleteClient,
	}, changeFeed, notifier, metrics, logger)
	defer clientsCol.Close()

	membershipsCol := collection.New(collection.Config[domain.Membership]{
		Table: "memberships",
		Fetch: gateway.ListMemberships,
		ID:    func(m domain.Membership) string { return m.ID },
		Create: func(ctx context.Context, m domain.Membership) (domain.Membership, error) {
			created, err := gateway.CreateMembership(ctx, &m)
			if err != nil {
				return domain.Membership{}, err
			}
			return *created, nil
		},
	}, changeFeed, notifier, metrics, logger)
	defer membershipsCol.Close()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	if changeFeed != nil {
		if err := clientsCol.Subscribe(rootCtx); err != nil {
			logger.Error("clients collection subscription failed", zap.Error(err))
		}
		if err := membershipsCol.Subscribe(rootCtx); err != nil {
			logger.Error("memberships collection subscription failed", zap.Error(err))
		}
	}

	// --- Background sweeps ---
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				if _, err := checkoutSvc.ReconcileStale(rootCtx, cfg.StaleOrderCutoff); err != nil {
					logger.Error("stale order reconciliation failed", zap.Error(err))
				}
				userHub.EvictIdle(time.Hour)
			}
		}
	}()

	// --- Router ---
	router := handler.NewRouter(handler.Deps{
		Cfg:         cfg,
		Hub:         userHub,
		Carts:       cartSvc,
		Checkout:    checkoutSvc,
		Gateway:     gateway,
		CRM:         gateway,
		Objects:     gateway,
		Clients:     clientsCol,
		Memberships: membershipsCol,
		Metrics:     metrics,
		Logger:      logger,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
