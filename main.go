package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"accountgate/internal/billing"
	"accountgate/internal/config"
	"accountgate/internal/cookie"
	"accountgate/internal/db"
	"accountgate/internal/gate"
	httpapi "accountgate/internal/http"
	"accountgate/internal/httpclient"
	"accountgate/internal/identity"
	"accountgate/internal/logging"
	"accountgate/internal/refreshlock"
	"accountgate/internal/services"
	"accountgate/internal/webhook"

	"github.com/joho/godotenv"
)

func main() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			slog.Warn("load .env failed", slog.String("error", err.Error()))
		}
	} else if !os.IsNotExist(err) {
		slog.Warn("stat .env failed", slog.String("error", err.Error()))
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := logging.New(cfg.ServiceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("db connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()
	store := services.New(pool)

	deps := httpapi.Deps{Store: store}

	// redis 不可用时刷新照常进行，只是失去并发保护
	rdb, err := db.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Warn("redis unavailable, refresh lock disabled",
			slog.String("upstream", "redis"),
			slog.String("error", err.Error()),
		)
	} else {
		defer rdb.Close()
		deps.Locker = refreshlock.New(rdb, cfg.RefreshLockTTL)
	}

	identityHTTP := httpclient.New(httpclient.Config{
		Timeout:      cfg.IdentityTimeout,
		MaxRetries:   cfg.IdentityRetries,
		RetryWaitMin: 100 * time.Millisecond,
		RetryWaitMax: time.Second,
	})
	identityClient := identity.NewClient(identity.Options{
		BaseURL:    cfg.IdentityURL,
		APIKey:     cfg.IdentityAPIKey,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	}, httpclient.NewCircuitBreakerClient(identityHTTP, httpclient.DefaultCircuitBreakerConfig("identity"), logger), logger)
	if !cfg.IdentityConfigured() {
		logger.Warn("identity provider not configured, protected paths will be denied")
	}
	deps.Identity = identityClient

	names := cookie.Names{
		Access:        cfg.AccessCookie,
		Refresh:       cfg.RefreshCookie,
		LegacyAccess:  cfg.LegacyAccessCookie,
		LegacyRefresh: cfg.LegacyRefreshCookie,
	}
	deps.Codec = cookie.NewCodec(names, cfg.CookieDomain, cfg.SecureCookies())
	deps.Gate = gate.New(
		gate.DefaultPolicy(cfg.ProtectedPrefix, cfg.LoginPath),
		names,
		identityClient,
		gate.Options{
			ForceAdmitOnUnreachable: cfg.OverrideRequested(),
			IdentityConfigured:      cfg.IdentityConfigured(),
		},
		logger,
	)

	var processor billing.Processor = billing.DisabledProcessor{}
	if cfg.BillingConfigured() {
		processor = billing.NewStripeProcessor(billing.StripeOptions{
			SecretKey:  cfg.StripeSecretKey,
			BackendURL: cfg.StripeBackendURL,
			Timeout:    cfg.BillingTimeout,
		})
	} else {
		logger.Warn("billing processor not configured")
	}
	resolver := billing.NewResolver(store, processor, cfg.CustomerSourceTag, logger)
	deps.Resolver = resolver
	deps.Summaries = billing.NewAggregator(store, resolver, processor, cfg.InvoicePageSize, cfg.BillingTimeout, logger)
	deps.Portal = billing.NewPortal(resolver, processor, cfg.BillingReturnURL, cfg.BillingTimeout)

	webhookHTTP := httpclient.New(httpclient.Config{Timeout: cfg.WebhookTimeout})
	deps.Webhook = webhook.NewProxy(webhook.Options{
		BaseURL:      cfg.WebhookBaseURL,
		Secret:       cfg.WebhookSecret,
		SecretHeader: cfg.WebhookSecretHeader,
	}, webhookHTTP)

	if cfg.AppOriginURL != "" {
		app, err := httpapi.NewAppProxy(cfg.AppOriginURL, logger)
		if err != nil {
			logger.Error("invalid APP_ORIGIN_URL", slog.String("error", err.Error()))
			os.Exit(1)
		}
		deps.App = app
	}

	server := httpapi.NewServer(cfg, deps, logger)
	httpServer := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           server.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", slog.String("addr", cfg.ServerAddr), slog.String("env", cfg.Environment))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}
}
