package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diagnosis/tolet/internal/http/handlers"
	"github.com/diagnosis/tolet/internal/http/middleware"
	"github.com/diagnosis/tolet/internal/notify"
	"github.com/diagnosis/tolet/internal/outbox"
	"github.com/diagnosis/tolet/internal/repo/mongodb"
	"github.com/diagnosis/tolet/internal/repo/postgres"
	"github.com/diagnosis/tolet/internal/service"
	"github.com/diagnosis/tolet/pkg/cache"
	"github.com/diagnosis/tolet/pkg/config"
	"github.com/diagnosis/tolet/pkg/database"
	"github.com/diagnosis/tolet/pkg/events"
	"github.com/diagnosis/tolet/pkg/logger"
	"github.com/diagnosis/tolet/pkg/mailer"
	"github.com/diagnosis/tolet/pkg/metrics"
	mw "github.com/diagnosis/tolet/pkg/middleware"
	"github.com/diagnosis/tolet/pkg/payments"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Failed to load .env", "error", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("API stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("API stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	mongoClient, err := database.ConnectMongo(ctx, cfg.Mongo)
	if err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := mongoClient.Disconnect(dctx); err != nil {
			logger.Error("MongoDB disconnect failed", "error", err)
		}
	}()
	store := mongodb.NewStore(mongoClient, cfg.Mongo.Database)
	if err := store.EnsureIndexes(ctx); err != nil {
		return err
	}
	logger.Info("Connected to MongoDB", "database", cfg.Mongo.Database)

	redisClient, err := cache.New(ctx, cfg.Redis)
	if err != nil {
		logger.Warn("Redis unavailable, running without cache", "error", err)
		redisClient = nil
	}
	defer redisClient.Close()

	var rateLimits *postgres.RateLimitRepoImpl
	if cfg.RateLimit.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.RateLimit.DatabaseURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		rateLimits = postgres.NewRateLimitRepo(pool)
		if err := rateLimits.EnsureSchema(ctx); err != nil {
			return err
		}
	}

	var bus *events.NATSEventBus
	if cfg.NATS.URL != "" {
		bus, err = events.NewNATSEventBus(cfg.NATS.URL)
		if err != nil {
			return err
		}
		defer bus.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	users := mongodb.NewUserRepo(store)
	outboxRepo := mongodb.NewOutboxRepo(store)
	properties := mongodb.NewPropertyRepo(store)
	bookings := mongodb.NewBookingRepo(store)

	if cfg.Server.Production && cfg.Auth.IssuerKey == "" {
		logger.Warn("JWT_ISSUER_KEY is empty, POST /jwt signs any posted email")
	}

	userService := service.NewUserService(users)
	h := handlers.New(handlers.Deps{
		Users:     userService,
		Listings:  service.NewListingService(mongodb.NewToLetRepo(store), properties, outboxRepo, redisClient, cfg.Redis.ListingTTL, m),
		Bookings:  service.NewBookingService(properties, mongodb.NewBookingRequestRepo(store), bookings, outboxRepo, m),
		Payments:  service.NewPaymentService(payments.NewStripe(cfg.Stripe.SecretKey, nil), cfg.Stripe.Currency, bookings, properties, mongodb.NewPaymentRepo(store), outboxRepo, redisClient, m),
		Ownership: service.NewOwnershipService(mongodb.NewOwnershipRepo(store), users, outboxRepo, m),

		Auth:        middleware.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.CookieName, userService),
		Idempotency: mw.Idempotency(redisClient, cfg.Redis.IdempotencyTTL),

		JWTSecret:  cfg.Auth.JWTSecret,
		SessionTTL: cfg.Auth.SessionTTL,
		CookieName: cfg.Auth.CookieName,
		IssuerKey:  cfg.Auth.IssuerKey,
		Production: cfg.Server.Production,
	})
	if rateLimits != nil {
		proxies, err := middleware.ParseTrustedProxies(cfg.RateLimit.TrustedProxies)
		if err != nil {
			return err
		}
		h.RateLimiter = middleware.NewRateLimiter(rateLimits, middleware.RateLimitConfig{
			Requests:       cfg.RateLimit.Requests,
			Window:         cfg.RateLimit.Window,
			TrustedProxies: proxies,
		}, m)
	}

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("tolet-api"))
	r.Use(mw.Logging)
	r.Use(mw.Recoverer)
	r.Use(mw.CORS(cfg.CORS.AllowedOrigins))
	r.Use(mw.Health(map[string]mw.HealthCheck{
		"mongodb": store.Ping,
		"redis":   redisClient.Health,
	}))
	r.Use(mw.Metrics(m, reg))
	h.Mount(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	var relay *outbox.Relay
	if bus != nil {
		notifier := notify.New(bus, mailer.New(cfg.Email), redisClient, m)
		if err := notifier.Start(ctx); err != nil {
			return err
		}
		relay = outbox.NewRelay(outboxRepo, bus, cfg.Outbox, m)
	} else {
		logger.Warn("NATS_URL is empty, outbox records stay undelivered")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("Starting API", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down API...")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}
	if rateLimits != nil {
		g.Go(func() error {
			cleanupRateLimits(gctx, rateLimits)
			return nil
		})
	}
	return g.Wait()
}

func cleanupRateLimits(ctx context.Context, repo postgres.RateLimitRepo) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := repo.CleanupExpired(ctx)
			if err != nil {
				logger.Warn("Rate limit cleanup failed", "error", err)
				continue
			}
			logger.Debug("Rate limit rows removed", "count", n)
		}
	}
}
