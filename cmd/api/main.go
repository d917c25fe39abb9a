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

	"github.com/ariefcatur/storefront-orders/internal/auth"
	"github.com/ariefcatur/storefront-orders/internal/config"
	"github.com/ariefcatur/storefront-orders/internal/httpx"
	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/memstore"
	"github.com/ariefcatur/storefront-orders/internal/mongostore"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/payment"
	"github.com/ariefcatur/storefront-orders/internal/postgres"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := cfg.Logger()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("open store", "driver", cfg.StoreDriver, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, log)
	prod.Start(ctx)

	coord := &orders.Coordinator{
		Store:    store,
		Payments: payment.NewStripe(cfg.StripeSecretKey, cfg.StripeWebhookSecret, log),
		Events:   prod,
		Dedup:    &redisx.Dedup{Redis: rdb, Service: cfg.ServiceName, Log: log},
		Cache:    &redisx.OrderCache{Redis: rdb, Log: log},
		Log:      log,
		Service:  cfg.ServiceName,
		Currency: cfg.DefaultCurrency,
	}

	limiter := httpx.NewRateLimiter(cfg.RateRPS, cfg.RateBurst)
	go limiter.Cleanup(ctx, 5*time.Minute, 30*time.Minute)

	authn := httpx.Authenticate(auth.NewVerifier(cfg.JWTSecret), log)
	router := httpx.NewRouter(log, cfg.AllowedOrigins)
	router.Route("/api", func(r chi.Router) {
		(&httpx.OrdersHandler{Orders: coord, Log: log}).Register(r, authn)
		(&httpx.PaymentsHandler{Orders: coord, Limiter: limiter, Log: log}).Register(r, authn)
	})

	// HTTP server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("HTTP listening", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // close inbox -> flush & close writer
	prod.WaitClosed() // drain
	cancel()
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (orders.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		client, store, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureIndexes(ctx); err != nil {
			log.Warn("mongo indexes", "err", err)
		}
		return store, func() { _ = client.Disconnect(context.Background()) }, nil
	case config.DriverMemory:
		log.Warn("orders are kept in memory and lost on restart")
		return memstore.New(), func() {}, nil
	default:
		db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMax)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return &postgres.OrderStore{DB: db}, db.Close, nil
	}
}
