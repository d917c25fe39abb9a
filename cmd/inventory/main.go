package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ariefcatur/storefront-orders/internal/config"
	"github.com/ariefcatur/storefront-orders/internal/inventory"
	kafkax "github.com/ariefcatur/storefront-orders/internal/kafka"
	"github.com/ariefcatur/storefront-orders/internal/orders"
	"github.com/ariefcatur/storefront-orders/internal/postgres"
	"github.com/ariefcatur/storefront-orders/internal/redisx"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	cfg.ServiceName += "-inventory"
	log := cfg.Logger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresMax)
	if err != nil {
		log.Error("db connect", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Error("db migrate", "err", err)
		os.Exit(1)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &inventory.Service{
		Ledger: &postgres.StockRepo{DB: db},
		Dedup:  &redisx.Dedup{Redis: rdb, Service: cfg.ServiceName, Log: log},
		Log:    log,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.InventoryGroup, orders.TopicOrderPaid, cfg.InventoryWorkers, log)
	log.Info("inventory consumer started", "group", cfg.InventoryGroup, "topic", orders.TopicOrderPaid,
		"workers", cfg.InventoryWorkers)
	if err := cons.Start(ctx, svc.HandleOrderPaid); err != nil {
		log.Error("consumer exit", "err", err)
		os.Exit(1)
	}
	log.Info("inventory consumer stopped")
}
