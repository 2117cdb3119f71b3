package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mercatto/commerce-core/internal/cron"
	"github.com/mercatto/commerce-core/internal/inventory"
	"github.com/mercatto/commerce-core/internal/orders"
	"github.com/mercatto/commerce-core/internal/payments"
	"github.com/mercatto/commerce-core/internal/promotions"
	"github.com/mercatto/commerce-core/internal/shipments"
	"github.com/mercatto/commerce-core/pkg/config"
	"github.com/mercatto/commerce-core/pkg/db"
	"github.com/mercatto/commerce-core/pkg/logger"
	"github.com/mercatto/commerce-core/pkg/metrics"
	"github.com/mercatto/commerce-core/pkg/migrate"
	"github.com/mercatto/commerce-core/pkg/outbox"
	"github.com/mercatto/commerce-core/pkg/redis"
)

const lockKeyFormat = "commerce:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	ordersSvc, err := buildOrderService(cfg, logg, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to wire order service", err)
		os.Exit(1)
	}

	cartExpiryJob, err := cron.NewCartExpiryJob(cron.CartExpiryJobParams{
		Logger: logg,
		Orders: ordersSvc,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cart expiry job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(cartExpiryJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

// buildOrderService wires the slice of the domain the cart expiry sweep
// drives. Expiry releases stock, strips promotions and cancels shipments, so
// the full order graph comes along.
func buildOrderService(cfg *config.Config, logg *logger.Logger, dbClient *db.Client) (orders.Service, error) {
	gormDB := dbClient.DB()

	outboxSvc := outbox.NewService(outbox.NewRepository(gormDB), logg)

	promotionsSvc, err := promotions.NewService(promotions.NewRepository(gormDB), dbClient, logg)
	if err != nil {
		return nil, err
	}

	inventoryRepo := inventory.NewRepository(gormDB)
	inventorySvc, err := inventory.NewService(inventoryRepo, dbClient, outboxSvc, logg)
	if err != nil {
		return nil, err
	}

	shipmentsSvc, err := shipments.NewService(shipments.Deps{
		Repo:   shipments.NewRepository(gormDB),
		Mover:  inventorySvc,
		Tx:     dbClient,
		Outbox: outboxSvc,
		Logger: logg,
	})
	if err != nil {
		return nil, err
	}

	return orders.NewService(orders.Deps{
		Repo:      orders.NewRepository(gormDB),
		Tx:        dbClient,
		Promos:    promotionsSvc,
		Stock:     inventorySvc,
		Payments:  payments.NewChecker(payments.NewRepository(gormDB)),
		Shipments: shipmentsSvc,
		Outbox:    outboxSvc,
		Checkout:  cfg.Checkout,
		Metrics:   metrics.NewCommandMetrics(prometheus.DefaultRegisterer),
		Logger:    logg,
	})
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
