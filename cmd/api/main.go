package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mercatto/commerce-core/api/routes"
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
	"github.com/mercatto/commerce-core/pkg/security"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	svcs, err := buildServices(cfg, logg, dbClient, redisClient)
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg, logg, dbClient, redisClient,
			svcs.Orders, svcs.Payments, svcs.Shipments, svcs.Promotions, svcs.Inventory,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

// services bundles the wired command surfaces the router mounts.
type services struct {
	Orders     orders.Service
	Payments   payments.Service
	Shipments  shipments.Service
	Promotions promotions.Service
	Inventory  inventory.Service
}

// buildServices wires the domain graph bottom-up. Orders carries the payment
// checker; the payment service gets orders back as its advancer.
func buildServices(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client) (*services, error) {
	gormDB := dbClient.DB()

	outboxSvc := outbox.NewService(outbox.NewRepository(gormDB), logg)
	commandMetrics := metrics.NewCommandMetrics(prometheus.DefaultRegisterer)
	webhookMetrics := metrics.NewWebhookMetrics(prometheus.DefaultRegisterer)

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

	paymentsRepo := payments.NewRepository(gormDB)
	ordersSvc, err := orders.NewService(orders.Deps{
		Repo:      orders.NewRepository(gormDB),
		Tx:        dbClient,
		Promos:    promotionsSvc,
		Stock:     inventorySvc,
		Payments:  payments.NewChecker(paymentsRepo),
		Shipments: shipmentsSvc,
		Outbox:    outboxSvc,
		Checkout:  cfg.Checkout,
		Metrics:   commandMetrics,
		Logger:    logg,
	})
	if err != nil {
		return nil, err
	}

	registry, err := payments.NewRegistry(payments.NewStripeProcessor(), payments.NewSquareProcessor())
	if err != nil {
		return nil, err
	}

	paymentDeps := payments.Deps{
		Repo:     paymentsRepo,
		Tx:       dbClient,
		Outbox:   outboxSvc,
		Orders:   ordersSvc,
		Registry: registry,
		Dedupe:   redisClient,
		Config:   cfg.Payments,
		Metrics:  commandMetrics,
		Webhooks: webhookMetrics,
		Logger:   logg,
	}

	// Without a credential key the gateway processors cannot unseal their
	// configuration; cash on delivery still works.
	if cfg.Security.CredentialKey != "" {
		sealer, err := security.NewCredentialSealer(cfg.Security)
		if err != nil {
			return nil, err
		}
		paymentDeps.Sealer = sealer
	} else {
		logg.Warn(context.Background(), "credential key not set, gateway payments disabled")
	}

	paymentsSvc, err := payments.NewService(paymentDeps)
	if err != nil {
		return nil, err
	}

	return &services{
		Orders:     ordersSvc,
		Payments:   paymentsSvc,
		Shipments:  shipmentsSvc,
		Promotions: promotionsSvc,
		Inventory:  inventorySvc,
	}, nil
}
