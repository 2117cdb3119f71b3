package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mercatto/commerce-core/api/controllers"
	inventorycontrollers "github.com/mercatto/commerce-core/api/controllers/inventory"
	ordercontrollers "github.com/mercatto/commerce-core/api/controllers/orders"
	paymentcontrollers "github.com/mercatto/commerce-core/api/controllers/payments"
	promotioncontrollers "github.com/mercatto/commerce-core/api/controllers/promotions"
	shipmentcontrollers "github.com/mercatto/commerce-core/api/controllers/shipments"
	webhookcontrollers "github.com/mercatto/commerce-core/api/controllers/webhooks"
	"github.com/mercatto/commerce-core/api/middleware"
	"github.com/mercatto/commerce-core/internal/inventory"
	"github.com/mercatto/commerce-core/internal/orders"
	"github.com/mercatto/commerce-core/internal/payments"
	"github.com/mercatto/commerce-core/internal/promotions"
	"github.com/mercatto/commerce-core/internal/shipments"
	pkgauth "github.com/mercatto/commerce-core/pkg/auth"
	"github.com/mercatto/commerce-core/pkg/config"
	"github.com/mercatto/commerce-core/pkg/logger"
	"github.com/mercatto/commerce-core/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisClient *redis.Client,
	ordersSvc orders.Service,
	paymentsSvc payments.Service,
	shipmentsSvc shipments.Service,
	promotionsSvc promotions.Service,
	inventorySvc inventory.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	// Gateway callbacks authenticate by signature, not bearer token.
	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(paymentsSvc, logg))
		r.Post("/square", webhookcontrollers.SquareWebhook(paymentsSvc, logg))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Get("/ping", controllers.PrivatePing())

		r.Route("/v1/orders", func(r chi.Router) {
			r.Post("/", ordercontrollers.Create(ordersSvc, logg))
			r.Get("/", ordercontrollers.List(ordersSvc, logg))
			r.Route("/{orderId}", func(r chi.Router) {
				r.Get("/", ordercontrollers.Detail(ordersSvc, logg))
				r.Get("/history", ordercontrollers.History(ordersSvc, logg))
				r.Get("/payments", paymentcontrollers.ListByOrder(paymentsSvc, logg))
				r.Get("/shipments", shipmentcontrollers.ListByOrder(shipmentsSvc, logg))

				r.Post("/line-items", ordercontrollers.AddLineItem(ordersSvc, logg))
				r.Delete("/line-items", ordercontrollers.Empty(ordersSvc, logg))
				r.Patch("/line-items/{lineItemId}", ordercontrollers.SetQuantity(ordersSvc, logg))
				r.Delete("/line-items/{lineItemId}", ordercontrollers.RemoveLineItem(ordersSvc, logg))

				r.Put("/email", ordercontrollers.SetEmail(ordersSvc, logg))
				r.Put("/shipping-address", ordercontrollers.SetShippingAddress(ordersSvc, logg))
				r.Put("/shipping-method", ordercontrollers.SelectShippingMethod(ordersSvc, logg))
				r.Post("/coupon", ordercontrollers.ApplyCoupon(ordersSvc, logg))
				r.Delete("/coupon", ordercontrollers.RemoveCoupon(ordersSvc, logg))

				r.Post("/advance", ordercontrollers.Advance(ordersSvc, logg))
				r.Post("/complete", ordercontrollers.Complete(ordersSvc, logg))
				r.Post("/cancel", ordercontrollers.Cancel(ordersSvc, logg))
			})
		})

		r.Route("/v1/payments", func(r chi.Router) {
			r.Post("/", paymentcontrollers.Create(paymentsSvc, logg))
			r.Route("/{paymentId}", func(r chi.Router) {
				r.Get("/", paymentcontrollers.Detail(paymentsSvc, logg))
				r.Post("/capture", paymentcontrollers.Capture(paymentsSvc, logg))
				r.Post("/refund", paymentcontrollers.Refund(paymentsSvc, logg))
				r.Post("/void", paymentcontrollers.Void(paymentsSvc, logg))
			})
		})

		r.Route("/v1/shipments/{shipmentId}", func(r chi.Router) {
			r.Get("/", shipmentcontrollers.Detail(shipmentsSvc, logg))
			r.Get("/units", shipmentcontrollers.Units(shipmentsSvc, logg))
		})

		r.Get("/v1/inventory/{variantId}/availability", inventorycontrollers.Availability(inventorySvc, logg))
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(pkgauth.RoleAdmin, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Get("/ping", controllers.AdminPing())

		r.Route("/v1/promotions", func(r chi.Router) {
			r.Post("/", promotioncontrollers.Create(promotionsSvc, logg))
			r.Get("/", promotioncontrollers.List(promotionsSvc, logg))
			r.Get("/{promotionId}", promotioncontrollers.Detail(promotionsSvc, logg))
			r.Delete("/{promotionId}", promotioncontrollers.Deactivate(promotionsSvc, logg))
		})

		r.Route("/v1/inventory", func(r chi.Router) {
			r.Post("/adjust", inventorycontrollers.Adjust(inventorySvc, logg))
			r.Post("/receive", inventorycontrollers.Receive(inventorySvc, logg))
			r.Post("/transfer", inventorycontrollers.Transfer(inventorySvc, logg))
		})

		r.Route("/v1/shipments/{shipmentId}", func(r chi.Router) {
			r.Post("/ship", shipmentcontrollers.Ship(shipmentsSvc, logg))
			r.Post("/deliver", shipmentcontrollers.MarkDelivered(shipmentsSvc, logg))
			r.Post("/cancel", shipmentcontrollers.Cancel(shipmentsSvc, logg))
			r.Post("/receive-backordered", shipmentcontrollers.ReceiveBackordered(shipmentsSvc, logg))
		})

		r.Route("/v1/orders/{orderId}", func(r chi.Router) {
			r.Post("/return", ordercontrollers.BeginReturn(ordersSvc, logg))
			r.Post("/returned", ordercontrollers.MarkReturned(ordersSvc, logg))
			r.Post("/line-items/{lineItemId}/price", ordercontrollers.OverridePrice(ordersSvc, logg))
		})
	})

	return r
}
