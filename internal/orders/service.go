package orders

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/mercatto/commerce-core/internal/inventory"
	"github.com/mercatto/commerce-core/pkg/config"
	dbpkg "github.com/mercatto/commerce-core/pkg/db"
	"github.com/mercatto/commerce-core/pkg/db/models"
	"github.com/mercatto/commerce-core/pkg/enums"
	pkgerrors "github.com/mercatto/commerce-core/pkg/errors"
	"github.com/mercatto/commerce-core/pkg/logger"
	"github.com/mercatto/commerce-core/pkg/metrics"
	"github.com/mercatto/commerce-core/pkg/outbox"
	"github.com/mercatto/commerce-core/pkg/outbox/payloads"
	"github.com/mercatto/commerce-core/pkg/types"
)

// CreateInput starts a new cart. Either UserID or AdhocCustomerID must be set.
type CreateInput struct {
	UserID          *uuid.UUID
	AdhocCustomerID *string
	Currency        enums.Currency
	Email           *string
}

// Service is the checkout command surface. Every mutating command runs in one
// transaction and recomputes totals before committing.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Order, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	GetByNumber(ctx context.Context, number string) (*models.Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Order, error)
	Lines(ctx context.Context, orderID uuid.UUID) ([]models.LineItem, error)
	Adjustments(ctx context.Context, orderID uuid.UUID) ([]models.Adjustment, error)
	History(ctx context.Context, orderID uuid.UUID) ([]models.OrderHistory, error)

	AddLineItem(ctx context.Context, orderID, variantID uuid.UUID, qty int, actor outbox.ActorRef) (*models.Order, error)
	SetQuantity(ctx context.Context, orderID, lineItemID uuid.UUID, qty int, actor outbox.ActorRef) (*models.Order, error)
	RemoveLineItem(ctx context.Context, orderID, lineItemID uuid.UUID, actor outbox.ActorRef) (*models.Order, error)
	Empty(ctx context.Context, orderID uuid.UUID, actor outbox.ActorRef) (*models.Order, error)
	OverridePrice(ctx context.Context, orderID, lineItemID uuid.UUID, unitPriceCents int64, actor outbox.ActorRef) (*models.Order, error)

	Associate(ctx context.Context, orderID, userID uuid.UUID, actor outbox.ActorRef) (*models.Order, error)
	SetEmail(ctx context.Context, orderID uuid.UUID, email string, actor outbox.ActorRef) (*models.Order, error)
	SetShippingAddress(ctx context.Context, orderID uuid.UUID, address types.Address, actor outbox.ActorRef) (*models.Order, error)
	SelectShippingMethod(ctx context.Context, orderID uuid.UUID, method enums.ShippingMethod, actor outbox.ActorRef) (*models.Order, error)
	ApplyCoupon(ctx context.Context, orderID uuid.UUID, code string, actor outbox.ActorRef) (*models.Order, error)
	RemoveCoupon(ctx context.Context, orderID uuid.UUID, actor outbox.ActorRef) (*models.Order, error)

	Advance(ctx context.Context, orderID uuid.UUID, actor outbox.ActorRef) (*models.Order, error)
	Complete(ctx context.Context, orderID uuid.UUID, actor outbox.ActorRef) (*models.Order, error)
	Cancel(ctx context.Context, orderID uuid.UUID, reason string, actor outbox.ActorRef) (*models.Order, error)
	BeginReturn(ctx context.Context, orderID uuid.UUID, actor outbox.ActorRef) (*models.Order, error)
	MarkReturned(ctx context.Context, orderID uuid.UUID, actor outbox.ActorRef) (*models.Order, error)

	// AdvanceTx re-enters the state machine inside an existing transaction.
	// The payment reconciler uses it after a webhook marks an order paid.
	AdvanceTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actor outbox.ActorRef) error

	// ExpireStaleCarts cancels cart orders idle past the configured TTL.
	ExpireStaleCarts(ctx context.Context, limit int) (int, error)
}

// Deps carries the collaborators the order service needs.
type Deps struct {
	Repo      Repository
	Tx        txRunner
	Promos    promoEngine
	Stock     stockReserver
	Payments  paymentChecker
	Shipments shipmentBuilder
	Outbox    outboxPublisher
	Checkout  config.CheckoutConfig
	Metrics   *metrics.CommandMetrics
	Logger    *logger.Logger
}

type service struct {
	repo      Repository
	tx        txRunner
	promos    promoEngine
	stock     stockReserver
	payments  paymentChecker
	shipments shipmentBuilder
	outboxSvc outboxPublisher
	cfg       config.CheckoutConfig
	metrics   *metrics.CommandMetrics
	logg      *logger.Logger
}

// NewService builds the order service with the required dependencies.
func NewService(deps Deps) (Service, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if deps.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if deps.Promos == nil {
		return nil, fmt.Errorf("promotions service required")
	}
	if deps.Stock == nil {
		return nil, fmt.Errorf("inventory service required")
	}
	if deps.Payments == nil {
		return nil, fmt.Errorf("payment checker required")
	}
	if deps.Shipments == nil {
		return nil, fmt.Errorf("shipment builder required")
	}
	if deps.Outbox == nil {
		return nil, fmt.Errorf("outbox service required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:      deps.Repo,
		tx:        deps.Tx,
		promos:    deps.Promos,
		stock:     deps.Stock,
		payments:  deps.Payments,
		shipments: deps.Shipments,
		outboxSvc: deps.Outbox,
		cfg:       deps.Checkout,
		metrics:   deps.Metrics,
		logg:      deps.Logger,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Order, error) {
	if input.UserID == nil && (input.AdhocCustomerID == nil || *input.AdhocCustomerID == "") {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user_id or adhoc_customer_id required")
	}
	currency := input.Currency
	if currency == "" {
		currency = enums.CurrencyUSD
	}
	if !currency.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid currency").
			WithDetail("currency", string(currency))
	}
	if input.Email != nil {
		if err := validateEmail(*input.Email); err != nil {
			return nil, err
		}
	}

	order := &models.Order{
		Number:          generateOrderNumber(),
		UserID:          input.UserID,
		AdhocCustomerID: input.AdhocCustomerID,
		State:           enums.OrderStateCart,
		Currency:        currency,
		Email:           input.Email,
	}
	err := s.instrument(ctx, "order_create", func(ctx context.Context) error {
		return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			return s.repo.WithTx(tx).Create(ctx, order)
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
	}
	return order, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return order, nil
}

func (s *service) GetByNumber(ctx context.Context, number string) (*models.Order, error) {
	order, err := s.repo.FindByNumber(ctx, number)
	if err != nil {
		return nil, mapNotFound(err)
	}
	return order, nil
}

func (s *service) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]models.Order, error) {
	return s.repo.ListByUser(ctx, userID, limit)
}

func (s *service) Lines(ctx context.Context, orderID uuid.UUID) ([]models.LineItem, error) {
	return s.repo.FindLineItems(ctx, orderID)
}

func (s *service) Adjustments(ctx context.Context, orderID uuid.UUID) ([]models.Adjustment, error) {
	return s.repo.FindAdjustments(ctx, orderID)
}

func (s *service) History(ctx context.Context, orderID uuid.UUID) ([]models.OrderHistory, error) {
	return s.repo.FindHistories(ctx, orderID)
}

func (s *service) AddLineItem(ctx context.Context, orderID, variantID uuid.UUID, qty int, actor outbox.ActorRef) (*models.Order, error) {
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
			WithReason(ReasonInvalidQty).
			WithDetail("qty", qty)
	}
	return s.mutate(ctx, "order_add_line_item", orderID, func(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order) (map[string]any, error) {
		if order.State != enums.OrderStateCart {
			return nil, errInvalidState(order.State, "add_line_item")
		}
		variant, err := repo.FindVariant(ctx, variantID)
		if err != nil {
			if stdErrors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeNotFound, "variant not found").
					WithDetail("variant_id", variantID.String())
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load variant")
		}
		if !variant.Active || variant.Discontinued {
			return nil, pkgerrors.New(pkgerrors.CodeBusinessRule, "variant is not purchasable").
				WithReason(ReasonVariantUnavailable).
				WithDetail("variant_id", variantID.String())
		}
		price, err := repo.FindPrice(ctx, variantID, order.Currency)
		if err != nil {
			if stdErrors.Is(err, gorm.ErrRecordNotFound) {
				return nil, pkgerrors.New(pkgerrors.CodeBusinessRule, "variant has no price in order currency").
					WithReason(ReasonNoPrice).
					WithDetail("variant_id", variantID.String()).
					WithDetail("currency", string(order.Currency))
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load price")
		}

		line, err := repo.FindLineItemByVariant(ctx, order.ID, variantID)
		switch {
		case err == nil:
			line.Qty += qty
			if err := repo.UpdateLineItem(ctx, line.ID, map[string]any{"qty": line.Qty}); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update line item")
			}
		case stdErrors.Is(err, gorm.ErrRecordNotFound):
			line = &models.LineItem{
				OrderID:        order.ID,
				VariantID:      variantID,
				Qty:            qty,
				UnitPriceCents: price.AmountCents,
				WeightGrams:    variant.WeightGrams,
			}
			if err := repo.CreateLineItem(ctx, line); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create line item")
			}
		default:
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load line item")
		}

		event := payloads.LineItemChangedEvent{
			OrderID:        order.ID,
			LineItemID:     line.ID,
			VariantID:      variantID,
			Qty:            line.Qty,
			UnitPriceCents: line.UnitPriceCents,
			Currency:       string(order.Currency),
		}
		if err := s.emit(ctx, tx, enums.EventLineItemAdded, order.ID, actor, event); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

func (s *service) SetQuantity(ctx context.Context, orderID, lineItemID uuid.UUID, qty int, actor outbox.ActorRef) (*models.Order, error) {
	if qty < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative").
			WithReason(ReasonInvalidQty).
			WithDetail("qty", qty)
	}
	return s.mutate(ctx, "order_set_quantity", orderID, func(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order) (map[string]any, error) {
		if order.State != enums.OrderStateCart {
			return nil, errInvalidState(order.State, "set_quantity")
		}
		line, err := s.loadLine(ctx, repo, order.ID, lineItemID)
		if err != nil {
			return nil, err
		}
		if qty == 0 {
			return nil, s.deleteLine(ctx, tx, repo, order, line, actor)
		}
		if err := repo.UpdateLineItem(ctx, line.ID, map[string]any{"qty": qty}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update line item")
		}
		return nil, nil
	})
}

func (s *service) RemoveLineItem(ctx context.Context, orderID, lineItemID uuid.UUID, actor outbox.ActorRef) (*models.Order, error) {
	return s.mutate(ctx, "order_remove_line_item", orderID, func(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order) (map[string]any, error) {
		if order.State != enums.OrderStateCart {
			return nil, errInvalidState(order.State, "remove_line_item")
		}
		line, err := s.loadLine(ctx, repo, order.ID, lineItemID)
		if err != nil {
			return nil, err
		}
		return nil, s.deleteLine(ctx, tx, repo, order, line, actor)
	})
}

func (s *service) Empty(ctx context.Context, orderID uuid.UUID, actor outbox.ActorRef) (*models.Order, error) {
	return s.mutate(ctx, "order_empty", orderID, func(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order) (map[string]any, error) {
		switch order.State {
		case enums.OrderStateCart, enums.OrderStateAddress, enums.OrderStateDelivery:
		default:
			return nil, errInvalidState(order.State, "empty")
		}
		lines, err := repo.FindLineItems(ctx, order.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load line items")
		}
		for i := range lines {
			if err := s.deleteLine(ctx, tx, repo, order, &lines[i], actor); err != nil {
				return nil, err
			}
		}
		updates := map[string]any{
			"promo_code":   nil,
			"promotion_id": nil,
		}
		if order.State == enums.OrderStateDelivery {
			// The delivery choice is meaningless for an empty cart.
			updates["shipping_method"] = nil
			updates["shipment_total_cents"] = int64(0)
			order.ShippingMethod = nil
			order.ShipmentTotalCents = 0
		}
		if order.State != enums.OrderStateCart {
			if err := s.recordTransition(ctx, tx, repo, order, order.State, enums.OrderStateCart, "cart emptied", actor, nil); err != nil {
				return nil, err
			}
			updates["state"] = enums.OrderStateCart
			order.State = enums.OrderStateCart
		}
		order.PromoCode = nil
		return updates, nil
	})
}

func (s *service) OverridePrice(ctx context.Context, orderID, lineItemID uuid.UUID, unitPriceCents int64, actor outbox.ActorRef) (*models.Order, error) {
	if unitPriceCents < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unit price must not be negative")
	}
	return s.mutate(ctx, "order_override_price", orderID, func(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order) (map[string]any, error) {
		if order.State != enums.OrderStateCart {
			return nil, errInvalidState(order.State, "override_price")
		}
		line, err := s.loadLine(ctx, repo, order.ID, lineItemID)
		if err != nil {
			return nil, err
		}
		previous := line.UnitPriceCents
		if err := repo.UpdateLineItem(ctx, line.ID, map[string]any{"unit_price_cents": unitPriceCents}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "override price")
		}
		detail := types.JSONMap{
			"line_item_id":         line.ID.String(),
			"previous_price_cents": previous,
			"new_price_cents":      unitPriceCents,
		}
		if err := s.recordHistory(ctx, repo, order, order.State, order.State, "price override", actor, &detail); err != nil {
			return nil, err
		}
		return nil, nil
	})
}

func (s *service) Associate(ctx context.Context, orderID, userID uuid.UUID, actor outbox.ActorRef) (*models.Order, error) {
	if userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user_id required")
	}
	return s.mutate(ctx, "order_associate", orderID, func(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order) (map[string]any, error) {
		if order.State != enums.OrderStateCart {
			return nil, errInvalidState(order.State, "associate")
		}
		if order.UserID != nil {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order already belongs to a user").
				WithReason(ReasonAlreadyAssociated)
		}

		existing, err := repo.FindCartByUser(ctx, userID)
		if err != nil && !stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user cart")
		}
		if err == nil && existing.ID != order.ID {
			if existing.Currency != order.Currency {
				return nil, pkgerrors.New(pkgerrors.CodeBusinessRule, "carts use different currencies").
					WithReason(ReasonCurrencyMismatch).
					WithDetail("order_currency", string(order.Currency)).
					WithDetail("existing_currency", string(existing.Currency))
			}
			if err := s.mergeCarts(ctx, tx, repo, order, existing, actor); err != nil {
				return nil, err
			}
		}

		order.UserID = &userID
		return map[string]any{"user_id": userID}, nil
	})
}

func (s *service) SetEmail(ctx context.Context, orderID uuid.UUID, email string, actor outbox.ActorRef) (*models.Order, error) {
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	return s.mutate(ctx, "order_set_email", orderID, func(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order) (map[string]any, error) {
		if order.State.Ordinal() < 0 || order.State.AtLeast(enums.OrderStateComplete) {
			return nil, errInvalidState(order.State, "set_email")
		}
		return map[string]any{"email": email}, nil
	})
}

func (s *service) SetShippingAddress(ctx context.Context, orderID uuid.UUID, address types.Address, actor outbox.ActorRef) (*models.Order, error) {
	if missing := address.Validate(); len(missing) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "shipping address incomplete").
			WithReason(ReasonInvalidAddress).
			WithDetail("missing", missing)
	}
	encoded, err := json.Marshal(address)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode address")
	}
	return s.mutate(ctx, "order_set_shipping_address", orderID, func(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order) (map[string]any, error) {
		if order.State != enums.OrderStateCart && order.State != enums.OrderStateAddress {
			return nil, errInvalidState(order.State, "set_shipping_address")
		}
		order.ShippingAddress = &address
		return map[string]any{"shipping_address": string(encoded)}, nil
	})
}

func (s *service) SelectShippingMethod(ctx context.Context, orderID uuid.UUID, method enums.ShippingMethod, actor outbox.ActorRef) (*models.Order, error) {
	if !method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown shipping method").
			WithDetail("method", string(method))
	}
	return s.mutate(ctx, "order_select_shipping_method", orderID, func(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order) (map[string]any, error) {
		if order.State != enums.OrderStateDelivery {
			return nil, errInvalidState(order.State, "select_shipping_method")
		}
		name := method.String()
		order.ShippingMethod = &name
		// Provisional single-shipment rate; allocation fixes the final total
		// when checkout leaves delivery.
		order.ShipmentTotalCents = method.RateCents()
		return map[string]any{
			"shipping_method":      name,
			"shipment_total_cents": method.RateCents(),
		}, nil
	})
}

func (s *service) ApplyCoupon(ctx context.Context, orderID uuid.UUID, code string, actor outbox.ActorRef) (*models.Order, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "coupon code required")
	}
	return s.mutate(ctx, "order_apply_coupon", orderID, func(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order) (map[string]any, error) {
		if ord := order.State.Ordinal(); ord < 0 || ord >= enums.OrderStateComplete.Ordinal() {
			return nil, errInvalidState(order.State, "apply_coupon")
		}
		promotion, err := s.promos.LookupByCode(ctx, tx, code)
		if err != nil {
			return nil, err
		}

		lines, err := repo.FindLineItems(ctx, order.ID)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load line items")
		}
		snapshot := *order
		snapshot.PromoCode = &code
		snapshot.ItemTotalCents = sumSubtotals(lines)
		failure, err := s.promos.ExplainIneligibilityTx(ctx, tx, &snapshot, lines, promotion)
		if err != nil {
			return nil, err
		}
		if failure != "" {
			return nil, pkgerrors.New(pkgerrors.CodeBusinessRule, "coupon does not apply to this order").
				WithReason("Promotion.NotEligible").
				WithDetail("code", code).
				WithDetail("rule", failure)
		}

		order.PromoCode = &code
		if err := s.emit(ctx, tx, enums.EventPromotionApplied, order.ID, actor, payloads.PromotionAppliedEvent{
			OrderID:     order.ID,
			PromotionID: promotion.ID,
			Code:        code,
		}); err != nil {
			return nil, err
		}
		return map[string]any{"promo_code": code}, nil
	})
}

func (s *service) RemoveCoupon(ctx context.Context, orderID uuid.UUID, actor outbox.ActorRef) (*models.Order, error) {
	return s.mutate(ctx, "order_remove_coupon", orderID, func(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order) (map[string]any, error) {
		if ord := order.State.Ordinal(); ord < 0 || ord >= enums.OrderStateComplete.Ordinal() {
			return nil, errInvalidState(order.State, "remove_coupon")
		}
		order.PromoCode = nil
		return map[string]any{"promo_code": nil}, nil
	})
}

func (s *service) Advance(ctx context.Context, orderID uuid.UUID, actor outbox.ActorRef) (*models.Order, error) {
	err := s.instrument(ctx, "order_advance", func(ctx context.Context) error {
		return dbpkg.RetryOnConflict(ctx, func(ctx context.Context) error {
			return s.tx.WithSerializableTx(ctx, func(tx *gorm.DB) error {
				return s.AdvanceTx(ctx, tx, orderID, actor)
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, orderID)
}

// AdvanceTx walks the checkout forward as far as guards allow. It fails only
// when no progress was possible at all; otherwise it stops at the first
// unsatisfied guard and commits what it reached.
func (s *service) AdvanceTx(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, actor outbox.ActorRef) error {
	repo := s.repo.WithTx(tx)
	order, err := repo.FindByID(ctx, orderID)
	if err != nil {
		return mapNotFound(err)
	}

	advanced := false
	for {
		next, ok := forwardNext[order.State]
		if !ok {
			break
		}
		stepErr := s.advanceStepTx(ctx, tx, repo, order, next, actor)
		if stepErr != nil {
			if advanced {
				break
			}
			return stepErr
		}
		advanced = true
		if order.State == enums.OrderStateComplete {
			break
		}
	}
	if !advanced {
		return errInvalidState(order.State, "advance")
	}
	return nil
}

// advanceStepTx applies one forward transition when its guard passes. The
// order's in-memory state and lock version track the persisted row so the
// loop can take several steps in one transaction.
func (s *service) advanceStepTx(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, next enums.OrderState, actor outbox.ActorRef) error {
	lines, err := repo.FindLineItems(ctx, order.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load line items")
	}

	switch next {
	case enums.OrderStateAddress:
		if len(lines) == 0 {
			return pkgerrors.New(pkgerrors.CodeBusinessRule, "cart has no line items").
				WithReason(ReasonEmptyCart)
		}
		return s.transition(ctx, tx, repo, order, next, nil, actor)

	case enums.OrderStateDelivery:
		if order.ShippingAddress == nil || !order.ShippingAddress.IsValid() {
			return pkgerrors.New(pkgerrors.CodeBusinessRule, "shipping address required").
				WithReason(ReasonMissingAddress)
		}
		if order.Email == nil || *order.Email == "" {
			return pkgerrors.New(pkgerrors.CodeBusinessRule, "contact email required").
				WithReason(ReasonMissingEmail)
		}
		return s.transition(ctx, tx, repo, order, next, nil, actor)

	case enums.OrderStatePayment:
		if order.ShippingMethod == nil {
			return pkgerrors.New(pkgerrors.CodeBusinessRule, "shipping method required").
				WithReason(ReasonMissingShipping)
		}
		allocations, err := s.stock.ReserveForOrderTx(ctx, tx, order.ID, reservationLines(lines))
		if err != nil {
			return err
		}
		shipmentTotal, err := s.shipments.BuildForOrderTx(ctx, tx, order, lines, allocations)
		if err != nil {
			return err
		}
		order.ShipmentTotalCents = shipmentTotal
		return s.transition(ctx, tx, repo, order, next, map[string]any{
			"shipment_total_cents": shipmentTotal,
		}, actor)

	case enums.OrderStateConfirm:
		covered, err := s.payments.CoveredCentsTx(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if order.GrandTotalCents > 0 && covered < order.GrandTotalCents {
			return pkgerrors.New(pkgerrors.CodeBusinessRule, "payments do not cover the order total").
				WithReason(ReasonInsufficientPayment).
				WithDetail("covered_cents", covered).
				WithDetail("grand_total_cents", order.GrandTotalCents)
		}
		captured, err := s.payments.CapturedCentsTx(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if captured >= order.GrandTotalCents {
			// Auto-capture short-circuit: payment already settled in full.
			return s.completeTx(ctx, tx, repo, order, actor)
		}
		return s.transition(ctx, tx, repo, order, next, nil, actor)

	case enums.OrderStateComplete:
		captured, err := s.payments.CapturedCentsTx(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		if order.GrandTotalCents > 0 && captured < order.GrandTotalCents {
			return pkgerrors.New(pkgerrors.CodeBusinessRule, "order is not fully captured").
				WithReason(ReasonInsufficientPayment).
				WithDetail("captured_cents", captured).
				WithDetail("grand_total_cents", order.GrandTotalCents)
		}
		return s.completeTx(ctx, tx, repo, order, actor)

	default:
		return errInvalidState(order.State, "advance")
	}
}

func (s *service) Complete(ctx context.Context, orderID uuid.UUID, actor outbox.ActorRef) (*models.Order, error) {
	err := s.instrument(ctx, "order_complete", func(ctx context.Context) error {
		return dbpkg.RetryOnConflict(ctx, func(ctx context.Context) error {
			return s.tx.WithSerializableTx(ctx, func(tx *gorm.DB) error {
				repo := s.repo.WithTx(tx)
				order, err := repo.FindByID(ctx, orderID)
				if err != nil {
					return mapNotFound(err)
				}
				if order.State != enums.OrderStateConfirm {
					return errInvalidState(order.State, "complete")
				}
				covered, err := s.payments.CoveredCentsTx(ctx, tx, order.ID)
				if err != nil {
					return err
				}
				if order.GrandTotalCents > 0 && covered < order.GrandTotalCents {
					return pkgerrors.New(pkgerrors.CodeBusinessRule, "payments do not cover the order total").
						WithReason(ReasonInsufficientPayment).
						WithDetail("covered_cents", covered).
						WithDetail("grand_total_cents", order.GrandTotalCents)
				}
				return s.completeTx(ctx, tx, repo, order, actor)
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, orderID)
}

// completeTx finalizes the order: promotes shipments, burns promotion usage,
// stamps completed_at and emits order_completed. Prices freeze implicitly
// because no cart command accepts complete orders.
func (s *service) completeTx(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, actor outbox.ActorRef) error {
	if err := s.shipments.PromoteForOrderTx(ctx, tx, order.ID); err != nil {
		return err
	}
	if err := s.promos.CommitUsageForOrderTx(ctx, tx, order.ID); err != nil {
		return err
	}

	now := time.Now().UTC()
	from := order.State
	if err := repo.Update(ctx, order, map[string]any{
		"state":        enums.OrderStateComplete,
		"completed_at": now,
	}); err != nil {
		return err
	}
	order.LockVersion++
	order.State = enums.OrderStateComplete
	order.CompletedAt = &now

	if err := s.recordHistory(ctx, repo, order, from, enums.OrderStateComplete, "order completed", actor, nil); err != nil {
		return err
	}
	if err := s.emit(ctx, tx, enums.EventOrderStateChanged, order.ID, actor, payloads.OrderStateChangedEvent{
		OrderID:     order.ID,
		Number:      order.Number,
		FromState:   from.String(),
		ToState:     enums.OrderStateComplete.String(),
		TriggeredBy: triggeredBy(actor),
	}); err != nil {
		return err
	}
	email := ""
	if order.Email != nil {
		email = *order.Email
	}
	return s.emit(ctx, tx, enums.EventOrderCompleted, order.ID, actor, payloads.OrderCompletedEvent{
		OrderID:              order.ID,
		Number:               order.Number,
		Email:                email,
		Currency:             string(order.Currency),
		ItemTotalCents:       order.ItemTotalCents,
		ShipmentTotalCents:   order.ShipmentTotalCents,
		AdjustmentTotalCents: order.AdjustmentTotalCents,
		GrandTotalCents:      order.GrandTotalCents,
		CompletedAt:          now,
	})
}

func (s *service) Cancel(ctx context.Context, orderID uuid.UUID, reason string, actor outbox.ActorRef) (*models.Order, error) {
	err := s.instrument(ctx, "order_cancel", func(ctx context.Context) error {
		return dbpkg.RetryOnConflict(ctx, func(ctx context.Context) error {
			return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
				repo := s.repo.WithTx(tx)
				order, err := repo.FindByID(ctx, orderID)
				if err != nil {
					return mapNotFound(err)
				}
				return s.cancelTx(ctx, tx, repo, order, reason, actor)
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, orderID)
}

func (s *service) cancelTx(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, reason string, actor outbox.ActorRef) error {
	if !cancelableStates[order.State] {
		return errInvalidState(order.State, "cancel")
	}
	netCaptured, err := s.payments.NetCapturedCentsTx(ctx, tx, order.ID)
	if err != nil {
		return err
	}
	if netCaptured > 0 {
		return pkgerrors.New(pkgerrors.CodeBusinessRule, "captured payment must be refunded before cancel").
			WithReason(ReasonCannotCancelCaptured).
			WithDetail("net_captured_cents", netCaptured)
	}

	// Reservations exist once checkout passed delivery; shipment cancel
	// releases them symmetrically.
	if order.State.AtLeast(enums.OrderStatePayment) {
		if err := s.shipments.CancelForOrderTx(ctx, tx, order.ID, reason); err != nil {
			return err
		}
	}
	if order.State == enums.OrderStateComplete {
		if err := s.promos.RollbackUsageForOrderTx(ctx, tx, order.ID); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	from := order.State
	if err := repo.Update(ctx, order, map[string]any{
		"state":       enums.OrderStateCanceled,
		"canceled_at": now,
	}); err != nil {
		return err
	}
	order.LockVersion++
	order.State = enums.OrderStateCanceled
	order.CanceledAt = &now

	description := "order canceled"
	if reason != "" {
		description = fmt.Sprintf("order canceled: %s", reason)
	}
	if err := s.recordHistory(ctx, repo, order, from, enums.OrderStateCanceled, description, actor, nil); err != nil {
		return err
	}
	return s.emit(ctx, tx, enums.EventOrderCanceled, order.ID, actor, payloads.OrderCanceledEvent{
		OrderID:     order.ID,
		Number:      order.Number,
		FromState:   from.String(),
		TriggeredBy: triggeredBy(actor),
		Reason:      reason,
	})
}

func (s *service) BeginReturn(ctx context.Context, orderID uuid.UUID, actor outbox.ActorRef) (*models.Order, error) {
	return s.returnStep(ctx, "order_begin_return", orderID, enums.OrderStateComplete, "return requested", actor)
}

func (s *service) MarkReturned(ctx context.Context, orderID uuid.UUID, actor outbox.ActorRef) (*models.Order, error) {
	return s.returnStep(ctx, "order_mark_returned", orderID, enums.OrderStateAwaitingReturn, "return received", actor)
}

func (s *service) returnStep(ctx context.Context, command string, orderID uuid.UUID, from enums.OrderState, description string, actor outbox.ActorRef) (*models.Order, error) {
	err := s.instrument(ctx, command, func(ctx context.Context) error {
		return dbpkg.RetryOnConflict(ctx, func(ctx context.Context) error {
			return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
				repo := s.repo.WithTx(tx)
				order, err := repo.FindByID(ctx, orderID)
				if err != nil {
					return mapNotFound(err)
				}
				if order.State != from {
					return errInvalidState(order.State, command)
				}
				to := returnNext[from]
				if err := repo.Update(ctx, order, map[string]any{"state": to}); err != nil {
					return err
				}
				order.LockVersion++
				order.State = to
				return s.recordTransition(ctx, tx, repo, order, from, to, description, actor, nil)
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, orderID)
}

func (s *service) ExpireStaleCarts(ctx context.Context, limit int) (int, error) {
	cutoff := time.Now().Add(-s.cfg.CartTTL).Unix()
	stale, err := s.repo.FindStaleCarts(ctx, cutoff, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stale carts")
	}

	expired := 0
	var errs []error
	for i := range stale {
		id := stale[i].ID
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			order, err := repo.FindByID(ctx, id)
			if err != nil {
				return mapNotFound(err)
			}
			if order.State != enums.OrderStateCart {
				return nil
			}
			if err := s.cancelTx(ctx, tx, repo, order, "cart expired", outbox.ActorRef{}); err != nil {
				return err
			}
			return s.outboxSvc.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventCartExpired,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Data: payloads.CartExpiredEvent{
					OrderID:   order.ID,
					Number:    order.Number,
					ExpiredAt: time.Now().UTC(),
				},
			})
		})
		if err != nil {
			s.logg.Error(ctx, "expire cart", err)
			errs = append(errs, err)
			continue
		}
		expired++
	}
	return expired, multierr.Combine(errs...)
}

// mutate is the shared write path for cart-phase commands: load the order
// fresh, run the step, recompute totals and persist under the optimistic lock.
func (s *service) mutate(ctx context.Context, command string, orderID uuid.UUID, fn func(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order) (map[string]any, error)) (*models.Order, error) {
	var result *models.Order
	err := s.instrument(ctx, command, func(ctx context.Context) error {
		return dbpkg.RetryOnConflict(ctx, func(ctx context.Context) error {
			return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
				repo := s.repo.WithTx(tx)
				order, err := repo.FindByID(ctx, orderID)
				if err != nil {
					return mapNotFound(err)
				}
				extra, err := fn(ctx, tx, repo, order)
				if err != nil {
					return err
				}
				if _, err := s.recomputeTx(ctx, tx, repo, order, extra); err != nil {
					return err
				}
				result = order
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// recomputeTx runs the totals pipeline: line totals, item total, promotion
// sync, adjustment total, grand total. Extra updates are folded into the same
// optimistic write.
func (s *service) recomputeTx(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, extra map[string]any) (map[string]any, error) {
	lines, err := repo.FindLineItems(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load line items")
	}

	order.ItemTotalCents = sumSubtotals(lines)
	if v, ok := extra["shipment_total_cents"].(int64); ok {
		order.ShipmentTotalCents = v
	}

	outcome, err := s.promos.SyncAdjustmentsTx(ctx, tx, order, lines)
	if err != nil {
		return nil, err
	}

	adjustments, err := repo.FindAdjustments(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load adjustments")
	}
	adjustmentTotal := int64(0)
	lineAdjustments := map[uuid.UUID]int64{}
	for _, adj := range adjustments {
		adjustmentTotal += adj.AmountCents
		if adj.Target == enums.AdjustmentTargetLineItem {
			lineAdjustments[adj.TargetID] += adj.AmountCents
		}
	}
	for _, line := range lines {
		total := line.SubtotalCents() + lineAdjustments[line.ID]
		if total != line.TotalCents {
			if err := repo.UpdateLineItem(ctx, line.ID, map[string]any{"total_cents": total}); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update line total")
			}
		}
	}

	grand := order.ItemTotalCents + order.ShipmentTotalCents + adjustmentTotal
	updates := map[string]any{
		"item_total_cents":       order.ItemTotalCents,
		"adjustment_total_cents": adjustmentTotal,
		"grand_total_cents":      grand,
	}
	if primary := outcome.Primary(); primary != nil {
		updates["promotion_id"] = primary.ID
		id := primary.ID
		order.PromotionID = &id
	} else {
		updates["promotion_id"] = nil
		order.PromotionID = nil
	}
	for k, v := range extra {
		updates[k] = v
	}
	if err := repo.Update(ctx, order, updates); err != nil {
		return nil, err
	}
	order.LockVersion++
	order.AdjustmentTotalCents = adjustmentTotal
	order.GrandTotalCents = grand
	return updates, nil
}

// transition moves the order to the next state, recomputes totals and writes
// the audit trail plus the state-changed event.
func (s *service) transition(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, to enums.OrderState, extra map[string]any, actor outbox.ActorRef) error {
	from := order.State
	if extra == nil {
		extra = map[string]any{}
	}
	extra["state"] = to
	if _, err := s.recomputeTx(ctx, tx, repo, order, extra); err != nil {
		return err
	}
	order.State = to
	return s.recordTransition(ctx, tx, repo, order, from, to, fmt.Sprintf("checkout advanced to %s", to), actor, nil)
}

func (s *service) recordTransition(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, from, to enums.OrderState, description string, actor outbox.ActorRef, detail *types.JSONMap) error {
	if err := s.recordHistory(ctx, repo, order, from, to, description, actor, detail); err != nil {
		return err
	}
	return s.emit(ctx, tx, enums.EventOrderStateChanged, order.ID, actor, payloads.OrderStateChangedEvent{
		OrderID:     order.ID,
		Number:      order.Number,
		FromState:   from.String(),
		ToState:     to.String(),
		TriggeredBy: triggeredBy(actor),
	})
}

func (s *service) recordHistory(ctx context.Context, repo Repository, order *models.Order, from, to enums.OrderState, description string, actor outbox.ActorRef, detail *types.JSONMap) error {
	history := &models.OrderHistory{
		OrderID:     order.ID,
		FromState:   from,
		ToState:     to,
		Description: description,
		TriggeredBy: triggeredBy(actor),
		Context:     detail,
	}
	if err := repo.CreateHistory(ctx, history); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "write order history")
	}
	return nil
}

func (s *service) deleteLine(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, line *models.LineItem, actor outbox.ActorRef) error {
	if err := repo.DeleteLineItem(ctx, line.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete line item")
	}
	return s.emit(ctx, tx, enums.EventLineItemRemoved, order.ID, actor, payloads.LineItemChangedEvent{
		OrderID:        order.ID,
		LineItemID:     line.ID,
		VariantID:      line.VariantID,
		Qty:            0,
		UnitPriceCents: line.UnitPriceCents,
		Currency:       string(order.Currency),
	})
}

// mergeCarts folds the user's previous cart into the order being associated.
// The older line's price snapshot wins unless it is young enough to re-price.
func (s *service) mergeCarts(ctx context.Context, tx *gorm.DB, repo Repository, order, previous *models.Order, actor outbox.ActorRef) error {
	previousLines, err := repo.FindLineItems(ctx, previous.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load previous cart lines")
	}
	window := s.cfg.GuestMergeRepriceWindow
	now := time.Now()

	for i := range previousLines {
		prev := previousLines[i]
		current, err := repo.FindLineItemByVariant(ctx, order.ID, prev.VariantID)
		switch {
		case err == nil:
			older := prev
			if current.CreatedAt.Before(older.CreatedAt) {
				older = *current
			}
			price := older.UnitPriceCents
			if now.Sub(older.CreatedAt) < window {
				if fresh, err := repo.FindPrice(ctx, prev.VariantID, order.Currency); err == nil {
					price = fresh.AmountCents
				}
			}
			if err := repo.UpdateLineItem(ctx, current.ID, map[string]any{
				"qty":              current.Qty + prev.Qty,
				"unit_price_cents": price,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "merge line item")
			}
			if err := repo.DeleteLineItem(ctx, prev.ID); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "drop merged line item")
			}
		case stdErrors.Is(err, gorm.ErrRecordNotFound):
			updates := map[string]any{"order_id": order.ID}
			if now.Sub(prev.CreatedAt) < window {
				if fresh, err := repo.FindPrice(ctx, prev.VariantID, order.Currency); err == nil && fresh.AmountCents != prev.UnitPriceCents {
					updates["unit_price_cents"] = fresh.AmountCents
				}
			}
			if err := repo.UpdateLineItem(ctx, prev.ID, updates); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "move line item")
			}
		default:
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load current line item")
		}
	}

	// The previous cart's promotion adjustments are stale once its lines move.
	if err := s.promos.RemoveAdjustmentsTx(ctx, tx, previous.ID); err != nil {
		return err
	}
	if err := repo.Update(ctx, previous, map[string]any{
		"state":       enums.OrderStateCanceled,
		"canceled_at": time.Now().UTC(),
	}); err != nil {
		return err
	}
	return s.recordHistory(ctx, repo, previous, previous.State, enums.OrderStateCanceled,
		fmt.Sprintf("merged into %s", order.Number), actor, nil)
}

func (s *service) loadLine(ctx context.Context, repo Repository, orderID, lineItemID uuid.UUID) (*models.LineItem, error) {
	line, err := repo.FindLineItem(ctx, lineItemID)
	if err != nil {
		if stdErrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "line item not found").
				WithReason(ReasonLineNotFound)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load line item")
	}
	if line.OrderID != orderID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "line item not found").
			WithReason(ReasonLineNotFound)
	}
	return line, nil
}

func (s *service) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, orderID uuid.UUID, actor outbox.ActorRef, data any) error {
	return s.outboxSvc.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Actor:         actorRef(actor),
		Data:          data,
	})
}

func (s *service) instrument(ctx context.Context, command string, fn func(ctx context.Context) error) error {
	start := time.Now()
	ctx = s.logg.WithCommand(ctx, command)
	err := fn(ctx)
	s.metrics.ObserveDuration(command, time.Since(start))
	if err != nil {
		s.metrics.IncFailure(command, string(pkgerrors.As(err).Code()))
		return err
	}
	s.metrics.IncSuccess(command)
	return nil
}

func reservationLines(lines []models.LineItem) []inventory.ReservationLine {
	out := make([]inventory.ReservationLine, 0, len(lines))
	for _, line := range lines {
		out = append(out, inventory.ReservationLine{VariantID: line.VariantID, Qty: line.Qty})
	}
	return out
}

func sumSubtotals(lines []models.LineItem) int64 {
	total := int64(0)
	for _, line := range lines {
		total += line.SubtotalCents()
	}
	return total
}

func validateEmail(email string) error {
	if _, err := mail.ParseAddress(email); err != nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "malformed email address").
			WithDetail("email", email)
	}
	return nil
}

func mapNotFound(err error) error {
	if stdErrors.Is(err, gorm.ErrRecordNotFound) {
		return errNotFound()
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
}

func triggeredBy(actor outbox.ActorRef) string {
	if actor.UserID == uuid.Nil {
		return "system"
	}
	return actor.UserID.String()
}

func actorRef(actor outbox.ActorRef) *outbox.ActorRef {
	if actor.UserID == uuid.Nil && actor.Role == "" {
		return nil
	}
	return &actor
}
