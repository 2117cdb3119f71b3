package promotions

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mercatto/commerce-core/api/responses"
	"github.com/mercatto/commerce-core/api/validators"
	internalpromotions "github.com/mercatto/commerce-core/internal/promotions"
	"github.com/mercatto/commerce-core/pkg/db/models"
	"github.com/mercatto/commerce-core/pkg/enums"
	pkgerrors "github.com/mercatto/commerce-core/pkg/errors"
	"github.com/mercatto/commerce-core/pkg/logger"
)

type createPromotionRequest struct {
	Name             string                 `json:"name" validate:"required,min=1"`
	Code             *string                `json:"code,omitempty"`
	Description      string                 `json:"description,omitempty"`
	Currency         string                 `json:"currency" validate:"required,len=3"`
	MinOrderCents    *int64                 `json:"min_order_cents,omitempty"`
	MaxDiscountCents *int64                 `json:"max_discount_cents,omitempty"`
	StartsAt         *time.Time             `json:"starts_at,omitempty"`
	ExpiresAt        *time.Time             `json:"expires_at,omitempty"`
	UsageLimit       *int                   `json:"usage_limit,omitempty"`
	Action           promotionActionRequest `json:"action" validate:"required"`
	Rules            []promotionRuleRequest `json:"rules,omitempty"`
}

type promotionActionRequest struct {
	Kind           string   `json:"kind" validate:"required"`
	PercentBps     *int64   `json:"percent_bps,omitempty"`
	AmountCents    *int64   `json:"amount_cents,omitempty"`
	MatchAllLines  *bool    `json:"match_all_lines,omitempty"`
	FilterTaxonIDs []string `json:"filter_taxon_ids,omitempty" validate:"dive,uuid"`
}

type promotionRuleRequest struct {
	Kind       string   `json:"kind" validate:"required"`
	Value      *int64   `json:"value,omitempty"`
	TaxonIDs   []string `json:"taxon_ids,omitempty" validate:"dive,uuid"`
	UserIDs    []string `json:"user_ids,omitempty" validate:"dive,uuid"`
	VariantIDs []string `json:"variant_ids,omitempty" validate:"dive,uuid"`
}

type promotionResponse struct {
	ID               uuid.UUID  `json:"id"`
	Name             string     `json:"name"`
	Code             *string    `json:"code,omitempty"`
	Description      string     `json:"description,omitempty"`
	Currency         string     `json:"currency"`
	MinOrderCents    *int64     `json:"min_order_cents,omitempty"`
	MaxDiscountCents *int64     `json:"max_discount_cents,omitempty"`
	StartsAt         *time.Time `json:"starts_at,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	UsageLimit       *int       `json:"usage_limit,omitempty"`
	UsageCount       int        `json:"usage_count"`
	Active           bool       `json:"active"`
	RequiresCode     bool       `json:"requires_code"`
	CreatedAt        time.Time  `json:"created_at"`
}

func toPromotionResponse(promotion *models.Promotion) promotionResponse {
	return promotionResponse{
		ID:               promotion.ID,
		Name:             promotion.Name,
		Code:             promotion.Code,
		Description:      promotion.Description,
		Currency:         string(promotion.Currency),
		MinOrderCents:    promotion.MinOrderCents,
		MaxDiscountCents: promotion.MaxDiscountCents,
		StartsAt:         promotion.StartsAt,
		ExpiresAt:        promotion.ExpiresAt,
		UsageLimit:       promotion.UsageLimit,
		UsageCount:       promotion.UsageCount,
		Active:           promotion.Active,
		RequiresCode:     promotion.RequiresCode,
		CreatedAt:        promotion.CreatedAt,
	}
}

// Create registers a promotion with its action and rules. Admin surface.
func Create(svc internalpromotions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload createPromotionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		currency, err := enums.ParseCurrency(payload.Currency)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid currency"))
			return
		}
		action, err := buildAction(payload.Action)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rules, err := buildRules(payload.Rules)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		promotion, err := svc.Create(r.Context(), internalpromotions.CreateInput{
			Name:             payload.Name,
			Code:             payload.Code,
			Description:      payload.Description,
			Currency:         currency,
			MinOrderCents:    payload.MinOrderCents,
			MaxDiscountCents: payload.MaxDiscountCents,
			StartsAt:         payload.StartsAt,
			ExpiresAt:        payload.ExpiresAt,
			UsageLimit:       payload.UsageLimit,
			Action:           action,
			Rules:            rules,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toPromotionResponse(promotion))
	}
}

func Detail(svc internalpromotions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		promotionID, err := parsePromotionID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		promotion, err := svc.Get(r.Context(), promotionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, toPromotionResponse(promotion))
	}
}

func List(svc internalpromotions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		includeInactive, err := validators.ParseQueryBool(r, "include_inactive", false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		promotions, err := svc.List(r.Context(), includeInactive)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		out := make([]promotionResponse, 0, len(promotions))
		for i := range promotions {
			out = append(out, toPromotionResponse(&promotions[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

// Deactivate retires a promotion; existing orders keep their adjustments.
func Deactivate(svc internalpromotions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		promotionID, err := parsePromotionID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := svc.Deactivate(r.Context(), promotionID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, nil)
	}
}

func buildAction(req promotionActionRequest) (models.PromotionAction, error) {
	kind, err := enums.ParsePromotionActionKind(req.Kind)
	if err != nil {
		return models.PromotionAction{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid action kind")
	}
	action := models.PromotionAction{
		Kind:          kind,
		PercentBps:    req.PercentBps,
		AmountCents:   req.AmountCents,
		MatchAllLines: true,
	}
	if req.MatchAllLines != nil {
		action.MatchAllLines = *req.MatchAllLines
	}
	for _, raw := range req.FilterTaxonIDs {
		taxonID, err := uuid.Parse(raw)
		if err != nil {
			return models.PromotionAction{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid filter taxon id")
		}
		action.FilterTaxonIDs = append(action.FilterTaxonIDs, models.PromotionActionTaxon{TaxonID: taxonID})
	}
	return action, nil
}

func buildRules(reqs []promotionRuleRequest) ([]models.PromotionRule, error) {
	rules := make([]models.PromotionRule, 0, len(reqs))
	for _, req := range reqs {
		kind, err := enums.ParsePromotionRuleKind(req.Kind)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid rule kind")
		}
		rule := models.PromotionRule{Kind: kind, Value: req.Value}
		for _, raw := range req.TaxonIDs {
			taxonID, err := uuid.Parse(raw)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid taxon id")
			}
			rule.Taxons = append(rule.Taxons, models.PromotionRuleTaxon{TaxonID: taxonID})
		}
		for _, raw := range req.UserIDs {
			userID, err := uuid.Parse(raw)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid user id")
			}
			rule.Users = append(rule.Users, models.PromotionRuleUser{UserID: userID})
		}
		for _, raw := range req.VariantIDs {
			variantID, err := uuid.Parse(raw)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid variant id")
			}
			rule.VariantIDs = append(rule.VariantIDs, models.PromotionRuleVariant{VariantID: variantID})
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func parsePromotionID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "promotionId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "promotion id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid promotion id")
	}
	return id, nil
}
