package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercatto/commerce-core/pkg/enums"
)

// Promotion is a rule-guarded offer. It owns exactly one action and zero or
// more rules (AND semantics).
type Promotion struct {
	ID                uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	Name              string           `gorm:"column:name;not null;uniqueIndex"`
	Code              *string          `gorm:"column:code;index"`
	Description       string           `gorm:"column:description;not null;default:''"`
	Currency          enums.Currency   `gorm:"column:currency;type:text;not null;default:'USD'"`
	MinOrderCents     *int64           `gorm:"column:min_order_cents"`
	MaxDiscountCents  *int64           `gorm:"column:max_discount_cents"`
	StartsAt          *time.Time       `gorm:"column:starts_at"`
	ExpiresAt         *time.Time       `gorm:"column:expires_at"`
	UsageLimit        *int             `gorm:"column:usage_limit"`
	UsageCount        int              `gorm:"column:usage_count;not null;default:0"`
	Active            bool             `gorm:"column:active;not null;default:true"`
	RequiresCode      bool             `gorm:"column:requires_code;not null;default:false"`
	LockVersion       int64            `gorm:"column:lock_version;not null;default:0"`
	Action            *PromotionAction `gorm:"foreignKey:PromotionID;constraint:OnDelete:CASCADE"`
	Rules             []PromotionRule  `gorm:"foreignKey:PromotionID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *Promotion) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// PromotionRule is one tagged rule variant. Scalar parameters live in Value;
// id-list parameters live in the child taxon/user rows.
type PromotionRule struct {
	ID          uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	PromotionID uuid.UUID               `gorm:"column:promotion_id;type:uuid;not null;index"`
	Kind        enums.PromotionRuleKind `gorm:"column:kind;type:text;not null"`
	Value       *int64                  `gorm:"column:value"`
	Taxons      []PromotionRuleTaxon    `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE"`
	Users       []PromotionRuleUser     `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE"`
	VariantIDs  []PromotionRuleVariant  `gorm:"foreignKey:RuleID;constraint:OnDelete:CASCADE"`
	CreatedAt   time.Time               `gorm:"column:created_at;autoCreateTime"`
}

func (r *PromotionRule) BeforeCreate(_ *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// PromotionRuleTaxon links a taxon_in_cart rule (or a line-item action filter)
// to a taxon.
type PromotionRuleTaxon struct {
	ID      uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	RuleID  uuid.UUID `gorm:"column:rule_id;type:uuid;not null;index"`
	TaxonID uuid.UUID `gorm:"column:taxon_id;type:uuid;not null"`
}

func (t *PromotionRuleTaxon) BeforeCreate(_ *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// PromotionRuleUser links a user_allow_list rule to a user.
type PromotionRuleUser struct {
	ID     uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	RuleID uuid.UUID `gorm:"column:rule_id;type:uuid;not null;index"`
	UserID uuid.UUID `gorm:"column:user_id;type:uuid;not null"`
}

func (u *PromotionRuleUser) BeforeCreate(_ *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

// PromotionRuleVariant links a product_in_cart rule to a variant.
type PromotionRuleVariant struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	RuleID    uuid.UUID `gorm:"column:rule_id;type:uuid;not null;index"`
	VariantID uuid.UUID `gorm:"column:variant_id;type:uuid;not null"`
}

func (v *PromotionRuleVariant) BeforeCreate(_ *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// PromotionAction is the single action a surviving promotion applies.
// PercentBps expresses percentages in basis points (2000 = 20%).
type PromotionAction struct {
	ID             uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	PromotionID    uuid.UUID                 `gorm:"column:promotion_id;type:uuid;not null;uniqueIndex"`
	Kind           enums.PromotionActionKind `gorm:"column:kind;type:text;not null"`
	PercentBps     *int64                    `gorm:"column:percent_bps"`
	AmountCents    *int64                    `gorm:"column:amount_cents"`
	MatchAllLines  bool                      `gorm:"column:match_all_lines;not null;default:true"`
	FilterTaxonIDs []PromotionActionTaxon    `gorm:"foreignKey:ActionID;constraint:OnDelete:CASCADE"`
	CreatedAt      time.Time                 `gorm:"column:created_at;autoCreateTime"`
}

func (a *PromotionAction) BeforeCreate(_ *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

// PromotionActionTaxon scopes a line-item percent discount to specific taxons.
type PromotionActionTaxon struct {
	ID       uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ActionID uuid.UUID `gorm:"column:action_id;type:uuid;not null;index"`
	TaxonID  uuid.UUID `gorm:"column:taxon_id;type:uuid;not null"`
}

func (t *PromotionActionTaxon) BeforeCreate(_ *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
