package enums

import "fmt"

// PromotionRuleKind tags the rule variants evaluated with AND semantics.
type PromotionRuleKind string

const (
	RuleUserLoggedIn   PromotionRuleKind = "user_logged_in"
	RuleFirstOrder     PromotionRuleKind = "first_order"
	RuleMinQuantity    PromotionRuleKind = "min_quantity"
	RuleMinOrderAmount PromotionRuleKind = "min_order_amount"
	RuleProductInCart  PromotionRuleKind = "product_in_cart"
	RuleTaxonInCart    PromotionRuleKind = "taxon_in_cart"
	RuleUserAllowList  PromotionRuleKind = "user_allow_list"
)

var validPromotionRuleKinds = []PromotionRuleKind{
	RuleUserLoggedIn,
	RuleFirstOrder,
	RuleMinQuantity,
	RuleMinOrderAmount,
	RuleProductInCart,
	RuleTaxonInCart,
	RuleUserAllowList,
}

// String implements fmt.Stringer.
func (k PromotionRuleKind) String() string {
	return string(k)
}

// IsValid reports whether the value is a known PromotionRuleKind.
func (k PromotionRuleKind) IsValid() bool {
	for _, candidate := range validPromotionRuleKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParsePromotionRuleKind converts raw input into a PromotionRuleKind.
func ParsePromotionRuleKind(value string) (PromotionRuleKind, error) {
	for _, candidate := range validPromotionRuleKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid promotion rule kind %q", value)
}

// PromotionActionKind tags the single action a promotion carries.
type PromotionActionKind string

const (
	ActionOrderPercentDiscount    PromotionActionKind = "order_percent_discount"
	ActionOrderFlatDiscount       PromotionActionKind = "order_flat_discount"
	ActionLineItemPercentDiscount PromotionActionKind = "line_item_percent_discount"
	ActionFreeShipping            PromotionActionKind = "free_shipping"
)

var validPromotionActionKinds = []PromotionActionKind{
	ActionOrderPercentDiscount,
	ActionOrderFlatDiscount,
	ActionLineItemPercentDiscount,
	ActionFreeShipping,
}

// String implements fmt.Stringer.
func (k PromotionActionKind) String() string {
	return string(k)
}

// IsValid reports whether the value is a known PromotionActionKind.
func (k PromotionActionKind) IsValid() bool {
	for _, candidate := range validPromotionActionKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParsePromotionActionKind converts raw input into a PromotionActionKind.
func ParsePromotionActionKind(value string) (PromotionActionKind, error) {
	for _, candidate := range validPromotionActionKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid promotion action kind %q", value)
}

// AdjustmentTarget distinguishes order-level from line-item adjustments.
type AdjustmentTarget string

const (
	AdjustmentTargetOrder    AdjustmentTarget = "order"
	AdjustmentTargetLineItem AdjustmentTarget = "line_item"
)

// IsValid reports whether the value is a known AdjustmentTarget.
func (t AdjustmentTarget) IsValid() bool {
	return t == AdjustmentTargetOrder || t == AdjustmentTargetLineItem
}
