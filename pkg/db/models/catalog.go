package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mercatto/commerce-core/pkg/enums"
)

// Variant is the minimal sellable read model the core needs: pricing per
// currency, availability flags, and taxon classification for promotion rules.
// Catalog editing happens outside the core.
type Variant struct {
	ID           uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	SKU          string         `gorm:"column:sku;not null;uniqueIndex"`
	Name         string         `gorm:"column:name;not null"`
	Active       bool           `gorm:"column:active;not null;default:true"`
	Discontinued bool           `gorm:"column:discontinued;not null;default:false"`
	WeightGrams  int            `gorm:"column:weight_grams;not null;default:0"`
	Prices       []VariantPrice `gorm:"foreignKey:VariantID;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (v *Variant) BeforeCreate(_ *gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// VariantPrice is the current price of a variant in one currency.
type VariantPrice struct {
	ID         uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	VariantID  uuid.UUID      `gorm:"column:variant_id;type:uuid;not null;uniqueIndex:ux_variant_prices_variant_currency"`
	Currency   enums.Currency `gorm:"column:currency;type:text;not null;uniqueIndex:ux_variant_prices_variant_currency"`
	AmountCents int64         `gorm:"column:amount_cents;not null"`
	UpdatedAt  time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (p *VariantPrice) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// Taxon is one node of the classification tree promotion rules match against.
type Taxon struct {
	ID       uuid.UUID  `gorm:"column:id;type:uuid;primaryKey"`
	ParentID *uuid.UUID `gorm:"column:parent_id;type:uuid;index"`
	Name     string     `gorm:"column:name;not null"`
}

func (t *Taxon) BeforeCreate(_ *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// VariantTaxon classifies a variant under a taxon.
type VariantTaxon struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	VariantID uuid.UUID `gorm:"column:variant_id;type:uuid;not null;index"`
	TaxonID   uuid.UUID `gorm:"column:taxon_id;type:uuid;not null;index"`
}

func (vt *VariantTaxon) BeforeCreate(_ *gorm.DB) error {
	if vt.ID == uuid.Nil {
		vt.ID = uuid.New()
	}
	return nil
}
