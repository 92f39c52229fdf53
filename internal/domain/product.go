package domain

import (
	"github.com/shopspring/decimal"
)

// Product is the slice of catalog data checkout needs.
type Product struct {
	ID           string              `json:"id"`
	Name         string              `json:"name"`
	SKU          string              `json:"sku"`
	Published    bool                `json:"published"`
	Approved     bool                `json:"approved"`
	Stock        int                 `json:"stock"`
	RegularPrice decimal.Decimal     `json:"regular_price"`
	SalePrice    decimal.NullDecimal `json:"sale_price"`
	CategoryIDs  []string            `json:"category_ids"`
	Attributes   []AttributeValue    `json:"attributes,omitempty"`
}

// AttributeValue is a selectable variant option (e.g. size XL). A set Price
// overrides the product price when the value is selected.
type AttributeValue struct {
	ID          string              `json:"id"`
	AttributeID string              `json:"attribute_id"`
	Name        string              `json:"name"`
	Value       string              `json:"value"`
	Price       decimal.NullDecimal `json:"price"`
}

// Purchasable reports whether the product may be sold at all.
func (p *Product) Purchasable() bool {
	return p.Published && p.Approved
}

// BasePrice is the sale price when one is set and positive, else the regular
// price.
func (p *Product) BasePrice() decimal.Decimal {
	if p.SalePrice.Valid && p.SalePrice.Decimal.IsPositive() {
		return p.SalePrice.Decimal
	}
	return p.RegularPrice
}

// UnitPrice resolves the price for a line with the given selected attribute
// value IDs. The first selected value carrying its own price wins, in the
// order the values were selected.
func (p *Product) UnitPrice(selected []string) decimal.Decimal {
	for _, id := range selected {
		for _, av := range p.Attributes {
			if av.ID == id && av.Price.Valid {
				return av.Price.Decimal
			}
		}
	}
	return p.BasePrice()
}

// SelectedAttributes returns the attribute values matching the selected IDs,
// skipping unknown IDs.
func (p *Product) SelectedAttributes(selected []string) []AttributeValue {
	var out []AttributeValue
	for _, id := range selected {
		for _, av := range p.Attributes {
			if av.ID == id {
				out = append(out, av)
				break
			}
		}
	}
	return out
}

// CartLine is one row of an active cart.
type CartLine struct {
	ProductID        string   `json:"product_id"`
	Quantity         int      `json:"quantity"`
	SelectedVariants []string `json:"selected_variants,omitempty"`
}
