// Package substitution maps origin products onto standardized purchasing
// products and keeps line quantities consistent with the conversion factor.
package substitution

import (
	"context"

	"github.com/shopspring/decimal"

	id "merenda/pkg/domain"
)

// Candidate is one generic product an origin product can be purchased as.
type Candidate struct {
	ID               id.GenericProductID `json:"id"`
	Name             string              `json:"name"`
	Unit             string              `json:"unit"`
	ConversionFactor decimal.Decimal     `json:"conversion_factor"`
	IsStandard       bool                `json:"is_standard"`
}

// Catalog lists substitution candidates for an origin product. Implemented
// by the product catalog service; decorated with a Redis cache in
// production wiring.
type Catalog interface {
	ListCandidates(ctx context.Context, originProductID id.ProductID) ([]Candidate, error)
}
