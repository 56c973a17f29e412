package models

import (
	"github.com/shopspring/decimal"

	id "merenda/pkg/domain"
	"merenda/pkg/weekrange"
)

// Viewer roles for read projections.
const (
	RoleNutritionist = "nutritionist"
	RoleCoordination = "coordination"
	RoleLogistics    = "logistics"
)

// ProjectedLine is the role-specific read shape of a necessity line.
// Substitution internals are omitted for viewers who only purchase.
type ProjectedLine struct {
	ID              id.LineID           `json:"id"`
	SchoolID        id.SchoolID         `json:"school_id"`
	SchoolName      string              `json:"school_name"`
	ConsumptionWeek weekrange.WeekRange `json:"consumption_week"`
	SupplyWeek      weekrange.WeekRange `json:"supply_week"`
	Status          Status              `json:"status"`

	// Final purchasing view, resolved through any substitution.
	ProductName   string              `json:"product_name"`
	ProductUnit   string              `json:"product_unit"`
	FinalQuantity decimal.NullDecimal `json:"final_quantity"`

	// Nutritionist and coordination detail. Nil for logistics viewers.
	OriginProductID    *id.ProductID        `json:"origin_product_id,omitempty"`
	OriginProductName  *string              `json:"origin_product_name,omitempty"`
	OriginProductUnit  *string              `json:"origin_product_unit,omitempty"`
	QuantityOrigin     *decimal.NullDecimal `json:"quantity_origin,omitempty"`
	GenericProductID   *id.GenericProductID `json:"generic_product_id,omitempty"`
	GenericProductName *string              `json:"generic_product_name,omitempty"`
	QuantityGeneric    *int64               `json:"quantity_generic,omitempty"`
}

// Project is the single source of truth for which fields each viewer role
// sees. Every read path goes through it so view restrictions cannot drift
// between endpoints.
func Project(line *NecessityLine, role string) ProjectedLine {
	p := ProjectedLine{
		ID:              line.ID,
		SchoolID:        line.SchoolID,
		SchoolName:      line.SchoolName,
		ConsumptionWeek: line.ConsumptionWeek,
		SupplyWeek:      line.SupplyWeek,
		Status:          line.Status,
		ProductName:     line.FinalProductName(),
		ProductUnit:     line.FinalProductUnit(),
		FinalQuantity:   line.FinalQuantity(),
	}

	// Logistics purchases the final product; the origin quantities and the
	// substitution mechanics behind them stay with the planning roles.
	if role == RoleLogistics {
		return p
	}

	originID := line.OriginProductID
	originName := line.OriginProductName
	originUnit := line.OriginProductUnit
	qty := line.QuantityOrigin

	p.OriginProductID = &originID
	p.OriginProductName = &originName
	p.OriginProductUnit = &originUnit
	p.QuantityOrigin = &qty
	p.GenericProductID = line.GenericProductID
	p.GenericProductName = line.GenericProductName
	p.QuantityGeneric = line.QuantityGeneric
	return p
}
