package models

import (
	"time"

	"github.com/shopspring/decimal"

	id "merenda/pkg/domain"
	dErrors "merenda/pkg/domain-errors"
	"merenda/pkg/weekrange"
)

// NecessityLine is one purchase requirement: a school needs a quantity of a
// product for one consumption week, procured during the supply week.
//
// Invariants:
//   - QuantityGeneric = ceil(QuantityOrigin / conversion factor) whenever a
//     substitution is applied
//   - QuantityGeneric is nil iff no substitution exists
//   - lines are never physically deleted; exclusion is a status
type NecessityLine struct {
	ID                id.LineID           `json:"id"`
	SchoolID          id.SchoolID         `json:"school_id"`
	SchoolName        string              `json:"school_name"`
	OriginProductID   id.ProductID        `json:"origin_product_id"`
	OriginProductName string              `json:"origin_product_name"`
	OriginProductUnit string              `json:"origin_product_unit"`
	QuantityOrigin    decimal.NullDecimal `json:"quantity_origin"`
	ConsumptionWeek   weekrange.WeekRange `json:"consumption_week"`
	SupplyWeek        weekrange.WeekRange `json:"supply_week"`
	Status            Status              `json:"status"`

	// Substitution fields. All nil until the nutritionist applies a mapping.
	GenericProductID   *id.GenericProductID `json:"generic_product_id,omitempty"`
	GenericProductName *string              `json:"generic_product_name,omitempty"`
	GenericProductUnit *string              `json:"generic_product_unit,omitempty"`
	QuantityGeneric    *int64               `json:"quantity_generic,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	CreatedBy string    `json:"created_by,omitempty"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// GenericProduct identifies the standardized purchasing product a
// substitution maps onto.
type GenericProduct struct {
	ID   id.GenericProductID `json:"id"`
	Name string              `json:"name"`
	Unit string              `json:"unit"`
}

// NewNecessityLine builds a line in StatusNew with the supply week derived
// from the consumption week.
func NewNecessityLine(
	lineID id.LineID,
	schoolID id.SchoolID,
	schoolName string,
	productID id.ProductID,
	productName, productUnit string,
	quantity decimal.NullDecimal,
	consumption weekrange.WeekRange,
	now time.Time,
	createdBy string,
) (*NecessityLine, error) {
	if schoolID.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "school is required")
	}
	if productID.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "origin product is required")
	}
	if consumption.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "consumption week is required")
	}
	if quantity.Valid && quantity.Decimal.IsNegative() {
		return nil, dErrors.New(dErrors.CodeValidation, "origin quantity cannot be negative")
	}
	return &NecessityLine{
		ID:                lineID,
		SchoolID:          schoolID,
		SchoolName:        schoolName,
		OriginProductID:   productID,
		OriginProductName: productName,
		OriginProductUnit: productUnit,
		QuantityOrigin:    quantity,
		ConsumptionWeek:   consumption,
		SupplyWeek:        weekrange.NextSupplyWindow(consumption),
		Status:            StatusNew,
		CreatedAt:         now,
		UpdatedAt:         now,
		CreatedBy:         createdBy,
		UpdatedBy:         createdBy,
	}, nil
}

// GroupKey returns the grouping key this line belongs to.
func (l *NecessityLine) GroupKey() GroupKey {
	return GroupKey{
		OriginProductID: l.OriginProductID,
		ConsumptionWeek: l.ConsumptionWeek,
		SupplyWeek:      l.SupplyWeek,
	}
}

// HasSubstitution reports whether a generic product is currently applied.
func (l *NecessityLine) HasSubstitution() bool {
	return l.GenericProductID != nil
}

// CanSubstitute checks that the line still admits substitution changes.
func (l *NecessityLine) CanSubstitute() error {
	if l.Status == StatusFinalized || l.Status == StatusExcluded {
		return dErrors.Newf(dErrors.CodeInvalidState, "line %s is %s and cannot be substituted", l.ID, l.Status)
	}
	return nil
}

// ApplySubstitution sets the generic product and computes the generic
// quantity as ceil(origin / factor). Advances NEW to NUTRI_ADJUSTED; never
// regresses a line already past that stage. Call CanSubstitute first.
func (l *NecessityLine) ApplySubstitution(gen GenericProduct, factor decimal.Decimal, now time.Time, operator string) error {
	if !factor.IsPositive() {
		return dErrors.New(dErrors.CodeValidation, "conversion factor must be greater than zero")
	}
	if !l.QuantityOrigin.Valid {
		return dErrors.Newf(dErrors.CodeValidation, "line %s has no origin quantity to convert", l.ID)
	}

	qty := l.QuantityOrigin.Decimal.Div(factor).Ceil().IntPart()

	l.GenericProductID = &gen.ID
	l.GenericProductName = &gen.Name
	l.GenericProductUnit = &gen.Unit
	l.QuantityGeneric = &qty
	l.markAdjusted(now, operator)
	return nil
}

// ClearSubstitution reverts the line to its pre-substitution state. Calling
// it on a line with no substitution is a no-op, not an error.
func (l *NecessityLine) ClearSubstitution(now time.Time, operator string) {
	if !l.HasSubstitution() {
		return
	}
	l.GenericProductID = nil
	l.GenericProductName = nil
	l.GenericProductUnit = nil
	l.QuantityGeneric = nil
	l.markAdjusted(now, operator)
}

func (l *NecessityLine) markAdjusted(now time.Time, operator string) {
	if l.Status == StatusNew {
		l.Status = StatusNutriAdjusted
	}
	l.UpdatedAt = now
	l.UpdatedBy = operator
}

// CanRelease checks the per-line precondition for release. The group-wide
// precondition (every member has a quantity) lives in the service.
func (l *NecessityLine) CanRelease() error {
	if !l.Status.CanTransitionTo(StatusAwaitingCoordination) {
		return dErrors.Newf(dErrors.CodeInvalidState, "line %s is %s and cannot be released", l.ID, l.Status)
	}
	if !l.QuantityOrigin.Valid {
		return dErrors.Newf(dErrors.CodeInvalidState, "line %s has no origin quantity", l.ID)
	}
	return nil
}

// ApplyRelease moves the line to AWAITING_COORDINATION. Call CanRelease first.
func (l *NecessityLine) ApplyRelease(now time.Time, operator string) {
	l.Status = StatusAwaitingCoordination
	l.UpdatedAt = now
	l.UpdatedBy = operator
}

// CanFinalize checks the precondition for the irreversible transition.
func (l *NecessityLine) CanFinalize() error {
	if !l.Status.CanTransitionTo(StatusFinalized) {
		return dErrors.Newf(dErrors.CodeInvalidState, "line %s is %s and cannot be finalized", l.ID, l.Status)
	}
	return nil
}

// ApplyFinalize moves the line to FINALIZED. Call CanFinalize first.
func (l *NecessityLine) ApplyFinalize(now time.Time, operator string) {
	l.Status = StatusFinalized
	l.UpdatedAt = now
	l.UpdatedBy = operator
}

// CanExclude checks whether the line may be soft deleted.
func (l *NecessityLine) CanExclude() error {
	if !l.Status.CanTransitionTo(StatusExcluded) {
		return dErrors.Newf(dErrors.CodeInvalidState, "line %s is %s and cannot be excluded", l.ID, l.Status)
	}
	return nil
}

// ApplyExclude marks the line as soft deleted. Call CanExclude first.
func (l *NecessityLine) ApplyExclude(now time.Time, operator string) {
	l.Status = StatusExcluded
	l.UpdatedAt = now
	l.UpdatedBy = operator
}

// CanCorrect checks whether the line may be re-dated by a correction.
func (l *NecessityLine) CanCorrect() error {
	if !l.Status.CanCorrect() {
		return dErrors.Newf(dErrors.CodeInvalidState, "line %s is %s and cannot be corrected", l.ID, l.Status)
	}
	return nil
}

// ApplyCorrection moves the line to a new week pair. Identity (id, school,
// product) is untouched so the audit trail back to the generation event
// survives. Call CanCorrect first.
func (l *NecessityLine) ApplyCorrection(consumption, supply weekrange.WeekRange, now time.Time, operator string) {
	l.ConsumptionWeek = consumption
	l.SupplyWeek = supply
	l.UpdatedAt = now
	l.UpdatedBy = operator
}

// FinalQuantity returns the quantity the purchaser acts on: the generic
// quantity when a substitution exists, otherwise the origin quantity.
func (l *NecessityLine) FinalQuantity() decimal.NullDecimal {
	if l.QuantityGeneric != nil {
		return decimal.NullDecimal{Decimal: decimal.NewFromInt(*l.QuantityGeneric), Valid: true}
	}
	return l.QuantityOrigin
}

// FinalProductName returns the product name the purchaser acts on.
func (l *NecessityLine) FinalProductName() string {
	if l.GenericProductName != nil {
		return *l.GenericProductName
	}
	return l.OriginProductName
}

// FinalProductUnit returns the unit that goes with FinalProductName.
func (l *NecessityLine) FinalProductUnit() string {
	if l.GenericProductUnit != nil {
		return *l.GenericProductUnit
	}
	return l.OriginProductUnit
}

// Clone returns a deep copy. Stores hand out clones so callers cannot
// mutate shared state behind the store's back.
func (l *NecessityLine) Clone() *NecessityLine {
	c := *l
	if l.GenericProductID != nil {
		v := *l.GenericProductID
		c.GenericProductID = &v
	}
	if l.GenericProductName != nil {
		v := *l.GenericProductName
		c.GenericProductName = &v
	}
	if l.GenericProductUnit != nil {
		v := *l.GenericProductUnit
		c.GenericProductUnit = &v
	}
	if l.QuantityGeneric != nil {
		v := *l.QuantityGeneric
		c.QuantityGeneric = &v
	}
	return &c
}

// DuplicateLineError reports that a non-excluded line already exists for the
// same (school, origin product, consumption week). The existing line rides
// along unmodified so callers can show it without a second query.
type DuplicateLineError struct {
	Existing *NecessityLine
}

func (e *DuplicateLineError) Error() string {
	return "necessity line already exists for school " + e.Existing.SchoolID.String() +
		", product " + e.Existing.OriginProductID.String() +
		", week " + e.Existing.ConsumptionWeek.Label()
}
