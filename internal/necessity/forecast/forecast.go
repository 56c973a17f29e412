// Package forecast projects per-school consumption for one week from
// per-capita coefficients, with historical averages as the fallback.
package forecast

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	id "merenda/pkg/domain"
	dErrors "merenda/pkg/domain-errors"
	"merenda/pkg/weekrange"
)

// MealPeriod is one of the serving periods a school plans for.
type MealPeriod string

const (
	PeriodBreakfastSnack MealPeriod = "breakfast_snack"
	PeriodLunch          MealPeriod = "lunch"
	PeriodAfternoonSnack MealPeriod = "afternoon_snack"
	PeriodPartial        MealPeriod = "partial"
	PeriodSpecialDiet    MealPeriod = "special_diet"
)

// AllPeriods lists every meal period in serving order.
var AllPeriods = []MealPeriod{
	PeriodBreakfastSnack,
	PeriodLunch,
	PeriodAfternoonSnack,
	PeriodPartial,
	PeriodSpecialDiet,
}

// Source supplies forecast inputs. Implemented by the external planning
// system; faked in tests.
type Source interface {
	// PerCapita returns the per-student coefficient for each meal period
	// the product participates in. Missing periods simply have no entry.
	PerCapita(ctx context.Context, productID id.ProductID) (map[MealPeriod]decimal.Decimal, error)

	// HistoricalAverage returns the observed average consumption per meal
	// period for a school around the given date.
	HistoricalAverage(ctx context.Context, schoolID id.SchoolID, date time.Time) (map[MealPeriod]decimal.Decimal, error)
}

// Input describes one (school, product) projection request.
type Input struct {
	SchoolID        id.SchoolID
	SchoolName      string
	ProductID       id.ProductID
	ProductName     string
	ProductUnit     string
	ConsumptionWeek weekrange.WeekRange

	// Frequency is the number of servings planned per meal period during
	// the consumption week. Periods with zero frequency contribute nothing.
	Frequency map[MealPeriod]int64
}

// Projection is one necessity line candidate.
type Projection struct {
	SchoolID        id.SchoolID
	SchoolName      string
	ProductID       id.ProductID
	ProductName     string
	ProductUnit     string
	ConsumptionWeek weekrange.WeekRange
	Quantity        decimal.NullDecimal
}

// Aggregator turns forecast inputs into projected quantities.
type Aggregator struct {
	source Source
	logger *slog.Logger
}

func NewAggregator(source Source, logger *slog.Logger) *Aggregator {
	return &Aggregator{source: source, logger: logger}
}

// Project computes the projected quantity for one school and product:
// the sum over meal periods of per-capita coefficient times serving
// frequency. When a product carries no per-capita coefficient for a period
// with planned servings, the school's historical average for that period
// substitutes for the whole term.
//
// A projection against an undefined school or week is refused outright
// rather than silently aggregated.
func (a *Aggregator) Project(ctx context.Context, in Input) (Projection, error) {
	if in.SchoolID.IsZero() {
		return Projection{}, dErrors.New(dErrors.CodeValidation, "school is required")
	}
	if in.ConsumptionWeek.IsZero() {
		return Projection{}, dErrors.New(dErrors.CodeValidation, "consumption week is required")
	}
	if in.ProductID.IsZero() {
		return Projection{}, dErrors.New(dErrors.CodeValidation, "product is required")
	}

	perCapita, err := a.source.PerCapita(ctx, in.ProductID)
	if err != nil {
		return Projection{}, dErrors.Wrap(err, dErrors.CodeInternal, "fetch per-capita coefficients")
	}

	var historical map[MealPeriod]decimal.Decimal

	total := decimal.Zero
	projected := false
	for _, period := range AllPeriods {
		freq := in.Frequency[period]
		if freq <= 0 {
			continue
		}

		if coeff, ok := perCapita[period]; ok {
			total = total.Add(coeff.Mul(decimal.NewFromInt(freq)))
			projected = true
			continue
		}

		// Lazy fetch: most products have full coefficient coverage.
		if historical == nil {
			historical, err = a.source.HistoricalAverage(ctx, in.SchoolID, in.ConsumptionWeek.Start)
			if err != nil {
				return Projection{}, dErrors.Wrap(err, dErrors.CodeInternal, "fetch historical average")
			}
		}
		if avg, ok := historical[period]; ok {
			total = total.Add(avg)
			projected = true
		} else {
			a.logger.WarnContext(ctx, "no forecast data for meal period",
				"school_id", in.SchoolID,
				"product_id", in.ProductID,
				"period", string(period),
			)
		}
	}

	quantity := decimal.NullDecimal{}
	if projected {
		quantity = decimal.NullDecimal{Decimal: total, Valid: true}
	}

	return Projection{
		SchoolID:        in.SchoolID,
		SchoolName:      in.SchoolName,
		ProductID:       in.ProductID,
		ProductName:     in.ProductName,
		ProductUnit:     in.ProductUnit,
		ConsumptionWeek: in.ConsumptionWeek,
		Quantity:        quantity,
	}, nil
}

// ProjectAll projects every input, accumulating per-input failures instead
// of aborting the batch. The error slice is index-aligned with inputs.
func (a *Aggregator) ProjectAll(ctx context.Context, inputs []Input) ([]Projection, []error) {
	projections := make([]Projection, 0, len(inputs))
	errs := make([]error, len(inputs))
	for i, in := range inputs {
		p, err := a.Project(ctx, in)
		if err != nil {
			errs[i] = err
			continue
		}
		projections = append(projections, p)
	}
	return projections, errs
}
