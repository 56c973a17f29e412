// Package store persists necessity lines. Stores are pure I/O; workflow
// rules live in the service layer.
package store

import (
	"context"

	"merenda/internal/necessity/models"
	id "merenda/pkg/domain"
	"merenda/pkg/weekrange"
)

// Store is the persistence port for necessity lines.
//
// Error contract:
//   - Insert returns sentinel.ErrConflict when a non-excluded line already
//     exists for the same (school, origin product, consumption week)
//   - Get and Update return sentinel.ErrNotFound for unknown IDs
//   - UpdateAll is atomic: either every line persists or none does
type Store interface {
	Insert(ctx context.Context, line *models.NecessityLine) error
	Get(ctx context.Context, lineID id.LineID) (*models.NecessityLine, error)
	Update(ctx context.Context, line *models.NecessityLine) error
	UpdateAll(ctx context.Context, lines []*models.NecessityLine) error
	List(ctx context.Context, filter ListFilter) ([]*models.NecessityLine, error)

	// FindActive returns the non-excluded line for the duplicate key, or
	// nil when none exists.
	FindActive(ctx context.Context, schoolID id.SchoolID, productID id.ProductID, consumption weekrange.WeekRange) (*models.NecessityLine, error)

	// ListGroup returns every non-excluded member of a group.
	ListGroup(ctx context.Context, key models.GroupKey) ([]*models.NecessityLine, error)
}

// ListFilter narrows a List call. Zero values mean "no restriction" except
// for excluded lines, which stay hidden unless explicitly requested:
// downstream reports treat exclusion as absence.
type ListFilter struct {
	SchoolID        *id.SchoolID
	OriginProductID *id.ProductID
	ConsumptionWeek *weekrange.WeekRange
	SupplyWeek      *weekrange.WeekRange
	Statuses        []models.Status

	// ExcludeFinalized hides FINALIZED lines from working views.
	ExcludeFinalized bool

	// CorrectionView restricts to the statuses the correction subsystem may
	// touch (NEW and NUTRI_ADJUSTED). It deliberately never shows FINALIZED.
	CorrectionView bool

	// IncludeExcluded opts soft-deleted lines back in, for audit views only.
	IncludeExcluded bool
}

// EffectiveStatuses resolves the status restriction implied by the filter
// flags, or nil when any status is acceptable.
func (f ListFilter) EffectiveStatuses() []models.Status {
	if f.CorrectionView {
		return []models.Status{models.StatusNew, models.StatusNutriAdjusted}
	}
	if len(f.Statuses) > 0 {
		return f.Statuses
	}
	return nil
}

// Matches reports whether a line passes the filter. The memory store
// evaluates this directly; the postgres store compiles the same conditions
// into SQL predicates.
func (f ListFilter) Matches(line *models.NecessityLine) bool {
	if f.SchoolID != nil && line.SchoolID != *f.SchoolID {
		return false
	}
	if f.OriginProductID != nil && line.OriginProductID != *f.OriginProductID {
		return false
	}
	if f.ConsumptionWeek != nil && !line.ConsumptionWeek.Equal(*f.ConsumptionWeek) {
		return false
	}
	if f.SupplyWeek != nil && !line.SupplyWeek.Equal(*f.SupplyWeek) {
		return false
	}
	if statuses := f.EffectiveStatuses(); statuses != nil {
		found := false
		for _, s := range statuses {
			if line.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ExcludeFinalized && line.Status == models.StatusFinalized {
		return false
	}
	if !f.IncludeExcluded && line.Status == models.StatusExcluded && !f.statusRequested(models.StatusExcluded) {
		return false
	}
	return true
}

func (f ListFilter) statusRequested(status models.Status) bool {
	for _, s := range f.Statuses {
		if s == status {
			return true
		}
	}
	return false
}
