package service

import (
	"context"
	"errors"
	"time"

	"merenda/internal/audit"
	"merenda/internal/necessity/models"
	id "merenda/pkg/domain"
	dErrors "merenda/pkg/domain-errors"
	"merenda/pkg/platform/sentinel"
	"merenda/pkg/requestcontext"
	"merenda/pkg/weekrange"
)

// CorrectionInput moves lines to a new week pair.
type CorrectionInput struct {
	NewConsumptionWeek weekrange.WeekRange `json:"new_consumption_week"`

	// NewSupplyWeek overrides the derived supply window. Nil means the
	// standard rule applies: the week right after the new consumption week.
	NewSupplyWeek *weekrange.WeekRange `json:"new_supply_week,omitempty"`

	// AffectedSchools limits the correction to a subset of the group. Empty
	// means the whole group moves. A partial correction splits the group:
	// moved lines form a new group under the new week pair.
	AffectedSchools []id.SchoolID `json:"affected_schools,omitempty"`
}

// Correct re-dates group members. Only NEW and NUTRI_ADJUSTED lines admit
// correction; one ineligible affected line rejects the whole call with no
// mutation. Line identity survives, so the audit trail still reaches the
// original generation event.
func (s *Service) Correct(ctx context.Context, key models.GroupKey, in CorrectionInput) ([]*models.NecessityLine, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveCorrection(start)
		}
	}()

	if in.NewConsumptionWeek.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "new consumption week is required")
	}
	if key.ConsumptionWeek.Equal(in.NewConsumptionWeek) && in.NewSupplyWeek == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "correction does not change the week pair")
	}

	supply := weekrange.NextSupplyWindow(in.NewConsumptionWeek)
	if in.NewSupplyWeek != nil {
		supply = *in.NewSupplyWeek
	}
	if supply.Start.Before(in.NewConsumptionWeek.Start) {
		return nil, dErrors.New(dErrors.CodeValidation, "supply week cannot precede the consumption week")
	}

	members, err := s.loadGroup(ctx, key)
	if err != nil {
		return nil, err
	}

	affected, err := selectAffected(members, in.AffectedSchools)
	if err != nil {
		return nil, err
	}
	for _, line := range affected {
		if err := line.CanCorrect(); err != nil {
			return nil, err
		}
	}

	// A line may not land on a week where the school already has an active
	// line for the same product.
	for _, line := range affected {
		existing, err := s.lines.FindActive(ctx, line.SchoolID, line.OriginProductID, in.NewConsumptionWeek)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "check correction target")
		}
		if existing != nil && existing.ID != line.ID {
			return nil, dErrors.Newf(dErrors.CodeConflict,
				"school %s already has an active line for product %s in week %s",
				line.SchoolID, line.OriginProductID, in.NewConsumptionWeek.Label())
		}
	}

	now := requestcontext.Now(ctx)
	operator := requestcontext.Operator(ctx)
	for _, line := range affected {
		line.ApplyCorrection(in.NewConsumptionWeek, supply, now, operator)
	}
	if err := s.lines.UpdateAll(ctx, affected); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Newf(dErrors.CodeConflict,
				"another line already occupies week %s", in.NewConsumptionWeek.Label())
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist correction")
	}

	for _, line := range affected {
		if s.metrics != nil {
			s.metrics.LinesCorrected.Inc()
		}
		s.audit.Publish(audit.Event{
			Timestamp: now,
			Action:    audit.ActionCorrected,
			LineID:    line.ID,
			SchoolID:  line.SchoolID,
			GroupKey:  line.GroupKey().String(),
			Operator:  operator,
			Role:      requestcontext.Role(ctx),
			RequestID: requestcontext.RequestID(ctx),
			Detail:    "moved from " + key.ConsumptionWeek.Label() + " to " + in.NewConsumptionWeek.Label(),
		})
	}
	s.logger.InfoContext(ctx, "group corrected",
		"group", key.String(),
		"new_consumption_week", in.NewConsumptionWeek.Label(),
		"moved", len(affected),
		"split", len(affected) < len(members),
	)
	return affected, nil
}

func selectAffected(members []*models.NecessityLine, schools []id.SchoolID) ([]*models.NecessityLine, error) {
	if len(schools) == 0 {
		return members, nil
	}

	bySchool := make(map[id.SchoolID]*models.NecessityLine, len(members))
	for _, line := range members {
		bySchool[line.SchoolID] = line
	}

	affected := make([]*models.NecessityLine, 0, len(schools))
	for _, school := range schools {
		line, ok := bySchool[school]
		if !ok {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "school %s has no line in the group", school)
		}
		affected = append(affected, line)
	}
	return affected, nil
}
