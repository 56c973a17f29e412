package service

import (
	"context"
	"time"

	"merenda/internal/audit"
	"merenda/internal/batch"
	"merenda/internal/necessity/models"
	dErrors "merenda/pkg/domain-errors"
	"merenda/pkg/requestcontext"
)

// Release hands a whole group over to coordination. Every member must pass
// CanRelease before anything persists: a single line with a missing quantity
// or a wrong status keeps the entire group in the nutritionist's working set.
func (s *Service) Release(ctx context.Context, key models.GroupKey) ([]*models.NecessityLine, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ObserveRelease(start)
		}
	}()

	lines, err := s.loadGroup(ctx, key)
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		if err := line.CanRelease(); err != nil {
			return nil, err
		}
	}

	now := requestcontext.Now(ctx)
	operator := requestcontext.Operator(ctx)
	for _, line := range lines {
		line.ApplyRelease(now, operator)
	}
	if err := s.lines.UpdateAll(ctx, lines); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist release")
	}

	for _, line := range lines {
		if s.metrics != nil {
			s.metrics.LinesReleased.Inc()
		}
		s.publishLineEvent(ctx, audit.ActionReleased, line, now)
	}
	s.logger.InfoContext(ctx, "group released to coordination",
		"group", key.String(),
		"lines", len(lines),
	)
	return lines, nil
}

// ReleaseMany releases groups one at a time through the batch runner. Groups
// that fail their precondition are reported and skipped; the rest still go
// through.
func (s *Service) ReleaseMany(ctx context.Context, keys []models.GroupKey, opts ...batch.Option) batch.Report {
	report := batch.Run(ctx, keys,
		func(key models.GroupKey) string { return key.String() },
		func(ctx context.Context, key models.GroupKey) error {
			_, err := s.Release(ctx, key)
			return err
		},
		opts...,
	)
	if s.metrics != nil {
		for _, item := range report.Results {
			s.metrics.CountBatchItem("release", item.Succeeded())
		}
	}
	return report
}

// Finalize closes a group. FINALIZED is irreversible: no later substitution,
// correction or exclusion can touch these lines.
func (s *Service) Finalize(ctx context.Context, key models.GroupKey) ([]*models.NecessityLine, error) {
	lines, err := s.loadGroup(ctx, key)
	if err != nil {
		return nil, err
	}
	for _, line := range lines {
		if err := line.CanFinalize(); err != nil {
			return nil, err
		}
	}

	now := requestcontext.Now(ctx)
	operator := requestcontext.Operator(ctx)
	for _, line := range lines {
		line.ApplyFinalize(now, operator)
	}
	if err := s.lines.UpdateAll(ctx, lines); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist finalization")
	}

	for _, line := range lines {
		if s.metrics != nil {
			s.metrics.LinesFinalized.Inc()
		}
		s.publishLineEvent(ctx, audit.ActionFinalized, line, now)
	}
	s.logger.InfoContext(ctx, "group finalized",
		"group", key.String(),
		"lines", len(lines),
	)
	return lines, nil
}

func (s *Service) loadGroup(ctx context.Context, key models.GroupKey) ([]*models.NecessityLine, error) {
	lines, err := s.lines.ListGroup(ctx, key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load group")
	}
	if len(lines) == 0 {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "group %s not found", key)
	}
	return lines, nil
}

func (s *Service) publishLineEvent(ctx context.Context, action audit.Action, line *models.NecessityLine, at time.Time) {
	s.audit.Publish(audit.Event{
		Timestamp: at,
		Action:    action,
		LineID:    line.ID,
		SchoolID:  line.SchoolID,
		GroupKey:  line.GroupKey().String(),
		Operator:  requestcontext.Operator(ctx),
		Role:      requestcontext.Role(ctx),
		RequestID: requestcontext.RequestID(ctx),
	})
}
