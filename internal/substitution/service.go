package substitution

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"merenda/internal/audit"
	"merenda/internal/necessity/metrics"
	"merenda/internal/necessity/models"
	"merenda/internal/necessity/store"
	id "merenda/pkg/domain"
	dErrors "merenda/pkg/domain-errors"
	"merenda/pkg/platform/sentinel"
	"merenda/pkg/requestcontext"
)

// Scope selects how widely a mapping applies.
type Scope string

const (
	// ScopeGroup applies the mapping to every school in the group.
	ScopeGroup Scope = "GROUP"

	// ScopeSchool applies the mapping to exactly one school's line and is
	// authoritative over any group-wide mapping for that school.
	ScopeSchool Scope = "SCHOOL"
)

// Mapping links an origin product to a generic purchasing product.
type Mapping struct {
	OriginProductID  id.ProductID          `json:"origin_product_id"`
	Generic          models.GenericProduct `json:"generic"`
	ConversionFactor decimal.Decimal       `json:"conversion_factor"`
	Scope            Scope                 `json:"scope"`
	SchoolID         id.SchoolID           `json:"school_id,omitempty"`
}

// Validate checks the mapping's own invariants, independent of any line.
func (m Mapping) Validate() error {
	if m.OriginProductID.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "origin product is required")
	}
	if m.Generic.ID.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "generic product is required")
	}
	if !m.ConversionFactor.IsPositive() {
		return dErrors.New(dErrors.CodeValidation, "conversion factor must be greater than zero")
	}
	switch m.Scope {
	case ScopeGroup:
		if !m.SchoolID.IsZero() {
			return dErrors.New(dErrors.CodeValidation, "group scope does not take a school")
		}
	case ScopeSchool:
		if m.SchoolID.IsZero() {
			return dErrors.New(dErrors.CodeValidation, "school scope requires a school")
		}
	default:
		return dErrors.Newf(dErrors.CodeValidation, "unknown scope %q", m.Scope)
	}
	return nil
}

// Service applies and undoes substitutions on necessity lines.
type Service struct {
	lines   store.Store
	catalog Catalog
	audit   audit.Publisher
	metrics *metrics.Metrics
	logger  *slog.Logger
}

type serviceConfig struct {
	audit   audit.Publisher
	metrics *metrics.Metrics
}

// Option configures optional service collaborators.
type Option func(*serviceConfig)

// WithAuditPublisher wires the audit pipeline.
func WithAuditPublisher(p audit.Publisher) Option {
	return func(c *serviceConfig) { c.audit = p }
}

// WithMetrics wires prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *serviceConfig) { c.metrics = m }
}

func NewService(lines store.Store, catalog Catalog, logger *slog.Logger, opts ...Option) *Service {
	cfg := &serviceConfig{audit: audit.NopPublisher{}}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Service{
		lines:   lines,
		catalog: catalog,
		audit:   cfg.audit,
		metrics: cfg.metrics,
		logger:  logger,
	}
}

// Candidates lists the generic products an origin product may be purchased
// as, for the nutritionist's picker.
func (s *Service) Candidates(ctx context.Context, originProductID id.ProductID) ([]Candidate, error) {
	if originProductID.IsZero() {
		return nil, dErrors.New(dErrors.CodeValidation, "origin product is required")
	}
	return s.catalog.ListCandidates(ctx, originProductID)
}

// Apply computes quantity_generic = ceil(quantity_origin / factor) for every
// affected line and records the generic product on it. Group scope touches
// every member uniformly; school scope touches exactly one line, overriding
// whatever a group mapping wrote there earlier (last writer wins at school
// granularity).
//
// Nothing persists unless every affected line accepts the mapping.
func (s *Service) Apply(ctx context.Context, key models.GroupKey, m Mapping) ([]*models.NecessityLine, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	if m.OriginProductID != key.OriginProductID {
		return nil, dErrors.New(dErrors.CodeValidation, "mapping origin product does not match the group")
	}

	members, err := s.lines.ListGroup(ctx, key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load necessity group")
	}
	if len(members) == 0 {
		return nil, dErrors.Newf(dErrors.CodeNotFound, "no lines in group (%s)", key)
	}

	affected := members
	if m.Scope == ScopeSchool {
		affected = nil
		for _, line := range members {
			if line.SchoolID == m.SchoolID {
				affected = []*models.NecessityLine{line}
				break
			}
		}
		if affected == nil {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "school %s has no line in group (%s)", m.SchoolID, key)
		}
	}

	now := requestcontext.Now(ctx)
	operator := requestcontext.Operator(ctx)
	for _, line := range affected {
		if err := line.CanSubstitute(); err != nil {
			return nil, err
		}
		if err := line.ApplySubstitution(m.Generic, m.ConversionFactor, now, operator); err != nil {
			return nil, err
		}
	}

	if err := s.lines.UpdateAll(ctx, affected); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist substitution")
	}

	for _, line := range affected {
		if s.metrics != nil {
			s.metrics.SubstitutionsApplied.Inc()
		}
		s.audit.Publish(audit.Event{
			Timestamp: now,
			Action:    audit.ActionSubstitutionApplied,
			LineID:    line.ID,
			SchoolID:  line.SchoolID,
			GroupKey:  key.String(),
			Operator:  operator,
			Role:      requestcontext.Role(ctx),
			RequestID: requestcontext.RequestID(ctx),
			Detail:    "generic product " + m.Generic.Name,
		})
	}

	s.logger.InfoContext(ctx, "substitution applied",
		"group", key.String(),
		"scope", string(m.Scope),
		"lines", len(affected),
		"generic_product_id", m.Generic.ID,
	)
	return affected, nil
}

// Undo clears the substitution from one line, restoring the
// pre-substitution state. Undoing a line that has no substitution is a
// no-op, not an error.
func (s *Service) Undo(ctx context.Context, lineID id.LineID) (*models.NecessityLine, error) {
	line, err := s.lines.Get(ctx, lineID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "line %s not found", lineID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load necessity line")
	}
	if err := line.CanSubstitute(); err != nil {
		return nil, err
	}
	if !line.HasSubstitution() {
		return line, nil
	}

	now := requestcontext.Now(ctx)
	operator := requestcontext.Operator(ctx)
	line.ClearSubstitution(now, operator)
	if err := s.lines.Update(ctx, line); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist substitution undo")
	}

	s.audit.Publish(audit.Event{
		Timestamp: now,
		Action:    audit.ActionSubstitutionUndone,
		LineID:    line.ID,
		SchoolID:  line.SchoolID,
		GroupKey:  line.GroupKey().String(),
		Operator:  operator,
		Role:      requestcontext.Role(ctx),
		RequestID: requestcontext.RequestID(ctx),
	})
	return line, nil
}
