// Package service orchestrates the necessity workflow: generation from
// forecasts, listing, soft deletion, release, finalization, correction,
// export and import.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"merenda/internal/audit"
	"merenda/internal/necessity/forecast"
	"merenda/internal/necessity/metrics"
	"merenda/internal/necessity/models"
	"merenda/internal/necessity/store"
	id "merenda/pkg/domain"
	dErrors "merenda/pkg/domain-errors"
	"merenda/pkg/platform/sentinel"
	"merenda/pkg/requestcontext"
	"merenda/pkg/weekrange"
)

// Service owns every mutation of necessity lines.
type Service struct {
	lines     store.Store
	forecast  *forecast.Aggregator
	directory Directory
	audit     audit.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

type serviceConfig struct {
	forecast  *forecast.Aggregator
	directory Directory
	audit     audit.Publisher
	metrics   *metrics.Metrics
}

// Option configures optional service collaborators.
type Option func(*serviceConfig)

// WithForecast enables forecast-driven generation.
func WithForecast(agg *forecast.Aggregator) Option {
	return func(c *serviceConfig) { c.forecast = agg }
}

// WithDirectory resolves import rows against the school and product
// directories instead of trusting row-provided names.
func WithDirectory(d Directory) Option {
	return func(c *serviceConfig) { c.directory = d }
}

// WithAuditPublisher wires the audit pipeline.
func WithAuditPublisher(p audit.Publisher) Option {
	return func(c *serviceConfig) { c.audit = p }
}

// WithMetrics wires prometheus counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *serviceConfig) { c.metrics = m }
}

func New(lines store.Store, logger *slog.Logger, opts ...Option) *Service {
	cfg := &serviceConfig{audit: audit.NopPublisher{}}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Service{
		lines:     lines,
		forecast:  cfg.forecast,
		directory: cfg.directory,
		audit:     cfg.audit,
		metrics:   cfg.metrics,
		logger:    logger,
	}
}

// Candidate is one line to generate for a school and week.
type Candidate struct {
	ProductID   id.ProductID        `json:"product_id"`
	ProductName string              `json:"product_name"`
	ProductUnit string              `json:"product_unit"`
	Quantity    decimal.NullDecimal `json:"quantity"`
}

// GenerateInput creates lines for one school and consumption week.
type GenerateInput struct {
	SchoolID        id.SchoolID         `json:"school_id"`
	SchoolName      string              `json:"school_name"`
	ConsumptionWeek weekrange.WeekRange `json:"consumption_week"`
	Candidates      []Candidate         `json:"candidates"`
}

// Conflict pairs a rejected candidate with the pre-existing line, returned
// unmodified so the caller can show it without a second query.
type Conflict struct {
	ProductID id.ProductID          `json:"product_id"`
	Existing  *models.NecessityLine `json:"existing"`
}

// GenerateResult reports what happened per candidate. Each candidate is an
// independent operation: a conflict on one never rolls back its siblings.
type GenerateResult struct {
	Created   []*models.NecessityLine `json:"created"`
	Conflicts []Conflict              `json:"conflicts,omitempty"`
}

// Generate inserts one NEW line per candidate, with the supply week derived
// deterministically from the consumption week. A candidate whose
// (school, product, consumption week) already has a non-excluded line is
// rejected with the existing line attached.
func (s *Service) Generate(ctx context.Context, in GenerateInput) (GenerateResult, error) {
	start := time.Now()
	defer s.observeGenerate(start)

	if in.SchoolID.IsZero() {
		return GenerateResult{}, dErrors.New(dErrors.CodeValidation, "school is required")
	}
	if in.ConsumptionWeek.IsZero() {
		return GenerateResult{}, dErrors.New(dErrors.CodeValidation, "consumption week is required")
	}
	if len(in.Candidates) == 0 {
		return GenerateResult{}, dErrors.New(dErrors.CodeValidation, "at least one candidate is required")
	}

	now := requestcontext.Now(ctx)
	operator := requestcontext.Operator(ctx)

	var result GenerateResult
	for _, candidate := range in.Candidates {
		line, err := models.NewNecessityLine(
			id.NewLineID(), in.SchoolID, in.SchoolName,
			candidate.ProductID, candidate.ProductName, candidate.ProductUnit,
			candidate.Quantity, in.ConsumptionWeek, now, operator,
		)
		if err != nil {
			return result, err
		}

		if err := s.lines.Insert(ctx, line); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				existing, ferr := s.lines.FindActive(ctx, in.SchoolID, candidate.ProductID, in.ConsumptionWeek)
				if ferr != nil {
					return result, dErrors.Wrap(ferr, dErrors.CodeInternal, "load conflicting line")
				}
				result.Conflicts = append(result.Conflicts, Conflict{ProductID: candidate.ProductID, Existing: existing})
				if s.metrics != nil {
					s.metrics.GenerateConflicts.Inc()
				}
				continue
			}
			return result, dErrors.Wrap(err, dErrors.CodeInternal, "insert necessity line")
		}

		result.Created = append(result.Created, line)
		if s.metrics != nil {
			s.metrics.LinesGenerated.Inc()
		}
		s.audit.Publish(audit.Event{
			Timestamp: now,
			Action:    audit.ActionGenerated,
			LineID:    line.ID,
			SchoolID:  line.SchoolID,
			GroupKey:  line.GroupKey().String(),
			Operator:  operator,
			Role:      requestcontext.Role(ctx),
			RequestID: requestcontext.RequestID(ctx),
		})
	}

	s.logger.InfoContext(ctx, "necessity lines generated",
		"school_id", in.SchoolID,
		"consumption_week", in.ConsumptionWeek.Label(),
		"created", len(result.Created),
		"conflicts", len(result.Conflicts),
	)
	return result, nil
}

// ForecastGenerateInput drives generation straight from the forecast
// source instead of explicit quantities.
type ForecastGenerateInput struct {
	SchoolID        id.SchoolID
	SchoolName      string
	ConsumptionWeek weekrange.WeekRange
	Products        []forecast.Input
}

// GenerateFromForecast projects quantities for every product and then
// generates lines from the projections. Projection failures abort before
// anything persists; conflicts follow the Generate contract.
func (s *Service) GenerateFromForecast(ctx context.Context, in ForecastGenerateInput) (GenerateResult, error) {
	if s.forecast == nil {
		return GenerateResult{}, dErrors.New(dErrors.CodeInternal, "forecast source not configured")
	}

	candidates := make([]Candidate, 0, len(in.Products))
	for _, product := range in.Products {
		product.SchoolID = in.SchoolID
		product.SchoolName = in.SchoolName
		product.ConsumptionWeek = in.ConsumptionWeek

		projection, err := s.forecast.Project(ctx, product)
		if err != nil {
			return GenerateResult{}, err
		}
		candidates = append(candidates, Candidate{
			ProductID:   projection.ProductID,
			ProductName: projection.ProductName,
			ProductUnit: projection.ProductUnit,
			Quantity:    projection.Quantity,
		})
	}

	return s.Generate(ctx, GenerateInput{
		SchoolID:        in.SchoolID,
		SchoolName:      in.SchoolName,
		ConsumptionWeek: in.ConsumptionWeek,
		Candidates:      candidates,
	})
}

// List returns lines matching the filter, ordered by consumption week then
// school name.
func (s *Service) List(ctx context.Context, filter store.ListFilter) ([]*models.NecessityLine, error) {
	lines, err := s.lines.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list necessity lines")
	}
	return lines, nil
}

// ListGrouped folds the matching lines into computed groups.
func (s *Service) ListGrouped(ctx context.Context, filter store.ListFilter) ([]*models.Group, error) {
	lines, err := s.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return models.BuildGroups(lines), nil
}

// SoftDelete moves a line to EXCLUDED. The row stays for the audit trail;
// every downstream report treats it as absent. Exclusion is terminal.
func (s *Service) SoftDelete(ctx context.Context, lineID id.LineID) (*models.NecessityLine, error) {
	line, err := s.getLine(ctx, lineID)
	if err != nil {
		return nil, err
	}
	if err := line.CanExclude(); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	operator := requestcontext.Operator(ctx)
	line.ApplyExclude(now, operator)
	if err := s.lines.Update(ctx, line); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist exclusion")
	}

	if s.metrics != nil {
		s.metrics.LinesExcluded.Inc()
	}
	s.audit.Publish(audit.Event{
		Timestamp: now,
		Action:    audit.ActionExcluded,
		LineID:    line.ID,
		SchoolID:  line.SchoolID,
		GroupKey:  line.GroupKey().String(),
		Operator:  operator,
		Role:      requestcontext.Role(ctx),
		RequestID: requestcontext.RequestID(ctx),
	})
	return line, nil
}

func (s *Service) getLine(ctx context.Context, lineID id.LineID) (*models.NecessityLine, error) {
	line, err := s.lines.Get(ctx, lineID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Newf(dErrors.CodeNotFound, "line %s not found", lineID)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "load necessity line")
	}
	return line, nil
}

func (s *Service) observeGenerate(start time.Time) {
	if s.metrics != nil {
		s.metrics.ObserveGenerate(start)
	}
}
