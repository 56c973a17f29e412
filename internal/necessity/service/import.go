package service

import (
	"context"
	"errors"
	"strconv"

	"github.com/shopspring/decimal"

	"merenda/internal/audit"
	"merenda/internal/batch"
	"merenda/internal/necessity/models"
	id "merenda/pkg/domain"
	dErrors "merenda/pkg/domain-errors"
	"merenda/pkg/platform/sentinel"
	"merenda/pkg/requestcontext"
	"merenda/pkg/weekrange"
)

// ImportRow is one record from a bulk load, typically exported from the
// legacy system. Weeks arrive in the full labeled form and quantities as
// decimal strings; an empty quantity imports a line with no quantity yet.
// Name fields are optional when a Directory is configured.
type ImportRow struct {
	LineNumber      int    `json:"line_number"`
	SchoolID        int64  `json:"school_id"`
	SchoolName      string `json:"school_name,omitempty"`
	ProductID       int64  `json:"product_id"`
	ProductName     string `json:"product_name,omitempty"`
	ProductUnit     string `json:"product_unit,omitempty"`
	Quantity        string `json:"quantity"`
	ConsumptionWeek string `json:"consumption_week"`
}

// SchoolInfo is the directory's view of a school.
type SchoolInfo struct {
	Name string
}

// ProductInfo is the directory's view of an origin product.
type ProductInfo struct {
	Name string
	Unit string
}

// Directory resolves school and product identity from the external
// directories. Import rows reference schools and products by ID only; the
// directory supplies the display fields.
type Directory interface {
	School(ctx context.Context, schoolID id.SchoolID) (SchoolInfo, error)
	Product(ctx context.Context, productID id.ProductID) (ProductInfo, error)
}

// RowError ties a failure back to its source row.
type RowError struct {
	LineNumber int    `json:"line_number"`
	Message    string `json:"message"`
}

// ImportReport summarizes a bulk load. Failed rows never stop the rest.
type ImportReport struct {
	Total     int        `json:"total"`
	Succeeded int        `json:"succeeded"`
	Failed    int        `json:"failed"`
	Errors    []RowError `json:"errors,omitempty"`
}

// Import loads rows one at a time through the batch runner. Each row is an
// independent insert: parse failures and duplicates are reported per row
// while the remaining rows proceed.
func (s *Service) Import(ctx context.Context, rows []ImportRow, opts ...batch.Option) (ImportReport, error) {
	if len(rows) == 0 {
		return ImportReport{}, dErrors.New(dErrors.CodeValidation, "no rows to import")
	}

	report := batch.Run(ctx, rows,
		func(row ImportRow) string { return strconv.Itoa(row.LineNumber) },
		s.importRow,
		opts...,
	)

	out := ImportReport{Total: report.Processed}
	for _, item := range report.Results {
		if s.metrics != nil {
			s.metrics.CountBatchItem("import", item.Succeeded())
		}
		if item.Succeeded() {
			out.Succeeded++
			continue
		}
		out.Failed++
		message := dErrors.Message(item.Err)
		if message == "" {
			message = item.Err.Error()
		}
		lineNumber, _ := strconv.Atoi(item.Key)
		out.Errors = append(out.Errors, RowError{LineNumber: lineNumber, Message: message})
	}

	s.logger.InfoContext(ctx, "import finished",
		"total", out.Total,
		"succeeded", out.Succeeded,
		"failed", out.Failed,
	)
	return out, nil
}

func (s *Service) importRow(ctx context.Context, row ImportRow) error {
	week, err := weekrange.Parse(row.ConsumptionWeek)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "consumption week")
	}

	var quantity decimal.NullDecimal
	if row.Quantity != "" {
		d, err := decimal.NewFromString(row.Quantity)
		if err != nil {
			return dErrors.Newf(dErrors.CodeValidation, "quantity %q is not a number", row.Quantity)
		}
		quantity = decimal.NullDecimal{Decimal: d, Valid: true}
	}

	if s.directory != nil {
		school, err := s.directory.School(ctx, id.SchoolID(row.SchoolID))
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeValidation, "resolve school")
		}
		product, err := s.directory.Product(ctx, id.ProductID(row.ProductID))
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeValidation, "resolve product")
		}
		row.SchoolName = school.Name
		row.ProductName = product.Name
		row.ProductUnit = product.Unit
	}

	now := requestcontext.Now(ctx)
	operator := requestcontext.Operator(ctx)
	line, err := models.NewNecessityLine(
		id.NewLineID(), id.SchoolID(row.SchoolID), row.SchoolName,
		id.ProductID(row.ProductID), row.ProductName, row.ProductUnit,
		quantity, week, now, operator,
	)
	if err != nil {
		return err
	}

	if err := s.lines.Insert(ctx, line); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return dErrors.Newf(dErrors.CodeConflict,
				"school %s already has an active line for product %s in week %s",
				line.SchoolID, line.OriginProductID, week.Label())
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "insert imported line")
	}

	if s.metrics != nil {
		s.metrics.LinesGenerated.Inc()
	}
	s.audit.Publish(audit.Event{
		Timestamp: now,
		Action:    audit.ActionImported,
		LineID:    line.ID,
		SchoolID:  line.SchoolID,
		GroupKey:  line.GroupKey().String(),
		Operator:  operator,
		Role:      requestcontext.Role(ctx),
		RequestID: requestcontext.RequestID(ctx),
	})
	return nil
}
