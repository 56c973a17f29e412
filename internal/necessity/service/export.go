package service

import (
	"context"
	"encoding/csv"
	"io"

	"merenda/internal/necessity/models"
	"merenda/internal/necessity/store"
	dErrors "merenda/pkg/domain-errors"
)

// ExportRow is one line flattened for spreadsheet consumers. The product
// columns always carry the origin identity; a substitution fills the
// generic columns alongside it, and Quantity is the one the purchaser
// acts on.
type ExportRow struct {
	LineID             string `json:"line_id"`
	SchoolID           string `json:"school_id"`
	SchoolName         string `json:"school_name"`
	ProductID          string `json:"product_id"`
	ProductName        string `json:"product_name"`
	ProductUnit        string `json:"product_unit"`
	GenericProductID   string `json:"generic_product_id,omitempty"`
	GenericProductName string `json:"generic_product_name,omitempty"`
	GenericProductUnit string `json:"generic_product_unit,omitempty"`
	Quantity           string `json:"quantity"`
	ConsumptionWeek    string `json:"consumption_week"`
	SupplyWeek         string `json:"supply_week"`
	Status             string `json:"status"`
}

var exportHeader = []string{
	"line_id", "school_id", "school_name",
	"product_id", "product_name", "product_unit",
	"generic_product_id", "generic_product_name", "generic_product_unit",
	"quantity", "consumption_week", "supply_week", "status",
}

// Export flattens the matching lines into rows, ordered by consumption week
// then school name. Excluded lines never appear unless the filter asks.
func (s *Service) Export(ctx context.Context, filter store.ListFilter) ([]ExportRow, error) {
	lines, err := s.List(ctx, filter)
	if err != nil {
		return nil, err
	}

	rows := make([]ExportRow, 0, len(lines))
	for _, line := range lines {
		rows = append(rows, exportRow(line))
	}
	return rows, nil
}

func exportRow(line *models.NecessityLine) ExportRow {
	row := ExportRow{
		LineID:          line.ID.String(),
		SchoolID:        line.SchoolID.String(),
		SchoolName:      line.SchoolName,
		ProductID:       line.OriginProductID.String(),
		ProductName:     line.OriginProductName,
		ProductUnit:     line.OriginProductUnit,
		ConsumptionWeek: line.ConsumptionWeek.String(),
		SupplyWeek:      line.SupplyWeek.String(),
		Status:          string(line.Status),
	}
	if line.HasSubstitution() {
		row.GenericProductID = line.GenericProductID.String()
		row.GenericProductName = *line.GenericProductName
		row.GenericProductUnit = *line.GenericProductUnit
	}
	if qty := line.FinalQuantity(); qty.Valid {
		row.Quantity = qty.Decimal.String()
	}
	return row
}

// WriteCSV streams rows as CSV with a header.
func WriteCSV(w io.Writer, rows []ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "write export header")
	}
	for _, row := range rows {
		record := []string{
			row.LineID, row.SchoolID, row.SchoolName,
			row.ProductID, row.ProductName, row.ProductUnit,
			row.GenericProductID, row.GenericProductName, row.GenericProductUnit,
			row.Quantity, row.ConsumptionWeek, row.SupplyWeek, row.Status,
		}
		if err := cw.Write(record); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "write export row")
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "flush export")
	}
	return nil
}
