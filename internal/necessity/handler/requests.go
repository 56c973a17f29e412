package handler

import (
	"github.com/shopspring/decimal"

	"merenda/internal/batch"
	"merenda/internal/necessity/forecast"
	"merenda/internal/necessity/models"
	"merenda/internal/necessity/service"
	"merenda/internal/substitution"
	id "merenda/pkg/domain"
	dErrors "merenda/pkg/domain-errors"
	"merenda/pkg/weekrange"
)

// groupKeyRequest identifies a group over the wire. The supply week may be
// omitted; the standard derivation fills it in.
type groupKeyRequest struct {
	OriginProductID id.ProductID         `json:"origin_product_id"`
	ConsumptionWeek weekrange.WeekRange  `json:"consumption_week"`
	SupplyWeek      *weekrange.WeekRange `json:"supply_week,omitempty"`
}

func (r groupKeyRequest) toKey() (models.GroupKey, error) {
	if r.OriginProductID.IsZero() {
		return models.GroupKey{}, dErrors.New(dErrors.CodeValidation, "origin product is required")
	}
	if r.ConsumptionWeek.IsZero() {
		return models.GroupKey{}, dErrors.New(dErrors.CodeValidation, "consumption week is required")
	}
	supply := weekrange.NextSupplyWindow(r.ConsumptionWeek)
	if r.SupplyWeek != nil {
		supply = *r.SupplyWeek
	}
	return models.GroupKey{
		OriginProductID: r.OriginProductID,
		ConsumptionWeek: r.ConsumptionWeek,
		SupplyWeek:      supply,
	}, nil
}

type releaseBatchRequest struct {
	Groups []groupKeyRequest `json:"groups"`
}

type releaseResponse struct {
	Group    string `json:"group"`
	Released int    `json:"released"`
}

type correctionRequest struct {
	Group              groupKeyRequest      `json:"group"`
	NewConsumptionWeek weekrange.WeekRange  `json:"new_consumption_week"`
	NewSupplyWeek      *weekrange.WeekRange `json:"new_supply_week,omitempty"`
	AffectedSchools    []id.SchoolID        `json:"affected_schools,omitempty"`
}

func (r correctionRequest) toInput() service.CorrectionInput {
	return service.CorrectionInput{
		NewConsumptionWeek: r.NewConsumptionWeek,
		NewSupplyWeek:      r.NewSupplyWeek,
		AffectedSchools:    r.AffectedSchools,
	}
}

type importRequest struct {
	Rows []service.ImportRow `json:"rows"`
}

type applySubstitutionRequest struct {
	Group   groupKeyRequest      `json:"group"`
	Mapping substitution.Mapping `json:"mapping"`
}

type forecastGenerateRequest struct {
	SchoolID        id.SchoolID         `json:"school_id"`
	SchoolName      string              `json:"school_name"`
	ConsumptionWeek weekrange.WeekRange `json:"consumption_week"`
	Products        []forecastProduct   `json:"products"`
}

type forecastProduct struct {
	ProductID   id.ProductID                  `json:"product_id"`
	ProductName string                        `json:"product_name"`
	ProductUnit string                        `json:"product_unit"`
	Frequency   map[forecast.MealPeriod]int64 `json:"frequency"`
}

func (r forecastGenerateRequest) toInput() service.ForecastGenerateInput {
	in := service.ForecastGenerateInput{
		SchoolID:        r.SchoolID,
		SchoolName:      r.SchoolName,
		ConsumptionWeek: r.ConsumptionWeek,
	}
	for _, p := range r.Products {
		in.Products = append(in.Products, forecast.Input{
			ProductID:   p.ProductID,
			ProductName: p.ProductName,
			ProductUnit: p.ProductUnit,
			Frequency:   p.Frequency,
		})
	}
	return in
}

type batchItemResponse struct {
	Key     string `json:"key"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type batchReportResponse struct {
	Processed int                 `json:"processed"`
	Succeeded int                 `json:"succeeded"`
	Failed    int                 `json:"failed"`
	Items     []batchItemResponse `json:"items"`
}

func batchResponse(report batch.Report) batchReportResponse {
	out := batchReportResponse{
		Processed: report.Processed,
		Succeeded: report.Succeeded,
		Failed:    report.Failed,
		Items:     make([]batchItemResponse, 0, len(report.Results)),
	}
	for _, item := range report.Results {
		resp := batchItemResponse{Key: item.Key, Success: item.Succeeded()}
		if item.Err != nil {
			if msg := dErrors.Message(item.Err); msg != "" {
				resp.Error = msg
			} else {
				resp.Error = item.Err.Error()
			}
		}
		out.Items = append(out.Items, resp)
	}
	return out
}

// projectedGroup is the role-aware read shape of a computed group.
type projectedGroup struct {
	OriginProductID   id.ProductID           `json:"origin_product_id"`
	OriginProductName string                 `json:"origin_product_name"`
	OriginProductUnit string                 `json:"origin_product_unit"`
	ConsumptionWeek   weekrange.WeekRange    `json:"consumption_week"`
	SupplyWeek        weekrange.WeekRange    `json:"supply_week"`
	TotalQuantity     decimal.Decimal        `json:"total_quantity_origin"`
	SchoolCount       int                    `json:"school_count"`
	Status            models.Status          `json:"status"`
	Lines             []models.ProjectedLine `json:"lines"`
}

func projectGroups(groups []*models.Group, role string) []projectedGroup {
	out := make([]projectedGroup, 0, len(groups))
	for _, g := range groups {
		pg := projectedGroup{
			OriginProductID:   g.Key.OriginProductID,
			OriginProductName: g.OriginProductName,
			OriginProductUnit: g.OriginProductUnit,
			ConsumptionWeek:   g.Key.ConsumptionWeek,
			SupplyWeek:        g.Key.SupplyWeek,
			TotalQuantity:     g.TotalQuantityOrigin,
			SchoolCount:       g.SchoolCount,
			Status:            g.AggregateStatus,
			Lines:             make([]models.ProjectedLine, 0, len(g.Lines)),
		}
		for _, line := range g.Lines {
			pg.Lines = append(pg.Lines, models.Project(line, role))
		}
		out = append(out, pg)
	}
	return out
}
