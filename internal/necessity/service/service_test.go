package service_test

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merenda/internal/audit"
	"merenda/internal/batch"
	"merenda/internal/necessity/forecast"
	"merenda/internal/necessity/models"
	"merenda/internal/necessity/service"
	"merenda/internal/necessity/store"
	"merenda/internal/substitution"
	id "merenda/pkg/domain"
	dErrors "merenda/pkg/domain-errors"
	"merenda/pkg/requestcontext"
	"merenda/pkg/weekrange"
)

var (
	now  = time.Date(2025, time.March, 5, 10, 0, 0, 0, time.UTC)
	week = weekrange.Of(time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC))
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func qty(v string) decimal.NullDecimal {
	d, err := decimal.NewFromString(v)
	if err != nil {
		panic(err)
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

func testCtx() context.Context {
	ctx := requestcontext.WithTime(context.Background(), now)
	ctx = requestcontext.WithOperator(ctx, "nutri-1")
	ctx = requestcontext.WithRole(ctx, "nutritionist")
	return ctx
}

// recordingPublisher appends synchronously so tests assert without racing a
// worker goroutine.
type recordingPublisher struct {
	sink *audit.MemoryStore
}

func (p recordingPublisher) Publish(event audit.Event) {
	_ = p.sink.Append(context.Background(), event)
}

func newService(t *testing.T) (*service.Service, *store.MemoryStore, *audit.MemoryStore) {
	t.Helper()
	lines := store.NewMemory()
	sink := audit.NewMemoryStore()
	svc := service.New(lines, discard(), service.WithAuditPublisher(recordingPublisher{sink: sink}))
	return svc, lines, sink
}

func generateInput(schools ...id.SchoolID) service.GenerateInput {
	in := service.GenerateInput{
		SchoolID:        1,
		SchoolName:      "School A",
		ConsumptionWeek: week,
		Candidates: []service.Candidate{
			{ProductID: 101, ProductName: "Rice 5kg", ProductUnit: "package", Quantity: qty("10")},
			{ProductID: 102, ProductName: "Beans 1kg", ProductUnit: "package", Quantity: qty("4")},
		},
	}
	if len(schools) > 0 {
		in.SchoolID = schools[0]
	}
	return in
}

func TestGenerate(t *testing.T) {
	svc, lines, sink := newService(t)

	result, err := svc.Generate(testCtx(), generateInput())
	require.NoError(t, err)
	require.Len(t, result.Created, 2)
	assert.Empty(t, result.Conflicts)

	first := result.Created[0]
	assert.Equal(t, models.StatusNew, first.Status)
	assert.Equal(t, week.Next(), first.SupplyWeek)
	assert.Equal(t, "nutri-1", first.CreatedBy)

	stored, err := lines.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, first.OriginProductID, stored.OriginProductID)

	events, err := sink.ListByLine(context.Background(), first.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionGenerated, events[0].Action)
	assert.Equal(t, "nutritionist", events[0].Role)
}

func TestGenerateConflictKeepsSiblings(t *testing.T) {
	svc, lines, _ := newService(t)

	first, err := svc.Generate(testCtx(), service.GenerateInput{
		SchoolID: 1, SchoolName: "School A", ConsumptionWeek: week,
		Candidates: []service.Candidate{
			{ProductID: 101, ProductName: "Rice 5kg", ProductUnit: "package", Quantity: qty("10")},
		},
	})
	require.NoError(t, err)
	require.Len(t, first.Created, 1)

	// Rice collides, beans still lands.
	second, err := svc.Generate(testCtx(), generateInput())
	require.NoError(t, err)
	require.Len(t, second.Created, 1)
	assert.Equal(t, id.ProductID(102), second.Created[0].OriginProductID)
	require.Len(t, second.Conflicts, 1)
	assert.Equal(t, id.ProductID(101), second.Conflicts[0].ProductID)
	require.NotNil(t, second.Conflicts[0].Existing)
	assert.Equal(t, first.Created[0].ID, second.Conflicts[0].Existing.ID)

	all, err := lines.List(context.Background(), store.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestGenerateAfterExclusion(t *testing.T) {
	svc, _, _ := newService(t)

	result, err := svc.Generate(testCtx(), generateInput())
	require.NoError(t, err)

	_, err = svc.SoftDelete(testCtx(), result.Created[0].ID)
	require.NoError(t, err)

	// The excluded line no longer blocks the duplicate key.
	again, err := svc.Generate(testCtx(), generateInput())
	require.NoError(t, err)
	require.Len(t, again.Created, 1)
	assert.Equal(t, result.Created[0].OriginProductID, again.Created[0].OriginProductID)
	require.Len(t, again.Conflicts, 1)
}

func TestGenerateValidation(t *testing.T) {
	svc, _, _ := newService(t)

	cases := map[string]service.GenerateInput{
		"missing school": {ConsumptionWeek: week, Candidates: generateInput().Candidates},
		"missing week":   {SchoolID: 1, Candidates: generateInput().Candidates},
		"no candidates":  {SchoolID: 1, ConsumptionWeek: week},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Generate(testCtx(), in)
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
		})
	}
}

type stubSource struct {
	perCapita  map[forecast.MealPeriod]decimal.Decimal
	historical map[forecast.MealPeriod]decimal.Decimal
}

func (s *stubSource) PerCapita(context.Context, id.ProductID) (map[forecast.MealPeriod]decimal.Decimal, error) {
	return s.perCapita, nil
}

func (s *stubSource) HistoricalAverage(context.Context, id.SchoolID, time.Time) (map[forecast.MealPeriod]decimal.Decimal, error) {
	return s.historical, nil
}

func TestGenerateFromForecast(t *testing.T) {
	lines := store.NewMemory()
	agg := forecast.NewAggregator(&stubSource{
		perCapita: map[forecast.MealPeriod]decimal.Decimal{
			forecast.PeriodLunch: decimal.RequireFromString("0.5"),
		},
	}, discard())
	svc := service.New(lines, discard(), service.WithForecast(agg))

	result, err := svc.GenerateFromForecast(testCtx(), service.ForecastGenerateInput{
		SchoolID:        1,
		SchoolName:      "School A",
		ConsumptionWeek: week,
		Products: []forecast.Input{{
			ProductID:   101,
			ProductName: "Rice 5kg",
			ProductUnit: "package",
			Frequency:   map[forecast.MealPeriod]int64{forecast.PeriodLunch: 5},
		}},
	})
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	require.True(t, result.Created[0].QuantityOrigin.Valid)
	assert.True(t, result.Created[0].QuantityOrigin.Decimal.Equal(decimal.RequireFromString("2.5")))

	t.Run("not configured", func(t *testing.T) {
		bare := service.New(store.NewMemory(), discard())
		_, err := bare.GenerateFromForecast(testCtx(), service.ForecastGenerateInput{})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
	})
}

func TestSoftDelete(t *testing.T) {
	svc, lines, sink := newService(t)

	result, err := svc.Generate(testCtx(), generateInput())
	require.NoError(t, err)
	target := result.Created[0]

	excluded, err := svc.SoftDelete(testCtx(), target.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExcluded, excluded.Status)

	// Hidden from default listings, still physically present.
	visible, err := svc.List(testCtx(), store.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, visible, 1)

	stored, err := lines.Get(context.Background(), target.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExcluded, stored.Status)

	events, err := sink.ListByLine(context.Background(), target.ID)
	require.NoError(t, err)
	assert.Equal(t, audit.ActionExcluded, events[len(events)-1].Action)

	t.Run("exclusion is terminal", func(t *testing.T) {
		_, err := svc.SoftDelete(testCtx(), target.ID)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	t.Run("unknown line", func(t *testing.T) {
		_, err := svc.SoftDelete(testCtx(), id.NewLineID())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func seedGroup(t *testing.T, svc *service.Service, quantities map[id.SchoolID]string) models.GroupKey {
	t.Helper()
	var key models.GroupKey
	for school, quantity := range quantities {
		var q decimal.NullDecimal
		if quantity != "" {
			q = qty(quantity)
		}
		result, err := svc.Generate(testCtx(), service.GenerateInput{
			SchoolID:        school,
			SchoolName:      "School " + school.String(),
			ConsumptionWeek: week,
			Candidates: []service.Candidate{
				{ProductID: 101, ProductName: "Rice 5kg", ProductUnit: "package", Quantity: q},
			},
		})
		require.NoError(t, err)
		require.Len(t, result.Created, 1)
		key = result.Created[0].GroupKey()
	}
	return key
}

func TestRelease(t *testing.T) {
	svc, lines, sink := newService(t)
	key := seedGroup(t, svc, map[id.SchoolID]string{1: "10", 2: "15"})

	released, err := svc.Release(testCtx(), key)
	require.NoError(t, err)
	require.Len(t, released, 2)
	for _, line := range released {
		assert.Equal(t, models.StatusAwaitingCoordination, line.Status)
	}

	stored, err := lines.List(context.Background(), store.ListFilter{})
	require.NoError(t, err)
	for _, line := range stored {
		assert.Equal(t, models.StatusAwaitingCoordination, line.Status)
	}

	events, err := sink.ListAll(context.Background())
	require.NoError(t, err)
	releasedEvents := 0
	for _, e := range events {
		if e.Action == audit.ActionReleased {
			releasedEvents++
		}
	}
	assert.Equal(t, 2, releasedEvents)
}

func TestReleaseBlockedByMissingQuantity(t *testing.T) {
	svc, lines, _ := newService(t)
	key := seedGroup(t, svc, map[id.SchoolID]string{1: "10", 2: ""})

	_, err := svc.Release(testCtx(), key)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))

	// Nothing moved, including the line that was individually releasable.
	stored, err := lines.List(context.Background(), store.ListFilter{})
	require.NoError(t, err)
	for _, line := range stored {
		assert.Equal(t, models.StatusNew, line.Status)
	}
}

func TestReleaseUnknownGroup(t *testing.T) {
	svc, _, _ := newService(t)

	key := models.GroupKey{
		OriginProductID: 999,
		ConsumptionWeek: week,
		SupplyWeek:      week.Next(),
	}
	_, err := svc.Release(testCtx(), key)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestReleaseMany(t *testing.T) {
	svc, _, _ := newService(t)
	key := seedGroup(t, svc, map[id.SchoolID]string{1: "10"})

	missing := models.GroupKey{OriginProductID: 999, ConsumptionWeek: week, SupplyWeek: week.Next()}

	var progress []batch.Progress
	report := svc.ReleaseMany(testCtx(), []models.GroupKey{key, missing},
		batch.WithProgress(func(p batch.Progress) { progress = append(progress, p) }),
	)

	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 1, report.Succeeded)
	require.Len(t, report.Failures(), 1)
	assert.Equal(t, missing.String(), report.Failures()[0].Key)
	require.NotEmpty(t, progress)
	assert.Equal(t, batch.Progress{Processed: 2, Total: 2}, progress[len(progress)-1])
}

func TestFinalize(t *testing.T) {
	svc, _, sink := newService(t)
	key := seedGroup(t, svc, map[id.SchoolID]string{1: "10", 2: "15"})

	t.Run("requires prior release", func(t *testing.T) {
		_, err := svc.Finalize(testCtx(), key)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	})

	_, err := svc.Release(testCtx(), key)
	require.NoError(t, err)

	finalized, err := svc.Finalize(testCtx(), key)
	require.NoError(t, err)
	for _, line := range finalized {
		assert.Equal(t, models.StatusFinalized, line.Status)
	}

	events, err := sink.ListAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, audit.ActionFinalized, events[len(events)-1].Action)

	t.Run("finalized lines resist every mutation", func(t *testing.T) {
		_, err := svc.SoftDelete(testCtx(), finalized[0].ID)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))

		_, err = svc.Correct(testCtx(), key, service.CorrectionInput{NewConsumptionWeek: week.Next()})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidState))
	})
}

func TestCorrectWholeGroup(t *testing.T) {
	svc, _, sink := newService(t)
	key := seedGroup(t, svc, map[id.SchoolID]string{1: "10", 2: "15"})

	target := week.Next().Next()
	moved, err := svc.Correct(testCtx(), key, service.CorrectionInput{NewConsumptionWeek: target})
	require.NoError(t, err)
	require.Len(t, moved, 2)
	for _, line := range moved {
		assert.True(t, line.ConsumptionWeek.Equal(target))
		assert.True(t, line.SupplyWeek.Equal(target.Next()))
	}

	groups, err := svc.ListGrouped(testCtx(), store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.True(t, groups[0].Key.ConsumptionWeek.Equal(target))

	events, err := sink.ListByLine(context.Background(), moved[0].ID)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, audit.ActionCorrected, last.Action)
	assert.Contains(t, last.Detail, week.Label())
}

func TestCorrectSubsetSplitsGroup(t *testing.T) {
	svc, _, _ := newService(t)
	key := seedGroup(t, svc, map[id.SchoolID]string{1: "10", 2: "15", 3: "20"})

	target := week.Next().Next()
	moved, err := svc.Correct(testCtx(), key, service.CorrectionInput{
		NewConsumptionWeek: target,
		AffectedSchools:    []id.SchoolID{2},
	})
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, id.SchoolID(2), moved[0].SchoolID)

	groups, err := svc.ListGrouped(testCtx(), store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, groups, 2)

	// Groups are ordered by week: the stayers first, the mover second.
	assert.Equal(t, 2, groups[0].SchoolCount)
	assert.True(t, groups[0].Key.ConsumptionWeek.Equal(week))
	assert.Equal(t, 1, groups[1].SchoolCount)
	assert.True(t, groups[1].Key.ConsumptionWeek.Equal(target))
}

func TestCorrectValidation(t *testing.T) {
	svc, _, _ := newService(t)
	key := seedGroup(t, svc, map[id.SchoolID]string{1: "10"})

	t.Run("missing new week", func(t *testing.T) {
		_, err := svc.Correct(testCtx(), key, service.CorrectionInput{})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("no-op week pair", func(t *testing.T) {
		_, err := svc.Correct(testCtx(), key, service.CorrectionInput{NewConsumptionWeek: key.ConsumptionWeek})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("supply before consumption", func(t *testing.T) {
		early := week
		target := week.Next().Next()
		_, err := svc.Correct(testCtx(), key, service.CorrectionInput{
			NewConsumptionWeek: target,
			NewSupplyWeek:      &early,
		})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})

	t.Run("school outside group", func(t *testing.T) {
		_, err := svc.Correct(testCtx(), key, service.CorrectionInput{
			NewConsumptionWeek: week.Next().Next(),
			AffectedSchools:    []id.SchoolID{42},
		})
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func TestCorrectRejectsOccupiedTargetWeek(t *testing.T) {
	svc, lines, _ := newService(t)
	key := seedGroup(t, svc, map[id.SchoolID]string{1: "10"})

	// The same school already has a rice line in the target week.
	target := week.Next().Next()
	_, err := svc.Generate(testCtx(), service.GenerateInput{
		SchoolID: 1, SchoolName: "School 1", ConsumptionWeek: target,
		Candidates: []service.Candidate{
			{ProductID: 101, ProductName: "Rice 5kg", ProductUnit: "package", Quantity: qty("3")},
		},
	})
	require.NoError(t, err)

	_, err = svc.Correct(testCtx(), key, service.CorrectionInput{NewConsumptionWeek: target})
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeConflict))

	// The source line did not move.
	stored, err := lines.List(context.Background(), store.ListFilter{ConsumptionWeek: &week})
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestCorrectSupplyWeekOverride(t *testing.T) {
	svc, _, _ := newService(t)
	key := seedGroup(t, svc, map[id.SchoolID]string{1: "10"})

	target := week.Next().Next()
	override := target.Next().Next()
	moved, err := svc.Correct(testCtx(), key, service.CorrectionInput{
		NewConsumptionWeek: target,
		NewSupplyWeek:      &override,
	})
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.True(t, moved[0].SupplyWeek.Equal(override))
}

func TestExport(t *testing.T) {
	svc, lines, _ := newService(t)
	result, err := svc.Generate(testCtx(), generateInput())
	require.NoError(t, err)

	// Give the rice line a substitution so the export carries both the
	// origin identity and the generic purchasing columns.
	rice := result.Created[0]
	stored, err := lines.Get(context.Background(), rice.ID)
	require.NoError(t, err)
	require.NoError(t, stored.ApplySubstitution(
		models.GenericProduct{ID: 900, Name: "Rice standard", Unit: "kg"},
		decimal.NewFromInt(5), now, "nutri-1",
	))
	require.NoError(t, lines.Update(context.Background(), stored))

	rows, err := svc.Export(testCtx(), store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	var riceRow *service.ExportRow
	for i := range rows {
		if rows[i].LineID == rice.ID.String() {
			riceRow = &rows[i]
		}
	}
	require.NotNil(t, riceRow)
	assert.Equal(t, "101", riceRow.ProductID)
	assert.Equal(t, "Rice 5kg", riceRow.ProductName)
	assert.Equal(t, "package", riceRow.ProductUnit)
	assert.Equal(t, "900", riceRow.GenericProductID)
	assert.Equal(t, "Rice standard", riceRow.GenericProductName)
	assert.Equal(t, "kg", riceRow.GenericProductUnit)
	assert.Equal(t, "2", riceRow.Quantity)
	assert.Equal(t, week.String(), riceRow.ConsumptionWeek)

	// The beans line has no substitution: generic columns stay empty and the
	// quantity falls back to the origin quantity.
	var beansRow *service.ExportRow
	for i := range rows {
		if rows[i].LineID != rice.ID.String() {
			beansRow = &rows[i]
		}
	}
	require.NotNil(t, beansRow)
	assert.Empty(t, beansRow.GenericProductID)
	assert.Equal(t, "4", beansRow.Quantity)

	t.Run("csv round trip", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, service.WriteCSV(&buf, rows))

		out := buf.String()
		lines := strings.Split(strings.TrimSpace(out), "\n")
		require.Len(t, lines, 3)
		assert.True(t, strings.HasPrefix(lines[0], "line_id,school_id"))
		assert.Contains(t, out, "Rice standard")
	})
}

func TestImport(t *testing.T) {
	svc, lines, sink := newService(t)

	rows := []service.ImportRow{
		{LineNumber: 1, SchoolID: 1, SchoolName: "School A", ProductID: 101, ProductName: "Rice 5kg", ProductUnit: "package", Quantity: "10", ConsumptionWeek: week.String()},
		{LineNumber: 2, SchoolID: 2, SchoolName: "School B", ProductID: 101, ProductName: "Rice 5kg", ProductUnit: "package", Quantity: "banana", ConsumptionWeek: week.String()},
		{LineNumber: 3, SchoolID: 3, SchoolName: "School C", ProductID: 101, ProductName: "Rice 5kg", ProductUnit: "package", Quantity: "", ConsumptionWeek: week.String()},
		{LineNumber: 4, SchoolID: 4, SchoolName: "School D", ProductID: 101, ProductName: "Rice 5kg", ProductUnit: "package", Quantity: "7", ConsumptionWeek: "not a week"},
	}

	report, err := svc.Import(testCtx(), rows)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 2, report.Failed)
	require.Len(t, report.Errors, 2)
	assert.Equal(t, 2, report.Errors[0].LineNumber)
	assert.Equal(t, 4, report.Errors[1].LineNumber)

	stored, err := lines.List(context.Background(), store.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	// Row 3 imported without a quantity: present but not releasable yet.
	var noQty *models.NecessityLine
	for _, line := range stored {
		if line.SchoolID == 3 {
			noQty = line
		}
	}
	require.NotNil(t, noQty)
	assert.False(t, noQty.QuantityOrigin.Valid)

	events, err := sink.ListAll(context.Background())
	require.NoError(t, err)
	imported := 0
	for _, e := range events {
		if e.Action == audit.ActionImported {
			imported++
		}
	}
	assert.Equal(t, 2, imported)

	t.Run("duplicate rows conflict", func(t *testing.T) {
		report, err := svc.Import(testCtx(), rows[:1])
		require.NoError(t, err)
		assert.Equal(t, 1, report.Failed)
		assert.Contains(t, report.Errors[0].Message, "already has an active line")
	})

	t.Run("empty input", func(t *testing.T) {
		_, err := svc.Import(testCtx(), nil)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func TestCorrectionPreservesSubstitution(t *testing.T) {
	svc, lines, _ := newService(t)
	key := seedGroup(t, svc, map[id.SchoolID]string{1: "10"})

	subs := substitution.NewService(lines, nil, discard())
	_, err := subs.Apply(testCtx(), key, substitution.Mapping{
		OriginProductID:  key.OriginProductID,
		Generic:          models.GenericProduct{ID: 900, Name: "Rice, generic", Unit: "kg"},
		ConversionFactor: decimal.NewFromInt(5),
		Scope:            substitution.ScopeGroup,
	})
	require.NoError(t, err)

	newWeek := week.Next()
	moved, err := svc.Correct(testCtx(), key, service.CorrectionInput{NewConsumptionWeek: newWeek})
	require.NoError(t, err)
	require.Len(t, moved, 1)

	// The correction lands after the substitution; the substitution fields
	// ride along to the new week pair untouched.
	line := moved[0]
	assert.True(t, line.ConsumptionWeek.Equal(newWeek))
	require.NotNil(t, line.GenericProductID)
	assert.Equal(t, id.GenericProductID(900), *line.GenericProductID)
	require.NotNil(t, line.QuantityGeneric)
	assert.Equal(t, int64(2), *line.QuantityGeneric)
	assert.Equal(t, models.StatusNutriAdjusted, line.Status)
}

func TestSubstitutionRacesCorrection(t *testing.T) {
	svc, lines, _ := newService(t)
	key := seedGroup(t, svc, map[id.SchoolID]string{1: "10"})
	subs := substitution.NewService(lines, nil, discard())

	newWeek := week.Next()
	mapping := substitution.Mapping{
		OriginProductID:  key.OriginProductID,
		Generic:          models.GenericProduct{ID: 900, Name: "Rice, generic", Unit: "kg"},
		ConversionFactor: decimal.NewFromInt(5),
		Scope:            substitution.ScopeGroup,
	}

	// Both operations read, mutate a clone, and persist; the store
	// serializes the writes and the later one replaces the row wholesale.
	// Either side may lose its read-modify-write or see the group moved
	// away, so errors are tolerated and only the final state is judged.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = subs.Apply(testCtx(), key, mapping)
	}()
	go func() {
		defer wg.Done()
		_, _ = svc.Correct(testCtx(), key, service.CorrectionInput{NewConsumptionWeek: newWeek})
	}()
	wg.Wait()

	stored, err := lines.List(context.Background(), store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	line := stored[0]

	// The survivor must be one serialized outcome, never a blend of
	// half-applied fields from both writers.
	if line.HasSubstitution() {
		require.NotNil(t, line.QuantityGeneric)
		assert.Equal(t, int64(2), *line.QuantityGeneric)
		assert.Equal(t, models.StatusNutriAdjusted, line.Status)
	} else {
		assert.Nil(t, line.QuantityGeneric)
		assert.True(t, line.ConsumptionWeek.Equal(newWeek),
			"a line with neither write applied means an update vanished")
	}
	// Weeks always move as a pair, regardless of which writer landed last.
	assert.True(t, line.SupplyWeek.Equal(weekrange.NextSupplyWindow(line.ConsumptionWeek)))

	t.Run("later write replaces the row wholesale", func(t *testing.T) {
		svc, lines, _ := newService(t)
		result, err := svc.Generate(testCtx(), generateInput(7))
		require.NoError(t, err)
		lineID := result.Created[0].ID

		// Two stale snapshots of the same row. The first writer applies a
		// substitution; the second, still holding the pre-substitution
		// snapshot, applies a correction and persists after it.
		substituted, err := lines.Get(context.Background(), lineID)
		require.NoError(t, err)
		corrected, err := lines.Get(context.Background(), lineID)
		require.NoError(t, err)

		require.NoError(t, substituted.ApplySubstitution(
			models.GenericProduct{ID: 900, Name: "Rice, generic", Unit: "kg"},
			decimal.NewFromInt(5), now, "nutri-1",
		))
		require.NoError(t, lines.Update(context.Background(), substituted))

		target := week.Next()
		corrected.ApplyCorrection(target, weekrange.NextSupplyWindow(target), now, "nutri-2")
		require.NoError(t, lines.Update(context.Background(), corrected))

		final, err := lines.Get(context.Background(), lineID)
		require.NoError(t, err)
		assert.True(t, final.ConsumptionWeek.Equal(target))
		assert.False(t, final.HasSubstitution(),
			"the losing writer's fields must not leak into the winning row")
	})
}

type fakeDirectory struct {
	schools  map[id.SchoolID]service.SchoolInfo
	products map[id.ProductID]service.ProductInfo
}

func (d fakeDirectory) School(_ context.Context, schoolID id.SchoolID) (service.SchoolInfo, error) {
	info, ok := d.schools[schoolID]
	if !ok {
		return service.SchoolInfo{}, dErrors.Newf(dErrors.CodeNotFound, "school %s not found", schoolID)
	}
	return info, nil
}

func (d fakeDirectory) Product(_ context.Context, productID id.ProductID) (service.ProductInfo, error) {
	info, ok := d.products[productID]
	if !ok {
		return service.ProductInfo{}, dErrors.Newf(dErrors.CodeNotFound, "product %s not found", productID)
	}
	return info, nil
}

func TestImportResolvesThroughDirectory(t *testing.T) {
	lines := store.NewMemory()
	dir := fakeDirectory{
		schools:  map[id.SchoolID]service.SchoolInfo{1: {Name: "School A"}},
		products: map[id.ProductID]service.ProductInfo{101: {Name: "Rice 5kg", Unit: "package"}},
	}
	svc := service.New(lines, discard(), service.WithDirectory(dir))

	rows := []service.ImportRow{
		{LineNumber: 1, SchoolID: 1, ProductID: 101, Quantity: "10", ConsumptionWeek: week.String()},
		{LineNumber: 2, SchoolID: 99, ProductID: 101, Quantity: "4", ConsumptionWeek: week.String()},
	}

	report, err := svc.Import(testCtx(), rows)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, 2, report.Errors[0].LineNumber)
	assert.Contains(t, report.Errors[0].Message, "resolve school")

	stored, err := lines.List(context.Background(), store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "School A", stored[0].SchoolName)
	assert.Equal(t, "Rice 5kg", stored[0].OriginProductName)
	assert.Equal(t, "package", stored[0].OriginProductUnit)
}
