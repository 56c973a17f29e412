package weekrange_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "merenda/pkg/domain-errors"
	"merenda/pkg/weekrange"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestOf(t *testing.T) {
	tests := []struct {
		name      string
		in        time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "monday maps to itself",
			in:        date(2025, time.January, 6),
			wantStart: date(2025, time.January, 6),
			wantEnd:   date(2025, time.January, 12),
		},
		{
			name:      "wednesday snaps back to monday",
			in:        date(2025, time.January, 8),
			wantStart: date(2025, time.January, 6),
			wantEnd:   date(2025, time.January, 12),
		},
		{
			name:      "sunday belongs to the week that started six days earlier",
			in:        date(2025, time.January, 12),
			wantStart: date(2025, time.January, 6),
			wantEnd:   date(2025, time.January, 12),
		},
		{
			name:      "timestamp with clock and zone is normalized",
			in:        time.Date(2025, time.January, 8, 23, 45, 0, 0, time.FixedZone("X", -3*3600)),
			wantStart: date(2025, time.January, 6),
			wantEnd:   date(2025, time.January, 12),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := weekrange.Of(tt.in)
			assert.True(t, got.Start.Equal(tt.wantStart), "start: got %s", got.Start)
			assert.True(t, got.End.Equal(tt.wantEnd), "end: got %s", got.End)
		})
	}
}

func TestFromStart(t *testing.T) {
	w, err := weekrange.FromStart(date(2025, time.March, 3))
	require.NoError(t, err)
	assert.True(t, w.End.Equal(date(2025, time.March, 9)))

	_, err = weekrange.FromStart(date(2025, time.March, 4))
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
}

func TestNextSupplyWindow(t *testing.T) {
	t.Run("plain week", func(t *testing.T) {
		consumption := weekrange.Of(date(2025, time.March, 3))
		supply := weekrange.NextSupplyWindow(consumption)
		assert.True(t, supply.Start.Equal(date(2025, time.March, 10)))
		assert.True(t, supply.End.Equal(date(2025, time.March, 16)))
	})

	t.Run("year rollover", func(t *testing.T) {
		consumption := weekrange.Of(date(2025, time.December, 29))
		supply := weekrange.NextSupplyWindow(consumption)
		assert.True(t, supply.Start.Equal(date(2026, time.January, 5)))
		assert.True(t, supply.End.Equal(date(2026, time.January, 11)))
	})

	t.Run("month rollover", func(t *testing.T) {
		consumption := weekrange.Of(date(2025, time.January, 27))
		supply := weekrange.NextSupplyWindow(consumption)
		assert.Equal(t, "03/02 a 09/02", supply.Label())
	})
}

func TestLabels(t *testing.T) {
	w := weekrange.Of(date(2025, time.January, 6))
	assert.Equal(t, "06/01 a 12/01", w.Label())
	assert.Equal(t, "06/01/2025 a 12/01/2025", w.String())
}

func TestParse(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		w, err := weekrange.Parse("06/01/2025 a 12/01/2025")
		require.NoError(t, err)
		assert.True(t, w.Start.Equal(date(2025, time.January, 6)))
	})

	t.Run("not a monday", func(t *testing.T) {
		_, err := weekrange.Parse("07/01/2025 a 13/01/2025")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeBadRequest))
	})

	t.Run("wrong span", func(t *testing.T) {
		_, err := weekrange.Parse("06/01/2025 a 19/01/2025")
		require.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := weekrange.Parse("next week sometime")
		require.Error(t, err)
	})
}

func TestJSONRoundTrip(t *testing.T) {
	w := weekrange.Of(date(2025, time.June, 2))

	data, err := json.Marshal(w)
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"2025-06-02","end":"2025-06-08","label":"02/06 a 08/06"}`, string(data))

	var back weekrange.WeekRange
	require.NoError(t, json.Unmarshal(data, &back))
	assert.True(t, back.Equal(w))

	var fromString weekrange.WeekRange
	require.NoError(t, json.Unmarshal([]byte(`"2025-06-02"`), &fromString))
	assert.True(t, fromString.Equal(w))

	var bad weekrange.WeekRange
	require.Error(t, json.Unmarshal([]byte(`"2025-06-03"`), &bad))
}

func TestContainsAndOrdering(t *testing.T) {
	w := weekrange.Of(date(2025, time.June, 2))
	assert.True(t, w.Contains(date(2025, time.June, 2)))
	assert.True(t, w.Contains(date(2025, time.June, 8)))
	assert.False(t, w.Contains(date(2025, time.June, 9)))
	assert.True(t, w.Before(w.Next()))
	assert.False(t, w.Next().Before(w))
}
