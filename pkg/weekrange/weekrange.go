// Package weekrange provides the typed week window used for consumption and
// supply scheduling.
//
// A WeekRange is a Monday-through-Sunday calendar window carried as real
// dates. The legacy textual labels ("06/01 a 12/01") are a rendering of the
// range, never its source of truth, so month and year rollover fall out of
// date arithmetic instead of string surgery.
package weekrange

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	dErrors "merenda/pkg/domain-errors"
)

// WeekRange is a Monday..Sunday window. Start and End are normalized to
// midnight UTC; End is always Start plus six days.
type WeekRange struct {
	Start time.Time
	End   time.Time
}

// Of returns the week containing t.
func Of(t time.Time) WeekRange {
	t = midnight(t)
	offset := int(t.Weekday()) - int(time.Monday)
	if offset < 0 {
		offset += 7 // Sunday belongs to the week that started six days earlier
	}
	start := t.AddDate(0, 0, -offset)
	return WeekRange{Start: start, End: start.AddDate(0, 0, 6)}
}

// FromStart builds a week from its Monday. Returns an error when the date is
// not a Monday, so callers cannot silently shift a window.
func FromStart(start time.Time) (WeekRange, error) {
	start = midnight(start)
	if start.Weekday() != time.Monday {
		return WeekRange{}, dErrors.Newf(dErrors.CodeBadRequest, "week must start on a Monday, got %s", start.Weekday())
	}
	return WeekRange{Start: start, End: start.AddDate(0, 0, 6)}, nil
}

// Next returns the following calendar week.
func (w WeekRange) Next() WeekRange {
	start := w.Start.AddDate(0, 0, 7)
	return WeekRange{Start: start, End: start.AddDate(0, 0, 6)}
}

// NextSupplyWindow derives the supply week for a consumption week: the
// calendar week immediately following it. The legacy system computed this by
// adding seven days to the consumption label and re-snapping to Monday;
// carrying dates makes the January rollover a non-event.
func NextSupplyWindow(consumption WeekRange) WeekRange {
	return consumption.Next()
}

// IsZero reports whether the range is unset.
func (w WeekRange) IsZero() bool {
	return w.Start.IsZero()
}

// Equal compares two ranges by their dates.
func (w WeekRange) Equal(other WeekRange) bool {
	return w.Start.Equal(other.Start) && w.End.Equal(other.End)
}

// Before reports whether w starts before other. Used for export ordering.
func (w WeekRange) Before(other WeekRange) bool {
	return w.Start.Before(other.Start)
}

// Contains reports whether t falls inside the window.
func (w WeekRange) Contains(t time.Time) bool {
	t = midnight(t)
	return !t.Before(w.Start) && !t.After(w.End)
}

// Label renders the short legacy form, e.g. "06/01 a 12/01".
func (w WeekRange) Label() string {
	return fmt.Sprintf("%s a %s", w.Start.Format("02/01"), w.End.Format("02/01"))
}

// String renders the unambiguous full form, e.g. "06/01/2025 a 12/01/2025".
func (w WeekRange) String() string {
	return fmt.Sprintf("%s a %s", w.Start.Format("02/01/2006"), w.End.Format("02/01/2006"))
}

// Parse accepts the full labeled form "dd/mm/yyyy a dd/mm/yyyy" and
// validates that it denotes a proper Monday..Sunday week.
func Parse(s string) (WeekRange, error) {
	parts := strings.Split(strings.TrimSpace(s), " a ")
	if len(parts) != 2 {
		return WeekRange{}, dErrors.Newf(dErrors.CodeBadRequest, "invalid week range %q", s)
	}
	start, err := time.ParseInLocation("02/01/2006", strings.TrimSpace(parts[0]), time.UTC)
	if err != nil {
		return WeekRange{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid week range start")
	}
	end, err := time.ParseInLocation("02/01/2006", strings.TrimSpace(parts[1]), time.UTC)
	if err != nil {
		return WeekRange{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid week range end")
	}
	w, err := FromStart(start)
	if err != nil {
		return WeekRange{}, err
	}
	if !w.End.Equal(midnight(end)) {
		return WeekRange{}, dErrors.Newf(dErrors.CodeBadRequest, "week range %q does not span Monday through Sunday", s)
	}
	return w, nil
}

type weekRangeJSON struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Label string `json:"label"`
}

// MarshalJSON renders ISO dates plus the legacy label for display layers.
func (w WeekRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(weekRangeJSON{
		Start: w.Start.Format("2006-01-02"),
		End:   w.End.Format("2006-01-02"),
		Label: w.Label(),
	})
}

// UnmarshalJSON accepts either the object form produced by MarshalJSON or a
// bare ISO date string naming the week's Monday.
func (w *WeekRange) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		start, err := time.ParseInLocation("2006-01-02", s, time.UTC)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid week start date")
		}
		parsed, err := FromStart(start)
		if err != nil {
			return err
		}
		*w = parsed
		return nil
	}
	var obj weekRangeJSON
	if err := json.Unmarshal(data, &obj); err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid week range")
	}
	start, err := time.ParseInLocation("2006-01-02", obj.Start, time.UTC)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid week range start")
	}
	parsed, err := FromStart(start)
	if err != nil {
		return err
	}
	*w = parsed
	return nil
}

func midnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
