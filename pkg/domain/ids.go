// Package domain defines the typed identifiers shared across modules.
//
// IDs are distinct named types so the compiler rejects cross-type
// assignment (a SchoolID can never be passed where a ProductID is
// expected). Parse helpers validate at trust boundaries.
package domain

import (
	"strconv"

	"github.com/google/uuid"

	dErrors "merenda/pkg/domain-errors"
)

// LineID identifies a single necessity line.
type LineID uuid.UUID

func NewLineID() LineID {
	return LineID(uuid.New())
}

func (id LineID) String() string {
	return uuid.UUID(id).String()
}

func (id LineID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}

// MarshalText renders the canonical UUID form, so JSON carries the string
// representation instead of the raw byte array.
func (id LineID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *LineID) UnmarshalText(data []byte) error {
	parsed, err := ParseLineID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseLineID parses and validates a line ID from its string form.
// Rejects empty strings, malformed UUIDs and the nil UUID.
func ParseLineID(s string) (LineID, error) {
	if s == "" {
		return LineID{}, dErrors.New(dErrors.CodeBadRequest, "line id is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return LineID{}, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid line id")
	}
	if u == uuid.Nil {
		return LineID{}, dErrors.New(dErrors.CodeBadRequest, "line id must not be nil")
	}
	return LineID(u), nil
}

// SchoolID identifies a school unit in the external school directory.
type SchoolID int64

func (id SchoolID) IsZero() bool { return id == 0 }

func (id SchoolID) String() string { return strconv.FormatInt(int64(id), 10) }

func ParseSchoolID(s string) (SchoolID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, dErrors.New(dErrors.CodeBadRequest, "invalid school id")
	}
	return SchoolID(n), nil
}

// ProductID identifies an origin product in the per-capita catalog.
type ProductID int64

func (id ProductID) IsZero() bool { return id == 0 }

func (id ProductID) String() string { return strconv.FormatInt(int64(id), 10) }

func ParseProductID(s string) (ProductID, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, dErrors.New(dErrors.CodeBadRequest, "invalid product id")
	}
	return ProductID(n), nil
}

// GenericProductID identifies a standard/generic purchasing product in the
// external catalog.
type GenericProductID int64

func (id GenericProductID) IsZero() bool { return id == 0 }

func (id GenericProductID) String() string { return strconv.FormatInt(int64(id), 10) }
