package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"merenda/internal/necessity/models"
	id "merenda/pkg/domain"
	"merenda/pkg/platform/sentinel"
	"merenda/pkg/weekrange"
)

// PostgresStore persists necessity lines in PostgreSQL.
// This store is pure I/O; workflow rules belong in the service.
//
// Duplicate detection rides on a partial unique index over
// (school_id, origin_product_id, consumption_week_start) WHERE status <>
// 'EXCLUDED', so excluded lines never block regeneration.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const lineColumns = `
	id, school_id, school_name,
	origin_product_id, origin_product_name, origin_product_unit,
	quantity_origin,
	consumption_week_start, consumption_week_end,
	supply_week_start, supply_week_end,
	status,
	generic_product_id, generic_product_name, generic_product_unit, quantity_generic,
	created_at, updated_at, created_by, updated_by`

func (s *PostgresStore) Insert(ctx context.Context, line *models.NecessityLine) error {
	query := `
		INSERT INTO necessity_lines (` + lineColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	_, err := s.db.ExecContext(ctx, query, insertArgs(line)...)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("insert necessity line: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, lineID id.LineID) (*models.NecessityLine, error) {
	query := `SELECT ` + lineColumns + ` FROM necessity_lines WHERE id = $1`
	line, err := scanLine(s.db.QueryRowContext(ctx, query, uuid.UUID(lineID)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get necessity line: %w", err)
	}
	return line, nil
}

func (s *PostgresStore) Update(ctx context.Context, line *models.NecessityLine) error {
	result, err := s.db.ExecContext(ctx, updateQuery, updateArgs(line)...)
	if err != nil {
		return fmt.Errorf("update necessity line: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update necessity line rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// UpdateAll persists every line in one transaction. Release depends on this
// atomicity: a group is never left half released.
func (s *PostgresStore) UpdateAll(ctx context.Context, lines []*models.NecessityLine) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update all: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, line := range lines {
		result, err := tx.ExecContext(ctx, updateQuery, updateArgs(line)...)
		if err != nil {
			// Corrections can race a concurrent insert into the target week;
			// the partial unique index is the arbiter.
			if isUniqueViolation(err) {
				return sentinel.ErrConflict
			}
			return fmt.Errorf("update line %s: %w", line.ID, err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("update line %s rows affected: %w", line.ID, err)
		}
		if rows == 0 {
			return sentinel.ErrNotFound
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit update all: %w", err)
	}
	return nil
}

// predicate is one WHERE condition composed as data, never interpolated
// into the query text.
type predicate struct {
	column string
	op     string
	value  any
}

// predicates compiles the filter into parameterized conditions mirroring
// ListFilter.Matches.
func (f ListFilter) predicates() []predicate {
	var preds []predicate
	if f.SchoolID != nil {
		preds = append(preds, predicate{"school_id", "=", int64(*f.SchoolID)})
	}
	if f.OriginProductID != nil {
		preds = append(preds, predicate{"origin_product_id", "=", int64(*f.OriginProductID)})
	}
	if f.ConsumptionWeek != nil {
		preds = append(preds, predicate{"consumption_week_start", "=", f.ConsumptionWeek.Start})
	}
	if f.SupplyWeek != nil {
		preds = append(preds, predicate{"supply_week_start", "=", f.SupplyWeek.Start})
	}
	if statuses := f.EffectiveStatuses(); statuses != nil {
		values := make([]string, len(statuses))
		for i, s := range statuses {
			values[i] = string(s)
		}
		preds = append(preds, predicate{"status", "= ANY", pq.Array(values)})
	} else if !f.IncludeExcluded {
		preds = append(preds, predicate{"status", "<>", string(models.StatusExcluded)})
	}
	if f.ExcludeFinalized {
		preds = append(preds, predicate{"status", "<>", string(models.StatusFinalized)})
	}
	return preds
}

func buildWhere(preds []predicate) (string, []any) {
	if len(preds) == 0 {
		return "", nil
	}
	clauses := make([]string, len(preds))
	args := make([]any, len(preds))
	for i, p := range preds {
		if p.op == "= ANY" {
			clauses[i] = fmt.Sprintf("%s = ANY($%d)", p.column, i+1)
		} else {
			clauses[i] = fmt.Sprintf("%s %s $%d", p.column, p.op, i+1)
		}
		args[i] = p.value
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *PostgresStore) List(ctx context.Context, filter ListFilter) ([]*models.NecessityLine, error) {
	where, args := buildWhere(filter.predicates())
	query := `SELECT ` + lineColumns + ` FROM necessity_lines` + where +
		` ORDER BY consumption_week_start, school_name, origin_product_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list necessity lines: %w", err)
	}
	defer rows.Close()

	var out []*models.NecessityLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan necessity line: %w", err)
		}
		out = append(out, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate necessity lines: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) FindActive(ctx context.Context, schoolID id.SchoolID, productID id.ProductID, consumption weekrange.WeekRange) (*models.NecessityLine, error) {
	query := `
		SELECT ` + lineColumns + `
		FROM necessity_lines
		WHERE school_id = $1
		  AND origin_product_id = $2
		  AND consumption_week_start = $3
		  AND status <> $4
	`
	line, err := scanLine(s.db.QueryRowContext(ctx, query,
		int64(schoolID), int64(productID), consumption.Start, string(models.StatusExcluded)))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("find active necessity line: %w", err)
	}
	return line, nil
}

func (s *PostgresStore) ListGroup(ctx context.Context, key models.GroupKey) ([]*models.NecessityLine, error) {
	query := `
		SELECT ` + lineColumns + `
		FROM necessity_lines
		WHERE origin_product_id = $1
		  AND consumption_week_start = $2
		  AND supply_week_start = $3
		  AND status <> $4
		ORDER BY school_name
	`
	rows, err := s.db.QueryContext(ctx, query,
		int64(key.OriginProductID), key.ConsumptionWeek.Start, key.SupplyWeek.Start,
		string(models.StatusExcluded))
	if err != nil {
		return nil, fmt.Errorf("list necessity group: %w", err)
	}
	defer rows.Close()

	var out []*models.NecessityLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan necessity line: %w", err)
		}
		out = append(out, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate necessity group: %w", err)
	}
	return out, nil
}

const updateQuery = `
	UPDATE necessity_lines SET
		school_name = $2,
		origin_product_name = $3,
		origin_product_unit = $4,
		quantity_origin = $5,
		consumption_week_start = $6,
		consumption_week_end = $7,
		supply_week_start = $8,
		supply_week_end = $9,
		status = $10,
		generic_product_id = $11,
		generic_product_name = $12,
		generic_product_unit = $13,
		quantity_generic = $14,
		updated_at = $15,
		updated_by = $16
	WHERE id = $1
`

func updateArgs(line *models.NecessityLine) []any {
	return []any{
		uuid.UUID(line.ID),
		line.SchoolName,
		line.OriginProductName,
		line.OriginProductUnit,
		line.QuantityOrigin,
		line.ConsumptionWeek.Start,
		line.ConsumptionWeek.End,
		line.SupplyWeek.Start,
		line.SupplyWeek.End,
		string(line.Status),
		genericID(line),
		line.GenericProductName,
		line.GenericProductUnit,
		line.QuantityGeneric,
		line.UpdatedAt,
		line.UpdatedBy,
	}
}

func insertArgs(line *models.NecessityLine) []any {
	return []any{
		uuid.UUID(line.ID),
		int64(line.SchoolID),
		line.SchoolName,
		int64(line.OriginProductID),
		line.OriginProductName,
		line.OriginProductUnit,
		line.QuantityOrigin,
		line.ConsumptionWeek.Start,
		line.ConsumptionWeek.End,
		line.SupplyWeek.Start,
		line.SupplyWeek.End,
		string(line.Status),
		genericID(line),
		line.GenericProductName,
		line.GenericProductUnit,
		line.QuantityGeneric,
		line.CreatedAt,
		line.UpdatedAt,
		line.CreatedBy,
		line.UpdatedBy,
	}
}

func genericID(line *models.NecessityLine) *int64 {
	if line.GenericProductID == nil {
		return nil
	}
	v := int64(*line.GenericProductID)
	return &v
}

type lineRow interface {
	Scan(dest ...any) error
}

func scanLine(row lineRow) (*models.NecessityLine, error) {
	var line models.NecessityLine
	var lineID uuid.UUID
	var schoolID, productID int64
	var consStart, consEnd, supplyStart, supplyEnd sql.NullTime
	var status string
	var genProductID, qtyGeneric sql.NullInt64
	var genName, genUnit sql.NullString
	err := row.Scan(
		&lineID, &schoolID, &line.SchoolName,
		&productID, &line.OriginProductName, &line.OriginProductUnit,
		&line.QuantityOrigin,
		&consStart, &consEnd,
		&supplyStart, &supplyEnd,
		&status,
		&genProductID, &genName, &genUnit, &qtyGeneric,
		&line.CreatedAt, &line.UpdatedAt, &line.CreatedBy, &line.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}

	line.ID = id.LineID(lineID)
	line.SchoolID = id.SchoolID(schoolID)
	line.OriginProductID = id.ProductID(productID)
	line.ConsumptionWeek = weekFromDates(consStart, consEnd)
	line.SupplyWeek = weekFromDates(supplyStart, supplyEnd)
	line.Status = models.Status(status)
	if genProductID.Valid {
		v := id.GenericProductID(genProductID.Int64)
		line.GenericProductID = &v
	}
	if genName.Valid {
		line.GenericProductName = &genName.String
	}
	if genUnit.Valid {
		line.GenericProductUnit = &genUnit.String
	}
	if qtyGeneric.Valid {
		line.QuantityGeneric = &qtyGeneric.Int64
	}
	return &line, nil
}

// weekFromDates rebuilds a week range from DATE columns, normalizing the
// driver's timezone handling back to midnight UTC so ranges compare by date.
func weekFromDates(start, end sql.NullTime) weekrange.WeekRange {
	if !start.Valid {
		return weekrange.WeekRange{}
	}
	w := weekrange.Of(start.Time.UTC())
	_ = end // end is derivable; the column exists for ad hoc SQL reporting
	return w
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
