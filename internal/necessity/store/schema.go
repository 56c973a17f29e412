package store

// Schema creates the necessity_lines table. Applied by the integration test
// harness; production deployments run the same statements via their
// migration tooling.
//
// The partial unique index is the storage half of the duplicate rule:
// at most one non-excluded line per (school, origin product, consumption
// week). Excluded lines fall outside the index so regeneration after a
// soft delete is possible.
const Schema = `
CREATE TABLE IF NOT EXISTS necessity_lines (
	id UUID PRIMARY KEY,
	school_id BIGINT NOT NULL,
	school_name TEXT NOT NULL,
	origin_product_id BIGINT NOT NULL,
	origin_product_name TEXT NOT NULL,
	origin_product_unit TEXT NOT NULL,
	quantity_origin NUMERIC(14, 4),
	consumption_week_start DATE NOT NULL,
	consumption_week_end DATE NOT NULL,
	supply_week_start DATE NOT NULL,
	supply_week_end DATE NOT NULL,
	status TEXT NOT NULL,
	generic_product_id BIGINT,
	generic_product_name TEXT,
	generic_product_unit TEXT,
	quantity_generic BIGINT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	created_by TEXT NOT NULL DEFAULT '',
	updated_by TEXT NOT NULL DEFAULT '',
	CONSTRAINT quantity_generic_non_negative CHECK (quantity_generic IS NULL OR quantity_generic >= 0)
);

CREATE UNIQUE INDEX IF NOT EXISTS necessity_lines_active_key
	ON necessity_lines (school_id, origin_product_id, consumption_week_start)
	WHERE status <> 'EXCLUDED';

CREATE INDEX IF NOT EXISTS necessity_lines_group_key
	ON necessity_lines (origin_product_id, consumption_week_start, supply_week_start);

CREATE INDEX IF NOT EXISTS necessity_lines_school
	ON necessity_lines (school_id);
`
