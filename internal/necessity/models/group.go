package models

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	id "merenda/pkg/domain"
	"merenda/pkg/weekrange"
)

// GroupKey identifies a necessity group: every line for one origin product
// and one week pair, across all schools.
type GroupKey struct {
	OriginProductID id.ProductID        `json:"origin_product_id"`
	ConsumptionWeek weekrange.WeekRange `json:"consumption_week"`
	SupplyWeek      weekrange.WeekRange `json:"supply_week"`
}

// Equal compares keys field by field. Prefer this over == so week ranges
// compare by date rather than by time.Time internals.
func (k GroupKey) Equal(other GroupKey) bool {
	return k.OriginProductID == other.OriginProductID &&
		k.ConsumptionWeek.Equal(other.ConsumptionWeek) &&
		k.SupplyWeek.Equal(other.SupplyWeek)
}

func (k GroupKey) String() string {
	return fmt.Sprintf("product %s, consumption %s, supply %s",
		k.OriginProductID, k.ConsumptionWeek.Label(), k.SupplyWeek.Label())
}

// Group is a computed view over lines sharing a GroupKey. It is never stored;
// totals are recomputed from members on every read so they cannot diverge.
type Group struct {
	Key                 GroupKey         `json:"key"`
	OriginProductName   string           `json:"origin_product_name"`
	OriginProductUnit   string           `json:"origin_product_unit"`
	Lines               []*NecessityLine `json:"lines"`
	TotalQuantityOrigin decimal.Decimal  `json:"total_quantity_origin"`
	SchoolCount         int              `json:"school_count"`
	AggregateStatus     Status           `json:"aggregate_status"`
}

// BuildGroups folds lines into their computed groups, ordered by consumption
// week start then origin product ID. Line order inside a group follows
// school name for stable display.
func BuildGroups(lines []*NecessityLine) []*Group {
	byKey := make(map[GroupKey]*Group)
	for _, line := range lines {
		key := line.GroupKey()
		g, ok := byKey[key]
		if !ok {
			g = &Group{
				Key:               key,
				OriginProductName: line.OriginProductName,
				OriginProductUnit: line.OriginProductUnit,
			}
			byKey[key] = g
		}
		g.Lines = append(g.Lines, line)
	}

	groups := make([]*Group, 0, len(byKey))
	for _, g := range byKey {
		g.recompute()
		groups = append(groups, g)
	}
	sort.Slice(groups, func(i, j int) bool {
		if !groups[i].Key.ConsumptionWeek.Equal(groups[j].Key.ConsumptionWeek) {
			return groups[i].Key.ConsumptionWeek.Before(groups[j].Key.ConsumptionWeek)
		}
		return groups[i].Key.OriginProductID < groups[j].Key.OriginProductID
	})
	return groups
}

func (g *Group) recompute() {
	sort.Slice(g.Lines, func(i, j int) bool {
		return g.Lines[i].SchoolName < g.Lines[j].SchoolName
	})

	total := decimal.Zero
	schools := make(map[id.SchoolID]struct{}, len(g.Lines))
	var aggregate Status
	mixed := false
	for i, line := range g.Lines {
		if line.QuantityOrigin.Valid {
			total = total.Add(line.QuantityOrigin.Decimal)
		}
		schools[line.SchoolID] = struct{}{}
		if i == 0 {
			aggregate = line.Status
		} else if line.Status != aggregate {
			mixed = true
		}
	}

	g.TotalQuantityOrigin = total
	g.SchoolCount = len(schools)
	g.AggregateStatus = aggregate
	if mixed {
		g.AggregateStatus = StatusMixed
	}
}
