package models

// Status is the workflow state of a necessity line.
type Status string

const (
	// StatusNew marks a line freshly generated from a forecast.
	StatusNew Status = "NEW"

	// StatusNutriAdjusted marks a line the nutritionist has touched,
	// typically by applying or undoing a substitution.
	StatusNutriAdjusted Status = "NUTRI_ADJUSTED"

	// StatusAwaitingCoordination marks a line released for coordination
	// review. The nutritionist phase is over for it.
	StatusAwaitingCoordination Status = "AWAITING_COORDINATION"

	// StatusFinalized is the one irreversible state. Finalized lines are
	// read-only forever.
	StatusFinalized Status = "FINALIZED"

	// StatusExcluded is the soft-delete state. Excluded lines stay in
	// storage for the audit trail but downstream reports treat them as
	// absent. Exclusion is terminal.
	StatusExcluded Status = "EXCLUDED"
)

// StatusMixed is a group-level pseudo status reported when member lines
// disagree. It never appears on an individual line; it is an allowed
// transient observation while a correction is splitting a group.
const StatusMixed Status = "MIXED"

var transitions = map[Status][]Status{
	StatusNew:                  {StatusNutriAdjusted, StatusAwaitingCoordination, StatusExcluded},
	StatusNutriAdjusted:        {StatusAwaitingCoordination, StatusExcluded},
	StatusAwaitingCoordination: {StatusFinalized, StatusExcluded},
	StatusFinalized:            {},
	StatusExcluded:             {},
}

// CanTransitionTo reports whether the workflow admits moving to target.
func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// CanCorrect reports whether a line in this status may be re-dated by the
// correction subsystem. Only the two nutritionist-phase statuses qualify.
func (s Status) CanCorrect() bool {
	return s == StatusNew || s == StatusNutriAdjusted
}

// Valid reports whether s is a known line status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}
