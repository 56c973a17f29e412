package sentinel

import "errors"

// Sentinel errors for store-level facts. Stores return these (optionally
// wrapped) so services can translate them into coded domain errors without
// the store knowing about workflow rules.
//
//   - ErrNotFound: row does not exist
//   - ErrConflict: unique key already taken
//   - ErrInvalidState: row status does not admit the requested mutation
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidState = errors.New("invalid state")
)
