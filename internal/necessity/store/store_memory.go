package store

import (
	"context"
	"sort"
	"sync"

	"merenda/internal/necessity/models"
	id "merenda/pkg/domain"
	"merenda/pkg/platform/sentinel"
	"merenda/pkg/weekrange"
)

// MemoryStore is an in-memory Store for tests and local development.
// It hands out clones so callers never share mutable state with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	lines map[id.LineID]*models.NecessityLine
}

func NewMemory() *MemoryStore {
	return &MemoryStore{lines: make(map[id.LineID]*models.NecessityLine)}
}

func (s *MemoryStore) Insert(_ context.Context, line *models.NecessityLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.lines[line.ID]; exists {
		return sentinel.ErrConflict
	}
	if s.findActiveLocked(line.SchoolID, line.OriginProductID, line.ConsumptionWeek) != nil {
		return sentinel.ErrConflict
	}
	s.lines[line.ID] = line.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, lineID id.LineID) (*models.NecessityLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	line, ok := s.lines[lineID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return line.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, line *models.NecessityLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lines[line.ID]; !ok {
		return sentinel.ErrNotFound
	}
	s.lines[line.ID] = line.Clone()
	return nil
}

func (s *MemoryStore) UpdateAll(_ context.Context, lines []*models.NecessityLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate everything before touching anything so the batch stays atomic.
	for _, line := range lines {
		if _, ok := s.lines[line.ID]; !ok {
			return sentinel.ErrNotFound
		}
	}
	for _, line := range lines {
		s.lines[line.ID] = line.Clone()
	}
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]*models.NecessityLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.NecessityLine
	for _, line := range s.lines {
		if filter.Matches(line) {
			out = append(out, line.Clone())
		}
	}
	sortLines(out)
	return out, nil
}

func (s *MemoryStore) FindActive(_ context.Context, schoolID id.SchoolID, productID id.ProductID, consumption weekrange.WeekRange) (*models.NecessityLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if line := s.findActiveLocked(schoolID, productID, consumption); line != nil {
		return line.Clone(), nil
	}
	return nil, nil
}

func (s *MemoryStore) ListGroup(_ context.Context, key models.GroupKey) ([]*models.NecessityLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.NecessityLine
	for _, line := range s.lines {
		if line.Status == models.StatusExcluded {
			continue
		}
		if line.GroupKey().Equal(key) {
			out = append(out, line.Clone())
		}
	}
	sortLines(out)
	return out, nil
}

func (s *MemoryStore) findActiveLocked(schoolID id.SchoolID, productID id.ProductID, consumption weekrange.WeekRange) *models.NecessityLine {
	for _, line := range s.lines {
		if line.Status == models.StatusExcluded {
			continue
		}
		if line.SchoolID == schoolID && line.OriginProductID == productID && line.ConsumptionWeek.Equal(consumption) {
			return line
		}
	}
	return nil
}

// sortLines orders by consumption week start, then school name, then
// product ID, matching the postgres ORDER BY.
func sortLines(lines []*models.NecessityLine) {
	sort.Slice(lines, func(i, j int) bool {
		if !lines[i].ConsumptionWeek.Equal(lines[j].ConsumptionWeek) {
			return lines[i].ConsumptionWeek.Before(lines[j].ConsumptionWeek)
		}
		if lines[i].SchoolName != lines[j].SchoolName {
			return lines[i].SchoolName < lines[j].SchoolName
		}
		return lines[i].OriginProductID < lines[j].OriginProductID
	})
}
