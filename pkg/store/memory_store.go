package store

import (
	"sync"

	"inkstudio/pkg/domain"
)

// MemoryStore keeps manuscripts and reports in-process. It backs tests and
// single-user local runs; the GORM store is the production path.
type MemoryStore struct {
	mu          sync.RWMutex
	manuscripts map[string]domain.Manuscript
	reports     map[string]domain.AnalysisReport
	order       []string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		manuscripts: make(map[string]domain.Manuscript),
		reports:     make(map[string]domain.AnalysisReport),
	}
}

// SaveManuscript stores or replaces a record and tracks insertion order.
func (m *MemoryStore) SaveManuscript(ms domain.Manuscript) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.manuscripts[ms.ID]; !exists {
		m.order = append(m.order, ms.ID)
	}
	m.manuscripts[ms.ID] = ms
	return nil
}

// GetManuscript retrieves a record by ID.
func (m *MemoryStore) GetManuscript(id string) (domain.Manuscript, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.manuscripts[id]
	return ms, ok, nil
}

// ListManuscripts returns records in insertion order.
func (m *MemoryStore) ListManuscripts() ([]domain.Manuscript, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Manuscript, 0, len(m.order))
	for _, id := range m.order {
		if ms, ok := m.manuscripts[id]; ok {
			res = append(res, ms)
		}
	}
	return res, nil
}

// DeleteManuscript removes a record and its report. No-op for unknown ids.
func (m *MemoryStore) DeleteManuscript(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ms, ok := m.manuscripts[id]
	if !ok {
		return nil
	}
	delete(m.manuscripts, id)
	if ms.AnalysisID != "" {
		delete(m.reports, ms.AnalysisID)
	}
	filtered := m.order[:0]
	for _, item := range m.order {
		if item != id {
			filtered = append(filtered, item)
		}
	}
	m.order = filtered
	return nil
}

// SaveReport stores or replaces an analysis report.
func (m *MemoryStore) SaveReport(r domain.AnalysisReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.ID] = r
	return nil
}

// GetReport retrieves a report by ID.
func (m *MemoryStore) GetReport(id string) (domain.AnalysisReport, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[id]
	return r, ok, nil
}

// DeleteReportByManuscript drops any report owned by the manuscript.
func (m *MemoryStore) DeleteReportByManuscript(manuscriptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.reports {
		if r.ManuscriptID == manuscriptID {
			delete(m.reports, id)
		}
	}
	return nil
}
