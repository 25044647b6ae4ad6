// Package memstore keeps reports in process memory. It backs the CLI dry-run
// mode and the service tests.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"safereport/internal/domain/apperr"
	"safereport/internal/domain/models"
)

// ReportStore is a goroutine-safe in-memory report store
type ReportStore struct {
	mu      sync.RWMutex
	reports map[string]models.StoredReport
}

// NewReportStore creates an empty store
func NewReportStore() *ReportStore {
	return &ReportStore{reports: make(map[string]models.StoredReport)}
}

// Create stores a copy of report under a fresh id
func (s *ReportStore) Create(ctx context.Context, report *models.StoredReport) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	r := clone(report)
	r.ID = id

	s.mu.Lock()
	s.reports[id] = r
	s.mu.Unlock()
	return id, nil
}

// Get returns a copy of the report with the given id
func (s *ReportStore) Get(ctx context.Context, id string) (*models.StoredReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	r, ok := s.reports[id]
	s.mu.RUnlock()
	if !ok {
		return nil, apperr.NotFound("get", "report %s not found", id)
	}
	out := clone(&r)
	return &out, nil
}

// List returns matching reports, newest first
func (s *ReportStore) List(ctx context.Context, filter models.ReportFilter) ([]*models.StoredReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]*models.StoredReport, 0, len(s.reports))
	for _, r := range s.reports {
		if !filter.Matches(&r) {
			continue
		}
		c := clone(&r)
		out = append(out, &c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// UpdateStatus changes only the status field
func (s *ReportStore) UpdateStatus(ctx context.Context, id string, status models.ReportStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return apperr.NotFound("update_status", "report %s not found", id)
	}
	r.Status = status
	s.reports[id] = r
	return nil
}

// Len returns the number of stored reports
func (s *ReportStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.reports)
}

// Put stores a report under a caller-chosen id, replacing any existing one
func (s *ReportStore) Put(report models.StoredReport) {
	s.mu.Lock()
	s.reports[report.ID] = clone(&report)
	s.mu.Unlock()
}

func clone(r *models.StoredReport) models.StoredReport {
	c := *r
	if r.Images != nil {
		c.Images = append([]string(nil), r.Images...)
	}
	return c
}
