package streaming

import (
	"time"

	"github.com/google/uuid"

	"safereport/internal/domain/models"
)

// EventType represents the type of report event
type EventType string

const (
	EventTypeReportSubmitted EventType = "report_submitted"
	EventTypeStatusChanged   EventType = "report_status_changed"
)

// ReportEvent announces a report lifecycle change. It carries identifiers
// and counts only, never report text.
type ReportEvent struct {
	ID        string              `json:"id"`
	Type      EventType           `json:"type"`
	Timestamp time.Time           `json:"timestamp"`
	ReportID  string              `json:"report_id"`
	Status    models.ReportStatus `json:"status"`

	ImageCount int  `json:"image_count,omitempty"`
	HasAudio   bool `json:"has_audio,omitempty"`
}

// NewReportSubmittedEvent creates an event for a newly stored report
func NewReportSubmittedEvent(report *models.StoredReport) *ReportEvent {
	return &ReportEvent{
		ID:         uuid.New().String(),
		Type:       EventTypeReportSubmitted,
		Timestamp:  time.Now().UTC(),
		ReportID:   report.ID,
		Status:     report.Status,
		ImageCount: len(report.Images),
		HasAudio:   report.AudioURL != "",
	}
}

// NewStatusChangedEvent creates an event for a status transition
func NewStatusChangedEvent(reportID string, status models.ReportStatus) *ReportEvent {
	return &ReportEvent{
		ID:        uuid.New().String(),
		Type:      EventTypeStatusChanged,
		Timestamp: time.Now().UTC(),
		ReportID:  reportID,
		Status:    status,
	}
}

// Subscription filters the events a subscriber receives
type Subscription struct {
	// Filter by event types (empty = all)
	Types []EventType `json:"types,omitempty"`
	// Filter by resulting status (empty = all)
	Statuses []models.ReportStatus `json:"statuses,omitempty"`
}

// Matches checks if an event matches the subscription filters
func (s *Subscription) Matches(event *ReportEvent) bool {
	if s == nil {
		return true
	}
	if len(s.Types) > 0 && !containsType(s.Types, event.Type) {
		return false
	}
	if len(s.Statuses) > 0 && !containsStatus(s.Statuses, event.Status) {
		return false
	}
	return true
}

func containsType(types []EventType, t EventType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func containsStatus(statuses []models.ReportStatus, st models.ReportStatus) bool {
	for _, x := range statuses {
		if x == st {
			return true
		}
	}
	return false
}
