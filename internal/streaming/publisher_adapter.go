package streaming

import (
	"context"

	"safereport/internal/domain/models"
)

// EventBusPublisher implements services.EventPublisher using the EventBus
type EventBusPublisher struct {
	eventBus *EventBus
}

// NewEventBusPublisher creates a new publisher adapter
func NewEventBusPublisher(eventBus *EventBus) *EventBusPublisher {
	return &EventBusPublisher{eventBus: eventBus}
}

// PublishReportSubmitted publishes an event for a newly stored report
func (p *EventBusPublisher) PublishReportSubmitted(ctx context.Context, report *models.StoredReport) error {
	if p.eventBus == nil {
		return nil
	}
	return p.eventBus.Publish(ctx, NewReportSubmittedEvent(report))
}

// PublishStatusChanged publishes a status transition event
func (p *EventBusPublisher) PublishStatusChanged(ctx context.Context, id string, status models.ReportStatus) error {
	if p.eventBus == nil {
		return nil
	}
	return p.eventBus.Publish(ctx, NewStatusChangedEvent(id, status))
}
