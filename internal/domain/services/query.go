package services

import (
	"context"
	"sort"
	"strings"

	"safereport/internal/domain/apperr"
	"safereport/internal/domain/models"
	"safereport/pkg/logger"
)

// QueryService is the authority-side read and triage path
type QueryService struct {
	store     ReportStore
	codec     FieldCodec
	publisher EventPublisher
	logger    *logger.Logger
}

// NewQueryService creates a QueryService
func NewQueryService(store ReportStore, codec FieldCodec, log *logger.Logger) *QueryService {
	return &QueryService{
		store:     store,
		codec:     codec,
		publisher: NopPublisher{},
		logger:    log.WithComponent("query"),
	}
}

// SetEventPublisher sets the event publisher for status notifications
func (q *QueryService) SetEventPublisher(publisher EventPublisher) {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	q.publisher = publisher
}

// List returns every report, newest first, with text fields decrypted
func (q *QueryService) List(ctx context.Context) ([]models.ReportListItem, error) {
	return q.ListFiltered(ctx, models.ReportFilter{})
}

// ListFiltered returns matching reports, newest first. A single record that
// fails to decrypt fails the whole call.
func (q *QueryService) ListFiltered(ctx context.Context, filter models.ReportFilter) ([]models.ReportListItem, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.Validation("list", "unknown status %q", filter.Status)
	}

	stored, err := q.store.List(ctx, filter)
	if err != nil {
		return nil, asPersistence("list", err, "failed to load reports")
	}

	sort.SliceStable(stored, func(i, j int) bool {
		return stored[i].Timestamp.After(stored[j].Timestamp)
	})

	items := make([]models.ReportListItem, 0, len(stored))
	for _, r := range stored {
		item, err := q.decrypt(r)
		if err != nil {
			q.logger.Error().Err(err).Str("report_id", r.ID).Msg("failed to decrypt report")
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// Get returns one decrypted report including its audio URL
func (q *QueryService) Get(ctx context.Context, id string) (*models.ReportDetail, error) {
	if strings.TrimSpace(id) == "" {
		return nil, apperr.Validation("get", "report id is required")
	}
	r, err := q.store.Get(ctx, id)
	if err != nil {
		return nil, asPersistence("get", err, "failed to load report")
	}
	item, err := q.decrypt(r)
	if err != nil {
		return nil, err
	}
	return &models.ReportDetail{ReportListItem: item, AudioURL: r.AudioURL}, nil
}

// SetStatus changes only the status of an existing report
func (q *QueryService) SetStatus(ctx context.Context, id string, status models.ReportStatus) error {
	if strings.TrimSpace(id) == "" {
		return apperr.Validation("set_status", "report id is required")
	}
	if !status.Valid() {
		return apperr.Validation("set_status", "unknown status %q", status)
	}

	if err := q.store.UpdateStatus(ctx, id, status); err != nil {
		return asPersistence("set_status", err, "failed to update status")
	}

	q.logger.WithReportID(id).Info().Str("status", string(status)).Msg("report status changed")

	if err := q.publisher.PublishStatusChanged(ctx, id, status); err != nil {
		q.logger.Warn().Err(err).Str("report_id", id).Msg("failed to publish status changed event")
	}
	return nil
}

func (q *QueryService) decrypt(r *models.StoredReport) (models.ReportListItem, error) {
	location, err := q.codec.Decrypt(r.Location)
	if err != nil {
		return models.ReportListItem{}, err
	}
	description, err := q.codec.Decrypt(r.Description)
	if err != nil {
		return models.ReportListItem{}, err
	}
	images := r.Images
	if images == nil {
		images = []string{}
	}
	return models.ReportListItem{
		ID:          r.ID,
		Location:    location,
		Description: description,
		Images:      images,
		Timestamp:   r.Timestamp,
		Status:      r.Status,
	}, nil
}

// asPersistence keeps tagged errors (not found, validation) and tags the rest
func asPersistence(op string, err error, msg string) error {
	if apperr.KindOf(err) == apperr.KindUnknown {
		return apperr.Persistence(op, err, "%s", msg)
	}
	return err
}
