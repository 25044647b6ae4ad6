package services

import (
	"context"
	"io"

	"safereport/internal/domain/models"
)

// ReportStore persists StoredReports. Implementations return an
// apperr.KindNotFound error for unknown ids; any other error is treated as a
// persistence failure.
type ReportStore interface {
	// Create inserts a new report and returns the store-assigned id
	Create(ctx context.Context, report *models.StoredReport) (string, error)
	// Get returns one report
	Get(ctx context.Context, id string) (*models.StoredReport, error)
	// List returns reports matching filter ordered by timestamp, newest first
	List(ctx context.Context, filter models.ReportFilter) ([]*models.StoredReport, error)
	// UpdateStatus writes only the status field
	UpdateStatus(ctx context.Context, id string, status models.ReportStatus) error
}

// BlobStore receives uploaded media and hands back public URLs
type BlobStore interface {
	Put(ctx context.Context, path string, r io.Reader, size int64, contentType string, onProgress func(written int64)) (string, error)
}

// AssetResolver turns a local asset reference into a readable Blob
type AssetResolver interface {
	Resolve(ctx context.Context, ref string) (*models.Blob, error)
}

// FieldCodec encrypts the free-text report fields
type FieldCodec interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// EventPublisher announces report lifecycle changes. Events never carry
// plaintext report fields.
type EventPublisher interface {
	PublishReportSubmitted(ctx context.Context, report *models.StoredReport) error
	PublishStatusChanged(ctx context.Context, id string, status models.ReportStatus) error
}

// NopPublisher discards events
type NopPublisher struct{}

func (NopPublisher) PublishReportSubmitted(context.Context, *models.StoredReport) error { return nil }

func (NopPublisher) PublishStatusChanged(context.Context, string, models.ReportStatus) error {
	return nil
}
