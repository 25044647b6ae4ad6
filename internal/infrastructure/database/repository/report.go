package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"safereport/internal/domain/apperr"
	"safereport/internal/domain/models"
	"safereport/internal/infrastructure/database"
)

// ReportRepository handles report persistence in PostgreSQL
type ReportRepository struct {
	db database.DBTX
}

// NewReportRepository creates a new report repository
func NewReportRepository(db database.DBTX) *ReportRepository {
	return &ReportRepository{db: db}
}

const reportColumns = `id, location, description, images, audio_url, reported_at, status`

// Create inserts a new report
func (r *ReportRepository) Create(ctx context.Context, report *models.StoredReport) (string, error) {
	id := uuid.New()

	query := `
		INSERT INTO reports (` + reportColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.db.Exec(ctx, query,
		id, report.Location, report.Description, imagesOrEmpty(report.Images),
		textOrNull(report.AudioURL), timeToTimestamptz(report.Timestamp), string(report.Status),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create report: %w", err)
	}

	return id.String(), nil
}

// Get retrieves a report by ID
func (r *ReportRepository) Get(ctx context.Context, id string) (*models.StoredReport, error) {
	uid, ok := parseReportID(id)
	if !ok {
		return nil, apperr.NotFound("get", "report %s not found", id)
	}

	query := `SELECT ` + reportColumns + ` FROM reports WHERE id = $1`
	report, err := scanReport(r.db.QueryRow(ctx, query, uid))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("get", "report %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get report: %w", err)
	}
	return report, nil
}

// List retrieves reports, newest first
func (r *ReportRepository) List(ctx context.Context, filter models.ReportFilter) ([]*models.StoredReport, error) {
	query := `SELECT ` + reportColumns + ` FROM reports`
	var args []any
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY reported_at DESC, id`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list reports: %w", err)
	}
	defer rows.Close()

	var reports []*models.StoredReport
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate reports: %w", err)
	}

	return reports, nil
}

// UpdateStatus updates only the status column
func (r *ReportRepository) UpdateStatus(ctx context.Context, id string, status models.ReportStatus) error {
	uid, ok := parseReportID(id)
	if !ok {
		return apperr.NotFound("update_status", "report %s not found", id)
	}

	tag, err := r.db.Exec(ctx, `UPDATE reports SET status = $2 WHERE id = $1`, uid, string(status))
	if err != nil {
		return fmt.Errorf("failed to update report status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("update_status", "report %s not found", id)
	}
	return nil
}

func scanReport(row pgx.Row) (*models.StoredReport, error) {
	var (
		id         pgtype.UUID
		report     models.StoredReport
		audioURL   pgtype.Text
		reportedAt pgtype.Timestamptz
		status     string
	)
	err := row.Scan(
		&id, &report.Location, &report.Description, &report.Images,
		&audioURL, &reportedAt, &status,
	)
	if err != nil {
		return nil, err
	}
	report.ID = uuidToString(id)
	report.AudioURL = nullTextToString(audioURL)
	report.Timestamp = timestamptzToTime(reportedAt)
	if report.Status, err = statusOrPending(status); err != nil {
		return nil, fmt.Errorf("report %s: %w", report.ID, err)
	}
	report.Images = imagesOrEmpty(report.Images)
	return &report, nil
}
