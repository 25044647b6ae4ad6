package repository

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"

	"safereport/internal/domain/models"
)

// Text conversion helpers

func textOrNull(s string) pgtype.Text {
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

func nullTextToString(t pgtype.Text) string {
	if !t.Valid {
		return ""
	}
	return t.String
}

// Timestamp conversion helpers. Postgres keeps microseconds; report
// timestamps are already truncated to milliseconds so nothing is lost.

func timeToTimestamptz(t time.Time) pgtype.Timestamptz {
	if t.IsZero() {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}

func timestamptzToTime(t pgtype.Timestamptz) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time.UTC()
}

// UUID conversion helpers

// parseReportID maps a report id to a pgtype.UUID; ok is false when id is
// not a UUID, which callers treat as not found
func parseReportID(id string) (pgtype.UUID, bool) {
	u, err := uuid.Parse(id)
	if err != nil {
		return pgtype.UUID{}, false
	}
	return pgtype.UUID{Bytes: u, Valid: true}, true
}

func uuidToString(u pgtype.UUID) string {
	if !u.Valid {
		return ""
	}
	return uuid.UUID(u.Bytes).String()
}

// Slice helpers

func imagesOrEmpty(images []string) []string {
	if images == nil {
		return []string{}
	}
	return images
}

// statusOrPending reads a stored status. Empty means pending; any other
// value outside the enum is an error.
func statusOrPending(s string) (models.ReportStatus, error) {
	if s == "" {
		return models.ReportStatusPending, nil
	}
	status := models.ReportStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("unknown report status %q", s)
	}
	return status, nil
}
