package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"safereport/internal/domain/models"
	"safereport/internal/domain/services"
	"safereport/pkg/logger"
)

// Handlers holds all API handlers
type Handlers struct {
	Health  *HealthHandler
	Reports *ReportsHandler
}

// ReportSubmitter accepts new reports
type ReportSubmitter interface {
	Submit(ctx context.Context, form models.ReportFormData, opts services.SubmitOptions) (string, error)
}

// ReportReader serves the authority read and triage path
type ReportReader interface {
	ListFiltered(ctx context.Context, filter models.ReportFilter) ([]models.ReportListItem, error)
	Get(ctx context.Context, id string) (*models.ReportDetail, error)
	SetStatus(ctx context.Context, id string, status models.ReportStatus) error
}

// Checker is a backend probed by the readiness endpoint
type Checker interface {
	Ping(ctx context.Context) error
}

// Dependencies holds dependencies for handlers
type Dependencies struct {
	Submitter ReportSubmitter
	Reader    ReportReader
	Checks    map[string]Checker
	Limits    UploadLimits
	Version   string
	Logger    *logger.Logger
}

// NewHandlers creates all handlers
func NewHandlers(deps Dependencies) *Handlers {
	return &Handlers{
		Health:  NewHealthHandler(deps.Checks, deps.Version, deps.Logger),
		Reports: NewReportsHandler(deps.Submitter, deps.Reader, deps.Limits, deps.Logger),
	}
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{Error: message, Code: code})
}
