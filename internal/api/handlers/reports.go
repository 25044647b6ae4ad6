package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"safereport/internal/domain/apperr"
	"safereport/internal/domain/models"
	"safereport/internal/domain/services"
	"safereport/pkg/logger"
)

// UploadLimits bounds a multipart submission
type UploadLimits struct {
	// MaxFileBytes is the per-asset ceiling enforced by the uploader
	MaxFileBytes int64
	// MaxImages caps the number of attached images
	MaxImages int
	// MaxFormMemory is the in-memory part of multipart parsing
	MaxFormMemory int64
}

// DefaultUploadLimits returns limits for 10 MiB assets and up to 10 images
func DefaultUploadLimits() UploadLimits {
	return UploadLimits{MaxFileBytes: 10 << 20, MaxImages: 10, MaxFormMemory: 8 << 20}
}

// maxBody allows every attachment at the ceiling plus a margin for fields
func (l UploadLimits) maxBody() int64 {
	return l.MaxFileBytes*int64(l.MaxImages+1) + 1<<20
}

// ReportsHandler handles report submission and triage endpoints
type ReportsHandler struct {
	submitter ReportSubmitter
	reader    ReportReader
	limits    UploadLimits
	logger    *logger.Logger
}

// NewReportsHandler creates a new ReportsHandler
func NewReportsHandler(submitter ReportSubmitter, reader ReportReader, limits UploadLimits, log *logger.Logger) *ReportsHandler {
	def := DefaultUploadLimits()
	if limits.MaxFileBytes <= 0 {
		limits.MaxFileBytes = def.MaxFileBytes
	}
	if limits.MaxImages <= 0 {
		limits.MaxImages = def.MaxImages
	}
	if limits.MaxFormMemory <= 0 {
		limits.MaxFormMemory = def.MaxFormMemory
	}
	return &ReportsHandler{
		submitter: submitter,
		reader:    reader,
		limits:    limits,
		logger:    log.WithComponent("reports-handler"),
	}
}

// SubmitResponse is returned for a stored report
type SubmitResponse struct {
	ID string `json:"id"`
}

// Submit handles POST /api/v1/reports (multipart: description, location,
// images[], audio)
func (h *ReportsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.limits.maxBody())
	if err := r.ParseMultipartForm(h.limits.MaxFormMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, http.StatusRequestEntityTooLarge, "too_large", "submission is too large")
			return
		}
		respondError(w, http.StatusBadRequest, string(apperr.KindValidation), "expected a multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	images := r.MultipartForm.File["images"]
	if len(images) > h.limits.MaxImages {
		respondError(w, http.StatusBadRequest, string(apperr.KindValidation),
			fmt.Sprintf("at most %d images may be attached", h.limits.MaxImages))
		return
	}
	audio := r.MultipartForm.File["audio"]
	if len(audio) > 1 {
		respondError(w, http.StatusBadRequest, string(apperr.KindValidation), "at most one audio recording may be attached")
		return
	}

	spool, err := os.MkdirTemp("", "safereport-submit-*")
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to create spool dir")
		respondError(w, http.StatusInternalServerError, "internal", "failed to accept attachments")
		return
	}
	defer os.RemoveAll(spool)

	form := models.ReportFormData{
		Description: r.FormValue("description"),
		Location:    r.FormValue("location"),
	}
	for i, fh := range images {
		path, err := spoolFile(spool, fmt.Sprintf("image-%d", i), fh)
		if err != nil {
			logger.FromContext(r.Context(), h.logger).Error().Err(err).Msg("failed to spool image")
			respondError(w, http.StatusInternalServerError, "internal", "failed to accept attachments")
			return
		}
		form.Images = append(form.Images, path)
	}
	if len(audio) == 1 {
		path, err := spoolFile(spool, "audio", audio[0])
		if err != nil {
			logger.FromContext(r.Context(), h.logger).Error().Err(err).Msg("failed to spool audio")
			respondError(w, http.StatusInternalServerError, "internal", "failed to accept attachments")
			return
		}
		form.AudioPath = path
	}

	id, err := h.submitter.Submit(r.Context(), form, services.SubmitOptions{})
	if err != nil {
		h.respondAppError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, SubmitResponse{ID: id})
}

// ListResponse wraps a report listing
type ListResponse struct {
	Reports []models.ReportListItem `json:"reports"`
	Total   int                     `json:"total"`
}

// List handles GET /api/v1/reports?status=
func (h *ReportsHandler) List(w http.ResponseWriter, r *http.Request) {
	var filter models.ReportFilter
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := models.ParseReportStatus(raw)
		if !ok {
			respondError(w, http.StatusBadRequest, string(apperr.KindValidation), "unknown status")
			return
		}
		filter.Status = status
	}

	items, err := h.reader.ListFiltered(r.Context(), filter)
	if err != nil {
		h.respondAppError(w, r, err)
		return
	}
	if items == nil {
		items = []models.ReportListItem{}
	}
	respondJSON(w, http.StatusOK, ListResponse{Reports: items, Total: len(items)})
}

// Get handles GET /api/v1/reports/{id}
func (h *ReportsHandler) Get(w http.ResponseWriter, r *http.Request) {
	detail, err := h.reader.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

// StatusRequest is the body of a status change
type StatusRequest struct {
	Status string `json:"status"`
}

// SetStatus handles PATCH /api/v1/reports/{id}/status
func (h *ReportsHandler) SetStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<10)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, string(apperr.KindValidation), "invalid request body")
		return
	}
	status, ok := models.ParseReportStatus(req.Status)
	if !ok {
		respondError(w, http.StatusBadRequest, string(apperr.KindValidation), "unknown status")
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.reader.SetStatus(r.Context(), id, status); err != nil {
		h.respondAppError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(status)})
}

// respondAppError maps an error kind to a status code and a message that
// never echoes report content
func (h *ReportsHandler) respondAppError(w http.ResponseWriter, r *http.Request, err error) {
	log := logger.FromContext(r.Context(), h.logger)
	kind := apperr.KindOf(err)
	status, message := statusForKind(kind)
	if kind == apperr.KindValidation || kind == apperr.KindNotFound {
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Msg != "" {
			message = ae.Msg
		}
		log.Debug().Err(err).Str("kind", string(kind)).Msg("request rejected")
	} else {
		log.Error().Err(err).Str("kind", string(kind)).Msg("request failed")
	}
	respondError(w, status, string(kind), message)
}

func statusForKind(kind apperr.Kind) (int, string) {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest, "invalid report"
	case apperr.KindNotFound:
		return http.StatusNotFound, "report not found"
	case apperr.KindConfiguration:
		return http.StatusInternalServerError, "service is not configured for encrypted reports"
	case apperr.KindCrypto:
		return http.StatusInternalServerError, "report data could not be processed"
	case apperr.KindUpload:
		return http.StatusBadGateway, "media upload failed, please try again"
	case apperr.KindPersistence:
		return http.StatusServiceUnavailable, "report storage is unavailable, please try again"
	default:
		return http.StatusInternalServerError, "unexpected error"
	}
}

func spoolFile(dir, name string, fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", err
	}
	defer src.Close()

	path := filepath.Join(dir, name)
	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return "", err
	}
	return path, dst.Close()
}
