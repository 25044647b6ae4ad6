package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"safereport/internal/domain/apperr"
	"safereport/internal/domain/models"
	"safereport/pkg/logger"
)

// SubmitOptions carries the optional overall progress callback. Percent is
// in [0, 100], non-decreasing, and ends at 100 on success.
type SubmitOptions struct {
	OnProgress func(percent float64)
}

// SubmissionService turns a composed report into a persisted, encrypted record
type SubmissionService struct {
	codec     FieldCodec
	uploader  Uploader
	store     ReportStore
	publisher EventPublisher
	logger    *logger.Logger

	now   func() time.Time
	token func() string
}

// NewSubmissionService creates a SubmissionService
func NewSubmissionService(codec FieldCodec, uploader Uploader, store ReportStore, log *logger.Logger) *SubmissionService {
	return &SubmissionService{
		codec:     codec,
		uploader:  uploader,
		store:     store,
		publisher: NopPublisher{},
		logger:    log.WithComponent("submission"),
		now:       time.Now,
		token:     func() string { return strings.ReplaceAll(uuid.NewString(), "-", "")[:12] },
	}
}

// SetEventPublisher sets the event publisher for report notifications
func (s *SubmissionService) SetEventPublisher(publisher EventPublisher) {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	s.publisher = publisher
}

type pendingAsset struct {
	ref   string
	class models.AssetClass
}

// Submit validates the form, encrypts its text fields, uploads every asset
// in order (images then audio) and writes exactly one record. Nothing is
// written if any step fails. Returns the new report id.
func (s *SubmissionService) Submit(ctx context.Context, form models.ReportFormData, opts SubmitOptions) (string, error) {
	if strings.TrimSpace(form.Description) == "" {
		return "", apperr.Validation("submit", "please provide a description")
	}
	location := form.Location
	if strings.TrimSpace(location) == "" {
		location = models.DefaultLocation
	}

	assets := make([]pendingAsset, 0, form.AssetCount())
	for i, ref := range form.Images {
		if strings.TrimSpace(ref) == "" {
			return "", apperr.Validation("submit", "image %d has no file reference", i+1)
		}
		assets = append(assets, pendingAsset{ref: ref, class: models.AssetClassImage})
	}
	if form.AudioPath != "" {
		if strings.TrimSpace(form.AudioPath) == "" {
			return "", apperr.Validation("submit", "audio attachment has no file reference")
		}
		assets = append(assets, pendingAsset{ref: form.AudioPath, class: models.AssetClassAudio})
	}

	encLocation, err := s.codec.Encrypt(location)
	if err != nil {
		return "", err
	}
	encDescription, err := s.codec.Encrypt(form.Description)
	if err != nil {
		return "", err
	}

	progress := newOverallProgress(len(assets), opts.OnProgress)
	images := make([]string, 0, len(form.Images))
	var audioURL string

	for i, a := range assets {
		if err := ctx.Err(); err != nil {
			return "", apperr.Upload("submit", err, "submission cancelled")
		}

		remote := fmt.Sprintf("%s%d_%s", a.class.Namespace(), s.now().UnixNano(), s.token())
		url, err := s.uploader.Upload(ctx, a.ref, remote, UploadOptions{
			OnProgress: func(p models.UploadProgress) { progress.asset(i, p.Fraction()) },
		})
		if err != nil {
			if i > 0 {
				s.logger.Warn().
					Int("uploaded", i).
					Int("total", len(assets)).
					Msg("submission aborted after partial upload, earlier assets are orphaned")
			}
			return "", err
		}
		progress.completed(i + 1)

		if a.class == models.AssetClassAudio {
			audioURL = url
		} else {
			images = append(images, url)
		}
	}

	report := &models.StoredReport{
		Location:    encLocation,
		Description: encDescription,
		Images:      images,
		AudioURL:    audioURL,
		Timestamp:   s.now().UTC().Truncate(time.Millisecond),
		Status:      models.ReportStatusPending,
	}

	id, err := s.store.Create(ctx, report)
	if err != nil {
		return "", asPersistence("submit", err, "failed to save report")
	}
	report.ID = id

	s.logger.WithReportID(id).Info().
		Int("images", len(images)).
		Bool("audio", audioURL != "").
		Msg("report submitted")

	if err := s.publisher.PublishReportSubmitted(ctx, report); err != nil {
		s.logger.Warn().Err(err).Str("report_id", id).Msg("failed to publish report submitted event")
	}

	return id, nil
}

// overallProgress folds per-asset progress into a single percentage
type overallProgress struct {
	total int
	last  float64
	fn    func(float64)
}

func newOverallProgress(total int, fn func(float64)) *overallProgress {
	return &overallProgress{total: total, last: -1, fn: fn}
}

func (p *overallProgress) asset(index int, fraction float64) {
	p.emit((float64(index) + fraction) / float64(p.total) * 100)
}

func (p *overallProgress) completed(n int) {
	p.emit(float64(n) / float64(p.total) * 100)
}

func (p *overallProgress) emit(pct float64) {
	if p.fn == nil || p.total == 0 {
		return
	}
	if pct > 100 {
		pct = 100
	}
	if pct <= p.last {
		return
	}
	p.last = pct
	p.fn(pct)
}
