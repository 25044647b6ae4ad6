package services

import (
	"context"
	"errors"
	"mime"
	"strings"
	"time"

	"safereport/internal/config"
	"safereport/internal/domain/apperr"
	"safereport/internal/domain/models"
	"safereport/pkg/logger"
)

// DelayFunc waits for d or until ctx is done
type DelayFunc func(ctx context.Context, d time.Duration) error

// SleepContext is the production DelayFunc
func SleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// UploaderConfig holds validation limits and the retry policy
type UploaderConfig struct {
	MaxBytes    int64
	MaxAttempts int
	// BaseDelay is multiplied by 2^attempt after each failed attempt
	BaseDelay time.Duration
	Delay     DelayFunc
}

// DefaultUploaderConfig returns a 10 MiB ceiling and 3 attempts with 2s, 4s backoff
func DefaultUploaderConfig() UploaderConfig {
	return UploaderConfig{
		MaxBytes:    10 << 20,
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		Delay:       SleepContext,
	}
}

// UploaderConfigFrom builds the uploader config from application config
func UploaderConfigFrom(cfg config.UploadConfig) UploaderConfig {
	uc := DefaultUploaderConfig()
	if cfg.MaxBytes > 0 {
		uc.MaxBytes = cfg.MaxBytes
	}
	if cfg.MaxAttempts > 0 {
		uc.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		uc.BaseDelay = cfg.BaseDelay
	}
	return uc
}

// Backoff returns the wait after the given 1-based failed attempt
func (c UploaderConfig) Backoff(attempt int) time.Duration {
	return c.BaseDelay << uint(attempt)
}

var allowedTypes = map[models.AssetClass]map[string]bool{
	models.AssetClassImage: {
		"image/jpeg":  true,
		"image/jpg":   true,
		"image/pjpeg": true,
		"image/png":   true,
		"image/heic":  true,
	},
	models.AssetClassAudio: {
		"audio/mpeg":     true,
		"audio/mp3":      true,
		"audio/wav":      true,
		"audio/x-wav":    true,
		"audio/wave":     true,
		"audio/vnd.wave": true,
		"audio/x-m4a":    true,
		"audio/m4a":      true,
		"audio/mp4":      true,
		"audio/aac":      true,
		"audio/x-aac":    true,
	},
}

// AllowedContentType reports whether contentType may be uploaded for class
func AllowedContentType(class models.AssetClass, contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return allowedTypes[class][strings.ToLower(mt)]
}

// UploadOptions carries the optional per-asset progress callback
type UploadOptions struct {
	OnProgress func(models.UploadProgress)
}

// Uploader uploads a single asset
type Uploader interface {
	Upload(ctx context.Context, localRef, remotePath string, opts UploadOptions) (string, error)
}

// AssetUploader validates, transfers and retries one asset
type AssetUploader struct {
	resolver AssetResolver
	blobs    BlobStore
	cfg      UploaderConfig
	logger   *logger.Logger
}

// NewAssetUploader creates an AssetUploader
func NewAssetUploader(resolver AssetResolver, blobs BlobStore, cfg UploaderConfig, log *logger.Logger) *AssetUploader {
	if cfg.Delay == nil {
		cfg.Delay = SleepContext
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &AssetUploader{
		resolver: resolver,
		blobs:    blobs,
		cfg:      cfg,
		logger:   log.WithComponent("uploader"),
	}
}

// Upload resolves localRef, validates it against the class implied by
// remotePath and transfers it, retrying transfer failures with exponential
// backoff. Resolution and validation failures are never retried.
func (u *AssetUploader) Upload(ctx context.Context, localRef, remotePath string, opts UploadOptions) (string, error) {
	class, ok := models.AssetClassFromPath(remotePath)
	if !ok {
		return "", apperr.Validation("upload", "remote path %q is not in an asset namespace", remotePath)
	}

	blob, err := u.resolver.Resolve(ctx, localRef)
	if err != nil {
		return "", &apperr.Error{Kind: apperr.KindValidation, Op: "upload", Msg: "asset could not be resolved", Err: err}
	}

	if blob.Size > u.cfg.MaxBytes {
		return "", apperr.Validation("upload", "asset is %d bytes, limit is %d", blob.Size, u.cfg.MaxBytes)
	}
	if !AllowedContentType(class, blob.ContentType) {
		return "", apperr.Validation("upload", "%s type %q is not allowed", class, blob.ContentType)
	}

	progress := &progressForwarder{total: blob.Size, fn: opts.OnProgress}

	var lastErr error
	for attempt := 1; attempt <= u.cfg.MaxAttempts; attempt++ {
		url, err := u.transfer(ctx, blob, remotePath, progress)
		if err == nil {
			progress.finish()
			u.logger.Debug().
				Str("path", remotePath).
				Int("attempt", attempt).
				Int64("bytes", blob.Size).
				Msg("asset uploaded")
			return url, nil
		}
		lastErr = err

		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", apperr.Upload("upload", ctxErr, "upload cancelled on attempt %d", attempt)
		}

		u.logger.Warn().
			Err(err).
			Str("path", remotePath).
			Int("attempt", attempt).
			Int("max_attempts", u.cfg.MaxAttempts).
			Msg("asset transfer failed")

		if attempt == u.cfg.MaxAttempts {
			break
		}
		if err := u.cfg.Delay(ctx, u.cfg.Backoff(attempt)); err != nil {
			return "", apperr.Upload("upload", err, "upload cancelled during backoff after attempt %d", attempt)
		}
	}

	return "", apperr.Upload("upload", lastErr, "transfer failed after %d attempts", u.cfg.MaxAttempts)
}

func (u *AssetUploader) transfer(ctx context.Context, blob *models.Blob, remotePath string, progress *progressForwarder) (string, error) {
	rc, err := blob.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	url, err := u.blobs.Put(ctx, remotePath, rc, blob.Size, blob.ContentType, progress.report)
	if err != nil {
		return "", err
	}
	if url == "" {
		return "", errors.New("blob store returned an empty URL")
	}
	return url, nil
}

// progressForwarder keeps reported bytes non-decreasing across retries: a
// restarted attempt stays silent until it passes the previous high-water mark.
type progressForwarder struct {
	total    int64
	reported int64
	emitted  bool
	fn       func(models.UploadProgress)
}

func (p *progressForwarder) report(written int64) {
	if p.fn == nil {
		return
	}
	if written > p.total {
		written = p.total
	}
	if p.emitted && written <= p.reported {
		return
	}
	p.reported = written
	p.emitted = true
	p.fn(models.NewUploadProgress(written, p.total))
}

func (p *progressForwarder) finish() {
	if p.fn == nil {
		return
	}
	if !p.emitted || p.reported < p.total {
		p.reported = p.total
		p.emitted = true
		p.fn(models.NewUploadProgress(p.total, p.total))
	}
}
