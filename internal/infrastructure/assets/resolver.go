package assets

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"safereport/internal/domain/models"
	"safereport/pkg/logger"
)

// Resolver turns a local asset reference into a Blob.
// Supported references: filesystem paths, file:// URIs and http(s):// URIs.
type Resolver struct {
	client   *http.Client
	maxFetch int64
	logger   *logger.Logger
}

// NewResolver creates a resolver. Remote references are read up to
// maxBytes+1 bytes so an oversized asset is still reported as oversized.
func NewResolver(maxBytes int64, fetchTimeout time.Duration, log *logger.Logger) *Resolver {
	return &Resolver{
		client:   &http.Client{Timeout: fetchTimeout},
		maxFetch: maxBytes,
		logger:   log.WithComponent("asset-resolver"),
	}
}

// Resolve loads metadata for ref. The returned Blob can be opened repeatedly.
func (r *Resolver) Resolve(ctx context.Context, ref string) (*models.Blob, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, fmt.Errorf("empty asset reference")
	}

	switch {
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return r.resolveRemote(ctx, ref)
	case strings.HasPrefix(ref, "file://"):
		u, err := url.Parse(ref)
		if err != nil {
			return nil, fmt.Errorf("invalid file uri: %w", err)
		}
		return r.resolveFile(ref, u.Path)
	default:
		return r.resolveFile(ref, ref)
	}
}

func (r *Resolver) resolveFile(ref, path string) (*models.Blob, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat asset: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("asset %s is a directory", path)
	}

	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to detect asset type: %w", err)
	}

	r.logger.Debug().
		Str("path", path).
		Int64("size", info.Size()).
		Str("mime", mt.String()).
		Msg("resolved local asset")

	return &models.Blob{
		Ref:         ref,
		Size:        info.Size(),
		ContentType: mt.String(),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

func (r *Resolver) resolveRemote(ctx context.Context, ref string) (*models.Blob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build asset request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to fetch asset: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxFetch+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read asset: %w", err)
	}

	mt := mimetype.Detect(data)

	r.logger.Debug().
		Int64("size", int64(len(data))).
		Str("mime", mt.String()).
		Msg("resolved remote asset")

	return &models.Blob{
		Ref:         ref,
		Size:        int64(len(data)),
		ContentType: mt.String(),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}, nil
}
