package blobstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"safereport/internal/config"
	"safereport/pkg/logger"
)

const defaultChunkSize = 64 << 10

// FileStore stores blobs under a root directory and addresses them through a
// public base URL. Objects are written to a temp file and renamed into place,
// so a URL is only handed out for a complete object.
type FileStore struct {
	root      string
	baseURL   string
	chunkSize int
	logger    *logger.Logger
}

// NewFileStore creates the root directory if needed
func NewFileStore(cfg config.BlobStoreConfig, log *logger.Logger) (*FileStore, error) {
	if cfg.RootDir == "" {
		return nil, fmt.Errorf("blobstore root_dir is required")
	}
	if err := os.MkdirAll(cfg.RootDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	chunk := cfg.ChunkSize
	if chunk <= 0 {
		chunk = defaultChunkSize
	}
	return &FileStore{
		root:      cfg.RootDir,
		baseURL:   strings.TrimRight(cfg.PublicBaseURL, "/"),
		chunkSize: chunk,
		logger:    log.WithComponent("blobstore"),
	}, nil
}

// Put streams r to objectPath, calling onProgress with the running byte count
// after every chunk. size is the expected length; a short or long stream fails.
func (s *FileStore) Put(ctx context.Context, objectPath string, r io.Reader, size int64, contentType string, onProgress func(written int64)) (string, error) {
	clean, err := cleanObjectPath(objectPath)
	if err != nil {
		return "", err
	}

	dst := filepath.Join(s.root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("failed to create object dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp object: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	written, err := s.copyChunks(ctx, tmp, r, onProgress)
	if err != nil {
		return "", err
	}
	if size >= 0 && written != size {
		return "", fmt.Errorf("short transfer: wrote %d of %d bytes", written, size)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close object: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("failed to commit object: %w", err)
	}
	committed = true

	s.logger.Debug().
		Str("path", clean).
		Int64("bytes", written).
		Str("content_type", contentType).
		Msg("stored blob")

	return s.URL(clean), nil
}

func (s *FileStore) copyChunks(ctx context.Context, w io.Writer, r io.Reader, onProgress func(int64)) (int64, error) {
	buf := make([]byte, s.chunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return written, fmt.Errorf("failed to write object: %w", err)
			}
			written += int64(n)
			if onProgress != nil {
				onProgress(written)
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, fmt.Errorf("failed to read source: %w", rerr)
		}
	}
}

// URL returns the public URL for an object path
func (s *FileStore) URL(objectPath string) string {
	parts := strings.Split(objectPath, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return s.baseURL + "/" + strings.Join(parts, "/")
}

// Handler serves stored objects read-only. Only exact object paths resolve:
// directories and in-flight temp files are 404 so the namespace cannot be
// enumerated.
func (s *FileStore) Handler() http.Handler {
	return http.FileServer(objectFS{http.Dir(s.root)})
}

// objectFS hides directories and dot-prefixed entries from http.FileServer
type objectFS struct {
	fs http.FileSystem
}

func (o objectFS) Open(name string) (http.File, error) {
	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") {
			return nil, os.ErrNotExist
		}
	}
	f, err := o.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}

func cleanObjectPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("invalid object path %q", p)
	}
	clean := path.Clean(p)
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("invalid object path %q", p)
	}
	return clean, nil
}
