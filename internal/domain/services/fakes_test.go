package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"safereport/internal/domain/models"
)

type fakeResolver struct {
	blobs map[string]fakeAsset
}

type fakeAsset struct {
	data        []byte
	contentType string
	size        int64
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{blobs: make(map[string]fakeAsset)}
}

func (r *fakeResolver) add(ref, contentType string, data []byte) {
	r.blobs[ref] = fakeAsset{data: data, contentType: contentType, size: int64(len(data))}
}

// addSized registers an asset whose reported size differs from its payload
func (r *fakeResolver) addSized(ref, contentType string, size int64) {
	r.blobs[ref] = fakeAsset{data: []byte("x"), contentType: contentType, size: size}
}

func (r *fakeResolver) Resolve(_ context.Context, ref string) (*models.Blob, error) {
	a, ok := r.blobs[ref]
	if !ok {
		return nil, fmt.Errorf("asset %q does not exist", ref)
	}
	return &models.Blob{
		Ref:         ref,
		Size:        a.size,
		ContentType: a.contentType,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(a.data)), nil
		},
	}, nil
}

// fakeBlobs fails the first failures transfers after writing half the payload
type fakeBlobs struct {
	mu       sync.Mutex
	failures int
	failFor  map[string]bool
	calls    int
	paths    []string
	stored   map[string][]byte
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{stored: make(map[string][]byte), failFor: make(map[string]bool)}
}

func (b *fakeBlobs) Put(ctx context.Context, path string, r io.Reader, size int64, _ string, onProgress func(int64)) (string, error) {
	b.mu.Lock()
	b.calls++
	b.paths = append(b.paths, path)
	fail := b.failures > 0
	if fail {
		b.failures--
	}
	b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	limit := len(data)
	if fail || b.failForRef(data) {
		limit = len(data) / 2
	}
	for written := 0; written < limit; {
		n := 2
		if written+n > limit {
			n = limit - written
		}
		written += n
		if onProgress != nil {
			onProgress(int64(written))
		}
	}
	if fail || b.failForRef(data) {
		return "", errors.New("connection reset")
	}

	b.mu.Lock()
	b.stored[path] = data
	b.mu.Unlock()
	return "https://blobs.test/" + path, nil
}

func (b *fakeBlobs) failForRef(data []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failFor[string(data)]
}

func (b *fakeBlobs) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type recordedDelays struct {
	mu     sync.Mutex
	delays []time.Duration
	err    error
}

func (d *recordedDelays) wait(ctx context.Context, dur time.Duration) error {
	d.mu.Lock()
	d.delays = append(d.delays, dur)
	d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	return ctx.Err()
}

type recordingPublisher struct {
	mu        sync.Mutex
	submitted []*models.StoredReport
	changed   map[string]models.ReportStatus
}

func (p *recordingPublisher) PublishReportSubmitted(_ context.Context, r *models.StoredReport) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitted = append(p.submitted, r)
	return nil
}

func (p *recordingPublisher) PublishStatusChanged(_ context.Context, id string, status models.ReportStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.changed == nil {
		p.changed = make(map[string]models.ReportStatus)
	}
	p.changed[id] = status
	return nil
}

type failingStore struct {
	err error
}

func (s failingStore) Create(context.Context, *models.StoredReport) (string, error) { return "", s.err }

func (s failingStore) Get(context.Context, string) (*models.StoredReport, error) { return nil, s.err }

func (s failingStore) List(context.Context, models.ReportFilter) ([]*models.StoredReport, error) {
	return nil, s.err
}

func (s failingStore) UpdateStatus(context.Context, string, models.ReportStatus) error { return s.err }

var (
	jpegBytes = []byte("\xff\xd8\xff\xe0jpeg-payload")
	pngBytes  = []byte("\x89PNG\r\n\x1a\npng-payload")
	m4aBytes  = []byte("....ftypM4A audio-payload")
)
