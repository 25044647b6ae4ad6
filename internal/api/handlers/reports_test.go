package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"safereport/internal/config"
	"safereport/internal/domain/apperr"
	"safereport/internal/domain/models"
	"safereport/internal/domain/services"
	"safereport/internal/infrastructure/assets"
	"safereport/internal/infrastructure/blobstore"
	"safereport/internal/infrastructure/memstore"
	"safereport/internal/security/fieldcrypt"
	"safereport/pkg/logger"
)

var (
	pngData = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x02\x00\x00\x00")
	wavData = append([]byte("RIFF\x24\x00\x00\x00WAVEfmt "), make([]byte, 32)...)
)

type testEnv struct {
	store   *memstore.ReportStore
	handler *ReportsHandler
	router  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := logger.Nop()
	store := memstore.NewReportStore()
	codec := fieldcrypt.NewCodec(fieldcrypt.StaticKey("handler-test-key"))

	blobs, err := blobstore.NewFileStore(config.BlobStoreConfig{
		RootDir:       t.TempDir(),
		PublicBaseURL: "http://media.test/media",
	}, log)
	if err != nil {
		t.Fatal(err)
	}
	cfg := services.DefaultUploaderConfig()
	cfg.Delay = func(context.Context, time.Duration) error { return nil }
	uploader := services.NewAssetUploader(assets.NewResolver(cfg.MaxBytes, time.Second, log), blobs, cfg, log)

	h := NewReportsHandler(
		services.NewSubmissionService(codec, uploader, store, log),
		services.NewQueryService(store, codec, log),
		UploadLimits{MaxFileBytes: cfg.MaxBytes, MaxImages: 3},
		log,
	)

	r := chi.NewRouter()
	r.Post("/reports", h.Submit)
	r.Get("/reports", h.List)
	r.Get("/reports/{id}", h.Get)
	r.Patch("/reports/{id}/status", h.SetStatus)

	return &testEnv{store: store, handler: h, router: r}
}

type part struct {
	field, filename string
	data            []byte
}

func multipartRequest(t *testing.T, fields map[string]string, files []part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.filename)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write(f.data)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/reports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestSubmitListGetAndTriage(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, multipartRequest(t,
		map[string]string{"description": "Suspicious drug activity near gate 3", "location": "Gate 3"},
		[]part{{"images", "a.png", pngData}, {"audio", "note.wav", wavData}},
	))
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit code=%d body=%s", rec.Code, rec.Body.String())
	}
	id := decode[SubmitResponse](t, rec).ID
	if id == "" {
		t.Fatalf("empty id")
	}

	stored, err := env.store.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(stored.Description, "drug") || strings.Contains(stored.Location, "Gate") {
		t.Fatalf("plaintext persisted")
	}
	if len(stored.Images) != 1 || !strings.HasPrefix(stored.Images[0], "http://media.test/media/reports/images/") {
		t.Fatalf("images=%v", stored.Images)
	}
	if !strings.HasPrefix(stored.AudioURL, "http://media.test/media/reports/audio/") {
		t.Fatalf("audio=%q", stored.AudioURL)
	}

	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports", nil))
	list := decode[ListResponse](t, rec)
	if list.Total != 1 || list.Reports[0].Description != "Suspicious drug activity near gate 3" {
		t.Fatalf("list=%+v", list)
	}

	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports/"+id, nil))
	detail := decode[models.ReportDetail](t, rec)
	if detail.AudioURL != stored.AudioURL || detail.Location != "Gate 3" {
		t.Fatalf("detail=%+v", detail)
	}

	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/reports/"+id+"/status", strings.NewReader(`{"status":"resolved"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("set status code=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports?status=pending", nil))
	if got := decode[ListResponse](t, rec); got.Total != 0 || got.Reports == nil {
		t.Fatalf("pending after resolve=%+v", got)
	}
}

func TestSubmitValidationErrors(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		fields map[string]string
		files  []part
		code   int
	}{
		{"blank description", map[string]string{"description": "  "}, nil, http.StatusBadRequest},
		{"unsupported image type", map[string]string{"description": "d"}, []part{{"images", "x.png", []byte("%PDF-1.4 not an image")}}, http.StatusBadRequest},
		{"audio in images field", map[string]string{"description": "d"}, []part{{"images", "x.wav", wavData}}, http.StatusBadRequest},
		{"too many images", map[string]string{"description": "d"}, []part{
			{"images", "1.png", pngData}, {"images", "2.png", pngData}, {"images", "3.png", pngData}, {"images", "4.png", pngData},
		}, http.StatusBadRequest},
		{"two audio files", map[string]string{"description": "d"}, []part{{"audio", "1.wav", wavData}, {"audio", "2.wav", wavData}}, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			env.router.ServeHTTP(rec, multipartRequest(t, tt.fields, tt.files))
			if rec.Code != tt.code {
				t.Fatalf("code=%d want %d body=%s", rec.Code, tt.code, rec.Body.String())
			}
			if got := decode[ErrorResponse](t, rec); got.Code != string(apperr.KindValidation) {
				t.Fatalf("error=%+v", got)
			}
		})
	}
	if env.store.Len() != 0 {
		t.Fatalf("invalid submissions were stored")
	}
}

func TestSubmitRejectsNonMultipart(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/reports", strings.NewReader(`{"description":"d"}`))
	req.Header.Set("Content-Type", "application/json")
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code=%d", rec.Code)
	}
}

func TestStatusErrors(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/reports/nope/status", strings.NewReader(`{"status":"resolved"}`)))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id code=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodPatch, "/reports/nope/status", strings.NewReader(`{"status":"archived"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad status code=%d", rec.Code)
	}

	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/reports?status=archived", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad filter code=%d", rec.Code)
	}
}

func TestStatusForKind(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindValidation:    http.StatusBadRequest,
		apperr.KindNotFound:      http.StatusNotFound,
		apperr.KindConfiguration: http.StatusInternalServerError,
		apperr.KindCrypto:        http.StatusInternalServerError,
		apperr.KindUpload:        http.StatusBadGateway,
		apperr.KindPersistence:   http.StatusServiceUnavailable,
		apperr.KindUnknown:       http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got, _ := statusForKind(kind); got != want {
			t.Errorf("%s: %d want %d", kind, got, want)
		}
	}
}

func TestErrorsDoNotEchoInternalCauses(t *testing.T) {
	env := newTestEnv(t)
	rec := httptest.NewRecorder()
	env.handler.respondAppError(rec, httptest.NewRequest(http.MethodPost, "/api/v1/reports", nil), apperr.Persistence("submit", errors.New("dial tcp 10.0.0.5:5432: refused"), "failed to save report"))
	if strings.Contains(rec.Body.String(), "10.0.0.5") {
		t.Fatalf("internal cause leaked: %s", rec.Body.String())
	}
}

type stubChecker struct{ err error }

func (s stubChecker) Ping(context.Context) error { return s.err }

func TestReady(t *testing.T) {
	h := NewHealthHandler(map[string]Checker{
		"store": stubChecker{},
		"redis": stubChecker{err: errors.New("down")},
	}, "test", logger.Nop())

	rec := httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("code=%d", rec.Code)
	}
	resp := decode[HealthResponse](t, rec)
	if resp.Checks["store"] != "healthy" || resp.Checks["redis"] != "unhealthy" {
		t.Fatalf("checks=%v", resp.Checks)
	}

	rec = httptest.NewRecorder()
	h.Check(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health code=%d", rec.Code)
	}
}
