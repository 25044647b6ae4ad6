package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"safereport/internal/domain/apperr"
	"safereport/internal/domain/models"
	"safereport/pkg/logger"
)

func seedReport(t *testing.T, p *pipeline, id, location, description string, ts time.Time, status models.ReportStatus) {
	t.Helper()
	encLoc, err := p.codec.Encrypt(location)
	if err != nil {
		t.Fatal(err)
	}
	encDesc, err := p.codec.Encrypt(description)
	if err != nil {
		t.Fatal(err)
	}
	p.store.Put(models.StoredReport{
		ID:          id,
		Location:    encLoc,
		Description: encDesc,
		Timestamp:   ts,
		Status:      status,
	})
}

func TestListNewestFirstDecrypted(t *testing.T) {
	p := newPipeline(t, testKey)
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	seedReport(t, p, "old", "North gate", "first", base, models.ReportStatusResolved)
	seedReport(t, p, "new", "South gate", "second", base.Add(time.Hour), models.ReportStatusPending)

	items, err := p.query.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 || items[0].ID != "new" || items[1].ID != "old" {
		t.Fatalf("items=%+v", items)
	}
	if items[0].Description != "second" || items[1].Location != "North gate" {
		t.Fatalf("not decrypted: %+v", items)
	}
	if items[0].Images == nil {
		t.Fatalf("nil images slice")
	}
}

func TestListFilteredByStatus(t *testing.T) {
	p := newPipeline(t, testKey)
	now := time.Now().UTC()
	seedReport(t, p, "a", "l", "d", now, models.ReportStatusPending)
	seedReport(t, p, "b", "l", "d", now, models.ReportStatusResolved)

	items, err := p.query.ListFiltered(context.Background(), models.ReportFilter{Status: models.ReportStatusResolved})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 1 || items[0].ID != "b" {
		t.Fatalf("items=%+v", items)
	}

	if _, err := p.query.ListFiltered(context.Background(), models.ReportFilter{Status: "closed"}); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err=%v want validation", err)
	}
}

func TestListFailsOnCorruptRecord(t *testing.T) {
	p := newPipeline(t, testKey)
	seedReport(t, p, "good", "l", "d", time.Now(), models.ReportStatusPending)
	p.store.Put(models.StoredReport{ID: "bad", Location: "not-ciphertext", Description: "garbage", Timestamp: time.Now()})

	if _, err := p.query.List(context.Background()); !errors.Is(err, apperr.ErrCrypto) {
		t.Fatalf("err=%v want crypto", err)
	}
}

func TestListWithWrongKey(t *testing.T) {
	p := newPipeline(t, testKey)
	seedReport(t, p, "a", "l", "d", time.Now(), models.ReportStatusPending)

	other := newPipeline(t, "a-different-key")
	q := NewQueryService(p.store, other.codec, logger.Nop())
	if _, err := q.List(context.Background()); !errors.Is(err, apperr.ErrCrypto) {
		t.Fatalf("err=%v want crypto", err)
	}
}

func TestListStoreFailureIsPersistence(t *testing.T) {
	p := newPipeline(t, testKey)
	q := NewQueryService(failingStore{err: errors.New("connection refused")}, p.codec, logger.Nop())
	if _, err := q.List(context.Background()); !errors.Is(err, apperr.ErrPersistence) {
		t.Fatalf("err=%v want persistence", err)
	}
}

func TestGetIncludesAudio(t *testing.T) {
	p := newPipeline(t, testKey)
	seedReport(t, p, "r1", "Gate 3", "noise", time.Now(), models.ReportStatusPending)
	r, _ := p.store.Get(context.Background(), "r1")
	r.AudioURL = "https://blobs.test/reports/audio/1"
	p.store.Put(*r)

	detail, err := p.query.Get(context.Background(), "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if detail.AudioURL != r.AudioURL || detail.Location != "Gate 3" {
		t.Fatalf("detail=%+v", detail)
	}

	if _, err := p.query.Get(context.Background(), "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err=%v want not found", err)
	}
}

func TestSetStatus(t *testing.T) {
	p := newPipeline(t, testKey)
	seedReport(t, p, "r1", "l", "d", time.Now(), models.ReportStatusPending)
	before, _ := p.store.Get(context.Background(), "r1")

	if err := p.query.SetStatus(context.Background(), "r1", models.ReportStatusInProgress); err != nil {
		t.Fatalf("set status: %v", err)
	}
	after, _ := p.store.Get(context.Background(), "r1")
	if after.Status != models.ReportStatusInProgress {
		t.Fatalf("status=%q", after.Status)
	}
	if after.Description != before.Description || after.Location != before.Location || !after.Timestamp.Equal(before.Timestamp) {
		t.Fatalf("fields other than status changed")
	}
	if p.publisher.changed["r1"] != models.ReportStatusInProgress {
		t.Fatalf("status event not published")
	}

	if err := p.query.SetStatus(context.Background(), "missing", models.ReportStatusResolved); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err=%v want not found", err)
	}
	if err := p.query.SetStatus(context.Background(), "r1", "archived"); !errors.Is(err, apperr.ErrValidation) {
		t.Fatalf("err=%v want validation", err)
	}
}
