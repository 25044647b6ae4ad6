package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v4"

	"safereport/internal/config"
	"safereport/pkg/logger"
)

var testJWT = config.JWTConfig{Secret: "s3cret", Issuer: "safereport"}

func protected() http.Handler {
	return AuthorityAuth(testJWT)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetAuthority(r.Context())))
	}))
}

func TestAuthorityAuthAcceptsIssuedToken(t *testing.T) {
	token, err := IssueToken(testJWT, "officer-7", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	protected().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "officer-7" {
		t.Fatalf("code=%d body=%q", rec.Code, rec.Body.String())
	}
}

func TestAuthorityAuthRejects(t *testing.T) {
	expired, _ := IssueToken(testJWT, "x", -time.Minute)
	wrongSecret, _ := IssueToken(config.JWTConfig{Secret: "other", Issuer: "safereport"}, "x", time.Hour)
	wrongIssuer, _ := IssueToken(config.JWTConfig{Secret: "s3cret", Issuer: "someone-else"}, "x", time.Hour)
	noRole, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "safereport",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte("s3cret"))

	for name, header := range map[string]string{
		"missing":      "",
		"not bearer":   "Basic abc",
		"empty bearer": "Bearer ",
		"garbage":      "Bearer not.a.jwt",
		"expired":      "Bearer " + expired,
		"wrong secret": "Bearer " + wrongSecret,
		"wrong issuer": "Bearer " + wrongIssuer,
		"no role":      "Bearer " + noRole,
	} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/reports", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		protected().ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s: code=%d want 401", name, rec.Code)
		}
	}
}

func TestAuthorityAuthSkipsPreflight(t *testing.T) {
	rec := httptest.NewRecorder()
	protected().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/v1/reports", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("code=%d", rec.Code)
	}
}

type countingLimiter struct {
	counts map[string]int64
	err    error
}

func (l *countingLimiter) CheckRateLimit(_ context.Context, key string, limit int64, window time.Duration) (bool, int64, time.Time, error) {
	if l.err != nil {
		return false, 0, time.Time{}, l.err
	}
	l.counts[key]++
	remaining := limit - l.counts[key]
	if remaining < 0 {
		remaining = 0
	}
	return l.counts[key] <= limit, remaining, time.Now().Add(window), nil
}

func TestRateLimiterBlocksAfterLimit(t *testing.T) {
	l := &countingLimiter{counts: map[string]int64{}}
	h := RateLimiter(l, config.RateLimitConfig{Enabled: true, SubmissionsPerMinute: 2}, logger.Nop())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusCreated) }),
	)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", nil)
		req.RemoteAddr = "10.0.0.1"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if i == 2 && rec.Header().Get("Retry-After") == "" {
			t.Fatalf("missing Retry-After")
		}
	}
	if codes[0] != http.StatusCreated || codes[1] != http.StatusCreated || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes=%v", codes)
	}

	// another client has its own budget
	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", nil)
	req.RemoteAddr = "10.0.0.2"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("second client code=%d", rec.Code)
	}
}

func TestRateLimiterKeysOnHostNotPort(t *testing.T) {
	l := &countingLimiter{counts: map[string]int64{}}
	h := chimw.RealIP(RateLimiter(l, config.RateLimitConfig{Enabled: true, SubmissionsPerMinute: 2}, logger.Nop())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusCreated) }),
	))

	var codes []int
	for port := 50001; port <= 50004; port++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", nil)
		req.RemoteAddr = fmt.Sprintf("10.0.0.1:%d", port)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	want := []int{http.StatusCreated, http.StatusCreated, http.StatusTooManyRequests, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("codes=%v want %v", codes, want)
		}
	}
	if len(l.counts) != 1 || l.counts["ip:10.0.0.1"] != 4 {
		t.Fatalf("counts=%v, want one bucket for ip:10.0.0.1", l.counts)
	}
}

func TestGetClientID(t *testing.T) {
	tests := map[string]string{
		"10.0.0.1:50001":   "ip:10.0.0.1",
		"10.0.0.1":         "ip:10.0.0.1",
		"[2001:db8::1]:80": "ip:2001:db8::1",
		"2001:db8::1":      "ip:2001:db8::1",
	}
	for remote, want := range tests {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.RemoteAddr = remote
		if got := getClientID(req); got != want {
			t.Errorf("getClientID(%q) = %q, want %q", remote, got, want)
		}
	}
}

func TestRateLimiterFailsOpen(t *testing.T) {
	l := &countingLimiter{err: errors.New("redis down")}
	h := RateLimiter(l, config.RateLimitConfig{SubmissionsPerMinute: 1}, logger.Nop())(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusCreated) }),
	)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("code=%d", rec.Code)
	}
}

func TestLoggerStoresRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	base := logger.New(logger.Config{Level: "debug", Format: "json", Output: &buf})

	var fromCtx *logger.Logger
	h := chimw.RequestID(Logger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = logger.FromContext(r.Context(), nil)
		w.WriteHeader(http.StatusNotFound)
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/reports/x?status=pending", nil))

	if fromCtx == nil {
		t.Fatal("no request logger in context")
	}
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line: %v (%q)", err, buf.String())
	}
	if line["level"] != "warn" {
		t.Errorf("level = %v, want warn for 404", line["level"])
	}
	if line["path"] != "/api/v1/reports/x" {
		t.Errorf("path = %v, query string must not be logged", line["path"])
	}
	if id, _ := line["request_id"].(string); id == "" {
		t.Error("request_id missing")
	}
}

func TestLoggerOmitsClientAddress(t *testing.T) {
	var buf bytes.Buffer
	base := logger.New(logger.Config{Level: "debug", Format: "json", Output: &buf})

	h := chimw.RealIP(Logger(base)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/reports", nil)
	req.RemoteAddr = "198.51.100.7:41234"
	req.Header.Set("X-Real-IP", "203.0.113.9")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line: %v (%q)", err, buf.String())
	}
	if _, ok := line["remote_addr"]; ok {
		t.Errorf("remote_addr logged: %v", line["remote_addr"])
	}
	for _, addr := range []string{"198.51.100.7", "203.0.113.9"} {
		if strings.Contains(buf.String(), addr) {
			t.Errorf("log line contains client address %s: %s", addr, buf.String())
		}
	}
}
