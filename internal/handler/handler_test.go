package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aman-churiwal/media-gateway/internal/apperr"
	"github.com/aman-churiwal/media-gateway/internal/delivery"
	"github.com/aman-churiwal/media-gateway/internal/dispatch"
	"github.com/aman-churiwal/media-gateway/internal/earning"
	"github.com/aman-churiwal/media-gateway/internal/models"
	"github.com/aman-churiwal/media-gateway/internal/token"
	"github.com/gin-gonic/gin"
	"github.com/google/go-cmp/cmp"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func do(router *gin.Engine, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return body
}

type fakeIssuer struct{}

func (fakeIssuer) Issue(_ context.Context, handle, deviceID string) (*token.Pair, error) {
	if handle != "abc" {
		return nil, fmt.Errorf("content %s: %w", handle, apperr.ErrNotFound)
	}
	return &token.Pair{Handle: handle, StreamToken: "s+1", DownloadToken: "d/2"}, nil
}

func TestIssueToken(t *testing.T) {
	router := gin.New()
	router.POST("/api/tokens", NewTokenHandler(fakeIssuer{}, "https://cdn.example.com/").Issue)

	w := do(router, http.MethodPost, "/api/tokens", `{"handle":"abc","device_id":"d1"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["stream_url"] != "https://cdn.example.com/stream/abc?token=s%2B1" ||
		body["download_url"] != "https://cdn.example.com/dl/abc?token=d%2F2" ||
		body["stream_token"] != "s+1" {
		t.Fatalf("unexpected body %v", body)
	}

	if w := do(router, http.MethodPost, "/api/tokens", `{"handle":"zzz","device_id":"d1"}`); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w := do(router, http.MethodPost, "/api/tokens", `{"handle":"abc"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

type fakeServer struct {
	got delivery.Request
	out delivery.Outcome
	err error
}

func (f *fakeServer) Serve(_ context.Context, req delivery.Request, w http.ResponseWriter) (delivery.Outcome, error) {
	f.got = req
	if f.out.Status != 0 {
		w.WriteHeader(f.out.Status)
		_, _ = w.Write([]byte("partial"))
	}
	return f.out, f.err
}

func TestDeliveryRendersUnwrittenErrors(t *testing.T) {
	server := &fakeServer{err: fmt.Errorf("download token: %w", apperr.ErrExpired)}
	h := NewDeliveryHandler(server)
	router := gin.New()
	router.GET("/dl/:handle", h.Download)
	router.GET("/stream/:handle", h.Stream)

	w := do(router, http.MethodGet, "/dl/abc?token=secret", "", "Range", "bytes=0-9", "X-Real-IP", "10.1.1.1")
	if w.Code != http.StatusForbidden || decode(t, w)["error"] != "token_expired" {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body.String())
	}
	want := delivery.Request{Handle: "abc", Secret: "secret", Kind: token.KindDownload, RangeHeader: "bytes=0-9", ClientIP: "10.1.1.1"}
	server.got.UserAgent = ""
	if diff := cmp.Diff(want, server.got); diff != "" {
		t.Fatalf("request mismatch (-want +got):\n%s", diff)
	}

	server.err = apperr.ErrLockUnavailable
	w = do(router, http.MethodGet, "/stream/abc?token=secret", "")
	if w.Code != http.StatusServiceUnavailable || w.Header().Get("Retry-After") != "1" || server.got.Kind != token.KindStream {
		t.Fatalf("unexpected response %d %v", w.Code, w.Header())
	}

	server.out = delivery.Outcome{Status: http.StatusPartialContent, BytesSent: 7}
	server.err = context.Canceled
	w = do(router, http.MethodGet, "/stream/abc?token=secret", "")
	if w.Code != http.StatusPartialContent || w.Body.String() != "partial" {
		t.Fatalf("written responses must not be overwritten: %d %q", w.Code, w.Body.String())
	}
}

type fakeDispatcher struct {
	grant   *dispatch.Grant
	subject dispatch.Subject
}

func (f *fakeDispatcher) RequestGrant(_ context.Context, adType string, subject dispatch.Subject) (*dispatch.Grant, error) {
	f.subject = subject
	if adType == "bogus" {
		return nil, apperr.ErrInvalidRequest
	}
	return f.grant, nil
}

func (f *fakeDispatcher) MarkPlayed(_ context.Context, grantToken, deviceID string) (*dispatch.PlayResult, error) {
	if grantToken != "tok" {
		return nil, apperr.ErrNotFound
	}
	if deviceID != "d1" {
		return nil, apperr.ErrForbidden
	}
	return &dispatch.PlayResult{Token: grantToken, NetworkName: "primary", PlayCount: 1}, nil
}

func (f *fakeDispatcher) Limits(_ context.Context, adType string, subject dispatch.Subject) ([]dispatch.NetworkLimit, error) {
	return []dispatch.NetworkLimit{{NetworkName: "primary", AdType: adType, DailyLimit: 2, Remaining: 1}}, nil
}

func TestAdEndpoints(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	h := NewAdHandler(dispatcher)
	router := gin.New()
	router.GET("/api/ads/limits", h.Limits)
	router.GET("/api/ads/:type", h.Grant)
	router.POST("/api/ads/played", h.Played)

	w := do(router, http.MethodGet, "/api/ads/banner", "", "X-Forwarded-For", "9.9.9.9")
	if w.Code != http.StatusNotFound || decode(t, w)["error"] != "quota_exhausted" {
		t.Fatalf("exhausted supply must be 404 quota_exhausted, got %d %s", w.Code, w.Body.String())
	}
	if dispatcher.subject.Key() != "ip:9.9.9.9" {
		t.Fatalf("expected ip subject, got %q", dispatcher.subject.Key())
	}

	dispatcher.grant = &dispatch.Grant{Token: "tok", NetworkName: "primary", AdType: "banner", DailyLimit: 2, Count: 1, Remaining: 1}
	w = do(router, http.MethodGet, "/api/ads/banner?device_id=d1", "")
	if w.Code != http.StatusOK || decode(t, w)["unique_id"] != "tok" || dispatcher.subject.Key() != "device:d1" {
		t.Fatalf("unexpected grant response %d %s", w.Code, w.Body.String())
	}

	if w := do(router, http.MethodGet, "/api/ads/bogus", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	if w := do(router, http.MethodPost, "/api/ads/played", `{"unique_id":"tok","device_id":"d1"}`); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	if w := do(router, http.MethodPost, "/api/ads/played", `{"unique_id":"tok","device_id":"other"}`); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if w := do(router, http.MethodPost, "/api/ads/played", `{"unique_id":"nope"}`); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w := do(router, http.MethodPost, "/api/ads/played", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}

	w = do(router, http.MethodGet, "/api/ads/limits?device_id=d1&type=banner", "")
	body := decode(t, w)
	if w.Code != http.StatusOK || body["subject"] != "device:d1" {
		t.Fatalf("unexpected limits response %d %v", w.Code, body)
	}
}

type fakeEvaluator struct{}

func (fakeEvaluator) Evaluate(_ context.Context, claim earning.Claim) (earning.Decision, error) {
	if claim.DeviceID == "" {
		return earning.Decision{}, apperr.ErrInvalidRequest
	}
	return earning.Decision{Eligible: true, Reason: earning.ReasonEarned, MonthlyCount: 1, MonthlyLimit: claim.MonthlyLimit, Remaining: claim.MonthlyLimit - 1}, nil
}

func TestEvaluateEarning(t *testing.T) {
	router := gin.New()
	router.POST("/api/earnings/evaluate", NewEarningHandler(fakeEvaluator{}).Evaluate)

	w := do(router, http.MethodPost, "/api/earnings/evaluate",
		`{"publisher_id":1,"device_id":"d1","content_handle":"abc","plan_id":2,"monthly_limit":5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d %s", w.Code, w.Body.String())
	}
	var got earning.Decision
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := earning.Decision{Eligible: true, Reason: earning.ReasonEarned, MonthlyCount: 1, MonthlyLimit: 5, Remaining: 4}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("decision mismatch (-want +got):\n%s", diff)
	}

	if w := do(router, http.MethodPost, "/api/earnings/evaluate", `{"publisher_id":1}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if w := do(router, http.MethodPost, "/api/earnings/evaluate", `not json`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

type fakeContent struct {
	objects map[string]*models.ContentObject
}

func (f *fakeContent) FindByHandle(_ context.Context, handle string) (*models.ContentObject, error) {
	return f.objects[handle], nil
}

func (f *fakeContent) Register(_ context.Context, content *models.ContentObject) error {
	f.objects[content.Handle] = content
	return nil
}

func (f *fakeContent) Revoke(_ context.Context, handle string) error {
	content, ok := f.objects[handle]
	if !ok {
		return apperr.ErrNotFound
	}
	content.IsActive = false
	return nil
}

type fakeDeleter struct {
	deleted []string
}

func (f *fakeDeleter) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func TestContentAdmin(t *testing.T) {
	content := &fakeContent{objects: map[string]*models.ContentObject{}}
	deleter := &fakeDeleter{}
	h := NewContentHandler(content, deleter, nil)
	router := gin.New()
	router.POST("/admin/content", h.Register)
	router.POST("/admin/content/:handle/revoke", h.Revoke)

	w := do(router, http.MethodPost, "/admin/content", `{"handle":"abc","locator":"videos/abc","size":10,"object_key":"obj/abc"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d %s", w.Code, w.Body.String())
	}

	w = do(router, http.MethodPost, "/admin/content/abc/revoke?purge=true", "")
	if w.Code != http.StatusOK || decode(t, w)["purged"] != true {
		t.Fatalf("unexpected revoke response %d %s", w.Code, w.Body.String())
	}
	if diff := cmp.Diff([]string{"obj/abc"}, deleter.deleted); diff != "" {
		t.Fatalf("deleted mismatch (-want +got):\n%s", diff)
	}

	if w := do(router, http.MethodPost, "/admin/content/missing/revoke", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestParseTimeRange(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	newContext := func(query string) *gin.Context {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodGet, "/?"+query, nil)
		return c
	}

	from, to, err := parseTimeRange(newContext(""), now)
	if err != nil || !to.Equal(now) || !from.Equal(now.Add(-24*time.Hour)) {
		t.Fatalf("unexpected default range %v %v (%v)", from, to, err)
	}

	from, to, err = parseTimeRange(newContext("from=2026-10-01T00:00:00Z&to=1792238400"), now)
	if err != nil || !from.Equal(time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)) || !to.Equal(time.Unix(1792238400, 0)) {
		t.Fatalf("unexpected range %v %v (%v)", from, to, err)
	}

	if _, _, err := parseTimeRange(newContext("from=yesterday"), now); err == nil {
		t.Fatalf("expected a parse error")
	}
}
