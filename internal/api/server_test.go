package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"reel-pipeline/internal/config"
	"reel-pipeline/internal/models"
	"reel-pipeline/internal/push"
	"reel-pipeline/internal/store"
	"reel-pipeline/internal/watch"
)

type fakeSender struct {
	calls int
	fail  error
}

func (f *fakeSender) Send(context.Context, string, push.Message, string) (json.RawMessage, error) {
	f.calls++
	if f.fail != nil {
		return nil, f.fail
	}
	return json.RawMessage(`{"data":{"status":"ok"}}`), nil
}

type fakeUploads struct {
	items []models.Upload
}

func (f *fakeUploads) GetUpload(_ context.Context, id string) (models.Upload, error) {
	for _, u := range f.items {
		if u.ID == id {
			return u, nil
		}
	}
	return models.Upload{}, fmt.Errorf("upload %s: %w", id, store.ErrNotFound)
}

func (f *fakeUploads) ListUploads(_ context.Context, ownerID string) ([]models.Upload, error) {
	out := []models.Upload{}
	for _, u := range f.items {
		if u.OwnerID == ownerID {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakeLimiter struct {
	allow bool
}

func (f *fakeLimiter) Allow(context.Context, string) (bool, error) {
	return f.allow, nil
}

func newTestServer(sender *fakeSender, uploads *fakeUploads, limiter PollLimiter) *httptest.Server {
	s := New(config.Load(), uploads, watch.New(sender, nil), limiter)
	return httptest.NewServer(s.Router())
}

const readyTrigger = `{
	"type": "UPDATE",
	"table": "uploads",
	"schema": "public",
	"record": {"id": "u-1", "status": "ready", "push_token": "tok", "original_filename": "game1.mp4"},
	"old_record": {"id": "u-1", "status": "processing"}
}`

func TestTriggerEndpointDispatches(t *testing.T) {
	sender := &fakeSender{}
	srv := newTestServer(sender, &fakeUploads{}, nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/hooks/upload-status", "application/json", strings.NewReader(readyTrigger))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Sent   bool            `json:"sent"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Sent || len(body.Result) == 0 {
		t.Fatalf("expected sent response, got %+v", body)
	}
	if sender.calls != 1 {
		t.Fatalf("expected one dispatch, got %d", sender.calls)
	}
}

func TestTriggerEndpointReportsSkip(t *testing.T) {
	sender := &fakeSender{}
	srv := newTestServer(sender, &fakeUploads{}, nil)
	defer srv.Close()

	payload := `{
		"type": "UPDATE",
		"record": {"id": "u-1", "status": "processing", "push_token": "tok", "original_filename": "game1.mp4"},
		"old_record": {"id": "u-1", "status": "queued"}
	}`
	resp, err := http.Post(srv.URL+"/hooks/upload-status", "application/json", strings.NewReader(payload))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Skipped bool   `json:"skipped"`
		Reason  string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Skipped || body.Reason != watch.ReasonNonTerminal {
		t.Fatalf("expected non_terminal skip, got %+v", body)
	}
	if sender.calls != 0 {
		t.Fatalf("expected zero dispatches, got %d", sender.calls)
	}
}

func TestTriggerEndpointRejectsMalformedPayload(t *testing.T) {
	sender := &fakeSender{}
	srv := newTestServer(sender, &fakeUploads{}, nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/hooks/upload-status", "application/json", strings.NewReader(`{"record":{}}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] == "" {
		t.Fatalf("malformed payload must carry diagnostic detail")
	}
}

func TestTriggerEndpointSurfacesDispatchFailure(t *testing.T) {
	sender := &fakeSender{fail: errors.New("gateway unreachable")}
	srv := newTestServer(sender, &fakeUploads{}, nil)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/hooks/upload-status", "application/json", strings.NewReader(readyTrigger))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
}

func TestListUploadsNewestFirst(t *testing.T) {
	now := time.Now().UTC()
	uploads := &fakeUploads{items: []models.Upload{
		{ID: "b", OwnerID: "u1", OriginalFilename: "newer.mp4", Status: models.StatusReady, CreatedAt: now},
		{ID: "a", OwnerID: "u1", OriginalFilename: "older.mp4", Status: models.StatusQueued, CreatedAt: now.Add(-time.Hour)},
		{ID: "c", OwnerID: "u2", OriginalFilename: "other.mp4", Status: models.StatusQueued, CreatedAt: now},
	}}
	srv := newTestServer(&fakeSender{}, uploads, nil)
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/uploads", nil)
	req.Header.Set("X-Owner-ID", "u1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Uploads []models.Upload `json:"uploads"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Uploads) != 2 {
		t.Fatalf("expected 2 uploads for u1, got %d", len(body.Uploads))
	}
	if body.Uploads[0].ID != "b" {
		t.Fatalf("expected newest first, got %+v", body.Uploads)
	}
}

func TestListUploadsRequiresOwner(t *testing.T) {
	srv := newTestServer(&fakeSender{}, &fakeUploads{}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/uploads")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestListUploadsRateLimited(t *testing.T) {
	srv := newTestServer(&fakeSender{}, &fakeUploads{}, &fakeLimiter{allow: false})
	defer srv.Close()

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/uploads", nil)
	req.Header.Set("X-Owner-ID", "u1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.StatusCode)
	}
}

func TestGetUploadNotFound(t *testing.T) {
	srv := newTestServer(&fakeSender{}, &fakeUploads{}, nil)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/uploads/missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
