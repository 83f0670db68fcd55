package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/delimload/internal/config"
	"github.com/JonMunkholm/delimload/internal/ingest"
	"github.com/JonMunkholm/delimload/internal/store"
)

// fakeStore backs both the ingest service and the server's read side.
type fakeStore struct {
	mu      sync.Mutex
	docs    map[string]store.Document
	ingests []store.IngestRecord
	pingErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string]store.Document)}
}

func (f *fakeStore) WriteBatch(_ context.Context, ingestID uuid.UUID, docs []store.Document) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, d := range docs {
		d.IngestID = ingestID
		d.UpdatedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		f.docs[d.URI] = d
	}
	return int64(len(docs)), nil
}

func (f *fakeStore) DeleteByIngest(_ context.Context, ingestID uuid.UUID) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for uri, d := range f.docs {
		if d.IngestID == ingestID {
			delete(f.docs, uri)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) SaveIngest(_ context.Context, rec store.IngestRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingests = append([]store.IngestRecord{rec}, f.ingests...)
	return nil
}

func (f *fakeStore) Get(_ context.Context, uri string) (*store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[uri]
	if !ok {
		return nil, fmt.Errorf("document %q: %w", uri, store.ErrNotFound)
	}
	return &d, nil
}

func (f *fakeStore) ListIngests(_ context.Context, limit int) ([]store.IngestRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit > 0 && limit < len(f.ingests) {
		return f.ingests[:limit], nil
	}
	return f.ingests, nil
}

func (f *fakeStore) Ping(context.Context) error {
	return f.pingErr
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{RequestTimeout: 10 * time.Second},
		Ingest: config.IngestConfig{
			Delimiter:     ",",
			BatchSize:     100,
			MaxFileSize:   1024,
			MaxConcurrent: 2,
			MaxWaitTime:   time.Second,
			Timeout:       time.Minute,
			MaxFailedRows: 100,
			Retention:     time.Minute,
		},
		Logging: config.LoggingConfig{Level: "error", Format: "text"},
	}
}

type testServer struct {
	*Server
	store   *fakeStore
	service *ingest.Service
}

func newTestServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	st := newFakeStore()
	svc := ingest.NewService(st, cfg.Ingest)
	t.Cleanup(func() {
		svc.CancelAll()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Drain(ctx)
	})
	return &testServer{Server: NewServer(svc, st, cfg), store: st, service: svc}
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.Router().ServeHTTP(rec, req)
	return rec
}

// uploadRequest builds a multipart POST to /api/ingest.
func uploadRequest(t *testing.T, name, body string, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if name != "" {
		fw, err := mw.CreateFormFile("file", name)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(body))
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/ingest", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// startIngest uploads body and waits for the ingest to finish.
func (ts *testServer) startIngest(t *testing.T, name, body string, fields map[string]string) uuid.UUID {
	t.Helper()
	rec := ts.do(uploadRequest(t, name, body, fields))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("POST /api/ingest status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	id, err := uuid.Parse(resp["ingest_id"])
	if err != nil {
		t.Fatalf("ingest_id %q: %v", resp["ingest_id"], err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := ts.service.Wait(ctx, id); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	return id
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var er ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &er); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return er
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, testConfig())

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"max_concurrent":2`) {
		t.Errorf("body missing limiter status: %s", rec.Body.String())
	}

	ts.store.pingErr = errors.New("connection refused")
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestIngest_EndToEnd(t *testing.T) {
	ts := newTestServer(t, testConfig())

	id := ts.startIngest(t, "people.csv", "id,name\n1,Alice\n,Bob\n2,Carol\n", map[string]string{"uri_prefix": "/people/", "uri_suffix": ".xml"})

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/ingest/"+id.String()+"/result", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("result status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var res ingest.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Phase != ingest.PhaseComplete || res.Valid != 2 || res.Invalid != 1 {
		t.Errorf("result = phase %q valid %d invalid %d, want complete/2/1", res.Phase, res.Valid, res.Invalid)
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/documents?uri=/people/1.xml", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("document status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "application/xml") {
		t.Errorf("Content-Type = %q", got)
	}
	if got := rec.Header().Get("X-Ingest-ID"); got != id.String() {
		t.Errorf("X-Ingest-ID = %q, want %q", got, id)
	}
	if got := rec.Body.String(); got != "<root><id>1</id><name>Alice</name></root>" {
		t.Errorf("document = %q", got)
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/ingests?limit=5", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "people.csv") {
		t.Errorf("ingests = %d %s", rec.Code, rec.Body.String())
	}
}

func TestIngest_FailedRowsCSV(t *testing.T) {
	ts := newTestServer(t, testConfig())
	id := ts.startIngest(t, "people.csv", "id,name\n1,Alice\n,Bob\n", nil)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/ingest/"+id.String()+"/failed-rows", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/csv") {
		t.Errorf("Content-Type = %q", got)
	}
	want := "line,reason,text\n3,\"column used for uri id is empty: column \"\"id\"\"\",\",Bob\"\n"
	if got := rec.Body.String(); got != want {
		t.Errorf("csv =\n%q\nwant\n%q", got, want)
	}
}

func TestIngest_EventsAfterCompletion(t *testing.T) {
	ts := newTestServer(t, testConfig())
	id := ts.startIngest(t, "a.csv", "id\n1\n", nil)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/ingest/"+id.String()+"/events", nil))
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Errorf("Content-Type = %q", got)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: complete") || !strings.Contains(body, "id: 100") {
		t.Errorf("event stream = %q", body)
	}
}

func TestIngest_Rollback(t *testing.T) {
	ts := newTestServer(t, testConfig())
	id := ts.startIngest(t, "a.csv", "id\n1\n2\n", nil)

	rec := ts.do(httptest.NewRequest(http.MethodPost, "/api/ingest/"+id.String()+"/rollback", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"deleted":2`) {
		t.Errorf("body = %s", rec.Body.String())
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/documents?uri=1", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("document after rollback status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestIngest_Cancel(t *testing.T) {
	ts := newTestServer(t, testConfig())
	id := ts.startIngest(t, "a.csv", "id\n1\n", nil)

	// Cancelling a finished ingest is accepted and changes nothing.
	rec := ts.do(httptest.NewRequest(http.MethodPost, "/api/ingest/"+id.String()+"/cancel", nil))
	if rec.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusAccepted)
	}
}

func TestIngestPage(t *testing.T) {
	ts := newTestServer(t, testConfig())
	id := ts.startIngest(t, "people.csv", "id\n1\n", nil)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/ingest/"+id.String(), nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "people.csv") {
		t.Errorf("page missing file name: %s", rec.Body.String())
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/ingest/"+uuid.NewString(), nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown ingest page status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html") {
		t.Errorf("error page Content-Type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestErrors(t *testing.T) {
	cfg := testConfig()
	cfg.Ingest.MaxFileSize = 16
	ts := newTestServer(t, cfg)

	tests := []struct {
		name       string
		req        *http.Request
		wantStatus int
		wantCode   string
	}{
		{"no file", uploadRequest(t, "", "", map[string]string{"delimiter": ","}), http.StatusBadRequest, "FILE004"},
		{"file too large", uploadRequest(t, "big.csv", strings.Repeat("x", 64), nil), http.StatusRequestEntityTooLarge, "FILE001"},
		{"bad delimiter", uploadRequest(t, "a.csv", "id\n1\n", map[string]string{"delimiter": "::"}), http.StatusBadRequest, "CFG001"},
		{"bad encoding", uploadRequest(t, "a.csv", "id\n1\n", map[string]string{"encoding": "klingon"}), http.StatusBadRequest, "CFG002"},
		{"malformed id", httptest.NewRequest(http.MethodGet, "/api/ingest/not-a-uuid", nil), http.StatusBadRequest, "ING005"},
		{"unknown ingest", httptest.NewRequest(http.MethodGet, "/api/ingest/"+uuid.NewString(), nil), http.StatusNotFound, "ING002"},
		{"missing uri", httptest.NewRequest(http.MethodGet, "/api/documents", nil), http.StatusBadRequest, "DOC002"},
		{"unknown document", httptest.NewRequest(http.MethodGet, "/api/documents?uri=nope", nil), http.StatusNotFound, "DOC001"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(tt.req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if got := decodeError(t, rec).Code; got != tt.wantCode {
				t.Errorf("code = %q, want %q", got, tt.wantCode)
			}
		})
	}
}

func TestAPIKeyRequired(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"secret"}}
	ts := newTestServer(t, cfg)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/ingests", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("without key status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/ingests", nil)
	req.Header.Set("X-API-Key", "secret")
	if rec := ts.do(req); rec.Code != http.StatusOK {
		t.Errorf("with key status = %d, want %d", rec.Code, http.StatusOK)
	}

	// Health stays open for probes.
	if rec := ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil)); rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestSecurityHeaders(t *testing.T) {
	ts := newTestServer(t, testConfig())
	rec := ts.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
}
