package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const moscow = `{"type":"FeatureCollection","features":[
{"type":"Feature","properties":{"code":"77","name":"Center"},
 "geometry":{"type":"Polygon","coordinates":[[[37.5,55.7],[37.7,55.7],[37.7,55.8],[37.5,55.8],[37.5,55.7]]]}}]}`

func newTestServer(t *testing.T) *Server {
	t.Helper()
	srv, err := New(Config{Host: "localhost", Port: "0", DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { srv.Close() })
	return srv
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func upload(t *testing.T, h http.Handler, name, dir, content string) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if dir != "" {
		mw.WriteField("dir", dir)
	}
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	fw.Write([]byte(content))
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return do(t, h, req)
}

func TestRootAndHealth(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || len(rec.Header().Values("Link")) == 0 {
		t.Fatalf("root status=%d links=%v", rec.Code, rec.Header().Values("Link"))
	}
	rec = do(t, srv, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status=%d", rec.Code)
	}
	rec = do(t, srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "regions_sessions_active") {
		t.Fatal("metrics missing session gauge")
	}
	if rec = do(t, srv, httptest.NewRequest(http.MethodGet, "/nowhere", nil)); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown path status=%d", rec.Code)
	}
}

func TestUploadThenOpenSession(t *testing.T) {
	srv := newTestServer(t)

	if rec := upload(t, srv, "broken.geojson", "", "{"); rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("broken upload status=%d", rec.Code)
	}
	if rec := upload(t, srv, "notes.txt", "", "hi"); rec.Code != http.StatusBadRequest {
		t.Fatalf("txt upload status=%d", rec.Code)
	}
	if rec := upload(t, srv, "x.geojson", "../escape", moscow); rec.Code != http.StatusBadRequest {
		t.Fatalf("escaping upload status=%d", rec.Code)
	}

	rec := upload(t, srv, "Moscow.geojson", "", moscow)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status=%d body=%s", rec.Code, rec.Body)
	}
	if _, err := os.Stat(filepath.Join(srv.Services().Datasets.SourcesDir(), "Moscow.geojson")); err != nil {
		t.Fatal(err)
	}

	rec = do(t, srv, httptest.NewRequest(http.MethodGet, "/data/Moscow.geojson", nil))
	if rec.Code != http.StatusOK || rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("raw dataset status=%d headers=%v", rec.Code, rec.Header())
	}

	rec = do(t, srv, httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("session status=%d body=%s", rec.Code, rec.Body)
	}
	var sess struct {
		State   string            `json:"state"`
		Markers []json.RawMessage `json:"markers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &sess); err != nil {
		t.Fatal(err)
	}
	if sess.State != "overview" || len(sess.Markers) != 1 {
		t.Fatalf("session=%+v", sess)
	}
}

func TestSessionWithoutRootDataset(t *testing.T) {
	srv := newTestServer(t)
	rec := do(t, srv, httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body)
	}
}

func TestConfigErrors(t *testing.T) {
	if _, err := New(Config{DataDir: t.TempDir(), Storage: "ftp"}); err == nil {
		t.Fatal("unknown storage accepted")
	}
	if _, err := New(Config{DataDir: t.TempDir(), Storage: StorageHTTP}); err == nil {
		t.Fatal("http storage without template accepted")
	}
	bad := filepath.Join(t.TempDir(), "h.yaml")
	os.WriteFile(bad, []byte("root:\n  markers: glitter\n"), 0644)
	if _, err := New(Config{DataDir: t.TempDir(), HierarchyFile: bad}); err == nil {
		t.Fatal("invalid hierarchy accepted")
	}
}

func TestOpenAPIDocumentsRoutes(t *testing.T) {
	srv := newTestServer(t)
	paths := srv.OpenAPI().Paths
	for _, p := range []string{"/api/v1/sessions/{id}/click", "/api/v1/viewer/{id}/events", "/api/v1/tables", "/api/v1/fields/{kind}"} {
		if paths[p] == nil {
			t.Errorf("missing %s", p)
		}
	}
}
