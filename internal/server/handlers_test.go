package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/okabe/omokage/internal/config"
	"github.com/okabe/omokage/internal/embedding"
	"github.com/okabe/omokage/internal/index"
	"github.com/okabe/omokage/internal/models"
	"github.com/okabe/omokage/internal/search"
	"github.com/okabe/omokage/internal/store"
)

func newTestServer(t *testing.T) (*Server, store.Store, *embedding.MockEmbedder) {
	t.Helper()
	s, err := store.NewMemoryStore(8)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	embedder := embedding.NewMockEmbedder(8)
	idx := index.NewBruteForce(s)
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.Type = "memory"
	cfg.Embedding.Provider = "mock"
	cfg.Embedding.Dimensions = 8
	cfg.Server.UploadsDir = "" // disable upload saving in tests
	orchestrator := search.NewOrchestrator(s, idx, embedder, &cfg.Search, nil)
	return NewServer(orchestrator, s, cfg, zap.NewNop()), s, embedder
}

func seedProduct(t *testing.T, s store.Store, embedder *embedding.MockEmbedder, id string, image []byte, category string) {
	t.Helper()
	vector, err := embedder.Embed(context.Background(), image)
	if err != nil {
		t.Fatal(err)
	}
	err = s.Put(context.Background(), &models.Record{
		ID:     id,
		Vector: vector,
		Payload: models.Payload{
			models.FieldProductID:   id,
			models.FieldProductName: "product " + id,
			models.FieldCategory:    category,
			models.FieldImageURL:    "/images/" + id + ".jpg",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
}

// withURLParam injects a chi route parameter for direct handler calls.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestHandleRoot(t *testing.T) {
	srv, _, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	srv.handleRoot(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
	var out map[string]string
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out["status"] != "running" || out["version"] != Version {
		t.Errorf("body: %v", out)
	}
}

func TestHandlePing(t *testing.T) {
	srv, _, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	w := httptest.NewRecorder()
	srv.handlePing(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
	var out map[string]string
	_ = json.NewDecoder(w.Body).Decode(&out)
	if out["message"] != "pong" {
		t.Errorf("body: %v", out)
	}
}

func TestHandleHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.handleHealth(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("status: got %d", w.Code)
	}
}

func TestHandleSearch(t *testing.T) {
	srv, s, embedder := newTestServer(t)
	seedProduct(t, s, embedder, "p1", []byte("red shirt"), "shirt")
	seedProduct(t, s, embedder, "p2", []byte("blue shoe"), "shoes")

	// Query with p1's own embedding: p1 must come back first with score 1.
	vector, _ := embedder.Embed(context.Background(), []byte("red shirt"))
	body, _ := json.Marshal(searchRequest{Embedding: vector, Limit: 5})
	r := httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.handleSearch(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var resp models.SearchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "success" || resp.Count < 1 {
		t.Fatalf("response: %+v", resp)
	}
	if resp.Results[0].ProductID != "p1" || resp.Results[0].SimilarityScore != 1.0 {
		t.Errorf("top result: %+v", resp.Results[0])
	}
}

func TestHandleSearch_CategoryFilter(t *testing.T) {
	srv, s, embedder := newTestServer(t)
	seedProduct(t, s, embedder, "p1", []byte("red shirt"), "shirt")
	seedProduct(t, s, embedder, "p2", []byte("blue shoe"), "shoes")

	vector, _ := embedder.Embed(context.Background(), []byte("red shirt"))
	body, _ := json.Marshal(searchRequest{Embedding: vector, Limit: 5, Category: "shoes"})
	r := httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.handleSearch(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var resp models.SearchResponse
	_ = json.NewDecoder(w.Body).Decode(&resp)
	if resp.Count != 1 || resp.Results[0].ProductID != "p2" {
		t.Errorf("response: %+v", resp)
	}
}

func TestHandleSearch_BadRequests(t *testing.T) {
	srv, _, _ := newTestServer(t)

	r := httptest.NewRequest(http.MethodPost, "/api/search", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	srv.handleSearch(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid body: got %d, want 400", w.Code)
	}

	body, _ := json.Marshal(searchRequest{})
	r = httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(body))
	w = httptest.NewRecorder()
	srv.handleSearch(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing embedding: got %d, want 400", w.Code)
	}

	// Wrong dimensionality maps to 400 as well.
	body, _ = json.Marshal(searchRequest{Embedding: []float32{1, 2}, Limit: 5})
	r = httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(body))
	w = httptest.NewRecorder()
	srv.handleSearch(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("dimension mismatch: got %d, want 400", w.Code)
	}

	// Negative limit is rejected, not defaulted.
	vector := make([]float32, 8)
	body, _ = json.Marshal(searchRequest{Embedding: vector, Limit: -3})
	r = httptest.NewRequest(http.MethodPost, "/api/search", bytes.NewReader(body))
	w = httptest.NewRecorder()
	srv.handleSearch(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("negative limit: got %d, want 400", w.Code)
	}
}

func multipartImage(t *testing.T, fields map[string]string, filename string, image []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(image); err != nil {
		t.Fatal(err)
	}
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, mw.FormDataContentType()
}

func TestHandleSearchByFile(t *testing.T) {
	srv, s, embedder := newTestServer(t)
	seedProduct(t, s, embedder, "p1", []byte("red shirt"), "shirt")

	body, contentType := multipartImage(t, map[string]string{"limit": "5"}, "query.jpg", []byte("red shirt"))
	r := httptest.NewRequest(http.MethodPost, "/api/search-by-file", body)
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	srv.handleSearchByFile(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var resp models.SearchResponse
	if err := json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 1 || resp.Results[0].ProductID != "p1" {
		t.Errorf("response: %+v", resp)
	}
	// Upload saving is disabled; the response must not claim a saved file.
	var raw map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	if v, ok := raw["uploaded_image"]; ok {
		t.Errorf("uploaded_image = %v, want omitted", v)
	}
}

func TestHandleSearchByFile_SavesUpload(t *testing.T) {
	srv, s, embedder := newTestServer(t)
	srv.config.Server.UploadsDir = t.TempDir()
	seedProduct(t, s, embedder, "p1", []byte("red shirt"), "shirt")

	body, contentType := multipartImage(t, nil, "query.jpg", []byte("red shirt"))
	r := httptest.NewRequest(http.MethodPost, "/api/search-by-file", body)
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	srv.handleSearchByFile(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var out struct {
		UploadedImage string `json:"uploaded_image"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.UploadedImage == "" || out.UploadedImage == "." {
		t.Errorf("uploaded_image = %q, want a saved filename", out.UploadedImage)
	}
}

func TestHandleSearchByFile_MissingFile(t *testing.T) {
	srv, _, _ := newTestServer(t)
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("limit", "5")
	_ = mw.Close()
	r := httptest.NewRequest(http.MethodPost, "/api/search-by-file", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	srv.handleSearchByFile(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestHandleUploadImage(t *testing.T) {
	srv, _, _ := newTestServer(t)
	body, contentType := multipartImage(t, nil, "photo.jpg", []byte("some image"))
	r := httptest.NewRequest(http.MethodPost, "/api/upload-image", body)
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	srv.handleUploadImage(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body.String())
	}
	var out struct {
		Status             string    `json:"status"`
		Filename           string    `json:"filename"`
		EmbeddingDimension int       `json:"embedding_dimension"`
		Embedding          []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Status != "success" || out.Filename != "photo.jpg" {
		t.Errorf("body: %+v", out)
	}
	if out.EmbeddingDimension != 8 || len(out.Embedding) != 8 {
		t.Errorf("embedding: dim %d, len %d", out.EmbeddingDimension, len(out.Embedding))
	}
}

func TestHandleSearchByURL_RequiresURL(t *testing.T) {
	srv, _, _ := newTestServer(t)
	r := httptest.NewRequest(http.MethodPost, "/api/search-by-url", strings.NewReader("{}"))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.handleSearchByURL(w, r)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", w.Code)
	}
}

func TestHandleGetProduct(t *testing.T) {
	srv, s, embedder := newTestServer(t)
	seedProduct(t, s, embedder, "p1", []byte("red shirt"), "shirt")

	r := withURLParam(httptest.NewRequest(http.MethodGet, "/api/products/p1", nil), "id", "p1")
	w := httptest.NewRecorder()
	srv.handleGetProduct(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		ID      string         `json:"id"`
		Payload models.Payload `json:"payload"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.ID != "p1" || out.Payload.Category() != "shirt" {
		t.Errorf("body: %+v", out)
	}

	r = withURLParam(httptest.NewRequest(http.MethodGet, "/api/products/nope", nil), "id", "nope")
	w = httptest.NewRecorder()
	srv.handleGetProduct(w, r)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing product: got %d, want 404", w.Code)
	}
}

func TestHandleDeleteProduct(t *testing.T) {
	srv, s, embedder := newTestServer(t)
	seedProduct(t, s, embedder, "p1", []byte("red shirt"), "shirt")

	r := withURLParam(httptest.NewRequest(http.MethodDelete, "/api/products/p1", nil), "id", "p1")
	w := httptest.NewRecorder()
	srv.handleDeleteProduct(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	if _, err := s.Get(context.Background(), "p1"); err == nil {
		t.Error("product should be gone after delete")
	}

	r = withURLParam(httptest.NewRequest(http.MethodDelete, "/api/products/p1", nil), "id", "p1")
	w = httptest.NewRecorder()
	srv.handleDeleteProduct(w, r)
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete: got %d, want 404", w.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	srv, s, embedder := newTestServer(t)
	seedProduct(t, s, embedder, "p1", []byte("red shirt"), "shirt")

	r := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	w := httptest.NewRecorder()
	srv.handleStatus(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		Records   int `json:"records"`
		IndexSize int `json:"index_size"`
		Config    struct {
			IndexType string `json:"index_type"`
		} `json:"config"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Records != 1 || out.IndexSize != 1 {
		t.Errorf("counts: %+v", out)
	}
	if out.Config.IndexType != "brute" {
		t.Errorf("index type: %q", out.Config.IndexType)
	}
}
