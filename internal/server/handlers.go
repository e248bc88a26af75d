package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/okabe/omokage/internal/models"
)

// maxUploadSize bounds uploaded image bodies (multipart and URL downloads).
const maxUploadSize = 10 << 20

// fileFormDefaultLimit is the default result limit for the form-based
// search endpoints when the limit field is absent.
const fileFormDefaultLimit = 30

// searchRequest is the JSON body for /api/search: a pre-computed
// embedding plus constraints.
type searchRequest struct {
	Embedding     []float32 `json:"embedding"`
	Limit         int       `json:"limit,omitempty"`
	MinSimilarity float64   `json:"min_similarity,omitempty"`
	Category      string    `json:"category,omitempty"`
}

type urlSearchRequest struct {
	ImageURL      string  `json:"image_url"`
	Limit         int     `json:"limit,omitempty"`
	MinSimilarity float64 `json:"min_similarity,omitempty"`
	Category      string  `json:"category,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"message": "Omokage visual product matcher API",
		"status":  "running",
		"version": Version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"message": "pong"})
}

// handleSearch runs a similarity search for an already-computed embedding.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Embedding) == 0 {
		s.respondError(w, http.StatusBadRequest, "embedding is required")
		return
	}
	constraints := &models.SearchConstraints{
		Limit:         req.Limit,
		MinSimilarity: req.MinSimilarity,
		Category:      req.Category,
	}
	if constraints.Limit == 0 {
		constraints.Limit = s.defaultLimit(models.DefaultLimit)
	}
	s.logger.Debug("search request",
		zap.Int("limit", constraints.Limit),
		zap.Float64("min_similarity", constraints.MinSimilarity),
		zap.String("category", constraints.Category),
	)
	response, err := s.orchestrator.Search(r.Context(), req.Embedding, constraints)
	if err != nil {
		s.respondSearchError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, response)
}

// handleSearchByFile accepts a multipart image upload plus form
// constraints and returns similar products.
func (s *Server) handleSearchByFile(w http.ResponseWriter, r *http.Request) {
	image, filename, ok := s.readUploadedFile(w, r)
	if !ok {
		return
	}
	constraints, ok := s.formConstraints(w, r)
	if !ok {
		return
	}

	var uploadedImage string
	savedPath, err := s.saveUpload(filename, image)
	if err != nil {
		s.logger.Warn("failed to save upload", zap.Error(err))
	} else if savedPath != "" {
		uploadedImage = filepath.Base(savedPath)
	}

	response, err := s.orchestrator.SearchImage(r.Context(), image, constraints)
	if err != nil {
		s.respondSearchError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, struct {
		*models.SearchResponse
		UploadedImage string `json:"uploaded_image,omitempty"`
	}{response, uploadedImage})
}

// handleSearchByURL downloads the image at image_url and returns similar
// products.
func (s *Server) handleSearchByURL(w http.ResponseWriter, r *http.Request) {
	req, ok := s.readURLRequest(w, r)
	if !ok {
		return
	}
	constraints := &models.SearchConstraints{
		Limit:         req.Limit,
		MinSimilarity: req.MinSimilarity,
		Category:      req.Category,
	}
	if constraints.Limit == 0 {
		constraints.Limit = fileFormDefaultLimit
	}

	image, err := fetchImage(r.Context(), req.ImageURL)
	if err != nil {
		switch {
		case errors.Is(err, errFetchTimeout):
			s.respondError(w, http.StatusRequestTimeout, "request timeout while downloading image")
		case errors.Is(err, errNotAnImage):
			s.respondError(w, http.StatusBadRequest, "URL does not contain a valid image")
		default:
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("failed to download image: %v", err))
		}
		return
	}

	if _, err := s.saveUpload("url_upload.jpg", image); err != nil {
		s.logger.Warn("failed to save downloaded image", zap.Error(err))
	}

	response, err := s.orchestrator.SearchImage(r.Context(), image, constraints)
	if err != nil {
		s.respondSearchError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, struct {
		*models.SearchResponse
		SourceURL string `json:"source_url"`
	}{response, req.ImageURL})
}

// handleUploadImage computes and returns the embedding for an uploaded
// image without searching.
func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	image, filename, ok := s.readUploadedFile(w, r)
	if !ok {
		return
	}
	vector, err := s.orchestrator.Embed(r.Context(), image)
	if err != nil {
		s.respondSearchError(w, err)
		return
	}
	if _, err := s.saveUpload(filename, image); err != nil {
		s.logger.Warn("failed to save upload", zap.Error(err))
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":              "success",
		"filename":            filename,
		"embedding_dimension": len(vector),
		"embedding":           vector,
	})
}

func (s *Server) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := s.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "product not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"id":      record.ID,
		"payload": record.Payload,
	})
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete product request", zap.String("id", id))
	if err := s.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.respondError(w, http.StatusNotFound, "product not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recordCount, err := s.store.Size(ctx)
	if err != nil {
		s.logger.Error("status: count records failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	indexSize, err := s.orchestrator.IndexSize(ctx)
	if err != nil {
		s.logger.Error("status: index size failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"records":    recordCount,
		"index_size": indexSize,
		"config": map[string]interface{}{
			"index_type":           s.config.Index.Type,
			"store_type":           s.config.Storage.Type,
			"embedding_provider":   s.config.Embedding.Provider,
			"embedding_dimensions": s.orchestrator.Dimensions(),
			"database_path":        s.config.Storage.DatabasePath,
		},
	})
}

// readUploadedFile extracts the image from a multipart request. Writes
// the error response itself and returns ok=false on failure.
func (s *Server) readUploadedFile(w http.ResponseWriter, r *http.Request) (data []byte, filename string, ok bool) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid multipart request")
		return nil, "", false
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "file is required")
		return nil, "", false
	}
	defer file.Close()

	// Browsers send image/*; generic clients send application/octet-stream.
	// Decoding catches actual garbage later, so only reject clearly wrong types.
	contentType := header.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") &&
		contentType != "application/octet-stream" {
		s.respondError(w, http.StatusBadRequest, "file must be an image")
		return nil, "", false
	}
	data, err = io.ReadAll(io.LimitReader(file, maxUploadSize+1))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "failed to read file")
		return nil, "", false
	}
	if len(data) > maxUploadSize {
		s.respondError(w, http.StatusBadRequest, "file too large")
		return nil, "", false
	}
	return data, header.Filename, true
}

// formConstraints parses limit, min_similarity, and category form fields.
func (s *Server) formConstraints(w http.ResponseWriter, r *http.Request) (*models.SearchConstraints, bool) {
	constraints := &models.SearchConstraints{
		Limit:    fileFormDefaultLimit,
		Category: r.FormValue("category"),
	}
	if v := r.FormValue("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid limit")
			return nil, false
		}
		constraints.Limit = limit
	}
	if v := r.FormValue("min_similarity"); v != "" {
		minSim, err := strconv.ParseFloat(v, 64)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid min_similarity")
			return nil, false
		}
		constraints.MinSimilarity = minSim
	}
	return constraints, true
}

// readURLRequest accepts the URL search parameters as JSON or form fields.
func (s *Server) readURLRequest(w http.ResponseWriter, r *http.Request) (*urlSearchRequest, bool) {
	var req urlSearchRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return nil, false
		}
	} else {
		req.ImageURL = r.FormValue("image_url")
		if v := r.FormValue("limit"); v != "" {
			limit, err := strconv.Atoi(v)
			if err != nil {
				s.respondError(w, http.StatusBadRequest, "invalid limit")
				return nil, false
			}
			req.Limit = limit
		}
		if v := r.FormValue("min_similarity"); v != "" {
			minSim, err := strconv.ParseFloat(v, 64)
			if err != nil {
				s.respondError(w, http.StatusBadRequest, "invalid min_similarity")
				return nil, false
			}
			req.MinSimilarity = minSim
		}
		req.Category = r.FormValue("category")
	}
	if req.ImageURL == "" {
		s.respondError(w, http.StatusBadRequest, "image_url is required")
		return nil, false
	}
	return &req, true
}

// saveUpload writes the image under the uploads dir with a unique name.
// Returns the saved path; an empty uploads dir disables saving.
func (s *Server) saveUpload(originalName string, data []byte) (string, error) {
	dir := s.config.Server.UploadsDir
	if dir == "" {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	ext := filepath.Ext(originalName)
	if ext == "" {
		ext = ".jpg"
	}
	path := filepath.Join(dir, uuid.New().String()+ext)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Server) defaultLimit(fallback int) int {
	if s.config.Search.DefaultLimit > 0 {
		return s.config.Search.DefaultLimit
	}
	return fallback
}

// respondSearchError maps the failure taxonomy to HTTP status codes.
func (s *Server) respondSearchError(w http.ResponseWriter, err error) {
	s.logger.Error("search failed", zap.Error(err))
	switch {
	case errors.Is(err, models.ErrInvalidArgument), errors.Is(err, models.ErrDimensionMismatch):
		s.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrEmbeddingFailure):
		s.respondError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, models.ErrTimeout):
		s.respondError(w, http.StatusGatewayTimeout, err.Error())
	default:
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
