package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"graphdoc/api/internal/docstore"
	"graphdoc/api/internal/search"
)

// maxUpdateBytes bounds a single binary update or multipart form.
const maxUpdateBytes = 32 << 20

type HTTPServer struct {
	service    *Service
	relay      *Relay
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{
		service:    service,
		relay:      NewRelay(service),
		corsOrigin: corsOrigin,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}

		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "docs" {
		id := parts[2]
		if id == "" {
			status, code, message, details := mapError(domainError(http.StatusBadRequest, "INVALID_ID", "document id is required", nil))
			writeError(w, status, code, message, details)
			return
		}
		rest := parts[3:]

		switch {
		case len(rest) == 0 && (r.Method == http.MethodPut || r.Method == http.MethodPost):
			s.handleSave(w, r, id)
			return
		case len(rest) == 1 && rest[0] == "state" && r.Method == http.MethodGet:
			s.handleGetState(w, r, id)
			return
		case len(rest) == 1 && rest[0] == "vector" && r.Method == http.MethodGet:
			s.handleGetVector(w, r, id)
			return
		case len(rest) == 1 && rest[0] == "diff" && r.Method == http.MethodPost:
			s.handleGetDiff(w, r, id)
			return
		case len(rest) == 1 && rest[0] == "v2" && (r.Method == http.MethodPut || r.Method == http.MethodPost):
			s.handleSaveMultipart(w, r, id)
			return
		case len(rest) == 1 && rest[0] == "ws" && r.Method == http.MethodGet:
			s.relay.Serve(w, r, id)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	text := strings.TrimSpace(query.Get("q"))
	if text == "" {
		writeError(w, http.StatusBadRequest, "INVALID_QUERY", "q is required", nil)
		return
	}
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	writeJSON(w, http.StatusOK, s.service.Search(search.Query{
		Text:   text,
		Limit:  limit,
		Offset: offset,
	}))
}

func (s *HTTPServer) handleGetState(w http.ResponseWriter, r *http.Request, id string) {
	state, err := s.service.GetState(r.Context(), id)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	if r.URL.Query().Get("format") == "base64" {
		text, err := s.service.GetStateBase64(r.Context(), id)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, text)
		return
	}
	writeBinary(w, http.StatusOK, state)
}

func (s *HTTPServer) handleGetVector(w http.ResponseWriter, r *http.Request, id string) {
	vector, err := s.service.StateVector(r.Context(), id)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeBinary(w, http.StatusOK, vector)
}

func (s *HTTPServer) handleGetDiff(w http.ResponseWriter, r *http.Request, id string) {
	vector, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if len(vector) == 0 {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "state vector is required", nil)
		return
	}
	diff, err := s.service.Diff(r.Context(), id, vector)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeBinary(w, http.StatusOK, diff)
}

func (s *HTTPServer) handleSave(w http.ResponseWriter, r *http.Request, id string) {
	update, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if len(update) == 0 {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "update body is required", nil)
		return
	}
	dsl, err := s.service.Save(r.Context(), id, update)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(dsl)
}

func (s *HTTPServer) handleSaveMultipart(w http.ResponseWriter, r *http.Request, id string) {
	if err := r.ParseMultipartForm(maxUpdateBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart form expected", nil)
		return
	}
	update, err := formPart(r, "data")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	if len(update) == 0 {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "data part is required", nil)
		return
	}
	// Absent vector means the caller wants the full state back.
	vector, err := formPart(r, "vector")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}

	out, err := s.service.SaveMultipart(r.Context(), id, update, vector)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeBinary(w, http.StatusOK, out)
}

// formPart reads a named multipart part whether it was sent as a file or as
// a plain field. A missing part returns nil bytes, not an error.
func formPart(r *http.Request, name string) ([]byte, error) {
	if file, _, err := r.FormFile(name); err == nil {
		defer file.Close()
		return io.ReadAll(io.LimitReader(file, maxUpdateBytes))
	}
	if r.MultipartForm != nil {
		if values, ok := r.MultipartForm.Value[name]; ok && len(values) > 0 {
			return []byte(values[0]), nil
		}
	}
	return nil, nil
}

func readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxUpdateBytes))
	if err != nil {
		return nil, errors.New("unreadable request body")
	}
	return data, nil
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeBinary(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, docstore.ErrMalformedPayload) {
		return http.StatusBadRequest, "INVALID_PAYLOAD", "Malformed payload", nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
