package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"taskboard/api/internal/auth"
	"taskboard/api/internal/board"
	"taskboard/api/internal/metrics"
	"taskboard/api/internal/session"
	"taskboard/api/internal/store"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", s.withMiddleware(http.HandlerFunc(s.handle)))
	return mux
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		statusCode := http.StatusOK
		checks := map[string]any{
			"store":    map[string]any{"status": "ok"},
			"sessions": map[string]any{"status": "ok"},
		}
		if err := s.service.Ping(ctx); err != nil {
			statusCode = http.StatusServiceUnavailable
			checks["store"] = map[string]any{"status": "error", "error": err.Error()}
		}
		if err := s.service.PingSessions(ctx); err != nil {
			statusCode = http.StatusServiceUnavailable
			checks["sessions"] = map[string]any{"status": "error", "error": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{"ok": statusCode == http.StatusOK, "checks": checks})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/login" {
		s.handleLogin(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		token := bearerToken(r)
		if token == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		sess, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"authenticated": true,
			"userId":        sess.UserID,
			"username":      sess.Username,
			"name":          sess.Name,
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/logout" {
		if token := bearerToken(r); token != "" {
			_ = s.service.Logout(r.Context(), token)
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	sess, ok := s.requireSession(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/users" {
		users, err := s.service.ListUsers(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
		return
	}

	if r.URL.Path == "/api/projects" {
		switch r.Method {
		case http.MethodGet:
			projects, err := s.service.ListProjects(r.Context(), sess.UserID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"projects": projects})
		case http.MethodPost:
			var body struct {
				Name        string `json:"name"`
				Description string `json:"description"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			project, err := s.service.CreateProject(r.Context(), sess.UserID, body.Name, body.Description)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, project)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "projects" {
		s.handleProject(w, r, sess, parts[2])
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "projects" && parts[3] == "columns" {
		if r.Method != http.MethodPut && r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		var body struct {
			Columns []board.Column `json:"columns"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		project, err := s.service.ReplaceColumns(r.Context(), sess.UserID, parts[2], body.Columns)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, project)
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "projects" && parts[3] == "activities" {
		s.handleProjectActivities(w, r, parts[2])
		return
	}

	if len(parts) == 3 && parts[0] == "api" && parts[1] == "activities" {
		s.handleActivity(w, r, parts[2])
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "activities" && parts[3] == "development" {
		if r.Method != http.MethodPut {
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
			return
		}
		activity, err := s.service.ToggleDevelopment(r.Context(), parts[2], sess.UserID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, activity)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	sess, user, err := s.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":     sess.Token,
		"expiresAt": sess.ExpiresAt.Unix(),
		"user":      user,
	})
}

func (s *HTTPServer) handleProject(w http.ResponseWriter, r *http.Request, sess Session, projectID string) {
	switch r.Method {
	case http.MethodPut:
		var body struct {
			Name        *string   `json:"name"`
			Description *string   `json:"description"`
			Status      *string   `json:"status"`
			Members     *[]string `json:"members"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		project, err := s.service.UpdateProject(r.Context(), sess.UserID, projectID, board.ProjectPatch{
			Name:        body.Name,
			Description: body.Description,
			Status:      body.Status,
			Members:     body.Members,
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, project)
	case http.MethodDelete:
		if err := s.service.DeleteProject(r.Context(), sess.UserID, projectID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleProjectActivities(w http.ResponseWriter, r *http.Request, projectID string) {
	switch r.Method {
	case http.MethodGet:
		activities, err := s.service.ListActivities(r.Context(), projectID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"activities": activities})
	case http.MethodPost:
		var body struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Column      string `json:"column"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		activity, err := s.service.CreateActivity(r.Context(), projectID, body.Title, body.Description, body.Column)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, activity)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleActivity(w http.ResponseWriter, r *http.Request, activityID string) {
	switch r.Method {
	case http.MethodPut:
		var body struct {
			Title       *string `json:"title"`
			Description *string `json:"description"`
			AssignedTo  *string `json:"assignedTo"`
			Column      *string `json:"column"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		activity, err := s.service.UpdateActivity(r.Context(), activityID, board.ActivityPatch{
			Title:       body.Title,
			Description: body.Description,
			AssignedTo:  body.AssignedTo,
			ColumnID:    body.Column,
		})
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, activity)
	case http.MethodDelete:
		if err := s.service.DeleteActivity(r.Context(), activityID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	sess, err := s.service.SessionFromToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, session.ErrNoSession) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return Session{}, false
		}
		writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
		return Session{}, false
	}
	return sess, true
}

// fail maps the error to the wire taxonomy and logs anything that came
// back as a server error.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, message, details)
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

		elapsed := time.Since(started)
		metrics.ObserveHTTPRequest(r.Method, routeLabel(r.URL.Path), fmt.Sprintf("%d", writer.status), elapsed)
		s.logger.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Duration("duration", elapsed),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// routeLabel collapses record ids out of the path so the request metric
// keeps a bounded label set.
func routeLabel(path string) string {
	parts := splitPath(path)
	if len(parts) >= 3 && parts[0] == "api" && (parts[1] == "projects" || parts[1] == "activities") {
		parts[2] = "{id}"
	}
	return "/" + strings.Join(parts, "/")
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":    code,
		"message": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
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
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrStaleWrite):
		return http.StatusConflict, "STALE_WRITE", "The record changed concurrently, retry the request", nil
	case errors.Is(err, board.ErrClaimHeld):
		return http.StatusForbidden, "CLAIM_HELD", "Another user is already developing this activity", nil
	case errors.Is(err, board.ErrLastColumn),
		errors.Is(err, board.ErrColumnNotEmpty),
		errors.Is(err, board.ErrUnknownColumn),
		errors.Is(err, board.ErrDuplicateColumn),
		errors.Is(err, board.ErrInvalidStatus):
		return http.StatusConflict, "INVALID_STATE", err.Error(), nil
	case errors.Is(err, board.ErrEmptyName),
		errors.Is(err, board.ErrEmptyTitle),
		errors.Is(err, board.ErrEmptyColumn):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken), errors.Is(err, session.ErrNoSession):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
