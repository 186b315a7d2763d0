package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"draftline/api/internal/auth"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	gatherer   prometheus.Gatherer
	logger     zerolog.Logger
}

// NewHTTPServer serves /metrics from gatherer, or the default registry when
// gatherer is nil.
func NewHTTPServer(service *Service, corsOrigin string, gatherer prometheus.Gatherer) *HTTPServer {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		gatherer:   gatherer,
		logger:     service.logger.With().Str("component", "http").Logger(),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{s.corsOrigin},
		AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		if timeout := s.service.cfg.RequestTimeout; timeout > 0 {
			r.Use(middleware.Timeout(timeout))
		}
		r.Use(s.requireSession)

		r.Route("/content", func(r chi.Router) {
			r.Get("/", s.handleListContent)
			r.Post("/", s.handleCreateContent)
			r.Route("/{contentID}", func(r chi.Router) {
				r.Get("/", s.handleGetContent)
				r.Patch("/", s.handleUpdateContent)
				r.Delete("/", s.handleDeleteContent)
				r.Get("/collaborators", s.handleListCollaborators)
				r.Post("/collaborators", s.handleAddCollaborators)
				r.Patch("/visibility", s.handleSetVisibility)
				r.Get("/versions", s.handleListVersions)
				r.Post("/versions", s.handleAppendVersion)
				r.Get("/versions/{versionID}", s.handleGetVersion)
				r.Patch("/versions/{versionID}", s.handleUpdateVersion)
				r.Post("/revert", s.handleRevert)
				r.Get("/history", s.handleHistory)
				r.Get("/pull-requests", s.handleListPullRequests)
				r.Post("/pull-requests", s.handleOpenPullRequest)
			})
		})
		r.Get("/pull-requests/{prID}", s.handleGetPullRequest)
		r.Patch("/pull-requests/{prID}", s.handleTransitionPullRequest)
		r.Get("/notifications", s.handleListNotifications)
		r.Post("/notifications", s.handleCreateNotification)
	})
	return r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, err := range s.service.Checks(ctx) {
		if err == nil {
			checks[name] = map[string]any{"status": "ok"}
			continue
		}
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks[name] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

type sessionKey struct{}

func (s *HTTPServer) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			s.writeServiceError(w, r, unauthorized())
			return
		}
		session, err := s.service.SessionFromToken(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrExpiredToken) || errors.Is(err, auth.ErrInvalidToken) {
				s.writeServiceError(w, r, unauthorized())
				return
			}
			writeError(w, http.StatusInternalServerError, "SERVER_ERROR", "Session lookup failed", nil)
			return
		}
		if holder, ok := r.Context().Value(logUserKey{}).(*string); ok {
			*holder = session.UserID
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, session)))
	})
}

func sessionFrom(r *http.Request) Session {
	session, _ := r.Context().Value(sessionKey{}).(Session)
	return session
}

type requestIDKey struct{}

// logUserKey carries a slot requireSession fills so the request log line can
// name the caller.
type logUserKey struct{}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		var userID string
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		ctx = context.WithValue(ctx, logUserKey{}, &userID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		writer.Header().Set("X-Request-ID", requestID)
		writer.Header().Set("Cache-Control", "no-store")

		next.ServeHTTP(writer, r)

		status := writer.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		elapsed := time.Since(started)
		s.service.metrics.ObserveRequest(r.Method, route, strconv.Itoa(status), elapsed.Seconds())

		event := s.logger.Info()
		if status >= http.StatusInternalServerError {
			event = s.logger.Error()
		}
		event.Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("route", route).
			Int("status", status).
			Int64("duration_ms", elapsed.Milliseconds()).
			Str("user_id", userID).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
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

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		requestID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Error().Err(err).Str("request_id", requestID).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

var errInvalidBody = errors.New("invalid JSON body")

// decodeBody leaves target untouched when the body is empty.
func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("%w: %v", errInvalidBody, err)
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

func queryInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, validationError(key+" must be an integer", map[string]string{key: "int"})
	}
	return n, nil
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, errInvalidBody) {
		return http.StatusBadRequest, "VALIDATION_ERROR", "Invalid JSON body", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, "TIMEOUT", "Request timed out", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
