package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"petition/api/internal/auth"
	"petition/api/internal/form"
	"petition/api/internal/session"
	"petition/api/internal/util"
)

const sessionCookie = "petition_session"

type HTTPServer struct {
	service    *Service
	corsOrigin string
	logger     *zap.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{service: service, corsOrigin: corsOrigin, logger: logger}
}

func (s *HTTPServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.withMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.GetHead)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Get("/", s.handleIndex)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/ready", s.handleReady)
		r.Get("/petition", s.handlePetition)
		r.Get("/signatures", s.handleSignatures)
		r.Get("/signatures/count", s.handleCount)
		r.Get("/share", s.handleShare)
		r.Post("/session", s.handleOpenSession)

		r.Group(func(r chi.Router) {
			r.Use(s.requireVisitor)
			r.Get("/form", s.handleForm)
			r.Put("/form/draft", s.handleDraft)
			r.Post("/form/submit", s.handleSubmit)
			r.Post("/captcha/loaded", s.handleCaptchaLoaded)
			r.Post("/captcha/verified", s.handleCaptchaVerified)
			r.Post("/captcha/expired", s.handleCaptchaExpired)
		})
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
	checks := map[string]any{
		"backend":    map[string]any{"status": "ok"},
		"signatures": map[string]any{"loaded": s.service.Loaded()},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["backend"] = map[string]any{
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

func (s *HTTPServer) handlePetition(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Petition())
}

func (s *HTTPServer) handleSignatures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"signatures": s.service.Signatures(),
		"loaded":     s.service.Loaded(),
	})
}

func (s *HTTPServer) handleCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"count": s.service.Count(r.Context())})
}

func (s *HTTPServer) handleShare(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"url": s.service.ShareURL()})
}

func (s *HTTPServer) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.service.OpenSession()
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	setSessionCookie(w, sess)
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":     sess.Token,
		"sessionId": sess.ID,
		"siteKey":   sess.SiteKey,
		"expiresAt": sess.ExpiresAt.Unix(),
	})
}

// handleIndex renders the page, opening a visitor session when the request
// carries none that is still alive.
func (s *HTTPServer) handleIndex(w http.ResponseWriter, r *http.Request) {
	visitor, err := s.service.VisitorFromToken(sessionToken(r))
	if err != nil {
		sess, openErr := s.service.OpenSession()
		switch {
		case errors.Is(openErr, session.ErrFull):
			// the page still renders; the form stays inert until a slot frees
			s.logger.Warn("serving page without a visitor session", zap.String("request_id", requestIDFrom(r)))
			visitor = nil
		case openErr != nil:
			s.writeMappedError(w, r, openErr)
			return
		default:
			setSessionCookie(w, sess)
			visitor, err = s.service.VisitorFromToken(sess.Token)
			if err != nil {
				s.writeMappedError(w, r, err)
				return
			}
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if err := s.service.renderer.Render(w, s.service.Page(visitor)); err != nil {
		s.logger.Error("render petition page", zap.Error(err))
	}
}

func (s *HTTPServer) handleForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.FormState(visitorFrom(r)))
}

func (s *HTTPServer) handleDraft(w http.ResponseWriter, r *http.Request) {
	var body form.Draft
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, s.service.UpdateDraft(visitorFrom(r), body))
}

func (s *HTTPServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.Submit(r.Context(), visitorFrom(r))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	status := http.StatusOK
	if state.State == form.Failed {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, state)
}

func (s *HTTPServer) handleCaptchaLoaded(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.CaptchaLoaded(r.Context(), visitorFrom(r)))
}

func (s *HTTPServer) handleCaptchaVerified(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	state, err := s.service.CaptchaVerified(visitorFrom(r), strings.TrimSpace(body.Token))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *HTTPServer) handleCaptchaExpired(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.CaptchaExpired(visitorFrom(r))
	if err != nil {
		s.writeMappedError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

type visitorKey struct{}

func (s *HTTPServer) requireVisitor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := sessionToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		visitor, err := s.service.VisitorFromToken(token)
		if err != nil {
			s.writeMappedError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), visitorKey{}, visitor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func visitorFrom(r *http.Request) *session.Visitor {
	visitor, _ := r.Context().Value(visitorKey{}).(*session.Visitor)
	return visitor
}

func (s *HTTPServer) writeMappedError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", requestIDFrom(r)),
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
			requestID = util.NewID("req")
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		if r.Method == http.MethodOptions {
			writeJSON(writer, http.StatusNoContent, map[string]any{})
		} else {
			next.ServeHTTP(writer, r)
		}

		s.logger.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", writer.status),
			zap.Int64("duration_ms", time.Since(started).Milliseconds()),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func setSessionCookie(w http.ResponseWriter, sess Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
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

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
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

// sessionToken prefers the Authorization header over the cookie.
func sessionToken(r *http.Request) string {
	if token := bearerToken(r); token != "" {
		return token
	}
	if cookie, err := r.Cookie(sessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, session.ErrNotFound) || errors.Is(err, form.ErrClosed) {
		return http.StatusUnauthorized, "SESSION_EXPIRED", "Session expired", nil
	}
	if errors.Is(err, session.ErrFull) {
		return http.StatusServiceUnavailable, "SESSION_LIMIT", "Too many visitors, try again shortly", nil
	}
	if errors.Is(err, form.ErrBusy) {
		return http.StatusConflict, "SUBMISSION_IN_PROGRESS", "A submission is already in progress", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
