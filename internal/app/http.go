package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"morningpulse/api/internal/comments"
	"morningpulse/api/internal/docstore"
	"morningpulse/api/internal/identity"
	"morningpulse/api/internal/reactions"
	"morningpulse/api/internal/search"
	"morningpulse/api/internal/session"
)

const anonymousSessionHeader = "X-Anonymous-Session"

type HTTPServer struct {
	service    *Service
	corsOrigin string
	limiter    *writeLimiter
	log        zerolog.Logger
}

func NewHTTPServer(service *Service, corsOrigin string, writesPerMinute int, logger zerolog.Logger) *HTTPServer {
	return &HTTPServer{
		service:    service,
		corsOrigin: corsOrigin,
		limiter:    newWriteLimiter(writesPerMinute),
		log:        logger.With().Str("component", "http").Logger(),
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
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/session/anonymous" {
		payload, err := s.service.IssueAnonymousSession(r.Context())
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, payload)
		return
	}

	caller, err := s.service.ResolveIdentity(r.Context(), bearerToken(r), strings.TrimSpace(r.Header.Get(anonymousSessionHeader)))
	switch {
	case err == nil:
		r = r.WithContext(identity.WithIdentity(r.Context(), caller))
	case errors.Is(err, identity.ErrNoIdentity):
		// unauthenticated reads are allowed
	default:
		s.fail(w, r, err)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/session" {
		if caller.UserID == "" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false, "identity": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "identity": caller})
		return
	}

	if isWrite(r.Method) && caller.UserID != "" && !s.limiter.Allow(caller.UserID) {
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many writes, slow down", nil)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch {
	case parts[1] == "articles" && len(parts) >= 4 && parts[3] == "comments":
		s.handleArticleComments(w, r, caller, parts[2], parts[4:])
	case parts[1] == "comments" && len(parts) >= 3:
		s.handleComment(w, r, caller, parts[2], parts[3:])
	case parts[1] == "me" && len(parts) == 3:
		s.handleMe(w, r, caller, parts[2])
	case parts[1] == "opinions" && len(parts) >= 4 && parts[3] == "reactions":
		s.handleOpinionReactions(w, r, caller, parts[2], parts[4:])
	case parts[1] == "reactions" && len(parts) == 3 && r.Method == http.MethodDelete:
		if !requireIdentity(w, caller) {
			return
		}
		if err := s.service.RemoveReaction(r.Context(), caller, parts[2]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	case parts[1] == "search" && len(parts) == 2 && r.Method == http.MethodGet:
		s.handleSearch(w, r)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"store": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["store"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	// Anonymous sessions degrade reactions only, so they never fail readiness.
	if configured, err := s.service.PingSessions(ctx); configured {
		if err != nil {
			checks["sessions"] = map[string]any{"status": "error", "error": err.Error()}
		} else {
			checks["sessions"] = map[string]any{"status": "ok"}
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleArticleComments(w http.ResponseWriter, r *http.Request, caller identity.Identity, articleID string, rest []string) {
	if len(rest) == 1 && rest[0] == "stream" && r.Method == http.MethodGet {
		sub, err := s.service.SubscribeThreads(r.Context(), articleID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		streamSubscription(w, r, sub, s.log, func(threads []comments.Thread) any {
			return map[string]any{"articleId": articleID, "threads": threads}
		})
		return
	}
	if len(rest) != 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		query := r.URL.Query()
		if term := strings.TrimSpace(query.Get("q")); term != "" {
			found, err := s.service.SearchArticleComments(r.Context(), articleID, term)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"comments": found, "query": term})
			return
		}
		if query.Get("view") == "threads" {
			threads, err := s.service.ArticleThreads(r.Context(), articleID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"threads": threads})
			return
		}
		items, err := s.service.ArticleComments(r.Context(), articleID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"comments": items})
	case http.MethodPost:
		if !requireIdentity(w, caller) {
			return
		}
		var body AddCommentInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		created, err := s.service.AddComment(r.Context(), caller, articleID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"comment": created})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleComment(w http.ResponseWriter, r *http.Request, caller identity.Identity, commentID string, rest []string) {
	if len(rest) == 1 && r.Method == http.MethodPost {
		if !requireIdentity(w, caller) {
			return
		}
		var (
			updated comments.Comment
			err     error
		)
		switch rest[0] {
		case "resolve":
			updated, err = s.service.ResolveComment(r.Context(), caller, commentID)
		case "reopen":
			updated, err = s.service.ReopenComment(r.Context(), caller, commentID)
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
			return
		}
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"comment": updated})
		return
	}
	if len(rest) != 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		found, err := s.service.GetComment(r.Context(), commentID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"comment": found})
	case http.MethodPut:
		if !requireIdentity(w, caller) {
			return
		}
		var body UpdateCommentInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		updated, err := s.service.UpdateComment(r.Context(), caller, commentID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"comment": updated})
	case http.MethodDelete:
		if !requireIdentity(w, caller) {
			return
		}
		if err := s.service.DeleteComment(r.Context(), caller, commentID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleMe(w http.ResponseWriter, r *http.Request, caller identity.Identity, resource string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if !requireIdentity(w, caller) {
		return
	}

	switch resource {
	case "comments":
		items, err := s.service.UserComments(r.Context(), caller)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"comments": items})
	case "unread":
		articleID := strings.TrimSpace(r.URL.Query().Get("articleId"))
		count, err := s.service.UnreadCount(r.Context(), caller, articleID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"articleId": articleID, "unread": count})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	}
}

func (s *HTTPServer) handleOpinionReactions(w http.ResponseWriter, r *http.Request, caller identity.Identity, opinionID string, rest []string) {
	if len(rest) == 1 && rest[0] == "stream" && r.Method == http.MethodGet {
		sub, err := s.service.SubscribeReactions(r.Context(), opinionID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		streamSubscription(w, r, sub, s.log, func(snap reactions.Snapshot) any {
			return map[string]any{"opinionId": opinionID, "reactions": snap.Reactions, "counts": snap.Counts.Map()}
		})
		return
	}
	if len(rest) != 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		payload, err := s.service.OpinionReactions(r.Context(), opinionID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	case http.MethodPost:
		if !requireIdentity(w, caller) {
			return
		}
		var body ReactInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.React(r.Context(), caller, opinionID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, payload)
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := strings.TrimSpace(query.Get("q"))
	if q == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", map[string]any{"field": "q"})
		return
	}
	limit := 20
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be an integer", nil)
			return
		}
		limit = parsed
	}
	offset := 0
	if raw := strings.TrimSpace(query.Get("offset")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be an integer", nil)
			return
		}
		offset = parsed
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	writeJSON(w, http.StatusOK, s.service.Search(r.Context(), search.Query{
		Text:      q,
		ArticleID: strings.TrimSpace(query.Get("articleId")),
		Limit:     limit,
		Offset:    offset,
	}))
}

func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("request_id", requestID(r.Context())).Str("path", r.URL.Path).Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func requireIdentity(w http.ResponseWriter, caller identity.Identity) bool {
	if caller.UserID == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return false
	}
	return true
}

func isWrite(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodDelete
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

		s.log.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
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

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, "+anonymousSessionHeader)
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
	var validation *comments.ValidationError
	if errors.As(err, &validation) {
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validation.Message, map[string]any{"field": validation.Field}
	}

	switch {
	case errors.Is(err, reactions.ErrInvalidType):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Unknown reaction type", map[string]any{"field": "type"}
	case errors.Is(err, reactions.ErrValidation):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Invalid reaction", nil
	case errors.Is(err, comments.ErrNotFound), errors.Is(err, reactions.ErrNotFound), errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, comments.ErrInvalidParent):
		return http.StatusConflict, "INVALID_PARENT", "Replies must target an existing root comment of the same article", nil
	case errors.Is(err, comments.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION", "Comment status cannot change", nil
	case errors.Is(err, docstore.ErrUnavailable):
		return http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "Document store unavailable", nil
	case errors.Is(err, identity.ErrInvalidToken), errors.Is(err, identity.ErrExpiredToken),
		errors.Is(err, identity.ErrNoIdentity), errors.Is(err, session.ErrSessionNotFound):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
