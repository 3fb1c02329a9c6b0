package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agentworkforce/relayfeed/internal/logging"
	"github.com/agentworkforce/relayfeed/internal/relayfeed"
	"github.com/agentworkforce/relayfeed/internal/timeline"
	"github.com/samber/lo"
)

type ServerConfig struct {
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	Logger          logging.Logger
}

type Server struct {
	store       *relayfeed.Store
	cfg         ServerConfig
	schemas     bodySchemas
	rateLimiter *rateLimiter
	log         logging.Logger
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

type listEntriesResponse struct {
	FeedID  string           `json:"feedId"`
	Scope   timeline.Scope   `json:"scope"`
	Entries []timeline.Entry `json:"entries"`
}

type createEntryBody struct {
	Kind       timeline.Kind       `json:"kind"`
	Content    string              `json:"content"`
	Visibility timeline.Visibility `json:"visibility"`
	SubItems   []subItemBody       `json:"subItems"`
}

type subItemBody struct {
	Label string `json:"label"`
}

func NewServer(store *relayfeed.Store) *Server {
	return NewServerWithConfig(store, ServerConfig{})
}

func NewServerWithConfig(store *relayfeed.Store, cfg ServerConfig) *Server {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	schemas, err := loadSchemas()
	if err != nil {
		// The schemas are embedded; failing here means the binary is broken.
		panic(err)
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		store:       store,
		cfg:         cfg,
		schemas:     schemas,
		rateLimiter: limiter,
		log:         log,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/v1/admin/backends" && r.Method == http.MethodGet {
		s.handleAdmin(w, r, func() any { return s.store.GetBackendStatus() })
		return
	}
	if r.URL.Path == "/v1/admin/feeds" && r.Method == http.MethodGet {
		s.handleAdmin(w, r, func() any {
			return map[string]any{"feeds": s.store.Feeds()}
		})
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 4 || parts[0] != "v1" || parts[1] != "feeds" || parts[3] != "entries" || parts[2] == "" {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}
	feedID := parts[2]

	var requiredScope string
	var route string
	switch {
	case len(parts) == 4 && r.Method == http.MethodGet:
		requiredScope = scopeFeedRead
		route = "list"
	case len(parts) == 4 && r.Method == http.MethodPost:
		requiredScope = scopeFeedWrite
		route = "create"
	case len(parts) == 5 && r.Method == http.MethodGet:
		requiredScope = scopeFeedRead
		route = "get"
	case len(parts) == 5 && r.Method == http.MethodPatch:
		requiredScope = scopeFeedWrite
		route = "update"
	case len(parts) == 5 && r.Method == http.MethodDelete:
		requiredScope = scopeFeedWrite
		route = "delete"
	case len(parts) == 6 && parts[5] == "publish" && r.Method == http.MethodPost:
		requiredScope = scopeFeedPublish
		route = "publish"
	case len(parts) == 7 && parts[5] == "items" && r.Method == http.MethodPut:
		requiredScope = scopeFeedWrite
		route = "toggle"
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}

	claims, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, feedID, requiredScope, time.Now().UTC())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return
	}
	correlationID := getCorrelationID(r)
	if correlationID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing X-Correlation-Id header", "")
		return
	}
	if s.rateLimiter != nil {
		key := feedID + "|" + claims.Subject
		if !s.rateLimiter.allow(key, time.Now().UTC()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
			return
		}
	}

	req := feedRequest{w: w, r: r, feedID: feedID, claims: claims, correlationID: correlationID}
	switch route {
	case "list":
		s.handleList(req)
	case "create":
		s.handleCreate(req)
	case "get":
		s.handleGet(req, parts[4])
	case "update":
		s.handleUpdate(req, parts[4])
	case "delete":
		s.handleDelete(req, parts[4])
	case "publish":
		s.handlePublish(req, parts[4])
	case "toggle":
		s.handleToggle(req, parts[4], parts[6])
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found", correlationID)
	}
}

type feedRequest struct {
	w             http.ResponseWriter
	r             *http.Request
	feedID        string
	claims        tokenClaims
	correlationID string
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request, body func() any) {
	_, authErr := authorizeBearer(r.Header.Get("Authorization"), s.cfg.JWTSecret, "", scopeAdminRead, time.Now().UTC())
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message, getCorrelationID(r))
		return
	}
	if getCorrelationID(r) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing X-Correlation-Id header", "")
		return
	}
	writeJSON(w, http.StatusOK, body())
}

// handleList never returns entries outside the caller's role scope, whatever
// scope the query asks for.
func (s *Server) handleList(req feedRequest) {
	scope, err := timeline.ParseScope(req.r.URL.Query().Get("scope"))
	if err != nil {
		writeError(req.w, http.StatusBadRequest, "bad_request", err.Error(), req.correlationID)
		return
	}
	if req.claims.Scope() == timeline.ScopePublic {
		scope = timeline.ScopePublic
	}
	entries, err := s.store.List(req.feedID, scope)
	if err != nil {
		s.writeStoreError(req, err)
		return
	}
	writeJSON(req.w, http.StatusOK, listEntriesResponse{
		FeedID:  req.feedID,
		Scope:   scope,
		Entries: entries,
	})
}

func (s *Server) handleGet(req feedRequest, entryID string) {
	entry, ok := s.visibleEntry(req, entryID)
	if !ok {
		return
	}
	writeJSON(req.w, http.StatusOK, entry)
}

func (s *Server) handleCreate(req feedRequest) {
	var body createEntryBody
	if !s.decodeValidatedBody(req, schemaCreateEntry, &body) {
		return
	}
	entry, created, err := s.store.Create(relayfeed.CreateRequest{
		FeedID:     req.feedID,
		Kind:       body.Kind,
		Content:    body.Content,
		Visibility: body.Visibility,
		SubItems: lo.Map(body.SubItems, func(item subItemBody, _ int) string {
			return item.Label
		}),
		Author:        req.claims.Subject,
		AuthorRole:    req.claims.Role,
		ClientRef:     strings.TrimSpace(req.r.Header.Get("Idempotency-Key")),
		CorrelationID: req.correlationID,
	})
	if err != nil {
		s.writeStoreError(req, err)
		return
	}
	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(req.w, status, entry)
}

func (s *Server) handleUpdate(req feedRequest, entryID string) {
	var body struct {
		Content string `json:"content"`
	}
	if !s.decodeValidatedBody(req, schemaUpdateEntry, &body) {
		return
	}
	if _, ok := s.visibleEntry(req, entryID); !ok {
		return
	}
	entry, err := s.store.Update(req.feedID, entryID, body.Content)
	if err != nil {
		s.writeStoreError(req, err)
		return
	}
	writeJSON(req.w, http.StatusOK, entry)
}

func (s *Server) handleDelete(req feedRequest, entryID string) {
	if _, ok := s.visibleEntry(req, entryID); !ok {
		return
	}
	if err := s.store.Delete(req.feedID, entryID); err != nil {
		s.writeStoreError(req, err)
		return
	}
	req.w.WriteHeader(http.StatusNoContent)
}

// handlePublish is reserved for roles that can see internal entries; a
// client token holding feed:publish is still refused.
func (s *Server) handlePublish(req feedRequest, entryID string) {
	if req.claims.Scope() != timeline.ScopeAll {
		writeError(req.w, http.StatusForbidden, "forbidden", "role cannot publish entries", req.correlationID)
		return
	}
	entry, err := s.store.Publish(req.feedID, entryID)
	if err != nil {
		s.writeStoreError(req, err)
		return
	}
	writeJSON(req.w, http.StatusOK, entry)
}

func (s *Server) handleToggle(req feedRequest, entryID, subItemID string) {
	var body struct {
		Completed bool `json:"completed"`
	}
	if !s.decodeValidatedBody(req, schemaToggleSubItem, &body) {
		return
	}
	if _, ok := s.visibleEntry(req, entryID); !ok {
		return
	}
	entry, err := s.store.ToggleSubItem(req.feedID, entryID, subItemID, body.Completed)
	if err != nil {
		s.writeStoreError(req, err)
		return
	}
	writeJSON(req.w, http.StatusOK, entry)
}

// visibleEntry loads entryID and hides entries outside the caller's scope
// behind a 404.
func (s *Server) visibleEntry(req feedRequest, entryID string) (timeline.Entry, bool) {
	entry, err := s.store.Get(req.feedID, entryID)
	if err != nil {
		s.writeStoreError(req, err)
		return timeline.Entry{}, false
	}
	if !req.claims.Scope().Allows(entry.Visibility) {
		writeError(req.w, http.StatusNotFound, "not_found", "entry not found", req.correlationID)
		return timeline.Entry{}, false
	}
	return entry, true
}

func (s *Server) writeStoreError(req feedRequest, err error) {
	switch {
	case errors.Is(err, relayfeed.ErrNotFound):
		writeError(req.w, http.StatusNotFound, "not_found", err.Error(), req.correlationID)
	case errors.Is(err, relayfeed.ErrInvalidInput):
		writeError(req.w, http.StatusBadRequest, "bad_request", err.Error(), req.correlationID)
	case errors.Is(err, relayfeed.ErrInvalidState):
		writeError(req.w, http.StatusConflict, "invalid_state", err.Error(), req.correlationID)
	case errors.Is(err, relayfeed.ErrForbidden):
		writeError(req.w, http.StatusForbidden, "forbidden", err.Error(), req.correlationID)
	default:
		s.log.Error(req.r.Context(), "request failed",
			"feed", req.feedID, "correlation_id", req.correlationID, "error", err)
		writeError(req.w, http.StatusInternalServerError, "internal_error", err.Error(), req.correlationID)
	}
}

func getCorrelationID(r *http.Request) string {
	return r.Header.Get("X-Correlation-Id")
}

func (s *Server) readRequestBody(req feedRequest) ([]byte, bool) {
	req.r.Body = http.MaxBytesReader(req.w, req.r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(req.r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(req.w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", req.correlationID)
			return nil, false
		}
		writeError(req.w, http.StatusBadRequest, "bad_request", "failed to read request body", req.correlationID)
		return nil, false
	}
	return body, true
}

func (s *Server) decodeValidatedBody(req feedRequest, schema string, dst any) bool {
	body, ok := s.readRequestBody(req)
	if !ok {
		return false
	}
	if err := s.schemas.validate(schema, body); err != nil {
		writeError(req.w, http.StatusUnprocessableEntity, "invalid_body", err.Error(), req.correlationID)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(req.w, http.StatusBadRequest, "bad_request", "invalid json body", req.correlationID)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}

// Shutdown releases the store's background workers.
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.store.Close()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
