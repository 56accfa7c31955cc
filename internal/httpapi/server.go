package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/loudthoughts/loudthoughts/internal/buffer"
	"github.com/loudthoughts/loudthoughts/internal/provider"
)

const (
	unsupportedFormatMessage = "Unsupported webhook format - no provider found for this payload"
	feedWriteTimeout         = 10 * time.Second
)

type ServerConfig struct {
	JWTSecret       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
	// SyncTokenTTL is the lifetime of tokens minted for vault consumers.
	SyncTokenTTL time.Duration
	Logger       zerolog.Logger
}

type Server struct {
	buffer      *buffer.Buffer
	registry    *provider.Registry
	cfg         ServerConfig
	logger      zerolog.Logger
	rateLimiter *rateLimiter
	router      *mux.Router
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

// BufferEntry is the wire form of one buffered slot.
type BufferEntry struct {
	Key       string        `json:"key"`
	ID        string        `json:"id"`
	ExpiresAt time.Time     `json:"exp"`
	Data      provider.Note `json:"data"`
}

type BufferResponse struct {
	Entries []BufferEntry `json:"entries"`
}

func NewServer(buf *buffer.Buffer, registry *provider.Registry) *Server {
	return NewServerWithConfig(buf, registry, ServerConfig{Logger: zerolog.Nop()})
}

func NewServerWithConfig(buf *buffer.Buffer, registry *provider.Registry, cfg ServerConfig) *Server {
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
	if cfg.SyncTokenTTL <= 0 {
		cfg.SyncTokenTTL = 365 * 24 * time.Hour
	}
	if registry == nil {
		registry = provider.DefaultRegistry(nil)
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	s := &Server{
		buffer:      buf,
		registry:    registry,
		cfg:         cfg,
		logger:      cfg.Logger,
		rateLimiter: limiter,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.recoverPanics)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/dashboard", s.handleDashboard).Methods(http.MethodGet)

	router.HandleFunc("/webhook/{key}", s.handleWebhook).Methods(http.MethodPost)

	router.HandleFunc("/v1/buffer", s.authenticated(s.handleBuffer)).Methods(http.MethodGet)
	router.HandleFunc("/v1/buffer/consume", s.authenticated(s.handleConsume)).Methods(http.MethodPost)
	router.HandleFunc("/v1/buffer/feed", s.authenticated(s.handleFeed)).Methods(http.MethodGet)
	router.HandleFunc("/v1/keys", s.authenticated(s.handleGetKey)).Methods(http.MethodGet)
	router.HandleFunc("/v1/keys", s.authenticated(s.handleIssueKey)).Methods(http.MethodPost)
	router.HandleFunc("/v1/tokens", s.authenticated(s.handleIssueToken)).Methods(http.MethodPost)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", requestCorrelationID(r))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", requestCorrelationID(r))
	})
	return router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().
					Interface("panic", rec).
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("panic recovered")
				writeError(w, http.StatusInternalServerError, "internal_error", "internal server error", requestCorrelationID(r))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type authedHandler func(w http.ResponseWriter, r *http.Request, claims tokenClaims, correlationID string)

// authenticated resolves the bearer token, from the Authorization header or
// an access_token query parameter for browser websockets, and applies the
// per-user rate limit.
func (s *Server) authenticated(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		correlationID := requestCorrelationID(r)
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if token := r.URL.Query().Get("access_token"); token != "" {
				authHeader = "Bearer " + token
			}
		}
		claims, authErr := parseBearer(authHeader, s.cfg.JWTSecret, time.Now().UTC())
		if authErr != nil {
			writeError(w, authErr.status, authErr.code, authErr.message, correlationID)
			return
		}
		if !s.allow(w, "user|"+claims.User, correlationID) {
			return
		}
		next(w, r, claims, correlationID)
	}
}

func (s *Server) allow(w http.ResponseWriter, key, correlationID string) bool {
	if s.rateLimiter == nil || s.rateLimiter.allow(key, time.Now().UTC()) {
		return true
	}
	retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
	if retryAfter < 1 {
		retryAfter = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded", correlationID)
	return false
}

// handleWebhook resolves the path key to a user, normalizes the payload
// through the provider registry and upserts it into the user's buffer.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	correlationID := requestCorrelationID(r)
	key := mux.Vars(r)["key"]
	user, err := s.buffer.Backend().ResolveKey(r.Context(), key)
	if err != nil {
		if errors.Is(err, buffer.ErrKeyNotFound) {
			webhooksReceived.WithLabelValues("unknown", "invalid_key").Inc()
			s.logger.Warn().Str("correlation_id", correlationID).Int("status", http.StatusForbidden).Msg("webhook rejected: invalid key")
			writeError(w, http.StatusForbidden, "invalid_key", "Invalid key", correlationID)
			return
		}
		s.logger.Error().Err(err).Str("correlation_id", correlationID).Msg("webhook key lookup failed")
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	if !s.allow(w, "webhook|"+user, correlationID) {
		return
	}

	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return
	}
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		webhooksReceived.WithLabelValues("unknown", "bad_request").Inc()
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
		return
	}

	note, err := s.registry.Normalize(payload)
	if err != nil {
		var validationErr *provider.ValidationError
		switch {
		case errors.Is(err, provider.ErrUnsupportedFormat):
			webhooksReceived.WithLabelValues("unknown", "unsupported_format").Inc()
			s.logger.Warn().Str("user", user).Int("status", http.StatusBadRequest).Msg("webhook rejected: no provider matched")
			writeError(w, http.StatusBadRequest, "unsupported_format", unsupportedFormatMessage, correlationID)
		case errors.As(err, &validationErr):
			webhooksReceived.WithLabelValues(validationErr.Platform, "invalid_payload").Inc()
			s.logger.Warn().Str("user", user).Str("platform", validationErr.Platform).Int("status", http.StatusBadRequest).Msg("webhook rejected: missing required fields")
			writeError(w, http.StatusBadRequest, "invalid_payload", validationErr.Error(), correlationID)
		default:
			webhooksReceived.WithLabelValues("unknown", "contract_violation").Inc()
			s.logger.Error().Err(err).Str("user", user).Msg("webhook transform violated its contract")
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		}
		return
	}

	result, err := s.buffer.Upsert(r.Context(), user, note)
	if err != nil {
		webhooksReceived.WithLabelValues(note.Platform, "store_error").Inc()
		s.logger.Error().Err(err).Str("user", user).Str("note_id", note.ID).Msg("buffer upsert failed")
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	webhooksReceived.WithLabelValues(note.Platform, "accepted").Inc()
	s.logger.Info().
		Str("user", user).
		Str("platform", note.Platform).
		Str("note_id", note.ID).
		Str("entry_key", result.Key).
		Bool("updated", result.Replaced).
		Msg("webhook buffered")
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}

func (s *Server) handleBuffer(w http.ResponseWriter, r *http.Request, claims tokenClaims, correlationID string) {
	entries, err := s.buffer.Entries(r.Context(), claims.User)
	if err != nil {
		s.writeBufferError(w, err, correlationID)
		return
	}
	writeJSON(w, http.StatusOK, bufferResponse(entries))
}

// handleConsume removes every entry of the given note id. Anonymous
// sessions succeed without touching the buffer.
func (s *Server) handleConsume(w http.ResponseWriter, r *http.Request, claims tokenClaims, correlationID string) {
	if claims.Anonymous() {
		consumeCalls.WithLabelValues("anonymous").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if !s.decodeJSONBody(w, r, correlationID, &req) {
		return
	}
	if strings.TrimSpace(req.ID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "id is required", correlationID)
		return
	}
	if err := s.buffer.ConsumeOne(r.Context(), claims.User, req.ID); err != nil {
		consumeCalls.WithLabelValues("error").Inc()
		s.logger.Error().Err(err).Str("user", claims.User).Str("note_id", req.ID).Msg("consume failed")
		s.writeBufferError(w, err, correlationID)
		return
	}
	consumeCalls.WithLabelValues("consumed").Inc()
	s.logger.Info().Str("user", claims.User).Str("note_id", req.ID).Msg("note consumed")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleFeed upgrades to a websocket and pushes the full buffer on connect
// and after every change. Slow readers only see the newest snapshot.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request, claims tokenClaims, correlationID string) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	snapshots, err := s.buffer.Subscribe(ctx, claims.User)
	if err != nil {
		s.writeBufferError(w, err, correlationID)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Str("user", claims.User).Msg("buffer feed upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "")
	feedSubscribers.Inc()
	defer feedSubscribers.Dec()

	ctx = conn.CloseRead(ctx)
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case snapshot, ok := <-snapshots:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			if snapshot.Err != nil {
				s.logger.Error().Err(snapshot.Err).Str("user", claims.User).Msg("buffer feed read failed")
				conn.Close(websocket.StatusInternalError, "buffer unavailable")
				return
			}
			writeCtx, cancelWrite := context.WithTimeout(ctx, feedWriteTimeout)
			err := wsjson.Write(writeCtx, conn, bufferResponse(snapshot.Entries))
			cancelWrite()
			if err != nil {
				return
			}
		}
	}
}

func (s *Server) handleGetKey(w http.ResponseWriter, r *http.Request, claims tokenClaims, correlationID string) {
	key, err := s.buffer.Backend().UserKey(r.Context(), claims.User)
	if err != nil {
		if errors.Is(err, buffer.ErrKeyNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no webhook key issued", correlationID)
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key})
}

// handleIssueKey replaces the caller's webhook key with a fresh one.
func (s *Server) handleIssueKey(w http.ResponseWriter, r *http.Request, claims tokenClaims, correlationID string) {
	if claims.Anonymous() {
		writeError(w, http.StatusForbidden, "forbidden", "anonymous sessions cannot hold a webhook key", correlationID)
		return
	}
	key, err := s.buffer.Backend().IssueKey(r.Context(), claims.User)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	s.logger.Info().Str("user", claims.User).Msg("webhook key issued")
	writeJSON(w, http.StatusCreated, map[string]string{"key": key})
}

// handleIssueToken mints a long-lived token for a vault consumer.
func (s *Server) handleIssueToken(w http.ResponseWriter, r *http.Request, claims tokenClaims, correlationID string) {
	if claims.Anonymous() {
		writeError(w, http.StatusForbidden, "forbidden", "anonymous sessions cannot mint tokens", correlationID)
		return
	}
	exp := time.Now().UTC().Add(s.cfg.SyncTokenTTL)
	token, err := MintToken(s.cfg.JWTSecret, claims.User, syncProvider, exp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"token": token, "expiresAt": exp})
}

func (s *Server) writeBufferError(w http.ResponseWriter, err error, correlationID string) {
	switch {
	case errors.Is(err, buffer.ErrDataShape):
		writeError(w, http.StatusInternalServerError, "data_shape", err.Error(), correlationID)
	case errors.Is(err, buffer.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error(), correlationID)
	}
}

func bufferResponse(entries []buffer.Entry) BufferResponse {
	out := BufferResponse{Entries: make([]BufferEntry, 0, len(entries))}
	for _, entry := range entries {
		out.Entries = append(out.Entries, BufferEntry{
			Key:       entry.Key,
			ID:        entry.ID,
			ExpiresAt: entry.ExpiresAt,
			Data:      entry.Data,
		})
	}
	return out
}

func requestCorrelationID(r *http.Request) string {
	if id := r.Header.Get("X-Correlation-Id"); id != "" {
		return id
	}
	return "req_" + uuid.NewString()
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request, correlationID string) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", correlationID)
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", correlationID)
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, correlationID string, dst any) bool {
	body, ok := s.readRequestBody(w, r, correlationID)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", correlationID)
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
