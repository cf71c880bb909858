package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Alejandro-Adrian/HireRankerAI/internal/audit"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/auth"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/lookup"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/observability"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/ratelimit"
	"github.com/Alejandro-Adrian/HireRankerAI/internal/router"
	"github.com/Alejandro-Adrian/HireRankerAI/pkg/models"
)

const maxTokenRequestBytes = 4 << 10

// Handler returns the HTTP routes: the websocket endpoint plus the token,
// lookup, public key, health and metrics endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.Handle("POST /token", s.instrument("/token", http.HandlerFunc(s.handleToken)))
	mux.Handle("GET /lookup", s.instrument("/lookup", auth.RequireBearer(s.tokens, s.logger, http.HandlerFunc(s.handleLookup))))
	mux.Handle("GET /public-key", s.instrument("/public-key", http.HandlerFunc(s.handlePublicKey)))
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

func (s *Server) listen() error {
	addr := s.cfg.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.httpListener = listener
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info("starting http server", "addr", listener.Addr().String())
	return nil
}

func (s *Server) serve() error {
	if s.httpServer == nil || s.httpListener == nil {
		return errors.New("http server not started")
	}
	if err := s.httpServer.Serve(s.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) stopHTTPServer(ctx context.Context) {
	if s.httpServer == nil {
		return
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument adds a request id, a server span and the request counter.
func (s *Server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := observability.AddRequestID(r.Context(), uuid.NewString())
		ctx, span := s.tracer.TraceHTTPRequest(ctx, r.Method, route)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		s.tracer.SetAttributes(span, "http.status_code", rec.status)
		s.metrics.RecordHTTPRequest(route, strconv.Itoa(rec.status))
	})
}

type tokenRequest struct {
	Username string `json:"username"`
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	key := ratelimit.CompositeKey("token", ip)
	if !s.tokenLimiter.Allow(key) {
		s.metrics.RecordRateLimited("token")
		s.events.Record(r.Context(), &audit.Event{
			Type:   audit.EventRateLimited,
			Fields: map[string]any{"scope": "token", "ip": ip},
		})
		if wait := s.tokenLimiter.WaitTime(key); wait > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		}
		writeJSON(w, http.StatusTooManyRequests, router.ErrorPayload(msgRateLimited))
		return
	}

	var req tokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTokenRequestBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, router.ErrorPayload("Invalid JSON body"))
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		writeJSON(w, http.StatusBadRequest, router.ErrorPayload("Missing username"))
		return
	}
	user, err := auth.ValidateUsername(req.Username)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, router.ErrorPayload("Invalid username"))
		return
	}
	token, err := s.tokens.Issue(user)
	if err != nil {
		s.logger.ErrorContext(r.Context(), "issue token", "error", err)
		writeJSON(w, http.StatusInternalServerError, router.ErrorPayload("Failed to issue token"))
		return
	}
	s.events.Record(r.Context(), &audit.Event{Type: audit.EventTokenIssued, User: user})
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type lookupResponse struct {
	Rows                []models.Record `json:"rows"`
	DBLookupUnavailable bool            `json:"dbLookupUnavailable,omitempty"`
	Message             string          `json:"message,omitempty"`
}

// handleLookup proxies a record search. Backend errors never reach the
// caller beyond a generic message.
func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user, _ := auth.UserFromContext(ctx)
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeJSON(w, http.StatusBadRequest, router.ErrorPayload("Missing query parameter q"))
		return
	}

	ctx, span := s.tracer.TraceLookup(ctx)
	rows, err := s.directory.Search(ctx, query, lookup.DefaultLimit)
	s.tracer.RecordError(span, err)
	span.End()
	s.events.Lookup(ctx, user, query, len(rows), err)

	switch {
	case errors.Is(err, lookup.ErrUnavailable):
		s.metrics.RecordLookup("unavailable")
		writeJSON(w, http.StatusOK, lookupResponse{
			Rows:                []models.Record{},
			DBLookupUnavailable: true,
			Message:             router.NoticeLookupUnavailable,
		})
	case err != nil:
		s.metrics.RecordLookup("error")
		s.logger.ErrorContext(ctx, "lookup failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, router.ErrorPayload("Lookup failed"))
	default:
		if rows == nil {
			rows = []models.Record{}
		}
		outcome := "rows"
		if len(rows) == 0 {
			outcome = "empty"
		}
		s.metrics.RecordLookup(outcome)
		writeJSON(w, http.StatusOK, lookupResponse{Rows: rows})
	}
}

func (s *Server) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(s.serverKey.PublicKeyPEM()))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.registry.Count(),
		"uptime":      time.Since(s.startTime).Round(time.Second).String(),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// clientIP is the peer address. Forwarding headers are ignored so callers
// cannot pick their own rate limit bucket.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// originChecker allows any origin when allowed is empty.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[strings.TrimRight(strings.ToLower(origin), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.TrimRight(strings.ToLower(origin), "/")]
		return ok
	}
}
