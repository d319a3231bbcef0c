package httpapi

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"ragefit/pos/internal/domain"
	"ragefit/pos/internal/events"
	"ragefit/pos/internal/printer"
	"ragefit/pos/internal/service"
)

type Options struct {
	AllowedOrigin string
	// NewQueue builds each session's print queue. Nil gives an unjournaled queue.
	NewQueue QueueFactory
	// Printer is connected for every new session. Nil leaves printing off
	// until a connector is configured.
	Printer printer.Connector
	Bus     *events.Bus
	Logger  zerolog.Logger
}

type API struct {
	engine        *service.Engine
	auth          *AuthManager
	sessions      *sessionManager
	bus           *events.Bus
	printer       printer.Connector
	allowedOrigin string
	loginLimiter  *attemptLimiter
	pinLimiter    *attemptLimiter
	csrfSecret    []byte
	log           zerolog.Logger
}

func New(engine *service.Engine, auth *AuthManager, opts Options) *API {
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	if opts.AllowedOrigin == "" {
		opts.AllowedOrigin = "http://localhost:5173"
	}
	return &API{
		engine:        engine,
		auth:          auth,
		sessions:      newSessionManager(engine, opts.NewQueue, opts.Printer, opts.Logger),
		bus:           opts.Bus,
		printer:       opts.Printer,
		allowedOrigin: opts.AllowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		pinLimiter:    newAttemptLimiter(8, time.Minute),
		csrfSecret:    csrfSecret,
		log:           opts.Logger,
	}
}

// Close ends every open session, stopping their print queues.
func (a *API) Close() error {
	return a.sessions.closeAll()
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	return a.csrfTokenForHour(time.Now().UTC().Truncate(time.Hour).Unix())
}

// validateCSRFToken accepts the current or previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	current := time.Now().UTC().Truncate(time.Hour).Unix()
	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(current-3600)))
}

// attemptLimiter allows max attempts per key, refilling one attempt every
// window/max. Idle keys are pruned on access.
type attemptLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	entries map[string]*limiterEntry
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{
		limit:   rate.Every(window / time.Duration(max)),
		burst:   max,
		idleTTL: 2 * window,
		entries: make(map[string]*limiterEntry),
	}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for k, entry := range l.entries {
		if now.Sub(entry.lastSeen) > l.idleTTL {
			delete(l.entries, k)
		}
	}
	entry, ok := l.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

const (
	roleCashier = domain.RoleCashier
	roleAdmin   = domain.RoleAdmin
)

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	both := []string{roleCashier, roleAdmin}

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/v1/auth/csrf-token", a.handleCSRFToken)
	mux.HandleFunc("POST /api/v1/auth/logout", a.requireAuth(a.handleLogout, both...))

	mux.HandleFunc("GET /api/v1/inventory", a.requireAuth(a.handleInventory, both...))
	mux.HandleFunc("POST /api/v1/inventory", a.requireAuth(a.handleSaveItem, roleAdmin))
	mux.HandleFunc("POST /api/v1/inventory/{id}/restock", a.requireAuth(a.handleRestockItem, roleAdmin))
	mux.HandleFunc("DELETE /api/v1/inventory/{id}", a.requireAuth(a.handleDeleteItem, roleAdmin))

	mux.HandleFunc("GET /api/v1/sales", a.requireAuth(a.handleListSales, both...))
	mux.HandleFunc("POST /api/v1/sales", a.requireAuth(a.handleOpenSale, both...))
	mux.HandleFunc("GET /api/v1/sales/{id}", a.requireAuth(a.handleGetSale, both...))
	mux.HandleFunc("POST /api/v1/sales/{id}/resume", a.requireAuth(a.handleResumeSale, both...))
	mux.HandleFunc("POST /api/v1/sales/{id}/items", a.requireAuth(a.handleAddItem, both...))
	mux.HandleFunc("PATCH /api/v1/sales/{id}/items/{index}", a.requireAuth(a.handleAdjustQuantity, both...))
	mux.HandleFunc("DELETE /api/v1/sales/{id}/items/{index}", a.requireAuth(a.handleRemoveItem, both...))
	mux.HandleFunc("POST /api/v1/sales/{id}/member", a.requireAuth(a.handleAssignMember, both...))
	mux.HandleFunc("POST /api/v1/sales/{id}/note", a.requireAuth(a.handleSetNote, both...))
	mux.HandleFunc("POST /api/v1/sales/{id}/discount", a.requireAuth(a.handleApplyDiscount, both...))
	mux.HandleFunc("POST /api/v1/sales/{id}/discount/commit", a.requireAuth(a.handleCommitDiscount, both...))
	mux.HandleFunc("DELETE /api/v1/sales/{id}/discount", a.requireAuth(a.handleClearDiscount, both...))
	mux.HandleFunc("POST /api/v1/sales/{id}/payment", a.requireAuth(a.handlePayment, both...))
	mux.HandleFunc("POST /api/v1/sales/{id}/void", a.requireAuth(a.handleVoid, both...))
	mux.HandleFunc("POST /api/v1/sales/{id}/refund", a.requireAuth(a.handleRefund, both...))
	mux.HandleFunc("POST /api/v1/sales/{id}/reprint", a.requireAuth(a.handleReprint, both...))

	mux.HandleFunc("GET /api/v1/shifts", a.requireAuth(a.handleListShifts, both...))
	mux.HandleFunc("GET /api/v1/shifts/active", a.requireAuth(a.handleActiveShift, both...))
	mux.HandleFunc("GET /api/v1/shifts/suggested-float", a.requireAuth(a.handleSuggestedFloat, both...))
	mux.HandleFunc("POST /api/v1/shifts/start", a.requireAuth(a.handleStartShift, both...))
	mux.HandleFunc("GET /api/v1/shifts/{id}/movements", a.requireAuth(a.handleListMovements, both...))
	mux.HandleFunc("POST /api/v1/shifts/end/review", a.requireAuth(a.handleRequestEndShift, both...))
	mux.HandleFunc("GET /api/v1/shifts/end/review", a.requireAuth(a.handleCurrentReview, both...))
	mux.HandleFunc("POST /api/v1/shifts/end/confirm", a.requireAuth(a.handleConfirmEndShift, both...))
	mux.HandleFunc("POST /api/v1/shifts/end/cancel", a.requireAuth(a.handleCancelEndShift, both...))
	mux.HandleFunc("POST /api/v1/cash-movements", a.requireAuth(a.handleCashMovement, both...))
	mux.HandleFunc("POST /api/v1/cash/count", a.requireAuth(a.handleCountCash, both...))

	mux.HandleFunc("GET /api/v1/print/jobs", a.requireAuth(a.handlePrintJobs, both...))
	mux.HandleFunc("POST /api/v1/print/retry", a.requireAuth(a.handleRetryPrint, both...))
	mux.HandleFunc("POST /api/v1/print/clear", a.requireAuth(a.handleClearPrint, both...))
	mux.HandleFunc("POST /api/v1/printer/connect", a.requireAuth(a.handlePrinterConnect, both...))
	mux.HandleFunc("POST /api/v1/printer/disconnect", a.requireAuth(a.handlePrinterDisconnect, both...))
	mux.HandleFunc("POST /api/v1/drawer/open", a.requireAuth(a.handleDrawerOpen, both...))

	mux.HandleFunc("GET /api/v1/events", a.requireAuth(a.handleEvents, both...))
	mux.HandleFunc("GET /api/v1/activity", a.requireAuth(a.handleActivity, roleAdmin))
	mux.HandleFunc("GET /api/v1/users/cashiers", a.requireAuth(a.handleListCashiers, roleAdmin))
	mux.HandleFunc("POST /api/v1/users/cashiers", a.requireAuth(a.handleCreateCashier, roleAdmin))

	return a.withMiddleware(mux)
}

type ctxKey int

const (
	sessionCtxKey ctxKey = iota
	tokenCtxKey
)

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}
		info, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}
		if len(roles) > 0 && !isRoleAllowed(info.Actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}
		sess, err := a.sessions.get(info.SessionID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		ctx := service.WithActor(r.Context(), info.Actor)
		ctx = context.WithValue(ctx, sessionCtxKey, sess)
		ctx = context.WithValue(ctx, tokenCtxKey, info)
		next(w, r.WithContext(ctx))
	}
}

// bearerToken reads the Authorization header. EventSource cannot set
// headers, so the events stream also accepts an access_token query value.
func bearerToken(r *http.Request) (string, bool) {
	authorization := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
		return strings.TrimSpace(authorization[len("Bearer "):]), true
	}
	if r.URL.Path == "/api/v1/events" {
		if token := strings.TrimSpace(r.URL.Query().Get("access_token")); token != "" {
			return token, true
		}
	}
	return "", false
}

func sessionFrom(r *http.Request) *service.Session {
	sess, _ := r.Context().Value(sessionCtxKey).(*service.Session)
	return sess
}

func tokenFrom(r *http.Request) TokenInfo {
	info, _ := r.Context().Value(tokenCtxKey).(TokenInfo)
	return info
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"at":       time.Now().UTC().Format(time.RFC3339),
		"sessions": a.sessions.count(),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, actor, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	if _, err := a.sessions.open(r.Context(), resp.SessionID, actor); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.log.Info().Str("operator", actor.Username).Str("role", actor.Role).Str("session_id", resp.SessionID).Msg("operator logged in")
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	info := tokenFrom(r)
	if err := a.sessions.close(info.SessionID); err != nil {
		a.log.Warn().Err(err).Str("session_id", info.SessionID).Msg("close session on logout")
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleCSRFToken returns a stateless token valid for the current hour.
// Clients send it as X-CSRF-Token on every mutating request.
func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"csrf_token": a.generateCSRFToken(),
	})
}

var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter { return s.ResponseWriter }

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method != http.MethodGet && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(startedAt)).
			Msg("request")
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(dest)
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	if parsed, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && parsed > 0 {
		limit = parsed
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// statusFor maps service errors to HTTP status codes. Anything unknown is
// an internal error.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrSaleNotFound),
		errors.Is(err, service.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrSessionClosed):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrNoActiveShift),
		errors.Is(err, service.ErrShiftAlreadyActive),
		errors.Is(err, service.ErrShiftNotActive),
		errors.Is(err, service.ErrNoPendingReview),
		errors.Is(err, service.ErrSaleClosed),
		errors.Is(err, service.ErrSaleNotPaid),
		errors.Is(err, service.ErrAlreadyRefunded),
		errors.Is(err, service.ErrMemberAlreadyAssigned),
		errors.Is(err, service.ErrNoPendingDiscount),
		errors.Is(err, service.ErrOutOfStock),
		errors.Is(err, service.ErrPrintTransportUnavailable):
		return http.StatusConflict
	case errors.Is(err, service.ErrInvalidLine),
		errors.Is(err, service.ErrInvalidDiscount),
		errors.Is(err, service.ErrInvalidPayment),
		errors.Is(err, service.ErrSplitPaymentMismatch),
		errors.Is(err, service.ErrInvalidAmount),
		errors.Is(err, service.ErrInvalidMovement),
		errors.Is(err, service.ErrInvalidItem),
		errors.Is(err, service.ErrEmptySale):
		return http.StatusUnprocessableEntity
	case errors.Is(err, printer.ErrTransportWriteFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx details stay in the log.
	msg := err.Error()
	if status >= 500 {
		log.Error().Err(err).Str("component", "httpapi").Int("status", status).Msg("internal error")
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"ok":    false,
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
