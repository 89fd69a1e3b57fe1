package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Snehask3825/kortex/internal/logging"
)

type claimsKey struct{}

// devClaims stand in for a token when the gateway runs with NoAuth
var devClaims = &Claims{ClientID: "dev-client", Role: RoleOperator}

// Middleware wraps gateway handlers
type Middleware struct {
	auth   *JWTAuth
	noAuth bool
	logger *zap.SugaredLogger
}

// NewMiddleware creates the gateway middleware. With noAuth set, every
// request below admin acts as an operator; admin routes still need a token.
func NewMiddleware(auth *JWTAuth, noAuth bool, logger *zap.SugaredLogger) *Middleware {
	return &Middleware{
		auth:   auth,
		noAuth: noAuth,
		logger: logging.OrNop(logger),
	}
}

// Require admits requests whose token grants at least role.
func (m *Middleware) Require(role Role, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if m.noAuth && devClaims.Role.Allows(role) {
			next(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, devClaims)))
			return
		}

		raw, ok := bearerToken(r)
		if !ok {
			writeError(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		claims, err := m.auth.Verify(raw)
		if err != nil {
			writeError(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if !claims.Role.Allows(role) {
			writeError(w, fmt.Sprintf("Role %s required", role), http.StatusForbidden)
			return
		}

		next(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	}
}

// ClaimsFrom returns the claims Require attached to ctx.
func ClaimsFrom(ctx context.Context) (*Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	return claims, ok
}

// ClientID returns the authenticated client of r, or "" outside Require.
func ClientID(r *http.Request) string {
	if claims, ok := ClaimsFrom(r.Context()); ok {
		return claims.ClientID
	}
	return ""
}

// CORS middleware adds CORS headers for browser compatibility
func (m *Middleware) CORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// ContentType middleware sets the content type to JSON
func (m *Middleware) ContentType(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next(w, r)
	}
}

// statusRecorder captures the response status for logging. It forwards
// Flush so streaming handlers keep working behind it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}

// Logging middleware logs one structured line per request
func (m *Middleware) Logging(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		next(rec, r)

		m.logger.Infow("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	}
}

// Recovery middleware recovers from panics and returns 500 error
func (m *Middleware) Recovery(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				m.logger.Errorw("Handler panicked", "path", r.URL.Path, "panic", err)
				writeError(w, "Internal server error", http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// bearerToken returns the token of an "Authorization: Bearer" header
func bearerToken(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	return token, ok && token != ""
}
