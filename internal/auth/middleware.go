package auth

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/zerg-labs/zerg-core/internal/db"
)

// ContextKey is the key type for context values this package stores.
type ContextKey string

// UserContextKey is the context key holding the authenticated UserContext.
const UserContextKey ContextKey = "user"

// Middleware authenticates inbound HTTP requests.
type Middleware struct {
	jwtManager *JWTManager
	skipAuth   bool // for local development only
}

// NewMiddleware builds a Middleware. When skipAuth is true every request is
// treated as an authenticated admin — wire this only behind a dev-only
// config flag, never in production.
func NewMiddleware(jwtManager *JWTManager, skipAuth bool) *Middleware {
	return &Middleware{jwtManager: jwtManager, skipAuth: skipAuth}
}

// HTTPMiddleware wraps next, attaching a UserContext to the request or
// rejecting with 401. The WebSocket upgrade path also accepts the token via
// a query parameter since browsers cannot set custom headers on the
// handshake request.
func (m *Middleware) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipAuth {
			ctx := context.WithValue(r.Context(), UserContextKey, &UserContext{
				UserID: uuid.MustParse("00000000-0000-0000-0000-000000000002"),
				Email:  "dev@localhost",
				Role:   db.RoleAdmin,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		token := ""
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			if t, err := ExtractBearerToken(authHeader); err == nil {
				token = t
			}
		}
		if token == "" {
			token = r.URL.Query().Get("access_token")
		}
		if token == "" {
			http.Error(w, `{"error":"missing bearer token"}`, http.StatusUnauthorized)
			return
		}

		userCtx, err := m.jwtManager.ValidateAccessToken(token)
		if err != nil {
			http.Error(w, `{"error":"invalid token"}`, http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, userCtx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetUserContext extracts the UserContext a prior HTTPMiddleware call
// attached to ctx.
func GetUserContext(ctx context.Context) (*UserContext, bool) {
	userCtx, ok := ctx.Value(UserContextKey).(*UserContext)
	return userCtx, ok
}
