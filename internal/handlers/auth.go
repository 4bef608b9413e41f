package handlers

import (
	"context"
	"net/http"
	"strings"

	"chatcore/internal/authgate"
)

// contextKey avoids collisions with context keys set by other packages.
type contextKey string

// userIDContextKey stores the authenticated user ID on the request context.
const userIDContextKey = contextKey("userID")

// AuthMiddleware verifies the bearer access token on every request under it
// and injects the resulting user ID into the request context, following the
// teacher's extractToken convention: the token travels as a query parameter
// on /ws (browsers can't set headers during the WebSocket handshake) and as
// an Authorization header everywhere else.
func AuthMiddleware(gate *authgate.AuthGate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractToken(r)
			if token == "" {
				RespondWithJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing access token"})
				return
			}
			userID, err := gate.Verify(token)
			if err != nil {
				RespondWithError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), userIDContextKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext returns the user ID AuthMiddleware attached, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDContextKey).(string)
	return id, ok
}

func extractToken(r *http.Request) string {
	if strings.HasPrefix(r.URL.Path, "/ws") {
		if token := r.URL.Query().Get("token"); token != "" {
			return token
		}
	}
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}
