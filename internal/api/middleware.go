/**
 * @description
 * Custom middleware for the kudoku-server router. Bearer tokens are resolved to a
 * user id by the service layer and stored in the request context for handlers.
 */

package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/kudokuapp/kudoku-server/internal/app"
)

// UserIDContextKey is a custom type for the context key to avoid collisions.
type UserIDContextKey string

const userIDKey UserIDContextKey = "kudokuUserID"

// Authenticator resolves a session token to a user id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (uuid.UUID, error)
}

// AuthMiddleware rejects requests without a valid `Authorization: Bearer <token>` header.
func AuthMiddleware(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				writeError(w, http.StatusUnauthorized, "Authorization header required")
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader || strings.TrimSpace(tokenString) == "" {
				writeError(w, http.StatusUnauthorized, "Invalid Authorization header format")
				return
			}

			userID, err := auth.Authenticate(r.Context(), strings.TrimSpace(tokenString))
			if err != nil {
				if !errors.Is(err, app.ErrUnauthorized) {
					log.Printf("level=error component=api msg=\"authentication failed\" err=%v", err)
					writeError(w, http.StatusInternalServerError, "Unable to authenticate request")
					return
				}
				writeError(w, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID retrieves the authenticated user's id from the request context.
func GetUserID(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(userIDKey).(uuid.UUID)
	return userID, ok
}
