package middleware

import (
	"context"
	"net/http"
	"strings"

	"botchat/internal/observability"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const UserIDKey contextKey = "user_id"

// UserIDHeader carries the caller's asserted identity
const UserIDHeader = "X-User-ID"

// Identity reads the caller's user id from the X-User-ID header, falling back to
// the user_id query parameter for websocket upgrades. Requests without one are rejected.
func Identity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := requestIdentity(r)
			if userID == "" {
				http.Error(w, `{"error":"Missing user identity"}`, http.StatusUnauthorized)
				return
			}

			ctx := WithUserID(r.Context(), userID)
			ctx = observability.WithUserID(ctx, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestIdentity(r *http.Request) string {
	if userID := strings.TrimSpace(r.Header.Get(UserIDHeader)); userID != "" {
		return userID
	}
	return strings.TrimSpace(r.URL.Query().Get("user_id"))
}

// RequestLogger copies chi's request id into the logging context
func RequestLogger() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if reqID := chimiddleware.GetReqID(r.Context()); reqID != "" {
				r = r.WithContext(observability.WithRequestID(r.Context(), reqID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func GetUserID(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(UserIDKey).(string)
	return userID, ok && userID != ""
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}
