package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/FACorreiaa/go-credentials-api/internal/api"
)

type contextKey string

const (
	AccountIDKey    contextKey = "accountID"
	AccountEmailKey contextKey = "accountEmail"
)

// TokenVerifier is the part of the token issuer the middleware needs.
type TokenVerifier interface {
	Verify(token string) (*Identity, error)
}

// Authenticate validates the bearer token and puts the caller's identity in the request context.
func Authenticate(logger *slog.Logger, verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			l := logger.With(slog.String("middleware", "Authenticate"))

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				l.WarnContext(ctx, "Missing Authorization header")
				api.ErrorResponse(w, r, http.StatusUnauthorized, "Authorization header required")
				return
			}

			headerParts := strings.Fields(authHeader)
			if len(headerParts) != 2 || !strings.EqualFold(headerParts[0], "bearer") {
				l.WarnContext(ctx, "Invalid Authorization header format")
				api.ErrorResponse(w, r, http.StatusUnauthorized, "Authorization header format must be Bearer {token}")
				return
			}

			identity, err := verifier.Verify(headerParts[1])
			if err != nil {
				l.WarnContext(ctx, "Token validation failed", slog.Any("error", err))
				api.ErrorResponse(w, r, http.StatusUnauthorized, "Invalid or expired token")
				return
			}

			ctx = context.WithValue(ctx, AccountIDKey, identity.AccountID)
			ctx = context.WithValue(ctx, AccountEmailKey, identity.Email)
			l.DebugContext(ctx, "Authentication successful", slog.Int64("accountID", identity.AccountID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func GetAccountIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(AccountIDKey).(int64)
	return id, ok
}

func GetAccountEmailFromContext(ctx context.Context) (string, bool) {
	email, ok := ctx.Value(AccountEmailKey).(string)
	return email, ok
}
