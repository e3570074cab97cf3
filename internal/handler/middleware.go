package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/helixlife/portal-bff-go/internal/domain"
	"github.com/helixlife/portal-bff-go/internal/service/hub"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type contextKey string

const (
	sessionKey contextKey = "session"
	entryKey   contextKey = "hubEntry"
)

// gatewayClaims is the claim set of the remote gateway's access tokens.
type gatewayClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// JWTAuthMiddleware validates gateway-issued Bearer tokens, builds the
// session, and ensures the user's hub entry. The hub's ensure path reuses
// the session manager's refresh-vs-sign-in logic, so a request carrying a
// known user id swaps the session reference without restarting the loader.
func JWTAuthMiddleware(secret string, h *hub.Hub, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				writeError(w, http.StatusUnauthorized, "invalid token format")
				return
			}
			tokenString := parts[1]

			claims := &gatewayClaims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid || claims.Subject == "" {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			sess := &domain.Session{
				UserID:      claims.Subject,
				AccessToken: tokenString,
				Email:       claims.Email,
			}
			if claims.ExpiresAt != nil {
				sess.ExpiresAt = claims.ExpiresAt.Time
			} else {
				sess.ExpiresAt = time.Now().Add(time.Hour)
			}

			entry := h.Ensure(r.Context(), sess)

			ctx := context.WithValue(r.Context(), sessionKey, sess)
			ctx = context.WithValue(ctx, entryKey, entry)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireStaff gates CRM routes on the resolved portal role.
func RequireStaff(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			entry := EntryFromContext(r.Context())
			if entry == nil || !entry.Manager.IsStaff() {
				logger.Warn("auth: staff route denied",
					zap.String("path", r.URL.Path),
				)
				writeError(w, http.StatusForbidden, "staff access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SessionFromContext extracts the authenticated session from context.
func SessionFromContext(ctx context.Context) *domain.Session {
	v, _ := ctx.Value(sessionKey).(*domain.Session)
	return v
}

// EntryFromContext extracts the user's hub entry from context.
func EntryFromContext(ctx context.Context) *hub.Entry {
	v, _ := ctx.Value(entryKey).(*hub.Entry)
	return v
}
