package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"ticket-booking/internal/logger"
	"ticket-booking/internal/models"
	"ticket-booking/internal/utils"
)

type contextKey string

const identityKey contextKey = "identity"

// Middleware verifies the access token and stores the caller's identity in
// the request context. When roles is set, the role is resolved live instead
// of trusting the claim.
func Middleware(tokens *TokenManager, roles RoleLookup, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := ExtractTokenFromRequest(r)
			if err != nil {
				utils.WriteError(w, http.StatusUnauthorized, "Unauthorized access", err)
				return
			}

			claims, err := tokens.Parse(raw)
			if err != nil {
				log.LogSecurity("INVALID_TOKEN", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
				utils.WriteError(w, http.StatusUnauthorized, "Unauthorized access", ErrInvalidToken)
				return
			}

			role := claims.Role
			if roles != nil {
				live, err := roles.LookupRole(r.Context(), claims.Email)
				switch {
				case errors.Is(err, ErrUnknownUser):
					log.LogSecurity("UNKNOWN_USER", claims.Email)
					utils.WriteError(w, http.StatusUnauthorized, "Unauthorized access", err)
					return
				case err != nil:
					log.Warn("AUTH", fmt.Sprintf("Role lookup failed for %s, using token claim: %v", claims.Email, err))
				default:
					role = live
				}
			}

			identity := models.Identity{
				UserID: claims.Subject,
				Email:  claims.Email,
				Role:   role,
				Name:   claims.Name,
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireRole rejects callers whose role is not one of roles.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := FromContext(r.Context())
			if !ok {
				utils.WriteError(w, http.StatusUnauthorized, "Unauthorized access", ErrMissingToken)
				return
			}
			for _, role := range roles {
				if identity.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			utils.WriteError(w, http.StatusForbidden, "Forbidden access", fmt.Errorf("role %q is not allowed", identity.Role))
		})
	}
}

func WithIdentity(ctx context.Context, identity models.Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

func FromContext(ctx context.Context) (models.Identity, bool) {
	identity, ok := ctx.Value(identityKey).(models.Identity)
	return identity, ok
}
