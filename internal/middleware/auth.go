package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"gatekeeper/internal/model"
	"gatekeeper/internal/util"

	"github.com/rs/zerolog"
)

// Injected key type to avoid context collisions
type contextKey string

const UserContextKey = contextKey("user")

// RoleAdmin is the role claim that grants access to admin routes.
const RoleAdmin = "admin"

// Authenticator resolves a bearer token to the calling user.
type Authenticator interface {
	CurrentUser(ctx context.Context, token string) (*model.User, error)
}

// JWTAuthenticator validates HS*, RS* and ES* signed access tokens.
type JWTAuthenticator struct {
	keyMaterial string
}

// NewJWTAuthenticator prefers a PEM public key and falls back to a shared secret.
func NewJWTAuthenticator(secret, publicKey string) *JWTAuthenticator {
	if publicKey != "" {
		return &JWTAuthenticator{keyMaterial: publicKey}
	}
	return &JWTAuthenticator{keyMaterial: secret}
}

func (a *JWTAuthenticator) CurrentUser(ctx context.Context, token string) (*model.User, error) {
	claims, err := util.ValidateJWT(token, a.keyMaterial)
	if err != nil {
		return nil, err
	}
	return &model.User{UserID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}

// UserFromContext returns the user placed in the context by AuthMiddleware.
func UserFromContext(ctx context.Context) (*model.User, bool) {
	u, ok := ctx.Value(UserContextKey).(*model.User)
	return u, ok && u != nil
}

// WithUser stores u in ctx the way AuthMiddleware does.
func WithUser(ctx context.Context, u *model.User) context.Context {
	return context.WithValue(ctx, UserContextKey, u)
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func AuthMiddleware(auth Authenticator, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") == "" {
				logger.Warn().Msg("Authorization header missing")
				http.Error(w, "Authorization header missing", http.StatusUnauthorized)
				return
			}
			tokenString, ok := bearerToken(r)
			if !ok {
				logger.Warn().Msg("Invalid authorization header")
				http.Error(w, "Invalid authorization header", http.StatusUnauthorized)
				return
			}
			user, err := auth.CurrentUser(r.Context(), tokenString)
			if err != nil {
				logger.Warn().Err(err).Msg("Invalid token")
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

// AdminMiddleware admits requests carrying the static X-Admin-Token or a
// bearer token whose role claim is admin.
func AdminMiddleware(adminToken string, auth Authenticator, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("X-Admin-Token"); got != "" {
				if adminToken == "" || subtle.ConstantTimeCompare([]byte(got), []byte(adminToken)) != 1 {
					logger.Warn().Msg("Rejected admin request with invalid admin token")
					http.Error(w, "Invalid admin token", http.StatusUnauthorized)
					return
				}
				admin := &model.User{UserID: "admin-token", Role: RoleAdmin}
				next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), admin)))
				return
			}

			tokenString, ok := bearerToken(r)
			if !ok {
				http.Error(w, "Authorization header missing", http.StatusUnauthorized)
				return
			}
			user, err := auth.CurrentUser(r.Context(), tokenString)
			if err != nil {
				logger.Warn().Err(err).Msg("Invalid admin bearer token")
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			if user.Role != RoleAdmin {
				logger.Warn().Str("user_id", user.UserID).Msg("Non-admin user called admin route")
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}
