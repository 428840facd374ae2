package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/diagnosis/tolet/internal/domain"
	"github.com/diagnosis/tolet/internal/http/response"
	"github.com/diagnosis/tolet/pkg/auth"
	"github.com/diagnosis/tolet/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
)

type ctxKey string

const (
	CtxClaims ctxKey = "claims"
	CtxUser   ctxKey = "user"
)

// UserLookup finds the stored user behind a token.
type UserLookup interface {
	Get(ctx context.Context, email string) (*domain.User, error)
}

// Authenticator verifies session tokens from the Authorization header or the
// session cookie and resolves the caller from the user store.
type Authenticator struct {
	secret     string
	cookieName string
	users      UserLookup
}

func NewAuthenticator(secret, cookieName string, users UserLookup) *Authenticator {
	return &Authenticator{secret: secret, cookieName: cookieName, users: users}
}

// RequireAuth rejects requests without a valid token with 401. On success the
// claims and the caller are stored on the request context. A token for an
// email that has no user yet yields a caller without a role.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := a.token(r)
		if raw == "" {
			response.Unauthorized(w, "unauthorized access")
			return
		}
		claims, err := auth.Parse(raw, a.secret)
		if errors.Is(err, jwt.ErrTokenExpired) {
			response.WriteError(w, http.StatusUnauthorized, "token expired", response.CodeExpiredToken)
			return
		}
		if err != nil {
			response.WriteError(w, http.StatusUnauthorized, "invalid authorization token", response.CodeInvalidToken)
			return
		}

		ctx := context.WithValue(r.Context(), CtxClaims, claims)
		ctx = context.WithValue(ctx, logger.UserEmailKey, claims.Email)

		user, err := a.users.Get(ctx, claims.Email)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			user = &domain.User{Email: claims.Email, Name: claims.Name}
		case err != nil:
			response.FromError(ctx, w, err)
			return
		}
		ctx = context.WithValue(ctx, CtxUser, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) token(r *http.Request) string {
	if authz := r.Header.Get("Authorization"); strings.HasPrefix(authz, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(authz, "Bearer "))
	}
	if c, err := r.Cookie(a.cookieName); err == nil {
		return c.Value
	}
	return ""
}

// RequireRole admits callers whose stored role is one of roles. Admins pass
// every role gate. Must run after RequireAuth.
func RequireRole(roles ...domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !Caller(r).Satisfies(roles...) {
				logger.WarnContext(r.Context(), "Role check failed", "path", r.URL.Path, "roles", roles)
				response.Forbidden(w, "forbidden access")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSelf admits callers whose token email equals the {param} path
// parameter, ignoring case. Admins pass. Must run after RequireAuth.
func RequireSelf(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := Caller(r)
			target := domain.NormalizeEmail(chi.URLParam(r, param))
			if caller == nil || (target != domain.NormalizeEmail(caller.Email) && !caller.Is(domain.RoleAdmin)) {
				response.Forbidden(w, "forbidden access")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func Claims(r *http.Request) *auth.Claims {
	v, _ := r.Context().Value(CtxClaims).(*auth.Claims)
	return v
}

// Caller is the authenticated user, nil on public routes.
func Caller(r *http.Request) *domain.User {
	v, _ := r.Context().Value(CtxUser).(*domain.User)
	return v
}
