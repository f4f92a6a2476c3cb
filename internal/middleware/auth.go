package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/tallypay/authcore/internal/audit"
	apperrors "github.com/tallypay/authcore/internal/errors"
	"github.com/tallypay/authcore/internal/service"
)

type contextKey string

const ClaimsContextKey contextKey = "claims"

func GetClaims(ctx context.Context) *service.AccessClaims {
	if claims, ok := ctx.Value(ClaimsContextKey).(*service.AccessClaims); ok {
		return claims
	}
	return nil
}

// GetCaller returns the authenticated principal. False when the request did
// not pass through AuthMiddleware.
func GetCaller(ctx context.Context) (service.Caller, bool) {
	claims := GetClaims(ctx)
	if claims == nil {
		return service.Caller{}, false
	}
	return service.Caller{
		UserID:    claims.UserID,
		RoleID:    claims.RoleID,
		CompanyID: claims.CompanyID,
	}, true
}

type AccessTokenParser interface {
	ParseAccess(token string) (*service.AccessClaims, error)
}

type AuthMiddleware struct {
	tokens AccessTokenParser
}

func NewAuthMiddleware(tokens AccessTokenParser) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeError(w, apperrors.Unauthorized("Missing authentication token"))
			return
		}

		claims, err := m.tokens.ParseAccess(token)
		if err != nil {
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventAuthFailure,
				Details: map[string]interface{}{"reason": string(apperrors.GetCode(err)), "path": r.URL.Path},
			})
			writeError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) > 7 && strings.EqualFold(authHeader[:7], "Bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return ""
}
