// Package auth enforces bearer-token identity on the HTTP surface.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const (
	contextKeyClaims contextKey = "jwt_claims"
	contextKeyUserID contextKey = "user_id"
	contextKeyRole   contextKey = "user_role"
)

// Role represents an authorized persona.
type Role string

const (
	RoleUser     Role = "user"
	RoleMerchant Role = "merchant"
	RoleAdmin    Role = "admin"
)

var allowedRoles = map[Role]struct{}{
	RoleUser:     {},
	RoleMerchant: {},
	RoleAdmin:    {},
}

// Claims is the identity extracted from the inbound request.
type Claims struct {
	Subject    string
	Role       Role
	Attributes jwt.MapClaims
}

// Options configures token verification.
type Options struct {
	// Secret is the HS256 signing key. When empty the middleware falls back
	// to plain "subject|role" bearer tokens; only tests and local
	// development run in that mode.
	Secret    []byte
	Issuer    string
	Audience  string
	RoleClaim string
	Leeway    time.Duration
	Now       func() time.Time
}

// Middleware verifies bearer tokens and attaches Claims to the context.
type Middleware struct {
	opts Options
}

func NewMiddleware(opts Options) *Middleware {
	if opts.RoleClaim == "" {
		opts.RoleClaim = "role"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Middleware{opts: opts}
}

// Authenticate rejects requests without a valid bearer token.
func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		if authz == "" {
			http.Error(w, "missing authorization", http.StatusUnauthorized)
			return
		}
		parts := strings.SplitN(authz, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			http.Error(w, "invalid authorization scheme", http.StatusUnauthorized)
			return
		}
		token := strings.TrimSpace(parts[1])
		if token == "" {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}

		claims, err := m.verify(token)
		if err != nil {
			http.Error(w, "invalid authorization token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), contextKeyClaims, claims)
		ctx = context.WithValue(ctx, contextKeyUserID, claims.Subject)
		ctx = context.WithValue(ctx, contextKeyRole, string(claims.Role))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) verify(token string) (*Claims, error) {
	if len(m.opts.Secret) == 0 {
		return parsePlainToken(token)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(m.opts.Leeway),
		jwt.WithTimeFunc(m.opts.Now),
	}
	if m.opts.Issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(m.opts.Issuer))
	}
	if m.opts.Audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(m.opts.Audience))
	}

	mapClaims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, mapClaims, func(*jwt.Token) (any, error) {
		return m.opts.Secret, nil
	}, parserOpts...)
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, errors.New("auth: token is not valid")
	}

	subject, err := mapClaims.GetSubject()
	if err != nil || subject == "" {
		return nil, errors.New("auth: token has no subject")
	}
	roleStr, _ := mapClaims[m.opts.RoleClaim].(string)
	role := Role(roleStr)
	if _, ok := allowedRoles[role]; !ok {
		return nil, errors.New("auth: unknown role")
	}
	return &Claims{Subject: subject, Role: role, Attributes: mapClaims}, nil
}

// parsePlainToken handles the dev/test "subject|role" token form.
func parsePlainToken(token string) (*Claims, error) {
	parts := strings.SplitN(token, "|", 2)
	if len(parts) != 2 || parts[0] == "" {
		return nil, errors.New("auth: malformed token")
	}
	role := Role(parts[1])
	if _, ok := allowedRoles[role]; !ok {
		return nil, errors.New("auth: unknown role")
	}
	return &Claims{Subject: parts[0], Role: role}, nil
}

// FromContext extracts the Claims previously attached by Authenticate.
func FromContext(ctx context.Context) (*Claims, error) {
	if ctx == nil {
		return nil, errors.New("auth: missing context")
	}
	if claims, ok := ctx.Value(contextKeyClaims).(*Claims); ok && claims != nil {
		return claims, nil
	}
	return nil, errors.New("auth: missing identity in context")
}

// RequireRole ensures the authenticated user has one of the allowed roles.
func RequireRole(roles ...Role) func(http.Handler) http.Handler {
	allowed := make(map[Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := FromContext(r.Context())
			if err != nil {
				http.Error(w, "missing identity", http.StatusUnauthorized)
				return
			}
			if _, ok := allowed[claims.Role]; !ok {
				http.Error(w, "insufficient role", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
