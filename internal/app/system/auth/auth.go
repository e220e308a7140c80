// Package auth resolves the signed-in principal for each request.
//
// A principal comes from a bearer JWT (mobile clients) or, failing that, a
// signed session cookie (web clients). Handlers and the community repository
// read it from the request context.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/dalemusser/vecinal/internal/app/system/jsonresp"
	"go.uber.org/zap"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID string
	// Source is "bearer" or "session".
	Source string
}

type ctxKey string

const principalKey ctxKey = "principal"

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the principal carried by ctx, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	if !ok || p.UserID == "" {
		return Principal{}, false
	}
	return p, true
}

// CurrentUser returns the principal for r and a "found?" flag.
func CurrentUser(r *http.Request) (Principal, bool) {
	return PrincipalFrom(r.Context())
}

// ContextIdentity answers "who is calling" from the request context.
type ContextIdentity struct{}

// CurrentUserID returns the caller's user id, or false when nobody is
// signed in.
func (ContextIdentity) CurrentUserID(ctx context.Context) (string, bool) {
	p, ok := PrincipalFrom(ctx)
	return p.UserID, ok
}

// Middleware loads principals from bearer tokens and sessions.
type Middleware struct {
	Tokens   *Tokens
	Sessions *SessionManager
	Log      *zap.Logger
}

// LoadPrincipal injects the principal into the request context when the
// request carries a valid bearer token or session. An invalid bearer token
// is not an error here; the request simply proceeds unauthenticated.
func (m *Middleware) LoadPrincipal(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tok, ok := bearerToken(r); ok && m.Tokens != nil {
			claims, err := m.Tokens.Parse(tok)
			if err == nil {
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), Principal{UserID: claims.Subject, Source: "bearer"})))
				return
			}
			m.Log.Debug("bearer token rejected", zap.Error(err))
		}
		if m.Sessions != nil {
			if uid, ok := m.Sessions.UserID(r); ok {
				next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), Principal{UserID: uid, Source: "session"})))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireSignedIn rejects requests without a principal with a JSON 401.
func RequireSignedIn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := CurrentUser(r); !ok {
			jsonresp.Error(w, http.StatusUnauthorized, "unauthenticated", "Sign in to continue.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return "", false
	}
	tok := strings.TrimSpace(h[7:])
	return tok, tok != ""
}
