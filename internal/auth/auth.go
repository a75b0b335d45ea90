// Package auth authenticates bearer tokens for the stub scheduler API.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Scopes understood by the stub API. A ":rw" scope implies its ":ro" twin.
const (
	ScopeAll         = "*"
	ScopePipelinesRO = "pipelines:ro"
	ScopeRunsRO      = "runs:ro"
	ScopeRunsRW      = "runs:rw"
	ScopeLogsRO      = "logs:ro"
)

var knownScopes = map[string]struct{}{
	ScopeAll:         {},
	ScopePipelinesRO: {},
	ScopeRunsRO:      {},
	ScopeRunsRW:      {},
	ScopeLogsRO:      {},
}

// KnownScope reports whether s is a scope the stub API checks.
func KnownScope(s string) bool {
	_, ok := knownScopes[strings.TrimSpace(s)]
	return ok
}

// TokenConfig is a bearer token with a set of scopes.
type TokenConfig struct {
	Token  string
	Scopes []string
}

// Principal is the caller a request was authenticated as. Name identifies the
// matching token by position, so the secret itself never reaches logs.
type Principal struct {
	Name   string
	scopes map[string]struct{}
}

// Has reports whether p holds scope, directly, through a ":rw" scope, or
// through the wildcard.
func (p Principal) Has(scope string) bool {
	if _, ok := p.scopes[ScopeAll]; ok {
		return true
	}
	_, ok := p.scopes[scope]
	return ok
}

// HasAny reports whether p holds at least one of scopes. An empty list passes.
func (p Principal) HasAny(scopes ...string) bool {
	if len(scopes) == 0 {
		return true
	}
	for _, s := range scopes {
		if p.Has(s) {
			return true
		}
	}
	return false
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// ExtractBearerToken returns the token of an "Authorization: Bearer" header.
func ExtractBearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", errors.New("missing Authorization header")
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errors.New("invalid Authorization header format")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

// ErrorWriter renders an authentication or authorization failure.
type ErrorWriter func(w http.ResponseWriter, status int, message string)

// Guard holds the configured tokens. A Guard without tokens lets every
// request through with the wildcard scope.
type Guard struct {
	tokens  []guardToken
	onError ErrorWriter
}

type guardToken struct {
	secret    []byte
	principal Principal
}

// NewGuard builds a Guard. Blank tokens are skipped and blank scopes dropped.
func NewGuard(tokens []TokenConfig, onError ErrorWriter) *Guard {
	if onError == nil {
		onError = func(w http.ResponseWriter, status int, message string) {
			http.Error(w, message, status)
		}
	}
	g := &Guard{onError: onError}
	for i, t := range tokens {
		if t.Token == "" {
			continue
		}
		g.tokens = append(g.tokens, guardToken{
			secret:    []byte(t.Token),
			principal: Principal{Name: fmt.Sprintf("token[%d]", i), scopes: scopeSet(t.Scopes)},
		})
	}
	return g
}

// Open reports whether the guard admits anonymous requests.
func (g *Guard) Open() bool { return len(g.tokens) == 0 }

// Authenticate matches a presented bearer token in constant time per token.
func (g *Guard) Authenticate(presented string) (Principal, bool) {
	if presented == "" {
		return Principal{}, false
	}
	p := []byte(presented)
	for _, t := range g.tokens {
		if subtle.ConstantTimeCompare(p, t.secret) == 1 {
			return t.principal, true
		}
	}
	return Principal{}, false
}

// Middleware authenticates the request and stores the principal in its
// context. Failures answer 401.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.Open() {
			anon := Principal{Name: "anonymous", scopes: map[string]struct{}{ScopeAll: {}}}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), anon)))
			return
		}
		token, err := ExtractBearerToken(r)
		if err != nil {
			g.onError(w, http.StatusUnauthorized, err.Error())
			return
		}
		principal, ok := g.Authenticate(token)
		if !ok {
			g.onError(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
	})
}

// Require answers 403 unless the authenticated principal holds one of scopes.
// It must run behind Middleware.
func (g *Guard) Require(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := PrincipalFromContext(r.Context())
			if !principal.HasAny(scopes...) {
				g.onError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func scopeSet(scopes []string) map[string]struct{} {
	out := make(map[string]struct{}, len(scopes))
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s != "" {
			out[s] = struct{}{}
		}
	}
	if _, ok := out[ScopeRunsRW]; ok {
		out[ScopeRunsRO] = struct{}{}
	}
	return out
}
